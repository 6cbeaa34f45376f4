package topology_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-replmgr/pkg/dbconn/dbconntest"
	"github.com/dd0wney/cluso-replmgr/pkg/registry"
	"github.com/dd0wney/cluso-replmgr/pkg/topology"
)

func primaryConn(host string) *dbconntest.FakeConn {
	conn := dbconntest.NewFakeConn(host, 5432, "repmgr")
	conn.Stub("pg_is_in_recovery", []any{false})
	return conn
}

func standbyConn(host string) *dbconntest.FakeConn {
	conn := dbconntest.NewFakeConn(host, 5432, "repmgr")
	conn.Stub("pg_is_in_recovery", []any{true})
	return conn
}

func registryConn(rows ...[]any) *dbconntest.FakeConn {
	conn := dbconntest.NewFakeConn("local", 5432, "repmgr")
	conn.Stub("ORDER BY id", rows...)
	return conn
}

func TestProbe(t *testing.T) {
	assert.Equal(t, topology.StatusPrimary, topology.Probe(context.Background(), primaryConn("db1")))
	assert.Equal(t, topology.StatusStandby, topology.Probe(context.Background(), standbyConn("db2")))

	broken := dbconntest.NewFakeConn("db3", 5432, "repmgr")
	broken.StubError("pg_is_in_recovery", errors.New("connection refused"))
	assert.Equal(t, topology.StatusUnreachable, topology.Probe(context.Background(), broken))
}

func TestLocatePrimaryFindsReachablePrimary(t *testing.T) {
	store := registry.NewStore(registryConn(
		[]any{1, "primary", 0, "test", "node1", "host=db1", "", 100, true},
		[]any{2, "standby", 1, "test", "node2", "host=db2", "", 100, true},
	), "replmgr_test", "test")

	dialer := dbconntest.NewFakeDialer()
	dialer.Add("host=db1", primaryConn("db1"))
	dialer.Add("host=db2", standbyConn("db2"))

	conn, rec, err := topology.LocatePrimary(context.Background(), store, dialer.Dial)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.ID)
	assert.Equal(t, "db1", conn.Host())
}

func TestLocatePrimarySkipsUnreachableNodes(t *testing.T) {
	store := registry.NewStore(registryConn(
		[]any{1, "primary", 0, "test", "node1", "host=db1", "", 100, true},
		[]any{2, "standby", 1, "test", "node2", "host=db2", "", 100, true},
	), "replmgr_test", "test")

	// db1 is down; db2 has been promoted in the meantime.
	dialer := dbconntest.NewFakeDialer()
	dialer.Add("host=db2", primaryConn("db2"))

	conn, rec, err := topology.LocatePrimary(context.Background(), store, dialer.Dial)
	require.NoError(t, err)
	assert.Equal(t, 2, rec.ID)
	assert.Equal(t, "db2", conn.Host())
}

func TestLocatePrimarySkipsWitnessAndInactiveNodes(t *testing.T) {
	store := registry.NewStore(registryConn(
		[]any{1, "primary", 0, "test", "node1", "host=db1", "", 100, false},
		[]any{3, "witness", 0, "test", "node3", "host=db3", "", 0, true},
	), "replmgr_test", "test")

	// Both would report primary if probed, but neither may be.
	dialer := dbconntest.NewFakeDialer()
	dialer.Add("host=db1", primaryConn("db1"))
	dialer.Add("host=db3", primaryConn("db3"))

	_, _, err := topology.LocatePrimary(context.Background(), store, dialer.Dial)
	require.ErrorIs(t, err, topology.ErrNoPrimaryFound)
	assert.Empty(t, dialer.Dials)
}

func TestLocatePrimaryDetectsSplitBrain(t *testing.T) {
	store := registry.NewStore(registryConn(
		[]any{1, "primary", 0, "test", "node1", "host=db1", "", 100, true},
		[]any{2, "standby", 1, "test", "node2", "host=db2", "", 100, true},
	), "replmgr_test", "test")

	first := primaryConn("db1")
	second := primaryConn("db2")

	dialer := dbconntest.NewFakeDialer()
	dialer.Add("host=db1", first)
	dialer.Add("host=db2", second)

	_, _, err := topology.LocatePrimary(context.Background(), store, dialer.Dial)
	require.ErrorIs(t, err, topology.ErrMultiplePrimaries)
	assert.True(t, first.Closed)
	assert.True(t, second.Closed)
}

func TestLocatePrimaryClosesProbeConnections(t *testing.T) {
	store := registry.NewStore(registryConn(
		[]any{1, "primary", 0, "test", "node1", "host=db1", "", 100, true},
		[]any{2, "standby", 1, "test", "node2", "host=db2", "", 100, true},
	), "replmgr_test", "test")

	primary := primaryConn("db1")
	standby := standbyConn("db2")

	dialer := dbconntest.NewFakeDialer()
	dialer.Add("host=db1", primary)
	dialer.Add("host=db2", standby)

	conn, _, err := topology.LocatePrimary(context.Background(), store, dialer.Dial)
	require.NoError(t, err)

	assert.False(t, primary.Closed, "winning connection must stay open")
	assert.True(t, standby.Closed, "probe connections must be closed")
	assert.Equal(t, "db1", conn.Host())
}

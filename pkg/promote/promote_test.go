package promote_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-replmgr/pkg/dbconn/dbconntest"
	"github.com/dd0wney/cluso-replmgr/pkg/logging"
	"github.com/dd0wney/cluso-replmgr/pkg/pgtools/pgtoolstest"
	"github.com/dd0wney/cluso-replmgr/pkg/promote"
	"github.com/dd0wney/cluso-replmgr/pkg/registry"
	"github.com/dd0wney/cluso-replmgr/pkg/topology"
)

func testLogger() logging.Logger {
	return logging.NewJSONLogger(io.Discard, logging.ErrorLevel)
}

// nodeRow builds a ListNodes result row.
func nodeRow(id int, role string, upstream int, conninfo string, active bool) []any {
	return []any{id, role, upstream, "test", "node" + conninfo, conninfo, "", 100, active}
}

func registryConn(rows ...[]any) *dbconntest.FakeConn {
	conn := dbconntest.NewFakeConn("registry", 5432, "repmgr")
	conn.Stub("repl_nodes", rows...)
	return conn
}

func newController(dialer *dbconntest.FakeDialer) (*promote.Controller, *pgtoolstest.FakeServiceControl) {
	_, _, svc, _, _ := pgtoolstest.NewTools()
	c := promote.NewController(testLogger(), dialer.Dial, svc)
	c.PollInterval = 0
	c.PromoteTimeout = 50 * time.Millisecond
	c.Sleep = func(time.Duration) {}
	return c, svc
}

func TestPromoteRefusesNonStandby(t *testing.T) {
	local := dbconntest.NewFakeConn("local", 5432, "repmgr")
	local.Stub("pg_is_in_recovery", []any{false})

	dialer := dbconntest.NewFakeDialer()
	c, svc := newController(dialer)
	store := registry.NewStore(registryConn(), "replmgr_test", "test")

	err := c.Promote(context.Background(), local, store)
	require.ErrorIs(t, err, promote.ErrNotStandby)
	assert.Empty(t, svc.Calls)
	assert.True(t, local.Closed)
}

func TestPromoteRefusesWhilePrimaryReachable(t *testing.T) {
	local := dbconntest.NewFakeConn("local", 5432, "repmgr")
	local.Stub("pg_is_in_recovery", []any{true})

	primary := dbconntest.NewFakeConn("db1", 5432, "repmgr")
	primary.Stub("pg_is_in_recovery", []any{false})

	dialer := dbconntest.NewFakeDialer()
	dialer.Add("primary-conninfo", primary)

	store := registry.NewStore(registryConn(
		nodeRow(1, "primary", 0, "primary-conninfo", true),
		nodeRow(2, "standby", 1, "standby-conninfo", true),
	), "replmgr_test", "test")

	c, svc := newController(dialer)
	err := c.Promote(context.Background(), local, store)
	require.ErrorIs(t, err, promote.ErrPrimaryStillActive)
	assert.True(t, primary.Closed)
	assert.True(t, local.Closed)
	assert.Empty(t, svc.Calls)
}

func TestPromoteSucceedsOnceNodeReportsPrimary(t *testing.T) {
	local := dbconntest.NewFakeConn("local", 5432, "repmgr")
	// Standby for the precondition probe, primary once promotion lands.
	local.StubOnce("pg_is_in_recovery", []any{true})
	local.Stub("pg_is_in_recovery", []any{false})
	local.StubWithArg("pg_settings", "data_directory", []any{"/var/lib/pgsql/data"})

	dialer := dbconntest.NewFakeDialer()
	dialer.Add(local.ConnInfo(), local)

	// The registered primary is dead: its conninfo does not answer.
	store := registry.NewStore(registryConn(
		nodeRow(1, "primary", 0, "dead-primary-conninfo", true),
	), "replmgr_test", "test")

	c, svc := newController(dialer)
	require.NoError(t, c.Promote(context.Background(), local, store))

	require.Equal(t, []string{"promote"}, svc.Actions())
	assert.Equal(t, "/var/lib/pgsql/data", svc.Calls[0].DataDir)
}

func TestPromoteSplitBrainSurfaces(t *testing.T) {
	local := dbconntest.NewFakeConn("local", 5432, "repmgr")
	local.Stub("pg_is_in_recovery", []any{true})

	primaryA := dbconntest.NewFakeConn("db1", 5432, "repmgr")
	primaryA.Stub("pg_is_in_recovery", []any{false})
	primaryB := dbconntest.NewFakeConn("db2", 5432, "repmgr")
	primaryB.Stub("pg_is_in_recovery", []any{false})

	dialer := dbconntest.NewFakeDialer()
	dialer.Add("conninfo-a", primaryA)
	dialer.Add("conninfo-b", primaryB)

	store := registry.NewStore(registryConn(
		nodeRow(1, "primary", 0, "conninfo-a", true),
		nodeRow(2, "primary", 0, "conninfo-b", true),
	), "replmgr_test", "test")

	c, svc := newController(dialer)
	err := c.Promote(context.Background(), local, store)
	require.ErrorIs(t, err, topology.ErrMultiplePrimaries)
	assert.Empty(t, svc.Calls)
	assert.True(t, local.Closed)
}

func TestPromoteTimesOutWhenNodeStaysStandby(t *testing.T) {
	local := dbconntest.NewFakeConn("local", 5432, "repmgr")
	local.Stub("pg_is_in_recovery", []any{true})
	local.StubWithArg("pg_settings", "data_directory", []any{"/var/lib/pgsql/data"})

	dialer := dbconntest.NewFakeDialer()
	dialer.Add(local.ConnInfo(), local)

	store := registry.NewStore(registryConn(), "replmgr_test", "test")

	c, _ := newController(dialer)
	err := c.Promote(context.Background(), local, store)
	require.ErrorIs(t, err, promote.ErrPromoteTimeout)
}

func TestPromoteReportsUnreachableDistinctly(t *testing.T) {
	local := dbconntest.NewFakeConn("local", 5432, "repmgr")
	local.StubOnce("pg_is_in_recovery", []any{true})
	local.StubError("pg_is_in_recovery", assert.AnError)
	local.StubWithArg("pg_settings", "data_directory", []any{"/var/lib/pgsql/data"})

	dialer := dbconntest.NewFakeDialer()
	dialer.Add(local.ConnInfo(), local)

	store := registry.NewStore(registryConn(), "replmgr_test", "test")

	c, _ := newController(dialer)
	err := c.Promote(context.Background(), local, store)
	require.ErrorIs(t, err, promote.ErrNodeUnreachable)
}

package promote_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-replmgr/pkg/compat"
	"github.com/dd0wney/cluso-replmgr/pkg/dbconn/dbconntest"
	"github.com/dd0wney/cluso-replmgr/pkg/pgtools/pgtoolstest"
	"github.com/dd0wney/cluso-replmgr/pkg/promote"
	"github.com/dd0wney/cluso-replmgr/pkg/recoveryconf"
	"github.com/dd0wney/cluso-replmgr/pkg/registry"
	"github.com/dd0wney/cluso-replmgr/pkg/topology"
)

func noPassword() (string, bool) { return "", false }

func localStandby(t *testing.T, dataDir string) *dbconntest.FakeConn {
	t.Helper()
	local := dbconntest.NewFakeConn("local", 5432, "repmgr")
	local.Stub("pg_is_in_recovery", []any{true})
	local.Stub("SELECT 1", []any{1})
	local.Stub("server_version_num", []any{90402, "9.4.2"})
	local.StubWithArg("pg_settings", "data_directory", []any{dataDir})
	return local
}

func newPrimary(versionNum int, versionStr string) *dbconntest.FakeConn {
	primary := dbconntest.NewFakeConn("db9.example.com", 5433, "repl_user")
	primary.Stub("pg_is_in_recovery", []any{false})
	primary.Stub("server_version_num", []any{versionNum, versionStr})
	return primary
}

func newFollower(dialer *dbconntest.FakeDialer) (*promote.Follower, *pgtoolstest.FakeServiceControl) {
	_, _, svc, _, _ := pgtoolstest.NewTools()
	f := promote.NewFollower(testLogger(), dialer.Dial, svc)
	f.DiscoveryInterval = 0
	f.Sleep = func(time.Duration) {}
	return f, svc
}

func followOptions() promote.FollowOptions {
	return promote.FollowOptions{
		ResponseTimeout: time.Second,
		Recovery: recoveryconf.Settings{
			ApplicationName: "node2",
			LookupPassword:  noPassword,
		},
	}
}

func TestFollowRefusesNonStandby(t *testing.T) {
	local := dbconntest.NewFakeConn("local", 5432, "repmgr")
	local.Stub("pg_is_in_recovery", []any{false})

	f, svc := newFollower(dbconntest.NewFakeDialer())
	store := registry.NewStore(registryConn(), "replmgr_test", "test")

	err := f.Follow(context.Background(), local, store, followOptions())
	require.ErrorIs(t, err, promote.ErrNotStandby)
	assert.Empty(t, svc.Calls)
}

func TestFollowRewritesRecoveryAndRestarts(t *testing.T) {
	dataDir := t.TempDir()
	local := localStandby(t, dataDir)
	primary := newPrimary(90405, "9.4.5")

	dialer := dbconntest.NewFakeDialer()
	dialer.Add("new-primary-conninfo", primary)

	store := registry.NewStore(registryConn(
		nodeRow(3, "primary", 0, "new-primary-conninfo", true),
	), "replmgr_test", "test")

	f, svc := newFollower(dialer)
	require.NoError(t, f.Follow(context.Background(), local, store, followOptions()))

	// Coordinates come from the live connection, not registry metadata.
	data, err := os.ReadFile(filepath.Join(dataDir, recoveryconf.FileName))
	require.NoError(t, err)
	assert.Contains(t, string(data), "host=db9.example.com")
	assert.Contains(t, string(data), "port=5433")
	assert.Contains(t, string(data), "user=repl_user")
	assert.Contains(t, string(data), "application_name=node2")

	require.Equal(t, []string{"restart"}, svc.Actions())
	assert.Equal(t, dataDir, svc.Calls[0].DataDir)
}

func TestFollowRejectsMajorVersionMismatch(t *testing.T) {
	dataDir := t.TempDir()
	local := localStandby(t, dataDir)
	primary := newPrimary(90305, "9.3.5")

	dialer := dbconntest.NewFakeDialer()
	dialer.Add("new-primary-conninfo", primary)

	store := registry.NewStore(registryConn(
		nodeRow(3, "primary", 0, "new-primary-conninfo", true),
	), "replmgr_test", "test")

	f, svc := newFollower(dialer)
	err := f.Follow(context.Background(), local, store, followOptions())
	require.ErrorIs(t, err, compat.ErrVersionMismatch)
	assert.Empty(t, svc.Calls)

	_, statErr := os.Stat(filepath.Join(dataDir, recoveryconf.FileName))
	assert.True(t, os.IsNotExist(statErr))
}

func TestFollowFailsFastWithoutPrimary(t *testing.T) {
	local := localStandby(t, t.TempDir())

	f, svc := newFollower(dbconntest.NewFakeDialer())
	store := registry.NewStore(registryConn(), "replmgr_test", "test")

	err := f.Follow(context.Background(), local, store, followOptions())
	require.ErrorIs(t, err, topology.ErrNoPrimaryFound)
	assert.Empty(t, svc.Calls)
}

func TestFollowWaitsForeverUntilPrimaryAppears(t *testing.T) {
	dataDir := t.TempDir()
	local := localStandby(t, dataDir)
	primary := newPrimary(90402, "9.4.2")

	dialer := dbconntest.NewFakeDialer()

	store := registry.NewStore(registryConn(
		nodeRow(3, "primary", 0, "new-primary-conninfo", true),
	), "replmgr_test", "test")

	opts := followOptions()
	opts.WaitForever = true

	f, svc := newFollower(dialer)
	var waits int
	f.Sleep = func(time.Duration) {
		// The primary comes up after the first empty discovery round.
		waits++
		dialer.Add("new-primary-conninfo", primary)
	}

	require.NoError(t, f.Follow(context.Background(), local, store, opts))
	assert.Equal(t, 1, waits)
	assert.Equal(t, []string{"restart"}, svc.Actions())
}

func TestFollowRestartFailureIsDistinct(t *testing.T) {
	dataDir := t.TempDir()
	local := localStandby(t, dataDir)
	primary := newPrimary(90402, "9.4.2")

	dialer := dbconntest.NewFakeDialer()
	dialer.Add("new-primary-conninfo", primary)

	store := registry.NewStore(registryConn(
		nodeRow(3, "primary", 0, "new-primary-conninfo", true),
	), "replmgr_test", "test")

	f, svc := newFollower(dialer)
	svc.Errs["restart"] = assert.AnError

	err := f.Follow(context.Background(), local, store, followOptions())
	require.ErrorIs(t, err, promote.ErrRestartFailed)

	// The recovery configuration was already rewritten before the restart.
	_, statErr := os.Stat(filepath.Join(dataDir, recoveryconf.FileName))
	assert.NoError(t, statErr)
}

package compat_test

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-replmgr/pkg/compat"
	"github.com/dd0wney/cluso-replmgr/pkg/dbconn/dbconntest"
)

func TestCheckServerVersion(t *testing.T) {
	conn := dbconntest.NewFakeConn("db1", 5432, "repmgr")
	conn.Stub("server_version_num", []any{90402, "9.4.2"})

	num, str, err := compat.CheckServerVersion(context.Background(), conn, "primary")
	require.NoError(t, err)
	assert.Equal(t, 90402, num)
	assert.Equal(t, "9.4.2", str)
}

func TestCheckServerVersionTooOld(t *testing.T) {
	conn := dbconntest.NewFakeConn("db1", 5432, "repmgr")
	conn.Stub("server_version_num", []any{90200, "9.2.9"})

	_, _, err := compat.CheckServerVersion(context.Background(), conn, "standby")
	require.ErrorIs(t, err, compat.ErrUnsupportedVersion)
	assert.Contains(t, err.Error(), "standby")
}

func TestSameMajorVersion(t *testing.T) {
	assert.True(t, compat.SameMajorVersion(90401, 90402))
	assert.False(t, compat.SameMajorVersion(90300, 90400))
}

func TestCheckMajorVersionsMatch(t *testing.T) {
	require.NoError(t, compat.CheckMajorVersionsMatch(90401, "9.4.1", 90402, "9.4.2"))

	err := compat.CheckMajorVersionsMatch(90400, "9.4.0", 90305, "9.3.5")
	require.ErrorIs(t, err, compat.ErrVersionMismatch)
	assert.Contains(t, err.Error(), "9.4.0")
	assert.Contains(t, err.Error(), "9.3.5")
}

// Two version numbers are replication-compatible exactly when they agree
// after dividing by 100, regardless of patch-level distance.
func TestVersionEpochProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("patch releases always match", prop.ForAll(
		func(epoch, patchA, patchB int) bool {
			return compat.SameMajorVersion(epoch*100+patchA, epoch*100+patchB)
		},
		gen.IntRange(900, 1100),
		gen.IntRange(0, 99),
		gen.IntRange(0, 99),
	))

	properties.Property("different epochs never match", prop.ForAll(
		func(epochA, epochB, patchA, patchB int) bool {
			if epochA == epochB {
				return true
			}
			return !compat.SameMajorVersion(epochA*100+patchA, epochB*100+patchB)
		},
		gen.IntRange(900, 1100),
		gen.IntRange(900, 1100),
		gen.IntRange(0, 99),
		gen.IntRange(0, 99),
	))

	properties.Property("compatibility is symmetric", prop.ForAll(
		func(a, b int) bool {
			return compat.SameMajorVersion(a, b) == compat.SameMajorVersion(b, a)
		},
		gen.IntRange(90000, 110000),
		gen.IntRange(90000, 110000),
	))

	properties.TestingRun(t)
}

func upstreamConn() *dbconntest.FakeConn {
	conn := dbconntest.NewFakeConn("db1", 5432, "repmgr")
	conn.StubWithArg("pg_settings", "wal_level", []any{true})
	conn.StubWithArg("pg_settings", "wal_keep_segments", []any{true})
	conn.StubWithArg("pg_settings", "max_replication_slots", []any{true})
	conn.StubWithArg("pg_settings", "archive_mode", []any{true})
	conn.StubWithArg("pg_settings", "hot_standby", []any{true})
	conn.StubWithArg("pg_settings", "max_wal_senders", []any{true})
	return conn
}

func TestCheckUpstreamConfigAllGood(t *testing.T) {
	problems := compat.CheckUpstreamConfig(context.Background(), upstreamConn(), 90402,
		compat.UpstreamCheckOptions{})
	assert.Empty(t, problems)
}

func TestCheckUpstreamConfigReportsEveryFailure(t *testing.T) {
	conn := dbconntest.NewFakeConn("db1", 5432, "repmgr")
	conn.StubWithArg("pg_settings", "wal_level", []any{false})
	conn.StubWithArg("pg_settings", "wal_keep_segments", []any{false})
	conn.StubWithArg("pg_settings", "archive_mode", []any{false})
	conn.StubWithArg("pg_settings", "hot_standby", []any{false})
	conn.StubWithArg("pg_settings", "max_wal_senders", []any{false})

	problems := compat.CheckUpstreamConfig(context.Background(), conn, 90402,
		compat.UpstreamCheckOptions{})

	// Checks are not short-circuited: the operator sees all problems at once.
	require.Len(t, problems, 5)

	var params []string
	for _, p := range problems {
		params = append(params, p.Parameter)
	}
	assert.Contains(t, params, "wal_level")
	assert.Contains(t, params, "wal_keep_segments")
	assert.Contains(t, params, "archive_mode")
	assert.Contains(t, params, "hot_standby")
	assert.Contains(t, params, "max_wal_senders")
}

func TestCheckUpstreamConfigSlotModeNeedsNinePointFour(t *testing.T) {
	problems := compat.CheckUpstreamConfig(context.Background(), upstreamConn(), 90305,
		compat.UpstreamCheckOptions{UseReplicationSlots: true})

	require.Len(t, problems, 1)
	assert.Equal(t, "use_replication_slots", problems[0].Parameter)
}

func TestCheckUpstreamConfigSlotModeChecksSlotLimit(t *testing.T) {
	conn := upstreamConn()

	problems := compat.CheckUpstreamConfig(context.Background(), conn, 90402,
		compat.UpstreamCheckOptions{UseReplicationSlots: true})
	assert.Empty(t, problems)

	// Slot mode replaces the wal_keep_segments retention requirement.
	assert.False(t, conn.QueriedWithArg("wal_keep_segments"))
	assert.True(t, conn.QueriedWithArg("max_replication_slots"))
}

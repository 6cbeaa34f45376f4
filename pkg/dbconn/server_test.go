package dbconn_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-replmgr/pkg/dbconn"
	"github.com/dd0wney/cluso-replmgr/pkg/dbconn/dbconntest"
)

func TestServerVersion(t *testing.T) {
	conn := dbconntest.NewFakeConn("db1", 5432, "repmgr")
	conn.Stub("server_version_num", []any{90402, "9.4.2"})

	num, str, err := dbconn.ServerVersion(context.Background(), conn)
	require.NoError(t, err)
	assert.Equal(t, 90402, num)
	assert.Equal(t, "9.4.2", str)
}

func TestShowSettingNotFound(t *testing.T) {
	conn := dbconntest.NewFakeConn("db1", 5432, "repmgr")

	_, err := dbconn.ShowSetting(context.Background(), conn, "no_such_guc")
	require.ErrorIs(t, err, dbconn.ErrSettingNotFound)
}

func TestShowSetting(t *testing.T) {
	conn := dbconntest.NewFakeConn("db1", 5432, "repmgr")
	conn.Stub("pg_settings", []any{"/var/lib/pgsql/data"})

	value, err := dbconn.ShowSetting(context.Background(), conn, "data_directory")
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/pgsql/data", value)
}

func TestSettingMatchesRejectsUnknownOperator(t *testing.T) {
	conn := dbconntest.NewFakeConn("db1", 5432, "repmgr")

	_, err := dbconn.SettingMatches(context.Background(), conn, "wal_level", "<>", "minimal")
	require.ErrorIs(t, err, dbconn.ErrBadComparison)
}

func TestSettingMatches(t *testing.T) {
	conn := dbconntest.NewFakeConn("db1", 5432, "repmgr")
	conn.Stub("pg_settings", []any{true})

	ok, err := dbconn.SettingMatches(context.Background(), conn, "wal_level", "=", "hot_standby")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSettingMatchesTyped(t *testing.T) {
	conn := dbconntest.NewFakeConn("db1", 5432, "repmgr")
	conn.Stub("pg_settings", []any{false})

	ok, err := dbconn.SettingMatchesTyped(context.Background(), conn, "max_wal_senders", ">", "0", "integer")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestParamsConnInfoOmitsEmptyFields(t *testing.T) {
	params := dbconn.Params{Host: "db1", Port: "5432", AppName: "replmgr"}
	assert.Equal(t, "host=db1 port=5432 application_name=replmgr", params.ConnInfo())

	assert.Equal(t, "", dbconn.Params{}.ConnInfo())
}

func TestIsAlive(t *testing.T) {
	conn := dbconntest.NewFakeConn("db1", 5432, "repmgr")
	conn.Stub("SELECT 1", []any{1})
	assert.True(t, dbconn.IsAlive(context.Background(), conn, time.Second))

	dead := dbconntest.NewFakeConn("db2", 5432, "repmgr")
	dead.StubError("SELECT 1", errors.New("connection reset"))
	assert.False(t, dbconn.IsAlive(context.Background(), dead, time.Second))
}

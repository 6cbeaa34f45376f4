package dbconn

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// ServerVersion returns the server version number (e.g. 90402) and its
// human-readable form (e.g. "9.4.2").
func ServerVersion(ctx context.Context, db DB) (int, string, error) {
	var num int
	var str string

	row := db.QueryRow(ctx,
		"SELECT current_setting('server_version_num')::int, current_setting('server_version')")
	if err := row.Scan(&num, &str); err != nil {
		return 0, "", fmt.Errorf("failed to query server version: %w", err)
	}

	return num, str, nil
}

// ShowSetting returns the current value of a server setting.
func ShowSetting(ctx context.Context, db DB, name string) (string, error) {
	var value string

	row := db.QueryRow(ctx, "SELECT setting FROM pg_settings WHERE name = $1", name)
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("%w: %s", ErrSettingNotFound, name)
		}
		return "", fmt.Errorf("failed to query setting %s: %w", name, err)
	}

	return value, nil
}

// SettingMatches reports whether a server setting satisfies a string
// comparison against the expected value. The operator must be one of
// "=", ">" or ">=".
func SettingMatches(ctx context.Context, db DB, name, op, expected string) (bool, error) {
	return settingComparison(ctx, db, name, op, expected, "")
}

// SettingMatchesTyped is SettingMatches with both sides cast to the given
// SQL type, so numeric settings compare numerically rather than textually.
func SettingMatchesTyped(ctx context.Context, db DB, name, op, expected, sqlType string) (bool, error) {
	return settingComparison(ctx, db, name, op, expected, sqlType)
}

func settingComparison(ctx context.Context, db DB, name, op, expected, sqlType string) (bool, error) {
	switch op {
	case "=", ">", ">=":
	default:
		return false, fmt.Errorf("%w: %q", ErrBadComparison, op)
	}

	// The operator comes from a fixed whitelist and the optional cast from
	// a fixed set of callers; only values travel as parameters.
	var query string
	if sqlType == "" {
		query = fmt.Sprintf(
			"SELECT setting %s $2 FROM pg_settings WHERE name = $1", op)
	} else {
		query = fmt.Sprintf(
			"SELECT setting::%s %s $2::%s FROM pg_settings WHERE name = $1",
			sqlType, op, sqlType)
	}

	var ok bool
	row := db.QueryRow(ctx, query, name, expected)
	if err := row.Scan(&ok); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, fmt.Errorf("%w: %s", ErrSettingNotFound, name)
		}
		return false, fmt.Errorf("failed to compare setting %s: %w", name, err)
	}

	return ok, nil
}

// CreateReplicationSlot creates a named physical replication slot on the
// connected server. Fails if a slot with that name already exists.
func CreateReplicationSlot(ctx context.Context, db DB, slotName string) error {
	_, err := db.Exec(ctx,
		"SELECT pg_create_physical_replication_slot($1)", slotName)
	if err != nil {
		return fmt.Errorf("failed to create replication slot %s: %w", slotName, err)
	}

	return nil
}

// ClusterSize returns the total on-disk size of all databases, pretty-printed.
func ClusterSize(ctx context.Context, db DB) (string, error) {
	var size string

	row := db.QueryRow(ctx,
		"SELECT pg_size_pretty(SUM(pg_database_size(oid))::bigint) FROM pg_database")
	if err := row.Scan(&size); err != nil {
		return "", fmt.Errorf("failed to query cluster size: %w", err)
	}

	return size, nil
}

package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// SchemaExists reports whether this cluster's schema has been created.
func (s *Store) SchemaExists(ctx context.Context) (bool, error) {
	var name string

	row := s.db.QueryRow(ctx,
		"SELECT schema_name FROM information_schema.schemata WHERE schema_name = $1",
		s.schema)
	if err := row.Scan(&name); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check for schema %s: %w", s.schema, err)
	}

	return true, nil
}

// CreateSchema creates the registry and monitoring objects for the cluster.
// It fails with ErrSchemaExists when the schema is already present, leaving
// existing objects untouched.
func (s *Store) CreateSchema(ctx context.Context) error {
	exists, err := s.SchemaExists(ctx)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrSchemaExists, s.schema)
	}

	schema := s.quotedSchema()

	statements := []string{
		fmt.Sprintf("CREATE SCHEMA %s", schema),

		fmt.Sprintf(`CREATE TABLE %s.repl_nodes (
  id               INTEGER PRIMARY KEY,
  type             TEXT    NOT NULL CHECK (type IN ('primary','standby','witness')),
  upstream_node_id INTEGER NULL REFERENCES %s.repl_nodes (id),
  cluster          TEXT    NOT NULL,
  name             TEXT    NOT NULL,
  conninfo         TEXT    NOT NULL,
  slot_name        TEXT    NULL,
  priority         INTEGER NOT NULL,
  active           BOOLEAN NOT NULL DEFAULT TRUE)`, schema, schema),

		fmt.Sprintf(`CREATE TABLE %s.repl_monitor (
  primary_node              INTEGER NOT NULL,
  standby_node              INTEGER NOT NULL,
  last_monitor_time         TIMESTAMP WITH TIME ZONE NOT NULL,
  last_apply_time           TIMESTAMP WITH TIME ZONE,
  last_wal_primary_location TEXT NOT NULL,
  last_wal_standby_location TEXT,
  replication_lag           BIGINT NOT NULL,
  apply_lag                 BIGINT NOT NULL)`, schema),

		// Liveness heartbeat written by the external monitoring process.
		// The repl_status view falls back to it for the communication lag
		// when the probed node itself is in recovery.
		fmt.Sprintf(`CREATE TABLE %s.repl_liveness (
  node_id      INTEGER PRIMARY KEY,
  last_updated TIMESTAMP WITH TIME ZONE NOT NULL)`, schema),

		fmt.Sprintf(`CREATE VIEW %s.repl_status AS
  SELECT m.primary_node, m.standby_node, n.name AS standby_name,
         n.type AS node_type, n.active, last_monitor_time,
         CASE WHEN n.type = 'standby' THEN m.last_wal_primary_location ELSE NULL END AS last_wal_primary_location,
         m.last_wal_standby_location,
         CASE WHEN n.type = 'standby' THEN pg_size_pretty(m.replication_lag) ELSE NULL END AS replication_lag,
         CASE WHEN n.type = 'standby' THEN age(now(), m.last_apply_time) ELSE NULL END AS replication_time_lag,
         CASE WHEN n.type = 'standby' THEN pg_size_pretty(m.apply_lag) ELSE NULL END AS apply_lag,
         age(now(), CASE WHEN pg_is_in_recovery()
                         THEN (SELECT l.last_updated FROM %s.repl_liveness l WHERE l.node_id = m.standby_node)
                         ELSE m.last_monitor_time END) AS communication_time_lag
    FROM %s.repl_monitor m
    JOIN %s.repl_nodes n ON m.standby_node = n.id
   WHERE (m.standby_node, m.last_monitor_time) IN (
           SELECT m1.standby_node, MAX(m1.last_monitor_time)
             FROM %s.repl_monitor m1 GROUP BY 1)`,
			schema, schema, schema, schema, schema),

		fmt.Sprintf(`CREATE INDEX idx_repl_status_sort
    ON %s.repl_monitor (last_monitor_time, standby_node)`, schema),
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create registry objects in schema %s: %w", s.schema, err)
		}
	}

	return nil
}

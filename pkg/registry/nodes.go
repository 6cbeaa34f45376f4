package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// CreateNodeRecord inserts a node into the registry. A standby created with
// NoUpstreamNode gets the cluster's current primary as its upstream; for
// primaries and witnesses the upstream stays null unless explicitly set.
func (s *Store) CreateNodeRecord(ctx context.Context, rec NodeRecord) error {
	upstream := rec.UpstreamNodeID

	if upstream == NoUpstreamNode && rec.Role == RoleStandby {
		primaryID, err := s.PrimaryNodeID(ctx)
		if err != nil {
			return fmt.Errorf("failed to resolve upstream for standby %d: %w", rec.ID, err)
		}
		upstream = primaryID
	}

	var upstreamArg any
	if upstream != NoUpstreamNode {
		upstreamArg = upstream
	}

	var slotArg any
	if rec.SlotName != "" {
		slotArg = rec.SlotName
	}

	query := fmt.Sprintf(`INSERT INTO %s.repl_nodes
       (id, type, upstream_node_id, cluster, name, conninfo, slot_name, priority)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`, s.quotedSchema())

	_, err := s.db.Exec(ctx, query,
		rec.ID, string(rec.Role), upstreamArg, s.cluster, rec.Name, rec.ConnInfo, slotArg, rec.Priority)
	if err != nil {
		return fmt.Errorf("failed to insert node record %d: %w", rec.ID, err)
	}

	return nil
}

// DeleteNodeRecord removes a node row. Used by forced re-registration.
func (s *Store) DeleteNodeRecord(ctx context.Context, id int) error {
	query := fmt.Sprintf("DELETE FROM %s.repl_nodes WHERE id = $1", s.quotedSchema())

	if _, err := s.db.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("failed to delete node record %d: %w", id, err)
	}

	return nil
}

// ListNodes returns all node records for the cluster in id order.
func (s *Store) ListNodes(ctx context.Context) ([]NodeRecord, error) {
	query := fmt.Sprintf(`SELECT id, type, COALESCE(upstream_node_id, 0), cluster,
       name, conninfo, COALESCE(slot_name, ''), priority, active
  FROM %s.repl_nodes
 WHERE cluster = $1
 ORDER BY id`, s.quotedSchema())

	rows, err := s.db.Query(ctx, query, s.cluster)
	if err != nil {
		return nil, fmt.Errorf("failed to list node records: %w", err)
	}
	defer rows.Close()

	var records []NodeRecord
	for rows.Next() {
		var rec NodeRecord
		var role string

		err := rows.Scan(&rec.ID, &role, &rec.UpstreamNodeID, &rec.Cluster,
			&rec.Name, &rec.ConnInfo, &rec.SlotName, &rec.Priority, &rec.Active)
		if err != nil {
			return nil, fmt.Errorf("failed to scan node record: %w", err)
		}

		rec.Role = NodeRole(role)
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating node records: %w", err)
	}

	return records, nil
}

// PrimaryNodeID returns the id of the registered active primary.
func (s *Store) PrimaryNodeID(ctx context.Context) (int, error) {
	query := fmt.Sprintf(`SELECT id FROM %s.repl_nodes
 WHERE cluster = $1 AND type = 'primary' AND active`, s.quotedSchema())

	var id int
	if err := s.db.QueryRow(ctx, query, s.cluster).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("%w: %s", ErrNoPrimaryRecord, s.cluster)
		}
		return 0, fmt.Errorf("failed to look up primary node id: %w", err)
	}

	return id, nil
}

// MirrorFrom replaces this store's node records with the source store's.
// Not incremental: the witness registry is a disposable read-mirror.
func (s *Store) MirrorFrom(ctx context.Context, src *Store) error {
	records, err := src.ListNodes(ctx)
	if err != nil {
		return fmt.Errorf("failed to read source registry: %w", err)
	}

	truncate := fmt.Sprintf("TRUNCATE TABLE %s.repl_nodes", s.quotedSchema())
	if _, err := s.db.Exec(ctx, truncate); err != nil {
		return fmt.Errorf("failed to truncate mirror registry: %w", err)
	}

	for _, rec := range records {
		if err := s.CreateNodeRecord(ctx, rec); err != nil {
			return fmt.Errorf("failed to mirror node %d: %w", rec.ID, err)
		}
	}

	return nil
}

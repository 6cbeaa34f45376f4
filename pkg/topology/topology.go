// Package topology determines the live role of cluster nodes by probing
// their recovery status, and locates the current primary among the
// registered nodes.
package topology

import (
	"context"
	"errors"
	"fmt"

	"github.com/dd0wney/cluso-replmgr/pkg/dbconn"
	"github.com/dd0wney/cluso-replmgr/pkg/registry"
)

// Status is the observable role of a probed server. Unreachable is a
// distinguished outcome, not an error: callers branch on it to decide
// whether to abort or retry.
type Status int

const (
	StatusUnreachable Status = iota
	StatusPrimary
	StatusStandby
)

// String returns the string representation of a Status
func (s Status) String() string {
	switch s {
	case StatusUnreachable:
		return "unreachable"
	case StatusPrimary:
		return "primary"
	case StatusStandby:
		return "standby"
	default:
		return "unknown"
	}
}

var (
	ErrNoPrimaryFound    = errors.New("no reachable primary found in cluster")
	ErrMultiplePrimaries = errors.New("multiple reachable nodes report as primary")
)

// Probe queries a server's recovery status. Any query failure maps to
// StatusUnreachable.
func Probe(ctx context.Context, db dbconn.DB) Status {
	var inRecovery bool

	row := db.QueryRow(ctx, "SELECT pg_is_in_recovery()")
	if err := row.Scan(&inRecovery); err != nil {
		return StatusUnreachable
	}

	if inRecovery {
		return StatusStandby
	}
	return StatusPrimary
}

// LocatePrimary probes every active, non-witness registered node and
// returns an open connection to the one reporting primary, together with
// its registry record. All other probe connections are closed.
//
// When more than one reachable node reports primary the cluster is in
// split-brain; this is surfaced as ErrMultiplePrimaries rather than
// silently picking one.
func LocatePrimary(ctx context.Context, store *registry.Store, dial dbconn.Dialer) (dbconn.Conn, *registry.NodeRecord, error) {
	records, err := store.ListNodes(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read registry for primary discovery: %w", err)
	}

	var (
		primaryConn   dbconn.Conn
		primaryRecord *registry.NodeRecord
	)

	for i := range records {
		rec := records[i]
		if !rec.Active || rec.Role == registry.RoleWitness {
			continue
		}

		conn, err := dial(ctx, rec.ConnInfo)
		if err != nil {
			continue
		}

		if Probe(ctx, conn) != StatusPrimary {
			conn.Close(ctx)
			continue
		}

		if primaryConn != nil {
			primaryConn.Close(ctx)
			conn.Close(ctx)
			return nil, nil, fmt.Errorf("%w: nodes %d and %d",
				ErrMultiplePrimaries, primaryRecord.ID, rec.ID)
		}

		primaryConn = conn
		primaryRecord = &rec
	}

	if primaryConn == nil {
		return nil, nil, ErrNoPrimaryFound
	}

	return primaryConn, primaryRecord, nil
}

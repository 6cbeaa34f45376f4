package registry

import (
	"github.com/jackc/pgx/v5"

	"github.com/dd0wney/cluso-replmgr/pkg/dbconn"
)

// NodeRole classifies a registered node.
type NodeRole string

const (
	// RolePrimary is the node accepting writes and shipping changes downstream
	RolePrimary NodeRole = "primary"
	// RoleStandby is a node continuously applying the primary's change stream
	RoleStandby NodeRole = "standby"
	// RoleWitness is a non-replicating node holding a registry copy for quorum purposes
	RoleWitness NodeRole = "witness"
)

// NoUpstreamNode marks a node record without an explicit upstream. For
// standbys the store resolves it to the current primary at creation time.
const NoUpstreamNode = 0

// NodeRecord is one row of the node registry.
type NodeRecord struct {
	ID             int
	Role           NodeRole
	UpstreamNodeID int // NoUpstreamNode when unset
	Cluster        string
	Name           string
	ConnInfo       string
	SlotName       string // empty when slot mode is disabled or role is not standby
	Priority       int
	Active         bool
}

// Store reads and writes one cluster's registry. All mutating operations
// must run against the primary's connection; a witness store is a
// disposable read-mirror populated by MirrorFrom.
type Store struct {
	db      dbconn.DB
	schema  string
	cluster string
}

// NewStore returns a registry store over an existing connection. The schema
// name is derived from the cluster name by the config package.
func NewStore(db dbconn.DB, schema, cluster string) *Store {
	return &Store{db: db, schema: schema, cluster: cluster}
}

// Schema returns the unquoted schema name.
func (s *Store) Schema() string {
	return s.schema
}

// Cluster returns the cluster name this store serves.
func (s *Store) Cluster() string {
	return s.cluster
}

// quotedSchema returns the schema name as a safely quoted SQL identifier.
func (s *Store) quotedSchema() string {
	return pgx.Identifier{s.schema}.Sanitize()
}

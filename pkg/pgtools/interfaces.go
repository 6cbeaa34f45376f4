// Package pgtools abstracts the external tools the controller drives:
// physical snapshots, service control, secure file copy and remote
// connectivity probing. The core's control flow depends only on these
// interfaces so it can be exercised with fakes.
package pgtools

import "context"

// TablespaceRemap relocates one tablespace directory during a snapshot.
type TablespaceRemap struct {
	OldDir string
	NewDir string
}

// SnapshotOptions describe a full physical snapshot of a primary's data
// directory into a local destination.
type SnapshotOptions struct {
	Host    string
	Port    string
	User    string
	DestDir string
	Label   string
	Remaps  []TablespaceRemap
}

// Snapshot takes a full physical copy of a primary's data directory.
type Snapshot interface {
	Run(ctx context.Context, opts SnapshotOptions) error
}

// InitOptions configure initialization of a fresh instance.
type InitOptions struct {
	Superuser          string
	SkipPasswordPrompt bool
}

// ServiceControl drives the database service for a data directory.
// Promote is fire-and-forget: it returns once the promote signal is
// delivered, not once the promotion completes.
type ServiceControl interface {
	Init(ctx context.Context, dataDir string, opts InitOptions) error
	Start(ctx context.Context, dataDir string) error
	Stop(ctx context.Context, dataDir string) error
	Restart(ctx context.Context, dataDir string) error
	Reload(ctx context.Context, dataDir string) error
	Promote(ctx context.Context, dataDir string) error
}

// SecureCopy transfers a remote file or directory to a local path.
// When del is set, extraneous local files are removed.
type SecureCopy interface {
	Copy(ctx context.Context, host, remoteUser, remotePath, localPath string, del bool) error
}

// ConnectivityProbe verifies a remote host answers before any copy is
// attempted.
type ConnectivityProbe interface {
	Check(ctx context.Context, host, remoteUser string) error
}

// Tools bundles one implementation of each capability.
type Tools struct {
	Snapshot Snapshot
	Service  ServiceControl
	Copy     SecureCopy
	Probe    ConnectivityProbe
}

// Package commands implements the operations the command line exposes,
// wiring configuration, registry access, topology discovery and the
// external tools together. Each operation lives in its own file and
// returns errors instead of exiting, so the binary entry point stays the
// only place that maps failures to exit codes.
package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/dd0wney/cluso-replmgr/pkg/compat"
	"github.com/dd0wney/cluso-replmgr/pkg/config"
	"github.com/dd0wney/cluso-replmgr/pkg/dbconn"
	"github.com/dd0wney/cluso-replmgr/pkg/logging"
	"github.com/dd0wney/cluso-replmgr/pkg/pgtools"
	"github.com/dd0wney/cluso-replmgr/pkg/registry"
)

// RuntimeOptions hold the per-invocation command-line values, as opposed
// to the durable settings in the configuration file.
type RuntimeOptions struct {
	// Host, Port, User and DBName describe a source server for the
	// operations that take one (clone, witness create, cluster commands).
	Host   string
	Port   string
	User   string
	DBName string

	// DestDir is the local data directory for clone and witness create.
	DestDir string

	Force bool

	// Wait keeps standby follow retrying until a primary appears.
	Wait bool

	// KeepHistoryDays bounds cluster cleanup; zero removes everything.
	KeepHistoryDays int

	// RemoteUser is the operating-system account for file copies.
	RemoteUser string

	// LocalPort is the witness instance's listen port.
	LocalPort string

	// Superuser is the administrative account for witness create; empty
	// means the default.
	Superuser string

	// SkipPasswordPrompt suppresses the password prompt when witness
	// create initializes its instance.
	SkipPasswordPrompt bool

	// MinRecoveryApplyDelay holds a delay atom like "5min" written into
	// generated recovery configuration; empty omits the line.
	MinRecoveryApplyDelay string
}

// Params renders the runtime connection values as explicit parameters.
func (o RuntimeOptions) Params() dbconn.Params {
	return dbconn.Params{
		Host:   o.Host,
		Port:   o.Port,
		User:   o.User,
		DBName: o.DBName,
	}
}

// Runner executes operations with one invocation's wiring.
type Runner struct {
	Cfg     *config.Config
	Runtime RuntimeOptions
	Log     logging.Logger
	Dial    dbconn.Dialer
	Tools   pgtools.Tools
	Out     io.Writer
}

// connectLocal opens the connection described by the configuration file's
// conninfo, i.e. the node this invocation operates on.
func (r *Runner) connectLocal(ctx context.Context) (dbconn.Conn, error) {
	return r.Dial(ctx, r.Cfg.ConnInfo)
}

// connectSource opens a connection from the command-line host parameters,
// falling back to the configured conninfo when none were given.
func (r *Runner) connectSource(ctx context.Context) (dbconn.Conn, error) {
	if r.Runtime.Host == "" && r.Cfg.ConnInfo != "" {
		return r.Dial(ctx, r.Cfg.ConnInfo)
	}
	return r.Dial(ctx, r.Runtime.Params().ConnInfo())
}

// store returns the registry store for this cluster over a connection.
func (r *Runner) store(db dbconn.DB) *registry.Store {
	return registry.NewStore(db, r.Cfg.SchemaName(), r.Cfg.ClusterName)
}

// checkVersion validates a server against the minimum supported version
// and returns its version number and string.
func (r *Runner) checkVersion(ctx context.Context, db dbconn.DB, role string) (int, string, error) {
	num, str, err := compat.CheckServerVersion(ctx, db, role)
	if err != nil {
		return 0, "", err
	}
	r.Log.Debug("server version checked",
		logging.String("role", role), logging.String("version", str))
	return num, str, nil
}

// nodeRecord builds this node's registry record from the configuration.
func (r *Runner) nodeRecord(role registry.NodeRole) registry.NodeRecord {
	return registry.NodeRecord{
		ID:       r.Cfg.NodeID,
		Role:     role,
		Cluster:  r.Cfg.ClusterName,
		Name:     r.Cfg.NodeName,
		ConnInfo: r.Cfg.ConnInfo,
		SlotName: r.Cfg.SlotName(),
		Priority: r.Cfg.Priority,
		Active:   true,
	}
}

func (r *Runner) printf(format string, args ...any) {
	fmt.Fprintf(r.Out, format, args...)
}

// Package witness bootstraps a non-replicating witness instance: a small
// independent server holding a read-mirror of the node registry, used to
// break ties when the primary's reachability is in question.
package witness

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jackc/pgx/v5"

	"github.com/dd0wney/cluso-replmgr/pkg/dbconn"
	"github.com/dd0wney/cluso-replmgr/pkg/logging"
	"github.com/dd0wney/cluso-replmgr/pkg/pgtools"
	"github.com/dd0wney/cluso-replmgr/pkg/provision"
	"github.com/dd0wney/cluso-replmgr/pkg/registry"
)

const (
	// DefaultPort keeps the witness off the standard server port so it can
	// coexist with a local cluster member.
	DefaultPort = "5499"

	// DefaultAdminUser is the administrative account created by instance
	// initialization.
	DefaultAdminUser = "postgres"
)

// Options control one witness bootstrap run.
type Options struct {
	DataDir string
	Port    string
	Force   bool

	// User and DBName identify the operating account and database. When
	// User differs from the administrative account, a superuser-capable
	// role is created for the bootstrap and hardened to NOSUPERUSER at
	// the end.
	User   string
	DBName string

	// AdminUser is the account instance initialization creates as the
	// initdb superuser; AdminConnInfo must authenticate as it. Empty
	// means DefaultAdminUser.
	AdminUser string

	SkipPasswordPrompt bool

	// RemoteUser is the operating-system account for copying the
	// primary's host-based-auth file.
	RemoteUser string

	// AdminConnInfo reaches the fresh witness as the administrative
	// account; OperatingConnInfo reaches it as User/DBName once those
	// exist.
	AdminConnInfo     string
	OperatingConnInfo string
}

func (o Options) port() string {
	if o.Port == "" {
		return DefaultPort
	}
	return o.Port
}

func (o Options) adminUser() string {
	if o.AdminUser == "" {
		return DefaultAdminUser
	}
	return o.AdminUser
}

func (o Options) needsOperatingRole() bool {
	return o.User != "" && o.User != o.adminUser()
}

// Bootstrapper builds witness instances.
type Bootstrapper struct {
	log   logging.Logger
	tools pgtools.Tools
	dial  dbconn.Dialer
}

// NewBootstrapper returns a witness bootstrapper.
func NewBootstrapper(log logging.Logger, tools pgtools.Tools, dial dbconn.Dialer) *Bootstrapper {
	return &Bootstrapper{log: log, tools: tools, dial: dial}
}

// Create runs the full bootstrap sequence against a fresh data directory.
// Any step failing aborts the remaining steps; completed steps are not
// rolled back.
func (b *Bootstrapper) Create(ctx context.Context, primary dbconn.Conn, primaryStore *registry.Store, rec registry.NodeRecord, opts Options) error {
	if err := provision.PrepareDataDir(opts.DataDir, opts.Force); err != nil {
		return err
	}

	b.log.Info("initializing witness instance",
		logging.String("data_dir", opts.DataDir),
		logging.String("port", opts.port()))

	// Initialization must create the administrative account, not the
	// operating one; the operating role is created over AdminConnInfo
	// once the instance is up.
	initOpts := pgtools.InitOptions{
		Superuser:          opts.adminUser(),
		SkipPasswordPrompt: opts.SkipPasswordPrompt,
	}
	if err := b.tools.Service.Init(ctx, opts.DataDir, initOpts); err != nil {
		return fmt.Errorf("failed to initialize witness instance: %w", err)
	}

	if err := appendConfigBlock(opts.DataDir, opts.port()); err != nil {
		return err
	}

	if err := b.tools.Service.Start(ctx, opts.DataDir); err != nil {
		return fmt.Errorf("failed to start witness instance: %w", err)
	}

	if opts.needsOperatingRole() {
		if err := b.createOperatingRole(ctx, opts); err != nil {
			return err
		}
	}

	if err := b.copyHBAFile(ctx, primary, opts); err != nil {
		return err
	}

	if err := b.tools.Service.Reload(ctx, opts.DataDir); err != nil {
		return fmt.Errorf("failed to reload witness instance: %w", err)
	}

	rec.Role = registry.RoleWitness
	if err := primaryStore.CreateNodeRecord(ctx, rec); err != nil {
		return err
	}

	if err := b.mirrorRegistry(ctx, primaryStore, opts); err != nil {
		return err
	}

	if opts.needsOperatingRole() {
		if err := b.hardenOperatingRole(ctx, opts); err != nil {
			return err
		}
	}

	b.log.Info("witness created", logging.Node(rec.ID))
	return nil
}

// appendConfigBlock adds the witness's listen settings to the generated
// server configuration.
func appendConfigBlock(dataDir, port string) error {
	path := filepath.Join(dataDir, "postgresql.conf")

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open witness configuration %s: %w", path, err)
	}
	defer f.Close()

	block := fmt.Sprintf("\nlisten_addresses = '*'\nport = %s\n", port)
	if _, err := f.WriteString(block); err != nil {
		return fmt.Errorf("failed to append witness configuration: %w", err)
	}
	return nil
}

// createOperatingRole gives the caller's identity a superuser-capable
// role and its own database on the fresh instance. The privilege is
// revoked again by hardenOperatingRole once bootstrap is done.
func (b *Bootstrapper) createOperatingRole(ctx context.Context, opts Options) error {
	admin, err := b.dial(ctx, opts.AdminConnInfo)
	if err != nil {
		return fmt.Errorf("failed to connect to witness as administrator: %w", err)
	}
	defer admin.Close(ctx)

	role := pgx.Identifier{opts.User}.Sanitize()
	if _, err := admin.Exec(ctx,
		fmt.Sprintf("CREATE ROLE %s SUPERUSER LOGIN", role)); err != nil {
		return fmt.Errorf("failed to create witness role %s: %w", opts.User, err)
	}

	if opts.DBName != "" && opts.DBName != "postgres" {
		db := pgx.Identifier{opts.DBName}.Sanitize()
		if _, err := admin.Exec(ctx,
			fmt.Sprintf("CREATE DATABASE %s OWNER %s", db, role)); err != nil {
			return fmt.Errorf("failed to create witness database %s: %w", opts.DBName, err)
		}
	}
	return nil
}

// copyHBAFile carries the primary's host-based-auth rules over so the
// witness accepts the same clients.
func (b *Bootstrapper) copyHBAFile(ctx context.Context, primary dbconn.Conn, opts Options) error {
	locations, err := provision.ResolveFileLocations(ctx, primary)
	if err != nil {
		return err
	}

	if err := b.tools.Probe.Check(ctx, primary.Host(), opts.RemoteUser); err != nil {
		return fmt.Errorf("cannot reach primary host for auth file copy: %w", err)
	}

	dest := filepath.Join(opts.DataDir, "pg_hba.conf")
	if err := b.tools.Copy.Copy(ctx, primary.Host(), opts.RemoteUser, locations.HBAFile, dest, false); err != nil {
		return fmt.Errorf("failed to copy host-based-auth file: %w", err)
	}
	return nil
}

// mirrorRegistry creates the registry schema on the witness and fills it
// with a copy of the primary's node records.
func (b *Bootstrapper) mirrorRegistry(ctx context.Context, primaryStore *registry.Store, opts Options) error {
	witnessConn, err := b.dial(ctx, opts.OperatingConnInfo)
	if err != nil {
		return fmt.Errorf("failed to connect to witness: %w", err)
	}
	defer witnessConn.Close(ctx)

	witnessStore := registry.NewStore(witnessConn, primaryStore.Schema(), primaryStore.Cluster())
	if err := witnessStore.CreateSchema(ctx); err != nil {
		return err
	}
	return witnessStore.MirrorFrom(ctx, primaryStore)
}

func (b *Bootstrapper) hardenOperatingRole(ctx context.Context, opts Options) error {
	admin, err := b.dial(ctx, opts.AdminConnInfo)
	if err != nil {
		return fmt.Errorf("failed to reconnect to witness as administrator: %w", err)
	}
	defer admin.Close(ctx)

	role := pgx.Identifier{opts.User}.Sanitize()
	if _, err := admin.Exec(ctx,
		fmt.Sprintf("ALTER ROLE %s NOSUPERUSER", role)); err != nil {
		return fmt.Errorf("failed to revoke superuser from witness role %s: %w", opts.User, err)
	}
	return nil
}

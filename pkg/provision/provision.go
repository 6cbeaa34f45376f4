// Package provision builds a new standby from a running primary: it takes
// a physical snapshot, carries over configuration files that live outside
// the data directory, and writes the recovery configuration the standby
// needs to start streaming.
package provision

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dd0wney/cluso-replmgr/pkg/dbconn"
	"github.com/dd0wney/cluso-replmgr/pkg/logging"
	"github.com/dd0wney/cluso-replmgr/pkg/pgtools"
	"github.com/dd0wney/cluso-replmgr/pkg/recoveryconf"
)

// MinRemapVersion is the lowest server version number supporting
// tablespace relocation during a snapshot.
const MinRemapVersion = 90400

// Options control one clone run.
type Options struct {
	DestDir string
	Force   bool

	// ServerVersionNum is the upstream's version number, already validated
	// by the caller.
	ServerVersionNum int

	Remaps []pgtools.TablespaceRemap

	// RemoteUser is the operating-system account used for out-of-band
	// file copies; empty means the local user.
	RemoteUser string

	UseReplicationSlots bool
	SlotName            string

	// Recovery carries the standby-side settings (application name,
	// apply delay, credential policy); the upstream coordinates are
	// filled in from the live connection.
	Recovery recoveryconf.Settings
}

// FileLocations describe where the upstream keeps its data directory and
// the configuration files that may live outside it.
type FileLocations struct {
	DataDir    string
	ConfigFile string
	HBAFile    string
	IdentFile  string
}

// OutOfBand lists the configuration files a snapshot will not carry over
// because they live outside the data directory.
func (l FileLocations) OutOfBand() []string {
	var paths []string
	for _, p := range []string{l.ConfigFile, l.HBAFile, l.IdentFile} {
		if p != "" && !inDirectory(l.DataDir, p) {
			paths = append(paths, p)
		}
	}
	return paths
}

func inDirectory(dir, path string) bool {
	dir = filepath.Clean(dir)
	path = filepath.Clean(path)
	return path == dir || strings.HasPrefix(path, dir+string(filepath.Separator))
}

// Cloner runs the standby provisioning pipeline.
type Cloner struct {
	log   logging.Logger
	tools pgtools.Tools
}

// NewCloner returns a Cloner using the given tool implementations.
func NewCloner(log logging.Logger, tools pgtools.Tools) *Cloner {
	return &Cloner{log: log, tools: tools}
}

// Clone provisions a standby data directory from the upstream primary.
// Failures after the snapshot has started leave the destination in place
// for manual cleanup.
func (c *Cloner) Clone(ctx context.Context, upstream dbconn.Conn, opts Options) error {
	if err := PrepareDataDir(opts.DestDir, opts.Force); err != nil {
		return err
	}

	locations, err := ResolveFileLocations(ctx, upstream)
	if err != nil {
		return err
	}

	if err := c.validateRemaps(ctx, upstream, opts); err != nil {
		return err
	}

	port := strconv.Itoa(int(upstream.Port()))

	c.log.Info("starting backup",
		logging.Host(upstream.Host()),
		logging.String("dest_dir", opts.DestDir))

	snapOpts := pgtools.SnapshotOptions{
		Host:    upstream.Host(),
		Port:    port,
		User:    upstream.User(),
		DestDir: opts.DestDir,
		Label:   "standby clone",
		Remaps:  opts.Remaps,
	}
	if err := c.tools.Snapshot.Run(ctx, snapOpts); err != nil {
		return c.abort(opts.DestDir, fmt.Errorf("snapshot failed: %w", err))
	}

	if err := c.copyOutOfBandFiles(ctx, upstream.Host(), opts.RemoteUser, locations); err != nil {
		return c.abort(opts.DestDir, err)
	}

	recovery := opts.Recovery
	recovery.Host = upstream.Host()
	recovery.Port = port
	recovery.User = upstream.User()
	if opts.UseReplicationSlots {
		recovery.SlotName = opts.SlotName
	}
	if err := recovery.WriteFile(opts.DestDir); err != nil {
		return c.abort(opts.DestDir, err)
	}

	if opts.UseReplicationSlots {
		if err := dbconn.CreateReplicationSlot(ctx, upstream, opts.SlotName); err != nil {
			return c.abort(opts.DestDir, err)
		}
	}

	return nil
}

// abort reports a mid-pipeline failure. The destination is deliberately
// not removed: a partial copy may still be useful for diagnosis, and
// deleting a directory the operator pointed us at is not our call.
func (c *Cloner) abort(destDir string, err error) error {
	c.log.Warn("clone failed; destination left in place for manual cleanup",
		logging.String("dest_dir", destDir),
		logging.Error(err))
	return err
}

// PrepareDataDir creates the destination data directory, refusing to
// reuse a non-empty one unless force is set.
func PrepareDataDir(dest string, force bool) error {
	entries, err := os.ReadDir(dest)
	switch {
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(dest, 0o700); mkErr != nil {
			return fmt.Errorf("failed to create destination directory %s: %w", dest, mkErr)
		}
		return nil
	case err != nil:
		return fmt.Errorf("failed to inspect destination directory %s: %w", dest, err)
	}

	if len(entries) > 0 && !force {
		return fmt.Errorf("%w: %s", ErrDestDirOccupied, dest)
	}
	return nil
}

// ResolveFileLocations reads the upstream's data directory and
// configuration file paths from its settings.
func ResolveFileLocations(ctx context.Context, db dbconn.DB) (FileLocations, error) {
	rows, err := db.Query(ctx,
		`SELECT name, setting
		   FROM pg_settings
		  WHERE name IN ('data_directory', 'config_file', 'hba_file', 'ident_file')`)
	if err != nil {
		return FileLocations{}, fmt.Errorf("failed to resolve server file locations: %w", err)
	}
	defer rows.Close()

	var locations FileLocations
	for rows.Next() {
		var name, setting string
		if err := rows.Scan(&name, &setting); err != nil {
			return FileLocations{}, fmt.Errorf("failed to scan server file location: %w", err)
		}
		switch name {
		case "data_directory":
			locations.DataDir = setting
		case "config_file":
			locations.ConfigFile = setting
		case "hba_file":
			locations.HBAFile = setting
		case "ident_file":
			locations.IdentFile = setting
		}
	}
	if err := rows.Err(); err != nil {
		return FileLocations{}, fmt.Errorf("failed to read server file locations: %w", err)
	}

	return locations, nil
}

func (c *Cloner) validateRemaps(ctx context.Context, db dbconn.DB, opts Options) error {
	if len(opts.Remaps) == 0 {
		return nil
	}
	if opts.ServerVersionNum < MinRemapVersion {
		return fmt.Errorf("%w: server reports %d, need at least %d",
			ErrRemapsUnsupported, opts.ServerVersionNum, MinRemapVersion)
	}

	for _, remap := range opts.Remaps {
		var name string
		row := db.QueryRow(ctx,
			"SELECT spcname FROM pg_tablespace WHERE pg_tablespace_location(oid) = $1",
			remap.OldDir)
		if err := row.Scan(&name); err != nil {
			return fmt.Errorf("%w: %s", ErrTablespaceNotFound, remap.OldDir)
		}
		c.log.Debug("tablespace remap validated",
			logging.String("tablespace", name),
			logging.String("old_dir", remap.OldDir),
			logging.String("new_dir", remap.NewDir))
	}
	return nil
}

// copyOutOfBandFiles copies configuration files living outside the data
// directory to the same absolute paths on this host. Each file is copied
// individually so a failure names the file that broke.
func (c *Cloner) copyOutOfBandFiles(ctx context.Context, host, remoteUser string, locations FileLocations) error {
	paths := locations.OutOfBand()
	if len(paths) == 0 {
		return nil
	}

	if err := c.tools.Probe.Check(ctx, host, remoteUser); err != nil {
		return fmt.Errorf("%w: %v", ErrConfigCopyFailed, err)
	}

	for _, path := range paths {
		c.log.Info("copying configuration file outside data directory",
			logging.Host(host), logging.String("path", path))
		if err := c.tools.Copy.Copy(ctx, host, remoteUser, path, path, false); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrConfigCopyFailed, path, err)
		}
	}
	return nil
}

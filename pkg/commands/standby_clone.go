package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/dd0wney/cluso-replmgr/pkg/compat"
	"github.com/dd0wney/cluso-replmgr/pkg/dbconn"
	"github.com/dd0wney/cluso-replmgr/pkg/logging"
	"github.com/dd0wney/cluso-replmgr/pkg/pgtools"
	"github.com/dd0wney/cluso-replmgr/pkg/provision"
	"github.com/dd0wney/cluso-replmgr/pkg/recoveryconf"
)

// StandbyClone builds a new standby data directory from the source server
// named on the command line.
func (r *Runner) StandbyClone(ctx context.Context) error {
	if r.Runtime.Host == "" {
		return fmt.Errorf("%w for standby clone", ErrHostRequired)
	}

	upstream, err := r.Dial(ctx, r.Runtime.Params().ConnInfo())
	if err != nil {
		return err
	}
	defer upstream.Close(ctx)

	versionNum, _, err := r.checkVersion(ctx, upstream, "master")
	if err != nil {
		return err
	}

	if err := r.requireSuitableUpstream(ctx, upstream, versionNum); err != nil {
		return err
	}

	if size, err := dbconn.ClusterSize(ctx, upstream); err == nil {
		r.Log.Info("connected to source server",
			logging.Host(upstream.Host()),
			logging.String("installation_size", size))
	}

	destDir := r.Runtime.DestDir
	if destDir == "" {
		// Same-paths mode: mirror the source's own data directory layout.
		locations, err := provision.ResolveFileLocations(ctx, upstream)
		if err != nil {
			return err
		}
		destDir = locations.DataDir
	}

	cloner := provision.NewCloner(r.Log, r.Tools)
	opts := provision.Options{
		DestDir:             destDir,
		Force:               r.Runtime.Force,
		ServerVersionNum:    versionNum,
		Remaps:              r.tablespaceRemaps(),
		RemoteUser:          r.Runtime.RemoteUser,
		UseReplicationSlots: r.Cfg.UseReplicationSlots,
		SlotName:            r.Cfg.SlotName(),
		Recovery: recoveryconf.Settings{
			ApplicationName:       r.Cfg.NodeName,
			MinRecoveryApplyDelay: r.Runtime.MinRecoveryApplyDelay,
		},
	}

	if err := cloner.Clone(ctx, upstream, opts); err != nil {
		return err
	}

	r.Log.Info("standby clone complete",
		logging.String("dest_dir", destDir),
		logging.Host(upstream.Host()))
	r.printf("standby clone complete; start the server and run \"standby register\"\n")
	return nil
}

// requireSuitableUpstream runs the full set of upstream configuration
// checks and reports every failed one before refusing.
func (r *Runner) requireSuitableUpstream(ctx context.Context, upstream dbconn.Conn, versionNum int) error {
	problems := compat.CheckUpstreamConfig(ctx, upstream, versionNum, compat.UpstreamCheckOptions{
		UseReplicationSlots:  r.Cfg.UseReplicationSlots,
		WALKeepSegmentsFloor: r.Cfg.WALKeepSegments,
	})
	for _, p := range problems {
		r.Log.Error("upstream configuration problem",
			logging.String("parameter", p.Parameter),
			logging.String("detail", p.Detail))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %d problem(s) found", ErrUpstreamUnsuitable, len(problems))
	}

	r.warnRedundantRetention(ctx, upstream)
	return nil
}

// warnRedundantRetention flags a wal_keep_segments setting that slot mode
// makes pointless, since the slot already pins the needed segments.
func (r *Runner) warnRedundantRetention(ctx context.Context, upstream dbconn.Conn) {
	if !r.Cfg.UseReplicationSlots {
		return
	}

	value, err := dbconn.ShowSetting(ctx, upstream, "wal_keep_segments")
	if err != nil || value == "" || value == "0" {
		return
	}

	r.Log.Warn("wal_keep_segments is set but replication slots are in use; the setting is redundant",
		logging.String("wal_keep_segments", value))
}

func (r *Runner) tablespaceRemaps() []pgtools.TablespaceRemap {
	var remaps []pgtools.TablespaceRemap
	for _, m := range r.Cfg.TablespaceMappings {
		remaps = append(remaps, pgtools.TablespaceRemap{
			OldDir: strings.TrimSpace(m.OldDir),
			NewDir: strings.TrimSpace(m.NewDir),
		})
	}
	return remaps
}

package promote

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dd0wney/cluso-replmgr/pkg/compat"
	"github.com/dd0wney/cluso-replmgr/pkg/dbconn"
	"github.com/dd0wney/cluso-replmgr/pkg/logging"
	"github.com/dd0wney/cluso-replmgr/pkg/pgtools"
	"github.com/dd0wney/cluso-replmgr/pkg/recoveryconf"
	"github.com/dd0wney/cluso-replmgr/pkg/registry"
	"github.com/dd0wney/cluso-replmgr/pkg/topology"
)

// DefaultDiscoveryInterval paces the wait-forever primary discovery loop.
const DefaultDiscoveryInterval = 2 * time.Second

// FollowOptions control one follow run.
type FollowOptions struct {
	// WaitForever keeps retrying primary discovery until one appears
	// instead of failing after a single attempt.
	WaitForever bool

	// ResponseTimeout bounds the liveness check on the local node before
	// each discovery attempt.
	ResponseTimeout time.Duration

	// Recovery carries the standby-side settings; the new primary's
	// coordinates are captured from the live connection, not from
	// registry metadata, which may be stale after a failover.
	Recovery recoveryconf.Settings
}

// Follower re-points the local standby at the cluster's current primary.
type Follower struct {
	log     logging.Logger
	dial    dbconn.Dialer
	service pgtools.ServiceControl

	DiscoveryInterval time.Duration
	Sleep             func(time.Duration)
}

// NewFollower returns a follow controller with default timings.
func NewFollower(log logging.Logger, dial dbconn.Dialer, service pgtools.ServiceControl) *Follower {
	return &Follower{
		log:               log,
		dial:              dial,
		service:           service,
		DiscoveryInterval: DefaultDiscoveryInterval,
		Sleep:             time.Sleep,
	}
}

// Follow locates the current primary, rewrites the local recovery
// configuration to stream from it, and fast-restarts the local service.
func (f *Follower) Follow(ctx context.Context, local dbconn.Conn, store *registry.Store, opts FollowOptions) error {
	if status := topology.Probe(ctx, local); status != topology.StatusStandby {
		return fmt.Errorf("%w: node reports %s", ErrNotStandby, status)
	}

	localVersion, localVersionStr, err := dbconn.ServerVersion(ctx, local)
	if err != nil {
		return err
	}

	dataDir, err := dbconn.ShowSetting(ctx, local, "data_directory")
	if err != nil {
		return err
	}

	primary, local, err := f.discoverPrimary(ctx, local, store, opts)
	if err != nil {
		return err
	}
	defer primary.Close(ctx)

	primaryVersion, primaryVersionStr, err := dbconn.ServerVersion(ctx, primary)
	if err != nil {
		return err
	}
	if err := compat.CheckMajorVersionsMatch(
		primaryVersion, primaryVersionStr, localVersion, localVersionStr); err != nil {
		return err
	}

	recovery := opts.Recovery
	recovery.Host = primary.Host()
	recovery.Port = strconv.Itoa(int(primary.Port()))
	recovery.User = primary.User()

	f.log.Info("following new primary",
		logging.Host(primary.Host()),
		logging.String("data_dir", dataDir))

	if err := recovery.WriteFile(dataDir); err != nil {
		return err
	}

	local.Close(ctx)
	if err := f.service.Restart(ctx, dataDir); err != nil {
		return fmt.Errorf("%w: %v", ErrRestartFailed, err)
	}

	return nil
}

// discoverPrimary runs the discovery loop. Before each attempt the local
// connection is health-checked and re-established if it stopped
// answering. Returns the primary's connection and the (possibly
// re-dialed) local connection.
func (f *Follower) discoverPrimary(ctx context.Context, local dbconn.Conn, store *registry.Store, opts FollowOptions) (dbconn.Conn, dbconn.Conn, error) {
	timeout := opts.ResponseTimeout
	if timeout <= 0 {
		timeout = DefaultPromoteTimeout
	}

	for {
		if !dbconn.IsAlive(ctx, local, timeout) {
			f.log.Warn("local node not responding; re-establishing connection")
			conninfo := local.ConnInfo()
			local.Close(ctx)

			fresh, err := f.dial(ctx, conninfo)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to re-establish local connection: %w", err)
			}
			local = fresh
		}

		primary, _, err := topology.LocatePrimary(ctx, store, f.dial)
		if err == nil {
			return primary, local, nil
		}
		if !errors.Is(err, topology.ErrNoPrimaryFound) || !opts.WaitForever {
			return nil, nil, err
		}

		f.log.Info("no primary found yet; waiting")
		f.Sleep(f.DiscoveryInterval)
	}
}

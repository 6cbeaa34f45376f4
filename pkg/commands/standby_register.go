package commands

import (
	"context"
	"fmt"

	"github.com/dd0wney/cluso-replmgr/pkg/compat"
	"github.com/dd0wney/cluso-replmgr/pkg/logging"
	"github.com/dd0wney/cluso-replmgr/pkg/registry"
	"github.com/dd0wney/cluso-replmgr/pkg/topology"
)

// StandbyRegister records the local standby in the primary's registry.
// The record is written through the primary's connection, never the
// standby's own copy.
func (r *Runner) StandbyRegister(ctx context.Context) error {
	if err := r.Cfg.RequireNode(); err != nil {
		return err
	}

	conn, err := r.connectLocal(ctx)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)

	standbyVersion, standbyVersionStr, err := r.checkVersion(ctx, conn, "standby")
	if err != nil {
		return err
	}

	localStore := r.store(conn)
	exists, err := localStore.SchemaExists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s (register the master first)",
			registry.ErrSchemaMissing, r.Cfg.SchemaName())
	}

	if status := topology.Probe(ctx, conn); status != topology.StatusStandby {
		return fmt.Errorf("%w: node reports %s", ErrNodeNotStandby, status)
	}

	primary, _, err := topology.LocatePrimary(ctx, localStore, r.Dial)
	if err != nil {
		return err
	}
	defer primary.Close(ctx)

	primaryVersion, primaryVersionStr, err := r.checkVersion(ctx, primary, "master")
	if err != nil {
		return err
	}
	if err := compat.CheckMajorVersionsMatch(
		primaryVersion, primaryVersionStr, standbyVersion, standbyVersionStr); err != nil {
		return err
	}

	primaryStore := r.store(primary)
	if r.Runtime.Force {
		if err := primaryStore.DeleteNodeRecord(ctx, r.Cfg.NodeID); err != nil {
			return err
		}
	}

	if err := primaryStore.CreateNodeRecord(ctx, r.nodeRecord(registry.RoleStandby)); err != nil {
		return err
	}

	r.Log.Info("standby registered",
		logging.Cluster(r.Cfg.ClusterName), logging.Node(r.Cfg.NodeID))
	return nil
}

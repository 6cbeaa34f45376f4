package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/dd0wney/cluso-replmgr/pkg/logging"
	"github.com/dd0wney/cluso-replmgr/pkg/registry"
	"github.com/dd0wney/cluso-replmgr/pkg/topology"
)

// MasterRegister records the local node as the cluster's primary,
// creating the registry schema on first use.
func (r *Runner) MasterRegister(ctx context.Context) error {
	if err := r.Cfg.RequireNode(); err != nil {
		return err
	}

	conn, err := r.connectLocal(ctx)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)

	if _, _, err := r.checkVersion(ctx, conn, "master"); err != nil {
		return err
	}

	if status := topology.Probe(ctx, conn); status != topology.StatusPrimary {
		return fmt.Errorf("%w: node reports %s", ErrNodeNotPrimary, status)
	}

	store := r.store(conn)

	exists, err := store.SchemaExists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		if err := store.CreateSchema(ctx); err != nil {
			return err
		}
		r.Log.Info("registry schema created",
			logging.String("schema", r.Cfg.SchemaName()))
	}

	if r.Runtime.Force {
		if err := store.DeleteNodeRecord(ctx, r.Cfg.NodeID); err != nil {
			return err
		}
	}

	if id, err := store.PrimaryNodeID(ctx); err == nil {
		return fmt.Errorf("%w: node %d", registry.ErrPrimaryExists, id)
	} else if !errors.Is(err, registry.ErrNoPrimaryRecord) {
		return err
	}

	if err := store.CreateNodeRecord(ctx, r.nodeRecord(registry.RolePrimary)); err != nil {
		return err
	}

	r.Log.Info("master registered",
		logging.Cluster(r.Cfg.ClusterName), logging.Node(r.Cfg.NodeID))
	return nil
}

package commands

import (
	"context"
	"errors"

	"github.com/dd0wney/cluso-replmgr/pkg/logging"
	"github.com/dd0wney/cluso-replmgr/pkg/promote"
)

// StandbyPromote turns the local standby into the cluster's primary.
func (r *Runner) StandbyPromote(ctx context.Context) error {
	if err := r.Cfg.RequireNode(); err != nil {
		return err
	}

	conn, err := r.connectLocal(ctx)
	if err != nil {
		return err
	}

	if _, _, err := r.checkVersion(ctx, conn, "standby"); err != nil {
		conn.Close(ctx)
		return err
	}

	// The controller owns the connection from here: it closes it on
	// refusal or before the promote signal, and re-dials to confirm the
	// new role.
	controller := promote.NewController(r.Log, r.Dial, r.Tools.Service)
	if err := controller.Promote(ctx, conn, r.store(conn)); err != nil {
		if errors.Is(err, promote.ErrPromoteTimeout) {
			// The signal was delivered; the node may still finish the
			// promotion on its own. Not treated as a hard failure.
			r.Log.Warn("promotion not confirmed before timeout", logging.Error(err))
			return nil
		}
		return err
	}

	r.Log.Info("standby promoted",
		logging.Cluster(r.Cfg.ClusterName), logging.Node(r.Cfg.NodeID))
	return nil
}

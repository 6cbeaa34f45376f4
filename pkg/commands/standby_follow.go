package commands

import (
	"context"

	"github.com/dd0wney/cluso-replmgr/pkg/logging"
	"github.com/dd0wney/cluso-replmgr/pkg/promote"
	"github.com/dd0wney/cluso-replmgr/pkg/recoveryconf"
)

// StandbyFollow re-points the local standby at the cluster's current
// primary, typically after a failover promoted a sibling.
func (r *Runner) StandbyFollow(ctx context.Context) error {
	if err := r.Cfg.RequireNode(); err != nil {
		return err
	}

	conn, err := r.connectLocal(ctx)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)

	if _, _, err := r.checkVersion(ctx, conn, "standby"); err != nil {
		return err
	}

	follower := promote.NewFollower(r.Log, r.Dial, r.Tools.Service)
	opts := promote.FollowOptions{
		WaitForever:     r.Runtime.Wait,
		ResponseTimeout: r.Cfg.MasterResponseTimeout,
		Recovery: recoveryconf.Settings{
			ApplicationName:       r.Cfg.NodeName,
			SlotName:              r.Cfg.SlotName(),
			MinRecoveryApplyDelay: r.Runtime.MinRecoveryApplyDelay,
		},
	}

	if err := follower.Follow(ctx, conn, r.store(conn), opts); err != nil {
		return err
	}

	r.Log.Info("standby now following current primary",
		logging.Cluster(r.Cfg.ClusterName), logging.Node(r.Cfg.NodeID))
	return nil
}

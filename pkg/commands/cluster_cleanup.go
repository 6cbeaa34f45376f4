package commands

import (
	"context"

	"github.com/dd0wney/cluso-replmgr/pkg/logging"
)

// ClusterCleanup purges monitoring history, keeping the configured number
// of days. Zero days removes everything. The table is vacuumed afterwards
// to return the space.
func (r *Runner) ClusterCleanup(ctx context.Context) error {
	conn, err := r.connectSource(ctx)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)

	if err := r.store(conn).PurgeMonitorHistory(ctx, r.Runtime.KeepHistoryDays); err != nil {
		return err
	}

	r.Log.Info("monitoring history purged",
		logging.Cluster(r.Cfg.ClusterName),
		logging.Int("keep_days", r.Runtime.KeepHistoryDays))
	return nil
}

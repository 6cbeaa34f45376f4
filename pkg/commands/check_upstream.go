package commands

import (
	"context"
	"fmt"

	"github.com/dd0wney/cluso-replmgr/pkg/compat"
)

// CheckUpstreamConfig validates a server's settings for use as a
// replication upstream and prints every problem found. Intended for
// running against a prospective source before a clone.
func (r *Runner) CheckUpstreamConfig(ctx context.Context) error {
	conn, err := r.connectSource(ctx)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)

	versionNum, _, err := r.checkVersion(ctx, conn, "master")
	if err != nil {
		return err
	}

	problems := compat.CheckUpstreamConfig(ctx, conn, versionNum, compat.UpstreamCheckOptions{
		UseReplicationSlots:  r.Cfg.UseReplicationSlots,
		WALKeepSegmentsFloor: r.Cfg.WALKeepSegments,
	})

	if len(problems) == 0 {
		r.printf("upstream configuration suitable for replication\n")
		return nil
	}

	for _, p := range problems {
		r.printf("%s\n", p)
	}
	return fmt.Errorf("%w: %d problem(s) found", ErrUpstreamUnsuitable, len(problems))
}

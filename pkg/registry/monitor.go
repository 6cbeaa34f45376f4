package registry

import (
	"context"
	"fmt"
)

// PurgeMonitorHistory prunes the monitoring time-series. With keepDays > 0
// only samples older than that many days are deleted; otherwise the whole
// table is truncated. The table is vacuumed afterwards so autovacuum does
// not pick its own moment for it.
func (s *Store) PurgeMonitorHistory(ctx context.Context, keepDays int) error {
	schema := s.quotedSchema()

	if keepDays > 0 {
		query := fmt.Sprintf(`DELETE FROM %s.repl_monitor
 WHERE age(now(), last_monitor_time) >= ($1::text || ' days')::interval`, schema)

		if _, err := s.db.Exec(ctx, query, keepDays); err != nil {
			return fmt.Errorf("failed to prune monitor history: %w", err)
		}
	} else {
		query := fmt.Sprintf("TRUNCATE TABLE %s.repl_monitor", schema)

		if _, err := s.db.Exec(ctx, query); err != nil {
			return fmt.Errorf("failed to truncate monitor history: %w", err)
		}
	}

	vacuum := fmt.Sprintf("VACUUM %s.repl_monitor", schema)
	if _, err := s.db.Exec(ctx, vacuum); err != nil {
		return fmt.Errorf("failed to vacuum monitor history: %w", err)
	}

	return nil
}

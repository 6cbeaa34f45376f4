// Package promote holds the controllers that change a standby's upstream
// relationship: promotion to primary, and re-pointing at a new primary
// after a failover.
package promote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dd0wney/cluso-replmgr/pkg/dbconn"
	"github.com/dd0wney/cluso-replmgr/pkg/logging"
	"github.com/dd0wney/cluso-replmgr/pkg/pgtools"
	"github.com/dd0wney/cluso-replmgr/pkg/registry"
	"github.com/dd0wney/cluso-replmgr/pkg/topology"
)

const (
	// DefaultPollInterval is how often the controller re-probes the node
	// after sending the promote signal.
	DefaultPollInterval = 2 * time.Second
	// DefaultPromoteTimeout bounds the whole confirmation wait.
	DefaultPromoteTimeout = 60 * time.Second
)

// Controller drives promotion of the local standby.
type Controller struct {
	log     logging.Logger
	dial    dbconn.Dialer
	service pgtools.ServiceControl

	PollInterval   time.Duration
	PromoteTimeout time.Duration

	// Sleep is replaceable for tests.
	Sleep func(time.Duration)
}

// NewController returns a promotion controller with default timings.
func NewController(log logging.Logger, dial dbconn.Dialer, service pgtools.ServiceControl) *Controller {
	return &Controller{
		log:            log,
		dial:           dial,
		service:        service,
		PollInterval:   DefaultPollInterval,
		PromoteTimeout: DefaultPromoteTimeout,
		Sleep:          time.Sleep,
	}
}

// Promote turns the local standby into a primary. It refuses to act while
// any registered node still answers as primary, sends the promote signal,
// then polls the node until it reports primary or the timeout lapses. The
// controller owns the local connection: it is closed on refusal as well as
// before the promote signal.
func (c *Controller) Promote(ctx context.Context, local dbconn.Conn, store *registry.Store) error {
	dataDir, err := c.preflight(ctx, local, store)
	if err != nil {
		local.Close(ctx)
		return err
	}

	conninfo := local.ConnInfo()
	local.Close(ctx)

	c.log.Info("promoting standby", logging.String("data_dir", dataDir))
	if err := c.service.Promote(ctx, dataDir); err != nil {
		return fmt.Errorf("promote signal failed: %w", err)
	}

	return c.awaitPromotion(ctx, conninfo)
}

// preflight verifies the node is a standby with no reachable primary left
// in the cluster, and resolves the data directory the promote signal
// targets.
func (c *Controller) preflight(ctx context.Context, local dbconn.Conn, store *registry.Store) (string, error) {
	if status := topology.Probe(ctx, local); status != topology.StatusStandby {
		return "", fmt.Errorf("%w: node reports %s", ErrNotStandby, status)
	}

	primaryConn, rec, err := topology.LocatePrimary(ctx, store, c.dial)
	switch {
	case err == nil:
		primaryConn.Close(ctx)
		return "", fmt.Errorf("%w: node %d", ErrPrimaryStillActive, rec.ID)
	case errors.Is(err, topology.ErrMultiplePrimaries):
		return "", err
	case errors.Is(err, topology.ErrNoPrimaryFound):
		// The cluster has no primary; promotion may proceed.
	default:
		return "", err
	}

	return dbconn.ShowSetting(ctx, local, "data_directory")
}

// awaitPromotion polls the node's recovery status until it reports
// primary. Connection failures during the wait are expected while the
// server restarts; a live connection that cannot answer is not.
func (c *Controller) awaitPromotion(ctx context.Context, conninfo string) error {
	deadline := time.Now().Add(c.PromoteTimeout)

	for time.Now().Before(deadline) {
		c.Sleep(c.PollInterval)

		conn, err := c.dial(ctx, conninfo)
		if err != nil {
			c.log.Debug("node not yet answering after promote signal")
			continue
		}

		status := topology.Probe(ctx, conn)
		conn.Close(ctx)

		switch status {
		case topology.StatusPrimary:
			c.log.Info("promotion complete; node now reports primary")
			return nil
		case topology.StatusStandby:
			c.log.Debug("node still reports standby")
		case topology.StatusUnreachable:
			return fmt.Errorf("%w while confirming promotion", ErrNodeUnreachable)
		}
	}

	return fmt.Errorf("%w after %s", ErrPromoteTimeout, c.PromoteTimeout)
}

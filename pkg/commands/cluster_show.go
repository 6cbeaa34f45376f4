package commands

import (
	"context"

	"github.com/charmbracelet/lipgloss"

	"github.com/dd0wney/cluso-replmgr/pkg/registry"
	"github.com/dd0wney/cluso-replmgr/pkg/topology"
)

// Styles for the cluster show role column
var (
	primaryStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#00FF00"))

	standbyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#00FFFF"))

	witnessStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))

	failedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF0000")).
			Bold(true)
)

// ClusterShow probes every registered node and prints its live role next
// to its connection string. The role column reflects what each node
// reports right now, not what the registry believes.
func (r *Runner) ClusterShow(ctx context.Context) error {
	conn, err := r.connectSource(ctx)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)

	records, err := r.store(conn).ListNodes(ctx)
	if err != nil {
		return err
	}

	names := make(map[int]string, len(records))
	for _, rec := range records {
		names[rec.ID] = rec.Name
	}

	r.printf("Role      | Name    | Upstream | Connection String\n")
	r.printf("----------+---------+----------+------------------\n")

	for _, rec := range records {
		r.printf("%s | %s | %s | %s\n",
			r.liveRole(ctx, rec), rec.Name, names[rec.UpstreamNodeID], rec.ConnInfo)
	}

	return nil
}

func (r *Runner) liveRole(ctx context.Context, rec registry.NodeRecord) string {
	conn, err := r.Dial(ctx, rec.ConnInfo)
	if err != nil {
		return failedStyle.Render("  FAILED")
	}
	defer conn.Close(ctx)

	status := topology.Probe(ctx, conn)
	if status == topology.StatusUnreachable {
		return failedStyle.Render("  FAILED")
	}

	// A witness answers as the primary of its own little instance; its
	// registered role is the truthful one.
	if rec.Role == registry.RoleWitness {
		return witnessStyle.Render("  witness")
	}

	if status == topology.StatusPrimary {
		return primaryStyle.Render("* master")
	}
	return standbyStyle.Render("  standby")
}

package commands

import (
	"context"
	"fmt"

	"github.com/dd0wney/cluso-replmgr/pkg/dbconn"
	"github.com/dd0wney/cluso-replmgr/pkg/logging"
	"github.com/dd0wney/cluso-replmgr/pkg/registry"
	"github.com/dd0wney/cluso-replmgr/pkg/topology"
	"github.com/dd0wney/cluso-replmgr/pkg/witness"
)

// WitnessCreate bootstraps a witness instance and registers it with the
// primary named on the command line.
func (r *Runner) WitnessCreate(ctx context.Context) error {
	if err := r.Cfg.RequireNode(); err != nil {
		return err
	}
	if r.Runtime.Host == "" {
		return fmt.Errorf("%w for witness create", ErrHostRequired)
	}

	primary, err := r.Dial(ctx, r.Runtime.Params().ConnInfo())
	if err != nil {
		return err
	}
	defer primary.Close(ctx)

	if _, _, err := r.checkVersion(ctx, primary, "master"); err != nil {
		return err
	}

	if status := topology.Probe(ctx, primary); status != topology.StatusPrimary {
		return fmt.Errorf("%w: node reports %s", ErrNodeNotPrimary, status)
	}

	port := r.Runtime.LocalPort
	if port == "" {
		port = witness.DefaultPort
	}

	adminUser := r.Runtime.Superuser
	if adminUser == "" {
		adminUser = witness.DefaultAdminUser
	}

	adminParams := dbconn.Params{
		Host:   "localhost",
		Port:   port,
		User:   adminUser,
		DBName: "postgres",
	}
	operatingParams := dbconn.Params{
		Host:   "localhost",
		Port:   port,
		User:   r.Runtime.User,
		DBName: r.Runtime.DBName,
	}

	boot := witness.NewBootstrapper(r.Log, r.Tools, r.Dial)
	opts := witness.Options{
		DataDir:            r.Runtime.DestDir,
		Port:               port,
		Force:              r.Runtime.Force,
		User:               r.Runtime.User,
		DBName:             r.Runtime.DBName,
		AdminUser:          adminUser,
		SkipPasswordPrompt: r.Runtime.SkipPasswordPrompt,
		RemoteUser:         r.Runtime.RemoteUser,
		AdminConnInfo:      adminParams.ConnInfo(),
		OperatingConnInfo:  operatingParams.ConnInfo(),
	}

	rec := r.nodeRecord(registry.RoleWitness)
	rec.Priority = 0
	if rec.ConnInfo == "" {
		rec.ConnInfo = operatingParams.ConnInfo()
	}
	rec.SlotName = ""

	if err := boot.Create(ctx, primary, r.store(primary), rec, opts); err != nil {
		return err
	}

	r.Log.Info("witness created",
		logging.Cluster(r.Cfg.ClusterName), logging.Node(r.Cfg.NodeID))
	return nil
}

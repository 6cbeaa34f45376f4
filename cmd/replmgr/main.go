package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/dd0wney/cluso-replmgr/pkg/commands"
	"github.com/dd0wney/cluso-replmgr/pkg/compat"
	"github.com/dd0wney/cluso-replmgr/pkg/config"
	"github.com/dd0wney/cluso-replmgr/pkg/dbconn"
	"github.com/dd0wney/cluso-replmgr/pkg/logging"
	"github.com/dd0wney/cluso-replmgr/pkg/pgtools"
	"github.com/dd0wney/cluso-replmgr/pkg/promote"
	"github.com/dd0wney/cluso-replmgr/pkg/provision"
	"github.com/dd0wney/cluso-replmgr/pkg/recoveryconf"
	"github.com/dd0wney/cluso-replmgr/pkg/registry"
	"github.com/dd0wney/cluso-replmgr/pkg/topology"
)

const defaultConfigPath = "./replmgr.conf"

// Exit codes, grouped by failure family.
const (
	exitOK         = 0
	exitConfig     = 1
	exitConnection = 2
	exitQuery      = 3
	exitVersion    = 4
	exitTool       = 5
	exitCredential = 6
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	words, flagArgs, positional := splitCommandWords(args)

	fs := flag.NewFlagSet("replmgr", flag.ContinueOnError)
	fs.Usage = printUsage

	var (
		host       = fs.String("h", "", "source server host")
		port       = fs.String("p", "", "source server port")
		user       = fs.String("U", "", "source server user")
		dbname     = fs.String("d", "", "source database name")
		destDir    = fs.String("D", "", "destination data directory")
		configPath = fs.String("f", defaultConfigPath, "configuration file")
		remoteUser = fs.String("R", "", "remote user for file copies")
		localPort  = fs.String("l", "", "witness listen port")
		superuser  = fs.String("S", "", "administrative account for witness create")
		applyDelay = fs.String("r", "", "minimum recovery apply delay, e.g. 5min")
		force      = fs.Bool("F", false, "overwrite existing directories and records")
		wait       = fs.Bool("W", false, "wait for a primary to appear (standby follow)")
		keepDays   = fs.Int("k", 0, "days of monitoring history to keep (cluster cleanup)")
		verbose    = fs.Bool("verbose", false, "verbose diagnostic output")

		noPWPrompt = fs.Bool("initdb-no-pwprompt", false,
			"do not prompt for a password when initializing the witness instance")

		checkUpstream = fs.Bool("check-upstream-config", false,
			"validate a server's settings for use as a replication upstream")
	)

	if err := fs.Parse(flagArgs); err != nil {
		return exitConfig
	}

	action, err := resolveAction(words, *checkUpstream)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n\n", err)
		printUsage()
		return exitConfig
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, config.ErrConfigNotFound) {
			if *configPath != defaultConfigPath {
				fmt.Fprintf(os.Stderr, "configuration file %s not found\n", *configPath)
				return exitConfig
			}
			// The default path is optional; defaults apply.
		} else {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return exitConfig
		}
	}

	log := newLogger(cfg, *verbose)

	runtime := commands.RuntimeOptions{
		Host:                  *host,
		Port:                  *port,
		User:                  *user,
		DBName:                *dbname,
		DestDir:               *destDir,
		Force:                 *force,
		Wait:                  *wait,
		KeepHistoryDays:       *keepDays,
		RemoteUser:            *remoteUser,
		LocalPort:             *localPort,
		Superuser:             *superuser,
		SkipPasswordPrompt:    *noPWPrompt,
		MinRecoveryApplyDelay: *applyDelay,
	}

	if err := applyPositional(action, positional, &runtime); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitConfig
	}

	if err := checkActionParams(action, runtime); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitConfig
	}

	runner := &commands.Runner{
		Cfg:     cfg,
		Runtime: runtime,
		Log:     log,
		Dial:    dbconn.Connect,
		Tools: pgtools.NewShellTools(pgtools.ShellOptions{
			BinDir:            cfg.PGBinDir,
			PGCtlOptions:      cfg.PGCtlOptions,
			BasebackupOptions: cfg.BasebackupOptions,
			RsyncOptions:      cfg.RsyncOptions,
			SSHOptions:        cfg.SSHOptions,
		}),
		Out: os.Stdout,
	}

	if err := dispatch(context.Background(), runner, action); err != nil {
		log.Error("command failed",
			logging.String("action", string(action)), logging.Error(err))
		return exitCode(err)
	}
	return exitOK
}

type action string

const (
	actionMasterRegister  action = "master register"
	actionStandbyRegister action = "standby register"
	actionStandbyClone    action = "standby clone"
	actionStandbyPromote  action = "standby promote"
	actionStandbyFollow   action = "standby follow"
	actionWitnessCreate   action = "witness create"
	actionClusterShow     action = "cluster show"
	actionClusterCleanup  action = "cluster cleanup"
	actionCheckUpstream   action = "check upstream config"
)

// valueFlags mirrors the flag set's value-taking flags so the scanner
// never mistakes a flag's value for a command word.
var valueFlags = map[string]bool{
	"h": true, "p": true, "U": true, "d": true, "D": true,
	"f": true, "R": true, "l": true, "k": true, "r": true, "S": true,
}

// splitCommandWords separates the command words from the flag arguments so
// flags may appear on either side of the command, getopt style. The first
// two bare tokens form the command; any further bare token is positional.
func splitCommandWords(args []string) (words, flagArgs, positional []string) {
	for i := 0; i < len(args); i++ {
		arg := args[i]

		if strings.HasPrefix(arg, "-") {
			flagArgs = append(flagArgs, arg)
			if valueFlags[strings.TrimLeft(arg, "-")] && i+1 < len(args) {
				i++
				flagArgs = append(flagArgs, args[i])
			}
			continue
		}

		if len(words) < 2 {
			words = append(words, arg)
		} else {
			positional = append(positional, arg)
		}
	}
	return words, flagArgs, positional
}

// applyPositional maps a trailing bare argument onto the one action that
// accepts it: standby clone takes the source host positionally.
func applyPositional(a action, positional []string, opts *commands.RuntimeOptions) error {
	if len(positional) == 0 {
		return nil
	}
	if a == actionStandbyClone && len(positional) == 1 {
		if opts.Host != "" {
			return fmt.Errorf("source host given both via -h and as an argument")
		}
		opts.Host = positional[0]
		return nil
	}
	return fmt.Errorf("unexpected arguments: %s", strings.Join(positional, " "))
}

func resolveAction(words []string, checkUpstream bool) (action, error) {
	if checkUpstream {
		if len(words) != 0 {
			return "", fmt.Errorf("--check-upstream-config takes no command")
		}
		return actionCheckUpstream, nil
	}

	if len(words) != 2 {
		return "", fmt.Errorf("expected a two-word command, e.g. \"standby register\"")
	}

	cmd := action(words[0] + " " + words[1])
	switch cmd {
	case actionMasterRegister, actionStandbyRegister, actionStandbyClone,
		actionStandbyPromote, actionStandbyFollow, actionWitnessCreate,
		actionClusterShow, actionClusterCleanup:
		return cmd, nil
	}
	return "", fmt.Errorf("unknown command: %s %s", words[0], words[1])
}

// checkActionParams enforces which connection flags each action accepts.
// Register, promote and follow always act on the locally configured node,
// so naming a remote server there is a mistake worth refusing.
func checkActionParams(a action, opts commands.RuntimeOptions) error {
	switch a {
	case actionMasterRegister, actionStandbyRegister, actionStandbyPromote, actionStandbyFollow:
		if opts.Host != "" || opts.Port != "" || opts.User != "" || opts.DBName != "" {
			return fmt.Errorf("%s acts on the configured local node; -h/-p/-U/-d cannot be used", a)
		}
	}
	return nil
}

func dispatch(ctx context.Context, r *commands.Runner, a action) error {
	switch a {
	case actionMasterRegister:
		return r.MasterRegister(ctx)
	case actionStandbyRegister:
		return r.StandbyRegister(ctx)
	case actionStandbyClone:
		return r.StandbyClone(ctx)
	case actionStandbyPromote:
		return r.StandbyPromote(ctx)
	case actionStandbyFollow:
		return r.StandbyFollow(ctx)
	case actionWitnessCreate:
		return r.WitnessCreate(ctx)
	case actionClusterShow:
		return r.ClusterShow(ctx)
	case actionClusterCleanup:
		return r.ClusterCleanup(ctx)
	case actionCheckUpstream:
		return r.CheckUpstreamConfig(ctx)
	}
	return fmt.Errorf("unknown action: %s", a)
}

func newLogger(cfg *config.Config, verbose bool) logging.Logger {
	level := logging.ParseLevel(cfg.LogLevel)
	if verbose {
		level = logging.DebugLevel
	}

	return logging.NewJSONLogger(os.Stderr, level).
		With(logging.String("command_id", uuid.NewString()))
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, config.ErrConfigNotFound),
		errors.Is(err, config.ErrNodeIDMissing),
		errors.Is(err, commands.ErrHostRequired):
		return exitConfig

	case errors.Is(err, dbconn.ErrConnectionFailed),
		errors.Is(err, promote.ErrNodeUnreachable),
		errors.Is(err, topology.ErrNoPrimaryFound):
		return exitConnection

	case errors.Is(err, compat.ErrUnsupportedVersion),
		errors.Is(err, compat.ErrVersionMismatch),
		errors.Is(err, commands.ErrUpstreamUnsuitable):
		return exitVersion

	case errors.Is(err, promote.ErrRestartFailed),
		errors.Is(err, provision.ErrConfigCopyFailed),
		errors.Is(err, provision.ErrDestDirOccupied),
		errors.Is(err, provision.ErrRemapsUnsupported):
		return exitTool

	case errors.Is(err, recoveryconf.ErrPasswordRequired):
		return exitCredential

	case errors.Is(err, registry.ErrSchemaExists),
		errors.Is(err, registry.ErrSchemaMissing),
		errors.Is(err, registry.ErrPrimaryExists):
		return exitQuery
	}
	return exitQuery
}

func printUsage() {
	usage := `replmgr - replication cluster manager

Usage:
  replmgr [options] master  register
  replmgr [options] standby {register|clone [host]|promote|follow}
  replmgr [options] witness create
  replmgr [options] cluster {show|cleanup}
  replmgr [options] --check-upstream-config

Options:
  -d NAME     database name (clone, witness, cluster commands)
  -h HOST     source server host (clone, witness, cluster commands)
  -p PORT     source server port
  -U NAME     source server user
  -D DIR      destination data directory (clone, witness create)
  -f FILE     configuration file (default ./replmgr.conf)
  -R NAME     remote user for file copies
  -l PORT     witness listen port (default 5499)
  -S NAME     administrative account for witness create (default postgres)
  -r DELAY    minimum recovery apply delay, e.g. 5min (clone, follow)
  -F          force: overwrite existing directories and records
  -W          wait for a primary to appear (standby follow)
  -k DAYS     days of monitoring history to keep (cluster cleanup)
  --initdb-no-pwprompt
              do not prompt for a password when initializing the witness
  --verbose   verbose diagnostic output

Examples:
  # Register the primary node
  replmgr -f /etc/replmgr.conf master register

  # Clone a standby from the primary
  replmgr -D /var/lib/pgsql/standby -d repmgr -U repmgr -h db1 standby clone

  # Promote this standby after the primary fails
  replmgr -f /etc/replmgr.conf standby promote
`
	fmt.Print(usage)
}

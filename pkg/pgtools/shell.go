package pgtools

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
)

// ShellOptions configure the shell-backed tool implementations from the
// cluster configuration file.
type ShellOptions struct {
	// BinDir locates pg_basebackup and pg_ctl; empty means PATH lookup.
	BinDir string
	// PGCtlOptions, BasebackupOptions, RsyncOptions and SSHOptions are
	// spliced verbatim into the respective command lines.
	PGCtlOptions      string
	BasebackupOptions string
	RsyncOptions      string
	SSHOptions        string
}

// NewShellTools returns shell-backed implementations of all capabilities.
func NewShellTools(opts ShellOptions) Tools {
	return Tools{
		Snapshot: &shellSnapshot{opts: opts},
		Service:  &shellServiceControl{opts: opts},
		Copy:     &shellSecureCopy{opts: opts},
		Probe:    &shellProbe{opts: opts},
	}
}

func (o ShellOptions) binPath(tool string) string {
	if o.BinDir == "" {
		return tool
	}
	return filepath.Join(o.BinDir, tool)
}

// runShell executes a command line through the shell, since the configured
// option strings are free-form fragments rather than argument vectors.
func runShell(ctx context.Context, cmdline string) error {
	out, err := exec.CommandContext(ctx, "sh", "-c", cmdline).CombinedOutput()
	if err != nil {
		return fmt.Errorf("command %q failed: %w (output: %s)",
			cmdline, err, strings.TrimSpace(string(out)))
	}
	return nil
}

type shellSnapshot struct {
	opts ShellOptions
}

func (s *shellSnapshot) Run(ctx context.Context, opts SnapshotOptions) error {
	var args []string

	if opts.Host != "" {
		args = append(args, "-h "+opts.Host)
	}
	if opts.Port != "" {
		args = append(args, "-p "+opts.Port)
	}
	if opts.User != "" {
		args = append(args, "-U "+opts.User)
	}
	if opts.DestDir != "" {
		args = append(args, "-D "+opts.DestDir)
	}
	for _, remap := range opts.Remaps {
		args = append(args, fmt.Sprintf("-T %s=%s", remap.OldDir, remap.NewDir))
	}

	cmdline := fmt.Sprintf("%s -l %q %s %s",
		s.opts.binPath("pg_basebackup"), opts.Label,
		strings.Join(args, " "), s.opts.BasebackupOptions)

	return runShell(ctx, cmdline)
}

type shellServiceControl struct {
	opts ShellOptions
}

func (s *shellServiceControl) pgctl(ctx context.Context, dataDir, subcmd string) error {
	cmdline := fmt.Sprintf("%s %s -w -D %s %s",
		s.opts.binPath("pg_ctl"), s.opts.PGCtlOptions, dataDir, subcmd)
	return runShell(ctx, cmdline)
}

func (s *shellServiceControl) Init(ctx context.Context, dataDir string, opts InitOptions) error {
	superuser := opts.Superuser
	if superuser == "" {
		superuser = "postgres"
	}

	passwordFlag := "-W "
	if opts.SkipPasswordPrompt {
		passwordFlag = ""
	}

	cmdline := fmt.Sprintf("%s %s -D %s init -o \"%s-U %s\"",
		s.opts.binPath("pg_ctl"), s.opts.PGCtlOptions, dataDir, passwordFlag, superuser)
	return runShell(ctx, cmdline)
}

func (s *shellServiceControl) Start(ctx context.Context, dataDir string) error {
	return s.pgctl(ctx, dataDir, "start")
}

func (s *shellServiceControl) Stop(ctx context.Context, dataDir string) error {
	return s.pgctl(ctx, dataDir, "-m fast stop")
}

func (s *shellServiceControl) Restart(ctx context.Context, dataDir string) error {
	return s.pgctl(ctx, dataDir, "-m fast restart")
}

func (s *shellServiceControl) Reload(ctx context.Context, dataDir string) error {
	return s.pgctl(ctx, dataDir, "reload")
}

// Promote deliberately skips -w: pg_ctl promote returns immediately and
// the promotion controller polls for the role change itself.
func (s *shellServiceControl) Promote(ctx context.Context, dataDir string) error {
	cmdline := fmt.Sprintf("%s %s -D %s promote",
		s.opts.binPath("pg_ctl"), s.opts.PGCtlOptions, dataDir)
	return runShell(ctx, cmdline)
}

type shellSecureCopy struct {
	opts ShellOptions
}

func (s *shellSecureCopy) Copy(ctx context.Context, host, remoteUser, remotePath, localPath string, del bool) error {
	flags := s.opts.RsyncOptions
	if flags == "" {
		flags = "--archive --checksum --compress --rsh=ssh"
	}
	if del {
		flags += " --delete"
	}

	hostString := host
	if remoteUser != "" {
		hostString = remoteUser + "@" + host
	}

	cmdline := fmt.Sprintf("rsync %s %s:%s %s", flags, hostString, remotePath, localPath)
	return runShell(ctx, cmdline)
}

type shellProbe struct {
	opts ShellOptions
}

func (s *shellProbe) Check(ctx context.Context, host, remoteUser string) error {
	userFlag := ""
	if remoteUser != "" {
		userFlag = "-l " + remoteUser + " "
	}

	cmdline := fmt.Sprintf("ssh -o Batchmode=yes %s %s %strue",
		s.opts.SSHOptions, host, userFlag)

	if err := runShell(ctx, cmdline); err != nil {
		return fmt.Errorf("remote host %s is not reachable: %w", host, err)
	}
	return nil
}

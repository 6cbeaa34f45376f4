// Package pgtoolstest provides recording fakes for the external tool
// capabilities, for exercising control flow without shelling out.
package pgtoolstest

import (
	"context"
	"fmt"

	"github.com/dd0wney/cluso-replmgr/pkg/pgtools"
)

// FakeSnapshot records snapshot requests and optionally fails them.
type FakeSnapshot struct {
	Calls []pgtools.SnapshotOptions
	Err   error
}

func (f *FakeSnapshot) Run(_ context.Context, opts pgtools.SnapshotOptions) error {
	f.Calls = append(f.Calls, opts)
	return f.Err
}

// ServiceCall records one service control invocation.
type ServiceCall struct {
	Action  string
	DataDir string
}

// FakeServiceControl records service actions, with per-action errors.
type FakeServiceControl struct {
	Calls     []ServiceCall
	InitCalls []pgtools.InitOptions
	Errs      map[string]error
}

func (f *FakeServiceControl) record(action, dataDir string) error {
	f.Calls = append(f.Calls, ServiceCall{Action: action, DataDir: dataDir})
	return f.Errs[action]
}

func (f *FakeServiceControl) Init(_ context.Context, dataDir string, opts pgtools.InitOptions) error {
	f.InitCalls = append(f.InitCalls, opts)
	return f.record("init", dataDir)
}

func (f *FakeServiceControl) Start(_ context.Context, dataDir string) error {
	return f.record("start", dataDir)
}

func (f *FakeServiceControl) Stop(_ context.Context, dataDir string) error {
	return f.record("stop", dataDir)
}

func (f *FakeServiceControl) Restart(_ context.Context, dataDir string) error {
	return f.record("restart", dataDir)
}

func (f *FakeServiceControl) Reload(_ context.Context, dataDir string) error {
	return f.record("reload", dataDir)
}

func (f *FakeServiceControl) Promote(_ context.Context, dataDir string) error {
	return f.record("promote", dataDir)
}

// Actions returns the recorded action names in call order.
func (f *FakeServiceControl) Actions() []string {
	var actions []string
	for _, c := range f.Calls {
		actions = append(actions, c.Action)
	}
	return actions
}

// CopyCall records one secure copy invocation.
type CopyCall struct {
	Host       string
	RemoteUser string
	RemotePath string
	LocalPath  string
	Delete     bool
}

// FakeSecureCopy records copies; FailOn fails the copy of one remote path.
type FakeSecureCopy struct {
	Calls  []CopyCall
	FailOn string
}

func (f *FakeSecureCopy) Copy(_ context.Context, host, remoteUser, remotePath, localPath string, del bool) error {
	f.Calls = append(f.Calls, CopyCall{
		Host:       host,
		RemoteUser: remoteUser,
		RemotePath: remotePath,
		LocalPath:  localPath,
		Delete:     del,
	})
	if f.FailOn != "" && remotePath == f.FailOn {
		return fmt.Errorf("copy of %s failed", remotePath)
	}
	return nil
}

// FakeProbe records connectivity checks and optionally fails them.
type FakeProbe struct {
	Hosts []string
	Err   error
}

func (f *FakeProbe) Check(_ context.Context, host, _ string) error {
	f.Hosts = append(f.Hosts, host)
	return f.Err
}

// NewTools returns a Tools bundle of fresh fakes.
func NewTools() (pgtools.Tools, *FakeSnapshot, *FakeServiceControl, *FakeSecureCopy, *FakeProbe) {
	snap := &FakeSnapshot{}
	svc := &FakeServiceControl{Errs: map[string]error{}}
	cp := &FakeSecureCopy{}
	probe := &FakeProbe{}

	tools := pgtools.Tools{
		Snapshot: snap,
		Service:  svc,
		Copy:     cp,
		Probe:    probe,
	}
	return tools, snap, svc, cp, probe
}

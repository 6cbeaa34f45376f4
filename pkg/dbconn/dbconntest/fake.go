// Package dbconntest provides hand-rolled fakes for the dbconn interfaces,
// used by tests across the repository in place of live servers.
package dbconntest

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dd0wney/cluso-replmgr/pkg/dbconn"
)

// QueryStub matches a query by SQL substring (and optionally by one of its
// arguments) and supplies its result rows.
type QueryStub struct {
	Match string
	Arg   any // when non-nil, one of the query arguments must equal it
	Rows  [][]any
	Err   error
	Once  bool // consumed after one match

	used bool
}

// ExecStub matches an Exec call by SQL substring and supplies its error.
type ExecStub struct {
	Match string
	Err   error
}

// FakeConn implements dbconn.Conn against scripted results.
type FakeConn struct {
	HostName string
	PortNum  uint16
	UserName string
	Info     string

	Stubs     []QueryStub
	ExecStubs []ExecStub

	ExecLog   []string
	ExecArgs  [][]any
	QueryLog  []string
	QueryArgs [][]any
	Closed    bool
}

// NewFakeConn returns a fake connection with the given identity.
func NewFakeConn(host string, port uint16, user string) *FakeConn {
	return &FakeConn{
		HostName: host,
		PortNum:  port,
		UserName: user,
		Info:     fmt.Sprintf("host=%s port=%d user=%s", host, port, user),
	}
}

// Stub registers result rows for queries containing the given substring.
func (f *FakeConn) Stub(match string, rows ...[]any) {
	f.Stubs = append(f.Stubs, QueryStub{Match: match, Rows: rows})
}

// StubOnce registers result rows consumed by a single matching query,
// letting later queries fall through to the next stub. Useful when a
// probe's answer changes over the life of a connection.
func (f *FakeConn) StubOnce(match string, rows ...[]any) {
	f.Stubs = append(f.Stubs, QueryStub{Match: match, Rows: rows, Once: true})
}

// StubWithArg registers result rows for queries containing the substring
// and carrying the given argument, e.g. a specific pg_settings name.
func (f *FakeConn) StubWithArg(match string, arg any, rows ...[]any) {
	f.Stubs = append(f.Stubs, QueryStub{Match: match, Arg: arg, Rows: rows})
}

// StubError registers a query failure for queries containing the substring.
func (f *FakeConn) StubError(match string, err error) {
	f.Stubs = append(f.Stubs, QueryStub{Match: match, Err: err})
}

// StubExecError registers an Exec failure for statements containing the substring.
func (f *FakeConn) StubExecError(match string, err error) {
	f.ExecStubs = append(f.ExecStubs, ExecStub{Match: match, Err: err})
}

// ExecContains reports whether any executed statement contains the substring.
func (f *FakeConn) ExecContains(substr string) bool {
	for _, sql := range f.ExecLog {
		if strings.Contains(sql, substr) {
			return true
		}
	}
	return false
}

func (f *FakeConn) findStub(sql string, args []any) *QueryStub {
	for i := range f.Stubs {
		stub := &f.Stubs[i]
		if stub.used || !strings.Contains(sql, stub.Match) {
			continue
		}
		if stub.Arg != nil && !argsContain(args, stub.Arg) {
			continue
		}
		if stub.Once {
			stub.used = true
		}
		return stub
	}
	return nil
}

func argsContain(args []any, want any) bool {
	for _, a := range args {
		if a == want {
			return true
		}
	}
	return false
}

func (f *FakeConn) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.ExecLog = append(f.ExecLog, sql)
	f.ExecArgs = append(f.ExecArgs, args)
	for _, stub := range f.ExecStubs {
		if strings.Contains(sql, stub.Match) {
			return pgconn.CommandTag{}, stub.Err
		}
	}
	return pgconn.NewCommandTag("OK 1"), nil
}

// QueriedWithArg reports whether any query carried the given argument.
func (f *FakeConn) QueriedWithArg(arg any) bool {
	for _, args := range f.QueryArgs {
		if argsContain(args, arg) {
			return true
		}
	}
	return false
}

func (f *FakeConn) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	f.QueryLog = append(f.QueryLog, sql)
	f.QueryArgs = append(f.QueryArgs, args)
	stub := f.findStub(sql, args)
	if stub == nil {
		return &fakeRows{}, nil
	}
	if stub.Err != nil {
		return nil, stub.Err
	}
	return &fakeRows{rows: stub.Rows}, nil
}

func (f *FakeConn) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	f.QueryLog = append(f.QueryLog, sql)
	f.QueryArgs = append(f.QueryArgs, args)
	stub := f.findStub(sql, args)
	if stub == nil {
		return &fakeRow{err: pgx.ErrNoRows}
	}
	if stub.Err != nil {
		return &fakeRow{err: stub.Err}
	}
	if len(stub.Rows) == 0 {
		return &fakeRow{err: pgx.ErrNoRows}
	}
	return &fakeRow{values: stub.Rows[0]}
}

func (f *FakeConn) Host() string     { return f.HostName }
func (f *FakeConn) Port() uint16     { return f.PortNum }
func (f *FakeConn) User() string     { return f.UserName }
func (f *FakeConn) ConnInfo() string { return f.Info }

func (f *FakeConn) Close(context.Context) error {
	f.Closed = true
	return nil
}

type fakeRow struct {
	values []any
	err    error
}

func (r *fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) > len(r.values) {
		return fmt.Errorf("fake row has %d values, caller wants %d", len(r.values), len(dest))
	}
	for i, d := range dest {
		if err := assign(d, r.values[i]); err != nil {
			return err
		}
	}
	return nil
}

type fakeRows struct {
	rows [][]any
	pos  int
	err  error
}

func (r *fakeRows) Next() bool {
	if r.pos >= len(r.rows) {
		return false
	}
	r.pos++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	row := fakeRow{values: r.rows[r.pos-1]}
	return row.Scan(dest...)
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return r.err }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Values() ([]any, error)                       { return r.rows[r.pos-1], nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func assign(dest, src any) error {
	switch d := dest.(type) {
	case *string:
		s, ok := src.(string)
		if !ok {
			return fmt.Errorf("cannot scan %T into *string", src)
		}
		*d = s
	case *int:
		switch s := src.(type) {
		case int:
			*d = s
		case int64:
			*d = int(s)
		default:
			return fmt.Errorf("cannot scan %T into *int", src)
		}
	case *int64:
		switch s := src.(type) {
		case int:
			*d = int64(s)
		case int64:
			*d = s
		default:
			return fmt.Errorf("cannot scan %T into *int64", src)
		}
	case *bool:
		b, ok := src.(bool)
		if !ok {
			return fmt.Errorf("cannot scan %T into *bool", src)
		}
		*d = b
	case *any:
		*d = src
	default:
		return fmt.Errorf("unsupported scan destination %T", dest)
	}
	return nil
}

// FakeDialer maps conninfo strings to prepared fake connections.
type FakeDialer struct {
	Conns map[string]dbconn.Conn
	Dials []string
}

// NewFakeDialer returns an empty dialer; register connections with Add.
func NewFakeDialer() *FakeDialer {
	return &FakeDialer{Conns: make(map[string]dbconn.Conn)}
}

// Add registers a connection for a conninfo string.
func (d *FakeDialer) Add(conninfo string, conn dbconn.Conn) {
	d.Conns[conninfo] = conn
}

// Dial implements dbconn.Dialer. Unknown conninfo strings are unreachable.
func (d *FakeDialer) Dial(_ context.Context, conninfo string) (dbconn.Conn, error) {
	d.Dials = append(d.Dials, conninfo)
	conn, ok := d.Conns[conninfo]
	if !ok {
		return nil, fmt.Errorf("%w: %s", dbconn.ErrConnectionFailed, conninfo)
	}
	return conn, nil
}

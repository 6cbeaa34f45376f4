package dbconn

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the query surface shared by live connections and test fakes.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Conn is a single server connection plus the identity it was opened with.
// The follow controller reads Host/Port/User from the live connection rather
// than from registry metadata, which may be stale.
type Conn interface {
	DB
	Host() string
	Port() uint16
	User() string
	ConnInfo() string
	Close(ctx context.Context) error
}

// Dialer opens a connection from a conninfo string. Components take a Dialer
// so tests can substitute fakes for real servers.
type Dialer func(ctx context.Context, conninfo string) (Conn, error)

type serverConn struct {
	conn     *pgx.Conn
	conninfo string
}

// Connect opens a connection described by a conninfo string.
func Connect(ctx context.Context, conninfo string) (Conn, error) {
	conn, err := pgx.Connect(ctx, conninfo)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	return &serverConn{conn: conn, conninfo: conninfo}, nil
}

// Params are explicit connection parameters used when no registry conninfo
// is available, e.g. connecting to the clone source or the witness instance.
type Params struct {
	Host    string
	Port    string
	User    string
	DBName  string
	AppName string
}

// ConnInfo renders the parameters as a conninfo string, omitting empty fields.
func (p Params) ConnInfo() string {
	var parts []string
	if p.Host != "" {
		parts = append(parts, "host="+p.Host)
	}
	if p.Port != "" {
		parts = append(parts, "port="+p.Port)
	}
	if p.User != "" {
		parts = append(parts, "user="+p.User)
	}
	if p.DBName != "" {
		parts = append(parts, "dbname="+p.DBName)
	}
	if p.AppName != "" {
		parts = append(parts, "application_name="+p.AppName)
	}
	return strings.Join(parts, " ")
}

func (c *serverConn) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return c.conn.Exec(ctx, sql, args...)
}

func (c *serverConn) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return c.conn.Query(ctx, sql, args...)
}

func (c *serverConn) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return c.conn.QueryRow(ctx, sql, args...)
}

func (c *serverConn) Host() string {
	return c.conn.Config().Host
}

func (c *serverConn) Port() uint16 {
	return c.conn.Config().Port
}

func (c *serverConn) User() string {
	return c.conn.Config().User
}

func (c *serverConn) ConnInfo() string {
	return c.conninfo
}

func (c *serverConn) Close(ctx context.Context) error {
	return c.conn.Close(ctx)
}

// IsAlive reports whether the server answers a trivial query within the
// given timeout.
func IsAlive(ctx context.Context, db DB, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var one int
	return db.QueryRow(ctx, "SELECT 1").Scan(&one) == nil
}

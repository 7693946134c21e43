package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	telemetry "fleet-ingest/internal/telemetry/domain"
)

const (
	defaultTable          = "vehicle_stats"
	defaultConnectTimeout = 60 * time.Second
	defaultWriteTimeout   = 10 * time.Second
)

// Config holds destination connection parameters.
type Config struct {
	Host            string
	Port            uint16
	User            string
	Password        string
	Database        string
	ApplicationName string
	ConnectTimeout  time.Duration
}

// Connector hands out exclusive sessions against the vehicle stats table.
type Connector struct {
	db             *sql.DB
	table          string
	connectTimeout time.Duration
	writeTimeout   time.Duration
}

// ConnectorOption configures the connector.
type ConnectorOption func(*Connector)

// WithTable overrides the default table name.
func WithTable(table string) ConnectorOption {
	return func(c *Connector) {
		if table != "" {
			c.table = table
		}
	}
}

// WithConnectTimeout bounds session acquisition.
func WithConnectTimeout(timeout time.Duration) ConnectorOption {
	return func(c *Connector) {
		if timeout > 0 {
			c.connectTimeout = timeout
		}
	}
}

// WithWriteTimeout bounds each single-record write.
func WithWriteTimeout(timeout time.Duration) ConnectorOption {
	return func(c *Connector) {
		if timeout > 0 {
			c.writeTimeout = timeout
		}
	}
}

// Open builds a pgx connection config from cfg and wraps it in a Connector.
// No connection is made until Connect.
func Open(cfg Config, opts ...ConnectorOption) (*Connector, error) {
	if cfg.Host == "" {
		return nil, errors.New("postgres sink: empty host")
	}
	if cfg.Database == "" {
		return nil, errors.New("postgres sink: empty database")
	}
	connCfg, err := pgx.ParseConfig("")
	if err != nil {
		return nil, fmt.Errorf("postgres sink: base config: %w", err)
	}
	connCfg.Host = cfg.Host
	if cfg.Port != 0 {
		connCfg.Port = cfg.Port
	}
	connCfg.User = cfg.User
	connCfg.Password = cfg.Password
	connCfg.Database = cfg.Database
	connCfg.ConnectTimeout = cfg.ConnectTimeout
	if connCfg.ConnectTimeout <= 0 {
		connCfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.ApplicationName != "" {
		if connCfg.RuntimeParams == nil {
			connCfg.RuntimeParams = map[string]string{}
		}
		connCfg.RuntimeParams["application_name"] = cfg.ApplicationName
	}

	db := stdlib.OpenDB(*connCfg)
	db.SetMaxOpenConns(2)
	opts = append([]ConnectorOption{WithConnectTimeout(connCfg.ConnectTimeout)}, opts...)
	return NewConnector(db, opts...)
}

// NewConnector wraps an existing database handle.
func NewConnector(db *sql.DB, opts ...ConnectorOption) (*Connector, error) {
	if db == nil {
		return nil, errors.New("postgres sink: nil db")
	}
	c := &Connector{
		db:             db,
		table:          defaultTable,
		connectTimeout: defaultConnectTimeout,
		writeTimeout:   defaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// DB exposes the underlying handle for schema management and metrics.
func (c *Connector) DB() *sql.DB {
	return c.db
}

// Table returns the destination table name.
func (c *Connector) Table() string {
	return c.table
}

// Close releases the connection pool.
func (c *Connector) Close() error {
	return c.db.Close()
}

// Connect acquires one exclusive connection within the connect timeout.
func (c *Connector) Connect(ctx context.Context) (telemetry.Session, error) {
	connectCtx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()

	conn, err := c.db.Conn(connectCtx)
	if err != nil {
		return nil, fmt.Errorf("postgres sink: connect: %w", err)
	}
	if err := conn.PingContext(connectCtx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("postgres sink: ping: %w", err)
	}
	return &session{conn: conn, table: c.table, writeTimeout: c.writeTimeout}, nil
}

type session struct {
	conn         *sql.Conn
	table        string
	writeTimeout time.Duration
}

// Prepare establishes the idempotent insert on the session's connection.
func (s *session) Prepare(ctx context.Context) (telemetry.WritePlan, error) {
	stmt, err := s.conn.PrepareContext(ctx, insertQuery(s.table))
	if err != nil {
		return nil, fmt.Errorf("postgres sink: prepare: %w", err)
	}
	return &writePlan{stmt: stmt, timeout: s.writeTimeout}, nil
}

func (s *session) Close() error {
	return s.conn.Close()
}

type writePlan struct {
	stmt    *sql.Stmt
	timeout time.Duration
}

// Write inserts one record. A natural-key conflict is not an error.
func (p *writePlan) Write(ctx context.Context, record telemetry.TelemetryRecord) error {
	writeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	vehicleID := sql.NullString{}
	if record.VehicleID != nil {
		vehicleID = sql.NullString{String: *record.VehicleID, Valid: true}
	}
	if _, err := p.stmt.ExecContext(
		writeCtx,
		record.Timestamp.UTC(),
		vehicleID,
		record.Code,
		record.Kind,
		string(record.Payload),
	); err != nil {
		return fmt.Errorf("postgres sink: write: %w", err)
	}
	return nil
}

func (p *writePlan) Close() error {
	return p.stmt.Close()
}

func insertQuery(table string) string {
	return fmt.Sprintf(`
INSERT INTO %s (
	observed_at,
	vehicle_id,
	code,
	kind,
	payload
) VALUES (
	$1, $2, $3, $4, $5
)
ON CONFLICT ON CONSTRAINT %s
DO NOTHING`, quoteTable(table), quoteConstraint(table))
}

func quoteTable(table string) string {
	return pgx.Identifier(strings.Split(table, ".")).Sanitize()
}

func constraintName(table string) string {
	parts := strings.Split(table, ".")
	return parts[len(parts)-1] + "_natural_key"
}

func quoteConstraint(table string) string {
	return pgx.Identifier{constraintName(table)}.Sanitize()
}

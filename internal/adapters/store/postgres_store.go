package store

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"

	_ "github.com/lib/pq"

	"github.com/ghalamif/MetricFlow/internal/domain"
	"github.com/ghalamif/MetricFlow/internal/ports"
)

const (
	DefaultTable    = "metrics"
	MaxOpenConns    = 16
	insertColumns   = " (timestamp, name, value) VALUES "
	columnsPerValue = 3
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// ValidTable reports whether name is usable as an unquoted table identifier.
func ValidTable(name string) bool { return identRe.MatchString(name) }

// Config describes how to reach the database.
type Config struct {
	DatabaseURL string
	// CertPath, when set, switches the connection to TLS verified against this root certificate.
	CertPath string
}

// DSN returns the connection string handed to lib/pq.
func (c Config) DSN() (string, error) {
	if c.DatabaseURL == "" {
		return "", fmt.Errorf("database url is required")
	}
	if c.CertPath == "" {
		return c.DatabaseURL, nil
	}

	if strings.HasPrefix(c.DatabaseURL, "postgres://") || strings.HasPrefix(c.DatabaseURL, "postgresql://") {
		u, err := url.Parse(c.DatabaseURL)
		if err != nil {
			return "", fmt.Errorf("parse database url: %w", err)
		}
		q := u.Query()
		q.Set("sslmode", "verify-full")
		q.Set("sslrootcert", c.CertPath)
		u.RawQuery = q.Encode()
		return u.String(), nil
	}

	// key=value form
	return fmt.Sprintf("%s sslmode=verify-full sslrootcert=%s", c.DatabaseURL, c.CertPath), nil
}

// Open creates the connection pool. It does not dial; the first query does.
func Open(cfg Config) (*sql.DB, error) {
	if cfg.CertPath != "" {
		if _, err := os.Stat(cfg.CertPath); err != nil {
			return nil, domain.Configuration("postgres cert", err)
		}
	}
	dsn, err := cfg.DSN()
	if err != nil {
		return nil, domain.Configuration("postgres dsn", err)
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, domain.Configuration("postgres open", err)
	}
	db.SetMaxOpenConns(MaxOpenConns)
	db.SetMaxIdleConns(MaxOpenConns)
	return db, nil
}

// PostgresStore writes samples into an append-only table with no uniqueness
// constraint, so a retried insert may duplicate rows.
type PostgresStore struct {
	db        *sql.DB
	tableName string
}

func NewPostgresStore(db *sql.DB, table string) *PostgresStore {
	if table == "" {
		table = DefaultTable
	}
	return &PostgresStore{db: db, tableName: table}
}

func (p *PostgresStore) Name() string { return "postgres" }

func (p *PostgresStore) Insert(ctx context.Context, env domain.Envelope) error {
	if len(env.Samples) == 0 {
		return nil
	}

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(p.tableName)
	b.WriteString(insertColumns)

	args := make([]any, 0, len(env.Samples)*columnsPerValue)
	for i, s := range env.Samples {
		if i > 0 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b, "($%d,$%d,$%d)", len(args)+1, len(args)+2, len(args)+3)
		args = append(args, s.Time(), s.Name, float64(s.Value))
	}

	if _, err := p.db.ExecContext(ctx, b.String(), args...); err != nil {
		return domain.Persistence("insert samples", err)
	}
	return nil
}

func (p *PostgresStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := p.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+p.tableName).Scan(&n); err != nil {
		return 0, domain.Persistence("count samples", err)
	}
	return n, nil
}

// Truncate removes every row. Used by operators and integration tests.
func (p *PostgresStore) Truncate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, "TRUNCATE "+p.tableName); err != nil {
		return domain.Persistence("truncate samples", err)
	}
	return nil
}

// EnsureSchema creates the table and its lookup index when missing. With
// timescale set the table is also turned into a hypertable on timestamp.
func (p *PostgresStore) EnsureSchema(ctx context.Context, timescale bool) error {
	stmts := []string{
		"CREATE TABLE IF NOT EXISTS " + p.tableName + " (timestamp TIMESTAMPTZ NOT NULL, name TEXT NOT NULL, value DOUBLE PRECISION NOT NULL)",
		"CREATE INDEX IF NOT EXISTS " + indexName(p.tableName) + " ON " + p.tableName + " (name, timestamp DESC)",
	}
	if timescale {
		stmts = append(stmts, "SELECT create_hypertable('"+p.tableName+"', 'timestamp', if_not_exists => TRUE)")
	}
	for _, stmt := range stmts {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return domain.Persistence("ensure schema", err)
		}
	}
	return nil
}

func indexName(table string) string {
	return strings.ReplaceAll(table, ".", "_") + "_name_timestamp_idx"
}

var _ ports.Store = (*PostgresStore)(nil)

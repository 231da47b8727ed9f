package audit

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// queryable is the subset of pgxpool.Pool used here, so tests can supply a
// fake.
type queryable interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

const createTable = `CREATE TABLE IF NOT EXISTS ledger_audit (
    id            BIGSERIAL PRIMARY KEY,
    request_id    TEXT        NOT NULL,
    method        TEXT        NOT NULL,
    path          TEXT        NOT NULL,
    action        TEXT        NOT NULL,
    resource_type TEXT        NOT NULL,
    resource_id   TEXT        NOT NULL DEFAULT '',
    status        INTEGER     NOT NULL,
    outcome       TEXT        NOT NULL,
    remote_ip     TEXT        NOT NULL DEFAULT '',
    recorded      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS ledger_audit_resource_idx ON ledger_audit (resource_type, resource_id);`

const insertEntry = `INSERT INTO ledger_audit
    (request_id, method, path, action, resource_type, resource_id, status, outcome, remote_ip, recorded)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

// Open connects a pgx pool for the audit trail and verifies it with a ping.
func Open(ctx context.Context, databaseURL string, maxConns, minConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	cfg.MaxConns = maxConns
	cfg.MinConns = minConns
	cfg.ConnConfig.RuntimeParams["application_name"] = "ledger-server"

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// Migrate creates the audit table if it does not exist.
func Migrate(ctx context.Context, db queryable) error {
	if _, err := db.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("create ledger_audit table: %w", err)
	}
	return nil
}

// PGRecorder inserts entries into ledger_audit.
type PGRecorder struct {
	db      queryable
	timeout time.Duration
}

func NewPGRecorder(db queryable) *PGRecorder {
	return &PGRecorder{db: db, timeout: 2 * time.Second}
}

// Record runs detached from the request's cancellation so that a client
// hanging up after a committed reservation still leaves an audit row.
func (r *PGRecorder) Record(ctx context.Context, e Entry) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	_, err := r.db.Exec(ctx, insertEntry,
		e.RequestID, e.Method, e.Path, e.Action, e.ResourceType, e.ResourceID,
		e.Status, e.Outcome, e.RemoteIP, e.Recorded)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// PoolStats represents audit database connection pool statistics.
type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireDuration string `json:"acquire_duration"`
}

// HealthHandler reports the audit database's reachability.
func HealthHandler(pool *pgxpool.Pool) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		stat := pool.Stat()
		stats := &PoolStats{
			TotalConns:      stat.TotalConns(),
			IdleConns:       stat.IdleConns(),
			AcquiredConns:   stat.AcquiredConns(),
			MaxConns:        stat.MaxConns(),
			AcquireDuration: stat.AcquireDuration().String(),
		}

		if err := pool.Ping(ctx); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
				"status": "unhealthy",
				"error":  err.Error(),
				"pool":   stats,
			})
		}
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status": "healthy",
			"pool":   stats,
		})
	}
}

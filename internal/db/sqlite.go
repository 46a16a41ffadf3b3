package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver (no CGO required)
)

// migrations define the schema. Version is tracked in schema_versions.
var migrations = []struct {
	version int
	sql     string
}{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS cache_entries (
    key         TEXT PRIMARY KEY,
    payload     BLOB NOT NULL,
    created_at  INTEGER NOT NULL,
    expires_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cache_entries_expires_at ON cache_entries(expires_at);
`,
	},
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS anomaly_events (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id       TEXT NOT NULL DEFAULT '',
    category     TEXT NOT NULL DEFAULT '',
    unit         TEXT NOT NULL DEFAULT '',
    year         INTEGER NOT NULL,
    month        INTEGER NOT NULL,
    parameter_id TEXT NOT NULL,
    day          INTEGER NOT NULL,
    value        REAL NOT NULL,
    deviation    REAL NOT NULL DEFAULT 0.0,
    severity     TEXT NOT NULL DEFAULT 'low',
    detected_at  DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_anomaly_month     ON anomaly_events(category, unit, year, month);
CREATE INDEX IF NOT EXISTS idx_anomaly_parameter ON anomaly_events(parameter_id);
CREATE INDEX IF NOT EXISTS idx_anomaly_detected  ON anomaly_events(detected_at DESC);
`,
	},
}

// sqliteStore is the SQLite-backed implementation of Store.
type sqliteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path and
// runs all pending schema migrations. Pass ":memory:" for an in-memory store.
func NewSQLiteStore(path string) (Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	// Every pooled connection to ":memory:" would be its own database.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	s := &sqliteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// migrate applies any unapplied migrations in order.
func (s *sqliteStore) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_versions (
        version    INTEGER PRIMARY KEY,
        applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
    )`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_versions WHERE version = ?`, m.version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if count > 0 {
			continue
		}

		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}
		if _, err := s.db.Exec(`INSERT INTO schema_versions(version) VALUES(?)`, m.version); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func (s *sqliteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// ─── Cache entries ────────────────────────────────────────────────────────────

func (s *sqliteStore) PutCacheEntry(ctx context.Context, rec *CacheEntry) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO cache_entries(key, payload, created_at, expires_at)
        VALUES(?,?,?,?)
        ON CONFLICT(key) DO UPDATE SET
            payload    = excluded.payload,
            created_at = excluded.created_at,
            expires_at = excluded.expires_at
    `, rec.Key, rec.Payload, rec.CreatedAt.UnixMilli(), rec.ExpiresAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("upsert cache entry: %w", err)
	}
	return nil
}

func (s *sqliteStore) GetCacheEntry(ctx context.Context, key string) (*CacheEntry, error) {
	var (
		rec       CacheEntry
		createdAt int64
		expiresAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT key, payload, created_at, expires_at FROM cache_entries WHERE key = ?`, key,
	).Scan(&rec.Key, &rec.Payload, &createdAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cache entry: %w", err)
	}
	rec.CreatedAt = time.UnixMilli(createdAt)
	rec.ExpiresAt = time.UnixMilli(expiresAt)
	return &rec, nil
}

func (s *sqliteStore) DeleteCacheEntry(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete cache entry: %w", err)
	}
	return nil
}

func (s *sqliteStore) PurgeExpiredCacheEntries(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE expires_at <= ?`, now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("purge cache entries: %w", err)
	}
	return res.RowsAffected()
}

// ─── Anomaly history ──────────────────────────────────────────────────────────

func (s *sqliteStore) AppendAnomalies(ctx context.Context, recs []*AnomalyRecord) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
        INSERT INTO anomaly_events(run_id, category, unit, year, month, parameter_id, day, value, deviation, severity, detected_at)
        VALUES(?,?,?,?,?,?,?,?,?,?,?)
    `)
	if err != nil {
		return fmt.Errorf("prepare anomaly insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range recs {
		result, err := stmt.ExecContext(ctx,
			rec.RunID, rec.Category, rec.Unit, rec.Year, rec.Month,
			rec.ParameterID, rec.Day, rec.Value, rec.Deviation, rec.Severity,
			rec.DetectedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("insert anomaly %s day %d: %w", rec.ParameterID, rec.Day, err)
		}
		id, _ := result.LastInsertId()
		rec.ID = id
	}
	return tx.Commit()
}

func (s *sqliteStore) QueryAnomalies(ctx context.Context, q AnomalyQuery) ([]*AnomalyRecord, error) {
	query := `SELECT id,run_id,category,unit,year,month,parameter_id,day,value,deviation,severity,detected_at FROM anomaly_events WHERE 1=1`
	args := []any{}

	if q.Category != "" {
		query += ` AND category = ?`
		args = append(args, q.Category)
	}
	if q.Unit != "" {
		query += ` AND unit = ?`
		args = append(args, q.Unit)
	}
	if q.Year != 0 {
		query += ` AND year = ?`
		args = append(args, q.Year)
	}
	if q.Month != 0 {
		query += ` AND month = ?`
		args = append(args, q.Month)
	}
	if q.ParameterID != "" {
		query += ` AND parameter_id = ?`
		args = append(args, q.ParameterID)
	}
	if q.Severity != "" {
		query += ` AND severity = ?`
		args = append(args, q.Severity)
	}
	query += ` ORDER BY detected_at DESC, id DESC`
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT %d`, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*AnomalyRecord
	for rows.Next() {
		rec := &AnomalyRecord{}
		if err := rows.Scan(&rec.ID, &rec.RunID, &rec.Category, &rec.Unit, &rec.Year, &rec.Month,
			&rec.ParameterID, &rec.Day, &rec.Value, &rec.Deviation, &rec.Severity, &rec.DetectedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

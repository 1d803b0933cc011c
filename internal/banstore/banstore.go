// Package banstore optionally persists banned IPs to Postgres so a ban
// survives a worker process restart. Grounded on the teacher's
// internal/database/connection.go connection-string assembly and pool
// tuning (MaxOpenConns/MaxIdleConns/ConnMaxLifetime), using database/sql
// with lib/pq as the driver exactly as the teacher does — this pool
// never needs the teacher's query/migration layer (golang-migrate, sqlx),
// only a tiny upsert/scan/delete trio, so those two deps are not wired
// here (see DESIGN.md).
package banstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Config configures the Postgres connection.
type Config struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string
	SSLMode  string
}

// Store persists the dynamic ban map.
type Store struct {
	db *sql.DB
}

// Open connects to Postgres and ensures the bans table exists.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.Username, cfg.Password, cfg.Database, sslMode,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("banstore: open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("banstore: ping: %w", err)
	}

	s := &Store{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS banned_ips (
			ip TEXT PRIMARY KEY,
			pool_id TEXT NOT NULL,
			banned_at TIMESTAMPTZ NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("banstore: ensure schema: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ban upserts a ban entry with the current timestamp.
func (s *Store) Ban(ctx context.Context, poolID, ip string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO banned_ips (ip, pool_id, banned_at) VALUES ($1, $2, $3)
		ON CONFLICT (ip) DO UPDATE SET banned_at = EXCLUDED.banned_at, pool_id = EXCLUDED.pool_id
	`, ip, poolID, at)
	if err != nil {
		return fmt.Errorf("banstore: ban %s: %w", ip, err)
	}
	return nil
}

// Purge deletes entries older than maxAge, mirroring the in-memory
// purge_interval sweep of spec §4.4.1.
func (s *Store) Purge(ctx context.Context, maxAge time.Duration) error {
	cutoff := time.Now().Add(-maxAge)
	_, err := s.db.ExecContext(ctx, `DELETE FROM banned_ips WHERE banned_at < $1`, cutoff)
	if err != nil {
		return fmt.Errorf("banstore: purge: %w", err)
	}
	return nil
}

// Load returns every currently-persisted ban, used at startup to seed the
// in-memory ban map before the Stratum server begins accepting.
func (s *Store) Load(ctx context.Context, poolID string) (map[string]time.Time, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT ip, banned_at FROM banned_ips WHERE pool_id = $1`, poolID)
	if err != nil {
		return nil, fmt.Errorf("banstore: load: %w", err)
	}
	defer rows.Close()

	out := make(map[string]time.Time)
	for rows.Next() {
		var ip string
		var at time.Time
		if err := rows.Scan(&ip, &at); err != nil {
			return nil, fmt.Errorf("banstore: scan: %w", err)
		}
		out[ip] = at
	}
	return out, rows.Err()
}

// Package store persists sessions and turns to PostgreSQL so a conversation
// can be resumed after a restart and inspected later.
package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx" driver

	"github.com/camara-coder/talking-game/internal/session"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Store persists conversation data to PostgreSQL.
type Store struct {
	db *sql.DB
}

// Open connects to the database at connStr and applies pending migrations.
func Open(connStr string) (*Store, error) {
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("store open: %w", err)
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store ping: %w", err)
	}
	if err = migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("store migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`)
	if err != nil {
		return err
	}

	var current int
	row := db.QueryRow(`SELECT COALESCE(MAX(version), -1) FROM schema_version`)
	if err = row.Scan(&current); err != nil {
		return err
	}

	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	for i := current + 1; i < len(entries); i++ {
		data, readErr := migrationFS.ReadFile("migrations/" + entries[i].Name())
		if readErr != nil {
			return fmt.Errorf("read migration %d: %w", i, readErr)
		}
		if _, execErr := db.Exec(string(data)); execErr != nil {
			return fmt.Errorf("migration %d: %w", i, execErr)
		}
		if _, execErr := db.Exec(`INSERT INTO schema_version (version) VALUES ($1)`, i); execErr != nil {
			return fmt.Errorf("migration %d record: %w", i, execErr)
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveSession upserts the session row.
func (s *Store) SaveSession(ctx context.Context, info session.Info) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, created_at, updated_at, language, mode, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET updated_at = $3, status = $6`,
		info.SessionID, info.CreatedAt, info.UpdatedAt, info.Language, info.Mode, string(info.Status),
	)
	return err
}

// SaveTurn upserts one completed turn.
func (s *Store) SaveTurn(ctx context.Context, sessionID string, t session.Turn) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO turns (id, session_id, created_at, transcript, reply_text, route,
		                   audio_path, audio_duration_ms, processing_time_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`,
		t.ID, sessionID, t.Timestamp, t.Transcript, t.ReplyText, t.Route,
		t.AudioPath, t.AudioDurationMs, t.ProcessingTimeMs,
	)
	return err
}

// LoadSession returns the persisted session and its turns, oldest first.
func (s *Store) LoadSession(ctx context.Context, id string) (session.Info, []session.Turn, error) {
	var info session.Info
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, created_at, updated_at, language, mode, status FROM sessions WHERE id = $1`, id,
	).Scan(&info.SessionID, &info.CreatedAt, &info.UpdatedAt, &info.Language, &info.Mode, &status)
	if err != nil {
		return session.Info{}, nil, fmt.Errorf("load session %s: %w", id, err)
	}
	info.Status = session.Status(status)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, created_at, transcript, reply_text, route,
		       audio_path, audio_duration_ms, processing_time_ms
		FROM turns WHERE session_id = $1 ORDER BY created_at ASC`, id)
	if err != nil {
		return session.Info{}, nil, fmt.Errorf("load turns for %s: %w", id, err)
	}
	defer rows.Close()

	var turns []session.Turn
	for rows.Next() {
		var t session.Turn
		if err = rows.Scan(&t.ID, &t.Timestamp, &t.Transcript, &t.ReplyText, &t.Route,
			&t.AudioPath, &t.AudioDurationMs, &t.ProcessingTimeMs); err != nil {
			return session.Info{}, nil, err
		}
		turns = append(turns, t)
	}
	info.TotalTurns = len(turns)
	return info, turns, rows.Err()
}

// DeleteSession removes a session and, via cascade, its turns.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	return err
}

// ListSessions returns session snapshots ordered newest first.
func (s *Store) ListSessions(ctx context.Context, limit, offset int) ([]session.Info, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.created_at, s.updated_at, s.language, s.mode, s.status, COUNT(t.id)
		FROM sessions s
		LEFT JOIN turns t ON t.session_id = s.id
		GROUP BY s.id
		ORDER BY s.updated_at DESC
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []session.Info
	for rows.Next() {
		var info session.Info
		var status string
		if err = rows.Scan(&info.SessionID, &info.CreatedAt, &info.UpdatedAt,
			&info.Language, &info.Mode, &status, &info.TotalTurns); err != nil {
			return nil, 0, err
		}
		info.Status = session.Status(status)
		out = append(out, info)
	}
	return out, total, rows.Err()
}

// DeleteOlderThan removes sessions whose last activity predates the retention
// window. Returns the number of sessions removed.
func (s *Store) DeleteOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE updated_at < $1`, time.Now().UTC().Add(-retention))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// StartRetentionSweep deletes expired sessions on a fixed interval until ctx
// is cancelled.
func (s *Store) StartRetentionSweep(ctx context.Context, interval, retention time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := s.DeleteOlderThan(ctx, retention)
				if err != nil {
					slog.Warn("retention sweep failed", "error", err)
					continue
				}
				if n > 0 {
					slog.Info("retention sweep removed sessions", "count", n)
				}
			}
		}
	}()
}

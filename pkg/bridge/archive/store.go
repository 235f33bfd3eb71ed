// Package archive persists resolved responses to SQLite so a transport can
// still find a result after it has left the live queue.
package archive

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/AnkleBreaker-Studio/unity-mcp-plugin-sub003/internal/observability"
	"github.com/AnkleBreaker-Studio/unity-mcp-plugin-sub003/pkg/bridge/queue"
)

// ErrNotFound means the archive has no response for the id.
var ErrNotFound = errors.New("archived response not found")

// Store is the response archive. All methods are safe for concurrent use;
// database/sql provides the pooling.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// Open creates or opens the archive database at path.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	observability.EnsureRegistered()

	if path == "" {
		return nil, errors.New("archive path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive database: %w", err)
	}

	// WAL keeps archive writes off the drain loop's critical path.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger.With().Str("component", "archive").Logger(),
	}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize archive schema: %w", err)
	}

	s.logger.Info().Str("path", path).Msg("Response archive opened")
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS responses (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			status TEXT NOT NULL,
			body TEXT NOT NULL,
			completed_at INTEGER NOT NULL,
			archived_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_responses_session ON responses(session_id);
		CREATE INDEX IF NOT EXISTS idx_responses_archived ON responses(archived_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Save writes one response. Saving the same id twice keeps the first copy.
func (s *Store) Save(resp *queue.Response) error {
	body, err := json.Marshal(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to encode response body: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT OR IGNORE INTO responses (id, session_id, kind, status, body, completed_at, archived_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		resp.ID,
		resp.SessionID,
		string(resp.Kind),
		string(resp.Status),
		string(body),
		resp.CompletedAt.UnixMilli(),
		time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to archive response: %w", err)
	}

	observability.RecordArchiveWrite()
	s.logger.Debug().Str("request_id", resp.ID).Msg("Response archived")
	return nil
}

// Get returns an archived response by request id.
func (s *Store) Get(id string) (*queue.Response, error) {
	row := s.db.QueryRow(
		`SELECT id, session_id, kind, status, body, completed_at FROM responses WHERE id = ?`,
		id,
	)

	var (
		resp        queue.Response
		kind        string
		status      string
		body        string
		completedAt int64
	)
	if err := row.Scan(&resp.ID, &resp.SessionID, &kind, &status, &body, &completedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read archived response: %w", err)
	}

	resp.Kind = queue.Kind(kind)
	resp.Status = queue.Status(status)
	resp.CompletedAt = time.UnixMilli(completedAt)
	if err := json.Unmarshal([]byte(body), &resp.Body); err != nil {
		return nil, fmt.Errorf("failed to decode archived body: %w", err)
	}

	return &resp, nil
}

// BySession returns the most recent archived responses of one session,
// newest first.
func (s *Store) BySession(sessionID string, limit int) ([]*queue.Response, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(
		`SELECT id, session_id, kind, status, body, completed_at FROM responses
		 WHERE session_id = ? ORDER BY completed_at DESC LIMIT ?`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query archive: %w", err)
	}
	defer rows.Close()

	var out []*queue.Response
	for rows.Next() {
		var (
			resp        queue.Response
			kind        string
			status      string
			body        string
			completedAt int64
		)
		if err := rows.Scan(&resp.ID, &resp.SessionID, &kind, &status, &body, &completedAt); err != nil {
			return nil, fmt.Errorf("failed to scan archived response: %w", err)
		}
		resp.Kind = queue.Kind(kind)
		resp.Status = queue.Status(status)
		resp.CompletedAt = time.UnixMilli(completedAt)
		if err := json.Unmarshal([]byte(body), &resp.Body); err != nil {
			return nil, fmt.Errorf("failed to decode archived body: %w", err)
		}
		out = append(out, &resp)
	}
	return out, rows.Err()
}

// Trim deletes archive rows older than the retention window and reports how
// many were removed.
func (s *Store) Trim(olderThan time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM responses WHERE archived_at < ?`, olderThan.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to trim archive: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Debug().Int64("count", n).Msg("Trimmed archived responses")
	}
	return n, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

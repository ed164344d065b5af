package approval

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS approvals (
	id              TEXT PRIMARY KEY,
	created_at      TIMESTAMP NOT NULL,
	agent_id        TEXT NOT NULL,
	action_type     TEXT NOT NULL,
	action_data     TEXT NOT NULL,
	impact_level    TEXT NOT NULL,
	reason          TEXT NOT NULL,
	status          TEXT NOT NULL,
	resolver        TEXT,
	resolved_at     TIMESTAMP,
	timeout_seconds INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_approvals_status ON approvals(status, created_at);
`

// Store persists approval requests in SQLite. Mutations are serialised by a
// mutex on top of the database's own transactional guarantees, and the
// resolve path is a conditional update so terminal states absorb transitions
// even across processes.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

// NewStore opens (and if needed creates) the database at path. Use ":memory:"
// for tests.
func NewStore(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create approvals directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open approvals database: %w", err)
	}
	// SQLite handles one writer at a time; a second connection would just
	// trade lock errors for mutex waits.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialise approvals schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Insert writes a new request.
func (s *Store) Insert(req *Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(req.ActionData)
	if err != nil {
		return fmt.Errorf("failed to encode action data: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO approvals
			(id, created_at, agent_id, action_type, action_data, impact_level,
			 reason, status, resolver, resolved_at, timeout_seconds)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID, req.CreatedAt, req.AgentID, req.ActionType, string(data),
		string(req.ImpactLevel), req.Reason, string(req.Status),
		nullable(req.Resolver), req.ResolvedAt, req.TimeoutSeconds,
	)
	if err != nil {
		return fmt.Errorf("failed to insert approval request: %w", err)
	}
	return nil
}

// Resolve moves a pending request into the given terminal status. It returns
// false without mutation when the request is missing or already terminal.
func (s *Store) Resolve(id string, status Status, resolver string, at time.Time) (bool, error) {
	if !status.Terminal() {
		return false, fmt.Errorf("cannot resolve to non-terminal status %q", status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		UPDATE approvals
		SET status = ?, resolver = ?, resolved_at = ?
		WHERE id = ? AND status = ?`,
		string(status), nullable(resolver), at, id, string(StatusPending),
	)
	if err != nil {
		return false, fmt.Errorf("failed to resolve approval request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Get returns the request by id, or nil when absent.
func (s *Store) Get(id string) (*Request, error) {
	row := s.db.QueryRow(selectColumns+` WHERE id = ?`, id)
	req, err := scanRequest(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return req, err
}

// Pending returns all pending requests, newest first.
func (s *Store) Pending() ([]*Request, error) {
	return s.list(`WHERE status = ? ORDER BY created_at DESC`, string(StatusPending))
}

// History returns the most recent requests regardless of status.
func (s *Store) History(limit int) ([]*Request, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.list(`ORDER BY created_at DESC LIMIT ?`, limit)
}

const selectColumns = `
	SELECT id, created_at, agent_id, action_type, action_data, impact_level,
	       reason, status, resolver, resolved_at, timeout_seconds
	FROM approvals`

func (s *Store) list(clause string, args ...any) ([]*Request, error) {
	rows, err := s.db.Query(selectColumns+" "+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query approval requests: %w", err)
	}
	defer rows.Close()

	var out []*Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRequest(row scanner) (*Request, error) {
	var (
		req        Request
		data       string
		resolver   sql.NullString
		resolvedAt sql.NullTime
	)
	err := row.Scan(&req.ID, &req.CreatedAt, &req.AgentID, &req.ActionType,
		&data, &req.ImpactLevel, &req.Reason, &req.Status,
		&resolver, &resolvedAt, &req.TimeoutSeconds)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(data), &req.ActionData); err != nil {
		return nil, fmt.Errorf("corrupt action data for request %s: %w", req.ID, err)
	}
	if resolver.Valid {
		req.Resolver = resolver.String
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		req.ResolvedAt = &t
	}
	return &req, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

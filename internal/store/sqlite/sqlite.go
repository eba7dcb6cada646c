// Package sqlite implements the persistence collaborator on a local SQLite
// database using the modernc driver. The schema is bootstrapped in-code on
// open, matching the local build target where no external migrations run.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/casaflow/chatcore/internal/model"
	"github.com/casaflow/chatcore/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
    session_id    TEXT PRIMARY KEY,
    owner_id      TEXT NOT NULL,
    title         TEXT NOT NULL,
    metadata      TEXT,
    creation_time TIMESTAMP NOT NULL,
    update_time   TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_sessions_owner ON sessions(owner_id);

CREATE TABLE IF NOT EXISTS messages (
    message_id    TEXT PRIMARY KEY,
    session_id    TEXT NOT NULL REFERENCES sessions(session_id),
    content       TEXT NOT NULL,
    role          TEXT NOT NULL,
    metadata      TEXT,
    parent_id     TEXT,
    creation_time TIMESTAMP NOT NULL,
    update_time   TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, creation_time);
`

// Store implements store.Store on SQLite.
type Store struct {
	db          *sql.DB
	dedupWindow time.Duration
	now         func() time.Time
}

// Option configures the sqlite store.
type Option func(*Store)

// WithDedupWindow overrides the duplicate-append window.
func WithDedupWindow(d time.Duration) Option {
	return func(s *Store) { s.dedupWindow = d }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return NewWithDB(db, opts...), nil
}

// NewWithDB wires the store onto an existing connection (used by the factory
// and by tests).
func NewWithDB(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, dedupWindow: 10 * time.Second, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB exposes the underlying connection for the health checker.
func (s *Store) DB() *sql.DB { return s.db }

// HealthPing verifies database connectivity.
func (s *Store) HealthPing(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the underlying connection.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Sessions() store.Sessions { return &sessions{s} }
func (s *Store) Messages() store.Messages { return &messages{s} }

// --- Sessions ---

type sessions struct{ s *Store }

func (r *sessions) Create(ctx context.Context, ownerID, title string) (*store.SessionRecord, error) {
	id := uuid.New().String()
	now := r.s.now().UTC()
	_, err := r.s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, owner_id, title, creation_time) VALUES (?,?,?,?)`,
		id, ownerID, title, now)
	if err != nil {
		return nil, err
	}
	return &store.SessionRecord{
		SessionID:    id,
		OwnerID:      ownerID,
		Title:        title,
		CreationTime: now,
	}, nil
}

func (r *sessions) Get(ctx context.Context, sessionID string) (*store.SessionRecord, error) {
	row := r.s.db.QueryRowContext(ctx,
		`SELECT session_id, owner_id, title, metadata, creation_time, update_time
         FROM sessions WHERE session_id = ?`, sessionID)
	return scanSession(row)
}

func (r *sessions) IsOwnedBy(ctx context.Context, sessionID, ownerID string) (bool, error) {
	var one int
	err := r.s.db.QueryRowContext(ctx,
		`SELECT 1 FROM sessions WHERE session_id = ? AND owner_id = ?`,
		sessionID, ownerID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *sessions) SetMetadata(ctx context.Context, sessionID string, metadata []byte) error {
	res, err := r.s.db.ExecContext(ctx,
		`UPDATE sessions SET metadata = ?, update_time = ? WHERE session_id = ?`,
		string(metadata), r.s.now().UTC(), sessionID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (r *sessions) ListByOwner(ctx context.Context, ownerID string) ([]*store.SessionRecord, error) {
	rows, err := r.s.db.QueryContext(ctx,
		`SELECT session_id, owner_id, title, metadata, creation_time, update_time
         FROM sessions WHERE owner_id = ? ORDER BY creation_time DESC`, ownerID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*store.SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row scanner) (*store.SessionRecord, error) {
	var rec store.SessionRecord
	var meta sql.NullString
	var updated sql.NullTime
	if err := row.Scan(&rec.SessionID, &rec.OwnerID, &rec.Title, &meta, &rec.CreationTime, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, err
	}
	if meta.Valid {
		rec.Metadata = []byte(meta.String)
	}
	if updated.Valid {
		t := updated.Time
		rec.UpdateTime = &t
	}
	return &rec, nil
}

// --- Messages ---

type messages struct{ s *Store }

func (r *messages) Append(ctx context.Context, req store.AppendMessageRequest) (*store.MessageRecord, error) {
	now := r.s.now().UTC()

	// Client retries resubmit identical payloads; return the original row
	// instead of inserting a duplicate.
	cutoff := now.Add(-r.s.dedupWindow)
	row := r.s.db.QueryRowContext(ctx,
		`SELECT message_id, session_id, content, role, metadata, parent_id, creation_time, update_time
         FROM messages
         WHERE session_id = ? AND content = ? AND role = ? AND creation_time >= ?
         ORDER BY creation_time DESC LIMIT 1`,
		req.SessionID, req.Content, req.Role, cutoff)
	if existing, err := scanMessage(row); err == nil {
		return existing, nil
	} else if !errors.Is(err, model.ErrNotFound) {
		return nil, err
	}

	var meta interface{}
	if len(req.Metadata) > 0 {
		meta = string(req.Metadata)
	}
	_, err := r.s.db.ExecContext(ctx,
		`INSERT INTO messages (message_id, session_id, content, role, metadata, parent_id, creation_time, update_time)
         VALUES (?,?,?,?,?,?,?,?)`,
		req.MessageID, req.SessionID, req.Content, req.Role, meta, req.ParentID, now, now)
	if err != nil {
		return nil, err
	}
	return &store.MessageRecord{
		MessageID:    req.MessageID,
		SessionID:    req.SessionID,
		Content:      req.Content,
		Role:         req.Role,
		Metadata:     req.Metadata,
		ParentID:     req.ParentID,
		CreationTime: now,
		UpdateTime:   now,
	}, nil
}

func (r *messages) List(ctx context.Context, sessionID string) ([]*store.MessageRecord, error) {
	rows, err := r.s.db.QueryContext(ctx,
		`SELECT message_id, session_id, content, role, metadata, parent_id, creation_time, update_time
         FROM messages WHERE session_id = ? ORDER BY creation_time ASC, message_id ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*store.MessageRecord
	for rows.Next() {
		rec, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanMessage(row scanner) (*store.MessageRecord, error) {
	var rec store.MessageRecord
	var meta sql.NullString
	var parent sql.NullString
	if err := row.Scan(&rec.MessageID, &rec.SessionID, &rec.Content, &rec.Role, &meta, &parent, &rec.CreationTime, &rec.UpdateTime); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, err
	}
	if meta.Valid {
		rec.Metadata = []byte(meta.String)
	}
	if parent.Valid {
		p := parent.String
		rec.ParentID = &p
	}
	return &rec, nil
}

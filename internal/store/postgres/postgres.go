// Package postgres implements the persistence collaborator on PostgreSQL
// via the pgx stdlib driver. Schema is applied by external migrations; this
// package only reads and writes.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/casaflow/chatcore/internal/model"
	"github.com/casaflow/chatcore/internal/store"
)

// Open opens a PostgreSQL connection and verifies connectivity.
func Open(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is empty")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Bootstrap verifies the expected schema is in place. It does not run
// migrations; those are applied externally.
func Bootstrap(ctx context.Context, dsn string) error {
	db, err := Open(dsn)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	for _, table := range []string{"sessions", "messages"} {
		var one int
		err := db.QueryRowContext(ctx,
			`SELECT 1 FROM information_schema.tables WHERE table_name=$1`, table).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("required table %q is missing; run migrations first", table)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Store implements store.Store on Postgres.
type Store struct {
	db          *sql.DB
	dedupWindow time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithDedupWindow overrides the duplicate-append detection window.
func WithDedupWindow(d time.Duration) Option {
	return func(s *Store) { s.dedupWindow = d }
}

// NewWithDB constructs a Postgres-backed store on an existing connection.
func NewWithDB(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, dedupWindow: 10 * time.Second}
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

func (s *Store) Sessions() store.Sessions { return &sessions{s} }
func (s *Store) Messages() store.Messages { return &messages{s} }

// --- Sessions ---

type sessions struct{ s *Store }

func (r *sessions) Create(ctx context.Context, ownerID, title string) (*store.SessionRecord, error) {
	id := uuid.New().String()
	var created time.Time
	row := r.s.db.QueryRowContext(ctx, `
        INSERT INTO sessions (session_id, owner_id, title)
        VALUES ($1,$2,$3)
        RETURNING creation_time
    `, id, ownerID, title)
	if err := row.Scan(&created); err != nil {
		return nil, err
	}
	return &store.SessionRecord{
		SessionID:    id,
		OwnerID:      ownerID,
		Title:        title,
		CreationTime: created,
	}, nil
}

func (r *sessions) Get(ctx context.Context, sessionID string) (*store.SessionRecord, error) {
	row := r.s.db.QueryRowContext(ctx, `
        SELECT session_id, owner_id, title, metadata, creation_time, update_time
        FROM sessions WHERE session_id=$1
    `, sessionID)
	return scanSession(row)
}

func (r *sessions) IsOwnedBy(ctx context.Context, sessionID, ownerID string) (bool, error) {
	var one int
	err := r.s.db.QueryRowContext(ctx,
		`SELECT 1 FROM sessions WHERE session_id=$1 AND owner_id=$2`,
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
	res, err := r.s.db.ExecContext(ctx, `
        UPDATE sessions SET metadata=$1, update_time=now() WHERE session_id=$2
    `, string(metadata), sessionID)
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
	rows, err := r.s.db.QueryContext(ctx, `
        SELECT session_id, owner_id, title, metadata, creation_time, update_time
        FROM sessions WHERE owner_id=$1 ORDER BY creation_time DESC
    `, ownerID)
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
	row := r.s.db.QueryRowContext(ctx, `
        SELECT message_id, session_id, content, role, metadata, parent_id, creation_time, update_time
        FROM messages
        WHERE session_id=$1 AND content=$2 AND role=$3 AND creation_time >= now() - $4::interval
        ORDER BY creation_time DESC LIMIT 1
    `, req.SessionID, req.Content, req.Role, r.s.dedupWindow.String())
	if existing, err := scanMessage(row); err == nil {
		return existing, nil
	} else if !errors.Is(err, model.ErrNotFound) {
		return nil, err
	}

	var meta interface{}
	if len(req.Metadata) > 0 {
		meta = string(req.Metadata)
	}
	var created, updated time.Time
	ins := r.s.db.QueryRowContext(ctx, `
        INSERT INTO messages (message_id, session_id, content, role, metadata, parent_id)
        VALUES ($1,$2,$3,$4,$5,$6)
        RETURNING creation_time, update_time
    `, req.MessageID, req.SessionID, req.Content, req.Role, meta, req.ParentID)
	if err := ins.Scan(&created, &updated); err != nil {
		return nil, err
	}
	return &store.MessageRecord{
		MessageID:    req.MessageID,
		SessionID:    req.SessionID,
		Content:      req.Content,
		Role:         req.Role,
		Metadata:     req.Metadata,
		ParentID:     req.ParentID,
		CreationTime: created,
		UpdateTime:   updated,
	}, nil
}

func (r *messages) List(ctx context.Context, sessionID string) ([]*store.MessageRecord, error) {
	rows, err := r.s.db.QueryContext(ctx, `
        SELECT message_id, session_id, content, role, metadata, parent_id, creation_time, update_time
        FROM messages WHERE session_id=$1 ORDER BY creation_time ASC, message_id ASC
    `, sessionID)
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

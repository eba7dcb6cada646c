// Package store defines the durable persistence collaborator fronted by the
// thread store. Implementations live under internal/store/<driver>/
// (sqlite, postgres). Durable storage is the source of truth across process
// restarts; the in-memory thread cache is rebuilt from it on demand.
package store

import (
	"context"
	"time"
)

// SessionRecord is the durable form of a thread.
type SessionRecord struct {
	SessionID    string     `json:"sessionId"`
	OwnerID      string     `json:"ownerId"`
	Title        string     `json:"title"`
	Metadata     []byte     `json:"metadata,omitempty"` // serialized context JSON
	CreationTime time.Time  `json:"creationTime"`
	UpdateTime   *time.Time `json:"updateTime,omitempty"`
}

// MessageRecord is the durable form of a message. Metadata is stored raw;
// older rows may carry a JSON string where newer ones carry an object, so
// readers parse it best-effort.
type MessageRecord struct {
	MessageID    string    `json:"messageId"`
	SessionID    string    `json:"sessionId"`
	Content      string    `json:"content"`
	Role         string    `json:"role"`
	Metadata     []byte    `json:"metadata,omitempty"`
	ParentID     *string   `json:"parentId,omitempty"`
	CreationTime time.Time `json:"creationTime"`
	UpdateTime   time.Time `json:"updateTime"`
}

// AppendMessageRequest carries a message write. MessageID is pre-generated by
// the caller; the store returns the existing record instead when an identical
// (session, content, role) write lands inside the dedup window.
type AppendMessageRequest struct {
	SessionID string
	MessageID string
	Content   string
	Role      string
	Metadata  []byte
	ParentID  *string
}

// Store exposes persistence operations required by the thread store.
type Store interface {
	Sessions() Sessions
	Messages() Messages
}

// Sessions manages durable session records and ownership checks.
type Sessions interface {
	Create(ctx context.Context, ownerID, title string) (*SessionRecord, error)
	Get(ctx context.Context, sessionID string) (*SessionRecord, error)
	// IsOwnedBy reports whether sessionID belongs to ownerID. A missing
	// session is not an error; it is simply not owned.
	IsOwnedBy(ctx context.Context, sessionID, ownerID string) (bool, error)
	// SetMetadata replaces the serialized context attached to a session.
	SetMetadata(ctx context.Context, sessionID string, metadata []byte) error
	ListByOwner(ctx context.Context, ownerID string) ([]*SessionRecord, error)
}

// Messages manages the durable message log.
type Messages interface {
	// Append persists a message. Idempotent for identical
	// (sessionID, content, role) submitted within the dedup window: the
	// original record, with its original id, is returned for duplicates.
	Append(ctx context.Context, req AppendMessageRequest) (*MessageRecord, error)
	// List returns every message of a session ordered by creation time
	// ascending.
	List(ctx context.Context, sessionID string) ([]*MessageRecord, error)
}

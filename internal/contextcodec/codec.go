// Package contextcodec converts context windows to and from their durable,
// JSON-safe representation and validates structural invariants before any
// persist. Both JSON blobs inside SerializedContext are encoded arrays so the
// durable store never needs to understand the window's structure.
package contextcodec

import (
	"encoding/json"
	"fmt"

	"github.com/casaflow/chatcore/internal/model"
)

// SerializedContext is the durable representation of a context window.
// ShortTerm and LongTerm are JSON-encoded arrays.
type SerializedContext struct {
	ShortTerm string                 `json:"shortTerm"`
	LongTerm  string                 `json:"longTerm"`
	Metadata  map[string]interface{} `json:"metadata"`
	Summary   string                 `json:"summary"`
}

// sanitizedMessage is the exact field set allowed to reach durable storage.
// Re-encoding through it strips anything malformed upstream code may have
// attached to a message.
type sanitizedMessage struct {
	ID          string                 `json:"id"`
	ThreadID    string                 `json:"threadId"`
	Content     string                 `json:"content"`
	Role        model.Role             `json:"role"`
	CreatedAt   string                 `json:"createdAt"`
	UpdatedAt   string                 `json:"updatedAt"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	ParentID    *string                `json:"parentId,omitempty"`
	Attachments []model.Attachment     `json:"attachments,omitempty"`
}

const timeLayout = "2006-01-02T15:04:05.999999999Z07:00"

func sanitize(m model.Message) sanitizedMessage {
	return sanitizedMessage{
		ID:          m.ID,
		ThreadID:    m.ThreadID,
		Content:     m.Content,
		Role:        m.Role,
		CreatedAt:   m.CreatedAt.UTC().Format(timeLayout),
		UpdatedAt:   m.UpdatedAt.UTC().Format(timeLayout),
		Metadata:    m.Metadata,
		ParentID:    m.ParentID,
		Attachments: m.Attachments,
	}
}

// Serialize converts a context window into its durable form. The window is
// validated first; a window that fails validation never reaches storage.
func Serialize(w model.ContextWindow) (*SerializedContext, error) {
	if err := Validate(w); err != nil {
		return nil, err
	}

	short := make([]sanitizedMessage, 0, len(w.ShortTerm))
	for _, m := range w.ShortTerm {
		short = append(short, sanitize(m))
	}
	shortJSON, err := json.Marshal(short)
	if err != nil {
		return nil, model.SerializationError{Field: "shortTerm", Err: err}
	}

	long := w.LongTerm
	if long == nil {
		long = []model.ContextItem{}
	}
	longJSON, err := json.Marshal(long)
	if err != nil {
		return nil, model.SerializationError{Field: "longTerm", Err: err}
	}

	meta := w.Metadata
	if meta == nil {
		meta = map[string]interface{}{}
	}
	return &SerializedContext{
		ShortTerm: string(shortJSON),
		LongTerm:  string(longJSON),
		Metadata:  meta,
		Summary:   w.Summary,
	}, nil
}

// Deserialize is the inverse of Serialize. A blob that does not parse is
// fatal for the current operation; callers must not substitute an empty
// window, which would silently destroy conversation memory.
func Deserialize(s *SerializedContext) (*model.ContextWindow, error) {
	if s == nil {
		return nil, model.SerializationError{Field: "context", Err: fmt.Errorf("nil serialized context")}
	}

	var short []model.Message
	if err := json.Unmarshal([]byte(s.ShortTerm), &short); err != nil {
		return nil, model.SerializationError{Field: "shortTerm", Err: err}
	}
	var long []model.ContextItem
	if err := json.Unmarshal([]byte(s.LongTerm), &long); err != nil {
		return nil, model.SerializationError{Field: "longTerm", Err: err}
	}

	if short == nil {
		short = []model.Message{}
	}
	if long == nil {
		long = []model.ContextItem{}
	}
	meta := s.Metadata
	if meta == nil {
		meta = map[string]interface{}{}
	}
	w := &model.ContextWindow{
		ShortTerm: short,
		LongTerm:  long,
		Metadata:  meta,
		Summary:   s.Summary,
	}
	if err := Validate(*w); err != nil {
		return nil, err
	}
	return w, nil
}

// Validate performs the structural check used defensively before every
// persist: message roles constrained to the three-role enum, long-term keys
// constrained to the fixed vocabulary, non-empty values.
func Validate(w model.ContextWindow) error {
	for i, m := range w.ShortTerm {
		if !m.Role.Valid() {
			return model.InvalidContextError{
				Reason: fmt.Sprintf("shortTerm[%d]: unknown role %q", i, m.Role),
			}
		}
		if m.ID == "" {
			return model.InvalidContextError{
				Reason: fmt.Sprintf("shortTerm[%d]: missing message id", i),
			}
		}
	}
	seen := make(map[model.ContextKey]bool, len(w.LongTerm))
	for i, item := range w.LongTerm {
		if !item.Key.Valid() {
			return model.InvalidContextError{
				Reason: fmt.Sprintf("longTerm[%d]: unknown key %q", i, item.Key),
			}
		}
		if item.Value == "" {
			return model.InvalidContextError{
				Reason: fmt.Sprintf("longTerm[%d]: empty value for %s", i, item.Key),
			}
		}
		if seen[item.Key] {
			return model.InvalidContextError{
				Reason: fmt.Sprintf("longTerm[%d]: duplicate key %s", i, item.Key),
			}
		}
		seen[item.Key] = true
	}
	return nil
}

// Migrate fills structural defaults for any missing field of a window created
// before the field existed, then serializes. Used when upgrading threads that
// predate the current schema.
func Migrate(partial model.ContextWindow) (*SerializedContext, error) {
	if partial.ShortTerm == nil {
		partial.ShortTerm = []model.Message{}
	}
	if partial.LongTerm == nil {
		partial.LongTerm = []model.ContextItem{}
	}
	if partial.Metadata == nil {
		partial.Metadata = map[string]interface{}{}
	}
	return Serialize(partial)
}

// Encode marshals the serialized form to a single JSON document for the
// session metadata column.
func Encode(s *SerializedContext) ([]byte, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, model.SerializationError{Field: "context", Err: err}
	}
	return b, nil
}

// Decode parses the session metadata column back into the serialized form.
func Decode(raw []byte) (*SerializedContext, error) {
	var s SerializedContext
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, model.SerializationError{Field: "context", Err: err}
	}
	return &s, nil
}

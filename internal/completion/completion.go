// Package completion defines the text-completion collaborator consumed by
// the chat runtime, plus an HTTP-backed implementation. The service is
// opaque: the runtime hands it message history and gets text back, with
// optional auxiliary analysis when the conversation looks actionable.
package completion

import (
	"context"

	"github.com/casaflow/chatcore/internal/model"
)

// Result is one completed turn. Auxiliary fields are optional; their absence
// is valid, not an error.
type Result struct {
	Content          string                  `json:"content"`
	TicketSuggestion *model.TicketSuggestion `json:"ticketSuggestion,omitempty"`
	Insights         []string                `json:"insights,omitempty"`
}

// Chunk is one fragment of a streamed response.
type Chunk struct {
	Content string `json:"content"`
	Done    bool   `json:"done"`
	Err     error  `json:"-"`
}

// Service produces a completion for a message history. Implementations must
// honor ctx cancellation best-effort: generation may keep running remotely,
// but Complete must return promptly once ctx is done.
type Service interface {
	Complete(ctx context.Context, history []model.Message) (*Result, error)
}

// Streamer is implemented by services that can stream a generated draft
// chunk by chunk. The channel is closed after the final chunk.
type Streamer interface {
	StreamComplete(ctx context.Context, history []model.Message) (<-chan Chunk, error)
}

// Analyzer is implemented by services that can re-derive ticket-suggestion
// and insight metadata from an existing history without generating a reply.
type Analyzer interface {
	Analyze(ctx context.Context, history []model.Message) (*Result, error)
}

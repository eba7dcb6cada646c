package api

import (
	"context"

	"github.com/casaflow/chatcore/internal/completion"
	"github.com/casaflow/chatcore/internal/model"
)

// ThreadService is the slice of the thread store the HTTP layer consumes.
type ThreadService interface {
	CreateThread(ctx context.Context, initial *model.Message) (string, error)
	SwitchThread(ctx context.Context, threadID string) error
	GetThread(threadID string) *model.Thread
	GetAllThreads() []*model.Thread
	CurrentThreadID() string
	UpdateThreadContext(ctx context.Context, threadID string, patch model.ContextWindow) error
}

// RuntimeService is the slice of the chat runtime the HTTP layer consumes.
type RuntimeService interface {
	SendMessage(ctx context.Context, content string, attachments []model.Attachment) error
	EditMessage(ctx context.Context, messageID, newContent string) error
	ReloadThread(ctx context.Context, threadID string) error
	CancelResponse()
	StreamTicketDraft(ctx context.Context) (<-chan completion.Chunk, error)
}

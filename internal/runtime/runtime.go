// Package runtime sequences single conversational turns on top of the
// thread store: send a user message, await the completion service, append
// the reply, refresh context and analysis. At most one send is in flight per
// runtime instance; a second attempt fails fast instead of queuing.
package runtime

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/casaflow/chatcore/internal/completion"
	"github.com/casaflow/chatcore/internal/model"
	"github.com/casaflow/chatcore/internal/threadstore"
)

// Runtime orchestrates turns for one caller. It is not a per-thread lock:
// two runtimes pointed at the same thread id are not serialized against each
// other.
type Runtime struct {
	threads *threadstore.ThreadStore
	svc     completion.Service
	log     zerolog.Logger

	turns *turnGuard
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger attaches a logger.
func WithLogger(log zerolog.Logger) Option {
	return func(r *Runtime) { r.log = log }
}

// New constructs a Runtime over a thread store and a completion service.
func New(threads *threadstore.ThreadStore, svc completion.Service, opts ...Option) *Runtime {
	r := &Runtime{
		threads: threads,
		svc:     svc,
		log:     zerolog.Nop(),
		turns:   newTurnGuard(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CreateThread delegates to the thread store, for callers holding only a
// runtime handle.
func (r *Runtime) CreateThread(ctx context.Context) (string, error) {
	return r.threads.CreateThread(ctx, nil)
}

// SwitchThread delegates to the thread store.
func (r *Runtime) SwitchThread(ctx context.Context, threadID string) error {
	return r.threads.SwitchThread(ctx, threadID)
}

// SendMessage runs one conversational turn: append the user message, invoke
// the completion service with the thread's full history, append the
// assistant reply stamped with the user message's id, fold any auxiliary
// analysis into thread metadata, and refresh context. Returns
// model.ErrConcurrentSend when a turn is already in flight. A failed send
// leaves the prior conversation state intact.
func (r *Runtime) SendMessage(ctx context.Context, content string, attachments []model.Attachment) error {
	turn, err := r.turns.begin(ctx)
	if err != nil {
		return err
	}
	defer r.turns.end(turn)

	thread := r.threads.GetCurrentThread()
	if thread == nil {
		return model.ThreadNotFoundError{ThreadID: ""}
	}

	now := time.Now().UTC()
	userMsg := model.Message{
		ID:          ulid.Make().String(),
		ThreadID:    thread.ID,
		Content:     content,
		Role:        model.RoleUser,
		CreatedAt:   now,
		UpdatedAt:   now,
		Attachments: attachments,
	}
	stored, err := r.threads.AddMessage(ctx, thread.ID, userMsg)
	if err != nil {
		sendFailures.Inc()
		return err
	}

	history := r.threads.GetThread(thread.ID).Messages
	res, err := r.svc.Complete(turn.ctx, history)
	if err != nil {
		sendFailures.Inc()
		r.log.Error().Stack().Err(err).Str("thread_id", thread.ID).Msg("completion call failed")
		return err
	}
	// The service may ignore the advisory cancel and hand back a reply
	// anyway. A cancelled turn is abandoned regardless: persisting the late
	// reply would interleave it into whatever turn now owns the slot.
	if cerr := turn.ctx.Err(); cerr != nil {
		r.log.Info().Str("thread_id", thread.ID).Msg("discarding completion for cancelled turn")
		return cerr
	}

	reply := model.Message{
		ID:        ulid.Make().String(),
		ThreadID:  thread.ID,
		Content:   res.Content,
		Role:      model.RoleAssistant,
		ParentID:  &stored.ID,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if _, err := r.threads.AddMessage(ctx, thread.ID, reply); err != nil {
		sendFailures.Inc()
		return err
	}

	if res.TicketSuggestion != nil || len(res.Insights) > 0 {
		patch := model.ThreadMetadata{
			TicketSuggestion: res.TicketSuggestion,
			Insights:         res.Insights,
		}
		if err := r.threads.UpdateThreadMetadata(ctx, thread.ID, patch); err != nil {
			// Auxiliary analysis is best-effort; the turn itself succeeded.
			r.log.Warn().Err(err).Str("thread_id", thread.ID).Msg("failed to persist auxiliary analysis")
		}
	}

	sendsCompleted.Inc()
	return nil
}

// EditMessage replaces a message's content in place, discards every message
// after it, and re-derives context and analysis from the truncated history.
func (r *Runtime) EditMessage(ctx context.Context, messageID, newContent string) error {
	thread := r.threads.GetCurrentThread()
	if thread == nil {
		return model.ThreadNotFoundError{ThreadID: ""}
	}
	if err := r.threads.TruncateAt(ctx, thread.ID, messageID, newContent); err != nil {
		return err
	}
	return r.ReloadThread(ctx, thread.ID)
}

// ReloadThread re-derives the context window, and when the completion
// service supports analysis, the ticket-suggestion/insight metadata, from a
// thread's full current message list. An empty threadID means the current
// thread.
func (r *Runtime) ReloadThread(ctx context.Context, threadID string) error {
	if threadID == "" {
		threadID = r.threads.CurrentThreadID()
	}
	if threadID == "" {
		return model.ThreadNotFoundError{ThreadID: threadID}
	}

	if _, err := r.threads.RebuildContext(ctx, threadID); err != nil {
		return err
	}

	analyzer, ok := r.svc.(completion.Analyzer)
	if !ok {
		return nil
	}
	thread := r.threads.GetThread(threadID)
	if thread == nil {
		return model.ThreadNotFoundError{ThreadID: threadID}
	}
	if len(thread.Messages) == 0 {
		return nil
	}
	res, err := analyzer.Analyze(ctx, thread.Messages)
	if err != nil {
		// Analysis is derived data; reload still succeeded.
		r.log.Warn().Err(err).Str("thread_id", threadID).Msg("analysis refresh failed")
		return nil
	}
	patch := model.ThreadMetadata{
		TicketSuggestion: res.TicketSuggestion,
		Insights:         res.Insights,
	}
	return r.threads.UpdateThreadMetadata(ctx, threadID, patch)
}

// CancelResponse signals cancellation to the in-flight completion call, if
// any, and immediately frees the runtime for a new send. Cancellation is
// advisory to the service but authoritative here: once cancelled, the turn
// is abandoned even if a response later arrives.
func (r *Runtime) CancelResponse() {
	if r.turns.cancel() {
		sendsCancelled.Inc()
	}
}

// StreamTicketDraft streams a generated ticket draft for the current thread
// when the completion service supports streaming. Chunks are forwarded as
// fast as the source produces them.
func (r *Runtime) StreamTicketDraft(ctx context.Context) (<-chan completion.Chunk, error) {
	streamer, ok := r.svc.(completion.Streamer)
	if !ok {
		return nil, model.ErrValidation
	}
	thread := r.threads.GetCurrentThread()
	if thread == nil {
		return nil, model.ThreadNotFoundError{ThreadID: ""}
	}
	return streamer.StreamComplete(ctx, thread.Messages)
}

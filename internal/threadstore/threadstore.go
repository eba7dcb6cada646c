// Package threadstore keeps the authoritative per-process view of a user's
// conversation threads: the thread map, the per-thread message cache, and a
// session-validation cache with TTL, all fronting the durable persistence
// collaborator. Durable storage remains the source of truth across restarts;
// everything here can be rebuilt from it.
package threadstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/casaflow/chatcore/internal/contextcodec"
	"github.com/casaflow/chatcore/internal/contextmgr"
	"github.com/casaflow/chatcore/internal/model"
	"github.com/casaflow/chatcore/internal/store"
	"github.com/casaflow/chatcore/internal/ttlcache"
)

const (
	// DefaultSessionTTL bounds how long a validation verdict is trusted
	// without a durable-store round trip.
	DefaultSessionTTL = 5 * time.Minute

	// appendWindow is the tighter short-term slice persisted on the
	// message-append path, distinct from the generic memory window.
	appendWindow = 5

	// titleLimit caps thread titles derived from message content.
	titleLimit = 50

	defaultTitle   = "New Conversation"
	recoveredTitle = "Conversation"
)

// ManagerFactory builds the context manager for a newly cached thread.
type ManagerFactory func() *contextmgr.Manager

// ThreadStore serves exactly one owning principal. It must not be shared
// across principals: the validation cache's verdicts are principal-specific.
type ThreadStore struct {
	ownerID string
	store   store.Store
	log     zerolog.Logger

	newManager ManagerFactory
	window     int

	mu         sync.Mutex
	threads    map[string]*model.Thread
	messages   map[string][]model.Message
	managers   map[string]*contextmgr.Manager
	currentID  string
	validation *ttlcache.Cache[string, bool]
}

// Option configures a ThreadStore.
type Option func(*ThreadStore)

// WithSessionTTL overrides the validation cache TTL.
func WithSessionTTL(ttl time.Duration) Option {
	return func(ts *ThreadStore) { ts.validation = ttlcache.New[string, bool](ttl) }
}

// WithMemoryWindow overrides the generic short-term window.
func WithMemoryWindow(n int) Option {
	return func(ts *ThreadStore) {
		if n > 0 {
			ts.window = n
		}
	}
}

// WithManagerFactory injects the context-manager constructor, letting tests
// control clocks and extraction rules.
func WithManagerFactory(f ManagerFactory) Option {
	return func(ts *ThreadStore) { ts.newManager = f }
}

// WithLogger attaches a logger.
func WithLogger(log zerolog.Logger) Option {
	return func(ts *ThreadStore) { ts.log = log }
}

// New constructs a ThreadStore bound to ownerID.
func New(ownerID string, st store.Store, opts ...Option) *ThreadStore {
	ts := &ThreadStore{
		ownerID:    ownerID,
		store:      st,
		log:        zerolog.Nop(),
		window:     contextmgr.DefaultWindow,
		threads:    make(map[string]*model.Thread),
		messages:   make(map[string][]model.Message),
		managers:   make(map[string]*contextmgr.Manager),
		validation: ttlcache.New[string, bool](DefaultSessionTTL),
	}
	for _, opt := range opts {
		opt(ts)
	}
	if ts.newManager == nil {
		window := ts.window
		ts.newManager = func() *contextmgr.Manager {
			return contextmgr.New(contextmgr.WithWindow(window))
		}
	}
	return ts
}

// OwnerID returns the principal this store is bound to.
func (ts *ThreadStore) OwnerID() string { return ts.ownerID }

func deriveTitle(content, fallback string) string {
	if content == "" {
		return fallback
	}
	runes := []rune(content)
	if len(runes) > titleLimit {
		return string(runes[:titleLimit])
	}
	return content
}

// CreateThread allocates a durable session record, seeds an empty cache
// entry, and makes the new thread current. If an initial message is supplied
// it is appended immediately. No partial cache entry is left behind when the
// durable create fails.
func (ts *ThreadStore) CreateThread(ctx context.Context, initial *model.Message) (string, error) {
	title := defaultTitle
	if initial != nil {
		title = deriveTitle(initial.Content, defaultTitle)
	}

	rec, err := ts.store.Sessions().Create(ctx, ts.ownerID, title)
	if err != nil {
		return "", model.PersistenceError{Op: "createSession", Err: err}
	}

	ts.mu.Lock()
	ts.threads[rec.SessionID] = &model.Thread{
		ID:        rec.SessionID,
		Title:     rec.Title,
		CreatedAt: rec.CreationTime,
		UpdatedAt: rec.CreationTime,
	}
	ts.messages[rec.SessionID] = nil
	ts.managers[rec.SessionID] = ts.newManager()
	ts.currentID = rec.SessionID
	// We just created this session, so the verdict is known.
	ts.validation.Set(rec.SessionID, true)
	ts.mu.Unlock()

	threadsCreated.Inc()

	if initial != nil {
		msg := *initial
		msg.ThreadID = rec.SessionID
		if _, err := ts.AddMessage(ctx, rec.SessionID, msg); err != nil {
			return rec.SessionID, err
		}
	}
	return rec.SessionID, nil
}

// AddMessage validates the session, persists the message, and folds it into
// the cached thread and its context window. The persisted context uses the
// tighter 5-message short-term slice reserved for the append path. Neither a
// failed validation nor a failed durable write mutates the cache.
func (ts *ThreadStore) AddMessage(ctx context.Context, threadID string, msg model.Message) (*model.Message, error) {
	valid, err := ts.ValidateSession(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if !valid {
		return nil, model.InvalidSessionError{ThreadID: threadID}
	}

	if msg.ID == "" {
		msg.ID = ulid.Make().String()
	}

	var metaJSON []byte
	if msg.Metadata != nil {
		metaJSON, err = json.Marshal(msg.Metadata)
		if err != nil {
			return nil, model.SerializationError{Field: "messageMetadata", Err: err}
		}
	}

	rec, err := ts.store.Messages().Append(ctx, store.AppendMessageRequest{
		SessionID: threadID,
		MessageID: msg.ID,
		Content:   msg.Content,
		Role:      string(msg.Role),
		Metadata:  metaJSON,
		ParentID:  msg.ParentID,
	})
	if err != nil {
		return nil, model.MessagePersistError{ThreadID: threadID, Err: err}
	}

	stored := recordToMessage(rec)
	stored.Attachments = msg.Attachments

	ts.mu.Lock()
	defer ts.mu.Unlock()

	thread, ok := ts.threads[threadID]
	if !ok {
		return nil, model.ThreadNotFoundError{ThreadID: threadID}
	}

	// A deduplicated retry returns the original record; don't cache it twice.
	duplicate := false
	for _, m := range ts.messages[threadID] {
		if m.ID == stored.ID {
			duplicate = true
			break
		}
	}
	if !duplicate {
		ts.messages[threadID] = append(ts.messages[threadID], stored)
		messagesAppended.Inc()
	}
	thread.UpdatedAt = stored.UpdatedAt

	mgr := ts.managers[threadID]
	if !duplicate {
		mgr.UpdateContext(stored)
	}
	window := mgr.Window(appendWindow)
	thread.Context = window

	if err := ts.persistContextLocked(ctx, threadID, window); err != nil {
		return nil, err
	}
	return &stored, nil
}

// persistContextLocked validates, serializes, and writes a context window to
// the session metadata column. Callers hold ts.mu.
func (ts *ThreadStore) persistContextLocked(ctx context.Context, threadID string, window model.ContextWindow) error {
	ser, err := contextcodec.Serialize(window)
	if err != nil {
		ts.log.Error().Stack().Err(err).Str("thread_id", threadID).
			Int("short_term", len(window.ShortTerm)).
			Int("long_term", len(window.LongTerm)).
			Msg("refusing to persist invalid context window")
		return err
	}
	raw, err := contextcodec.Encode(ser)
	if err != nil {
		return err
	}
	if err := ts.store.Sessions().SetMetadata(ctx, threadID, raw); err != nil {
		return model.PersistenceError{Op: "setSessionMetadata", Err: err}
	}
	return nil
}

// SwitchThread validates ownership, recovers the thread from durable storage
// if it is not cached, and makes it current.
func (ts *ThreadStore) SwitchThread(ctx context.Context, threadID string) error {
	valid, err := ts.ValidateSession(ctx, threadID)
	if err != nil {
		return err
	}
	if !valid {
		return model.InvalidSessionError{ThreadID: threadID}
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()
	// A valid verdict from ValidateSession implies the thread is resident.
	ts.currentID = threadID
	return nil
}

// recoverThreadLocked bulk-loads a session record and its messages and
// rebuilds the in-memory thread. Callers hold ts.mu.
func (ts *ThreadStore) recoverThreadLocked(ctx context.Context, threadID string) error {
	var (
		rec  *store.SessionRecord
		recs []*store.MessageRecord
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		rec, err = ts.store.Sessions().Get(gctx, threadID)
		return err
	})
	g.Go(func() error {
		var err error
		recs, err = ts.store.Messages().List(gctx, threadID)
		return err
	})
	if err := g.Wait(); err != nil {
		return model.PersistenceError{Op: "recoverThread", Err: err}
	}

	msgs := make([]model.Message, 0, len(recs))
	for _, r := range recs {
		msgs = append(msgs, recordToMessage(r))
	}

	title := rec.Title
	if title == "" {
		if len(msgs) > 0 {
			title = deriveTitle(msgs[0].Content, recoveredTitle)
		} else {
			title = recoveredTitle
		}
	}

	mgr := ts.newManager()
	if len(msgs) > appendWindow {
		mgr.SeedShortTerm(msgs[len(msgs)-appendWindow:])
	} else {
		mgr.SeedShortTerm(msgs)
	}
	if len(rec.Metadata) > 0 {
		ser, err := contextcodec.Decode(rec.Metadata)
		if err != nil {
			return err
		}
		window, err := contextcodec.Deserialize(ser)
		if err != nil {
			// Structural corruption is fatal: silently replacing the
			// context would destroy conversation memory.
			return err
		}
		mgr.SeedFacts(window.LongTerm)
		for k, v := range window.Metadata {
			mgr.SetMetadata(k, v)
		}
	}

	updated := rec.CreationTime
	if rec.UpdateTime != nil {
		updated = *rec.UpdateTime
	}
	thread := &model.Thread{
		ID:        threadID,
		Title:     title,
		CreatedAt: rec.CreationTime,
		UpdatedAt: updated,
		Context:   mgr.Window(ts.window),
	}

	if err := ts.persistContextLocked(ctx, threadID, thread.Context); err != nil {
		return err
	}

	ts.threads[threadID] = thread
	ts.messages[threadID] = msgs
	ts.managers[threadID] = mgr
	threadsRecovered.Inc()
	ts.log.Info().Str("thread_id", threadID).Int("messages", len(msgs)).Msg("thread recovered from durable storage")
	return nil
}

// ValidateSession checks the TTL cache first and only on a miss performs the
// durable ownership check, caching the verdict either way. A "valid" verdict
// for a thread absent from the in-memory cache triggers a full recovery,
// whether the verdict came from the TTL cache or a fresh ownership check,
// closing the gap between "caller is authorized" and "this process has the
// thread". A cached negative verdict may be up to TTL old; it gates nothing
// beyond this cache itself.
func (ts *ThreadStore) ValidateSession(ctx context.Context, threadID string) (bool, error) {
	verdict, hit := ts.validation.Get(threadID)
	if hit {
		validationHits.Inc()
		if !verdict {
			return false, nil
		}
	} else {
		validationMisses.Inc()
		valid, err := ts.store.Sessions().IsOwnedBy(ctx, threadID, ts.ownerID)
		if err != nil {
			return false, model.PersistenceError{Op: "isOwnedBy", Err: err}
		}
		if !valid {
			ts.validation.Set(threadID, false)
			return false, nil
		}
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()
	if _, cached := ts.threads[threadID]; !cached {
		if err := ts.recoverThreadLocked(ctx, threadID); err != nil {
			return false, err
		}
	}
	// Cache the positive verdict only once the thread is resident, so a
	// transient recovery failure is retried on the next call instead of
	// hiding behind the cache for a full TTL.
	if !hit {
		ts.validation.Set(threadID, true)
	}
	return true, nil
}

// GetThread returns the cached thread merged with its latest message list
// and context, or nil when uncached.
func (ts *ThreadStore) GetThread(threadID string) *model.Thread {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.snapshotLocked(threadID)
}

// GetCurrentThread returns the current thread, or nil when none is set.
func (ts *ThreadStore) GetCurrentThread() *model.Thread {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.currentID == "" {
		return nil
	}
	return ts.snapshotLocked(ts.currentID)
}

// CurrentThreadID returns the id of the current thread, or "".
func (ts *ThreadStore) CurrentThreadID() string {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.currentID
}

// GetAllThreads returns every cached thread with the same freshness
// guarantee as GetThread.
func (ts *ThreadStore) GetAllThreads() []*model.Thread {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	out := make([]*model.Thread, 0, len(ts.threads))
	for id := range ts.threads {
		out = append(out, ts.snapshotLocked(id))
	}
	return out
}

// snapshotLocked merges the Thread object with the freshest message list so
// callers never observe stale messages even when the Thread object lags.
// Callers hold ts.mu.
func (ts *ThreadStore) snapshotLocked(threadID string) *model.Thread {
	t, ok := ts.threads[threadID]
	if !ok {
		return nil
	}
	out := *t
	msgs := ts.messages[threadID]
	out.Messages = make([]model.Message, len(msgs))
	copy(out.Messages, msgs)
	if mgr, ok := ts.managers[threadID]; ok {
		out.Context = mgr.Window(ts.window)
	}
	return &out
}

// UpdateThreadMetadata shallow-merges derived analysis into the thread's
// metadata, validates the resulting context, and persists it.
func (ts *ThreadStore) UpdateThreadMetadata(ctx context.Context, threadID string, patch model.ThreadMetadata) error {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	thread, ok := ts.threads[threadID]
	if !ok {
		return model.ThreadNotFoundError{ThreadID: threadID}
	}
	mgr := ts.managers[threadID]

	if patch.TicketSuggestion != nil {
		thread.Metadata.TicketSuggestion = patch.TicketSuggestion
		mgr.SetMetadata("ticketSuggestion", patch.TicketSuggestion)
	}
	if patch.Insights != nil {
		thread.Metadata.Insights = patch.Insights
		mgr.SetMetadata("insights", patch.Insights)
	}
	if patch.Summary != "" {
		thread.Metadata.Summary = patch.Summary
	}

	window := mgr.Window(ts.window)
	if err := contextcodec.Validate(window); err != nil {
		return err
	}
	return ts.persistContextLocked(ctx, threadID, window)
}

// UpdateThreadContext shallow-merges non-nil fields of patch into the
// thread's context window. The merged window is validated before any state
// changes; an invalid patch is rejected with InvalidContextError.
func (ts *ThreadStore) UpdateThreadContext(ctx context.Context, threadID string, patch model.ContextWindow) error {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	thread, ok := ts.threads[threadID]
	if !ok {
		return model.ThreadNotFoundError{ThreadID: threadID}
	}
	mgr := ts.managers[threadID]

	merged := mgr.Window(ts.window)
	if patch.ShortTerm != nil {
		merged.ShortTerm = patch.ShortTerm
	}
	if patch.LongTerm != nil {
		merged.LongTerm = patch.LongTerm
	}
	if patch.Metadata != nil {
		for k, v := range patch.Metadata {
			merged.Metadata[k] = v
		}
	}
	if err := contextcodec.Validate(merged); err != nil {
		return err
	}

	if patch.ShortTerm != nil {
		mgr.SeedShortTerm(patch.ShortTerm)
	}
	if patch.LongTerm != nil {
		mgr.SeedFacts(patch.LongTerm)
	}
	if patch.Metadata != nil {
		for k, v := range patch.Metadata {
			mgr.SetMetadata(k, v)
		}
	}

	window := mgr.Window(ts.window)
	thread.Context = window
	return ts.persistContextLocked(ctx, threadID, window)
}

// TruncateAt replaces the identified message's content in place and discards
// every later message, including assistant replies derived from the old
// content. The caller is expected to rebuild context afterwards.
func (ts *ThreadStore) TruncateAt(ctx context.Context, threadID, messageID, newContent string) error {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	thread, ok := ts.threads[threadID]
	if !ok {
		return model.ThreadNotFoundError{ThreadID: threadID}
	}

	msgs := ts.messages[threadID]
	idx := -1
	for i, m := range msgs {
		if m.ID == messageID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return model.MessageNotFoundError{MessageID: messageID}
	}

	now := time.Now().UTC()
	msgs[idx].Content = newContent
	msgs[idx].UpdatedAt = now
	ts.messages[threadID] = msgs[:idx+1]
	thread.UpdatedAt = now
	return nil
}

// RebuildContext reconstructs the thread's context window from its full
// current message list and persists the result. Used after edits and for
// manual refresh.
func (ts *ThreadStore) RebuildContext(ctx context.Context, threadID string) (*model.ContextWindow, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	thread, ok := ts.threads[threadID]
	if !ok {
		return nil, model.ThreadNotFoundError{ThreadID: threadID}
	}

	mgr := ts.newManager()
	for _, m := range ts.messages[threadID] {
		mgr.UpdateContext(m)
	}
	ts.managers[threadID] = mgr

	window := mgr.Window(ts.window)
	thread.Context = window
	if err := ts.persistContextLocked(ctx, threadID, window); err != nil {
		return nil, err
	}
	return &window, nil
}

// recordToMessage translates a durable record into the in-memory shape.
// Metadata arrives either as a JSON object or as a JSON string wrapping an
// object; both are tolerated, anything else is dropped.
func recordToMessage(rec *store.MessageRecord) model.Message {
	msg := model.Message{
		ID:        rec.MessageID,
		ThreadID:  rec.SessionID,
		Content:   rec.Content,
		Role:      model.Role(rec.Role),
		CreatedAt: rec.CreationTime,
		UpdatedAt: rec.UpdateTime,
		ParentID:  rec.ParentID,
	}
	msg.Metadata = parseMetadata(rec.Metadata)
	return msg
}

func parseMetadata(raw []byte) map[string]interface{} {
	if len(raw) == 0 {
		return nil
	}
	var obj map[string]interface{}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if err := json.Unmarshal([]byte(s), &obj); err == nil {
			return obj
		}
	}
	return nil
}

// String implements fmt.Stringer for debug logging.
func (ts *ThreadStore) String() string {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return fmt.Sprintf("ThreadStore(owner=%s threads=%d current=%s)", ts.ownerID, len(ts.threads), ts.currentID)
}

// Package contextmgr maintains the per-thread context window: a bounded
// short-term message buffer and a map of scored long-term facts extracted
// from conversation content.
package contextmgr

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/casaflow/chatcore/internal/model"
)

// DefaultWindow bounds the short-term buffer.
const DefaultWindow = 10

// segmentSep joins merged fact values. Merging is a set-union over segments,
// deduplicated, order of first appearance preserved.
const segmentSep = "; "

// Manager holds the evolving context for a single thread. It has no
// independent lifecycle: construct one per thread and inject it wherever the
// thread's context is needed.
type Manager struct {
	window int
	rules  []Rule

	shortTerm []model.Message
	facts     map[model.ContextKey]*model.Fact
	sources   map[model.ContextKey]string
	metadata  map[string]interface{}

	now func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithWindow overrides the short-term buffer bound.
func WithWindow(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.window = n
		}
	}
}

// WithRules replaces the extraction rule set.
func WithRules(rules []Rule) Option {
	return func(m *Manager) { m.rules = rules }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// New constructs a Manager with the default window and extraction rules.
func New(opts ...Option) *Manager {
	m := &Manager{
		window:   DefaultWindow,
		rules:    DefaultRules(),
		facts:    make(map[model.ContextKey]*model.Fact),
		sources:  make(map[model.ContextKey]string),
		metadata: make(map[string]interface{}),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// UpdateContext pushes a message onto the short-term buffer, extracts and
// merges any facts its content yields, and returns the recomputed window.
func (m *Manager) UpdateContext(msg model.Message) model.ContextWindow {
	m.shortTerm = append(m.shortTerm, msg)
	if len(m.shortTerm) > m.window {
		m.shortTerm = m.shortTerm[len(m.shortTerm)-m.window:]
	}

	for _, rule := range m.rules {
		value := rule.Extract(msg.Content)
		if value == "" {
			continue
		}
		m.merge(rule.Key, value, msg.ID)
	}

	return m.Window(m.window)
}

// merge inserts a new fact or folds value into an existing one. Existing
// segments are preserved in first-appearance order; the new value is appended
// only if no segment already equals it.
func (m *Manager) merge(key model.ContextKey, value, sourceID string) {
	now := m.now()
	f, ok := m.facts[key]
	if !ok {
		m.facts[key] = &model.Fact{
			Value:      value,
			Timestamp:  now,
			Importance: 1,
			References: 1,
		}
		m.sources[key] = sourceID
		return
	}

	segments := strings.Split(f.Value, segmentSep)
	found := false
	for _, s := range segments {
		if s == value {
			found = true
			break
		}
	}
	if !found {
		segments = append(segments, value)
	}
	f.Value = strings.Join(segments, segmentSep)
	f.Timestamp = now
	f.References++
	m.sources[key] = sourceID
}

// Window assembles the current context window, capping shortTerm to the most
// recent limit messages. The append path uses a tighter 5-message slice than
// the generic window.
func (m *Manager) Window(limit int) model.ContextWindow {
	if limit <= 0 || limit > m.window {
		limit = m.window
	}
	short := m.shortTerm
	if len(short) > limit {
		short = short[len(short)-limit:]
	}
	out := make([]model.Message, len(short))
	copy(out, short)

	long := make([]model.ContextItem, 0, len(m.facts))
	for _, key := range model.ContextKeys {
		f, ok := m.facts[key]
		if !ok {
			continue
		}
		long = append(long, model.ContextItem{
			Key:   key,
			Value: f.Value,
			Metadata: model.ContextItemMetadata{
				Source:    m.sources[key],
				Timestamp: f.Timestamp,
			},
		})
	}

	meta := make(map[string]interface{}, len(m.metadata))
	for k, v := range m.metadata {
		meta[k] = v
	}

	return model.ContextWindow{
		ShortTerm: out,
		LongTerm:  long,
		Metadata:  meta,
		Summary:   m.summary(),
	}
}

// summaryKeys is the curated subset rendered into the summary line. Keys
// outside it stay in long-term memory but are excluded here.
var summaryKeys = []struct {
	key   model.ContextKey
	label string
}{
	{model.KeyPropertyDetails, "Property"},
	{model.KeyMaintenanceHistory, "Maintenance History"},
	{model.KeyTenantPreferences, "Preferences"},
	{model.KeyImportantDates, "Important Dates"},
}

func (m *Manager) summary() string {
	var parts []string
	for _, sk := range summaryKeys {
		if f, ok := m.facts[sk.key]; ok {
			parts = append(parts, sk.label+": "+f.Value)
		}
	}
	return strings.Join(parts, " | ")
}

// RelevantContext returns a read-only snapshot of current long-term memory.
func (m *Manager) RelevantContext() map[model.ContextKey]model.Fact {
	out := make(map[model.ContextKey]model.Fact, len(m.facts))
	for k, f := range m.facts {
		out[k] = *f
	}
	return out
}

// ScoredFact is a long-term fact with its computed rank.
type ScoredFact struct {
	Key   model.ContextKey
	Fact  model.Fact
	Score float64
}

// RankedFacts orders long-term memory by (relevance + recency) * importance,
// descending. Relevance normalizes the reference count against the most
// referenced fact; recency decays exponentially against a 24-hour scale.
func (m *Manager) RankedFacts() []ScoredFact {
	maxRefs := 1
	for _, f := range m.facts {
		if f.References > maxRefs {
			maxRefs = f.References
		}
	}
	now := m.now()

	out := make([]ScoredFact, 0, len(m.facts))
	for _, key := range model.ContextKeys {
		f, ok := m.facts[key]
		if !ok {
			continue
		}
		relevance := float64(f.References) / float64(maxRefs)
		ageHours := now.Sub(f.Timestamp).Hours()
		if ageHours < 0 {
			ageHours = 0
		}
		recency := math.Exp(-ageHours / 24)
		out = append(out, ScoredFact{
			Key:   key,
			Fact:  *f,
			Score: (relevance + recency) * f.Importance,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// SeedShortTerm replaces the short-term buffer, keeping at most the last
// window messages. Used when recovering a thread from durable storage.
func (m *Manager) SeedShortTerm(msgs []model.Message) {
	if len(msgs) > m.window {
		msgs = msgs[len(msgs)-m.window:]
	}
	m.shortTerm = make([]model.Message, len(msgs))
	copy(m.shortTerm, msgs)
}

// SeedFacts replaces long-term memory from deserialized context items.
// Reference counts are not part of the durable form, so recovered facts
// restart at one reference with their persisted timestamps.
func (m *Manager) SeedFacts(items []model.ContextItem) {
	m.facts = make(map[model.ContextKey]*model.Fact, len(items))
	m.sources = make(map[model.ContextKey]string, len(items))
	for _, item := range items {
		if !item.Key.Valid() || item.Value == "" {
			continue
		}
		m.facts[item.Key] = &model.Fact{
			Value:      item.Value,
			Timestamp:  item.Metadata.Timestamp,
			Importance: 1,
			References: 1,
		}
		m.sources[item.Key] = item.Metadata.Source
	}
}

// SetMetadata stores an auxiliary key under the window's metadata map.
func (m *Manager) SetMetadata(key string, value interface{}) {
	m.metadata[key] = value
}

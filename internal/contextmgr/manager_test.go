package contextmgr

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/casaflow/chatcore/internal/model"
)

func userMsg(id, content string) model.Message {
	now := time.Now().UTC()
	return model.Message{
		ID:        id,
		ThreadID:  "thr-1",
		Content:   content,
		Role:      model.RoleUser,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestUpdateContext_ShortTermBound(t *testing.T) {
	m := New()
	for i := 0; i < 25; i++ {
		w := m.UpdateContext(userMsg(fmt.Sprintf("m%d", i), "hello"))
		if len(w.ShortTerm) > DefaultWindow {
			t.Fatalf("window exceeded bound: %d", len(w.ShortTerm))
		}
	}
	w := m.Window(DefaultWindow)
	if len(w.ShortTerm) != DefaultWindow {
		t.Fatalf("expected %d messages, got %d", DefaultWindow, len(w.ShortTerm))
	}
	// FIFO eviction keeps the newest messages.
	if w.ShortTerm[0].ID != "m15" || w.ShortTerm[9].ID != "m24" {
		t.Fatalf("unexpected retained range: %s..%s", w.ShortTerm[0].ID, w.ShortTerm[9].ID)
	}
}

func TestWindow_TighterAppendSlice(t *testing.T) {
	m := New()
	for i := 0; i < 8; i++ {
		m.UpdateContext(userMsg(fmt.Sprintf("m%d", i), "hello"))
	}
	w := m.Window(5)
	if len(w.ShortTerm) != 5 {
		t.Fatalf("expected 5-message slice, got %d", len(w.ShortTerm))
	}
	if w.ShortTerm[0].ID != "m3" {
		t.Fatalf("expected slice to start at m3, got %s", w.ShortTerm[0].ID)
	}
}

func TestUpdateContext_ExtractsPropertyDetails(t *testing.T) {
	m := New()
	m.UpdateContext(userMsg("m1", "I live in property #A123 and would like to report an issue"))

	facts := m.RelevantContext()
	f, ok := facts[model.KeyPropertyDetails]
	if !ok {
		t.Fatal("expected property_details fact")
	}
	if !strings.Contains(f.Value, "A123") {
		t.Fatalf("expected value to contain A123, got %q", f.Value)
	}
	if f.References != 1 {
		t.Fatalf("expected 1 reference, got %d", f.References)
	}
}

func TestMerge_DedupAndReferenceCount(t *testing.T) {
	m := New()
	m.UpdateContext(userMsg("m1", "My dishwasher broke, I'm in unit #A123"))
	m.UpdateContext(userMsg("m2", "Reminder: the address is unit #A123"))

	facts := m.RelevantContext()
	f := facts[model.KeyPropertyDetails]
	if f.References != 2 {
		t.Fatalf("expected references=2, got %d", f.References)
	}
	if strings.Count(f.Value, "A123") != 1 {
		t.Fatalf("duplicate segment not deduplicated: %q", f.Value)
	}
}

func TestMerge_DistinctValuesConcatenated(t *testing.T) {
	m := New()
	m.UpdateContext(userMsg("m1", "There's a problem with the dishwasher"))
	m.UpdateContext(userMsg("m2", "Now there's also a problem with the heater"))

	f := m.RelevantContext()[model.KeyPreviousIssues]
	if !strings.Contains(f.Value, "dishwasher") || !strings.Contains(f.Value, "heater") {
		t.Fatalf("expected both segments, got %q", f.Value)
	}
	if !strings.Contains(f.Value, "; ") {
		t.Fatalf("expected segments joined by separator, got %q", f.Value)
	}
}

func TestSummary_CuratedKeysOnly(t *testing.T) {
	m := New()
	m.UpdateContext(userMsg("m1", "I'm at unit #B7, please text me"))
	m.UpdateContext(userMsg("m2", "The inspection is on March 3rd, 2026"))

	w := m.Window(DefaultWindow)
	if !strings.Contains(w.Summary, "Property: unit #B7") {
		t.Fatalf("summary missing property fragment: %q", w.Summary)
	}
	if !strings.Contains(w.Summary, "Important Dates:") {
		t.Fatalf("summary missing dates fragment: %q", w.Summary)
	}
	// communication_style is retained in long-term memory but excluded
	// from the summary line.
	if strings.Contains(w.Summary, "prefers text") {
		t.Fatalf("summary leaked non-curated key: %q", w.Summary)
	}
	if _, ok := m.RelevantContext()[model.KeyCommunicationStyle]; !ok {
		t.Fatal("communication_style fact missing from long-term memory")
	}
	if !strings.Contains(w.Summary, " | ") {
		t.Fatalf("fragments not joined by separator: %q", w.Summary)
	}
}

func TestSummary_EmptyWhenNoFacts(t *testing.T) {
	m := New()
	w := m.UpdateContext(userMsg("m1", "hello there"))
	if w.Summary != "" {
		t.Fatalf("expected empty summary, got %q", w.Summary)
	}
}

func TestRankedFacts_RecencyDecayAndRelevance(t *testing.T) {
	now := time.Now()
	m := New(WithClock(func() time.Time { return now }))

	m.UpdateContext(userMsg("m1", "I'm in unit #A123"))
	m.UpdateContext(userMsg("m2", "again: unit #A123"))

	// A fact extracted two days ago should rank below the fresh,
	// twice-referenced property fact.
	now = now.Add(-48 * time.Hour)
	m.UpdateContext(userMsg("m3", "there is a problem with the boiler"))
	now = now.Add(48 * time.Hour)

	ranked := m.RankedFacts()
	if len(ranked) != 2 {
		t.Fatalf("expected 2 facts, got %d", len(ranked))
	}
	if ranked[0].Key != model.KeyPropertyDetails {
		t.Fatalf("expected property_details first, got %s", ranked[0].Key)
	}
	if ranked[0].Score <= ranked[1].Score {
		t.Fatalf("expected descending scores: %f <= %f", ranked[0].Score, ranked[1].Score)
	}
}

func TestExtractionRules_NeverFireOnPlainText(t *testing.T) {
	m := New()
	w := m.UpdateContext(userMsg("m1", "thanks, that all sounds good"))
	if len(w.LongTerm) != 0 {
		t.Fatalf("expected no facts, got %v", w.LongTerm)
	}
}

func TestSeedFacts_SkipsInvalidItems(t *testing.T) {
	m := New()
	m.SeedFacts([]model.ContextItem{
		{Key: model.KeyPropertyDetails, Value: "unit #C9", Metadata: model.ContextItemMetadata{Source: "m1", Timestamp: time.Now()}},
		{Key: model.ContextKey("bogus"), Value: "x"},
		{Key: model.KeyImportantDates, Value: ""},
	})
	facts := m.RelevantContext()
	if len(facts) != 1 {
		t.Fatalf("expected 1 seeded fact, got %d", len(facts))
	}
	if facts[model.KeyPropertyDetails].Value != "unit #C9" {
		t.Fatalf("unexpected seeded value: %q", facts[model.KeyPropertyDetails].Value)
	}
}

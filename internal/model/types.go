package model

import "time"

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the three recognized roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Message is a single utterance inside a thread. Messages are immutable once
// persisted except through the explicit edit path, which replaces the message
// and truncates dependent history.
type Message struct {
	ID          string                 `json:"id"`
	ThreadID    string                 `json:"threadId"`
	Content     string                 `json:"content"`
	Role        Role                   `json:"role"`
	CreatedAt   time.Time              `json:"createdAt"`
	UpdatedAt   time.Time              `json:"updatedAt"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	ParentID    *string                `json:"parentId,omitempty"`
	Attachments []Attachment           `json:"attachments,omitempty"`
}

// Attachment is an opaque reference to an uploaded artifact.
type Attachment struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
	Kind string `json:"kind,omitempty"`
}

// ContextKey is the fixed vocabulary of long-term fact categories.
type ContextKey string

const (
	KeyPropertyDetails    ContextKey = "property_details"
	KeyMaintenanceHistory ContextKey = "maintenance_history"
	KeyPreviousIssues     ContextKey = "previous_issues"
	KeyTenantPreferences  ContextKey = "tenant_preferences"
	KeyImportantDates     ContextKey = "important_dates"
	KeyCommunicationStyle ContextKey = "communication_style"
)

// ContextKeys lists every recognized key, in extraction order.
var ContextKeys = []ContextKey{
	KeyPropertyDetails,
	KeyMaintenanceHistory,
	KeyPreviousIssues,
	KeyTenantPreferences,
	KeyImportantDates,
	KeyCommunicationStyle,
}

// Valid reports whether k belongs to the fixed vocabulary.
func (k ContextKey) Valid() bool {
	for _, known := range ContextKeys {
		if k == known {
			return true
		}
	}
	return false
}

// ContextItem is the durable form of a long-term fact.
type ContextItem struct {
	Key      ContextKey          `json:"key"`
	Value    string              `json:"value"`
	Metadata ContextItemMetadata `json:"metadata"`
}

// ContextItemMetadata carries provenance for a long-term fact.
type ContextItemMetadata struct {
	Source    string     `json:"source"`
	Timestamp time.Time  `json:"timestamp"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// Fact is the in-memory scored form of a long-term item. References counts
// how many extractions have touched it; Importance is a manual weight.
type Fact struct {
	Value      string    `json:"value"`
	Timestamp  time.Time `json:"timestamp"`
	Importance float64   `json:"importance"`
	References int       `json:"references"`
}

// ContextWindow bundles everything consulted when generating a response:
// a bounded short-term message buffer and the merged long-term facts.
type ContextWindow struct {
	ShortTerm []Message              `json:"shortTerm"`
	LongTerm  []ContextItem          `json:"longTerm"`
	Metadata  map[string]interface{} `json:"metadata"`
	Summary   string                 `json:"summary"`
}

// ThreadMetadata holds derived analysis attached to a thread.
type ThreadMetadata struct {
	TicketSuggestion *TicketSuggestion `json:"ticketSuggestion,omitempty"`
	Insights         []string          `json:"insights,omitempty"`
	Summary          string            `json:"summary,omitempty"`
}

// TicketSuggestion is auxiliary data the completion service may return when
// the conversation looks like a maintenance request.
type TicketSuggestion struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Priority    string `json:"priority,omitempty"`
	Category    string `json:"category,omitempty"`
}

// Thread is a persisted conversation: an ordered message history plus the
// context window derived from it. A thread belongs to exactly one owner.
type Thread struct {
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	Messages  []Message      `json:"messages"`
	Context   ContextWindow  `json:"context"`
	Metadata  ThreadMetadata `json:"metadata"`
}

package contextmgr

import (
	"regexp"
	"strings"

	"github.com/casaflow/chatcore/internal/model"
)

// Extractor pulls a candidate fact out of message content. A nil-equivalent
// result is the empty string: extraction is best-effort and an unmatched
// pattern simply contributes nothing.
type Extractor func(content string) string

// Rule pairs a context key with its extractor. Rules are applied in order and
// independently; one message may yield facts for several keys.
type Rule struct {
	Key     model.ContextKey
	Extract Extractor
}

var (
	propertyRe = regexp.MustCompile(`(?i)(?:property|unit|apartment|apt\.?|building)\s*#?\s*([A-Za-z]?\d+[A-Za-z0-9-]*)`)

	maintenanceRe = regexp.MustCompile(`(?i)(?:previously|last\s+(?:time|month|year|week))\s+(?:had|reported|fixed|repaired|replaced)\s+([^.!?\n]+)`)

	issueRe = regexp.MustCompile(`(?i)(?:issue|problem|trouble)\s+with\s+(?:the\s+|my\s+)?([^.!?,\n]+)`)

	preferenceRe = regexp.MustCompile(`(?i)(?:i\s+(?:would\s+)?prefer|i'd\s+prefer|i\s+like|please\s+(?:only\s+)?(?:visit|come|schedule))\s+([^.!?\n]+)`)

	dateRe = regexp.MustCompile(`(?i)\b(\d{1,2}[/-]\d{1,2}(?:[/-]\d{2,4})?|(?:january|february|march|april|may|june|july|august|september|october|november|december|jan|feb|mar|apr|jun|jul|aug|sep|sept|oct|nov|dec)\.?\s+\d{1,2}(?:st|nd|rd|th)?(?:,?\s+\d{4})?)\b`)

	commStyleRe = regexp.MustCompile(`(?i)(?:please\s+)?(call|text|email|message)\s+me\b`)
)

func firstGroup(re *regexp.Regexp) Extractor {
	return func(content string) string {
		m := re.FindStringSubmatch(content)
		if m == nil {
			return ""
		}
		return strings.TrimSpace(m[1])
	}
}

// DefaultRules returns the built-in extraction rules, one per recognized key.
// The slice is freshly allocated so callers may append or reorder.
func DefaultRules() []Rule {
	return []Rule{
		{Key: model.KeyPropertyDetails, Extract: func(content string) string {
			m := propertyRe.FindStringSubmatch(content)
			if m == nil {
				return ""
			}
			return "unit #" + strings.ToUpper(m[1])
		}},
		{Key: model.KeyMaintenanceHistory, Extract: firstGroup(maintenanceRe)},
		{Key: model.KeyPreviousIssues, Extract: firstGroup(issueRe)},
		{Key: model.KeyTenantPreferences, Extract: firstGroup(preferenceRe)},
		{Key: model.KeyImportantDates, Extract: firstGroup(dateRe)},
		{Key: model.KeyCommunicationStyle, Extract: func(content string) string {
			m := commStyleRe.FindStringSubmatch(content)
			if m == nil {
				return ""
			}
			switch strings.ToLower(m[1]) {
			case "call":
				return "prefers phone"
			case "text", "message":
				return "prefers text"
			default:
				return "prefers email"
			}
		}},
	}
}

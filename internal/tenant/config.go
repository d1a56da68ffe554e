// Package tenant holds the per-tenant configuration bundle and its
// memoizing cache. A bundle is immutable once loaded; staleness is resolved
// only by explicit invalidation from the admin write path.
package tenant

import (
	"strings"
	"time"
)

// Flavor selects which assistant variant handles a task.
type Flavor string

const (
	FlavorMain         Flavor = "main"
	FlavorIntegrations Flavor = "integrations"
)

// FieldKind tags a typed extraction field descriptor.
type FieldKind string

const (
	KindText   FieldKind = "text"
	KindPhone  FieldKind = "phone"
	KindMoney  FieldKind = "money"
	KindSelect FieldKind = "select"
)

// LookupMode selects the free-text keyword resolution strategy.
type LookupMode string

const (
	LookupNone LookupMode = ""
	LookupForm LookupMode = "form"
	LookupCard LookupMode = "card"
)

// Config is a tenant's full configuration bundle, keyed by the tenant
// security key. Replaced wholesale on invalidation, never partially mutated.
type Config struct {
	OFD      OFDConfig
	Features Features
	Behavior Behavior
	Form     FormConfig
	Catalog  CatalogConfig
	Card     CardConfig

	// ProviderKey is the tenant's LLM provider credential.
	ProviderKey string
	// SystemTemplate seeds the main assistant instructions.
	SystemTemplate string
	// Registry is the flattened "id: value" card registry rebuilt nightly.
	Registry string
}

// OFDConfig gates the secondary day-of-month yes/no flow.
type OFDConfig struct {
	Enabled  bool
	Day      int
	Greeting string
	Template string
}

// Features holds channel and feature flags.
type Features struct {
	AttachmentsEnabled  bool
	MultiChannelEnabled bool
	EmergencyEnabled    bool
	EmergencyTemplate   string
}

// Behavior holds conversational behavior settings.
type Behavior struct {
	BotLogin     string
	Temperature  float64
	StopWords    string
	BotStopWords string

	// TimeZoneOffset is a fixed UTC offset in hours.
	TimeZoneOffset  int
	WorkFrom        string
	WorkTo          string
	WorkFromWeekend string
	WorkToWeekend   string
	OffHoursMessage string
}

// FormConfig holds field-extraction settings.
type FormConfig struct {
	Enabled  bool
	Mode     LookupMode
	Template string
	Fields   []FieldDescriptor
}

// FieldDescriptor describes one typed extraction target field.
type FieldDescriptor struct {
	ID   int64     `json:"id"`
	Kind FieldKind `json:"type"`
}

// CatalogConfig holds catalog-lookup parameters.
type CatalogConfig struct {
	DictionaryID int64
	DictFieldID  int64
	NameColumn   int
	FilterColumn int
	FilterWords  string
}

// CardConfig holds card-lookup parameters.
type CardConfig struct {
	CardID      int64
	FieldID     int64
	CardFieldID int64
	GroupID     int64
}

// StopWordList returns the configured stop words, trimmed and lowercased.
func (b Behavior) StopWordList() []string {
	return splitWords(b.StopWords)
}

// BotStopWordList returns the configured bot stop words, trimmed and lowercased.
func (b Behavior) BotStopWordList() []string {
	return splitWords(b.BotStopWords)
}

// WorkingAt reports whether the given instant falls inside the tenant's
// working hours. The window is evaluated in the tenant's fixed-offset zone;
// a start later than the end means the window crosses midnight.
func (b Behavior) WorkingAt(now time.Time) bool {
	loc := time.FixedZone("tenant", b.TimeZoneOffset*3600)
	local := now.In(loc)

	from, to := b.WorkFrom, b.WorkTo
	if wd := local.Weekday(); wd == time.Saturday || wd == time.Sunday {
		from, to = b.WorkFromWeekend, b.WorkToWeekend
	}

	start, okStart := parseClock(from)
	end, okEnd := parseClock(to)
	if !okStart || !okEnd {
		return true
	}

	nowMin := local.Hour()*60 + local.Minute()

	if start <= end {
		return start <= nowMin && nowMin < end
	}
	return nowMin >= start || nowMin < end
}

// parseClock parses "HH:MM" into minutes since midnight.
func parseClock(s string) (int, bool) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}

func splitWords(raw string) []string {
	parts := strings.Split(raw, ",")
	words := make([]string, 0, len(parts))
	for _, p := range parts {
		w := strings.ToLower(strings.TrimSpace(p))
		if w != "" {
			words = append(words, w)
		}
	}
	return words
}

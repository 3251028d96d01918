package bandit

import (
	"fmt"
	"strings"
	"time"
)

// ContextKey is the small discrete segmentation key posteriors are
// partitioned by. Empty fields are allowed; a fully empty key addresses
// the global posterior directly.
type ContextKey struct {
	Tier     string // subscription tier, e.g. "free", "premium"
	Platform string
	DayPart  string // see DayPart
}

// Validate rejects keys whose fields would collide with the separator.
func (k ContextKey) Validate() error {
	for _, f := range []string{k.Tier, k.Platform, k.DayPart} {
		if strings.Contains(f, "|") {
			return fmt.Errorf("context field %q: %w", f, ErrMalformedContext)
		}
	}
	return nil
}

// String renders the key for map addressing. An all-empty key renders as
// "" which callers treat as "global only".
func (k ContextKey) String() string {
	if k.Tier == "" && k.Platform == "" && k.DayPart == "" {
		return ""
	}
	return k.Tier + "|" + k.Platform + "|" + k.DayPart
}

// DayPart buckets a timestamp into one of four coarse day segments.
func DayPart(t time.Time) string {
	switch h := t.Hour(); {
	case h >= 5 && h < 12:
		return "morning"
	case h >= 12 && h < 17:
		return "afternoon"
	case h >= 17 && h < 22:
		return "evening"
	default:
		return "night"
	}
}

package fraud

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/stridewell/growthloop/internal/domain/model"
)

// Context is the common event-context struct all checks score against.
type Context struct {
	ActorID        string
	CounterpartyID string // attribution counterpart, e.g. the referrer on a signup
	VariantID      string
	Metric         model.Metric
	RemoteAddr     string
	UserAgent      string
	AccountAge     time.Duration
	At             time.Time
}

// Check is one independent fraud heuristic. Score returns an additive
// contribution in [0,1] plus a human-readable reason, or (0, "") when the
// check passes.
type Check interface {
	Name() string
	Score(ctx context.Context, ec *Context) (float64, string)
}

// reciprocalCheck flags circular attribution between two accounts.
type reciprocalCheck struct {
	tracker      *Tracker
	contribution float64
}

func (c *reciprocalCheck) Name() string { return "reciprocal_attribution" }

func (c *reciprocalCheck) Score(_ context.Context, ec *Context) (float64, string) {
	if !c.tracker.Reciprocal(ec.ActorID, ec.CounterpartyID) {
		return 0, ""
	}
	return c.contribution, fmt.Sprintf("reciprocal attribution between %s and %s", ec.ActorID, ec.CounterpartyID)
}

// addressVelocityCheck flags excess signups from one originating address
// within a rolling 24h window.
type addressVelocityCheck struct {
	tracker      *Tracker
	maxSignups   int
	window       time.Duration
	contribution float64
}

func (c *addressVelocityCheck) Name() string { return "address_velocity" }

func (c *addressVelocityCheck) Score(_ context.Context, ec *Context) (float64, string) {
	if ec.Metric != model.MetricSignup || ec.RemoteAddr == "" {
		return 0, ""
	}
	n := c.tracker.SignupsWithin(ec.RemoteAddr, c.window)
	if n < c.maxSignups {
		return 0, ""
	}
	return c.contribution, fmt.Sprintf("%d signups from %s within %s", n, ec.RemoteAddr, c.window)
}

// burstCheck flags event rates above the configured ceiling for one variant.
type burstCheck struct {
	tracker      *Tracker
	maxPerWindow int
	window       time.Duration
	contribution float64
}

func (c *burstCheck) Name() string { return "event_rate" }

func (c *burstCheck) Score(_ context.Context, ec *Context) (float64, string) {
	if ec.VariantID == "" {
		return 0, ""
	}
	n := c.tracker.VariantEventsWithin(ec.VariantID, c.window)
	if n < c.maxPerWindow {
		return 0, ""
	}
	return c.contribution, fmt.Sprintf("%d events for variant %s within %s", n, ec.VariantID, c.window)
}

// newAccountCheck flags young accounts generating high event volume.
type newAccountCheck struct {
	tracker      *Tracker
	minAge       time.Duration
	maxEvents    int
	window       time.Duration
	contribution float64
}

func (c *newAccountCheck) Name() string { return "new_account_volume" }

func (c *newAccountCheck) Score(_ context.Context, ec *Context) (float64, string) {
	if ec.ActorID == "" || ec.AccountAge <= 0 || ec.AccountAge >= c.minAge {
		return 0, ""
	}
	n := c.tracker.ActorEventsWithin(ec.ActorID, c.window)
	if n < c.maxEvents {
		return 0, ""
	}
	return c.contribution, fmt.Sprintf("account %s aged %s produced %d events within %s", ec.ActorID, ec.AccountAge, n, c.window)
}

// automationCheck flags known automation client signatures.
type automationCheck struct {
	signatures   []string
	contribution float64
}

func (c *automationCheck) Name() string { return "automation_signature" }

func (c *automationCheck) Score(_ context.Context, ec *Context) (float64, string) {
	ua := strings.ToLower(ec.UserAgent)
	if ua == "" {
		return 0, ""
	}
	for _, sig := range c.signatures {
		if sig != "" && strings.Contains(ua, sig) {
			return c.contribution, fmt.Sprintf("automation signature %q in client %q", sig, ec.UserAgent)
		}
	}
	return 0, ""
}

// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New() initializer to build a Config with defaults.
// - Load layers defaults, optional YAML file and env vars on top.
// - External errors must be wrapped via this package's error helpers.
package config

import (
	"runtime"
)

// Config contains process configuration. Extend as needed.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// DataDir is where the append-only audit log lives. Empty means
	// in-memory only (useful for tests).
	DataDir string `koanf:"data_dir"`

	// EventQueueSize bounds the in-memory event queue.
	EventQueueSize int `koanf:"queue_size"`

	// WorkerCount sets the number of verification workers.
	WorkerCount int `koanf:"worker_count"`

	// DedupeSize sets the size of the deduplication cache.
	DedupeSize int `koanf:"dedupe_size"`

	// AuthToken is the bearer token required on self-report submissions.
	AuthToken string `koanf:"auth_token"`

	// PlatformSecrets maps platform names to their webhook HMAC secrets.
	PlatformSecrets map[string]string `koanf:"platform_secrets"`

	// ReplayWindowSeconds bounds how stale a signed webhook timestamp
	// may be before the delivery is refused.
	ReplayWindowSeconds int `koanf:"replay_window_seconds"`

	// RejectThreshold and DownweightThreshold partition the fraud score
	// range into accept / down-weight / reject bands.
	RejectThreshold     float64 `koanf:"reject_threshold"`
	DownweightThreshold float64 `koanf:"downweight_threshold"`

	// Per-metric rate ceilings enforced by the verifier.
	SharesPerHour  int `koanf:"shares_per_hour"`
	ViewsPerHour   int `koanf:"views_per_hour"`
	ClicksPerHour  int `koanf:"clicks_per_hour"`
	SignupsPerDay  int `koanf:"signups_per_day"`

	// Fraud heuristics.
	MaxSignupsPerAddress24h int      `koanf:"max_signups_per_address_24h"`
	MaxEventsPerVariantHour int      `koanf:"max_events_per_variant_hour"`
	MinAccountAgeHours      int      `koanf:"min_account_age_hours"`
	NewAccountVolumeCeiling int      `koanf:"new_account_volume_ceiling"`
	AutomationSignatures    []string `koanf:"automation_signatures"`

	// Learning parameters.
	HalfLifeDays           int     `koanf:"half_life_days"`
	PriorAlpha             float64 `koanf:"prior_alpha"`
	PriorBeta              float64 `koanf:"prior_beta"`
	MinContextObservations float64 `koanf:"min_context_observations"`

	// Referral program.
	ReferralSecret      string `koanf:"referral_secret"`
	ReferralRewardCents int64  `koanf:"referral_reward_cents"`
	ReferralBaseURL     string `koanf:"referral_base_url"`

	// FuzzyMatchToleranceSeconds bounds timestamp-proximity attribution.
	FuzzyMatchToleranceSeconds int `koanf:"fuzzy_match_tolerance_seconds"`

	// ReconcileIntervalSeconds is how often the unattributed event queue
	// is retried against newly registered content instances.
	ReconcileIntervalSeconds int `koanf:"reconcile_interval_seconds"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:            "info",
		Addr:                ":9080",
		DataDir:             "data",
		EventQueueSize:      100_000,
		WorkerCount:         runtime.NumCPU() * 4,
		DedupeSize:          500_000,
		PlatformSecrets:     map[string]string{},
		ReplayWindowSeconds: 300,
		RejectThreshold:     0.7,
		DownweightThreshold: 0.3,

		SharesPerHour: 100,
		ViewsPerHour:  10_000,
		ClicksPerHour: 1_000,
		SignupsPerDay: 50,

		MaxSignupsPerAddress24h: 5,
		MaxEventsPerVariantHour: 120,
		MinAccountAgeHours:      24,
		NewAccountVolumeCeiling: 30,
		AutomationSignatures:    []string{"headless", "phantomjs", "selenium", "puppeteer", "python-requests", "curl/"},

		HalfLifeDays:           30,
		PriorAlpha:             0.5,
		PriorBeta:              0.5,
		MinContextObservations: 30,

		ReferralRewardCents: 500,
		ReferralBaseURL:     "https://growthloop.app/r",

		FuzzyMatchToleranceSeconds: 120,
		ReconcileIntervalSeconds:   60,
	}
}

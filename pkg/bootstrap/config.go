package bootstrap

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	shared "github.com/stridetally/server/pkg"
	"github.com/stridetally/server/pkg/domain/calendar"
	"github.com/stridetally/server/pkg/domain/scoring"
	"github.com/stridetally/server/pkg/infrastructure/database"
	"github.com/stridetally/server/pkg/integrations/strava"
	"github.com/stridetally/server/pkg/syncengine"
)

// Config holds standard configuration for all services
type Config struct {
	ProjectID       string
	EnablePublish   bool
	GCSRosterBucket string

	StravaClientID     string
	StravaClientSecret string
	StravaAPIBaseURL   string
	StravaTokenURL     string

	Timezone          string
	StoreQueryTimeout time.Duration
	Sync              syncengine.Config
	Fetch             strava.Options

	RulesVersion string
	Rules        scoring.Rules

	SentryDSN         string
	SentryEnvironment string
	SentryRelease     string

	CelebrationTopicPrefix string
}

// LoadConfig reads configuration from environment variables. Malformed
// values fall back to their defaults with a warning.
func LoadConfig() *Config {
	projectID := os.Getenv("GOOGLE_CLOUD_PROJECT")
	if projectID == "" {
		projectID = shared.ProjectID // Fallback
	}

	env := envReader{logger: slog.Default()}

	sync := syncengine.DefaultConfig()
	sync.BatchSize = env.int("SYNC_BATCH_SIZE", sync.BatchSize)
	sync.LargeSetThreshold = env.int("SYNC_LARGE_SET_THRESHOLD", sync.LargeSetThreshold)
	sync.LargeSetBatchSize = env.int("SYNC_LARGE_SET_BATCH_SIZE", sync.LargeSetBatchSize)
	sync.RequestBudget = env.int("SYNC_REQUEST_BUDGET", sync.RequestBudget)
	sync.RequestWindow = env.duration("SYNC_REQUEST_WINDOW", sync.RequestWindow)
	sync.SafetyMargin = env.float("SYNC_SAFETY_MARGIN", sync.SafetyMargin)
	sync.MinBatchDelay = env.duration("SYNC_MIN_BATCH_DELAY", sync.MinBatchDelay)
	sync.RetryDelay = env.duration("SYNC_RETRY_DELAY", sync.RetryDelay)

	fetch := strava.DefaultOptions()
	fetch.PageSize = env.int("FETCH_PAGE_SIZE", fetch.PageSize)
	fetch.MinDistanceKm = env.float("FETCH_MIN_DISTANCE_KM", fetch.MinDistanceKm)
	if kinds := env.list("FETCH_ACTIVITY_KINDS"); len(kinds) > 0 {
		fetch.Kinds = kinds
	}

	version := env.string("RULES_VERSION", scoring.DefaultVersion)
	rules, err := scoring.RulesFor(version)
	if err != nil {
		env.logger.Warn("Unknown rules version, using default", "version", version, "error", err)
		version = scoring.DefaultVersion
		rules = scoring.DefaultRules()
	}
	rules.ActiveDaysThreshold = env.int("RULES_ACTIVE_DAYS", rules.ActiveDaysThreshold)
	rules.DailyCap = env.float("RULES_DAILY_CAP", rules.DailyCap)
	rules.BonusThreshold = env.float("RULES_BONUS_THRESHOLD", rules.BonusThreshold)
	rules.BonusCap = env.float("RULES_BONUS_CAP", rules.BonusCap)
	if err := rules.Validate(); err != nil {
		env.logger.Warn("Rule overrides rejected, using version defaults", "version", version, "error", err)
		rules, _ = scoring.RulesFor(version)
	}

	return &Config{
		ProjectID:       projectID,
		EnablePublish:   os.Getenv("ENABLE_PUBLISH") == "true",
		GCSRosterBucket: os.Getenv("GCS_ROSTER_BUCKET"),

		StravaClientID:     os.Getenv("STRAVA_CLIENT_ID"),
		StravaClientSecret: os.Getenv("STRAVA_CLIENT_SECRET"),
		StravaAPIBaseURL:   env.string("STRAVA_API_BASE_URL", strava.DefaultBaseURL),
		StravaTokenURL:     os.Getenv("STRAVA_TOKEN_URL"),

		Timezone:          env.string("COMPETITION_TIMEZONE", calendar.DefaultTimezone),
		StoreQueryTimeout: env.duration("STORE_QUERY_TIMEOUT", database.DefaultQueryTimeout),
		Sync:              sync,
		Fetch:             fetch,

		RulesVersion: version,
		Rules:        rules,

		SentryDSN:         os.Getenv("SENTRY_DSN"),
		SentryEnvironment: env.string("SENTRY_ENVIRONMENT", "production"),
		SentryRelease:     os.Getenv("SENTRY_RELEASE"),

		CelebrationTopicPrefix: env.string("FCM_CELEBRATION_TOPIC_PREFIX", "qualified-"),
	}
}

type envReader struct {
	logger *slog.Logger
}

func (e envReader) string(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func (e envReader) int(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		e.logger.Warn("Invalid integer in environment, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

func (e envReader) float(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		e.logger.Warn("Invalid number in environment, using default", "key", key, "value", v, "default", def)
		return def
	}
	return f
}

func (e envReader) duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		e.logger.Warn("Invalid duration in environment, using default", "key", key, "value", v, "default", def.String())
		return def
	}
	return d
}

func (e envReader) list(key string) []string {
	var out []string
	for _, p := range strings.Split(os.Getenv(key), ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

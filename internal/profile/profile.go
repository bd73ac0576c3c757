// Package profile holds the frozen runtime configuration. Values are
// resolved once at startup with precedence defaults -> config file ->
// environment overrides, then validated; nothing reads viper after that.
package profile

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Credential maps one stored digest to its principal.
type Credential struct {
	Digest string // argon2id encoded digest, never plaintext
	UserID string
}

// Profile is configuration to start the main server.
type Profile struct {
	// server
	Mode          string // "dev" or "prod"
	Addr          string
	Port          int
	ShutdownGrace time.Duration
	LogFormat     string // "text" or "json"; prod forces json
	Data          string // data directory
	Driver        string // "sqlite" or "postgres"
	DSN           string

	// inference
	InferenceBaseURL     string
	InferenceAPIKey      string
	InferenceModel       string
	InferenceTimeout     time.Duration
	InferenceTemperature float32
	InferenceMaxTokens   int

	// embedding (same OpenAI-compatible backend unless overridden)
	EmbeddingModel   string
	EmbeddingBaseURL string
	EmbeddingDim     int

	// cache
	CacheL1MaxEntries int
	CacheL2Path       string
	CacheTTLShort     time.Duration
	CacheTTLMedium    time.Duration
	CacheTTLLong      time.Duration
	CacheTTLDynamic   time.Duration
	CacheTTLStable    time.Duration
	CacheSweep        time.Duration

	// security
	Credentials    []Credential
	RateLimitRPM   int
	RateLimitBurst int
	SessionTTL     time.Duration

	// degraded mode
	DegradedEnabled          bool
	DegradedMessage          string
	DegradedFailureThreshold int
	DegradedSuccessThreshold int
	DegradedCooldown         time.Duration

	// memory
	MemoryEnabled    bool
	RAGLimit         int
	RAGThreshold     float64
	MergeThreshold   float64
	DecayFactor      float64
	MinImportance    float64
	MemoryKeyPath    string
	FreshInstall     bool
	MemoryDecaySweep time.Duration

	// reminder
	MaxSnooze           int
	DefaultSnooze       time.Duration
	ReminderLead        time.Duration
	ReminderTick        time.Duration
	CalendarSync        time.Duration
	BriefingTime        string // "HH:MM" wall clock
	DispatchBackoff     time.Duration
	MaxDispatchAttempts int

	// approval
	ApprovalTTL   time.Duration
	ApprovalSweep time.Duration

	// telegram messenger
	TelegramToken         string
	TelegramWebhookSecret string
	TelegramRecipients    map[string]string // user id -> chat id

	Version string
}

// SetDefaults registers every recognized key with its default value.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("mode", "dev")
	v.SetDefault("server.addr", "")
	v.SetDefault("server.port", 28484)
	v.SetDefault("server.shutdown-grace", "15s")
	v.SetDefault("server.log-format", "text")
	v.SetDefault("data", "")
	v.SetDefault("driver", "sqlite")
	v.SetDefault("dsn", "")

	v.SetDefault("inference.base-url", "http://localhost:11434/v1")
	// Local OpenAI-compatible backends ignore the key but the client
	// requires one.
	v.SetDefault("inference.api-key", "local")
	v.SetDefault("inference.model", "llama3.1")
	v.SetDefault("inference.timeout", "120s")
	v.SetDefault("inference.temperature", 0.7)
	v.SetDefault("inference.max-tokens", 2048)
	v.SetDefault("embedding.model", "nomic-embed-text")
	v.SetDefault("embedding.base-url", "")
	v.SetDefault("embedding.dim", 768)

	v.SetDefault("cache.l1-max-entries", 1000)
	v.SetDefault("cache.l2-path", "")
	v.SetDefault("cache.ttl-short", "1m")
	v.SetDefault("cache.ttl-medium", "15m")
	v.SetDefault("cache.ttl-long", "24h")
	v.SetDefault("cache.ttl-llm-dynamic", "10m")
	v.SetDefault("cache.ttl-llm-stable", "12h")
	v.SetDefault("cache.sweep-interval", "5m")

	v.SetDefault("security.rate-limit-rpm", 60)
	v.SetDefault("security.rate-limit-burst", 10)
	v.SetDefault("security.session-ttl", time.Hour)

	v.SetDefault("degraded.enabled", true)
	v.SetDefault("degraded.message", "Ich bin gerade nicht erreichbar, bitte versuche es später noch einmal.")
	v.SetDefault("degraded.failure-threshold", 3)
	v.SetDefault("degraded.success-threshold", 2)
	v.SetDefault("degraded.cooldown", "30s")

	v.SetDefault("memory.enabled", true)
	v.SetDefault("memory.rag-limit", 5)
	v.SetDefault("memory.rag-threshold", 0.5)
	v.SetDefault("memory.merge-threshold", 0.85)
	v.SetDefault("memory.decay-factor", 0.995)
	v.SetDefault("memory.min-importance", 0.05)
	v.SetDefault("memory.key-path", "")
	v.SetDefault("memory.fresh-install", false)
	v.SetDefault("memory.decay-interval", "1h")

	v.SetDefault("reminder.max-snooze", 5)
	v.SetDefault("reminder.default-snooze", "10m")
	v.SetDefault("reminder.lead-time", "30m")
	v.SetDefault("reminder.tick-interval", "60s")
	v.SetDefault("reminder.sync-interval", "15m")
	v.SetDefault("reminder.briefing-time", "07:30")
	v.SetDefault("reminder.retry-backoff", "2m")
	v.SetDefault("reminder.max-dispatch-attempts", 3)

	v.SetDefault("approval.ttl", "24h")
	v.SetDefault("approval.sweep-interval", "5m")

	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.webhook-secret", "")
}

// FromViper freezes the resolved configuration into a Profile.
func FromViper(v *viper.Viper, buildVersion string) *Profile {
	p := &Profile{
		Mode:          v.GetString("mode"),
		Addr:          v.GetString("server.addr"),
		Port:          v.GetInt("server.port"),
		ShutdownGrace: v.GetDuration("server.shutdown-grace"),
		LogFormat:     v.GetString("server.log-format"),
		Data:          v.GetString("data"),
		Driver:        v.GetString("driver"),
		DSN:           v.GetString("dsn"),

		InferenceBaseURL:     v.GetString("inference.base-url"),
		InferenceAPIKey:      v.GetString("inference.api-key"),
		InferenceModel:       v.GetString("inference.model"),
		InferenceTimeout:     v.GetDuration("inference.timeout"),
		InferenceTemperature: float32(v.GetFloat64("inference.temperature")),
		InferenceMaxTokens:   v.GetInt("inference.max-tokens"),
		EmbeddingModel:       v.GetString("embedding.model"),
		EmbeddingBaseURL:     v.GetString("embedding.base-url"),
		EmbeddingDim:         v.GetInt("embedding.dim"),

		CacheL1MaxEntries: v.GetInt("cache.l1-max-entries"),
		CacheL2Path:       v.GetString("cache.l2-path"),
		CacheTTLShort:     v.GetDuration("cache.ttl-short"),
		CacheTTLMedium:    v.GetDuration("cache.ttl-medium"),
		CacheTTLLong:      v.GetDuration("cache.ttl-long"),
		CacheTTLDynamic:   v.GetDuration("cache.ttl-llm-dynamic"),
		CacheTTLStable:    v.GetDuration("cache.ttl-llm-stable"),
		CacheSweep:        v.GetDuration("cache.sweep-interval"),

		RateLimitRPM:   v.GetInt("security.rate-limit-rpm"),
		RateLimitBurst: v.GetInt("security.rate-limit-burst"),
		SessionTTL:     v.GetDuration("security.session-ttl"),

		DegradedEnabled:          v.GetBool("degraded.enabled"),
		DegradedMessage:          v.GetString("degraded.message"),
		DegradedFailureThreshold: v.GetInt("degraded.failure-threshold"),
		DegradedSuccessThreshold: v.GetInt("degraded.success-threshold"),
		DegradedCooldown:         v.GetDuration("degraded.cooldown"),

		MemoryEnabled:    v.GetBool("memory.enabled"),
		RAGLimit:         v.GetInt("memory.rag-limit"),
		RAGThreshold:     v.GetFloat64("memory.rag-threshold"),
		MergeThreshold:   v.GetFloat64("memory.merge-threshold"),
		DecayFactor:      v.GetFloat64("memory.decay-factor"),
		MinImportance:    v.GetFloat64("memory.min-importance"),
		MemoryKeyPath:    v.GetString("memory.key-path"),
		FreshInstall:     v.GetBool("memory.fresh-install"),
		MemoryDecaySweep: v.GetDuration("memory.decay-interval"),

		MaxSnooze:           v.GetInt("reminder.max-snooze"),
		DefaultSnooze:       v.GetDuration("reminder.default-snooze"),
		ReminderLead:        v.GetDuration("reminder.lead-time"),
		ReminderTick:        v.GetDuration("reminder.tick-interval"),
		CalendarSync:        v.GetDuration("reminder.sync-interval"),
		BriefingTime:        v.GetString("reminder.briefing-time"),
		DispatchBackoff:     v.GetDuration("reminder.retry-backoff"),
		MaxDispatchAttempts: v.GetInt("reminder.max-dispatch-attempts"),

		ApprovalTTL:   v.GetDuration("approval.ttl"),
		ApprovalSweep: v.GetDuration("approval.sweep-interval"),

		TelegramToken:         v.GetString("telegram.token"),
		TelegramWebhookSecret: v.GetString("telegram.webhook-secret"),
		TelegramRecipients:    v.GetStringMapString("telegram.recipients"),

		Version: buildVersion,
	}

	// security.credentials is a list of "digest=userid" pairs so it can be
	// supplied through a single environment variable as well as the file.
	for _, raw := range v.GetStringSlice("security.credentials") {
		digest, userID, ok := strings.Cut(raw, "=")
		if !ok {
			continue
		}
		p.Credentials = append(p.Credentials, Credential{Digest: digest, UserID: userID})
	}

	return p
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

func (p *Profile) IsProd() bool {
	return p.Mode == "prod"
}

// Validate checks the frozen profile and applies production hardening:
// prod forces JSON logs and rejects non-digest credentials.
func (p *Profile) Validate() error {
	if p.Mode != "dev" && p.Mode != "prod" {
		return errors.Errorf("invalid mode %q, expected dev or prod", p.Mode)
	}
	if p.Port <= 0 || p.Port > 65535 {
		return errors.Errorf("invalid port %d", p.Port)
	}
	if p.Driver != "sqlite" && p.Driver != "postgres" {
		return errors.Errorf("unsupported driver %q", p.Driver)
	}
	if p.DSN == "" {
		return errors.New("dsn required")
	}
	if p.LogFormat != "text" && p.LogFormat != "json" {
		return errors.Errorf("invalid log format %q", p.LogFormat)
	}
	if p.IsProd() {
		p.LogFormat = "json"
	}
	for _, c := range p.Credentials {
		if !strings.HasPrefix(c.Digest, "$argon2id$") {
			return errors.Errorf("credential for user %s is not an argon2id digest", c.UserID)
		}
		if c.UserID == "" {
			return errors.New("credential with empty user id")
		}
	}
	if _, err := ParseBriefingTime(p.BriefingTime); err != nil {
		return err
	}
	if p.MaxSnooze < 0 || p.MaxDispatchAttempts < 1 {
		return errors.New("reminder bounds must be positive")
	}
	if p.RAGThreshold < 0 || p.RAGThreshold > 1 || p.MergeThreshold < 0 || p.MergeThreshold > 1 {
		return errors.New("memory thresholds must be within [0,1]")
	}
	return nil
}

// ParseBriefingTime parses the "HH:MM" wall-clock briefing time.
func ParseBriefingTime(s string) (time.Duration, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, errors.Wrapf(err, "invalid briefing time %q", s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, errors.Errorf("invalid briefing time %q", s)
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute, nil
}

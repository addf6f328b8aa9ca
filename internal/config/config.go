package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultTimezone = "UTC"
	configPathEnv   = "BLOG_PUBLISHER_CONFIG"
	leaseMargin     = time.Minute

	airtableAPIKeyEnv    = "AIRTABLE_API_KEY"
	airtableBaseIDEnv    = "AIRTABLE_BASE_ID"
	airtableTableEnv     = "AIRTABLE_TABLE_NAME"
	wordpressURLEnv      = "WORDPRESS_API_URL"
	wordpressUserEnv     = "WORDPRESS_USERNAME"
	wordpressPasswordEnv = "WORDPRESS_APP_PASSWORD"
	generatorAPIKeyEnv   = "GEMINI_API_KEY"
	generatorModelEnv    = "GEMINI_MODEL"
	databaseDSNEnv       = "DATABASE_DSN"
	redisAddrEnv         = "REDIS_ADDR"
	telegramTokenEnv     = "TELEGRAM_BOT_TOKEN"
	telegramChatIDEnv    = "TELEGRAM_CHAT_ID"
	logLevelEnv          = "LOG_LEVEL"
	timezoneEnv          = "SCHEDULER_TIMEZONE"
	triggerTokenEnv      = "CRON_SECRET"
	listenAddrEnv        = "LISTEN_ADDR"
)

// Config holds high-level settings required across the application.
type Config struct {
	Logging       LoggingConfig      `yaml:"logging"`
	RecordStore   RecordStoreConfig  `yaml:"recordStore"`
	CMS           CMSConfig          `yaml:"cms"`
	Scheduler     SchedulerConfig    `yaml:"scheduler"`
	Journal       JournalConfig      `yaml:"journal"`
	Lease         LeaseConfig        `yaml:"lease"`
	Notifications NotificationConfig `yaml:"notifications"`
	Generator     GeneratorConfig    `yaml:"generator"`
	Server        ServerConfig       `yaml:"server"`
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// RecordStoreConfig describes the Airtable base holding content records.
type RecordStoreConfig struct {
	BaseURL           string        `yaml:"baseUrl"`
	APIKey            string        `yaml:"apiKey"`
	BaseID            string        `yaml:"baseId"`
	Table             string        `yaml:"table"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requestsPerSecond"`
	Statuses          StatusValues  `yaml:"statuses"`
}

// StatusValues maps logical states to the option names used in the store.
// ReadyToPublish and Published may share a value.
type StatusValues struct {
	Draft          string `yaml:"draft"`
	Scheduled      string `yaml:"scheduled"`
	ReadyToPublish string `yaml:"readyToPublish"`
	Published      string `yaml:"published"`
}

// CMSConfig describes the WordPress REST endpoint and its retry policy.
type CMSConfig struct {
	BaseURL       string        `yaml:"baseUrl"`
	Username      string        `yaml:"username"`
	AppPassword   string        `yaml:"appPassword"`
	UserAgent     string        `yaml:"userAgent"`
	Timeout       time.Duration `yaml:"timeout"`
	MaxAttempts   int           `yaml:"maxAttempts"`
	BackoffBase   time.Duration `yaml:"backoffBase"`
	BackoffMax    time.Duration `yaml:"backoffMax"`
	RetryStatuses []int         `yaml:"retryStatuses"`
	SanitizeHTML  *bool         `yaml:"sanitizeHtml"`
}

// SchedulerConfig defines how the poll loop paces itself.
type SchedulerConfig struct {
	PollInterval time.Duration  `yaml:"pollInterval"`
	RecordDelay  time.Duration  `yaml:"recordDelay"`
	Timezone     string         `yaml:"timezone"`
	location     *time.Location `yaml:"-"`
}

// Location resolves the scheduler timezone string to a time.Location.
func (s SchedulerConfig) Location() *time.Location {
	if s.location != nil {
		return s.location
	}
	loc, _ := time.LoadLocation(defaultTimezone)
	return loc
}

// JournalConfig points at the Postgres database used for the publication journal.
type JournalConfig struct {
	DSN string `yaml:"dsn"`
}

// LeaseConfig enables per-record leases in Redis.
type LeaseConfig struct {
	RedisAddr string        `yaml:"redisAddr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	TTL       time.Duration `yaml:"ttl"`
	Prefix    string        `yaml:"prefix"`
}

// NotificationConfig encapsulates operator alert channels.
type NotificationConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// TelegramConfig wires all data required to send messages.
type TelegramConfig struct {
	APIBase  string `yaml:"apiBase"`
	BotToken string `yaml:"botToken"`
	ChatID   string `yaml:"chatId"`
}

// GeneratorConfig defines how to contact the generative-text API.
type GeneratorConfig struct {
	Endpoint     string `yaml:"endpoint"`
	Model        string `yaml:"model"`
	APIKey       string `yaml:"apiKey"`
	SystemPrompt string `yaml:"systemPrompt"`
}

// ServerConfig configures the HTTP trigger surface.
type ServerConfig struct {
	Addr         string `yaml:"addr"`
	TriggerToken string `yaml:"triggerToken"`
}

// Load reads .env and YAML configuration (if present), applies environment
// overrides and validates required keys.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("config: cannot load .env: %v", err)
	}

	cfg := defaultConfig()

	if path := os.Getenv(configPathEnv); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		var fileCfg Config
		if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
		cfg = mergeConfig(cfg, fileCfg)
	}

	cfg.applyEnvOverrides()
	cfg.bindTimezone()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every missing required key at once.
func (c Config) Validate() error {
	required := []struct {
		key   string
		value string
	}{
		{airtableAPIKeyEnv, c.RecordStore.APIKey},
		{airtableBaseIDEnv, c.RecordStore.BaseID},
		{airtableTableEnv, c.RecordStore.Table},
		{wordpressURLEnv, c.CMS.BaseURL},
		{wordpressUserEnv, c.CMS.Username},
		{wordpressPasswordEnv, c.CMS.AppPassword},
	}

	var missing []string
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			missing = append(missing, r.key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: missing required keys: %s", strings.Join(missing, ", "))
	}
	if c.CMS.MaxAttempts < 1 {
		return fmt.Errorf("config: cms.maxAttempts must be positive, got %d", c.CMS.MaxAttempts)
	}
	return nil
}

// PublishBudget is the longest one Publish call can take: every attempt
// hitting the client timeout plus the capped wait between attempts.
func (c CMSConfig) PublishBudget() time.Duration {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	attempts := c.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	budget := time.Duration(attempts) * timeout
	wait := c.BackoffBase
	for i := 1; i < attempts; i++ {
		// Retry-After may stretch any wait up to BackoffMax.
		if c.BackoffMax > 0 {
			budget += c.BackoffMax
			continue
		}
		budget += wait
		wait *= 2
	}
	return budget
}

// LeaseTTL returns the configured lease TTL, raised when it would expire
// before one record's re-check, publish and write-back can finish.
func (c Config) LeaseTTL() time.Duration {
	storeTimeout := c.RecordStore.Timeout
	if storeTimeout <= 0 {
		storeTimeout = 30 * time.Second
	}
	floor := c.CMS.PublishBudget() + 2*storeTimeout + leaseMargin
	if c.Lease.TTL < floor {
		return floor
	}
	return c.Lease.TTL
}

// SanitizeEnabled reports whether post bodies go through the HTML policy.
func (c CMSConfig) SanitizeEnabled() bool {
	return c.SanitizeHTML == nil || *c.SanitizeHTML
}

func (c *Config) applyEnvOverrides() {
	overrides := []struct {
		env    string
		target *string
	}{
		{airtableAPIKeyEnv, &c.RecordStore.APIKey},
		{airtableBaseIDEnv, &c.RecordStore.BaseID},
		{airtableTableEnv, &c.RecordStore.Table},
		{wordpressURLEnv, &c.CMS.BaseURL},
		{wordpressUserEnv, &c.CMS.Username},
		{wordpressPasswordEnv, &c.CMS.AppPassword},
		{generatorAPIKeyEnv, &c.Generator.APIKey},
		{generatorModelEnv, &c.Generator.Model},
		{databaseDSNEnv, &c.Journal.DSN},
		{redisAddrEnv, &c.Lease.RedisAddr},
		{telegramTokenEnv, &c.Notifications.Telegram.BotToken},
		{telegramChatIDEnv, &c.Notifications.Telegram.ChatID},
		{logLevelEnv, &c.Logging.Level},
		{timezoneEnv, &c.Scheduler.Timezone},
		{triggerTokenEnv, &c.Server.TriggerToken},
		{listenAddrEnv, &c.Server.Addr},
	}

	for _, o := range overrides {
		if v := os.Getenv(o.env); v != "" {
			*o.target = v
		}
	}
}

func (c *Config) bindTimezone() {
	tz := c.Scheduler.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Printf("config: unknown timezone %s, reverting to %s", tz, defaultTimezone)
		loc, _ = time.LoadLocation(defaultTimezone)
	}
	c.Scheduler.location = loc
}

func mergeConfig(base, override Config) Config {
	mergeString(&base.Logging.Level, override.Logging.Level)
	mergeString(&base.Logging.Format, override.Logging.Format)

	mergeString(&base.RecordStore.BaseURL, override.RecordStore.BaseURL)
	mergeString(&base.RecordStore.APIKey, override.RecordStore.APIKey)
	mergeString(&base.RecordStore.BaseID, override.RecordStore.BaseID)
	mergeString(&base.RecordStore.Table, override.RecordStore.Table)
	mergeDuration(&base.RecordStore.Timeout, override.RecordStore.Timeout)
	if override.RecordStore.RequestsPerSecond > 0 {
		base.RecordStore.RequestsPerSecond = override.RecordStore.RequestsPerSecond
	}
	mergeString(&base.RecordStore.Statuses.Draft, override.RecordStore.Statuses.Draft)
	mergeString(&base.RecordStore.Statuses.Scheduled, override.RecordStore.Statuses.Scheduled)
	mergeString(&base.RecordStore.Statuses.ReadyToPublish, override.RecordStore.Statuses.ReadyToPublish)
	mergeString(&base.RecordStore.Statuses.Published, override.RecordStore.Statuses.Published)

	mergeString(&base.CMS.BaseURL, override.CMS.BaseURL)
	mergeString(&base.CMS.Username, override.CMS.Username)
	mergeString(&base.CMS.AppPassword, override.CMS.AppPassword)
	mergeString(&base.CMS.UserAgent, override.CMS.UserAgent)
	mergeDuration(&base.CMS.Timeout, override.CMS.Timeout)
	mergeDuration(&base.CMS.BackoffBase, override.CMS.BackoffBase)
	mergeDuration(&base.CMS.BackoffMax, override.CMS.BackoffMax)
	if override.CMS.MaxAttempts != 0 {
		base.CMS.MaxAttempts = override.CMS.MaxAttempts
	}
	if len(override.CMS.RetryStatuses) > 0 {
		base.CMS.RetryStatuses = override.CMS.RetryStatuses
	}
	if override.CMS.SanitizeHTML != nil {
		base.CMS.SanitizeHTML = override.CMS.SanitizeHTML
	}

	mergeDuration(&base.Scheduler.PollInterval, override.Scheduler.PollInterval)
	mergeDuration(&base.Scheduler.RecordDelay, override.Scheduler.RecordDelay)
	mergeString(&base.Scheduler.Timezone, override.Scheduler.Timezone)

	mergeString(&base.Journal.DSN, override.Journal.DSN)

	mergeString(&base.Lease.RedisAddr, override.Lease.RedisAddr)
	mergeString(&base.Lease.Password, override.Lease.Password)
	mergeString(&base.Lease.Prefix, override.Lease.Prefix)
	mergeDuration(&base.Lease.TTL, override.Lease.TTL)
	if override.Lease.DB != 0 {
		base.Lease.DB = override.Lease.DB
	}

	mergeString(&base.Notifications.Telegram.APIBase, override.Notifications.Telegram.APIBase)
	mergeString(&base.Notifications.Telegram.BotToken, override.Notifications.Telegram.BotToken)
	mergeString(&base.Notifications.Telegram.ChatID, override.Notifications.Telegram.ChatID)

	mergeString(&base.Generator.Endpoint, override.Generator.Endpoint)
	mergeString(&base.Generator.Model, override.Generator.Model)
	mergeString(&base.Generator.APIKey, override.Generator.APIKey)
	mergeString(&base.Generator.SystemPrompt, override.Generator.SystemPrompt)

	mergeString(&base.Server.Addr, override.Server.Addr)
	mergeString(&base.Server.TriggerToken, override.Server.TriggerToken)

	return base
}

func mergeString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func mergeDuration(dst *time.Duration, v time.Duration) {
	if v != 0 {
		*dst = v
	}
}

func defaultConfig() Config {
	tz, _ := time.LoadLocation(defaultTimezone)
	return Config{
		Logging: LoggingConfig{Level: "info", Format: "text"},
		RecordStore: RecordStoreConfig{
			BaseURL:           "https://api.airtable.com/v0",
			Table:             "Blog Posts",
			Timeout:           30 * time.Second,
			RequestsPerSecond: 5,
			Statuses: StatusValues{
				Draft:          "Draft",
				Scheduled:      "Scheduled",
				ReadyToPublish: "Published",
				Published:      "Published",
			},
		},
		CMS: CMSConfig{
			UserAgent:     "BlogPublisher/1.0",
			Timeout:       60 * time.Second,
			MaxAttempts:   5,
			BackoffBase:   time.Second,
			BackoffMax:    2 * time.Minute,
			RetryStatuses: []int{429, 500, 502, 503, 504, 406},
		},
		Scheduler: SchedulerConfig{
			PollInterval: 5 * time.Minute,
			RecordDelay:  2 * time.Second,
			Timezone:     defaultTimezone,
			location:     tz,
		},
		Lease: LeaseConfig{TTL: 15 * time.Minute, Prefix: "blogpublisher:lease:"},
		Notifications: NotificationConfig{
			Telegram: TelegramConfig{APIBase: "https://api.telegram.org"},
		},
		Generator: GeneratorConfig{
			Endpoint:     "https://generativelanguage.googleapis.com/v1beta/openai/chat/completions",
			Model:        "gemini-1.5-flash",
			SystemPrompt: "You write SEO-optimized blog posts in clean HTML.",
		},
		Server: ServerConfig{Addr: ":8080"},
	}
}

package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"FilingsMonitor/internal/domain"
)

const (
	defaultTimezone = "UTC"
	configPathEnv   = "FILINGS_MONITOR_CONFIG"

	storageDriverEnv  = "STORAGE_DRIVER"
	storagePathEnv    = "STORAGE_PATH"
	databaseDSNEnv    = "DATABASE_DSN"
	modelBackendEnv   = "MODEL_BACKEND"
	modelEndpointEnv  = "MODEL_ENDPOINT"
	modelNameEnv      = "MODEL_NAME"
	openAIAPIKeyEnv   = "OPENAI_API_KEY"
	ollamaURLEnv      = "OLLAMA_URL"
	secUserAgentEnv   = "SEC_USER_AGENT"
	telegramTokenEnv  = "TELEGRAM_BOT_TOKEN"
	telegramChatIDEnv = "TELEGRAM_CHAT_ID"
	smtpPasswordEnv   = "SMTP_PASSWORD"
	logLevelEnv       = "LOG_LEVEL"
	metricsListenEnv  = "METRICS_LISTEN"
)

// Config holds high-level settings required across the application.
type Config struct {
	Logging       LoggingConfig      `yaml:"logging"`
	Storage       StorageConfig      `yaml:"storage"`
	Pipeline      PipelineConfig     `yaml:"pipeline"`
	Model         ModelConfig        `yaml:"model"`
	Edgar         EdgarConfig        `yaml:"edgar"`
	Notifications NotificationConfig `yaml:"notifications"`
	Scheduler     SchedulerConfig    `yaml:"scheduler"`
	Metrics       MetricsConfig      `yaml:"metrics"`
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	DSN    string `yaml:"dsn"`
}

// PipelineConfig carries the tunables of the processing core.
type PipelineConfig struct {
	CooldownWindow           *time.Duration `yaml:"cooldown_window"`
	CooldownScope            string         `yaml:"cooldown_scope"`
	MinContentLength         *int           `yaml:"min_content_length"`
	BoilerplatePatterns      []string       `yaml:"boilerplate_patterns"`
	DuplicateLookback        time.Duration  `yaml:"duplicate_lookback"`
	ImpactAlertThreshold     string         `yaml:"impact_alert_threshold"`
	ClassificationRetryLimit *int           `yaml:"classification_retry_limit"`
	BackendAttempts          int            `yaml:"backend_attempts"`
	ClassificationTimeout    time.Duration  `yaml:"classification_timeout"`
	BatchConcurrencyLimit    int            `yaml:"batch_concurrency_limit"`
	BackoffInitial           time.Duration  `yaml:"backoff_initial"`
	BackoffMax               time.Duration  `yaml:"backoff_max"`
}

// RetryLimit resolves the schema retry budget; zero is a valid setting.
func (p PipelineConfig) RetryLimit() int {
	if p.ClassificationRetryLimit == nil {
		return defaultRetryLimit
	}
	return *p.ClassificationRetryLimit
}

// Cooldown resolves the alert cooldown window; zero disables it.
func (p PipelineConfig) Cooldown() time.Duration {
	if p.CooldownWindow == nil {
		return defaultCooldownWindow
	}
	return *p.CooldownWindow
}

// MinLength resolves the minimum content length; zero disables the rule.
func (p PipelineConfig) MinLength() int {
	if p.MinContentLength == nil {
		return defaultMinContentLength
	}
	return *p.MinContentLength
}

// ModelConfig defines how to reach the language model.
type ModelConfig struct {
	Backend      string  `yaml:"backend"`
	Endpoint     string  `yaml:"endpoint"`
	Model        string  `yaml:"model"`
	APIKey       string  `yaml:"api_key"`
	Temperature  float32 `yaml:"temperature"`
	MaxChars     int     `yaml:"max_chars"`
	SystemPrompt string  `yaml:"system_prompt"`
}

// EdgarConfig describes the SEC EDGAR source and the watch-list.
type EdgarConfig struct {
	SubmissionsURL       string          `yaml:"submissions_url"`
	ArchivesURL          string          `yaml:"archives_url"`
	UserAgent            string          `yaml:"user_agent"`
	RequestsPerSecond    float64         `yaml:"requests_per_second"`
	Timeout              time.Duration   `yaml:"timeout"`
	Forms                []string        `yaml:"forms"`
	MaxFilingsPerCompany int             `yaml:"max_filings_per_company"`
	Companies            []CompanyConfig `yaml:"companies"`
}

// CompanyConfig is one watch-list entry.
type CompanyConfig struct {
	Symbol string `yaml:"symbol"`
	CIK    string `yaml:"cik"`
}

// NotificationConfig encapsulates outbound channels.
type NotificationConfig struct {
	Channels []string       `yaml:"channels"`
	Telegram TelegramConfig `yaml:"telegram"`
	Email    EmailConfig    `yaml:"email"`
}

// TelegramConfig wires all data required to send messages.
type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
	APIURL   string `yaml:"api_url"`
}

// EmailConfig holds SMTP delivery settings.
type EmailConfig struct {
	Host     string   `yaml:"host"`
	Port     int      `yaml:"port"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
}

// SchedulerConfig defines how often the pipeline runs.
type SchedulerConfig struct {
	Interval time.Duration  `yaml:"interval"`
	Timezone string         `yaml:"timezone"`
	location *time.Location `yaml:"-"`
}

// Location resolves the scheduler timezone string to a time.Location.
func (s SchedulerConfig) Location() *time.Location {
	if s.location != nil {
		return s.location
	}
	loc, _ := time.LoadLocation(defaultTimezone)
	return loc
}

// MetricsConfig sets the Prometheus listener of the serve command.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// Load reads .env, the YAML file at path (or $FILINGS_MONITOR_CONFIG) and
// applies environment overrides. A missing .env is not an error; an
// unreadable or malformed config file is.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("config: cannot load .env: %v", err)
	}

	cfg := defaultConfig()

	if path == "" {
		path = os.Getenv(configPathEnv)
	}
	if path != "" {
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

func (c *Config) applyEnvOverrides() {
	setString(&c.Logging.Level, logLevelEnv)
	setString(&c.Storage.Driver, storageDriverEnv)
	setString(&c.Storage.Path, storagePathEnv)
	setString(&c.Storage.DSN, databaseDSNEnv)
	setString(&c.Model.Backend, modelBackendEnv)
	setString(&c.Model.Endpoint, modelEndpointEnv)
	setString(&c.Model.Model, modelNameEnv)
	setString(&c.Model.APIKey, openAIAPIKeyEnv)
	setString(&c.Edgar.UserAgent, secUserAgentEnv)
	setString(&c.Notifications.Telegram.BotToken, telegramTokenEnv)
	setString(&c.Notifications.Telegram.ChatID, telegramChatIDEnv)
	setString(&c.Notifications.Email.Password, smtpPasswordEnv)
	setString(&c.Metrics.Listen, metricsListenEnv)

	if v := os.Getenv(ollamaURLEnv); v != "" && c.Model.Backend == "ollama" {
		c.Model.Endpoint = v
	}
}

func setString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
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

// Validate rejects settings the pipeline cannot run with.
func (c Config) Validate() error {
	var errs []error

	switch c.Storage.Driver {
	case "sqlite", "badger":
		if c.Storage.Path == "" {
			errs = append(errs, fmt.Errorf("storage.path is required for %s", c.Storage.Driver))
		}
	case "postgres":
		if c.Storage.DSN == "" {
			errs = append(errs, errors.New("storage.dsn is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q is not one of sqlite, postgres, badger", c.Storage.Driver))
	}

	p := c.Pipeline
	if _, err := domain.ParseImpactLevel(p.ImpactAlertThreshold); err != nil {
		errs = append(errs, fmt.Errorf("pipeline.impact_alert_threshold: %w", err))
	}
	if p.Cooldown() < 0 {
		errs = append(errs, errors.New("pipeline.cooldown_window must not be negative"))
	}
	if p.CooldownScope != "event_type" && p.CooldownScope != "issuer" {
		errs = append(errs, fmt.Errorf("pipeline.cooldown_scope %q is not event_type or issuer", p.CooldownScope))
	}
	if p.MinLength() < 0 {
		errs = append(errs, errors.New("pipeline.min_content_length must not be negative"))
	}
	for _, pattern := range p.BoilerplatePatterns {
		if _, err := regexp.Compile(pattern); err != nil {
			errs = append(errs, fmt.Errorf("pipeline.boilerplate_patterns: %w", err))
		}
	}
	if p.RetryLimit() < 0 {
		errs = append(errs, errors.New("pipeline.classification_retry_limit must not be negative"))
	}
	if p.BackendAttempts < 1 {
		errs = append(errs, errors.New("pipeline.backend_attempts must be at least 1"))
	}
	if p.ClassificationTimeout <= 0 {
		errs = append(errs, errors.New("pipeline.classification_timeout must be positive"))
	}
	if p.BatchConcurrencyLimit < 1 {
		errs = append(errs, errors.New("pipeline.batch_concurrency_limit must be at least 1"))
	}

	switch c.Model.Backend {
	case "openai", "ollama":
	default:
		errs = append(errs, fmt.Errorf("model.backend %q is not openai or ollama", c.Model.Backend))
	}
	if c.Model.Model == "" {
		errs = append(errs, errors.New("model.model is required"))
	}
	if c.Model.MaxChars <= 0 {
		errs = append(errs, errors.New("model.max_chars must be positive"))
	}

	if c.Edgar.RequestsPerSecond <= 0 {
		errs = append(errs, errors.New("edgar.requests_per_second must be positive"))
	}
	for i, company := range c.Edgar.Companies {
		if company.Symbol == "" || company.CIK == "" {
			errs = append(errs, fmt.Errorf("edgar.companies[%d] needs symbol and cik", i))
		} else if _, err := strconv.ParseUint(company.CIK, 10, 64); err != nil {
			errs = append(errs, fmt.Errorf("edgar.companies[%d].cik %q is not numeric", i, company.CIK))
		}
	}

	if c.Scheduler.Interval <= 0 {
		errs = append(errs, errors.New("scheduler.interval must be positive"))
	}

	return errors.Join(errs...)
}

func mergeConfig(base, override Config) Config {
	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}
	if override.Logging.Format != "" {
		base.Logging.Format = override.Logging.Format
	}

	if override.Storage.Driver != "" {
		base.Storage.Driver = override.Storage.Driver
	}
	if override.Storage.Path != "" {
		base.Storage.Path = override.Storage.Path
	}
	if override.Storage.DSN != "" {
		base.Storage.DSN = override.Storage.DSN
	}

	base.Pipeline = mergePipeline(base.Pipeline, override.Pipeline)
	base.Model = mergeModel(base.Model, override.Model)
	base.Edgar = mergeEdgar(base.Edgar, override.Edgar)

	if len(override.Notifications.Channels) > 0 {
		base.Notifications.Channels = override.Notifications.Channels
	}
	if override.Notifications.Telegram.BotToken != "" {
		base.Notifications.Telegram.BotToken = override.Notifications.Telegram.BotToken
	}
	if override.Notifications.Telegram.ChatID != "" {
		base.Notifications.Telegram.ChatID = override.Notifications.Telegram.ChatID
	}
	if override.Notifications.Telegram.APIURL != "" {
		base.Notifications.Telegram.APIURL = override.Notifications.Telegram.APIURL
	}
	if override.Notifications.Email.Host != "" {
		base.Notifications.Email = mergeEmail(base.Notifications.Email, override.Notifications.Email)
	}

	if override.Scheduler.Interval != 0 {
		base.Scheduler.Interval = override.Scheduler.Interval
	}
	if override.Scheduler.Timezone != "" {
		base.Scheduler.Timezone = override.Scheduler.Timezone
	}

	if override.Metrics.Listen != "" {
		base.Metrics.Listen = override.Metrics.Listen
	}

	return base
}

func mergePipeline(base, override PipelineConfig) PipelineConfig {
	if override.CooldownWindow != nil {
		base.CooldownWindow = override.CooldownWindow
	}
	if override.CooldownScope != "" {
		base.CooldownScope = override.CooldownScope
	}
	if override.MinContentLength != nil {
		base.MinContentLength = override.MinContentLength
	}
	if override.BoilerplatePatterns != nil {
		base.BoilerplatePatterns = override.BoilerplatePatterns
	}
	if override.DuplicateLookback != 0 {
		base.DuplicateLookback = override.DuplicateLookback
	}
	if override.ImpactAlertThreshold != "" {
		base.ImpactAlertThreshold = override.ImpactAlertThreshold
	}
	if override.ClassificationRetryLimit != nil {
		base.ClassificationRetryLimit = override.ClassificationRetryLimit
	}
	if override.BackendAttempts != 0 {
		base.BackendAttempts = override.BackendAttempts
	}
	if override.ClassificationTimeout != 0 {
		base.ClassificationTimeout = override.ClassificationTimeout
	}
	if override.BatchConcurrencyLimit != 0 {
		base.BatchConcurrencyLimit = override.BatchConcurrencyLimit
	}
	if override.BackoffInitial != 0 {
		base.BackoffInitial = override.BackoffInitial
	}
	if override.BackoffMax != 0 {
		base.BackoffMax = override.BackoffMax
	}
	return base
}

func mergeModel(base, override ModelConfig) ModelConfig {
	if override.Backend != "" {
		base.Backend = override.Backend
		// Endpoint defaults belong to a backend.
		base.Endpoint = defaultEndpoint(override.Backend)
	}
	if override.Endpoint != "" {
		base.Endpoint = override.Endpoint
	}
	if override.Model != "" {
		base.Model = override.Model
	}
	if override.APIKey != "" {
		base.APIKey = override.APIKey
	}
	if override.Temperature != 0 {
		base.Temperature = override.Temperature
	}
	if override.MaxChars != 0 {
		base.MaxChars = override.MaxChars
	}
	if override.SystemPrompt != "" {
		base.SystemPrompt = override.SystemPrompt
	}
	return base
}

func mergeEdgar(base, override EdgarConfig) EdgarConfig {
	if override.SubmissionsURL != "" {
		base.SubmissionsURL = override.SubmissionsURL
	}
	if override.ArchivesURL != "" {
		base.ArchivesURL = override.ArchivesURL
	}
	if override.UserAgent != "" {
		base.UserAgent = override.UserAgent
	}
	if override.RequestsPerSecond != 0 {
		base.RequestsPerSecond = override.RequestsPerSecond
	}
	if override.Timeout != 0 {
		base.Timeout = override.Timeout
	}
	if len(override.Forms) > 0 {
		base.Forms = override.Forms
	}
	if override.MaxFilingsPerCompany != 0 {
		base.MaxFilingsPerCompany = override.MaxFilingsPerCompany
	}
	if len(override.Companies) > 0 {
		base.Companies = override.Companies
	}
	return base
}

func mergeEmail(base, override EmailConfig) EmailConfig {
	base.Host = override.Host
	if override.Port != 0 {
		base.Port = override.Port
	}
	if override.Username != "" {
		base.Username = override.Username
	}
	if override.Password != "" {
		base.Password = override.Password
	}
	if override.From != "" {
		base.From = override.From
	}
	if len(override.To) > 0 {
		base.To = override.To
	}
	return base
}

const (
	defaultRetryLimit       = 2
	defaultCooldownWindow   = 24 * time.Hour
	defaultMinContentLength = 1500
)

func defaultEndpoint(backend string) string {
	if backend == "ollama" {
		return "http://localhost:11434"
	}
	return "https://api.openai.com/v1"
}

// DefaultBoilerplatePatterns match filings that carry no event content of
// their own: cover-page-only amendments and exhibit-only submissions.
var DefaultBoilerplatePatterns = []string{
	`(?is)^\s*(amendment no\. \d+ to )?form 8-k/a\s.*is being filed solely to`,
	`(?i)this amendment is being filed solely to (furnish|file|include) (exhibit|the exhibit)`,
	`(?i)^\s*exhibit\s+99\.\d+\s*$`,
}

func defaultConfig() Config {
	tz, _ := time.LoadLocation(defaultTimezone)
	return Config{
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Storage: StorageConfig{Driver: "sqlite", Path: "data/filings.db"},
		Pipeline: PipelineConfig{
			CooldownWindow:        ptr(defaultCooldownWindow),
			CooldownScope:         "event_type",
			MinContentLength:      ptr(defaultMinContentLength),
			BoilerplatePatterns:   DefaultBoilerplatePatterns,
			DuplicateLookback:     30 * 24 * time.Hour,
			ImpactAlertThreshold:  string(domain.ImpactMedium),
			BackendAttempts:       3,
			ClassificationTimeout: 60 * time.Second,
			BatchConcurrencyLimit: 4,
			BackoffInitial:        time.Second,
			BackoffMax:            10 * time.Second,
		},
		Model: ModelConfig{
			Backend:  "ollama",
			Endpoint: defaultEndpoint("ollama"),
			Model:    "llama3:latest",
			MaxChars: 15000,
		},
		Edgar: EdgarConfig{
			SubmissionsURL:       "https://data.sec.gov/submissions",
			ArchivesURL:          "https://www.sec.gov/Archives/edgar/data",
			UserAgent:            "FilingsMonitor/0.1 (ops@example.com)",
			RequestsPerSecond:    5,
			Timeout:              20 * time.Second,
			Forms:                []string{"8-K", "10-Q", "10-K", "4"},
			MaxFilingsPerCompany: 20,
			Companies:            []CompanyConfig{{Symbol: "GEHC", CIK: "0001932393"}},
		},
		Notifications: NotificationConfig{
			Channels: []string{"log"},
			Telegram: TelegramConfig{APIURL: "https://api.telegram.org"},
			Email:    EmailConfig{Port: 587},
		},
		Scheduler: SchedulerConfig{Interval: 15 * time.Minute, Timezone: defaultTimezone, location: tz},
		Metrics:   MetricsConfig{Listen: ":9090"},
	}
}

func ptr[T any](v T) *T {
	return &v
}

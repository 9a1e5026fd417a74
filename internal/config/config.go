// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes bot, upstream, retry,
// storage, HTTP and observability settings.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// TelegramConfig holds bot transport settings.
type TelegramConfig struct {
	Token          string
	AdminIDs       []int64       // seeded as superadmins on startup
	WorkerPoolSize int           // concurrent update handlers
	PollTimeout    time.Duration // long-polling timeout
	UserRPS        float64       // per-user message rate
	UserBurst      int
	MaxPromptRunes int
	TZOffset       time.Duration // bot-local time zone, east of UTC
}

// LLMConfig holds completion API settings.
type LLMConfig struct {
	APIKey        string
	BaseURL       string
	Model         string
	Temperature   float64
	MaxTokens     int
	Streaming     bool
	MaxConcurrent int
	FetchTimeout  time.Duration
	SystemPrompt  string
}

// OCRConfig holds OCR.space settings.
type OCRConfig struct {
	APIKey   string
	URL      string
	Language string
	Timeout  time.Duration
	Retries  int
}

// SessionConfig controls the in-memory session store and the retry flow.
type SessionConfig struct {
	HistoryCap       int
	ContextWindow    int
	MaxManualRetries int
	MaxAutoRetries   int
	AutoBackoffs     []time.Duration
	RetryJitter      time.Duration
	UserCooldown     time.Duration
	FailedTTL        time.Duration
	SweepInterval    time.Duration
}

// StreamConfig controls the streaming presenter.
type StreamConfig struct {
	ChunkSize       int
	EditMinChars    int
	EditMinInterval time.Duration
	FinalPause      time.Duration
	Synthetic       bool
}

// Config holds all configuration values for the application.
type Config struct {
	Telegram TelegramConfig
	LLM      LLMConfig
	OCR      OCRConfig
	Session  SessionConfig
	Stream   StreamConfig

	// Storage
	DBDriver    string // sqlite|postgres
	DBPath      string // SQLite path
	DatabaseURL string // Postgres DSN

	// Knowledge base
	KnowledgePath string
	Threshold     float64 // fuzzy match threshold [0,1]

	// Admin operations
	BroadcastRPS          float64
	InactiveAfter         time.Duration
	InactiveCheckInterval time.Duration

	// Server
	HTTPEnabled       bool
	Port              string
	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	GinMode           string // debug|release|test
	AdminAPIToken     string

	// Logging / Docs
	LogLevel       string
	LogPretty      bool
	SwaggerEnabled bool
	APIBasePath    string

	// Rate limiting
	RateRPS   float64
	RateBurst int

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	IdempotencyTTL time.Duration

	OTEL OTELConfig
}

// DefaultSystemPrompt is used when SYSTEM_PROMPT is unset.
const DefaultSystemPrompt = "Siz foydali, aniq va samimiy AI yordamchisiz. Foydalanuvchi qaysi tilda yozsa, o'sha tilda javob bering."

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		Telegram: TelegramConfig{
			Token:          getenv("BOT_TOKEN", ""),
			AdminIDs:       splitInt64CSV(getenv("ADMIN_IDS", getenv("ADMIN_ID", ""))),
			WorkerPoolSize: getint("WORKER_POOL_SIZE", 16),
			PollTimeout:    getdur("POLL_TIMEOUT", 60*time.Second),
			UserRPS:        getfloat("USER_RPS", 1),
			UserBurst:      getint("USER_BURST", 5),
			MaxPromptRunes: getint("MAX_PROMPT_RUNES", 5000),
			TZOffset:       getdur("TIMEZONE_OFFSET", 5*time.Hour),
		},
		LLM: LLMConfig{
			APIKey:        firstEnv("LLM_API_KEY", "MISTRAL_API_KEY", "OPENAI_API_KEY"),
			BaseURL:       strings.TrimRight(getenv("LLM_BASE_URL", "https://api.mistral.ai/v1"), "/"),
			Model:         getenv("LLM_MODEL", "mistral-large-latest"),
			Temperature:   getfloat("LLM_TEMPERATURE", 0.3),
			MaxTokens:     getint("LLM_MAX_TOKENS", 1500),
			Streaming:     getbool("LLM_STREAMING", true),
			MaxConcurrent: getint("LLM_MAX_CONCURRENT", 4),
			FetchTimeout:  getdur("FETCH_TIMEOUT", 60*time.Second),
			SystemPrompt:  getenv("SYSTEM_PROMPT", DefaultSystemPrompt),
		},
		OCR: OCRConfig{
			APIKey:   getenv("OCR_API_KEY", ""),
			URL:      getenv("OCR_URL", "https://api.ocr.space/parse/image"),
			Language: getenv("OCR_LANGUAGE", "eng"),
			Timeout:  getdur("OCR_TIMEOUT", 30*time.Second),
			Retries:  getint("OCR_RETRIES", 3),
		},
		Session: SessionConfig{
			HistoryCap:       getint("HISTORY_CAP", 100),
			ContextWindow:    getint("CONTEXT_WINDOW", 12),
			MaxManualRetries: getint("MAX_MANUAL_RETRIES", 5),
			MaxAutoRetries:   getint("MAX_AUTO_RETRIES", 3),
			AutoBackoffs:     getdurs("AUTO_BACKOFFS", []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}),
			RetryJitter:      getdur("RETRY_JITTER", 300*time.Millisecond),
			UserCooldown:     getdur("USER_COOLDOWN", 3*time.Second),
			FailedTTL:        getdur("FAILED_REQUEST_TTL", 30*time.Minute),
			SweepInterval:    getdur("SESSION_SWEEP_INTERVAL", time.Minute),
		},
		Stream: StreamConfig{
			ChunkSize:       getint("STREAM_CHUNK_SIZE", 200),
			EditMinChars:    getint("EDIT_MIN_CHARS", 120),
			EditMinInterval: getdur("EDIT_MIN_INTERVAL", 800*time.Millisecond),
			FinalPause:      getdur("FINAL_PAUSE", 300*time.Millisecond),
			Synthetic:       getbool("SYNTHETIC_STREAMING", false),
		},

		DBDriver:    strings.ToLower(getenv("DB_DRIVER", "sqlite")),
		DBPath:      getenv("DB_PATH", "bot.db"),
		DatabaseURL: getenv("DATABASE_URL", ""),

		KnowledgePath: getenv("KNOWLEDGE_PATH", "data/knowledge.yaml"),
		Threshold:     getfloat("THRESHOLD", 0.5),

		BroadcastRPS:          getfloat("BROADCAST_RPS", 20),
		InactiveAfter:         getdur("INACTIVE_AFTER", 7*24*time.Hour),
		InactiveCheckInterval: getdur("INACTIVE_CHECK_INTERVAL", 24*time.Hour),

		HTTPEnabled:       getbool("HTTP_ENABLED", true),
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),
		AdminAPIToken:     getenv("ADMIN_API_TOKEN", ""),

		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "tg-ai-assistant"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	normalize(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadStorage reads the same environment as Load but only validates the
// database settings. Maintenance commands use it so they run without bot or
// LLM credentials.
func LoadStorage() (Config, error) {
	cfg, err := Load()
	if err == nil {
		return cfg, nil
	}
	if serr := cfg.ValidateStorage(); serr != nil {
		return cfg, serr
	}
	return cfg, nil
}

// ValidateStorage checks the database driver and its connection settings.
func (cfg Config) ValidateStorage() error {
	switch cfg.DBDriver {
	case "sqlite":
		if strings.TrimSpace(cfg.DBPath) == "" {
			return errors.New("DB_PATH must not be empty")
		}
	case "postgres":
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			return errors.New("DATABASE_URL is required when DB_DRIVER=postgres")
		}
	default:
		return errors.New("DB_DRIVER must be one of: sqlite, postgres")
	}
	return nil
}

func normalize(cfg *Config) {
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	if cfg.DBDriver == "postgresql" || cfg.DBDriver == "pg" {
		cfg.DBDriver = "postgres"
	}
}

// Validate checks the semantic constraints on a loaded configuration.
func (cfg Config) Validate() error {
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return errors.New("BOT_TOKEN must not be empty")
	}
	if strings.TrimSpace(cfg.LLM.APIKey) == "" {
		return errors.New("LLM_API_KEY (or MISTRAL_API_KEY/OPENAI_API_KEY) must not be empty")
	}
	if cfg.Telegram.WorkerPoolSize < 1 {
		return errors.New("WORKER_POOL_SIZE must be >= 1")
	}
	if cfg.Telegram.MaxPromptRunes < 1 {
		return errors.New("MAX_PROMPT_RUNES must be >= 1")
	}
	if cfg.Telegram.UserRPS < 0 || cfg.Telegram.UserBurst < 1 {
		return errors.New("USER_RPS must be >= 0 and USER_BURST >= 1")
	}
	if cfg.LLM.MaxConcurrent < 1 {
		return errors.New("LLM_MAX_CONCURRENT must be >= 1")
	}
	if cfg.LLM.FetchTimeout <= 0 {
		return errors.New("FETCH_TIMEOUT must be > 0")
	}
	if cfg.OCR.Retries < 1 || cfg.OCR.Timeout <= 0 {
		return errors.New("OCR_RETRIES must be >= 1 and OCR_TIMEOUT > 0")
	}
	s := cfg.Session
	if s.HistoryCap < 1 || s.ContextWindow < 1 {
		return errors.New("HISTORY_CAP and CONTEXT_WINDOW must be >= 1")
	}
	if s.ContextWindow > s.HistoryCap {
		return errors.New("CONTEXT_WINDOW must not exceed HISTORY_CAP")
	}
	if s.MaxManualRetries < 1 || s.MaxAutoRetries < 1 {
		return errors.New("MAX_MANUAL_RETRIES and MAX_AUTO_RETRIES must be >= 1")
	}
	if len(s.AutoBackoffs) == 0 {
		return errors.New("AUTO_BACKOFFS must list at least one duration")
	}
	for _, d := range s.AutoBackoffs {
		if d < 0 {
			return errors.New("AUTO_BACKOFFS must not contain negative durations")
		}
	}
	if s.RetryJitter < 0 || s.UserCooldown < 0 {
		return errors.New("RETRY_JITTER and USER_COOLDOWN must be >= 0")
	}
	if s.FailedTTL <= 0 || s.SweepInterval <= 0 {
		return errors.New("FAILED_REQUEST_TTL and SESSION_SWEEP_INTERVAL must be > 0")
	}
	st := cfg.Stream
	if st.ChunkSize < 1 || st.EditMinChars < 1 || st.EditMinInterval <= 0 || st.FinalPause < 0 {
		return errors.New("stream settings must be positive")
	}
	if err := cfg.ValidateStorage(); err != nil {
		return err
	}
	if cfg.Threshold < 0 || cfg.Threshold > 1 {
		return errors.New("THRESHOLD must be between 0 and 1")
	}
	if cfg.BroadcastRPS <= 0 {
		return errors.New("BROADCAST_RPS must be > 0")
	}
	if cfg.InactiveAfter <= 0 || cfg.InactiveCheckInterval <= 0 {
		return errors.New("INACTIVE_AFTER and INACTIVE_CHECK_INTERVAL must be > 0")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if cfg.RateRPS < 0 {
		return errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.IdempotencyTTL <= 0 {
		return errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}
	return nil
}

// Location returns the bot-local fixed time zone.
func (t TelegramConfig) Location() *time.Location {
	return time.FixedZone("bot", int(t.TZOffset/time.Second))
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

// firstEnv returns the first non-empty value among keys.
func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := getenv(k, ""); v != "" {
			return v
		}
	}
	return ""
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// getdurs parses a CSV of durations; any malformed element yields def.
func getdurs(k string, def []time.Duration) []time.Duration {
	parts := splitCSV(getenv(k, ""))
	if len(parts) == 0 {
		return def
	}
	out := make([]time.Duration, 0, len(parts))
	for _, p := range parts {
		d, err := time.ParseDuration(p)
		if err != nil {
			return def
		}
		out = append(out, d)
	}
	return out
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// splitInt64CSV parses a CSV of integer ids, skipping malformed entries.
func splitInt64CSV(s string) []int64 {
	parts := splitCSV(s)
	if len(parts) == 0 {
		return nil
	}
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		if id, err := strconv.ParseInt(p, 10, 64); err == nil {
			out = append(out, id)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}

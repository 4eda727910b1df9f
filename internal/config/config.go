// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes the Discord and
// Roblox credentials, the ticket workflow limits, the ops HTTP server,
// logging, persistence and observability settings.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "rankbot")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// DiscordConfig defines the bot account and ticket channel placement.
type DiscordConfig struct {
	Token         string   // DISCORD_BOT_TOKEN
	CommandPrefix string   // COMMAND_PREFIX, e.g. "-"
	CategoryID    string   // TICKET_CATEGORY_ID, optional parent category
	StaffRoleIDs  []string // STAFF_ROLE_IDS, roles that may see every ticket
}

// RobloxConfig defines the Roblox web API endpoints and client limits.
type RobloxConfig struct {
	Cookie       string        // ROBLOX_COOKIE (.ROBLOSECURITY of the ranking account)
	UsersURL     string        // ROBLOX_USERS_URL
	GroupsURL    string        // ROBLOX_GROUPS_URL
	Timeout      time.Duration // per-call timeout
	RPS          float64       // outbound tokens per second
	Burst        int           // outbound bucket size
	RoleCacheTTL time.Duration // how long a group's role set is cached
}

// TicketConfig defines the conversation limits.
type TicketConfig struct {
	GroupsFile      string        // YAML file with the main and secondary groups
	RetryBudget     int           // invalid inputs allowed per stage
	WaitTimeout     time.Duration // wait deadline per prompt
	ConfirmToken    string        // literal the requester sends after editing the profile
	VerificationTTL time.Duration // age after which a pending challenge is swept
	SweepInterval   time.Duration // sweep cadence
	CloseDelay      time.Duration // delay between the final message and channel removal
}

// Config holds all configuration values for the application.
type Config struct {
	// Ops server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	GinMode           string        // debug|release|test
	APIBasePath       string        // base path for API routes
	RateRPS           float64       // ops API tokens per second per client
	RateBurst         int           // ops API bucket size

	// Logging
	LogLevel  string // debug|info|warn|error|fatal|panic
	LogPretty bool   // pretty console logs in dev

	// Persistence
	DBPath string // SQLite path

	Discord DiscordConfig
	Roblox  RobloxConfig
	Tickets TicketConfig

	// Observability
	OTEL OTELConfig
}

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
		// Ops server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),
		APIBasePath:       normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),
		RateRPS:           getfloat("RATE_RPS", 5.0),
		RateBurst:         getint("RATE_BURST", 20),

		// Logging
		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty: getbool("LOG_PRETTY", false),

		// Persistence
		DBPath: getenv("DB_PATH", "rankbot.db"),

		Discord: DiscordConfig{
			Token:         strings.TrimSpace(getenv("DISCORD_BOT_TOKEN", "")),
			CommandPrefix: getenv("COMMAND_PREFIX", "-"),
			CategoryID:    getenv("TICKET_CATEGORY_ID", ""),
			StaffRoleIDs:  splitCSV(getenv("STAFF_ROLE_IDS", "")),
		},

		Roblox: RobloxConfig{
			Cookie:       getenv("ROBLOX_COOKIE", ""),
			UsersURL:     strings.TrimRight(getenv("ROBLOX_USERS_URL", "https://users.roblox.com"), "/"),
			GroupsURL:    strings.TrimRight(getenv("ROBLOX_GROUPS_URL", "https://groups.roblox.com"), "/"),
			Timeout:      getdur("ROBLOX_TIMEOUT", 10*time.Second),
			RPS:          getfloat("ROBLOX_RPS", 5.0),
			Burst:        getint("ROBLOX_BURST", 10),
			RoleCacheTTL: getdur("ROLE_CACHE_TTL", 5*time.Minute),
		},

		Tickets: TicketConfig{
			GroupsFile:      getenv("GROUPS_FILE", "config/groups.yml"),
			RetryBudget:     getint("RETRY_BUDGET", 3),
			WaitTimeout:     getdur("WAIT_TIMEOUT", 300*time.Second),
			ConfirmToken:    strings.ToLower(strings.TrimSpace(getenv("CONFIRM_TOKEN", "done"))),
			VerificationTTL: getdur("VERIFICATION_TTL", time.Hour),
			SweepInterval:   getdur("SWEEP_INTERVAL", 30*time.Minute),
			CloseDelay:      getdur("TICKET_CLOSE_DELAY", 30*time.Second),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "rankbot"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if cfg.Discord.Token == "" {
		return cfg, errors.New("DISCORD_BOT_TOKEN must not be empty")
	}
	if strings.TrimSpace(cfg.Discord.CommandPrefix) == "" {
		return cfg, errors.New("COMMAND_PREFIX must not be empty")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.RateRPS <= 0 || cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_RPS must be > 0 and RATE_BURST >= 1")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if cfg.Roblox.UsersURL == "" || cfg.Roblox.GroupsURL == "" {
		return cfg, errors.New("ROBLOX_USERS_URL and ROBLOX_GROUPS_URL must not be empty")
	}
	if cfg.Roblox.Timeout <= 0 {
		return cfg, errors.New("ROBLOX_TIMEOUT must be > 0")
	}
	if cfg.Roblox.RPS <= 0 {
		return cfg, errors.New("ROBLOX_RPS must be > 0")
	}
	if cfg.Roblox.Burst < 1 {
		return cfg, errors.New("ROBLOX_BURST must be >= 1")
	}
	if cfg.Roblox.RoleCacheTTL <= 0 {
		return cfg, errors.New("ROLE_CACHE_TTL must be > 0")
	}
	if strings.TrimSpace(cfg.Tickets.GroupsFile) == "" {
		return cfg, errors.New("GROUPS_FILE must not be empty")
	}
	if cfg.Tickets.RetryBudget < 1 {
		return cfg, errors.New("RETRY_BUDGET must be >= 1")
	}
	if cfg.Tickets.WaitTimeout <= 0 {
		return cfg, errors.New("WAIT_TIMEOUT must be > 0")
	}
	if cfg.Tickets.ConfirmToken == "" {
		return cfg, errors.New("CONFIRM_TOKEN must not be empty")
	}
	if cfg.Tickets.VerificationTTL <= 0 || cfg.Tickets.SweepInterval <= 0 {
		return cfg, errors.New("VERIFICATION_TTL and SWEEP_INTERVAL must be > 0")
	}
	if cfg.Tickets.CloseDelay < 0 {
		return cfg, errors.New("TICKET_CLOSE_DELAY must be >= 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
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

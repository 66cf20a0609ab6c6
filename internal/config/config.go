package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// App holds the runtime configuration for the agent and the sync worker.
type App struct {
	Env              string        `yaml:"env"`
	HTTPPort         string        `yaml:"http_port"`
	JournalPath      string        `yaml:"journal_path"`
	AuthorityURL     string        `yaml:"authority_url"`
	DeviceID         string        `yaml:"device_id"`
	RedisAddr        string        `yaml:"redis_addr"`
	QueueBackend     string        `yaml:"queue_backend"`
	JWTIssuer        string        `yaml:"jwt_issuer"`
	JWTSigningKey    string        `yaml:"jwt_signing_key"`
	AccessTTL        time.Duration `yaml:"access_ttl"`
	RefreshTTL       time.Duration `yaml:"refresh_ttl"`
	RemoteTimeout    time.Duration `yaml:"remote_timeout"`
	ProbeTimeout     time.Duration `yaml:"probe_timeout"`
	ProbeInterval    time.Duration `yaml:"probe_interval"`
	SyncInterval     time.Duration `yaml:"sync_interval"`
	DebounceWindow   time.Duration `yaml:"debounce_window"`
	RateLimitPerMin  int           `yaml:"rate_limit_per_min"`
	DefaultTeacherID string        `yaml:"default_teacher_id"`
}

// Load returns the configuration from an optional YAML file (CONFIG_FILE)
// overridden by environment variables, with sensible defaults for both.
func Load() App {
	cfg := App{
		Env:             "dev",
		HTTPPort:        "8085",
		JournalPath:     "data/journal.db",
		AuthorityURL:    "http://localhost:8080",
		RedisAddr:       "localhost:6379",
		QueueBackend:    "memory",
		JWTIssuer:       "attendsync-agent",
		JWTSigningKey:   "dev-signing-secret-change",
		AccessTTL:       12 * time.Hour,
		RefreshTTL:      720 * time.Hour,
		RemoteTimeout:   8 * time.Second,
		ProbeTimeout:    2 * time.Second,
		ProbeInterval:   15 * time.Second,
		SyncInterval:    5 * time.Minute,
		DebounceWindow:  200 * time.Millisecond,
		RateLimitPerMin: 240,
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			log.Printf("config file %s not applied: %v", path, err)
		}
	}

	cfg.Env = getEnv("APP_ENV", cfg.Env)
	cfg.HTTPPort = getEnv("HTTP_PORT", cfg.HTTPPort)
	cfg.JournalPath = getEnv("JOURNAL_PATH", cfg.JournalPath)
	cfg.AuthorityURL = getEnv("AUTHORITY_URL", cfg.AuthorityURL)
	cfg.DeviceID = getEnv("DEVICE_ID", cfg.DeviceID)
	cfg.RedisAddr = getEnv("REDIS_ADDR", cfg.RedisAddr)
	cfg.QueueBackend = getEnv("QUEUE_BACKEND", cfg.QueueBackend)
	cfg.JWTIssuer = getEnv("JWT_ISSUER", cfg.JWTIssuer)
	cfg.JWTSigningKey = getEnv("JWT_SIGNING_KEY", cfg.JWTSigningKey)
	cfg.AccessTTL = durationEnv("ACCESS_TTL", cfg.AccessTTL)
	cfg.RefreshTTL = durationEnv("REFRESH_TTL", cfg.RefreshTTL)
	cfg.RemoteTimeout = durationEnv("REMOTE_TIMEOUT", cfg.RemoteTimeout)
	cfg.ProbeTimeout = durationEnv("PROBE_TIMEOUT", cfg.ProbeTimeout)
	cfg.ProbeInterval = durationEnv("PROBE_INTERVAL", cfg.ProbeInterval)
	cfg.SyncInterval = durationEnv("SYNC_INTERVAL", cfg.SyncInterval)
	cfg.DebounceWindow = durationEnv("DEBOUNCE_WINDOW", cfg.DebounceWindow)
	cfg.RateLimitPerMin = intEnv("RATE_LIMIT_PER_MIN", cfg.RateLimitPerMin)
	cfg.DefaultTeacherID = getEnv("DEFAULT_TEACHER_ID", cfg.DefaultTeacherID)
	return cfg
}

func loadFile(path string, cfg *App) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			log.Printf("invalid duration for %s: %v, using fallback %s", key, err, fallback)
			return fallback
		}
		return d
	}
	return fallback
}

func intEnv(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		var parsed int
		if _, err := fmt.Sscanf(val, "%d", &parsed); err == nil {
			return parsed
		}
		log.Printf("invalid int for %s, using fallback %d", key, fallback)
	}
	return fallback
}

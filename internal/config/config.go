package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server   ServerConfig
	Scraper  ScraperConfig
	Browser  BrowserConfig
	Database DatabaseConfig
	Redis    RedisConfig
	API      APIConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Port            string
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type ScraperConfig struct {
	ListURLTemplate  string
	RateLimitMin     time.Duration
	RateLimitMax     time.Duration
	ContainerTimeout time.Duration
	ReadyTimeout     time.Duration
	RenderTimeout    time.Duration
	ExhaustThreshold int
	WatchdogSettle   time.Duration
}

type BrowserConfig struct {
	Headless         bool
	Timeout          time.Duration
	ViewportWidth    int
	ViewportHeight   int
	TimezoneID       string
	Locale           string
	ProxyServer      string
	StorageStatePath string
}

type DatabaseConfig struct {
	Path string
}

type RedisConfig struct {
	Addr          string
	Password      string
	DB            int
	Stream        string
	RelayInterval time.Duration
	RelayBatch    int
}

// APIConfig covers the experimental direct client for the platform's
// JSON endpoints. Credentials come from an exported auth file when one
// exists, otherwise from the individual env fields.
type APIConfig struct {
	BaseURL   string
	AuthFile  string
	AuthID    string
	SessionID string
	UserAgent string
	XBC       string
	Timeout   time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvOrDefault("SERVER_PORT", "8080"),
			Host:            getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Scraper: ScraperConfig{
			ListURLTemplate:  getEnvOrDefault("SCRAPER_LIST_URL_TEMPLATE", ""),
			RateLimitMin:     getDurationOrDefault("SCRAPER_RATE_LIMIT_MIN", 3*time.Second),
			RateLimitMax:     getDurationOrDefault("SCRAPER_RATE_LIMIT_MAX", 8*time.Second),
			ContainerTimeout: getDurationOrDefault("SCRAPER_CONTAINER_TIMEOUT", 15*time.Second),
			ReadyTimeout:     getDurationOrDefault("SCRAPER_READY_TIMEOUT", 10*time.Second),
			RenderTimeout:    getDurationOrDefault("SCRAPER_RENDER_TIMEOUT", 5*time.Second),
			ExhaustThreshold: getIntOrDefault("SCRAPER_EXHAUST_THRESHOLD", 3),
			WatchdogSettle:   getDurationOrDefault("SCRAPER_WATCHDOG_SETTLE", 2*time.Second),
		},
		Browser: BrowserConfig{
			Headless:         getBoolOrDefault("BROWSER_HEADLESS", true),
			Timeout:          getDurationOrDefault("BROWSER_TIMEOUT", 30*time.Second),
			ViewportWidth:    getIntOrDefault("BROWSER_VIEWPORT_WIDTH", 1920),
			ViewportHeight:   getIntOrDefault("BROWSER_VIEWPORT_HEIGHT", 1080),
			TimezoneID:       getEnvOrDefault("BROWSER_TIMEZONE", "Europe/Berlin"),
			Locale:           getEnvOrDefault("BROWSER_LOCALE", "en-US"),
			ProxyServer:      getEnvOrDefault("BROWSER_PROXY", ""),
			StorageStatePath: getEnvOrDefault("BROWSER_STORAGE_STATE", "session.json"),
		},
		Database: DatabaseConfig{
			Path: getEnvOrDefault("DB_PATH", "deals.db"),
		},
		Redis: RedisConfig{
			Addr:          getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			Password:      getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:            getIntOrDefault("REDIS_DB", 0),
			Stream:        getEnvOrDefault("REDIS_STREAM", "stream:profile_events"),
			RelayInterval: getDurationOrDefault("REDIS_RELAY_INTERVAL", 5*time.Second),
			RelayBatch:    getIntOrDefault("REDIS_RELAY_BATCH", 50),
		},
		API: APIConfig{
			BaseURL:   getEnvOrDefault("API_BASE_URL", "https://onlyfans.com/api2/v2"),
			AuthFile:  getEnvOrDefault("API_AUTH_FILE", "auth.json"),
			AuthID:    getEnvOrDefault("API_AUTH_ID", ""),
			SessionID: getEnvOrDefault("API_SESSION_ID", ""),
			UserAgent: getEnvOrDefault("API_USER_AGENT", ""),
			XBC:       getEnvOrDefault("API_XBC", ""),
			Timeout:   getDurationOrDefault("API_TIMEOUT", 20*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("DB_PATH must not be empty")
	}

	if c.Scraper.RateLimitMin > c.Scraper.RateLimitMax {
		return fmt.Errorf("SCRAPER_RATE_LIMIT_MIN cannot be greater than SCRAPER_RATE_LIMIT_MAX")
	}

	if c.Scraper.ExhaustThreshold < 1 {
		return fmt.Errorf("SCRAPER_EXHAUST_THRESHOLD must be at least 1")
	}

	if c.Redis.RelayBatch < 1 {
		return fmt.Errorf("REDIS_RELAY_BATCH must be at least 1")
	}

	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

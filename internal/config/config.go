package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/maltedev/pet-price-crawler/internal/browser"
)

type Config struct {
	Server     ServerConfig
	Scraper    ScraperConfig
	Browser    BrowserConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Logging    LoggingConfig
	Schedule   ScheduleConfig
	Categories string
}

type ServerConfig struct {
	Port            int
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// ScraperConfig tunes fetching. PaceMin/PaceMax apply to every page load
// that does not set its own pace. ProductPaceMin/ProductPaceMax override the
// shops' own product page pace; zero keeps it.
type ScraperConfig struct {
	PaceMin        time.Duration
	PaceMax        time.Duration
	ProductPaceMin time.Duration
	ProductPaceMax time.Duration
	MaxAttempts    int
	BackoffMin     time.Duration
	BackoffMax     time.Duration
	UserAgents     []string
}

type BrowserConfig struct {
	Headless          bool
	Timeout           time.Duration
	NavigationTimeout time.Duration
	ViewportWidth     int
	ViewportHeight    int
	Locale            string
	TimezoneID        string
	Proxy             string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
	MaxConns int32
}

type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	Stream       string
	PollInterval time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string
}

// ScheduleConfig holds cron expressions for the daily ETL runs. An empty
// expression disables that run.
type ScheduleConfig struct {
	Links    string
	Products string
	Shops    []string
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            getIntOrDefault("SERVER_PORT", 8084),
			Host:            getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Scraper: ScraperConfig{
			PaceMin:        getDurationOrDefault("SCRAPER_PACE_MIN", 2*time.Second),
			PaceMax:        getDurationOrDefault("SCRAPER_PACE_MAX", 5*time.Second),
			ProductPaceMin: getDurationOrDefault("SCRAPER_PRODUCT_PACE_MIN", 0),
			ProductPaceMax: getDurationOrDefault("SCRAPER_PRODUCT_PACE_MAX", 0),
			MaxAttempts:    getIntOrDefault("SCRAPER_MAX_ATTEMPTS", 5),
			BackoffMin:     getDurationOrDefault("SCRAPER_BACKOFF_MIN", 2*time.Second),
			BackoffMax:     getDurationOrDefault("SCRAPER_BACKOFF_MAX", 5*time.Second),
			UserAgents:     getStringSliceOrDefault("SCRAPER_USER_AGENTS", browser.DefaultUserAgents()),
		},
		Browser: BrowserConfig{
			Headless:          getBoolOrDefault("BROWSER_HEADLESS", true),
			Timeout:           getDurationOrDefault("BROWSER_TIMEOUT", 60*time.Second),
			NavigationTimeout: getDurationOrDefault("BROWSER_NAVIGATION_TIMEOUT", 60*time.Second),
			ViewportWidth:     getIntOrDefault("BROWSER_VIEWPORT_WIDTH", 1920),
			ViewportHeight:    getIntOrDefault("BROWSER_VIEWPORT_HEIGHT", 1080),
			Locale:            getEnvOrDefault("BROWSER_LOCALE", "en-US"),
			TimezoneID:        getEnvOrDefault("BROWSER_TIMEZONE", ""),
			Proxy:             getEnvOrDefault("BROWSER_PROXY", ""),
		},
		Database: DatabaseConfig{
			Host:     getEnvOrDefault("DB_HOST", "localhost"),
			Port:     getIntOrDefault("DB_PORT", 5432),
			User:     getEnvOrDefault("DB_USER", "postgres"),
			Password: getEnvOrDefault("DB_PASSWORD", ""),
			Name:     getEnvOrDefault("DB_NAME", "pet_prices"),
			SSLMode:  getEnvOrDefault("DB_SSL_MODE", "disable"),
			MaxConns: int32(getIntOrDefault("DB_MAX_CONNS", 10)),
		},
		Redis: RedisConfig{
			Addr:         getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			Password:     getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:           getIntOrDefault("REDIS_DB", 0),
			Stream:       getEnvOrDefault("REDIS_STREAM", "stream:pet_prices"),
			PollInterval: getDurationOrDefault("REDIS_RELAY_INTERVAL", 5*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
		Schedule: ScheduleConfig{
			Links:    getEnvOrDefault("SCHEDULE_LINKS", "0 1 * * *"),
			Products: getEnvOrDefault("SCHEDULE_PRODUCTS", "0 3 * * *"),
			Shops:    getStringSliceOrDefault("SCHEDULE_SHOPS", []string{}),
		},
		Categories: getEnvOrDefault("CATEGORIES_DIR", "data/categories"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Scraper.PaceMin > c.Scraper.PaceMax {
		return fmt.Errorf("SCRAPER_PACE_MIN cannot be greater than SCRAPER_PACE_MAX")
	}

	if (c.Scraper.ProductPaceMin > 0) != (c.Scraper.ProductPaceMax > 0) {
		return fmt.Errorf("SCRAPER_PRODUCT_PACE_MIN and SCRAPER_PRODUCT_PACE_MAX must be set together")
	}

	if c.Scraper.ProductPaceMin > c.Scraper.ProductPaceMax {
		return fmt.Errorf("SCRAPER_PRODUCT_PACE_MIN cannot be greater than SCRAPER_PRODUCT_PACE_MAX")
	}

	if c.Scraper.MaxAttempts < 1 {
		return fmt.Errorf("SCRAPER_MAX_ATTEMPTS must be at least 1")
	}

	if c.Scraper.BackoffMin > c.Scraper.BackoffMax {
		return fmt.Errorf("SCRAPER_BACKOFF_MIN cannot be greater than SCRAPER_BACKOFF_MAX")
	}

	if len(c.Scraper.UserAgents) == 0 {
		return fmt.Errorf("SCRAPER_USER_AGENTS must not be empty")
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Name == "" {
		return fmt.Errorf("database name is required")
	}

	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or text, got %q", c.Logging.Format)
	}

	return nil
}

// BrowserOptions maps the browser section onto launch options.
func (c *Config) BrowserOptions() *browser.Options {
	opts := browser.DefaultOptions()
	opts.Headless = c.Browser.Headless
	opts.Timeout = c.Browser.Timeout
	opts.NavigationTimeout = c.Browser.NavigationTimeout
	opts.ViewportWidth = c.Browser.ViewportWidth
	opts.ViewportHeight = c.Browser.ViewportHeight
	opts.Locale = c.Browser.Locale
	opts.TimezoneID = c.Browser.TimezoneID
	opts.ProxyServer = c.Browser.Proxy
	return opts
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

func getStringSliceOrDefault(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var out []string
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	}
	return defaultValue
}

package boot

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

const MaxPageLimit = 100

type Config struct {
	Env     string `env:"ENV,default=dev"`
	DataDir string `env:"DATA_DIR"`
	Server  struct {
		Port          string `env:"PORT,default=8080"`
		MetricsPort   string `env:"METRICS_PORT,default=8081"`
		Origins       string `env:"ALLOWED_ORIGINS,default=*"`
		ControlSecret string `env:"CONTROL_SECRET"`
	}
	Channel struct {
		BaseURL           string        `env:"CHANNEL_API_URL"`
		Token             string        `env:"CHANNEL_API_TOKEN"`
		RequestsPerSecond float64       `env:"CHANNEL_API_RPS,default=5"`
		Timeout           time.Duration `env:"CHANNEL_API_TIMEOUT,default=30s"`
	}
	Fetcher struct {
		PollInterval       time.Duration `env:"FETCHER_POLL_INTERVAL,default=5s"`
		BackoffBase        time.Duration `env:"FETCHER_BACKOFF_BASE,default=1s"`
		BackoffMax         time.Duration `env:"FETCHER_BACKOFF_MAX,default=60s"`
		PageLimit          int           `env:"FETCHER_PAGE_LIMIT,default=100"`
		Resume             bool          `env:"FETCHER_RESUME,default=false"`
		ResolveConcurrency int           `env:"RESOLVE_CONCURRENCY,default=8"`
	}
	Database struct {
		Driver string `env:"DATABASE_DRIVER,default=sqlite3"`
		URL    string `env:"DATABASE_URL"`
	}
}

func Load() (*Config, error) {
	return LoadFrom(envconfig.OsLookuper())
}

// LoadFrom reads the configuration from an arbitrary lookuper, for tests.
func LoadFrom(lookuper envconfig.Lookuper) (*Config, error) {
	config := &Config{}
	if err := envconfig.ProcessWith(context.Background(), config, lookuper); err != nil {
		return nil, fmt.Errorf("parsing env vars: %w", err)
	}
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return config, nil
}

func (c *Config) validate() error {
	if c.IsProduction() && c.Channel.BaseURL == "" {
		return errors.New("CHANNEL_API_URL is required in prod")
	}
	if c.Fetcher.PageLimit <= 0 || c.Fetcher.PageLimit > MaxPageLimit {
		c.Fetcher.PageLimit = MaxPageLimit
	}
	if c.Fetcher.BackoffMax < c.Fetcher.BackoffBase {
		c.Fetcher.BackoffMax = c.Fetcher.BackoffBase
	}
	switch c.Database.Driver {
	case "sqlite3", "pgx":
	default:
		return fmt.Errorf("unsupported DATABASE_DRIVER %q", c.Database.Driver)
	}
	if c.Database.Driver == "pgx" && c.Database.URL == "" {
		return errors.New("DATABASE_URL is required for the pgx driver")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Env == "prod"
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "dev"
}

func (c *Config) DataDirectory() string {
	return c.DataDir
}

func (c *Config) AllowedOrigins() []string {
	var origins []string
	for _, o := range strings.Split(c.Server.Origins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

// DatabaseURL returns the configured DSN, falling back to a sqlite file in the
// data directory.
func (c *Config) DatabaseURL() string {
	if c.Database.URL != "" {
		return c.Database.URL
	}
	return "file:" + path.Join(c.DataDir, "ingest.db")
}

// Package config handles the parsing and validation of application configuration
// from command-line arguments and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/woozymasta/alliedintel/internal/logger"
	"github.com/woozymasta/alliedintel/internal/vars"
)

// Config represents the complete application flags configuration.
type Config struct {
	// betteralign:ignore

	Server    Server        `group:"Server Options" env-namespace:"ALLIED_INTEL"`
	Upstream  Upstream      `group:"Upstream API Options" namespace:"api" env-namespace:"ALLIED_INTEL_API"`
	Cache     Cache         `group:"Cache Options" namespace:"cache" env-namespace:"ALLIED_INTEL_CACHE"`
	Snapshot  Snapshot      `group:"Snapshot Options" namespace:"snapshot" env-namespace:"ALLIED_INTEL_SNAPSHOT"`
	Storage   Storage       `group:"Storage Options" namespace:"db" env-namespace:"ALLIED_INTEL_DB"`
	GeoIP     GeoIP         `group:"GeoIP Options" namespace:"geoip" env-namespace:"ALLIED_INTEL_GEOIP"`
	RateLimit RateLimit     `group:"Rate Limit Options" namespace:"rate-limit" env-namespace:"ALLIED_INTEL_RATE_LIMIT"`
	Logger    logger.Config `group:"Logger Options" namespace:"log" env-namespace:"ALLIED_INTEL_LOG"`

	Version bool `short:"v" long:"version" description:"Print version and build info"`
}

// Server holds web server configuration.
type Server struct {
	// betteralign:ignore

	Address    string `short:"l" long:"address" env:"LISTEN_ADDRESS" description:"Server listen address" default:":8080"`
	AuthToken  string `short:"t" long:"auth-token" env:"AUTH_TOKEN" description:"Admin authentication token"`
	TrustProxy bool   `long:"trust-proxy" env:"TRUST_PROXY" description:"Trust X-Forwarded-For headers"`

	ResolveTimeout time.Duration `long:"resolve-timeout" env:"RESOLVE_TIMEOUT" description:"Hostname lookup timeout for history and status queries" default:"5s"`
}

// Upstream holds the 333networks master server API client configuration.
type Upstream struct {
	// betteralign:ignore

	BaseURL   string        `long:"base-url" env:"BASE_URL" description:"Master server JSON API base URL" default:"https://master.333networks.com/json"`
	UserAgent string        `long:"user-agent" env:"USER_AGENT" description:"User-Agent header sent upstream (default: built-in)"`
	Timeout   time.Duration `long:"timeout" env:"TIMEOUT" description:"Per-request timeout" default:"10s"`
	PageSize  int           `long:"page-size" env:"PAGE_SIZE" description:"Default results per page for list queries" default:"50"`
	RateLimit float64       `long:"rate" env:"RATE" description:"Max outgoing requests per second" default:"5"`
	RateBurst int           `long:"burst" env:"BURST" description:"Outgoing request burst size" default:"5"`
}

// Cache holds response cache configuration.
type Cache struct {
	// betteralign:ignore

	TTL time.Duration `long:"ttl" env:"TTL" description:"Upstream response time-to-live (upstream refreshes every 7.5m)" default:"7m30s"`
}

// Snapshot holds scheduled snapshot pipeline configuration.
type Snapshot struct {
	// betteralign:ignore

	Disabled     bool          `long:"disabled" env:"DISABLED" description:"Do not run the snapshot scheduler"`
	Interval     time.Duration `long:"interval" env:"INTERVAL" description:"Snapshot interval (default: cache TTL)"`
	InitialDelay time.Duration `long:"initial-delay" env:"INITIAL_DELAY" description:"Grace delay before the first snapshot" default:"30s"`
	Workers      int           `long:"workers" env:"WORKERS" description:"Concurrent server deep-fetch workers" default:"4"`
	MaxResults   int           `long:"max-results" env:"MAX_RESULTS" description:"Servers requested per game list" default:"1000"`
}

// Storage holds database configuration.
type Storage struct {
	// betteralign:ignore

	Path          string        `short:"d" long:"path" env:"PATH" description:"Path to SQLite database" default:"alliedintel.db"`
	PruneBefore   time.Duration `long:"prune-older-than" description:"Delete snapshots older than the given age and exit"`
	SnapshotOnce  bool          `long:"snapshot-once" description:"Run a single snapshot sweep and exit"`
	GenerateCount int           `long:"gen-fake-data" hidden:"true"`
}

// GeoIP holds MaxMind GeoIP configuration.
type GeoIP struct {
	// betteralign:ignore

	Disabled bool          `long:"disabled" env:"DISABLED" description:"Disable GeoIP country fallback"`
	Path     string        `short:"g" long:"path" env:"PATH" description:"Path to MMDB file" default:"alliedintel.mmdb"`
	URL      string        `long:"url" env:"URL" description:"URL to download MMDB" default:"https://git.io/GeoLite2-Country.mmdb"`
	Interval time.Duration `long:"interval" env:"INTERVAL" description:"Update interval check" default:"24h"`
}

// RateLimit holds API rate limiting configuration.
type RateLimit struct {
	// betteralign:ignore

	HardLimitCount int           `long:"hard-count" env:"HARD_COUNT" description:"Hard IP limit: requests count" default:"60"`
	HardLimitWin   time.Duration `long:"hard-window" env:"HARD_WINDOW" description:"Hard IP limit: window duration" default:"1m"`
}

// Parse reads the configuration from flags and environment variables.
// It terminates the application if the configuration is invalid or if the help flag is invoked.
func Parse() *Config {
	var cfg Config
	parser := flags.NewParser(&cfg, flags.Default)
	parser.NamespaceDelimiter = "-"

	if _, err := parser.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	if cfg.Version {
		vars.Print()
		os.Exit(0)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	return &cfg
}

// Validate fills derived defaults and rejects unusable values.
func (c *Config) Validate() error {
	if c.Server.AuthToken == "" {
		return errors.New("required flag `-t, --auth-token' or environment variable `ALLIED_INTEL_AUTH_TOKEN` was not specified")
	}

	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache ttl must be positive, got %s", c.Cache.TTL)
	}
	if c.Snapshot.Interval <= 0 {
		c.Snapshot.Interval = c.Cache.TTL
	}
	if c.Snapshot.Workers < 1 {
		c.Snapshot.Workers = 1
	}
	if c.Snapshot.MaxResults < 1 || c.Snapshot.MaxResults > 1000 {
		return fmt.Errorf("snapshot max results must be within 1..1000, got %d", c.Snapshot.MaxResults)
	}
	if c.Upstream.UserAgent == "" {
		c.Upstream.UserAgent = vars.UserAgent()
	}
	if c.Upstream.RateLimit <= 0 {
		return fmt.Errorf("upstream rate must be positive, got %v", c.Upstream.RateLimit)
	}
	if c.Upstream.RateBurst < 1 {
		c.Upstream.RateBurst = 1
	}

	return nil
}

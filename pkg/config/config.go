// Package config loads the collector configuration from a YAML file.
//
// Environment variables are expanded inside the file before parsing using
// ${VAR} and ${VAR:-default} syntax, so credentials can be kept out of the
// file itself. A small set of well-known variables (REDIS_HOST, REDIS_PORT,
// REDIS_DB, LOG_LEVEL) override file values after parsing.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Source type discriminators.
const (
	SourceTypeLocalReceiver = "local_receiver"
	SourceTypeWideArea      = "wide_area"
	SourceTypePush          = "push"
)

// Limits enforced at load time.
const (
	MinTickInterval  = 5 * time.Second
	MaxSourceTimeout = 10 * time.Second
)

// Config represents the complete application configuration.
type Config struct {
	Log       LogConfig      `yaml:"log"`
	Server    ServerConfig   `yaml:"server"`
	Cache     CacheConfig    `yaml:"cache"`
	Registry  RegistryConfig `yaml:"registry"`
	Scheduler SchedConfig    `yaml:"scheduler"`
	Push      PushConfig     `yaml:"push"`
	Regions   []RegionConfig `yaml:"regions"`
}

// LogConfig controls log verbosity.
type LogConfig struct {
	// Level is one of DEBUG, INFO, WARN, ERROR.
	Level string `yaml:"level"`
}

// ServerConfig contains the push-ingress HTTP listener settings.
type ServerConfig struct {
	// Host is the bind address (default: "0.0.0.0")
	Host string `yaml:"host"`

	// Port is the HTTP listener port (default: 8000)
	Port int `yaml:"port"`
}

// Addr returns the host:port bind address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// CacheConfig contains cache (Redis) connection settings.
type CacheConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	DB   int    `yaml:"db"`

	// DefaultTTLSeconds is applied to blended-view keys (default: 300)
	DefaultTTLSeconds int `yaml:"default_ttl_seconds"`
}

// DefaultTTL returns the blended-view TTL as a duration.
func (c CacheConfig) DefaultTTL() time.Duration {
	if c.DefaultTTLSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.DefaultTTLSeconds) * time.Second
}

// Addr returns the host:port form of the cache endpoint.
func (c CacheConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// RegistryConfig locates the static aircraft-registry CSV.
type RegistryConfig struct {
	// CSVPath is the preferred registry location. The usual candidate
	// directories are also probed relative to the working directory.
	CSVPath string `yaml:"csv_path"`

	// FallbackURL is fetched once when no local CSV exists.
	FallbackURL string `yaml:"fallback_url"`
}

// SchedConfig drives the per-region collection cycle.
type SchedConfig struct {
	// TickIntervalSeconds is the cycle cadence (default: 15, minimum: 5)
	TickIntervalSeconds int `yaml:"tick_interval_seconds"`
}

// TickInterval returns the cycle cadence, floored at MinTickInterval.
func (s SchedConfig) TickInterval() time.Duration {
	d := time.Duration(s.TickIntervalSeconds) * time.Second
	if d < MinTickInterval {
		return MinTickInterval
	}
	return d
}

// PushConfig configures the pi-station push ingress.
type PushConfig struct {
	// SharedSecrets maps region id to that region's full shared secret. A
	// secret must start with "<region>." so the ingress can route by key alone.
	SharedSecrets map[string]string `yaml:"shared_secrets"`

	// BufferTTLSeconds bounds station push buffers in the cache. It must
	// cover at least two push intervals so the scheduler never races an
	// expiry (default: 120).
	BufferTTLSeconds int `yaml:"buffer_ttl_seconds"`

	// MaxRecords caps the aircraft list in one push request (default: 10000)
	MaxRecords int `yaml:"max_records"`
}

// BufferTTL returns the station push buffer TTL.
func (p PushConfig) BufferTTL() time.Duration {
	if p.BufferTTLSeconds <= 0 {
		return 120 * time.Second
	}
	return time.Duration(p.BufferTTLSeconds) * time.Second
}

// MaxRecordsOrDefault returns the push payload record cap.
func (p PushConfig) MaxRecordsOrDefault() int {
	if p.MaxRecords <= 0 {
		return 10000
	}
	return p.MaxRecords
}

// RegionConfig defines one collection region and its data sources.
type RegionConfig struct {
	// ID is the stable identifier used in cache keys and push secrets.
	ID string `yaml:"id"`

	// Name is a friendly label for logs and API responses.
	Name string `yaml:"name"`

	Enabled  bool   `yaml:"enabled"`
	Timezone string `yaml:"timezone"`

	Center      Center  `yaml:"center"`
	RadiusMiles float64 `yaml:"radius_miles"`

	Sources []SourceConfig `yaml:"sources"`
}

// Center is the region's reference point in decimal degrees.
type Center struct {
	Lat float64 `yaml:"lat"`
	Lon float64 `yaml:"lon"`
}

// SourceConfig is a tagged variant over the three source kinds; Type selects
// which of the remaining fields apply.
type SourceConfig struct {
	Type    string `yaml:"type"`
	Name    string `yaml:"name"`
	Enabled bool   `yaml:"enabled"`

	// URL is the endpoint for local_receiver and wide_area sources.
	URL string `yaml:"url"`

	// PollIntervalSeconds spaces fetches for this source; zero means every
	// scheduler tick.
	PollIntervalSeconds int `yaml:"poll_interval_seconds"`

	// TimeoutSeconds is the per-call HTTP deadline, capped at 10.
	TimeoutSeconds int `yaml:"timeout_seconds"`

	// Wide-area API credentials. Anonymous access carries a lower rate limit.
	Anonymous bool   `yaml:"anonymous"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
}

// PollInterval returns the source cadence; zero means "every tick".
func (s SourceConfig) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalSeconds) * time.Second
}

// Timeout returns the per-call HTTP deadline, capped at MaxSourceTimeout.
func (s SourceConfig) Timeout() time.Duration {
	d := time.Duration(s.TimeoutSeconds) * time.Second
	if d <= 0 || d > MaxSourceTimeout {
		return MaxSourceTimeout
	}
	return d
}

// envVarPattern matches ${VAR} and ${VAR:-default}.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnv expands ${VAR} and ${VAR:-default} references in raw config
// text. Unset variables without a default expand to the empty string.
func expandEnv(text string) string {
	return envVarPattern.ReplaceAllStringFunc(text, func(match string) string {
		expr := match[2 : len(match)-1]
		if name, def, ok := strings.Cut(expr, ":-"); ok {
			if v, set := os.LookupEnv(name); set && v != "" {
				return v
			}
			return def
		}
		return os.Getenv(expr)
	})
}

// Load reads, expands, parses, and validates the configuration file. If path
// is empty the CONFIG_FILE environment variable and then "collectors.yaml"
// are used, each probed against the usual candidate directories.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path == "" {
		path = "collectors.yaml"
	}

	resolved, err := resolvePath(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", resolved, err)
	}

	cfg.applyEnvironmentOverrides()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// resolvePath probes the candidate locations for the config file: the
// config/ directory, the path as given, and the container config mount.
func resolvePath(path string) (string, error) {
	candidates := []string{
		"config/" + path,
		path,
		"/app/config/" + path,
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}
	return "", fmt.Errorf("config file not found: %s", path)
}

func (c *Config) applyEnvironmentOverrides() {
	if host := os.Getenv("REDIS_HOST"); host != "" {
		c.Cache.Host = host
	}
	if port := os.Getenv("REDIS_PORT"); port != "" {
		if v, err := strconv.Atoi(port); err == nil {
			c.Cache.Port = v
		}
	}
	if db := os.Getenv("REDIS_DB"); db != "" {
		if v, err := strconv.Atoi(db); err == nil {
			c.Cache.DB = v
		}
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "INFO"
	}
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Cache.Host == "" {
		c.Cache.Host = "localhost"
	}
	if c.Cache.Port == 0 {
		c.Cache.Port = 6379
	}
	if c.Scheduler.TickIntervalSeconds == 0 {
		c.Scheduler.TickIntervalSeconds = 15
	}
}

// Validate rejects configurations the collector cannot safely run with.
// Validation failures are fatal at startup.
func (c *Config) Validate() error {
	switch strings.ToUpper(c.Log.Level) {
	case "DEBUG", "INFO", "WARN", "WARNING", "ERROR":
	default:
		return fmt.Errorf("invalid log level %q", c.Log.Level)
	}

	if len(c.EnabledRegions()) == 0 {
		return fmt.Errorf("no enabled regions configured")
	}

	seen := make(map[string]bool)
	for _, region := range c.Regions {
		if !region.Enabled {
			continue
		}
		if region.ID == "" {
			return fmt.Errorf("region %q: missing id", region.Name)
		}
		if seen[region.ID] {
			return fmt.Errorf("region %q: duplicate id", region.ID)
		}
		seen[region.ID] = true

		if region.RadiusMiles <= 0 {
			return fmt.Errorf("region %q: radius_miles must be positive", region.ID)
		}
		for _, src := range region.Sources {
			if err := validateSource(region.ID, src); err != nil {
				return err
			}
		}
	}

	// A shared secret routes to its region by prefix; an inconsistent
	// prefix would make every push to that region fail authorization.
	for region, secret := range c.Push.SharedSecrets {
		if !strings.HasPrefix(secret, region+".") {
			return fmt.Errorf("push secret for region %q must start with %q", region, region+".")
		}
	}

	return nil
}

func validateSource(regionID string, src SourceConfig) error {
	switch src.Type {
	case SourceTypeLocalReceiver, SourceTypeWideArea:
		if src.Enabled && src.URL == "" {
			return fmt.Errorf("region %q: %s source requires a url", regionID, src.Type)
		}
	case SourceTypePush:
	default:
		return fmt.Errorf("region %q: unknown source type %q", regionID, src.Type)
	}
	return nil
}

// EnabledRegions returns the regions the scheduler should run.
func (c *Config) EnabledRegions() []RegionConfig {
	var out []RegionConfig
	for _, r := range c.Regions {
		if r.Enabled {
			out = append(out, r)
		}
	}
	return out
}

// SecretForRegion returns the shared secret configured for a region.
func (c *Config) SecretForRegion(region string) (string, bool) {
	secret, ok := c.Push.SharedSecrets[region]
	return secret, ok
}

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds client and stub configuration loaded from YAML and env.
type Config struct {
	SearchAPIURL     string
	SearchAPITimeout time.Duration
	MaxItems         int
	ClimateMaxItems  int

	DebounceDelay time.Duration

	RateLimitRPS   int
	RateLimitBurst int

	CircuitBreakerEnabled          bool
	CircuitBreakerFailureThreshold int
	CircuitBreakerSuccessThreshold int
	CircuitBreakerTimeout          time.Duration

	MetricsAddr string
	LogFile     string

	StubPort           string
	StubRequestTimeout time.Duration
	StubRateLimitRPS   int
	StubRateLimitBurst int
	StubTestingMode    bool

	StubOverloadWindow       time.Duration
	StubOverloadThresholdPct int

	StubCacheBackend          string // "", "memory" or "memcached"; "" disables the response cache
	StubCacheTTL              time.Duration
	StubMemcachedAddrs        string
	StubMemcachedTimeout      time.Duration
	StubMemcachedMaxIdleConns int
	StubCoalesceTimeout       time.Duration
	StubWarmCommands          []string
	StubWarmInterval          time.Duration

	ShutdownTimeout time.Duration
}

type fileConfig struct {
	SearchAPI struct {
		URL             string `yaml:"url"`
		Timeout         string `yaml:"timeout"`
		MaxItems        int    `yaml:"max_items"`
		ClimateMaxItems int    `yaml:"climate_max_items"`
	} `yaml:"search_api"`

	Debounce struct {
		Delay string `yaml:"delay"`
	} `yaml:"debounce"`

	Reliability struct {
		RateLimitRPS   int `yaml:"rate_limit_rps"`
		RateLimitBurst int `yaml:"rate_limit_burst"`
		CircuitBreaker struct {
			Enabled          bool   `yaml:"enabled"`
			FailureThreshold int    `yaml:"failure_threshold"`
			SuccessThreshold int    `yaml:"success_threshold"`
			Timeout          string `yaml:"timeout"`
		} `yaml:"circuit_breaker"`
	} `yaml:"reliability"`

	Metrics struct {
		Addr string `yaml:"addr"`
	} `yaml:"metrics"`

	Log struct {
		File *string `yaml:"file"`
	} `yaml:"log"`

	Stub struct {
		Port           string `yaml:"port"`
		RequestTimeout string `yaml:"request_timeout"`
		RateLimitRPS   int    `yaml:"rate_limit_rps"`
		RateLimitBurst int    `yaml:"rate_limit_burst"`
		TestingMode    bool   `yaml:"testing_mode"`

		OverloadWindow       string `yaml:"overload_window"`
		OverloadThresholdPct int    `yaml:"overload_threshold_pct"`

		Cache struct {
			Backend          string   `yaml:"backend"`
			TTL              string   `yaml:"ttl"`
			MemcachedAddrs   string   `yaml:"memcached_addrs"`
			MemcachedTimeout string   `yaml:"memcached_timeout"`
			MemcachedMaxIdle int      `yaml:"memcached_max_idle_conns"`
			CoalesceTimeout  string   `yaml:"coalesce_timeout"`
			WarmCommands     []string `yaml:"warm"`
			WarmInterval     string   `yaml:"warm_interval"`
		} `yaml:"cache"`
	} `yaml:"stub"`

	Shutdown struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"shutdown"`
}

const (
	defaultSearchAPIURL = "http://localhost:3001"
	defaultLogFile      = "citysearch.log"
	maxItemsLimit       = 1000
)

// Load reads configuration from CONFIG_PATH, or config/{ENV_NAME}.yaml (default dev)
// relative to the working directory. A missing default file yields defaults; a
// missing CONFIG_PATH is an error. SEARCH_API_URL and METRICS_ADDR override the file.
func Load() (*Config, error) {
	path, explicit := os.Getenv("CONFIG_PATH"), true
	if path == "" {
		explicit = false
		env := os.Getenv("ENV_NAME")
		if env == "" {
			env = "dev"
		}
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("config: get working directory: %w", err)
		}
		path = filepath.Join(cwd, "config", env+".yaml")
	}

	var fc fileConfig
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
		// defaults only
	case errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("config file not found: %s", path)
	default:
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := fromFile(fc)
	applyEnv(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fromFile(fc fileConfig) *Config {
	cfg := &Config{}

	cfg.SearchAPIURL = strings.TrimSpace(fc.SearchAPI.URL)
	if cfg.SearchAPIURL == "" {
		cfg.SearchAPIURL = defaultSearchAPIURL
	}
	cfg.SearchAPITimeout = parseDurationOrZero(fc.SearchAPI.Timeout, 5*time.Second)
	cfg.MaxItems = fc.SearchAPI.MaxItems
	if cfg.MaxItems == 0 {
		cfg.MaxItems = 10
	}
	cfg.ClimateMaxItems = fc.SearchAPI.ClimateMaxItems
	if cfg.ClimateMaxItems == 0 {
		cfg.ClimateMaxItems = 20
	}

	cfg.DebounceDelay = parseDurationOrZero(fc.Debounce.Delay, 300*time.Millisecond)

	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 1
	}

	cb := fc.Reliability.CircuitBreaker
	cfg.CircuitBreakerEnabled = cb.Enabled
	cfg.CircuitBreakerFailureThreshold = cb.FailureThreshold
	if cfg.CircuitBreakerFailureThreshold <= 0 {
		cfg.CircuitBreakerFailureThreshold = 5
	}
	cfg.CircuitBreakerSuccessThreshold = cb.SuccessThreshold
	if cfg.CircuitBreakerSuccessThreshold <= 0 {
		cfg.CircuitBreakerSuccessThreshold = 1
	}
	cfg.CircuitBreakerTimeout = parseDuration(cb.Timeout, 30*time.Second)

	cfg.MetricsAddr = strings.TrimSpace(fc.Metrics.Addr)
	cfg.LogFile = defaultLogFile
	if fc.Log.File != nil {
		cfg.LogFile = strings.TrimSpace(*fc.Log.File)
	}
	cfg.StubPort = strings.TrimSpace(fc.Stub.Port)
	if cfg.StubPort == "" {
		cfg.StubPort = "3001"
	}
	cfg.StubRequestTimeout = parseDuration(fc.Stub.RequestTimeout, 10*time.Second)
	cfg.StubRateLimitRPS = fc.Stub.RateLimitRPS
	cfg.StubRateLimitBurst = fc.Stub.RateLimitBurst
	if cfg.StubRateLimitBurst <= 0 {
		cfg.StubRateLimitBurst = 1
	}
	cfg.StubTestingMode = fc.Stub.TestingMode
	cfg.StubOverloadWindow = parseDuration(fc.Stub.OverloadWindow, time.Minute)
	cfg.StubOverloadThresholdPct = fc.Stub.OverloadThresholdPct
	if cfg.StubOverloadThresholdPct <= 0 {
		cfg.StubOverloadThresholdPct = 80
	}

	sc := fc.Stub.Cache
	cfg.StubCacheBackend = strings.ToLower(strings.TrimSpace(sc.Backend))
	cfg.StubCacheTTL = parseDuration(sc.TTL, 5*time.Minute)
	cfg.StubMemcachedAddrs = strings.TrimSpace(sc.MemcachedAddrs)
	if cfg.StubMemcachedAddrs == "" {
		cfg.StubMemcachedAddrs = "localhost:11211"
	}
	cfg.StubMemcachedTimeout = parseDuration(sc.MemcachedTimeout, 100*time.Millisecond)
	cfg.StubMemcachedMaxIdleConns = sc.MemcachedMaxIdle
	cfg.StubCoalesceTimeout = parseDurationOrZero(sc.CoalesceTimeout, 2*time.Second)
	for _, c := range sc.WarmCommands {
		if c = strings.TrimSpace(c); c != "" {
			cfg.StubWarmCommands = append(cfg.StubWarmCommands, c)
		}
	}
	cfg.StubWarmInterval = parseDurationOrZero(sc.WarmInterval, 0)

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 2*time.Second)
	return cfg
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("SEARCH_API_URL")); v != "" {
		cfg.SearchAPIURL = v
	}
	if v, ok := os.LookupEnv("METRICS_ADDR"); ok {
		cfg.MetricsAddr = strings.TrimSpace(v)
	}
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Zero and negative durations are returned as-is so validate can reject them.
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

func validate(cfg *Config) error {
	if cfg.SearchAPITimeout <= 0 {
		return fmt.Errorf("search_api.timeout must be positive")
	}
	if cfg.DebounceDelay <= 0 {
		return fmt.Errorf("debounce.delay must be positive")
	}
	if cfg.MaxItems < 1 || cfg.MaxItems > maxItemsLimit {
		return fmt.Errorf("search_api.max_items must be in 1..%d, got %d", maxItemsLimit, cfg.MaxItems)
	}
	if cfg.ClimateMaxItems < 1 || cfg.ClimateMaxItems > maxItemsLimit {
		return fmt.Errorf("search_api.climate_max_items must be in 1..%d, got %d", maxItemsLimit, cfg.ClimateMaxItems)
	}
	if cfg.RateLimitRPS < 0 {
		return fmt.Errorf("reliability.rate_limit_rps must not be negative")
	}
	if cfg.StubRateLimitRPS < 0 {
		return fmt.Errorf("stub.rate_limit_rps must not be negative")
	}
	if cfg.StubOverloadThresholdPct > 100 {
		return fmt.Errorf("stub.overload_threshold_pct must be in 1..100, got %d", cfg.StubOverloadThresholdPct)
	}
	switch cfg.StubCacheBackend {
	case "", "memory", "memcached":
	default:
		return fmt.Errorf("stub.cache.backend must be memory, memcached or empty, got %q", cfg.StubCacheBackend)
	}
	if cfg.StubCoalesceTimeout < 0 || cfg.StubWarmInterval < 0 {
		return fmt.Errorf("stub.cache durations must not be negative")
	}
	u, err := url.Parse(cfg.SearchAPIURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("search_api.url must be an absolute http(s) URL, got %q", cfg.SearchAPIURL)
	}
	return nil
}

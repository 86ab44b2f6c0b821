package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

const (
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"

	CacheBigCache = "bigcache"
	CacheRedis    = "redis"
	CacheNone     = "none"
)

// Config holds the process configuration. Values come from an optional
// YAML file named by CONFIG_FILE and are then overridden by the environment.
type Config struct {
	Port            string `yaml:"port"`
	DefaultRedirect string `yaml:"default_redirect"`
	AdminKey        string `yaml:"admin_key"`
	AdminSecret     string `yaml:"admin_secret"`

	StoreDriver  string `yaml:"store_driver"`
	DatabasePath string `yaml:"database_path"`
	CacheDriver  string `yaml:"cache_driver"`

	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	HitWindow          time.Duration `yaml:"-"`
	HitWindowStr       string        `yaml:"hit_window"`
	HitBuffer          int           `yaml:"hit_buffer"`
	HitDropWhenFull    bool          `yaml:"hit_drop_when_full"`
	HitWriteTimeout    time.Duration `yaml:"-"`
	HitWriteTimeoutStr string        `yaml:"hit_write_timeout"`

	// RateLimitPerMinute caps redirects per client IP; 0 disables it.
	RateLimitPerMinute int     `yaml:"rate_limit_per_minute"`
	LoginRPS           float64 `yaml:"login_rps"`
	LoginBurst         int     `yaml:"login_burst"`

	// TrustedProxies lists proxy addresses or CIDRs whose X-Forwarded-For
	// header is believed. Empty means clients are identified by the
	// connection address only.
	TrustedProxies []string `yaml:"trusted_proxies"`

	LogDir    string `yaml:"log_dir"`
	SentryDSN string `yaml:"sentry_dsn"`

	ShutdownTimeout    time.Duration `yaml:"-"`
	ShutdownTimeoutStr string        `yaml:"shutdown_timeout"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Port:               "8080",
		StoreDriver:        StoreSQLite,
		DatabasePath:       "url_redirector.db",
		CacheDriver:        CacheBigCache,
		HitWindowStr:       "5s",
		HitBuffer:          128,
		HitWriteTimeoutStr: "10s",
		LoginRPS:           0.2,
		LoginBurst:         5,
		LogDir:             "logs",
		ShutdownTimeoutStr: "10s",
	}
}

// Load builds the configuration from CONFIG_FILE (if set) and the
// environment, then validates it.
func Load() (Config, error) {
	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.parseDurations(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFile merges the YAML document at path into cfg.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	envString(&c.Port, "PORT")
	envString(&c.DefaultRedirect, "DEFAULT_REDIRECT")
	envString(&c.AdminKey, "ADMIN_KEY")
	envString(&c.AdminSecret, "ADMIN_SECRET")
	envString(&c.StoreDriver, "STORE_DRIVER")
	envString(&c.DatabasePath, "DATABASE_PATH")
	envString(&c.CacheDriver, "CACHE_DRIVER")
	envString(&c.RedisAddr, "REDIS_ADDR")
	envString(&c.RedisPassword, "REDIS_PASSWORD")
	envString(&c.HitWindowStr, "HIT_WINDOW")
	envString(&c.HitWriteTimeoutStr, "HIT_WRITE_TIMEOUT")
	envString(&c.LogDir, "LOG_DIR")
	envString(&c.SentryDSN, "SENTRY_DSN")
	envString(&c.ShutdownTimeoutStr, "SHUTDOWN_TIMEOUT")
	envList(&c.TrustedProxies, "TRUSTED_PROXIES")

	return errors.Join(
		envInt(&c.RedisDB, "REDIS_DB"),
		envInt(&c.HitBuffer, "HIT_BUFFER"),
		envBool(&c.HitDropWhenFull, "HIT_DROP_WHEN_FULL"),
		envInt(&c.RateLimitPerMinute, "RATE_LIMIT_PER_MINUTE"),
		envFloat(&c.LoginRPS, "LOGIN_RPS"),
		envInt(&c.LoginBurst, "LOGIN_BURST"),
	)
}

func (c *Config) parseDurations() error {
	var err error
	if c.HitWindow, err = parseDuration("HIT_WINDOW", c.HitWindowStr); err != nil {
		return err
	}
	if c.HitWriteTimeout, err = parseDuration("HIT_WRITE_TIMEOUT", c.HitWriteTimeoutStr); err != nil {
		return err
	}
	if c.ShutdownTimeout, err = parseDuration("SHUTDOWN_TIMEOUT", c.ShutdownTimeoutStr); err != nil {
		return err
	}
	return nil
}

// Validate reports the first setting that would prevent the service from
// starting.
func (c Config) Validate() error {
	if c.DefaultRedirect == "" {
		return errors.New("DEFAULT_REDIRECT is required")
	}
	if c.AdminKey == "" {
		return errors.New("ADMIN_KEY is required")
	}
	if c.AdminSecret == "" {
		return errors.New("ADMIN_SECRET is required")
	}
	switch c.StoreDriver {
	case StoreSQLite:
		if c.DatabasePath == "" {
			return errors.New("DATABASE_PATH is required when STORE_DRIVER=sqlite")
		}
	case StoreRedis:
		if c.RedisAddr == "" {
			return errors.New("REDIS_ADDR is required when STORE_DRIVER=redis")
		}
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StoreSQLite, StoreRedis, c.StoreDriver)
	}
	switch c.CacheDriver {
	case CacheBigCache, CacheNone:
	case CacheRedis:
		if c.RedisAddr == "" {
			return errors.New("REDIS_ADDR is required when CACHE_DRIVER=redis")
		}
	default:
		return fmt.Errorf("CACHE_DRIVER must be %q, %q or %q, got %q", CacheBigCache, CacheRedis, CacheNone, c.CacheDriver)
	}
	if c.HitWindow <= 0 {
		return errors.New("HIT_WINDOW must be > 0")
	}
	if c.HitBuffer <= 0 {
		return errors.New("HIT_BUFFER must be > 0")
	}
	if c.HitWriteTimeout < 0 {
		return errors.New("HIT_WRITE_TIMEOUT must be >= 0")
	}
	if c.RateLimitPerMinute < 0 {
		return errors.New("RATE_LIMIT_PER_MINUTE must be >= 0")
	}
	if c.LoginRPS <= 0 || c.LoginBurst <= 0 {
		return errors.New("LOGIN_RPS and LOGIN_BURST must be > 0")
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("SHUTDOWN_TIMEOUT must be > 0")
	}
	if _, err := c.TrustedProxyNets(); err != nil {
		return fmt.Errorf("TRUSTED_PROXIES: %w", err)
	}
	return nil
}

func envString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func envList(dst *[]string, key string) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	var list []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			list = append(list, item)
		}
	}
	*dst = list
}

// TrustedProxyNets parses TrustedProxies.
func (c Config) TrustedProxyNets() ([]*net.IPNet, error) {
	nets := make([]*net.IPNet, 0, len(c.TrustedProxies))
	for _, p := range c.TrustedProxies {
		network, err := ParseProxy(p)
		if err != nil {
			return nil, err
		}
		nets = append(nets, network)
	}
	return nets, nil
}

// ParseProxy accepts a single IP or a CIDR and returns it as a network.
func ParseProxy(s string) (*net.IPNet, error) {
	if strings.Contains(s, "/") {
		_, network, err := net.ParseCIDR(s)
		if err != nil {
			return nil, fmt.Errorf("invalid CIDR %q", s)
		}
		return network, nil
	}
	ip := net.ParseIP(s)
	if ip == nil {
		return nil, fmt.Errorf("invalid IP %q", s)
	}
	bits := 128
	if ip4 := ip.To4(); ip4 != nil {
		ip, bits = ip4, 32
	}
	return &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)}, nil
}

func envInt(dst *int, key string) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: invalid integer %q", key, v)
	}
	*dst = i
	return nil
}

func envFloat(dst *float64, key string) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("%s: invalid number %q", key, v)
	}
	*dst = f
	return nil
}

func envBool(dst *bool, key string) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: invalid boolean %q", key, v)
	}
	*dst = b
	return nil
}

func parseDuration(key, v string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q", key, v)
	}
	return d, nil
}

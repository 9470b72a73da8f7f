// Package config loads rpcctl settings from a TOML file.
//
// Only keys present in the file override the defaults, so a file may be as
// short as a single url line.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"formrpc/digest"
	"formrpc/loadbalance"

	"github.com/BurntSushi/toml"
)

type Discovery struct {
	Service  string
	Etcd     []string
	Balancer string
}

type Config struct {
	BaseURL        string
	Username       string
	Password       string
	PasswordHashed bool
	Digest         string

	KeepAliveInterval time.Duration
	Timeout           time.Duration // 0 disables the timeout middleware
	Retries           int
	RetryDelay        time.Duration
	RateLimit         float64 // calls per second, 0 disables limiting
	RateBurst         int

	Discovery Discovery
	LogLevel  string
}

func Default() Config {
	return Config{
		Digest:            digest.AlgorithmSHA256,
		KeepAliveInterval: 30 * time.Minute,
		RetryDelay:        200 * time.Millisecond,
		RateBurst:         1,
		Discovery:         Discovery{Balancer: "roundrobin"},
		LogLevel:          "info",
	}
}

type fileConfig struct {
	URL            string  `toml:"url"`
	Username       string  `toml:"username"`
	Password       string  `toml:"password"`
	PasswordHashed bool    `toml:"password_hashed"`
	Digest         string  `toml:"digest"`
	KeepAlive      string  `toml:"keep_alive"`
	Timeout        string  `toml:"timeout"`
	Retries        int     `toml:"retries"`
	RetryDelay     string  `toml:"retry_delay"`
	RateLimit      float64 `toml:"rate_limit"`
	RateBurst      int     `toml:"rate_burst"`
	LogLevel       string  `toml:"log_level"`
	Discovery      struct {
		Service  string   `toml:"service"`
		Etcd     []string `toml:"etcd"`
		Balancer string   `toml:"balancer"`
	} `toml:"discovery"`
}

// Load reads path over the defaults and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("load config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("url") {
		cfg.BaseURL = strings.TrimSpace(raw.URL)
	}
	if meta.IsDefined("username") {
		cfg.Username = strings.TrimSpace(raw.Username)
	}
	if meta.IsDefined("password") {
		cfg.Password = raw.Password
	}
	if meta.IsDefined("password_hashed") {
		cfg.PasswordHashed = raw.PasswordHashed
	}
	if meta.IsDefined("digest") {
		cfg.Digest = strings.TrimSpace(raw.Digest)
	}
	if meta.IsDefined("keep_alive") {
		if cfg.KeepAliveInterval, err = parseDuration("keep_alive", raw.KeepAlive); err != nil {
			return Config{}, err
		}
	}
	if meta.IsDefined("timeout") {
		if cfg.Timeout, err = parseDuration("timeout", raw.Timeout); err != nil {
			return Config{}, err
		}
	}
	if meta.IsDefined("retries") {
		cfg.Retries = raw.Retries
	}
	if meta.IsDefined("retry_delay") {
		if cfg.RetryDelay, err = parseDuration("retry_delay", raw.RetryDelay); err != nil {
			return Config{}, err
		}
	}
	if meta.IsDefined("rate_limit") {
		cfg.RateLimit = raw.RateLimit
	}
	if meta.IsDefined("rate_burst") {
		cfg.RateBurst = raw.RateBurst
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("discovery", "service") {
		cfg.Discovery.Service = strings.TrimSpace(raw.Discovery.Service)
	}
	if meta.IsDefined("discovery", "etcd") {
		cfg.Discovery.Etcd = normalizeList(raw.Discovery.Etcd)
	}
	if meta.IsDefined("discovery", "balancer") {
		cfg.Discovery.Balancer = strings.TrimSpace(raw.Discovery.Balancer)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the settings are usable together.
func (c Config) Validate() error {
	var errs []error
	if c.BaseURL == "" && c.Discovery.Service == "" {
		errs = append(errs, errors.New("either url or discovery.service is required"))
	}
	if c.Discovery.Service != "" && len(c.Discovery.Etcd) == 0 {
		errs = append(errs, errors.New("discovery.service needs discovery.etcd endpoints"))
	}
	if _, err := digest.ByName(c.Digest); err != nil {
		errs = append(errs, err)
	}
	if _, err := loadbalance.ByName(c.Discovery.Balancer); err != nil {
		errs = append(errs, err)
	}
	if c.Retries < 0 {
		errs = append(errs, errors.New("retries must not be negative"))
	}
	if c.RateLimit < 0 || (c.RateLimit > 0 && c.RateBurst < 1) {
		errs = append(errs, errors.New("rate_limit needs a positive rate_burst"))
	}
	if c.KeepAliveInterval <= 0 {
		errs = append(errs, errors.New("keep_alive must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func parseDuration(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

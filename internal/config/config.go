// Package config loads the service configuration from a YAML file with
// WARMPATH_* environment overrides, validated before anything starts.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "data"
	}
	return filepath.Join(home, ".warmpath")
}

// Config is the full service configuration.
type Config struct {
	Server   Server  `yaml:"server" validate:"required"`
	Storage  Storage `yaml:"storage"`
	Bridge   Bridge  `yaml:"bridge"`
	Warmth   Warmth  `yaml:"warmth"`
	Enrich   Enrich  `yaml:"enrich"`
	Send     Send    `yaml:"send"`
	Sweep    Sweep   `yaml:"sweep"`
	LogLevel string  `yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`
}

type Server struct {
	Addr string `yaml:"addr" validate:"required,hostname_port"`
	// Token is the operator token with full access. Tenant tokens are
	// each scoped to a single company.
	Token   string   `yaml:"token" validate:"required,min=16"`
	Tenants []Tenant `yaml:"tenants" validate:"omitempty,dive"`
}

type Tenant struct {
	Token     string `yaml:"token" validate:"required,min=16"`
	CompanyID string `yaml:"company_id" validate:"required"`
}

// TenantMap returns the token to company scope mapping the API consumes.
func (s Server) TenantMap() map[string]string {
	if len(s.Tenants) == 0 {
		return nil
	}
	m := make(map[string]string, len(s.Tenants))
	for _, t := range s.Tenants {
		m[t.Token] = t.CompanyID
	}
	return m
}

type Storage struct {
	DataDir string `yaml:"data_dir" validate:"required"`
}

// Bridge points at the external automation service that drives real
// browser sessions. Empty BaseURL disables the workers; the API and
// scoring engines still run.
type Bridge struct {
	BaseURL string `yaml:"base_url" validate:"omitempty,url"`
	Token   string `yaml:"token"`
}

type Warmth struct {
	MinOverlapDays      int `yaml:"min_overlap_days" validate:"omitempty,min=1"`
	RecencyHalfLifeDays int `yaml:"recency_half_life_days" validate:"omitempty,min=1"`
	OverlapCapDays      int `yaml:"overlap_cap_days" validate:"omitempty,min=1"`
}

type Enrich struct {
	PollInterval  time.Duration `yaml:"poll_interval"`
	BackoffBase   time.Duration `yaml:"backoff_base"`
	BackoffCap    time.Duration `yaml:"backoff_cap"`
	WarnThreshold int           `yaml:"warn_threshold" validate:"omitempty,min=1"`
	BanThreshold  int           `yaml:"ban_threshold" validate:"omitempty,gtfield=WarnThreshold"`
}

type Send struct {
	PollInterval     time.Duration `yaml:"poll_interval"`
	SendInterval     time.Duration `yaml:"send_interval"`
	ResponseInterval time.Duration `yaml:"response_interval"`
}

type Sweep struct {
	Interval            time.Duration `yaml:"interval"`
	EnrichmentStaleness time.Duration `yaml:"enrichment_staleness"`
	OutreachStaleness   time.Duration `yaml:"outreach_staleness"`
	AccountAgingPeriod  time.Duration `yaml:"account_aging_period"`
	SessionRecovery     time.Duration `yaml:"session_recovery"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Server:   Server{Addr: "127.0.0.1:8470"},
		Storage:  Storage{DataDir: defaultDataDir()},
		LogLevel: "info",
	}
}

// Load reads the YAML file at path (optional), applies environment
// overrides, and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyEnv lets deployments override the sensitive or per-host fields
// without touching the file.
func applyEnv(cfg *Config) {
	setString(&cfg.Server.Addr, "WARMPATH_ADDR")
	setString(&cfg.Server.Token, "WARMPATH_TOKEN")
	setString(&cfg.Storage.DataDir, "WARMPATH_DATA_DIR")
	setString(&cfg.Bridge.BaseURL, "WARMPATH_BRIDGE_URL")
	setString(&cfg.Bridge.Token, "WARMPATH_BRIDGE_TOKEN")
	setString(&cfg.LogLevel, "WARMPATH_LOG_LEVEL")
	setDuration(&cfg.Send.SendInterval, "WARMPATH_SEND_INTERVAL")
	setInt(&cfg.Enrich.WarnThreshold, "WARMPATH_WARN_THRESHOLD")
	setInt(&cfg.Enrich.BanThreshold, "WARMPATH_BAN_THRESHOLD")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

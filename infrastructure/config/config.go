// Package config provides configuration loading for the governance layer.
// Values resolve in priority order: environment variables, explicit YAML
// config file, built-in defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig configures the HTTP tool surface.
type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	BodyLimitBytes int64         `yaml:"body_limit_bytes"`
	GlobalRPS      float64       `yaml:"global_rps"`
	GlobalBurst    int           `yaml:"global_burst"`
}

// DataConfig configures the persistence root.
type DataConfig struct {
	Root             string        `yaml:"root"`
	MetadataDebounce time.Duration `yaml:"metadata_debounce"`
	HistoryCap       int           `yaml:"history_cap"`
}

// LockConfig configures the advisory lock manager.
type LockConfig struct {
	Poll     time.Duration `yaml:"poll"`
	Deadline time.Duration `yaml:"deadline"`
	StaleAge time.Duration `yaml:"stale_age"`
}

// LimitsConfig configures per-agent rate limits and input bounds.
type LimitsConfig struct {
	MaxResponseBytes       int `yaml:"max_response_bytes"`
	UpdatesPerMinute       int `yaml:"updates_per_minute"`
	KnowledgeStoresPerHour int `yaml:"knowledge_stores_per_hour"`
}

// Thresholds holds the live classification and controller tunables.
// This is the subset exposed through get_thresholds / set_thresholds.
type Thresholds struct {
	CoherenceCritical float64 `yaml:"coherence_critical" json:"coherence_critical"`
	VoidThreshold     float64 `yaml:"void_threshold" json:"void_threshold"`
	RiskRevise        float64 `yaml:"risk_revise" json:"risk_revise"`
	RiskApprove       float64 `yaml:"risk_approve" json:"risk_approve"`
	TargetCoherence   float64 `yaml:"target_coherence" json:"target_coherence"`

	HealthyMeanAttention  float64 `yaml:"healthy_mean_attention" json:"healthy_mean_attention"`
	HealthyMinCoherence   float64 `yaml:"healthy_min_coherence" json:"healthy_min_coherence"`
	ModerateMeanAttention float64 `yaml:"moderate_mean_attention" json:"moderate_mean_attention"`

	LambdaMin     float64 `yaml:"lambda_min" json:"lambda_min"`
	LambdaMax     float64 `yaml:"lambda_max" json:"lambda_max"`
	LambdaInitial float64 `yaml:"lambda_initial" json:"lambda_initial"`
	ControllerKp  float64 `yaml:"controller_kp" json:"controller_kp"`
	ControllerKi  float64 `yaml:"controller_ki" json:"controller_ki"`

	ControlInterval int `yaml:"control_interval" json:"control_interval"`
	WarmupUpdates   int `yaml:"warmup_updates" json:"warmup_updates"`
}

// DialecticConfig configures the recovery protocol.
type DialecticConfig struct {
	MaxSynthesisRounds int           `yaml:"max_synthesis_rounds"`
	MaxAntithesisWait  time.Duration `yaml:"max_antithesis_wait"`
	ReviewerCooldown   time.Duration `yaml:"reviewer_cooldown"`
}

// ToolTimeouts configures dispatcher-enforced per-tool deadlines.
type ToolTimeouts struct {
	Default       time.Duration `yaml:"default"`
	ProcessUpdate time.Duration `yaml:"process_update"`
	Admin         time.Duration `yaml:"admin"`
}

// Config is the root configuration object.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Data      DataConfig      `yaml:"data"`
	Locks     LockConfig      `yaml:"locks"`
	Limits    LimitsConfig    `yaml:"limits"`
	Threshold Thresholds      `yaml:"thresholds"`
	Dialectic DialecticConfig `yaml:"dialectic"`
	Timeouts  ToolTimeouts    `yaml:"timeouts"`
	LogLevel  string          `yaml:"log_level"`
	LogFormat string          `yaml:"log_format"`
}

// DefaultThresholds returns the built-in threshold set.
func DefaultThresholds() Thresholds {
	return Thresholds{
		CoherenceCritical:     0.40,
		VoidThreshold:         0.15,
		RiskRevise:            0.60,
		RiskApprove:           0.35,
		TargetCoherence:       0.55,
		HealthyMeanAttention:  0.48,
		HealthyMinCoherence:   0.48,
		ModerateMeanAttention: 0.70,
		LambdaMin:             0.09,
		LambdaMax:             0.30,
		LambdaInitial:         0.125,
		ControllerKp:          0.5,
		ControllerKi:          0.05,
		ControlInterval:       10,
		WarmupUpdates:         100,
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8710,
			RequestTimeout: 90 * time.Second,
			BodyLimitBytes: 1 << 20,
			GlobalRPS:      100,
			GlobalBurst:    200,
		},
		Data: DataConfig{
			Root:             "data",
			MetadataDebounce: 500 * time.Millisecond,
			HistoryCap:       100,
		},
		Locks: LockConfig{
			Poll:     100 * time.Millisecond,
			Deadline: 5 * time.Second,
			StaleAge: 5 * time.Minute,
		},
		Limits: LimitsConfig{
			MaxResponseBytes:       50000,
			UpdatesPerMinute:       60,
			KnowledgeStoresPerHour: 10,
		},
		Threshold: DefaultThresholds(),
		Dialectic: DialecticConfig{
			MaxSynthesisRounds: 5,
			MaxAntithesisWait:  2 * time.Hour,
			ReviewerCooldown:   24 * time.Hour,
		},
		Timeouts: ToolTimeouts{
			Default:       30 * time.Second,
			ProcessUpdate: 60 * time.Second,
			Admin:         10 * time.Second,
		},
		LogLevel:  "info",
		LogFormat: "json",
	}
}

// Load builds a Config from defaults, an optional YAML file, and environment
// overrides, in that order.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.Host = GetEnv("GOVERNANCE_HOST", c.Server.Host)
	c.Server.Port = GetEnvInt("GOVERNANCE_PORT", c.Server.Port)
	c.Data.Root = GetEnv("GOVERNANCE_DATA_ROOT", c.Data.Root)
	c.LogLevel = GetEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = GetEnv("LOG_FORMAT", c.LogFormat)

	if d, ok := ParseEnvDuration("GOVERNANCE_METADATA_DEBOUNCE"); ok {
		c.Data.MetadataDebounce = d
	}
	if d, ok := ParseEnvDuration("GOVERNANCE_LOCK_DEADLINE"); ok {
		c.Locks.Deadline = d
	}
	if v, ok := ParseEnvInt("GOVERNANCE_UPDATES_PER_MINUTE"); ok {
		c.Limits.UpdatesPerMinute = v
	}
	if v, ok := ParseEnvInt("GOVERNANCE_STORES_PER_HOUR"); ok {
		c.Limits.KnowledgeStoresPerHour = v
	}
}

// Validate rejects configurations that cannot work.
func (c *Config) Validate() error {
	if c.Data.Root == "" {
		return fmt.Errorf("data root must not be empty")
	}
	if c.Data.HistoryCap <= 0 {
		return fmt.Errorf("history cap must be positive")
	}
	if c.Limits.MaxResponseBytes <= 0 {
		return fmt.Errorf("max response bytes must be positive")
	}
	if err := c.Threshold.Validate(); err != nil {
		return err
	}
	if c.Dialectic.MaxSynthesisRounds <= 0 {
		return fmt.Errorf("max synthesis rounds must be positive")
	}
	return nil
}

// Validate checks threshold ordering and bounds.
func (t Thresholds) Validate() error {
	if t.CoherenceCritical <= 0 || t.CoherenceCritical >= 1 {
		return fmt.Errorf("coherence_critical must be within (0,1)")
	}
	if t.RiskApprove <= 0 || t.RiskApprove >= t.RiskRevise {
		return fmt.Errorf("risk_approve must be within (0, risk_revise)")
	}
	if t.RiskRevise >= 1 {
		return fmt.Errorf("risk_revise must be below 1")
	}
	if t.LambdaMin <= 0 || t.LambdaMin >= t.LambdaMax {
		return fmt.Errorf("lambda bounds must satisfy 0 < min < max")
	}
	if t.LambdaInitial < t.LambdaMin || t.LambdaInitial > t.LambdaMax {
		return fmt.Errorf("lambda_initial must sit inside [lambda_min, lambda_max]")
	}
	if t.VoidThreshold <= 0 {
		return fmt.Errorf("void_threshold must be positive")
	}
	return nil
}

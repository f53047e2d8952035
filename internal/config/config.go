// Package config loads warden configuration from .warden/config.yaml with
// environment overrides. Every section has sane defaults so a missing config
// file yields a fully working pipeline.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all warden configuration.
type Config struct {
	// Model backend
	Model ModelConfig `yaml:"model"`

	// Quality pipeline
	Guardian   GuardianConfig    `yaml:"guardian"`
	Detector   DetectorConfig    `yaml:"detector"`
	Judge      JudgeConfig       `yaml:"judge"`
	Gate       GateConfig        `yaml:"gate"`
	Validators []ValidatorConfig `yaml:"validators"`

	// Mutation engine
	Mutation MutationConfig `yaml:"mutation"`

	// Multi-step planner
	Planner PlannerConfig `yaml:"planner"`

	// Audit store
	Store StoreConfig `yaml:"store"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// ModelConfig configures the model backend.
type ModelConfig struct {
	Provider string `yaml:"provider"` // gemini, mock
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	Timeout  string `yaml:"timeout"`
}

// GuardianConfig configures the structural-quality scanner.
type GuardianConfig struct {
	MinLength           int     `yaml:"min_length"`           // below => issue + forced retry
	MaxAnalysisWindow   int     `yaml:"max_analysis_window"`  // above => truncate with marker
	MinPatternLength    int     `yaml:"min_pattern_length"`   // loop scan lower bound
	LoopCheckBudget     int     `yaml:"loop_check_budget"`    // comparison budget
	LoopTimeBudget      string  `yaml:"loop_time_budget"`     // wall-clock budget
	RepetitionThreshold float64 `yaml:"repetition_threshold"` // word repetition score cutoff
	DedupSimilarity     float64 `yaml:"dedup_similarity"`     // sentence Jaccard cutoff
	HistorySize         int     `yaml:"history_size"`         // responses remembered per prompt
	HistorySimilarity   float64 `yaml:"history_similarity"`   // "stuck" cutoff
}

// DetectorConfig configures the hallucination detector.
type DetectorConfig struct {
	SelfReferenceWeight float64 `yaml:"self_reference_weight"`
	FactualWeight       float64 `yaml:"factual_weight"`
	ContextualWeight    float64 `yaml:"contextual_weight"`
	URLWeight           float64 `yaml:"url_weight"`
	SelfReferenceCap    float64 `yaml:"self_reference_cap"` // cap when it is the only category
	Threshold           float64 `yaml:"threshold"`          // isHallucination cutoff
}

// JudgeConfig configures the secondary judge.
type JudgeConfig struct {
	Enabled        bool   `yaml:"enabled"`
	MaxPromptLen   int    `yaml:"max_prompt_len"`
	MaxResponseLen int    `yaml:"max_response_len"`
	MaxChecklist   int    `yaml:"max_checklist_len"`
	CacheTTL       string `yaml:"cache_ttl"`
	CacheSize      int    `yaml:"cache_size"`
	Timeout        string `yaml:"timeout"`
}

// GateConfig configures the validation gate and retry policy.
type GateConfig struct {
	MaxRetries         int     `yaml:"max_retries"`
	HallucinationRetry float64 `yaml:"hallucination_retry"` // confidence above => retry signal
	FailClosed         bool    `yaml:"fail_closed"`         // unavailable check blocks publish
}

// ValidatorConfig configures one external quality validator.
type ValidatorConfig struct {
	Name      string  `yaml:"name"`
	URL       string  `yaml:"url"`
	Threshold float64 `yaml:"threshold"`
	Timeout   string  `yaml:"timeout"`
	Enabled   bool    `yaml:"enabled"`
}

// MutationConfig configures the file mutation engine.
type MutationConfig struct {
	Roots             []string `yaml:"roots"` // project roots; paths must stay inside
	MaxReadBytes      int64    `yaml:"max_read_bytes"`
	MaxWriteBytes     int64    `yaml:"max_write_bytes"`
	AutoApproveScopes []string `yaml:"auto_approve_scopes"` // scopes never needing confirmation
	WatchInvalidate   bool     `yaml:"watch_invalidate"`    // fsnotify hash-cache invalidation
}

// PlannerConfig configures the multi-step planner.
type PlannerConfig struct {
	Enabled     bool `yaml:"enabled"`
	MaxSteps    int  `yaml:"max_steps"`
	StepRetries int  `yaml:"step_retries"`
}

// StoreConfig configures the sqlite audit store.
type StoreConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig controls categorized file logging.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
	Level      string          `yaml:"level"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Model: ModelConfig{
			Provider: "gemini",
			Model:    "gemini-2.0-flash",
			Timeout:  "120s",
		},
		Guardian: GuardianConfig{
			MinLength:           10,
			MaxAnalysisWindow:   20000,
			MinPatternLength:    3,
			LoopCheckBudget:     250000,
			LoopTimeBudget:      "200ms",
			RepetitionThreshold: 0.30,
			DedupSimilarity:     0.8,
			HistorySize:         5,
			HistorySimilarity:   0.9,
		},
		Detector: DetectorConfig{
			SelfReferenceWeight: 0.15,
			FactualWeight:       0.25,
			ContextualWeight:    0.20,
			URLWeight:           0.20,
			SelfReferenceCap:    0.4,
			Threshold:           0.5,
		},
		Judge: JudgeConfig{
			Enabled:        true,
			MaxPromptLen:   4000,
			MaxResponseLen: 6000,
			MaxChecklist:   1000,
			CacheTTL:       "15m",
			CacheSize:      256,
			Timeout:        "30s",
		},
		Gate: GateConfig{
			MaxRetries:         2,
			HallucinationRetry: 0.7,
			FailClosed:         false,
		},
		Mutation: MutationConfig{
			Roots:             []string{"."},
			MaxReadBytes:      512 * 1024,
			MaxWriteBytes:     1024 * 1024,
			AutoApproveScopes: []string{"read"},
		},
		Planner: PlannerConfig{
			Enabled:     false,
			MaxSteps:    8,
			StepRetries: 2,
		},
		Store: StoreConfig{
			Enabled: false,
			Path:    filepath.Join(".warden", "audit.db"),
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads .warden/config.yaml under the workspace, applies defaults for
// missing sections, then applies WARDEN_* environment overrides. A missing
// config file is not an error.
func Load(workspace string) (*Config, error) {
	cfg := DefaultConfig()

	path := filepath.Join(workspace, ".warden", "config.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides lets the environment override the most operationally
// relevant knobs without editing the config file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("WARDEN_API_KEY"); v != "" {
		cfg.Model.APIKey = v
	}
	if v := os.Getenv("WARDEN_MODEL"); v != "" {
		cfg.Model.Model = v
	}
	if v := os.Getenv("WARDEN_PROVIDER"); v != "" {
		cfg.Model.Provider = v
	}
	if v := os.Getenv("WARDEN_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Gate.MaxRetries = n
		}
	}
	if v := os.Getenv("WARDEN_FAIL_CLOSED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Gate.FailClosed = b
		}
	}
	if v := os.Getenv("WARDEN_DEBUG"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Logging.DebugMode = b
		}
	}
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Gate.MaxRetries < 0 {
		return fmt.Errorf("gate.max_retries must be >= 0")
	}
	if c.Guardian.MaxAnalysisWindow < c.Guardian.MinLength {
		return fmt.Errorf("guardian.max_analysis_window must be >= guardian.min_length")
	}
	if c.Detector.Threshold < 0 || c.Detector.Threshold > 1 {
		return fmt.Errorf("detector.threshold must be in [0,1]")
	}
	enabled := 0
	for _, v := range c.Validators {
		if !v.Enabled {
			continue
		}
		enabled++
		if v.Name == "" || v.URL == "" {
			return fmt.Errorf("enabled validators need name and url")
		}
	}
	if enabled > 3 {
		return fmt.Errorf("at most 3 external validators may be enabled, got %d", enabled)
	}
	if len(c.Mutation.Roots) == 0 {
		return fmt.Errorf("mutation.roots must not be empty")
	}
	return nil
}

// ParseDuration parses a duration string with a fallback.
func ParseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

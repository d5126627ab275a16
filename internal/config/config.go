// Package config loads and validates the runtime configuration: lifecycle
// limits, autonomy thresholds, extraction tuning, and storage paths.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"chitragupta/internal/autonomy"
	"chitragupta/internal/kaala"
	"chitragupta/internal/vidhi"
)

// Config holds all chitragupta configuration.
type Config struct {
	// Core settings
	Project string `yaml:"project"`
	Version string `yaml:"version"`

	// Lifecycle manager
	Kaala KaalaConfig `yaml:"kaala"`

	// Turn wrapper
	Autonomy AutonomyConfig `yaml:"autonomy"`

	// Procedure engine
	Vidhi VidhiConfig `yaml:"vidhi"`

	// Storage
	Store StoreConfig `yaml:"store"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// KaalaConfig configures the lifecycle manager.
type KaalaConfig struct {
	HeartbeatInterval      string  `yaml:"heartbeat_interval"`
	StaleThreshold         string  `yaml:"stale_threshold"`
	DeadThreshold          string  `yaml:"dead_threshold"`
	GlobalMaxAgents        int     `yaml:"global_max_agents"`
	BudgetDecayFactor      float64 `yaml:"budget_decay_factor"`
	RootTokenBudget        int     `yaml:"root_token_budget"`
	OrphanPolicy           string  `yaml:"orphan_policy"` // cascade, reparent, promote
	MaxAgentDepth          int     `yaml:"max_agent_depth"`
	MaxSubAgents           int     `yaml:"max_sub_agents"`
	MinTokenBudgetForSpawn int     `yaml:"min_token_budget_for_spawn"`
}

// AutonomyConfig configures retries, tool tracking, and compaction.
type AutonomyConfig struct {
	MaxRetries           int     `yaml:"max_retries"`
	BaseDelay            string  `yaml:"base_delay"`
	MaxDelay             string  `yaml:"max_delay"`
	UnknownErrorCap      int     `yaml:"unknown_error_cap"`
	ToolDisableThreshold int     `yaml:"tool_disable_threshold"`
	GentleThreshold      float64 `yaml:"gentle_threshold"`
	ModerateThreshold    float64 `yaml:"moderate_threshold"`
	AggressiveThreshold  float64 `yaml:"aggressive_threshold"`
	KeepRecentMessages   int     `yaml:"keep_recent_messages"`
}

// VidhiConfig configures procedure extraction.
type VidhiConfig struct {
	MinSessions       int     `yaml:"min_sessions"`
	MinSuccessRate    float64 `yaml:"min_success_rate"`
	MinSequenceLength int     `yaml:"min_sequence_length"`
	MaxSequenceLength int     `yaml:"max_sequence_length"`
}

// StoreConfig configures SQLite storage.
type StoreConfig struct {
	DBPath string `yaml:"db_path"`
}

// LoggingConfig mirrors the on-disk logging settings.
type LoggingConfig struct {
	Debug      bool            `yaml:"debug"`
	Categories map[string]bool `yaml:"categories"`
	Level      string          `yaml:"level"`
	JSONFormat bool            `yaml:"json_format"`
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() *Config {
	kd := kaala.DefaultConfig()
	ad := autonomy.DefaultConfig()
	vd := vidhi.DefaultConfig()
	return &Config{
		Project: "default",
		Version: "1.0",
		Kaala: KaalaConfig{
			HeartbeatInterval:      kd.HeartbeatInterval.String(),
			StaleThreshold:         kd.StaleThreshold.String(),
			DeadThreshold:          kd.DeadThreshold.String(),
			GlobalMaxAgents:        kd.GlobalMaxAgents,
			BudgetDecayFactor:      kd.BudgetDecayFactor,
			RootTokenBudget:        kd.RootTokenBudget,
			OrphanPolicy:           string(kd.OrphanPolicy),
			MaxAgentDepth:          kd.MaxAgentDepth,
			MaxSubAgents:           kd.MaxSubAgents,
			MinTokenBudgetForSpawn: kd.MinTokenBudgetForSpawn,
		},
		Autonomy: AutonomyConfig{
			MaxRetries:           ad.MaxRetries,
			BaseDelay:            ad.BaseDelay.String(),
			MaxDelay:             ad.MaxDelay.String(),
			UnknownErrorCap:      ad.UnknownErrorCap,
			ToolDisableThreshold: ad.ToolDisableThreshold,
			GentleThreshold:      ad.Compactor.GentleThreshold,
			ModerateThreshold:    ad.Compactor.ModerateThreshold,
			AggressiveThreshold:  ad.Compactor.AggressiveThreshold,
			KeepRecentMessages:   ad.Compactor.KeepRecentMessages,
		},
		Vidhi: VidhiConfig{
			MinSessions:       vd.MinSessions,
			MinSuccessRate:    vd.MinSuccessRate,
			MinSequenceLength: vd.MinSequenceLength,
			MaxSequenceLength: vd.MaxSequenceLength,
		},
		Store: StoreConfig{
			DBPath: filepath.Join(".chitragupta", "core.db"),
		},
	}
}

// Load reads a YAML config file, fills defaults, applies environment
// overrides, and clamps out-of-range values. A missing file yields the
// defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// Defaults only.
	case err != nil:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()
	cfg.clamp()
	return cfg, nil
}

// Save writes the config as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if p := os.Getenv("CHITRAGUPTA_PROJECT"); p != "" {
		c.Project = p
	}
	if p := os.Getenv("CHITRAGUPTA_DB"); p != "" {
		c.Store.DBPath = p
	}
	if v := os.Getenv("CHITRAGUPTA_MAX_AGENTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Kaala.GlobalMaxAgents = n
		}
	}
	if v := os.Getenv("CHITRAGUPTA_ROOT_BUDGET"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Kaala.RootTokenBudget = n
		}
	}
	if v := os.Getenv("CHITRAGUPTA_ORPHAN_POLICY"); v != "" {
		c.Kaala.OrphanPolicy = v
	}
	if v := os.Getenv("CHITRAGUPTA_DEBUG"); v == "1" || v == "true" {
		c.Logging.Debug = true
	}
}

// clamp pulls out-of-range values back to the system ceilings and defaults.
func (c *Config) clamp() {
	def := DefaultConfig()

	if c.Kaala.MaxAgentDepth <= 0 || c.Kaala.MaxAgentDepth > kaala.SystemMaxDepth {
		c.Kaala.MaxAgentDepth = kaala.SystemMaxDepth
	}
	if c.Kaala.MaxSubAgents <= 0 || c.Kaala.MaxSubAgents > kaala.SystemMaxSubAgents {
		c.Kaala.MaxSubAgents = kaala.SystemMaxSubAgents
	}
	if c.Kaala.GlobalMaxAgents <= 0 {
		c.Kaala.GlobalMaxAgents = def.Kaala.GlobalMaxAgents
	}
	if c.Kaala.BudgetDecayFactor <= 0 || c.Kaala.BudgetDecayFactor > 1 {
		c.Kaala.BudgetDecayFactor = def.Kaala.BudgetDecayFactor
	}
	if c.Kaala.RootTokenBudget <= 0 {
		c.Kaala.RootTokenBudget = def.Kaala.RootTokenBudget
	}
	switch kaala.OrphanPolicy(c.Kaala.OrphanPolicy) {
	case kaala.OrphanCascade, kaala.OrphanReparent, kaala.OrphanPromote:
	default:
		c.Kaala.OrphanPolicy = def.Kaala.OrphanPolicy
	}
	if c.Autonomy.MaxRetries < 0 {
		c.Autonomy.MaxRetries = def.Autonomy.MaxRetries
	}
	if c.Vidhi.MinSequenceLength < 2 {
		c.Vidhi.MinSequenceLength = def.Vidhi.MinSequenceLength
	}
	if c.Vidhi.MaxSequenceLength < c.Vidhi.MinSequenceLength {
		c.Vidhi.MaxSequenceLength = def.Vidhi.MaxSequenceLength
	}
	if c.Store.DBPath == "" {
		c.Store.DBPath = def.Store.DBPath
	}
}

// KaalaSettings converts to the lifecycle manager's native config.
func (c *Config) KaalaSettings() kaala.Config {
	return kaala.Config{
		HeartbeatInterval:      parseDuration(c.Kaala.HeartbeatInterval, 5*time.Second),
		StaleThreshold:         parseDuration(c.Kaala.StaleThreshold, 30*time.Second),
		DeadThreshold:          parseDuration(c.Kaala.DeadThreshold, 120*time.Second),
		GlobalMaxAgents:        c.Kaala.GlobalMaxAgents,
		BudgetDecayFactor:      c.Kaala.BudgetDecayFactor,
		RootTokenBudget:        c.Kaala.RootTokenBudget,
		OrphanPolicy:           kaala.OrphanPolicy(c.Kaala.OrphanPolicy),
		MaxAgentDepth:          c.Kaala.MaxAgentDepth,
		MaxSubAgents:           c.Kaala.MaxSubAgents,
		MinTokenBudgetForSpawn: c.Kaala.MinTokenBudgetForSpawn,
	}
}

// AutonomySettings converts to the wrapper's native config.
func (c *Config) AutonomySettings() autonomy.Config {
	cfg := autonomy.DefaultConfig()
	cfg.MaxRetries = c.Autonomy.MaxRetries
	cfg.BaseDelay = parseDuration(c.Autonomy.BaseDelay, cfg.BaseDelay)
	cfg.MaxDelay = parseDuration(c.Autonomy.MaxDelay, cfg.MaxDelay)
	if c.Autonomy.UnknownErrorCap > 0 {
		cfg.UnknownErrorCap = c.Autonomy.UnknownErrorCap
	}
	if c.Autonomy.ToolDisableThreshold > 0 {
		cfg.ToolDisableThreshold = c.Autonomy.ToolDisableThreshold
	}
	if c.Autonomy.GentleThreshold > 0 {
		cfg.Compactor.GentleThreshold = c.Autonomy.GentleThreshold
	}
	if c.Autonomy.ModerateThreshold > 0 {
		cfg.Compactor.ModerateThreshold = c.Autonomy.ModerateThreshold
	}
	if c.Autonomy.AggressiveThreshold > 0 {
		cfg.Compactor.AggressiveThreshold = c.Autonomy.AggressiveThreshold
	}
	if c.Autonomy.KeepRecentMessages > 0 {
		cfg.Compactor.KeepRecentMessages = c.Autonomy.KeepRecentMessages
	}
	return cfg
}

// VidhiSettings converts to the procedure engine's native config.
func (c *Config) VidhiSettings() vidhi.Config {
	return vidhi.Config{
		MinSessions:       c.Vidhi.MinSessions,
		MinSuccessRate:    c.Vidhi.MinSuccessRate,
		MinSequenceLength: c.Vidhi.MinSequenceLength,
		MaxSequenceLength: c.Vidhi.MaxSequenceLength,
	}
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// DefaultConfigPath returns the standard config location inside a workspace.
func DefaultConfigPath(workspace string) string {
	return filepath.Join(workspace, ".chitragupta", "config.yaml")
}

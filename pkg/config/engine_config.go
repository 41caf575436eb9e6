// Copyright 2025 Certen Protocol

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// EngineConfig holds the structured tuning knobs for the memory engine,
// loaded from a YAML file rather than flat environment variables because
// it groups naturally by subsystem and benefits from nested defaults.
type EngineConfig struct {
	Embedding  EmbeddingSettings  `yaml:"embedding"`
	Checkpoint CheckpointSettings `yaml:"checkpoint"`
	Consensus  ConsensusSettings  `yaml:"consensus"`
	Window     WindowSettings     `yaml:"window"`
	Queue      QueueSettings      `yaml:"queue"`
	Privacy    PrivacySettings    `yaml:"privacy"`
	Search     SearchSettings     `yaml:"search"`
}

// EmbeddingSettings configures the L2 vector store's expected shape.
type EmbeddingSettings struct {
	Dimension int `yaml:"dimension"`
}

// CheckpointSettings configures the Merkle Checkpointer.
type CheckpointSettings struct {
	BatchSize int `yaml:"batch_size"`
}

// ConsensusSettings configures the WBFT Consensus Engine.
type ConsensusSettings struct {
	VerifiedThreshold float64  `yaml:"verified_threshold"`
	DisputedThreshold float64  `yaml:"disputed_threshold"`
	Quorum            int      `yaml:"quorum"`
	DecayTau          Duration `yaml:"decay_tau"`
	ReputationAlpha   float64  `yaml:"reputation_alpha"`
	ElderCouncilSize  int      `yaml:"elder_council_size"`
	ElderThreshold    float64  `yaml:"elder_threshold"`
}

// WindowSettings configures the L1 Working Window.
type WindowSettings struct {
	TokenBudget int      `yaml:"token_budget"`
	IdleTTL     Duration `yaml:"idle_ttl"`
}

// QueueSettings configures the Writer Queue.
type QueueSettings struct {
	Capacity       int      `yaml:"capacity"`
	SubmitTimeout  Duration `yaml:"submit_timeout"`
}

// PrivacySettings configures the Privacy Shield's per-tier actions.
type PrivacySettings struct {
	CriticalAction string `yaml:"critical_action"`
	PlatformAction string `yaml:"platform_action"`
	StandardAction string `yaml:"standard_action"`
}

// SearchSettings configures Hybrid Search.
type SearchSettings struct {
	RRFConstant int `yaml:"rrf_constant"`
	MaxResults  int `yaml:"max_results"`
}

// Duration wraps time.Duration for YAML unmarshaling as a Go duration
// string ("30s", "720h") rather than a bare integer of ambiguous unit.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// envVarPattern matches ${VAR_NAME} in a raw config file.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

func substituteEnvVars(content string) string {
	return envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		varName := groups[1]
		fallback := groups[3]
		if value := os.Getenv(varName); value != "" {
			return value
		}
		return fallback
	})
}

// LoadEngineConfig reads the YAML file at path, substituting ${VAR_NAME}
// references against the environment before parsing.
func LoadEngineConfig(path string) (*EngineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read engine config %s: %w", path, err)
	}

	expanded := substituteEnvVars(string(data))

	var cfg EngineConfig
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse engine config %s: %w", path, err)
	}
	return &cfg, nil
}

// LoadEngineConfigWithDefaults loads path, or returns DefaultEngineConfig
// unmodified if path is empty, then fills any zero-valued field.
func LoadEngineConfigWithDefaults(path string) (*EngineConfig, error) {
	if path == "" {
		cfg := DefaultEngineConfig()
		return &cfg, nil
	}
	cfg, err := LoadEngineConfig(path)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

// DefaultEngineConfig returns the engine's built-in defaults, matching
// the values spec.md names for each tunable.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Embedding: EmbeddingSettings{Dimension: 384},
		Checkpoint: CheckpointSettings{
			BatchSize: 1000,
		},
		Consensus: ConsensusSettings{
			VerifiedThreshold: 1.5,
			DisputedThreshold: 0.5,
			Quorum:            3,
			DecayTau:          Duration(30 * 24 * time.Hour),
			ReputationAlpha:   0.1,
			ElderCouncilSize:  3,
			ElderThreshold:    0.67,
		},
		Window: WindowSettings{
			TokenBudget: 8000,
			IdleTTL:     Duration(2 * time.Hour),
		},
		Queue: QueueSettings{
			Capacity:      10000,
			SubmitTimeout: Duration(5 * time.Second),
		},
		Privacy: PrivacySettings{
			CriticalAction: "force_local",
			PlatformAction: "redact",
			StandardAction: "flag",
		},
		Search: SearchSettings{
			RRFConstant: 60,
			MaxResults:  50,
		},
	}
}

func (c *EngineConfig) applyDefaults() {
	d := DefaultEngineConfig()

	if c.Embedding.Dimension == 0 {
		c.Embedding.Dimension = d.Embedding.Dimension
	}
	if c.Checkpoint.BatchSize == 0 {
		c.Checkpoint.BatchSize = d.Checkpoint.BatchSize
	}
	if c.Consensus.VerifiedThreshold == 0 {
		c.Consensus.VerifiedThreshold = d.Consensus.VerifiedThreshold
	}
	if c.Consensus.DisputedThreshold == 0 {
		c.Consensus.DisputedThreshold = d.Consensus.DisputedThreshold
	}
	if c.Consensus.Quorum == 0 {
		c.Consensus.Quorum = d.Consensus.Quorum
	}
	if c.Consensus.DecayTau == 0 {
		c.Consensus.DecayTau = d.Consensus.DecayTau
	}
	if c.Consensus.ReputationAlpha == 0 {
		c.Consensus.ReputationAlpha = d.Consensus.ReputationAlpha
	}
	if c.Consensus.ElderCouncilSize == 0 {
		c.Consensus.ElderCouncilSize = d.Consensus.ElderCouncilSize
	}
	if c.Consensus.ElderThreshold == 0 {
		c.Consensus.ElderThreshold = d.Consensus.ElderThreshold
	}
	if c.Window.TokenBudget == 0 {
		c.Window.TokenBudget = d.Window.TokenBudget
	}
	if c.Window.IdleTTL == 0 {
		c.Window.IdleTTL = d.Window.IdleTTL
	}
	if c.Queue.Capacity == 0 {
		c.Queue.Capacity = d.Queue.Capacity
	}
	if c.Queue.SubmitTimeout == 0 {
		c.Queue.SubmitTimeout = d.Queue.SubmitTimeout
	}
	if c.Privacy.CriticalAction == "" {
		c.Privacy.CriticalAction = d.Privacy.CriticalAction
	}
	if c.Privacy.PlatformAction == "" {
		c.Privacy.PlatformAction = d.Privacy.PlatformAction
	}
	if c.Privacy.StandardAction == "" {
		c.Privacy.StandardAction = d.Privacy.StandardAction
	}
	if c.Search.RRFConstant == 0 {
		c.Search.RRFConstant = d.Search.RRFConstant
	}
	if c.Search.MaxResults == 0 {
		c.Search.MaxResults = d.Search.MaxResults
	}
}

// Package config loads the gateway's YAML configuration: detection
// thresholds, timeouts, feature flags, and the data paths for the two HNSW
// indexes and the audit/ledger stores.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Thresholds ThresholdsConfig `yaml:"thresholds"`
	Timeouts   TimeoutsConfig   `yaml:"timeouts"`
	Features   FeaturesConfig   `yaml:"features"`
	Data       DataConfig       `yaml:"data"`
	MaxAgents  int              `yaml:"max_agents"`
	AuditNamespace  string `yaml:"audit_namespace"`
	LedgerNamespace string `yaml:"ledger_namespace"`
	EnableLedger    bool   `yaml:"enable_ledger"`
	Collab     CollabConfig `yaml:"collab"`
}

type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// ThresholdsConfig maps directly to §6's "thresholds.*" options.
type ThresholdsConfig struct {
	BlockScore float32 `yaml:"block_score"`
	FlagScore  float32 `yaml:"flag_score"`
}

// TimeoutsConfig maps directly to §6's "timeouts.*" options.
type TimeoutsConfig struct {
	FastPathMs int `yaml:"fast_path_ms"`
}

// FeaturesConfig maps directly to §6's "features.*" options.
type FeaturesConfig struct {
	EnableLearning    bool `yaml:"enable_learning"`
	EnableAudit       bool `yaml:"enable_audit"`
	FailOpenDetection bool `yaml:"fail_open_detection"`
}

// DataConfig names the on-disk locations of persisted index and store
// state.
type DataConfig struct {
	Dir                  string `yaml:"dir"`
	AttackPatternsFile   string `yaml:"attack_patterns_file"`
	CleanReferenceFile   string `yaml:"clean_reference_file"`
	AuditDBFile          string `yaml:"audit_db_file"`
	BackupDir            string `yaml:"backup_dir"`
	BackupKeep           int    `yaml:"backup_keep"`
	SemanticArtifactPath string `yaml:"semantic_artifact_path"`
	SemanticArtifactSHA  string `yaml:"semantic_artifact_sha256"`
}

// CollabConfig configures the external collaborator endpoints, when the
// gateway is wired to call out to a remote tool server rather than run
// purely local detection.
type CollabConfig struct {
	MCPClientURL string `yaml:"mcp_client_url"`
	MCPBridgeURL string `yaml:"mcp_bridge_url"`
	RVFBridgeURL string `yaml:"rvf_bridge_url"`
	APIKey       string `yaml:"api_key"`
}

// Load reads and parses the YAML configuration at path, expanding
// environment variable references, applying defaults, and validating the
// result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 30 * time.Second
	}
	if cfg.Thresholds.BlockScore == 0 {
		cfg.Thresholds.BlockScore = 0.9
	}
	if cfg.Thresholds.FlagScore == 0 {
		cfg.Thresholds.FlagScore = 0.7
	}
	if cfg.Timeouts.FastPathMs == 0 {
		cfg.Timeouts.FastPathMs = 20
	}
	if cfg.MaxAgents == 0 {
		cfg.MaxAgents = 10
	}
	if cfg.AuditNamespace == "" {
		cfg.AuditNamespace = "swarm_audit"
	}
	if cfg.LedgerNamespace == "" {
		cfg.LedgerNamespace = "decision_ledger"
	}
	if cfg.Data.Dir == "" {
		cfg.Data.Dir = "./data"
	}
	if cfg.Data.AttackPatternsFile == "" {
		cfg.Data.AttackPatternsFile = "attack-patterns.db"
	}
	if cfg.Data.CleanReferenceFile == "" {
		cfg.Data.CleanReferenceFile = "ruvbot-clean-reference.db"
	}
	if cfg.Data.AuditDBFile == "" {
		cfg.Data.AuditDBFile = "audit.db"
	}
	if cfg.Data.BackupDir == "" {
		cfg.Data.BackupDir = "./data/backups"
	}
	if cfg.Data.BackupKeep == 0 {
		cfg.Data.BackupKeep = 5
	}
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", cfg.Server.Port)
	}
	if cfg.Thresholds.FlagScore > cfg.Thresholds.BlockScore {
		return fmt.Errorf("thresholds.flag_score (%v) must not exceed thresholds.block_score (%v)", cfg.Thresholds.FlagScore, cfg.Thresholds.BlockScore)
	}
	if cfg.Timeouts.FastPathMs <= 0 {
		return fmt.Errorf("timeouts.fast_path_ms must be positive, got %d", cfg.Timeouts.FastPathMs)
	}
	if cfg.MaxAgents <= 0 {
		return fmt.Errorf("max_agents must be positive, got %d", cfg.MaxAgents)
	}
	if cfg.Data.BackupKeep <= 0 {
		return fmt.Errorf("data.backup_keep must be positive, got %d", cfg.Data.BackupKeep)
	}
	return nil
}

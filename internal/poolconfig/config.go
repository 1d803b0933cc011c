package poolconfig

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Algorithm identifies one of the hash-algorithm/solution-version rows in
// spec §6.4.
type Algorithm string

const (
	AlgoEquihash144_5 Algorithm = "equihash_144_5"
	AlgoEquihash192_7 Algorithm = "equihash_192_7"
	AlgoEquihash200_9 Algorithm = "equihash_200_9"
	AlgoVerusHash     Algorithm = "verushash"
)

// CoinParameters holds the Equihash (N,K) and personalization string, spec §6.7.
type CoinParameters struct {
	N               int    `yaml:"n"`
	K               int    `yaml:"k"`
	Personalization string `yaml:"personalization"`
}

// CoinConfig is `coin.*` in spec §6.7.
type CoinConfig struct {
	Algorithm        Algorithm      `yaml:"algorithm"`
	PeerMagic        uint32         `yaml:"peer_magic"`
	PeerMagicTestnet uint32         `yaml:"peer_magic_testnet"`
	Parameters       CoinParameters `yaml:"parameters"`
}

// PortConfig is one entry of `ports.<port>`.
type PortConfig struct {
	Diff    float64 `yaml:"diff"`
	VarDiff *VarDiffConfig `yaml:"var_diff,omitempty"`
	TLS     bool    `yaml:"tls"`
}

// VarDiffConfig is spec §4.5's per-port options.
type VarDiffConfig struct {
	TargetTime      time.Duration `yaml:"target_time"`
	VariancePercent float64       `yaml:"variance_percent"`
	RetargetTime    time.Duration `yaml:"retarget_time"`
	MinDiff         float64       `yaml:"min_diff"`
	MaxDiff         float64       `yaml:"max_diff"`
	X2Mode          bool          `yaml:"x2_mode"`
}

// DaemonConfig is one entry of `daemons[*]`.
type DaemonConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// P2PConfig is `p2p.*`.
type P2PConfig struct {
	Enabled             bool   `yaml:"enabled"`
	Host                string `yaml:"host"`
	Port                int    `yaml:"port"`
	DisableTransactions bool   `yaml:"disable_transactions"`
}

// BanningConfig is `banning.*`.
type BanningConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Time           time.Duration `yaml:"time"`
	CheckThreshold int           `yaml:"check_threshold"`
	InvalidPercent float64       `yaml:"invalid_percent"`
	PurgeInterval  time.Duration `yaml:"purge_interval"`
	Banned         []string      `yaml:"banned"`
}

// TLSOptions is `tls_options.*`.
type TLSOptions struct {
	Enabled    bool   `yaml:"enabled"`
	ServerKey  string `yaml:"server_key"`
	ServerCert string `yaml:"server_cert"`
}

// Config is the fully enumerated configuration tree of spec §6.7.
type Config struct {
	Coin                  CoinConfig            `yaml:"coin"`
	Ports                 map[string]PortConfig `yaml:"ports"`
	Daemons               []DaemonConfig        `yaml:"daemons"`
	P2P                   P2PConfig             `yaml:"p2p"`
	Banning               BanningConfig         `yaml:"banning"`
	TLSOptions            TLSOptions            `yaml:"tls_options"`
	ConnectionTimeout     time.Duration         `yaml:"connection_timeout"`
	JobRebroadcastTimeout time.Duration         `yaml:"job_rebroadcast_timeout"`
	BlockRefreshInterval  time.Duration         `yaml:"block_refresh_interval"`
	RewardRecipients      map[string]float64    `yaml:"reward_recipients"`
	AcceptOldJobShares    bool                  `yaml:"accept_old_job_shares"`
	AcceptLowDiffShares   bool                  `yaml:"accept_low_diff_shares"`
	EmitInvalidBlockHashes bool                 `yaml:"emit_invalid_block_hashes"`
	PoolID                string                `yaml:"pool_id"`
	InstanceID            uint8                 `yaml:"instance_id"`

	// Ambient: Redis/Postgres wiring for the share sink and ban store
	// (domain-stack expansion, not part of the original spec's enumerated
	// config but required to construct those collaborators).
	RedisURL    string `yaml:"redis_url"`
	DatabaseURL string `yaml:"database_url"`

	MetricsAddr string `yaml:"metrics_addr"`
}

// Default returns a configuration with the defaults named throughout spec §6.7
// (job_rebroadcast_timeout default 55s, etc).
func Default() Config {
	return Config{
		Coin: CoinConfig{
			Algorithm: AlgoEquihash200_9,
			Parameters: CoinParameters{
				N: 200,
				K: 9,
			},
		},
		Ports: map[string]PortConfig{
			"3333": {Diff: 1.0},
		},
		Banning: BanningConfig{
			Enabled:        true,
			Time:           10 * time.Minute,
			CheckThreshold: 500,
			InvalidPercent: 50,
			PurgeInterval:  5 * time.Minute,
		},
		ConnectionTimeout:     10 * time.Minute,
		JobRebroadcastTimeout: 55 * time.Second,
		BlockRefreshInterval:  1000 * time.Millisecond,
		PoolID:                "pool1",
		InstanceID:            1,
	}
}

// LoadFromEnv builds a Config from environment variables layered over
// Default(), mirroring the teacher's internal/config.GetEnv* helper style.
// Config-file parsing proper is out of scope (spec §1); this only covers
// the handful of top-level knobs operators commonly override via env, plus
// an optional YAML overlay (see LoadYAMLOverlay) for the rest of the tree.
func LoadFromEnv() Config {
	cfg := Default()

	cfg.PoolID = GetEnv("POOL_ID", cfg.PoolID)
	cfg.InstanceID = uint8(GetEnvInt("POOL_INSTANCE_ID", int(cfg.InstanceID)))
	cfg.RedisURL = GetEnv("REDIS_URL", "redis://localhost:6379/0")
	cfg.DatabaseURL = GetEnv("DATABASE_URL", "")
	cfg.MetricsAddr = GetEnv("METRICS_ADDR", ":9100")
	cfg.ConnectionTimeout = GetEnvDuration("CONNECTION_TIMEOUT", cfg.ConnectionTimeout)
	cfg.JobRebroadcastTimeout = GetEnvDuration("JOB_REBROADCAST_TIMEOUT", cfg.JobRebroadcastTimeout)
	cfg.BlockRefreshInterval = GetEnvDuration("BLOCK_REFRESH_INTERVAL", cfg.BlockRefreshInterval)
	cfg.AcceptOldJobShares = GetEnvBool("ACCEPT_OLD_JOB_SHARES", cfg.AcceptOldJobShares)
	cfg.AcceptLowDiffShares = GetEnvBool("ACCEPT_LOW_DIFF_SHARES", cfg.AcceptLowDiffShares)
	cfg.EmitInvalidBlockHashes = GetEnvBool("EMIT_INVALID_BLOCK_HASHES", cfg.EmitInvalidBlockHashes)

	return cfg
}

// LoadYAMLOverlay reads a YAML file and overlays it onto cfg. Fields absent
// from the file keep whatever cfg already held. This is deliberately a thin
// overlay, not a validating config-file parser (out of scope per spec §1).
func LoadYAMLOverlay(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config overlay: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config overlay: %w", err)
	}
	return nil
}

// Validate performs the startup checks spec §7 marks fatal: unsupported
// algorithm, no daemons configured.
func (c Config) Validate() error {
	switch c.Coin.Algorithm {
	case AlgoEquihash144_5, AlgoEquihash192_7, AlgoEquihash200_9, AlgoVerusHash:
	default:
		return fmt.Errorf("unsupported algorithm: %s", c.Coin.Algorithm)
	}
	if len(c.Daemons) == 0 {
		return fmt.Errorf("no daemons configured")
	}
	if len(c.Ports) == 0 {
		return fmt.Errorf("no stratum ports configured")
	}
	return nil
}

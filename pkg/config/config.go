// Package config provides a reusable loader for AgoraMesh node configuration
// files and environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/agoramesh/node/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config is the unified configuration for an AgoraMesh node.
type Config struct {
	Network struct {
		ListenAddr     string   `mapstructure:"listen_addr" json:"listen_addr"`
		DiscoveryTag   string   `mapstructure:"discovery_tag" json:"discovery_tag"`
		BootstrapPeers []string `mapstructure:"bootstrap_peers" json:"bootstrap_peers"`
	} `mapstructure:"network" json:"network"`

	Trust struct {
		WeightReputation float64 `mapstructure:"weight_reputation" json:"weight_reputation"`
		WeightStake      float64 `mapstructure:"weight_stake" json:"weight_stake"`
		WeightEndorsement float64 `mapstructure:"weight_endorsement" json:"weight_endorsement"`
		RegistryContract string  `mapstructure:"registry_contract" json:"registry_contract"`
	} `mapstructure:"trust" json:"trust"`

	Cache struct {
		MaxEntries int           `mapstructure:"max_entries" json:"max_entries"`
		TTL        time.Duration `mapstructure:"ttl" json:"ttl"`
		Enabled    bool          `mapstructure:"enabled" json:"enabled"`
	} `mapstructure:"cache" json:"cache"`

	Breaker struct {
		FailureRateThreshold float64       `mapstructure:"failure_rate_threshold" json:"failure_rate_threshold"`
		MinimumCalls         uint64        `mapstructure:"minimum_calls" json:"minimum_calls"`
		OpenDuration         time.Duration `mapstructure:"open_duration" json:"open_duration"`
		HalfOpenCalls        uint64        `mapstructure:"half_open_calls" json:"half_open_calls"`
	} `mapstructure:"breaker" json:"breaker"`

	Arbitration struct {
		EvidencePeriod      time.Duration `mapstructure:"evidence_period" json:"evidence_period"`
		MaxEvidencePerParty int           `mapstructure:"max_evidence_per_party" json:"max_evidence_per_party"`
	} `mapstructure:"arbitration" json:"arbitration"`

	Juror struct {
		MinStakeUSDC      uint64 `mapstructure:"min_stake_usdc" json:"min_stake_usdc"`
		MaxEffectiveStake uint64 `mapstructure:"max_effective_stake" json:"max_effective_stake"`
	} `mapstructure:"juror" json:"juror"`

	Community struct {
		EvidencePeriod time.Duration `mapstructure:"evidence_period" json:"evidence_period"`
		CommitPeriod   time.Duration `mapstructure:"commit_period" json:"commit_period"`
		RevealPeriod   time.Duration `mapstructure:"reveal_period" json:"reveal_period"`
		StakeAtRiskBps int64         `mapstructure:"stake_at_risk_bps" json:"stake_at_risk_bps"`
	} `mapstructure:"community" json:"community"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// setDefaults seeds viper with every default named in spec so a node can
// run with zero configuration files present.
func setDefaults() {
	viper.SetDefault("network.listen_addr", "/ip4/0.0.0.0/tcp/4001")
	viper.SetDefault("network.discovery_tag", "agoramesh")

	viper.SetDefault("trust.weight_reputation", 0.4)
	viper.SetDefault("trust.weight_stake", 0.3)
	viper.SetDefault("trust.weight_endorsement", 0.3)

	viper.SetDefault("cache.max_entries", 10000)
	viper.SetDefault("cache.ttl", 5*time.Minute)
	viper.SetDefault("cache.enabled", true)

	viper.SetDefault("breaker.failure_rate_threshold", 0.5)
	viper.SetDefault("breaker.minimum_calls", 10)
	viper.SetDefault("breaker.open_duration", 30*time.Second)
	viper.SetDefault("breaker.half_open_calls", 3)

	viper.SetDefault("arbitration.evidence_period", 48*time.Hour)
	viper.SetDefault("arbitration.max_evidence_per_party", 10)

	viper.SetDefault("juror.min_stake_usdc", 100_000_000)
	viper.SetDefault("juror.max_effective_stake", 100_000_000_000)

	viper.SetDefault("community.evidence_period", 24*time.Hour)
	viper.SetDefault("community.commit_period", 12*time.Hour)
	viper.SetDefault("community.reveal_period", 12*time.Hour)
	viper.SetDefault("community.stake_at_risk_bps", 500)

	viper.SetDefault("logging.level", "info")
}

// Load reads config/<env>.yaml (merged over config/default.yaml when
// present) and AGORAMESH_-prefixed environment variable overrides into
// AppConfig and returns it. Missing config files are tolerated; defaults
// plus env vars are enough to run.
func Load(env string) (*Config, error) {
	setDefaults()

	viper.SetConfigName("default")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, utils.Wrap(err, "load default config")
		}
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
				return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
			}
		}
	}

	viper.SetEnvPrefix("agoramesh")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the AGORAMESH_ENV environment
// variable to select the overlay file.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("AGORAMESH_ENV", ""))
}

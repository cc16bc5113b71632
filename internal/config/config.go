// Package config loads a CA3 node's tunables and static peer roster.
// Grounded on the teacher's pkg/config/config.go viper loader (config file
// plus environment override) and the roster document is parsed the way the
// teacher's cmd/config YAML-driven setup loads auxiliary documents,
// switched to gopkg.in/yaml.v3 for the roster file specifically since it
// is not part of viper's own config tree.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"synnergy-ca3/internal/roster"
)

// Self identifies this node on the roster and the address it listens on.
type Self struct {
	NodeName string `mapstructure:"nodename"`
	RPCPort  int    `mapstructure:"rpc_port"`
}

// Config is a CA3 node's full tunable set, spec.md §4/§9.
type Config struct {
	Self Self `mapstructure:"self"`

	MinLifeTimeMs           int64 `mapstructure:"min_life_time_ms"`
	MaxLifeTimeMs           int64 `mapstructure:"max_life_time_ms"`
	MinSignNodes            int   `mapstructure:"min_sign_nodes"`
	MaxSignNodes            int   `mapstructure:"max_sign_nodes"`
	AbnormalCountForJudging int   `mapstructure:"abnormal_count_for_judging"`

	// RejectEmptyDataBlocks refuses to pack a data block with zero
	// transactions outright, rather than letting proceed_creator assemble
	// an always-empty data block. See SPEC_FULL.md's "Open Questions —
	// Decisions" section.
	RejectEmptyDataBlocks bool `mapstructure:"reject_empty_data_blocks"`

	// StrictEmptyTxSuppression resolves spec.md §9's open question on
	// genesis/parcel duplicate suppression scope: true conflicts a new
	// empty-tx_ids declare against ANY active empty-tx_ids trip for the
	// tenant regardless of block type; false (the default) only conflicts
	// against an active trip of the same type. See SPEC_FULL.md's "Open
	// Questions — Decisions" section.
	StrictEmptyTxSuppression bool `mapstructure:"strict_empty_tx_suppression"`

	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	PoolIdleTTL    time.Duration `mapstructure:"pool_idle_ttl"`
	PoolMaxIdle    int           `mapstructure:"pool_max_idle"`

	RosterFile string `mapstructure:"roster_file"`
}

// Load reads configFile (YAML) via viper, applying SYNN_CA3_ prefixed
// environment overrides, and unmarshals into a Config with defaults set
// for every field a bare config file omits.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configFile)
	v.SetConfigType("yaml")

	v.SetDefault("min_life_time_ms", 2000)
	v.SetDefault("max_life_time_ms", 30000)
	v.SetDefault("min_sign_nodes", 1)
	v.SetDefault("max_sign_nodes", 3)
	v.SetDefault("abnormal_count_for_judging", 5)
	v.SetDefault("reject_empty_data_blocks", true)
	v.SetDefault("strict_empty_tx_suppression", false)
	v.SetDefault("connect_timeout", "5s")
	v.SetDefault("pool_idle_ttl", "2m")
	v.SetDefault("pool_max_idle", 4)
	v.SetDefault("roster_file", "roster.yaml")

	v.SetEnvPrefix("SYNN_CA3")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", configFile, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if cfg.MinSignNodes <= 0 || cfg.MaxSignNodes < cfg.MinSignNodes {
		return nil, fmt.Errorf("config: min_sign_nodes/max_sign_nodes out of range: %d/%d", cfg.MinSignNodes, cfg.MaxSignNodes)
	}
	return &cfg, nil
}

// rosterDoc is the on-disk shape of a roster file.
type rosterDoc struct {
	Peers []roster.Entry `yaml:"peers"`
}

// LoadRoster reads a roster YAML document and builds a roster.Roster for
// self, using abnormalCountForJudging as the eligibility threshold.
func LoadRoster(path, self string, abnormalCountForJudging int) (*roster.Roster, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read roster %s: %w", path, err)
	}
	var doc rosterDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("config: parse roster %s: %w", path, err)
	}
	r := roster.New(self, abnormalCountForJudging)
	for _, e := range doc.Peers {
		r.Add(e)
	}
	return r, nil
}

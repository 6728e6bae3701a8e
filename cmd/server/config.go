package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level server configuration. Loaded from a YAML file
// (if --config points at one) with CLOBD_* environment variable
// overrides, the same viper pattern 0xtitan6-polymarket-mm's
// internal/config package uses for its market-maker config.
type Config struct {
	Port                int           `mapstructure:"port"`
	MetricsPort         int           `mapstructure:"metrics_port"`
	WalDir              string        `mapstructure:"wal_dir"`
	SyncMode            bool          `mapstructure:"sync_mode"`
	RingBufferSize      uint64        `mapstructure:"ring_buffer_size"`
	ConsumeBatchSize    uint64        `mapstructure:"consume_batch_size"`
	ConsumePollInterval time.Duration `mapstructure:"consume_poll_interval"`
	Markets             []MarketConfig `mapstructure:"markets"`
	Risk                RiskConfig    `mapstructure:"risk"`
}

// MarketConfig describes one market's create_market parameters and the
// slab/event-queue capacities the host allocates for it.
type MarketConfig struct {
	Name               string `mapstructure:"name"`
	CallbackInfoLen    uint64 `mapstructure:"callback_info_len"`
	CallbackIDLen      uint64 `mapstructure:"callback_id_len"`
	MinBaseOrderSize   uint64 `mapstructure:"min_base_order_size"`
	TickSize           uint64 `mapstructure:"tick_size"`
	CrankerReward      uint64 `mapstructure:"cranker_reward"`
	InitialFeeBudget   uint64 `mapstructure:"initial_fee_budget"`
	BookCapacity       uint32 `mapstructure:"book_capacity"`
	EventQueueCapacity int    `mapstructure:"event_queue_capacity"`
}

// RiskConfig mirrors riskgate.Config in mapstructure-friendly form
// (riskgate.Config's MarketLimits key type isn't a plain string, so it
// is kept out of the config file and set programmatically instead).
type RiskConfig struct {
	MaxOrderBaseQty     uint64  `mapstructure:"max_order_base_qty"`
	MaxOrderQuoteValue  uint64  `mapstructure:"max_order_quote_value"`
	MaxPositionBaseQty  uint64  `mapstructure:"max_position_base_qty"`
	MaxDailyQuoteVolume uint64  `mapstructure:"max_daily_quote_volume"`
	PriceBandPercent    float64 `mapstructure:"price_band_percent"`
}

const unit64 = uint64(1) << 32

// DefaultConfig returns the demo configuration: two markets, generous
// risk limits, and an in-process WAL directory.
func DefaultConfig() Config {
	return Config{
		Port:                8080,
		MetricsPort:         9090,
		WalDir:              "wal",
		SyncMode:            false,
		RingBufferSize:      8192,
		ConsumeBatchSize:    64,
		ConsumePollInterval: 5 * time.Millisecond,
		Markets: []MarketConfig{
			{
				Name: "BTC-USD", CallbackInfoLen: 32, CallbackIDLen: 8,
				MinBaseOrderSize: 1, TickSize: 1, CrankerReward: 1,
				InitialFeeBudget: 1_000_000, BookCapacity: 65536, EventQueueCapacity: 4096,
			},
			{
				Name: "ETH-USD", CallbackInfoLen: 32, CallbackIDLen: 8,
				MinBaseOrderSize: 1, TickSize: 1, CrankerReward: 1,
				InitialFeeBudget: 1_000_000, BookCapacity: 65536, EventQueueCapacity: 4096,
			},
		},
		Risk: RiskConfig{
			MaxOrderBaseQty:     1_000_000,
			MaxOrderQuoteValue:  100_000 * unit64,
			MaxPositionBaseQty:  10_000_000,
			MaxDailyQuoteVolume: 10_000_000 * unit64,
			PriceBandPercent:    0.10,
		},
	}
}

// LoadConfig starts from DefaultConfig, then overlays a YAML file at
// path (if non-empty) and CLOBD_*-prefixed environment variables.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetEnvPrefix("CLOBD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := v.Unmarshal(&cfg); err != nil {
			return cfg, fmt.Errorf("unmarshal config: %w", err)
		}
	}

	if v.IsSet("port") {
		cfg.Port = v.GetInt("port")
	}
	if v.IsSet("sync_mode") {
		cfg.SyncMode = v.GetBool("sync_mode")
	}
	if v.IsSet("wal_dir") {
		cfg.WalDir = v.GetString("wal_dir")
	}
	return cfg, nil
}

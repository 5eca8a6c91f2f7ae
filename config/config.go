// Package config loads lobsim settings from defaults, an optional YAML file
// and LOBSIM_ prefixed environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. LOBSIM_SERVER_LISTEN_ADDR.
const EnvPrefix = "LOBSIM"

type Config struct {
	Log        LogConfig        `mapstructure:"log"`
	Book       BookConfig       `mapstructure:"book"`
	Simulation SimulationConfig `mapstructure:"simulation"`
	Bots       BotsConfig       `mapstructure:"bots"`
	Server     ServerConfig     `mapstructure:"server"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type BookConfig struct {
	// DisplayDepth is how many levels per side the console prints.
	DisplayDepth int `mapstructure:"display_depth"`
	// RequestBuffer is the Runner's request queue length.
	RequestBuffer int `mapstructure:"request_buffer"`
}

type SimulationConfig struct {
	Ticks         int           `mapstructure:"ticks"`
	OrdersPerTick int           `mapstructure:"orders_per_tick"`
	Interval      time.Duration `mapstructure:"interval"`
	Seed          int64         `mapstructure:"seed"`
	MinPrice      float64       `mapstructure:"min_price"`
	MaxPrice      float64       `mapstructure:"max_price"`
	MinQuantity   int64         `mapstructure:"min_quantity"`
	MaxQuantity   int64         `mapstructure:"max_quantity"`
	MarketRatio   float64       `mapstructure:"market_ratio"`
	Verify        bool          `mapstructure:"verify"`
}

type BotsConfig struct {
	OrderInterval time.Duration `mapstructure:"order_interval"`
	Duration      time.Duration `mapstructure:"duration"`
	QuotePairs    int           `mapstructure:"quote_pairs"`
	SpreadCapture bool          `mapstructure:"spread_capture"`
	RandomFlow    bool          `mapstructure:"random_flow"`
	SeedPrice     float64       `mapstructure:"seed_price"`
	ReportEvery   time.Duration `mapstructure:"report_every"`
}

type ServerConfig struct {
	ListenAddr   string `mapstructure:"listen_addr"`
	AuthToken    string `mapstructure:"auth_token"`
	CORSOrigin   string `mapstructure:"cors_origin"`
	StreamBuffer int    `mapstructure:"stream_buffer"`
	DefaultDepth int    `mapstructure:"default_depth"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("book.display_depth", 5)
	v.SetDefault("book.request_buffer", 1024)

	v.SetDefault("simulation.ticks", 10)
	v.SetDefault("simulation.orders_per_tick", 3)
	v.SetDefault("simulation.interval", time.Second)
	v.SetDefault("simulation.seed", 0)
	v.SetDefault("simulation.min_price", 95.0)
	v.SetDefault("simulation.max_price", 105.0)
	v.SetDefault("simulation.min_quantity", 10)
	v.SetDefault("simulation.max_quantity", 1000)
	v.SetDefault("simulation.market_ratio", 0.1)
	v.SetDefault("simulation.verify", false)

	v.SetDefault("bots.order_interval", 50*time.Millisecond)
	v.SetDefault("bots.duration", 10*time.Second)
	v.SetDefault("bots.quote_pairs", 2)
	v.SetDefault("bots.spread_capture", true)
	v.SetDefault("bots.random_flow", true)
	v.SetDefault("bots.seed_price", 100.0)
	v.SetDefault("bots.report_every", 2*time.Second)

	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.auth_token", "")
	v.SetDefault("server.cors_origin", "*")
	v.SetDefault("server.stream_buffer", 32)
	v.SetDefault("server.default_depth", 10)
}

// Load reads defaults, then path when it is not empty, then the environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in settings with no file or environment applied.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Defaults always decode.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Validate reports every out-of-range setting at once.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Book.DisplayDepth > 0, "book.display_depth must be positive, got %d", c.Book.DisplayDepth)
	check(c.Book.RequestBuffer >= 0, "book.request_buffer must not be negative, got %d", c.Book.RequestBuffer)

	s := c.Simulation
	check(s.Ticks > 0, "simulation.ticks must be positive, got %d", s.Ticks)
	check(s.OrdersPerTick > 0, "simulation.orders_per_tick must be positive, got %d", s.OrdersPerTick)
	check(s.Interval >= 0, "simulation.interval must not be negative, got %s", s.Interval)
	check(s.MinPrice > 0 && s.MinPrice < s.MaxPrice, "simulation price range [%g, %g) is empty or not positive", s.MinPrice, s.MaxPrice)
	check(s.MinQuantity > 0 && s.MinQuantity <= s.MaxQuantity, "simulation quantity range [%d, %d] is empty or not positive", s.MinQuantity, s.MaxQuantity)
	check(s.MarketRatio >= 0 && s.MarketRatio <= 1, "simulation.market_ratio must be within [0, 1], got %g", s.MarketRatio)

	b := c.Bots
	check(b.OrderInterval > 0, "bots.order_interval must be positive, got %s", b.OrderInterval)
	check(b.Duration >= 0, "bots.duration must not be negative, got %s", b.Duration)
	check(b.QuotePairs >= 0, "bots.quote_pairs must not be negative, got %d", b.QuotePairs)
	check(b.SeedPrice > 0, "bots.seed_price must be positive, got %g", b.SeedPrice)
	check(b.ReportEvery > 0, "bots.report_every must be positive, got %s", b.ReportEvery)

	check(c.Server.ListenAddr != "", "server.listen_addr is required")
	check(c.Server.StreamBuffer > 0, "server.stream_buffer must be positive, got %d", c.Server.StreamBuffer)
	check(c.Server.DefaultDepth > 0, "server.default_depth must be positive, got %d", c.Server.DefaultDepth)

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

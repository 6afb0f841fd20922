// Package config loads and validates daemon configuration. The resulting
// Config is built once at startup and passed into component constructors;
// nothing reads configuration ambiently after that.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Weighting selects how holder balances are weighted when computing
// distribution shares.
type Weighting string

const (
	WeightingLinear Weighting = "linear"
	WeightingSqrt   Weighting = "sqrt"
)

// Config holds all configuration for the distribution daemon.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Log          LogConfig          `mapstructure:"log"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	NATS         NATSConfig         `mapstructure:"nats"`
	Chain        ChainConfig        `mapstructure:"chain"`
	Swap         SwapConfig         `mapstructure:"swap"`
	Treasury     TreasuryConfig     `mapstructure:"treasury"`
	Snapshot     SnapshotConfig     `mapstructure:"snapshot"`
	Distribution DistributionConfig `mapstructure:"distribution"`
	Scheduler    SchedulerConfig    `mapstructure:"scheduler"`
}

// ServerConfig holds the observability HTTP server configuration.
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`
}

// ConnString builds a pgx-compatible connection string.
func (p PostgresConfig) ConnString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.Database, p.SSLMode,
	)
}

// RedisConfig holds the bot-status cache configuration.
type RedisConfig struct {
	URL     string `mapstructure:"url"`
	Enabled bool   `mapstructure:"enabled"`
}

// NATSConfig holds event publishing configuration.
type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Enabled bool   `mapstructure:"enabled"`
}

// ChainConfig holds addresses of the external chain services and the
// asset mints involved in a distribution.
type ChainConfig struct {
	// RPCURL is the holder-index RPC endpoint used for snapshots.
	RPCURL string `mapstructure:"rpc_url"`

	// TreasuryURL is the wallet/custody service endpoint.
	TreasuryURL string `mapstructure:"treasury_url"`

	// TokenMint is the tracked community token mint address.
	TokenMint string `mapstructure:"token_mint"`

	// RewardMint is the reward asset (wrapped BTC) mint address.
	RewardMint string `mapstructure:"reward_mint"`
}

// SwapConfig holds swap service settings.
type SwapConfig struct {
	URL          string `mapstructure:"url"`
	SlippageBps  int    `mapstructure:"slippage_bps"`
	MinOutputBps int    `mapstructure:"min_output_bps"`
}

// TreasuryConfig holds safety thresholds, in lamports.
type TreasuryConfig struct {
	// SafetyFloor is never spent; spendable = balance - floor.
	SafetyFloor int64 `mapstructure:"safety_floor"`

	// SwapThreshold is the minimum spendable balance that triggers a
	// conversion cycle.
	SwapThreshold int64 `mapstructure:"swap_threshold"`
}

// SnapshotConfig holds holder eligibility and weighting settings.
type SnapshotConfig struct {
	MinHolderBalance int64         `mapstructure:"min_holder_balance"`
	MaxHolderBalance int64         `mapstructure:"max_holder_balance"` // 0 disables the cap
	Weighting        Weighting     `mapstructure:"weighting"`
	PageSize         int           `mapstructure:"page_size"`
	PageDelay        time.Duration `mapstructure:"page_delay"`
}

// DistributionConfig holds batch execution settings.
type DistributionConfig struct {
	// BatchSize is bounded by the ledger's per-transaction instruction
	// limit, not tunable for throughput.
	BatchSize      int           `mapstructure:"batch_size"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
	BatchDelay     time.Duration `mapstructure:"batch_delay"`
	DryRun         bool          `mapstructure:"dry_run"`
}

// SchedulerConfig holds the cycle schedule.
type SchedulerConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// Load reads configuration from an optional file and BTC500_* environment
// variables, applying defaults first.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.port", 8090)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.user", "btc500")
	v.SetDefault("database.postgres.password", "")
	v.SetDefault("database.postgres.database", "btc500")
	v.SetDefault("database.postgres.sslmode", "disable")

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.enabled", true)

	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.enabled", true)

	v.SetDefault("chain.rpc_url", "")
	v.SetDefault("chain.treasury_url", "http://localhost:8091")
	v.SetDefault("chain.token_mint", "")
	v.SetDefault("chain.reward_mint", "3NZ9JMVBmGAqocybic2c7LQCJScmgsAZ6vQqTDzcqmJh")

	v.SetDefault("swap.url", "https://quote-api.jup.ag/v6")
	v.SetDefault("swap.slippage_bps", 100)
	v.SetDefault("swap.min_output_bps", 9900)

	v.SetDefault("treasury.safety_floor", int64(50_000_000))   // 0.05 SOL
	v.SetDefault("treasury.swap_threshold", int64(100_000_000)) // 0.1 SOL

	v.SetDefault("snapshot.min_holder_balance", int64(1_000_000))
	v.SetDefault("snapshot.max_holder_balance", int64(0))
	v.SetDefault("snapshot.weighting", "linear")
	v.SetDefault("snapshot.page_size", 1000)
	v.SetDefault("snapshot.page_delay", "100ms")

	v.SetDefault("distribution.batch_size", 5)
	v.SetDefault("distribution.max_retries", 3)
	v.SetDefault("distribution.retry_base_delay", "2s")
	v.SetDefault("distribution.batch_delay", "500ms")
	v.SetDefault("distribution.dry_run", false)

	v.SetDefault("scheduler.interval", "15m")

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Environment variables override file config
	v.SetEnvPrefix("BTC500")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks internal consistency of the loaded configuration.
func (c *Config) Validate() error {
	switch c.Snapshot.Weighting {
	case WeightingLinear, WeightingSqrt:
	default:
		return fmt.Errorf("invalid snapshot.weighting %q: must be %q or %q",
			c.Snapshot.Weighting, WeightingLinear, WeightingSqrt)
	}

	if c.Snapshot.MinHolderBalance < 0 {
		return fmt.Errorf("snapshot.min_holder_balance must not be negative")
	}
	if c.Snapshot.MaxHolderBalance < 0 {
		return fmt.Errorf("snapshot.max_holder_balance must not be negative")
	}
	if c.Snapshot.MaxHolderBalance > 0 && c.Snapshot.MaxHolderBalance < c.Snapshot.MinHolderBalance {
		return fmt.Errorf("snapshot.max_holder_balance must not be below snapshot.min_holder_balance")
	}
	if c.Snapshot.PageSize <= 0 {
		return fmt.Errorf("snapshot.page_size must be positive")
	}

	if c.Distribution.BatchSize <= 0 {
		return fmt.Errorf("distribution.batch_size must be positive")
	}
	if c.Distribution.MaxRetries <= 0 {
		return fmt.Errorf("distribution.max_retries must be positive")
	}

	if c.Swap.SlippageBps < 0 || c.Swap.SlippageBps > 10_000 {
		return fmt.Errorf("swap.slippage_bps must be within [0, 10000]")
	}
	if c.Swap.MinOutputBps <= 0 || c.Swap.MinOutputBps > 10_000 {
		return fmt.Errorf("swap.min_output_bps must be within (0, 10000]")
	}

	if c.Treasury.SafetyFloor < 0 {
		return fmt.Errorf("treasury.safety_floor must not be negative")
	}
	if c.Treasury.SwapThreshold <= 0 {
		return fmt.Errorf("treasury.swap_threshold must be positive")
	}

	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be positive")
	}

	return nil
}

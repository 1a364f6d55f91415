// Package config defines the top-level configuration for the sniper and
// provides validation helpers.
package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by SNIPER_* environment variables.
type Config struct {
	Chain      ChainConfig      `toml:"chain"`
	Wallet     WalletConfig     `toml:"wallet"`
	Trade      TradeConfig      `toml:"trade"`
	Execution  ExecutionConfig  `toml:"execution"`
	Graduation GraduationConfig `toml:"graduation"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// ChainConfig holds RPC endpoint and factory-watch parameters.
type ChainConfig struct {
	RPCURL         string   `toml:"rpc_url"`
	ChainID        int64    `toml:"chain_id"`
	FactoryAddress string   `toml:"factory_address"`
	BackfillBlocks uint64   `toml:"backfill_blocks"`
	PollInterval   duration `toml:"poll_interval"`
}

// WalletConfig holds signing key credentials. Exactly one source is used:
// a raw hex key, or an encrypted keyfile plus password.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// TradeConfig holds position-entry and exit-policy parameters. Wei amounts
// are decimal strings so they survive values beyond int64.
type TradeConfig struct {
	EntrySpendWei   string `toml:"entry_spend_wei"`
	TakeProfitBps   int64  `toml:"take_profit_bps"`
	HardStopBps     int64  `toml:"hard_stop_bps"` // 0 disables the stop-loss
	MinProfitWei    string `toml:"min_profit_wei"`
	SlippageBps     int64  `toml:"slippage_bps"`
	MinHoldBlocks   uint64 `toml:"min_hold_blocks"`
	FallbackSellGas uint64 `toml:"fallback_sell_gas"`
}

// ExecutionConfig holds simulate/send/confirm protocol parameters.
type ExecutionConfig struct {
	FeeBumpRatioBps int64    `toml:"fee_bump_ratio_bps"`
	MaxReplacements int      `toml:"max_replacements"`
	ConfirmTimeout  duration `toml:"confirm_timeout"`
}

// GraduationConfig holds graduation-claim parameters.
type GraduationConfig struct {
	JitterMax   duration `toml:"jitter_max"`
	SimAttempts int      `toml:"sim_attempts"`
	SimInterval duration `toml:"sim_interval"`
}

// PostgresConfig holds trade-journal database parameters. The journal is
// optional; leave Enabled false to run without one.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds seen-cache connection parameters. The cache is optional;
// leave Enabled false to rely on in-process dedup only.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	SeenTTL    duration `toml:"seen_ttl"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			RPCURL:         "http://localhost:8545",
			ChainID:        8453,
			BackfillBlocks: 128,
			PollInterval:   duration{2 * time.Second},
		},
		Trade: TradeConfig{
			EntrySpendWei:   "10000000000000000", // 0.01 ether
			TakeProfitBps:   2_000,
			HardStopBps:     0,
			MinProfitWei:    "0",
			SlippageBps:     300,
			MinHoldBlocks:   2,
			FallbackSellGas: 300_000,
		},
		Execution: ExecutionConfig{
			FeeBumpRatioBps: 1_500,
			MaxReplacements: 3,
			ConfirmTimeout:  duration{30 * time.Second},
		},
		Graduation: GraduationConfig{
			JitterMax:   duration{3 * time.Second},
			SimAttempts: 10,
			SimInterval: duration{500 * time.Millisecond},
		},
		Postgres: PostgresConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "sniper",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			SeenTTL:    duration{72 * time.Hour},
		},
		Notify: NotifyConfig{
			Events: []string{"entry_filled", "exit_confirmed", "graduated", "gave_up"},
		},
		Mode:     "trade",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":   true,
	"monitor": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// parseWei parses a decimal wei string. Empty strings parse as zero.
func parseWei(s string) (*big.Int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return big.NewInt(0), true
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Sign() < 0 {
		return nil, false
	}
	return n, true
}

// EntrySpend returns the parsed entry spend amount. Call Validate first.
func (c *Config) EntrySpend() *big.Int {
	n, _ := parseWei(c.Trade.EntrySpendWei)
	return n
}

// MinProfit returns the parsed profit floor. Call Validate first.
func (c *Config) MinProfit() *big.Int {
	n, _ := parseWei(c.Trade.MinProfitWei)
	return n
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, monitor)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Chain
	if c.Chain.RPCURL == "" {
		errs = append(errs, "chain: rpc_url must not be empty")
	}
	if c.Chain.ChainID <= 0 {
		errs = append(errs, "chain: chain_id must be positive")
	}
	if c.Chain.FactoryAddress == "" {
		errs = append(errs, "chain: factory_address must not be empty")
	}
	if c.Chain.PollInterval.Duration <= 0 {
		errs = append(errs, "chain: poll_interval must be > 0")
	}

	// Wallet. A key is required for trade mode only; monitor mode never signs.
	if strings.ToLower(c.Mode) == "trade" {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for mode trade")
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	}

	// Trade
	if spend, ok := parseWei(c.Trade.EntrySpendWei); !ok {
		errs = append(errs, fmt.Sprintf("trade: entry_spend_wei %q is not a decimal wei amount", c.Trade.EntrySpendWei))
	} else if spend.Sign() <= 0 {
		errs = append(errs, "trade: entry_spend_wei must be > 0")
	}
	if _, ok := parseWei(c.Trade.MinProfitWei); !ok {
		errs = append(errs, fmt.Sprintf("trade: min_profit_wei %q is not a decimal wei amount", c.Trade.MinProfitWei))
	}
	if c.Trade.TakeProfitBps <= 0 {
		errs = append(errs, "trade: take_profit_bps must be > 0")
	}
	if c.Trade.HardStopBps < 0 {
		errs = append(errs, "trade: hard_stop_bps must be >= 0 (0 disables the stop)")
	}
	if c.Trade.SlippageBps < 0 || c.Trade.SlippageBps >= 10_000 {
		errs = append(errs, fmt.Sprintf("trade: slippage_bps must be 0-9999, got %d", c.Trade.SlippageBps))
	}
	if c.Trade.FallbackSellGas == 0 {
		errs = append(errs, "trade: fallback_sell_gas must be > 0")
	}

	// Execution
	if c.Execution.FeeBumpRatioBps <= 0 {
		errs = append(errs, "execution: fee_bump_ratio_bps must be > 0")
	}
	if c.Execution.MaxReplacements < 0 {
		errs = append(errs, "execution: max_replacements must be >= 0")
	}
	if c.Execution.ConfirmTimeout.Duration <= 0 {
		errs = append(errs, "execution: confirm_timeout must be > 0")
	}

	// Graduation
	if c.Graduation.SimAttempts < 1 {
		errs = append(errs, "graduation: sim_attempts must be >= 1")
	}
	if c.Graduation.SimInterval.Duration <= 0 {
		errs = append(errs, "graduation: sim_interval must be > 0")
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Package configs loads the static topology (RPC endpoints, contract
// addresses, signer account) from a YAML file with gopkg.in/yaml.v3, the
// way the teacher's configs/config.go loads config.yml, and overlays the
// operator-tunable keys from spec.md §6 from the environment via
// os.Getenv, the way the teacher's cmd/main.go reads ENC_PK/KEY.
package configs

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ref-trader/reftrader/internal/boterr"
	"github.com/ref-trader/reftrader/pkg/arbitrage"
	"github.com/ref-trader/reftrader/pkg/portfolio"
	"github.com/ref-trader/reftrader/pkg/rpcpool"
	"github.com/ref-trader/reftrader/pkg/tokenaccount"
)

// Config is the static topology loaded from config.yml: chain identity,
// contract addresses, and the signer account. Operator-tunable policy
// (section 6 of spec.md) is read separately from the environment by
// LoadEnv, mirroring the teacher's split between config.yml (topology) and
// ENC_PK/KEY (secrets/environment).
type Config struct {
	RouterAccount string `yaml:"router_account"`
	WnearAccount  string `yaml:"wnear_account"`
	SignerAccount string `yaml:"signer_account"`

	RPCEndpoints []RPCEndpointYAML `yaml:"rpc_endpoints"`

	RPCTimeoutSeconds int `yaml:"rpc_timeout_seconds"`
	RPCRetryLimit     int `yaml:"rpc_retry_limit"`
}

// RPCEndpointYAML mirrors spec.md §6's RPC_ENDPOINTS JSON-array shape
// (`[{url, weight, max_retries}, ...]`), expressed as a YAML list here since
// the rest of the topology file is YAML; RPCPoolConfig also accepts the same
// shape from the RPC_ENDPOINTS environment variable as JSON, per spec.md §6.
type RPCEndpointYAML struct {
	URL        string `yaml:"url" json:"url"`
	Weight     int    `yaml:"weight" json:"weight"`
	MaxRetries int    `yaml:"max_retries" json:"max_retries"`
}

// LoadConfig reads and parses a YAML topology file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &boterr.ConfigError{Detail: fmt.Sprintf("read config file: %v", err)}
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &boterr.ConfigError{Detail: fmt.Sprintf("parse config YAML: %v", err)}
	}
	return &cfg, nil
}

// RPCPoolConfig builds an rpcpool.Config from the topology file, falling
// back to the RPC_ENDPOINTS environment variable (spec.md §6) when the YAML
// file carries no endpoints — useful for operators who prefer to keep
// endpoint URLs (which may embed API keys) out of a checked-in file.
func (c *Config) RPCPoolConfig() (rpcpool.Config, error) {
	endpoints := c.RPCEndpoints
	if len(endpoints) == 0 {
		raw := os.Getenv("RPC_ENDPOINTS")
		if raw == "" {
			return rpcpool.Config{}, &boterr.ConfigError{Detail: "no RPC endpoints configured (set rpc_endpoints in config.yml or RPC_ENDPOINTS env)"}
		}
		if err := json.Unmarshal([]byte(raw), &endpoints); err != nil {
			return rpcpool.Config{}, &boterr.ConfigError{Detail: fmt.Sprintf("parse RPC_ENDPOINTS: %v", err)}
		}
	}
	if len(endpoints) == 0 {
		return rpcpool.Config{}, &boterr.ConfigError{Detail: "RPC endpoint list is empty"}
	}

	out := make([]rpcpool.Endpoint, len(endpoints))
	for i, e := range endpoints {
		out[i] = rpcpool.Endpoint{URL: e.URL, Weight: e.Weight, MaxRetries: e.MaxRetries}
	}
	retryLimit := c.RPCRetryLimit
	if retryLimit <= 0 {
		retryLimit = 3
	}
	return rpcpool.Config{
		Endpoints:  out,
		RetryLimit: retryLimit,
	}, nil
}

// RPCTimeout returns the configured per-call RPC deadline, defaulting to 30s
// per spec.md §5's "tens of seconds" guidance.
func (c *Config) RPCTimeout() time.Duration {
	if c.RPCTimeoutSeconds > 0 {
		return time.Duration(c.RPCTimeoutSeconds) * time.Second
	}
	return 30 * time.Second
}

// RouterAccountID parses the configured router account.
func (c *Config) RouterAccountID() (tokenaccount.Account, error) {
	return tokenaccount.Parse(c.RouterAccount)
}

// WnearAccountID parses the configured wrapped-native-token account.
func (c *Config) WnearAccountID() (tokenaccount.Account, error) {
	return tokenaccount.Parse(c.WnearAccount)
}

// SignerAccountID parses the configured signer account.
func (c *Config) SignerAccountID() (tokenaccount.Account, error) {
	return tokenaccount.Parse(c.SignerAccount)
}

// EnvConfig holds every operator-tunable key from spec.md §6, read from the
// environment (the "external collaborator" policy surface spec.md excludes
// from the core's design but still requires a loader for).
type EnvConfig struct {
	ArbitrageNeeded               bool
	ArbitrageTokenNotFoundWait    time.Duration
	ArbitrageOtherErrorWait       time.Duration
	ArbitragePreviewNotFoundWait  time.Duration

	HarvestAccountID     string
	HarvestReserveAmount *big.Int // whole units
	TradeAccountReserve  *big.Int // milli-units

	TradeEnabled         bool
	TradeTopTokens        int
	TradeVolatilityDays   int
	TradePriceHistoryDays int

	PortfolioRebalanceThreshold float64

	PredictionEvalToleranceMinutes int
	PredictionEvalAccuracyWindow   int
	PredictionEvalMinSamples       int

	PoolInfoRetentionCount int

	RecordRatesCronSchedule string
	TradeCronSchedule       string
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func getenvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getenvFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getenvBigInt(key string, def *big.Int) *big.Int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, ok := new(big.Int).SetString(v, 10)
	if !ok {
		return def
	}
	return n
}

// LoadEnv reads spec.md §6's keys from the environment, applying the
// documented defaults when a key is unset or unparseable.
func LoadEnv() EnvConfig {
	return EnvConfig{
		ArbitrageNeeded:              getenvBool("ARBITRAGE_NEEDED", false),
		ArbitrageTokenNotFoundWait:   getenvDuration("ARBITRAGE_TOKEN_NOT_FOUND_WAIT", time.Second),
		ArbitrageOtherErrorWait:      getenvDuration("ARBITRAGE_OTHER_ERROR_WAIT", 30*time.Second),
		ArbitragePreviewNotFoundWait: getenvDuration("ARBITRAGE_PREVIEW_NOT_FOUND_WAIT", 10*time.Second),

		HarvestAccountID:     os.Getenv("HARVEST_ACCOUNT_ID"),
		HarvestReserveAmount: getenvBigInt("HARVEST_RESERVE_AMOUNT", big.NewInt(1)),
		TradeAccountReserve:  getenvBigInt("TRADE_ACCOUNT_RESERVE", big.NewInt(10)),

		TradeEnabled:          getenvBool("TRADE_ENABLED", false),
		TradeTopTokens:        getenvInt("TRADE_TOP_TOKENS", 10),
		TradeVolatilityDays:   getenvInt("TRADE_VOLATILITY_DAYS", 7),
		TradePriceHistoryDays: getenvInt("TRADE_PRICE_HISTORY_DAYS", 30),

		PortfolioRebalanceThreshold: getenvFloat("PORTFOLIO_REBALANCE_THRESHOLD", 0.05),

		PredictionEvalToleranceMinutes: getenvInt("PREDICTION_EVAL_TOLERANCE_MINUTES", 30),
		PredictionEvalAccuracyWindow:   getenvInt("PREDICTION_EVAL_ACCURACY_WINDOW", 10),
		PredictionEvalMinSamples:       getenvInt("PREDICTION_EVAL_MIN_SAMPLES", 3),

		PoolInfoRetentionCount: getenvInt("POOL_INFO_RETENTION_COUNT", 10),

		RecordRatesCronSchedule: getOrDefault("RECORD_RATES_CRON_SCHEDULE", "*/15 * * * *"),
		TradeCronSchedule:       getOrDefault("TRADE_CRON_SCHEDULE", "0 0 * * *"),
	}
}

func getOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Validate enforces spec.md §6's fatal-at-startup requirements (missing
// HARVEST_ACCOUNT_ID is fatal whenever the harvest controller is wired in).
func (e EnvConfig) Validate() error {
	if e.HarvestAccountID == "" {
		return &boterr.ConfigError{Detail: "HARVEST_ACCOUNT_ID is required"}
	}
	if _, err := tokenaccount.Parse(e.HarvestAccountID); err != nil {
		return &boterr.ConfigError{Detail: fmt.Sprintf("invalid HARVEST_ACCOUNT_ID: %v", err)}
	}
	return nil
}

// ToArbitrageConfig projects the environment config onto arbitrage.Config.
func (e EnvConfig) ToArbitrageConfig(quote tokenaccount.Account) arbitrage.Config {
	return arbitrage.Config{
		Enabled:             e.ArbitrageNeeded,
		QuoteToken:          quote,
		TokenNotFoundWait:   e.ArbitrageTokenNotFoundWait,
		OtherErrorWait:      e.ArbitrageOtherErrorWait,
		PreviewNotFoundWait: e.ArbitragePreviewNotFoundWait,
	}
}

// ToPortfolioConfig projects the environment config onto portfolio.Config.
func (e EnvConfig) ToPortfolioConfig(quote tokenaccount.Account) portfolio.Config {
	return portfolio.Config{
		Enabled:                 e.TradeEnabled,
		QuoteToken:              quote,
		TopTokens:               e.TradeTopTokens,
		VolatilityDays:          e.TradeVolatilityDays,
		PriceHistoryDays:        e.TradePriceHistoryDays,
		RebalanceThreshold:      e.PortfolioRebalanceThreshold,
		RecordRatesCron:         e.RecordRatesCronSchedule,
		TradeCron:               e.TradeCronSchedule,
	}
}

// ToHarvestInterval returns the harvest controller's throttle interval,
// spec.md §4.9's HARVEST_INTERVAL (not independently listed in §6's table,
// defaulting to 24h as the component description specifies).
func (e EnvConfig) ToHarvestInterval() time.Duration {
	return getenvDuration("HARVEST_INTERVAL", 24*time.Hour)
}

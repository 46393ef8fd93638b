package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"index-swap/pkg/swap"
)

// Base mainnet deployment
const (
	DefaultStablecoin = "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"
	DefaultIndexToken = "0xEbfd0F43a86278c9E08b9Ae76f5Caa901eC16322"
	DefaultGateway    = "0x2572C074DEbE6daff54cA99B9467a4cE19C2867B"
	DefaultChainID    = 8453
)

// Config holds the application configuration
type Config struct {
	JWTToken            string
	BackendURL          string
	RequestTimeout      time.Duration
	Chain               ChainConfig
	Contracts           ContractsConfig
	Decimals            DecimalsConfig
	Confirmations       uint64
	ConfirmationTimeout time.Duration
	PollInterval        time.Duration
	JournalPath         string
	AutoConfirm         bool
	LogLevel            string
}

// ChainConfig holds the RPC endpoint and the wallet settings
type ChainConfig struct {
	RPCUrl     string
	ChainID    int64
	PrivateKey string
	GasPrice   *int64  // Optional: wei, otherwise suggested by the node
	GasLimit   *uint64 // Optional: otherwise estimated
}

// ContractsConfig holds the token and gateway addresses
type ContractsConfig struct {
	Stablecoin string
	IndexToken string
	Gateway    string
}

// DecimalsConfig holds the token decimals
type DecimalsConfig struct {
	Stablecoin int32
	IndexToken int32
}

var globalConfig *Config

// SetDefaults registers default values on the global viper instance
func SetDefaults() {
	viper.SetDefault("backend_url", "http://127.0.0.1:8000")
	viper.SetDefault("request_timeout", 15*time.Second)
	viper.SetDefault("chain.chain_id", DefaultChainID)
	viper.SetDefault("contracts.stablecoin", DefaultStablecoin)
	viper.SetDefault("contracts.index_token", DefaultIndexToken)
	viper.SetDefault("contracts.gateway", DefaultGateway)
	viper.SetDefault("decimals.stablecoin", 6)
	viper.SetDefault("decimals.index_token", 9)
	viper.SetDefault("confirmations", 1)
	viper.SetDefault("confirmation_timeout", 60*time.Second)
	viper.SetDefault("poll_interval", 2*time.Second)
	viper.SetDefault("log_level", "info")
}

// Load reads configuration from environment variables and config file
func Load() (*Config, error) {
	viper.SetConfigName(".index-swap")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("$HOME")
	viper.AddConfigPath(".")

	SetDefaults()

	// INDEX_SWAP_CHAIN_RPC_URL maps to chain.rpc_url
	viper.SetEnvPrefix("INDEX_SWAP")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Config file is optional
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{
		JWTToken:       viper.GetString("jwt_token"),
		BackendURL:     viper.GetString("backend_url"),
		RequestTimeout: viper.GetDuration("request_timeout"),
		Chain: ChainConfig{
			RPCUrl:     viper.GetString("chain.rpc_url"),
			ChainID:    viper.GetInt64("chain.chain_id"),
			PrivateKey: viper.GetString("chain.private_key"),
		},
		Contracts: ContractsConfig{
			Stablecoin: viper.GetString("contracts.stablecoin"),
			IndexToken: viper.GetString("contracts.index_token"),
			Gateway:    viper.GetString("contracts.gateway"),
		},
		Decimals: DecimalsConfig{
			Stablecoin: viper.GetInt32("decimals.stablecoin"),
			IndexToken: viper.GetInt32("decimals.index_token"),
		},
		Confirmations:       viper.GetUint64("confirmations"),
		ConfirmationTimeout: viper.GetDuration("confirmation_timeout"),
		PollInterval:        viper.GetDuration("poll_interval"),
		JournalPath:         viper.GetString("journal_path"),
		AutoConfirm:         viper.GetBool("auto_confirm"),
		LogLevel:            viper.GetString("log_level"),
	}

	if viper.IsSet("chain.gas_price") {
		v := viper.GetInt64("chain.gas_price")
		cfg.Chain.GasPrice = &v
	}
	if viper.IsSet("chain.gas_limit") {
		v := viper.GetUint64("chain.gas_limit")
		cfg.Chain.GasLimit = &v
	}

	globalConfig = cfg
	return cfg, nil
}

// Validate checks everything a swap needs. The JWT token is not checked
// here; a missing token surfaces as an unauthenticated order registration.
func (c *Config) Validate() error {
	if err := c.ValidateChain(); err != nil {
		return err
	}
	if c.Chain.PrivateKey == "" {
		return fmt.Errorf("private key not configured. Please set INDEX_SWAP_CHAIN_PRIVATE_KEY or chain.private_key in .index-swap.yaml")
	}
	if c.Confirmations == 0 {
		return fmt.Errorf("confirmations must be at least 1")
	}
	if c.ConfirmationTimeout <= 0 {
		return fmt.Errorf("confirmation_timeout must be positive")
	}
	return nil
}

// ValidateChain checks the settings needed for read-only chain access
func (c *Config) ValidateChain() error {
	if c.Chain.RPCUrl == "" {
		return fmt.Errorf("RPC URL not configured. Please set INDEX_SWAP_CHAIN_RPC_URL or chain.rpc_url in .index-swap.yaml")
	}
	if c.Chain.ChainID <= 0 {
		return fmt.Errorf("invalid chain id %d", c.Chain.ChainID)
	}
	for name, addr := range map[string]string{
		"contracts.stablecoin":  c.Contracts.Stablecoin,
		"contracts.index_token": c.Contracts.IndexToken,
		"contracts.gateway":     c.Contracts.Gateway,
	} {
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("invalid %s address: %q", name, addr)
		}
	}
	for name, d := range map[string]int32{
		"decimals.stablecoin":  c.Decimals.Stablecoin,
		"decimals.index_token": c.Decimals.IndexToken,
	} {
		if d < 0 || d > 36 {
			return fmt.Errorf("invalid %s: %d", name, d)
		}
	}
	return nil
}

// Assets returns the token spent in each direction
func (c *Config) Assets() map[swap.Direction]swap.Asset {
	return map[swap.Direction]swap.Asset{
		swap.Buy: {
			Symbol:   "USDC",
			Token:    common.HexToAddress(c.Contracts.Stablecoin),
			Decimals: c.Decimals.Stablecoin,
		},
		swap.Sell: {
			Symbol:   "DSPY",
			Token:    common.HexToAddress(c.Contracts.IndexToken),
			Decimals: c.Decimals.IndexToken,
		},
	}
}

// Logger builds a logrus logger writing to stderr at the configured level
func (c *Config) Logger(verbose bool) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	if verbose {
		level = logrus.DebugLevel
	}
	log.SetLevel(level)
	return log
}

// Get returns the global configuration
func Get() *Config {
	if globalConfig == nil {
		cfg, err := Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
			os.Exit(1)
		}
		return cfg
	}
	return globalConfig
}

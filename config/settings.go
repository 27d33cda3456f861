package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	log "github.com/sirupsen/logrus"
)

// NetworkConfig holds the per-network contract deployment a client talks to.
type NetworkConfig struct {
	ChainID                   int64
	RPCURL                    string // public read RPC, tried first for reads
	WalletRPCURL              string // wallet-side RPC, fallback for reads, required for writes
	ExplorerURL               string
	BountyEscrowAddress       common.Address
	VerdiktaAggregatorAddress common.Address
	LinkTokenAddress          common.Address
}

// Settings holds all configuration for the bounty client
type Settings struct {
	// Active network
	Network NetworkConfig

	// Wallet
	WalletPrivateKey string // hex; empty runs the client read-only

	// Backend REST service
	BackendBaseURL string
	BotAPIKey      string
	HTTPTimeout    time.Duration

	// IPFS pinning gateway
	IPFSAPIURL string

	// Redis Configuration
	RedisHost     string
	RedisPort     string
	RedisDB       int
	RedisPassword string
	CacheTTL      time.Duration

	// Polling and refresh cadence
	AutoRefreshInterval    time.Duration
	EvalReadyInterval      time.Duration
	ActionPollInterval     time.Duration
	ActionPollAttempts     int
	SubmissionPollInterval time.Duration
	SubmissionPollAttempts int
	InitialLoadInterval    time.Duration
	InitialLoadAttempts    int
	AllowanceInterval      time.Duration
	AllowanceAttempts      int

	// Protocol constants
	ForceFailThreshold time.Duration // must match the escrow contract
	ResolverTimeout    time.Duration
	ResolverScanWindow uint64
	DeadlineTolerance  time.Duration
	CloseSettleDelay   time.Duration

	// API Configuration
	APIHost string
	APIPort int

	// Monitoring & Debugging
	MetricsEnabled bool
	MetricsPort    int
	LogLevel       string
	DebugMode      bool
}

var (
	// SettingsObj is the global settings instance
	SettingsObj *Settings
)

// LoadConfig loads configuration from environment variables
func LoadConfig() error {
	SettingsObj = &Settings{
		Network: NetworkConfig{
			ChainID:      int64(getEnvAsInt("CHAIN_ID", 84532)),
			RPCURL:       getEnv("RPC_URL", ""),
			WalletRPCURL: getEnv("WALLET_RPC_URL", ""),
			ExplorerURL:  getEnv("EXPLORER_URL", ""),
		},

		WalletPrivateKey: getEnv("WALLET_PRIVATE_KEY", ""),

		BackendBaseURL: getEnv("BACKEND_BASE_URL", "http://localhost:3000"),
		BotAPIKey:      getEnv("BOT_API_KEY", ""),
		HTTPTimeout:    time.Duration(getEnvAsInt("HTTP_TIMEOUT_SECONDS", 30)) * time.Second,

		IPFSAPIURL: getEnv("IPFS_API_URL", "127.0.0.1:5001"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		CacheTTL:      time.Duration(getEnvAsInt("CACHE_TTL_SECONDS", 3600)) * time.Second,

		AutoRefreshInterval:    time.Duration(getEnvAsInt("AUTO_REFRESH_INTERVAL", 15)) * time.Second,
		EvalReadyInterval:      time.Duration(getEnvAsInt("EVAL_READY_INTERVAL", 15)) * time.Second,
		ActionPollInterval:     time.Duration(getEnvAsInt("ACTION_POLL_INTERVAL", 3)) * time.Second,
		ActionPollAttempts:     getEnvAsInt("ACTION_POLL_ATTEMPTS", 20),
		SubmissionPollInterval: time.Duration(getEnvAsInt("SUBMISSION_POLL_INTERVAL", 3)) * time.Second,
		SubmissionPollAttempts: getEnvAsInt("SUBMISSION_POLL_ATTEMPTS", 40),
		InitialLoadInterval:    time.Duration(getEnvAsInt("INITIAL_LOAD_INTERVAL", 3)) * time.Second,
		InitialLoadAttempts:    getEnvAsInt("INITIAL_LOAD_ATTEMPTS", 10),
		AllowanceInterval:      time.Duration(getEnvAsInt("ALLOWANCE_INTERVAL", 1)) * time.Second,
		AllowanceAttempts:      getEnvAsInt("ALLOWANCE_ATTEMPTS", 15),

		ForceFailThreshold: time.Duration(getEnvAsInt("FORCE_FAIL_THRESHOLD_MINUTES", 10)) * time.Minute,
		ResolverTimeout:    time.Duration(getEnvAsInt("RESOLVER_TIMEOUT_SECONDS", 5)) * time.Second,
		ResolverScanWindow: uint64(getEnvAsInt("RESOLVER_SCAN_WINDOW", 50)),
		DeadlineTolerance:  time.Duration(getEnvAsInt("DEADLINE_TOLERANCE_SECONDS", 300)) * time.Second,
		CloseSettleDelay:   time.Duration(getEnvAsInt("CLOSE_SETTLE_DELAY_SECONDS", 2)) * time.Second,

		APIHost: getEnv("API_HOST", "0.0.0.0"),
		APIPort: getEnvAsInt("API_PORT", 8080),

		MetricsEnabled: getBoolEnv("METRICS_ENABLED", true),
		MetricsPort:    getEnvAsInt("METRICS_PORT", 9090),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		DebugMode:      getBoolEnv("DEBUG_MODE", false),
	}

	if err := loadContractAddresses(); err != nil {
		return fmt.Errorf("failed to load contract addresses: %w", err)
	}

	// Configure logging
	configureLogging()

	// Validate configuration
	if err := validateConfig(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	// Log configuration summary
	logConfigSummary()

	return nil
}

// loadContractAddresses parses and checks the contract addresses for the active network
func loadContractAddresses() error {
	escrow := getEnv("BOUNTY_ESCROW_ADDRESS", "")
	aggregator := getEnv("VERDIKTA_AGGREGATOR_ADDRESS", "")
	link := getEnv("LINK_TOKEN_ADDRESS", "")

	for name, addr := range map[string]string{
		"BOUNTY_ESCROW_ADDRESS":       escrow,
		"VERDIKTA_AGGREGATOR_ADDRESS": aggregator,
		"LINK_TOKEN_ADDRESS":          link,
	} {
		if addr != "" && !common.IsHexAddress(addr) {
			return fmt.Errorf("%s is not a valid address: %s", name, addr)
		}
	}

	SettingsObj.Network.BountyEscrowAddress = common.HexToAddress(escrow)
	SettingsObj.Network.VerdiktaAggregatorAddress = common.HexToAddress(aggregator)
	SettingsObj.Network.LinkTokenAddress = common.HexToAddress(link)

	return nil
}

// configureLogging sets up the logger based on configuration
func configureLogging() {
	switch strings.ToLower(SettingsObj.LogLevel) {
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "info":
		log.SetLevel(log.InfoLevel)
	case "warn", "warning":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	default:
		log.SetLevel(log.InfoLevel)
	}

	if SettingsObj.DebugMode {
		log.SetLevel(log.DebugLevel)
	}

	log.SetFormatter(&log.TextFormatter{
		FullTimestamp: true,
		ForceColors:   true,
	})
}

// validateConfig validates the loaded configuration
func validateConfig() error {
	if SettingsObj.Network.RPCURL == "" && SettingsObj.Network.WalletRPCURL == "" {
		return fmt.Errorf("at least one of RPC_URL or WALLET_RPC_URL is required")
	}

	if SettingsObj.Network.BountyEscrowAddress == (common.Address{}) {
		return fmt.Errorf("BOUNTY_ESCROW_ADDRESS is required")
	}

	if SettingsObj.BackendBaseURL == "" {
		return fmt.Errorf("BACKEND_BASE_URL is required")
	}

	if SettingsObj.WalletPrivateKey == "" {
		log.Warn("No wallet private key configured - running read-only, all writes will be rejected")
	}

	if SettingsObj.ForceFailThreshold != 10*time.Minute {
		log.Warnf("Force-fail threshold overridden to %v - this must match the escrow contract", SettingsObj.ForceFailThreshold)
	}

	return nil
}

// logConfigSummary logs a summary of the configuration
func logConfigSummary() {
	log.Info("=== Configuration Loaded ===")
	log.Infof("Chain ID: %d", SettingsObj.Network.ChainID)
	log.Infof("Bounty Escrow: %s", SettingsObj.Network.BountyEscrowAddress.Hex())
	log.Infof("Verdikta Aggregator: %s", SettingsObj.Network.VerdiktaAggregatorAddress.Hex())
	log.Infof("LINK Token: %s", SettingsObj.Network.LinkTokenAddress.Hex())
	log.Infof("Backend: %s", SettingsObj.BackendBaseURL)
	log.Infof("IPFS API: %s", SettingsObj.IPFSAPIURL)
	log.Infof("Redis: %s:%s (DB %d)", SettingsObj.RedisHost, SettingsObj.RedisPort, SettingsObj.RedisDB)
	log.Infof("Auto-refresh: %v, Eval-ready: %v", SettingsObj.AutoRefreshInterval, SettingsObj.EvalReadyInterval)
	log.Infof("Force-fail threshold: %v", SettingsObj.ForceFailThreshold)
	log.Info("============================")
}

// ReadRPCURLs returns the ordered list of RPC endpoints for read operations.
// The public RPC comes first so reads avoid wallet-bundled caches.
func (s *Settings) ReadRPCURLs() []string {
	var urls []string
	if s.Network.RPCURL != "" {
		urls = append(urls, s.Network.RPCURL)
	}
	if s.Network.WalletRPCURL != "" {
		urls = append(urls, s.Network.WalletRPCURL)
	}
	return urls
}

// WriteRPCURL returns the endpoint used for wallet-signed transactions.
func (s *Settings) WriteRPCURL() string {
	if s.Network.WalletRPCURL != "" {
		return s.Network.WalletRPCURL
	}
	return s.Network.RPCURL
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		value = strings.ToLower(value)
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

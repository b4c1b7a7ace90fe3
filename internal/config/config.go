package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/joho/godotenv"
)

const (
	DefaultOIDCIssuer      = "https://accounts.google.com"
	DefaultBootstrapWei    = "1000000000000000"
	DefaultExecuteValueWei = "10000000000000"
)

type Config struct {
	HTTPAddr    string
	PostgresDSN string
	LogLevel    string
	LogFormat   string
	LogFile     string

	ChainID          uint64
	RPCURL           string
	ContractAddress  string
	WalletPrivateKey string

	OIDCIssuerURL     string
	OIDCClientID      string
	OIDCJWKSURL       string
	OIDCJWKSFile      string
	OIDCClockSkewSecs int

	BonsaiAPIURL   string
	BonsaiAPIKey   string
	Risc0Version   string
	ProverImageID  string
	ProverELFPath  string
	ProverPollMS   int
	ProverTimeoutS int

	AABytecodeHex       string
	AABytecodePath      string
	BootstrapFundingWei string
	ExecuteValueWei     string

	ChainReceiptPollMS      int
	ChainReceiptTimeoutSecs int
	WorkerCount             int
	WorkerQueueSize         int
	RequestTimeoutSeconds   int
	ShutdownTimeoutSeconds  int

	RateLimitRequests      int
	RateLimitWindowSeconds int
	RateLimitFailClosed    bool
	RateLimitMaxKeys       int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	PolicyAllowedDomains []string
	PolicyBundlePath     string

	AMQPURL      string
	AMQPExchange string
}

// LoadDotEnv loads .env style files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

func FromEnv() Config {
	return Config{
		HTTPAddr:    envDefault("HTTP_ADDR", ":8080"),
		PostgresDSN: os.Getenv("POSTGRES_DSN"),
		LogLevel:    envDefault("LOG_LEVEL", "info"),
		LogFormat:   envDefault("LOG_FORMAT", "json"),
		LogFile:     os.Getenv("LOG_FILE"),

		ChainID:          envUint64("CHAIN_ID"),
		RPCURL:           os.Getenv("RPC_URL"),
		ContractAddress:  os.Getenv("CONTRACT"),
		WalletPrivateKey: os.Getenv("ETH_WALLET_PRIVATE_KEY"),

		OIDCIssuerURL:     envDefault("OIDC_ISSUER_URL", DefaultOIDCIssuer),
		OIDCClientID:      os.Getenv("OIDC_CLIENT_ID"),
		OIDCJWKSURL:       os.Getenv("OIDC_JWKS_URL"),
		OIDCJWKSFile:      os.Getenv("OIDC_JWKS_FILE"),
		OIDCClockSkewSecs: envIntDefault("OIDC_CLOCK_SKEW_SECONDS", 60),

		BonsaiAPIURL:   os.Getenv("BONSAI_API_URL"),
		BonsaiAPIKey:   os.Getenv("BONSAI_API_KEY"),
		Risc0Version:   os.Getenv("RISC0_VERSION"),
		ProverImageID:  os.Getenv("PROVER_IMAGE_ID"),
		ProverELFPath:  os.Getenv("PROVER_ELF_PATH"),
		ProverPollMS:   envIntDefault("PROVER_POLL_MS", 2000),
		ProverTimeoutS: envIntDefault("PROVER_TIMEOUT_SECONDS", 240),

		AABytecodeHex:       os.Getenv("AA_BYTECODE_HEX"),
		AABytecodePath:      os.Getenv("AA_BYTECODE_PATH"),
		BootstrapFundingWei: envDefault("BOOTSTRAP_FUNDING_WEI", DefaultBootstrapWei),
		ExecuteValueWei:     envDefault("EXECUTE_VALUE_WEI", DefaultExecuteValueWei),

		ChainReceiptPollMS:      envIntDefault("CHAIN_RECEIPT_POLL_MS", 1000),
		ChainReceiptTimeoutSecs: envIntDefault("CHAIN_RECEIPT_TIMEOUT_SECONDS", 120),
		WorkerCount:             envIntDefault("WORKER_COUNT", 4),
		WorkerQueueSize:         envIntDefault("WORKER_QUEUE_SIZE", 32),
		RequestTimeoutSeconds:   envIntDefault("REQUEST_TIMEOUT_SECONDS", 300),
		ShutdownTimeoutSeconds:  envIntDefault("SHUTDOWN_TIMEOUT_SECONDS", 30),

		RateLimitRequests:      envIntDefault("RATE_LIMIT_REQUESTS", 0),
		RateLimitWindowSeconds: envIntDefault("RATE_LIMIT_WINDOW_SECONDS", 60),
		RateLimitFailClosed:    envBoolDefault("RATE_LIMIT_FAIL_CLOSED", false),
		RateLimitMaxKeys:       envIntDefault("RATE_LIMIT_MAX_KEYS", 10000),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       envIntDefault("REDIS_DB", 0),

		PolicyAllowedDomains: envList("POLICY_ALLOWED_DOMAINS"),
		PolicyBundlePath:     os.Getenv("POLICY_BUNDLE_PATH"),

		AMQPURL:      os.Getenv("AMQP_URL"),
		AMQPExchange: envDefault("AMQP_EXCHANGE", "bonsaipay.events"),
	}
}

// Validate checks everything the service needs before it accepts traffic.
// All problems are reported at once.
func (c Config) Validate() error {
	var errs []error
	if c.ChainID == 0 {
		errs = append(errs, errors.New("CHAIN_ID is required and must be a positive integer"))
	}
	if err := validateRPCURL(c.RPCURL); err != nil {
		errs = append(errs, err)
	}
	if !common.IsHexAddress(c.ContractAddress) {
		errs = append(errs, errors.New("CONTRACT must be a 20-byte hex address"))
	}
	if err := validatePrivateKey(c.WalletPrivateKey); err != nil {
		errs = append(errs, err)
	}
	if strings.TrimSpace(c.OIDCClientID) == "" {
		errs = append(errs, errors.New("OIDC_CLIENT_ID is required"))
	}
	if strings.TrimSpace(c.BonsaiAPIURL) == "" || strings.TrimSpace(c.BonsaiAPIKey) == "" {
		errs = append(errs, errors.New("BONSAI_API_URL and BONSAI_API_KEY are required"))
	}
	if strings.TrimSpace(c.ProverImageID) == "" {
		errs = append(errs, errors.New("PROVER_IMAGE_ID is required"))
	}
	if c.AABytecodeHex == "" && c.AABytecodePath == "" {
		errs = append(errs, errors.New("one of AA_BYTECODE_HEX or AA_BYTECODE_PATH is required"))
	}
	if _, err := parseWei("BOOTSTRAP_FUNDING_WEI", c.BootstrapFundingWei); err != nil {
		errs = append(errs, err)
	}
	if _, err := parseWei("EXECUTE_VALUE_WEI", c.ExecuteValueWei); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func validateRPCURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return errors.New("RPC_URL is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("RPC_URL: %w", err)
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return fmt.Errorf("RPC_URL: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("RPC_URL: missing host")
	}
	return nil
}

func validatePrivateKey(raw string) error {
	key := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if key == "" {
		return errors.New("ETH_WALLET_PRIVATE_KEY is required")
	}
	decoded, err := hex.DecodeString(key)
	if err != nil || len(decoded) != 32 {
		return errors.New("ETH_WALLET_PRIVATE_KEY must be 32 bytes of hex")
	}
	return nil
}

func parseWei(name, raw string) (*big.Int, error) {
	v, err := uint256.FromDecimal(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return v.ToBig(), nil
}

func (c Config) BootstrapFunding() *big.Int {
	v, err := parseWei("BOOTSTRAP_FUNDING_WEI", c.BootstrapFundingWei)
	if err != nil {
		v, _ = parseWei("BOOTSTRAP_FUNDING_WEI", DefaultBootstrapWei)
	}
	return v
}

func (c Config) ExecuteValue() *big.Int {
	v, err := parseWei("EXECUTE_VALUE_WEI", c.ExecuteValueWei)
	if err != nil {
		v, _ = parseWei("EXECUTE_VALUE_WEI", DefaultExecuteValueWei)
	}
	return v
}

// AccountBytecode returns the account contract creation code.
func (c Config) AccountBytecode() ([]byte, error) {
	raw := c.AABytecodeHex
	if raw == "" && c.AABytecodePath != "" {
		b, err := os.ReadFile(c.AABytecodePath)
		if err != nil {
			return nil, fmt.Errorf("read AA_BYTECODE_PATH: %w", err)
		}
		raw = string(b)
	}
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if raw == "" {
		return nil, errors.New("account bytecode is empty")
	}
	code, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("account bytecode: %w", err)
	}
	return code, nil
}

func (c Config) Contract() common.Address {
	return common.HexToAddress(c.ContractAddress)
}

func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

func (c Config) ProverTimeout() time.Duration {
	return time.Duration(c.ProverTimeoutS) * time.Second
}

func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}

func envDefault(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func envIntDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func envUint64(key string) uint64 {
	parsed, err := strconv.ParseUint(strings.TrimSpace(os.Getenv(key)), 10, 64)
	if err != nil {
		return 0
	}
	return parsed
}

func envBoolDefault(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	switch v {
	case "1", "true", "TRUE", "True", "yes", "YES", "Yes":
		return true
	case "0", "false", "FALSE", "False", "no", "NO", "No":
		return false
	default:
		return def
	}
}

func envList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, strings.ToLower(part))
		}
	}
	return out
}

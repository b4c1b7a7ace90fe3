package config

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		ChainID:             11155111,
		RPCURL:              "https://rpc.sepolia.test",
		ContractAddress:     "0x2A662A912A1e11c7Cc9cD2a509dF085335Cd2619",
		WalletPrivateKey:    "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318",
		OIDCClientID:        "client.apps.googleusercontent.com",
		BonsaiAPIURL:        "https://api.bonsai.test",
		BonsaiAPIKey:        "key",
		ProverImageID:       "image",
		AABytecodeHex:       "0x6080",
		BootstrapFundingWei: DefaultBootstrapWei,
		ExecuteValueWei:     DefaultExecuteValueWei,
	}
}

func TestValidateAcceptsCompleteConfig(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := validConfig()
	cfg.ChainID = 0
	cfg.RPCURL = "ftp://node"
	cfg.ContractAddress = "0x1234"
	cfg.WalletPrivateKey = "abcd"
	cfg.BootstrapFundingWei = "-1"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"CHAIN_ID", "RPC_URL", "CONTRACT", "ETH_WALLET_PRIVATE_KEY", "BOOTSTRAP_FUNDING_WEI"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidateRejectsOversizedAmount(t *testing.T) {
	cfg := validConfig()
	cfg.ExecuteValueWei = "115792089237316195423570985008687907853269984665640564039457584007913129639936"
	assert.ErrorContains(t, cfg.Validate(), "EXECUTE_VALUE_WEI")
}

func TestAmountDefaults(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t, 0, cfg.BootstrapFunding().Cmp(big.NewInt(1_000_000_000_000_000)))
	assert.Equal(t, 0, cfg.ExecuteValue().Cmp(big.NewInt(10_000_000_000_000)))
}

func TestFromEnv(t *testing.T) {
	t.Setenv("CHAIN_ID", "31337")
	t.Setenv("WORKER_COUNT", "8")
	t.Setenv("WORKER_QUEUE_SIZE", "nope")
	t.Setenv("POLICY_ALLOWED_DOMAINS", "Example.com, ,risczero.com")
	t.Setenv("RATE_LIMIT_FAIL_CLOSED", "yes")

	cfg := FromEnv()
	assert.Equal(t, uint64(31337), cfg.ChainID)
	assert.Equal(t, 8, cfg.WorkerCount)
	assert.Equal(t, 32, cfg.WorkerQueueSize)
	assert.Equal(t, []string{"example.com", "risczero.com"}, cfg.PolicyAllowedDomains)
	assert.True(t, cfg.RateLimitFailClosed)
	assert.Equal(t, DefaultOIDCIssuer, cfg.OIDCIssuerURL)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("BONSAIPAY_TEST_VALUE=from-file\n"), 0o600))
	t.Setenv("BONSAIPAY_TEST_VALUE", "")
	require.NoError(t, os.Unsetenv("BONSAIPAY_TEST_VALUE"))

	require.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env"), path))
	assert.Equal(t, "from-file", os.Getenv("BONSAIPAY_TEST_VALUE"))
}

func TestAccountBytecode(t *testing.T) {
	cfg := validConfig()
	code, err := cfg.AccountBytecode()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x60, 0x80}, code)

	path := filepath.Join(t.TempDir(), "aa.hex")
	require.NoError(t, os.WriteFile(path, []byte("0x6001\n"), 0o600))
	cfg.AABytecodeHex = ""
	cfg.AABytecodePath = path
	code, err = cfg.AccountBytecode()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x60, 0x01}, code)
}

func TestDurationsAndContract(t *testing.T) {
	cfg := validConfig()
	cfg.RequestTimeoutSeconds = 300
	cfg.ProverTimeoutS = 240
	cfg.ShutdownTimeoutSeconds = 30

	assert.Equal(t, 5*time.Minute, cfg.RequestTimeout())
	assert.Equal(t, 4*time.Minute, cfg.ProverTimeout())
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout())
	assert.Equal(t, common.HexToAddress("0x2A662A912A1e11c7Cc9cD2a509dF085335Cd2619"), cfg.Contract())
}

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	keyA = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	keyB = "0x8da4ef21b864d2cc526dbdb2a120bd2874c36c9d0a1fb7f8c63d7f7a8b41de8f"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func baseEnv() map[string]string {
	return map[string]string{
		EnvPrivateKeys: keyA + "," + keyB,
		EnvRPCURLs:     "https://rpc.xlayer.tech, https://xlayerrpc.okx.com",
		EnvChainID:     "196",
		EnvRouter:      "0x881fB2f98c13d521009464e7D1CBf16E1b394e8E",
		EnvFactory:     "0x630DB8E822805c82Ca40a54daE02dd5aC31f7fcF",
		EnvToken:       "0x1E4a5963aBFD975d8c9021ce480b42188849D41d",
		EnvWNative:     "0xe538905cf8410324e03A5A23C1c177a474D59b2b",
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("", envMap(baseEnv()))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Len(t, cfg.PrivateKeys, 2)
	assert.Equal(t, 2, cfg.Wallets())
	assert.Equal(t, []string{"https://rpc.xlayer.tech", "https://xlayerrpc.okx.com"}, cfg.RPCURLs)
	assert.Equal(t, int64(196), cfg.ChainID)
	assert.Equal(t, "3", cfg.DepositToken.String())
	assert.Equal(t, "0.01", cfg.RequiredNative.String())
	assert.Equal(t, 5, cfg.SlippagePercent)
	assert.Equal(t, 10, cfg.SafetyBufferPercent)
	assert.Equal(t, 3, cfg.Concurrency)
	assert.Equal(t, 3*time.Second, cfg.GroupDelay)
	assert.Equal(t, 2*time.Second, cfg.RetryDelay)
	assert.Equal(t, 3, cfg.RetryAttempts)
	assert.Equal(t, 20*time.Minute, cfg.DeadlineWindow)
	assert.Equal(t, 3*time.Minute, cfg.ConfirmTimeout)
	assert.Equal(t, "0.02", cfg.ReferencePrice.String())
	assert.False(t, cfg.EnableDeposits)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestLoad_RPCURLFallbackKey(t *testing.T) {
	env := baseEnv()
	delete(env, EnvRPCURLs)
	env[EnvRPCURL] = "wss://ws.xlayer.tech"
	cfg, err := Load("", envMap(env))
	require.NoError(t, err)
	assert.Equal(t, []string{"wss://ws.xlayer.tech"}, cfg.RPCURLs)
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lp.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
chain_id: 196
rpc_urls:
  - https://a.example
  - https://b.example
deposit:
  token_amount: "5"
  required_token: "5"
  slippage_percent: "8"
batch:
  concurrency: "4"
  group_delay: 500ms
retry:
  delay: 1s
  errors:
    - node is syncing
    - gateway busy
log_format: console
`), 0o600))

	env := baseEnv()
	delete(env, EnvRPCURLs)
	delete(env, EnvChainID)
	env[EnvSlippage] = "7"

	cfg, err := Load(path, envMap(env))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, int64(196), cfg.ChainID)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.RPCURLs)
	assert.Equal(t, "5", cfg.DepositToken.String())
	assert.Equal(t, 7, cfg.SlippagePercent, "env wins over file")
	assert.Equal(t, 4, cfg.Concurrency)
	assert.Equal(t, 500*time.Millisecond, cfg.GroupDelay)
	assert.Equal(t, time.Second, cfg.RetryDelay)
	assert.Equal(t, []string{"node is syncing", "gateway busy"}, cfg.RetryErrors)
	assert.Equal(t, "console", cfg.LogFormat)
}

func TestLoad_AmountsAndRetryErrors(t *testing.T) {
	env := baseEnv()
	env[EnvRetryErrors] = " header not ready , upstream busy,"
	env[EnvDepositToken] = " 2.5 "
	cfg, err := Load("", envMap(env))
	require.NoError(t, err)
	assert.Equal(t, []string{"header not ready", "upstream busy"}, cfg.RetryErrors)
	assert.Equal(t, "2.5", cfg.DepositToken.String())

	env[EnvRequiredNative] = "-0.01"
	_, err = Load("", envMap(env))
	require.Error(t, err)
	assert.Contains(t, err.Error(), EnvRequiredNative)
	assert.Contains(t, err.Error(), "negative amount")
}

func TestLoad_UnknownYAMLField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lp.yaml")
	require.NoError(t, os.WriteFile(path, []byte("private_keys: abc\n"), 0o600))
	_, err := Load(path, envMap(baseEnv()))
	assert.Error(t, err)
}

func TestLoad_ReportsEveryParseError(t *testing.T) {
	env := baseEnv()
	env[EnvConcurrency] = "three"
	env[EnvGroupDelay] = "soon"
	env[EnvRouter] = "0xYOUR_ROUTER"
	_, err := Load("", envMap(env))
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, EnvConcurrency)
	assert.Contains(t, msg, EnvGroupDelay)
	assert.Contains(t, msg, "placeholder")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"wallet count mismatch", func(c *Config) { c.WalletCount = 3 }, "WALLET_COUNT=3 but 2 private keys"},
		{"slippage above range", func(c *Config) { c.SlippagePercent = 51 }, EnvSlippage},
		{"buffer negative", func(c *Config) { c.SafetyBufferPercent = -1 }, EnvSafetyBuffer},
		{"zero concurrency", func(c *Config) { c.Concurrency = 0 }, EnvConcurrency},
		{"zero attempts", func(c *Config) { c.RetryAttempts = 0 }, EnvRetryAttempts},
		{"missing router", func(c *Config) { c.Router = common.Address{} }, EnvRouter},
		{"bad key", func(c *Config) { c.PrivateKeys = []string{"0x1234"} }, "key #0"},
		{"placeholder key", func(c *Config) { c.PrivateKeys = []string{"YOUR_PRIVATE_KEY"} }, "placeholder"},
		{"placeholder rpc", func(c *Config) { c.RPCURLs = []string{"https://rpc.example/YOUR_KEY"} }, "placeholder"},
		{"bad rpc scheme", func(c *Config) { c.RPCURLs = []string{"rpc.example"} }, "ws(s)://"},
		{"deposit above requirement", func(c *Config) { c.RequiredToken = decimal.RequireFromString("2.5") }, EnvRequiredToken},
		{"token equals wnative", func(c *Config) { c.WNative = c.Token }, "must differ"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("", envMap(baseEnv()))
			require.NoError(t, err)
			tt.mutate(cfg)
			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_JoinsProblems(t *testing.T) {
	cfg, err := Load("", envMap(map[string]string{}))
	require.NoError(t, err)
	err = cfg.Validate()
	require.Error(t, err)
	assert.GreaterOrEqual(t, len(strings.Split(err.Error(), "\n")), 5)
}

func TestLoadDotenv_MissingFileIsFine(t *testing.T) {
	assert.NoError(t, LoadDotenv(filepath.Join(t.TempDir(), "absent.env")))
}

func TestLoadDotenv_SetsVariables(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("LP_TEST_DOTENV_KEY=hello\n"), 0o600))
	t.Setenv("LP_TEST_DOTENV_KEY", "")
	require.NoError(t, os.Unsetenv("LP_TEST_DOTENV_KEY"))
	require.NoError(t, LoadDotenv(path))
	assert.Equal(t, "hello", os.Getenv("LP_TEST_DOTENV_KEY"))
}

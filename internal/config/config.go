// Package config assembles run settings from built-in defaults, an optional YAML file, the
// environment (after .env) and finally command-line flags applied by the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/lidonghao1116/potato-swap-bot/internal/chain"
	"github.com/lidonghao1116/potato-swap-bot/internal/oracle"
	"github.com/lidonghao1116/potato-swap-bot/internal/units"
	"github.com/lidonghao1116/potato-swap-bot/internal/wallet"
)

// Environment keys.
const (
	EnvPrivateKeys      = "PRIVATE_KEYS"
	EnvWalletCount      = "WALLET_COUNT"
	EnvRPCURLs          = "RPC_URLS"
	EnvRPCURL           = "RPC_URL"
	EnvChainID          = "CHAIN_ID"
	EnvRouter           = "ROUTER_ADDRESS"
	EnvFactory          = "FACTORY_ADDRESS"
	EnvToken            = "TOKEN_ADDRESS"
	EnvWNative          = "WNATIVE_ADDRESS"
	EnvDepositToken     = "DEPOSIT_TOKEN_AMOUNT"
	EnvRequiredNative   = "REQUIRED_NATIVE"
	EnvRequiredToken    = "REQUIRED_TOKEN"
	EnvSlippage         = "SLIPPAGE_PERCENT"
	EnvSafetyBuffer     = "SAFETY_BUFFER_PERCENT"
	EnvConcurrency      = "CONCURRENCY"
	EnvGroupDelay       = "GROUP_DELAY"
	EnvRetryDelay       = "RETRY_DELAY"
	EnvRetryAttempts    = "RETRY_ATTEMPTS"
	EnvRetryErrors      = "RETRY_ERRORS"
	EnvDeadlineWindow   = "DEADLINE_WINDOW"
	EnvConfirmTimeout   = "CONFIRM_TIMEOUT"
	EnvMinReserveNative = "MIN_RESERVE_NATIVE"
	EnvReferencePrice   = "REFERENCE_PRICE"
	EnvRPCRateLimit     = "RPC_RATE_LIMIT"
	EnvOutcomeLog       = "OUTCOME_LOG"
	EnvMetricsAddr      = "METRICS_ADDR"
	EnvLogLevel         = "LOG_LEVEL"
	EnvLogFormat        = "LOG_FORMAT"
	EnvEnableDeposits   = "ENABLE_DEPOSITS"
	EnvConfigPath       = "LP_CONFIG"
)

// MaxPercent bounds both slippage and safety buffer.
const MaxPercent = 50

type Config struct {
	PrivateKeys []string
	// WalletCount is the number of wallets the operator expects; 0 means len(PrivateKeys).
	WalletCount int

	RPCURLs []string
	ChainID int64

	Router  common.Address
	Factory common.Address
	Token   common.Address
	WNative common.Address

	// Amounts in whole units; converted once token decimals are known.
	DepositToken     decimal.Decimal
	RequiredNative   decimal.Decimal
	RequiredToken    decimal.Decimal
	MinReserveNative decimal.Decimal
	ReferencePrice   decimal.Decimal

	SlippagePercent     int
	SafetyBufferPercent int

	Concurrency    int
	GroupDelay     time.Duration
	RetryAttempts  int
	RetryDelay     time.Duration
	// RetryErrors are extra error-message fragments treated as transient.
	RetryErrors    []string
	DeadlineWindow time.Duration
	ConfirmTimeout time.Duration
	RPCRateLimit   float64

	OutcomeLog  string
	MetricsAddr string
	LogLevel    string
	LogFormat   string

	EnableDeposits bool
}

// File is the YAML layout. Secrets are only read from the environment.
type File struct {
	WalletCount string   `yaml:"wallet_count"`
	RPCURLs     []string `yaml:"rpc_urls"`
	ChainID     string   `yaml:"chain_id"`
	Contracts   struct {
		Router  string `yaml:"router"`
		Factory string `yaml:"factory"`
		Token   string `yaml:"token"`
		WNative string `yaml:"wnative"`
	} `yaml:"contracts"`
	Deposit struct {
		TokenAmount         string `yaml:"token_amount"`
		RequiredNative      string `yaml:"required_native"`
		RequiredToken       string `yaml:"required_token"`
		SlippagePercent     string `yaml:"slippage_percent"`
		SafetyBufferPercent string `yaml:"safety_buffer_percent"`
		DeadlineWindow      string `yaml:"deadline_window"`
		ConfirmTimeout      string `yaml:"confirm_timeout"`
	} `yaml:"deposit"`
	Batch struct {
		Concurrency string `yaml:"concurrency"`
		GroupDelay  string `yaml:"group_delay"`
	} `yaml:"batch"`
	Retry struct {
		Attempts string   `yaml:"attempts"`
		Delay    string   `yaml:"delay"`
		Errors   []string `yaml:"errors"`
	} `yaml:"retry"`
	Oracle struct {
		MinReserveNative string `yaml:"min_reserve_native"`
		ReferencePrice   string `yaml:"reference_price"`
	} `yaml:"oracle"`
	RPCRateLimit string `yaml:"rpc_rate_limit"`
	OutcomeLog   string `yaml:"outcome_log"`
	MetricsAddr  string `yaml:"metrics_addr"`
	LogLevel     string `yaml:"log_level"`
	LogFormat    string `yaml:"log_format"`
}

func defaults() map[string]string {
	return map[string]string{
		EnvDepositToken:     "3",
		EnvRequiredNative:   "0.01",
		EnvRequiredToken:    "3",
		EnvSlippage:         "5",
		EnvSafetyBuffer:     "10",
		EnvConcurrency:      "3",
		EnvGroupDelay:       "3s",
		EnvRetryDelay:       "2s",
		EnvRetryAttempts:    "3",
		EnvDeadlineWindow:   "20m",
		EnvConfirmTimeout:   "3m",
		EnvMinReserveNative: "1",
		EnvReferencePrice:   oracle.DefaultReferencePrice,
		EnvRPCRateLimit:     "10",
		EnvLogLevel:         "info",
		EnvLogFormat:        "json",
		EnvEnableDeposits:   "false",
	}
}

// LoadDotenv loads ./.env when present. A missing file is not an error.
func LoadDotenv(paths ...string) error {
	if err := godotenv.Load(paths...); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

// ReadFile decodes a YAML settings file.
func ReadFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	var out File
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	return &out, nil
}

func (f *File) values() map[string]string {
	return map[string]string{
		EnvWalletCount:      f.WalletCount,
		EnvRPCURLs:          strings.Join(f.RPCURLs, ","),
		EnvChainID:          f.ChainID,
		EnvRouter:           f.Contracts.Router,
		EnvFactory:          f.Contracts.Factory,
		EnvToken:            f.Contracts.Token,
		EnvWNative:          f.Contracts.WNative,
		EnvDepositToken:     f.Deposit.TokenAmount,
		EnvRequiredNative:   f.Deposit.RequiredNative,
		EnvRequiredToken:    f.Deposit.RequiredToken,
		EnvSlippage:         f.Deposit.SlippagePercent,
		EnvSafetyBuffer:     f.Deposit.SafetyBufferPercent,
		EnvDeadlineWindow:   f.Deposit.DeadlineWindow,
		EnvConfirmTimeout:   f.Deposit.ConfirmTimeout,
		EnvConcurrency:      f.Batch.Concurrency,
		EnvGroupDelay:       f.Batch.GroupDelay,
		EnvRetryAttempts:    f.Retry.Attempts,
		EnvRetryDelay:       f.Retry.Delay,
		EnvRetryErrors:      strings.Join(f.Retry.Errors, ","),
		EnvMinReserveNative: f.Oracle.MinReserveNative,
		EnvReferencePrice:   f.Oracle.ReferencePrice,
		EnvRPCRateLimit:     f.RPCRateLimit,
		EnvOutcomeLog:       f.OutcomeLog,
		EnvMetricsAddr:      f.MetricsAddr,
		EnvLogLevel:         f.LogLevel,
		EnvLogFormat:        f.LogFormat,
	}
}

var envKeys = []string{
	EnvPrivateKeys, EnvWalletCount, EnvChainID,
	EnvRouter, EnvFactory, EnvToken, EnvWNative,
	EnvDepositToken, EnvRequiredNative, EnvRequiredToken, EnvSlippage, EnvSafetyBuffer,
	EnvConcurrency, EnvGroupDelay, EnvRetryDelay, EnvRetryAttempts, EnvRetryErrors,
	EnvDeadlineWindow, EnvConfirmTimeout, EnvMinReserveNative, EnvReferencePrice,
	EnvRPCRateLimit, EnvOutcomeLog, EnvMetricsAddr, EnvLogLevel, EnvLogFormat, EnvEnableDeposits,
}

// Load layers defaults, the YAML file at path (skipped when blank) and getenv. It reports
// every unparsable value at once; semantic checks are left to Validate.
func Load(path string, getenv func(string) string) (*Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	raw := defaults()
	if path = strings.TrimSpace(path); path != "" {
		f, err := ReadFile(path)
		if err != nil {
			return nil, err
		}
		for k, v := range f.values() {
			if v = strings.TrimSpace(v); v != "" {
				raw[k] = v
			}
		}
	}
	for _, k := range envKeys {
		if v := strings.TrimSpace(getenv(k)); v != "" {
			raw[k] = v
		}
	}
	if v := firstNonEmpty(getenv(EnvRPCURLs), getenv(EnvRPCURL)); v != "" {
		raw[EnvRPCURLs] = v
	}
	return parse(raw)
}

type parser struct {
	raw  map[string]string
	errs []error
}

func (p *parser) fail(key string, err error) {
	p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
}

func (p *parser) getInt(key string) int {
	v := p.raw[key]
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(key, fmt.Errorf("invalid integer %q", v))
	}
	return n
}

func (p *parser) getFloat(key string) float64 {
	v := p.raw[key]
	if v == "" {
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.fail(key, fmt.Errorf("invalid number %q", v))
	}
	return f
}

func (p *parser) getBool(key string) bool {
	v := p.raw[key]
	if v == "" {
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(key, fmt.Errorf("invalid boolean %q", v))
	}
	return b
}

func (p *parser) getDuration(key string) time.Duration {
	v := p.raw[key]
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(key, fmt.Errorf("invalid duration %q", v))
	}
	return d
}

func (p *parser) getDecimal(key string) decimal.Decimal {
	v := p.raw[key]
	if v == "" {
		return decimal.Zero
	}
	d, err := units.ParseAmount(v)
	if err != nil {
		p.fail(key, err)
	}
	return d
}

func (p *parser) getAddress(key string) common.Address {
	v := p.raw[key]
	if v == "" {
		return common.Address{}
	}
	if isPlaceholder(v) {
		p.fail(key, fmt.Errorf("placeholder value %q", v))
		return common.Address{}
	}
	if !common.IsHexAddress(v) {
		p.fail(key, fmt.Errorf("invalid address %q", v))
		return common.Address{}
	}
	return common.HexToAddress(v)
}

func parse(raw map[string]string) (*Config, error) {
	p := &parser{raw: raw}
	cfg := &Config{
		PrivateKeys:         wallet.SplitKeys(raw[EnvPrivateKeys]),
		WalletCount:         p.getInt(EnvWalletCount),
		RPCURLs:             splitList(raw[EnvRPCURLs]),
		ChainID:             int64(p.getInt(EnvChainID)),
		Router:              p.getAddress(EnvRouter),
		Factory:             p.getAddress(EnvFactory),
		Token:               p.getAddress(EnvToken),
		WNative:             p.getAddress(EnvWNative),
		DepositToken:        p.getDecimal(EnvDepositToken),
		RequiredNative:      p.getDecimal(EnvRequiredNative),
		RequiredToken:       p.getDecimal(EnvRequiredToken),
		MinReserveNative:    p.getDecimal(EnvMinReserveNative),
		ReferencePrice:      p.getDecimal(EnvReferencePrice),
		SlippagePercent:     p.getInt(EnvSlippage),
		SafetyBufferPercent: p.getInt(EnvSafetyBuffer),
		Concurrency:         p.getInt(EnvConcurrency),
		GroupDelay:          p.getDuration(EnvGroupDelay),
		RetryAttempts:       p.getInt(EnvRetryAttempts),
		RetryDelay:          p.getDuration(EnvRetryDelay),
		RetryErrors:         splitMessages(raw[EnvRetryErrors]),
		DeadlineWindow:      p.getDuration(EnvDeadlineWindow),
		ConfirmTimeout:      p.getDuration(EnvConfirmTimeout),
		RPCRateLimit:        p.getFloat(EnvRPCRateLimit),
		OutcomeLog:          raw[EnvOutcomeLog],
		MetricsAddr:         raw[EnvMetricsAddr],
		LogLevel:            raw[EnvLogLevel],
		LogFormat:           raw[EnvLogFormat],
		EnableDeposits:      p.getBool(EnvEnableDeposits),
	}
	if len(p.errs) > 0 {
		return nil, errors.Join(p.errs...)
	}
	return cfg, nil
}

// Validate reports every semantic problem at once. It never touches the network.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if len(c.PrivateKeys) == 0 {
		add("%s is required", EnvPrivateKeys)
	}
	for i, k := range c.PrivateKeys {
		if isPlaceholder(k) {
			add("%s: key #%d is a placeholder", EnvPrivateKeys, i)
		} else if err := wallet.ValidateKey(k); err != nil {
			add("%s: key #%d: %v", EnvPrivateKeys, i, err)
		}
	}
	if c.WalletCount < 0 {
		add("%s must not be negative", EnvWalletCount)
	} else if c.WalletCount > 0 && c.WalletCount != len(c.PrivateKeys) {
		add("%s=%d but %d private keys configured", EnvWalletCount, c.WalletCount, len(c.PrivateKeys))
	}

	if len(c.RPCURLs) == 0 {
		add("%s (or %s) is required", EnvRPCURLs, EnvRPCURL)
	}
	for _, u := range c.RPCURLs {
		if err := chain.ValidateRPCURL(u); err != nil {
			add("%s: %v", EnvRPCURLs, err)
		}
	}
	if c.ChainID <= 0 {
		add("%s must be positive", EnvChainID)
	}

	for _, a := range []struct {
		key  string
		addr common.Address
	}{
		{EnvRouter, c.Router}, {EnvFactory, c.Factory}, {EnvToken, c.Token}, {EnvWNative, c.WNative},
	} {
		if a.addr == (common.Address{}) {
			add("%s is required", a.key)
		}
	}
	if c.Token != (common.Address{}) && c.Token == c.WNative {
		add("%s and %s must differ", EnvToken, EnvWNative)
	}

	for _, a := range []struct {
		key      string
		v        decimal.Decimal
		positive bool
	}{
		{EnvDepositToken, c.DepositToken, true},
		{EnvRequiredNative, c.RequiredNative, false},
		{EnvRequiredToken, c.RequiredToken, false},
		{EnvMinReserveNative, c.MinReserveNative, false},
		{EnvReferencePrice, c.ReferencePrice, true},
	} {
		if a.v.IsNegative() || (a.positive && !a.v.IsPositive()) {
			add("%s must be positive, got %s", a.key, a.v)
		}
	}
	if c.RequiredToken.LessThan(c.DepositToken) {
		add("%s (%s) is below %s (%s)", EnvRequiredToken, c.RequiredToken, EnvDepositToken, c.DepositToken)
	}

	if c.SlippagePercent < 0 || c.SlippagePercent > MaxPercent {
		add("%s must be within 0-%d, got %d", EnvSlippage, MaxPercent, c.SlippagePercent)
	}
	if c.SafetyBufferPercent < 0 || c.SafetyBufferPercent > MaxPercent {
		add("%s must be within 0-%d, got %d", EnvSafetyBuffer, MaxPercent, c.SafetyBufferPercent)
	}
	if c.Concurrency < 1 {
		add("%s must be at least 1", EnvConcurrency)
	}
	if c.RetryAttempts < 1 {
		add("%s must be at least 1", EnvRetryAttempts)
	}
	if c.GroupDelay < 0 || c.RetryDelay < 0 {
		add("delays must not be negative")
	}
	if c.DeadlineWindow <= 0 {
		add("%s must be positive", EnvDeadlineWindow)
	}
	if c.ConfirmTimeout <= 0 {
		add("%s must be positive", EnvConfirmTimeout)
	}
	if c.RPCRateLimit < 0 {
		add("%s must not be negative", EnvRPCRateLimit)
	}
	return errors.Join(errs...)
}

// Wallets is the expected wallet count.
func (c *Config) Wallets() int {
	if c.WalletCount > 0 {
		return c.WalletCount
	}
	return len(c.PrivateKeys)
}

func isPlaceholder(s string) bool {
	u := strings.ToUpper(strings.TrimSpace(s))
	return strings.Contains(u, "YOUR_") ||
		strings.Contains(u, "<") ||
		strings.Contains(u, "XXX") ||
		strings.Contains(u, "CHANGEME")
}

func splitList(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ';' || r == ' ' || r == '\n' || r == '\t' || r == '\r'
	})
	if len(fields) == 0 {
		return nil
	}
	return fields
}

// splitMessages splits on commas only; message fragments may contain spaces.
func splitMessages(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

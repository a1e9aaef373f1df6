package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/lidonghao1116/potato-swap-bot/internal/batch"
	"github.com/lidonghao1116/potato-swap-bot/internal/chain"
	"github.com/lidonghao1116/potato-swap-bot/internal/config"
	"github.com/lidonghao1116/potato-swap-bot/internal/deposit"
	"github.com/lidonghao1116/potato-swap-bot/internal/logging"
	"github.com/lidonghao1116/potato-swap-bot/internal/metrics"
	"github.com/lidonghao1116/potato-swap-bot/internal/oracle"
	"github.com/lidonghao1116/potato-swap-bot/internal/precheck"
	"github.com/lidonghao1116/potato-swap-bot/internal/provision"
	"github.com/lidonghao1116/potato-swap-bot/internal/report"
	"github.com/lidonghao1116/potato-swap-bot/internal/retry"
	"github.com/lidonghao1116/potato-swap-bot/internal/units"
	"github.com/lidonghao1116/potato-swap-bot/internal/wallet"
)

var _ provision.Chain = (*chain.Client)(nil)

type args struct {
	configPath  string
	enable      bool
	concurrency int
	outFile     string
	metricsAddr string
	logLevel    string
	logFormat   string
}

func main() {
	os.Exit(run())
}

func run() int {
	if err := config.LoadDotenv(); err != nil {
		fmt.Fprintf(os.Stderr, "[warn] %v\n", err)
	}

	var a args
	flag.StringVar(&a.configPath, "config", os.Getenv(config.EnvConfigPath), "Optional YAML settings file (or LP_CONFIG)")
	flag.BoolVar(&a.enable, "enable", false, "Actually send approvals and deposits (default is dry-run; or ENABLE_DEPOSITS)")
	flag.IntVar(&a.concurrency, "concurrency", 0, "Wallets per group (overrides CONCURRENCY)")
	flag.StringVar(&a.outFile, "out", "", "JSONL outcome log path (overrides OUTCOME_LOG)")
	flag.StringVar(&a.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (overrides METRICS_ADDR)")
	flag.StringVar(&a.logLevel, "log-level", "", "debug, info, warn, error (overrides LOG_LEVEL)")
	flag.StringVar(&a.logFormat, "log-format", "", "json or console (overrides LOG_FORMAT)")
	flag.Parse()

	cfg, err := config.Load(a.configPath, os.Getenv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[fatal] config: %v\n", err)
		return 2
	}
	applyFlags(cfg, a)

	log := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err := cfg.Validate(); err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		return 2
	}
	wallets, err := wallet.Load(cfg.PrivateKeys)
	if err != nil {
		log.Error().Err(err).Msg("invalid private keys")
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsAddr != "" {
		srv := metrics.Serve(cfg.MetricsAddr, log)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		log.Info().Str("addr", cfg.MetricsAddr).Msg("metrics listening")
	}

	client, err := chain.Dial(ctx, cfg.RPCURLs, cfg.ChainID,
		chain.Contracts{Router: cfg.Router, Factory: cfg.Factory},
		chain.Options{RateLimit: cfg.RPCRateLimit, Burst: cfg.Concurrency}, log)
	if err != nil {
		log.Error().Err(err).Msg("no rpc endpoint available")
		return 1
	}
	defer client.Close()

	native := precheck.Asset{Symbol: "native", Decimals: units.NativeDecimals}
	asset, err := tokenAsset(ctx, client, cfg)
	if err != nil {
		log.Error().Err(err).Msg("read token metadata")
		return 1
	}

	q, err := oracle.New(client, oracle.Config{
		In:             cfg.Token,
		Out:            cfg.WNative,
		InDecimals:     asset.Decimals,
		OutDecimals:    units.NativeDecimals,
		MinReserveOut:  units.FromDecimal(cfg.MinReserveNative, units.NativeDecimals),
		ReferencePrice: cfg.ReferencePrice,
	}, log)
	if err != nil {
		log.Error().Err(err).Msg("oracle setup")
		return 2
	}

	validator := precheck.New(client, precheck.Config{
		Token:          cfg.Token,
		Native:         native,
		Asset:          asset,
		ConfirmTimeout: cfg.ConfirmTimeout,
	}, log)
	submitter := deposit.NewSubmitter(client, deposit.Config{
		Router:         cfg.Router,
		DeadlineWindow: cfg.DeadlineWindow,
		ConfirmTimeout: cfg.ConfirmTimeout,
		Retry: retry.Policy{
			MaxAttempts: cfg.RetryAttempts,
			Delay:       cfg.RetryDelay,
			Classifier:  retry.WithMessages(cfg.RetryErrors...),
		},
		Native:         native,
		Asset:          asset,
	}, log)

	out := report.New(cfg.OutcomeLog)
	defer func() {
		if err := out.Close(); err != nil {
			log.Warn().Err(err).Msg("close outcome log")
		}
	}()
	dryRun := !cfg.EnableDeposits
	if err := out.Start(len(wallets), client.URL(), dryRun); err != nil {
		log.Warn().Err(err).Msg("write outcome log")
	}

	runner, err := provision.NewRunner(provision.Config{
		Token:               cfg.Token,
		Router:              cfg.Router,
		Native:              native,
		Asset:               asset,
		DepositToken:        units.FromDecimal(cfg.DepositToken, asset.Decimals),
		RequiredNative:      units.FromDecimal(cfg.RequiredNative, units.NativeDecimals),
		RequiredToken:       units.FromDecimal(cfg.RequiredToken, asset.Decimals),
		SlippagePercent:     cfg.SlippagePercent,
		SafetyBufferPercent: cfg.SafetyBufferPercent,
		Batch:               batch.Options{Limit: cfg.Concurrency, GroupDelay: cfg.GroupDelay},
		DryRun:              dryRun,
	}, validator, q, submitter, out, log)
	if err != nil {
		log.Error().Err(err).Msg("runner setup")
		return 2
	}

	logStart(log, cfg, asset, len(wallets), out.RunID(), dryRun)
	res := runner.Run(ctx, wallets)

	if err := out.Summary(res, dryRun); err != nil {
		log.Warn().Err(err).Msg("write outcome log")
	}
	labels := make([]string, len(wallets))
	for i, w := range wallets {
		labels[i] = w.String()
	}
	report.WriteSummary(os.Stdout, res, labels)

	if errors.Is(ctx.Err(), context.Canceled) {
		log.Warn().Int("skipped", res.Skipped).Msg("interrupted: remaining groups not started")
	}
	if res.Failed > 0 {
		return 1
	}
	return 0
}

func applyFlags(cfg *config.Config, a args) {
	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if set["enable"] {
		cfg.EnableDeposits = a.enable
	}
	if set["concurrency"] {
		cfg.Concurrency = a.concurrency
	}
	if v := strings.TrimSpace(a.outFile); v != "" {
		cfg.OutcomeLog = v
	}
	if v := strings.TrimSpace(a.metricsAddr); v != "" {
		cfg.MetricsAddr = v
	}
	if v := strings.TrimSpace(a.logLevel); v != "" {
		cfg.LogLevel = v
	}
	if v := strings.TrimSpace(a.logFormat); v != "" {
		cfg.LogFormat = v
	}
}

func tokenAsset(ctx context.Context, client *chain.Client, cfg *config.Config) (precheck.Asset, error) {
	dec, err := client.Decimals(ctx, cfg.Token)
	if err != nil {
		return precheck.Asset{}, err
	}
	sym, err := client.Symbol(ctx, cfg.Token)
	if err != nil || strings.TrimSpace(sym) == "" {
		sym = "token"
	}
	return precheck.Asset{Symbol: sym, Decimals: dec}, nil
}

func logStart(log zerolog.Logger, cfg *config.Config, asset precheck.Asset, wallets int, runID string, dryRun bool) {
	mode := "dry-run"
	if !dryRun {
		mode = "live"
	}
	log.Info().
		Str("mode", mode).
		Str("run_id", runID).
		Int("wallets", wallets).
		Int("concurrency", cfg.Concurrency).
		Str("deposit", cfg.DepositToken.String()+" "+asset.Symbol).
		Int("slippage_pct", cfg.SlippagePercent).
		Int("buffer_pct", cfg.SafetyBufferPercent).
		Str("required_native", cfg.RequiredNative.String()).
		Str("required_token", cfg.RequiredToken.String()).
		Msg("provisioning started")
	if dryRun {
		log.Warn().Msg("dry-run: no transactions will be sent (pass --enable or ENABLE_DEPOSITS=true)")
	}
}

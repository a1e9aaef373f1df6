package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/big"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/lidonghao1116/potato-swap-bot/internal/chain"
	"github.com/lidonghao1116/potato-swap-bot/internal/config"
	"github.com/lidonghao1116/potato-swap-bot/internal/logging"
	"github.com/lidonghao1116/potato-swap-bot/internal/precheck"
	"github.com/lidonghao1116/potato-swap-bot/internal/units"
	"github.com/lidonghao1116/potato-swap-bot/internal/wallet"
)

func main() {
	if err := config.LoadDotenv(); err != nil {
		fmt.Fprintf(os.Stderr, "[warn] %v\n", err)
	}

	var configPath, addrFlag string
	flag.StringVar(&configPath, "config", os.Getenv(config.EnvConfigPath), "Optional YAML settings file (or LP_CONFIG)")
	flag.StringVar(&addrFlag, "address", "", "Address(es) to check instead of the PRIVATE_KEYS wallets (comma-separated)")
	flag.Parse()

	cfg, err := config.Load(configPath, os.Getenv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[fatal] config: %v\n", err)
		os.Exit(2)
	}
	log := logging.New(cfg.LogLevel, "console")

	owners, err := resolveOwners(addrFlag, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("no wallets to report")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	client, err := chain.Dial(ctx, cfg.RPCURLs, cfg.ChainID,
		chain.Contracts{Router: cfg.Router, Factory: cfg.Factory},
		chain.Options{RateLimit: cfg.RPCRateLimit, Burst: 1}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("no rpc endpoint available")
	}
	defer client.Close()

	dec, err := client.Decimals(ctx, cfg.Token)
	if err != nil {
		log.Fatal().Err(err).Msg("read token decimals")
	}
	sym, err := client.Symbol(ctx, cfg.Token)
	if err != nil || sym == "" {
		sym = "token"
	}
	asset := precheck.Asset{Symbol: sym, Decimals: dec}
	native := precheck.Asset{Symbol: "native", Decimals: units.NativeDecimals}
	v := precheck.New(client, precheck.Config{Token: cfg.Token, Native: native, Asset: asset}, zerolog.Nop())

	needNative := units.FromDecimal(cfg.RequiredNative, units.NativeDecimals)
	needToken := units.FromDecimal(cfg.RequiredToken, dec)
	deposit := units.FromDecimal(cfg.DepositToken, dec)

	fmt.Printf("rpc: %s  token: %s (%s, %d decimals)  router: %s\n", client.URL(), cfg.Token.Hex(), sym, dec, cfg.Router.Hex())
	fmt.Printf("requirement: %s native, %s %s per wallet\n\n", cfg.RequiredNative, cfg.RequiredToken, sym)

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "WALLET\tNATIVE\t"+strings.ToUpper(sym)+"\tALLOWANCE\tFUNDED\tAUTHORIZED")
	ready := 0
	for _, owner := range owners {
		row, ok := reportOne(ctx, v, owner, needNative, needToken, deposit, asset, cfg.Router)
		if ok {
			ready++
		}
		fmt.Fprintln(tw, row)
	}
	_ = tw.Flush()
	fmt.Printf("\nready: %d/%d (configured wallet count %d)\n", ready, len(owners), cfg.Wallets())
}

func reportOne(ctx context.Context, v *precheck.Validator, owner common.Address, needNative, needToken, deposit *big.Int, asset precheck.Asset, router common.Address) (string, bool) {
	f, err := v.EnsureFunded(ctx, owner, needNative, needToken)
	funded := "yes"
	if err != nil {
		if f.Native == nil {
			return fmt.Sprintf("%s\terror: %v\t\t\t\t", owner.Hex(), err), false
		}
		funded = "NO: " + shortfallText(err)
	}
	allowance, authorized, aerr := v.AllowanceOK(ctx, owner, router, deposit)
	allowanceText := "?"
	authText := "?"
	if aerr == nil {
		allowanceText = units.Format(allowance, asset.Decimals)
		if authorized {
			authText = "yes"
		} else {
			authText = "no (approval needed)"
		}
	}
	return fmt.Sprintf("%s\t%s\t%s\t%s\t%s\t%s",
		owner.Hex(),
		units.Format(f.Native, units.NativeDecimals),
		units.Format(f.Token, asset.Decimals),
		allowanceText, funded, authText), err == nil && authorized
}

func shortfallText(err error) string {
	var se *precheck.ShortfallError
	if !errors.As(err, &se) {
		return err.Error()
	}
	parts := make([]string, 0, len(se.Items))
	for _, it := range se.Items {
		parts = append(parts, it.String())
	}
	return strings.Join(parts, "; ")
}

func resolveOwners(addrFlag string, cfg *config.Config) ([]common.Address, error) {
	if strings.TrimSpace(addrFlag) != "" {
		return wallet.ParseAddresses(addrFlag)
	}
	ws, err := wallet.Load(cfg.PrivateKeys)
	if err != nil {
		return nil, fmt.Errorf("set PRIVATE_KEYS or pass --address: %w", err)
	}
	return wallet.Addresses(ws), nil
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"lendvault/config"
	"lendvault/gateway"
	nativecommon "lendvault/native/common"
	"lendvault/native/lending"
	"lendvault/observability/logging"
	"lendvault/oracle"
	"lendvault/storage"
	"lendvault/vault"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "", "path to lendvaultd config")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log := logging.Setup("lendvaultd", cfg.Env, cfg.LogLevel)

	if err := run(cfg, log); err != nil {
		log.Error("lendvaultd exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "ledger"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	clock := lending.SystemClock{}
	store := storage.NewLedgerStore(db)
	tokens := vault.New(db)
	feed := oracle.NewFeed(clock)
	pauses := nativecommon.NewSwitchboard()

	engine := lending.NewEngine(store, tokens, feed, clock)
	engine.SetMaxPriceAge(cfg.MaxPriceAge())
	engine.SetPauses(pauses)

	if err := bootstrap(cfg, engine, tokens, log); err != nil {
		return err
	}

	server := gateway.NewServer(engine, feed, clock, log, gateway.Options{
		RateLimitPerMin: cfg.RateLimitPerMin,
		Quota: nativecommon.Quota{
			MaxRequestsPerEpoch: cfg.Quota.MaxRequestsPerEpoch,
			MaxAmountPerEpoch:   cfg.Quota.MaxAmountPerEpoch,
			EpochSeconds:        cfg.Quota.EpochSeconds,
		},
	})

	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("lendvaultd listening", slog.String("addr", cfg.Listen))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case sig := <-stop:
		log.Info("shutting down", slog.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// bootstrap creates configured banks and seeds genesis balances, skipping
// anything that already exists from an earlier run.
func bootstrap(cfg config.Config, engine *lending.Engine, tokens *vault.Vault, log *slog.Logger) error {
	for _, bankCfg := range cfg.Banks {
		asset := lending.AssetID(bankCfg.Asset)
		_, err := engine.InitBank(asset, bankCfg.Params())
		switch {
		case err == nil:
			log.Info("bank initialised", slog.String("asset", bankCfg.Asset))
		case errors.Is(err, lending.ErrBankExists):
			// Already created on a previous boot.
		default:
			return fmt.Errorf("init bank %s: %w", bankCfg.Asset, err)
		}
	}
	for _, seed := range cfg.Genesis {
		holder := lending.AccountRef(seed.Holder)
		asset := lending.AssetID(seed.Asset)
		balance, err := tokens.Balance(holder, asset)
		if err != nil {
			return fmt.Errorf("read genesis balance %s/%s: %w", seed.Holder, seed.Asset, err)
		}
		if balance > 0 {
			continue
		}
		if err := tokens.Mint(holder, asset, seed.Amount); err != nil {
			return fmt.Errorf("seed balance %s/%s: %w", seed.Holder, seed.Asset, err)
		}
		log.Info("genesis balance seeded",
			slog.String("holder", seed.Holder),
			slog.String("asset", seed.Asset),
			slog.Uint64("amount", seed.Amount),
		)
	}
	return nil
}

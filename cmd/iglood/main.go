package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"iglood/config"
	"iglood/directory"
	"iglood/gateway"
	"iglood/gateway/middleware"
	"iglood/lease"
	"iglood/observability"
	"iglood/observability/logging"
	"iglood/payment"
	"iglood/storage"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "iglood.toml", "path to the service configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	log := logging.Setup(logging.Options{
		Service:  "iglood",
		Env:      cfg.Environment,
		FilePath: cfg.LogPath,
	})

	store, err := storage.NewSQLiteStore(cfg.DatabasePath)
	if err != nil {
		log.Error("open room store", "err", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := seedRooms(ctx, store, cfg.Rooms, log); err != nil {
		log.Error("seed room pool", "err", err)
		os.Exit(1)
	}

	metrics := observability.NewMetrics("iglood")

	verifierOpts := []payment.VerifierOption{
		payment.WithLogger(log),
		payment.WithMetrics(metrics),
		payment.WithBalancePolicy(payment.ParseBalanceCheckPolicy(cfg.BalanceCheckPolicy)),
	}
	if cfg.FacilitatorURL != "" {
		verifierOpts = append(verifierOpts, payment.WithFacilitator(
			payment.NewHTTPFacilitatorClient(cfg.FacilitatorURL, cfg.FacilitatorAPIKey)))
	}
	if cfg.RPCURL != "" {
		verifierOpts = append(verifierOpts, payment.WithBalanceClient(
			payment.NewRPCBalanceClient(cfg.RPCURL)))
	}
	verifier := payment.NewVerifier(cfg.NetworkID, payment.ParseMode(cfg.VerificationMode), verifierOpts...)

	dailyRent, err := cfg.DailyRentUnits()
	if err != nil {
		log.Error("parse daily rent", "err", err)
		os.Exit(1)
	}
	graceWindow, _ := cfg.GraceWindowDuration()
	sweepInterval, _ := cfg.SweepIntervalDuration()

	engineOpts := []lease.EngineOption{
		lease.WithLogger(log),
		lease.WithMetrics(metrics),
	}
	if cfg.DirectoryURL != "" {
		engineOpts = append(engineOpts, lease.WithDirectory(directory.NewHTTPResolver(cfg.DirectoryURL)))
	}
	engine := lease.NewEngine(store, verifier, lease.Config{
		DailyRent:            dailyRent,
		TreasuryWallet:       cfg.TreasuryWallet,
		GraceWindow:          graceWindow,
		RentGateTokenAddress: cfg.RentGateTokenAddress,
		RentGateMinimum:      cfg.RentGateMinimum,
	}, engineOpts...)

	serverOpts := []gateway.Option{
		gateway.WithLogger(log),
		gateway.WithMetrics(metrics),
		gateway.WithObservability(middleware.NewObservability("iglood", "iglood", metrics.Registry())),
		gateway.WithRateLimiter(middleware.NewRateLimiter(cfg.RateLimitPerMinute, cfg.RateLimitBurst, log)),
	}
	if cfg.AuthEnabled {
		serverOpts = append(serverOpts, gateway.WithAuth(middleware.NewAuthenticator(middleware.AuthConfig{
			Enabled:    true,
			HMACSecret: cfg.AuthSecret,
			Issuer:     cfg.AuthIssuer,
		}, log)))
	}
	server := gateway.NewServer(engine, store, serverOpts...)

	srv := &http.Server{Addr: cfg.ListenAddress, Handler: server.Router()}
	go func() {
		log.Info("iglood listening", "addr", cfg.ListenAddress, "env", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("listen", "err", err)
			stop()
		}
	}()

	go runSweep(ctx, engine, sweepInterval, log)

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "err", err)
	}
}

// seedRooms makes sure every configured room exists. Existing records are
// left untouched so redeploys never reset tenancies.
func seedRooms(ctx context.Context, store *storage.SQLiteStore, seeds []config.RoomSeed, log *slog.Logger) error {
	for _, seed := range seeds {
		if _, err := store.LoadRoom(ctx, seed.ID); err == nil {
			continue
		} else if !errors.Is(err, lease.ErrRoomNotFound) {
			return err
		}
		room := lease.NewRoom(seed.ID)
		room.Permanent = seed.Permanent
		room.Reserved = seed.Reserved
		room.ReservedOwner = seed.ReservedOwner
		if err := store.CreateRoom(ctx, room); err != nil {
			return err
		}
		log.Info("room created", "room", seed.ID, "permanent", seed.Permanent, "reserved", seed.Reserved)
	}
	return nil
}

// runSweep drives the overdue-rental state machine on a fixed cadence until
// the context ends.
func runSweep(ctx context.Context, engine *lease.Engine, interval time.Duration, log *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := engine.ProcessOverdueRentals(ctx)
			if err != nil {
				log.Error("overdue sweep failed", "err", err)
				continue
			}
			if len(result.Evictions) > 0 || len(result.MovedToGrace) > 0 {
				log.Info("overdue sweep", "evictions", result.Evictions, "grace", result.MovedToGrace)
			}
		}
	}
}

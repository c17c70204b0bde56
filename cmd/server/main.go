package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"gatheringAccess/internal/config"
	"gatheringAccess/internal/db"
	grpcserver "gatheringAccess/internal/grpc"
	"gatheringAccess/internal/httpapi"
	"gatheringAccess/internal/hub"
	"gatheringAccess/internal/hub/wshub"
	"gatheringAccess/internal/logger"
	"gatheringAccess/internal/quota"
	"gatheringAccess/internal/scan"
	"gatheringAccess/repository"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var configPath, httpAddr, logLevel string
	flags := pflag.NewFlagSet("gathering-server", pflag.ContinueOnError)
	flags.StringVar(&configPath, "config", "", "path to a YAML config file (default: $"+config.ConfigFileEnv+")")
	flags.StringVar(&httpAddr, "http-address", "", "HTTP listen address, overrides HTTP_ADDRESS")
	flags.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error), overrides LOG_LEVEL")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if httpAddr != "" {
		cfg.HTTP.Address = httpAddr
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	log.Info().Stringer("config", cfg).Msg("configuration loaded")

	// Open DB
	d, err := db.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer func() {
		if err := d.Close(); err != nil {
			log.Error().Err(err).Msg("close db")
		}
	}()

	attendees := repository.NewAttendeeRepository(d)
	broadcast := hub.NewHub(logger.Component("hub"))
	dispatcher := scan.NewDispatcher(attendees, broadcast, logger.Component("scan"))
	engine := quota.NewEngine(attendees, logger.Component("quota"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go broadcast.Run(ctx, hub.NewMatchFilter(dispatcher, scan.SubjScanUser))

	api := &httpapi.Server{
		Profiles:  attendees,
		Photos:    engine,
		Scans:     dispatcher,
		Health:    attendees,
		Subscribe: wshub.Serve(broadcast, logger.Component("wshub")),
		Log:       logger.Component("http"),
	}
	srv := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      api.Router(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server failed")
			cancel()
		}
	}()

	// Start gRPC health
	stopHealth := func(context.Context) error { return nil }
	if cfg.GRPC.Address != "" {
		stopHealth, err = grpcserver.StartHealth(cfg.GRPC.Address, attendees, logger.Component("grpc"))
		if err != nil {
			return fmt.Errorf("start grpc health: %w", err)
		}
		log.Info().Str("addr", cfg.GRPC.Address).Msg("grpc health server listening")
	}

	// Wait for signal
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigc:
		log.Info().Msg("shutdown signal received")
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown error")
	}
	if err := stopHealth(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("grpc shutdown error")
	}
	cancel()
	log.Info().Msg("server shutdown complete")
	return nil
}

package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	_ "go.uber.org/automaxprocs"

	"github.com/adred-codev/topichub/internal/config"
	"github.com/adred-codev/topichub/internal/logging"
	"github.com/adred-codev/topichub/internal/server"
)

func main() {
	var (
		debug = flag.Bool("debug", false, "enable debug logging (overrides LOG_LEVEL)")
	)
	flag.Parse()

	// Basic logger for startup, before config decides level and format.
	boot := log.New(os.Stdout, "[topichub] ", log.LstdFlags)

	// automaxprocs sets GOMAXPROCS from container CPU limits.
	boot.Printf("GOMAXPROCS: %d", runtime.GOMAXPROCS(0))

	cfg, err := config.Load()
	if err != nil {
		boot.Fatalf("Failed to load configuration: %v", err)
	}
	if *debug {
		cfg.LogLevel = "debug"
	}

	logger := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	cfg.LogConfig(logger)

	srv := server.New(cfg, logger)
	if err := srv.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start server")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("Shutdown signal received")
	if err := srv.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("Error during shutdown")
	}
}

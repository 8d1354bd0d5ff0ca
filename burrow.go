package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/burrowdb/burrow/admin"
	"github.com/burrowdb/burrow/cfg"
	"github.com/burrowdb/burrow/engine"
	"github.com/burrowdb/burrow/id"
	"github.com/burrowdb/burrow/protocol"
	"github.com/burrowdb/burrow/telemetry"
)

func main() {
	flag.Parse()

	// Load configuration
	err := cfg.Load(*cfg.ConfigPathFlag)
	if err != nil {
		panic(err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	// Setup logging
	var writer io.Writer = zerolog.NewConsoleWriter()
	if cfg.Config.Logging.Format == "json" {
		writer = os.Stdout
	}
	gLog := zerolog.New(writer).
		With().
		Timestamp().
		Uint64("node_id", cfg.Config.NodeID).
		Logger()

	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}

	log.Info().Msg("Burrow - Embedded SQL Session Node")
	log.Debug().Msg("Initializing telemetry")
	telemetry.InitializeTelemetry()
	telemetry.InitMetrics()

	// Attach configured caches to the engine
	log.Info().Msg("Initializing query engine")
	eng, err := engine.NewSQLiteEngine()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize query engine")
		return
	}
	for _, cache := range cfg.Config.Caches {
		path := cache.Path
		if path == "" {
			path = filepath.Join(cfg.Config.DataDir, cache.Name+".db")
		}
		if err := eng.Attach(cache.Name, path); err != nil {
			log.Fatal().Err(err).Str("cache", cache.Name).Str("path", path).
				Msg("Failed to attach cache database")
			return
		}
	}
	defer eng.Close()

	gate := protocol.NewBusyGate()
	ids := id.NewGenerator()
	sessions := protocol.NewSessionRegistry()

	// Client listener
	server := protocol.NewServer(
		fmt.Sprintf("%s:%d", cfg.Config.Listener.BindAddress, cfg.Config.Listener.Port),
		cfg.Config.Listener.MaxConnections,
		eng,
		gate,
		ids,
		sessions,
		cfg.Config.Session,
	)
	if err := server.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start client listener")
		return
	}

	// Admin HTTP surface
	var adminServer *http.Server
	if cfg.Config.Admin.Enabled {
		mux := http.NewServeMux()
		admin.RegisterRoutes(mux, admin.NewAdminHandlers(eng, sessions, gate))

		adminServer = &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.Config.Admin.BindAddress, cfg.Config.Admin.Port),
			Handler: mux,
		}
		go func() {
			if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("Admin server error")
			}
		}()
		log.Info().Int("port", cfg.Config.Admin.Port).Msg("Admin server started")
	}

	log.Info().
		Uint64("node_id", cfg.Config.NodeID).
		Int("port", cfg.Config.Listener.Port).
		Str("data_dir", cfg.Config.DataDir).
		Msg("Node is operational")

	// Block until shutdown signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info().Msg("Shutting down")

	// Close the gate first: new requests fail fast, in-flight requests
	// drain before Shutdown returns.
	gate.Shutdown()

	server.Stop()
	sessions.Sweep()

	if adminServer != nil {
		adminServer.Close()
	}

	log.Info().Msg("Shutdown complete")
}

package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/miguelrodriguezrv/snapkv/app/config"
	"github.com/miguelrodriguezrv/snapkv/app/engine"
	"github.com/miguelrodriguezrv/snapkv/app/expiry"
	"github.com/miguelrodriguezrv/snapkv/app/health"
	"github.com/miguelrodriguezrv/snapkv/app/persistence"
	"github.com/miguelrodriguezrv/snapkv/app/server"
	"github.com/miguelrodriguezrv/snapkv/app/store"
)

func main() {
	// Support both -c and --config for config path
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.StringVar(&configPath, "c", "", "Path to configuration file (shorthand)")
	dir := flag.String("dir", "", "the directory where the snapshot is stored")
	dbFilename := flag.String("dbfilename", "", "the name of the snapshot file")
	port := flag.Int("port", 0, "the port to listen on")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if *dir != "" {
		cfg.Persistence.Dir = *dir
	}
	if *dbFilename != "" {
		cfg.Persistence.DBFilename = *dbFilename
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}

	setupLogging(cfg.Log.Level, cfg.Log.JSON, cfg.Log.Colors)

	log.Info().Str("config", configPath).Str("version", engine.Version).Msg("Starting snapkv")

	snapshots, err := persistence.Open(persistence.Backend(cfg.Persistence.Backend), cfg.SnapshotPath(), cfg.Persistence.InPlace)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open snapshot backend")
	}
	defer snapshots.Close()
	log.Info().
		Str("backend", cfg.Persistence.Backend).
		Str("path", cfg.SnapshotPath()).
		Msg("Snapshot backend ready")

	st := store.NewInMemoryStore()
	st.Restore(persistence.LoadOrEmpty(snapshots))

	eng := engine.New(st, snapshots, engine.WithParams(map[string]string{
		"dir":        cfg.Persistence.Dir,
		"dbfilename": cfg.Persistence.DBFilename,
		"port":       strconv.Itoa(cfg.Server.Port),
	}))

	srv := server.New(eng)
	if err := srv.Listen(cfg.Address()); err != nil {
		log.Fatal().Err(err).Msg("Failed to start server")
	}

	ctx := SignalContext()

	go expiry.NewSweeper(eng, cfg.Expiry.SweepInterval.Duration()).Start(ctx)

	if cfg.Healthcheck.Enabled {
		health.New(cfg.HealthAddress(), eng, cfg.ShutdownTimeout.Duration()).Start(ctx)
	}

	if err := srv.Serve(ctx); err != nil {
		log.Error().Err(err).Msg("Server stopped")
	}
	log.Info().Msg("Shutdown complete")
}

func setupLogging(level string, useJSON bool, colors bool) {
	zerolog.TimeFieldFormat = time.RFC3339

	if useJSON {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "2006-01-02T15:04:05.000Z07:00",
			NoColor:    !colors,
		})
	}

	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// SignalContext creates a context that is cancelled when SIGINT or SIGTERM is received.
func SignalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Warn().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	return ctx
}

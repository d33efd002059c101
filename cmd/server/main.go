package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"memechaos/internal/app"
	"memechaos/internal/catalog"
	"memechaos/internal/config"
	"memechaos/internal/store"
	httpTransport "memechaos/internal/transport/http"
)

const (
	releaseVersion = "0.4.0"

	shutdownTimeout = 5 * time.Second
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newCmd(&config.Config{}).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func newCmd(cfg *config.Config) *cobra.Command {
	var logger *slog.Logger

	cmd := &cobra.Command{
		Use:   "memechaos",
		Short: "Multiplayer meme card game server.",
		Args:  cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadDotEnv(); err != nil {
				return err
			}
			if err := config.ApplyEnv(cmd.Flags()); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			var err error
			logger, err = newLogger(cfg)
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), cfg, logger)
		},
		Version: releaseVersion,
	}

	cfg.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Create or update the postgres schema and exit.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return migrate(cmd.Context(), cfg, logger)
		},
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("memechaos v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}

func newLogger(cfg *config.Config) (*slog.Logger, error) {
	level, err := cfg.LogLevel()
	if err != nil {
		return nil, err
	}

	// Set up logger
	var logger *slog.Logger
	logOpts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.Logging.Format == "json" {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, logOpts))
	} else {
		logger = slog.New(slog.NewTextHandler(os.Stdout, logOpts))
	}

	slog.SetDefault(logger)
	return logger, nil
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("starting memechaos server",
		"version", releaseVersion,
		"env", cfg.Server.Env,
		"addr", cfg.GetAddr(),
		"store", cfg.Store.Driver,
	)

	cards, err := catalog.Load(cfg.Game.CatalogPath)
	if err != nil {
		return err
	}
	logger.Info("card catalog loaded", "cards", cards.Len())

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	settings := app.Settings{
		MinPlayers:     cfg.Game.MinPlayers,
		MaxPlayers:     cfg.Game.MaxPlayers,
		HandSize:       cfg.Game.HandSize,
		MaxRounds:      cfg.Game.MaxRounds,
		ScoreLimit:     cfg.Game.ScoreLimit,
		RoomCodeLength: cfg.Game.RoomCodeLength,
	}
	controller := app.NewController(st, cards, settings, rand.New(rand.NewSource(time.Now().UnixNano())), logger)

	timeouts := app.Timeouts{
		Situation: cfg.Game.SituationTimeout,
		Playing:   cfg.Game.PlayingTimeout,
		Voting:    cfg.Game.VotingTimeout,
	}

	// Create game hub
	hub := app.NewGameHub(st, controller, cards, timeouts, cfg.Game.IdleTimeout, logger)
	defer hub.Close()

	// Create HTTP server
	server := httpTransport.NewServer(cfg, hub, releaseVersion, logger)

	errs := make(chan error, 1)
	go func() {
		errs <- server.Start()
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	logger.Info("server stopped")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		pg, err := store.OpenPostgres(cfg.Store.DatabaseURL, logger)
		if err != nil {
			return nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, err
		}
		// Other instances on the same database announce their writes here
		pg.StartListener()
		return pg, nil
	default:
		return store.NewMemoryStore(), nil
	}
}

func migrate(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if cfg.Store.Driver != config.DriverPostgres {
		return errors.New("migrate needs --store-driver postgres")
	}

	pg, err := store.OpenPostgres(cfg.Store.DatabaseURL, logger)
	if err != nil {
		return err
	}
	defer pg.Close()

	if err := pg.Migrate(ctx); err != nil {
		return err
	}

	logger.Info("schema migrated")
	return nil
}

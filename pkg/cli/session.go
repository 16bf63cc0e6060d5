package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"maskflow/internal/app"
	"maskflow/internal/config"
	"maskflow/internal/db"
)

// session is an opened metadata store plus the wired application.
type session struct {
	cfg      *config.Config
	logger   *slog.Logger
	app      *app.App
	registry *prometheus.Registry
	store    *db.Store
}

func (s *session) Close() {
	_ = s.store.Close()
}

// loadConfig reads the env file named by --env-file and the environment.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	flags := cmd.Root().PersistentFlags()
	if envFile, _ := flags.GetString("env-file"); envFile != "" {
		if err := config.LoadDotEnv(envFile); err != nil {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, err
	}
	if metaDB, _ := flags.GetString("meta-db"); metaDB != "" {
		cfg.MetaDBPath = metaDB
	}
	return cfg, nil
}

// newLogger writes JSON in production and text otherwise.
func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.IsProduction() {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// openSession loads configuration, opens and migrates the metadata store and
// wires the application.
func openSession(cmd *cobra.Command) (*session, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg, cmd.ErrOrStderr())
	for _, w := range cfg.Warnings {
		logger.Warn(w)
	}

	store, err := db.Open(cmd.Context(), cfg.MetaDBPath, db.Options{
		ReadPoolSize: cfg.MetaDBReadPool,
		BusyTimeout:  cfg.MetaDBBusyTimeout,
		Migrate:      true,
		Tables:       cfg.Tables,
	})
	if err != nil {
		return nil, fmt.Errorf("open metadata store: %w", err)
	}
	s := &session{cfg: cfg, logger: logger, store: store}

	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.app, err = app.New(cmd.Context(), app.Deps{
		Cfg:      cfg,
		WriteDB:  store.Write,
		ReadDB:   store.Read,
		Logger:   logger,
		Registry: s.registry,
	})
	if err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

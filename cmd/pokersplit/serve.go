package main

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/lox/pokersplit/cmd/pokersplit/shared"
	"github.com/lox/pokersplit/internal/events"
	"github.com/lox/pokersplit/internal/gamecode"
	"github.com/lox/pokersplit/internal/server"
	"github.com/lox/pokersplit/internal/store"
)

const shutdownTimeout = 10 * time.Second

// ServeCmd runs the HTTP API and watcher hub. Flags override the config file.
type ServeCmd struct {
	Config     string `kong:"default='pokersplit.hcl',env='POKERSPLIT_CONFIG',help='HCL config file (optional)'"`
	Addr       string `kong:"env='POKERSPLIT_ADDR',help='Listen address, overrides server.address'"`
	Port       int    `kong:"env='POKERSPLIT_PORT',help='Listen port, overrides server.port'"`
	DB         string `kong:"name='db',env='POKERSPLIT_DB',help='SQLite database path, overrides server.database'"`
	LogLevel   string `kong:"env='POKERSPLIT_LOG_LEVEL',help='Log level, overrides server.log_level'"`
	Strategy   string `kong:"env='POKERSPLIT_STRATEGY',help='Settlement strategy, overrides settlement.strategy'"`
	Seed       *int64 `kong:"help='Deterministic seed for round codes (optional)'"`
	AdminToken string `kong:"name='admin-token',env='POKERSPLIT_ADMIN_TOKEN',help='Token for listing and deleting rounds, overrides server.admin_token'"`
}

// resolve merges the config file with flag overrides and validates the result.
func (c *ServeCmd) resolve() (*server.Config, error) {
	cfg, err := server.LoadConfig(c.Config)
	if err != nil {
		return nil, err
	}
	if c.Addr != "" {
		cfg.Server.Address = c.Addr
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}
	if c.DB != "" {
		cfg.Server.Database = c.DB
	}
	if c.LogLevel != "" {
		cfg.Server.LogLevel = c.LogLevel
	}
	if c.Strategy != "" {
		cfg.Settlement.Strategy = c.Strategy
	}
	if c.Seed != nil {
		cfg.Server.Seed = *c.Seed
	}
	if c.AdminToken != "" {
		cfg.Server.AdminToken = c.AdminToken
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *ServeCmd) Run() error {
	cfg, err := c.resolve()
	if err != nil {
		return err
	}

	logger, err := shared.SetupLogger(cfg.Server.LogLevel)
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.Server.Database)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("Failed to close store", "error", err)
		}
	}()

	bus := events.NewBus()
	service := server.NewRoundService(st, bus, logger, serviceOptions(cfg, logger)...)

	srv := server.NewServer(service, bus, logger, cfg.Server.AllowedOrigins)

	logger.Info("Starting PokerSplit server",
		"address", cfg.GetServerAddress(),
		"database", cfg.Server.Database,
		"strategy", service.Strategy(),
		"min_players", cfg.Rounds.MinPlayers,
		"max_players", cfg.Rounds.MaxPlayers)

	ctx := shared.SetupSignalHandler(logger)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.Start(cfg.GetServerAddress())
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})

	err = g.Wait()
	bus.Wait()
	if err != nil {
		return err
	}
	logger.Info("Server stopped")
	return nil
}

func serviceOptions(cfg *server.Config, logger *log.Logger) []server.ServiceOption {
	opts := []server.ServiceOption{
		server.WithStrategy(cfg.StrategyValue()),
		server.WithPlayerLimits(cfg.Rounds.MinPlayers, cfg.Rounds.MaxPlayers),
		server.WithAdminToken(cfg.Server.AdminToken),
	}
	if cfg.Server.AdminToken == "" {
		logger.Info("Admin routes disabled, no admin token configured")
	}
	if cfg.Server.Seed != 0 {
		logger.Info("Using deterministic round codes", "seed", cfg.Server.Seed)
		opts = append(opts, server.WithCodeGenerator(gamecode.NewGenerator(gamecode.NewSeededSource(cfg.Server.Seed))))
	}
	return opts
}

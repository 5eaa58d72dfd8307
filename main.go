package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wfunc/werewolfserver/cache"
	"github.com/wfunc/werewolfserver/config"
	"github.com/wfunc/werewolfserver/logger"
	"github.com/wfunc/werewolfserver/models"
	"github.com/wfunc/werewolfserver/monitor"
	"github.com/wfunc/werewolfserver/persistence"
	"github.com/wfunc/werewolfserver/rpc"
	"github.com/wfunc/werewolfserver/server"
	"github.com/wfunc/werewolfserver/services"
	"github.com/wfunc/werewolfserver/tally"
	"github.com/wfunc/werewolfserver/telemetry"
)

const shutdownTimeout = 10 * time.Second

func openStore(cfg *config.Config) (persistence.Store, error) {
	if cfg.Database.Driver == "memory" {
		logger.Log.Warn("Using in-memory store; games are lost on restart.")
		return persistence.NewMemoryStore(), nil
	}
	pg := cfg.Database.Postgres
	return persistence.NewGormPostgreSQL(persistence.PostgresOptions{
		Host:            pg.Host,
		Port:            pg.Port,
		User:            pg.User,
		Password:        pg.Password,
		DBName:          pg.DBName,
		SSLMode:         pg.SSLMode,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
}

// logElimination reports who the village voted out at nightfall.
func logElimination(ctx context.Context, game models.Game, ranking tally.Ranking) {
	leader, ok := ranking.Leader()
	if !ok {
		logger.Log.Infow("night fell without a majority", "game_id", game.GameID, "day", game.DayNumber, "votes", ranking.Total())
		return
	}
	logger.Log.Infow("night fell", "game_id", game.GameID, "day", game.DayNumber, "leader", leader.TargetID, "votes", leader.Votes)
}

func main() {
	// config errors need a real logger before the configured one exists
	logger.Init("info", false)

	// Load configuration
	cfg, err := config.LoadConfig(".")
	if err != nil {
		logger.Log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger.Init(cfg.Log.Level, cfg.Log.Development)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry.OTLPEndpoint, cfg.Telemetry.ServiceName)
	if err != nil {
		logger.Log.Fatalf("Failed to set up tracing: %v", err)
	}

	// Initialize Database
	store, err := openStore(cfg)
	if err != nil {
		logger.Log.Fatalf("Failed to connect to database: %v", err)
	}
	logger.Log.Infof("Store ready (driver %s).", cfg.Database.Driver)

	mon := monitor.NewMonitor("werewolf", nil)
	games := services.NewGameService(services.Options{
		Store: store,
		Cache: cache.New(cache.Options{
			GameCapacity:   cfg.Cache.GameCapacity,
			GameTTL:        cfg.Cache.GameTTL,
			ConfigCapacity: cfg.Cache.ConfigCapacity,
			ConfigTTL:      cfg.Cache.ConfigTTL,
		}),
		Metrics:      mon,
		MinPlayers:   cfg.Game.MinPlayers,
		StoreTimeout: cfg.Game.StoreTimeout,
		OnEliminate:  logElimination,
	})

	gameServer := server.NewGameServer(cfg.Server.HTTPAddress, games, mon)

	rpcServer, err := rpc.NewServer(cfg.Server.RPCAddress, rpc.NewGameService(games))
	if err != nil {
		logger.Log.Fatalf("Failed to start RPC server: %v", err)
	}
	go rpcServer.Start()

	health, err := rpc.NewHealthServer(cfg.Server.GRPCAddress)
	if err != nil {
		logger.Log.Fatalf("Failed to start health server: %v", err)
	}
	go func() {
		if err := health.Start(); err != nil {
			logger.Log.Errorf("Health server stopped: %v", err)
		}
	}()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- gameServer.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Log.Info("Shutting down.")
	case err := <-serveErr:
		if err != nil {
			logger.Log.Errorf("Game server failed: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	health.Stop()
	rpcServer.Stop()
	if err := gameServer.Shutdown(shutdownCtx); err != nil {
		logger.Log.Errorf("Game server shutdown: %v", err)
	}
	if err := store.Close(); err != nil {
		logger.Log.Errorf("Store close: %v", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Log.Errorf("Tracing shutdown: %v", err)
	}
}

// services/config_service.go
package services

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/wfunc/werewolfserver/logger"
	"github.com/wfunc/werewolfserver/models"
	"github.com/wfunc/werewolfserver/persistence"
)

// ServerConfig returns the guild's configuration, or nil if it was never set up.
func (s *GameService) ServerConfig(ctx context.Context, guildID int64) (_ *models.ServerConfig, err error) {
	if cfg, ok := s.cache.GetServerConfig(guildID); ok {
		s.metrics.CacheRequest("config", true)
		return &cfg, nil
	}
	s.metrics.CacheRequest("config", false)

	ctx, span := s.startSpan(ctx, "ServerConfig", attribute.Int64("guild.id", guildID))
	defer func() { endSpan(span, err) }()

	epoch := s.cache.ConfigEpoch()

	var cfg *models.ServerConfig
	err = s.call(ctx, "load_server_config", func(ctx context.Context) (err error) {
		cfg, err = s.store.LoadServerConfig(ctx, guildID)
		return err
	})
	if errors.Is(err, persistence.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	s.cache.SetServerConfigIf(guildID, epoch, *cfg)
	return cfg, nil
}

// SetupServer writes the guild's configuration.
func (s *GameService) SetupServer(ctx context.Context, cfg models.ServerConfig) (err error) {
	ctx, span := s.startSpan(ctx, "SetupServer", attribute.Int64("guild.id", cfg.GuildID))
	defer func() { endSpan(span, err) }()

	if cfg.Prefix == "" {
		return fmt.Errorf("%w: prefix is empty", ErrInvalidConfig)
	}
	if cfg.StartingNumber < 0 {
		return fmt.Errorf("%w: starting number %d is negative", ErrInvalidConfig, cfg.StartingNumber)
	}

	err = s.call(ctx, "upsert_server_config", func(ctx context.Context) error {
		return s.store.UpsertServerConfig(ctx, cfg)
	})
	if err != nil {
		return err
	}

	s.cache.InvalidateServerConfig(cfg.GuildID)
	logger.Log.Infow("server configured", "guild_id", cfg.GuildID, "prefix", cfg.Prefix, "starting_number", cfg.StartingNumber)
	return nil
}

package server

import (
	"context"

	"github.com/wfunc/werewolfserver/logger"
	"github.com/wfunc/werewolfserver/models"
	"github.com/wfunc/werewolfserver/network"
	"github.com/wfunc/werewolfserver/session"
)

type bindRequest struct {
	GuildID int64 `json:"guild_id"`
	UserID  int64 `json:"user_id"`
}

type gameRequest struct {
	GameID int64 `json:"game_id"`
}

type voteRequest struct {
	GameID   int64 `json:"game_id"`
	TargetID int64 `json:"target_id"`
}

type playerRequest struct {
	GameID int64 `json:"game_id"`
	UserID int64 `json:"user_id"`
}

type setupRequest struct {
	Prefix         string `json:"prefix"`
	StartingNumber int    `json:"starting_number"`
}

// GameEvent is pushed to the guild on lifecycle changes.
type GameEvent struct {
	Event   string `json:"event"`
	GuildID int64  `json:"guild_id"`
	GameID  int64  `json:"game_id"`
	UserID  int64  `json:"user_id,omitempty"`
}

// routes is the whole dispatch: one typed manager call per message id.
func (s *GameServer) routes() map[uint16]handlerFunc {
	return map[uint16]handlerFunc{
		network.MsgTypeBind:            s.handleBind,
		network.MsgTypeGetGame:         s.handleGetGame,
		network.MsgTypeCreateGame:      s.handleCreateGame,
		network.MsgTypeJoinGame:        s.handleJoinGame,
		network.MsgTypeLeaveGame:       s.handleLeaveGame,
		network.MsgTypeStartGame:       s.handleStartGame,
		network.MsgTypeEndGame:         s.handleEndGame,
		network.MsgTypeRefreshGame:     s.handleRefreshGame,
		network.MsgTypeCastVote:        s.handleCastVote,
		network.MsgTypeRetractVote:     s.handleRetractVote,
		network.MsgTypeGetTally:        s.handleGetTally,
		network.MsgTypeAdvancePhase:    s.handleAdvancePhase,
		network.MsgTypeEliminate:       s.handleEliminate,
		network.MsgTypeListPlayers:     s.handleListPlayers,
		network.MsgTypeAlivePlayers:    s.handleAlivePlayers,
		network.MsgTypeGetServerConfig: s.handleGetServerConfig,
		network.MsgTypeSetupServer:     s.handleSetupServer,
	}
}

func (s *GameServer) handleBind(ctx context.Context, sess *session.Session, data []byte) (interface{}, error) {
	var req bindRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	sess.Bind(req.GuildID, req.UserID)
	logger.Log.Infof("Session %s bound to guild %d as user %d", sess.GetID(), req.GuildID, req.UserID)
	return req, nil
}

func (s *GameServer) handleGetGame(ctx context.Context, sess *session.Session, data []byte) (interface{}, error) {
	guildID, _, err := boundIdentity(sess)
	if err != nil {
		return nil, err
	}
	return s.games.GetActiveGame(ctx, guildID)
}

func (s *GameServer) handleRefreshGame(ctx context.Context, sess *session.Session, data []byte) (interface{}, error) {
	guildID, _, err := boundIdentity(sess)
	if err != nil {
		return nil, err
	}
	return s.games.RefreshGame(ctx, guildID)
}

func (s *GameServer) handleCreateGame(ctx context.Context, sess *session.Session, data []byte) (interface{}, error) {
	guildID, userID, err := boundIdentity(sess)
	if err != nil {
		return nil, err
	}
	gameID, err := s.games.CreateGame(ctx, guildID, userID)
	if err != nil {
		return nil, err
	}
	s.publishEvent(GameEvent{Event: "created", GuildID: guildID, GameID: gameID, UserID: userID})
	return gameRequest{GameID: gameID}, nil
}

func (s *GameServer) handleJoinGame(ctx context.Context, sess *session.Session, data []byte) (interface{}, error) {
	return s.playerChange(ctx, sess, data, "joined", s.games.JoinGame)
}

func (s *GameServer) handleLeaveGame(ctx context.Context, sess *session.Session, data []byte) (interface{}, error) {
	return s.playerChange(ctx, sess, data, "left", s.games.LeaveGame)
}

// playerChange applies op for the session's own user.
func (s *GameServer) playerChange(ctx context.Context, sess *session.Session, data []byte, event string,
	op func(ctx context.Context, gameID, userID int64) error) (interface{}, error) {
	guildID, userID, err := boundIdentity(sess)
	if err != nil {
		return nil, err
	}
	var req gameRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if err := op(ctx, req.GameID, userID); err != nil {
		return nil, err
	}
	s.publishEvent(GameEvent{Event: event, GuildID: guildID, GameID: req.GameID, UserID: userID})
	return req, nil
}

func (s *GameServer) handleStartGame(ctx context.Context, sess *session.Session, data []byte) (interface{}, error) {
	return s.lifecycle(ctx, sess, data, "started", s.games.StartGame)
}

func (s *GameServer) handleEndGame(ctx context.Context, sess *session.Session, data []byte) (interface{}, error) {
	return s.lifecycle(ctx, sess, data, "ended", s.games.EndGame)
}

func (s *GameServer) lifecycle(ctx context.Context, sess *session.Session, data []byte, event string,
	op func(ctx context.Context, gameID int64) error) (interface{}, error) {
	guildID, _, err := boundIdentity(sess)
	if err != nil {
		return nil, err
	}
	var req gameRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if err := op(ctx, req.GameID); err != nil {
		return nil, err
	}
	s.publishEvent(GameEvent{Event: event, GuildID: guildID, GameID: req.GameID})
	return req, nil
}

func (s *GameServer) handleCastVote(ctx context.Context, sess *session.Session, data []byte) (interface{}, error) {
	_, userID, err := boundIdentity(sess)
	if err != nil {
		return nil, err
	}
	var req voteRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if err := s.games.CastVote(ctx, req.GameID, userID, req.TargetID); err != nil {
		return nil, err
	}
	return req, nil
}

func (s *GameServer) handleRetractVote(ctx context.Context, sess *session.Session, data []byte) (interface{}, error) {
	_, userID, err := boundIdentity(sess)
	if err != nil {
		return nil, err
	}
	var req gameRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if err := s.games.RetractVote(ctx, req.GameID, userID); err != nil {
		return nil, err
	}
	return req, nil
}

func (s *GameServer) handleGetTally(ctx context.Context, sess *session.Session, data []byte) (interface{}, error) {
	var req gameRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	return s.games.GetVoteTally(ctx, req.GameID)
}

func (s *GameServer) handleAdvancePhase(ctx context.Context, sess *session.Session, data []byte) (interface{}, error) {
	var req gameRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	result, err := s.games.AdvancePhase(ctx, req.GameID)
	if err != nil {
		return nil, err
	}
	if result.Applied {
		s.broadcaster.PublishJSON(result.GuildID, network.MsgTypePhaseChanged, result)
	}
	return result, nil
}

func (s *GameServer) handleEliminate(ctx context.Context, sess *session.Session, data []byte) (interface{}, error) {
	guildID, _, err := boundIdentity(sess)
	if err != nil {
		return nil, err
	}
	var req playerRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if err := s.games.EliminatePlayer(ctx, req.GameID, req.UserID); err != nil {
		return nil, err
	}
	s.publishEvent(GameEvent{Event: "eliminated", GuildID: guildID, GameID: req.GameID, UserID: req.UserID})
	return req, nil
}

func (s *GameServer) handleListPlayers(ctx context.Context, sess *session.Session, data []byte) (interface{}, error) {
	var req gameRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	return s.games.ListPlayers(ctx, req.GameID)
}

func (s *GameServer) handleAlivePlayers(ctx context.Context, sess *session.Session, data []byte) (interface{}, error) {
	var req gameRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	return s.games.AlivePlayers(ctx, req.GameID)
}

func (s *GameServer) handleGetServerConfig(ctx context.Context, sess *session.Session, data []byte) (interface{}, error) {
	guildID, _, err := boundIdentity(sess)
	if err != nil {
		return nil, err
	}
	return s.games.ServerConfig(ctx, guildID)
}

func (s *GameServer) handleSetupServer(ctx context.Context, sess *session.Session, data []byte) (interface{}, error) {
	guildID, _, err := boundIdentity(sess)
	if err != nil {
		return nil, err
	}
	var req setupRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	cfg := models.ServerConfig{GuildID: guildID, Prefix: req.Prefix, StartingNumber: req.StartingNumber}
	if err := s.games.SetupServer(ctx, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (s *GameServer) publishEvent(event GameEvent) {
	s.broadcaster.PublishJSON(event.GuildID, network.MsgTypeGameEvent, event)
}

package rpc

import (
	"context"
	"time"

	"github.com/wfunc/werewolfserver/models"
	"github.com/wfunc/werewolfserver/services"
	"github.com/wfunc/werewolfserver/tally"
)

const ServiceName = "GameService"

// callTimeout bounds one RPC; net/rpc carries no deadline of its own.
const callTimeout = 10 * time.Second

// GameService exposes the game manager over net/rpc. Every method follows
// the net/rpc shape: exported args, pointer reply, error return.
type GameService struct {
	games *services.GameService
}

func NewGameService(games *services.GameService) *GameService {
	return &GameService{games: games}
}

type GuildArgs struct {
	GuildID int64
}

type CreateGameArgs struct {
	GuildID   int64
	CreatorID int64
}

type GameArgs struct {
	GameID int64
}

type PlayerArgs struct {
	GameID int64
	UserID int64
}

type VoteArgs struct {
	GameID   int64
	VoterID  int64
	TargetID int64
}

type GameStateReply struct {
	Found bool
	State models.GameState
}

type GameIDReply struct {
	GameID int64
}

type PlayersReply struct {
	Players []models.Player
}

type TallyReply struct {
	Ranking tally.Ranking
}

type AdvanceReply struct {
	Result services.AdvanceResult
}

type ServerConfigReply struct {
	Found  bool
	Config models.ServerConfig
}

// Ack is the reply of calls that return nothing; gob needs an exported field.
type Ack struct {
	OK bool
}

func ack(reply *Ack, err error) error {
	reply.OK = err == nil
	return err
}

func withTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), callTimeout)
}

func (gs *GameService) GetActiveGame(args *GuildArgs, reply *GameStateReply) error {
	ctx, cancel := withTimeout()
	defer cancel()
	st, err := gs.games.GetActiveGame(ctx, args.GuildID)
	if err != nil {
		return err
	}
	if st != nil {
		reply.Found, reply.State = true, *st
	}
	return nil
}

func (gs *GameService) RefreshGame(args *GuildArgs, reply *GameStateReply) error {
	ctx, cancel := withTimeout()
	defer cancel()
	st, err := gs.games.RefreshGame(ctx, args.GuildID)
	if err != nil {
		return err
	}
	if st != nil {
		reply.Found, reply.State = true, *st
	}
	return nil
}

func (gs *GameService) CreateGame(args *CreateGameArgs, reply *GameIDReply) error {
	ctx, cancel := withTimeout()
	defer cancel()
	gameID, err := gs.games.CreateGame(ctx, args.GuildID, args.CreatorID)
	if err != nil {
		return err
	}
	reply.GameID = gameID
	return nil
}

func (gs *GameService) JoinGame(args *PlayerArgs, reply *Ack) error {
	ctx, cancel := withTimeout()
	defer cancel()
	return ack(reply, gs.games.JoinGame(ctx, args.GameID, args.UserID))
}

func (gs *GameService) LeaveGame(args *PlayerArgs, reply *Ack) error {
	ctx, cancel := withTimeout()
	defer cancel()
	return ack(reply, gs.games.LeaveGame(ctx, args.GameID, args.UserID))
}

func (gs *GameService) StartGame(args *GameArgs, reply *Ack) error {
	ctx, cancel := withTimeout()
	defer cancel()
	return ack(reply, gs.games.StartGame(ctx, args.GameID))
}

func (gs *GameService) EndGame(args *GameArgs, reply *Ack) error {
	ctx, cancel := withTimeout()
	defer cancel()
	return ack(reply, gs.games.EndGame(ctx, args.GameID))
}

func (gs *GameService) CastVote(args *VoteArgs, reply *Ack) error {
	ctx, cancel := withTimeout()
	defer cancel()
	return ack(reply, gs.games.CastVote(ctx, args.GameID, args.VoterID, args.TargetID))
}

func (gs *GameService) RetractVote(args *PlayerArgs, reply *Ack) error {
	ctx, cancel := withTimeout()
	defer cancel()
	return ack(reply, gs.games.RetractVote(ctx, args.GameID, args.UserID))
}

func (gs *GameService) GetVoteTally(args *GameArgs, reply *TallyReply) error {
	ctx, cancel := withTimeout()
	defer cancel()
	ranking, err := gs.games.GetVoteTally(ctx, args.GameID)
	if err != nil {
		return err
	}
	reply.Ranking = ranking
	return nil
}

func (gs *GameService) AdvancePhase(args *GameArgs, reply *AdvanceReply) error {
	ctx, cancel := withTimeout()
	defer cancel()
	result, err := gs.games.AdvancePhase(ctx, args.GameID)
	if err != nil {
		return err
	}
	reply.Result = result
	return nil
}

func (gs *GameService) EliminatePlayer(args *PlayerArgs, reply *Ack) error {
	ctx, cancel := withTimeout()
	defer cancel()
	return ack(reply, gs.games.EliminatePlayer(ctx, args.GameID, args.UserID))
}

func (gs *GameService) ListPlayers(args *GameArgs, reply *PlayersReply) error {
	ctx, cancel := withTimeout()
	defer cancel()
	players, err := gs.games.ListPlayers(ctx, args.GameID)
	if err != nil {
		return err
	}
	reply.Players = players
	return nil
}

func (gs *GameService) AlivePlayers(args *GameArgs, reply *PlayersReply) error {
	ctx, cancel := withTimeout()
	defer cancel()
	players, err := gs.games.AlivePlayers(ctx, args.GameID)
	if err != nil {
		return err
	}
	reply.Players = players
	return nil
}

func (gs *GameService) ServerConfig(args *GuildArgs, reply *ServerConfigReply) error {
	ctx, cancel := withTimeout()
	defer cancel()
	cfg, err := gs.games.ServerConfig(ctx, args.GuildID)
	if err != nil {
		return err
	}
	if cfg != nil {
		reply.Found, reply.Config = true, *cfg
	}
	return nil
}

func (gs *GameService) SetupServer(args *models.ServerConfig, reply *Ack) error {
	ctx, cancel := withTimeout()
	defer cancel()
	return ack(reply, gs.games.SetupServer(ctx, *args))
}

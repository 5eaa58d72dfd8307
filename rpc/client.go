package rpc

import (
	"context"
	"errors"
	"fmt"
	"net/rpc"
	"strings"

	"github.com/wfunc/werewolfserver/models"
	"github.com/wfunc/werewolfserver/services"
	"github.com/wfunc/werewolfserver/tally"
)

// Client calls a remote GameService. Errors that name a services sentinel
// come back wrapping it, so errors.Is works across the wire.
type Client struct {
	rpc *rpc.Client
}

func Dial(addr string) (*Client, error) {
	c, err := rpc.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Client{rpc: c}, nil
}

func (c *Client) Close() error {
	return c.rpc.Close()
}

func (c *Client) call(ctx context.Context, method string, args, reply interface{}) error {
	call := c.rpc.Go(ServiceName+"."+method, args, reply, make(chan *rpc.Call, 1))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case done := <-call.Done:
		return mapError(done.Error)
	}
}

// mapError restores the sentinel a server error message starts with.
func mapError(err error) error {
	var serverErr rpc.ServerError
	if !errors.As(err, &serverErr) {
		return err
	}
	msg := string(serverErr)
	for _, sentinel := range services.Errors {
		if prefix := sentinel.Error(); strings.HasPrefix(msg, prefix) {
			return fmt.Errorf("%w%s", sentinel, strings.TrimPrefix(msg, prefix))
		}
	}
	return err
}

func (c *Client) GetActiveGame(ctx context.Context, guildID int64) (*models.GameState, error) {
	var reply GameStateReply
	if err := c.call(ctx, "GetActiveGame", &GuildArgs{GuildID: guildID}, &reply); err != nil {
		return nil, err
	}
	if !reply.Found {
		return nil, nil
	}
	return &reply.State, nil
}

func (c *Client) CreateGame(ctx context.Context, guildID, creatorID int64) (int64, error) {
	var reply GameIDReply
	err := c.call(ctx, "CreateGame", &CreateGameArgs{GuildID: guildID, CreatorID: creatorID}, &reply)
	return reply.GameID, err
}

func (c *Client) JoinGame(ctx context.Context, gameID, userID int64) error {
	return c.call(ctx, "JoinGame", &PlayerArgs{GameID: gameID, UserID: userID}, &Ack{})
}

func (c *Client) LeaveGame(ctx context.Context, gameID, userID int64) error {
	return c.call(ctx, "LeaveGame", &PlayerArgs{GameID: gameID, UserID: userID}, &Ack{})
}

func (c *Client) StartGame(ctx context.Context, gameID int64) error {
	return c.call(ctx, "StartGame", &GameArgs{GameID: gameID}, &Ack{})
}

func (c *Client) EndGame(ctx context.Context, gameID int64) error {
	return c.call(ctx, "EndGame", &GameArgs{GameID: gameID}, &Ack{})
}

func (c *Client) CastVote(ctx context.Context, gameID, voterID, targetID int64) error {
	return c.call(ctx, "CastVote", &VoteArgs{GameID: gameID, VoterID: voterID, TargetID: targetID}, &Ack{})
}

func (c *Client) RetractVote(ctx context.Context, gameID, voterID int64) error {
	return c.call(ctx, "RetractVote", &PlayerArgs{GameID: gameID, UserID: voterID}, &Ack{})
}

func (c *Client) GetVoteTally(ctx context.Context, gameID int64) (tally.Ranking, error) {
	var reply TallyReply
	err := c.call(ctx, "GetVoteTally", &GameArgs{GameID: gameID}, &reply)
	return reply.Ranking, err
}

func (c *Client) AdvancePhase(ctx context.Context, gameID int64) (services.AdvanceResult, error) {
	var reply AdvanceReply
	err := c.call(ctx, "AdvancePhase", &GameArgs{GameID: gameID}, &reply)
	return reply.Result, err
}

func (c *Client) EliminatePlayer(ctx context.Context, gameID, userID int64) error {
	return c.call(ctx, "EliminatePlayer", &PlayerArgs{GameID: gameID, UserID: userID}, &Ack{})
}

func (c *Client) ListPlayers(ctx context.Context, gameID int64) ([]models.Player, error) {
	var reply PlayersReply
	err := c.call(ctx, "ListPlayers", &GameArgs{GameID: gameID}, &reply)
	return reply.Players, err
}

func (c *Client) AlivePlayers(ctx context.Context, gameID int64) ([]models.Player, error) {
	var reply PlayersReply
	err := c.call(ctx, "AlivePlayers", &GameArgs{GameID: gameID}, &reply)
	return reply.Players, err
}

func (c *Client) RefreshGame(ctx context.Context, guildID int64) (*models.GameState, error) {
	var reply GameStateReply
	if err := c.call(ctx, "RefreshGame", &GuildArgs{GuildID: guildID}, &reply); err != nil {
		return nil, err
	}
	if !reply.Found {
		return nil, nil
	}
	return &reply.State, nil
}

func (c *Client) ServerConfig(ctx context.Context, guildID int64) (*models.ServerConfig, error) {
	var reply ServerConfigReply
	if err := c.call(ctx, "ServerConfig", &GuildArgs{GuildID: guildID}, &reply); err != nil {
		return nil, err
	}
	if !reply.Found {
		return nil, nil
	}
	return &reply.Config, nil
}

func (c *Client) SetupServer(ctx context.Context, cfg models.ServerConfig) error {
	return c.call(ctx, "SetupServer", &cfg, &Ack{})
}

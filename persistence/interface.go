// persistence/interface.go
package persistence

import (
	"context"
	"errors"

	"github.com/wfunc/werewolfserver/models"
)

// Store 持久化接口, the durable system of record for games, players and configs.
type Store interface {
	// LoadGame returns the guild's game in setup, signup or active status.
	LoadGame(ctx context.Context, guildID int64) (*models.Game, error)
	LoadGameByID(ctx context.Context, gameID int64) (*models.Game, error)
	// LoadPlayers returns the game's players ordered by user id.
	LoadPlayers(ctx context.Context, gameID int64) ([]models.Player, error)

	InsertGame(ctx context.Context, guildID, creatorID int64) (*models.Game, error)
	InsertPlayer(ctx context.Context, gameID, userID int64) error
	DeletePlayer(ctx context.Context, gameID, userID int64) (bool, error)
	SetVote(ctx context.Context, change VoteChange) (bool, error)
	SetAlive(ctx context.Context, gameID, userID int64, alive bool) (bool, error)

	TransitionPhase(ctx context.Context, change PhaseChange) (PhaseOutcome, error)
	TransitionStatus(ctx context.Context, change StatusChange) error

	LoadServerConfig(ctx context.Context, guildID int64) (*models.ServerConfig, error)
	UpsertServerConfig(ctx context.Context, cfg models.ServerConfig) error

	Close() error
}

// VoteChange sets or clears one voter's target.
//
// With a target the write only applies while the game is active, in the day
// phase and still on DayNumber, and while voter and target are both alive
// players of the game. Without a target it only applies if the voter
// currently has a vote.
type VoteChange struct {
	GameID    int64
	VoterID   int64
	TargetID  *int64
	DayNumber int
}

// PhaseChange is a compare-and-swap on (day_phase, day_number) of an active game.
type PhaseChange struct {
	GameID            int64
	ExpectedDayPhase  bool
	ExpectedDayNumber int
	NewDayPhase       bool
	NewDayNumber      int
	// ClearVotes resets every votes_for of the game in the same transaction.
	ClearVotes bool
}

// PhaseOutcome reports whether the swap applied and the players as they were
// immediately before it.
type PhaseOutcome struct {
	Applied bool
	Players []models.Player
}

// StatusChange moves a game from one of From to To.
//
// Moving to active also sets day 1 in the day phase; moving to ended stamps
// ended_at. MinPlayers, when positive, is checked in the same transaction.
type StatusChange struct {
	GameID     int64
	From       []models.GameStatus
	To         models.GameStatus
	MinPlayers int
}

func (c StatusChange) allows(s models.GameStatus) bool {
	for _, from := range c.From {
		if from == s {
			return true
		}
	}
	return false
}

// 错误定义
var (
	ErrRecordNotFound = errors.New("record not found")
	ErrDuplicate      = errors.New("duplicate record")
	// ErrStaleState means a conditional write found the row in another state.
	ErrStaleState    = errors.New("stale state")
	ErrTooFewPlayers = errors.New("too few players")
)

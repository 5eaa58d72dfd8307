// services/phase.go
package services

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/wfunc/werewolfserver/logger"
	"github.com/wfunc/werewolfserver/models"
	"github.com/wfunc/werewolfserver/persistence"
	"github.com/wfunc/werewolfserver/state"
	"github.com/wfunc/werewolfserver/tally"
)

// AdvanceResult is the game's phase after an advance.
//
// Applied is false when another caller advanced the game first; the phase
// fields then describe the state that caller produced. Ranking is set only
// for an applied day to night transition.
type AdvanceResult struct {
	GameID    int64         `json:"game_id"`
	GuildID   int64         `json:"guild_id"`
	DayPhase  bool          `json:"day_phase"`
	DayNumber int           `json:"day_number"`
	Ranking   tally.Ranking `json:"ranking,omitempty"`
	Applied   bool          `json:"applied"`
}

// EliminationHook receives the day's ranking after the night begins. The
// game passed in is the state after the transition.
type EliminationHook func(ctx context.Context, game models.Game, ranking tally.Ranking)

// PhaseEngine 昼夜推进. The store compare-and-swap on the observed phase
// decides which advance applies. The per-game lock is taken after the read
// and only queues callers' store round-trips within one process.
type PhaseEngine struct {
	*backend
	locks *gameLocks
	hook  EliminationHook
}

func newPhaseEngine(b *backend, hook EliminationHook) *PhaseEngine {
	return &PhaseEngine{backend: b, locks: newGameLocks(), hook: hook}
}

// Advance moves day N to night N, tallying and clearing the day's votes in
// the same store transaction, or night N to day N+1. If the game moved on
// since it was read, nothing is applied and the current phase is returned.
func (e *PhaseEngine) Advance(ctx context.Context, gameID int64) (_ AdvanceResult, err error) {
	ctx, span := e.startSpan(ctx, "AdvancePhase", attribute.Int64("game.id", gameID))
	defer func() { endSpan(span, err) }()

	// the advance is relative to the phase observed here; callers that
	// observed the same phase apply at most one transition between them
	game, err := e.loadGameByID(ctx, gameID)
	if err != nil {
		return AdvanceResult{}, err
	}
	if game.Status != models.StatusActive {
		return AdvanceResult{}, fmt.Errorf("%w: game %d is %s, not active", ErrInvalidState, gameID, game.Status)
	}

	unlock := e.locks.lock(gameID)
	defer unlock()

	nextDay, nextNumber := state.NextPhase(game.DayPhase, game.DayNumber)
	change := persistence.PhaseChange{
		GameID:            gameID,
		ExpectedDayPhase:  game.DayPhase,
		ExpectedDayNumber: game.DayNumber,
		NewDayPhase:       nextDay,
		NewDayNumber:      nextNumber,
		ClearVotes:        game.DayPhase,
	}

	var outcome persistence.PhaseOutcome
	err = e.call(ctx, "transition_phase", func(ctx context.Context) (err error) {
		outcome, err = e.store.TransitionPhase(ctx, change)
		return err
	})
	if errors.Is(err, persistence.ErrRecordNotFound) {
		return AdvanceResult{}, fmt.Errorf("%w: %d", ErrGameNotFound, gameID)
	}
	if err != nil {
		return AdvanceResult{}, err
	}

	e.cache.InvalidateGame(game.GuildID)
	e.metrics.PhaseTransition(outcome.Applied)

	if !outcome.Applied {
		current, err := e.loadGameByID(ctx, gameID)
		if err != nil {
			return AdvanceResult{}, err
		}
		// the swap also fails when the game ended under us; that is not a phase race
		if current.Status != models.StatusActive {
			return AdvanceResult{}, fmt.Errorf("%w: game %d is %s, not active", ErrInvalidState, gameID, current.Status)
		}
		logger.Log.Infow("phase advance lost race", "game_id", gameID, "day_phase", current.DayPhase, "day", current.DayNumber)
		return AdvanceResult{
			GameID:    gameID,
			GuildID:   current.GuildID,
			DayPhase:  current.DayPhase,
			DayNumber: current.DayNumber,
		}, nil
	}

	result := AdvanceResult{
		GameID:    gameID,
		GuildID:   game.GuildID,
		DayPhase:  nextDay,
		DayNumber: nextNumber,
		Applied:   true,
	}
	if change.ClearVotes {
		result.Ranking = tally.FromPlayers(outcome.Players)
	}
	logger.Log.Infow("phase advanced", "game_id", gameID, "day_phase", nextDay, "day", nextNumber, "votes", result.Ranking.Total())

	if change.ClearVotes && e.hook != nil {
		after := *game
		after.DayPhase, after.DayNumber = nextDay, nextNumber
		e.hook(ctx, after, result.Ranking)
	}
	return result, nil
}

// services/game_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/wfunc/werewolfserver/cache"
	"github.com/wfunc/werewolfserver/logger"
	"github.com/wfunc/werewolfserver/models"
	"github.com/wfunc/werewolfserver/persistence"
	"github.com/wfunc/werewolfserver/state"
	"github.com/wfunc/werewolfserver/tally"
)

const (
	DefaultMinPlayers   = 3
	DefaultStoreTimeout = 5 * time.Second
)

type Options struct {
	Store persistence.Store
	// Cache defaults to a cache.GameCache with default sizes.
	Cache   StateCache
	Metrics Metrics
	// MinPlayers needed to start a game.
	MinPlayers   int
	StoreTimeout time.Duration
	// OnEliminate runs after each committed day to night transition.
	OnEliminate EliminationHook
}

// GameService 游戏会话管理, the entry point for everything that reads or
// changes a game. Every mutation is written to the store first and the
// guild's cached state is invalidated after the write returns.
type GameService struct {
	*backend
	machine    *state.Machine
	minPlayers int
	phase      *PhaseEngine
}

func NewGameService(opts Options) *GameService {
	if opts.Cache == nil {
		opts.Cache = cache.New(cache.DefaultOptions())
	}
	if opts.MinPlayers <= 0 {
		opts.MinPlayers = DefaultMinPlayers
	}
	b := newBackend(opts.Store, opts.Cache, opts.Metrics, opts.StoreTimeout)
	return &GameService{
		backend:    b,
		machine:    state.NewGameMachine(),
		minPlayers: opts.MinPlayers,
		phase:      newPhaseEngine(b, opts.OnEliminate),
	}
}

// GetActiveGame returns the guild's game in setup, signup or active status,
// or nil when there is none.
func (s *GameService) GetActiveGame(ctx context.Context, guildID int64) (_ *models.GameState, err error) {
	if st, ok := s.cache.GetGame(guildID); ok {
		s.metrics.CacheRequest("game", true)
		return &st, nil
	}
	s.metrics.CacheRequest("game", false)

	ctx, span := s.startSpan(ctx, "GetActiveGame", attribute.Int64("guild.id", guildID))
	defer func() { endSpan(span, err) }()

	// read the epoch before the store so an invalidate in between wins
	epoch := s.cache.Epoch()

	var game *models.Game
	err = s.call(ctx, "load_game", func(ctx context.Context) (err error) {
		game, err = s.store.LoadGame(ctx, guildID)
		return err
	})
	if errors.Is(err, persistence.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	players, err := s.loadPlayers(ctx, game.GameID)
	if err != nil {
		return nil, err
	}

	st := models.GameState{Game: *game, Players: players}
	s.cache.SetGameIf(guildID, epoch, st)
	return &st, nil
}

// RefreshGame drops the guild's cached state and reloads it from the store.
func (s *GameService) RefreshGame(ctx context.Context, guildID int64) (*models.GameState, error) {
	s.cache.InvalidateGame(guildID)
	return s.GetActiveGame(ctx, guildID)
}

// CreateGame opens a signup for the guild. ErrConflict if the guild already
// has a game that has not ended.
func (s *GameService) CreateGame(ctx context.Context, guildID, creatorID int64) (_ int64, err error) {
	ctx, span := s.startSpan(ctx, "CreateGame", attribute.Int64("guild.id", guildID))
	defer func() { endSpan(span, err) }()

	// check the store, never the cache
	var existing *models.Game
	err = s.call(ctx, "load_game", func(ctx context.Context) (err error) {
		existing, err = s.store.LoadGame(ctx, guildID)
		return err
	})
	switch {
	case err == nil:
		return 0, fmt.Errorf("%w: guild %d already has game %d (%s)", ErrConflict, guildID, existing.GameID, existing.Status)
	case !errors.Is(err, persistence.ErrRecordNotFound):
		return 0, err
	}

	var game *models.Game
	err = s.call(ctx, "insert_game", func(ctx context.Context) (err error) {
		game, err = s.store.InsertGame(ctx, guildID, creatorID)
		return err
	})
	if errors.Is(err, persistence.ErrDuplicate) {
		return 0, fmt.Errorf("%w: guild %d already has an open game", ErrConflict, guildID)
	}
	if err != nil {
		return 0, err
	}

	s.cache.InvalidateGame(guildID)
	s.metrics.GameCreated()
	logger.Log.Infow("game created", "guild_id", guildID, "game_id", game.GameID, "created_by", creatorID)
	return game.GameID, nil
}

// JoinGame adds userID as an alive player. Only allowed during signup.
func (s *GameService) JoinGame(ctx context.Context, gameID, userID int64) (err error) {
	ctx, span := s.startSpan(ctx, "JoinGame", attribute.Int64("game.id", gameID), attribute.Int64("user.id", userID))
	defer func() { endSpan(span, err) }()

	game, err := s.loadGameByID(ctx, gameID)
	if err != nil {
		return err
	}
	if game.Status != models.StatusSignup {
		return fmt.Errorf("%w: game %d is %s, not signup", ErrInvalidState, gameID, game.Status)
	}

	err = s.call(ctx, "insert_player", func(ctx context.Context) error {
		return s.store.InsertPlayer(ctx, gameID, userID)
	})
	switch {
	case errors.Is(err, persistence.ErrDuplicate):
		return fmt.Errorf("%w: user %d in game %d", ErrAlreadyJoined, userID, gameID)
	case errors.Is(err, persistence.ErrStaleState):
		return fmt.Errorf("%w: game %d left signup", ErrInvalidState, gameID)
	case errors.Is(err, persistence.ErrRecordNotFound):
		return fmt.Errorf("%w: %d", ErrGameNotFound, gameID)
	case err != nil:
		return err
	}

	s.cache.InvalidateGame(game.GuildID)
	logger.Log.Infow("player joined", "game_id", gameID, "user_id", userID)
	return nil
}

// LeaveGame removes userID in any status. Votes that target the leaver stay
// in place and are ignored by the tally.
func (s *GameService) LeaveGame(ctx context.Context, gameID, userID int64) (err error) {
	ctx, span := s.startSpan(ctx, "LeaveGame", attribute.Int64("game.id", gameID), attribute.Int64("user.id", userID))
	defer func() { endSpan(span, err) }()

	game, err := s.loadGameByID(ctx, gameID)
	if err != nil {
		return err
	}

	var deleted bool
	err = s.call(ctx, "delete_player", func(ctx context.Context) (err error) {
		deleted, err = s.store.DeletePlayer(ctx, gameID, userID)
		return err
	})
	if err != nil {
		return err
	}
	if !deleted {
		return fmt.Errorf("%w: user %d in game %d", ErrNotAPlayer, userID, gameID)
	}

	s.cache.InvalidateGame(game.GuildID)
	logger.Log.Infow("player left", "game_id", gameID, "user_id", userID)
	return nil
}

// StartGame moves a signup to active, day 1. The player count is checked in
// the same store transaction as the status change.
func (s *GameService) StartGame(ctx context.Context, gameID int64) (err error) {
	ctx, span := s.startSpan(ctx, "StartGame", attribute.Int64("game.id", gameID))
	defer func() { endSpan(span, err) }()

	game, err := s.transitionStatus(ctx, gameID, models.StatusActive, s.minPlayers)
	if err != nil {
		return err
	}
	logger.Log.Infow("game started", "guild_id", game.GuildID, "game_id", gameID)
	return nil
}

// EndGame marks the game ended and stamps ended_at. Ending twice is ErrInvalidState.
func (s *GameService) EndGame(ctx context.Context, gameID int64) (err error) {
	ctx, span := s.startSpan(ctx, "EndGame", attribute.Int64("game.id", gameID))
	defer func() { endSpan(span, err) }()

	game, err := s.transitionStatus(ctx, gameID, models.StatusEnded, 0)
	if err != nil {
		return err
	}
	logger.Log.Infow("game ended", "guild_id", game.GuildID, "game_id", gameID)
	return nil
}

func (s *GameService) transitionStatus(ctx context.Context, gameID int64, to models.GameStatus, minPlayers int) (*models.Game, error) {
	game, err := s.loadGameByID(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if err := s.machine.Check(*game, to); err != nil {
		return nil, fmt.Errorf("%w: game %d: %w", ErrInvalidState, gameID, err)
	}

	err = s.call(ctx, "transition_status", func(ctx context.Context) error {
		return s.store.TransitionStatus(ctx, persistence.StatusChange{
			GameID:     gameID,
			From:       s.machine.Sources(to),
			To:         to,
			MinPlayers: minPlayers,
		})
	})
	switch {
	case errors.Is(err, persistence.ErrTooFewPlayers):
		return nil, fmt.Errorf("%w: game %d needs %d players", ErrInsufficientPlayers, gameID, minPlayers)
	case errors.Is(err, persistence.ErrStaleState):
		return nil, fmt.Errorf("%w: game %d changed status concurrently", ErrInvalidState, gameID)
	case errors.Is(err, persistence.ErrRecordNotFound):
		return nil, fmt.Errorf("%w: %d", ErrGameNotFound, gameID)
	case err != nil:
		return nil, err
	}

	s.cache.InvalidateGame(game.GuildID)
	return game, nil
}

// CastVote points voterID at targetID, replacing any earlier vote. Voting is
// only open during the day of an active game.
func (s *GameService) CastVote(ctx context.Context, gameID, voterID, targetID int64) (err error) {
	ctx, span := s.startSpan(ctx, "CastVote",
		attribute.Int64("game.id", gameID), attribute.Int64("voter.id", voterID), attribute.Int64("target.id", targetID))
	defer func() { endSpan(span, err) }()

	st, err := s.loadState(ctx, gameID)
	if err != nil {
		return err
	}
	if st.Status != models.StatusActive || !st.DayPhase {
		return fmt.Errorf("%w: game %d is not in an active day", ErrInvalidState, gameID)
	}
	voter, ok := st.Player(voterID)
	if !ok {
		return fmt.Errorf("%w: user %d in game %d", ErrNotAPlayer, voterID, gameID)
	}
	if !voter.IsAlive {
		return fmt.Errorf("%w: voter %d", ErrDeadPlayer, voterID)
	}
	if voterID == targetID {
		return fmt.Errorf("%w: user %d", ErrSelfVote, voterID)
	}
	target, ok := st.Player(targetID)
	if !ok {
		return fmt.Errorf("%w: user %d in game %d", ErrUnknownPlayer, targetID, gameID)
	}
	if !target.IsAlive {
		return fmt.Errorf("%w: target %d", ErrDeadPlayer, targetID)
	}

	var applied bool
	err = s.call(ctx, "set_vote", func(ctx context.Context) (err error) {
		applied, err = s.store.SetVote(ctx, persistence.VoteChange{
			GameID:    gameID,
			VoterID:   voterID,
			TargetID:  &targetID,
			DayNumber: st.DayNumber,
		})
		return err
	})
	if err != nil {
		return err
	}
	if !applied {
		return s.rejectedVote(ctx, gameID, voterID, targetID, st.DayNumber)
	}

	s.cache.InvalidateGame(st.GuildID)
	s.metrics.VoteCast()
	logger.Log.Debugw("vote cast", "game_id", gameID, "voter_id", voterID, "target_id", targetID, "day", st.DayNumber)
	return nil
}

// rejectedVote explains a vote the store refused: the game, the voter or the
// target changed between CastVote's read and its write.
func (s *GameService) rejectedVote(ctx context.Context, gameID, voterID, targetID int64, day int) error {
	st, err := s.loadState(ctx, gameID)
	if err != nil {
		return err
	}
	if st.Status != models.StatusActive || !st.DayPhase || st.DayNumber != day {
		return fmt.Errorf("%w: day %d of game %d is over", ErrInvalidState, day, gameID)
	}
	voter, ok := st.Player(voterID)
	if !ok {
		return fmt.Errorf("%w: user %d in game %d", ErrNotAPlayer, voterID, gameID)
	}
	if !voter.IsAlive {
		return fmt.Errorf("%w: voter %d", ErrDeadPlayer, voterID)
	}
	target, ok := st.Player(targetID)
	if !ok {
		return fmt.Errorf("%w: user %d in game %d", ErrUnknownPlayer, targetID, gameID)
	}
	if !target.IsAlive {
		return fmt.Errorf("%w: target %d", ErrDeadPlayer, targetID)
	}
	return fmt.Errorf("%w: vote in game %d changed concurrently", ErrInvalidState, gameID)
}

// RetractVote clears voterID's vote. ErrNoVote if there is none.
func (s *GameService) RetractVote(ctx context.Context, gameID, voterID int64) (err error) {
	ctx, span := s.startSpan(ctx, "RetractVote", attribute.Int64("game.id", gameID), attribute.Int64("voter.id", voterID))
	defer func() { endSpan(span, err) }()

	st, err := s.loadState(ctx, gameID)
	if err != nil {
		return err
	}
	voter, ok := st.Player(voterID)
	if !ok {
		return fmt.Errorf("%w: user %d in game %d", ErrNotAPlayer, voterID, gameID)
	}
	if !voter.HasVote() {
		return fmt.Errorf("%w: user %d", ErrNoVote, voterID)
	}

	var applied bool
	err = s.call(ctx, "set_vote", func(ctx context.Context) (err error) {
		applied, err = s.store.SetVote(ctx, persistence.VoteChange{GameID: gameID, VoterID: voterID})
		return err
	})
	if err != nil {
		return err
	}
	if !applied {
		return fmt.Errorf("%w: user %d", ErrNoVote, voterID)
	}

	s.cache.InvalidateGame(st.GuildID)
	s.metrics.VoteRetracted()
	logger.Log.Debugw("vote retracted", "game_id", gameID, "voter_id", voterID)
	return nil
}

// GetVoteTally ranks the votes currently cast in the game.
func (s *GameService) GetVoteTally(ctx context.Context, gameID int64) (_ tally.Ranking, err error) {
	ctx, span := s.startSpan(ctx, "GetVoteTally", attribute.Int64("game.id", gameID))
	defer func() { endSpan(span, err) }()

	players, err := s.ListPlayers(ctx, gameID)
	if err != nil {
		return nil, err
	}
	return tally.FromPlayers(players), nil
}

// AdvancePhase flips day and night. See PhaseEngine.
func (s *GameService) AdvancePhase(ctx context.Context, gameID int64) (AdvanceResult, error) {
	return s.phase.Advance(ctx, gameID)
}

// ListPlayers returns the roster ordered by user id.
func (s *GameService) ListPlayers(ctx context.Context, gameID int64) ([]models.Player, error) {
	st, err := s.loadState(ctx, gameID)
	if err != nil {
		return nil, err
	}
	return st.Players, nil
}

func (s *GameService) AlivePlayers(ctx context.Context, gameID int64) ([]models.Player, error) {
	st, err := s.loadState(ctx, gameID)
	if err != nil {
		return nil, err
	}
	return st.AlivePlayers(), nil
}

// EliminatePlayer marks a player of an active game dead. It is the only path
// that clears is_alive; the day tally never does it on its own.
func (s *GameService) EliminatePlayer(ctx context.Context, gameID, userID int64) (err error) {
	ctx, span := s.startSpan(ctx, "EliminatePlayer", attribute.Int64("game.id", gameID), attribute.Int64("user.id", userID))
	defer func() { endSpan(span, err) }()

	st, err := s.loadState(ctx, gameID)
	if err != nil {
		return err
	}
	if st.Status != models.StatusActive {
		return fmt.Errorf("%w: game %d is %s", ErrInvalidState, gameID, st.Status)
	}
	player, ok := st.Player(userID)
	if !ok {
		return fmt.Errorf("%w: user %d in game %d", ErrNotAPlayer, userID, gameID)
	}
	if !player.IsAlive {
		return fmt.Errorf("%w: user %d", ErrDeadPlayer, userID)
	}

	var applied bool
	err = s.call(ctx, "set_alive", func(ctx context.Context) (err error) {
		applied, err = s.store.SetAlive(ctx, gameID, userID, false)
		return err
	})
	if err != nil {
		return err
	}
	if !applied {
		return fmt.Errorf("%w: user %d", ErrDeadPlayer, userID)
	}

	s.cache.InvalidateGame(st.GuildID)
	logger.Log.Infow("player eliminated", "game_id", gameID, "user_id", userID, "day", st.DayNumber)
	return nil
}

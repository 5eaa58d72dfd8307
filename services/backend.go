// services/backend.go
package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wfunc/werewolfserver/models"
	"github.com/wfunc/werewolfserver/persistence"
	"github.com/wfunc/werewolfserver/telemetry"
)

// StateCache is the read-through mirror in front of the store. *cache.GameCache
// implements it.
type StateCache interface {
	GetGame(guildID int64) (models.GameState, bool)
	Epoch() uint64
	SetGameIf(guildID int64, epoch uint64, state models.GameState) bool
	InvalidateGame(guildID int64)

	GetServerConfig(guildID int64) (models.ServerConfig, bool)
	ConfigEpoch() uint64
	SetServerConfigIf(guildID int64, epoch uint64, cfg models.ServerConfig) bool
	InvalidateServerConfig(guildID int64)
}

// Metrics receives service events. *monitor.Monitor implements it.
type Metrics interface {
	CacheRequest(kind string, hit bool)
	GameCreated()
	VoteCast()
	VoteRetracted()
	PhaseTransition(applied bool)
	ObserveStore(op string, duration time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) CacheRequest(string, bool)          {}
func (nopMetrics) GameCreated()                       {}
func (nopMetrics) VoteCast()                          {}
func (nopMetrics) VoteRetracted()                     {}
func (nopMetrics) PhaseTransition(bool)               {}
func (nopMetrics) ObserveStore(string, time.Duration) {}

// backend is what the manager and the phase engine share: the store behind a
// timeout, the cache, metrics and tracing.
type backend struct {
	store        persistence.Store
	cache        StateCache
	metrics      Metrics
	storeTimeout time.Duration
	tracer       trace.Tracer
}

// call runs one store operation under the store timeout. Store sentinels are
// returned as-is for the caller to translate; anything else becomes
// ErrStoreTimeout or ErrStoreUnavailable.
func (b *backend) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, b.storeTimeout)
	defer cancel()

	start := time.Now()
	err := fn(callCtx)
	b.metrics.ObserveStore(op, time.Since(start))

	switch {
	case err == nil:
		return nil
	case errors.Is(err, persistence.ErrRecordNotFound),
		errors.Is(err, persistence.ErrDuplicate),
		errors.Is(err, persistence.ErrStaleState),
		errors.Is(err, persistence.ErrTooFewPlayers):
		return err
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled), callCtx.Err() != nil:
		return fmt.Errorf("%w: %s: %w", ErrStoreTimeout, op, err)
	default:
		return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
	}
}

// loadGameByID maps a missing row to ErrGameNotFound.
func (b *backend) loadGameByID(ctx context.Context, gameID int64) (*models.Game, error) {
	var game *models.Game
	err := b.call(ctx, "load_game_by_id", func(ctx context.Context) (err error) {
		game, err = b.store.LoadGameByID(ctx, gameID)
		return err
	})
	if errors.Is(err, persistence.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrGameNotFound, gameID)
	}
	return game, err
}

func (b *backend) loadPlayers(ctx context.Context, gameID int64) ([]models.Player, error) {
	var players []models.Player
	err := b.call(ctx, "load_players", func(ctx context.Context) (err error) {
		players, err = b.store.LoadPlayers(ctx, gameID)
		return err
	})
	return players, err
}

// loadState reads a game and its roster from the store, never the cache.
func (b *backend) loadState(ctx context.Context, gameID int64) (*models.GameState, error) {
	game, err := b.loadGameByID(ctx, gameID)
	if err != nil {
		return nil, err
	}
	players, err := b.loadPlayers(ctx, gameID)
	if err != nil {
		return nil, err
	}
	return &models.GameState{Game: *game, Players: players}, nil
}

func (b *backend) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return b.tracer.Start(ctx, "GameService."+name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func newBackend(store persistence.Store, cache StateCache, metrics Metrics, storeTimeout time.Duration) *backend {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if storeTimeout <= 0 {
		storeTimeout = DefaultStoreTimeout
	}
	return &backend{
		store:        store,
		cache:        cache,
		metrics:      metrics,
		storeTimeout: storeTimeout,
		tracer:       telemetry.Tracer(),
	}
}

// gameLocks serializes callers per game id within one process.
type gameLocks struct {
	mu    sync.Mutex
	locks map[int64]*gameLock
}

type gameLock struct {
	mu   sync.Mutex
	refs int
}

func newGameLocks() *gameLocks {
	return &gameLocks{locks: make(map[int64]*gameLock)}
}

// lock blocks until gameID is free and returns the unlock func.
func (l *gameLocks) lock(gameID int64) func() {
	l.mu.Lock()
	entry, ok := l.locks[gameID]
	if !ok {
		entry = &gameLock{}
		l.locks[gameID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, gameID)
		}
		l.mu.Unlock()
	}
}

func (l *gameLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

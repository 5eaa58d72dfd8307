// persistence/memory.go
package persistence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/wfunc/werewolfserver/models"
)

// MemoryStore keeps everything in process. It follows the same conditional
// write rules as the SQL store and is used for local runs and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	nextID  int64
	games   map[int64]*models.Game
	players map[int64]map[int64]*models.Player // gameID -> userID -> player
	configs map[int64]models.ServerConfig
	now     func() time.Time
}

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		games:   make(map[int64]*models.Game),
		players: make(map[int64]map[int64]*models.Player),
		configs: make(map[int64]models.ServerConfig),
		now:     time.Now,
	}
}

func (m *MemoryStore) LoadGame(ctx context.Context, guildID int64) (*models.Game, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, g := range m.games {
		if g.GuildID == guildID && !g.Status.Terminal() {
			game := *g
			return &game, nil
		}
	}
	return nil, ErrRecordNotFound
}

func (m *MemoryStore) LoadGameByID(ctx context.Context, gameID int64) (*models.Game, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	g, ok := m.games[gameID]
	if !ok {
		return nil, ErrRecordNotFound
	}
	game := *g
	return &game, nil
}

func (m *MemoryStore) LoadPlayers(ctx context.Context, gameID int64) ([]models.Player, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked(gameID), nil
}

func (m *MemoryStore) snapshotLocked(gameID int64) []models.Player {
	roster := m.players[gameID]
	out := make([]models.Player, 0, len(roster))
	for _, p := range roster {
		player := *p
		if p.VotesFor != nil {
			target := *p.VotesFor
			player.VotesFor = &target
		}
		out = append(out, player)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func (m *MemoryStore) InsertGame(ctx context.Context, guildID, creatorID int64) (*models.Game, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, g := range m.games {
		if g.GuildID == guildID && !g.Status.Terminal() {
			return nil, ErrDuplicate
		}
	}

	m.nextID++
	game := &models.Game{
		GameID:    m.nextID,
		GuildID:   guildID,
		Status:    models.StatusSignup,
		CreatedBy: creatorID,
		DayPhase:  true,
		DayNumber: 0,
		CreatedAt: m.now(),
	}
	m.games[game.GameID] = game
	m.players[game.GameID] = make(map[int64]*models.Player)

	out := *game
	return &out, nil
}

func (m *MemoryStore) InsertPlayer(ctx context.Context, gameID, userID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	game, ok := m.games[gameID]
	if !ok {
		return ErrRecordNotFound
	}
	if game.Status != models.StatusSignup {
		return ErrStaleState
	}
	if _, exists := m.players[gameID][userID]; exists {
		return ErrDuplicate
	}
	m.players[gameID][userID] = &models.Player{
		GameID:   gameID,
		UserID:   userID,
		IsAlive:  true,
		JoinedAt: m.now(),
	}
	return nil
}

func (m *MemoryStore) DeletePlayer(ctx context.Context, gameID, userID int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.players[gameID][userID]; !exists {
		return false, nil
	}
	delete(m.players[gameID], userID)
	return true, nil
}

func (m *MemoryStore) SetVote(ctx context.Context, change VoteChange) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	player, ok := m.players[change.GameID][change.VoterID]
	if !ok {
		return false, nil
	}

	if change.TargetID == nil {
		if player.VotesFor == nil {
			return false, nil
		}
		player.VotesFor = nil
		return true, nil
	}

	game, ok := m.games[change.GameID]
	if !ok || game.Status != models.StatusActive || !game.DayPhase || game.DayNumber != change.DayNumber {
		return false, nil
	}
	if !player.IsAlive {
		return false, nil
	}
	if t, ok := m.players[change.GameID][*change.TargetID]; !ok || !t.IsAlive {
		return false, nil
	}
	target := *change.TargetID
	player.VotesFor = &target
	return true, nil
}

func (m *MemoryStore) SetAlive(ctx context.Context, gameID, userID int64, alive bool) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	player, ok := m.players[gameID][userID]
	if !ok || player.IsAlive == alive {
		return false, nil
	}
	player.IsAlive = alive
	return true, nil
}

func (m *MemoryStore) TransitionPhase(ctx context.Context, change PhaseChange) (PhaseOutcome, error) {
	if err := ctx.Err(); err != nil {
		return PhaseOutcome{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	game, ok := m.games[change.GameID]
	if !ok {
		return PhaseOutcome{}, ErrRecordNotFound
	}
	if game.Status != models.StatusActive ||
		game.DayPhase != change.ExpectedDayPhase ||
		game.DayNumber != change.ExpectedDayNumber {
		return PhaseOutcome{Applied: false}, nil
	}

	snapshot := m.snapshotLocked(change.GameID)
	game.DayPhase = change.NewDayPhase
	game.DayNumber = change.NewDayNumber
	if change.ClearVotes {
		for _, p := range m.players[change.GameID] {
			p.VotesFor = nil
		}
	}
	return PhaseOutcome{Applied: true, Players: snapshot}, nil
}

func (m *MemoryStore) TransitionStatus(ctx context.Context, change StatusChange) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	game, ok := m.games[change.GameID]
	if !ok {
		return ErrRecordNotFound
	}
	if !change.allows(game.Status) {
		return ErrStaleState
	}
	if change.MinPlayers > 0 && len(m.players[change.GameID]) < change.MinPlayers {
		return ErrTooFewPlayers
	}

	game.Status = change.To
	switch change.To {
	case models.StatusActive:
		game.DayPhase = true
		game.DayNumber = 1
	case models.StatusEnded:
		endedAt := m.now()
		game.EndedAt = &endedAt
	}
	return nil
}

func (m *MemoryStore) LoadServerConfig(ctx context.Context, guildID int64) (*models.ServerConfig, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	cfg, ok := m.configs[guildID]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return &cfg, nil
}

func (m *MemoryStore) UpsertServerConfig(ctx context.Context, cfg models.ServerConfig) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[cfg.GuildID] = cfg
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)

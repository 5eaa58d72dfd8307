// cache/cache.go
package cache

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/wfunc/werewolfserver/models"
)

// Options sizes the two caches. TTLs are absolute from insertion.
type Options struct {
	GameCapacity   int
	GameTTL        time.Duration
	ConfigCapacity int
	ConfigTTL      time.Duration
}

func DefaultOptions() Options {
	return Options{
		GameCapacity:   1000,
		GameTTL:        5 * time.Minute,
		ConfigCapacity: 10000,
		ConfigTTL:      30 * time.Minute,
	}
}

// GameCache 按 guild 缓存游戏状态和服务器配置
//
// It is a best-effort mirror of the store. Values are cloned on the way in and
// out, so callers never share slices with the cache.
type GameCache struct {
	games   *expirable.LRU[int64, models.GameState]
	configs *expirable.LRU[int64, models.ServerConfig]

	// mu orders fills against invalidations; the epochs count invalidations.
	mu          sync.Mutex
	epoch       uint64
	configEpoch uint64
}

func New(opts Options) *GameCache {
	defaults := DefaultOptions()
	if opts.GameCapacity <= 0 {
		opts.GameCapacity = defaults.GameCapacity
	}
	if opts.GameTTL <= 0 {
		opts.GameTTL = defaults.GameTTL
	}
	if opts.ConfigCapacity <= 0 {
		opts.ConfigCapacity = defaults.ConfigCapacity
	}
	if opts.ConfigTTL <= 0 {
		opts.ConfigTTL = defaults.ConfigTTL
	}

	return &GameCache{
		games:   expirable.NewLRU[int64, models.GameState](opts.GameCapacity, nil, opts.GameTTL),
		configs: expirable.NewLRU[int64, models.ServerConfig](opts.ConfigCapacity, nil, opts.ConfigTTL),
	}
}

func (c *GameCache) GetGame(guildID int64) (models.GameState, bool) {
	state, ok := c.games.Get(guildID)
	if !ok {
		return models.GameState{}, false
	}
	return state.Clone(), true
}

func (c *GameCache) SetGame(guildID int64, state models.GameState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.games.Add(guildID, state.Clone())
}

// Epoch returns a token for SetGameIf. Read it before loading from the store.
func (c *GameCache) Epoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

// SetGameIf stores state only if no invalidation happened since epoch was read.
func (c *GameCache) SetGameIf(guildID int64, epoch uint64, state models.GameState) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		return false
	}
	c.games.Add(guildID, state.Clone())
	return true
}

func (c *GameCache) InvalidateGame(guildID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	c.games.Remove(guildID)
}

func (c *GameCache) GetServerConfig(guildID int64) (models.ServerConfig, bool) {
	return c.configs.Get(guildID)
}

func (c *GameCache) SetServerConfig(guildID int64, cfg models.ServerConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.configs.Add(guildID, cfg)
}

func (c *GameCache) ConfigEpoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.configEpoch
}

func (c *GameCache) SetServerConfigIf(guildID int64, epoch uint64, cfg models.ServerConfig) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.configEpoch != epoch {
		return false
	}
	c.configs.Add(guildID, cfg)
	return true
}

func (c *GameCache) InvalidateServerConfig(guildID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.configEpoch++
	c.configs.Remove(guildID)
}

// Len reports the number of cached games and configs, expired entries included.
func (c *GameCache) Len() (games, configs int) {
	return c.games.Len(), c.configs.Len()
}

// Purge drops every entry.
func (c *GameCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	c.configEpoch++
	c.games.Purge()
	c.configs.Purge()
}

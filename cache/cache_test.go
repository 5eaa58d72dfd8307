package cache

import (
	"testing"
	"time"

	"github.com/wfunc/werewolfserver/models"
)

func testState(guildID int64, voter, target int64) models.GameState {
	return models.GameState{
		Game: models.Game{GameID: 1, GuildID: guildID, Status: models.StatusActive, DayPhase: true, DayNumber: 1},
		Players: []models.Player{
			{GameID: 1, UserID: voter, IsAlive: true, VotesFor: &target},
			{GameID: 1, UserID: target, IsAlive: true},
		},
	}
}

func TestGameCache_GetSetInvalidate(t *testing.T) {
	c := New(DefaultOptions())

	if _, ok := c.GetGame(42); ok {
		t.Fatal("Empty cache should miss")
	}

	c.SetGame(42, testState(42, 1, 2))
	got, ok := c.GetGame(42)
	if !ok {
		t.Fatal("Expected a hit after SetGame")
	}
	if got.GuildID != 42 || len(got.Players) != 2 {
		t.Errorf("Unexpected cached state: %+v", got)
	}

	c.InvalidateGame(42)
	if _, ok := c.GetGame(42); ok {
		t.Error("GetGame must miss after InvalidateGame even within the TTL")
	}
}

func TestGameCache_ReturnsCopies(t *testing.T) {
	c := New(DefaultOptions())
	state := testState(1, 1, 2)
	c.SetGame(1, state)

	// mutating the caller's value after Set must not leak into the cache
	*state.Players[0].VotesFor = 99

	got, _ := c.GetGame(1)
	if *got.Players[0].VotesFor != 2 {
		t.Fatalf("Cache shares memory with the caller, vote = %d", *got.Players[0].VotesFor)
	}

	got.Players[0].IsAlive = false
	again, _ := c.GetGame(1)
	if !again.Players[0].IsAlive {
		t.Error("Mutating a returned state must not change the cache")
	}
}

func TestGameCache_SetGameIfRejectsFillAfterInvalidate(t *testing.T) {
	c := New(DefaultOptions())

	epoch := c.Epoch()
	// an invalidation lands between the store read and the fill
	c.InvalidateGame(7)

	if c.SetGameIf(7, epoch, testState(7, 1, 2)) {
		t.Fatal("Fill with a stale epoch must be rejected")
	}
	if _, ok := c.GetGame(7); ok {
		t.Fatal("Rejected fill must not be visible")
	}

	if !c.SetGameIf(7, c.Epoch(), testState(7, 1, 2)) {
		t.Fatal("Fill with the current epoch should succeed")
	}
	if _, ok := c.GetGame(7); !ok {
		t.Error("Accepted fill should be visible")
	}
}

func TestGameCache_TTLExpiry(t *testing.T) {
	c := New(Options{GameTTL: 50 * time.Millisecond, ConfigTTL: 50 * time.Millisecond})
	c.SetGame(1, testState(1, 1, 2))
	c.SetServerConfig(1, models.ServerConfig{GuildID: 1, Prefix: "Wolf."})

	if _, ok := c.GetGame(1); !ok {
		t.Fatal("Expected a hit before the TTL")
	}

	time.Sleep(120 * time.Millisecond)

	if _, ok := c.GetGame(1); ok {
		t.Error("Game entry should expire after its TTL")
	}
	if _, ok := c.GetServerConfig(1); ok {
		t.Error("Config entry should expire after its TTL")
	}
}

func TestGameCache_CapacityEviction(t *testing.T) {
	c := New(Options{GameCapacity: 2})
	c.SetGame(1, testState(1, 1, 2))
	c.SetGame(2, testState(2, 1, 2))
	c.GetGame(1) // 1 is now most recently used
	c.SetGame(3, testState(3, 1, 2))

	if _, ok := c.GetGame(2); ok {
		t.Error("Least recently used entry should have been evicted")
	}
	if _, ok := c.GetGame(1); !ok {
		t.Error("Recently used entry should survive")
	}
	if _, ok := c.GetGame(3); !ok {
		t.Error("Newest entry should be present")
	}
}

func TestGameCache_ServerConfig(t *testing.T) {
	c := New(DefaultOptions())
	cfg := models.ServerConfig{GuildID: 5, Prefix: "Wolf.", StartingNumber: 1}

	epoch := c.ConfigEpoch()
	c.InvalidateServerConfig(5)
	if c.SetServerConfigIf(5, epoch, cfg) {
		t.Fatal("Config fill with a stale epoch must be rejected")
	}

	c.SetServerConfig(5, cfg)
	got, ok := c.GetServerConfig(5)
	if !ok || got != cfg {
		t.Fatalf("GetServerConfig = %+v, %v", got, ok)
	}

	c.InvalidateServerConfig(5)
	if _, ok := c.GetServerConfig(5); ok {
		t.Error("Config should miss after invalidation")
	}
}

func TestGameCache_Purge(t *testing.T) {
	c := New(DefaultOptions())
	c.SetGame(1, testState(1, 1, 2))
	c.SetServerConfig(1, models.ServerConfig{GuildID: 1})
	epoch := c.Epoch()

	c.Purge()

	if games, configs := c.Len(); games != 0 || configs != 0 {
		t.Errorf("Expected empty cache after Purge, got %d games and %d configs", games, configs)
	}
	if c.SetGameIf(1, epoch, testState(1, 1, 2)) {
		t.Error("Purge should invalidate outstanding fill tokens")
	}
}

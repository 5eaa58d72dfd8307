package persistence

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/wfunc/werewolfserver/models"
)

// runStoreContract exercises the behaviour every Store implementation shares.
// guildBase keeps guild ids unique when the backing database is reused.
func runStoreContract(t *testing.T, store Store, guildBase int64) {
	ctx := context.Background()

	t.Run("InsertGameRejectsSecondOpenGame", func(t *testing.T) {
		guild := guildBase + 1
		game, err := store.InsertGame(ctx, guild, 7)
		if err != nil {
			t.Fatalf("InsertGame failed: %v", err)
		}
		if game.Status != models.StatusSignup || !game.DayPhase || game.DayNumber != 0 {
			t.Errorf("Unexpected initial game: %+v", game)
		}

		if _, err := store.InsertGame(ctx, guild, 8); !errors.Is(err, ErrDuplicate) {
			t.Fatalf("Expected ErrDuplicate for a second open game, got %v", err)
		}

		if err := store.TransitionStatus(ctx, StatusChange{
			GameID: game.GameID,
			From:   models.OpenStatuses,
			To:     models.StatusEnded,
		}); err != nil {
			t.Fatalf("Ending game failed: %v", err)
		}
		if _, err := store.LoadGame(ctx, guild); !errors.Is(err, ErrRecordNotFound) {
			t.Errorf("Ended game should not be loaded as open, got %v", err)
		}
		ended, err := store.LoadGameByID(ctx, game.GameID)
		if err != nil {
			t.Fatalf("LoadGameByID failed: %v", err)
		}
		if ended.EndedAt == nil {
			t.Error("ended_at should be set when a game ends")
		}

		if _, err := store.InsertGame(ctx, guild, 9); err != nil {
			t.Errorf("A new game should be allowed after the previous one ended: %v", err)
		}
	})

	t.Run("ConcurrentInsertGameAdmitsOne", func(t *testing.T) {
		guild := guildBase + 2
		var wg sync.WaitGroup
		var mu sync.Mutex
		created, conflicts := 0, 0
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(creator int64) {
				defer wg.Done()
				_, err := store.InsertGame(ctx, guild, creator)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					created++
				case errors.Is(err, ErrDuplicate):
					conflicts++
				default:
					t.Errorf("Unexpected InsertGame error: %v", err)
				}
			}(int64(i))
		}
		wg.Wait()
		if created != 1 || conflicts != 7 {
			t.Errorf("Expected 1 created and 7 conflicts, got %d and %d", created, conflicts)
		}
	})

	t.Run("PlayersAndStatus", func(t *testing.T) {
		game, err := store.InsertGame(ctx, guildBase+3, 1)
		if err != nil {
			t.Fatalf("InsertGame failed: %v", err)
		}
		for _, uid := range []int64{30, 10, 20} {
			if err := store.InsertPlayer(ctx, game.GameID, uid); err != nil {
				t.Fatalf("InsertPlayer(%d) failed: %v", uid, err)
			}
		}
		if err := store.InsertPlayer(ctx, game.GameID, 10); !errors.Is(err, ErrDuplicate) {
			t.Errorf("Expected ErrDuplicate for a repeated join, got %v", err)
		}

		players, err := store.LoadPlayers(ctx, game.GameID)
		if err != nil {
			t.Fatalf("LoadPlayers failed: %v", err)
		}
		if len(players) != 3 || players[0].UserID != 10 || players[2].UserID != 30 {
			t.Fatalf("Players should be ordered by user id, got %+v", players)
		}
		for _, p := range players {
			if !p.IsAlive || p.VotesFor != nil {
				t.Errorf("New player should be alive without a vote: %+v", p)
			}
		}

		err = store.TransitionStatus(ctx, StatusChange{
			GameID:     game.GameID,
			From:       []models.GameStatus{models.StatusSignup},
			To:         models.StatusActive,
			MinPlayers: 4,
		})
		if !errors.Is(err, ErrTooFewPlayers) {
			t.Fatalf("Expected ErrTooFewPlayers, got %v", err)
		}

		if err := store.TransitionStatus(ctx, StatusChange{
			GameID:     game.GameID,
			From:       []models.GameStatus{models.StatusSignup},
			To:         models.StatusActive,
			MinPlayers: 3,
		}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		started, _ := store.LoadGameByID(ctx, game.GameID)
		if started.Status != models.StatusActive || started.DayNumber != 1 || !started.DayPhase {
			t.Errorf("Unexpected started game: %+v", started)
		}

		if err := store.InsertPlayer(ctx, game.GameID, 40); !errors.Is(err, ErrStaleState) {
			t.Errorf("Joining an active game should give ErrStaleState, got %v", err)
		}

		err = store.TransitionStatus(ctx, StatusChange{
			GameID: game.GameID,
			From:   []models.GameStatus{models.StatusSignup},
			To:     models.StatusActive,
		})
		if !errors.Is(err, ErrStaleState) {
			t.Errorf("Starting twice should give ErrStaleState, got %v", err)
		}

		deleted, err := store.DeletePlayer(ctx, game.GameID, 30)
		if err != nil || !deleted {
			t.Fatalf("DeletePlayer = %v, %v", deleted, err)
		}
		deleted, err = store.DeletePlayer(ctx, game.GameID, 30)
		if err != nil || deleted {
			t.Errorf("Deleting an absent player should report false, got %v, %v", deleted, err)
		}
	})

	t.Run("VotesAndPhase", func(t *testing.T) {
		game := startedGame(t, store, guildBase+4, 1, 2, 3)
		target := int64(2)

		applied, err := store.SetVote(ctx, VoteChange{GameID: game.GameID, VoterID: 1, TargetID: &target, DayNumber: 1})
		if err != nil || !applied {
			t.Fatalf("SetVote = %v, %v", applied, err)
		}
		applied, _ = store.SetVote(ctx, VoteChange{GameID: game.GameID, VoterID: 3, TargetID: &target, DayNumber: 1})
		if !applied {
			t.Fatal("Second vote should apply")
		}
		applied, _ = store.SetVote(ctx, VoteChange{GameID: game.GameID, VoterID: 1, TargetID: &target, DayNumber: 2})
		if applied {
			t.Error("A vote for a different day number must not apply")
		}
		applied, _ = store.SetVote(ctx, VoteChange{GameID: game.GameID, VoterID: 99, TargetID: &target, DayNumber: 1})
		if applied {
			t.Error("A vote from a non-player must not apply")
		}

		outcome, err := store.TransitionPhase(ctx, PhaseChange{
			GameID:            game.GameID,
			ExpectedDayPhase:  true,
			ExpectedDayNumber: 1,
			NewDayPhase:       false,
			NewDayNumber:      1,
			ClearVotes:        true,
		})
		if err != nil || !outcome.Applied {
			t.Fatalf("TransitionPhase = %+v, %v", outcome, err)
		}
		votes := 0
		for _, p := range outcome.Players {
			if p.VotesFor != nil {
				votes++
			}
		}
		if votes != 2 {
			t.Errorf("Snapshot should hold the 2 votes cast before clearing, got %d", votes)
		}

		players, _ := store.LoadPlayers(ctx, game.GameID)
		for _, p := range players {
			if p.VotesFor != nil {
				t.Errorf("Votes should be cleared after day ends, player %d still votes", p.UserID)
			}
		}

		again, err := store.TransitionPhase(ctx, PhaseChange{
			GameID:            game.GameID,
			ExpectedDayPhase:  true,
			ExpectedDayNumber: 1,
			NewDayPhase:       false,
			NewDayNumber:      1,
			ClearVotes:        true,
		})
		if err != nil || again.Applied {
			t.Errorf("Stale compare-and-swap must not apply, got %+v, %v", again, err)
		}

		applied, _ = store.SetVote(ctx, VoteChange{GameID: game.GameID, VoterID: 1, TargetID: &target, DayNumber: 1})
		if applied {
			t.Error("Votes must not apply during the night")
		}

		if _, err := store.TransitionPhase(ctx, PhaseChange{GameID: -1, ExpectedDayPhase: true}); !errors.Is(err, ErrRecordNotFound) {
			t.Errorf("Unknown game should give ErrRecordNotFound, got %v", err)
		}
	})

	t.Run("RetractAndAlive", func(t *testing.T) {
		game := startedGame(t, store, guildBase+5, 1, 2, 3)
		applied, err := store.SetVote(ctx, VoteChange{GameID: game.GameID, VoterID: 1})
		if err != nil || applied {
			t.Errorf("Clearing a missing vote should not apply, got %v, %v", applied, err)
		}
		target := int64(3)
		store.SetVote(ctx, VoteChange{GameID: game.GameID, VoterID: 1, TargetID: &target, DayNumber: 1})
		applied, _ = store.SetVote(ctx, VoteChange{GameID: game.GameID, VoterID: 1})
		if !applied {
			t.Error("Clearing an existing vote should apply")
		}

		changed, err := store.SetAlive(ctx, game.GameID, 2, false)
		if err != nil || !changed {
			t.Fatalf("SetAlive = %v, %v", changed, err)
		}
		changed, _ = store.SetAlive(ctx, game.GameID, 2, false)
		if changed {
			t.Error("Killing a dead player twice should not report a change")
		}
	})

	t.Run("VoteNeedsAliveVoterAndTarget", func(t *testing.T) {
		game := startedGame(t, store, guildBase+7, 1, 2, 3, 4)
		dead, gone := int64(3), int64(4)

		if _, err := store.SetAlive(ctx, game.GameID, dead, false); err != nil {
			t.Fatalf("SetAlive failed: %v", err)
		}
		if _, err := store.DeletePlayer(ctx, game.GameID, gone); err != nil {
			t.Fatalf("DeletePlayer failed: %v", err)
		}

		applied, err := store.SetVote(ctx, VoteChange{GameID: game.GameID, VoterID: 1, TargetID: &dead, DayNumber: 1})
		if err != nil || applied {
			t.Errorf("A vote for a dead player must not apply, got %v, %v", applied, err)
		}
		applied, err = store.SetVote(ctx, VoteChange{GameID: game.GameID, VoterID: 1, TargetID: &gone, DayNumber: 1})
		if err != nil || applied {
			t.Errorf("A vote for a departed player must not apply, got %v, %v", applied, err)
		}
		target := int64(2)
		applied, err = store.SetVote(ctx, VoteChange{GameID: game.GameID, VoterID: dead, TargetID: &target, DayNumber: 1})
		if err != nil || applied {
			t.Errorf("A dead voter's vote must not apply, got %v, %v", applied, err)
		}

		players, _ := store.LoadPlayers(ctx, game.GameID)
		for _, p := range players {
			if p.VotesFor != nil {
				t.Errorf("No vote should be stored, player %d votes for %d", p.UserID, *p.VotesFor)
			}
		}
	})

	t.Run("ServerConfigUpsert", func(t *testing.T) {
		guild := guildBase + 6
		if _, err := store.LoadServerConfig(ctx, guild); !errors.Is(err, ErrRecordNotFound) {
			t.Fatalf("Expected ErrRecordNotFound, got %v", err)
		}
		if err := store.UpsertServerConfig(ctx, models.ServerConfig{GuildID: guild, Prefix: "Wolf.", StartingNumber: 1}); err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}
		if err := store.UpsertServerConfig(ctx, models.ServerConfig{GuildID: guild, Prefix: "w!", StartingNumber: 4}); err != nil {
			t.Fatalf("Second upsert failed: %v", err)
		}
		cfg, err := store.LoadServerConfig(ctx, guild)
		if err != nil {
			t.Fatalf("LoadServerConfig failed: %v", err)
		}
		if cfg.Prefix != "w!" || cfg.StartingNumber != 4 {
			t.Errorf("Upsert should overwrite, got %+v", cfg)
		}
	})
}

func startedGame(t *testing.T, store Store, guild int64, users ...int64) *models.Game {
	t.Helper()
	ctx := context.Background()
	game, err := store.InsertGame(ctx, guild, users[0])
	if err != nil {
		t.Fatalf("InsertGame failed: %v", err)
	}
	for _, uid := range users {
		if err := store.InsertPlayer(ctx, game.GameID, uid); err != nil {
			t.Fatalf("InsertPlayer(%d) failed: %v", uid, err)
		}
	}
	if err := store.TransitionStatus(ctx, StatusChange{
		GameID: game.GameID,
		From:   []models.GameStatus{models.StatusSignup},
		To:     models.StatusActive,
	}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	return game
}

package tally

import (
	"math/rand"
	"reflect"
	"testing"

	"github.com/wfunc/werewolfserver/models"
)

func TestTally(t *testing.T) {
	tests := []struct {
		name  string
		alive []int64
		votes []Vote
		want  Ranking
	}{
		{
			name:  "no votes",
			alive: []int64{1, 2, 3},
			want:  Ranking{},
		},
		{
			name:  "two votes on one target",
			alive: []int64{1, 2, 3},
			votes: []Vote{{1, 2}, {3, 2}},
			want:  Ranking{{TargetID: 2, Votes: 2}},
		},
		{
			name:  "ties break by ascending target",
			alive: []int64{1, 2, 3, 4},
			votes: []Vote{{1, 4}, {2, 3}, {3, 4}, {4, 3}},
			want:  Ranking{{TargetID: 3, Votes: 2}, {TargetID: 4, Votes: 2}},
		},
		{
			name:  "dead voter ignored",
			alive: []int64{1, 2},
			votes: []Vote{{1, 2}, {3, 2}},
			want:  Ranking{{TargetID: 2, Votes: 1}},
		},
		{
			name:  "dead target ignored",
			alive: []int64{1, 2, 3},
			votes: []Vote{{1, 2}, {3, 5}},
			want:  Ranking{{TargetID: 2, Votes: 1}},
		},
		{
			name:  "duplicate voter counted once",
			alive: []int64{1, 2},
			votes: []Vote{{1, 2}, {1, 2}},
			want:  Ranking{{TargetID: 2, Votes: 1}},
		},
		{
			name:  "descending by count",
			alive: []int64{1, 2, 3, 4, 5},
			votes: []Vote{{1, 5}, {2, 3}, {4, 3}, {5, 3}, {3, 5}},
			want:  Ranking{{TargetID: 3, Votes: 3}, {TargetID: 5, Votes: 2}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Tally(tt.alive, tt.votes)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Tally() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestTally_OrderIndependent(t *testing.T) {
	alive := []int64{1, 2, 3, 4, 5, 6}
	votes := []Vote{{1, 2}, {2, 3}, {3, 2}, {4, 5}, {5, 2}, {6, 5}, {7, 2}, {1, 9}}
	want := Tally(alive, votes)

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 50; i++ {
		shuffled := append([]Vote(nil), votes...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		if got := Tally(alive, shuffled); !reflect.DeepEqual(got, want) {
			t.Fatalf("Tally depends on vote order: got %+v, want %+v", got, want)
		}
	}
}

func TestFromPlayers(t *testing.T) {
	two, three := int64(2), int64(3)
	players := []models.Player{
		{UserID: 1, IsAlive: true, VotesFor: &two},
		{UserID: 2, IsAlive: true},
		{UserID: 3, IsAlive: true, VotesFor: &two},
		{UserID: 4, IsAlive: false, VotesFor: &two}, // dead voter
		{UserID: 5, IsAlive: true, VotesFor: &three},
	}

	got := FromPlayers(players)
	want := Ranking{{TargetID: 2, Votes: 2}, {TargetID: 3, Votes: 1}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("FromPlayers() = %+v, want %+v", got, want)
	}
	if got.Total() != 3 {
		t.Errorf("Total() = %d, want 3", got.Total())
	}
}

func TestRanking_Leader(t *testing.T) {
	if _, ok := (Ranking{}).Leader(); ok {
		t.Error("Empty ranking has no leader")
	}
	if _, ok := (Ranking{{TargetID: 1, Votes: 2}, {TargetID: 2, Votes: 2}}).Leader(); ok {
		t.Error("Tied ranking has no leader")
	}
	leader, ok := (Ranking{{TargetID: 4, Votes: 3}, {TargetID: 2, Votes: 1}}).Leader()
	if !ok || leader.TargetID != 4 {
		t.Errorf("Leader() = %+v, %v", leader, ok)
	}
}

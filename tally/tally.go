// Package tally ranks day votes. It is pure: no store, cache or clock.
package tally

import (
	"sort"

	"github.com/wfunc/werewolfserver/models"
)

// Vote is one voter targeting one player.
type Vote struct {
	VoterID  int64 `json:"voter_id"`
	TargetID int64 `json:"target_id"`
}

// Entry is a target and the number of distinct alive voters on it.
type Entry struct {
	TargetID int64 `json:"target_id"`
	Votes    int   `json:"votes"`
}

// Ranking is ordered by Votes descending, then TargetID ascending.
type Ranking []Entry

// Tally counts votes between alive players. Votes from or to anyone not in
// alive are ignored, and a voter is counted once per target.
func Tally(alive []int64, votes []Vote) Ranking {
	aliveSet := make(map[int64]struct{}, len(alive))
	for _, id := range alive {
		aliveSet[id] = struct{}{}
	}

	voters := make(map[int64]map[int64]struct{})
	for _, v := range votes {
		if _, ok := aliveSet[v.VoterID]; !ok {
			continue
		}
		if _, ok := aliveSet[v.TargetID]; !ok {
			continue
		}
		if voters[v.TargetID] == nil {
			voters[v.TargetID] = make(map[int64]struct{})
		}
		voters[v.TargetID][v.VoterID] = struct{}{}
	}

	ranking := make(Ranking, 0, len(voters))
	for target, set := range voters {
		ranking = append(ranking, Entry{TargetID: target, Votes: len(set)})
	}
	sort.Slice(ranking, func(i, j int) bool {
		if ranking[i].Votes != ranking[j].Votes {
			return ranking[i].Votes > ranking[j].Votes
		}
		return ranking[i].TargetID < ranking[j].TargetID
	})
	return ranking
}

// FromPlayers tallies the votes_for of a player snapshot.
func FromPlayers(players []models.Player) Ranking {
	alive := make([]int64, 0, len(players))
	votes := make([]Vote, 0, len(players))
	for _, p := range players {
		if p.IsAlive {
			alive = append(alive, p.UserID)
		}
		if p.VotesFor != nil {
			votes = append(votes, Vote{VoterID: p.UserID, TargetID: *p.VotesFor})
		}
	}
	return Tally(alive, votes)
}

// Total is the number of counted votes.
func (r Ranking) Total() int {
	total := 0
	for _, e := range r {
		total += e.Votes
	}
	return total
}

// Leader returns the single top entry. It reports false when nobody was voted
// for or the top is tied.
func (r Ranking) Leader() (Entry, bool) {
	if len(r) == 0 {
		return Entry{}, false
	}
	if len(r) > 1 && r[1].Votes == r[0].Votes {
		return Entry{}, false
	}
	return r[0], true
}

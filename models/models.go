// models/models.go
package models

import (
	"time"
)

// GameStatus 游戏状态
type GameStatus string

const (
	StatusSetup  GameStatus = "setup"
	StatusSignup GameStatus = "signup"
	StatusActive GameStatus = "active"
	StatusEnded  GameStatus = "ended"
)

// OpenStatuses lists every status a guild's current game can be in.
var OpenStatuses = []GameStatus{StatusSetup, StatusSignup, StatusActive}

func (s GameStatus) Terminal() bool {
	return s == StatusEnded
}

func (s GameStatus) Valid() bool {
	switch s {
	case StatusSetup, StatusSignup, StatusActive, StatusEnded:
		return true
	}
	return false
}

func (s GameStatus) String() string {
	return string(s)
}

// Game 一局游戏
type Game struct {
	GameID    int64      `json:"game_id"`
	GuildID   int64      `json:"guild_id"`
	Status    GameStatus `json:"status"`
	CreatedBy int64      `json:"created_by"`
	DayPhase  bool       `json:"day_phase"` // true = day, false = night
	DayNumber int        `json:"day_number"`
	CreatedAt time.Time  `json:"created_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// PhaseName returns "day" or "night".
func (g Game) PhaseName() string {
	if g.DayPhase {
		return "day"
	}
	return "night"
}

// Player 玩家在某局游戏中的状态
type Player struct {
	GameID   int64     `json:"game_id"`
	UserID   int64     `json:"user_id"`
	RoleID   *int64    `json:"role_id,omitempty"`
	IsAlive  bool      `json:"is_alive"`
	VotesFor *int64    `json:"votes_for,omitempty"`
	JoinedAt time.Time `json:"joined_at"`
}

// HasVote reports whether the player currently targets someone.
func (p Player) HasVote() bool {
	return p.VotesFor != nil
}

// GameState is a game together with its players, ordered by user id.
type GameState struct {
	Game
	Players []Player `json:"players"`
}

// Player returns the player with the given user id.
func (s *GameState) Player(userID int64) (Player, bool) {
	for _, p := range s.Players {
		if p.UserID == userID {
			return p, true
		}
	}
	return Player{}, false
}

// AlivePlayers returns the alive subset, preserving order.
func (s *GameState) AlivePlayers() []Player {
	alive := make([]Player, 0, len(s.Players))
	for _, p := range s.Players {
		if p.IsAlive {
			alive = append(alive, p)
		}
	}
	return alive
}

// Clone returns a deep copy so cached values are never shared with callers.
func (s GameState) Clone() GameState {
	out := s
	if s.EndedAt != nil {
		endedAt := *s.EndedAt
		out.EndedAt = &endedAt
	}
	if s.Players != nil {
		out.Players = make([]Player, len(s.Players))
		for i, p := range s.Players {
			out.Players[i] = p.clone()
		}
	}
	return out
}

func (p Player) clone() Player {
	if p.RoleID != nil {
		roleID := *p.RoleID
		p.RoleID = &roleID
	}
	if p.VotesFor != nil {
		target := *p.VotesFor
		p.VotesFor = &target
	}
	return p
}

// ServerConfig 服务器(guild)配置
type ServerConfig struct {
	GuildID        int64  `json:"guild_id"`
	Prefix         string `json:"prefix"`
	StartingNumber int    `json:"starting_number"`
}

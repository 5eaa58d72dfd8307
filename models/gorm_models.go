// models/gorm_models.go
package models

import (
	"time"
)

// GormGame 游戏表
type GormGame struct {
	GameID    int64  `gorm:"column:game_id;primaryKey;autoIncrement"`
	GuildID   int64  `gorm:"column:guild_id;not null;index"`
	Status    string `gorm:"column:status;type:varchar(16);not null"`
	CreatedBy int64  `gorm:"column:created_by;not null"`
	DayPhase  bool   `gorm:"column:day_phase;not null"`
	DayNumber int    `gorm:"column:day_number;not null"`
	CreatedAt time.Time
	EndedAt   *time.Time `gorm:"column:ended_at"`
}

func (GormGame) TableName() string { return "games" }

func (g GormGame) ToModel() Game {
	return Game{
		GameID:    g.GameID,
		GuildID:   g.GuildID,
		Status:    GameStatus(g.Status),
		CreatedBy: g.CreatedBy,
		DayPhase:  g.DayPhase,
		DayNumber: g.DayNumber,
		CreatedAt: g.CreatedAt,
		EndedAt:   g.EndedAt,
	}
}

// GormPlayer 玩家表, (game_id, user_id) 为联合主键
type GormPlayer struct {
	GameID    int64  `gorm:"column:game_id;primaryKey;autoIncrement:false"`
	UserID    int64  `gorm:"column:user_id;primaryKey;autoIncrement:false"`
	RoleID    *int64 `gorm:"column:role_id"`
	IsAlive   bool   `gorm:"column:is_alive;not null"`
	VotesFor  *int64 `gorm:"column:votes_for"`
	CreatedAt time.Time
}

func (GormPlayer) TableName() string { return "game_players" }

func (p GormPlayer) ToModel() Player {
	return Player{
		GameID:   p.GameID,
		UserID:   p.UserID,
		RoleID:   p.RoleID,
		IsAlive:  p.IsAlive,
		VotesFor: p.VotesFor,
		JoinedAt: p.CreatedAt,
	}
}

// GormServerConfig 服务器配置表
type GormServerConfig struct {
	GuildID        int64  `gorm:"column:guild_id;primaryKey;autoIncrement:false"`
	Prefix         string `gorm:"column:prefix;not null"`
	StartingNumber int    `gorm:"column:starting_number;not null"`
	UpdatedAt      time.Time
}

func (GormServerConfig) TableName() string { return "server_config" }

func (c GormServerConfig) ToModel() ServerConfig {
	return ServerConfig{
		GuildID:        c.GuildID,
		Prefix:         c.Prefix,
		StartingNumber: c.StartingNumber,
	}
}

// persistence/gorm_postgresql.go
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/wfunc/werewolfserver/models"
)

// GormStore 使用GORM的PostgreSQL实现
type GormStore struct {
	db *gorm.DB
}

// NewGormPostgreSQL 创建GORM PostgreSQL数据库连接并迁移表结构
func NewGormPostgreSQL(opts PostgresOptions) (*GormStore, error) {
	sqlDB, err := OpenPostgres(opts)
	if err != nil {
		return nil, err
	}
	store, err := NewGormStore(sqlDB)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return store, nil
}

// NewGormStore wraps an open lib/pq handle.
func NewGormStore(sqlDB *sql.DB) (*GormStore, error) {
	// 配置GORM日志
	gormLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Silent,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, err
	}

	if err := autoMigrate(db); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

// autoMigrate 自动迁移表结构
func autoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.GormGame{},
		&models.GormPlayer{},
		&models.GormServerConfig{},
	); err != nil {
		return err
	}

	// 每个 guild 最多一局未结束的游戏
	return db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_games_open_guild
        ON games (guild_id) WHERE status <> 'ended'`).Error
}

func openStatusNames() []string {
	names := make([]string, 0, len(models.OpenStatuses))
	for _, s := range models.OpenStatuses {
		names = append(names, string(s))
	}
	return names
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrRecordNotFound
	case isUniqueViolation(err):
		return ErrDuplicate
	}
	return err
}

func (p *GormStore) LoadGame(ctx context.Context, guildID int64) (*models.Game, error) {
	var row models.GormGame
	err := p.db.WithContext(ctx).
		Where("guild_id = ? AND status IN ?", guildID, openStatusNames()).
		Order("game_id DESC").
		First(&row).Error
	if err != nil {
		return nil, translate(err)
	}
	game := row.ToModel()
	return &game, nil
}

func (p *GormStore) LoadGameByID(ctx context.Context, gameID int64) (*models.Game, error) {
	var row models.GormGame
	if err := p.db.WithContext(ctx).Where("game_id = ?", gameID).First(&row).Error; err != nil {
		return nil, translate(err)
	}
	game := row.ToModel()
	return &game, nil
}

func (p *GormStore) LoadPlayers(ctx context.Context, gameID int64) ([]models.Player, error) {
	return loadPlayers(p.db.WithContext(ctx), gameID)
}

func loadPlayers(db *gorm.DB, gameID int64) ([]models.Player, error) {
	var rows []models.GormPlayer
	if err := db.Where("game_id = ?", gameID).Order("user_id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	players := make([]models.Player, 0, len(rows))
	for _, row := range rows {
		players = append(players, row.ToModel())
	}
	return players, nil
}

func (p *GormStore) InsertGame(ctx context.Context, guildID, creatorID int64) (*models.Game, error) {
	row := models.GormGame{
		GuildID:   guildID,
		Status:    string(models.StatusSignup),
		CreatedBy: creatorID,
		DayPhase:  true,
		DayNumber: 0,
	}
	if err := p.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, translate(err)
	}
	game := row.ToModel()
	return &game, nil
}

// InsertPlayer re-checks the signup status under a share lock so a concurrent
// start cannot admit a late joiner.
func (p *GormStore) InsertPlayer(ctx context.Context, gameID, userID int64) error {
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var game models.GormGame
		if err := tx.Clauses(clause.Locking{Strength: "SHARE"}).
			Where("game_id = ?", gameID).First(&game).Error; err != nil {
			return err
		}
		if game.Status != string(models.StatusSignup) {
			return ErrStaleState
		}
		return tx.Create(&models.GormPlayer{
			GameID:  gameID,
			UserID:  userID,
			IsAlive: true,
		}).Error
	})
	return translate(err)
}

func (p *GormStore) DeletePlayer(ctx context.Context, gameID, userID int64) (bool, error) {
	res := p.db.WithContext(ctx).
		Where("game_id = ? AND user_id = ?", gameID, userID).
		Delete(&models.GormPlayer{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (p *GormStore) SetVote(ctx context.Context, change VoteChange) (bool, error) {
	if change.TargetID == nil {
		res := p.db.WithContext(ctx).Model(&models.GormPlayer{}).
			Where("game_id = ? AND user_id = ? AND votes_for IS NOT NULL", change.GameID, change.VoterID).
			Update("votes_for", gorm.Expr("NULL"))
		if res.Error != nil {
			return false, res.Error
		}
		return res.RowsAffected > 0, nil
	}

	applied := false
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 投票与换相互斥: 换相会更新 games 行, 这里持有共享锁
		var game models.GormGame
		err := tx.Clauses(clause.Locking{Strength: "SHARE"}).
			Where("game_id = ? AND status = ? AND day_phase = ? AND day_number = ?",
				change.GameID, string(models.StatusActive), true, change.DayNumber).
			First(&game).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		// voter and target must both still be alive members of the game
		res := tx.Model(&models.GormPlayer{}).
			Where("game_id = ? AND user_id = ? AND is_alive", change.GameID, change.VoterID).
			Where("EXISTS (SELECT 1 FROM game_players t WHERE t.game_id = ? AND t.user_id = ? AND t.is_alive)",
				change.GameID, *change.TargetID).
			Update("votes_for", *change.TargetID)
		if res.Error != nil {
			return res.Error
		}
		applied = res.RowsAffected > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

func (p *GormStore) SetAlive(ctx context.Context, gameID, userID int64, alive bool) (bool, error) {
	res := p.db.WithContext(ctx).Model(&models.GormPlayer{}).
		Where("game_id = ? AND user_id = ? AND is_alive <> ?", gameID, userID, alive).
		Update("is_alive", alive)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// TransitionPhase applies the phase swap, snapshots the players and clears
// the votes in one transaction. The conditional UPDATE on games is the
// compare-and-swap: a concurrent transition sees zero affected rows.
func (p *GormStore) TransitionPhase(ctx context.Context, change PhaseChange) (PhaseOutcome, error) {
	var outcome PhaseOutcome
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.GormGame{}).
			Where("game_id = ? AND status = ? AND day_phase = ? AND day_number = ?",
				change.GameID, string(models.StatusActive), change.ExpectedDayPhase, change.ExpectedDayNumber).
			Updates(map[string]interface{}{
				"day_phase":  change.NewDayPhase,
				"day_number": change.NewDayNumber,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&models.GormGame{}).Where("game_id = ?", change.GameID).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return ErrRecordNotFound
			}
			return nil
		}

		players, err := loadPlayers(tx, change.GameID)
		if err != nil {
			return err
		}

		if change.ClearVotes {
			if err := tx.Model(&models.GormPlayer{}).
				Where("game_id = ? AND votes_for IS NOT NULL", change.GameID).
				Update("votes_for", gorm.Expr("NULL")).Error; err != nil {
				return err
			}
		}

		outcome = PhaseOutcome{Applied: true, Players: players}
		return nil
	})
	if err != nil {
		return PhaseOutcome{}, translate(err)
	}
	return outcome, nil
}

func (p *GormStore) TransitionStatus(ctx context.Context, change StatusChange) error {
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var game models.GormGame
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("game_id = ?", change.GameID).First(&game).Error; err != nil {
			return err
		}
		if !change.allows(models.GameStatus(game.Status)) {
			return ErrStaleState
		}

		if change.MinPlayers > 0 {
			var count int64
			if err := tx.Model(&models.GormPlayer{}).Where("game_id = ?", change.GameID).Count(&count).Error; err != nil {
				return err
			}
			if count < int64(change.MinPlayers) {
				return ErrTooFewPlayers
			}
		}

		updates := map[string]interface{}{"status": string(change.To)}
		switch change.To {
		case models.StatusActive:
			updates["day_phase"] = true
			updates["day_number"] = 1
		case models.StatusEnded:
			updates["ended_at"] = time.Now()
		}
		return tx.Model(&models.GormGame{}).Where("game_id = ?", change.GameID).Updates(updates).Error
	})
	return translate(err)
}

func (p *GormStore) LoadServerConfig(ctx context.Context, guildID int64) (*models.ServerConfig, error) {
	var row models.GormServerConfig
	if err := p.db.WithContext(ctx).Where("guild_id = ?", guildID).First(&row).Error; err != nil {
		return nil, translate(err)
	}
	cfg := row.ToModel()
	return &cfg, nil
}

// UpsertServerConfig 使用UPSERT操作
func (p *GormStore) UpsertServerConfig(ctx context.Context, cfg models.ServerConfig) error {
	row := models.GormServerConfig{
		GuildID:        cfg.GuildID,
		Prefix:         cfg.Prefix,
		StartingNumber: cfg.StartingNumber,
	}
	return p.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "guild_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"prefix", "starting_number", "updated_at"}),
	}).Create(&row).Error
}

// Close 关闭数据库连接
func (p *GormStore) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var _ Store = (*GormStore)(nil)

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Game      GameConfig      `mapstructure:"game"`
	Log       LogConfig       `mapstructure:"log"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

type ServerConfig struct {
	HTTPAddress string `mapstructure:"http_address"`
	RPCAddress  string `mapstructure:"rpc_address"`
	GRPCAddress string `mapstructure:"grpc_address"`
}

type DatabaseConfig struct {
	// Driver is postgres or memory.
	Driver          string         `mapstructure:"driver"`
	Postgres        PostgresConfig `mapstructure:"postgres"`
	MaxIdleConns    int            `mapstructure:"max_idle_conns"`
	MaxOpenConns    int            `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration  `mapstructure:"conn_max_lifetime"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type CacheConfig struct {
	GameCapacity   int           `mapstructure:"game_capacity"`
	GameTTL        time.Duration `mapstructure:"game_ttl"`
	ConfigCapacity int           `mapstructure:"config_capacity"`
	ConfigTTL      time.Duration `mapstructure:"config_ttl"`
}

type GameConfig struct {
	MinPlayers   int           `mapstructure:"min_players"`
	StoreTimeout time.Duration `mapstructure:"store_timeout"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type TelemetryConfig struct {
	// OTLPEndpoint enables tracing when set, e.g. localhost:4318.
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	ServiceName  string `mapstructure:"service_name"`
}

const envPrefix = "GAMESERVER"

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_address", ":8080")
	v.SetDefault("server.rpc_address", ":9090")
	v.SetDefault("server.grpc_address", ":9091")

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.user", "postgres")
	v.SetDefault("database.postgres.password", "")
	v.SetDefault("database.postgres.dbname", "werewolf")
	v.SetDefault("database.postgres.sslmode", "disable")
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 100)
	v.SetDefault("database.conn_max_lifetime", time.Hour)

	v.SetDefault("cache.game_capacity", 1000)
	v.SetDefault("cache.game_ttl", 5*time.Minute)
	v.SetDefault("cache.config_capacity", 10000)
	v.SetDefault("cache.config_ttl", 30*time.Minute)

	v.SetDefault("game.min_players", 3)
	v.SetDefault("game.store_timeout", 5*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.service_name", "werewolfserver")
}

// LoadConfig reads config.yaml from path. A missing file is fine; defaults and
// GAMESERVER_* variables (GAMESERVER_DATABASE_POSTGRES_HOST and so on) still apply.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

var ErrInvalid = errors.New("invalid config")

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("%w: database.driver %q", ErrInvalid, c.Database.Driver)
	}
	if c.Server.HTTPAddress == "" {
		return fmt.Errorf("%w: server.http_address is empty", ErrInvalid)
	}
	if c.Game.MinPlayers < 1 {
		return fmt.Errorf("%w: game.min_players must be at least 1", ErrInvalid)
	}
	if c.Game.StoreTimeout <= 0 {
		return fmt.Errorf("%w: game.store_timeout must be positive", ErrInvalid)
	}
	if c.Cache.GameCapacity <= 0 || c.Cache.ConfigCapacity <= 0 {
		return fmt.Errorf("%w: cache capacities must be positive", ErrInvalid)
	}
	if c.Cache.GameTTL <= 0 || c.Cache.ConfigTTL <= 0 {
		return fmt.Errorf("%w: cache ttls must be positive", ErrInvalid)
	}
	return nil
}

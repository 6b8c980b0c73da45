package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/wfunc/bncserver/game"
)

// 数据库驱动
const (
	DriverMemory       = "memory"
	DriverGormPostgres = "gorm_postgres"
	DriverGormSQLite   = "gorm_sqlite"
	DriverPostgres     = "postgres"
	DriverRedis        = "redis"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Registry RegistryConfig `mapstructure:"registry"`
	Game     GameConfig     `mapstructure:"game"`
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	HTTPAddress     string        `mapstructure:"http_address"`
	RPCAddress      string        `mapstructure:"rpc_address"`
	TokenLength     int           `mapstructure:"token_length"`
	SendQueue       int           `mapstructure:"send_queue"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	PongWait        time.Duration `mapstructure:"pong_wait"`
	PingPeriod      time.Duration `mapstructure:"ping_period"`
	LeaveTimeout    time.Duration `mapstructure:"leave_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type RegistryConfig struct {
	AcquireTimeout time.Duration `mapstructure:"acquire_timeout"`
	HoldWarning    time.Duration `mapstructure:"hold_warning"`
	Shards         int           `mapstructure:"shards"`
	MaxPlayers     int           `mapstructure:"max_players"`
}

// GameConfig 新建房间的默认参数
type GameConfig struct {
	CodeLength int    `mapstructure:"code_length"`
	NumColors  int    `mapstructure:"num_colors"`
	MaxGuesses int    `mapstructure:"max_guesses"`
	GameType   string `mapstructure:"game_type"`
}

type DatabaseConfig struct {
	Driver   string         `mapstructure:"driver"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_address", ":8080")
	v.SetDefault("server.rpc_address", "")
	v.SetDefault("server.token_length", 8)
	v.SetDefault("server.send_queue", 32)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.pong_wait", 60*time.Second)
	v.SetDefault("server.ping_period", 54*time.Second)
	v.SetDefault("server.leave_timeout", 5*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("registry.acquire_timeout", 5*time.Second)
	v.SetDefault("registry.hold_warning", 2*time.Second)
	v.SetDefault("registry.shards", 32)
	v.SetDefault("registry.max_players", 8)

	v.SetDefault("game.code_length", game.DefaultCodeLength)
	v.SetDefault("game.num_colors", game.DefaultNumColors)
	v.SetDefault("game.max_guesses", game.DefaultMaxGuesses)
	v.SetDefault("game.game_type", game.SinglePlayer.String())

	v.SetDefault("database.driver", DriverMemory)
	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.user", "postgres")
	v.SetDefault("database.postgres.password", "")
	v.SetDefault("database.postgres.dbname", "bnc")
	v.SetDefault("database.sqlite.path", "bnc.db")
	v.SetDefault("database.redis.addr", "localhost:6379")
	v.SetDefault("database.redis.password", "")
	v.SetDefault("database.redis.db", 0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// BindFlags 注册命令行参数，LoadFlags 读取
func BindFlags(fs *pflag.FlagSet) {
	fs.String("config", ".", "directory holding config.yaml, or the path of a config file")
	fs.String("http-address", ":8080", "HTTP and WebSocket listen address")
	fs.String("log-level", "info", "log level: debug, info, warn, error")
}

// LoadFlags loads the configuration named by --config, with the other flags
// from BindFlags taking precedence when set.
func LoadFlags(fs *pflag.FlagSet) (*Config, error) {
	path, err := fs.GetString("config")
	if err != nil {
		return nil, err
	}
	return load(path, fs)
}

// LoadConfig reads path (a directory with config.yaml, or a file), an
// optional .env next to it, and BNC_ environment variables.
func LoadConfig(path string) (*Config, error) {
	return load(path, nil)
}

func load(path string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	dir := path
	if ext := filepath.Ext(path); ext == ".yaml" || ext == ".yml" {
		dir = filepath.Dir(path)
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(path)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	// .env 不覆盖已有的环境变量
	if err := godotenv.Load(filepath.Join(dir, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v.SetEnvPrefix("BNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if fs != nil {
		for key, flag := range map[string]string{
			"server.http_address": "http-address",
			"log.level":           "log-level",
		} {
			if f := fs.Lookup(flag); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, err
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// GameDefaults is the room config used when a create request leaves fields out.
func (c *Config) GameDefaults() (game.Config, error) {
	t, err := game.ParseGameType(c.Game.GameType)
	if err != nil {
		return game.Config{}, err
	}
	return game.Config{
		CodeLength: c.Game.CodeLength,
		NumColors:  c.Game.NumColors,
		MaxGuesses: c.Game.MaxGuesses,
		GameType:   t,
	}, nil
}

func (c *Config) Validate() error {
	s := c.Server
	switch {
	case s.HTTPAddress == "":
		return errors.New("server.http_address is required")
	case s.TokenLength < 1 || s.TokenLength > 64:
		return fmt.Errorf("server.token_length must be in [1,64], got %d", s.TokenLength)
	case s.SendQueue < 1:
		return fmt.Errorf("server.send_queue must be positive, got %d", s.SendQueue)
	case s.WriteTimeout <= 0 || s.PongWait <= 0 || s.PingPeriod <= 0 ||
		s.LeaveTimeout <= 0 || s.ShutdownTimeout <= 0:
		return errors.New("server timeouts must be positive")
	case s.PingPeriod >= s.PongWait:
		return fmt.Errorf("server.ping_period (%v) must be shorter than server.pong_wait (%v)", s.PingPeriod, s.PongWait)
	case c.Registry.Shards < 1:
		return fmt.Errorf("registry.shards must be positive, got %d", c.Registry.Shards)
	case c.Registry.MaxPlayers < 0:
		return fmt.Errorf("registry.max_players must not be negative, got %d", c.Registry.MaxPlayers)
	}

	switch c.Database.Driver {
	case DriverMemory, DriverGormPostgres, DriverGormSQLite, DriverPostgres, DriverRedis:
	default:
		return fmt.Errorf("unknown database.driver %q", c.Database.Driver)
	}

	defaults, err := c.GameDefaults()
	if err != nil {
		return fmt.Errorf("game.game_type: %w", err)
	}
	if err := defaults.Validate(); err != nil {
		return fmt.Errorf("game: %w", err)
	}
	return nil
}

package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

type Config struct {
	LogLevel   string    `yaml:"log-level" env:"LOG_LEVEL" env-default:"info"`
	HTTPPort   string    `yaml:"http-port" env:"HTTP_PORT" env-default:"9090"`
	SocketPort string    `yaml:"socket-port" env:"SOCKET_PORT" env-default:"8080"`
	Storage    Storage   `yaml:"storage"`
	Broadcast  Broadcast `yaml:"broadcast"`
	Redis      Redis     `yaml:"redis"`
	Game       Game      `yaml:"game"`
}

type Storage struct {
	Backend    string        `yaml:"backend" env:"STORAGE_BACKEND" env-default:"redis"`
	SQLitePath string        `yaml:"sqlite-path" env:"SQLITE_PATH" env-default:"sessions.db"`
	SessionTTL time.Duration `yaml:"session-ttl" env:"SESSION_TTL" env-default:"0s"`
}

type Broadcast struct {
	Backend string `yaml:"backend" env:"BROADCAST_BACKEND" env-default:"redis"`
}

type Redis struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:"localhost"`
	Port     string `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"password" env:"REDIS_PASSWORD" env-default:""`
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

type Game struct {
	OperationTimeout time.Duration `yaml:"operation-timeout" env:"GAME_OPERATION_TIMEOUT" env-default:"5s"`
	ConflictRetries  int           `yaml:"conflict-retries" env:"GAME_CONFLICT_RETRIES" env-default:"0"`
	AllowSelfJoin    bool          `yaml:"allow-self-join" env:"GAME_ALLOW_SELF_JOIN" env-default:"false"`
}

var ErrUnknownBackend = errors.New("unknown backend")

// MustLoad - load all configurations in config.yml file, falling back to
// environment variables when the file does not exist.
func MustLoad(path string) *Config {
	config, err := Load(path)
	if err != nil {
		panic(fmt.Errorf("unable to load config file: %w", err))
	}

	return config
}

func Load(path string) (*Config, error) {
	config := &Config{}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err = cleanenv.ReadEnv(config); err != nil {
			return nil, fmt.Errorf("unable to read env: %w", err)
		}
	} else if err = cleanenv.ReadConfig(path, config); err != nil {
		return nil, fmt.Errorf("unable to read config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (that *Config) Validate() error {
	switch that.Storage.Backend {
	case BackendMemory, BackendRedis, BackendSQLite:
	default:
		return fmt.Errorf("%w: storage %q", ErrUnknownBackend, that.Storage.Backend)
	}

	switch that.Broadcast.Backend {
	case BackendMemory, BackendRedis:
	default:
		return fmt.Errorf("%w: broadcast %q", ErrUnknownBackend, that.Broadcast.Backend)
	}

	if that.Game.OperationTimeout <= 0 {
		return fmt.Errorf("game operation timeout must be positive, got %s", that.Game.OperationTimeout)
	}

	if that.Game.ConflictRetries < 0 {
		return fmt.Errorf("game conflict retries must not be negative, got %d", that.Game.ConflictRetries)
	}

	return nil
}

// NeedsRedis reports whether any backend talks to Redis.
func (that *Config) NeedsRedis() bool {
	return that.Storage.Backend == BackendRedis || that.Broadcast.Backend == BackendRedis
}

func (that *Redis) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", that.Host, that.Port)
}

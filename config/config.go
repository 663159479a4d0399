// Package config loads server settings from defaults, an optional .env file
// and PAYPLAN_* environment variables, in increasing precedence.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable: server.port is read
// from PAYPLAN_SERVER_PORT.
const EnvPrefix = "PAYPLAN"

type Config struct {
	Server    ServerConfig
	DB        DBConfig
	Redis     RedisConfig
	Scheduler SchedulerConfig
	Engine    EngineConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port        int
	CORSOrigins []string
}

type DBConfig struct {
	Driver string // sqlite, postgres or memory
	Path   string // sqlite file
	DSN    string // postgres
}

type RedisConfig struct {
	Addr string // empty disables the shared cache
	TTL  time.Duration
}

type SchedulerConfig struct {
	Enabled bool
	Cron    string
}

type EngineConfig struct {
	DueSoonWindowDays int
	ProjectionDays    int
	TopColleges       int
}

type LogConfig struct {
	Format string // text or json
	Level  string
}

// New returns a viper instance with every default set and environment
// lookups enabled.
func New() *viper.Viper {
	v := viper.New()
	v.SetTypeByDefaultValue(true)

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"http://localhost:*", "http://127.0.0.1:*"})
	v.SetDefault("db.driver", "sqlite")
	v.SetDefault("db.path", "payplan.db")
	v.SetDefault("db.dsn", "")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.ttl", 5*time.Minute)
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.cron", "15 2 * * *")
	v.SetDefault("engine.due_soon_window_days", 5)
	v.SetDefault("engine.projection_days", 90)
	v.SetDefault("engine.top_colleges", 5)
	v.SetDefault("log.format", "text")
	v.SetDefault("log.level", "info")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads envFile into the process environment when it exists (a missing
// file is not an error) and returns the resulting configuration.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return nil, fmt.Errorf("config.godotenv(%s): %w", envFile, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("config.os.Stat(%s): %w", envFile, err)
		}
	}
	return FromViper(New())
}

// FromViper decodes and checks v.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:        v.GetInt("server.port"),
			CORSOrigins: splitList(v.GetStringSlice("server.cors_origins")),
		},
		DB: DBConfig{
			Driver: strings.ToLower(v.GetString("db.driver")),
			Path:   v.GetString("db.path"),
			DSN:    v.GetString("db.dsn"),
		},
		Redis: RedisConfig{
			Addr: v.GetString("redis.addr"),
			TTL:  v.GetDuration("redis.ttl"),
		},
		Scheduler: SchedulerConfig{
			Enabled: v.GetBool("scheduler.enabled"),
			Cron:    v.GetString("scheduler.cron"),
		},
		Engine: EngineConfig{
			DueSoonWindowDays: v.GetInt("engine.due_soon_window_days"),
			ProjectionDays:    v.GetInt("engine.projection_days"),
			TopColleges:       v.GetInt("engine.top_colleges"),
		},
		Log: LogConfig{
			Format: strings.ToLower(v.GetString("log.format")),
			Level:  strings.ToLower(v.GetString("log.level")),
		},
	}
	return cfg, cfg.Validate()
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	switch c.DB.Driver {
	case "sqlite":
		if c.DB.Path == "" {
			return fmt.Errorf("db.path is required for the sqlite driver")
		}
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn is required for the postgres driver")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown db.driver %q (want sqlite, postgres or memory)", c.DB.Driver)
	}
	if c.Engine.DueSoonWindowDays < 0 {
		return fmt.Errorf("engine.due_soon_window_days must not be negative")
	}
	if c.Engine.ProjectionDays <= 0 {
		return fmt.Errorf("engine.projection_days must be positive")
	}
	if c.Engine.TopColleges <= 0 {
		return fmt.Errorf("engine.top_colleges must be positive")
	}
	if c.Scheduler.Enabled && c.Scheduler.Cron == "" {
		return fmt.Errorf("scheduler.cron is required when the scheduler is enabled")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log.format %q (want text or json)", c.Log.Format)
	}
	return nil
}

// Logger builds the process logger described by Log.
func (c *Config) Logger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// splitList accepts both "a b" (viper's split) and "a,b" from the environment.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

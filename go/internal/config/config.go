// Package config loads the server configuration from an optional YAML file
// and environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mcdev12/typeduel/go/internal/identity"
	"github.com/mcdev12/typeduel/go/internal/pvp/feed"
	"github.com/mcdev12/typeduel/go/internal/pvp/gateway"
	"github.com/mcdev12/typeduel/go/internal/pvp/phase"
	"github.com/mcdev12/typeduel/go/internal/pvp/room"
	"github.com/mcdev12/typeduel/go/internal/textgen"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig    `yaml:"server"`
	PvP      PvPConfig       `yaml:"pvp"`
	Auth     identity.Config `yaml:"auth"`
	TextGen  TextGenConfig   `yaml:"textgen"`
	Database DatabaseConfig  `yaml:"database"`
	NATS     NATSConfig      `yaml:"nats"`
	Log      LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Port              string        `yaml:"port"`
	AllowedOrigins    []string      `yaml:"allowed_origins"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// PvPConfig holds room limits and match timing.
type PvPConfig struct {
	Rooms               room.Limits              `yaml:"rooms"`
	SyncHold            time.Duration            `yaml:"sync_hold"`
	CountdownSeconds    int                      `yaml:"countdown_seconds"`
	CountdownTick       time.Duration            `yaml:"countdown_tick"`
	FinishGrace         time.Duration            `yaml:"finish_grace"`
	ProgressMinInterval time.Duration            `yaml:"progress_min_interval"`
	TextTimeout         time.Duration            `yaml:"text_timeout"`
	InboxSize           int                      `yaml:"inbox_size"`
	Connection          gateway.ConnectionConfig `yaml:"connection"`
}

type TextGenConfig struct {
	HTTP            textgen.HTTPConfig `yaml:"http"`
	Dictionary      bool               `yaml:"dictionary"`
	DefaultLanguage string             `yaml:"default_language"`
	Seed            uint64             `yaml:"seed"`
}

// DatabaseConfig holds Postgres connection settings.
type DatabaseConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
	MaxConns int32  `yaml:"max_conns"`
}

type NATSConfig struct {
	Enabled   bool                 `yaml:"enabled"`
	JetStream feed.JetStreamConfig `yaml:"jetstream"`
	Queue     feed.QueueConfig     `yaml:"queue"`
}

type LogConfig struct {
	Level   string `yaml:"level"`
	Console bool   `yaml:"console"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	timing := phase.DefaultTiming()
	hub := gateway.DefaultHubConfig()
	return Config{
		Server: ServerConfig{
			Port:              "8080",
			ReadHeaderTimeout: 10 * time.Second,
			ShutdownTimeout:   10 * time.Second,
		},
		PvP: PvPConfig{
			Rooms:               room.DefaultLimits(),
			SyncHold:            timing.SyncHold,
			CountdownSeconds:    timing.CountdownSeconds,
			CountdownTick:       timing.CountdownTick,
			FinishGrace:         timing.FinishGrace,
			ProgressMinInterval: hub.ProgressMinInterval,
			TextTimeout:         hub.TextTimeout,
			InboxSize:           hub.InboxSize,
			Connection:          gateway.DefaultConnectionConfig(),
		},
		Auth: identity.Config{
			Issuer:   "typeduel",
			TokenTTL: 24 * time.Hour,
		},
		TextGen: TextGenConfig{
			HTTP: textgen.HTTPConfig{
				Timeout:     10 * time.Second,
				MinInterval: 250 * time.Millisecond,
			},
			DefaultLanguage: textgen.DefaultLanguage,
		},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "postgres",
			Password: "postgres",
			Database: "typeduel",
			SSLMode:  "disable",
			MaxConns: 4,
		},
		NATS: NATSConfig{
			JetStream: feed.DefaultJetStreamConfig(),
			Queue:     feed.DefaultQueueConfig(),
		},
		Log: LogConfig{
			Level:   "info",
			Console: true,
		},
	}
}

// Load reads path on top of the defaults, applies environment overrides and
// validates the result. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Read is Load without validation, for tools that only need part of the
// configuration.
func Read(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Server.Port = getEnv("PORT", cfg.Server.Port)
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.Server.AllowedOrigins = splitList(origins)
	}

	cfg.PvP.FinishGrace = getEnvAsDuration("PVP_FINISH_GRACE", cfg.PvP.FinishGrace)
	cfg.PvP.ProgressMinInterval = getEnvAsDuration("PVP_PROGRESS_MIN_INTERVAL", cfg.PvP.ProgressMinInterval)

	cfg.Auth.Secret = getEnv("AUTH_SECRET", cfg.Auth.Secret)
	cfg.Auth.Issuer = getEnv("AUTH_ISSUER", cfg.Auth.Issuer)

	cfg.TextGen.HTTP.BaseURL = getEnv("TEXTGEN_URL", cfg.TextGen.HTTP.BaseURL)
	cfg.TextGen.HTTP.APIKey = getEnv("TEXTGEN_API_KEY", cfg.TextGen.HTTP.APIKey)
	cfg.TextGen.Dictionary = getEnvAsBool("TEXTGEN_DICTIONARY", cfg.TextGen.Dictionary)

	cfg.Database.Enabled = getEnvAsBool("DB_ENABLED", cfg.Database.Enabled)
	cfg.Database.Host = getEnv("DB_HOST", cfg.Database.Host)
	cfg.Database.Port = getEnvAsInt("DB_PORT", cfg.Database.Port)
	cfg.Database.User = getEnv("DB_USER", cfg.Database.User)
	cfg.Database.Password = getEnv("DB_PASSWORD", cfg.Database.Password)
	cfg.Database.Database = getEnv("DB_NAME", cfg.Database.Database)
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", cfg.Database.SSLMode)

	if url := os.Getenv("NATS_URL"); url != "" {
		cfg.NATS.Enabled = true
		cfg.NATS.JetStream.URL = url
	}

	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Console = getEnvAsBool("LOG_CONSOLE", cfg.Log.Console)
}

// Validate reports the first setting that cannot work.
func (c Config) Validate() error {
	l := c.PvP.Rooms
	switch {
	case c.Auth.Secret == "":
		return errors.New("auth secret is required (AUTH_SECRET)")
	case l.MinPlayers < 2 || l.MaxPlayers < l.MinPlayers:
		return fmt.Errorf("invalid player limits %d..%d", l.MinPlayers, l.MaxPlayers)
	case l.WordCount.Step <= 0 || l.WordCount.Min > l.WordCount.Max:
		return fmt.Errorf("invalid word count range %d..%d step %d", l.WordCount.Min, l.WordCount.Max, l.WordCount.Step)
	case l.CodeLength <= 0 || len(l.CodeAlphabet) < 2:
		return errors.New("room codes need a length and an alphabet of at least two characters")
	case c.PvP.CountdownSeconds < 0 || c.PvP.CountdownTick <= 0:
		return errors.New("countdown needs a positive tick")
	case c.PvP.FinishGrace <= 0:
		return errors.New("finish grace must be positive")
	case c.NATS.Enabled && c.NATS.JetStream.URL == "":
		return errors.New("nats url is required when nats is enabled")
	}
	return nil
}

// Timing returns the match timing.
func (p PvPConfig) Timing() phase.Timing {
	return phase.Timing{
		SyncHold:         p.SyncHold,
		CountdownSeconds: p.CountdownSeconds,
		CountdownTick:    p.CountdownTick,
		FinishGrace:      p.FinishGrace,
	}
}

// Gateway returns the gateway configuration.
func (c Config) Gateway() gateway.Config {
	conn := c.PvP.Connection
	if len(conn.AllowedOrigins) == 0 {
		conn.AllowedOrigins = c.Server.AllowedOrigins
	}
	return gateway.Config{
		Connection: conn,
		Hub: gateway.HubConfig{
			Timing:              c.PvP.Timing(),
			ProgressMinInterval: c.PvP.ProgressMinInterval,
			TextTimeout:         c.PvP.TextTimeout,
			DefaultLanguage:     c.TextGen.DefaultLanguage,
			InboxSize:           c.PvP.InboxSize,
		},
	}
}

// DSN returns the Postgres connection URL.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s&pool_max_conns=%d",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode, d.MaxConns,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. MEMECHAOS_PORT
const EnvPrefix = "MEMECHAOS"

// Store drivers
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// Config holds all application configuration
type Config struct {
	Server  ServerConfig
	Game    GameConfig
	Store   StoreConfig
	Logging LoggingConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Bind    string
	Port    int
	Env     string // "development" or "production"
	Prefix  string // Path prepended to every route, for reverse proxies
	Profile bool   // Register pprof handlers
	TLSCert string
	TLSKey  string
}

// GameConfig holds game-related configuration
type GameConfig struct {
	CatalogPath      string // Empty uses the built-in cards
	MinPlayers       int
	MaxPlayers       int
	HandSize         int
	MaxRounds        int
	ScoreLimit       int
	RoomCodeLength   int
	SituationTimeout time.Duration
	PlayingTimeout   time.Duration
	VotingTimeout    time.Duration
	IdleTimeout      time.Duration
}

// StoreConfig selects the session repository
type StoreConfig struct {
	Driver      string
	DatabaseURL string
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	Level  string
	Format string // "json" or "text"
}

// RegisterFlags defines every setting as a flag on fs, bound to c
func (c *Config) RegisterFlags(fs *pflag.FlagSet) {
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&c.Server.Bind, "bind", "b", "0.0.0.0", "address to bind to (env: MEMECHAOS_BIND)")
	fs.IntVarP(&c.Server.Port, "port", "p", 8080, "port to listen on (env: MEMECHAOS_PORT)")
	fs.StringVar(&c.Server.Env, "env", "development", "development or production (env: MEMECHAOS_ENV)")
	fs.StringVar(&c.Server.Prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: MEMECHAOS_PREFIX)")
	fs.BoolVar(&c.Server.Profile, "profile", false, "register net/http/pprof handlers (env: MEMECHAOS_PROFILE)")
	fs.StringVar(&c.Server.TLSCert, "tls-cert", "", "path to tls certificate (env: MEMECHAOS_TLS_CERT)")
	fs.StringVar(&c.Server.TLSKey, "tls-key", "", "path to tls keyfile (env: MEMECHAOS_TLS_KEY)")

	fs.StringVar(&c.Logging.Level, "log-level", "info", "debug, info, warn or error (env: MEMECHAOS_LOG_LEVEL)")
	fs.StringVar(&c.Logging.Format, "log-format", "text", "text or json (env: MEMECHAOS_LOG_FORMAT)")

	fs.StringVar(&c.Store.Driver, "store-driver", DriverMemory, "memory or postgres (env: MEMECHAOS_STORE_DRIVER)")
	fs.StringVar(&c.Store.DatabaseURL, "database-url", "", "postgres connection string (env: MEMECHAOS_DATABASE_URL)")

	fs.StringVar(&c.Game.CatalogPath, "catalog", "", "path to a JSON card catalog, built-in cards if empty (env: MEMECHAOS_CATALOG)")
	fs.IntVar(&c.Game.MinPlayers, "min-players", 2, "players needed to start (env: MEMECHAOS_MIN_PLAYERS)")
	fs.IntVar(&c.Game.MaxPlayers, "max-players", 10, "maximum players per game (env: MEMECHAOS_MAX_PLAYERS)")
	fs.IntVar(&c.Game.HandSize, "hand-size", 6, "cards per hand (env: MEMECHAOS_HAND_SIZE)")
	fs.IntVar(&c.Game.MaxRounds, "max-rounds", 10, "rounds before the game ends, 0 for no limit (env: MEMECHAOS_MAX_ROUNDS)")
	fs.IntVar(&c.Game.ScoreLimit, "score-limit", 0, "score that ends the game, 0 for no limit (env: MEMECHAOS_SCORE_LIMIT)")
	fs.IntVar(&c.Game.RoomCodeLength, "room-code-length", 6, "length of generated room codes (env: MEMECHAOS_ROOM_CODE_LENGTH)")
	fs.DurationVar(&c.Game.SituationTimeout, "situation-timeout", 30*time.Second, "time for the leader to set a situation, 0 to disable (env: MEMECHAOS_SITUATION_TIMEOUT)")
	fs.DurationVar(&c.Game.PlayingTimeout, "playing-timeout", 90*time.Second, "time for players to play a card, 0 to disable (env: MEMECHAOS_PLAYING_TIMEOUT)")
	fs.DurationVar(&c.Game.VotingTimeout, "voting-timeout", 60*time.Second, "time for players to vote, 0 to disable (env: MEMECHAOS_VOTING_TIMEOUT)")
	fs.DurationVar(&c.Game.IdleTimeout, "idle-timeout", time.Hour, "time before sessions without clients are closed (env: MEMECHAOS_IDLE_TIMEOUT)")
}

// ApplyEnv fills every flag not given on the command line from its
// MEMECHAOS_* environment variable
func ApplyEnv(fs *pflag.FlagSet) error {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	var errs []error
	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			if err := fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name))); err != nil {
				errs = append(errs, fmt.Errorf("env %s_%s: %w", EnvPrefix, strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_")), err))
			}
		}
	})

	return errors.Join(errs...)
}

// LoadDotEnv loads environment variables from the given files, .env by
// default. Missing files are ignored and existing variables win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	return nil
}

// Validate rejects inconsistent settings
func (c *Config) Validate() error {
	if (c.Server.TLSCert == "") != (c.Server.TLSKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.Server.Port)
	}

	switch c.Store.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Store.DatabaseURL == "" {
			return errors.New("--database-url is required with the postgres store")
		}
	default:
		return fmt.Errorf("unknown store driver: %q", c.Store.Driver)
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format: %q", c.Logging.Format)
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}

	g := c.Game
	if g.MinPlayers < 2 {
		return fmt.Errorf("min players must be at least 2: %d", g.MinPlayers)
	}
	if g.MaxPlayers < g.MinPlayers {
		return fmt.Errorf("max players (%d) below min players (%d)", g.MaxPlayers, g.MinPlayers)
	}
	if g.HandSize < 1 {
		return fmt.Errorf("hand size must be positive: %d", g.HandSize)
	}
	if g.MaxRounds < 0 || g.ScoreLimit < 0 {
		return errors.New("round and score limits cannot be negative")
	}
	if g.RoomCodeLength < 4 || g.RoomCodeLength > 12 {
		return fmt.Errorf("room code length must be between 4 and 12: %d", g.RoomCodeLength)
	}
	if g.SituationTimeout < 0 || g.PlayingTimeout < 0 || g.VotingTimeout < 0 || g.IdleTimeout < 0 {
		return errors.New("timeouts cannot be negative")
	}

	return nil
}

// LogLevel parses the configured level
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Logging.Level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level: %q", c.Logging.Level)
	}
	return level, nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// UseTLS reports whether both TLS files are configured
func (c *Config) UseTLS() bool {
	return c.Server.TLSCert != "" && c.Server.TLSKey != ""
}

// Scheme returns http or https
func (c *Config) Scheme() string {
	if c.UseTLS() {
		return "https"
	}
	return "http"
}

// GetAddr returns the server address in host:port format
func (c *Config) GetAddr() string {
	return net.JoinHostPort(c.Server.Bind, strconv.Itoa(c.Server.Port))
}

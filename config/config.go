// Package config assembles the bot configuration from defaults, an optional
// TOML file, a .env file, the process environment and command-line flags, in
// that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"entrybot/database_service"
	"entrybot/entry_service"
)

type Config struct {
	DiscordToken    string
	GuildID         string
	SyncOnStart     bool
	LogLevel        string
	LogFormat       string
	HTTPAddr        string
	Store           database_service.Config
	RosterChannelID string
	ManagerRoleIDs  []string
	StickyCooldown  time.Duration
	PlatformTimeout time.Duration
	NoResponseScope entry_service.NoResponseScope
	ControlText     string
}

func Default() Config {
	return Config{
		SyncOnStart:     true,
		LogLevel:        "info",
		LogFormat:       "console",
		HTTPAddr:        ":8080",
		Store:           database_service.Config{Driver: "json", DataDir: "data", MaxConns: 6},
		StickyCooldown:  3 * time.Second,
		PlatformTimeout: 10 * time.Second,
		NoResponseScope: entry_service.ScopeGroup,
	}
}

// config.toml key mapping.
type fileConfig struct {
	DiscordToken    string    `toml:"discord_token"`
	GuildID         string    `toml:"guild_id"`
	SyncOnStart     bool      `toml:"sync_on_start"`
	LogLevel        string    `toml:"log_level"`
	LogFormat       string    `toml:"log_format"`
	HTTPAddr        string    `toml:"http_addr"`
	Store           fileStore `toml:"store"`
	RosterChannelID string    `toml:"roster_channel_id"`
	ManagerRoleIDs  []string  `toml:"manager_role_ids"`
	StickyCooldown  string    `toml:"sticky_cooldown"`
	PlatformTimeout string    `toml:"platform_timeout"`
	NoResponseScope string    `toml:"no_response_scope"`
	ControlText     string    `toml:"control_text"`
}

type fileStore struct {
	Driver      string `toml:"driver"`
	DatabaseURL string `toml:"database_url"`
	DataDir     string `toml:"data_dir"`
	MaxConns    int32  `toml:"max_conns"`
}

// Load parses args with flags and resolves every layer. flags should be
// fresh; Load defines its options on it.
func Load(flags *pflag.FlagSet, args []string) (Config, error) {
	var (
		configPath string
		envFile    string
		logLevel   string
		httpAddr   string
		driver     string
		dataDir    string
		guildID    string
		syncStart  bool
	)
	flags.StringVar(&configPath, "config", "", "path to a TOML config file")
	flags.StringVar(&envFile, "env-file", ".env", "dotenv file loaded into the environment if present")
	flags.StringVar(&logLevel, "log-level", "", "debug, info, warn or error")
	flags.StringVar(&httpAddr, "http-addr", "", "operator API listen address")
	flags.StringVar(&driver, "store", "", "store driver: postgres, sqlite, json or memory")
	flags.StringVar(&dataDir, "data-dir", "", "directory for the sqlite and json stores")
	flags.StringVar(&guildID, "guild-id", "", "guild to sync slash commands to")
	flags.BoolVar(&syncStart, "sync-commands", true, "sync slash commands on ready")
	if err := flags.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := Default()
	if configPath != "" {
		if err := cfg.applyFile(configPath); err != nil {
			return Config{}, err
		}
	}
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}

	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if flags.Changed("http-addr") {
		cfg.HTTPAddr = httpAddr
	}
	if flags.Changed("store") {
		cfg.Store.Driver = driver
	}
	if flags.Changed("data-dir") {
		cfg.Store.DataDir = dataDir
	}
	if flags.Changed("guild-id") {
		cfg.GuildID = guildID
	}
	if flags.Changed("sync-commands") {
		cfg.SyncOnStart = syncStart
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyFile(path string) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	str := func(v string, dst *string, key ...string) {
		if meta.IsDefined(key...) {
			*dst = strings.TrimSpace(v)
		}
	}
	str(raw.DiscordToken, &c.DiscordToken, "discord_token")
	str(raw.GuildID, &c.GuildID, "guild_id")
	str(raw.LogLevel, &c.LogLevel, "log_level")
	str(raw.LogFormat, &c.LogFormat, "log_format")
	str(raw.HTTPAddr, &c.HTTPAddr, "http_addr")
	str(raw.RosterChannelID, &c.RosterChannelID, "roster_channel_id")
	str(raw.ControlText, &c.ControlText, "control_text")
	str(raw.Store.Driver, &c.Store.Driver, "store", "driver")
	str(raw.Store.DatabaseURL, &c.Store.DatabaseURL, "store", "database_url")
	str(raw.Store.DataDir, &c.Store.DataDir, "store", "data_dir")
	if meta.IsDefined("sync_on_start") {
		c.SyncOnStart = raw.SyncOnStart
	}
	if meta.IsDefined("store", "max_conns") {
		c.Store.MaxConns = raw.Store.MaxConns
	}
	if meta.IsDefined("manager_role_ids") {
		c.ManagerRoleIDs = cleanList(raw.ManagerRoleIDs)
	}
	if meta.IsDefined("sticky_cooldown") {
		d, err := time.ParseDuration(raw.StickyCooldown)
		if err != nil {
			return fmt.Errorf("load config: sticky_cooldown: %w", err)
		}
		c.StickyCooldown = d
	}
	if meta.IsDefined("platform_timeout") {
		d, err := time.ParseDuration(raw.PlatformTimeout)
		if err != nil {
			return fmt.Errorf("load config: platform_timeout: %w", err)
		}
		c.PlatformTimeout = d
	}
	if meta.IsDefined("no_response_scope") {
		scope, err := entry_service.ParseNoResponseScope(raw.NoResponseScope)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		c.NoResponseScope = scope
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str("DISCORD_TOKEN", &c.DiscordToken)
	str("GUILD_ID", &c.GuildID)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)
	str("ROSTER_CHANNEL_ID", &c.RosterChannelID)
	str("CONTROL_TEXT", &c.ControlText)
	str("STORE_DRIVER", &c.Store.Driver)
	str("DATABASE_URL", &c.Store.DatabaseURL)
	str("DATA_DIR", &c.Store.DataDir)
	if port, ok := lookup("PORT"); ok && strings.TrimSpace(port) != "" {
		c.HTTPAddr = ":" + strings.TrimSpace(port)
	}
	if v, ok := lookup("MANAGER_ROLE_IDS"); ok {
		c.ManagerRoleIDs = cleanList(strings.Split(v, ","))
	}
	if v, ok := lookup("SYNC_ON_START"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("SYNC_ON_START: %w", err)
		}
		c.SyncOnStart = b
	}
	for key, dst := range map[string]*time.Duration{
		"STICKY_COOLDOWN":  &c.StickyCooldown,
		"PLATFORM_TIMEOUT": &c.PlatformTimeout,
	} {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = d
		}
	}
	if v, ok := lookup("NO_RESPONSE_SCOPE"); ok && v != "" {
		scope, err := entry_service.ParseNoResponseScope(v)
		if err != nil {
			return fmt.Errorf("NO_RESPONSE_SCOPE: %w", err)
		}
		c.NoResponseScope = scope
	}
	return nil
}

// Validate reports the first setting the bot cannot start with.
func (c Config) Validate() error {
	if c.DiscordToken == "" {
		return errors.New("DISCORD_TOKEN must be set")
	}
	switch strings.ToLower(c.Store.Driver) {
	case "postgres", "postgresql", "pg":
		if c.Store.DatabaseURL == "" {
			return errors.New("DATABASE_URL must be set for the postgres store")
		}
	case "sqlite", "json", "memory", "":
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.StickyCooldown <= 0 {
		return fmt.Errorf("sticky_cooldown must be positive, got %s", c.StickyCooldown)
	}
	if c.PlatformTimeout <= 0 {
		return fmt.Errorf("platform_timeout must be positive, got %s", c.PlatformTimeout)
	}
	if _, err := entry_service.ParseNoResponseScope(string(c.NoResponseScope)); err != nil {
		return err
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("log_format must be console or json, got %q", c.LogFormat)
	}
	return nil
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

package server

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/nova-gt/novaserver/pkg/world"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "NOVA_"

// Config is the full server configuration. Values come from DefaultConfig,
// then the YAML file, then NOVA_* environment variables; cmd/server flags
// are applied last.
type Config struct {
	ENet    ENetConf    `yaml:"enet" envPrefix:"ENET_"`
	Web     WebConfig   `yaml:"web" envPrefix:"WEB_"`
	Auth    AuthConf    `yaml:"auth" envPrefix:"AUTH_"`
	Storage StorageConf `yaml:"storage" envPrefix:"STORAGE_"`
	Game    GameConf    `yaml:"game" envPrefix:"GAME_"`
	Log     LogConf     `yaml:"log" envPrefix:"LOG_"`
}

// ENetConf configures the UDP game listener.
type ENetConf struct {
	Port       uint16 `yaml:"port" env:"PORT"`
	MaxPeers   uint64 `yaml:"max_peers" env:"MAX_PEERS"`
	Channels   uint64 `yaml:"channels" env:"CHANNELS"`
	PublicHost string `yaml:"public_host" env:"PUBLIC_HOST"` // Advertised by server_data.php
}

// WebConfig holds configuration for the web server.
type WebConfig struct {
	Enabled     bool     `yaml:"enabled" env:"ENABLED"`
	Host        string   `yaml:"host" env:"HOST"`
	Port        int      `yaml:"port" env:"PORT"`
	Domain      string   `yaml:"domain" env:"DOMAIN"`
	CertFile    string   `yaml:"cert_file" env:"CERT_FILE"`
	KeyFile     string   `yaml:"key_file" env:"KEY_FILE"`
	CertDir     string   `yaml:"cert_dir" env:"CERT_DIR"`
	CORSOrigins []string `yaml:"cors_origins" env:"CORS_ORIGINS"`
	RateLimit   int      `yaml:"rate_limit" env:"RATE_LIMIT"` // requests per minute per IP

	// Admin mounts the operator API under /admin/. An empty password falls
	// back to the stored hash or a generated one.
	Admin         bool   `yaml:"admin" env:"ADMIN"`
	AdminPassword string `yaml:"admin_password" env:"ADMIN_PASSWORD"`
}

// AuthConf configures the account store.
type AuthConf struct {
	JWTSecret     string        `yaml:"jwt_secret" env:"JWT_SECRET"`
	TokenExpiry   time.Duration `yaml:"token_expiry" env:"TOKEN_EXPIRY"`
	GuestsEnabled bool          `yaml:"guests_enabled" env:"GUESTS_ENABLED"`
	MaxGuests     int           `yaml:"max_guests" env:"MAX_GUESTS"`
}

// StorageConf locates the on-disk state.
type StorageConf struct {
	BoltPath       string        `yaml:"bolt_path" env:"BOLT_PATH"`
	AuditPath      string        `yaml:"audit_path" env:"AUDIT_PATH"` // Empty disables the audit log
	AuditRetention time.Duration `yaml:"audit_retention" env:"AUDIT_RETENTION"`
	ItemsPath      string        `yaml:"items_path" env:"ITEMS_PATH"`
	ArchiveDir     string        `yaml:"archive_dir" env:"ARCHIVE_DIR"` // Empty disables snapshots
	ArchiveEvery   time.Duration `yaml:"archive_interval" env:"ARCHIVE_INTERVAL"`
	ArchiveRetain  int           `yaml:"archive_retain" env:"ARCHIVE_RETAIN"`
}

// GameConf holds gameplay parameters sent to clients.
type GameConf struct {
	DefaultWorld string `yaml:"default_world" env:"DEFAULT_WORLD"`
	WorldWidth   int    `yaml:"world_width" env:"WORLD_WIDTH"`
	WorldHeight  int    `yaml:"world_height" env:"WORLD_HEIGHT"`
	CDNHost      string `yaml:"cdn_host" env:"CDN_HOST"`
	CDNPath      string `yaml:"cdn_path" env:"CDN_PATH"`
	Welcome      string `yaml:"welcome" env:"WELCOME"`
}

// LogConf selects the zap configuration.
type LogConf struct {
	Level string `yaml:"level" env:"LEVEL"`
	Dev   bool   `yaml:"dev" env:"DEV"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ENet: ENetConf{
			Port:       17091,
			MaxPeers:   1024,
			Channels:   2,
			PublicHost: "127.0.0.1",
		},
		Web: WebConfig{
			Enabled:   true,
			Port:      8443,
			CertDir:   "certs",
			RateLimit: 120,
			Admin:     true,
		},
		Auth: AuthConf{
			TokenExpiry:   24 * time.Hour,
			GuestsEnabled: true,
			MaxGuests:     500,
		},
		Storage: StorageConf{
			BoltPath:       "data/nova.bolt",
			AuditPath:      "data/audit.sqlite",
			AuditRetention: 30 * 24 * time.Hour,
			ItemsPath:      "data/items.dat",
			ArchiveEvery:   6 * time.Hour,
			ArchiveRetain:  10,
		},
		Game: GameConf{
			DefaultWorld: "START",
			WorldWidth:   world.DefaultWidth,
			WorldHeight:  world.DefaultHeight,
			CDNHost:      "ubistatic-a.akamaihd.net",
			CDNPath:      "0098/CDNContent/cache/",
			Welcome:      "Welcome to `wnovaserver``!",
		},
		Log: LogConf{Level: "info"},
	}
}

// LoadConfig reads path (optional) over the defaults and applies NOVA_*
// environment overrides.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML %s: %w", path, err)
		}
	}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values the server cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if c.ENet.Port == 0 {
		errs = append(errs, errors.New("enet.port must be set"))
	}
	if c.ENet.Channels == 0 {
		errs = append(errs, errors.New("enet.channels must be at least 1"))
	}
	if c.Web.Enabled && (c.Web.Port <= 0 || c.Web.Port > 65535) {
		errs = append(errs, fmt.Errorf("web.port %d out of range", c.Web.Port))
	}
	if c.Storage.BoltPath == "" {
		errs = append(errs, errors.New("storage.bolt_path must be set"))
	}
	if name, err := world.NormalizeName(c.Game.DefaultWorld); err != nil {
		errs = append(errs, fmt.Errorf("game.default_world %q: %w", c.Game.DefaultWorld, err))
	} else {
		c.Game.DefaultWorld = name
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

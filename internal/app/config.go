package app

import (
	"fmt"
	"strings"
	"time"

	coreconfig "github.com/m3rciful/requestbot/core/config"
	coredatabase "github.com/m3rciful/requestbot/core/database"
	"github.com/m3rciful/requestbot/internal/request"
	tgadapter "github.com/m3rciful/requestbot/internal/telegram"
)

// Store drivers.
const (
	StoreMemory   = "memory"
	StorePostgres = coredatabase.DriverPostgres
	StoreSQLite   = coredatabase.DriverSQLite
)

// DefaultMaintenanceCron runs store maintenance every 30 minutes.
const DefaultMaintenanceCron = "*/30 * * * *"

// RequestConfig configures the request flow.
type RequestConfig struct {
	DestinationChannelID int64 `yaml:"destination_channel_id" envconfig:"CHANNEL_ID" validate:"required"`
	// ChannelURL is offered to users who still have to join.
	ChannelURL      string   `yaml:"channel_url" envconfig:"CHANNEL_URL" validate:"omitempty,url"`
	CooldownSeconds int      `yaml:"cooldown_seconds" envconfig:"REQUEST_COOLDOWN_SECONDS" validate:"gte=0"`
	AllowedTags     []string `yaml:"allowed_tags" envconfig:"REQUEST_ALLOWED_TAGS" validate:"dive,startswith=#"`
}

// Cooldown returns the cooldown window.
func (r RequestConfig) Cooldown() time.Duration {
	return time.Duration(r.CooldownSeconds) * time.Second
}

// StoreConfig selects where sessions live.
type StoreConfig struct {
	Driver string `yaml:"driver" envconfig:"STORE_DRIVER" validate:"omitempty,oneof=memory postgres sqlite"`
	// MaintenanceCron schedules pruning of stale sessions; "off" disables it.
	MaintenanceCron string `yaml:"maintenance_cron" envconfig:"STORE_MAINTENANCE_CRON"`
}

// Config is the full bot configuration.
type Config struct {
	coreconfig.Config `yaml:",inline"`

	Request  RequestConfig       `yaml:"request"`
	Messages tgadapter.Messages  `yaml:"messages"`
	Store    StoreConfig         `yaml:"store"`
	Database coredatabase.Config `yaml:"database"`
}

// CoreConfig exposes the embedded core configuration.
func (c *Config) CoreConfig() *coreconfig.Config {
	return &c.Config
}

// UsesDatabase reports whether sessions are kept in SQL.
func (c *Config) UsesDatabase() bool {
	return c.Store.Driver == StorePostgres || c.Store.Driver == StoreSQLite
}

// DatabaseConfig returns the database settings, or nil for the memory store.
func (c *Config) DatabaseConfig() *coredatabase.Config {
	if !c.UsesDatabase() {
		return nil
	}
	db := c.Database
	return &db
}

// Load reads path (YAML, optional) and the environment, then normalizes and validates.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := coreconfig.LoadInto(path, &cfg); err != nil {
		return nil, err
	}
	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	if err := coreconfig.Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize applies defaults and cross-field checks.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	if err := coreconfig.Normalize(&cfg.Config); err != nil {
		return err
	}

	if cfg.Request.CooldownSeconds == 0 {
		cfg.Request.CooldownSeconds = int(request.DefaultCooldown / time.Second)
	}
	tags := make([]string, 0, len(cfg.Request.AllowedTags))
	for _, t := range cfg.Request.AllowedTags {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			tags = append(tags, t)
		}
	}
	if len(tags) == 0 {
		tags = append(tags, request.DefaultTags...)
	}
	cfg.Request.AllowedTags = tags

	driver := strings.ToLower(strings.TrimSpace(cfg.Store.Driver))
	switch driver {
	case "", "mem", "inmemory":
		driver = StoreMemory
	case "postgresql", "pg":
		driver = StorePostgres
	case "sqlite3":
		driver = StoreSQLite
	}
	cfg.Store.Driver = driver

	cron := strings.TrimSpace(cfg.Store.MaintenanceCron)
	if cron == "" {
		cron = DefaultMaintenanceCron
	}
	cfg.Store.MaintenanceCron = cron

	switch driver {
	case StorePostgres:
		cfg.Database.Driver = StorePostgres
		if strings.TrimSpace(cfg.Database.Host) == "" || strings.TrimSpace(cfg.Database.Name) == "" {
			return fmt.Errorf("database.host and database.name are required when store.driver is 'postgres'")
		}
	case StoreSQLite:
		cfg.Database.Driver = StoreSQLite
		if strings.TrimSpace(cfg.Database.Path) == "" {
			cfg.Database.Path = "data/requestbot.db"
		}
	}
	return nil
}

// MaintenanceEnabled reports whether the maintenance job should be scheduled.
func (c *Config) MaintenanceEnabled() bool {
	return !strings.EqualFold(c.Store.MaintenanceCron, "off")
}

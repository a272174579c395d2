package config

import (
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/clinica/epicrisis/internal/platform/db"
)

const (
	DriverBolt     = "bolt"
	DriverPostgres = "postgres"
)

type Config struct {
	Port             string        `mapstructure:"PORT"`
	BindAddr         string        `mapstructure:"BIND_ADDR"`
	Env              string        `mapstructure:"ENV"`
	StoreDriver      string        `mapstructure:"STORE_DRIVER"`
	StorePath        string        `mapstructure:"STORE_PATH"`
	StoreOpenTimeout time.Duration `mapstructure:"STORE_OPEN_TIMEOUT"`
	DatabaseURL      string        `mapstructure:"DATABASE_URL"`
	DBMaxConns       int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns       int32         `mapstructure:"DB_MIN_CONNS"`
	DBSchema         string        `mapstructure:"DB_SCHEMA"`
	CORSOrigins      []string      `mapstructure:"CORS_ORIGINS"`
	BackupDir        string        `mapstructure:"BACKUP_DIR"`
	BackupInterval   time.Duration `mapstructure:"BACKUP_INTERVAL"`
	BackupKeep       int           `mapstructure:"BACKUP_KEEP"`
	ClinicName       string        `mapstructure:"CLINIC_NAME"`
}

var keys = []string{
	"PORT",
	"BIND_ADDR",
	"ENV",
	"STORE_DRIVER",
	"STORE_PATH",
	"STORE_OPEN_TIMEOUT",
	"DATABASE_URL",
	"DB_MAX_CONNS",
	"DB_MIN_CONNS",
	"DB_SCHEMA",
	"CORS_ORIGINS",
	"BACKUP_DIR",
	"BACKUP_INTERVAL",
	"BACKUP_KEEP",
	"CLINIC_NAME",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8080")
	v.SetDefault("BIND_ADDR", "127.0.0.1")
	v.SetDefault("ENV", "development")
	v.SetDefault("STORE_DRIVER", DriverBolt)
	v.SetDefault("STORE_PATH", "clinica.db")
	v.SetDefault("STORE_OPEN_TIMEOUT", "1s")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 1)
	v.SetDefault("DB_SCHEMA", "public")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("BACKUP_DIR", "backups")
	v.SetDefault("BACKUP_INTERVAL", "0s")
	v.SetDefault("BACKUP_KEEP", 7)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))

	if !cfg.IsLoopback() {
		log.Println("WARNING: ============================================================")
		log.Printf("WARNING: BIND_ADDR=%s is not a loopback address.", cfg.BindAddr)
		log.Println("WARNING: Patient records are served without authentication.")
		log.Println("WARNING: ============================================================")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// IsLoopback reports whether the HTTP listener stays on the local machine.
func (c *Config) IsLoopback() bool {
	if c.BindAddr == "localhost" {
		return true
	}
	ip := net.ParseIP(c.BindAddr)
	return ip != nil && ip.IsLoopback()
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.BindAddr, c.Port)
}

// Validate checks that the configuration names a usable store and sane
// backup settings.
func (c *Config) Validate() error {
	if _, err := strconv.ParseUint(c.Port, 10, 16); err != nil {
		return fmt.Errorf("PORT must be a number between 0 and 65535, got %q", c.Port)
	}

	switch c.StoreDriver {
	case DriverBolt:
		if c.StorePath == "" {
			return fmt.Errorf("STORE_PATH is required when STORE_DRIVER is %q", DriverBolt)
		}
		if c.StoreOpenTimeout < 0 {
			return fmt.Errorf("STORE_OPEN_TIMEOUT must not be negative, got %s", c.StoreOpenTimeout)
		}
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER is %q", DriverPostgres)
		}
		if !db.ValidSchema(c.DBSchema) {
			return fmt.Errorf("DB_SCHEMA %q is not a valid identifier", c.DBSchema)
		}
		if c.DBMinConns > c.DBMaxConns {
			return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
		}
		if c.BackupInterval > 0 {
			return fmt.Errorf("BACKUP_INTERVAL applies to the %q store only", DriverBolt)
		}
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", DriverBolt, DriverPostgres, c.StoreDriver)
	}

	if c.BackupInterval < 0 {
		return fmt.Errorf("BACKUP_INTERVAL must not be negative, got %s", c.BackupInterval)
	}
	if c.BackupKeep < 0 {
		return fmt.Errorf("BACKUP_KEEP must not be negative, got %d", c.BackupKeep)
	}
	if c.BackupInterval > 0 && c.BackupDir == "" {
		return fmt.Errorf("BACKUP_DIR is required when BACKUP_INTERVAL is set")
	}

	return nil
}

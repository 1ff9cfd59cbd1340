package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Config holds application configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Rates    RatesConfig
	Analysis AnalysisConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	Mode           string   `mapstructure:"mode"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// DatabaseConfig selects the transaction store. Driver "memory" runs without
// postgres, which is only useful for local development.
type DatabaseConfig struct {
	Driver      string `mapstructure:"driver"`
	DSN         string `mapstructure:"dsn"`
	AutoMigrate bool   `mapstructure:"auto_migrate"`
}

type RatesConfig struct {
	LookupTimeout time.Duration `mapstructure:"lookup_timeout"`
}

type AnalysisConfig struct {
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from an optional file and env. Env var overrides
// use prefix ATO_, e.g. ATO_DATABASE_DSN. DATABASE_URL is honoured as well.
func Load() (Config, error) {
	v := viper.New()

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("rates.lookup_timeout", 2*time.Second)
	v.SetDefault("analysis.fetch_timeout", 15*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetConfigType("toml")
	if path := os.Getenv("ATO_CONFIG"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	v.SetEnvPrefix("ATO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if c.Database.DSN == "" {
		c.Database.DSN = os.Getenv("DATABASE_URL")
	}
	if raw := os.Getenv("ATO_SERVER_ALLOWED_ORIGINS"); raw != "" {
		c.Server.AllowedOrigins = strings.Split(raw, ",")
	}
	return c, nil
}

// InitDB opens the postgres connection.
func InitDB(cfg DatabaseConfig) (*gorm.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database dsn is empty: set ATO_DATABASE_DSN or DATABASE_URL")
	}
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return db, nil
}

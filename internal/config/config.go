// ABOUTME: Process configuration for the rowstore CLI and server
// ABOUTME: Values come from flags, environment, an optional .env.<env> file and defaults

package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Store  StoreConfig
	Log    LogConfig
	Server ServerConfig
}

// StoreConfig locates the database file and its schema
type StoreConfig struct {
	Path       string
	SchemaFile string
}

// LogConfig represents logger configuration
type LogConfig struct {
	Level  string
	Pretty bool
}

// ServerConfig represents server configuration
type ServerConfig struct {
	GRPCPort    int
	MetricsPort int // Port for Prometheus metrics HTTP server
}

// Keys shared by the environment, .env files and bound flags
const (
	KeyDBPath      = "ROWSTORE_DB_PATH"
	KeySchema      = "ROWSTORE_SCHEMA"
	KeyLogLevel    = "LOG_LEVEL"
	KeyLogPretty   = "LOG_PRETTY"
	KeyGRPCPort    = "GRPC_PORT"
	KeyMetricsPort = "METRICS_PORT"
)

var logLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "error": true, "disabled": true,
}

// InitConfig initializes viper configuration.
// env: environment name (dev, test, prod); dir: where .env.<env> lives, default the working directory
func InitConfig(env, dir string) error {
	if env == "" {
		env = "dev"
	}
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to resolve working directory: %w", err)
		}
		dir = wd
	}

	viper.SetConfigName(fmt.Sprintf(".env.%s", env))
	viper.SetConfigType("env")
	viper.AddConfigPath(dir)

	// The file is optional; a malformed one is not
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("failed to read .env.%s: %w", env, err)
		}
	}

	// Environment variables take precedence over config file
	viper.AutomaticEnv()

	viper.SetDefault(KeyDBPath, "rowstore.db")
	viper.SetDefault(KeySchema, "schema.yaml")
	viper.SetDefault(KeyLogLevel, "info")
	viper.SetDefault(KeyLogPretty, true)
	viper.SetDefault(KeyGRPCPort, 50061)
	viper.SetDefault(KeyMetricsPort, 9464)

	return nil
}

// Load loads configuration from viper
func Load() (*Config, error) {
	config := &Config{
		Store: StoreConfig{
			Path:       viper.GetString(KeyDBPath),
			SchemaFile: viper.GetString(KeySchema),
		},
		Log: LogConfig{
			Level:  viper.GetString(KeyLogLevel),
			Pretty: viper.GetBool(KeyLogPretty),
		},
		Server: ServerConfig{
			GRPCPort:    viper.GetInt(KeyGRPCPort),
			MetricsPort: viper.GetInt(KeyMetricsPort),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks the loaded values
func (c *Config) Validate() error {
	if c.Store.Path == "" {
		return fmt.Errorf("%s is required", KeyDBPath)
	}
	if !logLevels[c.Log.Level] {
		return fmt.Errorf("%s: unknown level %q", KeyLogLevel, c.Log.Level)
	}
	if err := checkPort(KeyGRPCPort, c.Server.GRPCPort); err != nil {
		return err
	}
	return checkPort(KeyMetricsPort, c.Server.MetricsPort)
}

func checkPort(key string, port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("%s: port %d out of range", key, port)
	}
	return nil
}

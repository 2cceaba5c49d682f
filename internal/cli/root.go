// Package cli provides the command-line interface for RowStore.
package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nainya/rowstore/internal/config"
	"github.com/nainya/rowstore/internal/logger"
	"github.com/nainya/rowstore/internal/metrics"
	"github.com/nainya/rowstore/pkg/rowstore"
	"github.com/nainya/rowstore/pkg/schema"
)

// Version information (set at build time).
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
)

// configKey is used to store config in context.
type configKey struct{}

// NewRootCmd creates and returns the root command.
func NewRootCmd() *cobra.Command {
	var env string

	rootCmd := &cobra.Command{
		Use:   "rowstore",
		Short: "RowStore - typed rows over a copy-on-write B+tree",
		Long: `RowStore keeps schema-described entities as typed rows in a single
database file and exposes them through name-based dynamic objects.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// Skip config loading for help and completion commands
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
				return nil
			}

			if err := config.InitConfig(env, ""); err != nil {
				return err
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			logger.InitGlobalLogger(logger.Config{
				Level:  cfg.Log.Level,
				Pretty: cfg.Log.Pretty,
				Output: cmd.ErrOrStderr(),
			})

			cmd.SetContext(context.WithValue(cmd.Context(), configKey{}, cfg))
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.SetVersionTemplate(fmt.Sprintf("{{.Name}} {{.Version}} (%s)\n", GitCommit))

	// Global persistent flags
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&env, "env", "dev", "Environment name, selects .env.<env>")
	flags.String("db", "", "Path to the database file")
	flags.String("schema", "", "Path to the YAML schema file")
	flags.String("log-level", "", "Log level (debug|info|warn|error|disabled)")
	flags.Bool("log-pretty", true, "Human-readable console logs")

	_ = viper.BindPFlag(config.KeyDBPath, flags.Lookup("db"))
	_ = viper.BindPFlag(config.KeySchema, flags.Lookup("schema"))
	_ = viper.BindPFlag(config.KeyLogLevel, flags.Lookup("log-level"))
	_ = viper.BindPFlag(config.KeyLogPretty, flags.Lookup("log-pretty"))

	_ = rootCmd.RegisterFlagCompletionFunc("log-level", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"debug", "info", "warn", "error", "disabled"}, cobra.ShellCompDirectiveNoFileComp
	})

	rootCmd.AddCommand(newVersionCommand())
	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newPutCommand())
	rootCmd.AddCommand(newGetCommand())
	rootCmd.AddCommand(newDeleteCommand())
	rootCmd.AddCommand(newServeCommand())

	return rootCmd
}

// Execute runs the root command.
func Execute() error {
	rootCmd := NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}

// GetConfig retrieves the config from the command context.
func GetConfig(ctx context.Context) *config.Config {
	if c, ok := ctx.Value(configKey{}).(*config.Config); ok {
		return c
	}
	return &config.Config{
		Store: config.StoreConfig{Path: "rowstore.db", SchemaFile: "schema.yaml"},
		Log:   config.LogConfig{Level: "info", Pretty: true},
	}
}

// openStore loads the schema file and opens the database, creating any
// missing tables.
func openStore(cfg *config.Config, m *metrics.Metrics) (*rowstore.Store, error) {
	reg, err := schema.LoadFile(cfg.Store.SchemaFile)
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(cfg.Store.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	return rowstore.Open(rowstore.Options{
		Path:    cfg.Store.Path,
		Schemas: reg,
		Logger:  logger.GetGlobalLogger(),
		Metrics: m,
	})
}

// -- cmd/root.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/shroud/internal/config"
	"github.com/xkilldash9x/shroud/internal/observability"
	"github.com/xkilldash9x/shroud/internal/service"
)

type contextKey string

const configKey contextKey = "config"

// newComponentFactory is swapped out by tests.
var newComponentFactory = service.NewComponentFactory

// NewRootCommand builds a fresh command tree. Every call returns independent flag state.
func NewRootCommand() *cobra.Command {
	var (
		cfgFile          string
		whitelistBackend string
	)

	rootCmd := &cobra.Command{
		Use:           "shroud",
		Short:         "Shroud filters keyword content out of live web pages.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			config.SetDefaults(v)

			// 1. Config file and environment
			if err := initializeConfig(v, cfgFile); err != nil {
				return err
			}

			// 2. Build and validate the configuration.
			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "shroud"})
				return fmt.Errorf("failed to load or validate config: %w", err)
			}
			if cmd.Flags().Changed("whitelist-backend") {
				cfg.SetWhitelistBackend(whitelistBackend)
				if err := cfg.Validate(); err != nil {
					return fmt.Errorf("invalid configuration: %w", err)
				}
			}

			// 3. Logger
			observability.InitializeLogger(cfg.Logger())
			observability.GetLogger().Debug("Starting shroud", zap.String("version", Version))

			// 4. Hand the configuration to the subcommand.
			cmd.SetContext(context.WithValue(cmd.Context(), configKey, cfg))
			return nil
		},
	}
	rootCmd.SetVersionTemplate(`{{printf "%s version %s\n" .Name .Version}}`)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&whitelistBackend, "whitelist-backend", "",
		"whitelist backend: memory, file, sqlite, postgres or redis (overrides config/env)")

	rootCmd.AddCommand(newFilterCmd())
	rootCmd.AddCommand(newWatchCmd())
	rootCmd.AddCommand(newProxyCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newWhitelistCmd())
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

// Execute runs the command tree against os.Args.
func Execute(ctx context.Context) error {
	defer observability.Sync()

	err := NewRootCommand().ExecuteContext(ctx)
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		observability.GetLogger().Info("Shutting down.")
	default:
		observability.GetLogger().Error("Command execution failed", zap.Error(err))
	}
	return err
}

// initializeConfig reads the config file, if any, and enables SHROUD_* environment overrides.
func initializeConfig(v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("SHROUD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// No config file; defaults and environment apply.
	}
	return nil
}

// configFrom returns the configuration installed by the root command.
func configFrom(cmd *cobra.Command) (*config.Config, error) {
	cfg, ok := cmd.Context().Value(configKey).(*config.Config)
	if !ok || cfg == nil {
		return nil, errors.New("configuration not loaded")
	}
	return cfg, nil
}

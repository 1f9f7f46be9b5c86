package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tgwatch/tg-session-watch/internal/conf"
	"github.com/tgwatch/tg-session-watch/internal/pkg/logger"
)

func newRootCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:           "tgwatch",
		Short:         "Telegram session acquisition and private message monitoring",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
				fmt.Fprintf(os.Stderr, "Failed to read .env: %v\n", err)
			}
		},
	}

	cmd.PersistentFlags().String("log-level", "", "Log level (trace|debug|info|warn|error)")
	cmd.PersistentFlags().String("log-format", "", "Log format (console|json)")
	cmd.PersistentFlags().String("db", "", "SQLite database path (ignored when DATABASE_URL is set)")
	_ = v.BindPFlag("log_level", cmd.PersistentFlags().Lookup("log-level"))
	_ = v.BindPFlag("log_format", cmd.PersistentFlags().Lookup("log-format"))
	_ = v.BindPFlag("session_db_path", cmd.PersistentFlags().Lookup("db"))

	cmd.AddCommand(newServeCmd(v))
	cmd.AddCommand(newMigrateCmd(v))
	cmd.AddCommand(newNotifyCmd(v))

	return cmd
}

// loadConfig reads and validates configuration and initializes logging
func loadConfig(v *viper.Viper, validate bool) (*conf.Config, error) {
	cfg, err := conf.Load(v)
	if err != nil {
		return nil, err
	}
	logger.Init(logger.Options{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Service: "tgwatch",
	})
	if validate {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
	}
	return cfg, nil
}

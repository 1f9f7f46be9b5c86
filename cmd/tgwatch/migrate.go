package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tgwatch/tg-session-watch/internal/data"
)

func newMigrateCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the credential store schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v, false)
			if err != nil {
				return err
			}
			if err := cfg.Store.Validate(); err != nil {
				return err
			}

			store, backend, err := data.OpenStore(cmd.Context(), data.StoreConfig{
				DatabaseURL: cfg.Store.DatabaseURL,
				SQLitePath:  cfg.Store.DBPath,
			})
			if err != nil {
				return err
			}
			defer store.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "%s store is up to date\n", backend)
			return nil
		},
	}
}

package main

import (
	"github.com/spf13/cobra"

	"github.com/waterwheel/waterwheel/internal/config"
	"github.com/waterwheel/waterwheel/internal/store"
)

func migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			return store.Migrate(cfg.DatabaseURL)
		},
	}
}

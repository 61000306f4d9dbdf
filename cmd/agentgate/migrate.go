package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"agentgate/config"
	"agentgate/internal/store"
)

func migrateCMD() *cobra.Command {
	var cfgPath string
	var migrate = &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			st, err := store.Open(cfg.Storage.SQLitePath)
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.Migrate(); err != nil {
				return err
			}
			fmt.Println("migrations applied")
			return nil
		},
	}
	migrate.Flags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return migrate
}

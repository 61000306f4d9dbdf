package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"agentgate/config"
	"agentgate/internal/auth"
	"agentgate/internal/store"
)

func openStore(cfgPath string) (*config.Config, *store.Store, error) {
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		return nil, nil, err
	}
	st, err := store.Open(cfg.Storage.SQLitePath)
	if err != nil {
		return nil, nil, err
	}
	return cfg, st, nil
}

func tenantCMD() *cobra.Command {
	var cfgPath string
	var tenant = &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants",
	}
	tenant.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	var maxRequests, maxToolCalls, maxBytes int64
	var create = &cobra.Command{
		Use:   "create NAME",
		Short: "Create a tenant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, st, err := openStore(cfgPath)
			if err != nil {
				return err
			}
			defer st.Close()
			if maxRequests == 0 {
				maxRequests = cfg.Quota.MaxRequestsPerDay
			}
			if maxToolCalls == 0 {
				maxToolCalls = cfg.Quota.MaxToolCallsPerDay
			}
			if maxBytes == 0 {
				maxBytes = cfg.Quota.MaxBytesFetchedPerDay
			}
			t, err := st.CreateTenant(cmd.Context(), args[0], maxRequests, maxToolCalls, maxBytes)
			if err != nil {
				return err
			}
			fmt.Printf("tenant %s created: %s\n", t.Name, t.ID)
			return nil
		},
	}
	create.Flags().Int64Var(&maxRequests, "max-requests", 0, "daily request quota")
	create.Flags().Int64Var(&maxToolCalls, "max-tool-calls", 0, "daily tool call quota")
	create.Flags().Int64Var(&maxBytes, "max-bytes", 0, "daily fetched bytes quota")

	var list = &cobra.Command{
		Use:   "list",
		Short: "List tenants",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, st, err := openStore(cfgPath)
			if err != nil {
				return err
			}
			defer st.Close()
			tenants, err := st.ListTenants(cmd.Context())
			if err != nil {
				return err
			}
			for _, t := range tenants {
				fmt.Printf("%s  %s  req=%d tools=%d bytes=%d\n",
					t.ID, t.Name, t.MaxRequestsPerDay, t.MaxToolCallsPerDay, t.MaxBytesFetchedPerDay)
			}
			return nil
		},
	}

	tenant.AddCommand(create, list)
	return tenant
}

func keyCMD() *cobra.Command {
	var cfgPath string
	var key = &cobra.Command{
		Use:   "key",
		Short: "Manage API keys",
	}
	key.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	var label string
	var create = &cobra.Command{
		Use:   "create TENANT_ID",
		Short: "Issue an API key for a tenant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, st, err := openStore(cfgPath)
			if err != nil {
				return err
			}
			defer st.Close()
			if _, err := st.GetTenant(cmd.Context(), args[0]); err != nil {
				return err
			}
			keyring := auth.NewKeyring(cfg.Server.KeyHashSecret, cfg.Server.LegacyAPIKey, st)
			rawKey, keyHash, prefix, err := keyring.Generate()
			if err != nil {
				return err
			}
			k, err := st.InsertAPIKey(cmd.Context(), args[0], keyHash, prefix, label)
			if err != nil {
				return err
			}
			fmt.Printf("key %s created\n", k.ID)
			fmt.Printf("api key (shown once): %s\n", rawKey)
			return nil
		},
	}
	create.Flags().StringVar(&label, "label", "", "key label")

	var revoke = &cobra.Command{
		Use:   "revoke KEY_ID",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, st, err := openStore(cfgPath)
			if err != nil {
				return err
			}
			defer st.Close()
			k, err := st.GetAPIKey(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := st.RevokeAPIKey(cmd.Context(), k.ID, k.TenantID); err != nil {
				return err
			}
			fmt.Printf("key %s revoked\n", k.ID)
			return nil
		},
	}

	key.AddCommand(create, revoke)
	return key
}

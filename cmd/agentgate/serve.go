package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"agentgate/config"
	"agentgate/internal/auth"
	"agentgate/internal/batch"
	"agentgate/internal/capability"
	"agentgate/internal/executor"
	"agentgate/internal/llm"
	"agentgate/internal/planner"
	"agentgate/internal/policy"
	"agentgate/internal/quota"
	"agentgate/internal/server"
	"agentgate/internal/store"
	"agentgate/internal/tools"
)

func serveCMD() *cobra.Command {
	var cfgPath string
	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run HTTP API server",
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

			llmClient := llm.New(cfg.LLM)
			guard := policy.NewURLGuard()
			registry := capability.NewRegistry()
			toolkit := tools.NewToolkit(cfg.Tools, guard, llmClient)
			if err := toolkit.RegisterAll(registry); err != nil {
				return err
			}

			pl := planner.New(cfg.Planner, cfg.LLM.Mode, llmClient, guard)
			tracker := quota.NewTracker(st)
			ex := executor.New(st, registry, pl, tracker, cfg.Executor)
			ex.Start()
			runner := batch.NewRunner(st, cfg.Batch)
			keyring := auth.NewKeyring(cfg.Server.KeyHashSecret, cfg.Server.LegacyAPIKey, st)

			srv := server.New(*cfg, st, registry, ex, runner, keyring, tracker)
			e := srv.Echo()

			errCh := make(chan error, 1)
			go func() {
				errCh <- e.Start(cfg.Server.Address)
			}()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			select {
			case err := <-errCh:
				return err
			case sig := <-quit:
				log.Printf("received %s, shutting down", sig)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := e.Shutdown(ctx); err != nil {
				log.Printf("http shutdown: %v", err)
			}
			ex.Shutdown()
			runner.Wait()
			return nil
		},
	}
	serve.Flags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return serve
}

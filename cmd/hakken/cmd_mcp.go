package main

import (
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/ashita-ai/hakken/internal/mcp"
)

// mcpSyncInterval keeps the suppression cache warm while an MCP host holds
// the process open.
const mcpSyncInterval = 6 * time.Hour

var mcpAllowed []string

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the MCP surface on stdin/stdout",
	Long: `Serve discovery tools, prompts and resources over the Model Context
Protocol. Logs go to stderr; stdout carries the protocol stream. The CRM
outbox worker and suppression sync run in the background while serving.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a, err := openApp(ctx, slog.Default())
		if err != nil {
			return err
		}
		defer a.close()

		deps := mcp.Deps{
			Store:    a.db,
			Pusher:   a.pipe,
			Registry: a.registry,
			Runner:   a.runner,
			Env:      a.env,
			Health:   a.monitor,
			Allowed:  mcpAllowed,
			Version:  version,
			Logger:   a.logger,
		}
		if a.crm != nil {
			deps.CRM = a.crm
		}
		if a.syncer != nil {
			deps.Syncer = a.syncer
		}
		srv := mcp.New(deps)

		if a.worker != nil {
			a.worker.Start(ctx)
			defer a.worker.Stop(ctx)
		}
		if a.syncer != nil {
			go a.syncer.RunEvery(ctx, mcpSyncInterval)
		}

		return srv.ServeStdio(ctx)
	},
}

func init() {
	mcpCmd.Flags().StringSliceVar(&mcpAllowed, "collectors", nil, "restrict run-collector to these collectors")
	rootCmd.AddCommand(mcpCmd)
}

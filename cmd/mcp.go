package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sells-group/record-review/internal/mcptool"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the review pipeline as an MCP tool over stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "mcp", envOptions{})
		if err != nil {
			return err
		}
		defer env.Close(context.Background())

		return mcptool.ServeStdio(ctx, mcptool.NewServer(env.Engine, version))
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

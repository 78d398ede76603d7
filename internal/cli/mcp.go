package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	guardmcp "github.com/ppiankov/delayguard/internal/mcp"
)

func init() {
	rootCmd.AddCommand(mcpCmd)
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve read-only guard tools over MCP",
	Long: "Runs a Model Context Protocol server on stdio. Tools forward to the\n" +
		"delayguard server at --addr and never change account state: preview,\n" +
		"allowance lookups, status and batch decoding.",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dial()
		if err != nil {
			return err
		}
		defer c.Close()

		ctx, stop := signalContext()
		defer stop()

		fmt.Fprintf(cmd.ErrOrStderr(), "delayguard MCP tools on stdio, backend %s\n", serverAddr)
		return guardmcp.New(guardmcp.Config{Backend: c, Version: version}).Run(ctx)
	},
}

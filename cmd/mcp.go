package cmd

import (
	"github.com/spf13/cobra"

	"github.com/joescharf/tracker/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the MCP server over stdio",
	Long: `Run a Model Context Protocol server over stdio so that agents can
work with the tracker. Every mutating tool takes an "actor" email and runs
through the same permission checks as the API and CLI.`,
	RunE: mcpRun,
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func mcpRun(cmd *cobra.Command, args []string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	return mcp.NewServer(s).ServeStdio(cmd.Context())
}

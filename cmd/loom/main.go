// Package main provides the loom CLI entry point.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/richinex/loom/cli"
)

var (
	// Global flags
	configPath string
	provider   string
	modelName  string
	workDir    string
	maxIter    int
	verbose    bool
)

func main() {
	// Load .env file if present (ignore "file not found" errors)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Warning: failed to load .env file: %v\n", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := &cobra.Command{
		Use:   "loom",
		Short: "A supervised tool-calling coding assistant",
		Long: `loom turns a request into a bounded sequence of tool calls driven by an LLM.

Each turn runs at most --max-iter model round trips. Tool calls are validated
and run under timeouts. Shell commands can run in the background. Useful file
content is kept in a token-budgeted context store.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.loom/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&provider, "provider", "p", "", "LLM provider (openai, anthropic, deepseek, gemini)")
	rootCmd.PersistentFlags().StringVar(&modelName, "model", "", "Model name (default depends on provider)")
	rootCmd.PersistentFlags().StringVarP(&workDir, "workdir", "C", "", "Working directory for tools (default current directory)")
	rootCmd.PersistentFlags().IntVarP(&maxIter, "max-iter", "m", 0, "Maximum tool round trips per turn (default from config, 16)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Show steps and debug logs")

	rootCmd.AddCommand(runCmd(), chatCmd(), toolsCmd(), mcpServeCmd())

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func options(mcpServers []string, mcpConfigPath string) cli.Options {
	return cli.Options{
		ConfigPath:    configPath,
		Provider:      provider,
		Model:         modelName,
		WorkDir:       workDir,
		MaxIter:       maxIter,
		Verbose:       verbose,
		MCPServers:    mcpServers,
		MCPConfigPath: mcpConfigPath,
	}
}

func addMCPFlags(cmd *cobra.Command, servers *[]string, configPath *string) {
	cmd.Flags().StringArrayVar(servers, "mcp", nil, "MCP server command (repeatable)")
	cmd.Flags().StringVar(configPath, "mcp-config", "", "Path to MCP config file")
}

func runCmd() *cobra.Command {
	var mcpServers []string
	var mcpConfigPath string

	cmd := &cobra.Command{
		Use:   "run [task]",
		Short: "Execute a single task and print the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			task := strings.Join(args, " ")
			return cli.RunTask(cmd.Context(), task, options(mcpServers, mcpConfigPath), os.Stdout)
		},
	}
	addMCPFlags(cmd, &mcpServers, &mcpConfigPath)
	return cmd
}

func chatCmd() *cobra.Command {
	var chat cli.ChatOptions
	var mcpServers []string
	var mcpConfigPath string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		Long: `Start an interactive chat session.

Named sessions (--session) persist to SQLite and resume on the next start.
Inside the session, /stats shows tool and token totals and /clear resets the
conversation and the context store.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Chat(cmd.Context(), options(mcpServers, mcpConfigPath), chat, os.Stdin, os.Stdout)
		},
	}

	cmd.Flags().StringVar(&chat.SessionID, "session", "", "Session ID for conversation persistence")
	cmd.Flags().StringVar(&chat.DBPath, "db", "", "Database path (default $LOOM_DB_PATH, then .loom/loom.db)")
	addMCPFlags(cmd, &mcpServers, &mcpConfigPath)
	return cmd
}

func toolsCmd() *cobra.Command {
	var mcpServers []string
	var mcpConfigPath string

	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List available tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.ListTools(cmd.Context(), options(mcpServers, mcpConfigPath), os.Stdout)
		},
	}
	addMCPFlags(cmd, &mcpServers, &mcpConfigPath)
	return cmd
}

func mcpServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp-serve",
		Short: "Serve the builtin tools over MCP on stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.ServeMCP(cmd.Context(), options(nil, ""))
		},
	}
}

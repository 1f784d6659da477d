package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/m4xw311/mcpchat/devserver"
)

var (
	addr    string
	mode    string
	root    string
	hidden  []string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "mcp-devserver",
	Short: "A local MCP tool server for trying out mcpchat",
	Long: `mcp-devserver answers MCP requests posted to /message, either as plain JSON
or as a server-sent event stream. It offers echo, list, read_file, sleep and fail tools.`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		m, err := devserver.ParseMode(mode)
		if err != nil {
			return err
		}

		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
		if !verbose {
			logger = slog.New(slog.NewTextHandler(io.Discard, nil))
		}

		srv := devserver.New(devserver.WithMode(m), devserver.WithRoot(root), devserver.WithHidden(hidden...), devserver.WithLogger(logger))
		fmt.Fprintf(cmd.OutOrStdout(), "Serving MCP tools on http://%s/message (%s replies)\n", addr, m)
		return srv.ListenAndServe(ctx, addr)
	},
}

func init() {
	rootCmd.Flags().StringVar(&addr, "addr", "localhost:3000", "Listen `address`")
	rootCmd.Flags().StringVar(&mode, "mode", string(devserver.ModeJSON), "Reply framing: 'json' or 'sse'")
	rootCmd.Flags().StringVar(&root, "root", ".", "Directory listed by the list tool")
	rootCmd.Flags().StringSliceVar(&hidden, "hidden", []string{".env", ".git/**", ".mcpchat/**"}, "Glob `patterns` read_file refuses to read")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging to stderr")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

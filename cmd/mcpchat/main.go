package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/m4xw311/mcpchat/agent"
	"github.com/m4xw311/mcpchat/agent/terminal"
	"github.com/m4xw311/mcpchat/compact"
	"github.com/m4xw311/mcpchat/config"
	"github.com/m4xw311/mcpchat/llm"
	"github.com/m4xw311/mcpchat/mcpclient"
	"github.com/m4xw311/mcpchat/metrics"
	"github.com/m4xw311/mcpchat/transport"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type flags struct {
	configPath    string
	server        string
	llm           string
	model         string
	mode          string
	toolVerbosity string
	stream        bool
	verbose       bool
	metricsAddr   string
}

func newRootCmd(in io.Reader, out io.Writer) *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:   "mcpchat [query]",
		Short: "Chat with a language model that can use the tools of an MCP server",
		Long: `mcpchat connects to an MCP tool server over HTTP and lets a language model
call its tools to answer queries.

With a query argument it runs that query once, prints the execution log and
exits. Without one it starts an interactive prompt.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}
			var query string
			if len(args) == 1 {
				query = args[0]
			}
			return run(ctx, cfg, f, query, in, out)
		},
	}

	fs := cmd.Flags()
	fs.StringVar(&f.configPath, "config", "", "Configuration `file` (default: ~/.mcpchat/config.yaml and ./.mcpchat/config.yaml)")
	fs.StringVarP(&f.server, "server", "s", "", "MCP server base `url` (environment: MCP_SERVER_URL)")
	fs.StringVar(&f.llm, "llm", "", "Model provider: anthropic, openai, gemini, bedrock or mock")
	fs.StringVar(&f.model, "model", "", "Model name")
	fs.StringVarP(&f.mode, "mode", "m", "", "Execution mode: 'auto' or 'prompt'")
	fs.StringVar(&f.toolVerbosity, "tool-verbosity", "", "Tool verbosity level: 'none', 'info', or 'all'")
	fs.BoolVar(&f.stream, "stream", false, "Stream model text as it is generated")
	fs.BoolVarP(&f.verbose, "verbose", "v", false, "Enable verbose logging to stderr")
	fs.StringVar(&f.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on `addr` (e.g. :9090)")

	cmd.Version = fmt.Sprintf("%s (commit: %s, built at: %s)", version, commit, date)
	return cmd
}

// loadConfig reads the configuration and applies the flags the user set.
func loadConfig(cmd *cobra.Command, f flags) (*config.Config, error) {
	cfg, err := config.LoadConfig(f.configPath)
	if err != nil {
		return nil, err
	}
	set := cmd.Flags().Changed
	if set("server") {
		cfg.ServerURL = f.server
	}
	if set("llm") {
		cfg.LLMClient = f.llm
		cfg.APIKey = ""
		cfg.ResolveAPIKey()
	}
	if set("model") {
		cfg.Model = f.model
	}
	if set("mode") {
		cfg.Mode = f.mode
	}
	if set("tool-verbosity") {
		cfg.ToolVerbosity = f.toolVerbosity
	}
	if set("stream") {
		cfg.Stream = f.stream
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger writes to w at the configured level. Without --verbose or a
// log_level the logger is silent.
func newLogger(w io.Writer, cfg *config.Config, verbose bool) *slog.Logger {
	switch {
	case verbose:
		return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
	case cfg.LogLevel == "":
		return slog.New(slog.DiscardHandler)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: cfg.Level()}))
}

func run(ctx context.Context, cfg *config.Config, f flags, query string, in io.Reader, out io.Writer) error {
	logger := newLogger(os.Stderr, cfg, f.verbose)
	slog.SetDefault(logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	client, err := llm.New(ctx, llm.Options{
		Provider: cfg.LLMClient,
		Model:    cfg.Model,
		APIKey:   cfg.APIKey,
		BaseURL:  cfg.BaseURL,
		Region:   cfg.Region,
	})
	if err != nil {
		return fmt.Errorf("error initializing %s client: %w", cfg.LLMClient, err)
	}

	mc := mcpclient.New(cfg.ServerURL,
		mcpclient.WithTimeout(cfg.Timeout),
		mcpclient.WithLogger(logger),
		mcpclient.WithMetrics(m),
		mcpclient.WithToolFilter(cfg.Filter()),
		mcpclient.WithReportAnomalies(cfg.ReportAnomalies),
		mcpclient.WithClientInfo("mcpchat", version),
		mcpclient.WithTransportOptions(transport.WithRetries(cfg.Retries)),
	)
	defer mc.Cleanup()

	g, ctx := errgroup.WithContext(ctx)
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	if f.metricsAddr != "" {
		g.Go(func() error {
			return serveMetrics(ctx, f.metricsAddr, reg, logger)
		})
	}

	g.Go(func() error {
		defer stop()
		if err := mc.Connect(ctx); err != nil {
			return err
		}
		a := agent.New(client, mc,
			agent.WithModel(cfg.Model),
			agent.WithMaxTokens(cfg.MaxTokens),
			agent.WithMaxIterations(cfg.MaxIterations),
			agent.WithParallelTools(cfg.ParallelTools),
			agent.WithMode(agent.Mode(cfg.Mode)),
			agent.WithSystemPrompt(cfg.SystemPrompt),
			agent.WithCompactor(newCompactor(client, cfg, logger)),
			agent.WithLogger(logger),
			agent.WithMetrics(m),
		)

		if query != "" {
			log, _, err := a.ProcessQuery(ctx, query, "")
			if err != nil {
				return err
			}
			fmt.Fprintln(out, log)
			return nil
		}

		info, _ := mc.ServerInfo()
		fmt.Fprintf(out, "Connected to %s (%s %s), %d tools available. Type 'quit' to exit.\n",
			mc.ServerURL(), info.Name, info.Version, len(mc.Tools()))
		term := terminal.New(a, in, out,
			terminal.WithVerbosity(agent.ToolVerbosity(cfg.ToolVerbosity)),
			terminal.WithStreaming(cfg.Stream),
		)
		return term.Run(ctx, "")
	})

	return g.Wait()
}

func newCompactor(client llm.Client, cfg *config.Config, logger *slog.Logger) *compact.Compactor {
	model := cfg.SummaryModel
	if model == "" {
		model = cfg.Model
	}
	opts := []compact.Option{
		compact.WithModel(model),
		compact.WithMaxTokens(cfg.SummaryMaxTokens),
		compact.WithThreshold(cfg.CompactThreshold),
		compact.WithLogger(logger),
	}
	// Token counts only matter when compaction is conditional.
	if cfg.CompactThreshold > 0 {
		if counter, err := compact.NewTiktokenCounter(model); err == nil {
			opts = append(opts, compact.WithCounter(counter))
		} else {
			logger.Debug("token encoding unavailable, using approximate counts", "error", err)
		}
	}
	return compact.New(client, opts...)
}

// serveMetrics serves reg on addr until ctx is done.
func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("metrics server error: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func main() {
	if err := newRootCmd(os.Stdin, os.Stdout).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", strings.TrimSpace(err.Error()))
		os.Exit(1)
	}
}

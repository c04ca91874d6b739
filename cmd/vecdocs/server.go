package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/vecdocs/internal/api"
	"github.com/kalambet/vecdocs/internal/chunker"
	"github.com/kalambet/vecdocs/internal/config"
	"github.com/kalambet/vecdocs/internal/duplicate"
	"github.com/kalambet/vecdocs/internal/embedding"
	"github.com/kalambet/vecdocs/internal/engine"
	"github.com/kalambet/vecdocs/internal/ingest"
	"github.com/kalambet/vecdocs/internal/vectorstore"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the REST API and the MCP stdio server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(withMCP)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server, provider and index status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().Bool("mcp", true, "serve MCP tools over stdin/stdout")
	rootCmd.AddCommand(stopCmd)
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "vecdocs.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// buildService wires the configured providers, store, chunker and
// detector into an ingestion service. The returned store must be closed.
func buildService(ctx context.Context, cfg config.Config, logger *slog.Logger) (*ingest.Service, vectorstore.Store, error) {
	embedEngine, err := engine.New(cfg.ProviderConfig(cfg.Embedding.Provider))
	if err != nil {
		return nil, nil, fmt.Errorf("embedding provider: %w", err)
	}
	llmEngine, err := engine.New(cfg.ProviderConfig(cfg.LLM.Provider))
	if err != nil {
		return nil, nil, fmt.Errorf("llm provider: %w", err)
	}

	// Locally hosted providers pull missing models up front.
	if mm, ok := embedEngine.(engine.ModelManager); ok {
		if err := engine.EnsureReady(ctx, mm, os.Stderr, cfg.Embedding.Model); err != nil {
			return nil, nil, err
		}
	}
	if mm, ok := llmEngine.(engine.ModelManager); ok && cfg.Duplicate.Enabled {
		if err := engine.EnsureReady(ctx, mm, os.Stderr, cfg.LLM.Model); err != nil {
			return nil, nil, err
		}
	}

	ch, err := chunker.New(cfg.ChunkOptions())
	if err != nil {
		return nil, nil, fmt.Errorf("chunker: %w", err)
	}
	metric, err := vectorstore.ParseMetric(cfg.Storage.Metric)
	if err != nil {
		return nil, nil, err
	}

	store, err := vectorstore.Open(ctx, cfg.BackendConfig())
	if err != nil {
		return nil, nil, fmt.Errorf("opening %s store: %w", cfg.Storage.Backend, err)
	}

	svc := ingest.NewService(
		store,
		embedding.New(embedEngine, cfg.Embedding.Model, cfg.Embedding.BatchSize),
		ch,
		duplicate.NewDetector(llmEngine, cfg.LLM.Model, logger),
		ingest.Config{
			DefaultIndex:      cfg.Storage.DefaultIndex,
			Metric:            metric,
			AutoCreateIndex:   cfg.Storage.AutoCreateIndex,
			RedirectThreshold: cfg.Ingest.RedirectThreshold,
			Duplicate:         cfg.DuplicateSettings(),
		},
		logger,
	)
	return svc, store, nil
}

func runServer(withMCP bool) error {
	fmt.Fprintf(os.Stderr, "vecdocs version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLogLevel(cfg.Log.Level)}))
	slog.SetDefault(logger)

	if cfg.Server.Token == "" {
		slog.Warn("no API token configured; REST endpoints are unauthenticated", "env", "VECDOCS_SERVER_TOKEN")
	}

	// Refuse to start twice against the same port.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("vecdocs is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("vecdocs is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, store, err := buildService(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing store: %v\n", err)
		}
	}()

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr: addr,
		Handler: api.NewAppHandler(api.AppDeps{
			Documents: svc,
			Token:     cfg.Server.Token,
			Dimension: cfg.Storage.Dimension,
			Metric:    cfg.Storage.Metric,
		}),
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		fmt.Fprintf(os.Stderr, "vecdocs listening on %s (%s backend)\n", addr, cfg.Storage.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	if withMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Documents: svc,
			Version:   version,
			Dimension: cfg.Storage.Dimension,
			Metric:    cfg.Storage.Metric,
		})
		stdioSrv := server.NewStdioServer(mcpSrv)
		g.Go(func() error {
			slog.Info("MCP server started (stdio transport)")
			if err := stdioSrv.Listen(gctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("vecdocs is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop vecdocs (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to vecdocs (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	client := &apiClient{
		baseURL:    fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port),
		token:      cfg.Server.Token,
		index:      cfg.Storage.DefaultIndex,
		httpClient: &http.Client{Timeout: 2 * time.Second},
	}

	running := false
	resp, err := client.get(ctx, "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		running = resp.StatusCode == http.StatusOK
		if running {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Backend", "%s", cfg.Storage.Backend)
	printStatus("Embedding", "%s/%s", cfg.Embedding.Provider, cfg.Embedding.Model)
	printStatus("LLM", "%s/%s", cfg.LLM.Provider, cfg.LLM.Model)
	printStatus("Duplicate check", "%s", duplicateLabel(cfg))

	if running {
		stats, err := indexStats(ctx, client)
		if err != nil {
			printStatus("Indexes", "unavailable (%v)", err)
		} else if len(stats) == 0 {
			printStatus("Indexes", "none")
		}
		for _, s := range stats {
			printStatus("Index "+s.Name, "%d chunks, dim %d, %s", s.Count, s.Dimension, s.Metric)
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func duplicateLabel(cfg config.Config) string {
	if !cfg.Duplicate.Enabled {
		return "disabled"
	}
	return fmt.Sprintf("%s, threshold %.2f, top %d", cfg.Duplicate.Strategy, cfg.Duplicate.Threshold, cfg.Duplicate.TopK)
}

func indexStats(ctx context.Context, client *apiClient) ([]vectorstore.IndexStats, error) {
	names, err := listIndexNames(ctx, client)
	if err != nil {
		return nil, err
	}
	stats := make([]vectorstore.IndexStats, 0, len(names))
	for _, name := range names {
		s, err := describeIndex(ctx, client, name)
		if err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	return stats, nil
}

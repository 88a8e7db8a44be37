package main

import (
	"context"
	"errors"
	"fmt"
	"io"
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

	"github.com/kalambet/attune/internal/api"
	"github.com/kalambet/attune/internal/backup"
	"github.com/kalambet/attune/internal/config"
	"github.com/kalambet/attune/internal/evaluation"
	"github.com/kalambet/attune/internal/pipeline"
	"github.com/kalambet/attune/internal/profile"
	"github.com/kalambet/attune/internal/reply"
	"github.com/kalambet/attune/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the attune server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		mcpStdio, _ := cmd.Flags().GetBool("mcp-stdio")
		return runServer(mcpStdio)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running attune server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show attune system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	startCmd.Flags().Bool("mcp-stdio", false, "also serve MCP over stdin/stdout")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "attune.pid")
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

// newLogger builds the process logger from the log section of the config.
func newLogger(w io.Writer, lc config.LogConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(lc.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if lc.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// newGenerator returns the OpenAI-compatible generator when an API key is
// configured and the offline template generator otherwise.
func newGenerator(rc config.ReplyConfig) (reply.Generator, error) {
	if rc.APIKey == "" {
		slog.Warn("no reply.api_key configured, using template replies")
		return reply.NewTemplate(), nil
	}
	g, err := reply.NewOpenAI(rc.APIKey, rc.BaseURL, rc.Model)
	if err != nil {
		return nil, err
	}
	slog.Info("reply generator configured", "base_url", rc.BaseURL, "model", g.Model())
	return g, nil
}

// app is the set of components the server runs.
type app struct {
	backend storage.Backend
	store   *profile.Store
	evolver *pipeline.Evolver
	backups *backup.Worker
}

func buildApp(cfg config.Config, logger *slog.Logger) (*app, error) {
	backend, err := storage.Open(cfg.Storage.Backend, cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	store := profile.NewStore(backend,
		profile.WithRetention(cfg.Profile.RetentionWindow),
		profile.WithWeights(cfg.Evaluation.Weights),
		profile.WithTrend(cfg.Evaluation.StabilityWindow, cfg.Evolution.MaxEvolutionPerTurn),
		profile.WithLogger(logger),
	)

	evaluator, err := evaluation.New(cfg.Evaluation.Weights,
		evaluation.WithLatencyBudget(cfg.Evaluation.LatencyBudgetSeconds),
	)
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("building evaluator: %w", err)
	}

	gen, err := newGenerator(cfg.Reply)
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("building reply generator: %w", err)
	}

	evolver := pipeline.NewEvolver(store, nil, gen, evaluator, cfg.Evolution,
		pipeline.WithReplyTimeout(cfg.ReplyTimeout()),
		pipeline.WithStabilityWindow(cfg.Evaluation.StabilityWindow),
		pipeline.WithLogger(logger),
	)

	return &app{
		backend: backend,
		store:   store,
		evolver: evolver,
		backups: backup.NewWorker(store, cfg.Backup.Dir, cfg.BackupInterval(), cfg.Backup.Keep),
	}, nil
}

func runServer(mcpStdio bool) error {
	fmt.Fprintf(os.Stderr, "attune version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := newLogger(os.Stderr, cfg.Log)
	slog.SetDefault(logger)
	if cfg.Server.APIToken == "" {
		slog.Warn("server.api_token is not set, /v1 routes are unauthenticated")
	}

	// Refuse to start twice on the same port.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("attune is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("attune is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.backend.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()
	slog.Info("storage opened", "backend", cfg.Storage.Backend, "data_dir", cfg.Storage.DataDir)

	go a.backups.Run(ctx)

	handler := api.NewAppHandler(api.AppDeps{
		Evolver: a.evolver,
		Store:   a.store,
		Backups: a.backups,
		Token:   cfg.Server.APIToken,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	if mcpStdio {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Evolver: a.evolver,
			Store:   a.store,
			Version: version,
		})
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "attune listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
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
		printError("attune is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop attune (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to attune (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	client := newAPIClientFor(cfg, 2*time.Second)

	running := false
	resp, err := client.get(ctx, "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Storage", "%s", cfg.Storage.Backend)
	printStatus("Reply model", "%s", replyLabel(cfg.Reply))

	if running {
		var gs profile.GlobalStats
		if err := client.getJSON(ctx, "/v1/stats", &gs); err == nil {
			printStatus("Users", "%d", gs.TotalUsers)
			printStatus("Conversations", "%d", gs.TotalConversations)
			printStatus("Average quality", "%.3f", gs.AverageQuality)
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func replyLabel(rc config.ReplyConfig) string {
	if rc.APIKey == "" {
		return "template (no API key)"
	}
	return rc.Model
}

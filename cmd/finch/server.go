package main

import (
	"context"
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

	chromem "github.com/philippgille/chromem-go"
	"github.com/spf13/cobra"

	"github.com/kalambet/finch/internal/agent"
	"github.com/kalambet/finch/internal/api"
	"github.com/kalambet/finch/internal/chat"
	"github.com/kalambet/finch/internal/config"
	"github.com/kalambet/finch/internal/ingest"
	"github.com/kalambet/finch/internal/model"
	"github.com/kalambet/finch/internal/storage"
	"github.com/kalambet/finch/internal/tools"
	"github.com/kalambet/finch/internal/vectorindex"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the finch server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running finch server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show finch system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "finch.pid")
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

func logLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "finch version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(cfg.Log.Level),
	})))

	// Refuse to double-start: probe the health endpoint before writing
	// the PID file.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("finch is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("finch is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open storage.
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	// Open the per-user vector index.
	embedFn := chromem.NewEmbeddingFuncOpenAICompat(
		cfg.Model.EmbedBaseURL, cfg.Model.APIKey, cfg.Model.EmbedName, nil)
	index, err := vectorindex.Open(cfg.Storage.DataDir, embedFn)
	if err != nil {
		return fmt.Errorf("opening vector index: %w", err)
	}

	// Build the agent stack: model client, tools, driver, controller.
	var client *model.Client
	if cfg.Model.BaseURL != "" {
		client = model.NewClientWithBaseURL(cfg.Model.APIKey, cfg.Model.BaseURL)
	} else {
		client = model.NewClient(cfg.Model.APIKey)
	}
	var search *tools.WebSearch
	if cfg.Search.TavilyAPIKey != "" {
		search = tools.NewWebSearch(cfg.Search.TavilyAPIKey)
	} else {
		slog.Warn("no Tavily API key configured, web search mode disabled")
	}
	driver := agent.NewDriver(client, cfg.Model.Name, search, index)
	controller := chat.NewController(store, driver, cfg.Chat.HistoryTurns)

	handler := api.NewHandler(api.Deps{
		Store:      store,
		Controller: controller,
		Vectors:    index,
		Token:      cfg.Auth.Token,
	})
	if cfg.Auth.Token == "" {
		slog.Warn("no auth token configured, management endpoints are open")
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	// Start the document ingest worker.
	worker := ingest.NewWorker(store, index, 500*time.Millisecond)
	go worker.Run(ctx)

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "finch listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with timeout. In-flight chat streams get five
	// seconds to flush their done events.
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
		printError("finch is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop finch (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to finch (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Model", "%s", cfg.Model.Name)
	printStatus("Embeddings", "%s", cfg.Model.EmbedName)
	if cfg.Search.TavilyAPIKey != "" {
		printStatus("Web search", "enabled")
	} else {
		printStatus("Web search", "disabled (no Tavily API key)")
	}
	printStatus("History window", "%d turns", cfg.Chat.HistoryTurns)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

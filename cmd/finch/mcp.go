package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mark3labs/mcp-go/server"
	chromem "github.com/philippgille/chromem-go"
	"github.com/spf13/cobra"

	"github.com/kalambet/finch/internal/api"
	"github.com/kalambet/finch/internal/config"
	"github.com/kalambet/finch/internal/storage"
	"github.com/kalambet/finch/internal/vectorindex"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the MCP interface over stdio",
	Long: `Serve the MCP (Model Context Protocol) interface over stdio.

Exposes document search as an MCP tool and recent threads as an MCP
resource, for use from MCP-capable clients:

  finch mcp`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCP()
	},
}

func runMCP() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer store.Close()

	embedFn := chromem.NewEmbeddingFuncOpenAICompat(
		cfg.Model.EmbedBaseURL, cfg.Model.APIKey, cfg.Model.EmbedName, nil)
	index, err := vectorindex.Open(cfg.Storage.DataDir, embedFn)
	if err != nil {
		return fmt.Errorf("opening vector index: %w", err)
	}

	mcpSrv := api.NewMCPServer(api.MCPDeps{Store: store, Index: index})
	stdioSrv := server.NewStdioServer(mcpSrv)
	if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("mcp stdio server: %w", err)
	}
	return nil
}

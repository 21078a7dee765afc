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
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/ingestd/internal/api"
	"github.com/kalambet/ingestd/internal/config"
	"github.com/kalambet/ingestd/internal/embedding"
	"github.com/kalambet/ingestd/internal/extract"
	"github.com/kalambet/ingestd/internal/ingest"
	"github.com/kalambet/ingestd/internal/retrieval"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the ingestion worker (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		host, _ := cmd.Flags().GetString("host")
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(host, withMCP)
	},
}

func init() {
	serveCmd.Flags().String("host", "127.0.0.1", "address to bind the HTTP API to")
	serveCmd.Flags().Bool("mcp", false, "also serve MCP tools over stdin/stdout")
}

func runServer(host string, withMCP bool) error {
	fmt.Fprintf(os.Stderr, "ingestd version %s\n", version)

	cfg, err := config.Load(envFiles...)
	if err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel(cfg.Log.Level)})))

	apiToken, err := config.APIToken()
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	fetcher, err := newFetcher(ctx, cfg.Blob)
	if err != nil {
		return fmt.Errorf("configuring blob backend: %w", err)
	}

	provider, err := newProvider(ctx, cfg.Embedding, os.Stderr)
	if err != nil {
		return fmt.Errorf("configuring embedding provider: %w", err)
	}
	embedder := embedding.NewService(provider, cfg.Embedding.Dim, slog.Default())

	pipeline := ingest.NewPipeline(store, fetcher, extract.PDF{}, embedder, ingest.Config{
		ChunkSize:    cfg.Chunking.Size,
		ChunkOverlap: cfg.Chunking.Overlap,
		BatchSize:    cfg.Chunking.BatchSize,
	}, slog.Default())

	worker := ingest.NewWorker(store, pipeline, ingest.WorkerConfig{
		PollInterval: cfg.Worker.PollInterval,
		ErrorBackoff: cfg.Worker.ErrorBackoff,
		MaxAttempts:  cfg.Worker.MaxAttempts,
		JobTimeout:   cfg.Worker.JobTimeout,
	})
	if _, err := worker.Recover(ctx); err != nil {
		return fmt.Errorf("recovering interrupted jobs: %w", err)
	}

	retriever := retrieval.NewRetriever(embedder, store)

	handler := api.NewAppHandler(api.AppDeps{
		Store:       store,
		Retriever:   retriever,
		Token:       apiToken,
		DefaultTopK: cfg.Retrieval.TopK,
	})

	addr := net.JoinHostPort(host, fmt.Sprintf("%d", cfg.Server.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	if cfg.Server.MaxConns > 0 {
		ln = netutil.LimitListener(ln, cfg.Server.MaxConns)
	}
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("ingestd listening", "addr", addr, "storage", cfg.Storage.Driver, "blob", cfg.Blob.Backend, "embedding", cfg.Embedding.Provider)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		worker.Run(gctx)
		return nil
	})

	if withMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Store:       store,
			Retriever:   retriever,
			DefaultTopK: cfg.Retrieval.TopK,
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

	return g.Wait()
}

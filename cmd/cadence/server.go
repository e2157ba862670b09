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

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/cadence/internal/api"
	"github.com/kalambet/cadence/internal/pipeline"
	"github.com/kalambet/cadence/internal/poller"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the poll loop and the status API in one process",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer(cmd.Context())
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve read-only cadence tools over MCP (stdio)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCP(cmd.Context())
	},
}

func runServer(parent context.Context) error {
	fmt.Fprintf(os.Stderr, "cadence version %s\n", version)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.RequireAPIKey(); err != nil {
		return err
	}
	if cfg.Poll.Mode == pipeline.ModeConfirm {
		printWarning("serve runs unattended; ignoring poll.mode=confirm (use `cadence run --mode confirm` instead)")
	}
	interval, err := cfg.PollInterval()
	if err != nil {
		return err
	}

	token := cfg.Server.Token
	if token == "" {
		token = uuid.NewString()
		printWarning("server.token is not set; generated one for this run: %s", token)
		printWarning("set CADENCE_SERVER_TOKEN to keep a stable token")
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.client.ValidateKey(ctx); err != nil {
		return err
	}
	slog.Info("smartlead API key accepted")

	handler := api.NewStatusHandler(api.StatusDeps{Engine: a.engine, Token: token})
	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	worker := poller.NewWorker(a.engine, nil, interval)
	worker.OnCycle = func(rep pipeline.CycleReport, err error) {
		writeCycle(os.Stderr, rep, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		worker.Run(gctx)
		return nil
	})
	g.Go(func() error {
		fmt.Fprintf(os.Stderr, "cadence listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func runMCP(parent context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mcpSrv := api.NewMCPServer(api.MCPDeps{Engine: a.engine, Version: version})
	stdioSrv := server.NewStdioServer(mcpSrv)
	slog.Info("MCP server started (stdio transport)")
	if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("MCP stdio server: %w", err)
	}
	return nil
}

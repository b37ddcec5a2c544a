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

	"github.com/kalambet/campusnav/internal/api"
	"github.com/kalambet/campusnav/internal/engine"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the campus navigation HTTP API (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		mcpStdio, _ := cmd.Flags().GetBool("mcp-stdio")
		return runServer(mcpStdio)
	},
}

func init() {
	serveCmd.Flags().Bool("mcp-stdio", false, "also serve MCP tools on stdin/stdout")
}

func runServer(mcpStdio bool) error {
	fmt.Fprintf(os.Stderr, "campusnav version %s\n", version)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	mcpStdio = mcpStdio || cfg.Server.MCPStdio

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.engine != nil {
		// Stdout carries MCP frames in stdio mode, so progress goes to stderr.
		if err := engine.EnsureReady(ctx, a.engine, cfg.LLM.Model, os.Stderr); err != nil {
			slog.Warn("language model backend not ready, answers may use fallback text", "error", err)
		}
	}

	handler := api.NewHandler(api.Deps{
		Navigator:      a.nav,
		Store:          a.store,
		Geo:            a.geo,
		AllowedOrigins: cfg.Server.Origins(),
		Version:        version,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	if mcpStdio {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Navigator: a.nav,
			Store:     a.store,
			Geo:       a.geo,
			Version:   version,
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
		slog.Info("campusnav listening",
			"addr", srv.Addr,
			"provider", cfg.LLM.Provider,
			"model", a.gateway.Model(),
			"llm_ready", a.gateway.Ready(),
			"storage", a.store.Driver(),
		)
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

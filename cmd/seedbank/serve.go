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

	"github.com/kalambet/seedbank/internal/api"
	"github.com/kalambet/seedbank/internal/config"
	"github.com/kalambet/seedbank/internal/engine"
	"github.com/kalambet/seedbank/internal/ollama"
	"github.com/kalambet/seedbank/internal/pipeline"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API and the MCP tools (stdio)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		noMCP, _ := cmd.Flags().GetBool("no-mcp")
		return runServer(cmd.Context(), !noMCP)
	},
}

func init() {
	serveCmd.Flags().Bool("no-mcp", false, "Do not serve MCP tools on stdin/stdout")
}

func buildDeps(cfg config.Config, client *ollama.Client) (api.Deps, error) {
	seeder, err := newSeeder(cfg, client, nil)
	if err != nil {
		return api.Deps{}, err
	}
	recaller, err := newRecaller(cfg, client)
	if err != nil {
		return api.Deps{}, err
	}
	mode, err := pipeline.ParseMode(cfg.Pipeline.Mode)
	if err != nil {
		return api.Deps{}, err
	}
	return api.Deps{
		Seeder:       pipeline.NewSerialSeeder(seeder),
		Recaller:     recaller,
		Token:        cfg.Server.APIToken,
		DefaultMode:  mode,
		DefaultCount: cfg.Generator.Count,
	}, nil
}

func runServer(parent context.Context, withMCP bool) error {
	fmt.Fprintf(os.Stderr, "seedbank version %s\n", version)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := ollama.New(cfg.Ollama.BaseURL)
	if err := engine.EnsureReady(ctx, client, os.Stderr, cfg.Ollama.GenerateModel, cfg.Ollama.EmbedModel); err != nil {
		return err
	}

	deps, err := buildDeps(cfg, client)
	if err != nil {
		return err
	}
	if deps.Token == "" {
		slog.Warn("server.api_token is unset; seed and search routes are unauthenticated")
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: api.NewHandler(deps),
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	// stdout carries MCP traffic, so everything else goes to stderr.
	if withMCP {
		stdioSrv := server.NewStdioServer(api.NewMCPServer(deps, version))
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "seedbank listening on %s\n", addr)
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

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/wagnerlima/memory-cloud/insight-kb/internal/logger"
	"github.com/wagnerlima/memory-cloud/insight-kb/internal/server"
)

var (
	transport string
	addr      string

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve the knowledge base as MCP tools over stdio or streamable HTTP",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
)

func init() {
	serveCmd.Flags().StringVar(&transport, "transport", "", "Transport mode: stdio or http (overrides config)")
	serveCmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address, only used with --transport http (overrides config)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if transport != "" {
		cfg.Server.Transport = transport
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := server.New(a.engine, a.log)

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	switch cfg.Server.Transport {
	case "stdio":
		a.log.Info("insightkb MCP server starting", "transport", "stdio", "db", cfg.DBPath())
		if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case "http":
		return serveHTTP(ctx, a, srv)
	default:
		return fmt.Errorf("unknown transport: %s (use stdio or http)", cfg.Server.Transport)
	}
}

func serveHTTP(ctx context.Context, a *app, srv *mcp.Server) error {
	hs := &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           newRouter(a, srv),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("insightkb MCP server listening", "addr", hs.Addr, "db", a.cfg.DBPath())
		errCh <- hs.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("HTTP server error: %w", err)
	case <-ctx.Done():
	}

	a.log.Info("shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return hs.Shutdown(shutdownCtx)
}

// newRouter mounts the MCP endpoint, Prometheus metrics and a health check.
func newRouter(a *app, srv *mcp.Server) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(a.log))
	r.Use(middleware.Recoverer)

	mcpHandler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return srv
	}, nil)
	r.Handle("/mcp", mcpHandler)
	r.Handle("/mcp/*", mcpHandler)

	r.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{Registry: a.registry}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		n, err := a.engine.CountInsights(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if err != nil {
			a.log.Error("health check failed", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = printJSON(w, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
		_ = printJSON(w, map[string]any{"status": "ok", "insights": n})
	})
	return r
}

func requestLogger(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

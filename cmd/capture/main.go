package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ghodss/yaml"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/vectorly/cdpcapture/internal/launch"
	"github.com/vectorly/cdpcapture/lib/logger"
)

func main() {
	slogger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	cfg, err := Load()
	if err != nil {
		slogger.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}
	slogger.Info("capture configuration", "config", cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		slogger.Error("failed to create output directory", "err", err)
		os.Exit(1)
	}

	mgr := NewManager(cfg, slogger)
	defer mgr.Close()

	if browserWSURL, err := launch.FetchBrowserWebSocketURL(ctx, cfg.ChromeHTTPEndpoint); err != nil {
		slogger.Warn("chrome devtools endpoint not reachable yet", "err", err)
	} else {
		slogger.Info("chrome devtools endpoint ready", "browser_ws_url", browserWSURL)
	}

	router, err := loadRouter()
	if err != nil {
		slogger.Error("failed to load openapi document", "err", err)
		os.Exit(1)
	}

	r := chi.NewRouter()
	r.Use(
		chiMiddleware.Logger,
		chiMiddleware.Recoverer,
		func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				ctxWithLogger := logger.AddToContext(r.Context(), slogger)
				next.ServeHTTP(w, r.WithContext(ctxWithLogger))
			})
		},
		validateRequest(router),
	)

	r.Post("/capture/start", handleStartCapture(mgr))
	r.Get("/capture/summary", handleGetSummary(mgr))
	r.Post("/capture/finalize", handleFinalizeCapture(mgr))

	r.Get("/spec.yaml", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/vnd.oai.openapi")
		w.Write(openAPIYAML)
	})
	r.Get("/spec.json", func(w http.ResponseWriter, r *http.Request) {
		jsonData, err := yaml.YAMLToJSON(openAPIYAML)
		if err != nil {
			http.Error(w, "failed to convert YAML to JSON", http.StatusInternalServerError)
			logger.FromContext(r.Context()).Error("failed to convert YAML to JSON", "err", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(jsonData)
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}

	if cfg.WatchDir != "" {
		if err := os.MkdirAll(cfg.WatchDir, 0o755); err != nil {
			slogger.Error("failed to create watch directory", "err", err)
			os.Exit(1)
		}
		go func() {
			if err := watchSnapshots(ctx, cfg.WatchDir, slogger); err != nil {
				slogger.Error("snapshot watcher failed", "err", err)
			}
		}()
	}

	go func() {
		slogger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slogger.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	slogger.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	g, _ := errgroup.WithContext(shutdownCtx)

	g.Go(func() error {
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		if _, err := mgr.Finalize(shutdownCtx); err != nil && err != ErrNotRunning {
			return err
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		slogger.Error("server failed to shut down cleanly", "err", err)
	}
}

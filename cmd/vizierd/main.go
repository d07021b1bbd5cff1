// Command vizierd is the Vizier server process: it builds the supervisor
// (internal/appwiring), loads the API routes onto one mux.Router wrapped
// in CORS, and runs with a signal-driven graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/vizier-run/vizier/internal/api"
	"github.com/vizier-run/vizier/internal/appwiring"
	"github.com/vizier-run/vizier/internal/config"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if level := parseLevel(cfg.Log.Level); level != nil {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: *level})))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := appwiring.Build(ctx, cfg)
	if err != nil {
		slog.Error("failed to build supervisor", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	svc := api.NewService(app.Controller, app.Cache)
	router := mux.NewRouter()
	svc.LoadRoutes(router)

	corsHandler := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
	)(router)

	srv := &http.Server{
		Addr:    cfg.HTTP.ListenAddr,
		Handler: corsHandler,
	}

	serverErrors := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", cfg.HTTP.ListenAddr)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
		}
	case <-ctx.Done():
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("could not stop server gracefully", "error", err)
			srv.Close()
		}
	}
}

func parseLevel(s string) *slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return nil
	}
	return &l
}

// Package server assembles all HTTP handlers and starts the server.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/mkoski/entityscope/internal/eventbus"
	"github.com/mkoski/entityscope/internal/handler"
	"github.com/mkoski/entityscope/internal/metamodel"
	"github.com/mkoski/entityscope/internal/metrics"
	"github.com/mkoski/entityscope/internal/store"
	"github.com/mkoski/entityscope/internal/wire"
)

// Config holds server configuration.
type Config struct {
	Addr      string
	Registry  *metamodel.Registry
	Provider  store.Provider
	Collector *metrics.Collector

	// Bus receives mutation events after committed writes. Optional.
	Bus *eventbus.Bus

	// Recent serves the mutation history on /activity when set.
	Recent *eventbus.RecentConsumer
}

// Router builds the full route tree. Split out of Run so tests can
// drive it through httptest without binding a port.
func Router(cfg Config) http.Handler {
	r := chi.NewRouter()
	r.Use(handler.Recovery)
	r.Use(handler.Logging(cfg.Collector))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.Handler())

	if cfg.Recent != nil {
		r.Get("/activity", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{"events": cfg.Recent.Snapshot()})
		})
	}

	eh := handler.NewExplorerHandler(cfg.Registry, cfg.Provider, cfg.Collector).WithBus(cfg.Bus)
	r.Get("/", eh.Catalog)
	r.Route("/entities/{entity}", func(r chi.Router) {
		r.Get("/", eh.List)
		r.Post("/", eh.Create)
		r.Get("/filter-templates", eh.FilterTemplates)
		r.Post("/filter-templates/materialize", eh.Materialize)
		r.Get("/{id}", eh.Inspect)
		r.Put("/{id}", eh.Update)
		r.Delete("/{id}", eh.Delete)
	})

	sessions := wire.NewSessionManager(cfg.Registry, cfg.Provider)
	wh := wire.NewHandler(sessions)
	r.Get("/ws", wh.ServeHTTP)

	return r
}

// Run starts the HTTP server with all routes registered and shuts it
// down when ctx is cancelled.
func Run(ctx context.Context, cfg Config) error {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           Router(cfg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("server: shutdown")
		}
	}()

	log.Info().Str("addr", cfg.Addr).Msg("starting entity explorer")
	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Package health serves the optional HTTP health and stats endpoints.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/miguelrodriguezrv/snapkv/app/engine"
)

type StatsSource interface {
	Stats() engine.Stats
}

type Service struct {
	addr            string
	stats           StatsSource
	shutdownTimeout time.Duration
	router          *mux.Router
}

func New(addr string, stats StatsSource, shutdownTimeout time.Duration) *Service {
	s := &Service{
		addr:            addr,
		stats:           stats,
		shutdownTimeout: shutdownTimeout,
		router:          mux.NewRouter(),
	}
	s.routes()
	return s
}

// Router returns the handler serving the endpoints.
func (s *Service) Router() http.Handler {
	return s.router
}

func (s *Service) routes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "healthy"})
}

func (s *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.stats.Stats())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to write health response")
	}
}

// Start serves in the background until ctx is cancelled.
func (s *Service) Start(ctx context.Context) {
	go s.run(ctx)
}

func (s *Service) run(ctx context.Context) {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Info().Str("addr", s.addr).Msg("Starting health check server")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Health check server shutdown error")
		}
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("Health check server error")
	}
}

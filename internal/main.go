package internal

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"golang.org/x/exp/slog"
)

// Main wires the relay router. rdb is optional: nil disables presence
// bookkeeping, sessions themselves never touch redis.
func Main(
	logger *slog.Logger,
	instanceID string,
	rdb *redis.Client,
) chi.Router {
	reg := NewSessionRegistry()

	router := chi.NewRouter()
	router.Use(mid(instanceID))
	router.Get("/health", health())
	router.Get("/", RelayRoute(reg, logger, rdb, instanceID))

	return router
}

func health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}

func mid(instanceID string) func(http.Handler) http.Handler {
	return func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Server", "cobrowse-relay")
			w.Header().Set("Instance-ID", instanceID)
			handler.ServeHTTP(w, r)
		})
	}
}

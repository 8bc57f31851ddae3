package control

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/diwise/kg-publisher/internal/pkg/application/publisher"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/go-chi/chi/v5"
)

type ProgressReader interface {
	Snapshot() publisher.Snapshot
}

func RegisterHandlers(ctx context.Context, r chi.Router, progress ProgressReader) {
	r.Get("/health", NewHealthHandler())
	r.Get("/progress", NewProgressHandler(progress))
}

func NewHealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}
}

// NewProgressHandler responds with a snapshot of the ongoing, or most
// recently finished, publish run
func NewProgressHandler(progress ProgressReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logging.GetFromContext(r.Context())

		body, err := json.Marshal(progress.Snapshot())
		if err != nil {
			log.Error("failed to marshal progress", "err", err.Error())
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		w.Header().Add("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(body)
	}
}

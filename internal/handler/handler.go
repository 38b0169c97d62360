package handler

import (
	"net/http"

	"github.com/apexdeliver/backend/internal/repository"
)

// ConfigChecker reports whether an upstream client has the credentials it
// needs. crm.Client satisfies it.
type ConfigChecker interface {
	CheckConfig() error
}

// Handler serves the endpoints that are not tied to a single feature.
type Handler struct {
	db          repository.DB
	crm         ConfigChecker
	frontendURL string
}

func New(db repository.DB, crm ConfigChecker, frontendURL string) *Handler {
	return &Handler{db: db, crm: crm, frontendURL: frontendURL}
}

// CORS allows the marketing site to post forms with credentials.
func (h *Handler) CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", h.frontendURL)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+RequestIDHeader)
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Add("Vary", "Origin")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Package handler exposes the promotion engine over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/edulane/promo-engine/internal/domain/catalog"
	"github.com/edulane/promo-engine/internal/domain/promo"
)

// CodeStore is the authoring-side store: lookups plus writes.
type CodeStore interface {
	promo.CodeReader
	Create(ctx context.Context, c *promo.Code) error
	Update(ctx context.Context, c *promo.Code) error
}

// CacheInvalidator drops a cached code entry after an authoring write.
type CacheInvalidator interface {
	Invalidate(code string)
}

// Handler carries the dependencies of all HTTP endpoints.
type Handler struct {
	engine  *promo.Engine
	codes   CodeStore
	catalog catalog.Repository
	cache   CacheInvalidator
}

// NewHandler constructs a Handler with the required domain dependencies.
// cache may be nil when code caching is disabled.
func NewHandler(engine *promo.Engine, codes CodeStore, cat catalog.Repository, cache CacheInvalidator) *Handler {
	return &Handler{
		engine:  engine,
		codes:   codes,
		catalog: cat,
		cache:   cache,
	}
}

// Routes mounts all endpoints. auth guards the authoring endpoints only;
// evaluation and the catalog are public.
func (h *Handler) Routes(auth func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Post("/promo/evaluate", h.EvaluateCode)
		r.Post("/promo/redeem", h.RedeemCode)
		r.Get("/catalog", h.ListCatalog)

		r.Group(func(r chi.Router) {
			r.Use(auth)
			r.Post("/codes", h.CreateCode)
			r.Put("/codes/{code}", h.UpdateCode)
		})
	})
	return r
}

func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

type errorResponse struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, errorResponse{Kind: kind, Message: message})
}

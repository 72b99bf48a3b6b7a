// File: internal/api/handlers.go
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/shroud/internal/whitelist"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxBodyBytes bounds request bodies; a domain fits comfortably.
const maxBodyBytes = 4 << 10

// WhitelistService is the part of whitelist.Manager the API exposes.
type WhitelistService interface {
	List(ctx context.Context) ([]string, error)
	Add(ctx context.Context, raw string) (whitelist.Status, error)
	Remove(ctx context.Context, raw string) (whitelist.Status, error)
	AddCurrent(ctx context.Context, loc whitelist.Locator) (whitelist.Status, error)
}

// ListResponse is the body of GET /api/whitelist.
type ListResponse struct {
	Sites   []string `json:"sites"`
	Message string   `json:"message,omitempty"`
}

// AddRequest is the body of POST /api/whitelist.
type AddRequest struct {
	Domain string `json:"domain"`
}

// Handlers serves the whitelist endpoints.
type Handlers struct {
	log       *zap.Logger
	whitelist WhitelistService
	// locator is the page being watched, if any.
	locator whitelist.Locator
}

func NewHandlers(logger *zap.Logger, wl WhitelistService, loc whitelist.Locator) *Handlers {
	return &Handlers{log: logger.Named("api_handlers"), whitelist: wl, locator: loc}
}

// RegisterRoutes mounts the health check and the whitelist API on r.
func (h *Handlers) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", h.HandleHealthCheck)
	r.Route("/api/whitelist", func(r chi.Router) {
		r.Get("/", h.HandleList)
		r.Post("/", h.HandleAdd)
		r.Post("/current", h.HandleAddCurrent)
		r.Delete("/{domain}", h.HandleRemove)
	})
}

func (h *Handlers) HandleHealthCheck(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (h *Handlers) HandleList(w http.ResponseWriter, r *http.Request) {
	sites, err := h.whitelist.List(r.Context())
	if err != nil {
		h.log.Error("Failed to list whitelist.", zap.Error(err))
		h.respond(w, http.StatusInternalServerError, whitelist.Status{Message: "Could not load the whitelist.", Level: whitelist.LevelError})
		return
	}
	resp := ListResponse{Sites: sites}
	if resp.Sites == nil {
		resp.Sites = []string{}
	}
	if len(resp.Sites) == 0 {
		resp.Message = whitelist.EmptyMessage
	}
	h.respond(w, http.StatusOK, resp)
}

func (h *Handlers) HandleAdd(w http.ResponseWriter, r *http.Request) {
	var req AddRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.respond(w, http.StatusBadRequest, whitelist.Status{Message: "Invalid request body.", Level: whitelist.LevelError})
		return
	}
	st, err := h.whitelist.Add(r.Context(), req.Domain)
	h.respondStatus(w, st, err, http.StatusCreated, http.StatusOK)
}

// HandleAddCurrent whitelists the domain of the watched page.
func (h *Handlers) HandleAddCurrent(w http.ResponseWriter, r *http.Request) {
	if h.locator == nil {
		h.respond(w, http.StatusNotFound, whitelist.Status{Message: "No page is being watched.", Level: whitelist.LevelError})
		return
	}
	st, err := h.whitelist.AddCurrent(r.Context(), h.locator)
	h.respondStatus(w, st, err, http.StatusCreated, http.StatusOK)
}

func (h *Handlers) HandleRemove(w http.ResponseWriter, r *http.Request) {
	st, err := h.whitelist.Remove(r.Context(), chi.URLParam(r, "domain"))
	h.respondStatus(w, st, err, http.StatusOK, http.StatusNotFound)
}

// respondStatus maps a manager outcome to an HTTP status. onInfo covers the no-op outcomes
// (already present, not present).
func (h *Handlers) respondStatus(w http.ResponseWriter, st whitelist.Status, err error, onSuccess, onInfo int) {
	switch {
	case errors.Is(err, whitelist.ErrNoDomain):
		h.respond(w, http.StatusBadRequest, st)
	case err != nil:
		h.log.Error("Whitelist update failed.", zap.Error(err))
		h.respond(w, http.StatusInternalServerError, st)
	case st.Level == whitelist.LevelSuccess:
		h.respond(w, onSuccess, st)
	default:
		h.respond(w, onInfo, st)
	}
}

func (h *Handlers) respond(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Error("Failed to encode response.", zap.Error(err))
	}
}

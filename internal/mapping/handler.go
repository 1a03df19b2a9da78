package mapping

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/peerlab/gateway/internal/platform/httpx"
)

// Handler serves the service API consumed by trusted downstream agents.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs the service-API handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers the service API routes. The agent auth middleware is
// installed by the router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/mappings", h.allMappings)
	r.Get("/mappings/{user_hash}", h.userMapping)
}

type mappingResponse struct {
	UserHash string   `json:"user_hash"`
	UserID   string   `json:"user_id"`
	Email    *string  `json:"email"`
	ASN      int32    `json:"asn"`
	Prefixes []string `json:"prefixes"`
}

type allMappingsResponse struct {
	Mappings []mappingResponse `json:"mappings"`
}

func toResponse(m UserMapping) mappingResponse {
	prefixes := m.Prefixes
	if prefixes == nil {
		prefixes = []string{}
	}
	return mappingResponse{
		UserHash: m.UserHash,
		UserID:   m.RawID,
		Email:    m.Email,
		ASN:      m.ASN,
		Prefixes: prefixes,
	}
}

func (h *Handler) allMappings(w http.ResponseWriter, r *http.Request) {
	views, err := h.service.All(r.Context())
	if err != nil {
		h.logger.Error("list mappings", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}

	res := allMappingsResponse{Mappings: make([]mappingResponse, len(views))}
	for i, v := range views {
		res.Mappings[i] = toResponse(v)
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) userMapping(w http.ResponseWriter, r *http.Request) {
	userHash := chi.URLParam(r, "user_hash")

	view, err := h.service.For(r.Context(), userHash)
	if err != nil {
		h.logger.Warn("user mapping lookup failed",
			slog.String("user_hash", userHash), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(*view))
}

// Package user serves the client API: self-service ASN assignment and prefix
// leasing for authenticated end users.
package user

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/peerlab/gateway/internal/asn"
	"github.com/peerlab/gateway/internal/identity"
	"github.com/peerlab/gateway/internal/platform/httpx"
	"github.com/peerlab/gateway/internal/prefix"
)

// Handler serves /user/* under the client API.
type Handler struct {
	logger   *slog.Logger
	asn      *asn.Service
	prefix   *prefix.Service
	validate *validator.Validate
}

// NewHandler constructs the client-API handler.
func NewHandler(logger *slog.Logger, asnService *asn.Service, prefixService *prefix.Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:   logger,
		asn:      asnService,
		prefix:   prefixService,
		validate: validator.New(),
	}
}

// MountRoutes registers the client API routes. The end-user auth middleware
// is installed by the router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/user/info", h.info)
	r.Post("/user/asn", h.requestASN)
	r.Post("/user/prefix", h.requestPrefix)
}

type leaseResponse struct {
	Prefix    string `json:"prefix"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type infoResponse struct {
	UserHash     string          `json:"user_hash"`
	ASN          *int32          `json:"asn"`
	ActiveLeases []leaseResponse `json:"active_leases"`
}

type requestASNBody struct {
	// ASN is accepted for wire compatibility but has no effect; assignment is
	// always automatic from the pool.
	ASN *int32 `json:"asn"`
}

type requestASNResponse struct {
	ASN     int32  `json:"asn"`
	Message string `json:"message"`
}

type requestPrefixBody struct {
	DurationHours int `json:"duration_hours" validate:"min=1,max=24"`
}

type requestPrefixResponse struct {
	Prefix    string `json:"prefix"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Message   string `json:"message"`
}

func toLeaseResponses(leases []prefix.Lease) []leaseResponse {
	out := make([]leaseResponse, len(leases))
	for i, l := range leases {
		out[i] = leaseResponse{
			Prefix:    l.Prefix,
			StartTime: l.StartTime.UTC().Format(time.RFC3339),
			EndTime:   l.EndTime.UTC().Format(time.RFC3339),
		}
	}
	return out
}

func (h *Handler) info(w http.ResponseWriter, r *http.Request) {
	principal, ok := identity.EndUserFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}

	res := infoResponse{UserHash: principal.UserHash, ActiveLeases: []leaseResponse{}}

	mapping, err := h.asn.GetInfo(r.Context(), principal.UserHash)
	switch {
	case err == nil:
		res.ASN = &mapping.ASN
	case errors.Is(err, httpx.ErrNotFound):
		// No ASN yet; asn stays null.
	default:
		h.logger.Error("get user info", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}

	leases, err := h.prefix.ActiveFor(r.Context(), principal.UserHash)
	if err != nil {
		h.logger.Error("get active leases", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	res.ActiveLeases = toLeaseResponses(leases)

	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) requestASN(w http.ResponseWriter, r *http.Request) {
	principal, ok := identity.EndUserFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}

	// The body is optional; a supplied ASN value is a non-authoritative hint
	// and is ignored.
	var body requestASNBody
	if err := httpx.DecodeJSON(r, &body); err == nil && body.ASN != nil {
		h.logger.Debug("ignoring requested asn value", slog.Int("asn", int(*body.ASN)))
	}

	var rawID *string
	if principal.RawID != "" {
		rawID = &principal.RawID
	}

	mapping, created, err := h.asn.GetOrAssign(r.Context(), principal.UserHash, rawID)
	if err != nil {
		h.logger.Error("assign asn", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}

	message := "ASN already assigned"
	if created {
		message = "ASN assigned successfully"
	}
	httpx.JSON(w, http.StatusOK, requestASNResponse{ASN: mapping.ASN, Message: message})
}

func (h *Handler) requestPrefix(w http.ResponseWriter, r *http.Request) {
	principal, ok := identity.EndUserFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}

	var body requestPrefixBody
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	if err := h.validate.Struct(body); err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}

	lease, err := h.prefix.Lease(r.Context(), principal.UserHash, body.DurationHours)
	if err != nil {
		h.logger.Error("lease prefix", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}

	httpx.JSON(w, http.StatusOK, requestPrefixResponse{
		Prefix:    lease.Prefix,
		StartTime: lease.StartTime.UTC().Format(time.RFC3339),
		EndTime:   lease.EndTime.UTC().Format(time.RFC3339),
		Message:   "Prefix leased successfully",
	})
}

package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"brokerdesk/internal/creditcheck/models"
	"brokerdesk/internal/risk"
	id "brokerdesk/pkg/domain"
	dErrors "brokerdesk/pkg/domain-errors"
	"brokerdesk/pkg/platform/httputil"
	"brokerdesk/pkg/requestcontext"
)

// Service defines the credit-check operations the handler exposes.
type Service interface {
	Submit(ctx context.Context, clientID id.ClientID, brokerID id.UserID, profileID id.ProfileID) (*models.CreditCheckRequest, error)
	Get(ctx context.Context, broker id.UserID, checkID int64) (*models.CreditCheckRequest, error)
	List(ctx context.Context, broker id.UserID, filter models.ListFilter) ([]*models.CreditCheckRequest, int, error)
	Delete(ctx context.Context, broker id.UserID, checkID int64) error
}

// Handler wires credit-check endpoints to the lifecycle service.
type Handler struct {
	service      Service
	logger       *slog.Logger
	nominalLimit decimal.Decimal
}

// New constructs a handler. nominalLimit is used when a request omits
// nominal_limit.
func New(service Service, logger *slog.Logger, nominalLimit decimal.Decimal) *Handler {
	return &Handler{
		service:      service,
		logger:       logger,
		nominalLimit: nominalLimit,
	}
}

// Register mounts credit-check endpoints on the router. submit wraps only
// the submission route.
func (h *Handler) Register(r chi.Router, submit ...func(http.Handler) http.Handler) {
	r.Route("/credit-checks", func(r chi.Router) {
		r.With(submit...).Post("/", h.HandleSubmit)
		r.Get("/", h.HandleList)
		r.Get("/{id}", h.HandleGet)
		r.Get("/{id}/risk", h.HandleRisk)
		r.Delete("/{id}", h.HandleDelete)
	})
}

// HandleSubmit handles POST /credit-checks.
func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	broker, ok := h.broker(w, r)
	if !ok {
		return
	}

	var req SubmitRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := req.Prepare(); err != nil {
		httputil.WriteError(w, err)
		return
	}

	created, err := h.service.Submit(ctx, req.clientID, broker, req.profileID)
	if err != nil {
		h.logger.ErrorContext(ctx, "credit check submit failed",
			"request_id", requestcontext.RequestID(ctx),
			"user_id", broker.String(),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, created)
}

// HandleList handles GET /credit-checks.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	broker, ok := h.broker(w, r)
	if !ok {
		return
	}

	filter, err := parseListFilter(r.URL.Query())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	page, total, err := h.service.List(ctx, broker, filter)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ListResponse{
		CreditChecks: page,
		Total:        total,
		Limit:        filter.Limit,
		Offset:       filter.Offset,
	})
}

// HandleGet handles GET /credit-checks/{id}. Terminal checks carry their
// risk classification.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	req, nominal, ok := h.load(w, r)
	if !ok {
		return
	}
	resp := CreditCheckResponse{CreditCheckRequest: req}
	if req.Status.IsTerminal() {
		c, err := risk.Analyze(*req, nominal)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		resp.Risk = &c
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// HandleRisk handles GET /credit-checks/{id}/risk.
func (h *Handler) HandleRisk(w http.ResponseWriter, r *http.Request) {
	req, nominal, ok := h.load(w, r)
	if !ok {
		return
	}
	c, err := risk.Analyze(*req, nominal)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, c)
}

// HandleDelete handles DELETE /credit-checks/{id}.
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	broker, ok := h.broker(w, r)
	if !ok {
		return
	}
	checkID, err := parseCheckID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.service.Delete(ctx, broker, checkID); err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.logger.InfoContext(ctx, "credit check deleted",
		"request_id", requestcontext.RequestID(ctx),
		"user_id", broker.String(),
		"credit_check_id", checkID,
	)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) load(w http.ResponseWriter, r *http.Request) (*models.CreditCheckRequest, decimal.Decimal, bool) {
	broker, ok := h.broker(w, r)
	if !ok {
		return nil, decimal.Zero, false
	}
	checkID, err := parseCheckID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return nil, decimal.Zero, false
	}
	nominal, err := parseNominalLimit(r.URL.Query(), h.nominalLimit)
	if err != nil {
		httputil.WriteError(w, err)
		return nil, decimal.Zero, false
	}
	req, err := h.service.Get(r.Context(), broker, checkID)
	if err != nil {
		httputil.WriteError(w, err)
		return nil, decimal.Zero, false
	}
	return req, nominal, true
}

func (h *Handler) broker(w http.ResponseWriter, r *http.Request) (id.UserID, bool) {
	userID := requestcontext.UserID(r.Context())
	if userID.IsNil() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return id.UserID{}, false
	}
	return userID, true
}

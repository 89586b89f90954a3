package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/trendy-design/llmchat-sub004/internal/model"
	"github.com/trendy-design/llmchat-sub004/internal/service"
)

type Handler struct {
	svc     service.CreditService
	limiter *ClientLimiter
	logger  *zap.Logger
}

// NewHandler builds the HTTP handler. limiter may be nil to disable per-client limiting.
func NewHandler(svc service.CreditService, limiter *ClientLimiter, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, limiter: limiter, logger: logger}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/credits", func(r chi.Router) {
		r.Get("/", h.GetRemaining)
		r.Get("/history", h.History)
		r.Group(func(r chi.Router) {
			if h.limiter != nil {
				r.Use(h.limiter.Middleware)
			}
			r.Post("/deduct", h.Deduct)
		})
	})
	return r
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// GetRemaining answers with zero remaining for anonymous callers rather than an error.
func (h *Handler) GetRemaining(w http.ResponseWriter, r *http.Request) {
	accID := r.URL.Query().Get("account_id")
	h.respondJSON(w, http.StatusOK, h.svc.Remaining(r.Context(), accID))
}

func (h *Handler) Deduct(w http.ResponseWriter, r *http.Request) {
	var req model.DeductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.Cost < 0 {
		h.respondError(w, http.StatusBadRequest, "invalid_cost")
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = r.Header.Get("Idempotency-Key")
	}

	res := h.svc.Deduct(r.Context(), req)
	if !res.Allowed {
		h.logger.Info("Credit deduction denied",
			zap.String("account_id", req.AccountID),
			zap.Int64("cost", req.Cost),
			zap.Int64("remaining", res.Remaining),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
		h.respondJSON(w, http.StatusTooManyRequests, res)
		return
	}
	h.respondJSON(w, http.StatusOK, res)
}

func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	accID := r.URL.Query().Get("account_id")
	if accID == "" {
		h.respondError(w, http.StatusBadRequest, "missing_params")
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.respondError(w, http.StatusBadRequest, "invalid_limit")
			return
		}
		limit = n
	}

	events, err := h.svc.History(r.Context(), accID, limit)
	if errors.Is(err, service.ErrHistoryDisabled) {
		h.respondError(w, http.StatusNotImplemented, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("Failed to load charge history", zap.String("account_id", accID), zap.Error(err))
		h.respondError(w, http.StatusInternalServerError, "history_unavailable")
		return
	}
	if events == nil {
		events = []model.ChargeEvent{}
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{"charges": events})
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}

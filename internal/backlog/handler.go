package backlog

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"

	"github.com/meeraPraveen/RMTLogistics-sub000/internal/platform/httpx"
)

// Handler exposes the backlog dashboard endpoints: the only way to detect and
// resolve persistent divergence between the local store and the provider.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers backlog admin routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.listPending)
	r.Get("/stats", h.stats)
	r.Get("/overview", h.overview)
	r.Post("/retry-all", h.retryAll)
	r.Post("/cleanup", h.cleanup)
	r.Post("/{id}/retry", h.retryOne)
	r.Delete("/{id}", h.deleteOne)
}

func (h *Handler) listPending(w http.ResponseWriter, r *http.Request) {
	var kind *Kind
	if k := r.URL.Query().Get("kind"); k != "" {
		parsed := Kind(k)
		kind = &parsed
	}
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed <= 0 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	ops, err := h.service.ListPending(r.Context(), kind, limit)
	if err != nil {
		h.logger.Error("list backlog", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"operations": toDTOs(ops)})
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	counts, err := h.service.Stats(r.Context())
	if err != nil {
		h.logger.Error("backlog stats", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, counts)
}

// overview combines the status counts with the oldest pending rows so an
// operator can judge divergence from a single call.
func (h *Handler) overview(w http.ResponseWriter, r *http.Request) {
	var (
		counts  map[Status]int64
		pending []Operation
	)

	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		var err error
		counts, err = h.service.Stats(ctx)
		return err
	})
	g.Go(func() error {
		var err error
		pending, err = h.service.ListPending(ctx, nil, 10)
		return err
	})
	if err := g.Wait(); err != nil {
		h.logger.Error("backlog overview", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}

	httpx.JSON(w, http.StatusOK, map[string]any{
		"counts":  counts,
		"pending": toDTOs(pending),
	})
}

func (h *Handler) retryOne(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid operation id")
		return
	}
	op, err := h.service.Retry(r.Context(), id)
	if err != nil {
		if op.ID != 0 {
			// The dispatch failed but the operation state advanced; show both.
			httpx.JSON(w, http.StatusBadGateway, map[string]any{
				"operation": toDTO(op),
				"error":     op.LastError,
			})
			return
		}
		h.logger.Error("retry backlog operation", slog.Int64("id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"operation": toDTO(op)})
}

type retryAllRequest struct {
	BatchSize int `json:"batch_size" validate:"omitempty,min=1,max=500"`
}

func (h *Handler) retryAll(w http.ResponseWriter, r *http.Request) {
	req := retryAllRequest{BatchSize: 100}
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
			return
		}
		if err := h.validate.Struct(req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
			return
		}
	}
	summary, err := h.service.RetryAll(r.Context(), req.BatchSize)
	if err != nil {
		h.logger.Error("retry all backlog", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

type cleanupRequest struct {
	OlderThanHours int `json:"older_than_hours" validate:"required,min=1"`
}

func (h *Handler) cleanup(w http.ResponseWriter, r *http.Request) {
	var req cleanupRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	purged, err := h.service.Cleanup(r.Context(), time.Duration(req.OlderThanHours)*time.Hour)
	if err != nil {
		h.logger.Error("cleanup backlog", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"purged": purged})
}

func (h *Handler) deleteOne(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid operation id")
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		h.logger.Error("delete backlog operation", slog.Int64("id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// operationDTO is the JSON view of an operation.
type operationDTO struct {
	ID              int64      `json:"id"`
	Kind            Kind       `json:"operation_type"`
	ExternalID      string     `json:"external_id,omitempty"`
	Email           string     `json:"email,omitempty"`
	Status          Status     `json:"status"`
	RetryCount      int        `json:"retry_count"`
	MaxRetries      int        `json:"max_retries"`
	LastError       string     `json:"error_message,omitempty"`
	TraceID         string     `json:"trace_id"`
	CreatedAt       time.Time  `json:"created_at"`
	LastAttemptedAt *time.Time `json:"last_attempted_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

func toDTO(op Operation) operationDTO {
	return operationDTO{
		ID:              op.ID,
		Kind:            op.Kind,
		ExternalID:      op.ExternalID,
		Email:           op.Email,
		Status:          op.Status,
		RetryCount:      op.RetryCount,
		MaxRetries:      op.MaxRetries,
		LastError:       op.LastError,
		TraceID:         op.TraceID.String(),
		CreatedAt:       op.CreatedAt,
		LastAttemptedAt: op.LastAttemptedAt,
		CompletedAt:     op.CompletedAt,
	}
}

func toDTOs(ops []Operation) []operationDTO {
	dtos := make([]operationDTO, len(ops))
	for i, op := range ops {
		dtos[i] = toDTO(op)
	}
	return dtos
}

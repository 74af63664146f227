package company

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meeraPraveen/RMTLogistics-sub000/internal/platform/httpx"
)

// Handler exposes company management over JSON.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers company routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.create)
	r.Get("/", h.list)
	r.Get("/{id}", h.get)
	r.Put("/{id}", h.update)
	r.Post("/{id}/suspend", h.suspend)
	r.Post("/{id}/reactivate", h.reactivate)
	r.Delete("/{id}", h.delete)
}

type companyRequest struct {
	Name           string   `json:"name" validate:"required,min=1,max=200"`
	EnabledModules []string `json:"enabled_modules" validate:"omitempty,dive,min=1"`
}

type companyDTO struct {
	ID             int64    `json:"id"`
	ExternalID     *string  `json:"external_id,omitempty"`
	Name           string   `json:"name"`
	EnabledModules []string `json:"enabled_modules"`
	IsActive       bool     `json:"is_active"`
	CreatedAt      string   `json:"created_at"`
	UpdatedAt      string   `json:"updated_at"`
}

const timeLayout = "2006-01-02T15:04:05Z07:00"

func toDTO(c Company) companyDTO {
	dto := companyDTO{
		ID:             c.ID,
		Name:           c.Name,
		EnabledModules: c.EnabledModules,
		IsActive:       c.IsActive,
		CreatedAt:      c.CreatedAt.Format(timeLayout),
		UpdatedAt:      c.UpdatedAt.Format(timeLayout),
	}
	if dto.EnabledModules == nil {
		dto.EnabledModules = []string{}
	}
	if c.ExternalID.Linked() {
		id := c.ExternalID.String()
		dto.ExternalID = &id
	}
	return dto
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	company, err := h.service.Create(r.Context(), actorFrom(r), req.Name, req.EnabledModules)
	if err != nil {
		h.logger.Error("create company", slog.String("name", req.Name), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toDTO(company))
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	companies, err := h.service.List(r.Context())
	if err != nil {
		h.logger.Error("list companies", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	dtos := make([]companyDTO, 0, len(companies))
	for _, c := range companies {
		dtos = append(dtos, toDTO(c))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"companies": dtos})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.idParam(w, r)
	if !ok {
		return
	}
	company, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toDTO(company))
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, ok := h.idParam(w, r)
	if !ok {
		return
	}
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	company, err := h.service.Update(r.Context(), actorFrom(r), id, req.Name, req.EnabledModules)
	if err != nil {
		h.logger.Error("update company", slog.Int64("id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toDTO(company))
}

func (h *Handler) suspend(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, false)
}

func (h *Handler) reactivate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, true)
}

func (h *Handler) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	id, ok := h.idParam(w, r)
	if !ok {
		return
	}
	company, err := h.service.SetActive(r.Context(), actorFrom(r), id, active)
	if err != nil {
		h.logger.Error("change company state", slog.Int64("id", id), slog.Bool("active", active), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toDTO(company))
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.idParam(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), actorFrom(r), id); err != nil {
		h.logger.Error("delete company", slog.Int64("id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request) (companyRequest, bool) {
	var req companyRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", err.Error())
		return companyRequest{}, false
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return companyRequest{}, false
	}
	return req, true
}

func (h *Handler) idParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "id must be a positive integer")
		return 0, false
	}
	return id, true
}

func actorFrom(r *http.Request) int64 {
	id, err := strconv.ParseInt(r.Header.Get("X-Actor-ID"), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

package identity

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meeraPraveen/RMTLogistics-sub000/internal/platform/httpx"
)

// Handler exposes identity management over JSON.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers identity routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.create)
	r.Get("/", h.list)
	r.Post("/login-sync", h.loginSync)
	r.Get("/{id}", h.get)
	r.Patch("/{id}", h.update)
	r.Put("/{id}/role", h.updateRole)
	r.Post("/{id}/suspend", h.suspend)
	r.Post("/{id}/reactivate", h.reactivate)
	r.Put("/{id}/company", h.assignCompany)
	r.Post("/{id}/relink", h.relink)
	r.Delete("/{id}", h.delete)
}

type createRequest struct {
	Email     string  `json:"email" validate:"required,email"`
	Name      string  `json:"name" validate:"required,min=1,max=200"`
	Role      *string `json:"role" validate:"omitempty,min=1,max=100"`
	CompanyID *int64  `json:"company_id" validate:"omitempty,min=1"`
}

type updateRequest struct {
	Name string `json:"name" validate:"required,min=1,max=200"`
}

type roleRequest struct {
	Role *string `json:"role" validate:"omitempty,min=1,max=100"`
}

type companyRequest struct {
	CompanyID *int64 `json:"company_id" validate:"omitempty,min=1"`
}

type relinkRequest struct {
	ExternalID string `json:"external_id" validate:"required,min=1"`
}

type loginSyncRequest struct {
	ExternalID string `json:"external_id" validate:"required,min=1"`
	Email      string `json:"email" validate:"required,email"`
	Name       string `json:"name" validate:"required,min=1,max=200"`
}

type userDTO struct {
	ID         int64   `json:"id"`
	ExternalID *string `json:"external_id,omitempty"`
	Email      string  `json:"email"`
	Name       string  `json:"name"`
	Role       *string `json:"role"`
	IsActive   bool    `json:"is_active"`
	CompanyID  *int64  `json:"company_id,omitempty"`
	CreatedAt  string  `json:"created_at"`
	UpdatedAt  string  `json:"updated_at"`
	LastLogin  *string `json:"last_login,omitempty"`
}

func toDTO(u User) userDTO {
	dto := userDTO{
		ID:        u.ID,
		Email:     u.Email,
		Name:      u.Name,
		Role:      u.Role,
		IsActive:  u.IsActive,
		CompanyID: u.CompanyID,
		CreatedAt: u.CreatedAt.Format(timeLayout),
		UpdatedAt: u.UpdatedAt.Format(timeLayout),
	}
	if u.ExternalID.Linked() {
		id := u.ExternalID.String()
		dto.ExternalID = &id
	}
	if u.LastLogin != nil {
		t := u.LastLogin.Format(timeLayout)
		dto.LastLogin = &t
	}
	return dto
}

const timeLayout = "2006-01-02T15:04:05Z07:00"

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	user, err := h.service.Create(r.Context(), actorFrom(r), req.Email, req.Name, req.Role, req.CompanyID)
	if err != nil {
		h.logger.Error("create identity", slog.String("email", req.Email), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toDTO(user))
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.List(r.Context())
	if err != nil {
		h.logger.Error("list identities", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	dtos := make([]userDTO, 0, len(users))
	for _, u := range users {
		dtos = append(dtos, toDTO(u))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"identities": dtos})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.idParam(w, r)
	if !ok {
		return
	}
	user, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toDTO(user))
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, ok := h.idParam(w, r)
	if !ok {
		return
	}
	var req updateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	user, err := h.service.Update(r.Context(), id, req.Name)
	if err != nil {
		h.logger.Error("update identity", slog.Int64("id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toDTO(user))
}

func (h *Handler) updateRole(w http.ResponseWriter, r *http.Request) {
	id, ok := h.idParam(w, r)
	if !ok {
		return
	}
	var req roleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	user, err := h.service.UpdateRole(r.Context(), actorFrom(r), id, req.Role)
	if err != nil {
		h.logger.Error("update role", slog.Int64("id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toDTO(user))
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
	var user User
	var err error
	if active {
		user, err = h.service.Reactivate(r.Context(), actorFrom(r), id)
	} else {
		user, err = h.service.Suspend(r.Context(), actorFrom(r), id)
	}
	if err != nil {
		h.logger.Error("change identity state", slog.Int64("id", id), slog.Bool("active", active), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toDTO(user))
}

func (h *Handler) assignCompany(w http.ResponseWriter, r *http.Request) {
	id, ok := h.idParam(w, r)
	if !ok {
		return
	}
	var req companyRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	user, err := h.service.AssignCompany(r.Context(), actorFrom(r), id, req.CompanyID)
	if err != nil {
		h.logger.Error("assign company", slog.Int64("id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toDTO(user))
}

func (h *Handler) relink(w http.ResponseWriter, r *http.Request) {
	id, ok := h.idParam(w, r)
	if !ok {
		return
	}
	var req relinkRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	user, err := h.service.Relink(r.Context(), actorFrom(r), id, req.ExternalID)
	if err != nil {
		h.logger.Error("relink identity", slog.Int64("id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toDTO(user))
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.idParam(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), actorFrom(r), id); err != nil {
		h.logger.Error("delete identity", slog.Int64("id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) loginSync(w http.ResponseWriter, r *http.Request) {
	var req loginSyncRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	user, err := h.service.EnsureFromLogin(r.Context(), req.ExternalID, req.Email, req.Name)
	if err != nil {
		h.logger.Error("login sync", slog.String("email", req.Email), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toDTO(user))
}

func (h *Handler) idParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "id must be a positive integer")
		return 0, false
	}
	return id, true
}

// actorFrom extracts the acting administrator id from the X-Actor-ID header.
// Zero means unattributed; the audit row still records the action.
func actorFrom(r *http.Request) int64 {
	id, err := strconv.ParseInt(r.Header.Get("X-Actor-ID"), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

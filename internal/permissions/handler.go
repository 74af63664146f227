package permissions

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meeraPraveen/RMTLogistics-sub000/internal/platform/httpx"
)

// Handler exposes the permission catalog and access checks to the request layer.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers permission routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.listGrants)
	r.Get("/{role}", h.resolveRole)
	r.Get("/{role}/check", h.check)
	r.Put("/{role}/{module}", h.setGrant)
	r.Delete("/{role}/{module}", h.removeGrant)
}

func (h *Handler) listGrants(w http.ResponseWriter, r *http.Request) {
	grants, err := h.service.ListGrants(r.Context())
	if err != nil {
		h.logger.Error("list grants", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"grants": grants})
}

func (h *Handler) resolveRole(w http.ResponseWriter, r *http.Request) {
	role := chi.URLParam(r, "role")
	resolved, err := h.service.Resolve(r.Context(), role)
	if err != nil {
		h.logger.Error("resolve role", slog.String("role", role), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"role": role, "permissions": resolved})
}

func (h *Handler) check(w http.ResponseWriter, r *http.Request) {
	role := chi.URLParam(r, "role")
	module := r.URL.Query().Get("module")
	action := r.URL.Query().Get("action")
	if module == "" {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "module query parameter required")
		return
	}

	var allowed bool
	var err error
	if action == "" {
		allowed, err = h.service.CanAccessModule(r.Context(), role, module)
	} else {
		allowed, err = h.service.HasAction(r.Context(), role, module, action)
	}
	if err != nil {
		h.logger.Error("permission check", slog.String("role", role), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"allowed": allowed})
}

type setGrantRequest struct {
	Actions []string `json:"actions" validate:"required"`
}

func (h *Handler) setGrant(w http.ResponseWriter, r *http.Request) {
	var req setGrantRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	role := chi.URLParam(r, "role")
	module := chi.URLParam(r, "module")
	if err := h.service.SetGrant(r.Context(), role, module, req.Actions); err != nil {
		h.logger.Error("set grant", slog.String("role", role), slog.String("module", module), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"role": role, "module": module, "actions": req.Actions})
}

func (h *Handler) removeGrant(w http.ResponseWriter, r *http.Request) {
	role := chi.URLParam(r, "role")
	module := chi.URLParam(r, "module")
	if err := h.service.RemoveGrant(r.Context(), role, module); err != nil {
		h.logger.Error("remove grant", slog.String("role", role), slog.String("module", module), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

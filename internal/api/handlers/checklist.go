// checklist.go — HTTP handlers чек-листа соответствия.
package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/medarchive/internal/api/errors"
	"github.com/bigkaa/medarchive/internal/domain/checklist"
	"github.com/bigkaa/medarchive/internal/service"
)

// ChecklistHandler — обработчик endpoints чек-листа.
type ChecklistHandler struct {
	checklists *service.ChecklistService
	logger     *slog.Logger
}

// NewChecklistHandler создаёт обработчик чек-листа.
func NewChecklistHandler(checklists *service.ChecklistService, logger *slog.Logger) *ChecklistHandler {
	return &ChecklistHandler{
		checklists: checklists,
		logger:     logger.With(slog.String("component", "checklist_handler")),
	}
}

// checklistRequest — тело PUT /api/v1/records/{id}/checklist.
// Непереданные пункты сохраняют прежнее значение.
type checklistRequest struct {
	Items checklist.Items `json:"items"`
	Notes *string         `json:"notes"`
}

// checklistResponse — чек-лист с вычисленным состоянием.
type checklistResponse struct {
	*checklist.Checklist
	State checklist.State `json:"state"`
}

// Get обрабатывает GET /api/v1/records/{id}/checklist.
func (h *ChecklistHandler) Get(w http.ResponseWriter, r *http.Request) {
	c, err := h.checklists.Get(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		apierrors.WriteServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, checklistResponse{Checklist: c, State: c.State()})
}

// Upsert обрабатывает PUT /api/v1/records/{id}/checklist.
func (h *ChecklistHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	var req checklistRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	c, err := h.checklists.Upsert(r.Context(), actorFrom(r), chi.URLParam(r, "id"),
		checklist.Update{Items: req.Items, Notes: req.Notes})
	if err != nil {
		apierrors.WriteServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, checklistResponse{Checklist: c, State: c.State()})
}

// Status обрабатывает GET /api/v1/records/{id}/checklist/status.
func (h *ChecklistHandler) Status(w http.ResponseWriter, r *http.Request) {
	status, err := h.checklists.Status(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		apierrors.WriteServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// Requirements обрабатывает GET /api/v1/checklist/requirements.
func (h *ChecklistHandler) Requirements(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"groups":          h.checklists.Requirements(),
		"mandatory_items": checklist.Mandatory(),
	})
}

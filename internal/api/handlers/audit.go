// audit.go — HTTP handler чтения журнала аудита.
package handlers

import (
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/medarchive/internal/api/errors"
	"github.com/bigkaa/medarchive/internal/domain/model"
	"github.com/bigkaa/medarchive/internal/service"
)

// AuditHandler — обработчик endpoint журнала аудита.
type AuditHandler struct {
	audit  *service.AuditRecorder
	logger *slog.Logger
}

// NewAuditHandler создаёт обработчик журнала аудита.
func NewAuditHandler(audit *service.AuditRecorder, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{
		audit:  audit,
		logger: logger.With(slog.String("component", "audit_handler")),
	}
}

// auditResponse — записи журнала по одной сущности.
type auditResponse struct {
	Items []*model.AuditEntry `json:"items"`
	Limit int                 `json:"limit"`
}

// List обрабатывает GET /api/v1/audit?entity_type=&entity_id=&limit=.
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, _, err := pagination(r)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	q := r.URL.Query()
	entries, err := h.audit.Entries(r.Context(),
		model.EntityType(q.Get("entity_type")), q.Get("entity_id"), limit)
	if err != nil {
		apierrors.WriteServiceError(w, h.logger, err)
		return
	}

	limit, _ = service.PageBounds(limit, 0)
	writeJSON(w, http.StatusOK, auditResponse{Items: entries, Limit: limit})
}

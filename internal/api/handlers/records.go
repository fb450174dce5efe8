// records.go — HTTP handlers медицинских карт.
package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/medarchive/internal/api/errors"
	"github.com/bigkaa/medarchive/internal/domain/model"
	"github.com/bigkaa/medarchive/internal/service"
)

// RecordsHandler — обработчик endpoints медицинских карт.
type RecordsHandler struct {
	records *service.RecordService
	logger  *slog.Logger
}

// NewRecordsHandler создаёт обработчик карт.
func NewRecordsHandler(records *service.RecordService, logger *slog.Logger) *RecordsHandler {
	return &RecordsHandler{
		records: records,
		logger:  logger.With(slog.String("component", "records_handler")),
	}
}

// Create обрабатывает POST /api/v1/records.
func (h *RecordsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in service.CreateRecordInput
	if !decodeJSON(w, r, &in) {
		return
	}

	rec, err := h.records.Create(r.Context(), actorFrom(r), in)
	if err != nil {
		apierrors.WriteServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// List обрабатывает GET /api/v1/records.
// Фильтры: patient_id, status. Пагинация: limit, offset.
func (h *RecordsHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pagination(r)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	q := r.URL.Query()
	filter := model.RecordFilter{
		PatientID: q.Get("patient_id"),
		Status:    model.RecordStatus(q.Get("status")),
	}

	recs, total, err := h.records.List(r.Context(), filter, limit, offset)
	if err != nil {
		apierrors.WriteServiceError(w, h.logger, err)
		return
	}

	limit, offset = service.PageBounds(limit, offset)
	writeJSON(w, http.StatusOK, newListResponse(recs, total, limit, offset))
}

// Get обрабатывает GET /api/v1/records/{id}: карта, документы, сводка чек-листа.
func (h *RecordsHandler) Get(w http.ResponseWriter, r *http.Request) {
	view, err := h.records.Get(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		apierrors.WriteServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// Update обрабатывает PATCH /api/v1/records/{id}.
func (h *RecordsHandler) Update(w http.ResponseWriter, r *http.Request) {
	var in service.UpdateRecordInput
	if !decodeJSON(w, r, &in) {
		return
	}

	rec, err := h.records.Update(r.Context(), actorFrom(r), chi.URLParam(r, "id"), in)
	if err != nil {
		apierrors.WriteServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Delete обрабатывает DELETE /api/v1/records/{id}: карта, её документы и чек-лист.
func (h *RecordsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.records.Delete(r.Context(), actorFrom(r), chi.URLParam(r, "id")); err != nil {
		apierrors.WriteServiceError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

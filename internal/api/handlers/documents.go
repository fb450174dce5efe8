// documents.go — HTTP handlers документов: загрузка, список, метаданные,
// скачивание, проверка целостности, удаление.
package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/medarchive/internal/api/errors"
	"github.com/bigkaa/medarchive/internal/domain/model"
	"github.com/bigkaa/medarchive/internal/service"
)

// multipartMemory — часть multipart-формы, хранимая в памяти; остальное на диске.
const multipartMemory = 8 << 20

// multipartOverhead — запас на заголовки и текстовые поля формы.
const multipartOverhead = 1 << 20

// DocumentsHandler — обработчик endpoints документов.
type DocumentsHandler struct {
	docs        *service.DocumentService
	maxFileSize int64
	logger      *slog.Logger
}

// NewDocumentsHandler создаёт обработчик документов.
func NewDocumentsHandler(docs *service.DocumentService, maxFileSize int64, logger *slog.Logger) *DocumentsHandler {
	return &DocumentsHandler{
		docs:        docs,
		maxFileSize: maxFileSize,
		logger:      logger.With(slog.String("component", "documents_handler")),
	}
}

// Upload обрабатывает POST /api/v1/documents.
// Multipart form: file (обязательно), record_id (обязательно), category,
// document_date, description, responsible, original_identifier, resolution_dpi.
func (h *DocumentsHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxFileSize+multipartOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			apierrors.FileTooLarge(w, fmt.Sprintf("Размер запроса превышает %d байт", h.maxFileSize))
			return
		}
		apierrors.ValidationError(w, "Ошибка парсинга multipart: "+err.Error())
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		apierrors.ValidationError(w, "Поле 'file' обязательно")
		return
	}
	defer file.Close()

	meta, err := parseDocumentMeta(r)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	doc, err := h.docs.Upload(r.Context(), actorFrom(r), service.StoreInput{
		RecordID:         r.FormValue("record_id"),
		OriginalFilename: header.Filename,
		MimeType:         partContentType(header.Header.Get("Content-Type"), header.Filename),
		Size:             header.Size,
		Reader:           file,
		Meta:             meta,
	})
	if err != nil {
		apierrors.WriteServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, doc)
}

// List обрабатывает GET /api/v1/documents.
// Фильтры: record_id, category. Пагинация: limit, offset.
func (h *DocumentsHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pagination(r)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	q := r.URL.Query()
	filter := model.DocumentFilter{
		RecordID: q.Get("record_id"),
		Category: model.DocumentCategory(q.Get("category")),
	}

	docs, total, err := h.docs.List(r.Context(), filter, limit, offset)
	if err != nil {
		apierrors.WriteServiceError(w, h.logger, err)
		return
	}

	limit, offset = service.PageBounds(limit, offset)
	writeJSON(w, http.StatusOK, newListResponse(docs, total, limit, offset))
}

// Get обрабатывает GET /api/v1/documents/{id}.
func (h *DocumentsHandler) Get(w http.ResponseWriter, r *http.Request) {
	doc, err := h.docs.Get(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		apierrors.WriteServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// Download обрабатывает GET /api/v1/documents/{id}/download.
// Поддерживает Range requests (206) и ETag по digest (If-None-Match → 304).
func (h *DocumentsHandler) Download(w http.ResponseWriter, r *http.Request) {
	blob, err := h.docs.Download(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		apierrors.WriteServiceError(w, h.logger, err)
		return
	}
	defer blob.Content.Close()

	doc := blob.Document
	w.Header().Set("Content-Type", doc.MimeType)
	w.Header().Set("ETag", `"`+doc.Digest+`"`)
	w.Header().Set("Cache-Control", "private, no-cache")
	w.Header().Set("Content-Disposition",
		mime.FormatMediaType("attachment", map[string]string{"filename": doc.OriginalFilename}))

	http.ServeContent(w, r, doc.OriginalFilename, blob.ModTime, blob.Content)
}

// Verify обрабатывает GET /api/v1/documents/{id}/verify.
// Расхождение digest — 200 с valid=false, а не ошибка.
func (h *DocumentsHandler) Verify(w http.ResponseWriter, r *http.Request) {
	result, err := h.docs.Verify(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		apierrors.WriteServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Delete обрабатывает DELETE /api/v1/documents/{id}.
func (h *DocumentsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.docs.Delete(r.Context(), actorFrom(r), chi.URLParam(r, "id")); err != nil {
		apierrors.WriteServiceError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// parseDocumentMeta извлекает необязательные поля формы.
func parseDocumentMeta(r *http.Request) (service.DocumentMeta, error) {
	meta := service.DocumentMeta{
		Category:           r.FormValue("category"),
		Description:        r.FormValue("description"),
		Responsible:        r.FormValue("responsible"),
		OriginalIdentifier: r.FormValue("original_identifier"),
	}

	if v := r.FormValue("document_date"); v != "" {
		t, err := parseDate(v)
		if err != nil {
			return meta, fmt.Errorf("document_date: ожидается дата YYYY-MM-DD или RFC 3339")
		}
		meta.DocumentDate = &t
	}

	if v := r.FormValue("resolution_dpi"); v != "" {
		dpi, err := strconv.Atoi(v)
		if err != nil {
			return meta, fmt.Errorf("resolution_dpi: ожидается целое число")
		}
		meta.ResolutionDPI = &dpi
	}
	return meta, nil
}

// parseDate принимает дату (2006-01-02) или момент времени (RFC 3339).
func parseDate(v string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, v); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, v)
}

// partContentType определяет MIME-тип части формы.
// Без заголовка или с application/octet-stream тип берётся по расширению.
func partContentType(header, filename string) string {
	if header != "" && !strings.HasPrefix(header, "application/octet-stream") {
		return header
	}
	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename))); byExt != "" {
		return byExt
	}
	if header != "" {
		return header
	}
	return "application/octet-stream"
}

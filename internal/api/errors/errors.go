// Пакет errors — конструкторы стандартных ошибок API medarchive.
// Единый формат: {"error": {"code": "...", "message": "...", "details": {...}}}.
// Все HTTP-ответы с ошибками должны использовать WriteError.
package errors //nolint:revive // TODO: переименовать пакет errors, конфликт со stdlib

import (
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"net/http"

	"github.com/bigkaa/medarchive/internal/service"
)

// Коды ошибок API.
const (
	CodeValidationError      = "VALIDATION_ERROR"
	CodeNotFound             = "NOT_FOUND"
	CodeUnauthorized         = "UNAUTHORIZED"
	CodeForbidden            = "FORBIDDEN"
	CodeDuplicateContent     = "DUPLICATE_CONTENT"
	CodeMissingBlob          = "MISSING_BLOB"
	CodeFileTooLarge         = "FILE_TOO_LARGE"
	CodeUnsupportedMediaType = "UNSUPPORTED_MEDIA_TYPE"
	CodeStorageError         = "STORAGE_ERROR"
	CodeReconcileInProgress  = "RECONCILE_IN_PROGRESS"
	CodeInternalError        = "INTERNAL_ERROR"
)

// errorBody — структура тела ответа ошибки.
type errorBody struct {
	Error errorDetail `json:"error"`
}

// errorDetail — детали ошибки.
type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// WriteError записывает ответ ошибки в стандартном формате.
// statusCode — HTTP статус-код, code — машиночитаемый код, message — описание.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	writeError(w, statusCode, errorDetail{Code: code, Message: message})
}

func writeError(w http.ResponseWriter, statusCode int, detail errorDetail) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{Error: detail})
}

// WriteServiceError отображает ошибку сервисного слоя на HTTP-ответ.
// Нарушения целостности хранилища и неизвестные ошибки логируются на уровне ERROR.
func WriteServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var (
		validation *service.ValidationError
		duplicate  *service.DuplicateError
		missing    *service.MissingBlobError
		ioErr      *service.IOError
	)

	switch {
	case stderrors.Is(err, service.ErrFileTooLarge):
		FileTooLarge(w, err.Error())
	case stderrors.Is(err, service.ErrUnsupportedMediaType):
		UnsupportedMediaType(w, err.Error())
	case stderrors.As(err, &validation):
		detail := errorDetail{Code: CodeValidationError, Message: validation.Error()}
		if validation.Field != "" {
			detail.Details = map[string]string{"field": validation.Field}
		}
		writeError(w, http.StatusBadRequest, detail)
	case stderrors.As(err, &duplicate):
		writeError(w, http.StatusConflict, errorDetail{
			Code:    CodeDuplicateContent,
			Message: duplicate.Error(),
			Details: map[string]string{
				"existing_document_id": duplicate.ExistingID,
				"existing_record_id":   duplicate.ExistingRecordID,
				"digest":               duplicate.Digest,
			},
		})
	case stderrors.Is(err, service.ErrNotFound):
		NotFound(w, err.Error())
	case stderrors.As(err, &missing):
		logger.Error("Файл документа отсутствует в хранилище",
			slog.String("document_id", missing.DocumentID),
			slog.String("storage_path", missing.StoragePath),
		)
		writeError(w, http.StatusInternalServerError, errorDetail{
			Code:    CodeMissingBlob,
			Message: "Файл документа отсутствует в хранилище",
			Details: map[string]string{"document_id": missing.DocumentID},
		})
	case stderrors.As(err, &ioErr):
		logger.Error("Ошибка хранилища",
			slog.String("op", ioErr.Op),
			slog.String("error", ioErr.Err.Error()),
		)
		StorageError(w, "Хранилище временно недоступно, повторите запрос")
	case stderrors.Is(err, service.ErrReconcileInProgress):
		ReconcileInProgress(w, err.Error())
	default:
		logger.Error("Внутренняя ошибка", slog.String("error", err.Error()))
		InternalError(w, "Внутренняя ошибка сервера")
	}
}

// --- Конструкторы для типичных ошибок ---

// ValidationError — 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// NotFound — 404 ресурс не найден.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// Unauthorized — 401 требуется аутентификация.
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

// Forbidden — 403 недостаточно прав.
func Forbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, CodeForbidden, message)
}

// FileTooLarge — 413 файл превышает лимит.
func FileTooLarge(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusRequestEntityTooLarge, CodeFileTooLarge, message)
}

// UnsupportedMediaType — 415 недопустимый MIME-тип.
func UnsupportedMediaType(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnsupportedMediaType, CodeUnsupportedMediaType, message)
}

// StorageError — 503 сбой диска или БД, запрос можно повторить.
func StorageError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusServiceUnavailable, CodeStorageError, message)
}

// ReconcileInProgress — 409 сверка уже выполняется.
func ReconcileInProgress(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeReconcileInProgress, message)
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}

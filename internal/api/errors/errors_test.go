package errors //nolint:revive // TODO: переименовать пакет errors, конфликт со stdlib

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/bigkaa/medarchive/internal/service"
)

type testBody struct {
	Error struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Details map[string]string `json:"details"`
	} `json:"error"`
}

func TestWriteServiceError(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 4}))

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "валидация",
			err:        &service.ValidationError{Field: "record_id", Message: "обязательное поле"},
			wantStatus: http.StatusBadRequest,
			wantCode:   CodeValidationError,
		},
		{
			name:       "файл слишком большой",
			err:        &service.ValidationError{Field: "file", Message: "превышен лимит", Kind: service.ErrFileTooLarge},
			wantStatus: http.StatusRequestEntityTooLarge,
			wantCode:   CodeFileTooLarge,
		},
		{
			name:       "недопустимый MIME",
			err:        &service.ValidationError{Field: "mime_type", Message: "text/plain", Kind: service.ErrUnsupportedMediaType},
			wantStatus: http.StatusUnsupportedMediaType,
			wantCode:   CodeUnsupportedMediaType,
		},
		{
			name:       "дубликат",
			err:        &service.DuplicateError{ExistingID: "doc-1", ExistingRecordID: "rec-1", Digest: "abc"},
			wantStatus: http.StatusConflict,
			wantCode:   CodeDuplicateContent,
		},
		{
			name:       "не найдено",
			err:        fmt.Errorf("обёртка: %w", &service.NotFoundError{Entity: "document", ID: "x"}),
			wantStatus: http.StatusNotFound,
			wantCode:   CodeNotFound,
		},
		{
			name:       "файл отсутствует",
			err:        &service.MissingBlobError{DocumentID: "doc-1", StoragePath: "rec/doc.png"},
			wantStatus: http.StatusInternalServerError,
			wantCode:   CodeMissingBlob,
		},
		{
			name:       "сбой хранилища",
			err:        &service.IOError{Op: "запись файла", Err: io.ErrShortWrite},
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   CodeStorageError,
		},
		{
			name:       "сверка выполняется",
			err:        service.ErrReconcileInProgress,
			wantStatus: http.StatusConflict,
			wantCode:   CodeReconcileInProgress,
		},
		{
			name:       "неизвестная ошибка",
			err:        io.ErrUnexpectedEOF,
			wantStatus: http.StatusInternalServerError,
			wantCode:   CodeInternalError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteServiceError(rec, logger, tt.err)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, ожидался %d", rec.Code, tt.wantStatus)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q", ct)
			}

			var body testBody
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("Некорректный JSON: %v", err)
			}
			if body.Error.Code != tt.wantCode {
				t.Errorf("code = %q, ожидался %q", body.Error.Code, tt.wantCode)
			}
			if body.Error.Message == "" {
				t.Error("Пустое сообщение об ошибке")
			}
		})
	}
}

func TestWriteServiceError_DuplicateDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteServiceError(rec, slog.Default(), &service.DuplicateError{
		ExistingID:       "doc-1",
		ExistingRecordID: "rec-1",
		Digest:           "abc",
	})

	var body testBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Некорректный JSON: %v", err)
	}
	if body.Error.Details["existing_document_id"] != "doc-1" {
		t.Errorf("existing_document_id = %q", body.Error.Details["existing_document_id"])
	}
	if body.Error.Details["digest"] != "abc" {
		t.Errorf("digest = %q", body.Error.Details["digest"])
	}
}

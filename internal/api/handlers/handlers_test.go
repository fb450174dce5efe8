package handlers

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/bigkaa/medarchive/internal/api/middleware"
	"github.com/bigkaa/medarchive/internal/config"
	"github.com/bigkaa/medarchive/internal/domain/checklist"
	"github.com/bigkaa/medarchive/internal/repository/memrepo"
	"github.com/bigkaa/medarchive/internal/service"
	"github.com/bigkaa/medarchive/internal/storage/filestore"
	"github.com/bigkaa/medarchive/internal/storage/wal"
)

const testKeyID = "handlers-test-key"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// stubReconciler — ReconcileRunner с фиксированным результатом.
type stubReconciler struct {
	report *service.ReconcileReport
	err    error
}

func (s *stubReconciler) RunOnce(context.Context) (*service.ReconcileReport, error) {
	return s.report, s.err
}

// stubRole — MaintenanceRole для /api/v1/info.
type stubRole struct{}

func (stubRole) IsLeader() bool { return true }
func (stubRole) Owner() string  { return "ma-0" }

// testAPI — роутер medarchive поверх in-memory репозиториев.
type testAPI struct {
	router http.Handler
	mem    *memrepo.Store
	key    *rsa.PrivateKey
	recon  *stubReconciler
}

// newTestAPI собирает роутер. withAuth — JWT middleware с тестовым ключом.
func newTestAPI(t *testing.T, withAuth bool) *testAPI {
	t.Helper()

	root := t.TempDir()
	cfg := &config.Config{
		DataDir:          filepath.Join(root, "data"),
		WALDir:           filepath.Join(root, "wal"),
		MaxFileSize:      1024,
		AllowedMimeTypes: append([]string(nil), config.DefaultAllowedMimeTypes...),
		RetentionYears:   20,
	}
	logger := testLogger()

	files, err := filestore.New(cfg.DataDir)
	if err != nil {
		t.Fatalf("filestore.New: %v", err)
	}
	journal, err := wal.New(cfg.WALDir, logger)
	if err != nil {
		t.Fatalf("wal.New: %v", err)
	}

	mem := memrepo.New()
	cache := service.NewDocumentCache(100, time.Minute)
	content := service.NewContentStore(cfg, mem, files, journal, cache, nil, logger)
	audit := service.NewAuditRecorder(mem.Audit(), logger)
	checklists := service.NewChecklistService(mem, audit, logger)
	records := service.NewRecordService(cfg, mem, content, checklists, audit, logger)
	documents := service.NewDocumentService(content, mem, audit, nil, logger)

	recon := &stubReconciler{report: &service.ReconcileReport{FilesChecked: 3, Summary: service.ReconcileSummary{Ok: 3}}}
	api := NewAPIHandler(
		NewDocumentsHandler(documents, cfg.MaxFileSize, logger),
		NewRecordsHandler(records, logger),
		NewChecklistHandler(checklists, logger),
		NewSystemHandler(cfg, nil, stubRole{}),
		NewMaintenanceHandler(recon, logger),
		NewAuditHandler(audit, logger),
		NewHealthHandler(cfg.DataDir, cfg.WALDir),
	)

	ta := &testAPI{mem: mem, recon: recon}

	var auth func(http.Handler) http.Handler
	if withAuth {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			t.Fatalf("GenerateKey: %v", err)
		}
		kf, err := keyfunc.NewJWKSetJSON(jwksJSON(&key.PublicKey))
		if err != nil {
			t.Fatalf("NewJWKSetJSON: %v", err)
		}
		auth = middleware.NewJWTAuthWithKeyfunc(kf, time.Second, logger).Middleware()
		ta.key = key
	}

	r := chi.NewRouter()
	api.Routes(r, auth)
	ta.router = r
	return ta
}

func jwksJSON(pub *rsa.PublicKey) json.RawMessage {
	data, _ := json.Marshal(map[string]any{
		"keys": []map[string]any{{
			"kty": "RSA",
			"kid": testKeyID,
			"use": "sig",
			"alg": "RS256",
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}},
	})
	return data
}

// token подписывает JWT с указанными scopes.
func (ta *testAPI) token(t *testing.T, sub, scope string) string {
	t.Helper()
	claims := middleware.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		ScopeString: scope,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = testKeyID
	signed, err := tok.SignedString(ta.key)
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	return signed
}

func (ta *testAPI) do(req *http.Request, bearer string) *httptest.ResponseRecorder {
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	ta.router.ServeHTTP(rec, req)
	return rec
}

func (ta *testAPI) doJSON(method, path, body, bearer string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	return ta.do(req, bearer)
}

// upload отправляет multipart-форму с файлом.
func (ta *testAPI) upload(t *testing.T, recordID, filename, mimeType string, content []byte, bearer string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("record_id", recordID)
	_ = mw.WriteField("category", "exam")
	_ = mw.WriteField("document_date", "2024-03-15")
	_ = mw.WriteField("resolution_dpi", "300")

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	h.Set("Content-Type", mimeType)
	part, err := mw.CreatePart(h)
	if err != nil {
		t.Fatalf("CreatePart: %v", err)
	}
	_, _ = part.Write(content)
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return ta.do(req, bearer)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("Ошибка разбора ответа %q: %v", rec.Body.String(), err)
	}
	return v
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	body := decode[struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}](t, rec)
	return body.Error.Code
}

// createRecord создаёт карту через API и возвращает её id.
func (ta *testAPI) createRecord(t *testing.T, bearer string) string {
	t.Helper()
	rec := ta.doJSON(http.MethodPost, "/api/v1/records", `{"patient_id":"P-001","description":"Internação 2024"}`, bearer)
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST /records: %d %s", rec.Code, rec.Body.String())
	}
	return decode[struct {
		ID string `json:"id"`
	}](t, rec).ID
}

type docResponse struct {
	ID               string `json:"id"`
	RecordID         string `json:"record_id"`
	OriginalFilename string `json:"original_filename"`
	MimeType         string `json:"mime_type"`
	Size             int64  `json:"size"`
	Digest           string `json:"digest"`
	Category         string `json:"category"`
	ResolutionDPI    *int   `json:"resolution_dpi"`
}

func TestDocuments_UploadDownloadVerifyDelete(t *testing.T) {
	ta := newTestAPI(t, false)
	recordID := ta.createRecord(t, "")
	content := []byte("\x89PNG fake page content")

	rec := ta.upload(t, recordID, "page 1.png", "image/png", content, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload: %d %s", rec.Code, rec.Body.String())
	}
	doc := decode[docResponse](t, rec)
	if doc.RecordID != recordID || doc.Size != int64(len(content)) || doc.MimeType != "image/png" {
		t.Errorf("неожиданный документ: %+v", doc)
	}
	if len(doc.Digest) != 64 {
		t.Errorf("digest = %q, ожидался hex SHA-256", doc.Digest)
	}
	if doc.ResolutionDPI == nil || *doc.ResolutionDPI != 300 {
		t.Errorf("resolution_dpi = %v", doc.ResolutionDPI)
	}

	// Метаданные
	rec = ta.doJSON(http.MethodGet, "/api/v1/documents/"+doc.ID, "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get: %d", rec.Code)
	}

	// Скачивание: байты и заголовки
	rec = ta.doJSON(http.MethodGet, "/api/v1/documents/"+doc.ID+"/download", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("download: %d %s", rec.Code, rec.Body.String())
	}
	if !bytes.Equal(rec.Body.Bytes(), content) {
		t.Error("скачанное содержимое не совпадает с загруженным")
	}
	if got := rec.Header().Get("ETag"); got != `"`+doc.Digest+`"` {
		t.Errorf("ETag = %q", got)
	}
	if got := rec.Header().Get("Content-Type"); got != "image/png" {
		t.Errorf("Content-Type = %q", got)
	}
	if got := rec.Header().Get("Content-Disposition"); got == "" {
		t.Error("Content-Disposition пуст")
	}

	// Условный запрос по ETag
	req := httptest.NewRequest(http.MethodGet, "/api/v1/documents/"+doc.ID+"/download", nil)
	req.Header.Set("If-None-Match", `"`+doc.Digest+`"`)
	if rec = ta.do(req, ""); rec.Code != http.StatusNotModified {
		t.Errorf("If-None-Match: status %d, ожидался 304", rec.Code)
	}

	// Range
	req = httptest.NewRequest(http.MethodGet, "/api/v1/documents/"+doc.ID+"/download", nil)
	req.Header.Set("Range", "bytes=0-3")
	rec = ta.do(req, "")
	if rec.Code != http.StatusPartialContent || rec.Body.Len() != 4 {
		t.Errorf("Range: status %d, %d байт", rec.Code, rec.Body.Len())
	}

	// Проверка целостности
	rec = ta.doJSON(http.MethodGet, "/api/v1/documents/"+doc.ID+"/verify", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("verify: %d", rec.Code)
	}
	if v := decode[service.IntegrityResult](t, rec); !v.Valid || v.CurrentDigest != doc.Digest {
		t.Errorf("verify: %+v", v)
	}

	// Список по карте
	rec = ta.doJSON(http.MethodGet, "/api/v1/documents?record_id="+recordID, "", "")
	list := decode[listResponse[docResponse]](t, rec)
	if list.Total != 1 || len(list.Items) != 1 {
		t.Errorf("list: total=%d items=%d", list.Total, len(list.Items))
	}

	// Удаление
	if rec = ta.doJSON(http.MethodDelete, "/api/v1/documents/"+doc.ID, "", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("delete: %d %s", rec.Code, rec.Body.String())
	}
	rec = ta.doJSON(http.MethodGet, "/api/v1/documents/"+doc.ID, "", "")
	if rec.Code != http.StatusNotFound || errorCode(t, rec) != "NOT_FOUND" {
		t.Errorf("после удаления: %d %s", rec.Code, rec.Body.String())
	}
}

func TestDocuments_UploadErrors(t *testing.T) {
	ta := newTestAPI(t, false)
	recordID := ta.createRecord(t, "")

	first := ta.upload(t, recordID, "a.pdf", "application/pdf", []byte("%PDF-1.4 same"), "")
	if first.Code != http.StatusCreated {
		t.Fatalf("upload: %d %s", first.Code, first.Body.String())
	}
	existing := decode[docResponse](t, first)

	tests := []struct {
		name     string
		recordID string
		filename string
		mime     string
		content  []byte
		status   int
		code     string
	}{
		{"дубликат содержимого", recordID, "b.pdf", "application/pdf", []byte("%PDF-1.4 same"), http.StatusConflict, "DUPLICATE_CONTENT"},
		{"недопустимый тип", recordID, "notes.txt", "text/plain", []byte("hello"), http.StatusUnsupportedMediaType, "UNSUPPORTED_MEDIA_TYPE"},
		{"слишком большой файл", recordID, "big.png", "image/png", bytes.Repeat([]byte("x"), 2048), http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE"},
		{"несуществующая карта", "7f1c2a9e-0000-4000-8000-000000000000", "c.png", "image/png", []byte("other"), http.StatusNotFound, "NOT_FOUND"},
		{"некорректный record_id", "not-a-uuid", "d.png", "image/png", []byte("more"), http.StatusBadRequest, "VALIDATION_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ta.upload(t, tt.recordID, tt.filename, tt.mime, tt.content, "")
			if rec.Code != tt.status {
				t.Fatalf("status = %d, ожидался %d: %s", rec.Code, tt.status, rec.Body.String())
			}
			if code := errorCode(t, rec); code != tt.code {
				t.Errorf("code = %q, ожидался %q", code, tt.code)
			}
		})
	}

	t.Run("дубликат сообщает существующий документ", func(t *testing.T) {
		rec := ta.upload(t, recordID, "again.pdf", "application/pdf", []byte("%PDF-1.4 same"), "")
		body := decode[struct {
			Error struct {
				Details map[string]string `json:"details"`
			} `json:"error"`
		}](t, rec)
		if body.Error.Details["existing_document_id"] != existing.ID {
			t.Errorf("details = %v, ожидался id %s", body.Error.Details, existing.ID)
		}
	})
}

func TestDocuments_UploadWithoutFile(t *testing.T) {
	ta := newTestAPI(t, false)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("record_id", "7f1c2a9e-0000-4000-8000-000000000000")
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := ta.do(req, "")
	if rec.Code != http.StatusBadRequest || errorCode(t, rec) != "VALIDATION_ERROR" {
		t.Errorf("status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestRecords_CRUD(t *testing.T) {
	ta := newTestAPI(t, false)
	id := ta.createRecord(t, "")

	rec := ta.doJSON(http.MethodPatch, "/api/v1/records/"+id, `{"status":"archived","historical_value":true}`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("patch: %d %s", rec.Code, rec.Body.String())
	}
	updated := decode[struct {
		Status          string `json:"status"`
		HistoricalValue bool   `json:"historical_value"`
	}](t, rec)
	if updated.Status != "archived" || !updated.HistoricalValue {
		t.Errorf("после PATCH: %+v", updated)
	}

	rec = ta.doJSON(http.MethodGet, "/api/v1/records/"+id, "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get: %d", rec.Code)
	}
	view := decode[struct {
		ID        string            `json:"id"`
		Documents []json.RawMessage `json:"documents"`
		Checklist checklist.Status  `json:"checklist"`
	}](t, rec)
	if view.ID != id || view.Documents == nil || view.Checklist.Exists {
		t.Errorf("view: %+v", view)
	}

	rec = ta.doJSON(http.MethodGet, "/api/v1/records?patient_id=P-001", "", "")
	if list := decode[listResponse[json.RawMessage]](t, rec); list.Total != 1 {
		t.Errorf("list total = %d", list.Total)
	}

	if rec = ta.doJSON(http.MethodDelete, "/api/v1/records/"+id, "", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("delete: %d %s", rec.Code, rec.Body.String())
	}
	if rec = ta.doJSON(http.MethodGet, "/api/v1/records/"+id, "", ""); rec.Code != http.StatusNotFound {
		t.Errorf("после удаления: %d", rec.Code)
	}
}

func TestRecords_InvalidBody(t *testing.T) {
	ta := newTestAPI(t, false)

	tests := []struct {
		name string
		body string
	}{
		{"невалидный JSON", `{`},
		{"неизвестное поле", `{"patient_id":"P","unknown":1}`},
		{"без patient_id", `{"description":"x"}`},
		{"недопустимый статус", `{"patient_id":"P","status":"lost"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ta.doJSON(http.MethodPost, "/api/v1/records", tt.body, "")
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, ожидался 400: %s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestChecklist_Flow(t *testing.T) {
	ta := newTestAPI(t, false)
	id := ta.createRecord(t, "")

	// До создания: GET — 404, status — exists=false
	if rec := ta.doJSON(http.MethodGet, "/api/v1/records/"+id+"/checklist", "", ""); rec.Code != http.StatusNotFound {
		t.Errorf("GET до создания: %d", rec.Code)
	}
	rec := ta.doJSON(http.MethodGet, "/api/v1/records/"+id+"/checklist/status", "", "")
	if st := decode[checklist.Status](t, rec); st.Exists || st.TotalCount != checklist.Total() {
		t.Errorf("status до создания: %+v", st)
	}

	items := map[checklist.Item]bool{}
	for _, item := range checklist.Mandatory() {
		items[item] = true
	}
	body, _ := json.Marshal(map[string]any{"items": items, "notes": "ok"})

	// Пункты о hash требуют сохранённого документа
	rec = ta.doJSON(http.MethodPut, "/api/v1/records/"+id+"/checklist", string(body), "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("PUT без документов: %d, ожидался 400", rec.Code)
	}
	if up := ta.upload(t, id, "scan.pdf", "application/pdf", []byte("%PDF-1.4 page"), ""); up.Code != http.StatusCreated {
		t.Fatalf("upload: %d %s", up.Code, up.Body.String())
	}

	// Все обязательные пункты — complete
	rec = ta.doJSON(http.MethodPut, "/api/v1/records/"+id+"/checklist", string(body), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT: %d %s", rec.Code, rec.Body.String())
	}
	resp := decode[struct {
		State       checklist.State `json:"state"`
		CompletedAt *time.Time      `json:"completed_at"`
		Notes       string          `json:"notes"`
	}](t, rec)
	if resp.State != checklist.StateComplete || resp.CompletedAt == nil || resp.Notes != "ok" {
		t.Errorf("после PUT: %+v", resp)
	}

	// Снятие обязательного пункта отзывает завершение
	first := checklist.Mandatory()[0]
	body, _ = json.Marshal(map[string]any{"items": map[checklist.Item]bool{first: false}})
	rec = ta.doJSON(http.MethodPut, "/api/v1/records/"+id+"/checklist", string(body), "")
	resp = decode[struct {
		State       checklist.State `json:"state"`
		CompletedAt *time.Time      `json:"completed_at"`
		Notes       string          `json:"notes"`
	}](t, rec)
	if resp.State != checklist.StateIncomplete || resp.CompletedAt != nil || resp.Notes != "ok" {
		t.Errorf("после снятия пункта: %+v", resp)
	}

	// Неизвестный пункт
	rec = ta.doJSON(http.MethodPut, "/api/v1/records/"+id+"/checklist", `{"items":{"coffee":true}}`, "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("неизвестный пункт: %d", rec.Code)
	}

	rec = ta.doJSON(http.MethodGet, "/api/v1/checklist/requirements", "", "")
	reqs := decode[struct {
		Groups         []checklist.Group `json:"groups"`
		MandatoryItems []checklist.Item  `json:"mandatory_items"`
	}](t, rec)
	if len(reqs.Groups) == 0 || len(reqs.MandatoryItems) != len(checklist.Mandatory()) {
		t.Errorf("requirements: %d групп, %d обязательных", len(reqs.Groups), len(reqs.MandatoryItems))
	}
}

func TestMaintenance_Reconcile(t *testing.T) {
	ta := newTestAPI(t, false)

	rec := ta.doJSON(http.MethodPost, "/api/v1/maintenance/reconcile", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("reconcile: %d %s", rec.Code, rec.Body.String())
	}
	if rep := decode[service.ReconcileReport](t, rec); rep.FilesChecked != 3 || rep.Summary.Ok != 3 {
		t.Errorf("report: %+v", rep)
	}

	ta.recon.err = service.ErrReconcileInProgress
	rec = ta.doJSON(http.MethodPost, "/api/v1/maintenance/reconcile", "", "")
	if rec.Code != http.StatusConflict || errorCode(t, rec) != "RECONCILE_IN_PROGRESS" {
		t.Errorf("в процессе: %d %s", rec.Code, rec.Body.String())
	}
}

func TestAudit_List(t *testing.T) {
	ta := newTestAPI(t, false)
	id := ta.createRecord(t, "")
	if rec := ta.doJSON(http.MethodPatch, "/api/v1/records/"+id, `{"status":"archived"}`, ""); rec.Code != http.StatusOK {
		t.Fatalf("PATCH: %d %s", rec.Code, rec.Body.String())
	}

	rec := ta.doJSON(http.MethodGet, "/api/v1/audit?entity_type=medical_record&entity_id="+id, "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /audit: %d %s", rec.Code, rec.Body.String())
	}
	body := decode[struct {
		Items []struct {
			Action   string `json:"action"`
			EntityID string `json:"entity_id"`
		} `json:"items"`
		Limit int `json:"limit"`
	}](t, rec)
	if len(body.Items) != 2 || body.Items[0].Action != "update" || body.Items[1].Action != "create" {
		t.Errorf("items: %+v", body.Items)
	}
	if body.Limit != service.DefaultPageLimit {
		t.Errorf("limit = %d", body.Limit)
	}

	rec = ta.doJSON(http.MethodGet, "/api/v1/audit?entity_type=medical_record&entity_id="+id+"&limit=1", "", "")
	if got := decode[struct {
		Items []json.RawMessage `json:"items"`
	}](t, rec); len(got.Items) != 1 {
		t.Errorf("limit=1: %d записей", len(got.Items))
	}

	tests := []struct {
		name  string
		query string
	}{
		{"без entity_type", "entity_id=" + id},
		{"неизвестный тип", "entity_type=invoice&entity_id=" + id},
		{"без entity_id", "entity_type=document"},
		{"нечисловой limit", "entity_type=document&entity_id=x&limit=ten"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ta.doJSON(http.MethodGet, "/api/v1/audit?"+tt.query, "", "")
			if rec.Code != http.StatusBadRequest || errorCode(t, rec) != "VALIDATION_ERROR" {
				t.Errorf("%d %s", rec.Code, rec.Body.String())
			}
		})
	}

	rec = ta.doJSON(http.MethodGet, "/api/v1/audit?entity_type=document&entity_id=missing", "", "")
	if got := decode[struct {
		Items []json.RawMessage `json:"items"`
	}](t, rec); rec.Code != http.StatusOK || got.Items == nil || len(got.Items) != 0 {
		t.Errorf("пустой журнал: %d %s", rec.Code, rec.Body.String())
	}
}

func TestSystemAndHealth(t *testing.T) {
	ta := newTestAPI(t, true)

	// Публичные endpoints доступны без токена
	rec := ta.doJSON(http.MethodGet, "/api/v1/info", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("info: %d", rec.Code)
	}
	info := decode[systemInfo](t, rec)
	if info.Service != "medarchive" || info.RetentionYears != 20 || info.Maintenance == nil || !info.Maintenance.Leader {
		t.Errorf("info: %+v", info)
	}

	if rec = ta.doJSON(http.MethodGet, "/health/live", "", ""); rec.Code != http.StatusOK {
		t.Errorf("live: %d", rec.Code)
	}
	if rec = ta.doJSON(http.MethodGet, "/health/ready", "", ""); rec.Code != http.StatusOK {
		t.Errorf("ready: %d %s", rec.Code, rec.Body.String())
	}
}

// failingChecker — зависимость, недоступная для /health/ready.
type failingChecker struct{}

func (failingChecker) Name() string { return "postgresql" }
func (failingChecker) CheckReady(context.Context) (string, string) {
	return statusFail, "connection refused"
}

func TestHealthReady_Statuses(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name       string
		handler    *HealthHandler
		wantCode   int
		wantStatus string
	}{
		{"всё доступно", NewHealthHandler(dir, dir), http.StatusOK, "ok"},
		{"WAL недоступен", NewHealthHandler(dir, filepath.Join(dir, "missing")), http.StatusOK, "degraded"},
		{"данные недоступны", NewHealthHandler(filepath.Join(dir, "missing"), dir), http.StatusServiceUnavailable, statusFail},
		{"PostgreSQL недоступен", NewHealthHandler(dir, dir, failingChecker{}), http.StatusServiceUnavailable, statusFail},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.handler.HealthReady(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, ожидался %d", rec.Code, tt.wantCode)
			}
			if got := decode[struct {
				Status string `json:"status"`
			}](t, rec).Status; got != tt.wantStatus {
				t.Errorf("status = %q, ожидался %q", got, tt.wantStatus)
			}
		})
	}
}

func TestAuth_Scopes(t *testing.T) {
	ta := newTestAPI(t, true)
	reader := ta.token(t, "viewer", "openid")
	writer := ta.token(t, "scanner", middleware.ScopeWrite)
	admin := ta.token(t, "archivist", middleware.ScopeWrite+" "+middleware.ScopeAdmin)

	// Без токена — 401
	if rec := ta.doJSON(http.MethodGet, "/api/v1/records", "", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("без токена: %d", rec.Code)
	}

	// Чтение доступно любому аутентифицированному
	if rec := ta.doJSON(http.MethodGet, "/api/v1/records", "", reader); rec.Code != http.StatusOK {
		t.Errorf("чтение: %d", rec.Code)
	}

	// Создание требует archive:write
	rec := ta.doJSON(http.MethodPost, "/api/v1/records", `{"patient_id":"P-9"}`, reader)
	if rec.Code != http.StatusForbidden {
		t.Errorf("создание без scope: %d", rec.Code)
	}
	id := ta.createRecord(t, writer)

	// Удаление требует archive:admin
	if rec = ta.doJSON(http.MethodDelete, "/api/v1/records/"+id, "", writer); rec.Code != http.StatusForbidden {
		t.Errorf("удаление с archive:write: %d", rec.Code)
	}
	if rec = ta.doJSON(http.MethodPost, "/api/v1/maintenance/reconcile", "", writer); rec.Code != http.StatusForbidden {
		t.Errorf("reconcile с archive:write: %d", rec.Code)
	}
	auditPath := "/api/v1/audit?entity_type=medical_record&entity_id=" + id
	if rec = ta.doJSON(http.MethodGet, auditPath, "", writer); rec.Code != http.StatusForbidden {
		t.Errorf("журнал аудита с archive:write: %d", rec.Code)
	}
	if rec = ta.doJSON(http.MethodGet, auditPath, "", admin); rec.Code != http.StatusOK {
		t.Errorf("журнал аудита с archive:admin: %d %s", rec.Code, rec.Body.String())
	}
	if rec = ta.doJSON(http.MethodDelete, "/api/v1/records/"+id, "", admin); rec.Code != http.StatusNoContent {
		t.Errorf("удаление с archive:admin: %d %s", rec.Code, rec.Body.String())
	}

	// sub из токена попадает в журнал аудита
	found := false
	for _, e := range ta.mem.AuditEntries() {
		if e.ActorID != nil && *e.ActorID == "scanner" {
			found = true
		}
	}
	if !found {
		t.Error("в журнале аудита нет записи с actor scanner")
	}
}

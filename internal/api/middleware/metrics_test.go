package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/health/live", "/health/live"},
		{"/api/v1/documents", "/api/v1/documents"},
		{"/api/v1/documents/a1b2c3d4-e5f6-7890-abcd-ef1234567890", "/api/v1/documents/{id}"},
		{"/api/v1/documents/a1b2c3d4-e5f6-7890-abcd-ef1234567890/download", "/api/v1/documents/{id}/download"},
		{"/api/v1/records/a1b2c3d4-e5f6-7890-abcd-ef1234567890/checklist/status", "/api/v1/records/{id}/checklist/status"},
		{"/api/v1/documents/not-a-uuid", "/api/v1/documents/not-a-uuid"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := normalizePath(tt.path); got != tt.want {
				t.Errorf("normalizePath(%q) = %q, ожидалось %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestRoutePattern_Chi(t *testing.T) {
	var got string
	r := chi.NewRouter()
	r.Get("/api/v1/documents/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	// Шаблон читается после обработки, как в MetricsMiddleware
	wrapped := http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		r.ServeHTTP(w, req)
		got = routePattern(req)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/documents/some-id", nil)
	wrapped.ServeHTTP(httptest.NewRecorder(), req)

	// Вне chi.Router контекст маршрута создаётся роутером внутри,
	// поэтому снаружи используется нормализация пути
	if got != "/api/v1/documents/some-id" {
		t.Errorf("routePattern = %q", got)
	}
}

func TestMetricsMiddleware_InsideRouter(t *testing.T) {
	r := chi.NewRouter()
	r.Use(MetricsMiddleware())
	r.Get("/api/v1/records/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/records/abc", nil))

	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d, ожидался %d", rec.Code, http.StatusTeapot)
	}
}

func TestRequestLogger(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantLevel string
	}{
		{name: "успех", status: http.StatusOK, wantLevel: "level=INFO"},
		{name: "ошибка клиента", status: http.StatusNotFound, wantLevel: "level=WARN"},
		{name: "ошибка сервера", status: http.StatusServiceUnavailable, wantLevel: "level=ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&buf, nil))

			handler := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte("hello"))
			}))
			handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/records", nil))

			out := buf.String()
			if !strings.Contains(out, tt.wantLevel) {
				t.Errorf("лог %q не содержит %q", out, tt.wantLevel)
			}
			if !strings.Contains(out, "bytes=5") {
				t.Errorf("лог %q не содержит размер ответа", out)
			}
			if !strings.Contains(out, "component=http") {
				t.Errorf("лог %q не содержит component", out)
			}
		})
	}
}

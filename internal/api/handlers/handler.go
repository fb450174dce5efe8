// handler.go — APIHandler собирает доменные handlers и регистрирует
// маршруты medarchive в chi-роутере.
package handlers

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/medarchive/internal/api/errors"
	"github.com/bigkaa/medarchive/internal/api/middleware"
	"github.com/bigkaa/medarchive/internal/domain/model"
	"github.com/bigkaa/medarchive/internal/service"
)

// maxJSONBody — ограничение тела JSON-запросов.
const maxJSONBody = 1 << 20

// APIHandler — единая точка регистрации всех доменных handlers.
type APIHandler struct {
	documents   *DocumentsHandler
	records     *RecordsHandler
	checklists  *ChecklistHandler
	system      *SystemHandler
	maintenance *MaintenanceHandler
	audit       *AuditHandler
	health      *HealthHandler
}

// NewAPIHandler создаёт единый handler для всех endpoints.
func NewAPIHandler(
	documents *DocumentsHandler,
	records *RecordsHandler,
	checklists *ChecklistHandler,
	system *SystemHandler,
	maintenance *MaintenanceHandler,
	audit *AuditHandler,
	health *HealthHandler,
) *APIHandler {
	return &APIHandler{
		documents:   documents,
		records:     records,
		checklists:  checklists,
		system:      system,
		maintenance: maintenance,
		audit:       audit,
		health:      health,
	}
}

// Routes регистрирует маршруты. auth == nil — аутентификация отключена
// (dev-режим): scopes не проверяются, actor в аудите пустой.
func (h *APIHandler) Routes(r chi.Router, auth func(http.Handler) http.Handler) {
	r.Get("/health/live", h.health.HealthLive)
	r.Get("/health/ready", h.health.HealthReady)

	write := requireScope(auth, middleware.ScopeWrite)
	admin := requireScope(auth, middleware.ScopeAdmin)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/info", h.system.GetInfo)

		r.Group(func(r chi.Router) {
			if auth != nil {
				r.Use(auth)
			}

			r.Route("/documents", func(r chi.Router) {
				r.With(write).Post("/", h.documents.Upload)
				r.Get("/", h.documents.List)
				r.Get("/{id}", h.documents.Get)
				r.Get("/{id}/download", h.documents.Download)
				r.Get("/{id}/verify", h.documents.Verify)
				r.With(admin).Delete("/{id}", h.documents.Delete)
			})

			r.Route("/records", func(r chi.Router) {
				r.With(write).Post("/", h.records.Create)
				r.Get("/", h.records.List)
				r.Get("/{id}", h.records.Get)
				r.With(write).Patch("/{id}", h.records.Update)
				r.With(admin).Delete("/{id}", h.records.Delete)

				r.Get("/{id}/checklist", h.checklists.Get)
				r.With(write).Put("/{id}/checklist", h.checklists.Upsert)
				r.Get("/{id}/checklist/status", h.checklists.Status)
			})

			r.Get("/checklist/requirements", h.checklists.Requirements)

			r.With(admin).Post("/maintenance/reconcile", h.maintenance.Reconcile)
			r.With(admin).Get("/audit", h.audit.List)
		})
	})
}

// requireScope возвращает проверку scope или пустой middleware без аутентификации.
func requireScope(auth func(http.Handler) http.Handler, scope string) func(http.Handler) http.Handler {
	if auth == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return middleware.RequireScope(scope)
}

// actorFrom собирает инициатора операции: sub из JWT, адрес и User-Agent.
func actorFrom(r *http.Request) service.Actor {
	addr := r.RemoteAddr
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	return service.Actor{
		ID: middleware.SubjectFromContext(r.Context()),
		Origin: model.Origin{
			Address:    addr,
			ClientInfo: r.UserAgent(),
		},
	}
}

// listResponse — страница списка.
type listResponse[T any] struct {
	Items  []T `json:"items"`
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

func newListResponse[T any](items []T, total, limit, offset int) listResponse[T] {
	if items == nil {
		items = []T{}
	}
	return listResponse[T]{Items: items, Total: total, Limit: limit, Offset: offset}
}

// pagination разбирает limit и offset. Границы проверяет сервисный слой.
func pagination(r *http.Request) (limit, offset int, err error) {
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil {
			return 0, 0, fmt.Errorf("limit: ожидается целое число")
		}
	}
	if v := q.Get("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil {
			return 0, 0, fmt.Errorf("offset: ожидается целое число")
		}
	}
	return limit, offset, nil
}

// decodeJSON читает тело запроса в dst. Неизвестные поля — ошибка.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		apierrors.ValidationError(w, "Некорректное тело запроса: "+err.Error())
		return false
	}
	return true
}

// writeJSON вспомогательная функция для записи JSON-ответа.
func writeJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

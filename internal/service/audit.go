// audit.go — журнал аудита: одна неизменяемая запись на действие.
package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/medarchive/internal/domain/model"
	"github.com/bigkaa/medarchive/internal/repository"
)

var (
	auditEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ma_audit_events_total",
		Help: "Количество записанных событий аудита по действию",
	}, []string{"action"})

	auditWriteFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ma_audit_write_failures_total",
		Help: "Количество неудачных записей в журнал аудита",
	})
)

// auditWriteTimeout — ограничение на запись одной записи аудита.
// Запись идёт в горутине запроса: недоступный журнал задерживает ответ не больше чем на это время.
const auditWriteTimeout = time.Second

// Actor — инициатор операции: sub из JWT и источник запроса.
// Пустой ID — анонимный или системный вызов.
type Actor struct {
	ID     string
	Origin model.Origin
}

// AuditEvent — событие для журнала аудита.
type AuditEvent struct {
	// ActorID — пустая строка для системных и анонимных событий
	ActorID    string
	Action     model.AuditAction
	EntityType model.EntityType
	// EntityID — пустая строка, если сущность не определена
	EntityID string
	// Details сериализуется в JSON. nil — без деталей.
	Details any
	Origin  model.Origin
}

// AuditRecorder пишет события аудита. Ошибки записи не возвращаются
// вызывающему: они логируются и учитываются в ma_audit_write_failures_total.
type AuditRecorder struct {
	repo   repository.AuditRepository
	now    func() time.Time
	logger *slog.Logger
}

// NewAuditRecorder создаёт AuditRecorder.
func NewAuditRecorder(repo repository.AuditRepository, logger *slog.Logger) *AuditRecorder {
	return &AuditRecorder{
		repo:   repo,
		now:    time.Now,
		logger: logger.With(slog.String("component", "audit")),
	}
}

// Record добавляет запись в журнал. Отмена контекста запроса не прерывает запись.
func (a *AuditRecorder) Record(ctx context.Context, ev AuditEvent) {
	entry := &model.AuditEntry{
		ID:         uuid.New().String(),
		ActorID:    optional(ev.ActorID),
		Action:     ev.Action,
		EntityType: ev.EntityType,
		EntityID:   optional(ev.EntityID),
		Origin:     ev.Origin.Address,
		ClientInfo: ev.Origin.ClientInfo,
		CreatedAt:  a.now().UTC(),
	}

	if ev.Details != nil {
		details, err := json.Marshal(ev.Details)
		if err != nil {
			a.fail(ev, err)
			return
		}
		entry.Details = details
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditWriteTimeout)
	defer cancel()

	if err := a.repo.Insert(writeCtx, entry); err != nil {
		a.fail(ev, err)
		return
	}
	auditEventsTotal.WithLabelValues(string(ev.Action)).Inc()
}

// Entries возвращает записи журнала по сущности, новые первыми.
func (a *AuditRecorder) Entries(ctx context.Context, entityType model.EntityType, entityID string, limit int) ([]*model.AuditEntry, error) {
	if !knownEntityType(entityType) {
		return nil, invalid("entity_type", "неизвестный тип сущности %q", entityType)
	}
	if entityID == "" {
		return nil, invalid("entity_id", "обязательный параметр")
	}
	limit, _ = PageBounds(limit, 0)

	entries, err := a.repo.ListByEntity(ctx, entityType, entityID, limit)
	if err != nil {
		return nil, ioFailure("чтение журнала аудита", err)
	}
	if entries == nil {
		entries = []*model.AuditEntry{}
	}
	return entries, nil
}

func knownEntityType(t model.EntityType) bool {
	switch t {
	case model.EntityUser, model.EntityPatient, model.EntityMedicalRecord,
		model.EntityDocument, model.EntityChecklist:
		return true
	}
	return false
}

func (a *AuditRecorder) fail(ev AuditEvent, err error) {
	auditWriteFailuresTotal.Inc()
	a.logger.Error("Ошибка записи в журнал аудита",
		slog.String("action", string(ev.Action)),
		slog.String("entity_type", string(ev.EntityType)),
		slog.String("entity_id", ev.EntityID),
		slog.String("actor_id", ev.ActorID),
		slog.String("error", err.Error()),
	)
}

// event заполняет инициатора и источник события.
func (a Actor) event(action model.AuditAction, entity model.EntityType, entityID string, details any) AuditEvent {
	return AuditEvent{
		ActorID:    a.ID,
		Action:     action,
		EntityType: entity,
		EntityID:   entityID,
		Details:    details,
		Origin:     a.Origin,
	}
}

// optional возвращает nil для пустой строки.
func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

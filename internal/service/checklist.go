// checklist.go — чек-лист соответствия карты.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/medarchive/internal/domain/checklist"
	"github.com/bigkaa/medarchive/internal/domain/model"
	"github.com/bigkaa/medarchive/internal/repository"
)

var checklistTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ma_checklist_transitions_total",
	Help: "Переходы чек-листов между состояниями (completed, revoked)",
}, []string{"transition"})

// hashItems — пункты, подтверждающие наличие digest. Отметить их можно
// только при наличии у карты сохранённых документов.
var hashItems = []checklist.Item{checklist.ItemIntegrityHash, checklist.ItemFileHash}

// ChecklistService — сервис чек-листов.
type ChecklistService struct {
	store  repository.Store
	audit  *AuditRecorder
	now    func() time.Time
	logger *slog.Logger
}

// NewChecklistService создаёт сервис чек-листов.
func NewChecklistService(store repository.Store, audit *AuditRecorder, logger *slog.Logger) *ChecklistService {
	return &ChecklistService{
		store:  store,
		audit:  audit,
		now:    time.Now,
		logger: logger.With(slog.String("component", "checklist_service")),
	}
}

// Upsert применяет изменения к чек-листу карты, создавая его при отсутствии.
// Метка завершения пересчитывается при каждом изменении.
func (s *ChecklistService) Upsert(ctx context.Context, actor Actor, recordID string, u checklist.Update) (*checklist.Checklist, error) {
	if !validID(recordID) {
		return nil, &NotFoundError{Entity: "medical_record", ID: recordID}
	}
	if err := u.Validate(); err != nil {
		return nil, invalid("items", "%v", err)
	}

	var (
		result *checklist.Checklist
		before checklist.State
	)
	err := s.store.InTx(ctx, func(r repository.Repos) error {
		if _, err := r.Records().GetForUpdate(ctx, recordID); err != nil {
			return err
		}

		now := s.now().UTC()
		c, err := r.Checklists().GetForUpdate(ctx, recordID)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			c = checklist.New(recordID, now)
		case err != nil:
			return err
		}
		before = c.State()

		if err := requireDocuments(ctx, r, recordID, u); err != nil {
			return err
		}
		if err := c.Apply(u, actor.ID, now); err != nil {
			return invalid("items", "%v", err)
		}
		if err := r.Checklists().Save(ctx, c); err != nil {
			return err
		}
		result = c
		return nil
	})
	if err != nil {
		var verr *ValidationError
		switch {
		case errors.As(err, &verr):
			return nil, verr
		case errors.Is(err, repository.ErrNotFound), errors.Is(err, repository.ErrForeignKey):
			return nil, &NotFoundError{Entity: "medical_record", ID: recordID}
		default:
			return nil, ioFailure("save_checklist", err)
		}
	}

	after := result.State()
	switch {
	case before != checklist.StateComplete && after == checklist.StateComplete:
		checklistTransitionsTotal.WithLabelValues("completed").Inc()
		s.logger.Info("Чек-лист завершён",
			slog.String("record_id", recordID),
			slog.String("actor_id", actor.ID),
		)
	case before == checklist.StateComplete && after != checklist.StateComplete:
		checklistTransitionsTotal.WithLabelValues("revoked").Inc()
		s.logger.Info("Завершение чек-листа отозвано",
			slog.String("record_id", recordID),
			slog.String("actor_id", actor.ID),
		)
	}

	s.audit.Record(ctx, actor.event(model.ActionUpdate, model.EntityChecklist, recordID, map[string]any{
		"items": u.Items,
		"state": after,
	}))
	return result, nil
}

// requireDocuments проверяет, что пункты о digest отмечаются только
// для карты с сохранёнными документами.
func requireDocuments(ctx context.Context, r repository.Repos, recordID string, u checklist.Update) error {
	for _, item := range hashItems {
		if !u.Items[item] {
			continue
		}
		n, err := r.Documents().Count(ctx, model.DocumentFilter{RecordID: recordID})
		if err != nil {
			return err
		}
		if n == 0 {
			return invalid("items", "пункт %s требует хотя бы одного сохранённого документа", item)
		}
		return nil
	}
	return nil
}

// Get возвращает чек-лист карты.
func (s *ChecklistService) Get(ctx context.Context, actor Actor, recordID string) (*checklist.Checklist, error) {
	if err := s.recordExists(ctx, recordID); err != nil {
		return nil, err
	}
	c, err := s.store.Checklists().Get(ctx, recordID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, &NotFoundError{Entity: "checklist", ID: recordID}
		}
		return nil, ioFailure("load_checklist", err)
	}
	s.audit.Record(ctx, actor.event(model.ActionRead, model.EntityChecklist, recordID, nil))
	return c, nil
}

// Status возвращает сводку прогресса чек-листа. Отсутствующий чек-лист —
// Exists=false и нулевой прогресс.
func (s *ChecklistService) Status(ctx context.Context, actor Actor, recordID string) (checklist.Status, error) {
	if err := s.recordExists(ctx, recordID); err != nil {
		return checklist.Status{}, err
	}
	status, err := s.status(ctx, recordID)
	if err != nil {
		return checklist.Status{}, err
	}
	s.audit.Record(ctx, actor.event(model.ActionRead, model.EntityChecklist, recordID, map[string]any{
		"operation": "status",
	}))
	return status, nil
}

// Requirements возвращает каталог требований, сгруппированный по категориям.
func (s *ChecklistService) Requirements() []checklist.Group {
	return checklist.Groups()
}

// status — сводка без аудита, для карточки карты.
func (s *ChecklistService) status(ctx context.Context, recordID string) (checklist.Status, error) {
	c, err := s.store.Checklists().Get(ctx, recordID)
	if errors.Is(err, repository.ErrNotFound) {
		return checklist.StatusOf(nil), nil
	}
	if err != nil {
		return checklist.Status{}, ioFailure("load_checklist", err)
	}
	return checklist.StatusOf(c), nil
}

func (s *ChecklistService) recordExists(ctx context.Context, recordID string) error {
	if !validID(recordID) {
		return &NotFoundError{Entity: "medical_record", ID: recordID}
	}
	if _, err := s.store.Records().GetByID(ctx, recordID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return &NotFoundError{Entity: "medical_record", ID: recordID}
		}
		return ioFailure("load_record", err)
	}
	return nil
}

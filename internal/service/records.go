// records.go — медицинские карты: создание, чтение, изменение и
// каскадное удаление с документами и чек-листом.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/medarchive/internal/config"
	"github.com/bigkaa/medarchive/internal/domain/checklist"
	"github.com/bigkaa/medarchive/internal/domain/model"
	"github.com/bigkaa/medarchive/internal/domain/retention"
	"github.com/bigkaa/medarchive/internal/repository"
)

// CreateRecordInput — новая карта.
type CreateRecordInput struct {
	PatientID   string `json:"patient_id" validate:"required,max=255"`
	Description string `json:"description" validate:"max=2000"`
	// StartDate по умолчанию — текущее время
	StartDate *time.Time `json:"start_date"`
	// LastActivityDate по умолчанию — текущее время
	LastActivityDate *time.Time `json:"last_activity_date"`
	HistoricalValue  bool       `json:"historical_value"`
	Status           string     `json:"status" validate:"omitempty,oneof=active archived pending_review"`
}

// UpdateRecordInput — частичное изменение карты. nil — поле не меняется.
type UpdateRecordInput struct {
	Description      *string    `json:"description" validate:"omitempty,max=2000"`
	StartDate        *time.Time `json:"start_date"`
	LastActivityDate *time.Time `json:"last_activity_date"`
	HistoricalValue  *bool      `json:"historical_value"`
	Status           *string    `json:"status" validate:"omitempty,oneof=active archived pending_review"`
}

// RecordView — карта с документами и сводкой чек-листа.
type RecordView struct {
	*model.MedicalRecord
	Documents []*model.Document `json:"documents"`
	Checklist checklist.Status  `json:"checklist"`
}

// RecordService — сервис медицинских карт.
type RecordService struct {
	store      repository.Store
	content    *ContentStore
	checklists *ChecklistService
	audit      *AuditRecorder
	retention  retention.Calculator
	now        func() time.Time
	logger     *slog.Logger
}

// NewRecordService создаёт сервис карт.
func NewRecordService(
	cfg *config.Config,
	store repository.Store,
	content *ContentStore,
	checklists *ChecklistService,
	audit *AuditRecorder,
	logger *slog.Logger,
) *RecordService {
	return &RecordService{
		store:      store,
		content:    content,
		checklists: checklists,
		audit:      audit,
		retention:  retention.NewCalculator(cfg.RetentionYears),
		now:        time.Now,
		logger:     logger.With(slog.String("component", "record_service")),
	}
}

// Create создаёт карту. Срок хранения вычисляется от даты последней активности.
func (s *RecordService) Create(ctx context.Context, actor Actor, in CreateRecordInput) (*model.MedicalRecord, error) {
	if err := validateStruct(in); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	rec := &model.MedicalRecord{
		ID:               uuid.New().String(),
		PatientID:        in.PatientID,
		Description:      in.Description,
		StartDate:        valueOr(in.StartDate, now),
		LastActivityDate: valueOr(in.LastActivityDate, now),
		HistoricalValue:  in.HistoricalValue,
		Status:           model.RecordActive,
		CreatedBy:        actor.ID,
	}
	if in.Status != "" {
		rec.Status = model.RecordStatus(in.Status)
	}
	rec.RetentionExpiry = s.retention.ExpiryOf(rec.LastActivityDate)

	if err := s.store.Records().Create(ctx, rec); err != nil {
		return nil, ioFailure("create_record", err)
	}

	s.audit.Record(ctx, actor.event(model.ActionCreate, model.EntityMedicalRecord, rec.ID, map[string]any{
		"patient_id": rec.PatientID,
	}))
	s.logger.Info("Карта создана",
		slog.String("record_id", rec.ID),
		slog.String("patient_id", rec.PatientID),
	)
	return rec, nil
}

// Get возвращает карту с документами и сводкой чек-листа.
func (s *RecordService) Get(ctx context.Context, actor Actor, id string) (*RecordView, error) {
	rec, err := s.load(ctx, s.store, id)
	if err != nil {
		return nil, err
	}

	docs, err := s.store.Documents().List(ctx, model.DocumentFilter{RecordID: id}, 0, 0)
	if err != nil {
		return nil, ioFailure("list_documents", err)
	}
	if docs == nil {
		docs = []*model.Document{}
	}
	status, err := s.checklists.status(ctx, id)
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, actor.event(model.ActionRead, model.EntityMedicalRecord, id, nil))
	return &RecordView{MedicalRecord: rec, Documents: docs, Checklist: status}, nil
}

// Update изменяет карту. Изменение даты последней активности
// пересчитывает срок хранения.
func (s *RecordService) Update(ctx context.Context, actor Actor, id string, in UpdateRecordInput) (*model.MedicalRecord, error) {
	if err := validateStruct(in); err != nil {
		return nil, err
	}

	var rec *model.MedicalRecord
	err := s.store.InTx(ctx, func(r repository.Repos) error {
		var err error
		if rec, err = s.loadForUpdate(ctx, r, id); err != nil {
			return err
		}

		if in.Description != nil {
			rec.Description = *in.Description
		}
		if in.StartDate != nil {
			rec.StartDate = *in.StartDate
		}
		if in.LastActivityDate != nil {
			rec.LastActivityDate = *in.LastActivityDate
		}
		if in.HistoricalValue != nil {
			rec.HistoricalValue = *in.HistoricalValue
		}
		if in.Status != nil {
			rec.Status = model.RecordStatus(*in.Status)
		}
		rec.RetentionExpiry = s.retention.ExpiryOf(rec.LastActivityDate)

		if err := r.Records().Update(ctx, rec); err != nil {
			return ioFailure("update_record", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, actor.event(model.ActionUpdate, model.EntityMedicalRecord, id, in))
	return rec, nil
}

// Delete удаляет карту вместе с документами и чек-листом в одной транзакции,
// затем удаляет файлы документов.
func (s *RecordService) Delete(ctx context.Context, actor Actor, id string) error {
	var docs []*model.Document
	err := s.store.InTx(ctx, func(r repository.Repos) error {
		if _, err := s.loadForUpdate(ctx, r, id); err != nil {
			return err
		}

		var err error
		if docs, err = r.Documents().DeleteByRecord(ctx, id); err != nil {
			return ioFailure("delete_documents", err)
		}
		if err := r.Checklists().Delete(ctx, id); err != nil {
			return ioFailure("delete_checklist", err)
		}
		if err := r.Records().Delete(ctx, id); err != nil {
			return ioFailure("delete_record", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.content.RemoveBlobs(ctx, docs)

	s.audit.Record(ctx, actor.event(model.ActionDelete, model.EntityMedicalRecord, id, map[string]any{
		"documents": len(docs),
	}))
	s.logger.Info("Карта удалена",
		slog.String("record_id", id),
		slog.Int("documents", len(docs)),
	)
	return nil
}

// List возвращает страницу карт и общее количество по фильтру.
func (s *RecordService) List(ctx context.Context, filter model.RecordFilter, limit, offset int) ([]*model.MedicalRecord, int, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, 0, invalid("status", "недопустимый статус %q", filter.Status)
	}
	limit, offset = PageBounds(limit, offset)

	recs, err := s.store.Records().List(ctx, filter, limit, offset)
	if err != nil {
		return nil, 0, ioFailure("list_records", err)
	}
	total, err := s.store.Records().Count(ctx, filter)
	if err != nil {
		return nil, 0, ioFailure("count_records", err)
	}
	return recs, total, nil
}

func (s *RecordService) load(ctx context.Context, r repository.Repos, id string) (*model.MedicalRecord, error) {
	if !validID(id) {
		return nil, &NotFoundError{Entity: "medical_record", ID: id}
	}
	rec, err := r.Records().GetByID(ctx, id)
	return rec, recordError(id, err)
}

func (s *RecordService) loadForUpdate(ctx context.Context, r repository.Repos, id string) (*model.MedicalRecord, error) {
	if !validID(id) {
		return nil, &NotFoundError{Entity: "medical_record", ID: id}
	}
	rec, err := r.Records().GetForUpdate(ctx, id)
	return rec, recordError(id, err)
}

func recordError(id string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return &NotFoundError{Entity: "medical_record", ID: id}
	default:
		return ioFailure("load_record", err)
	}
}

func valueOr(t *time.Time, def time.Time) time.Time {
	if t == nil {
		return def
	}
	return *t
}

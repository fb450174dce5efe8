package service

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/medarchive/internal/domain/checklist"
	"github.com/bigkaa/medarchive/internal/domain/model"
)

func newRecordService(env *testEnv) *RecordService {
	checklists := NewChecklistService(env.mem, env.audit, env.logger)
	return NewRecordService(env.cfg, env.mem, env.content, checklists, env.audit, env.logger)
}

// TestRecordService_Create проверяет значения по умолчанию и срок хранения.
func TestRecordService_Create(t *testing.T) {
	env := newTestEnv(t)
	svc := newRecordService(env)

	now := time.Date(2024, 2, 29, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	rec, err := svc.Create(context.Background(), Actor{ID: "clerk"}, CreateRecordInput{PatientID: "P-0001"})
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != model.RecordActive || !rec.StartDate.Equal(now) || !rec.LastActivityDate.Equal(now) {
		t.Errorf("значения по умолчанию: %+v", rec)
	}
	want := time.Date(2044, 2, 29, 12, 0, 0, 0, time.UTC)
	if rec.RetentionExpiry == nil || !rec.RetentionExpiry.Equal(want) {
		t.Errorf("RetentionExpiry = %v, ожидалось %v", rec.RetentionExpiry, want)
	}
	if rec.CreatedBy != "clerk" {
		t.Errorf("CreatedBy = %q", rec.CreatedBy)
	}

	activity := time.Date(2010, 7, 1, 0, 0, 0, 0, time.UTC)
	rec, err = svc.Create(context.Background(), Actor{}, CreateRecordInput{
		PatientID:        "P-0002",
		LastActivityDate: &activity,
		Status:           "archived",
	})
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != model.RecordArchived || !rec.RetentionExpiry.Equal(time.Date(2030, 7, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("карта с датой активности: %+v", rec)
	}

	for _, in := range []CreateRecordInput{{}, {PatientID: "P", Status: "closed"}} {
		if _, err := svc.Create(context.Background(), Actor{}, in); !errors.Is(err, ErrValidation) {
			t.Errorf("%+v: ожидался ErrValidation, получено %v", in, err)
		}
	}

	want2 := []model.AuditAction{model.ActionCreate, model.ActionCreate}
	if got := env.auditActions(); !slices.Equal(got, want2) {
		t.Errorf("журнал аудита: %v", got)
	}
}

// TestRecordService_UpdateRecomputesExpiry — срок хранения следует за активностью.
func TestRecordService_UpdateRecomputesExpiry(t *testing.T) {
	env := newTestEnv(t)
	svc := newRecordService(env)
	rec := env.newRecord(t)

	activity := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	desc := "Revisado"
	status := "pending_review"
	updated, err := svc.Update(context.Background(), Actor{ID: "clerk"}, rec.ID, UpdateRecordInput{
		Description:      &desc,
		LastActivityDate: &activity,
		Status:           &status,
	})
	if err != nil {
		t.Fatal(err)
	}
	if updated.Description != desc || updated.Status != model.RecordPendingReview {
		t.Errorf("Update: %+v", updated)
	}
	if !updated.RetentionExpiry.Equal(time.Date(2044, 3, 15, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("RetentionExpiry = %v", updated.RetentionExpiry)
	}
	if updated.PatientID != rec.PatientID {
		t.Error("непереданные поля не меняются")
	}

	bad := "closed"
	if _, err := svc.Update(context.Background(), Actor{}, rec.ID, UpdateRecordInput{Status: &bad}); !errors.Is(err, ErrValidation) {
		t.Errorf("недопустимый статус: %v", err)
	}
	if _, err := svc.Update(context.Background(), Actor{}, uuid.New().String(), UpdateRecordInput{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("несуществующая карта: %v", err)
	}
}

// TestRecordService_GetView — карта с документами и сводкой чек-листа.
func TestRecordService_GetView(t *testing.T) {
	env := newTestEnv(t)
	svc := newRecordService(env)
	rec := env.newRecord(t)
	env.mustStore(t, rec.ID, "a")
	env.mustStore(t, rec.ID, "b")

	if _, err := svc.checklists.Upsert(context.Background(), Actor{}, rec.ID, checklist.Update{
		Items: checklist.Items{checklist.ItemLegible: true},
	}); err != nil {
		t.Fatal(err)
	}

	view, err := svc.Get(context.Background(), Actor{ID: "doctor"}, rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if view.ID != rec.ID || len(view.Documents) != 2 {
		t.Errorf("карта %s, документов %d", view.ID, len(view.Documents))
	}
	if !view.Checklist.Exists || view.Checklist.CompletedCount != 1 {
		t.Errorf("сводка чек-листа: %+v", view.Checklist)
	}

	last := env.mem.AuditEntries()[len(env.mem.AuditEntries())-1]
	if last.Action != model.ActionRead || last.EntityType != model.EntityMedicalRecord {
		t.Errorf("последнее событие: %s %s", last.Action, last.EntityType)
	}

	if _, err := svc.Get(context.Background(), Actor{}, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ожидался ErrNotFound, получено %v", err)
	}
}

// TestRecordService_DeleteCascade — карта удаляется с документами, чек-листом и файлами.
func TestRecordService_DeleteCascade(t *testing.T) {
	env := newTestEnv(t)
	svc := newRecordService(env)
	rec := env.newRecord(t)
	other := env.newRecord(t)
	ctx := context.Background()

	d1 := env.mustStore(t, rec.ID, "first")
	d2 := env.mustStore(t, rec.ID, "second")
	kept := env.mustStore(t, other.ID, "other")
	if _, err := svc.checklists.Upsert(ctx, Actor{}, rec.ID, checklist.Update{
		Items: checklist.Items{checklist.ItemBackup: true},
	}); err != nil {
		t.Fatal(err)
	}

	if err := svc.Delete(ctx, Actor{ID: "admin"}, rec.ID); err != nil {
		t.Fatal(err)
	}

	if _, err := env.mem.Records().GetByID(ctx, rec.ID); err == nil {
		t.Error("карта должна быть удалена")
	}
	if _, err := env.mem.Checklists().Get(ctx, rec.ID); err == nil {
		t.Error("чек-лист должен быть удалён")
	}
	for _, d := range []*model.Document{d1, d2} {
		if _, err := env.mem.Documents().GetByID(ctx, d.ID); err == nil {
			t.Errorf("документ %s должен быть удалён", d.ID)
		}
		if env.files.Exists(d.StoragePath) {
			t.Errorf("файл %s должен быть удалён", d.StoragePath)
		}
	}
	if !env.files.Exists(kept.StoragePath) {
		t.Error("документы другой карты не затрагиваются")
	}

	if err := svc.Delete(ctx, Actor{}, rec.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("повторное удаление: %v", err)
	}
}

// TestRecordService_List проверяет фильтр по статусу.
func TestRecordService_List(t *testing.T) {
	env := newTestEnv(t)
	svc := newRecordService(env)
	env.newRecord(t)
	env.newRecord(t)

	recs, total, err := svc.List(context.Background(), model.RecordFilter{Status: model.RecordActive}, 0, 0)
	if err != nil || total != 2 || len(recs) != 2 {
		t.Errorf("List: %d/%d, %v", len(recs), total, err)
	}
	if _, _, err := svc.List(context.Background(), model.RecordFilter{Status: "closed"}, 0, 0); !errors.Is(err, ErrValidation) {
		t.Errorf("недопустимый статус: %v", err)
	}
}

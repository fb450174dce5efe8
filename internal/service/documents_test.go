package service

import (
	"context"
	"errors"
	"io"
	"slices"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/bigkaa/medarchive/internal/domain/model"
)

// recordingEnricher запоминает документы, поставленные в очередь.
type recordingEnricher struct {
	mu   sync.Mutex
	docs []string
}

func (r *recordingEnricher) Enqueue(doc *model.Document) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs = append(r.docs, doc.ID)
}

func newDocumentService(env *testEnv, enricher DocumentEnricher) *DocumentService {
	return NewDocumentService(env.content, env.mem, env.audit, enricher, env.logger)
}

// TestDocumentService_AuditTrail — одно событие аудита на успешную операцию.
func TestDocumentService_AuditTrail(t *testing.T) {
	env := newTestEnv(t)
	rec := env.newRecord(t)
	enricher := &recordingEnricher{}
	svc := newDocumentService(env, enricher)
	actor := Actor{ID: "user-1", Origin: model.Origin{Address: "127.0.0.1"}}
	ctx := context.Background()

	doc, err := svc.Upload(ctx, actor, StoreInput{
		RecordID:         rec.ID,
		OriginalFilename: "scan.png",
		MimeType:         "image/png",
		Reader:           stringsReader("png bytes"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if doc.UploadedBy != "user-1" {
		t.Errorf("UploadedBy = %q", doc.UploadedBy)
	}
	if !slices.Equal(enricher.docs, []string{doc.ID}) {
		t.Errorf("в очередь обогащения поставлено %v", enricher.docs)
	}

	blob, err := svc.Download(ctx, actor, doc.ID)
	if err != nil {
		t.Fatal(err)
	}
	io.Copy(io.Discard, blob.Content)
	blob.Content.Close()

	if _, err := svc.Verify(ctx, actor, doc.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Get(ctx, actor, doc.ID); err != nil {
		t.Fatal(err)
	}
	if err := svc.Delete(ctx, actor, doc.ID); err != nil {
		t.Fatal(err)
	}

	want := []model.AuditAction{
		model.ActionUpload, model.ActionDownload, model.ActionRead, model.ActionRead, model.ActionDelete,
	}
	if got := env.auditActions(); !slices.Equal(got, want) {
		t.Errorf("журнал аудита = %v, ожидалось %v", got, want)
	}
	for _, e := range env.mem.AuditEntries() {
		if e.EntityType != model.EntityDocument || e.EntityID == nil || *e.EntityID != doc.ID {
			t.Errorf("событие %s: сущность %s/%v", e.Action, e.EntityType, e.EntityID)
		}
		if e.ActorID == nil || *e.ActorID != "user-1" || e.Origin != "127.0.0.1" {
			t.Errorf("событие %s: актор %v, источник %q", e.Action, e.ActorID, e.Origin)
		}
	}
}

// TestDocumentService_NoAuditOnFailure — отказ не пишет событие.
func TestDocumentService_NoAuditOnFailure(t *testing.T) {
	env := newTestEnv(t)
	rec := env.newRecord(t)
	enricher := &recordingEnricher{}
	svc := newDocumentService(env, enricher)
	actor := Actor{ID: "user-1"}
	ctx := context.Background()

	if _, err := svc.Upload(ctx, actor, StoreInput{
		RecordID: rec.ID, OriginalFilename: "a.gif", MimeType: "image/gif", Reader: stringsReader("gif"),
	}); !errors.Is(err, ErrUnsupportedMediaType) {
		t.Fatalf("ожидался ErrUnsupportedMediaType, получено %v", err)
	}
	missing := uuid.New().String()
	if _, err := svc.Download(ctx, actor, missing); !errors.Is(err, ErrNotFound) {
		t.Fatalf("ожидался ErrNotFound, получено %v", err)
	}
	if err := svc.Delete(ctx, actor, missing); !errors.Is(err, ErrNotFound) {
		t.Fatalf("ожидался ErrNotFound, получено %v", err)
	}

	if n := len(env.mem.AuditEntries()); n != 0 {
		t.Errorf("при ошибках журнал должен быть пуст, записей: %d", n)
	}
	if len(enricher.docs) != 0 {
		t.Error("неудачная загрузка не ставится в очередь")
	}
}

// TestDocumentService_List проверяет фильтр и пагинацию.
func TestDocumentService_List(t *testing.T) {
	env := newTestEnv(t)
	r1 := env.newRecord(t)
	r2 := env.newRecord(t)
	svc := newDocumentService(env, nil)

	env.mustStore(t, r1.ID, "one")
	env.mustStore(t, r1.ID, "two")
	env.mustStore(t, r2.ID, "three")

	docs, total, err := svc.List(context.Background(), model.DocumentFilter{RecordID: r1.ID}, 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 || len(docs) != 1 || docs[0].RecordID != r1.ID {
		t.Errorf("List: total=%d, len=%d", total, len(docs))
	}

	if _, _, err := svc.List(context.Background(), model.DocumentFilter{RecordID: "bad"}, 0, 0); !errors.Is(err, ErrValidation) {
		t.Errorf("некорректный record_id: %v", err)
	}
	if _, _, err := svc.List(context.Background(), model.DocumentFilter{Category: "xray"}, 0, 0); !errors.Is(err, ErrValidation) {
		t.Errorf("некорректная категория: %v", err)
	}
}

// documents.go — операции с документами: загрузка, скачивание, проверка,
// удаление и чтение метаданных. Каждая успешная операция пишет одно
// событие аудита.
package service

import (
	"context"
	"log/slog"

	"github.com/bigkaa/medarchive/internal/domain/model"
	"github.com/bigkaa/medarchive/internal/repository"
)

// DocumentEnricher принимает сохранённый документ на фоновую обработку
// (OCR, резервное копирование). Не блокирует вызывающего.
type DocumentEnricher interface {
	Enqueue(doc *model.Document)
}

// DocumentService — сервис документов.
type DocumentService struct {
	content  *ContentStore
	store    repository.Store
	audit    *AuditRecorder
	enricher DocumentEnricher
	logger   *slog.Logger
}

// NewDocumentService создаёт сервис документов. enricher может быть nil.
func NewDocumentService(
	content *ContentStore,
	store repository.Store,
	audit *AuditRecorder,
	enricher DocumentEnricher,
	logger *slog.Logger,
) *DocumentService {
	return &DocumentService{
		content:  content,
		store:    store,
		audit:    audit,
		enricher: enricher,
		logger:   logger.With(slog.String("component", "document_service")),
	}
}

// Upload сохраняет документ и ставит его в очередь обогащения.
func (s *DocumentService) Upload(ctx context.Context, actor Actor, in StoreInput) (*model.Document, error) {
	in.ActorID = actor.ID
	doc, err := s.content.Store(ctx, in)
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, actor.event(model.ActionUpload, model.EntityDocument, doc.ID, map[string]any{
		"record_id": doc.RecordID,
		"filename":  doc.OriginalFilename,
		"digest":    doc.Digest,
		"size":      doc.Size,
	}))

	if s.enricher != nil {
		s.enricher.Enqueue(doc)
	}
	return doc, nil
}

// Download открывает файл документа. Вызывающий код закрывает Blob.Content.
func (s *DocumentService) Download(ctx context.Context, actor Actor, id string) (*Blob, error) {
	blob, err := s.content.Retrieve(ctx, id)
	if err != nil {
		return nil, err
	}
	s.audit.Record(ctx, actor.event(model.ActionDownload, model.EntityDocument, id, map[string]any{
		"record_id": blob.Document.RecordID,
	}))
	return blob, nil
}

// Verify проверяет целостность файла документа.
func (s *DocumentService) Verify(ctx context.Context, actor Actor, id string) (*IntegrityResult, error) {
	res, err := s.content.VerifyIntegrity(ctx, id)
	if err != nil {
		return nil, err
	}
	s.audit.Record(ctx, actor.event(model.ActionRead, model.EntityDocument, id, map[string]any{
		"operation": "verify",
		"valid":     res.Valid,
	}))
	return res, nil
}

// Delete удаляет документ.
func (s *DocumentService) Delete(ctx context.Context, actor Actor, id string) error {
	doc, err := s.content.Delete(ctx, id)
	if err != nil {
		return err
	}
	s.audit.Record(ctx, actor.event(model.ActionDelete, model.EntityDocument, id, map[string]any{
		"record_id": doc.RecordID,
		"digest":    doc.Digest,
	}))
	return nil
}

// Get возвращает метаданные документа.
func (s *DocumentService) Get(ctx context.Context, actor Actor, id string) (*model.Document, error) {
	doc, err := s.content.load(ctx, id)
	if err != nil {
		return nil, err
	}
	s.audit.Record(ctx, actor.event(model.ActionRead, model.EntityDocument, id, nil))
	return doc, nil
}

// List возвращает страницу документов и общее количество по фильтру.
func (s *DocumentService) List(ctx context.Context, filter model.DocumentFilter, limit, offset int) ([]*model.Document, int, error) {
	if filter.RecordID != "" && !validID(filter.RecordID) {
		return nil, 0, invalid("record_id", "ожидается UUID")
	}
	if _, ok := model.ParseCategory(string(filter.Category)); !ok {
		return nil, 0, invalid("category", "неизвестная категория %q", filter.Category)
	}
	limit, offset = PageBounds(limit, offset)

	docs, err := s.store.Documents().List(ctx, filter, limit, offset)
	if err != nil {
		return nil, 0, ioFailure("list_documents", err)
	}
	total, err := s.store.Documents().Count(ctx, filter)
	if err != nil {
		return nil, 0, ioFailure("count_documents", err)
	}
	return docs, total, nil
}

// enrichment.go — фоновая обработка сохранённых документов:
// распознавание текста и резервное копирование. Задачи ставятся в пул
// после фиксации загрузки и не влияют на её результат.
package service

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"time"

	"github.com/bigkaa/medarchive/internal/backup"
	"github.com/bigkaa/medarchive/internal/domain/model"
	"github.com/bigkaa/medarchive/internal/ocr"
	"github.com/bigkaa/medarchive/internal/repository"
	"github.com/bigkaa/medarchive/internal/storage/filestore"
	"github.com/bigkaa/medarchive/internal/worker"
)

// Имена фоновых задач (метка task в метриках пула).
const (
	TaskOCR    = "ocr"
	TaskBackup = "backup"
)

// BlobReplicator копирует содержимое документа во внешнее хранилище
// и удаляет копию вместе с документом.
type BlobReplicator interface {
	Upload(ctx context.Context, doc *model.Document, content io.Reader) error
	// Remove удаляет копию. Отсутствующая копия — не ошибка.
	Remove(ctx context.Context, doc *model.Document) error
}

// EnrichmentService ставит OCR и резервное копирование в пул воркеров.
type EnrichmentService struct {
	pool      *worker.Pool
	store     repository.Store
	files     *filestore.FileStore
	extractor ocr.Extractor
	replica   BlobReplicator
	now       func() time.Time
	logger    *slog.Logger
}

// NewEnrichmentService создаёт сервис. extractor и replica могут быть nil:
// соответствующая обработка отключена.
func NewEnrichmentService(
	pool *worker.Pool,
	store repository.Store,
	files *filestore.FileStore,
	extractor ocr.Extractor,
	replica BlobReplicator,
	logger *slog.Logger,
) *EnrichmentService {
	return &EnrichmentService{
		pool:      pool,
		store:     store,
		files:     files,
		extractor: extractor,
		replica:   replica,
		now:       time.Now,
		logger:    logger.With(slog.String("component", "enrichment")),
	}
}

// Enqueue ставит задачи для документа. Переполненная очередь отбрасывает задачу.
func (s *EnrichmentService) Enqueue(doc *model.Document) {
	id := doc.ID
	if s.extractor != nil && ocr.Eligible(doc.MimeType) {
		s.pool.Submit(worker.Task{Name: TaskOCR, Run: func(ctx context.Context) error {
			return s.RunOCR(ctx, id)
		}})
	}
	if s.replica != nil {
		s.pool.Submit(worker.Task{Name: TaskBackup, Run: func(ctx context.Context) error {
			return s.RunBackup(ctx, id)
		}})
	}
}

// RunOCR распознаёт текст документа и записывает его.
// Повторный запуск перезаписывает тот же текст. Удалённый документ пропускается.
func (s *EnrichmentService) RunOCR(ctx context.Context, id string) error {
	doc, ok, err := s.lookup(ctx, id)
	if !ok {
		return err
	}

	text, err := s.extractor.Extract(ctx, s.files.FullPath(doc.StoragePath))
	if err != nil {
		return err
	}

	if err := s.store.Documents().SetOCRText(ctx, id, text); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return err
	}
	s.logger.Info("Текст документа распознан",
		slog.String("document_id", id),
		slog.Int("chars", len(text)),
	)
	return nil
}

// RunBackup копирует файл документа и отмечает копию в document_backups.
// Если документ удалён во время копирования, копия удаляется.
func (s *EnrichmentService) RunBackup(ctx context.Context, id string) error {
	doc, ok, err := s.lookup(ctx, id)
	if !ok {
		return err
	}

	f, err := s.files.Open(doc.StoragePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("Файл документа отсутствует, копирование пропущено",
				slog.String("document_id", id),
				slog.String("storage_path", doc.StoragePath),
			)
			return nil
		}
		return err
	}
	defer f.Close()

	if err := s.replica.Upload(ctx, doc, f); err != nil {
		return err
	}

	err = s.store.Backups().MarkBackedUp(ctx, id, backup.ObjectKey(doc), s.now().UTC())
	if errors.Is(err, repository.ErrNotFound) {
		s.logger.Debug("Документ удалён во время копирования, копия удаляется",
			slog.String("document_id", id),
		)
		return s.replica.Remove(ctx, doc)
	}
	return err
}

// lookup возвращает документ. ok=false без ошибки — документ уже удалён.
func (s *EnrichmentService) lookup(ctx context.Context, id string) (*model.Document, bool, error) {
	doc, err := s.store.Documents().GetByID(ctx, id)
	switch {
	case err == nil:
		return doc, true, nil
	case errors.Is(err, repository.ErrNotFound):
		s.logger.Debug("Документ удалён до обработки", slog.String("document_id", id))
		return nil, false, nil
	default:
		return nil, false, err
	}
}

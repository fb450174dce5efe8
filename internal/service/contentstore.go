// contentstore.go — хранилище содержимого документов.
//
// Файл адресуется digest: одинаковые байты не сохраняются дважды,
// даже в разных картах. Точка фиксации — вставка метаданных в PostgreSQL:
// файл перемещается в каталог карты до вставки, и сбой между этими шагами
// оставляет осиротевший файл (его находит журнал или сверка), но никогда
// метаданные без файла.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"mime"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/medarchive/internal/config"
	"github.com/bigkaa/medarchive/internal/domain/model"
	"github.com/bigkaa/medarchive/internal/domain/retention"
	"github.com/bigkaa/medarchive/internal/repository"
	"github.com/bigkaa/medarchive/internal/storage/filestore"
	"github.com/bigkaa/medarchive/internal/storage/wal"
)

var (
	documentOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ma_document_operations_total",
		Help: "Количество операций с документами по типу и результату",
	}, []string{"operation", "result"})

	storedBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ma_stored_bytes_total",
		Help: "Объём сохранённых документов в байтах",
	})

	integrityChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ma_integrity_checks_total",
		Help: "Результаты проверки целостности (valid, mismatch, unreadable)",
	}, []string{"result"})

	missingBlobsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ma_missing_blobs_total",
		Help: "Обращения к документам, файл которых отсутствует на диске",
	})

	blobDeleteFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ma_blob_delete_failures_total",
		Help: "Неудачные удаления файлов документов (метаданные уже удалены)",
	})

	replicaDeleteFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ma_replica_delete_failures_total",
		Help: "Неудачные удаления резервных копий документов (метаданные уже удалены)",
	})
)

// replicaRemoveTimeout — ограничение на удаление одной резервной копии.
const replicaRemoveTimeout = 10 * time.Second

// DocumentMeta — необязательные метаданные загружаемого документа.
type DocumentMeta struct {
	Category           string     `json:"category" validate:"omitempty,oneof=record_page exam prescription report consent_form other"`
	DocumentDate       *time.Time `json:"document_date"`
	Description        string     `json:"description" validate:"max=2000"`
	Responsible        string     `json:"responsible" validate:"max=255"`
	OriginalIdentifier string     `json:"original_identifier" validate:"max=255"`
	ResolutionDPI      *int       `json:"resolution_dpi" validate:"omitempty,gt=0"`
}

// StoreInput — загружаемый файл.
type StoreInput struct {
	RecordID         string `json:"record_id" validate:"required,uuid"`
	ActorID          string `json:"-"`
	OriginalFilename string `json:"filename" validate:"required,max=255"`
	MimeType         string `json:"mime_type"`
	// Size — заявленный размер. 0 — неизвестен, лимит проверяется при чтении.
	Size   int64     `json:"-"`
	Reader io.Reader `json:"-"`
	Meta   DocumentMeta
}

// Blob — открытый файл документа. Вызывающий код закрывает Content.
type Blob struct {
	Document *model.Document
	Content  io.ReadSeekCloser
	ModTime  time.Time
}

// IntegrityResult — результат проверки целостности.
// CurrentDigest пуст, если файл не удалось прочитать.
type IntegrityResult struct {
	DocumentID    string    `json:"document_id"`
	Valid         bool      `json:"valid"`
	StoredDigest  string    `json:"stored_digest"`
	CurrentDigest string    `json:"current_digest,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	CheckedAt     time.Time `json:"checked_at"`
}

// RecoveryResult — итог восстановления незавершённых операций журнала.
type RecoveryResult struct {
	Committed  int
	RolledBack int
}

// ContentStore — хранилище файлов документов с метаданными в PostgreSQL.
type ContentStore struct {
	store     repository.Store
	files     *filestore.FileStore
	journal   *wal.WAL
	cache     *DocumentCache
	replica   BlobReplicator
	retention retention.Calculator
	maxSize   int64
	allowed   map[string]bool
	now       func() time.Time
	logger    *slog.Logger
}

// NewContentStore создаёт хранилище содержимого. replica может быть nil:
// резервное копирование отключено.
func NewContentStore(
	cfg *config.Config,
	store repository.Store,
	files *filestore.FileStore,
	journal *wal.WAL,
	cache *DocumentCache,
	replica BlobReplicator,
	logger *slog.Logger,
) *ContentStore {
	allowed := make(map[string]bool, len(cfg.AllowedMimeTypes))
	for _, m := range cfg.AllowedMimeTypes {
		allowed[strings.ToLower(m)] = true
	}
	return &ContentStore{
		store:     store,
		files:     files,
		journal:   journal,
		cache:     cache,
		replica:   replica,
		retention: retention.NewCalculator(cfg.RetentionYears),
		maxSize:   cfg.MaxFileSize,
		allowed:   allowed,
		now:       time.Now,
		logger:    logger.With(slog.String("component", "content_store")),
	}
}

// Store сохраняет файл документа в карте in.RecordID.
//
// Поток:
//  1. Проверка MIME-типа, заявленного размера и метаданных (до вычисления digest)
//  2. Проверка существования карты
//  3. Запись во временный файл с подсчётом digest
//  4. Поиск документа с тем же digest
//  5. WAL StartTransaction, перемещение файла в каталог карты
//  6. Транзакция: вставка документа, обновление активности и срока хранения карты
//  7. WAL Commit
//
// При ошибке после перемещения — удаление файла и WAL Rollback.
// Нарушение уникального индекса digest — DuplicateError.
func (cs *ContentStore) Store(ctx context.Context, in StoreInput) (*model.Document, error) {
	doc, err := cs.save(ctx, in)
	documentOperationsTotal.WithLabelValues("store", resultLabel(err)).Inc()
	return doc, err
}

func (cs *ContentStore) save(ctx context.Context, in StoreInput) (*model.Document, error) {
	mimeType, err := cs.checkMimeType(in.MimeType)
	if err != nil {
		return nil, err
	}
	if in.Size > cs.maxSize {
		return nil, tooLarge(in.Size, cs.maxSize)
	}
	if err := validateStruct(in); err != nil {
		return nil, err
	}
	category, _ := model.ParseCategory(in.Meta.Category)

	if _, err := cs.store.Records().GetByID(ctx, in.RecordID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, &NotFoundError{Entity: "medical_record", ID: in.RecordID}
		}
		return nil, ioFailure("load_record", err)
	}

	tmp, err := cs.files.SaveTemp(in.Reader, cs.maxSize)
	if err != nil {
		if errors.Is(err, filestore.ErrTooLarge) {
			return nil, tooLarge(in.Size, cs.maxSize)
		}
		return nil, ioFailure("save_temp", err)
	}

	existing, err := cs.store.Documents().GetByDigest(ctx, tmp.Digest)
	switch {
	case err == nil:
		cs.discard(tmp)
		return nil, &DuplicateError{ExistingID: existing.ID, ExistingRecordID: existing.RecordID, Digest: tmp.Digest}
	case !errors.Is(err, repository.ErrNotFound):
		cs.discard(tmp)
		return nil, ioFailure("lookup_digest", err)
	}

	docID := uuid.New().String()
	storedName := filestore.StoredName(docID, in.OriginalFilename)
	storagePath := filestore.StoragePath(in.RecordID, storedName)

	entry, err := cs.journal.StartTransaction(wal.OpDocumentCreate, wal.Target{
		DocumentID:  docID,
		RecordID:    in.RecordID,
		StoragePath: storagePath,
	})
	if err != nil {
		cs.discard(tmp)
		return nil, ioFailure("wal_start", err)
	}

	if _, err := cs.files.Commit(tmp, in.RecordID, storedName); err != nil {
		cs.discard(tmp)
		cs.rollback(entry.TransactionID)
		return nil, ioFailure("commit_file", err)
	}

	now := cs.now().UTC()
	doc := &model.Document{
		ID:                 docID,
		RecordID:           in.RecordID,
		OriginalFilename:   in.OriginalFilename,
		StoredFilename:     storedName,
		MimeType:           mimeType,
		Size:               tmp.Size,
		StoragePath:        storagePath,
		Digest:             tmp.Digest,
		Category:           category,
		DocumentDate:       in.Meta.DocumentDate,
		Description:        in.Meta.Description,
		Responsible:        in.Meta.Responsible,
		OriginalIdentifier: in.Meta.OriginalIdentifier,
		ResolutionDPI:      in.Meta.ResolutionDPI,
		UploadedBy:         in.ActorID,
		CreatedAt:          now,
	}

	err = cs.store.InTx(ctx, func(r repository.Repos) error {
		if _, err := r.Records().GetForUpdate(ctx, in.RecordID); err != nil {
			return err
		}
		if err := r.Documents().Create(ctx, doc); err != nil {
			return err
		}
		return r.Records().TouchActivity(ctx, in.RecordID, now, cs.retention.ExpiryOf(now))
	})
	if err != nil {
		if delErr := cs.files.Delete(storagePath); delErr != nil {
			cs.logger.Warn("Не удалось удалить файл после ошибки сохранения метаданных",
				slog.String("storage_path", storagePath),
				slog.String("error", delErr.Error()),
			)
		}
		cs.rollback(entry.TransactionID)
		return nil, cs.metadataError(ctx, in.RecordID, tmp.Digest, err)
	}

	if err := cs.journal.Commit(entry.TransactionID); err != nil {
		// Метаданные уже зафиксированы: восстановление подтвердит транзакцию
		cs.logger.Error("Ошибка фиксации WAL-транзакции",
			slog.String("tx_id", entry.TransactionID),
			slog.String("error", err.Error()),
		)
	}

	cs.cache.Set(doc)
	storedBytesTotal.Add(float64(doc.Size))
	cs.logger.Info("Документ сохранён",
		slog.String("document_id", doc.ID),
		slog.String("record_id", doc.RecordID),
		slog.String("digest", doc.Digest),
		slog.Int64("size", doc.Size),
	)
	return doc, nil
}

// metadataError сопоставляет ошибку транзакции сохранения с таксономией.
func (cs *ContentStore) metadataError(ctx context.Context, recordID, digest string, err error) error {
	switch {
	case errors.Is(err, repository.ErrConflict):
		// Параллельная загрузка тех же байтов опередила нас
		dup := &DuplicateError{Digest: digest}
		if existing, lookupErr := cs.store.Documents().GetByDigest(context.WithoutCancel(ctx), digest); lookupErr == nil {
			dup.ExistingID = existing.ID
			dup.ExistingRecordID = existing.RecordID
		}
		return dup
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, repository.ErrForeignKey):
		return &NotFoundError{Entity: "medical_record", ID: recordID}
	default:
		return ioFailure("save_metadata", err)
	}
}

// checkMimeType нормализует MIME-тип и проверяет его по списку допустимых.
func (cs *ContentStore) checkMimeType(raw string) (string, error) {
	mediaType, _, err := mime.ParseMediaType(raw)
	if err != nil {
		return "", &ValidationError{
			Field:   "mime_type",
			Message: fmt.Sprintf("некорректный MIME-тип %q", raw),
			Kind:    ErrUnsupportedMediaType,
		}
	}
	mediaType = strings.ToLower(mediaType)
	if !cs.allowed[mediaType] {
		return "", &ValidationError{
			Field:   "mime_type",
			Message: fmt.Sprintf("тип %s не допускается", mediaType),
			Kind:    ErrUnsupportedMediaType,
		}
	}
	return mediaType, nil
}

func tooLarge(size, limit int64) *ValidationError {
	msg := fmt.Sprintf("размер файла превышает максимум %d байт", limit)
	if size > 0 {
		msg = fmt.Sprintf("размер файла %d байт превышает максимум %d байт", size, limit)
	}
	return &ValidationError{Field: "file", Message: msg, Kind: ErrFileTooLarge}
}

// Retrieve открывает файл документа для чтения.
// Отсутствие файла при существующих метаданных — MissingBlobError.
func (cs *ContentStore) Retrieve(ctx context.Context, id string) (*Blob, error) {
	doc, cached, err := cs.document(ctx, id)
	if err != nil {
		return nil, err
	}

	f, err := cs.files.Open(doc.StoragePath)
	if err != nil && errors.Is(err, fs.ErrNotExist) && cached {
		// Кэш мог пережить удаление документа
		cs.cache.Invalidate(id)
		if doc, err = cs.load(ctx, id); err != nil {
			return nil, err
		}
		f, err = cs.files.Open(doc.StoragePath)
	}
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, cs.missingBlob(doc)
		}
		return nil, ioFailure("open_file", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, ioFailure("stat_file", err)
	}
	return &Blob{Document: doc, Content: f, ModTime: info.ModTime()}, nil
}

// VerifyIntegrity пересчитывает digest файла и сравнивает с сохранённым.
// Ничего не изменяет. Нечитаемый файл — Valid=false без CurrentDigest.
func (cs *ContentStore) VerifyIntegrity(ctx context.Context, id string) (*IntegrityResult, error) {
	doc, err := cs.load(ctx, id)
	if err != nil {
		return nil, err
	}

	result := &IntegrityResult{
		DocumentID:   doc.ID,
		StoredDigest: doc.Digest,
		CheckedAt:    cs.now().UTC(),
	}

	current, err := cs.files.ComputeChecksum(doc.StoragePath)
	switch {
	case err != nil:
		result.Reason = "файл недоступен для чтения"
		if errors.Is(err, fs.ErrNotExist) {
			result.Reason = "файл отсутствует"
			missingBlobsTotal.Inc()
		}
		integrityChecksTotal.WithLabelValues("unreadable").Inc()
		cs.logger.Warn("Не удалось пересчитать digest документа",
			slog.String("document_id", doc.ID),
			slog.String("storage_path", doc.StoragePath),
			slog.String("error", err.Error()),
		)
	case current == doc.Digest:
		result.Valid = true
		result.CurrentDigest = current
		integrityChecksTotal.WithLabelValues("valid").Inc()
	default:
		result.CurrentDigest = current
		result.Reason = "digest не совпадает"
		integrityChecksTotal.WithLabelValues("mismatch").Inc()
		cs.logger.Error("Нарушена целостность документа",
			slog.String("document_id", doc.ID),
			slog.String("stored_digest", doc.Digest),
			slog.String("current_digest", current),
		)
	}
	return result, nil
}

// Delete удаляет метаданные документа, затем файл и резервную копию.
// Ошибки удаления файла и копии логируются и не прерывают операцию.
func (cs *ContentStore) Delete(ctx context.Context, id string) (*model.Document, error) {
	doc, err := cs.remove(ctx, id)
	documentOperationsTotal.WithLabelValues("delete", resultLabel(err)).Inc()
	return doc, err
}

func (cs *ContentStore) remove(ctx context.Context, id string) (*model.Document, error) {
	doc, err := cs.load(ctx, id)
	if err != nil {
		return nil, err
	}

	entry, err := cs.journal.StartTransaction(wal.OpDocumentDelete, wal.Target{
		DocumentID:  doc.ID,
		RecordID:    doc.RecordID,
		StoragePath: doc.StoragePath,
	})
	if err != nil {
		return nil, ioFailure("wal_start", err)
	}

	deleted, err := cs.store.Documents().Delete(ctx, id)
	if err != nil {
		cs.rollback(entry.TransactionID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, &NotFoundError{Entity: "document", ID: id}
		}
		return nil, ioFailure("delete_metadata", err)
	}

	cs.cache.Invalidate(id)
	cs.removeBlob(ctx, deleted)

	if err := cs.journal.Commit(entry.TransactionID); err != nil {
		cs.logger.Error("Ошибка фиксации WAL-транзакции",
			slog.String("tx_id", entry.TransactionID),
			slog.String("error", err.Error()),
		)
	}

	cs.logger.Info("Документ удалён",
		slog.String("document_id", deleted.ID),
		slog.String("record_id", deleted.RecordID),
	)
	return deleted, nil
}

// RemoveBlobs удаляет файлы и резервные копии документов, метаданные
// которых уже удалены (каскадное удаление карты).
func (cs *ContentStore) RemoveBlobs(ctx context.Context, docs []*model.Document) {
	for _, doc := range docs {
		cs.cache.Invalidate(doc.ID)
		cs.removeBlob(ctx, doc)
	}
}

func (cs *ContentStore) removeBlob(ctx context.Context, doc *model.Document) {
	cs.removeReplica(ctx, doc)

	if err := cs.files.Delete(doc.StoragePath); err != nil {
		blobDeleteFailuresTotal.Inc()
		cs.logger.Warn("Не удалось удалить файл документа, метаданные удалены",
			slog.String("document_id", doc.ID),
			slog.String("storage_path", doc.StoragePath),
			slog.Bool("already_missing", errors.Is(err, fs.ErrNotExist)),
			slog.String("error", err.Error()),
		)
	}
}

// removeReplica удаляет резервную копию документа. Отмена запроса не прерывает удаление.
func (cs *ContentStore) removeReplica(ctx context.Context, doc *model.Document) {
	if cs.replica == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), replicaRemoveTimeout)
	defer cancel()

	if err := cs.replica.Remove(ctx, doc); err != nil {
		replicaDeleteFailuresTotal.Inc()
		cs.logger.Warn("Не удалось удалить резервную копию документа, метаданные удалены",
			slog.String("document_id", doc.ID),
			slog.String("record_id", doc.RecordID),
			slog.String("error", err.Error()),
		)
	}
}

// Recover завершает незафиксированные операции журнала после сбоя.
// Создание: метаданные есть — commit, иначе файл удаляется и rollback.
// Удаление: метаданных нет — файл удаляется и commit, иначе rollback.
func (cs *ContentStore) Recover(ctx context.Context) (*RecoveryResult, error) {
	pending, err := cs.journal.RecoverPending()
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения журнала: %w", err)
	}

	result := &RecoveryResult{}
	for _, e := range pending {
		referenced, err := cs.store.Documents().ExistsByStoragePath(ctx, e.StoragePath)
		if err != nil {
			return result, fmt.Errorf("ошибка проверки метаданных %s: %w", e.StoragePath, err)
		}

		keepFile := referenced
		commit := referenced
		if e.Operation == wal.OpDocumentDelete {
			commit = !referenced
		}

		if !keepFile {
			if err := cs.files.Delete(e.StoragePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
				cs.logger.Warn("Не удалось удалить файл при восстановлении",
					slog.String("storage_path", e.StoragePath),
					slog.String("error", err.Error()),
				)
			}
		}

		if commit {
			err = cs.journal.Commit(e.TransactionID)
			result.Committed++
		} else {
			err = cs.journal.Rollback(e.TransactionID)
			result.RolledBack++
		}
		if err != nil {
			return result, fmt.Errorf("ошибка завершения транзакции %s: %w", e.TransactionID, err)
		}

		cs.logger.Info("Транзакция журнала восстановлена",
			slog.String("tx_id", e.TransactionID),
			slog.String("operation", string(e.Operation)),
			slog.String("storage_path", e.StoragePath),
			slog.Bool("committed", commit),
		)
	}
	return result, nil
}

// document возвращает метаданные из кэша или из БД.
func (cs *ContentStore) document(ctx context.Context, id string) (*model.Document, bool, error) {
	if doc, ok := cs.cache.Get(id); ok {
		return doc, true, nil
	}
	doc, err := cs.load(ctx, id)
	return doc, false, err
}

// load читает метаданные из БД и обновляет кэш.
func (cs *ContentStore) load(ctx context.Context, id string) (*model.Document, error) {
	if !validID(id) {
		return nil, &NotFoundError{Entity: "document", ID: id}
	}
	doc, err := cs.store.Documents().GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, &NotFoundError{Entity: "document", ID: id}
		}
		return nil, ioFailure("load_metadata", err)
	}
	cs.cache.Set(doc)
	return doc, nil
}

func (cs *ContentStore) missingBlob(doc *model.Document) error {
	missingBlobsTotal.Inc()
	cs.logger.Error("Файл документа отсутствует в хранилище",
		slog.String("document_id", doc.ID),
		slog.String("storage_path", doc.StoragePath),
	)
	return &MissingBlobError{DocumentID: doc.ID, StoragePath: doc.StoragePath}
}

func (cs *ContentStore) discard(tmp *filestore.TempFile) {
	if err := cs.files.Discard(tmp); err != nil {
		cs.logger.Warn("Не удалось удалить временный файл",
			slog.String("path", tmp.Path),
			slog.String("error", err.Error()),
		)
	}
}

func (cs *ContentStore) rollback(txID string) {
	if err := cs.journal.Rollback(txID); err != nil {
		cs.logger.Error("Ошибка отката WAL-транзакции",
			slog.String("tx_id", txID),
			slog.String("error", err.Error()),
		)
	}
}

// resultLabel — значение метки result для метрик операций.
func resultLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrDuplicate):
		return "duplicate"
	case errors.Is(err, ErrValidation):
		return "invalid"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}

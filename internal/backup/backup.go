// Пакет backup — резервное копирование файлов документов в S3-совместимое
// хранилище (MinIO). Ключ объекта: {recordId}/{storedFilename},
// digest сохраняется в пользовательских метаданных объекта.
package backup

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/bigkaa/medarchive/internal/config"
	"github.com/bigkaa/medarchive/internal/domain/model"
)

// Ключи пользовательских метаданных объекта.
const (
	MetaDigest     = "Digest"
	MetaDocumentID = "Document-Id"
)

// Replicator копирует файлы документов в бакет.
type Replicator struct {
	client *minio.Client
	bucket string
	logger *slog.Logger
}

// New создаёт Replicator по параметрам MA_BACKUP_*.
func New(cfg *config.Config, logger *slog.Logger) (*Replicator, error) {
	if cfg.BackupEndpoint == "" {
		return nil, fmt.Errorf("MA_BACKUP_ENDPOINT не задан")
	}
	client, err := minio.New(cfg.BackupEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.BackupAccessKey, cfg.BackupSecretKey, ""),
		Secure: cfg.BackupUseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка создания клиента MinIO: %w", err)
	}
	return &Replicator{
		client: client,
		bucket: cfg.BackupBucket,
		logger: logger.With(slog.String("component", "backup")),
	}, nil
}

// EnsureBucket создаёт бакет, если его нет.
func (r *Replicator) EnsureBucket(ctx context.Context) error {
	exists, err := r.client.BucketExists(ctx, r.bucket)
	if err != nil {
		return fmt.Errorf("ошибка проверки бакета %s: %w", r.bucket, err)
	}
	if exists {
		return nil
	}
	if err := r.client.MakeBucket(ctx, r.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("ошибка создания бакета %s: %w", r.bucket, err)
	}
	r.logger.Info("Бакет резервных копий создан", slog.String("bucket", r.bucket))
	return nil
}

// ObjectKey возвращает ключ объекта документа.
func ObjectKey(doc *model.Document) string {
	return doc.RecordID + "/" + doc.StoredFilename
}

// Upload копирует содержимое документа. Повторная загрузка перезаписывает
// объект теми же байтами.
func (r *Replicator) Upload(ctx context.Context, doc *model.Document, content io.Reader) error {
	_, err := r.client.PutObject(ctx, r.bucket, ObjectKey(doc), content, doc.Size, minio.PutObjectOptions{
		ContentType: doc.MimeType,
		UserMetadata: map[string]string{
			MetaDigest:     doc.Digest,
			MetaDocumentID: doc.ID,
		},
	})
	if err != nil {
		return fmt.Errorf("ошибка копирования %s в %s: %w", ObjectKey(doc), r.bucket, err)
	}
	r.logger.Debug("Документ скопирован",
		slog.String("document_id", doc.ID),
		slog.String("key", ObjectKey(doc)),
	)
	return nil
}

// Remove удаляет копию документа. Отсутствующий объект — не ошибка.
func (r *Replicator) Remove(ctx context.Context, doc *model.Document) error {
	if err := r.client.RemoveObject(ctx, r.bucket, ObjectKey(doc), minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("ошибка удаления %s из %s: %w", ObjectKey(doc), r.bucket, err)
	}
	r.logger.Debug("Резервная копия удалена",
		slog.String("document_id", doc.ID),
		slog.String("key", ObjectKey(doc)),
	)
	return nil
}

// HealthPath — endpoint проверки живости MinIO.
const HealthPath = "/minio/health/live"

// EndpointURL — базовый адрес MinIO (схема и хост) для topologymetrics.
func (r *Replicator) EndpointURL() string {
	u := *r.client.EndpointURL()
	u.Path = ""
	return u.String()
}

// Bucket — имя бакета.
func (r *Replicator) Bucket() string {
	return r.bucket
}

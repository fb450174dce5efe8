package repository

import (
	"context"
	"fmt"
	"time"
)

// BackupRepository — таблица document_backups.
type BackupRepository interface {
	// MarkBackedUp отмечает копию документа. Повторный вызов обновляет отметку,
	// удалённый документ — ErrNotFound.
	MarkBackedUp(ctx context.Context, documentID, objectKey string, at time.Time) error
}

type backupRepo struct {
	db DBTX
}

// NewBackupRepository создаёт репозиторий отметок резервного копирования.
func NewBackupRepository(db DBTX) BackupRepository {
	return &backupRepo{db: db}
}

func (r *backupRepo) MarkBackedUp(ctx context.Context, documentID, objectKey string, at time.Time) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO document_backups (document_id, object_key, backed_up_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (document_id) DO UPDATE
		SET object_key = EXCLUDED.object_key, backed_up_at = EXCLUDED.backed_up_at`,
		documentID, objectKey, at)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrNotFound
		}
		return fmt.Errorf("ошибка отметки резервной копии: %w", err)
	}
	return nil
}

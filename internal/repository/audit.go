package repository

import (
	"context"
	"fmt"

	"github.com/bigkaa/medarchive/internal/domain/model"
)

// AuditRepository — таблица audit_logs. Только вставка и чтение.
type AuditRepository interface {
	Insert(ctx context.Context, e *model.AuditEntry) error
	// ListByEntity возвращает записи по сущности, новые первыми.
	ListByEntity(ctx context.Context, entityType model.EntityType, entityID string, limit int) ([]*model.AuditEntry, error)
}

type auditRepo struct {
	db DBTX
}

// NewAuditRepository создаёт репозиторий журнала аудита.
func NewAuditRepository(db DBTX) AuditRepository {
	return &auditRepo{db: db}
}

func (r *auditRepo) Insert(ctx context.Context, e *model.AuditEntry) error {
	var details []byte
	if len(e.Details) > 0 {
		details = e.Details
	}

	err := r.db.QueryRow(ctx, `
		INSERT INTO audit_logs (id, actor_id, action, entity_type, entity_id, details, origin, client_info)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`,
		e.ID, e.ActorID, e.Action, e.EntityType, e.EntityID, details, e.Origin, e.ClientInfo,
	).Scan(&e.CreatedAt)
	if err != nil {
		return fmt.Errorf("ошибка записи аудита: %w", err)
	}
	return nil
}

func (r *auditRepo) ListByEntity(ctx context.Context, entityType model.EntityType, entityID string, limit int) ([]*model.AuditEntry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, actor_id, action, entity_type, entity_id, details, origin, client_info, created_at
		FROM audit_logs
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at DESC
		LIMIT $3`, entityType, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения журнала аудита: %w", err)
	}
	defer rows.Close()

	var result []*model.AuditEntry
	for rows.Next() {
		e := &model.AuditEntry{}
		var details []byte
		if err := rows.Scan(&e.ID, &e.ActorID, &e.Action, &e.EntityType, &e.EntityID,
			&details, &e.Origin, &e.ClientInfo, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("ошибка сканирования записи аудита: %w", err)
		}
		e.Details = details
		result = append(result, e)
	}
	return result, rows.Err()
}

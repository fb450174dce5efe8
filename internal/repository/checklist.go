package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/medarchive/internal/domain/checklist"
)

// ChecklistRepository — таблица compliance_checklists.
type ChecklistRepository interface {
	Get(ctx context.Context, recordID string) (*checklist.Checklist, error)
	// GetForUpdate читает чек-лист с блокировкой строки (только внутри транзакции).
	GetForUpdate(ctx context.Context, recordID string) (*checklist.Checklist, error)
	// Save вставляет или перезаписывает чек-лист карты.
	Save(ctx context.Context, c *checklist.Checklist) error
	// Delete удаляет чек-лист. Отсутствие чек-листа не ошибка.
	Delete(ctx context.Context, recordID string) error
}

type checklistRepo struct {
	db DBTX
}

// NewChecklistRepository создаёт репозиторий чек-листов.
func NewChecklistRepository(db DBTX) ChecklistRepository {
	return &checklistRepo{db: db}
}

const checklistColumns = `record_id, items, notes, completed_by, completed_at,
	updated_by, created_at, updated_at`

func (r *checklistRepo) get(ctx context.Context, query, recordID string) (*checklist.Checklist, error) {
	c := &checklist.Checklist{}
	var items []byte

	err := r.db.QueryRow(ctx, query, recordID).Scan(
		&c.RecordID, &items, &c.Notes, &c.CompletedBy, &c.CompletedAt,
		&c.UpdatedBy, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения чек-листа: %w", err)
	}

	c.Items = checklist.Items{}
	if err := json.Unmarshal(items, &c.Items); err != nil {
		return nil, fmt.Errorf("ошибка разбора пунктов чек-листа: %w", err)
	}
	return c, nil
}

func (r *checklistRepo) Get(ctx context.Context, recordID string) (*checklist.Checklist, error) {
	return r.get(ctx, `SELECT `+checklistColumns+` FROM compliance_checklists WHERE record_id = $1`, recordID)
}

func (r *checklistRepo) GetForUpdate(ctx context.Context, recordID string) (*checklist.Checklist, error) {
	return r.get(ctx, `SELECT `+checklistColumns+` FROM compliance_checklists WHERE record_id = $1 FOR UPDATE`, recordID)
}

func (r *checklistRepo) Save(ctx context.Context, c *checklist.Checklist) error {
	items, err := json.Marshal(c.Items)
	if err != nil {
		return fmt.Errorf("ошибка сериализации пунктов чек-листа: %w", err)
	}

	query := `
		INSERT INTO compliance_checklists (record_id, items, notes, completed_by, completed_at,
			updated_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (record_id) DO UPDATE
		SET items = EXCLUDED.items, notes = EXCLUDED.notes,
			completed_by = EXCLUDED.completed_by, completed_at = EXCLUDED.completed_at,
			updated_by = EXCLUDED.updated_by, updated_at = EXCLUDED.updated_at
		RETURNING created_at`

	err = r.db.QueryRow(ctx, query,
		c.RecordID, items, c.Notes, c.CompletedBy, c.CompletedAt,
		c.UpdatedBy, c.CreatedAt, c.UpdatedAt,
	).Scan(&c.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: карта %s не найдена", ErrForeignKey, c.RecordID)
		}
		return fmt.Errorf("ошибка сохранения чек-листа: %w", err)
	}
	return nil
}

func (r *checklistRepo) Delete(ctx context.Context, recordID string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM compliance_checklists WHERE record_id = $1`, recordID); err != nil {
		return fmt.Errorf("ошибка удаления чек-листа: %w", err)
	}
	return nil
}

package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/medarchive/internal/domain/model"
)

// RecordRepository — таблица medical_records.
type RecordRepository interface {
	Create(ctx context.Context, r *model.MedicalRecord) error
	GetByID(ctx context.Context, id string) (*model.MedicalRecord, error)
	// GetForUpdate читает карту с блокировкой строки (только внутри транзакции).
	GetForUpdate(ctx context.Context, id string) (*model.MedicalRecord, error)
	// List возвращает карты по убыванию updated_at. limit <= 0 — без ограничения.
	List(ctx context.Context, filter model.RecordFilter, limit, offset int) ([]*model.MedicalRecord, error)
	Count(ctx context.Context, filter model.RecordFilter) (int, error)
	// Update сохраняет изменяемые поля карты.
	Update(ctx context.Context, r *model.MedicalRecord) error
	// TouchActivity устанавливает дату последней активности и срок хранения.
	TouchActivity(ctx context.Context, id string, activity time.Time, expiry *time.Time) error
	// Delete удаляет карту. Оставшиеся документы или чек-лист — ErrForeignKey.
	Delete(ctx context.Context, id string) error
}

type recordRepo struct {
	db DBTX
}

// NewRecordRepository создаёт репозиторий карт.
func NewRecordRepository(db DBTX) RecordRepository {
	return &recordRepo{db: db}
}

const recordColumns = `id, patient_id, description, start_date, last_activity_date,
	retention_expiry, historical_value, status, created_by, created_at, updated_at`

func scanRecord(row pgx.Row) (*model.MedicalRecord, error) {
	r := &model.MedicalRecord{}
	err := row.Scan(
		&r.ID, &r.PatientID, &r.Description, &r.StartDate, &r.LastActivityDate,
		&r.RetentionExpiry, &r.HistoricalValue, &r.Status, &r.CreatedBy, &r.CreatedAt, &r.UpdatedAt,
	)
	return r, err
}

func (r *recordRepo) Create(ctx context.Context, rec *model.MedicalRecord) error {
	query := `
		INSERT INTO medical_records (id, patient_id, description, start_date, last_activity_date,
			retention_expiry, historical_value, status, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		rec.ID, rec.PatientID, rec.Description, rec.StartDate, rec.LastActivityDate,
		rec.RetentionExpiry, rec.HistoricalValue, rec.Status, rec.CreatedBy,
	).Scan(&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: карта %s уже существует", ErrConflict, rec.ID)
		}
		return fmt.Errorf("ошибка создания карты: %w", err)
	}
	return nil
}

func (r *recordRepo) get(ctx context.Context, query, id string) (*model.MedicalRecord, error) {
	rec, err := scanRecord(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения карты: %w", err)
	}
	return rec, nil
}

func (r *recordRepo) GetByID(ctx context.Context, id string) (*model.MedicalRecord, error) {
	return r.get(ctx, `SELECT `+recordColumns+` FROM medical_records WHERE id = $1`, id)
}

func (r *recordRepo) GetForUpdate(ctx context.Context, id string) (*model.MedicalRecord, error) {
	return r.get(ctx, `SELECT `+recordColumns+` FROM medical_records WHERE id = $1 FOR UPDATE`, id)
}

func recordWhere(filter model.RecordFilter) (string, []any) {
	var conds []string
	var args []any

	if filter.PatientID != "" {
		args = append(args, filter.PatientID)
		conds = append(conds, fmt.Sprintf("patient_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	return buildWhere(conds), args
}

func (r *recordRepo) List(ctx context.Context, filter model.RecordFilter, limit, offset int) ([]*model.MedicalRecord, error) {
	where, args := recordWhere(filter)
	n := len(args)

	query := fmt.Sprintf(`SELECT %s FROM medical_records %s
		ORDER BY updated_at DESC, id
		LIMIT NULLIF($%d::int, 0) OFFSET $%d`, recordColumns, where, n+1, n+2)
	args = append(args, limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка карт: %w", err)
	}
	defer rows.Close()

	var result []*model.MedicalRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования карты: %w", err)
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

func (r *recordRepo) Count(ctx context.Context, filter model.RecordFilter) (int, error) {
	where, args := recordWhere(filter)

	var count int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM medical_records `+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта карт: %w", err)
	}
	return count, nil
}

func (r *recordRepo) Update(ctx context.Context, rec *model.MedicalRecord) error {
	query := `
		UPDATE medical_records
		SET patient_id = $2, description = $3, start_date = $4, last_activity_date = $5,
			retention_expiry = $6, historical_value = $7, status = $8, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`

	err := r.db.QueryRow(ctx, query,
		rec.ID, rec.PatientID, rec.Description, rec.StartDate, rec.LastActivityDate,
		rec.RetentionExpiry, rec.HistoricalValue, rec.Status,
	).Scan(&rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("ошибка обновления карты: %w", err)
	}
	return nil
}

func (r *recordRepo) TouchActivity(ctx context.Context, id string, activity time.Time, expiry *time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE medical_records
		SET last_activity_date = $2, retention_expiry = $3, updated_at = NOW()
		WHERE id = $1`, id, activity, expiry)
	if err != nil {
		return fmt.Errorf("ошибка обновления активности карты: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *recordRepo) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM medical_records WHERE id = $1`, id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: у карты %s остались документы или чек-лист", ErrForeignKey, id)
		}
		return fmt.Errorf("ошибка удаления карты: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

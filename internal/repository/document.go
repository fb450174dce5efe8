package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/medarchive/internal/domain/model"
)

// DocumentRepository — таблица documents.
type DocumentRepository interface {
	// Create вставляет документ. Дубликат digest — ErrConflict,
	// несуществующая карта — ErrForeignKey.
	Create(ctx context.Context, d *model.Document) error
	GetByID(ctx context.Context, id string) (*model.Document, error)
	GetByDigest(ctx context.Context, digest string) (*model.Document, error)
	// List возвращает документы, новые первыми. limit <= 0 — без ограничения.
	List(ctx context.Context, filter model.DocumentFilter, limit, offset int) ([]*model.Document, error)
	Count(ctx context.Context, filter model.DocumentFilter) (int, error)
	// Delete удаляет документ и возвращает удалённую запись.
	Delete(ctx context.Context, id string) (*model.Document, error)
	// DeleteByRecord удаляет все документы карты и возвращает их.
	DeleteByRecord(ctx context.Context, recordID string) ([]*model.Document, error)
	// ExistsByStoragePath проверяет, ссылается ли документ на путь.
	ExistsByStoragePath(ctx context.Context, storagePath string) (bool, error)
	// StorageIndex возвращает отображение storage_path → digest всех документов.
	StorageIndex(ctx context.Context) (map[string]IndexEntry, error)
	// SetOCRText записывает результат OCR. Повторный вызов перезаписывает тот же текст.
	SetOCRText(ctx context.Context, id, text string) error
}

// IndexEntry — строка индекса хранилища для сверки.
type IndexEntry struct {
	DocumentID string
	Digest     string
	Size       int64
}

type documentRepo struct {
	db DBTX
}

// NewDocumentRepository создаёт репозиторий документов.
func NewDocumentRepository(db DBTX) DocumentRepository {
	return &documentRepo{db: db}
}

const documentColumns = `id, record_id, original_filename, stored_filename, mime_type, size,
	storage_path, digest, category, document_date, description, responsible,
	original_identifier, resolution_dpi, ocr_text, ocr_processed,
	uploaded_by, created_at`

func scanDocument(row pgx.Row) (*model.Document, error) {
	d := &model.Document{}
	err := row.Scan(
		&d.ID, &d.RecordID, &d.OriginalFilename, &d.StoredFilename, &d.MimeType, &d.Size,
		&d.StoragePath, &d.Digest, &d.Category, &d.DocumentDate, &d.Description, &d.Responsible,
		&d.OriginalIdentifier, &d.ResolutionDPI, &d.OCRText, &d.OCRProcessed,
		&d.UploadedBy, &d.CreatedAt,
	)
	return d, err
}

func collectDocuments(rows pgx.Rows) ([]*model.Document, error) {
	defer rows.Close()

	var result []*model.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования документа: %w", err)
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

func (r *documentRepo) Create(ctx context.Context, d *model.Document) error {
	query := `
		INSERT INTO documents (id, record_id, original_filename, stored_filename, mime_type, size,
			storage_path, digest, category, document_date, description, responsible,
			original_identifier, resolution_dpi, uploaded_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING created_at`

	err := r.db.QueryRow(ctx, query,
		d.ID, d.RecordID, d.OriginalFilename, d.StoredFilename, d.MimeType, d.Size,
		d.StoragePath, d.Digest, d.Category, d.DocumentDate, d.Description, d.Responsible,
		d.OriginalIdentifier, d.ResolutionDPI, d.UploadedBy,
	).Scan(&d.CreatedAt)
	if err != nil {
		switch {
		case isUniqueViolation(err):
			return fmt.Errorf("%w: документ с таким содержимым уже сохранён", ErrConflict)
		case isForeignKeyViolation(err):
			return fmt.Errorf("%w: карта %s не найдена", ErrForeignKey, d.RecordID)
		}
		return fmt.Errorf("ошибка создания документа: %w", err)
	}
	return nil
}

func (r *documentRepo) GetByID(ctx context.Context, id string) (*model.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`

	d, err := scanDocument(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения документа: %w", err)
	}
	return d, nil
}

func (r *documentRepo) GetByDigest(ctx context.Context, digest string) (*model.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE digest = $1`

	d, err := scanDocument(r.db.QueryRow(ctx, query, digest))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка поиска документа по digest: %w", err)
	}
	return d, nil
}

// documentWhere строит WHERE-условие для фильтра документов.
func documentWhere(filter model.DocumentFilter) (string, []any) {
	var conds []string
	var args []any

	if filter.RecordID != "" {
		args = append(args, filter.RecordID)
		conds = append(conds, fmt.Sprintf("record_id = $%d", len(args)))
	}
	if filter.Category != "" {
		args = append(args, filter.Category)
		conds = append(conds, fmt.Sprintf("category = $%d", len(args)))
	}
	return buildWhere(conds), args
}

func (r *documentRepo) List(ctx context.Context, filter model.DocumentFilter, limit, offset int) ([]*model.Document, error) {
	where, args := documentWhere(filter)
	n := len(args)

	query := fmt.Sprintf(`SELECT %s FROM documents %s
		ORDER BY created_at DESC, id
		LIMIT NULLIF($%d::int, 0) OFFSET $%d`, documentColumns, where, n+1, n+2)
	args = append(args, limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка документов: %w", err)
	}
	return collectDocuments(rows)
}

func (r *documentRepo) Count(ctx context.Context, filter model.DocumentFilter) (int, error) {
	where, args := documentWhere(filter)

	var count int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM documents `+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта документов: %w", err)
	}
	return count, nil
}

func (r *documentRepo) Delete(ctx context.Context, id string) (*model.Document, error) {
	query := `DELETE FROM documents WHERE id = $1 RETURNING ` + documentColumns

	d, err := scanDocument(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка удаления документа: %w", err)
	}
	return d, nil
}

func (r *documentRepo) DeleteByRecord(ctx context.Context, recordID string) ([]*model.Document, error) {
	query := `DELETE FROM documents WHERE record_id = $1 RETURNING ` + documentColumns

	rows, err := r.db.Query(ctx, query, recordID)
	if err != nil {
		return nil, fmt.Errorf("ошибка удаления документов карты: %w", err)
	}
	return collectDocuments(rows)
}

func (r *documentRepo) ExistsByStoragePath(ctx context.Context, storagePath string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM documents WHERE storage_path = $1)`, storagePath,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("ошибка проверки пути хранения: %w", err)
	}
	return exists, nil
}

func (r *documentRepo) StorageIndex(ctx context.Context) (map[string]IndexEntry, error) {
	rows, err := r.db.Query(ctx, `SELECT id, storage_path, digest, size FROM documents`)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения индекса хранилища: %w", err)
	}
	defer rows.Close()

	index := make(map[string]IndexEntry)
	for rows.Next() {
		var path string
		var e IndexEntry
		if err := rows.Scan(&e.DocumentID, &path, &e.Digest, &e.Size); err != nil {
			return nil, fmt.Errorf("ошибка сканирования индекса: %w", err)
		}
		index[path] = e
	}
	return index, rows.Err()
}

func (r *documentRepo) SetOCRText(ctx context.Context, id, text string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE documents SET ocr_text = $2, ocr_processed = TRUE WHERE id = $1`, id, text)
	if err != nil {
		return fmt.Errorf("ошибка записи OCR: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

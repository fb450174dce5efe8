// Пакет repository — слой доступа к данным PostgreSQL.
// Все запросы — чистый SQL через pgx, без ORM.
package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Ошибки слоя репозиториев.
var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("запись не найдена")
	// ErrConflict — конфликт уникальности (дублирующийся ресурс).
	ErrConflict = errors.New("конфликт — запись уже существует")
	// ErrForeignKey — ссылка на несуществующую запись или удаление записи, на которую ссылаются.
	ErrForeignKey = errors.New("нарушение ссылочной целостности")
)

// DBTX — интерфейс для выполнения SQL-запросов.
// Реализуется как *pgxpool.Pool, так и pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repos — набор репозиториев, работающих поверх одного DBTX.
type Repos interface {
	Documents() DocumentRepository
	Records() RecordRepository
	Checklists() ChecklistRepository
	Audit() AuditRepository
	Backups() BackupRepository
}

// Store — репозитории вне транзакции и запуск транзакции.
type Store interface {
	Repos
	// InTx выполняет fn в транзакции. Ошибка fn — откат.
	InTx(ctx context.Context, fn func(Repos) error) error
}

// repos — Repos поверх DBTX.
type repos struct {
	db DBTX
}

func (r repos) Documents() DocumentRepository   { return &documentRepo{db: r.db} }
func (r repos) Records() RecordRepository       { return &recordRepo{db: r.db} }
func (r repos) Checklists() ChecklistRepository { return &checklistRepo{db: r.db} }
func (r repos) Audit() AuditRepository          { return &auditRepo{db: r.db} }
func (r repos) Backups() BackupRepository       { return &backupRepo{db: r.db} }

// PgStore — Store поверх пула PostgreSQL.
type PgStore struct {
	repos
	tx *TxRunner
}

// NewPgStore создаёт Store поверх пула.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{repos: repos{db: pool}, tx: NewTxRunner(pool)}
}

// InTx выполняет fn в транзакции PostgreSQL.
func (s *PgStore) InTx(ctx context.Context, fn func(Repos) error) error {
	return s.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		return fn(repos{db: tx})
	})
}

// TxRunner позволяет выполнять операции в транзакции.
type TxRunner struct {
	pool *pgxpool.Pool
}

// NewTxRunner создаёт TxRunner для управления транзакциями.
func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool}
}

// RunInTx выполняет fn внутри транзакции.
// При ошибке fn — транзакция откатывается, при успехе — коммитится.
func (r *TxRunner) RunInTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // откат после коммита — no-op

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}
	return nil
}

// pgCode возвращает SQLSTATE ошибки PostgreSQL или "".
func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// isUniqueViolation проверяет нарушение уникальности (23505).
func isUniqueViolation(err error) bool {
	return pgCode(err) == "23505"
}

// isForeignKeyViolation проверяет нарушение внешнего ключа (23503).
func isForeignKeyViolation(err error) bool {
	return pgCode(err) == "23503"
}

// buildWhere собирает WHERE из готовых условий.
func buildWhere(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(conds, " AND ")
}

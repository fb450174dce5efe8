package database

import (
	"context"
	"testing"

	"github.com/bigkaa/medarchive/internal/database/dbtest"
)

// TestMigrate проверяет применение миграций и их идемпотентность.
func TestMigrate(t *testing.T) {
	cfg := dbtest.Config(t)
	logger := dbtest.Logger()

	if err := Migrate(cfg, logger); err != nil {
		t.Fatalf("Migrate() вернул ошибку: %v", err)
	}
	// Повторное применение — ErrNoChange, не ошибка
	if err := Migrate(cfg, logger); err != nil {
		t.Fatalf("Повторный Migrate() вернул ошибку: %v", err)
	}

	ctx := context.Background()
	pool, err := Connect(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Connect() вернул ошибку: %v", err)
	}
	defer pool.Close()

	for _, table := range []string{"medical_records", "documents", "compliance_checklists", "audit_logs", "document_backups"} {
		var exists bool
		err := pool.QueryRow(ctx,
			`SELECT EXISTS (
				SELECT FROM information_schema.tables
				WHERE table_schema = 'public' AND table_name = $1
			)`, table).Scan(&exists)
		if err != nil {
			t.Fatalf("Ошибка проверки таблицы %s: %v", table, err)
		}
		if !exists {
			t.Errorf("Таблица %s не создана", table)
		}
	}

	// Записи аудита неизменяемы
	_, err = pool.Exec(ctx,
		`INSERT INTO audit_logs (id, action, entity_type) VALUES (gen_random_uuid(), 'login', 'user')`)
	if err != nil {
		t.Fatalf("Ошибка вставки записи аудита: %v", err)
	}
	if _, err := pool.Exec(ctx, `DELETE FROM audit_logs`); err == nil {
		t.Error("удаление записей аудита должно быть запрещено")
	}
	if _, err := pool.Exec(ctx, `UPDATE audit_logs SET action = 'read'`); err == nil {
		t.Error("изменение записей аудита должно быть запрещено")
	}
}

// TestReadinessChecker проверяет проверку готовности.
func TestReadinessChecker(t *testing.T) {
	cfg := dbtest.Config(t)
	ctx := context.Background()

	pool, err := Connect(ctx, cfg, dbtest.Logger())
	if err != nil {
		t.Fatalf("Connect() вернул ошибку: %v", err)
	}
	defer pool.Close()

	checker := NewReadinessChecker(pool)
	if checker.Name() != "postgresql" {
		t.Errorf("Name() = %q", checker.Name())
	}
	status, msg := checker.CheckReady(ctx)
	if status != "ok" {
		t.Errorf("CheckReady() status = %q, message = %q; ожидали ok", status, msg)
	}
}

package service

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/medarchive/internal/config"
	"github.com/bigkaa/medarchive/internal/domain/model"
	"github.com/bigkaa/medarchive/internal/repository/memrepo"
	"github.com/bigkaa/medarchive/internal/storage/filestore"
	"github.com/bigkaa/medarchive/internal/storage/wal"
)

// testEnv — окружение сервисных тестов: in-memory репозитории и
// файловое хранилище во временном каталоге.
type testEnv struct {
	cfg     *config.Config
	dataDir string
	mem     *memrepo.Store
	files   *filestore.FileStore
	journal *wal.WAL
	cache   *DocumentCache
	content *ContentStore
	audit   *AuditRecorder
	logger  *slog.Logger
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	root := t.TempDir()
	cfg := &config.Config{
		DataDir:          filepath.Join(root, "data"),
		WALDir:           filepath.Join(root, "wal"),
		MaxFileSize:      1024,
		AllowedMimeTypes: append([]string(nil), config.DefaultAllowedMimeTypes...),
		RetentionYears:   20,
	}
	logger := testLogger()

	files, err := filestore.New(cfg.DataDir)
	if err != nil {
		t.Fatalf("Ошибка создания FileStore: %v", err)
	}
	journal, err := wal.New(cfg.WALDir, logger)
	if err != nil {
		t.Fatalf("Ошибка создания WAL: %v", err)
	}

	mem := memrepo.New()
	cache := NewDocumentCache(100, time.Minute)
	return &testEnv{
		cfg:     cfg,
		dataDir: cfg.DataDir,
		mem:     mem,
		files:   files,
		journal: journal,
		cache:   cache,
		content: NewContentStore(cfg, mem, files, journal, cache, nil, logger),
		audit:   NewAuditRecorder(mem.Audit(), logger),
		logger:  logger,
	}
}

// newRecord создаёт карту в in-memory хранилище.
func (e *testEnv) newRecord(t *testing.T) *model.MedicalRecord {
	t.Helper()

	start := time.Date(2020, 1, 10, 0, 0, 0, 0, time.UTC)
	rec := &model.MedicalRecord{
		ID:               uuid.New().String(),
		PatientID:        uuid.New().String(),
		Description:      "Internação 2020",
		StartDate:        start,
		LastActivityDate: start,
		Status:           model.RecordActive,
	}
	if err := e.mem.Records().Create(context.Background(), rec); err != nil {
		t.Fatalf("Ошибка создания карты: %v", err)
	}
	return rec
}

// storeBytes сохраняет содержимое как PNG-документ карты.
func (e *testEnv) storeBytes(t *testing.T, recordID, content string) (*model.Document, error) {
	t.Helper()
	return e.content.Store(context.Background(), StoreInput{
		RecordID:         recordID,
		ActorID:          "user-1",
		OriginalFilename: "page.png",
		MimeType:         "image/png",
		Size:             int64(len(content)),
		Reader:           stringsReader(content),
	})
}

// mustStore сохраняет документ и падает при ошибке.
func (e *testEnv) mustStore(t *testing.T, recordID, content string) *model.Document {
	t.Helper()
	doc, err := e.storeBytes(t, recordID, content)
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	return doc
}

// countFiles считает зафиксированные файлы в хранилище.
func (e *testEnv) countFiles(t *testing.T) int {
	t.Helper()
	n := 0
	if err := e.files.Walk(func(filestore.FileInfo) error {
		n++
		return nil
	}); err != nil {
		t.Fatalf("Walk: %v", err)
	}
	return n
}

// countIncoming считает незафиксированные временные файлы.
func (e *testEnv) countIncoming(t *testing.T) int {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(e.dataDir, filestore.IncomingDir))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	return len(entries)
}

// auditActions возвращает действия из журнала аудита в порядке записи.
func (e *testEnv) auditActions() []model.AuditAction {
	var out []model.AuditAction
	for _, entry := range e.mem.AuditEntries() {
		out = append(out, entry.Action)
	}
	return out
}

// reconcile.go — сервис фоновой сверки (Reconciliation) хранилища документов.
//
// Reconciliation сравнивает файлы в MA_DATA_DIR с метаданными в PostgreSQL.
//
// Обнаруживает проблемы:
//   - orphaned_file: файл на диске без строки в documents (digest вычисляется)
//   - missing_blob: строка в documents без файла на диске
//   - size_mismatch: размер файла не совпадает с метаданными
//   - digest_mismatch: digest файла не совпадает (при MA_RECONCILE_VERIFY_DIGESTS)
//
// Файлы моложе MA_RECONCILE_ORPHAN_GRACE не считаются осиротевшими:
// это могут быть загрузки между перемещением файла и вставкой метаданных.
//
// Запускается как горутина с периодическим тикером (MA_RECONCILE_INTERVAL)
// и вручную через POST /api/v1/maintenance/reconcile.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/medarchive/internal/config"
	"github.com/bigkaa/medarchive/internal/repository"
	"github.com/bigkaa/medarchive/internal/storage/filestore"
	"github.com/bigkaa/medarchive/internal/storage/wal"
)

// Prometheus метрики Reconciliation
var (
	// reconcileRunsTotal — количество запусков reconciliation.
	reconcileRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ma_reconcile_runs_total",
		Help: "Общее количество запусков reconciliation",
	})

	// reconcileIssuesTotal — количество обнаруженных проблем по типу.
	reconcileIssuesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ma_reconcile_issues_total",
		Help: "Общее количество проблем, обнаруженных reconciliation",
	}, []string{"type"})

	// reconcileDurationSeconds — длительность выполнения reconciliation.
	reconcileDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ma_reconcile_duration_seconds",
		Help:    "Длительность выполнения reconciliation в секундах",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
	})
)

// IssueType — тип расхождения.
type IssueType string

const (
	IssueOrphanedFile   IssueType = "orphaned_file"
	IssueMissingBlob    IssueType = "missing_blob"
	IssueSizeMismatch   IssueType = "size_mismatch"
	IssueDigestMismatch IssueType = "digest_mismatch"
)

// ReconcileIssue — обнаруженное расхождение.
type ReconcileIssue struct {
	Type       IssueType `json:"type"`
	Path       string    `json:"path"`
	DocumentID string    `json:"document_id,omitempty"`
	// Digest — фактический digest файла (orphaned_file, digest_mismatch)
	Digest string `json:"digest,omitempty"`
	// ExpectedDigest — digest из метаданных (digest_mismatch)
	ExpectedDigest string `json:"expected_digest,omitempty"`
	Size           int64  `json:"size,omitempty"`
	// Removed — осиротевший файл удалён (MA_RECONCILE_REMOVE_ORPHANS)
	Removed     bool   `json:"removed,omitempty"`
	Description string `json:"description"`
}

// ReconcileSummary — сводка по типам.
type ReconcileSummary struct {
	Ok               int `json:"ok"`
	OrphanedFiles    int `json:"orphaned_files"`
	RemovedOrphans   int `json:"removed_orphans"`
	MissingBlobs     int `json:"missing_blobs"`
	SizeMismatches   int `json:"size_mismatches"`
	DigestMismatches int `json:"digest_mismatches"`
	// InFlight — файлы без метаданных моложе порога, не проверялись
	InFlight int `json:"in_flight"`
}

// ReconcileReport — результат одного прохода.
type ReconcileReport struct {
	StartedAt    time.Time        `json:"started_at"`
	CompletedAt  time.Time        `json:"completed_at"`
	FilesChecked int              `json:"files_checked"`
	Issues       []ReconcileIssue `json:"issues"`
	Summary      ReconcileSummary `json:"summary"`
}

// ReconcileService — сервис фоновой сверки хранилища.
type ReconcileService struct {
	store         repository.Store
	files         *filestore.FileStore
	journal       *wal.WAL
	interval      time.Duration
	grace         time.Duration
	removeOrphans bool
	verifyDigests bool
	now           func() time.Time
	logger        *slog.Logger

	mu        sync.Mutex // защита от параллельного запуска
	inProcess bool       // reconciliation в процессе выполнения
	cancel    context.CancelFunc
}

// NewReconcileService создаёт сервис reconciliation.
func NewReconcileService(
	cfg *config.Config,
	store repository.Store,
	files *filestore.FileStore,
	journal *wal.WAL,
	logger *slog.Logger,
) *ReconcileService {
	return &ReconcileService{
		store:         store,
		files:         files,
		journal:       journal,
		interval:      cfg.ReconcileInterval,
		grace:         cfg.ReconcileOrphanGrace,
		removeOrphans: cfg.ReconcileRemoveOrphans,
		verifyDigests: cfg.ReconcileVerifyDigests,
		now:           time.Now,
		logger:        logger.With(slog.String("component", "reconcile")),
	}
}

// Start запускает фоновую горутину reconciliation с периодическим тикером.
func (rs *ReconcileService) Start(ctx context.Context) {
	rsCtx, cancel := context.WithCancel(ctx)
	rs.cancel = cancel

	go rs.run(rsCtx)

	rs.logger.Info("Reconciliation запущена",
		slog.String("interval", rs.interval.String()),
	)
}

// Stop останавливает фоновой процесс reconciliation.
func (rs *ReconcileService) Stop() {
	if rs.cancel != nil {
		rs.cancel()
	}
	rs.logger.Info("Reconciliation остановлена")
}

// IsInProgress возвращает true, если reconciliation выполняется.
func (rs *ReconcileService) IsInProgress() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.inProcess
}

// run — основной цикл фоновой горутины.
func (rs *ReconcileService) run(ctx context.Context) {
	ticker := time.NewTicker(rs.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := rs.RunOnce(ctx); err != nil && !errors.Is(err, ErrReconcileInProgress) {
				rs.logger.Error("Ошибка reconciliation", slog.String("error", err.Error()))
			}
		}
	}
}

// RunOnce выполняет один цикл reconciliation.
// Если сверка уже выполняется, возвращает ErrReconcileInProgress.
func (rs *ReconcileService) RunOnce(ctx context.Context) (*ReconcileReport, error) {
	rs.mu.Lock()
	if rs.inProcess {
		rs.mu.Unlock()
		rs.logger.Warn("Reconciliation уже выполняется, пропуск")
		return nil, ErrReconcileInProgress
	}
	rs.inProcess = true
	rs.mu.Unlock()

	defer func() {
		rs.mu.Lock()
		rs.inProcess = false
		rs.mu.Unlock()
	}()

	startedAt := rs.now().UTC()
	rs.logger.Info("Reconciliation начата")

	report, err := rs.reconcile(ctx)
	if err != nil {
		return nil, err
	}

	if n, err := rs.journal.CleanCommitted(); err != nil {
		rs.logger.Warn("Ошибка очистки журнала", slog.String("error", err.Error()))
	} else if n > 0 {
		rs.logger.Debug("Журнал очищен", slog.Int("removed", n))
	}

	report.StartedAt = startedAt
	report.CompletedAt = rs.now().UTC()
	duration := report.CompletedAt.Sub(startedAt)

	reconcileRunsTotal.Inc()
	reconcileDurationSeconds.Observe(duration.Seconds())
	for _, issue := range report.Issues {
		reconcileIssuesTotal.WithLabelValues(string(issue.Type)).Inc()
	}

	level := slog.LevelInfo
	if len(report.Issues) > 0 {
		level = slog.LevelWarn
	}
	rs.logger.Log(ctx, level, "Reconciliation завершена",
		slog.Int("files_checked", report.FilesChecked),
		slog.Int("issues", len(report.Issues)),
		slog.Int("ok", report.Summary.Ok),
		slog.Duration("duration", duration),
	)
	return report, nil
}

// reconcile сравнивает файлы на диске с индексом метаданных.
func (rs *ReconcileService) reconcile(ctx context.Context) (*ReconcileReport, error) {
	index, err := rs.store.Documents().StorageIndex(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки индекса документов: %w", err)
	}

	report := &ReconcileReport{Issues: []ReconcileIssue{}}
	now := rs.now()
	seen := make(map[string]bool, len(index))

	err = rs.files.Walk(func(fi filestore.FileInfo) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		seen[fi.StoragePath] = true

		entry, ok := index[fi.StoragePath]
		if !ok {
			if now.Sub(fi.ModTime) < rs.grace {
				report.Summary.InFlight++
				return nil
			}
			report.FilesChecked++
			report.Issues = append(report.Issues, rs.orphan(fi))
			return nil
		}

		report.FilesChecked++
		if issue, bad := rs.check(fi, entry); bad {
			report.Issues = append(report.Issues, issue)
			return nil
		}
		report.Summary.Ok++
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка обхода хранилища: %w", err)
	}

	for path, entry := range index {
		if seen[path] {
			continue
		}
		// Документ мог быть удалён после загрузки индекса
		exists, err := rs.store.Documents().ExistsByStoragePath(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("ошибка проверки метаданных %s: %w", path, err)
		}
		if !exists || rs.files.Exists(path) {
			continue
		}
		report.FilesChecked++
		report.Issues = append(report.Issues, ReconcileIssue{
			Type:        IssueMissingBlob,
			Path:        path,
			DocumentID:  entry.DocumentID,
			Description: "Метаданные документа без файла на диске",
		})
	}

	sort.Slice(report.Issues, func(i, j int) bool {
		if report.Issues[i].Path != report.Issues[j].Path {
			return report.Issues[i].Path < report.Issues[j].Path
		}
		return report.Issues[i].Type < report.Issues[j].Type
	})

	for _, issue := range report.Issues {
		switch issue.Type {
		case IssueOrphanedFile:
			report.Summary.OrphanedFiles++
			if issue.Removed {
				report.Summary.RemovedOrphans++
			}
		case IssueMissingBlob:
			report.Summary.MissingBlobs++
		case IssueSizeMismatch:
			report.Summary.SizeMismatches++
		case IssueDigestMismatch:
			report.Summary.DigestMismatches++
		}
	}
	return report, nil
}

// orphan описывает осиротевший файл и удаляет его при MA_RECONCILE_REMOVE_ORPHANS.
func (rs *ReconcileService) orphan(fi filestore.FileInfo) ReconcileIssue {
	issue := ReconcileIssue{
		Type:        IssueOrphanedFile,
		Path:        fi.StoragePath,
		Size:        fi.Size,
		Description: "Файл на диске без метаданных",
	}

	digest, err := rs.files.ComputeChecksum(fi.StoragePath)
	if err != nil {
		rs.logger.Warn("Ошибка вычисления digest осиротевшего файла",
			slog.String("path", fi.StoragePath),
			slog.String("error", err.Error()),
		)
	} else {
		issue.Digest = digest
	}

	if rs.removeOrphans {
		if err := rs.files.Delete(fi.StoragePath); err != nil {
			rs.logger.Warn("Не удалось удалить осиротевший файл",
				slog.String("path", fi.StoragePath),
				slog.String("error", err.Error()),
			)
		} else {
			issue.Removed = true
			rs.logger.Info("Осиротевший файл удалён",
				slog.String("path", fi.StoragePath),
				slog.String("digest", issue.Digest),
			)
		}
	}
	return issue
}

// check сверяет размер и, при включённой проверке, digest файла.
func (rs *ReconcileService) check(fi filestore.FileInfo, entry repository.IndexEntry) (ReconcileIssue, bool) {
	if fi.Size != entry.Size {
		return ReconcileIssue{
			Type:        IssueSizeMismatch,
			Path:        fi.StoragePath,
			DocumentID:  entry.DocumentID,
			Size:        fi.Size,
			Description: fmt.Sprintf("Размер файла %d не совпадает с метаданными (%d)", fi.Size, entry.Size),
		}, true
	}
	if !rs.verifyDigests {
		return ReconcileIssue{}, false
	}

	digest, err := rs.files.ComputeChecksum(fi.StoragePath)
	if err != nil {
		rs.logger.Warn("Ошибка вычисления digest",
			slog.String("path", fi.StoragePath),
			slog.String("error", err.Error()),
		)
		return ReconcileIssue{}, false
	}
	if digest != entry.Digest {
		return ReconcileIssue{
			Type:           IssueDigestMismatch,
			Path:           fi.StoragePath,
			DocumentID:     entry.DocumentID,
			Digest:         digest,
			ExpectedDigest: entry.Digest,
			Description:    "Digest файла не совпадает с метаданными",
		}, true
	}
	return ReconcileIssue{}, false
}

// gc.go — сервис фоновой очистки (Garbage Collection) незавершённых загрузок.
//
// Загрузка сначала пишется во временный файл {MA_DATA_DIR}/.incoming/*.part.
// Если процесс падает до перемещения файла, временный файл остаётся.
// GC удаляет такие файлы старше MA_INCOMING_TTL.
//
// Запускается как горутина с периодическим тикером (MA_GC_INTERVAL).
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/medarchive/internal/storage/filestore"
)

// Prometheus метрики GC
var (
	// gcRunsTotal — количество запусков GC.
	gcRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ma_gc_runs_total",
		Help: "Общее количество запусков GC",
	})

	// gcFilesDeletedTotal — количество удалённых временных файлов.
	gcFilesDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ma_gc_files_deleted_total",
		Help: "Общее количество временных файлов, удалённых GC",
	})

	// gcDurationSeconds — длительность выполнения GC.
	gcDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ma_gc_duration_seconds",
		Help:    "Длительность выполнения GC в секундах",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	})
)

// GCResult — результат одного запуска GC.
type GCResult struct {
	// DeletedCount — количество удалённых временных файлов
	DeletedCount int
	// Errors — количество ошибок
	Errors int
	// Duration — длительность выполнения
	Duration time.Duration
}

// GCService — сервис фоновой очистки временных файлов.
type GCService struct {
	files    *filestore.FileStore
	interval time.Duration
	ttl      time.Duration
	now      func() time.Time
	logger   *slog.Logger

	mu     sync.Mutex // защита от параллельного запуска RunOnce
	cancel context.CancelFunc
}

// NewGCService создаёт сервис GC.
func NewGCService(
	files *filestore.FileStore,
	interval, ttl time.Duration,
	logger *slog.Logger,
) *GCService {
	return &GCService{
		files:    files,
		interval: interval,
		ttl:      ttl,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "gc")),
	}
}

// Start запускает фоновую горутину GC с периодическим тикером.
// Вызывается один раз при старте приложения.
func (gc *GCService) Start(ctx context.Context) {
	gcCtx, cancel := context.WithCancel(ctx)
	gc.cancel = cancel

	go gc.run(gcCtx)

	gc.logger.Info("GC запущен",
		slog.String("interval", gc.interval.String()),
		slog.String("ttl", gc.ttl.String()),
	)
}

// Stop останавливает фоновый процесс GC.
func (gc *GCService) Stop() {
	if gc.cancel != nil {
		gc.cancel()
	}
	gc.logger.Info("GC остановлен")
}

// run — основной цикл фоновой горутины.
func (gc *GCService) run(ctx context.Context) {
	// Первый запуск — сразу после старта
	gc.RunOnce()

	ticker := time.NewTicker(gc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			gc.RunOnce()
		}
	}
}

// RunOnce выполняет один цикл GC.
func (gc *GCService) RunOnce() GCResult {
	gc.mu.Lock()
	defer gc.mu.Unlock()

	start := time.Now()
	var result GCResult

	deleted, err := gc.files.CleanIncoming(gc.ttl, gc.now())
	result.DeletedCount = deleted
	if err != nil {
		result.Errors++
		gc.logger.Error("Ошибка очистки временных файлов", slog.String("error", err.Error()))
	}

	result.Duration = time.Since(start)

	gcRunsTotal.Inc()
	gcFilesDeletedTotal.Add(float64(result.DeletedCount))
	gcDurationSeconds.Observe(result.Duration.Seconds())

	if result.DeletedCount > 0 || result.Errors > 0 {
		gc.logger.Info("GC завершён",
			slog.Int("deleted", result.DeletedCount),
			slog.Int("errors", result.Errors),
			slog.Duration("duration", result.Duration),
		)
	} else {
		gc.logger.Debug("GC завершён, нечего обрабатывать",
			slog.Duration("duration", result.Duration),
		)
	}
	return result
}

// Точка входа medarchive — ядра оцифровки медицинских карт.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"

	"github.com/bigkaa/medarchive/internal/api/handlers"
	"github.com/bigkaa/medarchive/internal/api/middleware"
	"github.com/bigkaa/medarchive/internal/backup"
	"github.com/bigkaa/medarchive/internal/config"
	"github.com/bigkaa/medarchive/internal/database"
	"github.com/bigkaa/medarchive/internal/leader"
	"github.com/bigkaa/medarchive/internal/ocr"
	"github.com/bigkaa/medarchive/internal/repository"
	"github.com/bigkaa/medarchive/internal/server"
	"github.com/bigkaa/medarchive/internal/service"
	"github.com/bigkaa/medarchive/internal/storage/filestore"
	"github.com/bigkaa/medarchive/internal/storage/wal"
	"github.com/bigkaa/medarchive/internal/worker"
)

// jwksClientTimeout — таймаут HTTP-клиента при загрузке JWKS.
const jwksClientTimeout = 10 * time.Second

func main() {
	// .env — только для локального запуска, в кластере переменные задаёт манифест
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Ошибка чтения .env: %v\n", err)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка конфигурации: %v\n", err)
		os.Exit(1)
	}

	logger := config.SetupLogger(cfg)
	logger.Info("medarchive запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("data_dir", cfg.DataDir),
		slog.Int("retention_years", cfg.RetentionYears),
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("medarchive остановлен")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx := context.Background()

	// --- Инициализация компонентов ---

	// 1. PostgreSQL: миграции и пул соединений
	if err := database.Migrate(cfg, logger); err != nil {
		return fmt.Errorf("миграции: %w", err)
	}
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("подключение к PostgreSQL: %w", err)
	}
	defer pool.Close()
	store := repository.NewPgStore(pool)

	// 2. WAL-журнал и файловое хранилище
	journal, err := wal.New(cfg.WALDir, logger)
	if err != nil {
		return fmt.Errorf("инициализация WAL: %w", err)
	}
	files, err := filestore.New(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("инициализация FileStore: %w", err)
	}

	// 3. Резервное копирование (необязательно)
	var replicator service.BlobReplicator
	backupURL := ""
	if cfg.BackupEndpoint != "" {
		rep, backupErr := newReplicator(ctx, cfg, logger)
		if backupErr != nil {
			logger.Warn("Резервное копирование недоступно",
				slog.String("endpoint", cfg.BackupEndpoint),
				slog.String("error", backupErr.Error()),
			)
		} else {
			replicator = rep
			backupURL = rep.EndpointURL()
			logger.Info("Резервное копирование настроено",
				slog.String("endpoint", backupURL),
				slog.String("bucket", rep.Bucket()),
			)
		}
	}

	// 4. Сервисы
	cache := service.NewDocumentCache(cfg.CacheSize, cfg.CacheTTL)
	content := service.NewContentStore(cfg, store, files, journal, cache, replicator, logger)
	audit := service.NewAuditRecorder(store.Audit(), logger)

	// WAL recovery: завершаем операции, прерванные сбоем
	recovered, err := content.Recover(ctx)
	if err != nil {
		return fmt.Errorf("восстановление WAL: %w", err)
	}
	if recovered.Committed+recovered.RolledBack > 0 {
		logger.Warn("Незавершённые операции журнала восстановлены",
			slog.Int("committed", recovered.Committed),
			slog.Int("rolled_back", recovered.RolledBack),
		)
	}

	// 5. Фоновая обработка: OCR и резервное копирование
	workers := worker.NewPool(cfg.EnrichWorkers, cfg.EnrichQueue, logger)

	var extractor ocr.Extractor
	if cfg.OCRCommand != "" {
		cmdExtractor, ocrErr := ocr.NewCommandExtractor(cfg.OCRCommand, cfg.OCRLanguage, cfg.OCRTimeout)
		if ocrErr != nil {
			logger.Warn("OCR недоступен, распознавание текста отключено",
				slog.String("error", ocrErr.Error()),
			)
		} else {
			extractor = cmdExtractor
			logger.Info("OCR настроен", slog.String("command", cfg.OCRCommand))
		}
	}

	enrichment := service.NewEnrichmentService(workers, store, files, extractor, replicator, logger)
	checklists := service.NewChecklistService(store, audit, logger)
	records := service.NewRecordService(cfg, store, content, checklists, audit, logger)
	documents := service.NewDocumentService(content, store, audit, enrichment, logger)

	// 6. Фоновые процессы: GC и reconciliation только на экземпляре,
	// владеющем блокировкой обслуживания в MA_DATA_DIR
	gcSvc := service.NewGCService(files, cfg.GCInterval, cfg.IncomingTTL, logger)
	reconcileSvc := service.NewReconcileService(cfg, store, files, journal, logger)

	election := leader.New(cfg.DataDir, instanceName(), 0, func() {
		gcSvc.Start(ctx)
		reconcileSvc.Start(ctx)
	}, logger)
	if err := election.Start(); err != nil {
		return fmt.Errorf("блокировка обслуживания: %w", err)
	}

	// 6.1 topologymetrics — мониторинг зависимостей
	sqlDB := stdlib.OpenDBFromPool(pool)
	defer sqlDB.Close()

	dephealthSvc, dephealthErr := service.NewDephealthService(
		dephealthServiceID(),
		cfg.DephealthGroup,
		sqlDB,
		cfg.DatabaseURL("postgres"),
		backupURL,
		cfg.DephealthCheckInterval,
		logger,
	)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
		dephealthSvc = nil
	} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
		logger.Warn("Ошибка запуска topologymetrics",
			slog.String("error", startErr.Error()),
		)
		dephealthSvc = nil
	} else {
		logger.Info("topologymetrics запущен",
			slog.String("check_interval", cfg.DephealthCheckInterval.String()),
		)
	}

	// 7. Handlers
	apiHandler := handlers.NewAPIHandler(
		handlers.NewDocumentsHandler(documents, cfg.MaxFileSize, logger),
		handlers.NewRecordsHandler(records, logger),
		handlers.NewChecklistHandler(checklists, logger),
		handlers.NewSystemHandler(cfg, diskUsageFn(cfg.DataDir), election),
		handlers.NewMaintenanceHandler(reconcileSvc, logger),
		handlers.NewAuditHandler(audit, logger),
		handlers.NewHealthHandler(cfg.DataDir, cfg.WALDir, database.NewReadinessChecker(pool)),
	)

	// 8. JWT middleware
	var auth func(http.Handler) http.Handler
	if cfg.AuthEnabled() {
		jwtAuth, jwtErr := middleware.NewJWTAuth(middleware.JWTAuthConfig{
			JWKSURL:         cfg.JWKSUrl,
			ClientTimeout:   jwksClientTimeout,
			RefreshInterval: cfg.JWKSRefreshInterval,
			JWTLeeway:       cfg.JWTLeeway,
		}, logger)
		if jwtErr != nil {
			return fmt.Errorf("инициализация JWT: %w", jwtErr)
		}
		auth = jwtAuth.Middleware()
		logger.Info("JWT аутентификация настроена", slog.String("jwks_url", cfg.JWKSUrl))
	} else {
		logger.Warn("MA_JWKS_URL не задан, запуск без аутентификации")
	}

	// 9. HTTP-сервер
	srvErr := server.New(cfg, logger, apiHandler, auth).Run()

	// --- Graceful shutdown фоновых процессов ---
	logger.Info("Остановка фоновых процессов...")

	election.Stop()
	gcSvc.Stop()
	reconcileSvc.Stop()
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	workers.Shutdown(shutdownCtx)

	return srvErr
}

// newReplicator создаёт клиент резервного копирования и проверяет бакет.
func newReplicator(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*backup.Replicator, error) {
	rep, err := backup.New(cfg, logger)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := rep.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	return rep, nil
}

// diskUsageFn возвращает функцию для получения информации об ёмкости диска.
func diskUsageFn(dataDir string) handlers.DiskUsageFunc {
	return func() (int64, int64, int64, error) {
		return getDiskUsage(dataDir)
	}
}

// Пакет leader — выбор экземпляра, выполняющего фоновое обслуживание
// хранилища (reconciliation, GC), когда несколько экземпляров medarchive
// работают с общим MA_DATA_DIR (NFS v4+).
//
// Алгоритм:
//  1. Попытка захватить эксклюзивный flock на {dataDir}/.maintenance.lock
//  2. Получен — роль leader, имя экземпляра записывается в .maintenance.owner
//  3. Не получен — роль standby, владелец читается из .maintenance.owner
//  4. Standby периодически повторяет попытку захвата
//
// Загрузка и чтение документов доступны на любом экземпляре.
package leader

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"
)

const (
	// LockFile — имя файла блокировки.
	LockFile = ".maintenance.lock"
	// OwnerFile — имя файла с владельцем блокировки.
	OwnerFile = ".maintenance.owner"
	// DefaultRetryInterval — интервал повторного захвата для standby.
	DefaultRetryInterval = 5 * time.Second
)

// Role — роль экземпляра в фоновом обслуживании.
type Role string

const (
	// RoleLeader — выполняет reconciliation и GC.
	RoleLeader Role = "leader"
	// RoleStandby — ожидает освобождения блокировки.
	RoleStandby Role = "standby"
)

// Election — выбор leader через flock() на общей FS.
type Election struct {
	dataDir  string
	identity string
	retry    time.Duration
	logger   *slog.Logger

	// onAcquire вызывается один раз при получении роли leader
	onAcquire func()

	mu       sync.RWMutex
	role     Role
	owner    string
	lockFile *os.File

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// New создаёт Election. identity — имя экземпляра в .maintenance.owner
// (обычно hostname), retry <= 0 — DefaultRetryInterval.
func New(dataDir, identity string, retry time.Duration, onAcquire func(), logger *slog.Logger) *Election {
	if retry <= 0 {
		retry = DefaultRetryInterval
	}
	return &Election{
		dataDir:   dataDir,
		identity:  identity,
		retry:     retry,
		onAcquire: onAcquire,
		logger:    logger.With(slog.String("component", "leader")),
		role:      RoleStandby,
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start выполняет первую попытку захвата и возвращает управление.
// Standby продолжает попытки в фоне до Stop.
func (e *Election) Start() error {
	acquired, err := e.tryAcquire()
	if err != nil {
		return fmt.Errorf("ошибка при попытке захвата lock: %w", err)
	}

	if acquired {
		e.becomeLeader()
		close(e.done)
		return nil
	}

	e.becomeStandby()
	go e.retryLoop()
	return nil
}

// Stop освобождает блокировку. Повторный вызов безопасен.
func (e *Election) Stop() {
	e.stopOnce.Do(func() {
		close(e.stopCh)
		<-e.done

		e.mu.Lock()
		defer e.mu.Unlock()

		if e.lockFile != nil {
			_ = syscall.Flock(int(e.lockFile.Fd()), syscall.LOCK_UN)
			_ = e.lockFile.Close()
			e.lockFile = nil
			e.logger.Info("Lock освобождён")
		}
	})
}

// CurrentRole возвращает текущую роль экземпляра.
func (e *Election) CurrentRole() Role {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.role
}

// IsLeader возвращает true, если экземпляр выполняет обслуживание.
func (e *Election) IsLeader() bool {
	return e.CurrentRole() == RoleLeader
}

// Owner возвращает имя экземпляра, владеющего блокировкой.
// Пустая строка — владелец неизвестен.
func (e *Election) Owner() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.owner
}

// tryAcquire пытается захватить flock без ожидания.
func (e *Election) tryAcquire() (bool, error) {
	lockPath := filepath.Join(e.dataDir, LockFile)

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o640)
	if err != nil {
		return false, fmt.Errorf("не удалось открыть lock-файл %s: %w", lockPath, err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		// Блокировка занята другим экземпляром
		_ = f.Close()
		return false, nil
	}

	e.mu.Lock()
	e.lockFile = f
	e.mu.Unlock()
	return true, nil
}

func (e *Election) becomeLeader() {
	e.mu.Lock()
	e.role = RoleLeader
	e.owner = e.identity
	e.mu.Unlock()

	if err := e.writeOwner(); err != nil {
		e.logger.Error("Ошибка записи владельца блокировки", slog.String("error", err.Error()))
	}

	e.logger.Info("Роль: LEADER, фоновое обслуживание на этом экземпляре",
		slog.String("identity", e.identity),
	)

	if e.onAcquire != nil {
		e.onAcquire()
	}
}

func (e *Election) becomeStandby() {
	owner := e.readOwner()

	e.mu.Lock()
	e.role = RoleStandby
	e.owner = owner
	e.mu.Unlock()

	e.logger.Info("Роль: STANDBY", slog.String("owner", owner))
}

// retryLoop — попытки захвата до получения блокировки или Stop.
func (e *Election) retryLoop() {
	defer close(e.done)

	ticker := time.NewTicker(e.retry)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			owner := e.readOwner()
			e.mu.Lock()
			e.owner = owner
			e.mu.Unlock()

			acquired, err := e.tryAcquire()
			if err != nil {
				e.logger.Warn("Ошибка повторного захвата lock", slog.String("error", err.Error()))
				continue
			}
			if acquired {
				e.becomeLeader()
				return
			}
		}
	}
}

// writeOwner атомарно записывает identity в .maintenance.owner.
func (e *Election) writeOwner() error {
	path := filepath.Join(e.dataDir, OwnerFile)
	tmp := path + ".tmp"

	if err := os.WriteFile(tmp, []byte(e.identity), 0o640); err != nil {
		return fmt.Errorf("ошибка записи %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("ошибка переименования %s: %w", tmp, err)
	}
	return nil
}

// readOwner читает .maintenance.owner. Ошибка чтения — пустая строка.
func (e *Election) readOwner() string {
	data, err := os.ReadFile(filepath.Join(e.dataDir, OwnerFile))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

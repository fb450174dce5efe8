// Пакет worker — ограниченный пул фоновых задач.
// Очередь фиксированного размера: при переполнении задача отбрасывается,
// вызывающий код не блокируется.
package worker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ma_worker_tasks_total",
		Help: "Количество выполненных фоновых задач по имени и результату",
	}, []string{"task", "result"})

	tasksDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ma_worker_tasks_dropped_total",
		Help: "Количество отброшенных фоновых задач (очередь заполнена или пул остановлен)",
	}, []string{"task"})

	queueLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ma_worker_queue_length",
		Help: "Текущая длина очереди фоновых задач",
	})
)

// Task — фоновая задача.
type Task struct {
	// Name — имя для логов и метрик (ocr, backup)
	Name string
	Run  func(ctx context.Context) error
}

// Pool — пул воркеров.
type Pool struct {
	queue  chan Task
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// NewPool запускает size воркеров с очередью queueSize.
func NewPool(size, queueSize int, logger *slog.Logger) *Pool {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		queue:  make(chan Task, queueSize),
		ctx:    ctx,
		cancel: cancel,
		logger: logger.With(slog.String("component", "worker_pool")),
	}

	for range size {
		p.wg.Add(1)
		go p.work()
	}
	return p
}

func (p *Pool) work() {
	defer p.wg.Done()

	for task := range p.queue {
		queueLength.Dec()
		if err := task.Run(p.ctx); err != nil {
			tasksTotal.WithLabelValues(task.Name, "error").Inc()
			p.logger.Warn("Фоновая задача завершилась с ошибкой",
				slog.String("task", task.Name),
				slog.String("error", err.Error()),
			)
			continue
		}
		tasksTotal.WithLabelValues(task.Name, "ok").Inc()
	}
}

// Submit ставит задачу в очередь. Возвращает false, если очередь
// заполнена или пул остановлен.
func (p *Pool) Submit(task Task) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		tasksDroppedTotal.WithLabelValues(task.Name).Inc()
		p.logger.Warn("Пул остановлен, задача отброшена", slog.String("task", task.Name))
		return false
	}

	select {
	case p.queue <- task:
		queueLength.Inc()
		return true
	default:
		tasksDroppedTotal.WithLabelValues(task.Name).Inc()
		p.logger.Warn("Очередь фоновых задач заполнена, задача отброшена",
			slog.String("task", task.Name),
			slog.Int("capacity", cap(p.queue)),
		)
		return false
	}
}

// Shutdown прекращает приём задач и ждёт выполнения очереди.
// По истечении ctx контекст выполняющихся задач отменяется.
func (p *Pool) Shutdown(ctx context.Context) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		p.logger.Warn("Таймаут остановки пула, отмена выполняющихся задач")
		p.cancel()
		<-done
	}
	p.cancel()
}

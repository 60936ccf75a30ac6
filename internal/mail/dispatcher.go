package mail

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sketchdev/wrestler/internal/metrics"
)

// ErrQueueFull はキューに空きがない場合のエラー。
var ErrQueueFull = errors.New("mail queue is full")

// ErrQueueClosed はClose後に投入された場合のエラー。
var ErrQueueClosed = errors.New("mail queue is closed")

// DispatcherConfig はDispatcherの設定。
type DispatcherConfig struct {
	Workers     int           // 送信ワーカー数
	QueueSize   int           // 待ち行列の長さ
	SendTimeout time.Duration // 1通あたりの送信タイムアウト
}

// DefaultDispatcherConfig はDispatcherの既定値を返す。
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		Workers:     2,
		QueueSize:   100,
		SendTimeout: 30 * time.Second,
	}
}

type job struct {
	template string
	msg      Message
}

// Dispatcher はワーカーでメールを非同期に送信するQueue。
type Dispatcher struct {
	notifier Notifier
	logger   *slog.Logger
	metrics  metrics.MetricsCollector
	timeout  time.Duration

	jobs   chan job
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

// NewDispatcher はDispatcherを生成し、ワーカーを起動する。
// 0以下の設定値は既定値に置き換える。
func NewDispatcher(notifier Notifier, logger *slog.Logger, m metrics.MetricsCollector, cfg DispatcherConfig) *Dispatcher {
	def := DefaultDispatcherConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = def.SendTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.Nop{}
	}

	d := &Dispatcher{
		notifier: notifier,
		logger:   logger,
		metrics:  m,
		timeout:  cfg.SendTimeout,
		jobs:     make(chan job, cfg.QueueSize),
	}

	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}

	d.logger.Info("mail dispatcher started",
		slog.Int("workers", cfg.Workers),
		slog.Int("queue_size", cfg.QueueSize),
	)

	return d
}

// Enqueue はメールを待ち行列に積む。待たずに返り、空きがなければErrQueueFullを返す。
func (d *Dispatcher) Enqueue(_ context.Context, template string, msg Message) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return ErrQueueClosed
	}

	select {
	case d.jobs <- job{template: template, msg: msg}:
		return nil
	default:
		d.metrics.RecordEmailFailure(template)
		d.logger.Warn("mail queue is full, dropping message",
			slog.String("template", template),
		)
		return ErrQueueFull
	}
}

// Close は新規の投入を止め、積まれているメールをすべて送信してから返る。
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.jobs)
	d.mu.Unlock()

	d.wg.Wait()
	d.logger.Info("mail dispatcher stopped")
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for j := range d.jobs {
		d.send(j)
	}
}

func (d *Dispatcher) send(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	defer func() {
		if rec := recover(); rec != nil {
			d.metrics.RecordEmailFailure(j.template)
			d.logger.Error("panic while sending email",
				slog.String("template", j.template),
				slog.Any("panic", rec),
			)
		}
	}()

	receipt, err := d.notifier.Send(ctx, j.msg)
	if err != nil {
		d.metrics.RecordEmailFailure(j.template)
		d.logger.Error("failed to send email",
			slog.String("template", j.template),
			slog.String("error", err.Error()),
		)
		return
	}

	d.metrics.RecordEmailSent(j.template)
	d.logger.Info("email sent",
		slog.String("template", j.template),
		slog.String("receipt", receipt),
	)
}

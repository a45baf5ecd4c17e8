package reaper

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

const (
	defaultInterval     = 1 * time.Minute
	defaultExpiryWindow = 10 * time.Minute
	defaultReceiptGrace = 168 * time.Hour
	defaultBatchSize    = 100
)

var (
	reaperRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paygate_reaper_runs_total",
		Help: "Total number of reaper sweep runs grouped by sweep and result.",
	}, []string{"sweep", "result"})
	reaperCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "paygate_reaper_cancelled_orders_total",
		Help: "Total number of unpaid orders cancelled by the expiry sweep.",
	})
	reaperReceivedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "paygate_reaper_auto_received_orders_total",
		Help: "Total number of delivered orders auto-confirmed as received.",
	})
	reaperLastCancelled = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "paygate_reaper_last_cancelled_orders",
		Help: "Number of orders cancelled during the last expiry sweep.",
	})
	reaperExpirableOrders = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "paygate_reaper_expirable_orders",
		Help: "Current number of unpaid orders past the expiry window.",
	})
)

// Ledger описывает операции, которые нужны reaper'у от сервиса заказов.
type Ledger interface {
	CancelExpired(before time.Time, limit int) (int, error)
	ConfirmDeliveredBefore(before time.Time, limit int) (int, error)
	CountExpiredPending(before time.Time) (int, error)
}

// Options задаёт параметры фонового reaper'а.
type Options struct {
	Logger       *log.Entry
	Interval     time.Duration
	ExpiryWindow time.Duration
	ReceiptGrace time.Duration
	BatchSize    int
}

// Option настраивает Reaper.
type Option func(*Options)

// WithLogger задаёт logger для reaper'а.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithInterval задаёт частоту запусков.
func WithInterval(interval time.Duration) Option {
	return func(opts *Options) {
		opts.Interval = interval
	}
}

// WithExpiryWindow задаёт окно, после которого неоплаченный заказ считается просроченным.
func WithExpiryWindow(window time.Duration) Option {
	return func(opts *Options) {
		opts.ExpiryWindow = window
	}
}

// WithReceiptGrace задаёт срок, после которого доставленный заказ
// автоматически подтверждается как полученный.
func WithReceiptGrace(grace time.Duration) Option {
	return func(opts *Options) {
		opts.ReceiptGrace = grace
	}
}

// WithBatchSize задаёт размер батча за один проход.
func WithBatchSize(batchSize int) Option {
	return func(opts *Options) {
		opts.BatchSize = batchSize
	}
}

// Reaper периодически отменяет просроченные неоплаченные заказы
// и подтверждает получение давно доставленных.
type Reaper struct {
	ledger       Ledger
	logger       *log.Entry
	interval     time.Duration
	expiryWindow time.Duration
	receiptGrace time.Duration
	batchSize    int
	now          func() time.Time
}

// NewReaper создаёт reaper с дефолтными настройками: интервал 1m,
// окно оплаты 10m, авто-получение через 168h, батч 100.
func NewReaper(ledger Ledger, options ...Option) *Reaper {
	opts := Options{
		Interval:     defaultInterval,
		ExpiryWindow: defaultExpiryWindow,
		ReceiptGrace: defaultReceiptGrace,
		BatchSize:    defaultBatchSize,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "reaper")
	}

	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.ExpiryWindow <= 0 {
		opts.ExpiryWindow = defaultExpiryWindow
	}
	if opts.ReceiptGrace <= 0 {
		opts.ReceiptGrace = defaultReceiptGrace
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}

	return &Reaper{
		ledger:       ledger,
		logger:       logger,
		interval:     opts.Interval,
		expiryWindow: opts.ExpiryWindow,
		receiptGrace: opts.ReceiptGrace,
		batchSize:    opts.BatchSize,
		now:          time.Now,
	}
}

// WithClock подменяет источник времени (используется в тестах).
func (r *Reaper) WithClock(now func() time.Time) *Reaper {
	if now != nil {
		r.now = now
	}
	return r
}

// Run запускает периодические sweeps до отмены ctx.
func (r *Reaper) Run(ctx context.Context) {
	if r.ledger == nil {
		r.logger.Warn("reaper is disabled: ledger is nil")
		return
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce выполняет оба sweeps один раз.
func (r *Reaper) RunOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	now := r.now().UTC()
	r.SweepExpired(ctx, now)
	r.SweepAutoReceipt(ctx, now)
	r.refreshExpirableGauge(now)
}

// SweepExpired отменяет неоплаченные заказы старше окна оплаты.
// Батчи выбираются до тех пор, пока хранилище их отдаёт.
func (r *Reaper) SweepExpired(ctx context.Context, now time.Time) int {
	before := now.Add(-r.expiryWindow)
	total := 0

	for {
		if ctx.Err() != nil {
			return total
		}

		cancelled, err := r.ledger.CancelExpired(before, r.batchSize)
		if err != nil {
			r.logger.WithError(err).Warn("expiry sweep failed")
			reaperRuns.WithLabelValues("expiry", "error").Inc()
			return total
		}

		total += cancelled
		reaperCancelledTotal.Add(float64(cancelled))
		if cancelled < r.batchSize {
			break
		}
	}

	reaperRuns.WithLabelValues("expiry", "success").Inc()
	reaperLastCancelled.Set(float64(total))
	if total > 0 {
		r.logger.WithField("cancelled", total).Info("expired unpaid orders cancelled")
	}

	return total
}

// SweepAutoReceipt подтверждает получение заказов, доставленных раньше grace-срока.
func (r *Reaper) SweepAutoReceipt(ctx context.Context, now time.Time) int {
	before := now.Add(-r.receiptGrace)
	total := 0

	for {
		if ctx.Err() != nil {
			return total
		}

		confirmed, err := r.ledger.ConfirmDeliveredBefore(before, r.batchSize)
		if err != nil {
			r.logger.WithError(err).Warn("auto-receipt sweep failed")
			reaperRuns.WithLabelValues("auto_receipt", "error").Inc()
			return total
		}

		total += confirmed
		reaperReceivedTotal.Add(float64(confirmed))
		if confirmed < r.batchSize {
			break
		}
	}

	reaperRuns.WithLabelValues("auto_receipt", "success").Inc()
	if total > 0 {
		r.logger.WithField("received", total).Info("delivered orders auto-confirmed as received")
	}

	return total
}

// CountExpirable возвращает число неоплаченных заказов старше окна оплаты.
func (r *Reaper) CountExpirable() (int, error) {
	return r.ledger.CountExpiredPending(r.now().UTC().Add(-r.expiryWindow))
}

func (r *Reaper) refreshExpirableGauge(now time.Time) {
	count, err := r.ledger.CountExpiredPending(now.Add(-r.expiryWindow))
	if err != nil {
		r.logger.WithError(err).Warn("failed to count expirable orders")
		return
	}
	reaperExpirableOrders.Set(float64(count))
}

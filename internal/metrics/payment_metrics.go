package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PaymentMetrics содержит метрики платёжного цикла заказа.
type PaymentMetrics struct {
	// Счётчики callback'ов шлюзов по исходу
	callbacks *prometheus.CounterVec
	// Отвергнутые callback'и: невалидная подпись, неизвестный заказ и т.п.
	callbacksRejected *prometheus.CounterVec
	// Повторные уведомления об оплате, погашенные идемпотентностью
	duplicatePaid prometheus.Counter

	// Счётчики переходов статуса заказа
	transitions        *prometheus.CounterVec
	transitionRejected prometheus.Counter

	// Свипы reaper'а
	expiredOrders     prometheus.Counter
	autoReceiptOrders prometheus.Counter

	// Гистограмма обработки callback'а
	callbackDuration prometheus.Histogram

	// События outbox
	outboxEvents prometheus.Counter

	// Gauge текущих неоплаченных pending-заказов (обновляется свипом)
	pendingUnpaid prometheus.Gauge
}

// NewPaymentMetrics создаёт новый экземпляр метрик платёжного цикла.
func NewPaymentMetrics() *PaymentMetrics {
	return newPaymentMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func newPaymentMetricsWithRegisterer(registerer prometheus.Registerer) *PaymentMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &PaymentMetrics{
		callbacks: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "paygate_gateway_callbacks_total",
			Help: "Total number of gateway callbacks processed, by gateway and outcome",
		}, []string{"gateway", "outcome"}),
		callbacksRejected: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "paygate_gateway_callbacks_rejected_total",
			Help: "Total number of gateway callbacks rejected before processing",
		}, []string{"gateway", "reason"}),
		duplicatePaid: registerCounter(registerer, prometheus.CounterOpts{
			Name: "paygate_duplicate_paid_callbacks_total",
			Help: "Total number of duplicate success callbacks absorbed idempotently",
		}),
		transitions: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "paygate_order_transitions_total",
			Help: "Total number of order status transitions applied, by target status",
		}, []string{"to"}),
		transitionRejected: registerCounter(registerer, prometheus.CounterOpts{
			Name: "paygate_order_transitions_rejected_total",
			Help: "Total number of order status transitions rejected as invalid",
		}),
		expiredOrders: registerCounter(registerer, prometheus.CounterOpts{
			Name: "paygate_expired_orders_total",
			Help: "Total number of unpaid orders cancelled by the expiry sweep",
		}),
		autoReceiptOrders: registerCounter(registerer, prometheus.CounterOpts{
			Name: "paygate_auto_receipt_orders_total",
			Help: "Total number of delivered orders auto-confirmed as received",
		}),
		callbackDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "paygate_callback_duration_seconds",
			Help:    "Duration of gateway callback processing in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "paygate_outbox_events_total",
			Help: "Total number of outbox events enqueued",
		}),
		pendingUnpaid: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "paygate_pending_unpaid_orders",
			Help: "Number of pending orders still awaiting payment (refreshed by the expiry sweep)",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram %q: %v", opts.Name, err))
	}
	return collector
}

// RecordCallback учитывает обработанный callback шлюза.
func (m *PaymentMetrics) RecordCallback(gateway, outcome string) {
	m.callbacks.WithLabelValues(gateway, outcome).Inc()
}

// RecordCallbackRejected учитывает отвергнутый callback.
func (m *PaymentMetrics) RecordCallbackRejected(gateway, reason string) {
	m.callbacksRejected.WithLabelValues(gateway, reason).Inc()
}

// RecordDuplicatePaid учитывает повторное уведомление об уже оплаченном заказе.
func (m *PaymentMetrics) RecordDuplicatePaid() {
	m.duplicatePaid.Inc()
}

// RecordTransition учитывает применённый переход статуса.
func (m *PaymentMetrics) RecordTransition(to string) {
	m.transitions.WithLabelValues(to).Inc()
}

// RecordTransitionRejected учитывает отклонённый переход статуса.
func (m *PaymentMetrics) RecordTransitionRejected() {
	m.transitionRejected.Inc()
}

// RecordExpiredOrders учитывает заказы, отменённые expiry-свипом.
func (m *PaymentMetrics) RecordExpiredOrders(n int) {
	m.expiredOrders.Add(float64(n))
}

// RecordAutoReceiptOrders учитывает заказы, закрытые auto-receipt-свипом.
func (m *PaymentMetrics) RecordAutoReceiptOrders(n int) {
	m.autoReceiptOrders.Add(float64(n))
}

// RecordCallbackDuration записывает время обработки callback'а.
func (m *PaymentMetrics) RecordCallbackDuration(duration time.Duration) {
	m.callbackDuration.Observe(duration.Seconds())
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *PaymentMetrics) RecordOutboxEvent() {
	m.outboxEvents.Inc()
}

// SetPendingUnpaid обновляет gauge неоплаченных pending-заказов.
func (m *PaymentMetrics) SetPendingUnpaid(n int) {
	m.pendingUnpaid.Set(float64(n))
}

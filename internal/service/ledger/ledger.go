package ledger

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/paygate/internal/domain"
	"github.com/vladislavdragonenkov/paygate/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/paygate/internal/metrics"
)

const (
	maxSaveRetries = 3
	baseRetryDelay = 10 * time.Millisecond
)

// Ledger владеет жизненным циклом заказа: создание, применение платёжных исходов,
// переходы статуса и принудительное истечение. Все записи идут через optimistic
// locking; конфликт версии приводит к перечитыванию и повторной проверке правил.
type Ledger struct {
	orders        domain.OrderRepository
	audit         domain.PaymentAuditRepository
	outbox        domain.OutboxRepository
	logger        *log.Entry
	metrics       *metrics.PaymentMetrics
	kafkaProducer *kafka.Producer // опциональный прямой Kafka producer
	now           func() time.Time
}

// NewLedger создаёт рабочий экземпляр ledger'а.
func NewLedger(
	orders domain.OrderRepository,
	audit domain.PaymentAuditRepository,
	outbox domain.OutboxRepository,
	logger *log.Entry,
) *Ledger {
	if logger == nil {
		logger = log.New().WithField("component", "ledger")
	}
	return &Ledger{
		orders:  orders,
		audit:   audit,
		outbox:  outbox,
		logger:  logger,
		metrics: metrics.NewPaymentMetrics(),
		now:     time.Now,
	}
}

// NewLedgerWithKafka создаёт ledger с Kafka producer для event-driven архитектуры.
func NewLedgerWithKafka(
	orders domain.OrderRepository,
	audit domain.PaymentAuditRepository,
	outbox domain.OutboxRepository,
	kafkaProducer *kafka.Producer,
	logger *log.Entry,
) *Ledger {
	l := NewLedger(orders, audit, outbox, logger)
	l.kafkaProducer = kafkaProducer
	return l
}

// NewLedgerWithoutMetrics создаёт ledger без метрик (для тестов).
func NewLedgerWithoutMetrics(
	orders domain.OrderRepository,
	audit domain.PaymentAuditRepository,
	outbox domain.OutboxRepository,
	logger *log.Entry,
) *Ledger {
	l := NewLedger(orders, audit, outbox, logger)
	l.metrics = nil
	return l
}

// WithClock подменяет источник времени (для тестов).
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	if now != nil {
		l.now = now
	}
	return l
}

// CreateOrder валидирует и сохраняет новый заказ. Остатки списываются
// атомарно с созданием; нехватка любого товара отменяет заказ целиком.
func (l *Ledger) CreateOrder(order domain.Order) (domain.Order, error) {
	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	now := l.now().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now
	order.Status = domain.OrderStatusPending
	order.Payment = domain.PaymentStatusPending
	order.Version = 0
	for i := range order.Items {
		if order.Items[i].ID == "" {
			order.Items[i].ID = uuid.NewString()
		}
		if order.Items[i].CreatedAt.IsZero() {
			order.Items[i].CreatedAt = now
		}
	}

	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return domain.Order{}, errors.Join(errs...)
	}

	if err := l.orders.Create(order); err != nil {
		l.logger.WithError(err).WithField("order_number", order.OrderNumber).Warn("create order failed")
		return domain.Order{}, err
	}

	l.logger.WithFields(log.Fields{
		"order_id":     order.ID,
		"order_number": order.OrderNumber,
		"total":        order.Total.String(),
	}).Info("order created")
	l.emitOrderEvent(&order, kafka.EventTypeOrderCreated, nil)

	return order, nil
}

// RegisterPaymentAttempt фиксирует выбор шлюза перед переходом покупателя на оплату.
// Допустим только для заказов, оплата которых ещё возможна; повторная попытка
// после неудачи возвращает заказ в pending по оси оплаты.
func (l *Ledger) RegisterPaymentAttempt(orderNumber, gateway string) (domain.Order, error) {
	order, err := l.orders.GetByNumber(orderNumber)
	if err != nil {
		return domain.Order{}, err
	}

	updated, err := l.apply(order.ID, func(order *domain.Order) (mutation, error) {
		if order.Payment == domain.PaymentStatusPaid {
			return mutation{}, domain.ErrAlreadyPaid
		}
		if order.Status != domain.OrderStatusPending {
			return mutation{}, domain.ErrInvalidTransition
		}
		order.Gateway = gateway
		order.Payment = domain.PaymentStatusPending
		return mutation{changed: true}, nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	l.appendAudit(domain.PaymentAuditEntry{
		OrderID: updated.ID,
		Gateway: gateway,
		Kind:    domain.AuditPaymentCreated,
	}, nil)

	return updated, nil
}

// ApplyPaymentOutcome применяет нормализованный callback шлюза к заказу.
// Повторное подтверждение уже оплаченного заказа поглощается идемпотентно:
// заказ не меняется, в аудите появляется запись о дубликате.
func (l *Ledger) ApplyPaymentOutcome(event domain.PaymentEvent) (domain.Order, error) {
	if errs := event.Validate(); len(errs) > 0 {
		return domain.Order{}, errors.Join(errs...)
	}

	order, err := l.orders.GetByNumber(event.OrderNumber)
	if err != nil {
		return domain.Order{}, err
	}

	duplicate := false
	updated, err := l.apply(order.ID, func(order *domain.Order) (mutation, error) {
		duplicate = false
		// Оплата монотонна: подтверждённый заказ не меняется ни одним исходом.
		if order.Payment == domain.PaymentStatusPaid {
			duplicate = true
			return mutation{}, nil
		}

		switch event.Outcome {
		case domain.OutcomeSuccess:
			order.Payment = domain.PaymentStatusPaid
			order.Gateway = event.Gateway
			order.TransactionID = event.TransactionID
			if order.CanTransition(domain.OrderStatusProcessing, domain.ActorStaff) == nil {
				order.Status = domain.OrderStatusProcessing
			}
			return mutation{changed: true}, nil
		case domain.OutcomeFailed:
			order.Payment = domain.PaymentStatusFailed
			return mutation{changed: true}, nil
		case domain.OutcomePending:
			// Платёж ещё не подтверждён: заказ возвращается в оплачиваемое
			// состояние, в том числе после более раннего неуспешного callback'а.
			changed := order.Payment != domain.PaymentStatusPending
			order.Payment = domain.PaymentStatusPending
			return mutation{changed: changed}, nil
		case domain.OutcomeCancelledByUser:
			// Заказ остаётся оплачиваемым; меняется только журнал аудита.
			return mutation{}, nil
		default:
			return mutation{}, domain.ErrOutcomeUnknown
		}
	})
	if err != nil {
		return domain.Order{}, err
	}

	l.appendAudit(domain.PaymentAuditEntry{
		OrderID:       updated.ID,
		Gateway:       event.Gateway,
		Kind:          auditKindFor(event.Outcome, duplicate),
		TransactionID: event.TransactionID,
		ResponseCode:  event.ResponseCode,
	}, event.Raw)

	if duplicate {
		if l.metrics != nil {
			l.metrics.RecordDuplicatePaid()
		}
		l.logger.WithFields(log.Fields{
			"order_id": updated.ID,
			"gateway":  event.Gateway,
			"outcome":  string(event.Outcome),
		}).Info("callback for already paid order absorbed")
		return updated, nil
	}

	if l.metrics != nil {
		l.metrics.RecordCallback(event.Gateway, string(event.Outcome))
	}

	switch event.Outcome {
	case domain.OutcomeSuccess:
		l.emitOrderEvent(&updated, kafka.EventTypeOrderPaid, map[string]interface{}{
			"transaction_id": event.TransactionID,
			"response_code":  event.ResponseCode,
		})
	case domain.OutcomeFailed:
		l.emitOrderEvent(&updated, kafka.EventTypePaymentFailed, map[string]interface{}{
			"response_code": event.ResponseCode,
			"message":       event.Message,
		})
	}

	return updated, nil
}

// TransitionStatus применяет переход статуса от имени актора.
// Отмена возвращает остатки на склад ровно один раз за жизнь заказа.
func (l *Ledger) TransitionStatus(orderID string, to domain.OrderStatus, actor domain.Actor) (domain.Order, error) {
	updated, err := l.apply(orderID, func(order *domain.Order) (mutation, error) {
		if order.Status == to {
			return mutation{}, nil
		}
		if err := order.CanTransition(to, actor); err != nil {
			return mutation{}, err
		}

		var restock []domain.StockAdjustment
		now := l.now().UTC()
		switch to {
		case domain.OrderStatusCancelled:
			restock = restockOnCancel(order)
		case domain.OrderStatusDelivered:
			order.DeliveredAt = &now
		case domain.OrderStatusReceived:
			order.ReceivedAt = &now
		}
		order.Status = to
		return mutation{changed: true, restock: restock}, nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) && l.metrics != nil {
			l.metrics.RecordTransitionRejected()
		}
		return domain.Order{}, err
	}

	if l.metrics != nil {
		l.metrics.RecordTransition(string(to))
	}
	l.emitOrderEvent(&updated, eventTypeForStatus(to), map[string]interface{}{
		"actor": string(actor),
	})

	return updated, nil
}

// CancelExpired отменяет неоплаченные заказы, созданные раньше before.
// Предикат перепроверяется по свежей версии каждого заказа, поэтому свип
// безопасен при конкурентной оплате и при повторных запусках.
func (l *Ledger) CancelExpired(before time.Time, limit int) (int, error) {
	candidates, err := l.orders.ListExpiredPending(before, limit)
	if err != nil {
		return 0, err
	}

	cancelled := 0
	for _, candidate := range candidates {
		applied := false
		updated, err := l.apply(candidate.ID, func(order *domain.Order) (mutation, error) {
			applied = false
			// Между выборкой и записью заказ мог быть оплачен или отменён.
			if order.Status != domain.OrderStatusPending ||
				order.Payment != domain.PaymentStatusPending ||
				!order.CreatedAt.Before(before) {
				return mutation{}, nil
			}
			applied = true

			order.Status = domain.OrderStatusCancelled
			order.Payment = domain.PaymentStatusFailed
			return mutation{changed: true, restock: restockOnCancel(order)}, nil
		})
		if err != nil {
			l.logger.WithError(err).WithField("order_id", candidate.ID).Warn("expiry cancel failed")
			continue
		}
		if !applied {
			continue
		}

		cancelled++
		l.appendAudit(domain.PaymentAuditEntry{
			OrderID: updated.ID,
			Gateway: updated.Gateway,
			Kind:    domain.AuditExpiry,
		}, nil)
		l.emitOrderEvent(&updated, kafka.EventTypeOrderExpired, map[string]interface{}{
			"expired_before": before.UTC().Format(time.RFC3339Nano),
		})
	}

	if l.metrics != nil && cancelled > 0 {
		l.metrics.RecordExpiredOrders(cancelled)
	}

	return cancelled, nil
}

// ConfirmDeliveredBefore закрывает доставленные заказы, которые покупатель
// не подтвердил в течение grace-периода.
func (l *Ledger) ConfirmDeliveredBefore(before time.Time, limit int) (int, error) {
	candidates, err := l.orders.ListDeliveredBefore(before, limit)
	if err != nil {
		return 0, err
	}

	confirmed := 0
	for _, candidate := range candidates {
		applied := false
		updated, err := l.apply(candidate.ID, func(order *domain.Order) (mutation, error) {
			applied = false
			if order.Status != domain.OrderStatusDelivered {
				return mutation{}, nil
			}
			anchor := order.UpdatedAt
			if order.DeliveredAt != nil {
				anchor = *order.DeliveredAt
			}
			if !anchor.Before(before) {
				return mutation{}, nil
			}

			applied = true
			now := l.now().UTC()
			order.Status = domain.OrderStatusReceived
			order.ReceivedAt = &now
			return mutation{changed: true}, nil
		})
		if err != nil {
			l.logger.WithError(err).WithField("order_id", candidate.ID).Warn("auto receipt failed")
			continue
		}
		if !applied {
			continue
		}

		confirmed++
		l.emitOrderEvent(&updated, kafka.EventTypeOrderReceived, map[string]interface{}{
			"auto_receipt": true,
		})
	}

	if l.metrics != nil && confirmed > 0 {
		l.metrics.RecordAutoReceiptOrders(confirmed)
	}

	return confirmed, nil
}

// CountExpiredPending возвращает размер очереди на истечение и обновляет gauge.
func (l *Ledger) CountExpiredPending(before time.Time) (int, error) {
	count, err := l.orders.CountExpiredPending(before)
	if err != nil {
		return 0, err
	}
	if l.metrics != nil {
		l.metrics.SetPendingUnpaid(count)
	}
	return count, nil
}

// GetOrder возвращает заказ по идентификатору.
func (l *Ledger) GetOrder(orderID string) (domain.Order, error) {
	return l.orders.Get(orderID)
}

// GetOrderByNumber возвращает заказ по номеру.
func (l *Ledger) GetOrderByNumber(orderNumber string) (domain.Order, error) {
	return l.orders.GetByNumber(orderNumber)
}

// ListAudit возвращает журнал платёжных взаимодействий заказа.
func (l *Ledger) ListAudit(orderID string) ([]domain.PaymentAuditEntry, error) {
	return l.audit.List(orderID)
}

// restockOnCancel помечает первую отмену заказа и возвращает дельты остатков.
// Единственное место, где проверяется и взводится StockRestored: и ручная
// отмена, и expiry-свип возвращают остатки ровно один раз за жизнь заказа.
func restockOnCancel(order *domain.Order) []domain.StockAdjustment {
	if order.StockRestored {
		return nil
	}
	order.StockRestored = true
	return order.RestockAdjustments()
}

// mutation описывает результат применения бизнес-правила к свежей версии заказа.
type mutation struct {
	changed bool
	restock []domain.StockAdjustment
}

// apply перечитывает заказ, применяет mutate и сохраняет результат.
// Конфликт версий приводит к повтору с exponential backoff; бизнес-правила
// перепроверяются на каждой итерации по свежему состоянию.
func (l *Ledger) apply(orderID string, mutate func(order *domain.Order) (mutation, error)) (domain.Order, error) {
	for attempt := 0; attempt < maxSaveRetries; attempt++ {
		order, err := l.orders.Get(orderID)
		if err != nil {
			return domain.Order{}, err
		}

		m, err := mutate(&order)
		if err != nil {
			return domain.Order{}, err
		}
		if !m.changed {
			return order, nil
		}
		order.UpdatedAt = l.now().UTC()

		if len(m.restock) > 0 {
			err = l.orders.SaveWithRestock(order, m.restock)
		} else {
			err = l.orders.Save(order)
		}
		if err == nil {
			order.Version++
			return order, nil
		}
		if domain.IsVersionConflict(err) && attempt < maxSaveRetries-1 {
			l.logger.WithFields(log.Fields{
				"order_id": orderID,
				"attempt":  attempt + 1,
				"version":  order.Version,
			}).Warn("version conflict detected, retrying")
			time.Sleep(baseRetryDelay * time.Duration(1<<uint(attempt)))
			continue
		}
		return domain.Order{}, err
	}

	return domain.Order{}, domain.ErrOrderVersionConflict
}

func (l *Ledger) appendAudit(entry domain.PaymentAuditEntry, raw map[string]string) {
	if l.audit == nil {
		return
	}
	if len(raw) > 0 {
		data, err := json.Marshal(raw)
		if err == nil {
			entry.Raw = data
		}
	}
	if err := l.audit.Append(entry); err != nil {
		l.logger.WithError(err).WithFields(log.Fields{
			"order_id": entry.OrderID,
			"kind":     entry.Kind,
		}).Warn("append payment audit entry failed")
	}
}

// emitOrderEvent кладёт событие заказа в outbox и, если настроен producer,
// публикует его в Kafka напрямую. Ошибки публикации не прерывают операцию.
func (l *Ledger) emitOrderEvent(order *domain.Order, eventType kafka.EventType, metadata map[string]interface{}) {
	event := kafka.NewOrderEvent(
		eventType,
		order.ID,
		order.OrderNumber,
		order.CustomerID,
		string(order.Status),
		string(order.Payment),
		metadata,
	)
	event.Gateway = order.Gateway

	data, err := json.Marshal(event)
	if err != nil {
		l.logger.WithError(err).WithFields(log.Fields{
			"order_id": order.ID,
			"event":    string(eventType),
		}).Error("marshal event failed")
		return
	}

	msg := domain.OutboxMessage{
		AggregateType: "order",
		AggregateID:   order.ID,
		EventType:     string(eventType),
		Payload:       data,
	}
	if _, err := l.outbox.Enqueue(msg); err != nil {
		l.logger.WithError(err).WithFields(log.Fields{
			"order_id": order.ID,
			"event":    string(eventType),
		}).Error("enqueue event failed")
	} else if l.metrics != nil {
		l.metrics.RecordOutboxEvent()
	}

	if l.kafkaProducer != nil {
		if err := l.kafkaProducer.PublishEvent(kafka.TopicOrderEvents, order.ID, event); err != nil {
			// Логируем, но не прерываем операцию: источником истины остаётся outbox.
			l.logger.WithError(err).WithFields(log.Fields{
				"event_type": string(eventType),
				"order_id":   order.ID,
			}).Warn("failed to publish order event to kafka")
		}
	}
}

func auditKindFor(outcome domain.PaymentOutcome, duplicate bool) string {
	if duplicate {
		return domain.AuditCallbackDuplicate
	}
	switch outcome {
	case domain.OutcomeSuccess:
		return domain.AuditCallbackSuccess
	case domain.OutcomePending:
		return domain.AuditCallbackPending
	case domain.OutcomeCancelledByUser:
		return domain.AuditCallbackCancelled
	default:
		return domain.AuditCallbackFailed
	}
}

func eventTypeForStatus(to domain.OrderStatus) kafka.EventType {
	switch to {
	case domain.OrderStatusCancelled:
		return kafka.EventTypeOrderCancelled
	case domain.OrderStatusReceived:
		return kafka.EventTypeOrderReceived
	case domain.OrderStatusReturnRequested:
		return kafka.EventTypeOrderReturnRequested
	default:
		return kafka.EventTypeOrderStatusChanged
	}
}

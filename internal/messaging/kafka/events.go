package kafka

import "time"

// EventType определяет тип события платёжного цикла.
type EventType string

const (
	// События заказа
	EventTypeOrderCreated         EventType = "order.created"
	EventTypeOrderPaid            EventType = "order.paid"
	EventTypeOrderCancelled       EventType = "order.cancelled"
	EventTypeOrderExpired         EventType = "order.expired"
	EventTypeOrderReceived        EventType = "order.received"
	EventTypeOrderReturnRequested EventType = "order.return_requested"
	EventTypeOrderStatusChanged   EventType = "order.status_changed"

	// События платежа
	EventTypePaymentPending   EventType = "payment.pending"
	EventTypePaymentFailed    EventType = "payment.failed"
	EventTypePaymentCancelled EventType = "payment.cancelled"
)

// Topics для Kafka
const (
	TopicOrderEvents     = "paygate.order.events"
	TopicDeadLetterQueue = "paygate.dlq" // Dead Letter Queue для failed messages
)

// Kafka headers для retry логики
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// OrderEvent представляет событие заказа, публикуемое через outbox.
type OrderEvent struct {
	EventType     EventType              `json:"event_type"`
	OrderID       string                 `json:"order_id"`
	OrderNumber   string                 `json:"order_number"`
	CustomerID    string                 `json:"customer_id"`
	Status        string                 `json:"status"`
	PaymentStatus string                 `json:"payment_status"`
	Gateway       string                 `json:"gateway,omitempty"`
	Timestamp     time.Time              `json:"timestamp"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// NewOrderEvent создает новое событие заказа.
func NewOrderEvent(eventType EventType, orderID, orderNumber, customerID, status, paymentStatus string, metadata map[string]interface{}) *OrderEvent {
	return &OrderEvent{
		EventType:     eventType,
		OrderID:       orderID,
		OrderNumber:   orderNumber,
		CustomerID:    customerID,
		Status:        status,
		PaymentStatus: paymentStatus,
		Timestamp:     time.Now(),
		Metadata:      metadata,
	}
}

package domain

import "time"

// PaymentOutcome — нормализованный исход платежа, извлечённый из callback шлюза.
type PaymentOutcome string

const (
	// OutcomeSuccess — шлюз подтвердил успешное списание.
	OutcomeSuccess PaymentOutcome = "success"
	// OutcomePending — платёж принят, но ещё не подтверждён (например, задержан на проверку).
	OutcomePending PaymentOutcome = "pending"
	// OutcomeCancelledByUser — покупатель прервал оплату; заказ остаётся оплачиваемым.
	OutcomeCancelledByUser PaymentOutcome = "cancelled_by_user"
	// OutcomeFailed — шлюз отклонил платёж.
	OutcomeFailed PaymentOutcome = "failed"
)

// PaymentEvent — типизированное представление callback'а шлюза после проверки подписи.
// Весь последующий код работает с ним, а не с сырой мапой параметров.
type PaymentEvent struct {
	Gateway       string
	OrderNumber   string
	TransactionID string
	Outcome       PaymentOutcome
	ResponseCode  string
	Message       string
	Raw           map[string]string
}

// Validate проверяет, что событие пригодно для применения к заказу.
func (e *PaymentEvent) Validate() []error {
	var errs []error

	if e.Gateway == "" {
		errs = append(errs, ErrPaymentProviderRequired)
	}
	if e.OrderNumber == "" {
		errs = append(errs, ErrOrderNumberRequired)
	}
	switch e.Outcome {
	case OutcomeSuccess, OutcomePending, OutcomeCancelledByUser, OutcomeFailed:
	default:
		errs = append(errs, ErrOutcomeUnknown)
	}

	return errs
}

// Виды записей аудита платёжных взаимодействий.
const (
	AuditCallbackSuccess   = "callback.success"
	AuditCallbackPending   = "callback.pending"
	AuditCallbackCancelled = "callback.cancelled"
	AuditCallbackFailed    = "callback.failed"
	AuditCallbackDuplicate = "callback.duplicate"
	AuditPaymentCreated    = "payment.created"
	AuditExpiry            = "expiry"
)

// PaymentAuditEntry — запись append-only журнала платёжных взаимодействий заказа.
// Журнал только расширяется, существующие записи никогда не изменяются.
type PaymentAuditEntry struct {
	ID            string
	OrderID       string
	Gateway       string
	Kind          string
	TransactionID string
	ResponseCode  string
	Raw           []byte
	Occurred      time.Time
}

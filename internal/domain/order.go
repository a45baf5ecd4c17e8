package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus описывает статус исполнения заказа (ось fulfillment).
type OrderStatus string

const (
	// OrderStatusPending — заказ создан, оплата и сборка ещё не выполнены.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusProcessing — заказ оплачен/принят и собирается.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped — заказ передан в доставку.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered — доставка подтверждена службой доставки.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusReceived — получение подтверждено покупателем или авто-подтверждением.
	OrderStatusReceived OrderStatus = "received"
	// OrderStatusReturnRequested — покупатель запросил возврат после доставки.
	OrderStatusReturnRequested OrderStatus = "return_requested"
	// OrderStatusCancelled — заказ отменён; терминальный статус, запись сохраняется для аудита.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// PaymentStatus описывает состояние оплаты заказа (независимая ось).
type PaymentStatus string

const (
	// PaymentStatusPending — оплата не подтверждена, заказ остаётся оплачиваемым.
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusPaid — оплата подтверждена шлюзом; статус не понижается.
	PaymentStatusPaid PaymentStatus = "paid"
	// PaymentStatusFailed — шлюз отклонил платёж либо заказ истёк неоплаченным.
	PaymentStatusFailed PaymentStatus = "failed"
	// PaymentStatusRefunded — средства возвращены покупателю.
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// Actor идентифицирует инициатора перехода статуса.
type Actor string

const (
	ActorCustomer Actor = "customer"
	ActorStaff    Actor = "staff"
	ActorAdmin    Actor = "admin"
	ActorReaper   Actor = "reaper"
)

// statusRank задаёт монотонный порядок статусов основной цепочки.
// cancelled и return_requested находятся вне цепочки и валидируются отдельно.
var statusRank = map[OrderStatus]int{
	OrderStatusPending:    0,
	OrderStatusProcessing: 1,
	OrderStatusShipped:    2,
	OrderStatusDelivered:  3,
	OrderStatusReceived:   4,
}

// OrderItem представляет одну позицию заказа с зафиксированной на момент создания ценой.
type OrderItem struct {
	ID        string
	ProductID string
	Qty       int32
	UnitPrice decimal.Decimal
	CreatedAt time.Time
}

// Order агрегирует состояние заказа: ось исполнения, ось оплаты и позиции.
type Order struct {
	ID          string
	OrderNumber string
	CustomerID  string
	Status      OrderStatus
	Payment     PaymentStatus
	Currency    string
	Total       decimal.Decimal
	Items       []OrderItem

	// Gateway и TransactionID заполняются при создании платежа и подтверждении оплаты.
	Gateway       string
	TransactionID string

	// StockRestored предотвращает повторный возврат остатков при повторной отмене.
	StockRestored bool

	Version     int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeliveredAt *time.Time
	ReceivedAt  *time.Time
}

// CanTransition проверяет допустимость перехода статуса для данного актора.
// Возвращает ErrInvalidTransition, если переход нарушает порядок.
func (o *Order) CanTransition(to OrderStatus, actor Actor) error {
	from := o.Status

	if from == OrderStatusCancelled || from == OrderStatusReturnRequested {
		return ErrInvalidTransition
	}

	switch to {
	case OrderStatusCancelled:
		// Отмена допустима из pending; администратор и reaper могут отменить принудительно.
		if from == OrderStatusPending || actor == ActorAdmin || actor == ActorReaper {
			return nil
		}
		return ErrInvalidTransition
	case OrderStatusReturnRequested:
		if from == OrderStatusDelivered || from == OrderStatusReceived {
			return nil
		}
		return ErrInvalidTransition
	}

	fromRank, ok := statusRank[from]
	if !ok {
		return ErrInvalidTransition
	}
	toRank, ok := statusRank[to]
	if !ok {
		return ErrInvalidTransition
	}
	// Только вперёд по цепочке; пропуск промежуточных статусов допустим.
	if toRank <= fromRank {
		return ErrInvalidTransition
	}
	return nil
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.OrderNumber == "" {
		errs = append(errs, ErrOrderNumberRequired)
	}
	if o.CustomerID == "" {
		errs = append(errs, ErrCustomerRequired)
	}
	if o.Currency == "" {
		errs = append(errs, ErrCurrencyRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	if o.Total.IsNegative() {
		errs = append(errs, ErrAmountNegative)
	}

	// Сверяем сумму заказа с суммой позиций: qty * price.
	calc := decimal.Zero
	for _, item := range o.Items {
		if item.Qty <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.UnitPrice.IsNegative() {
			errs = append(errs, ErrItemPriceInvalid)
		}
		calc = calc.Add(item.UnitPrice.Mul(decimal.NewFromInt32(item.Qty)))
	}
	if !calc.Equal(o.Total) {
		errs = append(errs, ErrAmountMismatch)
	}

	return errs
}

// RestockAdjustments возвращает дельты остатков для возврата на склад при отмене.
func (o *Order) RestockAdjustments() []StockAdjustment {
	adjustments := make([]StockAdjustment, 0, len(o.Items))
	for _, item := range o.Items {
		adjustments = append(adjustments, StockAdjustment{ProductID: item.ProductID, Qty: item.Qty})
	}
	return adjustments
}

// StockAdjustment описывает изменение остатка одного товара.
type StockAdjustment struct {
	ProductID string
	Qty       int32
}

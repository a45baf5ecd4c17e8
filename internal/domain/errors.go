package domain

import "errors"

var (
	// Ошибка отсутствующего номера заказа.
	ErrOrderNumberRequired = errors.New("order_number is required")
	// Ошибка отсутствующего идентификатора клиента.
	ErrCustomerRequired = errors.New("customer_id is required")
	// Ошибка отсутствующего кода валюты.
	ErrCurrencyRequired = errors.New("currency is required")
	// Ошибка отсутствия хотя бы одного товара в заказе.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// Ошибка отрицательной суммы заказа.
	ErrAmountNegative = errors.New("order total must be non-negative")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrItemQtyInvalid = errors.New("item qty must be greater than zero")
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = errors.New("item price must be non-negative")
	// Ошибка несоответствия суммы заказа и сумм позиций.
	ErrAmountMismatch = errors.New("order total does not match items sum")
	// Ошибка отсутствующего кода платёжного шлюза.
	ErrPaymentProviderRequired = errors.New("payment gateway is required")
	// Ошибка нераспознанного исхода платежа.
	ErrOutcomeUnknown = errors.New("payment outcome is unknown")

	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = errors.New("order version conflict")
	// ErrProductNotFound возвращается, если товар не найден.
	ErrProductNotFound = errors.New("product not found")
	// Ошибка отсутствующего SKU товара.
	ErrProductSKURequired = errors.New("product sku is required")
	// ErrInsufficientStock — остатка товара не хватает для списания.
	ErrInsufficientStock = errors.New("insufficient product stock")

	// ErrInvalidSignature — подпись callback'а не прошла проверку; состояние не меняется.
	ErrInvalidSignature = errors.New("callback signature does not verify")
	// ErrInvalidTransition — запрошенный переход статуса нарушает монотонный порядок.
	ErrInvalidTransition = errors.New("invalid order status transition")
	// ErrAlreadyPaid — заказ уже оплачен; повторное применение PAID трактуется как no-op.
	ErrAlreadyPaid = errors.New("order is already paid")
	// ErrGatewayConfigMissing — отсутствует секрет или merchant id шлюза; ошибка старта.
	ErrGatewayConfigMissing = errors.New("gateway configuration is missing")
	// ErrUnknownGateway — callback или запрос ссылается на незарегистрированный шлюз.
	ErrUnknownGateway = errors.New("unknown payment gateway")
	// ErrAmountInvalid — сумма платежа должна быть положительной.
	ErrAmountInvalid = errors.New("payment amount must be positive")
	// ErrOrderNumberTooLong — номер заказа превышает лимит шлюза.
	ErrOrderNumberTooLong = errors.New("order number exceeds gateway limit")
	// ErrMissingParam — в callback'е отсутствует обязательный параметр.
	ErrMissingParam = errors.New("required callback parameter is missing")
	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}

package gateway

import (
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/paygate/internal/domain"
)

// PayloadKind различает способы передачи покупателя на страницу оплаты.
type PayloadKind string

const (
	// PayloadRedirect — браузер переходит по готовому подписанному URL.
	PayloadRedirect PayloadKind = "redirect"
	// PayloadForm — браузер отправляет POST-форму с полями на checkout-endpoint шлюза.
	PayloadForm PayloadKind = "form"
)

// PaymentRequest — данные для создания платежа, независимые от конкретного шлюза.
type PaymentRequest struct {
	OrderNumber string
	Amount      decimal.Decimal
	Currency    string
	Description string
	SuccessURL  string
	ErrorURL    string
	CancelURL   string
	CustomerID  string
	CustomData  string
}

// OutboundPayload — результат построения платёжного запроса.
type OutboundPayload struct {
	Kind        PayloadKind
	RedirectURL string
	CheckoutURL string
	Fields      map[string]string
}

// Adapter переводит между доменными типами и wire-форматом конкретного шлюза.
// Адаптер — чистая трансляция: он не обращается к хранилищу заказов.
type Adapter interface {
	// Name возвращает идентификатор шлюза, используемый в маршрутах и на заказе.
	Name() string
	// BuildPaymentRequest формирует исходящий платёжный запрос.
	// Отклоняет неположительную сумму и слишком длинный номер заказа.
	BuildPaymentRequest(req PaymentRequest) (OutboundPayload, error)
	// ParseCallback проверяет подпись и нормализует параметры callback'а.
	// Подпись проверяется до любого обращения к данным заказа.
	ParseCallback(params map[string]string) (domain.PaymentEvent, error)
	// CodeMessage переводит код ответа шлюза в сообщение для пользователя.
	CodeMessage(code string) string
}

// validateRequest выполняет общие для всех шлюзов проверки платёжного запроса.
func validateRequest(req PaymentRequest, refLimit int) error {
	if req.OrderNumber == "" {
		return domain.ErrOrderNumberRequired
	}
	if len(req.OrderNumber) > refLimit {
		return domain.ErrOrderNumberTooLong
	}
	if !req.Amount.IsPositive() {
		return domain.ErrAmountInvalid
	}
	return nil
}

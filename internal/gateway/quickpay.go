package gateway

import (
	"crypto/sha256"

	"github.com/vladislavdragonenkov/paygate/internal/domain"
)

const (
	// QuickPayName — идентификатор шлюза в маршрутах и на заказе.
	QuickPayName = "quickpay"

	quickPayInvoiceLimit   = 32
	quickPaySignatureField = "checksum"
	quickPayOperation      = "PURCHASE"
	quickPayDefaultMethod  = "CARD"
)

// quickPayOutcomes сопоставляет статус платежа нормализованному исходу.
// Неизвестные статусы трактуются как отказ.
var quickPayOutcomes = map[string]domain.PaymentOutcome{
	"APPROVED":  domain.OutcomeSuccess,
	"PENDING":   domain.OutcomePending,
	"CANCELLED": domain.OutcomeCancelledByUser,
	"DECLINED":  domain.OutcomeFailed,
	"EXPIRED":   domain.OutcomeFailed,
}

var quickPayMessages = map[string]string{
	"APPROVED":  "payment approved",
	"PENDING":   "payment is pending confirmation",
	"CANCELLED": "payment cancelled by customer",
	"DECLINED":  "payment declined by issuer",
	"EXPIRED":   "payment window expired",
}

const quickPayGenericMessage = "payment was not completed"

// QuickPayConfig — конфигурация карточного/QR-шлюза QuickPay.
// TrustTransport переключает проверку callback'ов на доверие транспортному уровню
// (mTLS на стороне инфраструктуры) вместо подписи параметров.
type QuickPayConfig struct {
	CheckoutURL    string
	MerchantID     string
	Secret         string
	TrustTransport bool
}

// QuickPay — адаптер form-шлюза: клиент отправляет POST-форму на checkout-endpoint.
type QuickPay struct {
	cfg   QuickPayConfig
	codec Codec
}

// NewQuickPay создаёт адаптер QuickPay. Без merchant id конструктор падает;
// секрет обязателен, если не включён TrustTransport.
func NewQuickPay(cfg QuickPayConfig) (*QuickPay, error) {
	if cfg.MerchantID == "" {
		return nil, domain.ErrGatewayConfigMissing
	}
	if cfg.CheckoutURL == "" {
		cfg.CheckoutURL = "https://checkout.quickpay.example/v2/purchase"
	}

	var codec Codec
	if cfg.TrustTransport {
		codec = TrustedCodec{}
	} else {
		if cfg.Secret == "" {
			return nil, domain.ErrGatewayConfigMissing
		}
		codec = NewHMACCodec(cfg.Secret, quickPaySignatureField, sha256.New)
	}

	return &QuickPay{cfg: cfg, codec: codec}, nil
}

func (g *QuickPay) Name() string { return QuickPayName }

// BuildPaymentRequest собирает набор полей формы и checkout URL.
// Сумма передаётся в мажорных единицах с двумя знаками после запятой.
func (g *QuickPay) BuildPaymentRequest(req PaymentRequest) (OutboundPayload, error) {
	if err := validateRequest(req, quickPayInvoiceLimit); err != nil {
		return OutboundPayload{}, err
	}

	fields := map[string]string{
		"merchant_id": g.cfg.MerchantID,
		"operation":   quickPayOperation,
		"method":      quickPayDefaultMethod,
		"invoice_no":  req.OrderNumber,
		"amount":      req.Amount.StringFixed(2),
		"currency":    req.Currency,
		"description": req.Description,
		"success_url": req.SuccessURL,
		"error_url":   req.ErrorURL,
		"cancel_url":  req.CancelURL,
	}
	if req.CustomerID != "" {
		fields["customer_id"] = req.CustomerID
	}
	if req.CustomData != "" {
		fields["custom_data"] = req.CustomData
	}

	if signature := g.codec.Sign(fields); signature != "" {
		fields[quickPaySignatureField] = signature
	}

	return OutboundPayload{
		Kind:        PayloadForm,
		CheckoutURL: g.cfg.CheckoutURL,
		Fields:      fields,
	}, nil
}

// ParseCallback проверяет подпись callback'а и нормализует его в PaymentEvent.
func (g *QuickPay) ParseCallback(params map[string]string) (domain.PaymentEvent, error) {
	if !g.codec.Verify(params) {
		return domain.PaymentEvent{}, domain.ErrInvalidSignature
	}

	invoice := params["invoice_no"]
	status := params["payment_status"]
	if invoice == "" || status == "" {
		return domain.PaymentEvent{}, domain.ErrMissingParam
	}

	outcome, ok := quickPayOutcomes[status]
	if !ok {
		outcome = domain.OutcomeFailed
	}

	return domain.PaymentEvent{
		Gateway:       QuickPayName,
		OrderNumber:   invoice,
		TransactionID: params["transaction_id"],
		Outcome:       outcome,
		ResponseCode:  status,
		Message:       g.CodeMessage(status),
		Raw:           params,
	}, nil
}

// CodeMessage возвращает сообщение по статусу платежа, с фолбэком на общий текст.
func (g *QuickPay) CodeMessage(code string) string {
	if msg, ok := quickPayMessages[code]; ok {
		return msg
	}
	return quickPayGenericMessage
}

var _ Adapter = (*QuickPay)(nil)

package callback

import (
	"errors"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/paygate/internal/domain"
	"github.com/vladislavdragonenkov/paygate/internal/gateway"
	"github.com/vladislavdragonenkov/paygate/internal/metrics"
	"github.com/vladislavdragonenkov/paygate/internal/service/ledger"
)

// Config задаёт доверенные базовые адреса. Redirect'ы покупателя строятся
// только из этих значений, данные callback'а в них не попадают.
type Config struct {
	// PublicBaseURL — витрина, на которую возвращается покупатель после оплаты.
	PublicBaseURL string
	// CallbackBaseURL — внешний адрес сервиса, который шлюз дёргает callback'ом.
	CallbackBaseURL string
}

// Processor принимает callback'и шлюзов: подпись проверяется адаптером до
// любого обращения к заказу, исход применяется через ledger, покупатель
// получает redirect на доверенный адрес витрины.
type Processor struct {
	cfg      Config
	adapters map[string]gateway.Adapter
	ledger   *ledger.Ledger
	logger   *log.Entry
	metrics  *metrics.PaymentMetrics
}

// NewProcessor создаёт процессор callback'ов с реестром адаптеров.
func NewProcessor(cfg Config, l *ledger.Ledger, logger *log.Entry, adapters ...gateway.Adapter) (*Processor, error) {
	if cfg.PublicBaseURL == "" || cfg.CallbackBaseURL == "" {
		return nil, domain.ErrGatewayConfigMissing
	}
	if logger == nil {
		logger = log.New().WithField("component", "callback")
	}

	registry := make(map[string]gateway.Adapter, len(adapters))
	for _, adapter := range adapters {
		registry[adapter.Name()] = adapter
	}

	return &Processor{
		cfg:      cfg,
		adapters: registry,
		ledger:   l,
		logger:   logger,
		metrics:  metrics.NewPaymentMetrics(),
	}, nil
}

// WithoutMetrics отключает метрики (для тестов).
func (p *Processor) WithoutMetrics() *Processor {
	p.metrics = nil
	return p
}

// Adapter возвращает адаптер шлюза по имени.
func (p *Processor) Adapter(name string) (gateway.Adapter, error) {
	adapter, ok := p.adapters[name]
	if !ok {
		return nil, domain.ErrUnknownGateway
	}
	return adapter, nil
}

// BuildCheckout регистрирует попытку оплаты и собирает платёжный запрос шлюза.
func (p *Processor) BuildCheckout(orderNumber, gatewayName string) (gateway.OutboundPayload, error) {
	adapter, err := p.Adapter(gatewayName)
	if err != nil {
		return gateway.OutboundPayload{}, err
	}

	order, err := p.ledger.RegisterPaymentAttempt(orderNumber, gatewayName)
	if err != nil {
		return gateway.OutboundPayload{}, err
	}

	callbackURL := strings.TrimRight(p.cfg.CallbackBaseURL, "/") + "/payments/callback/" + gatewayName
	payload, err := adapter.BuildPaymentRequest(gateway.PaymentRequest{
		OrderNumber: order.OrderNumber,
		Amount:      order.Total,
		Currency:    order.Currency,
		Description: "Order " + order.OrderNumber,
		SuccessURL:  callbackURL,
		ErrorURL:    callbackURL,
		CancelURL:   callbackURL,
		CustomerID:  order.CustomerID,
	})
	if err != nil {
		return gateway.OutboundPayload{}, err
	}

	p.logger.WithFields(log.Fields{
		"order_number": order.OrderNumber,
		"gateway":      gatewayName,
		"kind":         string(payload.Kind),
	}).Info("checkout payload built")

	return payload, nil
}

// Process обрабатывает callback шлюза и возвращает redirect для браузера покупателя.
// Ошибка возвращается только при сбое хранилища; все бизнес-исходы, включая
// невалидную подпись, выражаются redirect'ом на страницу ошибки витрины.
func (p *Processor) Process(gatewayName string, params map[string]string) (string, error) {
	started := time.Now()
	defer func() {
		if p.metrics != nil {
			p.metrics.RecordCallbackDuration(time.Since(started))
		}
	}()

	adapter, err := p.Adapter(gatewayName)
	if err != nil {
		p.rejected(gatewayName, "unknown_gateway")
		return p.failureRedirect("", "unknown_gateway", ""), nil
	}

	event, err := adapter.ParseCallback(params)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidSignature):
			p.rejected(gatewayName, "invalid_signature")
			// Сырые параметры сохраняются в логе для последующего разбора инцидента.
			p.logger.WithFields(log.Fields{
				"gateway":    gatewayName,
				"raw_params": params,
			}).Warn("callback signature verification failed")
			return p.failureRedirect("", "verification", ""), nil
		case errors.Is(err, domain.ErrMissingParam):
			p.rejected(gatewayName, "missing_param")
			p.logger.WithFields(log.Fields{
				"gateway":    gatewayName,
				"raw_params": params,
			}).Warn("callback rejected: required parameter missing")
			return p.failureRedirect("", "malformed", ""), nil
		default:
			return "", err
		}
	}

	order, err := p.ledger.ApplyPaymentOutcome(event)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			p.rejected(gatewayName, "unknown_order")
			p.logger.WithFields(log.Fields{
				"gateway":      gatewayName,
				"order_number": event.OrderNumber,
			}).Warn("callback for unknown order")
			return p.failureRedirect("", "unknown_order", ""), nil
		}
		return "", err
	}

	switch event.Outcome {
	case domain.OutcomeSuccess:
		return p.orderRedirect(order.ID, "success"), nil
	case domain.OutcomePending:
		return p.orderRedirect(order.ID, "pending"), nil
	case domain.OutcomeCancelledByUser:
		return p.orderRedirect(order.ID, "cancelled"), nil
	default:
		return p.failureRedirect(order.ID, event.ResponseCode, event.Message), nil
	}
}

// orderRedirect строит redirect на страницу заказа витрины.
func (p *Processor) orderRedirect(orderID, payment string) string {
	return strings.TrimRight(p.cfg.PublicBaseURL, "/") + "/orders/" + url.PathEscape(orderID) + "?payment=" + payment
}

// failureRedirect строит redirect на страницу неуспешной оплаты витрины.
func (p *Processor) failureRedirect(orderID, errToken, message string) string {
	values := url.Values{}
	if orderID != "" {
		values.Set("orderId", orderID)
	}
	if errToken != "" {
		values.Set("error", errToken)
	}
	if message != "" {
		values.Set("message", message)
	}
	target := strings.TrimRight(p.cfg.PublicBaseURL, "/") + "/payment/failed"
	if encoded := values.Encode(); encoded != "" {
		target += "?" + encoded
	}
	return target
}

func (p *Processor) rejected(gatewayName, reason string) {
	if p.metrics != nil {
		p.metrics.RecordCallbackRejected(gatewayName, reason)
	}
}

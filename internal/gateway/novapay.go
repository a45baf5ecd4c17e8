package gateway

import (
	"crypto/sha512"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/paygate/internal/domain"
)

const (
	// NovaPayName — идентификатор шлюза в маршрутах и на заказе.
	NovaPayName = "novapay"

	novaPayVersion        = "2.1.0"
	novaPayTxnRefLimit    = 64
	novaPaySignatureField = "np_SecureHash"
	novaPayDateLayout     = "20060102150405"
)

// novaPayOutcomes сопоставляет двузначный код ответа нормализованному исходу.
// Коды, отсутствующие в таблице, трактуются как отказ; новые коды добавляются
// записью в таблицу, без изменения control flow.
var novaPayOutcomes = map[string]domain.PaymentOutcome{
	"00": domain.OutcomeSuccess,
	"07": domain.OutcomePending,
	"24": domain.OutcomeCancelledByUser,
}

// novaPayMessages — дословная таблица сообщений шлюза по коду ответа.
var novaPayMessages = map[string]string{
	"00": "transaction approved",
	"07": "transaction held for review",
	"09": "card is not registered for online banking",
	"10": "card verification failed more than 3 times",
	"11": "payment window expired",
	"12": "card or account is blocked",
	"13": "wrong one-time password",
	"24": "transaction cancelled by customer",
	"51": "insufficient funds",
	"65": "daily transaction limit exceeded",
	"75": "bank under maintenance",
	"79": "wrong payment password entered too many times",
	"99": "unknown error",
}

// NovaPayConfig — конфигурация шлюза банковских переводов NovaPay.
// Заполняется один раз на старте процесса и инжектится в адаптер.
type NovaPayConfig struct {
	PayURL     string
	TerminalID string
	Secret     string
}

// NovaPay — адаптер redirect-шлюза: платёж создаётся подписанным URL,
// на который браузер переходит напрямую.
type NovaPay struct {
	cfg   NovaPayConfig
	codec Codec
	now   func() time.Time
}

// NewNovaPay создаёт адаптер NovaPay. Отсутствие терминала или секрета —
// ошибка конфигурации, сервис должен упасть на старте, а не деградировать молча.
func NewNovaPay(cfg NovaPayConfig) (*NovaPay, error) {
	if cfg.TerminalID == "" || cfg.Secret == "" {
		return nil, domain.ErrGatewayConfigMissing
	}
	if cfg.PayURL == "" {
		cfg.PayURL = "https://pay.novapay.example/gateway"
	}
	return &NovaPay{
		cfg:   cfg,
		codec: NewHMACCodec(cfg.Secret, novaPaySignatureField, sha512.New),
		now:   time.Now,
	}, nil
}

func (g *NovaPay) Name() string { return NovaPayName }

// BuildPaymentRequest собирает подписанный redirect URL.
// Сумма передаётся в минорных единицах (x100), как требует протокол шлюза.
func (g *NovaPay) BuildPaymentRequest(req PaymentRequest) (OutboundPayload, error) {
	if err := validateRequest(req, novaPayTxnRefLimit); err != nil {
		return OutboundPayload{}, err
	}

	amountMinor := req.Amount.Mul(decimal.NewFromInt(100)).Truncate(0)

	params := map[string]string{
		"np_Version":    novaPayVersion,
		"np_TerminalID": g.cfg.TerminalID,
		"np_TxnRef":     req.OrderNumber,
		"np_Amount":     amountMinor.String(),
		"np_CurrCode":   req.Currency,
		"np_OrderInfo":  req.Description,
		"np_ReturnURL":  req.SuccessURL,
		"np_ErrorURL":   req.ErrorURL,
		"np_CancelURL":  req.CancelURL,
		"np_CreateDate": g.now().UTC().Format(novaPayDateLayout),
	}
	if req.CustomerID != "" {
		params["np_CustomerID"] = req.CustomerID
	}

	signature := g.codec.Sign(params)

	values := url.Values{}
	for key, value := range params {
		if value == "" {
			continue
		}
		values.Set(key, value)
	}
	values.Set(novaPaySignatureField, signature)

	return OutboundPayload{
		Kind:        PayloadRedirect,
		RedirectURL: g.cfg.PayURL + "?" + values.Encode(),
	}, nil
}

// ParseCallback проверяет подпись callback'а и нормализует его в PaymentEvent.
func (g *NovaPay) ParseCallback(params map[string]string) (domain.PaymentEvent, error) {
	if !g.codec.Verify(params) {
		return domain.PaymentEvent{}, domain.ErrInvalidSignature
	}

	txnRef := params["np_TxnRef"]
	code := params["np_ResponseCode"]
	if txnRef == "" || code == "" {
		return domain.PaymentEvent{}, domain.ErrMissingParam
	}

	outcome, ok := novaPayOutcomes[code]
	if !ok {
		outcome = domain.OutcomeFailed
	}
	// Код "00" подтверждает только принятие операции; финальность даёт
	// np_TransactionStatus. Непустой статус, отличный от "00", означает,
	// что списание ещё не завершено.
	if outcome == domain.OutcomeSuccess {
		if status := params["np_TransactionStatus"]; status != "" && status != "00" {
			outcome = domain.OutcomePending
		}
	}

	return domain.PaymentEvent{
		Gateway:       NovaPayName,
		OrderNumber:   txnRef,
		TransactionID: params["np_TransactionNo"],
		Outcome:       outcome,
		ResponseCode:  code,
		Message:       g.CodeMessage(code),
		Raw:           params,
	}, nil
}

// CodeMessage возвращает сообщение шлюза по коду ответа, с фолбэком на общий текст.
func (g *NovaPay) CodeMessage(code string) string {
	if msg, ok := novaPayMessages[code]; ok {
		return msg
	}
	return novaPayMessages["99"]
}

var _ Adapter = (*NovaPay)(nil)

package callback

import (
	"crypto/sha512"
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"github.com/vladislavdragonenkov/paygate/internal/domain"
	"github.com/vladislavdragonenkov/paygate/internal/gateway"
	"github.com/vladislavdragonenkov/paygate/internal/service/ledger"
	"github.com/vladislavdragonenkov/paygate/internal/storage/memory"
)

const (
	testPublicBase   = "https://shop.test"
	testCallbackBase = "https://pay.test"
	novaPaySecret    = "np-secret"
)

func newFixture(t *testing.T) (*Processor, *ledger.Ledger, domain.OrderRepository) {
	t.Helper()

	store := memory.NewStore()
	orders := memory.NewOrderRepository(store)
	products := memory.NewProductRepository(store)
	audit := memory.NewPaymentAuditRepository()
	outbox := memory.NewOutboxRepository()

	l := ledger.NewLedgerWithoutMetrics(orders, audit, outbox, log.WithField("test", "callback"))

	novapay, err := gateway.NewNovaPay(gateway.NovaPayConfig{TerminalID: "TERM01", Secret: novaPaySecret})
	if err != nil {
		t.Fatalf("create novapay adapter: %v", err)
	}
	quickpay, err := gateway.NewQuickPay(gateway.QuickPayConfig{MerchantID: "merchant-1", TrustTransport: true})
	if err != nil {
		t.Fatalf("create quickpay adapter: %v", err)
	}

	processor, err := NewProcessor(
		Config{PublicBaseURL: testPublicBase, CallbackBaseURL: testCallbackBase},
		l,
		log.WithField("test", "callback"),
		novapay, quickpay,
	)
	if err != nil {
		t.Fatalf("create processor: %v", err)
	}
	processor.WithoutMetrics()

	if err := products.Create(domain.Product{ID: "product-1", SKU: "SKU-1", Name: "Widget", Price: decimal.NewFromInt(100), Stock: 10}); err != nil {
		t.Fatalf("seed product: %v", err)
	}

	return processor, l, orders
}

func seedOrder(t *testing.T, l *ledger.Ledger, orderNumber string) domain.Order {
	t.Helper()

	order, err := l.CreateOrder(domain.Order{
		OrderNumber: orderNumber,
		CustomerID:  "customer-1",
		Currency:    "UAH",
		Total:       decimal.NewFromInt(200),
		Items: []domain.OrderItem{
			{ProductID: "product-1", Qty: 2, UnitPrice: decimal.NewFromInt(100)},
		},
	})
	if err != nil {
		t.Fatalf("seed order: %v", err)
	}
	return order
}

func signedNovaPayCallback(orderNumber, code string, extra map[string]string) map[string]string {
	params := map[string]string{
		"np_TxnRef":        orderNumber,
		"np_ResponseCode":  code,
		"np_TransactionNo": "NP-1",
	}
	for key, value := range extra {
		params[key] = value
	}
	codec := gateway.NewHMACCodec(novaPaySecret, "np_SecureHash", sha512.New)
	params["np_SecureHash"] = codec.Sign(params)
	return params
}

func TestNewProcessor_RequiresTrustedBaseURLs(t *testing.T) {
	if _, err := NewProcessor(Config{PublicBaseURL: "https://shop.test"}, nil, nil); !errors.Is(err, domain.ErrGatewayConfigMissing) {
		t.Fatalf("expected ErrGatewayConfigMissing without callback base, got %v", err)
	}
	if _, err := NewProcessor(Config{CallbackBaseURL: "https://pay.test"}, nil, nil); !errors.Is(err, domain.ErrGatewayConfigMissing) {
		t.Fatalf("expected ErrGatewayConfigMissing without public base, got %v", err)
	}
}

func TestBuildCheckout_RegistersGatewayAndBuildsPayload(t *testing.T) {
	processor, l, _ := newFixture(t)
	seedOrder(t, l, "PG-1")

	payload, err := processor.BuildCheckout("PG-1", gateway.QuickPayName)
	if err != nil {
		t.Fatalf("build checkout: %v", err)
	}
	if payload.Kind != gateway.PayloadForm {
		t.Fatalf("expected form payload, got %s", payload.Kind)
	}

	// Callback URL'ы строятся из доверенного CallbackBaseURL.
	want := testCallbackBase + "/payments/callback/" + gateway.QuickPayName
	if payload.Fields["success_url"] != want || payload.Fields["cancel_url"] != want {
		t.Fatalf("unexpected callback urls: %+v", payload.Fields)
	}

	order, err := l.GetOrderByNumber("PG-1")
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if order.Gateway != gateway.QuickPayName {
		t.Fatalf("expected gateway recorded on order, got %q", order.Gateway)
	}
}

func TestBuildCheckout_Errors(t *testing.T) {
	processor, l, _ := newFixture(t)
	seedOrder(t, l, "PG-1")

	if _, err := processor.BuildCheckout("PG-1", "cashpay"); !errors.Is(err, domain.ErrUnknownGateway) {
		t.Fatalf("expected ErrUnknownGateway, got %v", err)
	}
	if _, err := processor.BuildCheckout("PG-404", gateway.QuickPayName); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestProcess_SuccessRedirectsToOrderPage(t *testing.T) {
	processor, l, _ := newFixture(t)
	order := seedOrder(t, l, "PG-1")

	target, err := processor.Process(gateway.NovaPayName, signedNovaPayCallback("PG-1", "00", nil))
	if err != nil {
		t.Fatalf("process callback: %v", err)
	}
	if target != testPublicBase+"/orders/"+order.ID+"?payment=success" {
		t.Fatalf("unexpected redirect: %s", target)
	}

	updated, err := l.GetOrder(order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if updated.Payment != domain.PaymentStatusPaid || updated.Status != domain.OrderStatusProcessing {
		t.Fatalf("expected paid/processing, got %s/%s", updated.Payment, updated.Status)
	}
}

func TestProcess_ForgedCallbackDoesNotTouchOrder(t *testing.T) {
	processor, l, _ := newFixture(t)
	order := seedOrder(t, l, "PG-1")

	params := signedNovaPayCallback("PG-1", "51", nil)
	params["np_ResponseCode"] = "00" // подмена кода после подписи

	target, err := processor.Process(gateway.NovaPayName, params)
	if err != nil {
		t.Fatalf("process callback: %v", err)
	}
	if !strings.Contains(target, "/payment/failed") || !strings.Contains(target, "error=verification") {
		t.Fatalf("expected verification failure redirect, got %s", target)
	}

	updated, err := l.GetOrder(order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if updated.Payment != domain.PaymentStatusPending || updated.Version != order.Version {
		t.Fatalf("expected untouched order, got payment=%s version=%d", updated.Payment, updated.Version)
	}
}

func TestProcess_CancelThenRetrySucceeds(t *testing.T) {
	processor, l, _ := newFixture(t)
	order := seedOrder(t, l, "PG-1")

	// Покупатель отменил оплату на стороне шлюза: заказ остаётся оплачиваемым.
	target, err := processor.Process(gateway.QuickPayName, map[string]string{
		"invoice_no":     "PG-1",
		"payment_status": "CANCELLED",
	})
	if err != nil {
		t.Fatalf("process cancelled callback: %v", err)
	}
	if target != testPublicBase+"/orders/"+order.ID+"?payment=cancelled" {
		t.Fatalf("unexpected redirect: %s", target)
	}

	if _, err := processor.BuildCheckout("PG-1", gateway.QuickPayName); err != nil {
		t.Fatalf("expected retry checkout to be allowed: %v", err)
	}

	if _, err := processor.Process(gateway.QuickPayName, map[string]string{
		"invoice_no":     "PG-1",
		"payment_status": "APPROVED",
		"transaction_id": "QP-2",
	}); err != nil {
		t.Fatalf("process approved callback: %v", err)
	}

	updated, err := l.GetOrder(order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if updated.Payment != domain.PaymentStatusPaid {
		t.Fatalf("expected paid after retry, got %s", updated.Payment)
	}
}

func TestProcess_FailureRedirectCarriesCodeAndMessage(t *testing.T) {
	processor, l, _ := newFixture(t)
	order := seedOrder(t, l, "PG-1")

	target, err := processor.Process(gateway.QuickPayName, map[string]string{
		"invoice_no":     "PG-1",
		"payment_status": "DECLINED",
	})
	if err != nil {
		t.Fatalf("process declined callback: %v", err)
	}
	if !strings.Contains(target, "/payment/failed") ||
		!strings.Contains(target, "orderId="+order.ID) ||
		!strings.Contains(target, "error=DECLINED") {
		t.Fatalf("unexpected failure redirect: %s", target)
	}

	updated, err := l.GetOrder(order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if updated.Payment != domain.PaymentStatusFailed {
		t.Fatalf("expected failed payment status, got %s", updated.Payment)
	}
}

func TestProcess_UnknownGatewayAndOrder(t *testing.T) {
	processor, _, _ := newFixture(t)

	target, err := processor.Process("cashpay", map[string]string{})
	if err != nil {
		t.Fatalf("process unknown gateway: %v", err)
	}
	if !strings.Contains(target, "error=unknown_gateway") {
		t.Fatalf("expected unknown_gateway redirect, got %s", target)
	}

	target, err = processor.Process(gateway.QuickPayName, map[string]string{
		"invoice_no":     "PG-404",
		"payment_status": "APPROVED",
	})
	if err != nil {
		t.Fatalf("process unknown order: %v", err)
	}
	if !strings.Contains(target, "error=unknown_order") {
		t.Fatalf("expected unknown_order redirect, got %s", target)
	}
}

// rejectedCallbackEntry возвращает warn-запись с сырыми параметрами отклонённого callback'а.
func rejectedCallbackEntry(t *testing.T, hook *logtest.Hook) map[string]string {
	t.Helper()

	for _, entry := range hook.AllEntries() {
		if entry.Level != log.WarnLevel {
			continue
		}
		raw, ok := entry.Data["raw_params"].(map[string]string)
		if ok {
			return raw
		}
	}
	t.Fatal("expected warn entry with raw_params field")
	return nil
}

func TestProcess_InvalidSignatureLogsRawPayload(t *testing.T) {
	processor, l, _ := newFixture(t)
	seedOrder(t, l, "PG-1")

	hookedLogger, hook := logtest.NewNullLogger()
	processor.logger = hookedLogger.WithField("test", "callback")

	params := signedNovaPayCallback("PG-1", "51", nil)
	params["np_ResponseCode"] = "00" // подмена кода после подписи

	if _, err := processor.Process(gateway.NovaPayName, params); err != nil {
		t.Fatalf("process forged callback: %v", err)
	}

	raw := rejectedCallbackEntry(t, hook)
	if raw["np_ResponseCode"] != "00" || raw["np_TxnRef"] != "PG-1" {
		t.Fatalf("expected forged payload in log, got %v", raw)
	}
}

func TestProcess_MissingParamLogsRawPayload(t *testing.T) {
	processor, _, _ := newFixture(t)

	hookedLogger, hook := logtest.NewNullLogger()
	processor.logger = hookedLogger.WithField("test", "callback")

	if _, err := processor.Process(gateway.QuickPayName, map[string]string{"invoice_no": "PG-1"}); err != nil {
		t.Fatalf("process malformed callback: %v", err)
	}

	raw := rejectedCallbackEntry(t, hook)
	if raw["invoice_no"] != "PG-1" {
		t.Fatalf("expected malformed payload in log, got %v", raw)
	}
}

func TestProcess_MissingParamsRedirect(t *testing.T) {
	processor, _, _ := newFixture(t)

	// TrustTransport пропускает проверку подписи, но обязательные поля нужны.
	target, err := processor.Process(gateway.QuickPayName, map[string]string{"invoice_no": "PG-1"})
	if err != nil {
		t.Fatalf("process malformed callback: %v", err)
	}
	if !strings.Contains(target, "error=malformed") {
		t.Fatalf("expected malformed redirect, got %s", target)
	}
}

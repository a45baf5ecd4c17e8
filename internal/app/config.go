package app

import (
	"os"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/paygate/internal/gateway"
)

// Config описывает настройки запуска приложения.
type Config struct {
	HTTPAddr    string
	MetricsAddr string

	// PostgresDSN пустой — хранилище in-memory (dev/тесты).
	PostgresDSN string
	// KafkaBrokers пустой — сервис работает без Kafka, только через outbox.
	KafkaBrokers string

	// PublicBaseURL — витрина, на которую возвращается покупатель.
	PublicBaseURL string
	// CallbackBaseURL — внешний адрес сервиса для callback'ов шлюзов.
	CallbackBaseURL string

	NovaPay  gateway.NovaPayConfig
	QuickPay gateway.QuickPayConfig

	ExpiryWindow   time.Duration
	ReceiptGrace   time.Duration
	ReaperInterval time.Duration
}

// DefaultConfig возвращает базовые настройки для локального запуска.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:        ":8080",
		MetricsAddr:     ":9090",
		PublicBaseURL:   "http://localhost:3000",
		CallbackBaseURL: "http://localhost:8080",
		ExpiryWindow:    10 * time.Minute,
		ReceiptGrace:    168 * time.Hour,
		ReaperInterval:  time.Minute,
	}
}

// ConfigFromEnv формирует конфигурацию, позволяя переопределить настройки
// через переменные окружения PAYGATE_*.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()

	setString(&cfg.HTTPAddr, "PAYGATE_HTTP_ADDR")
	setString(&cfg.MetricsAddr, "PAYGATE_METRICS_ADDR")
	setString(&cfg.PostgresDSN, "PAYGATE_POSTGRES_DSN")
	setString(&cfg.KafkaBrokers, "PAYGATE_KAFKA_BROKERS")
	setString(&cfg.PublicBaseURL, "PAYGATE_PUBLIC_BASE_URL")
	setString(&cfg.CallbackBaseURL, "PAYGATE_CALLBACK_BASE_URL")

	setString(&cfg.NovaPay.PayURL, "PAYGATE_NOVAPAY_PAY_URL")
	setString(&cfg.NovaPay.TerminalID, "PAYGATE_NOVAPAY_TERMINAL_ID")
	setString(&cfg.NovaPay.Secret, "PAYGATE_NOVAPAY_SECRET")

	setString(&cfg.QuickPay.CheckoutURL, "PAYGATE_QUICKPAY_CHECKOUT_URL")
	setString(&cfg.QuickPay.MerchantID, "PAYGATE_QUICKPAY_MERCHANT_ID")
	setString(&cfg.QuickPay.Secret, "PAYGATE_QUICKPAY_SECRET")
	setBool(&cfg.QuickPay.TrustTransport, "PAYGATE_QUICKPAY_TRUST_TRANSPORT")

	setDuration(&cfg.ExpiryWindow, "PAYGATE_EXPIRY_WINDOW")
	setDuration(&cfg.ReceiptGrace, "PAYGATE_RECEIPT_GRACE")
	setDuration(&cfg.ReaperInterval, "PAYGATE_REAPER_INTERVAL")

	return cfg
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		log.WithField("key", key).WithError(err).Warn("invalid boolean env value, keeping default")
		return
	}
	*dst = parsed
}

func setDuration(dst *time.Duration, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	parsed, err := time.ParseDuration(v)
	if err != nil || parsed <= 0 {
		log.WithField("key", key).WithError(err).Warn("invalid duration env value, keeping default")
		return
	}
	*dst = parsed
}

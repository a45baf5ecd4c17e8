package kafka

import (
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"
)

func TestProducer_PublishEvent(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)

	producer := &Producer{
		producer: mockProducer,
		logger:   log.WithField("component", "kafka-producer-test"),
	}

	mockProducer.ExpectSendMessageAndSucceed()

	event := NewOrderEvent(
		EventTypeOrderPaid,
		"order-123",
		"ORD-1001",
		"cust-1",
		"processing",
		"paid",
		map[string]interface{}{
			"gateway": "novapay",
		},
	)

	err := producer.PublishEvent(TopicOrderEvents, "order-123", event)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestProducer_PublishEvent_Error(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)

	producer := &Producer{
		producer: mockProducer,
		logger:   log.WithField("component", "kafka-producer-test"),
	}

	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	event := NewOrderEvent(EventTypePaymentFailed, "order-123", "ORD-1001", "cust-1", "pending", "failed", nil)

	err := producer.PublishEvent(TopicOrderEvents, "order-123", event)
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestNewOrderEvent(t *testing.T) {
	metadata := map[string]interface{}{
		"transaction_id": "TXN-77",
	}

	event := NewOrderEvent(EventTypeOrderPaid, "order-123", "ORD-1001", "cust-1", "processing", "paid", metadata)

	if event.EventType != EventTypeOrderPaid {
		t.Errorf("expected event type %s, got %s", EventTypeOrderPaid, event.EventType)
	}
	if event.OrderID != "order-123" {
		t.Errorf("expected order id order-123, got %s", event.OrderID)
	}
	if event.OrderNumber != "ORD-1001" {
		t.Errorf("expected order number ORD-1001, got %s", event.OrderNumber)
	}
	if event.CustomerID != "cust-1" {
		t.Errorf("expected customer id cust-1, got %s", event.CustomerID)
	}
	if event.Status != "processing" || event.PaymentStatus != "paid" {
		t.Errorf("unexpected statuses: %s/%s", event.Status, event.PaymentStatus)
	}
	if event.Metadata["transaction_id"] != "TXN-77" {
		t.Error("metadata not set correctly")
	}

	if event.Timestamp.IsZero() {
		t.Error("timestamp should not be zero")
	}
	if time.Since(event.Timestamp) > time.Second {
		t.Error("timestamp should be close to current time")
	}
}

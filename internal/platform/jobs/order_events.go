package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/marketcart/checkout-api/internal/services"
)

// OrdersSubmittedEventType is set as the eventType attribute of every message.
const OrdersSubmittedEventType = "checkout.orders_submitted"

// ordersSubmittedMessage is the wire form of services.OrdersSubmittedEvent.
type ordersSubmittedMessage struct {
	EventType   string   `json:"eventType"`
	RequestID   string   `json:"requestId"`
	AddressID   string   `json:"addressId"`
	OrderIDs    []string `json:"orderIds"`
	StoreIDs    []string `json:"storeIds"`
	GrandTotal  int64    `json:"grandTotal"`
	Currency    string   `json:"currency"`
	SubmittedAt string   `json:"submittedAt"`
}

// PubSubOrderPublisher announces submitted checkouts on a Pub/Sub topic for downstream
// fulfilment and analytics consumers.
type PubSubOrderPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

var _ services.OrderEventPublisher = (*PubSubOrderPublisher)(nil)

// NewPubSubOrderPublisher constructs a publisher bound to topic.
func NewPubSubOrderPublisher(topic *pubsub.Topic) (*PubSubOrderPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub order publisher: topic is required")
	}
	return &PubSubOrderPublisher{topic: topic, marshal: json.Marshal}, nil
}

// PublishOrdersSubmitted publishes event and waits for the server acknowledgement.
func (p *PubSubOrderPublisher) PublishOrdersSubmitted(ctx context.Context, event services.OrdersSubmittedEvent) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub order publisher: not initialised")
	}
	data, err := p.marshal(ordersSubmittedMessage{
		EventType:   OrdersSubmittedEventType,
		RequestID:   event.RequestID,
		AddressID:   event.AddressID,
		OrderIDs:    event.OrderIDs,
		StoreIDs:    event.StoreIDs,
		GrandTotal:  event.GrandTotal,
		Currency:    event.Currency,
		SubmittedAt: event.SubmittedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("marshal orders submitted event: %w", err)
	}

	attrs := map[string]string{"eventType": OrdersSubmittedEventType}
	setAttr(attrs, "requestId", event.RequestID)
	setAttr(attrs, "currency", event.Currency)
	if len(event.StoreIDs) > 0 {
		attrs["storeIds"] = strings.Join(event.StoreIDs, ",")
	}

	result := p.topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish orders submitted event: %w", err)
	}
	return nil
}

func setAttr(attrs map[string]string, key, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}

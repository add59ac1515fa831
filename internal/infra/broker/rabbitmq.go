package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"solpay_relay/internal/domain"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
)

// TransferMessage is the JSON body published for every relayed transfer.
type TransferMessage struct {
	Wallet     string    `json:"wallet"`
	Signature  string    `json:"signature,omitempty"`
	Seq        uint64    `json:"seq"`
	Lamports   int64     `json:"lamports"`
	AmountSOL  string    `json:"amountSOL"`
	AmountUSD  string    `json:"amountUSD"`
	AmountINR  string    `json:"amountINR"`
	ObservedAt time.Time `json:"observedAt"`
}

// Publisher fans transfer events out to a RabbitMQ topic exchange.
type Publisher struct {
	conn       *amqp091.Connection
	channel    *amqp091.Channel
	exchange   string
	routingKey string
	mu         sync.Mutex
}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.Trim(clean, "\"'")
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	// An explicit vhost path is left untouched
	if u.Path == "" {
		u.Path = "/"
		return u.String(), nil
	}
	return clean, nil
}

// NewPublisher dials the broker and declares the durable topic exchange.
func NewPublisher(amqpURL, exchange, routingKey string) (*Publisher, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp091.Dial(cleanURL)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}

	err = channel.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange %q: %w", exchange, err)
	}

	slog.Info("📨 Broker connected", slog.String("exchange", exchange), slog.String("routing_key", routingKey))
	return &Publisher{
		conn:       conn,
		channel:    channel,
		exchange:   exchange,
		routingKey: routingKey,
	}, nil
}

func newTransferMessage(ev domain.TransferEvent) TransferMessage {
	p := ev.Payload()
	return TransferMessage{
		Wallet:     ev.Wallet,
		Signature:  ev.Signature,
		Seq:        ev.Seq,
		Lamports:   ev.Lamports,
		AmountSOL:  p.AmountSOL,
		AmountUSD:  p.AmountUSD,
		AmountINR:  p.AmountINR,
		ObservedAt: ev.ObservedAt,
	}
}

func buildPublishing(ev domain.TransferEvent) (amqp091.Publishing, error) {
	body, err := json.Marshal(newTransferMessage(ev))
	if err != nil {
		return amqp091.Publishing{}, err
	}
	return amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now(),
		Type:         domain.PaymentType,
		Body:         body,
	}, nil
}

// PublishTransfer sends one event to the configured exchange.
func (p *Publisher) PublishTransfer(ctx context.Context, ev domain.TransferEvent) error {
	msg, err := buildPublishing(ev)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.channel.PublishWithContext(ctx, p.exchange, p.routingKey, false, false, msg); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Wallet, err)
	}

	slog.Debug("Transfer published",
		slog.String("wallet", ev.Wallet),
		slog.String("exchange", p.exchange),
		slog.String("routing_key", p.routingKey),
	)
	return nil
}

// Close gracefully closes the channel and connection.
func (p *Publisher) Close() {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}

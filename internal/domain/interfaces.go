package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// LedgerClient is the chain collaborator: balances and confirmed-log subscriptions.
type LedgerClient interface {
	GetBalance(ctx context.Context, address string) (uint64, error)
	// SubscribeLogs returns a stream that is closed when ctx is cancelled.
	SubscribeLogs(ctx context.Context, address string) (<-chan LogNotification, error)
}

// RateProvider returns the price of one baseAsset unit in quoteCurrency.
type RateProvider interface {
	GetRate(ctx context.Context, baseAsset, quoteCurrency string) (decimal.Decimal, error)
}

// SessionSender delivers a payload to one live session.
type SessionSender interface {
	Send(ctx context.Context, handle SessionHandle, payload PaymentPayload) error
}

// PaymentRecorder persists relay outcomes.
type PaymentRecorder interface {
	SavePayment(ctx context.Context, rec *PaymentRecord) error
}

// EventPublisher fans transfer events out to downstream consumers.
type EventPublisher interface {
	PublishTransfer(ctx context.Context, ev TransferEvent) error
}

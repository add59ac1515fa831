package service

import (
	"context"
	"log/slog"
	"time"

	"solpay_relay/internal/domain"
	"solpay_relay/internal/infra"
)

// RelayDispatcher delivers transfer events to the wallet's live session, at most once.
// Nothing is queued for devices that are offline.
type RelayDispatcher struct {
	registry          *SessionRegistry
	sender            domain.SessionSender
	recorder          domain.PaymentRecorder // optional
	publisher         domain.EventPublisher  // optional
	notifyNonPositive bool
	sendTimeout       time.Duration
	metrics           *infra.Metrics
	now               func() time.Time
}

// DispatcherOption configures optional collaborators.
type DispatcherOption func(*RelayDispatcher)

// WithRecorder stores every outcome in the payment history.
func WithRecorder(rec domain.PaymentRecorder) DispatcherOption {
	return func(d *RelayDispatcher) { d.recorder = rec }
}

// WithPublisher fans events out before delivery.
func WithPublisher(pub domain.EventPublisher) DispatcherOption {
	return func(d *RelayDispatcher) { d.publisher = pub }
}

// WithNonPositive controls whether zero and negative transfers reach devices.
func WithNonPositive(notify bool) DispatcherOption {
	return func(d *RelayDispatcher) { d.notifyNonPositive = notify }
}

// WithSendTimeout bounds each session write.
func WithSendTimeout(timeout time.Duration) DispatcherOption {
	return func(d *RelayDispatcher) { d.sendTimeout = timeout }
}

// NewRelayDispatcher creates a dispatcher.
func NewRelayDispatcher(registry *SessionRegistry, sender domain.SessionSender, metrics *infra.Metrics, opts ...DispatcherOption) *RelayDispatcher {
	if metrics == nil {
		metrics = infra.NewMetrics()
	}
	d := &RelayDispatcher{
		registry:          registry,
		sender:            sender,
		notifyNonPositive: true,
		sendTimeout:       5 * time.Second,
		metrics:           metrics,
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch relays one event and reports what happened to it.
func (d *RelayDispatcher) Dispatch(ctx context.Context, ev domain.TransferEvent) domain.DeliveryOutcome {
	reg, _ := d.registry.Get(ev.Wallet)
	payload := ev.Payload()
	logger := slog.With(
		slog.String("wallet", ev.Wallet),
		slog.String("device", reg.DeviceAddress),
		slog.String("signature", ev.Signature),
	)

	if !ev.IsPositive() && !d.notifyNonPositive {
		logger.Info("Non-positive transfer skipped", slog.String("amountSOL", payload.AmountSOL))
		d.record(ctx, ev, reg.DeviceAddress, domain.OutcomeSkipped)
		return domain.OutcomeSkipped
	}

	logger.Info("💸 New transaction",
		slog.String("amountSOL", payload.AmountSOL),
		slog.String("amountUSD", payload.AmountUSD),
		slog.String("amountINR", payload.AmountINR),
	)

	if d.publisher != nil {
		if err := d.publisher.PublishTransfer(ctx, ev); err != nil {
			logger.Warn("Transfer publish failed", slog.Any("error", err))
		}
	}

	var outcome domain.DeliveryOutcome
	switch b := d.registry.LookupSession(ev.Wallet).(type) {
	case domain.Bound:
		sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
		err := d.sender.Send(sendCtx, b.Handle, payload)
		cancel()
		if err != nil {
			d.metrics.RecordDeliveryFailed()
			logger.Error("Delivery failed", slog.String("session", string(b.Handle)), slog.Any("error", err))
			outcome = domain.OutcomeDeliveryFailed
			break
		}
		d.metrics.RecordRelayed(d.now().Sub(ev.ObservedAt))
		logger.Info("✅ Transaction delivered", slog.String("session", string(b.Handle)))
		outcome = domain.OutcomeDelivered
	default:
		d.metrics.RecordNoSession()
		logger.Warn("No live session for device, notification dropped")
		outcome = domain.OutcomeNoSession
	}

	d.record(ctx, ev, reg.DeviceAddress, outcome)
	return outcome
}

func (d *RelayDispatcher) record(ctx context.Context, ev domain.TransferEvent, device string, outcome domain.DeliveryOutcome) {
	if d.recorder == nil {
		return
	}
	if err := d.recorder.SavePayment(ctx, domain.NewPaymentRecord(ev, device, outcome)); err != nil {
		slog.Warn("Payment history write failed", slog.String("wallet", ev.Wallet), slog.Any("error", err))
	}
}

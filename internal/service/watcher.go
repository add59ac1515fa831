package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"solpay_relay/internal/domain"
	"solpay_relay/internal/infra"
)

// LedgerWatcher turns a wallet's confirmed-log feed into balance changes.
type LedgerWatcher struct {
	ledger        domain.LedgerClient
	qualifies     Predicate
	lookupTimeout time.Duration
	metrics       *infra.Metrics
	now           func() time.Time
}

// NewLedgerWatcher creates a watcher. A nil predicate means SucceededTransactions.
func NewLedgerWatcher(ledger domain.LedgerClient, qualifies Predicate, lookupTimeout time.Duration, metrics *infra.Metrics) *LedgerWatcher {
	if qualifies == nil {
		qualifies = SucceededTransactions()
	}
	if lookupTimeout <= 0 {
		lookupTimeout = 15 * time.Second
	}
	if metrics == nil {
		metrics = infra.NewMetrics()
	}
	return &LedgerWatcher{
		ledger:        ledger,
		qualifies:     qualifies,
		lookupTimeout: lookupTimeout,
		metrics:       metrics,
		now:           time.Now,
	}
}

// Watch reads the baseline balance, subscribes to the wallet's logs and returns
// the change stream. The stream closes when ctx is cancelled or the feed ends.
// If the baseline cannot be read the watch does not start.
func (w *LedgerWatcher) Watch(ctx context.Context, wallet string) (<-chan domain.BalanceChange, error) {
	baseline, err := w.balance(ctx, wallet)
	if err != nil {
		w.metrics.RecordBalanceFailure()
		return nil, err
	}

	logs, err := w.ledger.SubscribeLogs(ctx, wallet)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", wallet, err)
	}

	out := make(chan domain.BalanceChange)
	go w.run(ctx, wallet, baseline, logs, out)

	slog.Info("👀 Watching wallet", slog.String("wallet", wallet), slog.Uint64("baseline", baseline))
	return out, nil
}

func (w *LedgerWatcher) run(ctx context.Context, wallet string, baseline uint64, logs <-chan domain.LogNotification, out chan<- domain.BalanceChange) {
	defer close(out)

	var seq uint64
	for {
		var n domain.LogNotification
		var ok bool
		select {
		case <-ctx.Done():
			return
		case n, ok = <-logs:
			if !ok {
				slog.Warn("Log feed closed", slog.String("wallet", wallet))
				return
			}
		}

		qualified := w.qualifies(n)
		w.metrics.RecordNotification(qualified)
		if !qualified {
			slog.Debug("Notification did not qualify", slog.String("wallet", wallet), slog.String("signature", n.Signature))
			continue
		}

		current, err := w.balance(ctx, wallet)
		if err != nil {
			// Drop this notification, keep watching; the next delta still spans it
			w.metrics.RecordBalanceFailure()
			slog.Error("Balance re-read failed, notification dropped",
				slog.String("wallet", wallet),
				slog.String("signature", n.Signature),
				slog.Any("error", err),
			)
			continue
		}

		seq++
		change := domain.BalanceChange{
			Wallet:        wallet,
			Signature:     n.Signature,
			Seq:           seq,
			Before:        baseline,
			After:         current,
			DeltaLamports: int64(current) - int64(baseline),
			ObservedAt:    w.now(),
		}
		baseline = current

		select {
		case out <- change:
		case <-ctx.Done():
			return
		}
	}
}

func (w *LedgerWatcher) balance(ctx context.Context, wallet string) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, w.lookupTimeout)
	defer cancel()

	bal, err := w.ledger.GetBalance(ctx, wallet)
	if err != nil {
		if errors.Is(err, domain.ErrBalanceLookupFailed) {
			return 0, err
		}
		return 0, fmt.Errorf("wallet %s: %w: %w", wallet, domain.ErrBalanceLookupFailed, err)
	}
	return bal, nil
}

package service

import (
	"context"
	"errors"
	"sync"

	"solpay_relay/internal/domain"

	"github.com/shopspring/decimal"
)

// fakeLedger serves scripted balances and a test-driven log feed per wallet.
type fakeLedger struct {
	mu         sync.Mutex
	balances   map[string][]uint64 // consumed front to back; last value repeats
	balanceErr map[string]error
	feeds      map[string]chan domain.LogNotification
	subs       map[string]int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		balances:   make(map[string][]uint64),
		balanceErr: make(map[string]error),
		feeds:      make(map[string]chan domain.LogNotification),
		subs:       make(map[string]int),
	}
}

func (l *fakeLedger) setBalances(wallet string, values ...uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[wallet] = values
}

func (l *fakeLedger) failBalance(wallet string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balanceErr[wallet] = err
}

func (l *fakeLedger) GetBalance(ctx context.Context, address string) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.balanceErr[address]; err != nil {
		return 0, err
	}
	values := l.balances[address]
	if len(values) == 0 {
		return 0, errors.New("no scripted balance")
	}
	v := values[0]
	if len(values) > 1 {
		l.balances[address] = values[1:]
	}
	return v, nil
}

func (l *fakeLedger) SubscribeLogs(ctx context.Context, address string) (<-chan domain.LogNotification, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subs[address]++
	ch, ok := l.feeds[address]
	if !ok {
		ch = make(chan domain.LogNotification, 16)
		l.feeds[address] = ch
	}
	return ch, nil
}

func (l *fakeLedger) feed(wallet string) chan domain.LogNotification {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.feeds[wallet]
	if !ok {
		ch = make(chan domain.LogNotification, 16)
		l.feeds[wallet] = ch
	}
	return ch
}

func (l *fakeLedger) subscriptions(wallet string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.subs[wallet]
}

// fakeRates returns fixed rates per quote currency.
type fakeRates struct {
	mu    sync.Mutex
	rates map[string]decimal.Decimal
	err   error
	calls int
}

func newFakeRates(usd, inr string) *fakeRates {
	return &fakeRates{rates: map[string]decimal.Decimal{
		QuoteUSD: decimal.RequireFromString(usd),
		QuoteINR: decimal.RequireFromString(inr),
	}}
}

func (r *fakeRates) GetRate(ctx context.Context, base, quote string) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return decimal.Zero, r.err
	}
	rate, ok := r.rates[quote]
	if !ok {
		return decimal.Zero, domain.ErrRateUnavailable
	}
	return rate, nil
}

func (r *fakeRates) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func (r *fakeRates) setErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

type sentPayload struct {
	handle  domain.SessionHandle
	payload domain.PaymentPayload
}

// fakeSender records every delivery attempt.
type fakeSender struct {
	mu   sync.Mutex
	sent []sentPayload
	err  error
	ch   chan sentPayload
}

func newFakeSender() *fakeSender {
	return &fakeSender{ch: make(chan sentPayload, 16)}
}

func (s *fakeSender) Send(ctx context.Context, handle domain.SessionHandle, payload domain.PaymentPayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	p := sentPayload{handle: handle, payload: payload}
	s.sent = append(s.sent, p)
	s.ch <- p
	return nil
}

func (s *fakeSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

// fakeRecorder keeps payment records in memory.
type fakeRecorder struct {
	mu      sync.Mutex
	records []domain.PaymentRecord
}

func (r *fakeRecorder) SavePayment(ctx context.Context, rec *domain.PaymentRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, *rec)
	return nil
}

func (r *fakeRecorder) outcomes() []domain.DeliveryOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.DeliveryOutcome, len(r.records))
	for i, rec := range r.records {
		out[i] = rec.Outcome
	}
	return out
}

// fakeDispatcher captures events reaching the dispatch stage.
type fakeDispatcher struct {
	ch chan domain.TransferEvent
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, ev domain.TransferEvent) domain.DeliveryOutcome {
	d.ch <- ev
	return domain.OutcomeDelivered
}

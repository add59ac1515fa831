package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"solpay_relay/internal/domain"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

const (
	QuoteUSD = "usd"
	QuoteINR = "inr"
)

// Rates holds the per-unit price of the native asset in each display currency.
type Rates struct {
	USD decimal.Decimal
	INR decimal.Decimal
}

// Compute converts a balance change into a transfer event.
// Fiat amounts are rounded to 2 places; the SOL amount keeps full lamport precision.
func Compute(change domain.BalanceChange, rates Rates) (domain.TransferEvent, error) {
	if !rates.USD.IsPositive() || !rates.INR.IsPositive() {
		return domain.TransferEvent{}, fmt.Errorf("incomplete rates usd=%s inr=%s: %w", rates.USD, rates.INR, domain.ErrRateUnavailable)
	}

	sol := change.AmountSOL()
	return domain.TransferEvent{
		Wallet:     change.Wallet,
		Signature:  change.Signature,
		Seq:        change.Seq,
		Lamports:   change.DeltaLamports,
		AmountSOL:  sol,
		AmountUSD:  sol.Mul(rates.USD).Round(2),
		AmountINR:  sol.Mul(rates.INR).Round(2),
		ObservedAt: change.ObservedAt,
	}, nil
}

// TransferComputer enriches balance changes with current exchange rates.
type TransferComputer struct {
	rates     domain.RateProvider
	baseAsset string
	timeout   time.Duration
}

// NewTransferComputer creates a computer quoting baseAsset (e.g. "solana").
func NewTransferComputer(rates domain.RateProvider, baseAsset string, timeout time.Duration) *TransferComputer {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &TransferComputer{
		rates:     rates,
		baseAsset: baseAsset,
		timeout:   timeout,
	}
}

// FetchRates looks up both display rates concurrently. Either failure fails the whole fetch.
func (c *TransferComputer) FetchRates(ctx context.Context) (Rates, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var rates Rates
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r, err := c.rates.GetRate(gctx, c.baseAsset, QuoteUSD)
		rates.USD = r
		return err
	})
	g.Go(func() error {
		r, err := c.rates.GetRate(gctx, c.baseAsset, QuoteINR)
		rates.INR = r
		return err
	})
	if err := g.Wait(); err != nil {
		if errors.Is(err, domain.ErrRateUnavailable) {
			return Rates{}, err
		}
		return Rates{}, fmt.Errorf("%w: %w", domain.ErrRateUnavailable, err)
	}
	return rates, nil
}

// Enrich fetches rates and computes the event. No partial event is returned on failure.
func (c *TransferComputer) Enrich(ctx context.Context, change domain.BalanceChange) (domain.TransferEvent, error) {
	rates, err := c.FetchRates(ctx)
	if err != nil {
		return domain.TransferEvent{}, err
	}
	return Compute(change, rates)
}

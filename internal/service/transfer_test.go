package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"solpay_relay/internal/domain"

	"github.com/shopspring/decimal"
)

func TestCompute(t *testing.T) {
	tests := []struct {
		name     string
		before   uint64
		after    uint64
		usd, inr string
		wantSOL  string
		wantUSD  string
		wantINR  string
	}{
		{
			name: "half SOL", before: 1_000_000_000, after: 1_500_000_000,
			usd: "20.00", inr: "1700.00",
			wantSOL: "0.5000", wantUSD: "10.00", wantINR: "850.00",
		},
		{
			name: "dust transfer", before: 1_000, after: 1_500,
			usd: "20.00", inr: "1700.00",
			wantSOL: "0.0000", wantUSD: "0.00", wantINR: "0.00",
		},
		{
			name: "rounding", before: 0, after: 123_456_789,
			usd: "142.37", inr: "11873.5",
			wantSOL: "0.1235", wantUSD: "17.58", wantINR: "1465.86",
		},
		{
			name: "outgoing", before: 2_000_000_000, after: 1_750_000_000,
			usd: "20", inr: "1700",
			wantSOL: "-0.2500", wantUSD: "-5.00", wantINR: "-425.00",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			change := domain.BalanceChange{
				Wallet:        "W1",
				Before:        tt.before,
				After:         tt.after,
				DeltaLamports: int64(tt.after) - int64(tt.before),
			}
			ev, err := Compute(change, Rates{
				USD: decimal.RequireFromString(tt.usd),
				INR: decimal.RequireFromString(tt.inr),
			})
			if err != nil {
				t.Fatalf("Compute failed: %v", err)
			}
			p := ev.Payload()
			if p.AmountSOL != tt.wantSOL || p.AmountUSD != tt.wantUSD || p.AmountINR != tt.wantINR {
				t.Errorf("payload = %+v, want SOL=%s USD=%s INR=%s", p, tt.wantSOL, tt.wantUSD, tt.wantINR)
			}
		})
	}
}

func TestCompute_KeepsNativePrecision(t *testing.T) {
	change := domain.BalanceChange{DeltaLamports: 500}
	ev, err := Compute(change, Rates{USD: decimal.NewFromInt(20), INR: decimal.NewFromInt(1700)})
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	if !ev.AmountSOL.Equal(decimal.RequireFromString("0.0000005")) {
		t.Errorf("AmountSOL = %s, want 0.0000005", ev.AmountSOL)
	}
	if !ev.AmountUSD.Equal(decimal.Zero) {
		t.Errorf("AmountUSD = %s, want 0 after rounding", ev.AmountUSD)
	}
}

func TestCompute_MissingRate(t *testing.T) {
	_, err := Compute(domain.BalanceChange{DeltaLamports: 1}, Rates{USD: decimal.NewFromInt(20)})
	if !errors.Is(err, domain.ErrRateUnavailable) {
		t.Errorf("Expected ErrRateUnavailable, got %v", err)
	}
}

func TestTransferComputer_Enrich(t *testing.T) {
	rates := newFakeRates("20", "1700")
	c := NewTransferComputer(rates, "solana", time.Second)

	ev, err := c.Enrich(context.Background(), domain.BalanceChange{Wallet: "W1", DeltaLamports: 1_000_000_000})
	if err != nil {
		t.Fatalf("Enrich failed: %v", err)
	}
	if ev.Payload().AmountUSD != "20.00" || ev.Payload().AmountINR != "1700.00" {
		t.Errorf("unexpected payload %+v", ev.Payload())
	}
	if rates.calls != 2 {
		t.Errorf("Expected 2 rate lookups, got %d", rates.calls)
	}
}

func TestTransferComputer_AllOrNothing(t *testing.T) {
	rates := newFakeRates("20", "1700")
	delete(rates.rates, QuoteINR)
	c := NewTransferComputer(rates, "solana", time.Second)

	ev, err := c.Enrich(context.Background(), domain.BalanceChange{Wallet: "W1", DeltaLamports: 1})
	if !errors.Is(err, domain.ErrRateUnavailable) {
		t.Fatalf("Expected ErrRateUnavailable, got %v", err)
	}
	if ev.Wallet != "" {
		t.Error("no partial event should be returned")
	}
}

func TestTransferComputer_WrapsForeignErrors(t *testing.T) {
	rates := newFakeRates("20", "1700")
	rates.setErr(context.DeadlineExceeded)
	c := NewTransferComputer(rates, "solana", time.Second)

	_, err := c.Enrich(context.Background(), domain.BalanceChange{DeltaLamports: 1})
	if !errors.Is(err, domain.ErrRateUnavailable) {
		t.Fatalf("Expected ErrRateUnavailable, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("cause should stay reachable, got %v", err)
	}
	if strings.Contains(err.Error(), "\n") {
		t.Errorf("error message should be a single line, got %q", err.Error())
	}
}

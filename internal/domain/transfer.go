package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	// LamportsPerSOL is the number of native units in one SOL.
	LamportsPerSOL = 1_000_000_000

	// lamportExp scales lamports into SOL for decimal.New.
	lamportExp = -9

	// PaymentType is the fixed discriminator of the device payload.
	PaymentType = "PAYMENT"
)

// LogNotification is one confirmed-log message from the ledger feed.
type LogNotification struct {
	Signature string
	Slot      uint64
	Lines     []string
	Failed    bool // the transaction carried an error
}

// BalanceChange is what a watch emits per qualifying notification.
// Delta is relative to the previous observation, not to the registration baseline.
type BalanceChange struct {
	Wallet        string
	Signature     string
	Seq           uint64 // order of detection within the watch
	Before        uint64
	After         uint64
	DeltaLamports int64
	ObservedAt    time.Time
}

// AmountSOL converts the delta into SOL without losing precision.
func (c BalanceChange) AmountSOL() decimal.Decimal {
	return LamportsToSOL(c.DeltaLamports)
}

// LamportsToSOL converts native units to SOL.
func LamportsToSOL(lamports int64) decimal.Decimal {
	return decimal.New(lamports, lamportExp)
}

// TransferEvent is an enriched balance change, ready for relay.
type TransferEvent struct {
	Wallet     string          `json:"wallet"`
	Signature  string          `json:"signature,omitempty"`
	Seq        uint64          `json:"seq"`
	Lamports   int64           `json:"lamports"`
	AmountSOL  decimal.Decimal `json:"amountSOL"`
	AmountUSD  decimal.Decimal `json:"amountUSD"`
	AmountINR  decimal.Decimal `json:"amountINR"`
	ObservedAt time.Time       `json:"observedAt"`
}

// IsPositive reports whether the transfer increased the wallet balance.
func (e TransferEvent) IsPositive() bool {
	return e.Lamports > 0
}

// PaymentPayload is the wire message delivered to devices. Field names are fixed.
type PaymentPayload struct {
	Type      string `json:"type"`
	AmountSOL string `json:"amountSOL"`
	AmountUSD string `json:"amountUSD"`
	AmountINR string `json:"amountINR"`
}

// Payload renders the event for a device: SOL with 4 decimals, fiat with 2.
func (e TransferEvent) Payload() PaymentPayload {
	return PaymentPayload{
		Type:      PaymentType,
		AmountSOL: e.AmountSOL.StringFixed(4),
		AmountUSD: e.AmountUSD.StringFixed(2),
		AmountINR: e.AmountINR.StringFixed(2),
	}
}

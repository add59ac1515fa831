package domain

import "time"

// DeliveryOutcome records what happened to one relayed transfer.
type DeliveryOutcome string

const (
	OutcomeDelivered      DeliveryOutcome = "delivered"
	OutcomeNoSession      DeliveryOutcome = "no_session"
	OutcomeDeliveryFailed DeliveryOutcome = "delivery_failed"
	OutcomeSkipped        DeliveryOutcome = "skipped"
)

// PaymentRecord is one row of the relay audit log.
type PaymentRecord struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	Wallet        string          `gorm:"index" json:"wallet"`
	Signature     string          `json:"signature,omitempty"`
	DeviceAddress string          `json:"deviceAddress"`
	AmountSOL     string          `json:"amountSOL"`
	AmountUSD     string          `json:"amountUSD"`
	AmountINR     string          `json:"amountINR"`
	Outcome       DeliveryOutcome `gorm:"index" json:"outcome"`
	CreatedAt     time.Time       `gorm:"index" json:"createdAt"`
}

// NewPaymentRecord builds an audit row from an event and its outcome.
func NewPaymentRecord(ev TransferEvent, device string, outcome DeliveryOutcome) *PaymentRecord {
	p := ev.Payload()
	return &PaymentRecord{
		Wallet:        ev.Wallet,
		Signature:     ev.Signature,
		DeviceAddress: device,
		AmountSOL:     p.AmountSOL,
		AmountUSD:     p.AmountUSD,
		AmountINR:     p.AmountINR,
		Outcome:       outcome,
	}
}

package domain

import "time"

// SessionHandle identifies one live device connection.
type SessionHandle string

// SessionBinding is either Unbound or Bound. The registry owns it; a Registration only carries a copy.
type SessionBinding interface {
	isSessionBinding()
}

// Unbound means no live session is attached to the wallet.
type Unbound struct{}

// Bound carries the handle of the session currently attached to the wallet.
type Bound struct {
	Handle SessionHandle
}

func (Unbound) isSessionBinding() {}
func (Bound) isSessionBinding()   {}

// HandleOf returns the bound handle and true, or "" and false for Unbound.
func HandleOf(b SessionBinding) (SessionHandle, bool) {
	if bound, ok := b.(Bound); ok {
		return bound.Handle, true
	}
	return "", false
}

// Registration binds a tracked wallet to the device that asked for its notifications.
type Registration struct {
	WalletAddress string         `json:"walletAddress"`
	DeviceAddress string         `json:"deviceAddress"`
	Session       SessionBinding `json:"-"`
	RegisteredAt  time.Time      `json:"registeredAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// IsBound reports whether a live session is attached.
func (r Registration) IsBound() bool {
	_, ok := HandleOf(r.Session)
	return ok
}

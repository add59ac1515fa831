package service

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"solpay_relay/internal/domain"
)

// SessionRegistry maps wallets to their device and live session.
// All mutations serialize on mu; no I/O happens while it is held.
type SessionRegistry struct {
	mu       sync.RWMutex
	entries  map[string]*domain.Registration
	bySocket map[domain.SessionHandle]map[string]struct{} // handle -> wallets it serves
	now      func() time.Time
}

// NewSessionRegistry creates an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		entries:  make(map[string]*domain.Registration),
		bySocket: make(map[domain.SessionHandle]map[string]struct{}),
		now:      time.Now,
	}
}

// Upsert creates the registration for wallet or updates its device address.
// An existing session binding is never cleared. created reports a new entry.
func (r *SessionRegistry) Upsert(wallet, device string) (reg domain.Registration, created bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	entry, exists := r.entries[wallet]
	if !exists {
		entry = &domain.Registration{
			WalletAddress: wallet,
			Session:       domain.Unbound{},
			RegisteredAt:  now,
		}
		r.entries[wallet] = entry
	}
	entry.DeviceAddress = device
	entry.UpdatedAt = now

	return *entry, !exists
}

// BindSession attaches handle to the registration whose wallet and device both match.
// One handle may serve several wallets; other registrations are never touched.
func (r *SessionRegistry) BindSession(wallet, device string, handle domain.SessionHandle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[wallet]
	if !ok || entry.DeviceAddress != device {
		return fmt.Errorf("wallet %s device %s: %w", wallet, device, domain.ErrRegistrationNotFound)
	}

	if old, ok := domain.HandleOf(entry.Session); ok && old != handle {
		r.unindex(old, wallet)
		slog.Info("Session replaced", slog.String("wallet", wallet), slog.String("old", string(old)), slog.String("new", string(handle)))
	}

	entry.Session = domain.Bound{Handle: handle}
	entry.UpdatedAt = r.now()
	wallets, ok := r.bySocket[handle]
	if !ok {
		wallets = make(map[string]struct{})
		r.bySocket[handle] = wallets
	}
	wallets[wallet] = struct{}{}
	return nil
}

func (r *SessionRegistry) unindex(handle domain.SessionHandle, wallet string) {
	wallets := r.bySocket[handle]
	delete(wallets, wallet)
	if len(wallets) == 0 {
		delete(r.bySocket, handle)
	}
}

// ReleaseSession clears handle from every registration holding it.
// It returns the wallets that were bound, sorted; nil when none was.
func (r *SessionRegistry) ReleaseSession(handle domain.SessionHandle) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	wallets, ok := r.bySocket[handle]
	if !ok {
		return nil
	}
	delete(r.bySocket, handle)

	released := make([]string, 0, len(wallets))
	now := r.now()
	for wallet := range wallets {
		entry, ok := r.entries[wallet]
		if !ok {
			continue
		}
		if h, bound := domain.HandleOf(entry.Session); bound && h == handle {
			entry.Session = domain.Unbound{}
			entry.UpdatedAt = now
			released = append(released, wallet)
		}
	}
	sort.Strings(released)
	return released
}

// LookupSession returns the wallet's current binding; Unbound for unknown wallets.
func (r *SessionRegistry) LookupSession(wallet string) domain.SessionBinding {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if entry, ok := r.entries[wallet]; ok {
		return entry.Session
	}
	return domain.Unbound{}
}

// Get returns a copy of the registration.
func (r *SessionRegistry) Get(wallet string) (domain.Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[wallet]
	if !ok {
		return domain.Registration{}, false
	}
	return *entry, true
}

// Count returns the number of registrations.
func (r *SessionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

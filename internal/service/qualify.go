package service

import (
	"fmt"
	"strings"

	"solpay_relay/internal/domain"
)

// Predicate decides whether a log notification represents a transfer worth re-reading the balance for.
type Predicate func(domain.LogNotification) bool

// SucceededTransactions qualifies every notification whose transaction carried no error.
func SucceededTransactions() Predicate {
	return func(n domain.LogNotification) bool {
		return !n.Failed
	}
}

// LinesContain qualifies notifications with at least one log line containing marker.
func LinesContain(marker string) Predicate {
	return func(n domain.LogNotification) bool {
		for _, line := range n.Lines {
			if strings.Contains(line, marker) {
				return true
			}
		}
		return false
	}
}

// NewPredicate builds the policy named in config: "succeeded" or "contains".
func NewPredicate(policy, marker string) (Predicate, error) {
	switch policy {
	case "", "succeeded":
		return SucceededTransactions(), nil
	case "contains":
		if marker == "" {
			return nil, fmt.Errorf("contains policy needs a marker")
		}
		return LinesContain(marker), nil
	default:
		return nil, fmt.Errorf("unknown qualify policy %q", policy)
	}
}

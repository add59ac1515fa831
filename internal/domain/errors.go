package domain

import "errors"

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// NetworkError represents a network-related error that may be retriable
type NetworkError struct {
	Op        string // Operation that failed (e.g., "get_balance", "fetch_rate", "subscribe")
	Err       error  // Underlying error
	Retriable bool   // Whether this error is retriable
}

func (e *NetworkError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *NetworkError) IsRetriable() bool {
	return e.Retriable
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// NewNetworkError creates a new retriable network error
func NewNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: true}
}

// NewFatalNetworkError creates a non-retriable network error
func NewFatalNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: false}
}

// ConfigError represents a configuration error (never retriable)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

var (
	// ErrRegistrationNotFound is returned when a session announce matches no registration.
	ErrRegistrationNotFound = errors.New("registration not found")

	// ErrBalanceLookupFailed is returned when the ledger balance cannot be read.
	ErrBalanceLookupFailed = errors.New("balance lookup failed")

	// ErrRateUnavailable is returned when an exchange rate cannot be fetched or parsed.
	ErrRateUnavailable = errors.New("rate unavailable")

	// ErrDeliveryFailed is returned when a payload could not be written to a session.
	ErrDeliveryFailed = errors.New("delivery failed")

	// ErrSessionNotFound is returned by the transport when a handle has no open connection.
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidAddress is returned when a wallet address cannot be decoded by the ledger client.
	ErrInvalidAddress = errors.New("invalid address")
)

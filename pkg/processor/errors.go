package processor

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/sigweihq/purchasegate/pkg/chains/evm"
	"github.com/sigweihq/purchasegate/pkg/metrics"
)

var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrUnknownSKU          = errors.New("unknown sku")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrTransactionReverted = errors.New("transaction reverted")
	ErrAlreadyProcessed    = errors.New("transaction already processed")
)

// InsufficientPaymentError carries the amounts shown to the client on a shortfall
type InsufficientPaymentError = evm.InsufficientPaymentError

// StorageError is a ledger failure; the on-chain truth is unchanged so the
// client may retry the whole verification
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// StatusCode maps a verification error to its HTTP status
func StatusCode(err error) int {
	var insufficient *InsufficientPaymentError
	var storage *StorageError

	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrTransactionNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrTransactionReverted):
		return http.StatusBadRequest
	case errors.Is(err, ErrAlreadyProcessed):
		return http.StatusBadRequest
	case errors.As(err, &insufficient):
		return http.StatusBadRequest
	case errors.As(err, &storage):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the message safe to show to the client
func PublicMessage(err error) string {
	var insufficient *InsufficientPaymentError
	var storage *StorageError

	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnknownSKU):
		return "Unknown skuId"
	case errors.Is(err, ErrInvalidInput):
		return inputMessage(err)
	case errors.Is(err, ErrTransactionNotFound):
		return "Transaction not found on chain yet, please try again shortly"
	case errors.Is(err, ErrTransactionReverted):
		return "Transaction failed (reverted)"
	case errors.Is(err, ErrAlreadyProcessed):
		return "Transaction already processed"
	case errors.As(err, &insufficient):
		return "Insufficient payment"
	case errors.As(err, &storage):
		return "Failed to record purchase"
	default:
		return "Internal server error"
	}
}

// OutcomeLabel maps a verification error to its metrics outcome
func OutcomeLabel(err error) string {
	var insufficient *InsufficientPaymentError
	var storage *StorageError

	switch {
	case err == nil:
		return metrics.OutcomeAccepted
	case errors.Is(err, ErrInvalidInput):
		return metrics.OutcomeInvalidInput
	case errors.Is(err, ErrTransactionNotFound):
		return metrics.OutcomeNotFound
	case errors.Is(err, ErrTransactionReverted):
		return metrics.OutcomeReverted
	case errors.Is(err, ErrAlreadyProcessed):
		return metrics.OutcomeDuplicate
	case errors.As(err, &insufficient):
		return metrics.OutcomeInsufficientPayment
	case errors.As(err, &storage):
		return metrics.OutcomeStorageError
	default:
		return metrics.OutcomeInternalError
	}
}

// inputMessage strips the sentinel prefix from an input error
func inputMessage(err error) string {
	msg := err.Error()
	prefix := ErrInvalidInput.Error() + ": "
	if len(msg) > len(prefix) && msg[:len(prefix)] == prefix {
		return msg[len(prefix):]
	}
	return "Missing required fields"
}

package metrics

import "time"

// Verification outcomes
const (
	OutcomeAccepted            = "accepted"
	OutcomeInvalidInput        = "invalid_input"
	OutcomeNotFound            = "not_found"
	OutcomeReverted            = "reverted"
	OutcomeDuplicate           = "duplicate"
	OutcomeInsufficientPayment = "insufficient_payment"
	OutcomeStorageError        = "storage_error"
	OutcomeInternalError       = "internal_error"
	OutcomeRateLimited         = "rate_limited"
)

// Resolve results
const (
	ResolveFound    = "found"
	ResolveNotFound = "not_found"
	ResolveReverted = "reverted"
	ResolveError    = "error"
)

// Recorder receives verification telemetry.
// classification is empty when the request never reached the validator.
type Recorder interface {
	RecordVerification(outcome, classification string)
	ObserveResolve(result string, duration time.Duration)
}

package worker

import (
	"errors"
)

// Sentinel errors a SenderConnection implementation wraps its failures
// with. Anything else, including timeouts, is treated as transient.
var (
	// ErrInvalidRecipient means the gateway rejected the recipient
	// permanently; retrying the same number cannot succeed.
	ErrInvalidRecipient = errors.New("recipient rejected by gateway")
	// ErrSenderDisconnected means the sender's gateway session is down.
	// The contact is not at fault and keeps its attempt budget.
	ErrSenderDisconnected = errors.New("sender session disconnected")
	// ErrRateLimited means the gateway throttled the sender; the sender's
	// next pacing delay is lengthened beyond the normal draw.
	ErrRateLimited = errors.New("sender rate limited by gateway")
)

// Outcome is the classification of a single send attempt.
type Outcome int

const (
	OutcomeSent Outcome = iota
	OutcomeTransient
	OutcomeRateLimited
	OutcomeInvalidRecipient
	OutcomeSenderDisconnected
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSent:
		return "sent"
	case OutcomeTransient:
		return "transient"
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeInvalidRecipient:
		return "invalid_recipient"
	case OutcomeSenderDisconnected:
		return "sender_disconnected"
	}
	return "unknown"
}

// Retryable reports whether the contact should be re-enqueued, subject to
// the attempt budget.
func (o Outcome) Retryable() bool {
	return o == OutcomeTransient || o == OutcomeRateLimited
}

// Classify maps a raw send error onto the outcome taxonomy. This mapping
// is what keeps one bad number or one dropped session from stalling or
// corrupting a whole campaign.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeSent
	case errors.Is(err, ErrInvalidRecipient):
		return OutcomeInvalidRecipient
	case errors.Is(err, ErrSenderDisconnected):
		return OutcomeSenderDisconnected
	case errors.Is(err, ErrRateLimited):
		return OutcomeRateLimited
	default:
		// Network errors, gateway 5xx and send timeouts all land here.
		return OutcomeTransient
	}
}

package worker

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Outcome
	}{
		{"nil means sent", nil, OutcomeSent},
		{"invalid recipient", ErrInvalidRecipient, OutcomeInvalidRecipient},
		{"wrapped invalid recipient", fmt.Errorf("gateway: %w", ErrInvalidRecipient), OutcomeInvalidRecipient},
		{"rate limited", ErrRateLimited, OutcomeRateLimited},
		{"sender disconnected", ErrSenderDisconnected, OutcomeSenderDisconnected},
		{"unknown error is transient", errors.New("boom"), OutcomeTransient},
		{"timeout is transient", context.DeadlineExceeded, OutcomeTransient},
		{"cancellation is transient", context.Canceled, OutcomeTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestOutcomeRetryable(t *testing.T) {
	assert.True(t, OutcomeTransient.Retryable())
	assert.True(t, OutcomeRateLimited.Retryable())
	assert.False(t, OutcomeSent.Retryable())
	assert.False(t, OutcomeInvalidRecipient.Retryable())
	assert.False(t, OutcomeSenderDisconnected.Retryable())
}

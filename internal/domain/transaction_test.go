package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransactionStatusTransitions(t *testing.T) {
	tests := []struct {
		from    TransactionStatus
		to      TransactionStatus
		allowed bool
	}{
		{TransactionStatusPending, TransactionStatusProcessing, true},
		{TransactionStatusPending, TransactionStatusPaid, true},
		{TransactionStatusPending, TransactionStatusFailed, true},
		{TransactionStatusPending, TransactionStatusExpired, true},
		{TransactionStatusPending, TransactionStatusCancelled, true},
		{TransactionStatusPending, TransactionStatusRefunded, false},
		{TransactionStatusProcessing, TransactionStatusPaid, true},
		{TransactionStatusProcessing, TransactionStatusFailed, true},
		{TransactionStatusProcessing, TransactionStatusExpired, false},
		{TransactionStatusPaid, TransactionStatusRefunded, true},
		{TransactionStatusPaid, TransactionStatusFailed, false},
		{TransactionStatusPaid, TransactionStatusExpired, false},
		{TransactionStatusPaid, TransactionStatusPending, false},
		{TransactionStatusExpired, TransactionStatusPaid, false},
		{TransactionStatusCancelled, TransactionStatusPaid, false},
		{TransactionStatusRefunded, TransactionStatusPaid, false},
		{TransactionStatusFailed, TransactionStatusPaid, false},
	}

	for _, tt := range tests {
		got := tt.from.CanTransitionTo(tt.to)
		assert.Equal(t, tt.allowed, got, "%s -> %s", tt.from, tt.to)
	}
}

func TestTransactionStatusIsTerminal(t *testing.T) {
	assert.False(t, TransactionStatusPending.IsTerminal())
	assert.False(t, TransactionStatusProcessing.IsTerminal())
	assert.False(t, TransactionStatusPaid.IsTerminal())
	assert.True(t, TransactionStatusFailed.IsTerminal())
	assert.True(t, TransactionStatusExpired.IsTerminal())
	assert.True(t, TransactionStatusCancelled.IsTerminal())
	assert.True(t, TransactionStatusRefunded.IsTerminal())
}

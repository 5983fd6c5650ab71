// Package intent defines the payment intent record and its lifecycle states.
package intent

import (
	"math/big"
	"time"
)

// Status is the lifecycle state of a payment intent.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusExpired    Status = "expired"
)

// Terminal reports whether the status can never change again.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusExpired:
		return true
	}
	return false
}

// Open reports whether the intent is still awaiting settlement.
func (s Status) Open() bool {
	return s == StatusPending || s == StatusProcessing
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusExpired:
		return true
	}
	return false
}

// Intent is a requested payment awaiting on-chain settlement. Addresses are
// stored normalized. Settlement fields are populated once, on completion, and
// never change afterwards.
type Intent struct {
	ID              string
	MerchantAddress string
	TokenAddress    string
	RequestedAmount string // decimal string in the token's natural unit
	Status          Status

	// Set when the payer claims to have paid; its presence makes the intent
	// a reconciliation candidate.
	TransactionHash string

	// Settlement fields, written exactly once on completion.
	PayerAddress string
	GrossAmount  *big.Int
	NetAmount    *big.Int
	FeeAmount    *big.Int
	BlockNumber  uint64
	CompletedAt  *time.Time

	ExpiresAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Reconcilable reports whether the reconciliation loop should look at this
// intent: still open and carrying a claimed transaction hash.
func (i Intent) Reconcilable() bool {
	return i.Status.Open() && i.TransactionHash != ""
}

// Settlement carries the on-chain outcome applied to an intent when it
// transitions to completed.
type Settlement struct {
	PayerAddress string
	GrossAmount  *big.Int
	NetAmount    *big.Int
	FeeAmount    *big.Int
	BlockNumber  uint64
	CompletedAt  time.Time
}

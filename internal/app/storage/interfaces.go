// Package storage declares the persistence contracts for the gateway core.
package storage

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/starkpay/gateway/internal/app/domain/intent"
	"github.com/starkpay/gateway/internal/app/domain/merchant"
)

// Sentinel errors shared by all store implementations so services can branch
// without knowing the backend.
var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyExists is returned on duplicate-key inserts.
	ErrAlreadyExists = errors.New("record already exists")
	// ErrTxHashUsed is returned when completing an intent would reuse a
	// transaction hash already bound to another completed intent.
	ErrTxHashUsed = errors.New("transaction hash already settled another intent")
	// ErrConflict is returned when a conditional status transition finds the
	// intent no longer in an eligible state.
	ErrConflict = errors.New("intent not in an eligible state")
)

// IntentStore persists payment intents. All status transitions are
// conditional updates: they only apply while the intent is still open, so
// the reconciler and the sweeper cannot both move the same intent.
type IntentStore interface {
	CreateIntent(ctx context.Context, it intent.Intent) (intent.Intent, error)
	GetIntent(ctx context.Context, id string) (intent.Intent, error)
	ListIntents(ctx context.Context, merchantAddress string) ([]intent.Intent, error)

	// AttachTransaction records the payer-claimed transaction hash on an
	// open intent, making it a reconciliation candidate.
	AttachTransaction(ctx context.Context, id, txHash string) (intent.Intent, error)

	// ListReconcilable returns open intents that carry a transaction hash.
	ListReconcilable(ctx context.Context) ([]intent.Intent, error)

	// ListCompletedByMerchant returns completed intents for one merchant,
	// the source of truth for aggregate recomputation.
	ListCompletedByMerchant(ctx context.Context, merchantAddress string) ([]intent.Intent, error)

	// CompleteIntent moves an open intent to completed and writes its
	// settlement fields. It fails with ErrConflict if the intent is no
	// longer open and with ErrTxHashUsed if another completed intent
	// already settled the same transaction hash. The intent's expiry is
	// forced to the completion time so its payment link cannot be replayed.
	CompleteIntent(ctx context.Context, id string, st intent.Settlement) (intent.Intent, error)

	// FailIntent moves an open intent to failed (terminal).
	FailIntent(ctx context.Context, id string) (intent.Intent, error)

	// MarkProcessing moves a pending intent to processing.
	MarkProcessing(ctx context.Context, id string) (intent.Intent, error)

	// ExpireOverdue moves open intents whose deadline has passed to expired
	// and reports how many were moved.
	ExpireOverdue(ctx context.Context, now time.Time) (int64, error)

	// PurgeTerminal hard-deletes expired and failed intents older than the
	// cutoff. Completed intents are financial records and are never purged.
	PurgeTerminal(ctx context.Context, cutoff time.Time) (int64, error)
}

// MerchantStore persists merchant accounts and their aggregates.
type MerchantStore interface {
	CreateMerchant(ctx context.Context, acct merchant.Account) (merchant.Account, error)
	GetMerchant(ctx context.Context, address string) (merchant.Account, error)
	ListMerchants(ctx context.Context) ([]merchant.Account, error)

	// CreditMerchant adds a completed payment's net amount to the merchant
	// aggregates: totalEarnings += net, transactionCount += 1.
	CreditMerchant(ctx context.Context, address string, net *big.Int) (merchant.Account, error)

	// ResetAggregates overwrites the merchant aggregates, used when
	// re-deriving them from the completed-intent record.
	ResetAggregates(ctx context.Context, address string, total *big.Int, count int64) (merchant.Account, error)
}

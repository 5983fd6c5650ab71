// Package intents manages the payment intent lifecycle exposed to the API
// layer: creation, lookup and transaction hash attachment. Settlement itself
// belongs to the reconciler.
package intents

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/starkpay/gateway/internal/app/domain/intent"
	"github.com/starkpay/gateway/internal/app/storage"
	"github.com/starkpay/gateway/internal/chain"
	"github.com/starkpay/gateway/pkg/logger"
)

// DefaultExpiry is applied when no expiry window is configured.
const DefaultExpiry = 15 * time.Minute

// Service manages payment intents.
type Service struct {
	store  storage.IntentStore
	log    *logger.Logger
	expiry time.Duration
}

// New constructs an intent service.
func New(store storage.IntentStore, log *logger.Logger, expiry time.Duration) *Service {
	if log == nil {
		log = logger.NewDefault("intents")
	}
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	return &Service{
		store:  store,
		log:    log,
		expiry: expiry,
	}
}

// Create registers a new payment intent in pending state. The caller may
// supply the intent id; when absent one is generated. Addresses are
// normalized before storage so all later comparisons agree.
func (s *Service) Create(ctx context.Context, id, merchantAddress, tokenAddress, amount string) (intent.Intent, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		id = uuid.NewString()
	}

	merchantAddress = strings.TrimSpace(merchantAddress)
	tokenAddress = strings.TrimSpace(tokenAddress)
	amount = strings.TrimSpace(amount)

	if merchantAddress == "" {
		return intent.Intent{}, fmt.Errorf("merchant_address is required")
	}
	if tokenAddress == "" {
		return intent.Intent{}, fmt.Errorf("token_address is required")
	}
	if err := validateAmount(amount); err != nil {
		return intent.Intent{}, err
	}

	now := time.Now().UTC()
	it := intent.Intent{
		ID:              id,
		MerchantAddress: chain.NormalizeAddress(merchantAddress),
		TokenAddress:    chain.NormalizeAddress(tokenAddress),
		RequestedAmount: amount,
		Status:          intent.StatusPending,
		ExpiresAt:       now.Add(s.expiry),
	}

	it, err := s.store.CreateIntent(ctx, it)
	if err != nil {
		return intent.Intent{}, err
	}

	s.log.WithField("intent_id", it.ID).
		WithField("merchant", it.MerchantAddress).
		Info("payment intent created")
	return it, nil
}

// Get retrieves an intent by id.
func (s *Service) Get(ctx context.Context, id string) (intent.Intent, error) {
	return s.store.GetIntent(ctx, id)
}

// List returns intents, optionally filtered by merchant address.
func (s *Service) List(ctx context.Context, merchantAddress string) ([]intent.Intent, error) {
	if merchantAddress != "" {
		merchantAddress = chain.NormalizeAddress(merchantAddress)
	}
	return s.store.ListIntents(ctx, merchantAddress)
}

// AttachTransaction records the transaction hash a payer claims settled the
// intent, which makes it a candidate for reconciliation.
func (s *Service) AttachTransaction(ctx context.Context, id, txHash string) (intent.Intent, error) {
	txHash = strings.TrimSpace(txHash)
	if txHash == "" {
		return intent.Intent{}, fmt.Errorf("transaction_hash is required")
	}

	it, err := s.store.AttachTransaction(ctx, id, chain.NormalizeAddress(txHash))
	if err != nil {
		return intent.Intent{}, err
	}

	s.log.WithField("intent_id", it.ID).
		WithField("tx_hash", it.TransactionHash).
		Info("transaction attached to intent")
	return it, nil
}

// validateAmount accepts a positive decimal string in the token's natural
// unit. Amounts stay strings at this boundary; the core works with integer
// token units decoded from chain events.
func validateAmount(amount string) error {
	if amount == "" {
		return fmt.Errorf("amount is required")
	}
	value, ok := new(big.Rat).SetString(amount)
	if !ok {
		return fmt.Errorf("amount %q is not a decimal number", amount)
	}
	if value.Sign() <= 0 {
		return fmt.Errorf("amount must be positive")
	}
	return nil
}

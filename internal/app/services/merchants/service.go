// Package merchants manages merchant accounts and their earnings aggregates.
package merchants

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/starkpay/gateway/internal/app/domain/merchant"
	"github.com/starkpay/gateway/internal/app/storage"
	"github.com/starkpay/gateway/internal/chain"
	"github.com/starkpay/gateway/pkg/logger"
)

// Service manages merchant accounts.
type Service struct {
	store   storage.MerchantStore
	intents storage.IntentStore
	log     *logger.Logger
}

// New constructs a merchant service.
func New(store storage.MerchantStore, intents storage.IntentStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("merchants")
	}
	return &Service{
		store:   store,
		intents: intents,
		log:     log,
	}
}

// Register creates a merchant account with zeroed aggregates.
func (s *Service) Register(ctx context.Context, address, name string) (merchant.Account, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return merchant.Account{}, fmt.Errorf("address is required")
	}

	acct := merchant.Account{
		Address:       chain.NormalizeAddress(address),
		Name:          strings.TrimSpace(name),
		TotalEarnings: new(big.Int),
	}
	acct, err := s.store.CreateMerchant(ctx, acct)
	if err != nil {
		return merchant.Account{}, err
	}

	s.log.WithField("merchant", acct.Address).Info("merchant registered")
	return acct, nil
}

// Get retrieves a merchant by address.
func (s *Service) Get(ctx context.Context, address string) (merchant.Account, error) {
	return s.store.GetMerchant(ctx, chain.NormalizeAddress(address))
}

// List returns all merchant accounts.
func (s *Service) List(ctx context.Context) ([]merchant.Account, error) {
	return s.store.ListMerchants(ctx)
}

// ApplyCompletedPayment credits a completed payment's net amount to the
// merchant aggregates. An unregistered merchant is logged and skipped: the
// payment itself stays settled, only the local aggregate is missing.
func (s *Service) ApplyCompletedPayment(ctx context.Context, address string, net *big.Int) error {
	if net == nil {
		return fmt.Errorf("net amount is required")
	}

	normalized := chain.NormalizeAddress(address)
	acct, err := s.store.CreditMerchant(ctx, normalized, net)
	if errors.Is(err, storage.ErrNotFound) {
		s.log.WithField("merchant", normalized).
			Warn("payment for unregistered merchant, ledger update skipped")
		return nil
	}
	if err != nil {
		return err
	}

	s.log.WithField("merchant", acct.Address).
		WithField("net_amount", net.String()).
		WithField("transaction_count", acct.TransactionCount).
		Info("merchant ledger credited")
	return nil
}

// RecomputeEarnings re-derives the merchant aggregates from the completed
// intent record and overwrites the stored counters. Incremental counters can
// drift when operators intervene by hand; the completed intents are the
// financial source of truth.
func (s *Service) RecomputeEarnings(ctx context.Context, address string) (merchant.Account, error) {
	normalized := chain.NormalizeAddress(address)

	completed, err := s.intents.ListCompletedByMerchant(ctx, normalized)
	if err != nil {
		return merchant.Account{}, err
	}

	total := new(big.Int)
	for _, it := range completed {
		if it.NetAmount != nil {
			total.Add(total, it.NetAmount)
		}
	}

	acct, err := s.store.ResetAggregates(ctx, normalized, total, int64(len(completed)))
	if err != nil {
		return merchant.Account{}, err
	}

	s.log.WithField("merchant", acct.Address).
		WithField("total_earnings", acct.TotalEarnings.String()).
		WithField("transaction_count", acct.TransactionCount).
		Info("merchant aggregates recomputed")
	return acct, nil
}

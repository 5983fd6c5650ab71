// Package memory provides an in-memory implementation of the storage
// interfaces. It is safe for concurrent use and is primarily intended for
// tests and local development.
package memory

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/starkpay/gateway/internal/app/domain/intent"
	"github.com/starkpay/gateway/internal/app/domain/merchant"
	"github.com/starkpay/gateway/internal/app/storage"
)

// Store is an in-memory implementation of IntentStore and MerchantStore.
type Store struct {
	mu            sync.RWMutex
	intents       map[string]intent.Intent
	completedHash map[string]string // normalized tx hash -> intent id
	merchants     map[string]merchant.Account
}

var _ storage.IntentStore = (*Store)(nil)
var _ storage.MerchantStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		intents:       make(map[string]intent.Intent),
		completedHash: make(map[string]string),
		merchants:     make(map[string]merchant.Account),
	}
}

// IntentStore implementation --------------------------------------------------

func (s *Store) CreateIntent(_ context.Context, it intent.Intent) (intent.Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if it.ID == "" {
		return intent.Intent{}, fmt.Errorf("intent id required")
	}
	if _, exists := s.intents[it.ID]; exists {
		return intent.Intent{}, fmt.Errorf("intent %s: %w", it.ID, storage.ErrAlreadyExists)
	}

	now := time.Now().UTC()
	it.CreatedAt = now
	it.UpdatedAt = now
	if it.Status == "" {
		it.Status = intent.StatusPending
	}

	s.intents[it.ID] = it
	return cloneIntent(it), nil
}

func (s *Store) GetIntent(_ context.Context, id string) (intent.Intent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	it, ok := s.intents[id]
	if !ok {
		return intent.Intent{}, fmt.Errorf("intent %s: %w", id, storage.ErrNotFound)
	}
	return cloneIntent(it), nil
}

func (s *Store) ListIntents(_ context.Context, merchantAddress string) ([]intent.Intent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []intent.Intent
	for _, it := range s.intents {
		if merchantAddress != "" && it.MerchantAddress != merchantAddress {
			continue
		}
		out = append(out, cloneIntent(it))
	}
	sortIntents(out)
	return out, nil
}

func (s *Store) AttachTransaction(_ context.Context, id, txHash string) (intent.Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.intents[id]
	if !ok {
		return intent.Intent{}, fmt.Errorf("intent %s: %w", id, storage.ErrNotFound)
	}
	if !it.Status.Open() {
		return intent.Intent{}, fmt.Errorf("intent %s: %w", id, storage.ErrConflict)
	}

	it.TransactionHash = txHash
	it.Status = intent.StatusProcessing
	it.UpdatedAt = time.Now().UTC()
	s.intents[id] = it
	return cloneIntent(it), nil
}

func (s *Store) ListReconcilable(_ context.Context) ([]intent.Intent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []intent.Intent
	for _, it := range s.intents {
		if it.Reconcilable() {
			out = append(out, cloneIntent(it))
		}
	}
	sortIntents(out)
	return out, nil
}

func (s *Store) ListCompletedByMerchant(_ context.Context, merchantAddress string) ([]intent.Intent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []intent.Intent
	for _, it := range s.intents {
		if it.Status == intent.StatusCompleted && it.MerchantAddress == merchantAddress {
			out = append(out, cloneIntent(it))
		}
	}
	sortIntents(out)
	return out, nil
}

func (s *Store) CompleteIntent(_ context.Context, id string, st intent.Settlement) (intent.Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.intents[id]
	if !ok {
		return intent.Intent{}, fmt.Errorf("intent %s: %w", id, storage.ErrNotFound)
	}
	if !it.Status.Open() {
		return intent.Intent{}, fmt.Errorf("intent %s: %w", id, storage.ErrConflict)
	}
	if holder, used := s.completedHash[it.TransactionHash]; used && holder != id {
		return intent.Intent{}, fmt.Errorf("intent %s: %w", id, storage.ErrTxHashUsed)
	}

	completedAt := st.CompletedAt
	if completedAt.IsZero() {
		completedAt = time.Now().UTC()
	}

	it.Status = intent.StatusCompleted
	it.PayerAddress = st.PayerAddress
	it.GrossAmount = cloneBig(st.GrossAmount)
	it.NetAmount = cloneBig(st.NetAmount)
	it.FeeAmount = cloneBig(st.FeeAmount)
	it.BlockNumber = st.BlockNumber
	it.CompletedAt = &completedAt
	it.ExpiresAt = completedAt // the payment link must never be replayable
	it.UpdatedAt = completedAt

	s.intents[id] = it
	s.completedHash[it.TransactionHash] = id
	return cloneIntent(it), nil
}

func (s *Store) FailIntent(_ context.Context, id string) (intent.Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.intents[id]
	if !ok {
		return intent.Intent{}, fmt.Errorf("intent %s: %w", id, storage.ErrNotFound)
	}
	if !it.Status.Open() {
		return intent.Intent{}, fmt.Errorf("intent %s: %w", id, storage.ErrConflict)
	}

	it.Status = intent.StatusFailed
	it.UpdatedAt = time.Now().UTC()
	s.intents[id] = it
	return cloneIntent(it), nil
}

func (s *Store) MarkProcessing(_ context.Context, id string) (intent.Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.intents[id]
	if !ok {
		return intent.Intent{}, fmt.Errorf("intent %s: %w", id, storage.ErrNotFound)
	}
	if it.Status != intent.StatusPending {
		return intent.Intent{}, fmt.Errorf("intent %s: %w", id, storage.ErrConflict)
	}

	it.Status = intent.StatusProcessing
	it.UpdatedAt = time.Now().UTC()
	s.intents[id] = it
	return cloneIntent(it), nil
}

func (s *Store) ExpireOverdue(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired int64
	for id, it := range s.intents {
		if it.Status.Open() && it.ExpiresAt.Before(now) {
			it.Status = intent.StatusExpired
			it.UpdatedAt = now.UTC()
			s.intents[id] = it
			expired++
		}
	}
	return expired, nil
}

func (s *Store) PurgeTerminal(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var purged int64
	for id, it := range s.intents {
		if it.Status != intent.StatusExpired && it.Status != intent.StatusFailed {
			continue
		}
		if it.UpdatedAt.Before(cutoff) {
			delete(s.intents, id)
			purged++
		}
	}
	return purged, nil
}

// MerchantStore implementation ------------------------------------------------

func (s *Store) CreateMerchant(_ context.Context, acct merchant.Account) (merchant.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if acct.Address == "" {
		return merchant.Account{}, fmt.Errorf("merchant address required")
	}
	if _, exists := s.merchants[acct.Address]; exists {
		return merchant.Account{}, fmt.Errorf("merchant %s: %w", acct.Address, storage.ErrAlreadyExists)
	}

	now := time.Now().UTC()
	acct.CreatedAt = now
	acct.UpdatedAt = now
	if acct.TotalEarnings == nil {
		acct.TotalEarnings = new(big.Int)
	} else {
		acct.TotalEarnings = cloneBig(acct.TotalEarnings)
	}

	s.merchants[acct.Address] = acct
	return cloneMerchant(acct), nil
}

func (s *Store) GetMerchant(_ context.Context, address string) (merchant.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.merchants[address]
	if !ok {
		return merchant.Account{}, fmt.Errorf("merchant %s: %w", address, storage.ErrNotFound)
	}
	return cloneMerchant(acct), nil
}

func (s *Store) ListMerchants(_ context.Context) ([]merchant.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]merchant.Account, 0, len(s.merchants))
	for _, acct := range s.merchants {
		out = append(out, cloneMerchant(acct))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out, nil
}

func (s *Store) CreditMerchant(_ context.Context, address string, net *big.Int) (merchant.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.merchants[address]
	if !ok {
		return merchant.Account{}, fmt.Errorf("merchant %s: %w", address, storage.ErrNotFound)
	}

	total := cloneBig(acct.TotalEarnings)
	if total == nil {
		total = new(big.Int)
	}
	acct.TotalEarnings = total.Add(total, net)
	acct.TransactionCount++
	acct.UpdatedAt = time.Now().UTC()

	s.merchants[address] = acct
	return cloneMerchant(acct), nil
}

func (s *Store) ResetAggregates(_ context.Context, address string, total *big.Int, count int64) (merchant.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.merchants[address]
	if !ok {
		return merchant.Account{}, fmt.Errorf("merchant %s: %w", address, storage.ErrNotFound)
	}

	acct.TotalEarnings = cloneBig(total)
	if acct.TotalEarnings == nil {
		acct.TotalEarnings = new(big.Int)
	}
	acct.TransactionCount = count
	acct.UpdatedAt = time.Now().UTC()

	s.merchants[address] = acct
	return cloneMerchant(acct), nil
}

// helpers ---------------------------------------------------------------------

func cloneIntent(it intent.Intent) intent.Intent {
	out := it
	out.GrossAmount = cloneBig(it.GrossAmount)
	out.NetAmount = cloneBig(it.NetAmount)
	out.FeeAmount = cloneBig(it.FeeAmount)
	if it.CompletedAt != nil {
		ts := *it.CompletedAt
		out.CompletedAt = &ts
	}
	return out
}

func cloneMerchant(acct merchant.Account) merchant.Account {
	out := acct
	out.TotalEarnings = cloneBig(acct.TotalEarnings)
	return out
}

func cloneBig(n *big.Int) *big.Int {
	if n == nil {
		return nil
	}
	return new(big.Int).Set(n)
}

func sortIntents(list []intent.Intent) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
}

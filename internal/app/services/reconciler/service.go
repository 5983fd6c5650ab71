// Package reconciler implements the payment reconciliation loop: it matches
// open intents that carry a claimed transaction hash against on-chain
// receipts and settles local state accordingly.
package reconciler

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/starkpay/gateway/internal/app/domain/intent"
	"github.com/starkpay/gateway/internal/app/metrics"
	"github.com/starkpay/gateway/internal/app/storage"
	"github.com/starkpay/gateway/internal/app/system"
	"github.com/starkpay/gateway/internal/chain"
	"github.com/starkpay/gateway/pkg/logger"
)

// ChainClient is the read-only node access the reconciler needs.
type ChainClient interface {
	GetTransactionReceipt(ctx context.Context, txHash string) (*chain.Receipt, error)
}

// Ledger applies completed payments to merchant aggregates.
type Ledger interface {
	ApplyCompletedPayment(ctx context.Context, merchantAddress string, net *big.Int) error
}

// Config tunes the reconciliation loop.
type Config struct {
	// Interval between sweeps. Defaults to 30s.
	Interval time.Duration
	// RPCRate caps receipt fetches per second. Zero disables limiting.
	RPCRate float64
	// RPCBurst is the limiter burst size when RPCRate is set.
	RPCBurst int
}

// Service is the reconciliation poller. One sweep at a time: a tick that
// fires while a sweep is still running is skipped rather than queued, so the
// same intent is never reconciled concurrently.
type Service struct {
	store   storage.IntentStore
	ledger  Ledger
	client  ChainClient
	decoder *Decoder
	limiter *rate.Limiter

	interval time.Duration
	log      *logger.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool

	sweepMu sync.Mutex
}

var _ system.Service = (*Service)(nil)

// New constructs the reconciliation loop.
func New(store storage.IntentStore, ledger Ledger, client ChainClient, decoder *Decoder, cfg Config, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("reconciler")
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	var limiter *rate.Limiter
	if cfg.RPCRate > 0 {
		burst := cfg.RPCBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RPCRate), burst)
	}

	return &Service{
		store:    store,
		ledger:   ledger,
		client:   client,
		decoder:  decoder,
		limiter:  limiter,
		interval: interval,
		log:      log,
	}
}

func (s *Service) Name() string { return "reconciler" }

// Start launches the polling loop.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				s.RunOnce(runCtx)
			}
		}
	}()

	s.log.WithField("interval", s.interval.String()).Info("reconciliation loop started")
	return nil
}

// Stop halts the loop. An in-flight sweep is allowed to finish before Stop
// returns, bounded by ctx.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	cancel := s.cancel
	s.running = false
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.wg.Wait()
		// Drain any sweep triggered outside the ticker goroutine.
		s.sweepMu.Lock()
		s.sweepMu.Unlock()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.log.Info("reconciliation loop stopped")
	return nil
}

// RunOnce executes a single reconciliation sweep. It returns immediately if
// another sweep is already in progress.
func (s *Service) RunOnce(ctx context.Context) {
	if !s.sweepMu.TryLock() {
		s.log.Debug("reconciliation sweep still running, skipping tick")
		return
	}
	defer s.sweepMu.Unlock()

	defer func() {
		// One bad intent must never take the process down.
		if r := recover(); r != nil {
			s.log.Errorf("reconciliation sweep panicked: %v", r)
		}
	}()

	started := time.Now()
	candidates, err := s.store.ListReconcilable(ctx)
	if err != nil {
		s.log.WithError(err).Warn("list reconcilable intents failed")
		return
	}

	for _, it := range candidates {
		if ctx.Err() != nil {
			return
		}
		s.reconcileIntent(ctx, it)
	}

	metrics.ReconcileSweep(time.Since(started), len(candidates))
	if len(candidates) > 0 {
		s.log.WithField("candidates", len(candidates)).
			WithField("duration", time.Since(started).String()).
			Debug("reconciliation sweep finished")
	}
}

// reconcileIntent drives one intent through the settlement state machine.
// Retryable conditions leave the intent untouched; the next sweep tries
// again.
func (s *Service) reconcileIntent(ctx context.Context, it intent.Intent) {
	log := s.log.WithField("intent_id", it.ID).WithField("tx_hash", it.TransactionHash)

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return
		}
	}

	receipt, err := s.client.GetTransactionReceipt(ctx, it.TransactionHash)
	switch {
	case errors.Is(err, chain.ErrNotFound):
		// Hash unknown to the network: the payer may have claimed too
		// early, or the node lags. Still pending from our side.
		log.Debug("transaction not yet known to the network")
		return
	case errors.Is(err, chain.ErrReceiptPending):
		log.Debug("transaction receipt still pending")
		return
	case chain.IsNetworkError(err):
		metrics.ChainRPCError("network")
		log.WithError(err).Warn("chain fetch failed, will retry")
		return
	case err != nil:
		metrics.ChainRPCError("rpc")
		log.WithError(err).Warn("unexpected receipt error, will retry")
		return
	}

	evt, err := s.decoder.Decode(receipt)
	switch {
	case errors.Is(err, ErrExecutionReverted):
		s.failIntent(ctx, it, log)
		return
	case errors.Is(err, ErrNoPaymentEvent):
		// Event emission can lag receipt availability; retry next cycle.
		log.Debug("receipt has no payment event yet")
		return
	case err != nil:
		log.WithError(err).Warn("payment event decode failed, will retry")
		return
	}

	if evt.MerchantAddress != it.MerchantAddress {
		log.WithField("event_merchant", evt.MerchantAddress).
			WithField("intent_merchant", it.MerchantAddress).
			Warn("payment event merchant differs from intent merchant")
	}

	now := time.Now().UTC()
	settled, err := s.store.CompleteIntent(ctx, it.ID, intent.Settlement{
		PayerAddress: evt.PayerAddress,
		GrossAmount:  evt.GrossAmount,
		NetAmount:    evt.NetAmount,
		FeeAmount:    evt.FeeAmount,
		BlockNumber:  evt.BlockNumber,
		CompletedAt:  now,
	})
	switch {
	case errors.Is(err, storage.ErrTxHashUsed):
		log.Warn("transaction hash already settled another intent")
		return
	case errors.Is(err, storage.ErrConflict):
		// Another actor (the sweeper, or an earlier completion) moved the
		// intent out from under us. Nothing to do.
		log.Debug("intent no longer open, skipping settlement")
		return
	case err != nil:
		log.WithError(err).Warn("complete intent failed, will retry")
		return
	}

	metrics.IntentCompleted()
	log.WithField("payer", settled.PayerAddress).
		WithField("net_amount", evt.NetAmount.String()).
		WithField("block", evt.BlockNumber).
		Info("payment intent completed")

	// Credited exactly once per intent: completed intents never reappear in
	// the reconcilable set, so this call cannot repeat.
	if err := s.ledger.ApplyCompletedPayment(ctx, settled.MerchantAddress, evt.NetAmount); err != nil {
		log.WithError(err).Error("merchant ledger credit failed")
	}
}

func (s *Service) failIntent(ctx context.Context, it intent.Intent, log *logger.Logger) {
	_, err := s.store.FailIntent(ctx, it.ID)
	switch {
	case errors.Is(err, storage.ErrConflict):
		log.Debug("intent no longer open, skipping failure")
		return
	case err != nil:
		log.WithError(err).Warn("mark intent failed errored, will retry")
		return
	}
	metrics.IntentFailed()
	log.Info("payment intent failed: transaction reverted on chain")
}

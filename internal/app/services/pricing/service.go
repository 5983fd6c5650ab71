// Package pricing serves fiat quotes for payment tokens so the dashboard can
// display approximate USD values next to on-chain amounts. Quotes are cached
// with an explicit TTL and refreshed only when stale; a fetch failure falls
// back to the last known value.
package pricing

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/starkpay/gateway/pkg/logger"
)

// Quote is a cached price observation.
type Quote struct {
	Token     string    `json:"token"`
	USD       float64   `json:"usd"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Fetcher retrieves the current USD price for a token symbol.
type Fetcher interface {
	Fetch(ctx context.Context, token string) (float64, error)
}

// Cache stores quotes between refreshes. Implementations decide locality:
// in-process for a single gateway, Redis when several share quotes.
type Cache interface {
	Get(ctx context.Context, token string) (Quote, bool, error)
	Set(ctx context.Context, quote Quote, ttl time.Duration) error
}

// Service answers price lookups through the stale-aware cache.
type Service struct {
	fetcher Fetcher
	cache   Cache
	ttl     time.Duration
	log     *logger.Logger
}

// New constructs a pricing service. A nil cache gets an in-process one.
func New(fetcher Fetcher, cache Cache, ttl time.Duration, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("pricing")
	}
	if cache == nil {
		cache = NewMemoryCache()
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Service{
		fetcher: fetcher,
		cache:   cache,
		ttl:     ttl,
		log:     log,
	}
}

// QuoteUSD returns the cached quote for a token, refreshing it first when
// stale. When the refresh fails but a stale value exists, the stale value is
// served rather than an error.
func (s *Service) QuoteUSD(ctx context.Context, token string) (Quote, error) {
	token = strings.ToUpper(strings.TrimSpace(token))
	if token == "" {
		return Quote{}, fmt.Errorf("token is required")
	}

	cached, found, err := s.cache.Get(ctx, token)
	if err != nil {
		s.log.WithError(err).WithField("token", token).Warn("price cache read failed")
		found = false
	}
	if found && time.Since(cached.FetchedAt) < s.ttl {
		return cached, nil
	}

	price, err := s.fetcher.Fetch(ctx, token)
	if err != nil {
		if found {
			s.log.WithError(err).WithField("token", token).
				Warn("price refresh failed, serving stale quote")
			return cached, nil
		}
		return Quote{}, fmt.Errorf("fetch price for %s: %w", token, err)
	}

	quote := Quote{Token: token, USD: price, FetchedAt: time.Now().UTC()}
	if err := s.cache.Set(ctx, quote, s.ttl); err != nil {
		s.log.WithError(err).WithField("token", token).Warn("price cache write failed")
	}
	return quote, nil
}

// MemoryCache is an in-process quote cache.
type MemoryCache struct {
	mu     sync.RWMutex
	quotes map[string]Quote
}

var _ Cache = (*MemoryCache)(nil)

// NewMemoryCache creates an empty in-process cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{quotes: make(map[string]Quote)}
}

func (c *MemoryCache) Get(_ context.Context, token string) (Quote, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	quote, ok := c.quotes[token]
	return quote, ok, nil
}

func (c *MemoryCache) Set(_ context.Context, quote Quote, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.quotes[quote.Token] = quote
	return nil
}

package fee

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Aidin1998/walletsend/internal/send/cache"
	"github.com/Aidin1998/walletsend/internal/send/interfaces"
)

// QuoteCache is the part of cache.RedisCache the quote source needs
type QuoteCache interface {
	GetJSON(ctx context.Context, key string, dst any) error
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
}

// Refresher is implemented by sources that can bypass their cache. Reloads done
// to check that a fee is still current go through it.
type Refresher interface {
	RefreshFees(ctx context.Context, req interfaces.FeeRequest) ([]interfaces.FeeQuote, error)
}

// CachedSource serves fee quotes from a short lived cache in front of the network source.
// Cache failures fall through to the network source.
type CachedSource struct {
	next  interfaces.FeeQuoteSource
	cache QuoteCache
	log   *zap.Logger
}

// NewCachedSource wraps next with cache
func NewCachedSource(next interfaces.FeeQuoteSource, quotes QuoteCache, log *zap.Logger) *CachedSource {
	return &CachedSource{next: next, cache: quotes, log: log.Named("fee_cache")}
}

// GetFees implements interfaces.FeeQuoteSource
func (s *CachedSource) GetFees(ctx context.Context, req interfaces.FeeRequest) ([]interfaces.FeeQuote, error) {
	key := quoteKey(req)

	var cached []interfaces.FeeQuote
	err := s.cache.GetJSON(ctx, key, &cached)
	switch {
	case err == nil:
		return cached, nil
	case !errors.Is(err, cache.ErrCacheMiss):
		s.log.Warn("fee cache unavailable", zap.String("key", key), zap.Error(err))
	}

	return s.fetch(ctx, key, req)
}

// RefreshFees implements Refresher. It always asks the network source and
// overwrites the cached entry.
func (s *CachedSource) RefreshFees(ctx context.Context, req interfaces.FeeRequest) ([]interfaces.FeeQuote, error) {
	return s.fetch(ctx, quoteKey(req), req)
}

func (s *CachedSource) fetch(ctx context.Context, key string, req interfaces.FeeRequest) ([]interfaces.FeeQuote, error) {
	quotes, err := s.next.GetFees(ctx, req)
	if err != nil {
		return nil, err
	}

	if err := s.cache.SetJSON(ctx, key, quotes, 0); err != nil {
		s.log.Warn("failed to cache fee quotes", zap.String("key", key), zap.Error(err))
	}
	return quotes, nil
}

// quoteKey keys on the canonical destination, which is case sensitive on some chains
func quoteKey(req interfaces.FeeRequest) string {
	return fmt.Sprintf("fees:%s:%s:%s", req.AssetID, req.Amount.String(), req.Destination)
}

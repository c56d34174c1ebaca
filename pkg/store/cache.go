package store

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedPayments wraps a PaymentStore with an LRU over single-record reads.
// The only mutation a payment record ever sees is the refund flip, which
// goes through RefundPayment here and refreshes the cached entry.
type CachedPayments struct {
	PaymentStore
	cache *lru.Cache[string, *PaymentRecord]
}

// NewCachedPayments wraps inner with a cache of the given size.
func NewCachedPayments(inner PaymentStore, size int) (*CachedPayments, error) {
	if size <= 0 {
		size = 1024
	}
	cache, err := lru.New[string, *PaymentRecord](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create payment cache: %w", err)
	}
	return &CachedPayments{PaymentStore: inner, cache: cache}, nil
}

// CreatePayment writes through to the inner store and primes the cache.
func (c *CachedPayments) CreatePayment(ctx context.Context, rec *PaymentRecord) error {
	if err := c.PaymentStore.CreatePayment(ctx, rec); err != nil {
		return err
	}
	cp := *rec
	c.cache.Add(rec.ID, &cp)
	return nil
}

// GetPayment serves from the cache when possible.
func (c *CachedPayments) GetPayment(ctx context.Context, id string) (*PaymentRecord, error) {
	if rec, ok := c.cache.Get(id); ok {
		cp := *rec
		return &cp, nil
	}
	rec, err := c.PaymentStore.GetPayment(ctx, id)
	if err != nil {
		return nil, err
	}
	cp := *rec
	c.cache.Add(id, &cp)
	return rec, nil
}

// RefundPayment forwards to the inner store and refreshes the cached entry
// with the flipped record.
func (c *CachedPayments) RefundPayment(ctx context.Context, id string, now time.Time) (*PaymentRecord, error) {
	rec, err := c.PaymentStore.RefundPayment(ctx, id, now)
	if err != nil {
		return nil, err
	}
	cp := *rec
	c.cache.Add(id, &cp)
	return rec, nil
}

// Len returns the number of cached records.
func (c *CachedPayments) Len() int {
	return c.cache.Len()
}

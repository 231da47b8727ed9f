package doctor

import (
	"context"
	"iter"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/ledger/ledger/internal/domain/reservation"
)

// CachedRepository serves Get from an expiring LRU. Entries are dropped on
// Delete by this process only; other processes may serve a deleted doctor
// until the entry expires. The reservation engine never reads through it.
type CachedRepository struct {
	Repository
	cache *expirable.LRU[string, *Doctor]
}

// NewCachedRepository wraps repo. A non-positive size disables caching and
// returns repo unchanged.
func NewCachedRepository(repo Repository, size int, ttl time.Duration) Repository {
	if size <= 0 {
		return repo
	}
	return &CachedRepository{
		Repository: repo,
		cache:      expirable.NewLRU[string, *Doctor](size, nil, ttl),
	}
}

func (c *CachedRepository) Create(ctx context.Context, d *Doctor) error {
	if err := c.Repository.Create(ctx, d); err != nil {
		return err
	}
	c.cache.Add(d.ID, d.clone())
	return nil
}

func (c *CachedRepository) Get(ctx context.Context, id string) (*Doctor, error) {
	if d, ok := c.cache.Get(id); ok {
		return d.clone(), nil
	}
	d, err := c.Repository.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	c.cache.Add(id, d.clone())
	return d, nil
}

func (c *CachedRepository) Delete(ctx context.Context, id string) ([]*reservation.Reservation, error) {
	c.cache.Remove(id)
	removed, err := c.Repository.Delete(ctx, id)
	c.cache.Remove(id)
	return removed, err
}

func (c *CachedRepository) List(ctx context.Context) iter.Seq2[*Doctor, error] {
	return c.Repository.List(ctx)
}

// Len reports the number of cached doctors.
func (c *CachedRepository) Len() int { return c.cache.Len() }

package usecase

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/phenrril/jeanstore/internal/domain"
)

const DefaultCacheTTL = 5 * time.Minute

// sharedFetchTimeout bounds a merged fetch, which no single caller can cancel.
const sharedFetchTimeout = 30 * time.Second

// ProductCache is a read-through cache over the products collection.
//
// Every InvalidateAll bumps a generation counter. A fetch that was already in
// flight when the cache was invalidated still answers its caller, but its
// result is not stored.
type ProductCache struct {
	store domain.RemoteStore
	ttl   time.Duration
	now   func() time.Time

	mu          sync.RWMutex
	all         []domain.Product
	byID        map[string]domain.Product
	byCategory  map[string][]domain.Product
	lastFetched time.Time
	generation  uint64

	group singleflight.Group
}

type CacheOption func(*ProductCache)

func WithTTL(ttl time.Duration) CacheOption {
	return func(c *ProductCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

func WithClock(now func() time.Time) CacheOption {
	return func(c *ProductCache) {
		if now != nil {
			c.now = now
		}
	}
}

func NewProductCache(store domain.RemoteStore, opts ...CacheOption) *ProductCache {
	c := &ProductCache{
		store:      store,
		ttl:        DefaultCacheTTL,
		now:        time.Now,
		byID:       map[string]domain.Product{},
		byCategory: map[string][]domain.Product{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *ProductCache) IsValid() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.validLocked()
}

func (c *ProductCache) validLocked() bool {
	return c.all != nil && c.now().Sub(c.lastFetched) < c.ttl
}

// Generation counts InvalidateAll calls.
func (c *ProductCache) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation
}

// GetAll returns every product, newest first. Concurrent misses share one
// fetch; a caller that gives up only abandons its own wait.
func (c *ProductCache) GetAll(ctx context.Context) ([]domain.Product, error) {
	c.mu.RLock()
	if c.validLocked() {
		out := cloneProducts(c.all)
		c.mu.RUnlock()
		return out, nil
	}
	c.mu.RUnlock()

	ch := c.group.DoChan("all", func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedFetchTimeout)
		defer cancel()
		return c.fetchAll(fetchCtx)
	})
	select {
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), "fetch products")
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return cloneProducts(res.Val.([]domain.Product)), nil
	}
}

func (c *ProductCache) fetchAll(ctx context.Context) ([]domain.Product, error) {
	gen := c.Generation()
	docs, err := c.store.Query(ctx, domain.Query{
		Collection: domain.ProductsCollection,
		OrderBy:    []domain.OrderBy{{Field: "createdAt", Desc: true}},
	})
	if err != nil {
		zlog.Error().Err(err).Msg("product cache: fetch all")
		return nil, errors.Wrap(err, "fetch products")
	}
	products := decodeProducts(docs)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != gen {
		return products, nil
	}
	c.all = products
	c.byID = make(map[string]domain.Product, len(products))
	c.byCategory = map[string][]domain.Product{}
	for _, p := range products {
		c.byID[p.ID] = p
		c.byCategory[p.Category] = append(c.byCategory[p.Category], p)
	}
	c.lastFetched = c.now()
	zlog.Debug().Int("products", len(products)).Msg("product cache: refreshed")
	return products, nil
}

// GetByCategory serves from a valid cache when it holds the category, otherwise
// queries the category and merges it in without touching the full listing.
func (c *ProductCache) GetByCategory(ctx context.Context, category string) ([]domain.Product, error) {
	cat := domain.NormalizeCategory(category)

	c.mu.RLock()
	if c.validLocked() && len(c.byCategory[cat]) > 0 {
		out := cloneProducts(c.byCategory[cat])
		c.mu.RUnlock()
		return out, nil
	}
	gen := c.generation
	c.mu.RUnlock()

	docs, err := c.store.Query(ctx, domain.Query{
		Collection: domain.ProductsCollection,
		Filters:    []domain.Filter{domain.Where("category", domain.OpEqual, cat)},
	})
	if err != nil {
		zlog.Error().Err(err).Str("category", cat).Msg("product cache: fetch category")
		return nil, errors.Wrapf(err, "fetch category %q", cat)
	}
	products := decodeProducts(docs)
	sortNewestFirst(products)

	c.mu.Lock()
	if c.generation == gen {
		c.byCategory[cat] = products
		for _, p := range products {
			c.byID[p.ID] = p
		}
	}
	c.mu.Unlock()
	return cloneProducts(products), nil
}

// GetByID answers from the id index when present, otherwise point-reads and memoizes.
func (c *ProductCache) GetByID(ctx context.Context, id string) (*domain.Product, error) {
	c.mu.RLock()
	if p, ok := c.byID[id]; ok {
		c.mu.RUnlock()
		out := p.Clone()
		return &out, nil
	}
	gen := c.generation
	c.mu.RUnlock()

	doc, err := c.store.Get(ctx, domain.ProductsCollection, id)
	if err != nil {
		return nil, errors.Wrapf(err, "fetch product %s", id)
	}
	p := domain.ProductFromDoc(*doc)

	c.mu.Lock()
	if c.generation == gen {
		c.byID[p.ID] = p
	}
	c.mu.Unlock()
	out := p.Clone()
	return &out, nil
}

// InvalidateAll drops every index so the next read goes to the store.
func (c *ProductCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.all = nil
	c.byID = map[string]domain.Product{}
	c.byCategory = map[string][]domain.Product{}
	c.lastFetched = time.Time{}
	c.generation++
}

func decodeProducts(docs []domain.Doc) []domain.Product {
	out := make([]domain.Product, 0, len(docs))
	for _, d := range docs {
		out = append(out, domain.ProductFromDoc(d))
	}
	return out
}

func sortNewestFirst(ps []domain.Product) {
	sort.SliceStable(ps, func(i, j int) bool { return ps[i].CreatedAt.After(ps[j].CreatedAt) })
}

func cloneProducts(ps []domain.Product) []domain.Product {
	out := make([]domain.Product, len(ps))
	for i, p := range ps {
		out[i] = p.Clone()
	}
	return out
}

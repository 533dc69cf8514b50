package usecase

import (
	"context"
	"math"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/phenrril/jeanstore/internal/domain"
)

const (
	DefaultMaxImageBytes int64 = 5 << 20
	DefaultPlaceholder         = "/images/placeholder.jpg"
)

type ImageUpload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ProductUC is the catalog façade. Writes go straight to the store and keep the
// categories aggregate in step inside one transaction; reads go through Cache.
//
// Images receives uploads. Legacy stores are only consulted to resolve and
// delete references written under another scheme.
type ProductUC struct {
	Store         domain.RemoteStore
	Cache         *ProductCache
	Images        domain.ImageStore
	Legacy        []domain.ImageStore
	MaxImageBytes int64
	Placeholder   string
	Now           func() time.Time
}

func (uc *ProductUC) now() time.Time {
	if uc.Now != nil {
		return uc.Now().UTC()
	}
	return time.Now().UTC()
}

// sizeLimited is implemented by image stores that cannot hold arbitrarily large payloads.
type sizeLimited interface {
	Limit() int64
}

// maxImageBytes is the configured cap, lowered to the image store's own limit.
func (uc *ProductUC) maxImageBytes() int64 {
	limit := DefaultMaxImageBytes
	if uc.MaxImageBytes > 0 {
		limit = uc.MaxImageBytes
	}
	if l, ok := uc.Images.(sizeLimited); ok {
		if own := l.Limit(); own > 0 && own < limit {
			limit = own
		}
	}
	return limit
}

func (uc *ProductUC) placeholder() string {
	if uc.Placeholder != "" {
		return uc.Placeholder
	}
	return DefaultPlaceholder
}

func (uc *ProductUC) Add(ctx context.Context, in domain.NewProduct) (*domain.Product, error) {
	if err := validateNew(in); err != nil {
		return nil, err
	}
	now := uc.now()
	p := domain.Product{
		Name:          strings.TrimSpace(in.Name),
		Description:   strings.TrimSpace(in.Description),
		Price:         in.Price,
		OriginalPrice: in.OriginalPrice,
		Image:         strings.TrimSpace(in.Image),
		Category:      domain.NormalizeCategory(in.Category),
		Subcategory:   domain.NormalizeCategory(in.Subcategory),
		Stock:         in.Stock,
		Sizes:         append([]string{}, in.Sizes...),
		Colors:        append([]domain.Color{}, in.Colors...),
		Featured:      in.Featured,
		New:           in.New,
		Discount:      in.Discount,
		Rating:        in.Rating,
		Reviews:       in.Reviews,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	p.Tags = domain.DeriveTags(in.Tags, p.Category, p.Subcategory)

	err := uc.Store.RunTransaction(ctx, func(ctx context.Context, tx domain.Tx) error {
		deltas := map[string]int{p.Category: 1}
		aggs, err := readCategories(tx, deltas)
		if err != nil {
			return err
		}
		p.ID = tx.NewID(domain.ProductsCollection)
		if err := tx.Set(domain.ProductsCollection, p.ID, domain.ProductToDoc(p)); err != nil {
			return err
		}
		return writeCategories(tx, deltas, aggs, now)
	})
	if err != nil {
		return nil, errors.Wrap(err, "add product")
	}
	uc.Cache.InvalidateAll()
	zlog.Info().Str("id", p.ID).Str("category", p.Category).Msg("product added")
	return &p, nil
}

func (uc *ProductUC) Update(ctx context.Context, id string, patch domain.ProductPatch) (*domain.Product, error) {
	if strings.TrimSpace(id) == "" {
		return nil, domain.Invalid("id", "is required")
	}
	now := uc.now()
	var out domain.Product
	err := uc.Store.RunTransaction(ctx, func(ctx context.Context, tx domain.Tx) error {
		doc, err := tx.Get(domain.ProductsCollection, id)
		if err != nil {
			return err
		}
		cur := domain.ProductFromDoc(*doc)
		next, err := applyPatch(cur, patch)
		if err != nil {
			return err
		}
		next.UpdatedAt = now

		deltas := map[string]int{}
		if next.Category != cur.Category {
			deltas[cur.Category]--
			deltas[next.Category]++
		}
		aggs, err := readCategories(tx, deltas)
		if err != nil {
			return err
		}
		if err := tx.Set(domain.ProductsCollection, id, domain.ProductToDoc(next)); err != nil {
			return err
		}
		if err := writeCategories(tx, deltas, aggs, now); err != nil {
			return err
		}
		out = next
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "update product %s", id)
	}
	uc.Cache.InvalidateAll()
	return &out, nil
}

// Remove deletes the product and its image. A failed image delete is logged and
// does not stop the product from going away.
func (uc *ProductUC) Remove(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return domain.Invalid("id", "is required")
	}
	doc, err := uc.Store.Get(ctx, domain.ProductsCollection, id)
	if err != nil {
		return errors.Wrapf(err, "remove product %s", id)
	}
	p := domain.ProductFromDoc(*doc)
	if err := uc.deleteImage(ctx, p.Image); err != nil {
		zlog.Warn().Err(err).Str("id", id).Str("image", p.Image).Msg("product image not deleted")
	}

	now := uc.now()
	err = uc.Store.RunTransaction(ctx, func(ctx context.Context, tx domain.Tx) error {
		doc, err := tx.Get(domain.ProductsCollection, id)
		if err != nil {
			return err
		}
		deltas := map[string]int{domain.ProductFromDoc(*doc).Category: -1}
		aggs, err := readCategories(tx, deltas)
		if err != nil {
			return err
		}
		if err := tx.Delete(domain.ProductsCollection, id); err != nil {
			return err
		}
		return writeCategories(tx, deltas, aggs, now)
	})
	if err != nil {
		return errors.Wrapf(err, "remove product %s", id)
	}
	uc.Cache.InvalidateAll()
	zlog.Info().Str("id", id).Msg("product removed")
	return nil
}

// UploadImage stores the image and returns its "<scheme>://<id>" reference.
// The size cap is checked before anything is sent.
func (uc *ProductUC) UploadImage(ctx context.Context, up ImageUpload) (string, error) {
	size := int64(len(up.Data))
	if limit := uc.maxImageBytes(); size > limit {
		return "", &domain.TooLargeError{Size: size, Limit: limit}
	}
	if size == 0 {
		return "", domain.Invalid("image", "is empty")
	}
	ct := strings.TrimSpace(up.ContentType)
	if ct == "" || ct == "application/octet-stream" {
		ct = http.DetectContentType(up.Data)
	}
	if !strings.HasPrefix(ct, "image/") {
		return "", domain.Invalid("image", "must be an image, got "+ct)
	}
	if uc.Images == nil {
		return "", errors.New("no image store configured")
	}
	id := uuid.NewString()
	if err := uc.Images.Put(ctx, id, ct, up.Data); err != nil {
		return "", errors.Wrapf(err, "upload image %s", up.Filename)
	}
	ref := uc.Images.Scheme() + "://" + id
	zlog.Debug().Str("ref", ref).Int64("bytes", size).Str("file", up.Filename).Msg("image uploaded")
	return ref, nil
}

// ResolveImage turns a stored reference into something displayable. It never
// fails: anything it cannot resolve becomes the placeholder.
func (uc *ProductUC) ResolveImage(ctx context.Context, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return uc.placeholder()
	}
	if isDirectURL(ref) {
		return ref
	}
	store, id, ok := uc.imageStore(ref)
	if !ok {
		zlog.Debug().Str("ref", ref).Msg("unresolvable image reference")
		return uc.placeholder()
	}
	img, err := store.Get(ctx, id)
	if err != nil || img == nil || img.URL == "" {
		zlog.Debug().Err(err).Str("ref", ref).Msg("image lookup failed")
		return uc.placeholder()
	}
	return img.URL
}

func (uc *ProductUC) deleteImage(ctx context.Context, ref string) error {
	ref = strings.TrimSpace(ref)
	if ref == "" || isDirectURL(ref) {
		return nil
	}
	store, id, ok := uc.imageStore(ref)
	if !ok {
		return nil
	}
	if err := store.Delete(ctx, id); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	return nil
}

func (uc *ProductUC) imageStore(ref string) (domain.ImageStore, string, bool) {
	scheme, id, ok := strings.Cut(ref, "://")
	if !ok || id == "" {
		return nil, "", false
	}
	stores := append([]domain.ImageStore{uc.Images}, uc.Legacy...)
	for _, s := range stores {
		if s != nil && s.Scheme() == scheme {
			return s, id, true
		}
	}
	return nil, "", false
}

func isDirectURL(ref string) bool {
	return strings.HasPrefix(ref, "http://") ||
		strings.HasPrefix(ref, "https://") ||
		strings.HasPrefix(ref, "data:") ||
		strings.HasPrefix(ref, "/")
}

// --- reads ---

func (uc *ProductUC) List(ctx context.Context) ([]domain.Product, error) {
	return uc.Cache.GetAll(ctx)
}

func (uc *ProductUC) ByCategory(ctx context.Context, category string) ([]domain.Product, error) {
	if domain.NormalizeCategory(category) == "" {
		return nil, domain.Invalid("category", "is required")
	}
	return uc.Cache.GetByCategory(ctx, category)
}

func (uc *ProductUC) Get(ctx context.Context, id string) (*domain.Product, error) {
	if strings.TrimSpace(id) == "" {
		return nil, domain.Invalid("id", "is required")
	}
	return uc.Cache.GetByID(ctx, id)
}

func (uc *ProductUC) Featured(ctx context.Context, limit int) ([]domain.Product, error) {
	return uc.filter(ctx, limit, func(p domain.Product) bool { return p.Featured })
}

func (uc *ProductUC) NewArrivals(ctx context.Context, limit int) ([]domain.Product, error) {
	return uc.filter(ctx, limit, func(p domain.Product) bool { return p.New })
}

// Search matches q case-insensitively against name, category, subcategory and tags.
func (uc *ProductUC) Search(ctx context.Context, q string) ([]domain.Product, error) {
	q = strings.ToLower(strings.TrimSpace(q))
	return uc.filter(ctx, 0, func(p domain.Product) bool {
		if q == "" {
			return true
		}
		if strings.Contains(strings.ToLower(p.Name), q) ||
			strings.Contains(p.Category, q) ||
			strings.Contains(p.Subcategory, q) {
			return true
		}
		for _, t := range p.Tags {
			if strings.Contains(strings.ToLower(t), q) {
				return true
			}
		}
		return false
	})
}

func (uc *ProductUC) filter(ctx context.Context, limit int, keep func(domain.Product) bool) ([]domain.Product, error) {
	all, err := uc.Cache.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Product, 0)
	for _, p := range all {
		if !keep(p) {
			continue
		}
		out = append(out, p)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Page reads one page straight from the store, newest first. next is empty on the last page.
func (uc *ProductUC) Page(ctx context.Context, limit int, cursor string) (items []domain.Product, next string, err error) {
	if limit <= 0 {
		limit = 20
	}
	docs, err := uc.Store.Query(ctx, domain.Query{
		Collection: domain.ProductsCollection,
		OrderBy:    []domain.OrderBy{{Field: "createdAt", Desc: true}},
		Limit:      limit,
		StartAfter: cursor,
	})
	if err != nil {
		return nil, "", errors.Wrap(err, "page products")
	}
	items = decodeProducts(docs)
	if len(items) == limit {
		next = items[len(items)-1].ID
	}
	return items, next, nil
}

func (uc *ProductUC) Categories(ctx context.Context) ([]domain.Category, error) {
	docs, err := uc.Store.Query(ctx, domain.Query{Collection: domain.CategoriesCollection})
	if err != nil {
		return nil, errors.Wrap(err, "list categories")
	}
	out := make([]domain.Category, 0, len(docs))
	for _, d := range docs {
		out = append(out, domain.CategoryFromDoc(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// RebuildCategories recounts the aggregates from the products collection and
// drops aggregates no product refers to.
func (uc *ProductUC) RebuildCategories(ctx context.Context) ([]domain.Category, error) {
	prodDocs, err := uc.Store.Query(ctx, domain.Query{Collection: domain.ProductsCollection})
	if err != nil {
		return nil, errors.Wrap(err, "rebuild categories")
	}
	counts := map[string]int{}
	for _, d := range prodDocs {
		if c := domain.NormalizeCategory(domain.AsString(d.Data["category"])); c != "" {
			counts[c]++
		}
	}
	existing, err := uc.Store.Query(ctx, domain.Query{Collection: domain.CategoriesCollection})
	if err != nil {
		return nil, errors.Wrap(err, "rebuild categories")
	}
	names := map[string]struct{}{}
	for name := range counts {
		names[name] = struct{}{}
	}
	for _, d := range existing {
		names[d.ID] = struct{}{}
	}
	ordered := make([]string, 0, len(names))
	for n := range names {
		ordered = append(ordered, n)
	}
	sort.Strings(ordered)

	now := uc.now()
	err = uc.Store.RunTransaction(ctx, func(ctx context.Context, tx domain.Tx) error {
		current := map[string]*domain.Doc{}
		for _, n := range ordered {
			d, err := tx.Get(domain.CategoriesCollection, n)
			if err != nil && !errors.Is(err, domain.ErrNotFound) {
				return err
			}
			current[n] = d
		}
		for _, n := range ordered {
			count := counts[n]
			if count <= 0 {
				if current[n] != nil {
					if err := tx.Delete(domain.CategoriesCollection, n); err != nil {
						return err
					}
				}
				continue
			}
			c := domain.Category{ID: n, Name: n, Count: count, CreatedAt: now, UpdatedAt: now}
			if current[n] != nil {
				if prev := domain.CategoryFromDoc(*current[n]); !prev.CreatedAt.IsZero() {
					c.CreatedAt = prev.CreatedAt
				}
			}
			if err := tx.Set(domain.CategoriesCollection, n, domain.CategoryToDoc(c)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "rebuild categories")
	}
	zlog.Info().Int("categories", len(counts)).Int("products", len(prodDocs)).Msg("categories rebuilt")
	return uc.Categories(ctx)
}

// readCategories loads every aggregate touched by deltas. All reads happen
// here so the caller can write afterwards.
func readCategories(tx domain.Tx, deltas map[string]int) (map[string]*domain.Doc, error) {
	out := make(map[string]*domain.Doc, len(deltas))
	for name, d := range deltas {
		if name == "" || d == 0 {
			continue
		}
		doc, err := tx.Get(domain.CategoriesCollection, name)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		out[name] = doc
	}
	return out, nil
}

// writeCategories applies deltas. An aggregate that drops to zero or below is deleted.
func writeCategories(tx domain.Tx, deltas map[string]int, aggs map[string]*domain.Doc, now time.Time) error {
	names := make([]string, 0, len(deltas))
	for n := range deltas {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, name := range names {
		d := deltas[name]
		if name == "" || d == 0 {
			continue
		}
		doc := aggs[name]
		if doc == nil {
			if d > 0 {
				c := domain.Category{ID: name, Name: name, Count: d, CreatedAt: now, UpdatedAt: now}
				if err := tx.Set(domain.CategoriesCollection, name, domain.CategoryToDoc(c)); err != nil {
					return err
				}
			}
			continue
		}
		count := domain.CategoryFromDoc(*doc).Count + d
		if count <= 0 {
			if err := tx.Delete(domain.CategoriesCollection, name); err != nil {
				return err
			}
			continue
		}
		if err := tx.Update(domain.CategoriesCollection, name, map[string]any{"count": count, "updatedAt": now}); err != nil {
			return err
		}
	}
	return nil
}

func validateNew(in domain.NewProduct) error {
	if strings.TrimSpace(in.Name) == "" {
		return domain.Invalid("name", "is required")
	}
	if err := validPrice("price", in.Price); err != nil {
		return err
	}
	if in.OriginalPrice != nil {
		if err := validPrice("originalPrice", *in.OriginalPrice); err != nil {
			return err
		}
	}
	if domain.NormalizeCategory(in.Category) == "" {
		return domain.Invalid("category", "is required")
	}
	if domain.NormalizeCategory(in.Subcategory) == "" {
		return domain.Invalid("subcategory", "is required")
	}
	if strings.TrimSpace(in.Image) == "" {
		return domain.Invalid("image", "is required")
	}
	return validRanges(in.Stock, in.Discount, in.Rating, in.Reviews)
}

func validPrice(field string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return domain.Invalid(field, "must be a positive number")
	}
	return nil
}

func validRanges(stock, discount int, rating float64, reviews int) error {
	switch {
	case stock < 0:
		return domain.Invalid("stock", "must not be negative")
	case discount < 0 || discount > 100:
		return domain.Invalid("discount", "must be between 0 and 100")
	case math.IsNaN(rating) || rating < 0 || rating > 5:
		return domain.Invalid("rating", "must be between 0 and 5")
	case reviews < 0:
		return domain.Invalid("reviews", "must not be negative")
	}
	return nil
}

func applyPatch(cur domain.Product, patch domain.ProductPatch) (domain.Product, error) {
	next := cur.Clone()
	if patch.Name != nil {
		if strings.TrimSpace(*patch.Name) == "" {
			return next, domain.Invalid("name", "is required")
		}
		next.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Description != nil {
		next.Description = strings.TrimSpace(*patch.Description)
	}
	if patch.Price != nil {
		if err := validPrice("price", *patch.Price); err != nil {
			return next, err
		}
		next.Price = *patch.Price
	}
	if patch.OriginalPrice != nil {
		if err := validPrice("originalPrice", *patch.OriginalPrice); err != nil {
			return next, err
		}
		v := *patch.OriginalPrice
		next.OriginalPrice = &v
	}
	if patch.Image != nil {
		if strings.TrimSpace(*patch.Image) == "" {
			return next, domain.Invalid("image", "is required")
		}
		next.Image = strings.TrimSpace(*patch.Image)
	}
	if patch.Category != nil {
		if domain.NormalizeCategory(*patch.Category) == "" {
			return next, domain.Invalid("category", "is required")
		}
		next.Category = domain.NormalizeCategory(*patch.Category)
	}
	if patch.Subcategory != nil {
		if domain.NormalizeCategory(*patch.Subcategory) == "" {
			return next, domain.Invalid("subcategory", "is required")
		}
		next.Subcategory = domain.NormalizeCategory(*patch.Subcategory)
	}
	if patch.Stock != nil {
		next.Stock = *patch.Stock
	}
	if patch.Sizes != nil {
		next.Sizes = append([]string{}, patch.Sizes...)
	}
	if patch.Colors != nil {
		next.Colors = append([]domain.Color{}, patch.Colors...)
	}
	if patch.Featured != nil {
		next.Featured = *patch.Featured
	}
	if patch.New != nil {
		next.New = *patch.New
	}
	if patch.Discount != nil {
		next.Discount = *patch.Discount
	}
	if patch.Rating != nil {
		next.Rating = *patch.Rating
	}
	if patch.Reviews != nil {
		next.Reviews = *patch.Reviews
	}
	if err := validRanges(next.Stock, next.Discount, next.Rating, next.Reviews); err != nil {
		return next, err
	}

	if patch.Tags != nil || next.Category != cur.Category || next.Subcategory != cur.Subcategory {
		base := patch.Tags
		if base == nil {
			base = stripDerived(cur.Tags, cur.Category, cur.Subcategory)
		}
		next.Tags = domain.DeriveTags(base, next.Category, next.Subcategory)
	}
	return next, nil
}

// stripDerived removes the tags DeriveTags added for the old category pair.
func stripDerived(tags []string, category, subcategory string) []string {
	drop := map[string]struct{}{category: {}, subcategory: {}, category + "-" + subcategory: {}}
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if _, ok := drop[t]; ok {
			continue
		}
		out = append(out, t)
	}
	return out
}

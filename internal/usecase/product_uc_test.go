package usecase

import (
	"bytes"
	"context"
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phenrril/jeanstore/internal/adapters/storage/docimages"
	"github.com/phenrril/jeanstore/internal/domain"
)

func newProductUC(t *testing.T) (*ProductUC, *spyStore, *fakeImages) {
	t.Helper()
	store := newSpyStore()
	clock := newStepClock()
	images := newFakeImages("gcs")
	uc := &ProductUC{
		Store:         store,
		Cache:         NewProductCache(store, WithClock(clock.Now)),
		Images:        images,
		MaxImageBytes: 1024,
		Now:           clock.Now,
	}
	return uc, store, images
}

func categoryCount(t *testing.T, uc *ProductUC, name string) (int, bool) {
	t.Helper()
	cats, err := uc.Categories(context.Background())
	require.NoError(t, err)
	for _, c := range cats {
		if c.Name == name {
			return c.Count, true
		}
	}
	return 0, false
}

func TestProductUC_AddNormalizesAndDerivesTags(t *testing.T) {
	uc, _, _ := newProductUC(t)
	ctx := context.Background()

	in := jeans()
	in.Tags = []string{"stretch"}
	p, err := uc.Add(ctx, in)
	require.NoError(t, err)

	assert.NotEmpty(t, p.ID)
	assert.Equal(t, "men", p.Category)
	assert.Equal(t, "jeans", p.Subcategory)
	assert.ElementsMatch(t, []string{"stretch", "men", "jeans", "men-jeans"}, p.Tags)
	assert.False(t, p.CreatedAt.IsZero())

	stored, err := uc.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.Tags, stored.Tags)
	assert.Equal(t, p.Colors, stored.Colors)

	n, ok := categoryCount(t, uc, "men")
	assert.True(t, ok)
	assert.Equal(t, 1, n)
}

func TestProductUC_AddValidation(t *testing.T) {
	uc, store, _ := newProductUC(t)
	cases := map[string]func(*domain.NewProduct){
		"name":          func(p *domain.NewProduct) { p.Name = "  " },
		"zero price":    func(p *domain.NewProduct) { p.Price = 0 },
		"nan price":     func(p *domain.NewProduct) { p.Price = math.NaN() },
		"category":      func(p *domain.NewProduct) { p.Category = "" },
		"subcategory":   func(p *domain.NewProduct) { p.Subcategory = "" },
		"image":         func(p *domain.NewProduct) { p.Image = "" },
		"stock":         func(p *domain.NewProduct) { p.Stock = -1 },
		"discount":      func(p *domain.NewProduct) { p.Discount = 101 },
		"rating":        func(p *domain.NewProduct) { p.Rating = 5.5 },
		"originalPrice": func(p *domain.NewProduct) { v := -1.0; p.OriginalPrice = &v },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := jeans()
			mutate(&in)
			_, err := uc.Add(context.Background(), in)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}
	assert.Zero(t, store.Len(domain.ProductsCollection))
	assert.Zero(t, uc.Cache.Generation())
}

func TestProductUC_CategoryAggregatesFollowWrites(t *testing.T) {
	uc, _, _ := newProductUC(t)
	ctx := context.Background()

	a, err := uc.Add(ctx, jeans())
	require.NoError(t, err)
	b, err := uc.Add(ctx, jeans())
	require.NoError(t, err)
	n, _ := categoryCount(t, uc, "men")
	assert.Equal(t, 2, n)

	women := "Women"
	moved, err := uc.Update(ctx, b.ID, domain.ProductPatch{Category: &women})
	require.NoError(t, err)
	assert.Equal(t, "women", moved.Category)
	assert.ElementsMatch(t, []string{"women", "jeans", "women-jeans"}, moved.Tags)

	n, _ = categoryCount(t, uc, "men")
	assert.Equal(t, 1, n)
	n, _ = categoryCount(t, uc, "women")
	assert.Equal(t, 1, n)

	require.NoError(t, uc.Remove(ctx, a.ID))
	_, ok := categoryCount(t, uc, "men")
	assert.False(t, ok, "an aggregate at zero is deleted")
}

func TestProductUC_UpdateKeepsUserTags(t *testing.T) {
	uc, _, _ := newProductUC(t)
	ctx := context.Background()

	in := jeans()
	in.Tags = []string{"summer"}
	p, err := uc.Add(ctx, in)
	require.NoError(t, err)

	sub := "Shorts"
	next, err := uc.Update(ctx, p.ID, domain.ProductPatch{Subcategory: &sub})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"summer", "men", "shorts", "men-shorts"}, next.Tags)
}

func TestProductUC_UpdateAndRemoveMissing(t *testing.T) {
	uc, _, _ := newProductUC(t)
	ctx := context.Background()

	name := "x"
	_, err := uc.Update(ctx, "nope", domain.ProductPatch{Name: &name})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, uc.Remove(ctx, "nope"), domain.ErrNotFound)
	assert.Zero(t, uc.Cache.Generation())
}

func TestProductUC_UpdateRejectsInvalidPatch(t *testing.T) {
	uc, _, _ := newProductUC(t)
	ctx := context.Background()
	p, err := uc.Add(ctx, jeans())
	require.NoError(t, err)

	bad := -5
	_, err = uc.Update(ctx, p.ID, domain.ProductPatch{Stock: &bad})
	assert.ErrorIs(t, err, domain.ErrValidation)

	got, err := uc.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, got.Stock)
}

func TestProductUC_EachMutationInvalidatesOnce(t *testing.T) {
	uc, _, _ := newProductUC(t)
	ctx := context.Background()

	p, err := uc.Add(ctx, jeans())
	require.NoError(t, err)
	assert.EqualValues(t, 1, uc.Cache.Generation())

	price := 49.99
	_, err = uc.Update(ctx, p.ID, domain.ProductPatch{Price: &price})
	require.NoError(t, err)
	assert.EqualValues(t, 2, uc.Cache.Generation())

	require.NoError(t, uc.Remove(ctx, p.ID))
	assert.EqualValues(t, 3, uc.Cache.Generation())
}

func TestProductUC_ReadsSeeWrites(t *testing.T) {
	uc, _, _ := newProductUC(t)
	ctx := context.Background()

	list, err := uc.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	p, err := uc.Add(ctx, jeans())
	require.NoError(t, err)
	list, err = uc.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{p.ID}, ids(list))

	byCat, err := uc.ByCategory(ctx, "MEN")
	require.NoError(t, err)
	assert.Equal(t, []string{p.ID}, ids(byCat))

	_, err = uc.ByCategory(ctx, " ")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestProductUC_RemoveSurvivesImageDeleteFailure(t *testing.T) {
	uc, store, images := newProductUC(t)
	ctx := context.Background()

	ref, err := uc.UploadImage(ctx, ImageUpload{Filename: "a.png", Data: pngHeader()})
	require.NoError(t, err)
	in := jeans()
	in.Image = ref
	p, err := uc.Add(ctx, in)
	require.NoError(t, err)

	images.deleteErr = domain.Remote("gcs.delete", errors.New("boom"))
	require.NoError(t, uc.Remove(ctx, p.ID))
	assert.Zero(t, store.Len(domain.ProductsCollection))
}

func TestProductUC_RemoveDeletesImage(t *testing.T) {
	uc, _, images := newProductUC(t)
	ctx := context.Background()

	ref, err := uc.UploadImage(ctx, ImageUpload{Data: pngHeader()})
	require.NoError(t, err)
	in := jeans()
	in.Image = ref
	p, err := uc.Add(ctx, in)
	require.NoError(t, err)

	require.NoError(t, uc.Remove(ctx, p.ID))
	assert.Len(t, images.deleted, 1)
}

func pngHeader() []byte {
	return append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 32)...)
}

func TestProductUC_UploadImage(t *testing.T) {
	uc, _, images := newProductUC(t)
	ctx := context.Background()

	t.Run("too large before any io", func(t *testing.T) {
		_, err := uc.UploadImage(ctx, ImageUpload{Data: make([]byte, 1025), ContentType: "image/png"})
		var tl *domain.TooLargeError
		require.ErrorAs(t, err, &tl)
		assert.EqualValues(t, 1025, tl.Size)
		assert.EqualValues(t, 1024, tl.Limit)
		assert.ErrorIs(t, err, domain.ErrTooLarge)
		assert.Zero(t, images.puts)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := uc.UploadImage(ctx, ImageUpload{})
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("not an image", func(t *testing.T) {
		_, err := uc.UploadImage(ctx, ImageUpload{Data: []byte("plain text, not a picture")})
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("detected content type", func(t *testing.T) {
		ref, err := uc.UploadImage(ctx, ImageUpload{Data: pngHeader()})
		require.NoError(t, err)
		assert.Regexp(t, `^gcs://[0-9a-f-]{36}$`, ref)
		assert.Equal(t, 1, images.puts)
		id := ref[len("gcs://"):]
		assert.Equal(t, "image/png", images.images[id].ContentType)
	})
}

func TestProductUC_UploadImageHonorsStoreLimit(t *testing.T) {
	uc, store, _ := newProductUC(t)
	docs := docimages.New(store)
	docs.MaxBytes = 64
	uc.Images = docs
	ctx := context.Background()

	big := append(pngHeader(), make([]byte, 64)...)
	_, err := uc.UploadImage(ctx, ImageUpload{Data: big, ContentType: "image/png"})
	var tl *domain.TooLargeError
	require.ErrorAs(t, err, &tl)
	assert.EqualValues(t, 64, tl.Limit, "the store cap wins over the configured 1024")
	stored, err := store.Store.Query(ctx, domain.Query{Collection: domain.ImagesCollection})
	require.NoError(t, err)
	assert.Empty(t, stored)

	ref, err := uc.UploadImage(ctx, ImageUpload{Data: pngHeader()})
	require.NoError(t, err)
	assert.Regexp(t, `^base64://`, ref)
}

func TestProductUC_ResolveImage(t *testing.T) {
	uc, _, images := newProductUC(t)
	legacy := newFakeImages("firestore")
	uc.Legacy = []domain.ImageStore{legacy}
	ctx := context.Background()

	require.NoError(t, images.Put(ctx, "new1", "image/png", []byte{1}))
	require.NoError(t, legacy.Put(ctx, "old1", "image/png", []byte{1}))

	assert.Equal(t, DefaultPlaceholder, uc.ResolveImage(ctx, ""))
	assert.Equal(t, "https://cdn.test/a.jpg", uc.ResolveImage(ctx, "https://cdn.test/a.jpg"))
	assert.Equal(t, "/images/local.jpg", uc.ResolveImage(ctx, "/images/local.jpg"))
	assert.Equal(t, "https://img.test/new1", uc.ResolveImage(ctx, "gcs://new1"))
	assert.Equal(t, "https://img.test/old1", uc.ResolveImage(ctx, "firestore://old1"))
	assert.Equal(t, DefaultPlaceholder, uc.ResolveImage(ctx, "gcs://missing"))
	assert.Equal(t, DefaultPlaceholder, uc.ResolveImage(ctx, "s3://whatever"))

	uc.Placeholder = "/custom.png"
	assert.Equal(t, "/custom.png", uc.ResolveImage(ctx, "not a reference"))
}

func TestProductUC_FeaturedNewAndSearch(t *testing.T) {
	uc, _, _ := newProductUC(t)
	ctx := context.Background()

	a := jeans()
	a.Featured = true
	_, err := uc.Add(ctx, a)
	require.NoError(t, err)
	b := jeans()
	b.Name = "Denim Jacket"
	b.Subcategory = "Jackets"
	b.New = true
	_, err = uc.Add(ctx, b)
	require.NoError(t, err)

	featured, err := uc.Featured(ctx, 0)
	require.NoError(t, err)
	require.Len(t, featured, 1)
	assert.Equal(t, "Slim Fit Jeans", featured[0].Name)

	fresh, err := uc.NewArrivals(ctx, 1)
	require.NoError(t, err)
	require.Len(t, fresh, 1)
	assert.Equal(t, "Denim Jacket", fresh[0].Name)

	hits, err := uc.Search(ctx, "JACKET")
	require.NoError(t, err)
	assert.Len(t, hits, 1)
	hits, err = uc.Search(ctx, "men-jeans")
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestProductUC_Page(t *testing.T) {
	uc, _, _ := newProductUC(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := uc.Add(ctx, jeans())
		require.NoError(t, err)
	}

	first, next, err := uc.Page(ctx, 2, "")
	require.NoError(t, err)
	assert.Len(t, first, 2)
	require.NotEmpty(t, next)

	second, next, err := uc.Page(ctx, 2, next)
	require.NoError(t, err)
	assert.Len(t, second, 1)
	assert.Empty(t, next)
}

func TestProductUC_RebuildCategories(t *testing.T) {
	uc, store, _ := newProductUC(t)
	ctx := context.Background()
	_, err := uc.Add(ctx, jeans())
	require.NoError(t, err)

	// drift: a stale aggregate and a wrong count
	require.NoError(t, store.Store.Set(ctx, domain.CategoriesCollection, "kids", map[string]any{"name": "kids", "count": 4}))
	require.NoError(t, store.Store.Set(ctx, domain.CategoriesCollection, "men", map[string]any{"name": "men", "count": 9}))

	cats, err := uc.RebuildCategories(ctx)
	require.NoError(t, err)
	require.Len(t, cats, 1)
	assert.Equal(t, "men", cats[0].Name)
	assert.Equal(t, 1, cats[0].Count)
}

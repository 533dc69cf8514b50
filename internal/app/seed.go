package app

import (
	"context"

	"github.com/pkg/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/phenrril/jeanstore/internal/domain"
)

func ptr[T any](v T) *T { return &v }

var (
	indigo = domain.Color{Name: "Indigo", Code: "#3f51b5"}
	black  = domain.Color{Name: "Black", Code: "#111827"}
	stone  = domain.Color{Name: "Stone Wash", Code: "#94a3b8"}
	white  = domain.Color{Name: "White", Code: "#ffffff"}
)

func sampleCatalog() []domain.NewProduct {
	return []domain.NewProduct{
		{Name: "Slim Fit Jeans", Price: 59.99, OriginalPrice: ptr(79.99), Discount: 25, Category: "Men", Subcategory: "Jeans",
			Image: "/images/products/slim-fit.jpg", Stock: 40, Sizes: []string{"30", "32", "34", "36"}, Colors: []domain.Color{indigo, black},
			Featured: true, Rating: 4.6, Reviews: 128, Description: "Stretch denim with a tapered leg."},
		{Name: "Relaxed Straight Jeans", Price: 54.99, Category: "Men", Subcategory: "Jeans",
			Image: "/images/products/relaxed.jpg", Stock: 25, Sizes: []string{"30", "32", "34", "36", "38"}, Colors: []domain.Color{stone},
			Rating: 4.3, Reviews: 61},
		{Name: "High Rise Skinny", Price: 64.99, Category: "Women", Subcategory: "Jeans",
			Image: "/images/products/high-rise.jpg", Stock: 32, Sizes: []string{"24", "26", "28", "30"}, Colors: []domain.Color{black, indigo},
			Featured: true, New: true, Rating: 4.8, Reviews: 203},
		{Name: "Mom Jeans", Price: 49.99, Category: "Women", Subcategory: "Jeans",
			Image: "/images/products/mom.jpg", Stock: 18, Sizes: []string{"26", "28", "30"}, Colors: []domain.Color{stone},
			New: true, Rating: 4.5, Reviews: 87},
		{Name: "Denim Trucker Jacket", Price: 89.99, Category: "Men", Subcategory: "Jackets",
			Image: "/images/products/trucker.jpg", Stock: 12, Sizes: []string{"S", "M", "L", "XL"}, Colors: []domain.Color{indigo},
			Rating: 4.7, Reviews: 45},
		{Name: "Basic Crew Tee", Price: 19.99, Category: "Unisex", Subcategory: "T-Shirts",
			Image: "/images/products/tee.jpg", Stock: 100, Sizes: []string{"S", "M", "L", "XL"}, Colors: []domain.Color{white, black},
			Rating: 4.1, Reviews: 19},
	}
}

// Seed inserts the sample catalog when the store has no products yet.
func (a *App) Seed(ctx context.Context) (int, error) {
	existing, _, err := a.ProductUC.Page(ctx, 1, "")
	if err != nil {
		return 0, err
	}
	if len(existing) > 0 {
		zlog.Info().Msg("seed: catalog not empty, skipping")
		return 0, nil
	}
	n := 0
	for _, p := range sampleCatalog() {
		if _, err := a.ProductUC.Add(ctx, p); err != nil {
			return n, errors.Wrapf(err, "seed %q", p.Name)
		}
		n++
	}
	zlog.Info().Int("products", n).Msg("seed: catalog created")
	return n, nil
}

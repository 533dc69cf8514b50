package domain

import (
	"strings"
	"time"
)

type Color struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

type Product struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
	Price         float64   `json:"price"`
	OriginalPrice *float64  `json:"originalPrice,omitempty"`
	Image         string    `json:"image"`
	Category      string    `json:"category"`
	Subcategory   string    `json:"subcategory,omitempty"`
	Stock         int       `json:"stock"`
	Sizes         []string  `json:"sizes"`
	Colors        []Color   `json:"colors,omitempty"`
	Tags          []string  `json:"tags,omitempty"`
	Featured      bool      `json:"featured,omitempty"`
	New           bool      `json:"new,omitempty"`
	Discount      int       `json:"discount,omitempty"`
	Rating        float64   `json:"rating,omitempty"`
	Reviews       int       `json:"reviews,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// NewProduct is the input of a catalog insert; ID and timestamps are assigned by the repository.
type NewProduct struct {
	Name          string
	Description   string
	Price         float64
	OriginalPrice *float64
	Image         string
	Category      string
	Subcategory   string
	Stock         int
	Sizes         []string
	Colors        []Color
	Tags          []string
	Featured      bool
	New           bool
	Discount      int
	Rating        float64
	Reviews       int
}

// ProductPatch carries a partial update. Nil fields are left untouched.
type ProductPatch struct {
	Name          *string
	Description   *string
	Price         *float64
	OriginalPrice *float64
	Image         *string
	Category      *string
	Subcategory   *string
	Stock         *int
	Sizes         []string
	Colors        []Color
	Tags          []string
	Featured      *bool
	New           *bool
	Discount      *int
	Rating        *float64
	Reviews       *int
}

type Category struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Count     int       `json:"count"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

const (
	ProductsCollection   = "products"
	CategoriesCollection = "categories"
	OrdersCollection     = "orders"
	ImagesCollection     = "images"
)

func NormalizeCategory(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// DeriveTags returns tags with category, subcategory and "category-subcategory" present, without duplicates.
func DeriveTags(tags []string, category, subcategory string) []string {
	out := make([]string, 0, len(tags)+3)
	seen := map[string]struct{}{}
	add := func(t string) {
		t = strings.TrimSpace(t)
		if t == "" {
			return
		}
		if _, ok := seen[t]; ok {
			return
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	for _, t := range tags {
		add(t)
	}
	add(category)
	add(subcategory)
	if category != "" && subcategory != "" {
		add(category + "-" + subcategory)
	}
	return out
}

func (p Product) FirstSize() string {
	if len(p.Sizes) > 0 {
		return p.Sizes[0]
	}
	return ""
}

func (p Product) FirstColor() *Color {
	if len(p.Colors) > 0 {
		c := p.Colors[0]
		return &c
	}
	return nil
}

// Clone returns a deep copy, so snapshots never share slices with the source.
func (p Product) Clone() Product {
	c := p
	if p.OriginalPrice != nil {
		v := *p.OriginalPrice
		c.OriginalPrice = &v
	}
	c.Sizes = append([]string(nil), p.Sizes...)
	c.Colors = append([]Color(nil), p.Colors...)
	c.Tags = append([]string(nil), p.Tags...)
	return c
}

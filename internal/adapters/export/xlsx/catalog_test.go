package xlsx

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/phenrril/jeanstore/internal/domain"
)

func TestCatalog_WriteThenRead(t *testing.T) {
	orig := 79.99
	products := []domain.Product{{
		ID: "p1", Name: "Slim Fit Jeans", Price: 59.99, OriginalPrice: &orig,
		Category: "men", Subcategory: "jeans", Stock: 40, Sizes: []string{"30", "32"},
		Colors:   []domain.Color{{Name: "Indigo", Code: "#3f51b5"}, {Name: "Black", Code: "#111827"}},
		Tags:     []string{"men", "jeans", "men-jeans"}, Featured: true, Discount: 25, Rating: 4.6, Reviews: 128,
		Image:    "/images/slim.jpg", CreatedAt: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}}
	cats := []domain.Category{{ID: "men", Name: "men", Count: 1}}

	var buf bytes.Buffer
	require.NoError(t, WriteCatalog(&buf, products, cats))

	f, err := excelize.OpenReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, []string{ProductsSheet, CategoriesSheet}, f.GetSheetList())
	count, err := f.GetCellValue(CategoriesSheet, "C2")
	require.NoError(t, err)
	assert.Equal(t, "1", count)
	require.NoError(t, f.Close())

	got, bad, err := ReadCatalog(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Empty(t, bad)
	require.Len(t, got, 1)
	p := got[0]
	assert.Equal(t, "Slim Fit Jeans", p.Name)
	assert.Equal(t, 59.99, p.Price)
	require.NotNil(t, p.OriginalPrice)
	assert.Equal(t, 79.99, *p.OriginalPrice)
	assert.Equal(t, products[0].Colors, p.Colors)
	assert.Equal(t, []string{"30", "32"}, p.Sizes)
	assert.True(t, p.Featured)
	assert.False(t, p.New)
	assert.Equal(t, 40, p.Stock)
	assert.Equal(t, 25, p.Discount)
	assert.Equal(t, 128, p.Reviews)
	assert.Equal(t, 4.6, p.Rating)
}

func TestCatalog_ReadAnyColumnOrder(t *testing.T) {
	f := excelize.NewFile()
	rows := [][]any{
		{"Price", "NAME", "Category", "Subcategory", "Image", "Stock", "Featured"},
		{"$ 49,99", "Mom Jeans", "Women", "Jeans", "/m.jpg", "3", "si"},
		{"cheap", "Broken Row", "Women", "Jeans", "/b.jpg", "", ""},
		{"10", "Tee", "Unisex", "T-Shirts", "/t.jpg", "many", ""},
	}
	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		r := r
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &r))
	}
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))

	got, bad, err := ReadCatalog(&buf)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Mom Jeans", got[0].Name)
	assert.Equal(t, 49.99, got[0].Price)
	assert.Equal(t, 3, got[0].Stock)
	assert.True(t, got[0].Featured)

	require.Len(t, bad, 2)
	assert.Equal(t, 3, bad[0].Row)
	assert.Equal(t, 4, bad[1].Row)
	assert.Contains(t, bad[1].Error(), "stock")
}

func TestCatalog_ReadRequiresNameColumn(t *testing.T) {
	f := excelize.NewFile()
	require.NoError(t, f.SetCellValue("Sheet1", "A1", "Price"))
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))

	_, _, err := ReadCatalog(&buf)
	assert.Error(t, err)
}

func TestParseFloat(t *testing.T) {
	for in, want := range map[string]float64{"59.99": 59.99, "59,99": 59.99, "$ 1,299.50": 1299.5, " 7 ": 7} {
		got, err := parseFloat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

package xlsx

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/xuri/excelize/v2"

	"github.com/phenrril/jeanstore/internal/domain"
)

const (
	ProductsSheet   = "Products"
	CategoriesSheet = "Categories"
)

var productHeader = []string{
	"ID", "Name", "Description", "Price", "OriginalPrice", "Category", "Subcategory",
	"Stock", "Sizes", "Colors", "Tags", "Featured", "New", "Discount", "Rating",
	"Reviews", "Image", "CreatedAt", "UpdatedAt",
}

// WriteCatalog writes products and category aggregates as a two-sheet workbook.
func WriteCatalog(w io.Writer, products []domain.Product, categories []domain.Category) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", ProductsSheet); err != nil {
		return errors.Wrap(err, "xlsx: rename sheet")
	}
	if err := writeRow(f, ProductsSheet, 1, toAny(productHeader)); err != nil {
		return err
	}
	for i, p := range products {
		orig := ""
		if p.OriginalPrice != nil {
			orig = strconv.FormatFloat(*p.OriginalPrice, 'f', 2, 64)
		}
		row := []any{
			p.ID, p.Name, p.Description, p.Price, orig, p.Category, p.Subcategory,
			p.Stock, strings.Join(p.Sizes, ","), formatColors(p.Colors), strings.Join(p.Tags, ","),
			p.Featured, p.New, p.Discount, p.Rating, p.Reviews, p.Image,
			formatTime(p.CreatedAt), formatTime(p.UpdatedAt),
		}
		if err := writeRow(f, ProductsSheet, i+2, row); err != nil {
			return err
		}
	}
	_ = f.SetColWidth(ProductsSheet, "B", "C", 32)

	if _, err := f.NewSheet(CategoriesSheet); err != nil {
		return errors.Wrap(err, "xlsx: add categories sheet")
	}
	if err := writeRow(f, CategoriesSheet, 1, []any{"ID", "Name", "Count", "UpdatedAt"}); err != nil {
		return err
	}
	for i, c := range categories {
		if err := writeRow(f, CategoriesSheet, i+2, []any{c.ID, c.Name, c.Count, formatTime(c.UpdatedAt)}); err != nil {
			return err
		}
	}

	if err := f.Write(w); err != nil {
		return errors.Wrap(err, "xlsx: write workbook")
	}
	return nil
}

func writeRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return errors.Wrap(err, "xlsx: cell name")
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return errors.Wrapf(err, "xlsx: write %s row %d", sheet, row)
	}
	return nil
}

// RowError reports a spreadsheet row that could not be turned into a product.
type RowError struct {
	Row int
	Err error
}

func (e RowError) Error() string { return fmt.Sprintf("row %d: %v", e.Row, e.Err) }

// ReadCatalog parses the Products sheet (or the first sheet) of a workbook. The
// header row decides column positions, so columns may come in any order.
// Rows that fail to parse are reported and skipped.
func ReadCatalog(r io.Reader) ([]domain.NewProduct, []RowError, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, nil, errors.Wrap(err, "xlsx: open workbook")
	}
	defer f.Close()

	sheet := ProductsSheet
	if idx, _ := f.GetSheetIndex(sheet); idx < 0 {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, nil, errors.New("xlsx: workbook has no sheets")
		}
		sheet = sheets[0]
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "xlsx: read %s", sheet)
	}
	if len(rows) == 0 {
		return nil, nil, nil
	}

	cols := map[string]int{}
	for i, h := range rows[0] {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := cols["name"]; !ok {
		return nil, nil, errors.New("xlsx: header has no Name column")
	}

	var out []domain.NewProduct
	var bad []RowError
	for i, row := range rows[1:] {
		get := func(name string) string {
			if c, ok := cols[strings.ToLower(name)]; ok && c < len(row) {
				return strings.TrimSpace(row[c])
			}
			return ""
		}
		if get("Name") == "" {
			continue
		}
		p, err := parseRow(get)
		if err != nil {
			bad = append(bad, RowError{Row: i + 2, Err: err})
			continue
		}
		out = append(out, p)
	}
	return out, bad, nil
}

func parseRow(get func(string) string) (domain.NewProduct, error) {
	p := domain.NewProduct{
		Name:        get("Name"),
		Description: get("Description"),
		Image:       get("Image"),
		Category:    get("Category"),
		Subcategory: get("Subcategory"),
		Sizes:       splitList(get("Sizes")),
		Colors:      parseColors(get("Colors")),
		Tags:        splitList(get("Tags")),
		Featured:    parseBool(get("Featured")),
		New:         parseBool(get("New")),
	}
	var err error
	if p.Price, err = parseFloat(get("Price")); err != nil {
		return p, errors.Wrap(err, "price")
	}
	if s := get("OriginalPrice"); s != "" {
		v, err := parseFloat(s)
		if err != nil {
			return p, errors.Wrap(err, "originalPrice")
		}
		p.OriginalPrice = &v
	}
	ints := []struct {
		col string
		dst *int
	}{{"Stock", &p.Stock}, {"Discount", &p.Discount}, {"Reviews", &p.Reviews}}
	for _, c := range ints {
		if s := get(c.col); s != "" {
			v, err := strconv.Atoi(s)
			if err != nil {
				return p, errors.Wrap(err, strings.ToLower(c.col))
			}
			*c.dst = v
		}
	}
	if s := get("Rating"); s != "" {
		if p.Rating, err = parseFloat(s); err != nil {
			return p, errors.Wrap(err, "rating")
		}
	}
	return p, nil
}

// parseFloat accepts "59.99", "59,99" and "$ 59.99".
func parseFloat(s string) (float64, error) {
	s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "$"))
	if strings.Count(s, ",") == 1 && !strings.Contains(s, ".") {
		s = strings.Replace(s, ",", ".", 1)
	}
	s = strings.ReplaceAll(s, ",", "")
	return strconv.ParseFloat(s, 64)
}

func parseBool(s string) bool {
	switch strings.ToLower(s) {
	case "true", "yes", "1", "x", "si", "sí":
		return true
	}
	return false
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Colors are written as "Indigo:#3f51b5;Black:#000000".
func formatColors(cs []domain.Color) string {
	parts := make([]string, 0, len(cs))
	for _, c := range cs {
		parts = append(parts, c.Name+":"+c.Code)
	}
	return strings.Join(parts, ";")
}

func parseColors(s string) []domain.Color {
	var out []domain.Color
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, code, _ := strings.Cut(part, ":")
		out = append(out, domain.Color{Name: strings.TrimSpace(name), Code: strings.TrimSpace(code)})
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

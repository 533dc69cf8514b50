package domain

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Field decoding tolerates every backend's native shapes: Firestore hands back
// int64/float64/time.Time, JSONB hands back float64/string/[]any.

func AsString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	case []byte:
		return string(t)
	}
	return ""
}

func AsFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case float32:
		return float64(t)
	case int:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case json.Number:
		f, _ := t.Float64()
		return f
	case string:
		f, _ := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f
	}
	return 0
}

func AsInt(v any) int {
	switch t := v.(type) {
	case int:
		return t
	case int32:
		return int(t)
	case int64:
		return int(t)
	}
	return int(math.Round(AsFloat(v)))
}

func AsBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func AsTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t.UTC()
	case *time.Time:
		if t != nil {
			return t.UTC()
		}
	case string:
		if tt, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return tt.UTC()
		}
	}
	return time.Time{}
}

func AsStrings(v any) []string {
	switch t := v.(type) {
	case []string:
		return append([]string(nil), t...)
	case []any:
		out := make([]string, 0, len(t))
		for _, x := range t {
			if s := AsString(x); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func AsMaps(v any) []map[string]any {
	switch t := v.(type) {
	case []map[string]any:
		return t
	case []any:
		out := make([]map[string]any, 0, len(t))
		for _, x := range t {
			if m, ok := x.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}

func AsMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func ProductToDoc(p Product) map[string]any {
	colors := make([]map[string]any, 0, len(p.Colors))
	for _, c := range p.Colors {
		colors = append(colors, map[string]any{"name": c.Name, "code": c.Code})
	}
	d := map[string]any{
		"name":        p.Name,
		"description": p.Description,
		"price":       p.Price,
		"image":       p.Image,
		"category":    p.Category,
		"subcategory": p.Subcategory,
		"stock":       p.Stock,
		"sizes":       append([]string{}, p.Sizes...),
		"colors":      colors,
		"tags":        append([]string{}, p.Tags...),
		"featured":    p.Featured,
		"new":         p.New,
		"discount":    p.Discount,
		"rating":      p.Rating,
		"reviews":     p.Reviews,
		"createdAt":   p.CreatedAt,
		"updatedAt":   p.UpdatedAt,
	}
	if p.OriginalPrice != nil {
		d["originalPrice"] = *p.OriginalPrice
	}
	return d
}

func ProductFromDoc(doc Doc) Product {
	raw := doc.Data
	p := Product{
		ID:          doc.ID,
		Name:        AsString(raw["name"]),
		Description: AsString(raw["description"]),
		Price:       AsFloat(raw["price"]),
		Image:       AsString(raw["image"]),
		Category:    AsString(raw["category"]),
		Subcategory: AsString(raw["subcategory"]),
		Stock:       AsInt(raw["stock"]),
		Sizes:       AsStrings(raw["sizes"]),
		Tags:        AsStrings(raw["tags"]),
		Featured:    AsBool(raw["featured"]),
		New:         AsBool(raw["new"]),
		Discount:    AsInt(raw["discount"]),
		Rating:      AsFloat(raw["rating"]),
		Reviews:     AsInt(raw["reviews"]),
		CreatedAt:   AsTime(raw["createdAt"]),
		UpdatedAt:   AsTime(raw["updatedAt"]),
	}
	if v, ok := raw["originalPrice"]; ok && v != nil {
		op := AsFloat(v)
		p.OriginalPrice = &op
	}
	for _, m := range AsMaps(raw["colors"]) {
		p.Colors = append(p.Colors, Color{Name: AsString(m["name"]), Code: AsString(m["code"])})
	}
	return p
}

func CategoryToDoc(c Category) map[string]any {
	return map[string]any{
		"name":      c.Name,
		"count":     c.Count,
		"createdAt": c.CreatedAt,
		"updatedAt": c.UpdatedAt,
	}
}

func CategoryFromDoc(doc Doc) Category {
	return Category{
		ID:        doc.ID,
		Name:      AsString(doc.Data["name"]),
		Count:     AsInt(doc.Data["count"]),
		CreatedAt: AsTime(doc.Data["createdAt"]),
		UpdatedAt: AsTime(doc.Data["updatedAt"]),
	}
}

// OrderToDoc encodes a new order; timestamps are left to the store.
func OrderToDoc(o Order) map[string]any {
	items := make([]map[string]any, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, map[string]any{
			"productId": it.ProductID,
			"name":      it.Name,
			"price":     it.Price,
			"quantity":  it.Quantity,
			"size":      it.Size,
			"color":     it.Color,
			"image":     it.Image,
		})
	}
	s := o.Shipping
	return map[string]any{
		"userId":      o.UserID,
		"items":       items,
		"totalAmount": o.TotalAmount,
		"shipping": map[string]any{
			"fullName":   s.FullName,
			"email":      s.Email,
			"phone":      s.Phone,
			"address":    s.Address,
			"city":       s.City,
			"state":      s.State,
			"postalCode": s.PostalCode,
			"country":    s.Country,
			"notes":      s.Notes,
		},
		"status":    string(o.Status),
		"createdAt": ServerTimestamp,
		"updatedAt": ServerTimestamp,
	}
}

func OrderFromDoc(doc Doc) Order {
	raw := doc.Data
	o := Order{
		ID:          doc.ID,
		UserID:      AsString(raw["userId"]),
		TotalAmount: AsFloat(raw["totalAmount"]),
		Status:      OrderStatus(AsString(raw["status"])),
		CreatedAt:   AsTime(raw["createdAt"]),
		UpdatedAt:   AsTime(raw["updatedAt"]),
	}
	for _, m := range AsMaps(raw["items"]) {
		o.Items = append(o.Items, OrderItem{
			ProductID: AsString(m["productId"]),
			Name:      AsString(m["name"]),
			Price:     AsFloat(m["price"]),
			Quantity:  AsInt(m["quantity"]),
			Size:      AsString(m["size"]),
			Color:     AsString(m["color"]),
			Image:     AsString(m["image"]),
		})
	}
	if s := AsMap(raw["shipping"]); s != nil {
		o.Shipping = Shipping{
			FullName:   AsString(s["fullName"]),
			Email:      AsString(s["email"]),
			Phone:      AsString(s["phone"]),
			Address:    AsString(s["address"]),
			City:       AsString(s["city"]),
			State:      AsString(s["state"]),
			PostalCode: AsString(s["postalCode"]),
			Country:    AsString(s["country"]),
			Notes:      AsString(s["notes"]),
		}
	}
	return o
}

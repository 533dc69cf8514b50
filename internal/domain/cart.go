package domain

type CartItem struct {
	Product  Product `json:"product"`
	Quantity int     `json:"quantity"`
	Size     string  `json:"size"`
	Color    *Color  `json:"color,omitempty"`
}

func (it CartItem) ColorCode() string {
	if it.Color == nil {
		return ""
	}
	return it.Color.Code
}

// Matches reports whether the item has the identity key (productID, size, colorCode).
func (it CartItem) Matches(productID, size, colorCode string) bool {
	return it.Product.ID == productID && it.Size == size && it.ColorCode() == colorCode
}

// ToOrderItem flattens the cart line into an order snapshot.
func (it CartItem) ToOrderItem() OrderItem {
	oi := OrderItem{
		ProductID: it.Product.ID,
		Name:      it.Product.Name,
		Price:     it.Product.Price,
		Quantity:  it.Quantity,
		Size:      it.Size,
		Image:     it.Product.Image,
	}
	if it.Color != nil {
		oi.Color = it.Color.Name
	}
	return oi
}

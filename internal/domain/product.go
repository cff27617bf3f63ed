package domain

// Product is a point-in-time snapshot of the catalog attributes a cart line
// needs for display and validation. It may go stale relative to the catalog
// between refreshes; quantities are re-clamped against it whenever a line is
// touched rather than pre-validated.
type Product struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Slug           string `json:"slug"`
	Price          int64  `json:"price"`
	CompareAtPrice *int64 `json:"compare_at_price,omitempty"`
	ImageURL       string `json:"image_url,omitempty"`
	Stock          int    `json:"stock"`
}

// InStock reports whether the product has any purchasable stock.
func (p Product) InStock() bool {
	return p.Stock > 0
}

// DiscountPercent returns the rounded discount against the compare-at price,
// or 0 when there is no compare-at price or it is not an actual markdown.
func (p Product) DiscountPercent() int {
	if p.CompareAtPrice == nil || *p.CompareAtPrice <= p.Price || *p.CompareAtPrice == 0 {
		return 0
	}
	return int(float64(*p.CompareAtPrice-p.Price)/float64(*p.CompareAtPrice)*100 + 0.5)
}

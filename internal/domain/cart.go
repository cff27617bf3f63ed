package domain

import "time"

// State describes the lifecycle phase of a user's cart.
type State string

const (
	// StateUnauthenticated means no identity is bound; the cart is empty and
	// all mutations are rejected with a sign-in-required error.
	StateUnauthenticated State = "unauthenticated"
	// StateLoading means a reconciliation with the remote store is in flight.
	// Previously loaded lines, if any, remain visible.
	StateLoading State = "loading"
	// StateReady means lines reflect the last successful reconciliation plus
	// any locally applied mutations that have not failed.
	StateReady State = "ready"
)

// CartRow is a bare (user, product, quantity) row as persisted by the remote
// cart store, before enrichment with a product snapshot.
type CartRow struct {
	UserID    string    `json:"user_id"`
	ProductID string    `json:"product_id"`
	Quantity  int       `json:"quantity"`
	AddedAt   time.Time `json:"added_at"`
}

// CartLine is one product's entry in a cart: the persisted quantity joined
// with the product snapshot captured at load or refresh time.
type CartLine struct {
	ProductID string    `json:"product_id"`
	Quantity  int       `json:"quantity"`
	Product   Product   `json:"product"`
	AddedAt   time.Time `json:"added_at"`
}

// Subtotal returns the line total in cents.
func (l CartLine) Subtotal() int64 {
	return l.Product.Price * int64(l.Quantity)
}

// Cart is the read view handed to the presentation layer: lines in insertion
// order plus totals derived from them. Totals are always recomputed from the
// line set, never cached, so they cannot drift.
type Cart struct {
	UserID     string     `json:"user_id,omitempty"`
	State      State      `json:"state"`
	Lines      []CartLine `json:"lines"`
	TotalItems int        `json:"total_items"`
	TotalPrice int64      `json:"total_price"`
	Summary    Summary    `json:"summary"`
}

// Shipping pricing in cents: orders at or above the threshold ship free.
const (
	FreeShippingThreshold = 100_00
	ShippingCost          = 9_99
)

// Summary is the order-summary block shown next to the cart: subtotal,
// shipping, grand total, and how far the user is from free shipping.
type Summary struct {
	Subtotal                 int64 `json:"subtotal"`
	ShippingCost             int64 `json:"shipping_cost"`
	Total                    int64 `json:"total"`
	RemainingForFreeShipping int64 `json:"remaining_for_free_shipping"`
}

// NewSummary derives the order summary for the given subtotal. An empty cart
// has a zero summary; shipping is only charged when there is something to ship.
func NewSummary(subtotal int64) Summary {
	if subtotal <= 0 {
		return Summary{}
	}

	s := Summary{Subtotal: subtotal}
	if subtotal >= FreeShippingThreshold {
		s.Total = subtotal
	} else {
		s.ShippingCost = ShippingCost
		s.Total = subtotal + ShippingCost
		s.RemainingForFreeShipping = FreeShippingThreshold - subtotal
	}
	return s
}

// TotalItems sums quantities across the given lines.
func TotalItems(lines []CartLine) int {
	var n int
	for _, l := range lines {
		n += l.Quantity
	}
	return n
}

// TotalPrice sums line subtotals across the given lines, in cents.
func TotalPrice(lines []CartLine) int64 {
	var total int64
	for _, l := range lines {
		total += l.Subtotal()
	}
	return total
}

// ClampQuantity forces a requested quantity into the valid range [1, stock].
// Stock discovered to be below 1 mid-session is degenerate: the line is kept
// at quantity 1 so it stays visible and removable instead of silently
// vanishing from the cart.
func ClampQuantity(quantity, stock int) int {
	if stock < 1 {
		return 1
	}
	if quantity < 1 {
		return 1
	}
	if quantity > stock {
		return stock
	}
	return quantity
}

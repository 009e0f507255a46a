package domain

// TimeInForce selects how long an order may rest on the book.
type TimeInForce string

const (
	// FillOrKill executes completely and immediately or not at all.
	FillOrKill TimeInForce = "FOK"
	// GoodTilCancelled rests on the book until filled or cancelled.
	GoodTilCancelled TimeInForce = "GTC"
)

// Fill is the outcome of a filled order.
type Fill struct {
	OrderID string
	Shares  float64
	Price   float64
}

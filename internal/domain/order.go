package domain

import "time"

// Order is an inbound purchase notification from the commerce platform.
// Delivery is at-least-once, so processing must be idempotent per OrderID.
type Order struct {
	OrderID       string          `json:"order_id"`
	DiscountCodes []OrderDiscount `json:"discount_codes"`
	Total         float64         `json:"total"`
	LineItems     []LineItem      `json:"line_items,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// OrderDiscount is one redeemed discount on an order.
type OrderDiscount struct {
	Code   string  `json:"code"`
	Amount float64 `json:"amount"`
}

package domain

import (
	"time"
)

// SubscriberStatus is the contactability of a subscriber. Unsubscribed and
// invalid are terminal.
type SubscriberStatus string

const (
	StatusActive       SubscriberStatus = "active"
	StatusUnsubscribed SubscriberStatus = "unsubscribed"
	StatusBounced      SubscriberStatus = "bounced"
	StatusInvalid      SubscriberStatus = "invalid"
)

// MessageStatus tracks an outbound message through the transport's lifecycle.
// Delivery-status updates arrive out-of-band via webhook.
type MessageStatus string

const (
	MessagePending     MessageStatus = "pending"
	MessageQueued      MessageStatus = "queued"
	MessageSent        MessageStatus = "sent"
	MessageDelivered   MessageStatus = "delivered"
	MessageFailed      MessageStatus = "failed"
	MessageUndelivered MessageStatus = "undelivered"
)

// Subscriber is one contact-channel identity and all of its campaign state.
// Phone is unique across the store.
type Subscriber struct {
	ID     string           `json:"id"`
	Phone  string           `json:"phone"`
	Status SubscriberStatus `json:"status"`

	FirstMessageSent   bool          `json:"first_message_sent"`
	FirstMessageStatus MessageStatus `json:"first_message_status"`
	FirstMessageAt     *time.Time    `json:"first_message_at,omitempty"`
	FirstMessageID     *string       `json:"first_message_id,omitempty"`

	// RecoverySent doubles as the dispatch lock: it transitions false->true
	// exactly once, via the claim manager's conditional update.
	RecoverySent         bool          `json:"recovery_sent"`
	RecoveryState        RecoveryState `json:"recovery_state"`
	RecoveryAt           *time.Time    `json:"recovery_at,omitempty"`
	RecoveryStatus       MessageStatus `json:"recovery_status,omitempty"`
	RecoveryScheduledFor *time.Time    `json:"recovery_scheduled_for,omitempty"`
	RecoveryError        *string       `json:"recovery_error,omitempty"`
	RecoveryMessageID    *string       `json:"recovery_message_id,omitempty"`

	PrimaryCode  *IncentiveCode `json:"primary_code,omitempty"`
	RecoveryCode *IncentiveCode `json:"recovery_code,omitempty"`

	Converted     bool            `json:"converted"`
	ConvertedWith CodeNamespace   `json:"converted_with,omitempty"`
	Conversion    *ConversionData `json:"conversion,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Contactable reports whether the subscriber may still receive messages.
func (s *Subscriber) Contactable() bool {
	return s.Status == StatusActive
}

// ConversionData records the purchase that closed the loop for a subscriber.
type ConversionData struct {
	OrderID              string     `json:"order_id"`
	OrderTotal           float64    `json:"order_total"`
	DiscountAmount       float64    `json:"discount_amount"`
	MatchedCode          string     `json:"matched_code"`
	LineItems            []LineItem `json:"line_items,omitempty"`
	ConvertedAt          time.Time  `json:"converted_at"`
	TimeToConvertMinutes int        `json:"time_to_convert_minutes"`
}

// LineItem is one purchased product on a converting order. Only a bounded
// number is persisted per conversion.
type LineItem struct {
	Title    string  `json:"title"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
}

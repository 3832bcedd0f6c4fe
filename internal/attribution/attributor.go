package attribution

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmflores/sms-recovery-pipeline/internal/domain"
	"github.com/jmflores/sms-recovery-pipeline/internal/engine"
)

// maxLineItems bounds how many products are persisted per conversion.
const maxLineItems = 10

// SubscriberLookup is the slice of the store attribution reads and writes.
type SubscriberLookup interface {
	FindByCode(ctx context.Context, ns domain.CodeNamespace, code string) (*domain.Subscriber, error)
	// MarkConverted must be conditional on converted=false and report
	// whether this call performed the write.
	MarkConverted(ctx context.Context, id string, with domain.CodeNamespace, data domain.ConversionData) (bool, error)
}

// Deduper suppresses repeat deliveries of the same order before any store
// round-trips. Optional fast path; the converted flag remains the durable
// idempotency guard.
type Deduper interface {
	FirstSeen(ctx context.Context, orderID string) bool
}

// CodeOutcome explains what happened to one redeemed code on an order.
type CodeOutcome string

const (
	OutcomeConverted        CodeOutcome = "converted"
	OutcomeUnmatched        CodeOutcome = "unmatched"
	OutcomeForeign          CodeOutcome = "foreign"
	OutcomeAlreadyConverted CodeOutcome = "already_converted"
)

// Result is the per-order attribution report.
type Result struct {
	OrderID   string
	Duplicate bool
	Outcomes  map[string]CodeOutcome
}

// Attributor closes the loop between a dispatched message and a completed
// purchase. Invoked once per inbound purchase notification; delivery is
// at-least-once, so every path through Attribute is idempotent.
type Attributor struct {
	store  SubscriberLookup
	dedup  Deduper
	clock  engine.Clock
	logger *slog.Logger
}

func NewAttributor(store SubscriberLookup, dedup Deduper, clock engine.Clock, logger *slog.Logger) *Attributor {
	return &Attributor{store: store, dedup: dedup, clock: clock, logger: logger}
}

// Attribute matches each redeemed code on the order back to the subscriber
// and message that produced it. Codes are processed independently; the first
// matching, not-yet-converted code per namespace wins. Exactly one subscriber
// write happens per winning code; unmatched and already-converted codes are
// no-ops.
func (a *Attributor) Attribute(ctx context.Context, order domain.Order) (Result, error) {
	result := Result{
		OrderID:  order.OrderID,
		Outcomes: make(map[string]CodeOutcome, len(order.DiscountCodes)),
	}

	if a.dedup != nil && !a.dedup.FirstSeen(ctx, order.OrderID) {
		result.Duplicate = true
		return result, nil
	}

	for _, dc := range order.DiscountCodes {
		ns := domain.ClassifyCode(dc.Code)
		if ns == "" {
			// Not every code on an order is ours.
			result.Outcomes[dc.Code] = OutcomeForeign
			continue
		}

		sub, err := a.store.FindByCode(ctx, ns, dc.Code)
		if err != nil {
			return result, fmt.Errorf("looking up code %s: %w", dc.Code, err)
		}
		if sub == nil {
			result.Outcomes[dc.Code] = OutcomeUnmatched
			continue
		}
		if sub.Converted {
			// Duplicate webhook delivery or a second code on the order;
			// never double-count revenue or overwrite the original match.
			result.Outcomes[dc.Code] = OutcomeAlreadyConverted
			continue
		}

		data := a.buildConversion(order, dc, sub, ns)
		wrote, err := a.store.MarkConverted(ctx, sub.ID, ns, data)
		if err != nil {
			return result, fmt.Errorf("recording conversion for %s: %w", sub.ID, err)
		}
		if !wrote {
			// Lost the race to a concurrent delivery of the same event.
			result.Outcomes[dc.Code] = OutcomeAlreadyConverted
			continue
		}

		result.Outcomes[dc.Code] = OutcomeConverted
		a.logger.Info("conversion attributed",
			"subscriber_id", sub.ID,
			"order_id", order.OrderID,
			"namespace", ns,
			"code", dc.Code,
			"order_total", order.Total,
			"minutes_to_convert", data.TimeToConvertMinutes,
		)
	}

	return result, nil
}

func (a *Attributor) buildConversion(order domain.Order, dc domain.OrderDiscount, sub *domain.Subscriber, ns domain.CodeNamespace) domain.ConversionData {
	orderedAt := order.CreatedAt
	if orderedAt.IsZero() {
		orderedAt = a.clock.Now()
	}

	items := order.LineItems
	if len(items) > maxLineItems {
		items = items[:maxLineItems]
	}

	return domain.ConversionData{
		OrderID:              order.OrderID,
		OrderTotal:           order.Total,
		DiscountAmount:       dc.Amount,
		MatchedCode:          dc.Code,
		LineItems:            items,
		ConvertedAt:          orderedAt,
		TimeToConvertMinutes: minutesToConvert(sub, ns, orderedAt),
	}
}

// minutesToConvert measures order time minus message-sent time, falling back
// to the subscriber's creation time when the message timestamp is missing.
func minutesToConvert(sub *domain.Subscriber, ns domain.CodeNamespace, orderedAt time.Time) int {
	var sentAt *time.Time
	switch ns {
	case domain.NamespaceRecovery:
		sentAt = sub.RecoveryAt
	case domain.NamespacePrimary:
		sentAt = sub.FirstMessageAt
	}
	if sentAt == nil {
		sentAt = &sub.CreatedAt
	}

	minutes := int(orderedAt.Sub(*sentAt).Minutes())
	if minutes < 0 {
		return 0
	}
	return minutes
}

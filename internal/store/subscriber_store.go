package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/jmflores/sms-recovery-pipeline/internal/domain"
)

// ErrDuplicatePhone means a subscriber with this phone already exists; the
// phone column carries the store's uniqueness invariant.
var ErrDuplicatePhone = errors.New("phone already subscribed")

const subscriberColumns = `
	id, phone, status,
	first_message_sent, first_message_status, first_message_at, first_message_id,
	recovery_state, recovery_sent, recovery_at, recovery_status,
	recovery_scheduled_for, recovery_error, recovery_message_id,
	primary_code, primary_percent, primary_expires_at, primary_discount_id,
	recovery_code, recovery_percent, recovery_expires_at, recovery_discount_id,
	converted, converted_with,
	conversion_order_id, conversion_total, conversion_discount, conversion_code,
	conversion_line_items, converted_at, time_to_convert_minutes,
	created_at, updated_at`

func scanSubscriber(row pgx.Row) (*domain.Subscriber, error) {
	var (
		sub             domain.Subscriber
		recoveryStatus  *string
		convertedWith   *string
		primaryCode     *string
		primaryPercent  *int
		primaryExpires  *time.Time
		primaryExtID    *string
		recoveryCode    *string
		recoveryPercent *int
		recoveryExpires *time.Time
		recoveryExtID   *string
		orderID         *string
		orderTotal      *float64
		discountAmount  *float64
		matchedCode     *string
		lineItemsJSON   []byte
		convertedAt     *time.Time
		ttcMinutes      *int
	)

	err := row.Scan(
		&sub.ID, &sub.Phone, &sub.Status,
		&sub.FirstMessageSent, &sub.FirstMessageStatus, &sub.FirstMessageAt, &sub.FirstMessageID,
		&sub.RecoveryState, &sub.RecoverySent, &sub.RecoveryAt, &recoveryStatus,
		&sub.RecoveryScheduledFor, &sub.RecoveryError, &sub.RecoveryMessageID,
		&primaryCode, &primaryPercent, &primaryExpires, &primaryExtID,
		&recoveryCode, &recoveryPercent, &recoveryExpires, &recoveryExtID,
		&sub.Converted, &convertedWith,
		&orderID, &orderTotal, &discountAmount, &matchedCode,
		&lineItemsJSON, &convertedAt, &ttcMinutes,
		&sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if recoveryStatus != nil {
		sub.RecoveryStatus = domain.MessageStatus(*recoveryStatus)
	}
	if convertedWith != nil {
		sub.ConvertedWith = domain.CodeNamespace(*convertedWith)
	}
	if primaryCode != nil {
		sub.PrimaryCode = &domain.IncentiveCode{Code: *primaryCode, ExpiresAt: primaryExpires}
		if primaryPercent != nil {
			sub.PrimaryCode.Percent = *primaryPercent
		}
		if primaryExtID != nil {
			sub.PrimaryCode.ExternalID = *primaryExtID
		}
	}
	if recoveryCode != nil {
		sub.RecoveryCode = &domain.IncentiveCode{Code: *recoveryCode, ExpiresAt: recoveryExpires}
		if recoveryPercent != nil {
			sub.RecoveryCode.Percent = *recoveryPercent
		}
		if recoveryExtID != nil {
			sub.RecoveryCode.ExternalID = *recoveryExtID
		}
	}
	if orderID != nil && convertedAt != nil {
		conv := domain.ConversionData{
			OrderID:     *orderID,
			ConvertedAt: *convertedAt,
		}
		if orderTotal != nil {
			conv.OrderTotal = *orderTotal
		}
		if discountAmount != nil {
			conv.DiscountAmount = *discountAmount
		}
		if matchedCode != nil {
			conv.MatchedCode = *matchedCode
		}
		if ttcMinutes != nil {
			conv.TimeToConvertMinutes = *ttcMinutes
		}
		if len(lineItemsJSON) > 0 {
			_ = json.Unmarshal(lineItemsJSON, &conv.LineItems)
		}
		sub.Conversion = &conv
	}

	return &sub, nil
}

// CreateSubscriber inserts a new subscriber on first contact.
func (s *PostgresStore) CreateSubscriber(ctx context.Context, phone string) (*domain.Subscriber, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO subscribers (phone)
		VALUES ($1)
		RETURNING `+subscriberColumns,
		phone)

	sub, err := scanSubscriber(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrDuplicatePhone
		}
		return nil, fmt.Errorf("inserting subscriber: %w", err)
	}
	return sub, nil
}

func (s *PostgresStore) GetSubscriber(ctx context.Context, id string) (*domain.Subscriber, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+subscriberColumns+` FROM subscribers WHERE id = $1`, id)

	sub, err := scanSubscriber(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying subscriber: %w", err)
	}
	return sub, nil
}

// FindSchedulingEligible returns subscribers whose recovery should be
// scheduled: active, unconverted, unclaimed, first message delivered inside
// [oldest, newest], and no dispatch instant chosen yet. Oldest first.
func (s *PostgresStore) FindSchedulingEligible(ctx context.Context, oldest, newest time.Time, limit int) ([]domain.Subscriber, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+subscriberColumns+`
		FROM subscribers
		WHERE status = 'active'
		  AND converted = FALSE
		  AND recovery_sent = FALSE
		  AND recovery_scheduled_for IS NULL
		  AND first_message_status = 'delivered'
		  AND first_message_at BETWEEN $1 AND $2
		ORDER BY first_message_at ASC
		LIMIT $3
	`, oldest, newest, limit)
	if err != nil {
		return nil, fmt.Errorf("querying scheduling-eligible subscribers: %w", err)
	}
	defer rows.Close()

	return collectSubscribers(rows)
}

// FindDispatchReady returns subscribers whose scheduled instant has passed.
func (s *PostgresStore) FindDispatchReady(ctx context.Context, now time.Time, limit int) ([]domain.Subscriber, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+subscriberColumns+`
		FROM subscribers
		WHERE status = 'active'
		  AND converted = FALSE
		  AND recovery_sent = FALSE
		  AND recovery_scheduled_for IS NOT NULL
		  AND recovery_scheduled_for <= $1
		ORDER BY recovery_scheduled_for ASC
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("querying dispatch-ready subscribers: %w", err)
	}
	defer rows.Close()

	return collectSubscribers(rows)
}

func collectSubscribers(rows pgx.Rows) ([]domain.Subscriber, error) {
	var subs []domain.Subscriber
	for rows.Next() {
		sub, err := scanSubscriber(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning subscriber: %w", err)
		}
		subs = append(subs, *sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating subscribers: %w", err)
	}
	return subs, nil
}

// ScheduleRecovery stamps the dispatch instant, but only on a record that has
// none yet and is still eligible. Returns false when the conditional update
// matched nothing.
func (s *PostgresStore) ScheduleRecovery(ctx context.Context, id string, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE subscribers
		SET recovery_scheduled_for = $2,
		    recovery_state = 'scheduled',
		    updated_at = NOW()
		WHERE id = $1
		  AND recovery_scheduled_for IS NULL
		  AND recovery_sent = FALSE
		  AND converted = FALSE
		  AND status = 'active'
	`, id, at)
	if err != nil {
		return false, fmt.Errorf("scheduling recovery for %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ClaimRecovery is the single atomic check-and-set that enforces at-most-once
// dispatch. The WHERE clause is the entire locking protocol: the row flips
// recovery_sent false->true only if it is still unclaimed, unconverted and
// active, in one statement. Returns nil when another worker won the race or
// the record became ineligible.
func (s *PostgresStore) ClaimRecovery(ctx context.Context, id string, at time.Time) (*domain.Subscriber, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE subscribers
		SET recovery_sent = TRUE,
		    recovery_state = 'claimed',
		    recovery_at = $2,
		    updated_at = NOW()
		WHERE id = $1
		  AND recovery_sent = FALSE
		  AND converted = FALSE
		  AND status = 'active'
		RETURNING `+subscriberColumns,
		id, at)

	sub, err := scanSubscriber(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("claiming subscriber %s: %w", id, err)
	}
	return sub, nil
}

// UnlockRecovery reverses a claim after code issuance failed. The record
// keeps its scheduled instant, so the next dispatch cycle picks it up again.
// Last-writer-wins against a concurrent fresh claim is acceptable: only the
// owning worker calls this.
func (s *PostgresStore) UnlockRecovery(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE subscribers
		SET recovery_sent = FALSE,
		    recovery_state = 'scheduled',
		    recovery_at = NULL,
		    recovery_code = NULL,
		    recovery_percent = NULL,
		    recovery_expires_at = NULL,
		    recovery_discount_id = NULL,
		    updated_at = NOW()
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("unlocking subscriber %s: %w", id, err)
	}
	return nil
}

// SaveRecoveryCode attaches the issued code to the claimed record.
func (s *PostgresStore) SaveRecoveryCode(ctx context.Context, id string, code domain.IncentiveCode) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE subscribers
		SET recovery_code = $2,
		    recovery_percent = $3,
		    recovery_expires_at = $4,
		    recovery_discount_id = $5,
		    updated_at = NOW()
		WHERE id = $1 AND recovery_sent = TRUE
	`, id, code.Code, code.Percent, code.ExpiresAt, code.ExternalID)
	if err != nil {
		return fmt.Errorf("saving recovery code for %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("saving recovery code for %s: record not claimed", id)
	}
	return nil
}

// MarkDispatchOutcome records the transport's verdict. On failure the record
// stays locked (recovery_sent remains true): a message may have partially
// gone out, so only an explicit resend decision re-arms it.
func (s *PostgresStore) MarkDispatchOutcome(ctx context.Context, id string, status domain.MessageStatus, messageID, errMsg string) error {
	state := domain.RecoverySentState
	if status == domain.MessageFailed {
		state = domain.RecoveryFailedState
	}

	var msgID, errText *string
	if messageID != "" {
		msgID = &messageID
	}
	if errMsg != "" {
		errText = &errMsg
	}

	_, err := s.pool.Exec(ctx, `
		UPDATE subscribers
		SET recovery_status = $2,
		    recovery_state = $3,
		    recovery_message_id = $4,
		    recovery_error = $5,
		    updated_at = NOW()
		WHERE id = $1 AND recovery_sent = TRUE
	`, id, status, state, msgID, errText)
	if err != nil {
		return fmt.Errorf("recording dispatch outcome for %s: %w", id, err)
	}
	return nil
}

// ResendFailedRecovery re-arms a transport-failed record for another dispatch
// cycle. This is the explicit operator decision path; nothing else clears a
// failed lock. Returns false when the record is not in a failed state.
func (s *PostgresStore) ResendFailedRecovery(ctx context.Context, id string, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE subscribers
		SET recovery_sent = FALSE,
		    recovery_state = 'scheduled',
		    recovery_status = NULL,
		    recovery_error = NULL,
		    recovery_at = NULL,
		    recovery_scheduled_for = $2,
		    updated_at = NOW()
		WHERE id = $1
		  AND recovery_sent = TRUE
		  AND recovery_status = 'failed'
		  AND converted = FALSE
		  AND status = 'active'
	`, id, at)
	if err != nil {
		return false, fmt.Errorf("re-arming subscriber %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkFirstMessage records the welcome send and its incentive code.
func (s *PostgresStore) MarkFirstMessage(ctx context.Context, id string, code domain.IncentiveCode, status domain.MessageStatus, messageID string, at time.Time) error {
	var msgID *string
	if messageID != "" {
		msgID = &messageID
	}

	_, err := s.pool.Exec(ctx, `
		UPDATE subscribers
		SET first_message_sent = TRUE,
		    first_message_status = $2,
		    first_message_at = $3,
		    first_message_id = $4,
		    primary_code = $5,
		    primary_percent = $6,
		    primary_expires_at = $7,
		    primary_discount_id = $8,
		    updated_at = NOW()
		WHERE id = $1
	`, id, status, at, msgID, code.Code, code.Percent, code.ExpiresAt, code.ExternalID)
	if err != nil {
		return fmt.Errorf("recording first message for %s: %w", id, err)
	}
	return nil
}

// CodeExists checks a candidate against both namespaces: a recovery code
// must not collide with any primary code either.
func (s *PostgresStore) CodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM subscribers
			WHERE primary_code = $1 OR recovery_code = $1
		)
	`, code).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking code existence: %w", err)
	}
	return exists, nil
}

// FindByCode returns the subscriber owning a code in the given namespace.
func (s *PostgresStore) FindByCode(ctx context.Context, ns domain.CodeNamespace, code string) (*domain.Subscriber, error) {
	column := "primary_code"
	if ns == domain.NamespaceRecovery {
		column = "recovery_code"
	}

	row := s.pool.QueryRow(ctx,
		`SELECT `+subscriberColumns+` FROM subscribers WHERE `+column+` = $1`, code)

	sub, err := scanSubscriber(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying subscriber by code: %w", err)
	}
	return sub, nil
}

// MarkConverted writes the conversion exactly once: the converted flag in the
// WHERE clause is the per-record idempotency token, so a replayed purchase
// event matches zero rows. Returns false for the no-op case.
func (s *PostgresStore) MarkConverted(ctx context.Context, id string, with domain.CodeNamespace, data domain.ConversionData) (bool, error) {
	lineItems, err := json.Marshal(data.LineItems)
	if err != nil {
		return false, fmt.Errorf("marshaling line items: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE subscribers
		SET converted = TRUE,
		    converted_with = $2,
		    conversion_order_id = $3,
		    conversion_total = $4,
		    conversion_discount = $5,
		    conversion_code = $6,
		    conversion_line_items = $7,
		    converted_at = $8,
		    time_to_convert_minutes = $9,
		    updated_at = NOW()
		WHERE id = $1 AND converted = FALSE
	`, id, with, data.OrderID, data.OrderTotal, data.DiscountAmount,
		data.MatchedCode, lineItems, data.ConvertedAt, data.TimeToConvertMinutes)
	if err != nil {
		return false, fmt.Errorf("recording conversion for %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// UpdateDeliveryStatus applies an out-of-band transport status callback to
// whichever message the id belongs to.
func (s *PostgresStore) UpdateDeliveryStatus(ctx context.Context, messageID string, status domain.MessageStatus) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE subscribers
		SET first_message_status = CASE WHEN first_message_id = $1 THEN $2 ELSE first_message_status END,
		    recovery_status = CASE WHEN recovery_message_id = $1 THEN $2 ELSE recovery_status END,
		    updated_at = NOW()
		WHERE first_message_id = $1 OR recovery_message_id = $1
	`, messageID, status)
	if err != nil {
		return false, fmt.Errorf("updating delivery status for %s: %w", messageID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// Unsubscribe is a terminal status transition, never a delete.
func (s *PostgresStore) Unsubscribe(ctx context.Context, phone string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE subscribers
		SET status = 'unsubscribed', updated_at = NOW()
		WHERE phone = $1 AND status NOT IN ('unsubscribed', 'invalid')
	`, phone)
	if err != nil {
		return false, fmt.Errorf("unsubscribing %s: %w", phone, err)
	}
	return tag.RowsAffected() == 1, nil
}

package store

import (
	"context"
	"fmt"
)

// RecoveryFunnel holds the read-only aggregations consumed by reporting.
type RecoveryFunnel struct {
	ActiveSubscribers  int     `json:"active_subscribers"`
	FirstDelivered     int     `json:"first_delivered"`
	RecoveryScheduled  int     `json:"recovery_scheduled"`
	RecoverySent       int     `json:"recovery_sent"`
	RecoveryFailed     int     `json:"recovery_failed"`
	Converted          int     `json:"converted"`
	ConvertedPrimary   int     `json:"converted_primary"`
	ConvertedRecovery  int     `json:"converted_recovery"`
	RecoveryRevenue    float64 `json:"recovery_revenue"`
	TotalRevenue       float64 `json:"total_revenue"`
	AvgMinutesToConvert float64 `json:"avg_minutes_to_convert"`
	ConversionRate     float64 `json:"conversion_rate"`
}

// GetRecoveryFunnel aggregates the pipeline's state into one report row.
func (s *PostgresStore) GetRecoveryFunnel(ctx context.Context) (*RecoveryFunnel, error) {
	var f RecoveryFunnel

	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'active') AS active,
			COUNT(*) FILTER (WHERE first_message_status = 'delivered') AS first_delivered,
			COUNT(*) FILTER (WHERE recovery_scheduled_for IS NOT NULL) AS scheduled,
			COUNT(*) FILTER (WHERE recovery_status = 'sent') AS recovery_sent,
			COUNT(*) FILTER (WHERE recovery_status = 'failed') AS recovery_failed,
			COUNT(*) FILTER (WHERE converted) AS converted,
			COUNT(*) FILTER (WHERE converted_with = 'primary') AS conv_primary,
			COUNT(*) FILTER (WHERE converted_with = 'recovery') AS conv_recovery,
			COALESCE(SUM(conversion_total) FILTER (WHERE converted_with = 'recovery'), 0) AS recovery_revenue,
			COALESCE(SUM(conversion_total) FILTER (WHERE converted), 0) AS total_revenue,
			COALESCE(AVG(time_to_convert_minutes) FILTER (WHERE converted), 0) AS avg_ttc
		FROM subscribers
	`).Scan(
		&f.ActiveSubscribers, &f.FirstDelivered, &f.RecoveryScheduled,
		&f.RecoverySent, &f.RecoveryFailed,
		&f.Converted, &f.ConvertedPrimary, &f.ConvertedRecovery,
		&f.RecoveryRevenue, &f.TotalRevenue, &f.AvgMinutesToConvert,
	)
	if err != nil {
		return nil, fmt.Errorf("querying recovery funnel: %w", err)
	}

	if f.RecoverySent > 0 {
		f.ConversionRate = float64(f.ConvertedRecovery) / float64(f.RecoverySent) * 100
	}

	return &f, nil
}

package codes

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/jmflores/sms-recovery-pipeline/internal/discount"
	"github.com/jmflores/sms-recovery-pipeline/internal/domain"
	"github.com/jmflores/sms-recovery-pipeline/internal/engine"
)

// Registrar registers a generated code with the external discount system.
type Registrar interface {
	CreateCode(ctx context.Context, req discount.CreateCodeRequest) (discount.CreateCodeResult, error)
}

// Issuer mints an incentive code: collision-free generation, then external
// registration with a short urgency expiration. The percent is drawn
// uniformly from [percentMin, percentMax]; the spread doubles as an A/B
// assignment.
type Issuer struct {
	gen        *Generator
	registrar  Registrar
	percentMin int
	percentMax int
	ttl        time.Duration
	clock      engine.Clock
	logger     *slog.Logger
}

func NewIssuer(gen *Generator, registrar Registrar, percentMin, percentMax int, ttl time.Duration, clock engine.Clock, logger *slog.Logger) *Issuer {
	return &Issuer{
		gen:        gen,
		registrar:  registrar,
		percentMin: percentMin,
		percentMax: percentMax,
		ttl:        ttl,
		clock:      clock,
		logger:     logger,
	}
}

// Issue generates and registers a code. On registration failure the error
// propagates; the caller owns the subscriber's claim and must unlock it
// rather than leave a record marked sent with no live code behind it.
func (i *Issuer) Issue(ctx context.Context) (domain.IncentiveCode, error) {
	code, err := i.gen.Generate(ctx)
	if err != nil {
		return domain.IncentiveCode{}, err
	}

	percent := i.percentMin
	if spread := i.percentMax - i.percentMin; spread > 0 {
		percent += rand.Intn(spread + 1)
	}

	now := i.clock.Now()
	expiresAt := now.Add(i.ttl)

	result, err := i.registrar.CreateCode(ctx, discount.CreateCodeRequest{
		Code:      code,
		Percent:   percent,
		StartsAt:  now,
		EndsAt:    expiresAt,
		SingleUse: true,
	})
	if err != nil {
		return domain.IncentiveCode{}, fmt.Errorf("registering code %s: %w", code, err)
	}

	i.logger.Info("incentive code issued",
		"code", code,
		"percent", percent,
		"expires_at", expiresAt,
	)

	return domain.IncentiveCode{
		Code:       code,
		Percent:    percent,
		ExpiresAt:  &expiresAt,
		ExternalID: result.ID,
	}, nil
}

// Package paygate implements the payment gateway boundary used when a
// learner confirms a payment with a verification code.
//
// The gateway checks the code's structure only and throttles repeated
// attempts per enrollment. Settlement with a card network is handled by
// the external payment provider and is not modelled here.
package paygate

import (
	"context"
	"fmt"

	"github.com/learnpath/learnpath-core/internal/domain/payment"
	"github.com/learnpath/learnpath-core/internal/domain/shared"
	"github.com/learnpath/learnpath-core/pkg/logger"
	"github.com/learnpath/learnpath-core/pkg/timeutil"
)

// Config contains configuration for the Gateway.
type Config struct {
	RateLimiter RateLimiterConfig
	Clock       timeutil.Clock
	Logger      *logger.Logger
}

// Gateway verifies payment confirmation codes.
type Gateway struct {
	limiter *RateLimiter
	logger  *logger.Logger
}

// NewGateway creates a gateway.
func NewGateway(cfg Config) *Gateway {
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	return &Gateway{
		limiter: NewRateLimiter(cfg.RateLimiter, cfg.Clock),
		logger:  cfg.Logger.Named("paygate"),
	}
}

// Verify checks code for attempt.
//
// A malformed code fails with kind ErrVerificationFailed. Too many
// attempts in a short window fail with ErrRateLimited and leave the
// attempt untouched.
func (g *Gateway) Verify(ctx context.Context, attempt *payment.Attempt, code string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if attempt == nil {
		return shared.NewDomainError("payment", "Verify", shared.ErrInvalidInput, "attempt is required")
	}

	if ok, wait := g.limiter.TryAllow(attempt.EnrollmentID); !ok {
		g.logger.Warn("verification throttled",
			logger.EnrollmentID(attempt.EnrollmentID),
			logger.Duration("retry_after", wait),
		)
		return shared.WrapError("payment", "Verify", shared.ErrRateLimited,
			fmt.Sprintf("too many verification attempts, retry after %s", wait), nil)
	}

	if err := payment.ValidateCodeShape(code); err != nil {
		return shared.WrapError("payment", "Verify", shared.ErrVerificationFailed, "code rejected", err)
	}

	g.limiter.Reset(attempt.EnrollmentID)
	g.logger.Debug("code accepted",
		logger.EnrollmentID(attempt.EnrollmentID),
		logger.String("method", string(attempt.Method)),
	)
	return nil
}

var _ payment.Gateway = (*Gateway)(nil)

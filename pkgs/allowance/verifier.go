// Package allowance verifies that a LINK approval has propagated before the
// submit protocol moves on. Wallet-bundled RPC providers can serve a stale
// zero allowance for several seconds after the approval confirms, so each
// attempt queries every configured provider over a fresh connection.
package allowance

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	log "github.com/sirupsen/logrus"

	"github.com/verdikta/verdikta-applications-sub001/pkgs/metrics"
)

// CheckFunc reads allowance(owner, spender) from one provider. Implementations
// must not reuse connections between calls.
type CheckFunc func(ctx context.Context, owner, spender common.Address) (*big.Int, error)

// Verifier polls a set of providers until one observes the required
// allowance.
type Verifier struct {
	checks      []CheckFunc
	interval    time.Duration
	maxAttempts int
}

// NewVerifier creates a verifier over the given provider checks.
func NewVerifier(checks []CheckFunc, interval time.Duration, maxAttempts int) *Verifier {
	if interval <= 0 {
		interval = time.Second
	}
	if maxAttempts <= 0 {
		maxAttempts = 15
	}
	return &Verifier{checks: checks, interval: interval, maxAttempts: maxAttempts}
}

// Wait blocks until any provider reports allowance(owner, spender) >= required,
// returning true on success and false once attempts are exhausted. A false
// result is advisory: RPC caches produce false negatives, so callers proceed
// and let the contract be the judge.
func (v *Verifier) Wait(ctx context.Context, owner, spender common.Address, required *big.Int) bool {
	start := time.Now()

	for attempt := 1; attempt <= v.maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return false
		default:
		}

		for i, check := range v.checks {
			observed, err := check(ctx, owner, spender)
			if err != nil {
				log.Debugf("Allowance check on provider %d failed: %v", i, err)
				continue
			}
			if observed.Cmp(required) >= 0 {
				log.WithFields(log.Fields{
					"attempt":  attempt,
					"observed": observed.String(),
					"required": required.String(),
				}).Info("✅ Allowance verified")
				metrics.AllowanceVerifyDuration.Observe(time.Since(start).Seconds())
				return true
			}
			log.Debugf("Provider %d reports allowance %s < required %s (attempt %d/%d)",
				i, observed.String(), required.String(), attempt, v.maxAttempts)
		}

		if attempt < v.maxAttempts {
			select {
			case <-ctx.Done():
				return false
			case <-time.After(v.interval):
			}
		}
	}

	log.WithFields(log.Fields{
		"owner":    owner.Hex(),
		"spender":  spender.Hex(),
		"required": required.String(),
	}).Warn("⚠️ Allowance not observed within the verification window; proceeding anyway")
	return false
}

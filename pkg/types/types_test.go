package types

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTierIncludes(t *testing.T) {
	assert.True(t, TierEnterprise.Includes(TierFree))
	assert.True(t, TierStandard.Includes(TierStandard))
	assert.False(t, TierFree.Includes(TierProfessional))
	assert.True(t, TierProfessional.Includes(TierStandard))
}

func TestTierValid(t *testing.T) {
	assert.True(t, TierFree.Valid())
	assert.True(t, TierEnterprise.Valid())
	assert.False(t, Tier("platinum").Valid())
}

func TestExecutionStatusTerminal(t *testing.T) {
	assert.False(t, ExecPending.Terminal())
	assert.False(t, ExecRunning.Terminal())
	assert.False(t, ExecWaitingApproval.Terminal())
	assert.True(t, ExecCompleted.Terminal())
	assert.True(t, ExecFailed.Terminal())
	assert.True(t, ExecCancelled.Terminal())
}

func TestBillingPeriod(t *testing.T) {
	at := time.Date(2024, 3, 15, 23, 30, 0, 0, time.FixedZone("CET", 3600))
	assert.Equal(t, "2024-03", BillingPeriod(at))

	// Local time past midnight still lands in the UTC month.
	at = time.Date(2024, 4, 1, 0, 30, 0, 0, time.FixedZone("CEST", 2*3600))
	assert.Equal(t, "2024-03", BillingPeriod(at))
}

func TestNextMonthStart(t *testing.T) {
	at := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), NextMonthStart(at))

	// December rolls over the year.
	at = time.Date(2024, 12, 31, 23, 59, 59, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), NextMonthStart(at))
}

func TestQuotaExceededError(t *testing.T) {
	resetAt := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	err := &QuotaExceededError{Remaining: 200, Limit: 100000, ResetAt: resetAt}

	assert.True(t, IsQuotaExceeded(err))
	assert.True(t, IsQuotaExceeded(fmt.Errorf("call failed: %w", err)))
	assert.False(t, IsQuotaExceeded(errors.New("other")))
	assert.Contains(t, err.Error(), "200")

	var qe *QuotaExceededError
	assert.True(t, errors.As(fmt.Errorf("wrap: %w", err), &qe))
	assert.Equal(t, int64(100000), qe.Limit)
}

func TestMissingInputError(t *testing.T) {
	err := &MissingInputError{Field: "customer_name"}
	assert.True(t, IsMissingInput(err))
	assert.Contains(t, err.Error(), "customer_name")
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(ErrRateLimit))
	assert.True(t, Retryable(ErrUpstream))
	assert.True(t, Retryable(ErrTimeout))
	assert.False(t, Retryable(ErrAuth))
	assert.False(t, Retryable(ErrConfig))
	assert.False(t, Retryable(nil))
}

func TestTenantUnlimited(t *testing.T) {
	assert.True(t, (&Tenant{MonthlyTokenLimit: 0}).Unlimited())
	assert.False(t, (&Tenant{MonthlyTokenLimit: 100000}).Unlimited())
}

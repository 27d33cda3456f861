package chain

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvaluationScorePercentConversion(t *testing.T) {
	result := &EvaluationResult{
		Ready:      true,
		Acceptance: big.NewInt(880_000),
		Rejection:  big.NewInt(120_000),
	}

	assert.InDelta(t, 88.0, result.AcceptancePercent(), 0.0001)
	assert.InDelta(t, 12.0, result.RejectionPercent(), 0.0001)
}

func TestEvaluationPercentNilScores(t *testing.T) {
	result := &EvaluationResult{Ready: false}

	assert.Zero(t, result.AcceptancePercent())
	assert.Zero(t, result.RejectionPercent())
}

func TestDefaultPrepareParams(t *testing.T) {
	params := DefaultPrepareParams("judge the attached benchmark results")

	assert.Equal(t, uint64(500), params.Alpha)
	assert.Equal(t, big.NewInt(3_000_000_000_000_000), params.MaxOracleFee)
	assert.Equal(t, big.NewInt(1_000_000_000_000_000), params.EstimatedBaseCost)
	assert.Equal(t, uint64(3), params.MaxFeeBasedScaling)
	assert.Equal(t, "judge the attached benchmark results", params.Addendum)
}

func TestBountyStatusStrings(t *testing.T) {
	assert.Equal(t, "OPEN", BountyOpen.String())
	assert.Equal(t, "EXPIRED", BountyExpired.String())
	assert.Equal(t, "AWARDED", BountyAwarded.String())
	assert.Equal(t, "CLOSED", BountyClosed.String())
	assert.Equal(t, "UNKNOWN", BountyStatus(9).String())
}

func TestSubmissionHasAggregation(t *testing.T) {
	sub := &SubmissionInfo{}
	assert.False(t, sub.HasAggregation())

	sub.VerdiktaAggID = [32]byte{0x01}
	assert.True(t, sub.HasAggregation())
}

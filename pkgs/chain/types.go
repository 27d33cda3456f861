package chain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// BountyStatus mirrors the escrow contract's status enum.
type BountyStatus uint8

const (
	BountyOpen BountyStatus = iota
	BountyExpired
	BountyAwarded
	BountyClosed
)

func (s BountyStatus) String() string {
	switch s {
	case BountyOpen:
		return "OPEN"
	case BountyExpired:
		return "EXPIRED"
	case BountyAwarded:
		return "AWARDED"
	case BountyClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Submission status codes on the escrow contract.
const (
	SubmissionCodePrepared uint8 = iota
	SubmissionCodePendingVerdikta
	SubmissionCodePassed
	SubmissionCodeFailed
	SubmissionCodeCancelled
)

// BountyInfo is the full on-chain view of a bounty.
type BountyInfo struct {
	ID                  uint64
	Creator             common.Address
	EvaluationCid       string
	ClassID             uint64
	Threshold           uint8
	PayoutWei           *big.Int
	CreatedAt           uint64
	SubmissionCloseTime uint64
	Status              BountyStatus
	Winner              common.Address
	SubmissionCount     uint64
}

// SubmissionInfo is the on-chain view of a single submission.
type SubmissionInfo struct {
	BountyID      uint64
	ID            uint64
	Hunter        common.Address
	HunterCid     string
	EvalWallet    common.Address
	LinkMaxBudget *big.Int
	VerdiktaAggID [32]byte
	StatusCode    uint8
	SubmittedAt   uint64
}

// HasAggregation reports whether the submission reached the oracle.
func (s *SubmissionInfo) HasAggregation() bool {
	return s.VerdiktaAggID != [32]byte{}
}

// PrepareParams are the oracle-budget arguments to prepareSubmission.
type PrepareParams struct {
	Addendum           string
	Alpha              uint64
	MaxOracleFee       *big.Int
	EstimatedBaseCost  *big.Int
	MaxFeeBasedScaling uint64
}

// DefaultPrepareParams returns the stock oracle budget: alpha 500,
// 0.003 LINK max fee, 0.001 LINK estimated base cost, 3x fee scaling.
func DefaultPrepareParams(addendum string) PrepareParams {
	return PrepareParams{
		Addendum:           addendum,
		Alpha:              500,
		MaxOracleFee:       big.NewInt(3_000_000_000_000_000),
		EstimatedBaseCost:  big.NewInt(1_000_000_000_000_000),
		MaxFeeBasedScaling: 3,
	}
}

// PrepareResult is the tuple returned by prepareSubmission.
type PrepareResult struct {
	SubmissionID  uint64
	EvalWallet    common.Address
	LinkMaxBudget *big.Int
	TxHash        common.Hash
	BlockNumber   uint64
}

// TxResult holds the receipt-level outcome of a confirmed write.
type TxResult struct {
	TxHash      common.Hash
	BlockNumber uint64
	GasUsed     uint64
}

// CreateResult is the outcome of createBounty including the id recovered
// from the BountyCreated log.
type CreateResult struct {
	TxResult
	BountyID uint64
}

// StartResult is the outcome of startPreparedSubmission including the
// aggregation id emitted in WorkSubmitted.
type StartResult struct {
	TxResult
	VerdiktaAggID [32]byte
}

// scoreScale converts fixed-point oracle scores (0..1,000,000) to percent.
const scoreScale = 10_000

// EvaluationResult is the oracle aggregator's view of a finished evaluation.
type EvaluationResult struct {
	Ready             bool
	Acceptance        *big.Int
	Rejection         *big.Int
	JustificationCids []string
}

// AcceptancePercent converts the fixed-point acceptance score to a percent,
// e.g. 880000 -> 88.0.
func (r *EvaluationResult) AcceptancePercent() float64 {
	if r.Acceptance == nil {
		return 0
	}
	return float64(r.Acceptance.Int64()) / scoreScale
}

// RejectionPercent converts the fixed-point rejection score to a percent.
func (r *EvaluationResult) RejectionPercent() float64 {
	if r.Rejection == nil {
		return 0
	}
	return float64(r.Rejection.Int64()) / scoreScale
}

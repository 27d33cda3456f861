package backend

import (
	"fmt"
	"time"
)

// Job is the backend's record of a bounty listing.
type Job struct {
	ID                 int64      `json:"id"`
	Title              string     `json:"title"`
	Description        string     `json:"description,omitempty"`
	Status             string     `json:"status"`
	BountyID           *uint64    `json:"bountyId,omitempty"`
	CreatorAddress     string     `json:"creatorAddress"`
	ChainID            uint64     `json:"chainId"`
	EvaluationCid      string     `json:"evaluationCid"`
	PayoutWei          string     `json:"payoutWei"`
	Threshold          uint8      `json:"threshold"`
	SubmissionDeadline time.Time  `json:"submissionDeadline"`
	TxHash             string     `json:"txHash,omitempty"`
	CreatedAt          time.Time  `json:"createdAt"`
	Submissions        []Submission `json:"submissions,omitempty"`
	JuryNodes          []JuryNode   `json:"juryNodes,omitempty"`
}

// HasBountyID reports whether the on-chain id has been persisted.
func (j *Job) HasBountyID() bool {
	return j.BountyID != nil
}

// Submission is the backend's record of a hunter submission on a job.
type Submission struct {
	ID                int64      `json:"id"`
	JobID             int64      `json:"jobId"`
	SubmissionID      *uint64    `json:"submissionId,omitempty"`
	HunterAddress     string     `json:"hunterAddress"`
	HunterCid         string     `json:"hunterCid,omitempty"`
	Status            string     `json:"status"`
	VerdiktaAggID     string     `json:"verdiktaAggId,omitempty"`
	TxHash            string     `json:"txHash,omitempty"`
	Narrative         string     `json:"submissionNarrative,omitempty"`
	AcceptancePercent *float64   `json:"acceptancePercent,omitempty"`
	RejectionPercent  *float64   `json:"rejectionPercent,omitempty"`
	JustificationCids []string   `json:"justificationCids,omitempty"`
	SubmittedAt       *time.Time `json:"submittedAt,omitempty"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

// CreateJobRequest is the payload for registering a new bounty listing.
type CreateJobRequest struct {
	Title              string           `json:"title"`
	Description        string           `json:"description,omitempty"`
	CreatorAddress     string           `json:"creatorAddress"`
	ChainID            uint64           `json:"chainId"`
	EvaluationCid      string           `json:"evaluationCid"`
	PayoutWei          string           `json:"payoutWei"`
	Threshold          uint8            `json:"threshold"`
	SubmissionDeadline time.Time        `json:"submissionDeadline"`
	Rubric             *Rubric          `json:"rubric,omitempty"`
	JuryNodes          []JuryNode       `json:"juryNodes,omitempty"`
}

// JuryNode is one arbiter model in the evaluation jury, weighted into the
// aggregate verdict.
type JuryNode struct {
	Provider string  `json:"provider"`
	Model    string  `json:"model"`
	Weight   float64 `json:"weight"`
	Runs     int     `json:"runs,omitempty"`
}

// BountyRecord carries the on-chain coordinates persisted after the create
// transaction confirms.
type BountyRecord struct {
	BountyID    uint64 `json:"bountyId"`
	TxHash      string `json:"txHash,omitempty"`
	BlockNumber uint64 `json:"blockNumber,omitempty"`
}

// ResolveRequest is the fingerprint the backend matches against its indexer
// when asked to recover a job's on-chain id.
type ResolveRequest struct {
	Creator             string `json:"creator"`
	EvaluationCid       string `json:"evaluationCid,omitempty"`
	SubmissionCloseTime int64  `json:"submissionCloseTime"`
	TxHash              string `json:"txHash,omitempty"`
}

// Rubric is the weighted evaluation criteria attached to a job.
type Rubric struct {
	Criteria []RubricCriterion `json:"criteria"`
}

type RubricCriterion struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
	Detail string  `json:"detail,omitempty"`
}

// FeeEstimate is the backend's oracle fee projection for an evaluation.
type FeeEstimate struct {
	MaxTotalFeeWei    string `json:"maxTotalFeeWei"`
	BaseFeeWei        string `json:"baseFeeWei"`
	RecommendedBudget string `json:"recommendedBudgetWei"`
}

// ValidationResult reports backend-side validation of a submission archive.
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Problems []string `json:"problems,omitempty"`
}

// ListFilter narrows the job listing.
type ListFilter struct {
	Status             string
	Search             string
	MinPayout          string // wei, decimal string
	WorkProductType    string
	MinHoursLeft       int
	MinBountyUSD       float64
	ExcludeSubmittedBy string // hunter address whose jobs are filtered out
	ClassID            *uint64
	Creator            string
	Hunter             string
	ChainID            uint64
}

// APIError is a non-2xx backend response.
type APIError struct {
	StatusCode int
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("backend: %s (status %d)", e.Message, e.StatusCode)
	}
	return fmt.Sprintf("backend: unexpected status %d", e.StatusCode)
}

// IsNotFound reports whether err is a backend 404.
func IsNotFound(err error) bool {
	apiErr, ok := err.(*APIError)
	return ok && apiErr.StatusCode == 404
}

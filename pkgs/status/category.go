// Package status owns the submission status vocabulary and the
// reconciliation rules that merge backend, on-chain, and deadline-derived
// signals into one effective view.
package status

import "strings"

// Backend status labels. The backend grew several spellings for the same
// outcome over time; Categorize is the single place that flattens them.
const (
	Prepared                    = "Prepared"
	PendingVerdikta             = "PendingVerdikta"
	PendingEvaluation           = "PENDING_EVALUATION"
	Passed                      = "PASSED"
	PassedPaid                  = "PASSED_PAID"
	Approved                    = "APPROVED"
	Accepted                    = "ACCEPTED"
	AcceptedPendingClaim        = "ACCEPTED_PENDING_CLAIM"
	Failed                      = "Failed"
	Rejected                    = "REJECTED"
	RejectedPendingFinalization = "REJECTED_PENDING_FINALIZATION"
	Cancelled                   = "Cancelled"
)

// Category is the canonical outcome class of a submission.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryPending
	CategorySuccess
	CategoryFailure
)

func (c Category) String() string {
	switch c {
	case CategoryPending:
		return "pending"
	case CategorySuccess:
		return "success"
	case CategoryFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// Terminal reports whether the category can never change again.
func (c Category) Terminal() bool {
	return c == CategorySuccess || c == CategoryFailure
}

// Categorize maps any raw status label to its category. It is total:
// unrecognized labels come back as CategoryUnknown, never an error.
func Categorize(label string) Category {
	switch strings.ToUpper(strings.TrimSpace(label)) {
	case "PREPARED", "PENDINGVERDIKTA", "PENDING_EVALUATION":
		return CategoryPending
	case "PASSED", "PASSED_PAID", "APPROVED", "ACCEPTED", "ACCEPTED_PENDING_CLAIM":
		return CategorySuccess
	case "FAILED", "REJECTED", "REJECTED_PENDING_FINALIZATION", "CANCELLED":
		return CategoryFailure
	default:
		return CategoryUnknown
	}
}

// IsOnChain reports whether the submission exists on the escrow contract.
// A Prepared submission is backend-only until startPreparedSubmission runs.
func IsOnChain(label string) bool {
	return Categorize(label) != CategoryUnknown &&
		!strings.EqualFold(strings.TrimSpace(label), Prepared)
}

// IsOnChainPending reports whether the submission is on-chain and still in
// its evaluation window.
func IsOnChainPending(label string) bool {
	return IsOnChain(label) && Categorize(label) == CategoryPending
}

// FromChainCode maps an escrow submission status code to the canonical label.
func FromChainCode(code uint8) string {
	switch code {
	case 0:
		return Prepared
	case 1:
		return PendingVerdikta
	case 2:
		return Passed
	case 3:
		return Failed
	case 4:
		return Cancelled
	default:
		return ""
	}
}

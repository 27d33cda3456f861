package chain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/verdikta/verdikta-applications-sub001/pkgs/wallet"
)

// Sentinel errors surfaced by the chain gateway. Callers branch on these with
// errors.Is; everything else is a transport problem and retriable per policy.
var (
	ErrWalletMissing         = errors.New("wallet not configured")
	ErrChainMismatch         = errors.New("contract is deployed on a different network")
	ErrUserRejected          = errors.New("transaction rejected by wallet")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrAllowanceInsufficient = errors.New("LINK allowance insufficient")
	ErrNoEventFound          = errors.New("expected event not found in receipt")
)

// RevertError carries the raw revert reason plus the human message for the
// known reasons. Unknown reverts keep Message empty and surface Reason raw.
type RevertError struct {
	Reason  string
	Message string
}

func (e *RevertError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("contract reverted: %s", e.Reason)
}

// revertMessages maps the escrow contract's revert strings to user-facing
// messages. Reasons not in this table are surfaced raw.
var revertMessages = map[string]string{
	"No ETH value":             "the bounty must be funded with an ETH payout",
	"Empty evaluation CID":     "the evaluation package CID is empty",
	"Threshold out of range":   "acceptance threshold must be between 0 and 100",
	"Deadline in past":         "the submission deadline is already in the past",
	"Evaluation CID mismatch":  "the evaluation CID does not match the bounty",
	"Bounty not open":          "the bounty is no longer open for submissions",
	"Deadline not reached":     "the bounty deadline has not passed yet",
	"Not ready":                "the oracle has not produced a result yet",
	"Too early to fail":        "the submission has not timed out yet",
	"Pending evaluation":       "a submission is still being evaluated",
	"Submission not pending":   "the submission is not pending evaluation",
	"Insufficient allowance":   "LINK allowance did not cover the oracle budget",
}

// MapTxError classifies an error from a dry-run or send into the gateway's
// taxonomy. Revert reasons are extracted from the several shapes RPC nodes
// return them in.
func MapTxError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, wallet.ErrRejected) {
		return ErrUserRejected
	}

	msg := err.Error()
	lower := strings.ToLower(msg)

	switch {
	case strings.Contains(lower, "user denied"), strings.Contains(lower, "user rejected"):
		return ErrUserRejected
	case strings.Contains(lower, "insufficient funds"), strings.Contains(lower, "insufficient balance"):
		return ErrInsufficientBalance
	}

	if reason, ok := extractRevertReason(msg); ok {
		if strings.Contains(strings.ToLower(reason), "allowance") {
			return fmt.Errorf("%w: %s", ErrAllowanceInsufficient, reason)
		}
		return &RevertError{Reason: reason, Message: revertMessages[reason]}
	}

	return err
}

// extractRevertReason pulls the reason string out of an RPC error message.
func extractRevertReason(msg string) (string, bool) {
	markers := []string{
		"execution reverted: ",
		"execution reverted with reason string '",
		"reverted: ",
	}
	for _, marker := range markers {
		if idx := strings.Index(msg, marker); idx >= 0 {
			reason := msg[idx+len(marker):]
			reason = strings.TrimSuffix(reason, "'")
			if end := strings.IndexAny(reason, "\n"); end >= 0 {
				reason = reason[:end]
			}
			reason = strings.TrimSpace(reason)
			if reason != "" {
				return reason, true
			}
		}
	}
	if strings.Contains(msg, "execution reverted") {
		return "execution reverted", true
	}
	return "", false
}

// IsRevert reports whether err is a contract revert with the given reason.
func IsRevert(err error, reason string) bool {
	var revert *RevertError
	if errors.As(err, &revert) {
		return revert.Reason == reason
	}
	return false
}

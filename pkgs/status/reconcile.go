package status

import (
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/verdikta/verdikta-applications-sub001/pkgs/chain"
	"github.com/verdikta/verdikta-applications-sub001/pkgs/metrics"
)

// Source identifies which signal produced the effective bounty status.
type Source string

const (
	SourceBackend  Source = "backend"
	SourceChain    Source = "chain"
	SourceDeadline Source = "deadline"
)

// BountyView is the reconciled status of a bounty, with provenance.
type BountyView struct {
	Status         string
	Source         Source
	OverrideReason string
}

// Overridden reports whether the effective status disagrees with the backend.
func (v BountyView) Overridden() bool {
	return v.Source != SourceBackend
}

// ReconcileBounty merges the backend's recorded bounty status with the live
// on-chain status and the deadline clock. Rules apply in order:
//
//  1. If the chain read succeeded and the chain status differs from the
//     backend's, the chain wins.
//  2. If the bounty reads OPEN but the submission deadline has passed, it is
//     effectively EXPIRED even though nothing on chain has moved yet.
//  3. Otherwise the backend status stands.
//
// chainOK is false when the on-chain read failed; rule 1 is skipped then so a
// flaky RPC never masks backend state.
func ReconcileBounty(backendStatus string, chainStatus chain.BountyStatus, chainOK bool, deadline time.Time, now time.Time) BountyView {
	backendStatus = strings.ToUpper(strings.TrimSpace(backendStatus))

	if chainOK && chainStatus.String() != backendStatus {
		view := BountyView{
			Status:         chainStatus.String(),
			Source:         SourceChain,
			OverrideReason: "on-chain status differs from backend",
		}
		noteOverride(backendStatus, view)
		return view
	}

	effective := backendStatus
	if chainOK {
		effective = chainStatus.String()
	}

	if effective == chain.BountyOpen.String() && !deadline.IsZero() && now.After(deadline) {
		view := BountyView{
			Status:         chain.BountyExpired.String(),
			Source:         SourceDeadline,
			OverrideReason: "deadline passed, backend not yet synced",
		}
		noteOverride(backendStatus, view)
		return view
	}

	return BountyView{Status: effective, Source: SourceBackend}
}

func noteOverride(backendStatus string, view BountyView) {
	metrics.StatusOverrides.WithLabelValues(string(view.Source)).Inc()
	log.WithFields(log.Fields{
		"backendStatus": backendStatus,
		"effective":     view.Status,
		"reason":        view.OverrideReason,
	}).Debug("🔀 Bounty status overridden")
}

// IsActivelyPending reports whether a submission still demands attention
// given the bounty's effective status. While the bounty is open a Prepared
// submission counts too, since the hunter may yet start it. Once the bounty
// is effectively EXPIRED only on-chain pending submissions matter: Prepared
// work never reached the chain and cannot block closing.
func IsActivelyPending(label string, bountyEffective string) bool {
	if IsOnChainPending(label) {
		return true
	}
	if strings.EqualFold(strings.TrimSpace(bountyEffective), chain.BountyExpired.String()) {
		return false
	}
	return Categorize(label) == CategoryPending
}

// ForceFailDelay is how long a submission must sit unevaluated before
// failTimedOutSubmission becomes eligible.
const ForceFailDelay = 10 * time.Minute

// CanForceFail reports whether the force-fail action may be offered for a
// submission: it must be on-chain, pending, and stale past ForceFailDelay.
func CanForceFail(label string, submittedAt time.Time, now time.Time) bool {
	if !IsOnChainPending(label) {
		return false
	}
	if submittedAt.IsZero() {
		return false
	}
	return now.Sub(submittedAt) >= ForceFailDelay
}

// CanFinalize reports whether a finalize action may be offered: the
// submission is on-chain pending and no poll loop currently holds its lease.
func CanFinalize(label string, leaseActive bool) bool {
	return IsOnChainPending(label) && !leaseActive
}

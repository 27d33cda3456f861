package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/verdikta/verdikta-applications-sub001/pkgs/chain"
	"github.com/verdikta/verdikta-applications-sub001/pkgs/events"
)

// CloseResult reports the outcome of a close-expired flow.
type CloseResult struct {
	TxHash      string
	Finalized   int  // submissions finalized during pre-close sweep
	SyncPending bool // true when the backend had not caught up in time
}

// CloseExpired winds down a bounty whose deadline passed without a winner.
// The escrow refuses to close while any submission is mid-evaluation, so the
// flow first sweeps pending submissions and finalizes the ones whose
// evaluations concluded. Individual finalize failures are logged and the
// sweep continues: a submission stuck in evaluation will make the close
// revert with a clear reason rather than silently losing funds.
func (o *Orchestrator) CloseExpired(ctx context.Context, jobID int64, bountyID uint64) (*CloseResult, error) {
	bounty, err := o.escrow.GetBounty(ctx, bountyID)
	if err != nil {
		return nil, fmt.Errorf("failed to read bounty %d: %w", bountyID, err)
	}
	if bounty.Status == chain.BountyClosed || bounty.Status == chain.BountyAwarded {
		return nil, fmt.Errorf("bounty %d is already settled (%s)", bountyID, bounty.Status)
	}
	if time.Now().Unix() < int64(bounty.SubmissionCloseTime) {
		return nil, fmt.Errorf("bounty %d deadline has not passed yet", bountyID)
	}

	finalized := o.sweepPending(ctx, bounty)
	if finalized > 0 {
		// Give the node a moment to reflect the finalize receipts before
		// the close dry run re-checks the pending count.
		select {
		case <-time.After(o.cfg.SettleDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	tx, err := o.escrow.CloseExpiredBounty(ctx, bountyID)
	if err != nil {
		return nil, fmt.Errorf("closeExpiredBounty failed: %w", err)
	}

	log.WithFields(log.Fields{
		"jobID":    jobID,
		"bountyID": bountyID,
		"txHash":   tx.TxHash.Hex(),
	}).Info("🔒 Expired bounty closed, payout refunded")

	if err := o.backend.CloseJob(ctx, jobID); err != nil {
		log.WithError(err).WithField("jobID", jobID).Warn("Failed to mark job closed on backend")
	}

	result := &CloseResult{TxHash: tx.TxHash.Hex(), Finalized: finalized}
	result.SyncPending = !o.waitForSync(ctx, jobID)

	if o.emitter != nil {
		event, eventErr := events.NewEvent(events.EventBountyClosed, events.SeverityInfo, "orchestrator", &events.BountyEventPayload{
			JobID:    jobID,
			BountyID: bountyID,
		})
		if eventErr == nil {
			event.JobID = jobID
			_ = o.emitter.Emit(event)
		}
	}
	if o.cache != nil {
		o.cache.PublishJobViewChanged(ctx, jobID)
	}

	return result, nil
}

// sweepPending finalizes every submission on the bounty whose evaluation
// concluded. Failures are warned and skipped.
func (o *Orchestrator) sweepPending(ctx context.Context, bounty *chain.BountyInfo) int {
	finalized := 0
	for submissionID := uint64(0); submissionID < bounty.SubmissionCount; submissionID++ {
		sub, err := o.escrow.GetSubmission(ctx, bounty.ID, submissionID)
		if err != nil {
			log.WithError(err).WithFields(log.Fields{
				"bountyID":     bounty.ID,
				"submissionID": submissionID,
			}).Warn("Failed to read submission during close sweep")
			continue
		}
		if sub.StatusCode != chain.SubmissionCodePendingVerdikta {
			continue
		}

		if _, err := o.escrow.FinalizeSubmission(ctx, bounty.ID, submissionID); err != nil {
			// "Not ready" just means the oracle is still working; the
			// close transaction will report it if it blocks the close.
			log.WithError(err).WithFields(log.Fields{
				"bountyID":     bounty.ID,
				"submissionID": submissionID,
			}).Warn("Pre-close finalize failed, continuing sweep")
			continue
		}
		finalized++
	}
	return finalized
}

// waitForSync polls the backend until the job reads as settled, returning
// false when the poll times out. The close succeeded either way; a slow
// backend just means the UI shows "sync pending" a little longer.
func (o *Orchestrator) waitForSync(ctx context.Context, jobID int64) bool {
	deadline := time.Now().Add(o.cfg.SyncPollTimeout)
	for time.Now().Before(deadline) {
		select {
		case <-time.After(o.cfg.SyncPollInterval):
		case <-ctx.Done():
			return false
		}

		job, err := o.backend.GetJob(ctx, jobID, false)
		if err != nil {
			log.WithError(err).WithField("jobID", jobID).Debug("Sync poll read failed")
			continue
		}
		if strings.EqualFold(job.Status, chain.BountyClosed.String()) {
			return true
		}
	}

	log.WithField("jobID", jobID).Warn("Backend did not reflect the close in time, sync pending")
	return false
}

package coordinator

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/verdikta/verdikta-applications-sub001/pkgs/backend"
	"github.com/verdikta/verdikta-applications-sub001/pkgs/chain"
	"github.com/verdikta/verdikta-applications-sub001/pkgs/events"
	"github.com/verdikta/verdikta-applications-sub001/pkgs/poller"
	"github.com/verdikta/verdikta-applications-sub001/pkgs/status"
)

// FinalizeRequest identifies a pending submission to settle.
type FinalizeRequest struct {
	JobID        int64
	RecordID     int64
	BountyID     uint64
	SubmissionID uint64
}

// FinalizeResult is the settled outcome of a submission.
type FinalizeResult struct {
	Evaluation *chain.EvaluationResult
	Passed     bool
	TxHash     string
}

// evalResultTTL bounds how long a settled evaluation stays cached.
const evalResultTTL = 24 * time.Hour

// Finalize polls the oracle aggregator until the evaluation concludes, then
// sends finalizeSubmission and syncs the outcome to the backend. The poll
// holds the submission's lease; a second Finalize against the same
// submission fails immediately with poller.ErrAlreadyHeld.
func (c *Coordinator) Finalize(ctx context.Context, req FinalizeRequest) (*FinalizeResult, error) {
	lease, err := c.leases.Acquire(poller.SubmissionKey(req.JobID, req.SubmissionID))
	if err != nil {
		return nil, err
	}
	defer lease.Release()

	sub, err := c.escrow.GetSubmission(ctx, req.BountyID, req.SubmissionID)
	if err != nil {
		return nil, fmt.Errorf("failed to read submission %d: %w", req.SubmissionID, err)
	}
	if sub.StatusCode != chain.SubmissionCodePendingVerdikta {
		return nil, fmt.Errorf("submission %d is not pending evaluation (status %s)",
			req.SubmissionID, status.FromChainCode(sub.StatusCode))
	}

	var result *chain.EvaluationResult
	found, err := poller.Poll(ctx, lease.Token(), func(pollCtx context.Context) (bool, error) {
		evaluation, checkErr := c.checkEvaluation(pollCtx, req.SubmissionID, sub.VerdiktaAggID)
		if checkErr != nil {
			return false, checkErr
		}
		if evaluation == nil || !evaluation.Ready {
			return false, nil
		}
		result = evaluation
		return true, nil
	}, poller.Options{
		Kind:        "submission",
		Interval:    c.cfg.SubmissionPollInterval,
		MaxAttempts: c.cfg.SubmissionPollAttempts,
	})
	if err != nil {
		return nil, err
	}
	if !found {
		c.emit(func(e *events.Emitter) {
			_ = e.EmitPollExhausted("coordinator", &events.PollEventPayload{
				Kind:     "submission",
				Attempts: c.cfg.SubmissionPollAttempts,
				LeaseKey: lease.Key(),
			})
		})
		// The evaluation may still conclude later; the background watcher
		// picks it up once the lease is released.
		return nil, fmt.Errorf("evaluation for submission %d not ready after %d attempts",
			req.SubmissionID, c.cfg.SubmissionPollAttempts)
	}

	tx, err := c.escrow.FinalizeSubmission(ctx, req.BountyID, req.SubmissionID)
	if err != nil {
		return nil, fmt.Errorf("finalizeSubmission failed: %w", err)
	}

	passed := result.AcceptancePercent() > result.RejectionPercent()
	c.syncOutcome(ctx, req, result, passed, tx.TxHash.Hex())

	return &FinalizeResult{Evaluation: result, Passed: passed, TxHash: tx.TxHash.Hex()}, nil
}

// checkEvaluation reads the aggregator, consulting and maintaining the
// Redis cache so a concluded evaluation survives page reloads.
func (c *Coordinator) checkEvaluation(ctx context.Context, submissionID uint64, aggID [32]byte) (*chain.EvaluationResult, error) {
	if c.cache != nil {
		cached, err := c.cache.LoadEvaluationResult(ctx, submissionID)
		if err != nil {
			log.WithError(err).Debug("Evaluation cache read failed")
		} else if cached != nil && cached.Ready {
			return cached, nil
		}
	}

	evaluation, err := c.aggregator.CheckEvaluationReady(ctx, aggID)
	if err != nil {
		return nil, err
	}
	if evaluation.Ready && c.cache != nil {
		if err := c.cache.StoreEvaluationResult(ctx, submissionID, evaluation, evalResultTTL); err != nil {
			log.WithError(err).Debug("Evaluation cache write failed")
		}
	}
	return evaluation, nil
}

// syncOutcome pushes the settled evaluation to the backend, clears the
// cache entry, and broadcasts the view change. All best-effort.
func (c *Coordinator) syncOutcome(ctx context.Context, req FinalizeRequest, result *chain.EvaluationResult, passed bool, txHash string) {
	acceptance := result.AcceptancePercent()
	rejection := result.RejectionPercent()

	outcome := status.Passed
	if !passed {
		outcome = status.Failed
	}

	if err := c.backend.PatchSubmission(ctx, req.JobID, req.RecordID, backend.UpdateSubmission{
		Status:            outcome,
		TxHash:            txHash,
		AcceptancePercent: &acceptance,
		RejectionPercent:  &rejection,
		JustificationCids: result.JustificationCids,
	}); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"jobID":        req.JobID,
			"submissionID": req.SubmissionID,
		}).Warn("Failed to sync finalized outcome to backend")
	}

	if c.cache != nil {
		if err := c.cache.ClearEvaluationResult(ctx, req.SubmissionID); err != nil {
			log.WithError(err).Debug("Failed to clear cached evaluation")
		}
		c.cache.PublishJobViewChanged(ctx, req.JobID)
	}

	log.WithFields(log.Fields{
		"jobID":        req.JobID,
		"submissionID": req.SubmissionID,
		"acceptance":   acceptance,
		"rejection":    rejection,
		"passed":       passed,
	}).Info("🏁 Submission finalized")

	c.emit(func(e *events.Emitter) {
		_ = e.EmitEvaluationReady("coordinator", &events.EvaluationEventPayload{
			JobID:             req.JobID,
			SubmissionID:      req.SubmissionID,
			AcceptancePercent: acceptance,
			RejectionPercent:  rejection,
			JustificationCids: result.JustificationCids,
		})
		_ = e.EmitSubmissionEvent(events.EventSubmissionFinalized, "coordinator", &events.SubmissionEventPayload{
			JobID:        req.JobID,
			SubmissionID: req.SubmissionID,
			Status:       outcome,
		})
	})
}

// FailTimeout force-fails a submission whose evaluation stalled. The escrow
// only accepts the call once the submission has been pending longer than the
// contract's timeout window, so the guard here is a courtesy that avoids a
// doomed wallet prompt.
func (c *Coordinator) FailTimeout(ctx context.Context, req FinalizeRequest) error {
	lease, err := c.leases.Acquire(poller.SubmissionKey(req.JobID, req.SubmissionID))
	if err != nil {
		return err
	}
	defer lease.Release()

	sub, err := c.escrow.GetSubmission(ctx, req.BountyID, req.SubmissionID)
	if err != nil {
		return fmt.Errorf("failed to read submission %d: %w", req.SubmissionID, err)
	}
	if sub.StatusCode != chain.SubmissionCodePendingVerdikta {
		return fmt.Errorf("submission %d is not pending evaluation", req.SubmissionID)
	}
	submittedAt := time.Unix(int64(sub.SubmittedAt), 0)
	if !status.CanForceFail(status.PendingVerdikta, submittedAt, time.Now()) {
		return fmt.Errorf("submission %d has not been pending long enough to force-fail", req.SubmissionID)
	}

	tx, err := c.escrow.FailTimedOutSubmission(ctx, req.BountyID, req.SubmissionID)
	if err != nil {
		return fmt.Errorf("failTimedOutSubmission failed: %w", err)
	}

	// Poll until the chain reflects the failure so the caller's next read
	// is consistent.
	_, err = poller.Poll(ctx, lease.Token(), func(pollCtx context.Context) (bool, error) {
		updated, readErr := c.escrow.GetSubmission(pollCtx, req.BountyID, req.SubmissionID)
		if readErr != nil {
			return false, readErr
		}
		return updated.StatusCode == chain.SubmissionCodeFailed, nil
	}, poller.Options{
		Kind:        "action",
		Interval:    c.cfg.ActionPollInterval,
		MaxAttempts: c.cfg.ActionPollAttempts,
	})
	if err != nil {
		return err
	}

	if err := c.backend.PatchSubmission(ctx, req.JobID, req.RecordID, backend.UpdateSubmission{
		Status: status.Failed,
		TxHash: tx.TxHash.Hex(),
	}); err != nil {
		log.WithError(err).Warn("Failed to sync force-failed submission to backend")
	}
	if c.cache != nil {
		c.cache.PublishJobViewChanged(ctx, req.JobID)
	}

	c.emit(func(e *events.Emitter) {
		_ = e.EmitSubmissionEvent(events.EventSubmissionFailed, "coordinator", &events.SubmissionEventPayload{
			JobID:        req.JobID,
			SubmissionID: req.SubmissionID,
			Status:       status.Failed,
			Reason:       "evaluation timed out",
		})
	})

	return nil
}

// Cancel withdraws a submission that was prepared but never started. Once
// startPreparedSubmission confirmed there is LINK in flight and the only
// exits are finalize or force-fail.
func (c *Coordinator) Cancel(ctx context.Context, jobID, recordID int64, bountyID uint64, submissionID *uint64) error {
	if submissionID != nil {
		sub, err := c.escrow.GetSubmission(ctx, bountyID, *submissionID)
		if err != nil {
			return fmt.Errorf("failed to read submission %d: %w", *submissionID, err)
		}
		if sub.StatusCode != chain.SubmissionCodePrepared {
			return fmt.Errorf("submission %d has already started and cannot be cancelled", *submissionID)
		}
	}

	if err := c.backend.CancelSubmission(ctx, jobID, recordID); err != nil {
		return fmt.Errorf("failed to cancel submission: %w", err)
	}
	if c.cache != nil {
		c.cache.PublishJobViewChanged(ctx, jobID)
	}

	c.emit(func(e *events.Emitter) {
		payload := &events.SubmissionEventPayload{JobID: jobID, Status: status.Cancelled}
		if submissionID != nil {
			payload.SubmissionID = *submissionID
		}
		_ = e.EmitSubmissionEvent(events.EventSubmissionCancelled, "coordinator", payload)
	})

	return nil
}

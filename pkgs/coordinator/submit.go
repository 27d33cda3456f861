package coordinator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	log "github.com/sirupsen/logrus"

	"github.com/verdikta/verdikta-applications-sub001/pkgs/backend"
	"github.com/verdikta/verdikta-applications-sub001/pkgs/chain"
	"github.com/verdikta/verdikta-applications-sub001/pkgs/events"
	"github.com/verdikta/verdikta-applications-sub001/pkgs/status"
)

const (
	// maxFiles is the per-submission file count cap.
	maxFiles = 10

	// maxFileBytes caps each uploaded file at 20 MiB.
	maxFileBytes = 20 << 20
)

// ErrBountyNotOpen rejects a submit against a bounty that is no longer
// accepting work: settled on chain, or past its deadline.
var ErrBountyNotOpen = errors.New("bounty is not open for submissions")

// allowedExtensions is the upload allow-list, lowercase with leading dot.
var allowedExtensions = map[string]bool{
	".txt": true, ".md": true, ".pdf": true,
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
	".zip": true, ".json": true, ".csv": true, ".yaml": true, ".yml": true,
	".py": true, ".js": true, ".ts": true, ".go": true, ".rs": true,
	".sol": true, ".html": true, ".css": true, ".sh": true,
	".doc": true, ".docx": true,
}

// SubmitRequest carries everything needed to submit work against a bounty.
type SubmitRequest struct {
	JobID     int64
	BountyID  uint64
	Hunter    common.Address
	Narrative string
	Addendum  string // optional extra context forwarded to the oracle
	Files     []backend.SubmissionFile
}

// SubmitResult is the outcome of a completed submit flow.
type SubmitResult struct {
	RecordID      int64
	SubmissionID  uint64
	HunterCid     string
	EvalWallet    common.Address
	VerdiktaAggID [32]byte
	Allowance     bool // false when allowance verification exhausted
}

// ValidateFiles enforces the upload constraints without touching the network.
func ValidateFiles(files []backend.SubmissionFile) error {
	if len(files) == 0 {
		return fmt.Errorf("at least one file is required")
	}
	if len(files) > maxFiles {
		return fmt.Errorf("too many files: %d (limit %d)", len(files), maxFiles)
	}

	for _, f := range files {
		if f.Name == "" {
			return fmt.Errorf("file with empty name")
		}
		ext := strings.ToLower(filepath.Ext(f.Name))
		if !allowedExtensions[ext] {
			return fmt.Errorf("file type not allowed: %s", f.Name)
		}
		if len(f.Content) > maxFileBytes {
			return fmt.Errorf("file %s too large: %d bytes (limit %d)", f.Name, len(f.Content), maxFileBytes)
		}
	}
	return nil
}

// submitLeaseKey guards the pre-chain phase so one hunter cannot run two
// concurrent submit flows against the same job.
func submitLeaseKey(jobID int64, hunter common.Address) string {
	return fmt.Sprintf("submit:%d:%s", jobID, hunter.Hex())
}

// Submit runs the full submission protocol:
//
//	upload -> prepareSubmission -> LINK approve -> allowance verify -> start
//
// The ordering is strict: the start transaction is never sent before the
// approve transaction confirmed, and the approve never before prepare. Any
// wallet rejection aborts the flow at that step; steps already completed
// (upload, prepare) are left in place so the flow can be resumed.
func (c *Coordinator) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	if err := ValidateFiles(req.Files); err != nil {
		return nil, err
	}

	lease, err := c.leases.Acquire(submitLeaseKey(req.JobID, req.Hunter))
	if err != nil {
		return nil, fmt.Errorf("a submission for job %d is already in flight: %w", req.JobID, err)
	}
	defer lease.Release()

	job, err := c.backend.GetJob(ctx, req.JobID, false)
	if err != nil {
		return nil, fmt.Errorf("failed to load job %d: %w", req.JobID, err)
	}

	// The bounty must be effectively open before anything is uploaded or
	// signed. The chain is authoritative; when it cannot be read the
	// backend status plus the deadline clock decide.
	chainStatus, chainErr := c.escrow.GetBountyStatus(ctx, req.BountyID)
	if chainErr != nil {
		log.WithError(chainErr).WithField("bountyID", req.BountyID).Warn("Bounty status read failed, falling back to backend state")
	}
	view := status.ReconcileBounty(job.Status, chainStatus, chainErr == nil, job.SubmissionDeadline, time.Now())
	if view.Status != chain.BountyOpen.String() {
		return nil, fmt.Errorf("%w: bounty %d is %s (%s)", ErrBountyNotOpen, req.BountyID, view.Status, view.Source)
	}

	// Step 1: upload the work to the backend, which bundles and pins it.
	record, err := c.backend.SubmitWork(ctx, req.JobID, req.Hunter.Hex(), req.Narrative, req.Files)
	if err != nil {
		return nil, fmt.Errorf("upload failed: %w", err)
	}

	c.emit(func(e *events.Emitter) {
		_ = e.EmitSubmissionEvent(events.EventSubmissionPrepared, "coordinator", &events.SubmissionEventPayload{
			JobID:     req.JobID,
			Hunter:    req.Hunter.Hex(),
			HunterCid: record.HunterCid,
			Status:    status.Prepared,
		})
	})

	// Step 2: prepare on chain. The escrow binds the hunter CID and
	// allocates the evaluation wallet and LINK budget.
	prep, err := c.escrow.PrepareSubmission(ctx, req.BountyID, job.EvaluationCid, record.HunterCid, chain.DefaultPrepareParams(req.Addendum))
	if err != nil {
		c.noteRejection(req, "prepareSubmission", err)
		return nil, fmt.Errorf("prepareSubmission failed: %w", err)
	}

	if err := c.backend.PatchSubmission(ctx, req.JobID, record.ID, backend.UpdateSubmission{
		Status:       status.Prepared,
		SubmissionID: &prep.SubmissionID,
		TxHash:       prep.TxHash.Hex(),
	}); err != nil {
		log.WithError(err).WithField("jobID", req.JobID).Warn("Failed to record prepared submission, continuing")
	}

	// Step 3: check the hunter can actually fund the budget before asking
	// the wallet to sign an approve.
	balance, err := c.link.BalanceOf(ctx, req.Hunter)
	if err != nil {
		log.WithError(err).Warn("LINK balance check failed, proceeding to approve")
	} else if balance.Cmp(prep.LinkMaxBudget) < 0 {
		return nil, fmt.Errorf("%w: have %s, need %s LINK wei",
			chain.ErrInsufficientBalance, balance, prep.LinkMaxBudget)
	}

	// Step 4: approve the evaluation wallet for the LINK budget.
	if _, err := c.link.Approve(ctx, prep.EvalWallet, prep.LinkMaxBudget); err != nil {
		c.noteRejection(req, "approve", err)
		return nil, fmt.Errorf("LINK approve failed: %w", err)
	}

	// Step 5: wait for the allowance to become observable. RPC providers
	// lag behind each other; an exhausted wait is logged but not fatal
	// because the start transaction's own dry run is the real gate.
	verified := c.allowances.Wait(ctx, req.Hunter, prep.EvalWallet, prep.LinkMaxBudget)
	if !verified {
		c.emit(func(e *events.Emitter) {
			event, eventErr := events.NewEvent(events.EventAllowanceUnverified, events.SeverityWarning, "coordinator", &events.PollEventPayload{
				Kind: "allowance",
			})
			if eventErr == nil {
				event.JobID = req.JobID
				_ = e.Emit(event)
			}
		})
	}

	// Step 6: start the prepared submission, which locks the work in and
	// dispatches the oracle evaluation.
	start, err := c.escrow.StartPreparedSubmission(ctx, req.BountyID, prep.SubmissionID)
	if err != nil {
		c.noteRejection(req, "startPreparedSubmission", err)
		return nil, fmt.Errorf("startPreparedSubmission failed: %w", err)
	}

	aggID := fmt.Sprintf("0x%x", start.VerdiktaAggID)
	if err := c.backend.PatchSubmission(ctx, req.JobID, record.ID, backend.UpdateSubmission{
		Status:        status.PendingVerdikta,
		VerdiktaAggID: aggID,
		TxHash:        start.TxHash.Hex(),
	}); err != nil {
		log.WithError(err).WithField("jobID", req.JobID).Warn("Failed to record started submission, continuing")
	}

	log.WithFields(log.Fields{
		"jobID":        req.JobID,
		"bountyID":     req.BountyID,
		"submissionID": prep.SubmissionID,
		"aggID":        aggID,
	}).Info("🚀 Submission started, evaluation pending")

	c.emit(func(e *events.Emitter) {
		_ = e.EmitSubmissionEvent(events.EventWorkSubmitted, "coordinator", &events.SubmissionEventPayload{
			JobID:         req.JobID,
			SubmissionID:  prep.SubmissionID,
			Hunter:        req.Hunter.Hex(),
			HunterCid:     record.HunterCid,
			Status:        status.PendingVerdikta,
			VerdiktaAggID: aggID,
			LinkMaxBudget: prep.LinkMaxBudget.String(),
		})
	})

	if c.cache != nil {
		c.cache.PublishJobViewChanged(ctx, req.JobID)
	}

	return &SubmitResult{
		RecordID:      record.ID,
		SubmissionID:  prep.SubmissionID,
		HunterCid:     record.HunterCid,
		EvalWallet:    prep.EvalWallet,
		VerdiktaAggID: start.VerdiktaAggID,
		Allowance:     verified,
	}, nil
}

// noteRejection emits a wallet rejection event when the error is one.
func (c *Coordinator) noteRejection(req SubmitRequest, action string, err error) {
	if !errors.Is(err, chain.ErrUserRejected) {
		return
	}
	c.emit(func(e *events.Emitter) {
		_ = e.EmitWalletEvent(events.EventWalletRejected, "coordinator", &events.WalletEventPayload{
			Action: action,
			Wallet: req.Hunter.Hex(),
			Reason: err.Error(),
		})
	})
}

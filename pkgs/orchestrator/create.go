// Package orchestrator runs the creator-side flows: publishing a new bounty
// and winding down an expired one.
package orchestrator

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/verdikta/verdikta-applications-sub001/pkgs/backend"
	"github.com/verdikta/verdikta-applications-sub001/pkgs/chain"
	"github.com/verdikta/verdikta-applications-sub001/pkgs/events"
	"github.com/verdikta/verdikta-applications-sub001/pkgs/redis"
)

// Escrow is the slice of the escrow client the orchestrator uses.
type Escrow interface {
	CreateBounty(ctx context.Context, evaluationCid string, classID uint64, threshold uint8, submissionDeadline uint64, payoutWei *big.Int) (*chain.CreateResult, error)
	CloseExpiredBounty(ctx context.Context, bountyID uint64) (*chain.TxResult, error)
	FinalizeSubmission(ctx context.Context, bountyID, submissionID uint64) (*chain.TxResult, error)
	GetBounty(ctx context.Context, bountyID uint64) (*chain.BountyInfo, error)
	GetSubmission(ctx context.Context, bountyID, submissionID uint64) (*chain.SubmissionInfo, error)
}

// Backend is the slice of the backend client the orchestrator uses.
type Backend interface {
	CreateJob(ctx context.Context, req backend.CreateJobRequest) (*backend.Job, error)
	PersistBountyID(ctx context.Context, jobID int64, record backend.BountyRecord) error
	CloseJob(ctx context.Context, jobID int64) error
	GetJob(ctx context.Context, jobID int64, includeDetails bool) (*backend.Job, error)
}

// Config carries the close-flow timing knobs.
type Config struct {
	SettleDelay      time.Duration // pause between last finalize and close
	SyncPollInterval time.Duration
	SyncPollTimeout  time.Duration
}

// DefaultConfig returns the stock close-flow timing.
func DefaultConfig() Config {
	return Config{
		SettleDelay:      2 * time.Second,
		SyncPollInterval: 3 * time.Second,
		SyncPollTimeout:  60 * time.Second,
	}
}

// Orchestrator runs the creator-side bounty flows.
type Orchestrator struct {
	escrow  Escrow
	backend Backend
	cache   *redis.Client   // optional
	emitter *events.Emitter // optional
	cfg     Config
}

// New creates an Orchestrator.
func New(escrow Escrow, backendClient Backend, cfg Config) *Orchestrator {
	if cfg.SyncPollInterval <= 0 {
		cfg = DefaultConfig()
	}
	return &Orchestrator{escrow: escrow, backend: backendClient, cfg: cfg}
}

// WithCache attaches a Redis cache used for view-change broadcasts.
func (o *Orchestrator) WithCache(cache *redis.Client) *Orchestrator {
	o.cache = cache
	return o
}

// WithEmitter attaches an event emitter.
func (o *Orchestrator) WithEmitter(emitter *events.Emitter) *Orchestrator {
	o.emitter = emitter
	return o
}

// CreateRequest carries everything needed to publish a bounty.
type CreateRequest struct {
	Title              string
	Description        string
	Creator            string
	ChainID            uint64
	EvaluationCid      string
	ClassID            uint64
	Threshold          uint8
	SubmissionDeadline time.Time
	PayoutWei          *big.Int
	Rubric             *backend.Rubric
	JuryNodes          []backend.JuryNode
}

// CreateResult reports the published bounty.
type CreateResult struct {
	JobID    int64
	BountyID uint64
	TxHash   string
}

// weightTolerance is the allowed drift when rubric weights should sum to 1.
const weightTolerance = 0.01

// ValidateCreate checks a create request without touching the network.
func ValidateCreate(req CreateRequest) error {
	if req.Title == "" {
		return fmt.Errorf("title is required")
	}
	if req.EvaluationCid == "" {
		return fmt.Errorf("evaluation CID is required")
	}
	if req.Threshold > 100 {
		return fmt.Errorf("threshold must be between 0 and 100, got %d", req.Threshold)
	}
	if !req.SubmissionDeadline.After(time.Now()) {
		return fmt.Errorf("submission deadline must be in the future")
	}
	if req.PayoutWei == nil || req.PayoutWei.Sign() <= 0 {
		return fmt.Errorf("payout must be positive")
	}
	if req.Rubric != nil {
		sum := 0.0
		for _, criterion := range req.Rubric.Criteria {
			if criterion.Name == "" {
				return fmt.Errorf("rubric criterion with empty name")
			}
			if criterion.Weight < 0 {
				return fmt.Errorf("rubric weight for %q is negative", criterion.Name)
			}
			sum += criterion.Weight
		}
		if math.Abs(sum-1.0) > weightTolerance {
			return fmt.Errorf("rubric weights must sum to 1.0, got %.3f", sum)
		}
	}
	if len(req.JuryNodes) > 0 {
		sum := 0.0
		for i, node := range req.JuryNodes {
			if node.Provider == "" || node.Model == "" {
				return fmt.Errorf("jury node %d needs a provider and a model", i)
			}
			if node.Weight < 0 {
				return fmt.Errorf("jury weight for %s/%s is negative", node.Provider, node.Model)
			}
			sum += node.Weight
		}
		if math.Abs(sum-1.0) > weightTolerance {
			return fmt.Errorf("jury weights must sum to 1.0, got %.3f", sum)
		}
	}
	return nil
}

// Create publishes a bounty: the listing goes to the backend first so the
// job record exists before any money moves, then the funded create
// transaction runs, and finally the on-chain id is persisted back. A failed
// persistence is non-fatal because the resolver can recover the mapping.
func (o *Orchestrator) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	if err := ValidateCreate(req); err != nil {
		return nil, err
	}

	job, err := o.backend.CreateJob(ctx, backend.CreateJobRequest{
		Title:              req.Title,
		Description:        req.Description,
		CreatorAddress:     req.Creator,
		ChainID:            req.ChainID,
		EvaluationCid:      req.EvaluationCid,
		PayoutWei:          req.PayoutWei.String(),
		Threshold:          req.Threshold,
		SubmissionDeadline: req.SubmissionDeadline,
		Rubric:             req.Rubric,
		JuryNodes:          req.JuryNodes,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register job: %w", err)
	}

	created, err := o.escrow.CreateBounty(ctx, req.EvaluationCid, req.ClassID, req.Threshold,
		uint64(req.SubmissionDeadline.Unix()), req.PayoutWei)
	if err != nil {
		// The job record stays behind as a draft; nothing on chain moved.
		return nil, fmt.Errorf("createBounty failed: %w", err)
	}

	if err := o.backend.PersistBountyID(ctx, job.ID, backend.BountyRecord{
		BountyID:    created.BountyID,
		TxHash:      created.TxHash.Hex(),
		BlockNumber: created.BlockNumber,
	}); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"jobID":    job.ID,
			"bountyID": created.BountyID,
		}).Warn("Failed to persist bounty id, resolver will recover it")
	}

	log.WithFields(log.Fields{
		"jobID":    job.ID,
		"bountyID": created.BountyID,
		"payout":   req.PayoutWei.String(),
		"deadline": req.SubmissionDeadline.UTC().Format(time.RFC3339),
	}).Info("💰 Bounty published")

	if o.emitter != nil {
		event, eventErr := events.NewEvent(events.EventBountyCreated, events.SeverityInfo, "orchestrator", &events.BountyEventPayload{
			JobID:     job.ID,
			BountyID:  created.BountyID,
			Creator:   req.Creator,
			PayoutWei: req.PayoutWei.String(),
		})
		if eventErr == nil {
			event.JobID = job.ID
			_ = o.emitter.Emit(event)
		}
	}
	if o.cache != nil {
		o.cache.PublishJobViewChanged(ctx, job.ID)
	}

	return &CreateResult{
		JobID:    job.ID,
		BountyID: created.BountyID,
		TxHash:   created.TxHash.Hex(),
	}, nil
}

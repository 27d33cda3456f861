// Package coordinator drives the submission lifecycle end to end: upload,
// on-chain prepare, LINK budget approval, start, and the polling that carries
// a submission through oracle evaluation to its final settled state.
package coordinator

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/verdikta/verdikta-applications-sub001/pkgs/backend"
	"github.com/verdikta/verdikta-applications-sub001/pkgs/chain"
	"github.com/verdikta/verdikta-applications-sub001/pkgs/events"
	"github.com/verdikta/verdikta-applications-sub001/pkgs/poller"
	"github.com/verdikta/verdikta-applications-sub001/pkgs/redis"
)

// Escrow is the slice of the escrow contract client the coordinator uses.
type Escrow interface {
	PrepareSubmission(ctx context.Context, bountyID uint64, evaluationCid, hunterCid string, params chain.PrepareParams) (*chain.PrepareResult, error)
	StartPreparedSubmission(ctx context.Context, bountyID, submissionID uint64) (*chain.StartResult, error)
	FinalizeSubmission(ctx context.Context, bountyID, submissionID uint64) (*chain.TxResult, error)
	FailTimedOutSubmission(ctx context.Context, bountyID, submissionID uint64) (*chain.TxResult, error)
	GetSubmission(ctx context.Context, bountyID, submissionID uint64) (*chain.SubmissionInfo, error)
	GetBountyStatus(ctx context.Context, bountyID uint64) (chain.BountyStatus, error)
}

// Link is the slice of the LINK token client the coordinator uses.
type Link interface {
	Approve(ctx context.Context, spender common.Address, amount *big.Int) (*chain.TxResult, error)
	BalanceOf(ctx context.Context, account common.Address) (*big.Int, error)
}

// Aggregator reads oracle evaluation results.
type Aggregator interface {
	CheckEvaluationReady(ctx context.Context, aggID [32]byte) (*chain.EvaluationResult, error)
}

// Backend is the slice of the backend client the coordinator uses.
type Backend interface {
	GetJob(ctx context.Context, jobID int64, includeDetails bool) (*backend.Job, error)
	SubmitWork(ctx context.Context, jobID int64, hunter, narrative string, files []backend.SubmissionFile) (*backend.Submission, error)
	PatchSubmission(ctx context.Context, jobID, recordID int64, update backend.UpdateSubmission) error
	CancelSubmission(ctx context.Context, jobID, recordID int64) error
}

// AllowanceWaiter blocks until an approved allowance is observable, or
// reports false when verification exhausts its attempts.
type AllowanceWaiter interface {
	Wait(ctx context.Context, owner, spender common.Address, required *big.Int) bool
}

// Config carries the timing knobs for submission polling.
type Config struct {
	ActionPollInterval     time.Duration
	ActionPollAttempts     int
	SubmissionPollInterval time.Duration
	SubmissionPollAttempts int
	ForceFailThreshold     time.Duration
}

// DefaultConfig returns the stock polling cadence.
func DefaultConfig() Config {
	return Config{
		ActionPollInterval:     3 * time.Second,
		ActionPollAttempts:     20,
		SubmissionPollInterval: 3 * time.Second,
		SubmissionPollAttempts: 40,
		ForceFailThreshold:     10 * time.Minute,
	}
}

// Coordinator owns the submission lifecycle. All chain writes for a given
// submission are serialized through its poll lease; redundant polls against
// the same submission are rejected rather than queued.
type Coordinator struct {
	escrow     Escrow
	link       Link
	aggregator Aggregator
	backend    Backend
	allowances AllowanceWaiter
	leases     *poller.LeaseRegistry
	cache      *redis.Client   // optional, nil disables caching
	emitter    *events.Emitter // optional, nil disables events
	cfg        Config
}

// New creates a Coordinator.
func New(escrow Escrow, link Link, aggregator Aggregator, backendClient Backend, allowances AllowanceWaiter, leases *poller.LeaseRegistry, cfg Config) *Coordinator {
	if cfg.ActionPollInterval <= 0 {
		cfg = DefaultConfig()
	}
	return &Coordinator{
		escrow:     escrow,
		link:       link,
		aggregator: aggregator,
		backend:    backendClient,
		allowances: allowances,
		leases:     leases,
		cfg:        cfg,
	}
}

// WithCache attaches a Redis cache for evaluation results and job views.
func (c *Coordinator) WithCache(cache *redis.Client) *Coordinator {
	c.cache = cache
	return c
}

// WithEmitter attaches an event emitter.
func (c *Coordinator) WithEmitter(emitter *events.Emitter) *Coordinator {
	c.emitter = emitter
	return c
}

// Leases exposes the lease registry, mainly for the status API.
func (c *Coordinator) Leases() *poller.LeaseRegistry {
	return c.leases
}

func (c *Coordinator) emit(emit func(*events.Emitter)) {
	if c.emitter != nil {
		emit(c.emitter)
	}
}

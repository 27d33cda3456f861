// Package resolver recovers the on-chain bounty id for jobs whose create
// transaction confirmed but whose id never made it back to the backend,
// usually because the browser tab died between confirmation and the
// persistence call.
package resolver

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	log "github.com/sirupsen/logrus"

	"github.com/verdikta/verdikta-applications-sub001/pkgs/backend"
	"github.com/verdikta/verdikta-applications-sub001/pkgs/chain"
)

const (
	// defaultBackendTimeout bounds the backend lookup before falling
	// through to the chain scan.
	defaultBackendTimeout = 5 * time.Second

	// defaultScanWindow is how many of the most recent bounties the chain
	// scan inspects before giving up.
	defaultScanWindow = 50

	// defaultDeadlineTolerance is the allowed skew between the job's
	// recorded deadline and the on-chain one when matching candidates.
	defaultDeadlineTolerance = 300 * time.Second
)

// Config tunes the resolution limits. Zero values fall back to defaults.
type Config struct {
	BackendTimeout    time.Duration
	ScanWindow        uint64
	DeadlineTolerance time.Duration
}

func (c Config) withDefaults() Config {
	if c.BackendTimeout <= 0 {
		c.BackendTimeout = defaultBackendTimeout
	}
	if c.ScanWindow == 0 {
		c.ScanWindow = defaultScanWindow
	}
	if c.DeadlineTolerance <= 0 {
		c.DeadlineTolerance = defaultDeadlineTolerance
	}
	return c
}

// EscrowReader is the slice of the escrow client the resolver needs.
type EscrowReader interface {
	BountyCount(ctx context.Context) (uint64, error)
	GetBounty(ctx context.Context, bountyID uint64) (*chain.BountyInfo, error)
}

// BackendResolver is the slice of the backend client the resolver needs.
type BackendResolver interface {
	ResolveBountyID(ctx context.Context, jobID int64, req backend.ResolveRequest) (*uint64, error)
	PersistBountyID(ctx context.Context, jobID int64, record backend.BountyRecord) error
}

// Cache persists resolved mappings so a restart does not rescan the chain.
type Cache interface {
	StoreResolvedBountyID(ctx context.Context, jobID int64, bountyID uint64) error
	LoadResolvedBountyID(ctx context.Context, jobID int64) (*uint64, error)
}

// Result is the outcome of one resolution attempt.
type Result struct {
	BountyID *uint64
	Source   string // "persisted", "aligned", "backend", "scan"
	Reason   string // set when BountyID is nil
}

// Resolved reports whether an id was found.
func (r Result) Resolved() bool {
	return r.BountyID != nil
}

// Resolver finds missing job-to-bounty id mappings. Each job gets at most
// one scan per process lifetime; the attempted set is sticky so a flaky
// RPC cannot turn the scan into a hot loop.
type Resolver struct {
	escrow  EscrowReader
	backend BackendResolver
	cache   Cache // optional
	cfg     Config

	mu        sync.Mutex
	attempted map[int64]bool
}

// New creates a Resolver.
func New(escrow EscrowReader, backendClient BackendResolver, cfg Config) *Resolver {
	return &Resolver{
		escrow:    escrow,
		backend:   backendClient,
		cfg:       cfg.withDefaults(),
		attempted: make(map[int64]bool),
	}
}

// WithCache attaches a store for resolved mappings.
func (r *Resolver) WithCache(cache Cache) *Resolver {
	r.cache = cache
	return r
}

// Attempted reports whether a scan has already run for the job.
func (r *Resolver) Attempted(jobID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempted[jobID]
}

// Resolve finds the on-chain bounty id for a job. Order of preference:
//
//  1. The id already persisted on the job record.
//  2. The aligned fast path: bounty ids usually equal job ids, so the
//     matching slot is checked first and accepted only if it validates.
//  3. The backend's own lookup, bounded by the configured timeout.
//  4. A backward scan over the most recent bounties matching
//     creator and deadline.
//
// A successful scan result is persisted back to the backend best-effort.
func (r *Resolver) Resolve(ctx context.Context, job *backend.Job) Result {
	if job.HasBountyID() {
		return Result{BountyID: job.BountyID, Source: "persisted"}
	}

	// A mapping cached by an earlier process does not consume the scan
	// budget either.
	if r.cache != nil {
		if id, err := r.cache.LoadResolvedBountyID(ctx, job.ID); err != nil {
			log.WithError(err).WithField("jobID", job.ID).Debug("Resolved id cache read failed")
		} else if id != nil {
			return Result{BountyID: id, Source: "cache"}
		}
	}

	r.mu.Lock()
	if r.attempted[job.ID] {
		r.mu.Unlock()
		return Result{Reason: "resolution already attempted for this job"}
	}
	r.attempted[job.ID] = true
	r.mu.Unlock()

	// Fast path: candidate id equal to the job id, validated before use.
	if job.ID > 0 {
		candidate := uint64(job.ID)
		if r.matches(ctx, candidate, job) {
			log.WithFields(log.Fields{"jobID": job.ID, "bountyID": candidate}).Info("🔎 Resolved bounty id via aligned fast path")
			r.persist(ctx, job.ID, candidate)
			return Result{BountyID: &candidate, Source: "aligned"}
		}
	}

	// Backend lookup with its own timeout so a slow backend cannot stall
	// the chain scan.
	backendCtx, cancel := context.WithTimeout(ctx, r.cfg.BackendTimeout)
	id, err := r.backend.ResolveBountyID(backendCtx, job.ID, backend.ResolveRequest{
		Creator:             job.CreatorAddress,
		EvaluationCid:       job.EvaluationCid,
		SubmissionCloseTime: job.SubmissionDeadline.Unix(),
		TxHash:              job.TxHash,
	})
	cancel()
	if err != nil {
		log.WithError(err).WithField("jobID", job.ID).Warn("Backend bounty id lookup failed, falling back to chain scan")
	} else if id != nil {
		return Result{BountyID: id, Source: "backend"}
	}

	return r.scan(ctx, job)
}

// scan walks the most recent bounties backward looking for one whose
// creator and deadline match the job.
func (r *Resolver) scan(ctx context.Context, job *backend.Job) Result {
	count, err := r.escrow.BountyCount(ctx)
	if err != nil {
		return Result{Reason: "failed to read bounty count: " + err.Error()}
	}
	if count == 0 {
		return Result{Reason: "no bounties on chain"}
	}

	low := uint64(0)
	if count > r.cfg.ScanWindow {
		low = count - r.cfg.ScanWindow
	}

	for bountyID := count - 1; ; bountyID-- {
		if r.matches(ctx, bountyID, job) {
			log.WithFields(log.Fields{"jobID": job.ID, "bountyID": bountyID}).Info("🔎 Resolved bounty id via chain scan")
			r.persist(ctx, job.ID, bountyID)
			id := bountyID
			return Result{BountyID: &id, Source: "scan"}
		}
		if bountyID == low {
			break
		}
	}

	return Result{Reason: "no matching bounty within scan window"}
}

// matches reports whether the bounty at bountyID belongs to the job:
// same creator, and deadlines within tolerance of each other.
func (r *Resolver) matches(ctx context.Context, bountyID uint64, job *backend.Job) bool {
	info, err := r.escrow.GetBounty(ctx, bountyID)
	if err != nil {
		log.WithError(err).WithFields(log.Fields{"bountyID": bountyID}).Debug("Bounty read failed during scan")
		return false
	}

	if !common.IsHexAddress(job.CreatorAddress) {
		return false
	}
	if info.Creator != common.HexToAddress(job.CreatorAddress) {
		return false
	}

	onChainDeadline := time.Unix(int64(info.SubmissionCloseTime), 0)
	diff := onChainDeadline.Sub(job.SubmissionDeadline)
	if diff < 0 {
		diff = -diff
	}
	return diff <= r.cfg.DeadlineTolerance
}

func (r *Resolver) persist(ctx context.Context, jobID int64, bountyID uint64) {
	if r.cache != nil {
		if err := r.cache.StoreResolvedBountyID(ctx, jobID, bountyID); err != nil {
			log.WithError(err).WithField("jobID", jobID).Debug("Resolved id cache write failed")
		}
	}
	if err := r.backend.PersistBountyID(ctx, jobID, backend.BountyRecord{BountyID: bountyID}); err != nil {
		// Non-fatal: the mapping is returned to the caller either way and
		// the next resolution attempt will land on the persisted path.
		if !strings.Contains(err.Error(), "context canceled") {
			log.WithError(err).WithFields(log.Fields{"jobID": jobID, "bountyID": bountyID}).Warn("Failed to persist resolved bounty id")
		}
	}
}

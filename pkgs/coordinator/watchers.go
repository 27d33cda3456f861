package coordinator

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/verdikta/verdikta-applications-sub001/pkgs/backend"
	"github.com/verdikta/verdikta-applications-sub001/pkgs/events"
	"github.com/verdikta/verdikta-applications-sub001/pkgs/metrics"
	"github.com/verdikta/verdikta-applications-sub001/pkgs/poller"
	"github.com/verdikta/verdikta-applications-sub001/pkgs/status"
)

// PendingSubmission is one submission awaiting its evaluation outcome.
type PendingSubmission struct {
	JobID        int64
	RecordID     int64
	BountyID     uint64
	SubmissionID uint64
	AggID        [32]byte
	Status       string
}

// PendingSource lists submissions that still need watcher attention.
type PendingSource interface {
	ListPending(ctx context.Context) ([]PendingSubmission, error)
}

// DefaultWatcherInterval is the sweep cadence for both watchers.
const DefaultWatcherInterval = 15 * time.Second

// Watchers runs the two background sweeps: a status watcher that keeps the
// backend in step with chain state, and an eval-ready watcher that caches
// evaluation results which concluded while no interactive poll was running.
// Neither sweep writes to the chain; settlement stays with the explicit
// finalize and force-fail actions.
//
// Both sweeps park when nothing is pending and wake on Kick, so an idle
// client costs no RPC calls.
type Watchers struct {
	coord          *Coordinator
	source         PendingSource
	statusInterval time.Duration
	evalInterval   time.Duration

	kick chan struct{}
	wg   sync.WaitGroup

	mu        sync.Mutex
	announced map[uint64]bool // submissions whose concluded result was already surfaced
}

// NewWatchers creates the watcher pair. Intervals <= 0 use the default.
func NewWatchers(coord *Coordinator, source PendingSource, statusInterval, evalInterval time.Duration) *Watchers {
	if statusInterval <= 0 {
		statusInterval = DefaultWatcherInterval
	}
	if evalInterval <= 0 {
		evalInterval = DefaultWatcherInterval
	}
	return &Watchers{
		coord:          coord,
		source:         source,
		statusInterval: statusInterval,
		evalInterval:   evalInterval,
		kick:           make(chan struct{}, 1),
		announced:      make(map[uint64]bool),
	}
}

// Kick wakes parked watchers, typically after a new submission started.
func (w *Watchers) Kick() {
	select {
	case w.kick <- struct{}{}:
	default:
	}
}

// Start launches both watcher loops. They stop when ctx is cancelled.
func (w *Watchers) Start(ctx context.Context) {
	w.wg.Add(2)
	go w.run(ctx, "status", w.statusInterval, w.statusPass)
	go w.run(ctx, "eval-ready", w.evalInterval, w.evalPass)
}

// Wait blocks until both loops have exited.
func (w *Watchers) Wait() {
	w.wg.Wait()
}

func (w *Watchers) run(ctx context.Context, name string, interval time.Duration, pass func(context.Context, []PendingSubmission)) {
	defer w.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.WithField("watcher", name).Info("👀 Watcher started")

	for {
		pending, err := w.source.ListPending(ctx)
		if err != nil {
			log.WithError(err).WithField("watcher", name).Warn("Failed to list pending submissions")
		} else if len(pending) > 0 {
			metrics.WatcherPasses.WithLabelValues(name).Inc()
			pass(ctx, pending)
		} else {
			// Nothing pending: park until kicked instead of burning RPC.
			select {
			case <-w.kick:
				continue
			case <-ctx.Done():
				return
			}
		}

		select {
		case <-ticker.C:
		case <-w.kick:
		case <-ctx.Done():
			return
		}
	}
}

// statusPass re-reads chain state for each pending submission and pushes any
// divergence to the backend. Submissions with an active lease are skipped:
// the poll holding the lease owns their state.
func (w *Watchers) statusPass(ctx context.Context, pending []PendingSubmission) {
	for _, p := range pending {
		if w.coord.leases.Active(poller.SubmissionKey(p.JobID, p.SubmissionID)) {
			continue
		}

		sub, err := w.coord.escrow.GetSubmission(ctx, p.BountyID, p.SubmissionID)
		if err != nil {
			log.WithError(err).WithFields(log.Fields{
				"jobID":        p.JobID,
				"submissionID": p.SubmissionID,
			}).Debug("Status sweep chain read failed")
			continue
		}

		chainLabel := status.FromChainCode(sub.StatusCode)
		if chainLabel == "" || chainLabel == p.Status {
			continue
		}
		// Never let a stale chain read walk a terminal backend status back
		// to pending.
		if status.Categorize(p.Status).Terminal() && !status.Categorize(chainLabel).Terminal() {
			continue
		}

		log.WithFields(log.Fields{
			"jobID":        p.JobID,
			"submissionID": p.SubmissionID,
			"backend":      p.Status,
			"chain":        chainLabel,
		}).Info("🔄 Syncing submission status from chain")

		if err := w.coord.backend.PatchSubmission(ctx, p.JobID, p.RecordID, backend.UpdateSubmission{
			Status: chainLabel,
		}); err != nil {
			log.WithError(err).Warn("Failed to sync submission status")
			continue
		}
		if w.coord.cache != nil {
			w.coord.cache.PublishJobViewChanged(ctx, p.JobID)
		}
	}
}

// evalPass checks the aggregator for each pending submission and caches the
// first concluded result so the UI can preview the score ahead of an
// explicit finalize. No chain write happens here.
func (w *Watchers) evalPass(ctx context.Context, pending []PendingSubmission) {
	for _, p := range pending {
		if p.AggID == [32]byte{} {
			continue
		}
		if w.coord.leases.Active(poller.SubmissionKey(p.JobID, p.SubmissionID)) {
			continue
		}
		w.mu.Lock()
		seen := w.announced[p.SubmissionID]
		w.mu.Unlock()
		if seen {
			continue
		}

		evaluation, err := w.coord.checkEvaluation(ctx, p.SubmissionID, p.AggID)
		if err != nil {
			log.WithError(err).WithField("submissionID", p.SubmissionID).Debug("Eval sweep aggregator read failed")
			continue
		}
		if evaluation == nil || !evaluation.Ready {
			continue
		}

		w.mu.Lock()
		w.announced[p.SubmissionID] = true
		w.mu.Unlock()

		log.WithFields(log.Fields{
			"jobID":        p.JobID,
			"submissionID": p.SubmissionID,
			"acceptance":   evaluation.AcceptancePercent(),
		}).Info("📬 Evaluation concluded, result cached for preview")

		w.coord.emit(func(e *events.Emitter) {
			_ = e.EmitEvaluationReady("watcher", &events.EvaluationEventPayload{
				JobID:             p.JobID,
				SubmissionID:      p.SubmissionID,
				AcceptancePercent: evaluation.AcceptancePercent(),
				RejectionPercent:  evaluation.RejectionPercent(),
				JustificationCids: evaluation.JustificationCids,
			})
		})
		if w.coord.cache != nil {
			w.coord.cache.PublishJobViewChanged(ctx, p.JobID)
		}
	}
}

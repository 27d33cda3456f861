package main

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	log "github.com/sirupsen/logrus"

	"github.com/verdikta/verdikta-applications-sub001/config"
	"github.com/verdikta/verdikta-applications-sub001/pkgs/allowance"
	"github.com/verdikta/verdikta-applications-sub001/pkgs/backend"
	"github.com/verdikta/verdikta-applications-sub001/pkgs/chain"
	"github.com/verdikta/verdikta-applications-sub001/pkgs/coordinator"
	"github.com/verdikta/verdikta-applications-sub001/pkgs/eventmonitor"
	"github.com/verdikta/verdikta-applications-sub001/pkgs/events"
	"github.com/verdikta/verdikta-applications-sub001/pkgs/ipfs"
	"github.com/verdikta/verdikta-applications-sub001/pkgs/orchestrator"
	"github.com/verdikta/verdikta-applications-sub001/pkgs/poller"
	"github.com/verdikta/verdikta-applications-sub001/pkgs/redis"
	"github.com/verdikta/verdikta-applications-sub001/pkgs/resolver"
	"github.com/verdikta/verdikta-applications-sub001/pkgs/status"
	"github.com/verdikta/verdikta-applications-sub001/pkgs/wallet"
)

// Agent bundles every client the daemon drives and implements the pending
// submission listing the watchers sweep.
type Agent struct {
	settings *config.Settings

	escrow     *chain.EscrowClient
	link       *chain.LinkClient
	aggregator *chain.AggregatorClient
	backend    *backend.Client
	ipfs       *ipfs.Client
	cache      *redis.Client
	emitter    *events.Emitter
	resolver   *resolver.Resolver
	leases     *poller.LeaseRegistry

	coordinator  *coordinator.Coordinator
	orchestrator *orchestrator.Orchestrator
	watchers     *coordinator.Watchers
	monitor      *eventmonitor.Monitor
}

// NewAgent wires the full client stack from settings.
func NewAgent(ctx context.Context, settings *config.Settings) (*Agent, error) {
	var signer wallet.Signer
	if settings.WalletPrivateKey != "" {
		keySigner, err := wallet.NewKeySigner(settings.WalletPrivateKey, settings.Network.ChainID)
		if err != nil {
			return nil, fmt.Errorf("failed to load wallet: %w", err)
		}
		signer = keySigner
		log.WithField("address", keySigner.Address().Hex()).Info("🔑 Wallet loaded")
	}

	escrow, err := chain.NewEscrowClient(ctx, chain.EscrowConfig{
		ContractAddress: settings.Network.BountyEscrowAddress.Hex(),
		ReadRPCURLs:     settings.ReadRPCURLs(),
		WriteRPCURL:     settings.WriteRPCURL(),
		Signer:          signer,
		ChainID:         settings.Network.ChainID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create escrow client: %w", err)
	}

	link, err := chain.NewLinkClient(settings.Network.LinkTokenAddress.Hex(), escrow.Readers(), escrow.WriteClient(), signer)
	if err != nil {
		return nil, fmt.Errorf("failed to create LINK client: %w", err)
	}

	aggregator, err := chain.NewAggregatorClient(settings.Network.VerdiktaAggregatorAddress.Hex(), escrow.Readers())
	if err != nil {
		return nil, fmt.Errorf("failed to create aggregator client: %w", err)
	}

	backendClient := backend.NewClient(settings.BackendBaseURL, settings.BotAPIKey, settings.HTTPTimeout)

	ipfsClient, err := ipfs.NewClient(settings.IPFSAPIURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create IPFS client: %w", err)
	}

	keys := redis.NewKeyBuilder(settings.Network.BountyEscrowAddress.Hex(), uint64(settings.Network.ChainID))
	cache, err := redis.NewClient(ctx, fmt.Sprintf("%s:%s", settings.RedisHost, settings.RedisPort),
		settings.RedisPassword, settings.RedisDB, keys)
	if err != nil {
		// Redis is an accelerator, not a dependency.
		log.WithError(err).Warn("Redis unavailable, running without cache")
		cache = nil
	}

	emitterConfig := events.DefaultConfig()
	emitterConfig.Escrow = settings.Network.BountyEscrowAddress.Hex()
	emitterConfig.ChainID = uint64(settings.Network.ChainID)
	if signer != nil {
		emitterConfig.Wallet = signer.Address().Hex()
	}
	emitter := events.NewEmitter(emitterConfig)
	if err := emitter.Start(); err != nil {
		return nil, fmt.Errorf("failed to start event emitter: %w", err)
	}
	if cache != nil {
		publisher := events.NewPublisher(cache.Raw(), "")
		if err := emitter.Subscribe(publisher.Subscriber()); err != nil {
			return nil, fmt.Errorf("failed to attach redis publisher: %w", err)
		}
	}

	verifier := allowance.NewVerifier(link.AllowanceCheckers(), settings.AllowanceInterval, settings.AllowanceAttempts)

	leases := poller.NewLeaseRegistry()

	coord := coordinator.New(escrow, link, aggregator, backendClient, verifier, leases, coordinator.Config{
		ActionPollInterval:     settings.ActionPollInterval,
		ActionPollAttempts:     settings.ActionPollAttempts,
		SubmissionPollInterval: settings.SubmissionPollInterval,
		SubmissionPollAttempts: settings.SubmissionPollAttempts,
		ForceFailThreshold:     settings.ForceFailThreshold,
	}).WithEmitter(emitter)
	if cache != nil {
		coord = coord.WithCache(cache)
	}

	orch := orchestrator.New(escrow, backendClient, orchestrator.Config{
		SettleDelay:      settings.CloseSettleDelay,
		SyncPollInterval: settings.ActionPollInterval,
		SyncPollTimeout:  60 * time.Second,
	}).WithEmitter(emitter)
	if cache != nil {
		orch = orch.WithCache(cache)
	}

	bountyResolver := resolver.New(escrow, backendClient, resolver.Config{
		BackendTimeout:    settings.ResolverTimeout,
		ScanWindow:        settings.ResolverScanWindow,
		DeadlineTolerance: settings.DeadlineTolerance,
	})
	if cache != nil {
		bountyResolver = bountyResolver.WithCache(cache)
	}

	agent := &Agent{
		settings:     settings,
		escrow:       escrow,
		link:         link,
		aggregator:   aggregator,
		backend:      backendClient,
		ipfs:         ipfsClient,
		cache:        cache,
		emitter:      emitter,
		resolver:     bountyResolver,
		leases:       leases,
		coordinator:  coord,
		orchestrator: orch,
	}
	agent.watchers = coordinator.NewWatchers(coord, agent, settings.AutoRefreshInterval, settings.EvalReadyInterval)

	monitor, err := eventmonitor.New(poolLogReader{escrow.Readers()},
		settings.Network.BountyEscrowAddress, settings.AutoRefreshInterval, agent.onChainEvent)
	if err != nil {
		return nil, fmt.Errorf("failed to build event monitor: %w", err)
	}
	agent.monitor = monitor

	return agent, nil
}

// onChainEvent reacts to escrow activity observed on chain, including
// activity this client did not initiate.
func (a *Agent) onChainEvent(ev eventmonitor.ContractEvent) {
	a.watchers.Kick()

	if a.emitter == nil {
		return
	}
	event, err := events.NewEvent(events.EventJobViewChanged, events.SeverityInfo, "eventmonitor", nil)
	if err != nil {
		return
	}
	event.TxHash = ev.TxHash.Hex()
	event.Metadata = map[string]string{
		"contractEvent": ev.Name,
		"bountyId":      fmt.Sprintf("%d", ev.BountyID),
	}
	_ = a.emitter.Emit(event)
}

// Start waits for the backend to come up, then launches the background
// watchers and the contract event monitor.
func (a *Agent) Start(ctx context.Context) error {
	if err := waitForBackend(ctx, a.backend, a.settings.InitialLoadInterval, a.settings.InitialLoadAttempts); err != nil {
		return err
	}
	a.watchers.Start(ctx)
	a.monitor.Start(ctx)
	if a.cache != nil {
		go a.watchViewChanges(ctx)
	}
	return nil
}

// jobLister is the slice of the backend client the startup probe needs.
type jobLister interface {
	ListJobs(ctx context.Context, filter backend.ListFilter) ([]backend.Job, error)
}

// waitForBackend retries the initial job listing until the backend answers.
// A daemon started alongside its backend should not die on a race.
func waitForBackend(ctx context.Context, lister jobLister, interval time.Duration, attempts int) error {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	if attempts <= 0 {
		attempts = 10
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if _, lastErr = lister.ListJobs(ctx, backend.ListFilter{}); lastErr == nil {
			if attempt > 1 {
				log.WithField("attempt", attempt).Info("Backend reachable")
			}
			return nil
		}
		log.WithError(lastErr).WithFields(log.Fields{
			"attempt":  attempt,
			"attempts": attempts,
		}).Warn("Backend not ready yet")

		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
	return fmt.Errorf("backend unreachable after %d attempts: %w", attempts, lastErr)
}

// watchViewChanges kicks the watchers whenever any process broadcasts a job
// view change, so a second agent's writes surface here without waiting for
// the next sweep.
func (a *Agent) watchViewChanges(ctx context.Context) {
	sub := a.cache.SubscribeJobViewChanged(ctx)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			log.WithField("payload", msg.Payload).Debug("Job view change broadcast received")
			a.watchers.Kick()
		}
	}
}

// Shutdown stops polls and releases connections.
func (a *Agent) Shutdown() {
	a.leases.CancelAll()
	a.watchers.Wait()
	a.monitor.Wait()
	if err := a.emitter.Stop(); err != nil {
		log.WithError(err).Debug("Emitter stop")
	}
	if a.cache != nil {
		_ = a.cache.Close()
	}
	a.escrow.Close()
}

// JobView is a job with its reconciled effective status.
type JobView struct {
	backend.Job
	EffectiveStatus string                `json:"effectiveStatus"`
	StatusSource    string                `json:"statusSource"`
	OverrideReason  string                `json:"overrideReason,omitempty"`
	Submissions     []SubmissionView      `json:"submissions,omitempty"`
}

// SubmissionView decorates a submission with the actions currently offered.
type SubmissionView struct {
	backend.Submission
	Category        string `json:"category"`
	ActivelyPending bool   `json:"activelyPending"`
	CanFinalize     bool   `json:"canFinalize"`
	CanForceFail    bool   `json:"canForceFail"`
	PollActive      bool   `json:"pollActive"`
}

// ViewJob builds the reconciled view of one job.
func (a *Agent) ViewJob(ctx context.Context, jobID int64) (*JobView, error) {
	job, err := a.backend.GetJob(ctx, jobID, true)
	if err != nil {
		return nil, err
	}
	return a.buildView(ctx, job), nil
}

// ViewJobs builds reconciled views for a job listing.
func (a *Agent) ViewJobs(ctx context.Context, filter backend.ListFilter) ([]JobView, error) {
	jobs, err := a.backend.ListJobs(ctx, filter)
	if err != nil {
		return nil, err
	}
	views := make([]JobView, 0, len(jobs))
	for i := range jobs {
		views = append(views, *a.buildView(ctx, &jobs[i]))
	}
	return views, nil
}

func (a *Agent) buildView(ctx context.Context, job *backend.Job) *JobView {
	chainOK := false
	var chainStatus chain.BountyStatus

	resolution := a.resolver.Resolve(ctx, job)
	if resolution.Resolved() {
		job.BountyID = resolution.BountyID
		if bountyStatus, err := a.escrow.GetBountyStatus(ctx, *resolution.BountyID); err == nil {
			chainStatus = bountyStatus
			chainOK = true
		}
	}

	reconciled := status.ReconcileBounty(job.Status, chainStatus, chainOK, job.SubmissionDeadline, time.Now())

	view := &JobView{
		Job:             *job,
		EffectiveStatus: reconciled.Status,
		StatusSource:    string(reconciled.Source),
		OverrideReason:  reconciled.OverrideReason,
	}

	for _, sub := range job.Submissions {
		subView := SubmissionView{
			Submission:      sub,
			Category:        status.Categorize(sub.Status).String(),
			ActivelyPending: status.IsActivelyPending(sub.Status, reconciled.Status),
		}
		if sub.SubmissionID != nil {
			subView.PollActive = a.leases.Active(poller.SubmissionKey(job.ID, *sub.SubmissionID))
			subView.CanFinalize = status.CanFinalize(sub.Status, subView.PollActive)
			if sub.SubmittedAt != nil {
				subView.CanForceFail = status.CanForceFail(sub.Status, *sub.SubmittedAt, time.Now())
			}
		}
		view.Submissions = append(view.Submissions, subView)
	}
	a.cacheStatus(ctx, job.ID, reconciled.Status)
	return view
}

// cacheStatus records the effective status and broadcasts a view change
// when it moved.
func (a *Agent) cacheStatus(ctx context.Context, jobID int64, effective string) {
	if a.cache == nil {
		return
	}
	previous, err := a.cache.GetJobStatus(ctx, jobID)
	if err != nil || previous == effective {
		return
	}
	if err := a.cache.SetJobStatus(ctx, jobID, effective, a.settings.CacheTTL); err != nil {
		return
	}
	if previous != "" {
		a.cache.PublishJobViewChanged(ctx, jobID)
	}
}

// ListPending implements coordinator.PendingSource: every submission in the
// backend that is on-chain and still awaiting its evaluation outcome.
func (a *Agent) ListPending(ctx context.Context) ([]coordinator.PendingSubmission, error) {
	jobs, err := a.backend.ListJobs(ctx, backend.ListFilter{})
	if err != nil {
		return nil, err
	}

	var pending []coordinator.PendingSubmission
	for i := range jobs {
		job := &jobs[i]
		if !job.HasBountyID() {
			continue
		}

		detailed, err := a.backend.GetJob(ctx, job.ID, true)
		if err != nil {
			log.WithError(err).WithField("jobID", job.ID).Debug("Pending sweep job read failed")
			continue
		}
		for _, sub := range detailed.Submissions {
			if sub.SubmissionID == nil || !status.IsOnChainPending(sub.Status) {
				continue
			}
			entry := coordinator.PendingSubmission{
				JobID:        job.ID,
				RecordID:     sub.ID,
				BountyID:     *job.BountyID,
				SubmissionID: *sub.SubmissionID,
				Status:       sub.Status,
			}
			if sub.VerdiktaAggID != "" {
				entry.AggID = [32]byte(common.HexToHash(sub.VerdiktaAggID))
			}
			pending = append(pending, entry)
		}
	}
	return pending, nil
}

// poolLogReader adapts the read provider pool to the event monitor, keeping
// its fresh-connection-per-call behavior for log queries.
type poolLogReader struct {
	pool *chain.ProviderPool
}

func (r poolLogReader) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	var logs []types.Log
	err := r.pool.Do(ctx, func(client *ethclient.Client) error {
		var callErr error
		logs, callErr = client.FilterLogs(ctx, q)
		return callErr
	})
	return logs, err
}

func (r poolLogReader) BlockNumber(ctx context.Context) (uint64, error) {
	var head uint64
	err := r.pool.Do(ctx, func(client *ethclient.Client) error {
		var callErr error
		head, callErr = client.BlockNumber(ctx)
		return callErr
	})
	return head, err
}

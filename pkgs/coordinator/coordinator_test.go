package coordinator

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verdikta/verdikta-applications-sub001/pkgs/backend"
	"github.com/verdikta/verdikta-applications-sub001/pkgs/chain"
	"github.com/verdikta/verdikta-applications-sub001/pkgs/poller"
	"github.com/verdikta/verdikta-applications-sub001/pkgs/status"
)

var (
	hunter     = common.HexToAddress("0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf")
	evalWallet = common.HexToAddress("0x2B5AD5c4795c026514f8317c7a215E218DcCD6cF")
	linkBudget = big.NewInt(9_000_000_000_000_000)
)

// harness wires a Coordinator over recording fakes with fast polling.
type harness struct {
	calls      []string
	escrow     *fakeHarnessEscrow
	link       *fakeLink
	aggregator *fakeAggregator
	backend    *fakeBackend
	allowances *fakeAllowances
	coord      *Coordinator
}

type fakeHarnessEscrow struct {
	h            *harness
	submission   *chain.SubmissionInfo
	bountyStatus chain.BountyStatus
	prepareErr   error
	startErr     error
}

func (f *fakeHarnessEscrow) PrepareSubmission(ctx context.Context, bountyID uint64, evaluationCid, hunterCid string, params chain.PrepareParams) (*chain.PrepareResult, error) {
	f.h.calls = append(f.h.calls, "prepare")
	if f.prepareErr != nil {
		return nil, f.prepareErr
	}
	return &chain.PrepareResult{
		SubmissionID:  3,
		EvalWallet:    evalWallet,
		LinkMaxBudget: linkBudget,
		TxHash:        common.HexToHash("0xaa"),
	}, nil
}

func (f *fakeHarnessEscrow) StartPreparedSubmission(ctx context.Context, bountyID, submissionID uint64) (*chain.StartResult, error) {
	f.h.calls = append(f.h.calls, "start")
	if f.startErr != nil {
		return nil, f.startErr
	}
	return &chain.StartResult{
		TxResult:      chain.TxResult{TxHash: common.HexToHash("0xbb")},
		VerdiktaAggID: [32]byte{0xde, 0xad},
	}, nil
}

func (f *fakeHarnessEscrow) FinalizeSubmission(ctx context.Context, bountyID, submissionID uint64) (*chain.TxResult, error) {
	f.h.calls = append(f.h.calls, "finalize")
	return &chain.TxResult{TxHash: common.HexToHash("0xcc")}, nil
}

func (f *fakeHarnessEscrow) FailTimedOutSubmission(ctx context.Context, bountyID, submissionID uint64) (*chain.TxResult, error) {
	f.h.calls = append(f.h.calls, "failTimedOut")
	f.submission.StatusCode = chain.SubmissionCodeFailed
	return &chain.TxResult{TxHash: common.HexToHash("0xdd")}, nil
}

func (f *fakeHarnessEscrow) GetSubmission(ctx context.Context, bountyID, submissionID uint64) (*chain.SubmissionInfo, error) {
	copied := *f.submission
	return &copied, nil
}

func (f *fakeHarnessEscrow) GetBountyStatus(ctx context.Context, bountyID uint64) (chain.BountyStatus, error) {
	return f.bountyStatus, nil
}

type fakeLink struct {
	h       *harness
	balance *big.Int
}

func (f *fakeLink) Approve(ctx context.Context, spender common.Address, amount *big.Int) (*chain.TxResult, error) {
	f.h.calls = append(f.h.calls, "approve")
	return &chain.TxResult{TxHash: common.HexToHash("0xee")}, nil
}

func (f *fakeLink) BalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	f.h.calls = append(f.h.calls, "balanceOf")
	return f.balance, nil
}

type fakeAggregator struct {
	h           *harness
	notReadyFor int
	result      *chain.EvaluationResult
}

func (f *fakeAggregator) CheckEvaluationReady(ctx context.Context, aggID [32]byte) (*chain.EvaluationResult, error) {
	f.h.calls = append(f.h.calls, "checkEval")
	if f.notReadyFor > 0 {
		f.notReadyFor--
		return &chain.EvaluationResult{Ready: false}, nil
	}
	return f.result, nil
}

type fakeBackend struct {
	h         *harness
	job       *backend.Job
	patches   []backend.UpdateSubmission
	cancelled []int64
}

func (f *fakeBackend) GetJob(ctx context.Context, jobID int64, includeDetails bool) (*backend.Job, error) {
	f.h.calls = append(f.h.calls, "getJob")
	return f.job, nil
}

func (f *fakeBackend) SubmitWork(ctx context.Context, jobID int64, hunterAddr, narrative string, files []backend.SubmissionFile) (*backend.Submission, error) {
	f.h.calls = append(f.h.calls, "submitWork")
	return &backend.Submission{ID: 11, JobID: jobID, HunterCid: "bafybeihunter"}, nil
}

func (f *fakeBackend) PatchSubmission(ctx context.Context, jobID, recordID int64, update backend.UpdateSubmission) error {
	f.h.calls = append(f.h.calls, "patch:"+update.Status)
	f.patches = append(f.patches, update)
	return nil
}

func (f *fakeBackend) CancelSubmission(ctx context.Context, jobID, recordID int64) error {
	f.h.calls = append(f.h.calls, "cancel")
	f.cancelled = append(f.cancelled, recordID)
	return nil
}

type fakeAllowances struct {
	h        *harness
	verified bool
}

func (f *fakeAllowances) Wait(ctx context.Context, owner, spender common.Address, required *big.Int) bool {
	f.h.calls = append(f.h.calls, "allowanceWait")
	return f.verified
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{}
	h.escrow = &fakeHarnessEscrow{
		h:            h,
		bountyStatus: chain.BountyOpen,
		submission: &chain.SubmissionInfo{
			BountyID:      7,
			ID:            3,
			StatusCode:    chain.SubmissionCodePendingVerdikta,
			VerdiktaAggID: [32]byte{0xde, 0xad},
			SubmittedAt:   uint64(time.Now().Add(-time.Hour).Unix()),
		},
	}
	h.link = &fakeLink{h: h, balance: new(big.Int).Mul(linkBudget, big.NewInt(2))}
	h.aggregator = &fakeAggregator{
		h: h,
		result: &chain.EvaluationResult{
			Ready:             true,
			Acceptance:        big.NewInt(880_000),
			Rejection:         big.NewInt(120_000),
			JustificationCids: []string{"bafyjust"},
		},
	}
	h.backend = &fakeBackend{h: h, job: &backend.Job{ID: 5, EvaluationCid: "bafyeval", Status: "OPEN"}}
	h.allowances = &fakeAllowances{h: h, verified: true}

	cfg := Config{
		ActionPollInterval:     time.Millisecond,
		ActionPollAttempts:     5,
		SubmissionPollInterval: time.Millisecond,
		SubmissionPollAttempts: 5,
		ForceFailThreshold:     10 * time.Minute,
	}
	h.coord = New(h.escrow, h.link, h.aggregator, h.backend, h.allowances, poller.NewLeaseRegistry(), cfg)
	return h
}

func submitRequest() SubmitRequest {
	return SubmitRequest{
		JobID:     5,
		BountyID:  7,
		Hunter:    hunter,
		Narrative: "solution attached",
		Files:     []backend.SubmissionFile{{Name: "solution.zip", Content: []byte("pk")}},
	}
}

func TestSubmitHappyPathOrdering(t *testing.T) {
	h := newHarness(t)

	res, err := h.coord.Submit(context.Background(), submitRequest())
	require.NoError(t, err)

	// Approve must land strictly between prepare and start.
	assert.Equal(t, []string{
		"getJob", "submitWork", "prepare", "patch:" + status.Prepared,
		"balanceOf", "approve", "allowanceWait", "start", "patch:" + status.PendingVerdikta,
	}, h.calls)

	assert.Equal(t, int64(11), res.RecordID)
	assert.Equal(t, uint64(3), res.SubmissionID)
	assert.Equal(t, "bafybeihunter", res.HunterCid)
	assert.Equal(t, evalWallet, res.EvalWallet)
	assert.True(t, res.Allowance)

	require.Len(t, h.backend.patches, 2)
	assert.Equal(t, status.PendingVerdikta, h.backend.patches[1].Status)
	assert.Equal(t, "0xdead000000000000000000000000000000000000000000000000000000000000", h.backend.patches[1].VerdiktaAggID)
}

func TestSubmitRejectsPastDeadline(t *testing.T) {
	h := newHarness(t)
	// Backend still says OPEN but the deadline passed; the chain has not
	// moved yet either. The reconciled status is EXPIRED and nothing may
	// be uploaded or signed.
	h.backend.job.SubmissionDeadline = time.Now().Add(-time.Minute)

	_, err := h.coord.Submit(context.Background(), submitRequest())
	require.ErrorIs(t, err, ErrBountyNotOpen)
	assert.Contains(t, err.Error(), "EXPIRED")
	assert.Equal(t, []string{"getJob"}, h.calls, "no upload and no chain write after the precondition fails")
}

func TestSubmitRejectsSettledBounty(t *testing.T) {
	h := newHarness(t)
	h.escrow.bountyStatus = chain.BountyAwarded

	_, err := h.coord.Submit(context.Background(), submitRequest())
	require.ErrorIs(t, err, ErrBountyNotOpen)
	assert.Contains(t, err.Error(), "AWARDED")
	assert.NotContains(t, h.calls, "submitWork")
	assert.NotContains(t, h.calls, "prepare")
}

func TestSubmitReleasesLeaseOnSuccess(t *testing.T) {
	h := newHarness(t)

	_, err := h.coord.Submit(context.Background(), submitRequest())
	require.NoError(t, err)

	_, err = h.coord.Leases().Acquire(submitLeaseKey(5, hunter))
	assert.NoError(t, err, "submit lease must be released when the flow completes")
}

func TestSubmitRejectsConcurrentFlow(t *testing.T) {
	h := newHarness(t)
	lease, err := h.coord.Leases().Acquire(submitLeaseKey(5, hunter))
	require.NoError(t, err)
	defer lease.Release()

	_, err = h.coord.Submit(context.Background(), submitRequest())

	assert.ErrorIs(t, err, poller.ErrAlreadyHeld)
	assert.Empty(t, h.calls, "nothing runs while another flow holds the lease")
}

func TestSubmitInsufficientBalanceStopsBeforeApprove(t *testing.T) {
	h := newHarness(t)
	h.link.balance = big.NewInt(1)

	_, err := h.coord.Submit(context.Background(), submitRequest())

	assert.ErrorIs(t, err, chain.ErrInsufficientBalance)
	assert.NotContains(t, h.calls, "approve")
	assert.NotContains(t, h.calls, "start")
}

func TestSubmitWalletRejectionAbortsAtPrepare(t *testing.T) {
	h := newHarness(t)
	h.escrow.prepareErr = chain.ErrUserRejected

	_, err := h.coord.Submit(context.Background(), submitRequest())

	assert.ErrorIs(t, err, chain.ErrUserRejected)
	assert.Contains(t, h.calls, "submitWork", "upload already happened and stays")
	assert.NotContains(t, h.calls, "approve")
}

func TestSubmitUnverifiedAllowanceIsNotFatal(t *testing.T) {
	h := newHarness(t)
	h.allowances.verified = false

	res, err := h.coord.Submit(context.Background(), submitRequest())

	require.NoError(t, err)
	assert.False(t, res.Allowance)
	assert.Contains(t, h.calls, "start", "the contract dry run is the real gate")
}

func TestValidateFiles(t *testing.T) {
	ok := []backend.SubmissionFile{{Name: "report.md", Content: []byte("x")}}
	assert.NoError(t, ValidateFiles(ok))

	assert.Error(t, ValidateFiles(nil), "empty set")

	many := make([]backend.SubmissionFile, maxFiles+1)
	for i := range many {
		many[i] = backend.SubmissionFile{Name: "f.txt", Content: []byte("x")}
	}
	assert.Error(t, ValidateFiles(many))

	assert.Error(t, ValidateFiles([]backend.SubmissionFile{{Name: "payload.exe", Content: []byte("x")}}))
	assert.Error(t, ValidateFiles([]backend.SubmissionFile{{Name: "", Content: []byte("x")}}))
	assert.NoError(t, ValidateFiles([]backend.SubmissionFile{{Name: "Contract.SOL", Content: []byte("x")}}), "extension match is case-insensitive")

	huge := []backend.SubmissionFile{{Name: "big.zip", Content: make([]byte, maxFileBytes+1)}}
	assert.Error(t, ValidateFiles(huge))

	// The cap is per file: several large files are fine as long as each one
	// stays under it.
	pair := []backend.SubmissionFile{
		{Name: "part1.zip", Content: make([]byte, 11<<20)},
		{Name: "part2.zip", Content: make([]byte, 11<<20)},
	}
	assert.NoError(t, ValidateFiles(pair))
}

func TestFinalizeHappyPath(t *testing.T) {
	h := newHarness(t)
	h.aggregator.notReadyFor = 2

	res, err := h.coord.Finalize(context.Background(), FinalizeRequest{
		JobID: 5, RecordID: 11, BountyID: 7, SubmissionID: 3,
	})
	require.NoError(t, err)

	assert.True(t, res.Passed)
	assert.InDelta(t, 88.0, res.Evaluation.AcceptancePercent(), 0.001)
	assert.Contains(t, h.calls, "finalize")

	require.Len(t, h.backend.patches, 1)
	patch := h.backend.patches[0]
	assert.Equal(t, status.Passed, patch.Status)
	require.NotNil(t, patch.AcceptancePercent)
	assert.InDelta(t, 88.0, *patch.AcceptancePercent, 0.001)
	assert.Equal(t, []string{"bafyjust"}, patch.JustificationCids)
}

func TestFinalizeRejectionOutcome(t *testing.T) {
	h := newHarness(t)
	h.aggregator.result = &chain.EvaluationResult{
		Ready:      true,
		Acceptance: big.NewInt(300_000),
		Rejection:  big.NewInt(700_000),
	}

	res, err := h.coord.Finalize(context.Background(), FinalizeRequest{
		JobID: 5, RecordID: 11, BountyID: 7, SubmissionID: 3,
	})
	require.NoError(t, err)

	assert.False(t, res.Passed)
	require.Len(t, h.backend.patches, 1)
	assert.Equal(t, status.Failed, h.backend.patches[0].Status)
}

func TestFinalizeRequiresPendingStatus(t *testing.T) {
	h := newHarness(t)
	h.escrow.submission.StatusCode = chain.SubmissionCodePassed

	_, err := h.coord.Finalize(context.Background(), FinalizeRequest{
		JobID: 5, RecordID: 11, BountyID: 7, SubmissionID: 3,
	})

	assert.ErrorContains(t, err, "not pending")
	assert.NotContains(t, h.calls, "finalize")
}

func TestFinalizeExhaustionReleasesLease(t *testing.T) {
	h := newHarness(t)
	h.aggregator.result = &chain.EvaluationResult{Ready: false}

	req := FinalizeRequest{JobID: 5, RecordID: 11, BountyID: 7, SubmissionID: 3}
	_, err := h.coord.Finalize(context.Background(), req)
	assert.ErrorContains(t, err, "not ready")

	lease, err := h.coord.Leases().Acquire(poller.SubmissionKey(5, 3))
	assert.NoError(t, err, "watcher must be able to retry after exhaustion")
	if lease != nil {
		lease.Release()
	}
}

func TestFinalizeSecondCallerRejected(t *testing.T) {
	h := newHarness(t)
	lease, err := h.coord.Leases().Acquire(poller.SubmissionKey(5, 3))
	require.NoError(t, err)
	defer lease.Release()

	_, err = h.coord.Finalize(context.Background(), FinalizeRequest{
		JobID: 5, RecordID: 11, BountyID: 7, SubmissionID: 3,
	})

	assert.ErrorIs(t, err, poller.ErrAlreadyHeld)
}

func TestFailTimeoutRejectsFreshSubmission(t *testing.T) {
	h := newHarness(t)
	h.escrow.submission.SubmittedAt = uint64(time.Now().Add(-time.Minute).Unix())

	err := h.coord.FailTimeout(context.Background(), FinalizeRequest{
		JobID: 5, RecordID: 11, BountyID: 7, SubmissionID: 3,
	})

	assert.ErrorContains(t, err, "not been pending long enough")
	assert.NotContains(t, h.calls, "failTimedOut")
}

func TestFailTimeoutHappyPath(t *testing.T) {
	h := newHarness(t)

	err := h.coord.FailTimeout(context.Background(), FinalizeRequest{
		JobID: 5, RecordID: 11, BountyID: 7, SubmissionID: 3,
	})
	require.NoError(t, err)

	assert.Contains(t, h.calls, "failTimedOut")
	require.Len(t, h.backend.patches, 1)
	assert.Equal(t, status.Failed, h.backend.patches[0].Status)
}

func TestCancelOnlyBeforeStart(t *testing.T) {
	h := newHarness(t)
	id := uint64(3)

	err := h.coord.Cancel(context.Background(), 5, 11, 7, &id)
	assert.ErrorContains(t, err, "already started")
	assert.Empty(t, h.backend.cancelled)

	h.escrow.submission.StatusCode = chain.SubmissionCodePrepared
	err = h.coord.Cancel(context.Background(), 5, 11, 7, &id)
	require.NoError(t, err)
	assert.Equal(t, []int64{11}, h.backend.cancelled)
}

func TestCancelBackendOnlyRecord(t *testing.T) {
	h := newHarness(t)

	err := h.coord.Cancel(context.Background(), 5, 11, 7, nil)

	require.NoError(t, err)
	assert.Equal(t, []string{"cancel"}, h.calls, "no chain read for a record that never reached the escrow")
}

package orchestrator

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verdikta/verdikta-applications-sub001/pkgs/backend"
	"github.com/verdikta/verdikta-applications-sub001/pkgs/chain"
)

type fakeEscrow struct {
	bounty       *chain.BountyInfo
	submissions  map[uint64]*chain.SubmissionInfo
	finalizeErr  map[uint64]error
	finalized    []uint64
	closed       bool
	closeErr     error
	createResult *chain.CreateResult
	createErr    error
}

func (f *fakeEscrow) CreateBounty(ctx context.Context, evaluationCid string, classID uint64, threshold uint8, submissionDeadline uint64, payoutWei *big.Int) (*chain.CreateResult, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	return f.createResult, nil
}

func (f *fakeEscrow) CloseExpiredBounty(ctx context.Context, bountyID uint64) (*chain.TxResult, error) {
	if f.closeErr != nil {
		return nil, f.closeErr
	}
	f.closed = true
	return &chain.TxResult{TxHash: common.HexToHash("0x77")}, nil
}

func (f *fakeEscrow) FinalizeSubmission(ctx context.Context, bountyID, submissionID uint64) (*chain.TxResult, error) {
	if err := f.finalizeErr[submissionID]; err != nil {
		return nil, err
	}
	f.finalized = append(f.finalized, submissionID)
	return &chain.TxResult{TxHash: common.HexToHash("0x88")}, nil
}

func (f *fakeEscrow) GetBounty(ctx context.Context, bountyID uint64) (*chain.BountyInfo, error) {
	return f.bounty, nil
}

func (f *fakeEscrow) GetSubmission(ctx context.Context, bountyID, submissionID uint64) (*chain.SubmissionInfo, error) {
	sub, ok := f.submissions[submissionID]
	if !ok {
		return nil, errors.New("no such submission")
	}
	return sub, nil
}

type fakeBackend struct {
	job           *backend.Job
	createErr     error
	persistErr    error
	persisted     map[int64]backend.BountyRecord
	closedJobs    []int64
	statusAfter   int // GetJob calls before Status reads CLOSED
	getJobCalls   int
	pendingStatus string
}

func (f *fakeBackend) CreateJob(ctx context.Context, req backend.CreateJobRequest) (*backend.Job, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	return f.job, nil
}

func (f *fakeBackend) PersistBountyID(ctx context.Context, jobID int64, record backend.BountyRecord) error {
	if f.persistErr != nil {
		return f.persistErr
	}
	if f.persisted == nil {
		f.persisted = make(map[int64]backend.BountyRecord)
	}
	f.persisted[jobID] = record
	return nil
}

func (f *fakeBackend) CloseJob(ctx context.Context, jobID int64) error {
	f.closedJobs = append(f.closedJobs, jobID)
	return nil
}

func (f *fakeBackend) GetJob(ctx context.Context, jobID int64, includeDetails bool) (*backend.Job, error) {
	f.getJobCalls++
	status := f.pendingStatus
	if status == "" {
		status = "OPEN"
	}
	if f.getJobCalls > f.statusAfter {
		status = "CLOSED"
	}
	return &backend.Job{ID: jobID, Status: status}, nil
}

func fastConfig() Config {
	return Config{
		SettleDelay:      time.Millisecond,
		SyncPollInterval: time.Millisecond,
		SyncPollTimeout:  50 * time.Millisecond,
	}
}

func createRequest() CreateRequest {
	return CreateRequest{
		Title:              "Port the data pipeline",
		Creator:            "0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf",
		ChainID:            84532,
		EvaluationCid:      "bafyeval",
		Threshold:          70,
		SubmissionDeadline: time.Now().Add(48 * time.Hour),
		PayoutWei:          big.NewInt(1_000_000_000_000_000_000),
	}
}

func TestValidateCreate(t *testing.T) {
	assert.NoError(t, ValidateCreate(createRequest()))

	req := createRequest()
	req.Title = ""
	assert.ErrorContains(t, ValidateCreate(req), "title")

	req = createRequest()
	req.EvaluationCid = ""
	assert.ErrorContains(t, ValidateCreate(req), "CID")

	req = createRequest()
	req.Threshold = 101
	assert.ErrorContains(t, ValidateCreate(req), "threshold")

	req = createRequest()
	req.SubmissionDeadline = time.Now().Add(-time.Hour)
	assert.ErrorContains(t, ValidateCreate(req), "future")

	req = createRequest()
	req.PayoutWei = big.NewInt(0)
	assert.ErrorContains(t, ValidateCreate(req), "payout")

	req = createRequest()
	req.PayoutWei = nil
	assert.ErrorContains(t, ValidateCreate(req), "payout")
}

func TestValidateCreateRubricWeights(t *testing.T) {
	base := createRequest()

	rubric := func(weights ...float64) *backend.Rubric {
		r := &backend.Rubric{}
		for _, w := range weights {
			r.Criteria = append(r.Criteria, backend.RubricCriterion{Name: "criterion", Weight: w})
		}
		return r
	}

	req := base
	req.Rubric = rubric(0.5, 0.5)
	assert.NoError(t, ValidateCreate(req))

	// Tolerance is ±0.01 around 1.0.
	req.Rubric = rubric(0.495, 0.5)
	assert.NoError(t, ValidateCreate(req))

	req.Rubric = rubric(0.5, 0.48)
	assert.ErrorContains(t, ValidateCreate(req), "sum to 1.0")

	req.Rubric = rubric(1.2, -0.2)
	assert.ErrorContains(t, ValidateCreate(req), "negative")

	req.Rubric = &backend.Rubric{Criteria: []backend.RubricCriterion{{Name: "", Weight: 1.0}}}
	assert.ErrorContains(t, ValidateCreate(req), "empty name")
}

func TestValidateCreateJuryWeights(t *testing.T) {
	base := createRequest()

	jury := func(weights ...float64) []backend.JuryNode {
		var nodes []backend.JuryNode
		for _, w := range weights {
			nodes = append(nodes, backend.JuryNode{Provider: "openai", Model: "gpt-4o", Weight: w, Runs: 1})
		}
		return nodes
	}

	req := base
	req.JuryNodes = jury(0.6, 0.4)
	assert.NoError(t, ValidateCreate(req))

	req.JuryNodes = jury(0.6, 0.3)
	assert.ErrorContains(t, ValidateCreate(req), "jury weights must sum to 1.0")

	req.JuryNodes = jury(1.5, -0.5)
	assert.ErrorContains(t, ValidateCreate(req), "negative")

	req.JuryNodes = []backend.JuryNode{{Provider: "", Model: "gpt-4o", Weight: 1.0}}
	assert.ErrorContains(t, ValidateCreate(req), "provider and a model")
}

func TestCreatePublishesBounty(t *testing.T) {
	escrow := &fakeEscrow{
		createResult: &chain.CreateResult{
			TxResult: chain.TxResult{TxHash: common.HexToHash("0x99")},
			BountyID: 14,
		},
	}
	be := &fakeBackend{job: &backend.Job{ID: 6}}

	o := New(escrow, be, fastConfig())
	res, err := o.Create(context.Background(), createRequest())

	require.NoError(t, err)
	assert.Equal(t, int64(6), res.JobID)
	assert.Equal(t, uint64(14), res.BountyID)
	assert.Equal(t, uint64(14), be.persisted[6].BountyID)
	assert.NotEmpty(t, be.persisted[6].TxHash)
}

func TestCreateBackendFirstThenChain(t *testing.T) {
	escrow := &fakeEscrow{createErr: chain.ErrUserRejected}
	be := &fakeBackend{job: &backend.Job{ID: 6}}

	o := New(escrow, be, fastConfig())
	_, err := o.Create(context.Background(), createRequest())

	assert.ErrorIs(t, err, chain.ErrUserRejected)
	assert.Empty(t, be.persisted, "nothing on chain to persist")
}

func TestCreateSurvivesPersistFailure(t *testing.T) {
	escrow := &fakeEscrow{
		createResult: &chain.CreateResult{
			TxResult: chain.TxResult{TxHash: common.HexToHash("0x99")},
			BountyID: 14,
		},
	}
	be := &fakeBackend{job: &backend.Job{ID: 6}, persistErr: errors.New("backend 500")}

	o := New(escrow, be, fastConfig())
	res, err := o.Create(context.Background(), createRequest())

	require.NoError(t, err, "persistence failure is recoverable, the id resolver finds the mapping later")
	assert.Equal(t, uint64(14), res.BountyID)
}

func expiredBounty(submissions uint64) *chain.BountyInfo {
	return &chain.BountyInfo{
		ID:                  14,
		Status:              chain.BountyOpen,
		SubmissionCloseTime: uint64(time.Now().Add(-time.Hour).Unix()),
		SubmissionCount:     submissions,
	}
}

func TestCloseExpiredSweepsThenCloses(t *testing.T) {
	escrow := &fakeEscrow{
		bounty: expiredBounty(3),
		submissions: map[uint64]*chain.SubmissionInfo{
			0: {StatusCode: chain.SubmissionCodeFailed},
			1: {StatusCode: chain.SubmissionCodePendingVerdikta},
			2: {StatusCode: chain.SubmissionCodePendingVerdikta},
		},
		finalizeErr: map[uint64]error{
			// Oracle still working on this one; sweep must keep going.
			2: errors.New("execution reverted: evaluation not ready"),
		},
	}
	be := &fakeBackend{}

	o := New(escrow, be, fastConfig())
	res, err := o.CloseExpired(context.Background(), 6, 14)

	require.NoError(t, err)
	assert.Equal(t, []uint64{1}, escrow.finalized)
	assert.Equal(t, 1, res.Finalized)
	assert.True(t, escrow.closed)
	assert.Equal(t, []int64{6}, be.closedJobs)
	assert.False(t, res.SyncPending)
}

func TestCloseExpiredRejectsSettledBounty(t *testing.T) {
	bounty := expiredBounty(0)
	bounty.Status = chain.BountyAwarded
	escrow := &fakeEscrow{bounty: bounty}

	o := New(escrow, &fakeBackend{}, fastConfig())
	_, err := o.CloseExpired(context.Background(), 6, 14)

	assert.ErrorContains(t, err, "already settled")
	assert.False(t, escrow.closed)
}

func TestCloseExpiredRejectsLiveDeadline(t *testing.T) {
	bounty := expiredBounty(0)
	bounty.SubmissionCloseTime = uint64(time.Now().Add(time.Hour).Unix())
	escrow := &fakeEscrow{bounty: bounty}

	o := New(escrow, &fakeBackend{}, fastConfig())
	_, err := o.CloseExpired(context.Background(), 6, 14)

	assert.ErrorContains(t, err, "not passed")
}

func TestCloseExpiredReportsSyncPending(t *testing.T) {
	escrow := &fakeEscrow{bounty: expiredBounty(0)}
	be := &fakeBackend{statusAfter: 1 << 30} // backend never catches up

	o := New(escrow, be, fastConfig())
	res, err := o.CloseExpired(context.Background(), 6, 14)

	require.NoError(t, err, "slow backend sync must not fail the close")
	assert.True(t, res.SyncPending)
	assert.True(t, escrow.closed)
}

func TestCloseExpiredPropagatesCloseRevert(t *testing.T) {
	escrow := &fakeEscrow{
		bounty:   expiredBounty(1),
		closeErr: errors.New("execution reverted: pending submissions remain"),
		submissions: map[uint64]*chain.SubmissionInfo{
			0: {StatusCode: chain.SubmissionCodePendingVerdikta},
		},
		finalizeErr: map[uint64]error{0: errors.New("execution reverted: evaluation not ready")},
	}

	o := New(escrow, &fakeBackend{}, fastConfig())
	_, err := o.CloseExpired(context.Background(), 6, 14)

	assert.ErrorContains(t, err, "closeExpiredBounty failed")
}

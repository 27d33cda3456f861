package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(server.URL, "test-key", 5*time.Second)
}

func TestListJobsBuildsFilterQuery(t *testing.T) {
	var gotQuery map[string][]string
	var gotKey string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/jobs", r.URL.Path)
		gotQuery = r.URL.Query()
		gotKey = r.Header.Get("X-Bot-API-Key")
		json.NewEncoder(w).Encode([]Job{{ID: 1, Title: "Port the data pipeline"}})
	})

	classID := uint64(128)
	jobs, err := client.ListJobs(context.Background(), ListFilter{
		Status:             "OPEN",
		Search:             "pipeline",
		MinPayout:          "1000000000000000000",
		WorkProductType:    "code",
		MinHoursLeft:       12,
		MinBountyUSD:       50,
		ExcludeSubmittedBy: "0x2B5AD5c4795c026514f8317c7a215E218DcCD6cF",
		ClassID:            &classID,
		Creator:            "0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf",
		ChainID:            84532,
	})

	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "test-key", gotKey)
	assert.Equal(t, []string{"OPEN"}, gotQuery["status"])
	assert.Equal(t, []string{"pipeline"}, gotQuery["search"])
	assert.Equal(t, []string{"1000000000000000000"}, gotQuery["minPayout"])
	assert.Equal(t, []string{"code"}, gotQuery["workProductType"])
	assert.Equal(t, []string{"12"}, gotQuery["minHoursLeft"])
	assert.Equal(t, []string{"50"}, gotQuery["minBountyUSD"])
	assert.Equal(t, []string{"0x2B5AD5c4795c026514f8317c7a215E218DcCD6cF"}, gotQuery["excludeSubmittedBy"])
	assert.Equal(t, []string{"128"}, gotQuery["classId"])
	assert.Equal(t, []string{"84532"}, gotQuery["chainId"])
	assert.NotContains(t, gotQuery, "hunter", "empty filter fields stay out of the query")
}

func TestGetJobIncludeDetails(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/jobs/7", r.URL.Path)
		assert.Equal(t, "details", r.URL.Query().Get("include"))
		json.NewEncoder(w).Encode(Job{ID: 7, Submissions: []Submission{{ID: 21}}})
	})

	job, err := client.GetJob(context.Background(), 7, true)

	require.NoError(t, err)
	assert.Len(t, job.Submissions, 1)
}

func TestSubmitWorkMultipartShape(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/jobs/7/submit", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(32<<20))

		assert.Equal(t, "0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf", r.FormValue("hunter"))
		assert.Equal(t, "see README for the run instructions", r.FormValue("submissionNarrative"))

		var descriptions map[string]string
		require.NoError(t, json.Unmarshal([]byte(r.FormValue("fileDescriptions")), &descriptions))
		assert.Equal(t, "benchmark results", descriptions["results.csv"])

		files := r.MultipartForm.File["files"]
		require.Len(t, files, 2)
		assert.Equal(t, "solution.py", files[0].Filename)

		json.NewEncoder(w).Encode(Submission{ID: 33, JobID: 7, HunterCid: "bafybeiarchive"})
	})

	sub, err := client.SubmitWork(context.Background(), 7,
		"0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf",
		"see README for the run instructions",
		[]SubmissionFile{
			{Name: "solution.py", Content: []byte("print('hi')")},
			{Name: "results.csv", Description: "benchmark results", Content: []byte("a,b\n1,2\n")},
		})

	require.NoError(t, err)
	assert.Equal(t, int64(33), sub.ID)
	assert.Equal(t, "bafybeiarchive", sub.HunterCid)
}

func TestSubmitWorkRejectsMissingCid(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Submission{ID: 33})
	})

	_, err := client.SubmitWork(context.Background(), 7, "0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf", "", []SubmissionFile{{Name: "a.txt", Content: []byte("x")}})

	assert.ErrorContains(t, err, "no archive CID")
}

func TestPersistBountyIDPayload(t *testing.T) {
	var patched map[string]interface{}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/api/jobs/7/bountyId", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&patched))
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, client.PersistBountyID(context.Background(), 7, BountyRecord{
		BountyID:    14,
		TxHash:      "0xabc",
		BlockNumber: 19_204_551,
	}))
	assert.Equal(t, float64(14), patched["bountyId"])
	assert.Equal(t, "0xabc", patched["txHash"])
	assert.Equal(t, float64(19_204_551), patched["blockNumber"])
}

func TestResolveBountyIDSendsFingerprint(t *testing.T) {
	var got map[string]interface{}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/api/jobs/7/bountyId/resolve", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(map[string]uint64{"bountyId": 14})
	})

	id, err := client.ResolveBountyID(context.Background(), 7, ResolveRequest{
		Creator:             "0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf",
		EvaluationCid:       "bafyeval",
		SubmissionCloseTime: 1_769_000_000,
	})
	require.NoError(t, err)
	require.NotNil(t, id)
	assert.Equal(t, uint64(14), *id)
	assert.Equal(t, "0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf", got["creator"])
	assert.Equal(t, "bafyeval", got["evaluationCid"])
	assert.Equal(t, float64(1_769_000_000), got["submissionCloseTime"])
	assert.NotContains(t, got, "txHash", "empty fingerprint fields stay out of the payload")
}

func TestResolveBountyIDUnknownIsNotAnError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "no mapping"})
	})

	id, err := client.ResolveBountyID(context.Background(), 7, ResolveRequest{Creator: "0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf"})

	assert.NoError(t, err)
	assert.Nil(t, id)
}

func TestAPIErrorDecoding(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]string{"error": "deadline already passed"})
	})

	_, err := client.CreateJob(context.Background(), CreateJobRequest{Title: "x"})

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
	assert.Contains(t, apiErr.Error(), "deadline already passed")
	assert.False(t, IsNotFound(err))
}

func TestPatchSubmissionOmitsEmptyFields(t *testing.T) {
	var body map[string]interface{}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/api/jobs/7/submissions/33", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("{}"))
	})

	err := client.PatchSubmission(context.Background(), 7, 33, UpdateSubmission{Status: "PendingVerdikta", TxHash: "0xbb"})

	require.NoError(t, err)
	assert.Equal(t, "PendingVerdikta", body["status"])
	assert.NotContains(t, body, "acceptancePercent")
	assert.NotContains(t, body, "submissionId")
}

func TestCloseJobRoute(t *testing.T) {
	var hit bool
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hit = true
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/jobs/7/close", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	})

	require.NoError(t, client.CloseJob(context.Background(), 7))
	assert.True(t, hit)
}

func TestEstimateFee(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/jobs/7/estimate-fee", r.URL.Path)
		json.NewEncoder(w).Encode(FeeEstimate{MaxTotalFeeWei: "9000000000000000"})
	})

	est, err := client.EstimateFee(context.Background(), 7)

	require.NoError(t, err)
	assert.Equal(t, "9000000000000000", est.MaxTotalFeeWei)
}

// Package backend is the typed client for the marketplace backend API. The
// backend is the system of record for job listings and submission metadata;
// chain state always wins on conflict, which callers resolve via the status
// reconciler rather than here.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
)

// Client talks to the marketplace backend over HTTP.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a backend client. apiKey may be empty for read-only use.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body io.Reader, contentType string, out interface{}) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("failed to build %s %s request: %w", method, path, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.apiKey != "" {
		req.Header.Set("X-Bot-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("backend request %s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if decodeErr := json.NewDecoder(resp.Body).Decode(apiErr); decodeErr != nil {
			apiErr.Message = ""
		}
		return apiErr
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
		}
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload interface{}, out interface{}) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode %s %s payload: %w", method, path, err)
		}
		body = bytes.NewReader(data)
	}
	return c.do(ctx, method, path, nil, body, "application/json", out)
}

// ListJobs returns jobs matching the filter.
func (c *Client) ListJobs(ctx context.Context, filter ListFilter) ([]Job, error) {
	query := url.Values{}
	if filter.Status != "" {
		query.Set("status", filter.Status)
	}
	if filter.Search != "" {
		query.Set("search", filter.Search)
	}
	if filter.MinPayout != "" {
		query.Set("minPayout", filter.MinPayout)
	}
	if filter.WorkProductType != "" {
		query.Set("workProductType", filter.WorkProductType)
	}
	if filter.MinHoursLeft > 0 {
		query.Set("minHoursLeft", strconv.Itoa(filter.MinHoursLeft))
	}
	if filter.MinBountyUSD > 0 {
		query.Set("minBountyUSD", strconv.FormatFloat(filter.MinBountyUSD, 'f', -1, 64))
	}
	if filter.ExcludeSubmittedBy != "" {
		query.Set("excludeSubmittedBy", filter.ExcludeSubmittedBy)
	}
	if filter.ClassID != nil {
		query.Set("classId", strconv.FormatUint(*filter.ClassID, 10))
	}
	if filter.Creator != "" {
		query.Set("creator", filter.Creator)
	}
	if filter.Hunter != "" {
		query.Set("hunter", filter.Hunter)
	}
	if filter.ChainID != 0 {
		query.Set("chainId", strconv.FormatUint(filter.ChainID, 10))
	}

	var jobs []Job
	if err := c.do(ctx, http.MethodGet, "/api/jobs", query, nil, "", &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// GetJob fetches a single job. includeDetails pulls submissions along.
func (c *Client) GetJob(ctx context.Context, jobID int64, includeDetails bool) (*Job, error) {
	query := url.Values{}
	if includeDetails {
		query.Set("include", "details")
	}
	var job Job
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/jobs/%d", jobID), query, nil, "", &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// CreateJob registers a new job listing and returns the created record.
func (c *Client) CreateJob(ctx context.Context, req CreateJobRequest) (*Job, error) {
	var job Job
	if err := c.doJSON(ctx, http.MethodPost, "/api/jobs", req, &job); err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{"jobID": job.ID, "creator": req.CreatorAddress}).Info("📋 Job registered with backend")
	return &job, nil
}

// PersistBountyID records the on-chain coordinates for a job after the
// create transaction confirms.
func (c *Client) PersistBountyID(ctx context.Context, jobID int64, record BountyRecord) error {
	if err := c.doJSON(ctx, http.MethodPatch, fmt.Sprintf("/api/jobs/%d/bountyId", jobID), record, nil); err != nil {
		return fmt.Errorf("failed to persist bounty id %d for job %d: %w", record.BountyID, jobID, err)
	}
	return nil
}

// ResolveBountyID asks the backend to recover the on-chain id from its own
// indexer, matching on the job fingerprint. A nil result with nil error
// means the backend does not know either.
func (c *Client) ResolveBountyID(ctx context.Context, jobID int64, req ResolveRequest) (*uint64, error) {
	var resp struct {
		BountyID *uint64 `json:"bountyId"`
	}
	err := c.doJSON(ctx, http.MethodPatch, fmt.Sprintf("/api/jobs/%d/bountyId/resolve", jobID), req, &resp)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return resp.BountyID, nil
}

// SubmissionFile is one archive member uploaded with a submission.
type SubmissionFile struct {
	Name        string
	Description string
	Content     []byte
}

// SubmitWork uploads the hunter's files and narrative. The backend bundles
// the files, pins the archive to IPFS, and returns the resulting record with
// HunterCid populated.
func (c *Client) SubmitWork(ctx context.Context, jobID int64, hunter, narrative string, files []SubmissionFile) (*Submission, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	for _, f := range files {
		part, err := writer.CreateFormFile("files", f.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to add file %s to upload: %w", f.Name, err)
		}
		if _, err := part.Write(f.Content); err != nil {
			return nil, fmt.Errorf("failed to write file %s to upload: %w", f.Name, err)
		}
	}

	descriptions := make(map[string]string, len(files))
	for _, f := range files {
		if f.Description != "" {
			descriptions[f.Name] = f.Description
		}
	}
	if len(descriptions) > 0 {
		descJSON, err := json.Marshal(descriptions)
		if err != nil {
			return nil, fmt.Errorf("failed to encode file descriptions: %w", err)
		}
		if err := writer.WriteField("fileDescriptions", string(descJSON)); err != nil {
			return nil, fmt.Errorf("failed to add file descriptions: %w", err)
		}
	}
	if err := writer.WriteField("hunter", hunter); err != nil {
		return nil, fmt.Errorf("failed to add hunter field: %w", err)
	}
	if narrative != "" {
		if err := writer.WriteField("submissionNarrative", narrative); err != nil {
			return nil, fmt.Errorf("failed to add narrative field: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish upload body: %w", err)
	}

	var sub Submission
	path := fmt.Sprintf("/api/jobs/%d/submit", jobID)
	if err := c.do(ctx, http.MethodPost, path, nil, &buf, writer.FormDataContentType(), &sub); err != nil {
		return nil, err
	}
	if sub.HunterCid == "" {
		return nil, fmt.Errorf("backend accepted submission for job %d but returned no archive CID", jobID)
	}
	log.WithFields(log.Fields{
		"jobID":     jobID,
		"hunter":    hunter,
		"hunterCid": sub.HunterCid,
		"files":     len(files),
	}).Info("📤 Submission uploaded to backend")
	return &sub, nil
}

// UpdateSubmission pushes chain-derived state for a submission record.
type UpdateSubmission struct {
	Status            string   `json:"status,omitempty"`
	SubmissionID      *uint64  `json:"submissionId,omitempty"`
	VerdiktaAggID     string   `json:"verdiktaAggId,omitempty"`
	TxHash            string   `json:"txHash,omitempty"`
	AcceptancePercent *float64 `json:"acceptancePercent,omitempty"`
	RejectionPercent  *float64 `json:"rejectionPercent,omitempty"`
	JustificationCids []string `json:"justificationCids,omitempty"`
}

// PatchSubmission applies a partial update to a submission record.
func (c *Client) PatchSubmission(ctx context.Context, jobID, recordID int64, update UpdateSubmission) error {
	path := fmt.Sprintf("/api/jobs/%d/submissions/%d", jobID, recordID)
	return c.doJSON(ctx, http.MethodPatch, path, update, nil)
}

// RefreshSubmission asks the backend to re-read chain state for a submission.
func (c *Client) RefreshSubmission(ctx context.Context, jobID, recordID int64) (*Submission, error) {
	var sub Submission
	path := fmt.Sprintf("/api/jobs/%d/submissions/%d/refresh", jobID, recordID)
	if err := c.do(ctx, http.MethodPost, path, nil, nil, "", &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// CancelSubmission marks a prepared-only submission as cancelled.
func (c *Client) CancelSubmission(ctx context.Context, jobID, recordID int64) error {
	path := fmt.Sprintf("/api/jobs/%d/submissions/%d/cancel", jobID, recordID)
	return c.do(ctx, http.MethodPost, path, nil, nil, "", nil)
}

// CloseJob marks a job closed after closeExpiredBounty confirms.
func (c *Client) CloseJob(ctx context.Context, jobID int64) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/jobs/%d/close", jobID), nil, nil, "", nil)
}

// EstimateFee returns the backend's oracle fee projection for a job.
func (c *Client) EstimateFee(ctx context.Context, jobID int64) (*FeeEstimate, error) {
	var est FeeEstimate
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/jobs/%d/estimate-fee", jobID), nil, nil, "", &est); err != nil {
		return nil, err
	}
	return &est, nil
}

// GetRubric fetches the evaluation rubric attached to a job.
func (c *Client) GetRubric(ctx context.Context, jobID int64) (*Rubric, error) {
	var rubric Rubric
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/jobs/%d/rubric", jobID), nil, nil, "", &rubric); err != nil {
		return nil, err
	}
	return &rubric, nil
}

// Validate runs backend-side validation on an uploaded archive CID.
func (c *Client) Validate(ctx context.Context, jobID int64, archiveCid string) (*ValidationResult, error) {
	payload := map[string]string{"cid": archiveCid}
	var result ValidationResult
	path := fmt.Sprintf("/api/jobs/%d/validate", jobID)
	if err := c.doJSON(ctx, http.MethodPost, path, payload, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

package main

import (
	"bytes"
	"context"
	"errors"
	"mime/multipart"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verdikta/verdikta-applications-sub001/pkgs/backend"
)

type flakyLister struct {
	failures int
	calls    int
}

func (f *flakyLister) ListJobs(ctx context.Context, filter backend.ListFilter) ([]backend.Job, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("connection refused")
	}
	return nil, nil
}

func TestWaitForBackendRetriesUntilReady(t *testing.T) {
	lister := &flakyLister{failures: 3}

	err := waitForBackend(context.Background(), lister, time.Millisecond, 10)

	require.NoError(t, err)
	assert.Equal(t, 4, lister.calls)
}

func TestWaitForBackendGivesUpAfterBudget(t *testing.T) {
	lister := &flakyLister{failures: 100}

	err := waitForBackend(context.Background(), lister, time.Millisecond, 5)

	require.Error(t, err)
	assert.ErrorContains(t, err, "after 5 attempts")
	assert.Equal(t, 5, lister.calls)
}

func TestWaitForBackendStopsOnCancel(t *testing.T) {
	lister := &flakyLister{failures: 100}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := waitForBackend(ctx, lister, time.Hour, 5)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, lister.calls, "a cancelled context must not burn the retry budget")
}

func TestHandleSubmitRejectsMalformedFileDescriptions(t *testing.T) {
	server := NewAPIServer(&Agent{})

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	require.NoError(t, form.WriteField("hunter", "0x1111111111111111111111111111111111111111"))
	require.NoError(t, form.WriteField("fileDescriptions", "not-json"))
	require.NoError(t, form.Close())

	req := httptest.NewRequest("POST", "/api/v1/jobs/7/submissions", &body)
	req.Header.Set("Content-Type", form.FormDataContentType())
	rec := httptest.NewRecorder()

	server.Router().ServeHTTP(rec, req)

	assert.Equal(t, 400, rec.Code)
	assert.Contains(t, rec.Body.String(), "fileDescriptions")
}

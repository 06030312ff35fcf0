package certification

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnpath/learnpath-core/internal/domain/result"
	"github.com/learnpath/learnpath-core/internal/domain/shared"
	"github.com/learnpath/learnpath-core/pkg/retry"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(ClientConfig{
		BaseURL: srv.URL,
		APIKey:  "test-key",
		Timeout: time.Second,
		Retrier: retry.New(
			retry.WithMaxAttempts(3),
			retry.WithInitialDelay(time.Millisecond),
			retry.WithMaxDelay(2*time.Millisecond),
		),
	})
	require.NoError(t, err)
	return c
}

func approvedRecord() *result.Record {
	at := time.Date(2025, 3, 7, 10, 0, 0, 0, time.UTC)
	return &result.Record{
		ID:           "res-1",
		EnrollmentID: "enr-1",
		UnitID:       "unit-1",
		ModuleName:   "Week 1",
		Status:       result.StatusApproved,
		EvidenceRefs: []string{"gs://bucket/a.pdf"},
		ApprovedBy:   "fac-1",
		ApprovedAt:   &at,
	}
}

func TestSubmitResult_Acknowledged(t *testing.T) {
	var got submissionRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/results", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "res-1", r.Header.Get("Idempotency-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"acknowledgement_id":"ACK-77","status":"received"}`))
	})

	ack, err := c.SubmitResult(t.Context(), approvedRecord())
	require.NoError(t, err)
	assert.Equal(t, "ACK-77", ack)
	assert.Equal(t, "res-1", got.ReferenceID)
	assert.Equal(t, "fac-1", got.ApprovedBy)
	assert.Equal(t, "2025-03-07T10:00:00Z", got.ApprovedAt)
	assert.Equal(t, []string{"gs://bucket/a.pdf"}, got.EvidenceRefs)
}

func TestSubmitResult_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"acknowledgement_id":"ACK-3"}`))
	})

	ack, err := c.SubmitResult(t.Context(), approvedRecord())
	require.NoError(t, err)
	assert.Equal(t, "ACK-3", ack)
	assert.Equal(t, int32(3), calls.Load())
}

func TestSubmitResult_UnavailableAfterRetries(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.SubmitResult(t.Context(), approvedRecord())
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrCertificationUnavailable)
	assert.True(t, shared.IsRetryable(err))
	assert.Equal(t, int32(3), calls.Load())
}

func TestSubmitResult_RejectionIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"code":"missing_evidence","message":"evidence is required"}`))
	})

	_, err := c.SubmitResult(t.Context(), approvedRecord())
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrCertificationRejected)
	assert.NotErrorIs(t, err, shared.ErrCertificationUnavailable)
	assert.Contains(t, err.Error(), "evidence is required")
	assert.Equal(t, int32(1), calls.Load())
}

func TestSubmitResult_MissingAcknowledgement(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"received"}`))
	})

	_, err := c.SubmitResult(t.Context(), approvedRecord())
	assert.ErrorIs(t, err, shared.ErrCertificationRejected)
}

func TestNewClient_RequiresBaseURL(t *testing.T) {
	_, err := NewClient(ClientConfig{})
	assert.Error(t, err)
}

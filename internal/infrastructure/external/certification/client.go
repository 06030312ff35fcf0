// Package certification implements the client of the external certification
// authority that receives approved result records.
package certification

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/learnpath/learnpath-core/internal/domain/result"
	"github.com/learnpath/learnpath-core/internal/domain/shared"
	"github.com/learnpath/learnpath-core/pkg/circuitbreaker"
	"github.com/learnpath/learnpath-core/pkg/logger"
	"github.com/learnpath/learnpath-core/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// ClientConfig contains configuration for the certification client.
type ClientConfig struct {
	// BaseURL is the certification API base URL
	BaseURL string

	// APIKey is sent as a bearer token
	APIKey string

	// Timeout is the per-request HTTP timeout
	Timeout time.Duration

	// Retrier overrides the default certification backoff policy.
	// Only errors wrapped with retry.Retryable are retried.
	Retrier *retry.Retrier

	Logger *logger.Logger
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig(baseURL, apiKey string) ClientConfig {
	return ClientConfig{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Timeout: 20 * time.Second,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// DTO
// ══════════════════════════════════════════════════════════════════════════════

type submissionRequest struct {
	ReferenceID  string   `json:"reference_id"`
	EnrollmentID string   `json:"enrollment_id"`
	UnitID       string   `json:"unit_id"`
	ModuleName   string   `json:"module_name"`
	ApprovedBy   string   `json:"approved_by"`
	ApprovedAt   string   `json:"approved_at,omitempty"`
	EvidenceRefs []string `json:"evidence_refs"`
}

type submissionResponse struct {
	AcknowledgementID string `json:"acknowledgement_id"`
	Status            string `json:"status"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client submits approved result records. Transient failures are retried
// with backoff behind a circuit breaker; a rejection is returned at once.
type Client struct {
	http    *resty.Client
	breaker *circuitbreaker.CircuitBreaker
	retrier *retry.Retrier
	logger  *logger.Logger
}

// NewClient creates a certification client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("certification: base URL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	log := cfg.Logger.Named("certification")

	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json").
		SetHeader("Content-Type", "application/json")
	if cfg.APIKey != "" {
		httpClient.SetAuthToken(cfg.APIKey)
	}

	c := &Client{http: httpClient, retrier: cfg.Retrier, logger: log}
	c.breaker = circuitbreaker.CertificationBreaker(func(name string, from, to circuitbreaker.State) {
		log.Warn("circuit breaker state changed",
			logger.String("breaker", name),
			logger.String("from", from.String()),
			logger.String("to", to.String()),
		)
	})
	if c.retrier == nil {
		c.retrier = retry.CertificationRetrier(func(attempt int, err error, delay time.Duration) {
			log.Warn("retrying submission",
				logger.Int("attempt", attempt),
				logger.Duration("delay", delay),
				logger.Err(err),
			)
		})
	}
	return c, nil
}

// SubmitResult hands record to the certification authority and returns its
// acknowledgement ID. The record ID is sent as the reference so a repeated
// call for the same record is idempotent on the remote side.
func (c *Client) SubmitResult(ctx context.Context, record *result.Record) (string, error) {
	if record == nil {
		return "", shared.NewDomainError("certification", "Submit", shared.ErrInvalidInput, "record is required")
	}

	req := submissionRequest{
		ReferenceID:  record.ID,
		EnrollmentID: record.EnrollmentID,
		UnitID:       record.UnitID,
		ModuleName:   record.ModuleName,
		ApprovedBy:   record.ApprovedBy,
		EvidenceRefs: record.EvidenceRefs,
	}
	if record.ApprovedAt != nil {
		req.ApprovedAt = record.ApprovedAt.UTC().Format(time.RFC3339)
	}
	if req.EvidenceRefs == nil {
		req.EvidenceRefs = []string{}
	}

	start := time.Now()
	var ackID string
	err := c.retrier.Do(ctx, func(ctx context.Context) error {
		err := c.breaker.Execute(ctx, func(ctx context.Context) error {
			var err error
			ackID, err = c.post(ctx, req)
			return err
		})
		switch {
		case err == nil:
			return nil
		case errors.Is(err, circuitbreaker.ErrCircuitOpen), errors.Is(err, circuitbreaker.ErrTooManyRequests):
			// An open breaker stays open for longer than the backoff window.
			return shared.WrapError("certification", "Submit", shared.ErrCertificationUnavailable,
				"circuit open", err)
		case errors.Is(err, shared.ErrCertificationUnavailable):
			return retry.Retryable(err)
		default:
			return err
		}
	})
	if err != nil {
		c.logger.Error("submission failed",
			logger.ResultID(record.ID),
			logger.Latency(time.Since(start)),
			logger.Err(err),
		)
		return "", err
	}

	c.logger.Info("submission acknowledged",
		logger.ResultID(record.ID),
		logger.String("acknowledgement_id", ackID),
		logger.Latency(time.Since(start)),
	)
	return ackID, nil
}

func (c *Client) post(ctx context.Context, body submissionRequest) (string, error) {
	var (
		ok   submissionResponse
		fail errorResponse
	)
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Idempotency-Key", body.ReferenceID).
		SetBody(body).
		SetResult(&ok).
		SetError(&fail).
		Post("/v1/results")
	if err != nil {
		return "", shared.WrapError("certification", "Submit", shared.ErrCertificationUnavailable,
			"request failed", err)
	}

	status := resp.StatusCode()
	switch {
	case status == http.StatusTooManyRequests || status >= 500:
		return "", shared.WrapError("certification", "Submit", shared.ErrCertificationUnavailable,
			fmt.Sprintf("status %d", status), errors.New(describe(fail, resp)))
	case status >= 400:
		return "", shared.WrapError("certification", "Submit", shared.ErrCertificationRejected,
			fmt.Sprintf("status %d", status), errors.New(describe(fail, resp)))
	}

	if strings.TrimSpace(ok.AcknowledgementID) == "" {
		return "", shared.WrapError("certification", "Submit", shared.ErrCertificationRejected,
			"response has no acknowledgement id", nil)
	}
	return ok.AcknowledgementID, nil
}

// Breaker exposes the circuit breaker for health reporting.
func (c *Client) Breaker() *circuitbreaker.CircuitBreaker {
	return c.breaker
}

func describe(e errorResponse, resp *resty.Response) string {
	if e.Message != "" {
		if e.Code != "" {
			return e.Code + ": " + e.Message
		}
		return e.Message
	}
	body := strings.TrimSpace(resp.String())
	if len(body) > 200 {
		body = body[:200]
	}
	return body
}

var _ result.Submitter = (*Client)(nil)

// Package sendgrid delivers learner e-mails through the SendGrid v3 mail API.
package sendgrid

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	sg "github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/learnpath/learnpath-core/internal/domain/notification"
	"github.com/learnpath/learnpath-core/internal/domain/shared"
	"github.com/learnpath/learnpath-core/pkg/circuitbreaker"
	"github.com/learnpath/learnpath-core/pkg/logger"
	"github.com/learnpath/learnpath-core/pkg/retry"
)

const mailSendEndpoint = "/v3/mail/send"

// Config contains configuration for the Sender.
type Config struct {
	APIKey    string
	FromEmail string
	FromName  string

	// BaseURL overrides https://api.sendgrid.com.
	BaseURL string

	// Retrier overrides the default notification backoff policy.
	Retrier *retry.Retrier

	Logger *logger.Logger
}

// Sender implements notification.Sender.
type Sender struct {
	apiKey  string
	baseURL string
	from    *mail.Email
	breaker *circuitbreaker.CircuitBreaker
	retrier *retry.Retrier
	logger  *logger.Logger
}

// NewSender creates a Sender.
func NewSender(cfg Config) (*Sender, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("sendgrid: API key is required")
	}
	if strings.TrimSpace(cfg.FromEmail) == "" {
		return nil, errors.New("sendgrid: from address is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	if cfg.Retrier == nil {
		cfg.Retrier = retry.NotificationRetrier()
	}
	log := cfg.Logger.Named("sendgrid")

	return &Sender{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		from:    mail.NewEmail(cfg.FromName, cfg.FromEmail),
		breaker: circuitbreaker.MailBreaker(func(name string, from, to circuitbreaker.State) {
			log.Warn("circuit breaker state changed",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
		}),
		retrier: cfg.Retrier,
		logger:  log,
	}, nil
}

// client builds a fresh API client. sendgrid.Client keeps the request body
// on the struct, so one instance must not be shared between goroutines.
func (s *Sender) client() *sg.Client {
	req := sg.GetRequest(s.apiKey, mailSendEndpoint, s.baseURL)
	req.Method = http.MethodPost
	return &sg.Client{Request: req}
}

// Send delivers msg. 429 and 5xx responses are retried; other 4xx are not.
func (s *Sender) Send(ctx context.Context, msg notification.Message) (notification.DeliveryResult, error) {
	if err := msg.Validate(); err != nil {
		return notification.DeliveryResult{}, shared.WrapError("notification", "Send", shared.ErrInvalidInput, "invalid message", err)
	}

	email := mail.NewSingleEmail(
		s.from,
		msg.Subject,
		mail.NewEmail(msg.RecipientName, msg.To),
		msg.Body,
		"",
	)
	email.AddCategories(string(msg.Type))

	var res notification.DeliveryResult
	err := s.retrier.Do(ctx, func(ctx context.Context) error {
		return s.breaker.Execute(ctx, func(ctx context.Context) error {
			resp, err := s.client().SendWithContext(ctx, email)
			if err != nil {
				res = notification.DeliveryResult{Retryable: true}
				return retry.Retryable(fmt.Errorf("send: %w", err))
			}

			res = notification.DeliveryResult{
				StatusCode:  resp.StatusCode,
				MessageID:   firstHeader(resp.Headers, "X-Message-Id"),
				DeliveredAt: time.Now().UTC(),
			}
			switch {
			case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
				res.Retryable = true
				return retry.Retryable(fmt.Errorf("status %d: %s", resp.StatusCode, truncate(resp.Body)))
			case resp.StatusCode >= 300:
				return fmt.Errorf("status %d: %s", resp.StatusCode, truncate(resp.Body))
			}
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
			res.Retryable = true
		}
		return res, shared.WrapError("notification", "Send", shared.ErrNotificationFailed, "sendgrid delivery failed", err)
	}

	s.logger.Debug("mail accepted",
		logger.IdentityID(msg.RecipientID),
		logger.Int("status", res.StatusCode),
	)
	return res, nil
}

func firstHeader(headers map[string][]string, key string) string {
	if v := headers[key]; len(v) > 0 {
		return v[0]
	}
	if v := http.Header(headers).Get(key); v != "" {
		return v
	}
	return ""
}

func truncate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 200 {
		return s[:200]
	}
	return s
}

var _ notification.Sender = (*Sender)(nil)

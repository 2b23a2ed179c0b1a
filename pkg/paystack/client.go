// Package paystack is a small client for the Paystack endpoints billing uses:
// transaction initialization, subscription disable and webhook signatures.
package paystack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	pkgerrors "github.com/settla/settla-backend/pkg/errors"
)

const (
	defaultBaseURL          = "https://api.paystack.co"
	defaultTimeout          = 10 * time.Second
	defaultMaxRetries       = 3
	defaultBackoff          = 200 * time.Millisecond
	responseBodyLimit int64 = 1 << 20
)

var errSecretKeyRequired = errors.New("paystack secret key is required")

// Client talks to the Paystack REST API with the account secret key.
type Client struct {
	httpClient *http.Client
	baseURL    string
	secretKey  string
	maxRetries uint64
	backoff    time.Duration
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL points the client at another host, e.g. an httptest server.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/"); trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

// WithTimeout sets the per-attempt HTTP timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// WithRetry bounds how often a failed call is retried and the base delay of
// the exponential backoff between attempts.
func WithRetry(maxRetries int, backoff time.Duration) Option {
	return func(c *Client) {
		if maxRetries >= 0 {
			c.maxRetries = uint64(maxRetries)
		}
		if backoff > 0 {
			c.backoff = backoff
		}
	}
}

// NewClient builds a Paystack client for the given secret key.
func NewClient(secretKey string, opts ...Option) (*Client, error) {
	key := strings.TrimSpace(secretKey)
	if key == "" {
		return nil, errSecretKeyRequired
	}
	client := &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		baseURL:    defaultBaseURL,
		secretKey:  key,
		maxRetries: defaultMaxRetries,
		backoff:    defaultBackoff,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// InitializeTransactionParams is the checkout request. Amount is in kobo.
type InitializeTransactionParams struct {
	Email       string         `json:"email"`
	AmountKobo  int64          `json:"amount"`
	Reference   string         `json:"reference"`
	PlanCode    string         `json:"plan,omitempty"`
	Currency    string         `json:"currency,omitempty"`
	CallbackURL string         `json:"callback_url,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// InitializeTransactionResult carries the hosted checkout link.
type InitializeTransactionResult struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// InitializeTransaction starts a hosted checkout and returns its URL.
func (c *Client) InitializeTransaction(ctx context.Context, params InitializeTransactionParams) (*InitializeTransactionResult, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "paystack client not configured")
	}
	if strings.TrimSpace(params.Email) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer email is required")
	}
	if strings.TrimSpace(params.Reference) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment reference is required")
	}
	if params.AmountKobo <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}

	var result InitializeTransactionResult
	if err := c.post(ctx, "/transaction/initialize", params, &result); err != nil {
		return nil, err
	}
	if result.AuthorizationURL == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "paystack returned no authorization url")
	}
	return &result, nil
}

// DisableSubscription cancels a subscription on the Paystack side. The email
// token is the one delivered with subscription.create.
func (c *Client) DisableSubscription(ctx context.Context, code, emailToken string) error {
	if c == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "paystack client not configured")
	}
	if strings.TrimSpace(code) == "" || strings.TrimSpace(emailToken) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "subscription code and email token are required")
	}
	body := map[string]string{"code": code, "token": emailToken}
	return c.post(ctx, "/subscription/disable", body, nil)
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal paystack request")
	}

	backoff := retry.WithMaxRetries(c.maxRetries, retry.NewExponential(c.backoff))
	var data json.RawMessage
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		raw, attemptErr := c.attempt(ctx, path, payload)
		if attemptErr != nil {
			return attemptErr
		}
		data = raw
		return nil
	})
	if err != nil {
		var typed *pkgerrors.Error
		if errors.As(err, &typed) {
			return typed
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "paystack "+path)
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode paystack response")
	}
	return nil
}

// attempt performs one HTTP round trip. Network failures and 5xx/429
// responses are marked retryable; anything else ends the retry loop.
func (c *Client) attempt(ctx context.Context, path string, payload []byte) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build paystack request")
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "paystack request canceled")
		}
		return nil, retry.RetryableError(fmt.Errorf("paystack %s: %w", path, err))
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, responseBodyLimit))
	if err != nil {
		return nil, retry.RetryableError(fmt.Errorf("read paystack response: %w", err))
	}

	var env envelope
	_ = json.Unmarshal(body, &env)

	switch {
	case resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests:
		return nil, retry.RetryableError(fmt.Errorf("paystack %s: status %d: %s", path, resp.StatusCode, env.Message))
	case resp.StatusCode >= http.StatusBadRequest:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("paystack rejected %s: %s", path, messageOr(env.Message, resp.Status))).
			WithDetails(map[string]any{"status": resp.StatusCode})
	case !env.Status:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("paystack %s failed: %s", path, messageOr(env.Message, "status false")))
	}
	return env.Data, nil
}

func messageOr(message, fallback string) string {
	if strings.TrimSpace(message) == "" {
		return fallback
	}
	return message
}

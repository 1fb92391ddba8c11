// Package provider adapts the external fulfillment and payment APIs. It
// never touches balances or records; every call ends in a normalized
// Outcome.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/servicehub/backend/internal/metrics"
)

type Outcome int

const (
	Success Outcome = iota
	Rejected
	Unavailable
	Malformed
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Rejected:
		return "rejected"
	case Unavailable:
		return "unavailable"
	case Malformed:
		return "malformed"
	}
	return "unknown"
}

// Status codes the upstream APIs put in their "status" field.
const (
	CodeSuccess     = "200"
	CodeRefunded    = "300"
	CodeRejected    = "404"
	CodeUnavailable = "500"
)

// Error is returned for every non-success outcome.
type Error struct {
	Outcome  Outcome
	Provider string
	Code     string
	Message  string
	Err      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("provider %s: %s", e.Provider, e.Outcome)
	if e.Code != "" {
		msg += " (status " + e.Code + ")"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// OutcomeOf reports the outcome carried by err. Errors that did not come
// from this package are treated as Unavailable.
func OutcomeOf(err error) Outcome {
	if err == nil {
		return Success
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Outcome
	}
	return Unavailable
}

// StatusCode accepts both "200" and 200.
type StatusCode string

func (s *StatusCode) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		*s = StatusCode(strings.TrimSpace(str))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	if _, err := strconv.Atoi(n.String()); err != nil {
		return fmt.Errorf("status %s is not an integer", n)
	}
	*s = StatusCode(n.String())
	return nil
}

// Envelope is the union of fields the upstream APIs return.
type Envelope struct {
	Status    StatusCode `json:"status"`
	Message   string     `json:"message"`
	Token     string     `json:"token"`
	ApplNo    string     `json:"applno"`
	ApplName  string     `json:"applname"`
	DOB       string     `json:"dob"`
	Queue     flexString `json:"queue"`
	RTOCode   string     `json:"rtocode"`
	RTOName   string     `json:"rtoname"`
	StateCode string     `json:"statecode"`
	StateName string     `json:"statename"`
	Filename  string     `json:"filename"`
	Remarks   string     `json:"remarks"`
	Name      string     `json:"name"`
	PDF       string     `json:"pdf"`
}

// flexString tolerates numbers where a string is expected (queue positions).
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(b)
	return nil
}

type Config struct {
	APIKey    string
	UserAgent string
}

// Client carries the transport shared by every provider adapter.
type Client struct {
	http   *http.Client
	apiKey string
	agent  string
	logger *zap.Logger
}

func NewClient(httpClient *http.Client, cfg Config, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "ServiceHub/1.0"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{http: httpClient, apiKey: cfg.APIKey, agent: cfg.UserAgent, logger: logger.Named("provider")}
}

func (c *Client) postForm(ctx context.Context, name, endpoint string, form url.Values, timeout time.Duration) (*Envelope, error) {
	body := form.Encode()
	return c.do(ctx, name, timeout, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	})
}

func (c *Client) get(ctx context.Context, name, endpoint string, query url.Values, timeout time.Duration) (*Envelope, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, &Error{Outcome: Unavailable, Provider: name, Err: err}
	}
	q := u.Query()
	for k, vs := range query {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	target := u.String()

	return c.do(ctx, name, timeout, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	})
}

func (c *Client) do(ctx context.Context, name string, timeout time.Duration, build func(context.Context) (*http.Request, error)) (env *Envelope, err error) {
	start := time.Now()
	defer func() {
		metrics.ProviderDuration.WithLabelValues(name, OutcomeOf(err).String()).Observe(time.Since(start).Seconds())
	}()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := build(ctx)
	if err != nil {
		return nil, &Error{Outcome: Unavailable, Provider: name, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.agent)

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("provider request failed", zap.String("provider", name), zap.Error(err))
		return nil, &Error{Outcome: Unavailable, Provider: name, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 20<<20))
	if err != nil {
		return nil, &Error{Outcome: Unavailable, Provider: name, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn("provider returned http error",
			zap.String("provider", name),
			zap.Int("http_status", resp.StatusCode),
		)
		return nil, &Error{
			Outcome:  Unavailable,
			Provider: name,
			Code:     strconv.Itoa(resp.StatusCode),
			Message:  http.StatusText(resp.StatusCode),
		}
	}

	env = &Envelope{}
	if err := json.Unmarshal(raw, env); err != nil {
		c.logger.Warn("provider returned unparseable body", zap.String("provider", name), zap.Error(err))
		return nil, &Error{Outcome: Malformed, Provider: name, Err: err}
	}
	if env.Status == "" {
		return nil, &Error{Outcome: Malformed, Provider: name, Message: "response has no status"}
	}
	return env, nil
}

// classify maps the common status codes. Callers handle any code with a
// flow-specific meaning before calling it.
func classify(name string, env *Envelope) error {
	switch env.Status {
	case CodeSuccess:
		return nil
	case CodeRejected:
		return &Error{Outcome: Rejected, Provider: name, Code: string(env.Status), Message: env.Message}
	case CodeUnavailable:
		return &Error{Outcome: Unavailable, Provider: name, Code: string(env.Status), Message: env.Message}
	default:
		return &Error{Outcome: Malformed, Provider: name, Code: string(env.Status), Message: "unexpected status " + string(env.Status)}
	}
}

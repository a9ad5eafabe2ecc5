// Package streamclient issues streaming chat-completion HTTP calls,
// parses the server-sent-events response to extract first-token and
// per-token timing, and implements the hybrid retry policy: server
// directed retry-after-ms on 429 plus an outer capped exponential backoff
// with full jitter for transient transport failures.
package streamclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/guming3d/azure-openai-benchmark/internal/chatmsg"
	"github.com/guming3d/azure-openai-benchmark/internal/stats"
	"github.com/guming3d/azure-openai-benchmark/internal/tokencounter"
)

const (
	utilizationHeader  = "azure-openai-deployment-utilization"
	retryAfterMSHeader = "retry-after-ms"
	userAgentHeader    = "x-ms-useragent"
	userAgent          = "aoai-benchmark-go"

	maxRetryDuration  = 60 * time.Second
	backoffBaseDelay  = 500 * time.Millisecond
	maxBackoffAttempt = 10
)

// Config configures a Client.
type Config struct {
	HTTPClient        *http.Client
	URL               string
	APIKey            string
	Model             string
	OpenAICompatible  bool
	BackoffEnabled    bool
	PreventCaching    bool
	TokenCounter      tokencounter.Counter
	Logger            zerolog.Logger
	LogRequestContent bool
}

// Client issues one streaming chat-completion call per Call invocation.
type Client struct {
	cfg Config
}

// New builds a Client. If cfg.HTTPClient is nil, http.DefaultClient-like
// defaults are used.
func New(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	return &Client{cfg: cfg}
}

// Call performs one chat-completion request end to end, including retries,
// and always returns a populated record even on failure.
func (c *Client) Call(ctx context.Context, body RequestBody) *stats.Request {
	record := &stats.Request{}
	body.Stream = true

	start := time.Now()
	for attempt := 1; ; attempt++ {
		status, err := c.attempt(ctx, body, record)

		switch {
		case err != nil:
			record.LastException = err.Error()
			if record.ResponseEndTime.IsZero() {
				record.ResponseEndTime = time.Now()
			}
			if !c.cfg.BackoffEnabled || isTerminalTransportError(err) {
				return record
			}
		case status == 200:
			return record
		case status == 429:
			if !c.cfg.BackoffEnabled {
				return record
			}
		default:
			if c.cfg.BackoffEnabled {
				record.LastException = nonRetryableStatusError(status).Error()
			}
			return record
		}

		elapsed := time.Since(start)
		if elapsed >= maxRetryDuration {
			return record
		}
		wait := fullJitterBackoff(attempt, maxRetryDuration-elapsed)
		if !sleepOrCancel(ctx, wait) {
			return record
		}
	}
}

// attempt performs one outer-retry iteration: it prepares the body once
// (recomputing the anti-cache prefix and context token counts), then loops
// posting it as long as the server returns 429 with an honorable
// retry-after-ms header. It returns the last observed HTTP status, or a
// non-nil error for a transport-level failure.
func (c *Client) attempt(ctx context.Context, body RequestBody, record *stats.Request) (int, error) {
	if record.RequestStartTime.IsZero() {
		record.RequestStartTime = time.Now()
	}

	mutated := c.prepareBody(body, record)
	payload, err := json.Marshal(mutated)
	if err != nil {
		return 0, err
	}

	for {
		if record.Calls > 0 && time.Since(record.RequestStartTime) >= maxRetryDuration {
			return record.ResponseStatus, nil
		}
		record.Calls++

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(payload))
		if err != nil {
			return 0, err
		}
		c.setHeaders(req)

		resp, err := c.cfg.HTTPClient.Do(req)
		if err != nil {
			return 0, err
		}

		record.ResponseStatus = resp.StatusCode
		readUtilization(resp, record, c.cfg.Logger)

		if resp.StatusCode != http.StatusTooManyRequests {
			if resp.StatusCode == http.StatusOK {
				c.readStream(resp, record)
			} else {
				resp.Body.Close()
				record.ResponseEndTime = time.Now()
				c.cfg.Logger.Warn().
					Int("status", resp.StatusCode).
					Str("url", c.cfg.URL).
					Msg("call failed")
			}
			return resp.StatusCode, nil
		}

		retryAfter := resp.Header.Get(retryAfterMSHeader)
		resp.Body.Close()
		if !c.cfg.BackoffEnabled || retryAfter == "" {
			return http.StatusTooManyRequests, nil
		}
		ms, parseErr := strconv.ParseFloat(retryAfter, 64)
		if parseErr != nil {
			c.cfg.Logger.Warn().Str("retry_after_ms", retryAfter).Msg("unable to parse retry-after-ms header")
			return http.StatusTooManyRequests, nil
		}
		if !sleepOrCancel(ctx, time.Duration(ms*float64(time.Millisecond))) {
			return http.StatusTooManyRequests, nil
		}
	}
}

// prepareBody applies the anti-cache prefix (if enabled) to every user
// message and recomputes context token counts on the mutated content,
// matching the original tool's "count tokens after mutation" ordering.
func (c *Client) prepareBody(body RequestBody, record *stats.Request) RequestBody {
	messages := body.Messages

	if c.cfg.PreventCaching {
		prefix := anticachePrefix()
		mutated := make([]chatmsg.Message, len(messages))
		for i, m := range messages {
			mutated[i] = m
			if m.Role == "user" {
				mutated[i].Content = m.Content.PrependText(prefix)
			}
		}
		messages = mutated
	}

	if c.cfg.TokenCounter != nil {
		textTokens, imageTokens, err := c.cfg.TokenCounter.Count(messages)
		if err != nil {
			c.cfg.Logger.Warn().Err(err).Msg("token counting failed")
		}
		record.ContextTextTokens = textTokens
		record.ContextImgTokens = imageTokens
	}

	if c.cfg.LogRequestContent {
		record.InputMessages = toStatsMessages(messages)
	}

	body.Model = c.cfg.Model
	body.Messages = messages
	return body
}

func anticachePrefix() string {
	return "ts=" + strconv.FormatInt(time.Now().UnixNano(), 10) + " rand=" + strconv.FormatFloat(rand.Float64(), 'f', -1, 64) + "\n"
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(userAgentHeader, userAgent)
	req.Header.Set("api-key", c.cfg.APIKey)
	if c.cfg.OpenAICompatible {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
}

func readUtilization(resp *http.Response, record *stats.Request, logger zerolog.Logger) {
	v := resp.Header.Get(utilizationHeader)
	if v == "" {
		return
	}
	if v[len(v)-1] != '%' {
		logger.Warn().Str("utilization", v).Msg("invalid utilization header value")
		return
	}
	f, err := strconv.ParseFloat(v[:len(v)-1], 64)
	if err != nil {
		logger.Warn().Str("utilization", v).Err(err).Msg("unable to parse utilization header value")
		return
	}
	record.DeploymentUtilization = &f
}

func toStatsMessages(messages []chatmsg.Message) []stats.Message {
	out := make([]stats.Message, len(messages))
	for i, m := range messages {
		if m.Content.IsText() {
			out[i] = stats.Message{Role: m.Role, Content: *m.Content.Text}
		} else {
			out[i] = stats.Message{Role: m.Role, Content: m.Content.Parts}
		}
	}
	return out
}

// nonRetryableStatusError describes a terminal non-200/429 HTTP status,
// mirroring the error raise_for_status() would produce against the same
// response so the record's LastException is populated even though the
// status itself gives the outer backoff nothing to retry.
func nonRetryableStatusError(status int) error {
	return fmt.Errorf("non-retryable status code: %d", status)
}

// isTerminalTransportError reports whether err should abandon retries
// outright: DNS-class and connection-class errors, and context
// cancellation. Other transport errors from sending the request (e.g. a
// connection reset before the response headers arrive) are left to the
// outer backoff. Read errors in the middle of a 200 stream are not
// reported as errors; the stream simply ends.
func isTerminalTransportError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	return false
}

// fullJitterBackoff computes attempt-th backoff delay with full jitter,
// capped at remaining.
func fullJitterBackoff(attempt int, remaining time.Duration) time.Duration {
	if attempt > maxBackoffAttempt {
		attempt = maxBackoffAttempt
	}
	exp := backoffBaseDelay * time.Duration(int64(1)<<uint(attempt-1))
	if exp > remaining {
		exp = remaining
	}
	if exp <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(exp) + 1))
}

// sleepOrCancel waits for d, returning false early if ctx is cancelled
// first.
func sleepOrCancel(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// Package llm is a small client for OpenAI-compatible chat completion APIs
// (Mistral by default). It supports blocking completions and server-sent
// event streaming, and caps the number of concurrent upstream calls.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
)

// Message is one chat message sent upstream.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ErrMalformed is returned when a 2xx response cannot be decoded or carries
// no choices.
var ErrMalformed = errors.New("llm: malformed response")

// APIError is a non-2xx upstream reply.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("llm: upstream status %d: %s", e.Status, e.Body)
}

// RateLimited reports whether the upstream throttled the call.
func (e *APIError) RateLimited() bool { return e.Status == http.StatusTooManyRequests }

// IsRateLimited reports whether err wraps an HTTP 429 APIError.
func IsRateLimited(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.RateLimited()
}

// Options configures a Client.
type Options struct {
	BaseURL       string
	APIKey        string
	Model         string
	Temperature   float64
	MaxTokens     int
	MaxConcurrent int64
	HTTPClient    *http.Client
}

// Client talks to {BaseURL}/chat/completions.
type Client struct {
	opts Options
	hc   *http.Client
	sem  *semaphore.Weighted
}

// New builds a Client.
func New(opts Options) *Client {
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 4
	}
	hc := opts.HTTPClient
	if hc == nil {
		// Deadlines come from the caller's context.
		hc = &http.Client{}
	}
	return &Client{opts: opts, hc: hc, sem: semaphore.NewWeighted(opts.MaxConcurrent)}
}

type completionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
}

type completionResponse struct {
	Choices []struct {
		Message      Message `json:"message"`
		Delta        Message `json:"delta"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
}

// Complete runs a blocking completion and returns the first choice.
func (c *Client) Complete(ctx context.Context, msgs []Message) (out string, err error) {
	ctx, done := c.begin(ctx, "Complete", modeBlocking, len(msgs))
	defer func() { done(err) }()

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer c.sem.Release(1)

	resp, err := c.post(ctx, msgs, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var body completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(body.Choices) == 0 {
		return "", ErrMalformed
	}
	return body.Choices[0].Message.Content, nil
}

// Stream runs a streaming completion and calls onDelta with every non-empty
// text increment, in order. It returns once the server sends [DONE]. A
// stream that ends before [DONE] or a finish_reason is ErrMalformed.
func (c *Client) Stream(ctx context.Context, msgs []Message, onDelta func(string)) (err error) {
	ctx, done := c.begin(ctx, "Stream", modeStream, len(msgs))
	defer func() { done(err) }()

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer c.sem.Release(1)

	resp, err := c.post(ctx, msgs, true)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	finished := false
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "[DONE]" {
			return nil
		}
		var chunk completionResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if d := chunk.Choices[0].Delta.Content; d != "" {
			onDelta(d)
		}
		if chunk.Choices[0].FinishReason != "" {
			finished = true
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("llm: read stream: %w", err)
	}
	if !finished {
		return fmt.Errorf("%w: %w", ErrMalformed, io.ErrUnexpectedEOF)
	}
	return nil
}

func (c *Client) post(ctx context.Context, msgs []Message, stream bool) (*http.Response, error) {
	payload, err := json.Marshal(completionRequest{
		Model:       c.opts.Model,
		Messages:    msgs,
		Temperature: c.opts.Temperature,
		MaxTokens:   c.opts.MaxTokens,
		Stream:      stream,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	} else {
		req.Header.Set("Accept", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		resp.Body.Close()
		return nil, &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	return resp, nil
}

// begin opens a span and returns a finisher that records metrics.
func (c *Client) begin(ctx context.Context, op, mode string, n int) (context.Context, func(error)) {
	tr := otel.Tracer("llm/Client")
	ctx, span := tr.Start(ctx, op, trace.WithAttributes(
		attribute.String("llm.model", c.opts.Model),
		attribute.Int("llm.messages", n),
	))
	start := time.Now()
	return ctx, func(err error) {
		observe(mode, err, time.Since(start))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

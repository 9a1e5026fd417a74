// Package ocr extracts text from images through the OCR.space API.
package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var ocrReqs = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "ocr_requests_total",
		Help: "OCR attempts by outcome.",
	},
	[]string{"outcome"},
)

func init() {
	prometheus.MustRegister(ocrReqs)
}

// Options configures a Client.
type Options struct {
	URL        string
	APIKey     string
	Language   string
	Timeout    time.Duration // per attempt
	Retries    int
	BaseDelay  time.Duration // backoff is BaseDelay * 2^attempt
	HTTPClient *http.Client
	Sleep      func(context.Context, time.Duration) error
}

// Client calls OCR.space.
type Client struct {
	opts Options
	hc   *http.Client
}

// New builds a Client.
func New(opts Options) *Client {
	if opts.URL == "" {
		opts.URL = "https://api.ocr.space/parse/image"
	}
	if opts.Language == "" {
		opts.Language = "eng"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Retries <= 0 {
		opts.Retries = 3
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 800 * time.Millisecond
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepCtx
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{opts: opts, hc: hc}
}

type parseResponse struct {
	ParsedResults []struct {
		ParsedText string `json:"ParsedText"`
	} `json:"ParsedResults"`
	IsErroredOnProcessing bool `json:"IsErroredOnProcessing"`
	ErrorMessage          any  `json:"ErrorMessage"`
}

// Extract returns the recognised text, trimmed. It returns "" when no key is
// configured, the service reports a processing error, or every attempt fails.
func (c *Client) Extract(ctx context.Context, image []byte) string {
	if c.opts.APIKey == "" || len(image) == 0 {
		return ""
	}
	tr := otel.Tracer("ocr/Client")
	ctx, span := tr.Start(ctx, "Extract", trace.WithAttributes(attribute.Int("ocr.bytes", len(image))))
	defer span.End()

	for attempt := 0; attempt < c.opts.Retries; attempt++ {
		text, retry, err := c.once(ctx, image)
		if err == nil {
			ocrReqs.WithLabelValues("ok").Inc()
			return text
		}
		ocrReqs.WithLabelValues("error").Inc()
		log.Warn().Err(err).Int("attempt", attempt+1).Msg("ocr attempt failed")
		if !retry || attempt == c.opts.Retries-1 {
			break
		}
		if c.opts.Sleep(ctx, c.opts.BaseDelay<<attempt) != nil {
			break
		}
	}
	span.SetAttributes(attribute.Bool("ocr.empty", true))
	return ""
}

// once performs one attempt. retry is false for failures that another
// attempt cannot fix.
func (c *Client) once(ctx context.Context, image []byte) (text string, retry bool, err error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "image.jpg")
	if err != nil {
		return "", false, err
	}
	if _, err := fw.Write(image); err != nil {
		return "", false, err
	}
	_ = mw.WriteField("language", c.opts.Language)
	_ = mw.WriteField("isOverlayRequired", "false")
	if err := mw.Close(); err != nil {
		return "", false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.URL, &body)
	if err != nil {
		return "", false, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("apikey", c.opts.APIKey)

	resp, err := c.hc.Do(req)
	if err != nil {
		return "", true, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests,
			fmt.Errorf("ocr: status %d", resp.StatusCode)
	}

	var pr parseResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return "", true, fmt.Errorf("ocr: decode: %w", err)
	}
	if pr.IsErroredOnProcessing {
		return "", false, fmt.Errorf("ocr: processing error: %v", pr.ErrorMessage)
	}
	if len(pr.ParsedResults) == 0 {
		return "", false, fmt.Errorf("ocr: no parsed results")
	}
	return strings.TrimSpace(pr.ParsedResults[0].ParsedText), false, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

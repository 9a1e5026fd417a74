package ocr

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func noSleep(delays *[]time.Duration) func(context.Context, time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
}

func TestExtract_PostsMultipartAndReturnsText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("apikey") != "secret" {
			t.Errorf("apikey header = %q", r.Header.Get("apikey"))
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("multipart: %v", err)
			return
		}
		if r.FormValue("language") != "eng" || r.FormValue("isOverlayRequired") != "false" {
			t.Errorf("form = %v", r.MultipartForm.Value)
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Errorf("file part: %v", err)
			return
		}
		b, _ := io.ReadAll(f)
		if hdr.Filename != "image.jpg" || string(b) != "PNGDATA" {
			t.Errorf("file = %s %q", hdr.Filename, b)
		}
		_, _ = w.Write([]byte(`{"ParsedResults":[{"ParsedText":"  2 + 2 = ?\r\n"}],"IsErroredOnProcessing":false}`))
	}))
	defer srv.Close()

	c := New(Options{URL: srv.URL, APIKey: "secret"})
	if got := c.Extract(context.Background(), []byte("PNGDATA")); got != "2 + 2 = ?" {
		t.Fatalf("Extract = %q", got)
	}
}

func TestExtract_RetriesWithBackoff(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"ParsedResults":[{"ParsedText":"ok"}]}`))
	}))
	defer srv.Close()

	var delays []time.Duration
	c := New(Options{URL: srv.URL, APIKey: "k", Sleep: noSleep(&delays)})
	if got := c.Extract(context.Background(), []byte("x")); got != "ok" {
		t.Fatalf("Extract = %q", got)
	}
	if len(delays) != 2 || delays[0] != 800*time.Millisecond || delays[1] != 1600*time.Millisecond {
		t.Fatalf("delays = %v", delays)
	}
}

func TestExtract_EmptyOnFailure(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte(`{"IsErroredOnProcessing":true,"ErrorMessage":["bad image"]}`))
	}))
	defer srv.Close()

	var delays []time.Duration
	c := New(Options{URL: srv.URL, APIKey: "k", Sleep: noSleep(&delays)})
	if got := c.Extract(context.Background(), []byte("x")); got != "" {
		t.Fatalf("Extract = %q, want empty", got)
	}
	if calls != 1 {
		t.Fatalf("processing errors should not be retried, calls = %d", calls)
	}

	if got := New(Options{URL: srv.URL}).Extract(context.Background(), []byte("x")); got != "" {
		t.Fatalf("no api key should give empty text")
	}
}

func TestExtract_ExhaustsRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	var delays []time.Duration
	c := New(Options{URL: srv.URL, APIKey: "k", Retries: 3, Sleep: noSleep(&delays)})
	if got := c.Extract(context.Background(), []byte("x")); got != "" {
		t.Fatalf("Extract = %q", got)
	}
	if calls != 3 || len(delays) != 2 {
		t.Fatalf("calls=%d delays=%v", calls, delays)
	}
}

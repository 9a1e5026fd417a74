package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/tg-ai-assistant/internal/domain"
	"github.com/tbourn/tg-ai-assistant/internal/keyboard"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&domain.User{}, &domain.Admin{}, &domain.Activity{}, &domain.Report{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// captureLogs routes the global logger into a buffer for the test.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf).Level(zerolog.DebugLevel)
	t.Cleanup(func() { log.Logger = prev })
	return &buf
}

// ----- Fake messenger -----

type call struct {
	Op     string
	ChatID int64
	MsgID  int
	Text   string
	Opts   SendOptions
}

type fakeMessenger struct {
	mu      sync.Mutex
	calls   []call
	nextID  int
	sendErr func(chatID int64, text string) error
	editErr error
	file    []byte
	fileErr error
}

func newFakeMessenger() *fakeMessenger { return &fakeMessenger{nextID: 100} }

func (m *fakeMessenger) record(c call) {
	m.mu.Lock()
	m.calls = append(m.calls, c)
	m.mu.Unlock()
}

func (m *fakeMessenger) Send(_ context.Context, chatID int64, text string, opts SendOptions) (int, error) {
	if m.sendErr != nil {
		if err := m.sendErr(chatID, text); err != nil {
			m.record(call{Op: "send_failed", ChatID: chatID, Text: text, Opts: opts})
			return 0, err
		}
	}
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.calls = append(m.calls, call{Op: "send", ChatID: chatID, MsgID: id, Text: text, Opts: opts})
	m.mu.Unlock()
	return id, nil
}

func (m *fakeMessenger) Edit(_ context.Context, chatID int64, msgID int, text string, opts SendOptions) error {
	m.record(call{Op: "edit", ChatID: chatID, MsgID: msgID, Text: text, Opts: opts})
	return m.editErr
}

func (m *fakeMessenger) EditMarkup(_ context.Context, chatID int64, msgID int, kb *keyboard.Markup) error {
	m.record(call{Op: "markup", ChatID: chatID, MsgID: msgID, Opts: SendOptions{Keyboard: kb}})
	return nil
}

func (m *fakeMessenger) Delete(_ context.Context, chatID int64, msgID int) error {
	m.record(call{Op: "delete", ChatID: chatID, MsgID: msgID})
	return nil
}

func (m *fakeMessenger) Typing(_ context.Context, chatID int64) error {
	m.record(call{Op: "typing", ChatID: chatID})
	return nil
}

func (m *fakeMessenger) Pin(_ context.Context, chatID int64, msgID int) error {
	m.record(call{Op: "pin", ChatID: chatID, MsgID: msgID})
	return nil
}

func (m *fakeMessenger) Download(_ context.Context, fileID string) ([]byte, error) {
	m.record(call{Op: "download", Text: fileID})
	return m.file, m.fileErr
}

func (m *fakeMessenger) SendPhoto(_ context.Context, chatID int64, name string, data []byte, caption string) error {
	m.record(call{Op: "photo", ChatID: chatID, Text: name})
	return nil
}

func (m *fakeMessenger) SendDocument(_ context.Context, chatID int64, name string, data []byte, caption string) error {
	m.record(call{Op: "document", ChatID: chatID, Text: name})
	return nil
}

func (m *fakeMessenger) snapshot() []call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]call(nil), m.calls...)
}

func (m *fakeMessenger) ops() string {
	var ops []string
	for _, c := range m.snapshot() {
		ops = append(ops, c.Op)
	}
	return strings.Join(ops, ",")
}

func (m *fakeMessenger) last(op string) (call, bool) {
	cs := m.snapshot()
	for i := len(cs) - 1; i >= 0; i-- {
		if cs[i].Op == op {
			return cs[i], true
		}
	}
	return call{}, false
}

func (m *fakeMessenger) count(op string) int {
	n := 0
	for _, c := range m.snapshot() {
		if c.Op == op {
			n++
		}
	}
	return n
}

// ----- Fake fetcher -----

// scriptedFetcher returns results in order; the last entry repeats.
type scriptedFetcher struct {
	mu      sync.Mutex
	results []fetchResult
	prompts []string
	gate    chan struct{} // when set, Fetch blocks until it is closed
}

type fetchResult struct {
	text string
	err  error
}

var errBoom = errors.New("boom")

func (f *scriptedFetcher) Fetch(ctx context.Context, chatID int64, prompt string) (string, error) {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	if len(f.results) == 0 {
		return "", errBoom
	}
	r := f.results[0]
	if len(f.results) > 1 {
		f.results = f.results[1:]
	}
	return r.text, r.err
}

func (f *scriptedFetcher) Stream(chatID int64, prompt string) Source {
	return func(ctx context.Context, emit func(string)) error {
		text, err := f.Fetch(ctx, chatID, prompt)
		if err != nil {
			return err
		}
		return Chunked(text, 5)(ctx, emit)
	}
}

func (f *scriptedFetcher) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

// ----- Clock, sleeper, runner -----

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// recordingSleeper advances the clock instead of sleeping.
type recordingSleeper struct {
	mu    sync.Mutex
	clock *fakeClock
	waits []time.Duration
}

func (s *recordingSleeper) Sleep(_ context.Context, d time.Duration) {
	s.mu.Lock()
	s.waits = append(s.waits, d)
	s.mu.Unlock()
	if s.clock != nil {
		s.clock.Advance(d)
	}
}

func (s *recordingSleeper) Waits() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.waits...)
}

// inlineRunner runs tasks synchronously.
type inlineRunner struct {
	mu    sync.Mutex
	names []string
	errs  []error
}

func (r *inlineRunner) Go(name string, fn func(ctx context.Context) error) {
	err := fn(context.Background())
	r.mu.Lock()
	r.names = append(r.names, name)
	r.errs = append(r.errs, err)
	r.mu.Unlock()
}

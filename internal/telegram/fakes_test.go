package telegram

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/tg-ai-assistant/internal/domain"
	"github.com/tbourn/tg-ai-assistant/internal/services"
	"github.com/tbourn/tg-ai-assistant/internal/session"
)

// fakeAPI records every Chattable.
type fakeAPI struct {
	mu      sync.Mutex
	calls   []tgbotapi.Chattable
	nextID  int
	sendErr func(c tgbotapi.Chattable) error
	fileURL string
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
	if f.sendErr != nil {
		if err := f.sendErr(c); err != nil {
			return tgbotapi.Message{}, err
		}
	}
	f.nextID++
	return tgbotapi.Message{MessageID: f.nextID}, nil
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeAPI) GetFileDirectURL(fileID string) (string, error) {
	if f.fileURL == "" {
		return "", errors.New("no file")
	}
	return f.fileURL, nil
}

func (f *fakeAPI) snapshot() []tgbotapi.Chattable {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tgbotapi.Chattable(nil), f.calls...)
}

// messages returns sent messages addressed to chatID.
func (f *fakeAPI) messages(chatID int64) []tgbotapi.MessageConfig {
	var out []tgbotapi.MessageConfig
	for _, c := range f.snapshot() {
		if m, ok := c.(tgbotapi.MessageConfig); ok && m.ChatID == chatID {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeAPI) lastText(chatID int64) string {
	ms := f.messages(chatID)
	if len(ms) == 0 {
		return ""
	}
	return ms[len(ms)-1].Text
}

func (f *fakeAPI) callbacks() []tgbotapi.CallbackConfig {
	var out []tgbotapi.CallbackConfig
	for _, c := range f.snapshot() {
		if cb, ok := c.(tgbotapi.CallbackConfig); ok {
			out = append(out, cb)
		}
	}
	return out
}

func (f *fakeAPI) edits() []tgbotapi.EditMessageTextConfig {
	var out []tgbotapi.EditMessageTextConfig
	for _, c := range f.snapshot() {
		if e, ok := c.(tgbotapi.EditMessageTextConfig); ok {
			out = append(out, e)
		}
	}
	return out
}

// stubFetcher returns scripted results; the last one repeats.
type stubFetcher struct {
	mu      sync.Mutex
	results []error
	reply   string
	calls   int
}

func (s *stubFetcher) Fetch(ctx context.Context, chatID int64, prompt string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.results) > 0 {
		err := s.results[0]
		if len(s.results) > 1 {
			s.results = s.results[1:]
		}
		if err != nil {
			return "", err
		}
	}
	return s.reply, nil
}

func (s *stubFetcher) Stream(chatID int64, prompt string) services.Source {
	return func(ctx context.Context, emit func(string)) error {
		text, err := s.Fetch(ctx, chatID, prompt)
		if err != nil {
			return err
		}
		emit(text)
		return nil
	}
}

func (s *stubFetcher) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type inlineRunner struct{}

func (inlineRunner) Go(name string, fn func(ctx context.Context) error) {
	_ = fn(context.Background())
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:tg_%s?mode=memory&cache=shared", uuid.NewString())
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

type botFixture struct {
	api   *fakeAPI
	fetch *stubFetcher
	db    *gorm.DB
	store *session.Store
	bot   *Bot
}

func newBotFixture(t *testing.T, reply string, results ...error) *botFixture {
	t.Helper()
	api := &fakeAPI{}
	client := &Client{API: api}
	db := newTestDB(t)
	store := session.New(session.Options{})
	fetch := &stubFetcher{reply: reply, results: results}
	noSleep := func(context.Context, time.Duration) {}

	presenter := &services.Presenter{Messenger: client, EditMinChars: 50, EditMinInterval: time.Second, Sleep: noSleep}
	orch := &services.Orchestrator{
		Sessions:  store,
		Fetcher:   fetch,
		Messenger: client,
		Presenter: presenter,
		MaxManual: 3,
		MaxAuto:   2,
		Backoffs:  []time.Duration{0},
		Sleep:     noSleep,
		Cooldowns: store,
	}
	users := &services.UserService{DB: db, Messenger: client}
	chat := &services.ChatService{
		DB:             db,
		Sessions:       store,
		Fetcher:        fetch,
		Messenger:      client,
		Presenter:      presenter,
		Orchestrator:   orch,
		Users:          users,
		Tasks:          inlineRunner{},
		MaxPromptRunes: 100,
	}
	admin := &services.AdminService{DB: db, Messenger: client, BroadcastRPS: 1000}
	b := New(Options{Client: client, Chat: chat, Admin: admin, Users: users, Tasks: inlineRunner{}})
	return &botFixture{api: api, fetch: fetch, db: db, store: store, bot: b}
}

func textUpdate(chatID, userID int64, text string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: 1,
		From:      &tgbotapi.User{ID: userID, UserName: fmt.Sprintf("user%d", userID), FirstName: "Test"},
		Chat:      &tgbotapi.Chat{ID: chatID},
		Text:      text,
	}}
}

func commandUpdate(chatID, userID int64, cmd string) tgbotapi.Update {
	u := textUpdate(chatID, userID, cmd)
	u.Message.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}}
	return u
}

func callbackUpdate(chatID, userID int64, msgID int, data string) tgbotapi.Update {
	return tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb-1",
		From:    &tgbotapi.User{ID: userID},
		Message: &tgbotapi.Message{MessageID: msgID, Chat: &tgbotapi.Chat{ID: chatID}},
		Data:    data,
	}}
}

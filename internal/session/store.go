// Package session holds per-chat conversational state in memory: bounded
// history, failed-request records, the in-flight flag, user cooldown stamps
// and the text behind the "full answer" button.
//
// Everything lives in a single Store that callers inject. Locks are sharded
// by key so unrelated chats never contend on one mutex. Nothing is persisted;
// a restart forgets every session.
package session

import (
	"sync"
	"sync/atomic"
	"time"
)

// Role is the author of a history turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Turn is one history entry.
type Turn struct {
	Role    Role
	Content string
}

// FailedRequest is the context needed to replay a request that failed.
type FailedRequest struct {
	UserID         int64
	Prompt         string
	OriginalText   string
	ManualAttempts int
	AutoAttempts   int
	ErrorMessageID int
	LastAttemptAt  time.Time
	CreatedAt      time.Time
	// Gen identifies this record; a later StoreFailed for the chat gets a
	// larger one.
	Gen uint64
}

func (f FailedRequest) touched() time.Time {
	if f.LastAttemptAt.After(f.CreatedAt) {
		return f.LastAttemptAt
	}
	return f.CreatedAt
}

const shardCount = 64

type chatState struct {
	history   []Turn
	failed    *FailedRequest
	inFlight  bool
	expand    string
	expandAt  time.Time
	buttonMsg int
}

func (c *chatState) empty() bool {
	return len(c.history) == 0 && c.failed == nil && !c.inFlight && c.expand == "" && c.buttonMsg == 0
}

type chatShard struct {
	mu    sync.Mutex
	chats map[int64]*chatState
}

type userShard struct {
	mu       sync.Mutex
	lastSeen map[int64]time.Time
}

// Options tunes a Store. Zero values fall back to defaults.
type Options struct {
	HistoryCap int           // max turns kept per chat (default 100)
	FailedTTL  time.Duration // lifetime of a failed record (default 30m; <0 disables expiry)
	Now        func() time.Time
}

// Store is the in-memory session state. The zero value is not usable; use New.
type Store struct {
	cap   int
	ttl   time.Duration
	now   func() time.Time
	gen   atomic.Uint64
	chats [shardCount]chatShard
	users [shardCount]userShard
}

// New builds a Store.
func New(opts Options) *Store {
	if opts.HistoryCap <= 0 {
		opts.HistoryCap = 100
	}
	if opts.FailedTTL == 0 {
		opts.FailedTTL = 30 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Store{cap: opts.HistoryCap, ttl: opts.FailedTTL, now: opts.Now}
	for i := range s.chats {
		s.chats[i].chats = make(map[int64]*chatState)
		s.users[i].lastSeen = make(map[int64]time.Time)
	}
	return s
}

func shardOf(id int64) int {
	u := uint64(id)
	u ^= u >> 33
	u *= 0xff51afd7ed558ccd
	u ^= u >> 33
	return int(u % shardCount)
}

// withChat runs fn under the chat's shard lock. When create is false and the
// chat is unknown, fn receives nil.
func (s *Store) withChat(chatID int64, create bool, fn func(*chatState)) {
	sh := &s.chats[shardOf(chatID)]
	sh.mu.Lock()
	defer sh.mu.Unlock()
	st := sh.chats[chatID]
	if st == nil && create {
		st = &chatState{}
		sh.chats[chatID] = st
	}
	fn(st)
	if st != nil && st.empty() {
		delete(sh.chats, chatID)
	}
}

// ---- history ----

// Append adds one turn and evicts the oldest turns beyond the cap.
// Empty content is ignored.
func (s *Store) Append(chatID int64, role Role, content string) {
	if content == "" {
		return
	}
	s.withChat(chatID, true, func(st *chatState) {
		st.history = append(st.history, Turn{Role: role, Content: content})
		if over := len(st.history) - s.cap; over > 0 {
			// copy down so the backing array does not grow without bound
			n := copy(st.history, st.history[over:])
			clear(st.history[n:])
			st.history = st.history[:n]
		}
	})
}

// History returns a snapshot of the chat's turns, oldest first.
func (s *Store) History(chatID int64) []Turn {
	out := []Turn{}
	s.withChat(chatID, false, func(st *chatState) {
		if st != nil {
			out = append(out, st.history...)
		}
	})
	return out
}

// ClearHistory drops every turn of the chat.
func (s *Store) ClearHistory(chatID int64) {
	s.withChat(chatID, false, func(st *chatState) {
		if st != nil {
			st.history = nil
		}
	})
}

// ---- failed requests ----

// StoreFailed creates or overwrites the chat's failed record with both
// attempt counters at zero.
func (s *Store) StoreFailed(chatID, userID int64, prompt, originalText string, errorMessageID int) {
	now := s.now()
	gen := s.gen.Add(1)
	s.withChat(chatID, true, func(st *chatState) {
		st.failed = &FailedRequest{
			Gen:            gen,
			UserID:         userID,
			Prompt:         prompt,
			OriginalText:   originalText,
			ErrorMessageID: errorMessageID,
			CreatedAt:      now,
		}
	})
}

func (s *Store) expired(f *FailedRequest, now time.Time) bool {
	return s.ttl > 0 && now.Sub(f.touched()) > s.ttl
}

// Failed returns a copy of the chat's failed record. Expired records are
// reported as missing.
func (s *Store) Failed(chatID int64) (FailedRequest, bool) {
	var (
		out FailedRequest
		ok  bool
	)
	now := s.now()
	s.withChat(chatID, false, func(st *chatState) {
		if st == nil || st.failed == nil || s.expired(st.failed, now) {
			return
		}
		out, ok = *st.failed, true
	})
	return out, ok
}

// UpdateFailed applies fn to the chat's live failed record under the lock.
// It reports false when there is no such record.
func (s *Store) UpdateFailed(chatID int64, fn func(*FailedRequest)) bool {
	ok := false
	now := s.now()
	s.withChat(chatID, false, func(st *chatState) {
		if st == nil || st.failed == nil || s.expired(st.failed, now) {
			return
		}
		fn(st.failed)
		ok = true
	})
	return ok
}

// ClearFailed removes the failed record and the in-flight flag.
func (s *Store) ClearFailed(chatID int64) {
	s.withChat(chatID, false, func(st *chatState) {
		if st != nil {
			st.failed = nil
			st.inFlight = false
		}
	})
}

// DropFailed removes the failed record only. A retry running for the chat
// keeps its in-flight flag and releases it itself.
func (s *Store) DropFailed(chatID int64) {
	s.withChat(chatID, false, func(st *chatState) {
		if st != nil {
			st.failed = nil
		}
	})
}

// ClearFailedIf removes the failed record only when it is still generation
// gen. It reports whether a record was removed.
func (s *Store) ClearFailedIf(chatID int64, gen uint64) bool {
	removed := false
	s.withChat(chatID, false, func(st *chatState) {
		if st != nil && st.failed != nil && st.failed.Gen == gen {
			st.failed = nil
			removed = true
		}
	})
	return removed
}

// ---- in-flight flag ----

// TryAcquire sets the chat's in-flight flag. It returns false when the flag
// is already set.
func (s *Store) TryAcquire(chatID int64) bool {
	won := false
	s.withChat(chatID, true, func(st *chatState) {
		if !st.inFlight {
			st.inFlight = true
			won = true
		}
	})
	return won
}

// Release clears the in-flight flag.
func (s *Store) Release(chatID int64) {
	s.withChat(chatID, false, func(st *chatState) {
		if st != nil {
			st.inFlight = false
		}
	})
}

// InFlight reports whether a retry is running for the chat.
func (s *Store) InFlight(chatID int64) bool {
	v := false
	s.withChat(chatID, false, func(st *chatState) {
		v = st != nil && st.inFlight
	})
	return v
}

// ---- cooldown ----

// CheckCooldown reports whether window has elapsed since the user's last
// stamped action. When it has, now becomes the new stamp; otherwise the
// remaining wait is returned and nothing changes.
func (s *Store) CheckCooldown(userID int64, now time.Time, window time.Duration) (time.Duration, bool) {
	sh := &s.users[shardOf(userID)]
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if last, ok := sh.lastSeen[userID]; ok {
		if elapsed := now.Sub(last); elapsed < window {
			return window - elapsed, false
		}
	}
	sh.lastSeen[userID] = now
	return 0, true
}

// ---- expand button ----

// SetExpansion remembers the question behind the chat's "full answer" button.
func (s *Store) SetExpansion(chatID int64, text string) {
	now := s.now()
	s.withChat(chatID, true, func(st *chatState) {
		st.expand = text
		st.expandAt = now
	})
}

// Expansion returns the remembered question, if any.
func (s *Store) Expansion(chatID int64) (string, bool) {
	var out string
	s.withChat(chatID, false, func(st *chatState) {
		if st != nil {
			out = st.expand
		}
	})
	return out, out != ""
}

// SwapButtonMessage records msgID as the message carrying the chat's button
// and returns the previous one (0 if none). Pass 0 to forget it.
func (s *Store) SwapButtonMessage(chatID int64, msgID int) int {
	prev := 0
	s.withChat(chatID, msgID != 0, func(st *chatState) {
		if st == nil {
			return
		}
		prev = st.buttonMsg
		st.buttonMsg = msgID
	})
	return prev
}

// ---- maintenance ----

// SweepStats counts what Sweep removed.
type SweepStats struct {
	Failed     int
	Cooldowns  int
	Expansions int
}

// Sweep drops expired failed records, cooldown stamps older than
// cooldownKeep and expansion texts older than the failed-record TTL.
// Records whose chat is in flight are never removed.
func (s *Store) Sweep(now time.Time, cooldownKeep time.Duration) SweepStats {
	var st SweepStats
	for i := range s.chats {
		sh := &s.chats[i]
		sh.mu.Lock()
		for id, c := range sh.chats {
			if c.inFlight {
				continue
			}
			if c.failed != nil && s.expired(c.failed, now) {
				c.failed = nil
				st.Failed++
			}
			if c.expand != "" && s.ttl > 0 && now.Sub(c.expandAt) > s.ttl {
				c.expand = ""
				st.Expansions++
			}
			if c.empty() {
				delete(sh.chats, id)
			}
		}
		sh.mu.Unlock()
	}
	for i := range s.users {
		sh := &s.users[i]
		sh.mu.Lock()
		for id, t := range sh.lastSeen {
			if now.Sub(t) > cooldownKeep {
				delete(sh.lastSeen, id)
				st.Cooldowns++
			}
		}
		sh.mu.Unlock()
	}
	return st
}

// Forget wipes history, the failed record and the expansion text of a chat.
// The in-flight flag is left alone so a running retry can still release it.
func (s *Store) Forget(chatID int64) {
	s.withChat(chatID, false, func(st *chatState) {
		if st == nil {
			return
		}
		st.history = nil
		st.failed = nil
		st.expand = ""
	})
}

package telegram

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/tbourn/tg-ai-assistant/internal/services"
)

// Admin reply-keyboard buttons.
const (
	BtnBroadcast   = "📢 Barchaga xabar yuborish"
	BtnDirect      = "📨 Userga xabar yuborish"
	BtnTopUsers    = "🏆 Faol foydalanuvchilar"
	BtnStats       = "📊 Statistika"
	BtnAddAdmin    = "➕ Admin qo'shish"
	BtnRemoveAdmin = "➖ Admin o'chirish"
	BtnExportUsers = "📄 Userlar ro'yxati"
	BtnMessages    = "👀 Messages"
)

var adminKeyboard = [][]string{
	{BtnBroadcast, BtnDirect},
	{BtnTopUsers, BtnStats},
	{BtnAddAdmin, BtnRemoveAdmin},
	{BtnExportUsers, BtnMessages},
}

var adminButtons = map[string]bool{
	BtnBroadcast: true, BtnDirect: true, BtnTopUsers: true, BtnStats: true,
	BtnAddAdmin: true, BtnRemoveAdmin: true, BtnExportUsers: true, BtnMessages: true,
}

const (
	textCancelled       = "❎ Bekor qilindi."
	textAskBroadcast    = "✍️ Barchaga yuboriladigan xabarni yozing.\n/cancel — bekor qilish"
	textBroadcastQueued = "⏳ Xabar navbatga qo'yildi."
	textAskUser         = "👤 Foydalanuvchi ID yoki @username kiriting:"
	textAskDirect       = "✍️ Xabar matnini yozing:"
	textUserNotFound    = "❌ Foydalanuvchi topilmadi. Qayta kiriting yoki /cancel."
	textDirectSent      = "✅ Xabar yuborildi."
	textDirectFailed    = "❌ Xabarni yuborib bo'lmadi."
	textAskAdminID      = "🆔 Foydalanuvchi ID sini kiriting:"
	textBadID           = "❗ Noto'g'ri ID. Qayta kiriting yoki /cancel."
	textSuperOnly       = "⛔ Bu amal faqat superadmin uchun."
	textAdminAdded      = "✅ Admin qo'shildi."
	textAdminRemoved    = "✅ Admin o'chirildi."
	textNotAdmin        = "❌ Bu foydalanuvchi admin emas."
	textCannotRemove    = "⛔ Superadminni o'chirib bo'lmaydi."
	textAdminError      = "❌ Xatolik yuz berdi."
	chartCaption        = "📈 So'nggi 14 kun faolligi"
)

type adminStep int

const (
	stepNone adminStep = iota
	stepBroadcast
	stepDirectUser
	stepDirectText
	stepAddAdmin
	stepRemoveAdmin
)

type adminState struct {
	step   adminStep
	target int64 // recipient for stepDirectText
}

// adminStates holds the per-admin dialog step.
type adminStates struct {
	mu sync.Mutex
	m  map[int64]adminState
}

func newAdminStates() *adminStates {
	return &adminStates{m: make(map[int64]adminState)}
}

func (s *adminStates) get(userID int64) (adminState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.m[userID]
	return st, ok
}

func (s *adminStates) set(userID int64, st adminState) {
	s.mu.Lock()
	s.m[userID] = st
	s.mu.Unlock()
}

func (s *adminStates) clear(userID int64) {
	s.mu.Lock()
	delete(s.m, userID)
	s.mu.Unlock()
}

// handleAdmin consumes admin buttons and dialog replies. It reports whether
// the text was handled; anything else is a normal question.
func (b *Bot) handleAdmin(ctx context.Context, chatID int64, from services.Profile, text string) bool {
	text = strings.TrimSpace(text)
	st, inDialog := b.states.get(from.ID)
	button := adminButtons[text]
	if !inDialog && !button {
		return false
	}
	admin, super, err := b.users.Role(ctx, from.ID)
	if err != nil {
		log.Error().Err(err).Int64("user_id", from.ID).Msg("role lookup failed")
		return false
	}
	if !admin {
		b.states.clear(from.ID)
		return false
	}
	if button {
		b.states.clear(from.ID)
		b.adminButton(ctx, chatID, from.ID, super, text)
		return true
	}
	b.adminStep(ctx, chatID, from.ID, st, text)
	return true
}

func (b *Bot) adminButton(ctx context.Context, chatID, userID int64, super bool, button string) {
	l := log.With().Int64("admin_id", userID).Str("button", button).Logger()
	switch button {
	case BtnBroadcast:
		b.states.set(userID, adminState{step: stepBroadcast})
		b.reply(ctx, chatID, textAskBroadcast, services.ParseNone)
	case BtnDirect:
		b.states.set(userID, adminState{step: stepDirectUser})
		b.reply(ctx, chatID, textAskUser, services.ParseNone)
	case BtnAddAdmin, BtnRemoveAdmin:
		if !super {
			b.reply(ctx, chatID, textSuperOnly, services.ParseNone)
			return
		}
		step := stepAddAdmin
		if button == BtnRemoveAdmin {
			step = stepRemoveAdmin
		}
		b.states.set(userID, adminState{step: step})
		b.reply(ctx, chatID, textAskAdminID, services.ParseNone)
	case BtnTopUsers:
		text, err := b.admin.TopUsersText(ctx)
		if err != nil {
			l.Error().Err(err).Msg("top users failed")
			b.reply(ctx, chatID, textAdminError, services.ParseNone)
			return
		}
		b.reply(ctx, chatID, text, services.ParseHTML)
	case BtnStats:
		text, err := b.admin.StatsText(ctx)
		if err != nil {
			l.Error().Err(err).Msg("stats failed")
			b.reply(ctx, chatID, textAdminError, services.ParseNone)
			return
		}
		b.reply(ctx, chatID, text, services.ParseHTML)
		img, err := b.admin.ActivityChart(ctx, 14)
		if err != nil {
			l.Error().Err(err).Msg("activity chart failed")
			return
		}
		if err := b.client.SendPhoto(ctx, chatID, "activity.png", img, chartCaption); err != nil {
			l.Warn().Err(err).Msg("send chart failed")
		}
	case BtnExportUsers:
		data, err := b.admin.ExportUsers(ctx)
		if err != nil {
			l.Error().Err(err).Msg("export users failed")
			b.reply(ctx, chatID, textAdminError, services.ParseNone)
			return
		}
		if err := b.client.SendDocument(ctx, chatID, "users.json", data, ""); err != nil {
			l.Warn().Err(err).Msg("send export failed")
		}
	case BtnMessages:
		text, err := b.admin.RecentMessagesText(ctx, 20)
		if err != nil {
			l.Error().Err(err).Msg("recent messages failed")
			b.reply(ctx, chatID, textAdminError, services.ParseNone)
			return
		}
		b.reply(ctx, chatID, text, services.ParseHTML)
	}
}

func (b *Bot) adminStep(ctx context.Context, chatID, userID int64, st adminState, text string) {
	switch st.step {
	case stepBroadcast:
		b.states.clear(userID)
		b.reply(ctx, chatID, textBroadcastQueued, services.ParseNone)
		b.tasks.Go("broadcast", func(ctx context.Context) error {
			_, err := b.admin.Broadcast(ctx, chatID, text)
			return err
		})

	case stepDirectUser:
		target, err := b.admin.ResolveUser(ctx, text)
		if err != nil {
			b.reply(ctx, chatID, textUserNotFound, services.ParseNone)
			return
		}
		b.states.set(userID, adminState{step: stepDirectText, target: target})
		b.reply(ctx, chatID, textAskDirect, services.ParseNone)

	case stepDirectText:
		b.states.clear(userID)
		if err := b.admin.SendDirect(ctx, st.target, text); err != nil {
			log.Warn().Err(err).Int64("target", st.target).Msg("direct message failed")
			b.reply(ctx, chatID, textDirectFailed, services.ParseNone)
			return
		}
		b.reply(ctx, chatID, textDirectSent, services.ParseNone)

	case stepAddAdmin, stepRemoveAdmin:
		target, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			b.reply(ctx, chatID, textBadID, services.ParseNone)
			return
		}
		b.states.clear(userID)
		done := textAdminAdded
		if st.step == stepAddAdmin {
			err = b.admin.AddAdmin(ctx, userID, target)
		} else {
			err = b.admin.RemoveAdmin(ctx, userID, target)
			done = textAdminRemoved
		}
		b.reply(ctx, chatID, adminResult(err, done), services.ParseNone)
	}
}

func adminResult(err error, done string) string {
	switch {
	case err == nil:
		return done
	case errors.Is(err, services.ErrForbidden):
		return textSuperOnly
	case errors.Is(err, services.ErrSuperadmin):
		return textCannotRemove
	case errors.Is(err, services.ErrUserNotFound):
		return textNotAdmin
	}
	log.Error().Err(err).Msg("admin change failed")
	return textAdminError
}

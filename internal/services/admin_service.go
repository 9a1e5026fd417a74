// Package services – AdminService
//
// AdminService backs the admin panel and the admin HTTP API: broadcasts,
// direct messages, activity rankings, statistics (text and chart), admin
// role management and user export. Authorization is checked here, not in
// the transports.
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wcharczuk/go-chart/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"github.com/tbourn/tg-ai-assistant/internal/domain"
	"github.com/tbourn/tg-ai-assistant/internal/repo"
	"github.com/tbourn/tg-ai-assistant/internal/utils"
)

// AdminService implements admin operations.
type AdminService struct {
	DB           *gorm.DB
	Messenger    Messenger
	Location     *time.Location
	BroadcastRPS float64
	Now          func() time.Time
}

func (s *AdminService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *AdminService) loc() *time.Location {
	if s.Location != nil {
		return s.Location
	}
	return time.UTC
}

func (s *AdminService) startOfDay() time.Time {
	l := s.now().In(s.loc())
	return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, s.loc())
}

// SeedSuperadmins makes every id a superadmin.
func (s *AdminService) SeedSuperadmins(ctx context.Context, ids []int64) error {
	for _, id := range ids {
		if err := repo.AddAdmin(ctx, s.DB, id, true); err != nil {
			return fmt.Errorf("seed superadmin %d: %w", id, err)
		}
	}
	return nil
}

// ---- broadcast ----

// BroadcastResult summarises a broadcast.
type BroadcastResult struct {
	Total  int `json:"total"`
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

// Broadcast sends text to every active user, paced at BroadcastRPS. When
// progressChatID is non-zero a progress message there is updated at every
// 5% step and finally replaced by the summary. Users that cannot be reached
// are deactivated.
func (s *AdminService) Broadcast(ctx context.Context, progressChatID int64, text string) (BroadcastResult, error) {
	tr := otel.Tracer("services/AdminService")
	ctx, span := tr.Start(ctx, "Broadcast")
	defer span.End()

	text = strings.TrimSpace(text)
	if text == "" {
		return BroadcastResult{}, ErrEmptyBroadcast
	}
	ids, err := repo.ListActiveUserIDs(ctx, s.DB)
	if err != nil {
		return BroadcastResult{}, err
	}
	res := BroadcastResult{Total: len(ids)}
	span.SetAttributes(attribute.Int("broadcast.total", res.Total))

	progressID := 0
	if progressChatID != 0 {
		var err error
		if progressID, err = s.Messenger.Send(ctx, progressChatID, progressText(0), SendOptions{}); err != nil {
			logDropped("send", progressChatID, err)
		}
	}

	rps := s.BroadcastRPS
	if rps <= 0 {
		rps = 20
	}
	lim := rate.NewLimiter(rate.Limit(rps), 1)
	lastStep := 0
	for i, id := range ids {
		if err := lim.Wait(ctx); err != nil {
			return res, err
		}
		if _, err := s.Messenger.Send(ctx, id, text, SendOptions{}); err != nil {
			res.Failed++
			broadcastDeliveries.WithLabelValues("failed").Inc()
			if derr := repo.DeactivateUser(ctx, s.DB, id); derr != nil {
				log.Warn().Err(derr).Int64("user_id", id).Msg("deactivate after failed broadcast")
			}
		} else {
			res.Sent++
			broadcastDeliveries.WithLabelValues("sent").Inc()
		}
		if progressID != 0 {
			pct := (i + 1) * 100 / len(ids)
			if step := pct / 5; step > lastStep && pct < 100 {
				lastStep = step
				logDropped("edit", progressChatID, s.Messenger.Edit(ctx, progressChatID, progressID, progressText(pct), SendOptions{}))
			}
		}
	}
	if progressID != 0 {
		summary := fmt.Sprintf("✅ %d ta foydalanuvchiga xabar yuborildi.\n❌ %d ta foydalanuvchiga yuborilmadi (bloklagan yoki mavjud emas).", res.Sent, res.Failed)
		logDropped("edit", progressChatID, s.Messenger.Edit(ctx, progressChatID, progressID, summary, SendOptions{}))
	}
	log.Info().Int("total", res.Total).Int("sent", res.Sent).Int("failed", res.Failed).Msg("broadcast finished")
	return res, nil
}

func progressText(pct int) string {
	const width = 20
	filled := pct * width / 100
	return fmt.Sprintf("📤 Xabar yuborilmoqda: %d%%\n[%s%s]", pct, strings.Repeat("█", filled), strings.Repeat("░", width-filled))
}

// ---- direct messages ----

// ResolveUser turns a numeric id or an @username into a user id. Numeric
// ids are accepted as-is; usernames must be known to the bot.
func (s *AdminService) ResolveUser(ctx context.Context, ident string) (int64, error) {
	ident = strings.TrimSpace(ident)
	if ident == "" {
		return 0, ErrUserNotFound
	}
	if id, err := strconv.ParseInt(ident, 10, 64); err == nil {
		return id, nil
	}
	u, err := repo.FindUserByUsername(ctx, s.DB, ident)
	if repo.IsNotFound(err) {
		return 0, ErrUserNotFound
	}
	if err != nil {
		return 0, err
	}
	return u.ID, nil
}

// SendDirect delivers an admin message to one user.
func (s *AdminService) SendDirect(ctx context.Context, userID int64, text string) error {
	tr := otel.Tracer("services/AdminService")
	ctx, span := tr.Start(ctx, "SendDirect", trace.WithAttributes(attribute.Int64("user.id", userID)))
	defer span.End()

	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyBroadcast
	}
	_, err := s.Messenger.Send(ctx, userID, "📨 <b>Admin xabari:</b>\n\n"+html.EscapeString(text), SendOptions{ParseMode: ParseHTML})
	return err
}

// ---- roles ----

// AddAdmin grants admin rights. Only superadmins may do this.
func (s *AdminService) AddAdmin(ctx context.Context, actor, target int64) error {
	if err := s.requireSuper(ctx, actor); err != nil {
		return err
	}
	return repo.AddAdmin(ctx, s.DB, target, false)
}

// RemoveAdmin revokes admin rights. Superadmins cannot be removed.
func (s *AdminService) RemoveAdmin(ctx context.Context, actor, target int64) error {
	if err := s.requireSuper(ctx, actor); err != nil {
		return err
	}
	a, err := repo.GetAdmin(ctx, s.DB, target)
	if repo.IsNotFound(err) {
		return ErrUserNotFound
	}
	if err != nil {
		return err
	}
	if a.IsSuper {
		return ErrSuperadmin
	}
	return repo.RemoveAdmin(ctx, s.DB, target)
}

func (s *AdminService) requireSuper(ctx context.Context, actor int64) error {
	a, err := repo.GetAdmin(ctx, s.DB, actor)
	if repo.IsNotFound(err) {
		return ErrForbidden
	}
	if err != nil {
		return err
	}
	if !a.IsSuper {
		return ErrForbidden
	}
	return nil
}

// ---- statistics ----

// Summary is the numeric part of the statistics screen.
type Summary struct {
	TotalUsers      int64                    `json:"total_users"`
	ActiveUsers     int64                    `json:"active_users"`
	NewToday        int64                    `json:"new_today"`
	Reports         int64                    `json:"reports"`
	MostActive30d   *repo.UserActivityCount  `json:"most_active_30d,omitempty"`
	MostActiveToday *repo.UserActivityCount  `json:"most_active_today,omitempty"`
	LastUser        *domain.User             `json:"last_user,omitempty"`
	Top30d          []repo.UserActivityCount `json:"top_30d"`
}

// Summary gathers headline numbers. Admins are left out of rankings.
func (s *AdminService) Summary(ctx context.Context) (*Summary, error) {
	tr := otel.Tracer("services/AdminService")
	ctx, span := tr.Start(ctx, "Summary")
	defer span.End()

	var (
		out Summary
		err error
	)
	today := s.startOfDay()
	if out.TotalUsers, err = repo.CountUsers(ctx, s.DB); err != nil {
		return nil, err
	}
	if out.ActiveUsers, err = repo.CountActiveUsers(ctx, s.DB); err != nil {
		return nil, err
	}
	if out.NewToday, err = repo.CountUsersSince(ctx, s.DB, today); err != nil {
		return nil, err
	}
	if out.Reports, err = repo.CountReports(ctx, s.DB); err != nil {
		return nil, err
	}
	if out.MostActive30d, err = optional(repo.MostActiveSince(ctx, s.DB, s.now().AddDate(0, 0, -30), true)); err != nil {
		return nil, err
	}
	if out.MostActiveToday, err = optional(repo.MostActiveSince(ctx, s.DB, today, true)); err != nil {
		return nil, err
	}
	if out.LastUser, err = optional(repo.LastUser(ctx, s.DB)); err != nil {
		return nil, err
	}
	if out.Top30d, err = repo.TopUsers(ctx, s.DB, s.now().AddDate(0, 0, -30), 10, true); err != nil {
		return nil, err
	}
	return &out, nil
}

func optional[T any](v *T, err error) (*T, error) {
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	return v, err
}

// StatsText renders the statistics screen (HTML).
func (s *AdminService) StatsText(ctx context.Context) (string, error) {
	sum, err := s.Summary(ctx)
	if err != nil {
		return "", err
	}
	activity := func(u *repo.UserActivityCount) (string, int64) {
		if u == nil {
			return "—", 0
		}
		return userLink(u.UserID, u.Username), u.Total
	}
	m30, n30 := activity(sum.MostActive30d)
	mDay, nDay := activity(sum.MostActiveToday)
	last, joined := "—", "—"
	if sum.LastUser != nil {
		last = userLink(sum.LastUser.ID, sum.LastUser.Username)
		joined = sum.LastUser.CreatedAt.In(s.loc()).Format("2006-01-02 15:04")
	}
	return fmt.Sprintf("👥 <b>Bot foydalanuvchilari statistikasi</b>\n\n"+
		"📌 Umumiy foydalanuvchilar: <b>%d</b>\n"+
		"✅ Faol foydalanuvchilar: <b>%d</b>\n"+
		"🆕 Bugun qo'shilganlar: <b>%d</b>\n"+
		"📨 Murojaatlar: <b>%d</b>\n\n"+
		"🏆 Oxirgi 30 kun eng faol:\n├ 👤 %s\n└ 🔢 Faollik: %d\n\n"+
		"🔥 Bugungi eng faol:\n├ 👤 %s\n└ 🔢 Faollik: %d\n\n"+
		"🆕 Oxirgi foydalanuvchi:\n├ 👤 %s\n└ 📅 Qo'shilgan: %s",
		sum.TotalUsers, sum.ActiveUsers, sum.NewToday, sum.Reports,
		m30, n30, mDay, nDay, last, joined), nil
}

// TopUsersText renders the 14-day TOP 5 and 30-day TOP 10 rankings (HTML).
func (s *AdminService) TopUsersText(ctx context.Context) (string, error) {
	now := s.now()
	two, err := repo.TopUsers(ctx, s.DB, now.AddDate(0, 0, -14), 5, true)
	if err != nil {
		return "", err
	}
	month, err := repo.TopUsers(ctx, s.DB, now.AddDate(0, 0, -30), 10, true)
	if err != nil {
		return "", err
	}
	return formatTop(two, "So'nggi 2 hafta — TOP 5") + "\n\n" + formatTop(month, "So'nggi 1 oy — TOP 10"), nil
}

func formatTop(rows []repo.UserActivityCount, title string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🏆 <b>%s</b>\n\n", title)
	if len(rows) == 0 {
		b.WriteString("—\n")
	}
	medals := []string{"👑", "🥈", "🥉"}
	for i, r := range rows {
		medal := fmt.Sprintf("%d.", i+1)
		if i < len(medals) {
			medal = medals[i]
		}
		fmt.Fprintf(&b, "%s 👤 %s — <b>%d</b> marta\n", medal, userLink(r.UserID, r.Username), r.Total)
	}
	return b.String()
}

func userLink(id int64, username string) string {
	if username != "" {
		return "@" + html.EscapeString(strings.TrimPrefix(username, "@"))
	}
	return fmt.Sprintf(`<a href="tg://user?id=%d">User %d</a>`, id, id)
}

// ActivityChart renders daily activity for the last days days as a PNG.
func (s *AdminService) ActivityChart(ctx context.Context, days int) ([]byte, error) {
	tr := otel.Tracer("services/AdminService")
	ctx, span := tr.Start(ctx, "ActivityChart", trace.WithAttributes(attribute.Int("days", days)))
	defer span.End()

	buckets, err := repo.DailyActivity(ctx, s.DB, s.now(), days, s.loc())
	if err != nil {
		return nil, err
	}
	xs := make([]time.Time, len(buckets))
	ys := make([]float64, len(buckets))
	peak := 0.0
	for i, b := range buckets {
		xs[i] = b.Day
		ys[i] = float64(b.Total)
		peak = max(peak, ys[i])
	}
	yAxis := chart.YAxis{
		Name:           "Faollik",
		ValueFormatter: func(v interface{}) string { return fmt.Sprintf("%.0f", v.(float64)) },
	}
	if peak == 0 {
		// go-chart rejects a zero-height range
		yAxis.Range = &chart.ContinuousRange{Min: 0, Max: 1}
	}
	graph := chart.Chart{
		Background: chart.Style{Padding: chart.Box{Top: 20, Left: 20, Right: 20, Bottom: 20}},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Faollik",
				XValues: xs,
				YValues: ys,
				Style:   chart.Style{StrokeColor: chart.ColorBlue, StrokeWidth: 4.0, DotColor: chart.ColorWhite, DotWidth: 3.0},
			},
		},
		XAxis:  chart.XAxis{Name: "Kunlar", ValueFormatter: chart.TimeValueFormatterWithFormat("02 Jan")},
		YAxis:  yAxis,
		Height: 400,
		Width:  800,
	}
	var buf bytes.Buffer
	if err := graph.Render(chart.PNG, &buf); err != nil {
		return nil, fmt.Errorf("render chart: %w", err)
	}
	return buf.Bytes(), nil
}

// ---- exports ----

// ExportUsers returns every user as indented JSON.
func (s *AdminService) ExportUsers(ctx context.Context) ([]byte, error) {
	users, err := repo.ListUsers(ctx, s.DB)
	if err != nil {
		return nil, err
	}
	if users == nil {
		users = []domain.User{}
	}
	return json.MarshalIndent(users, "", "  ")
}

// RecentMessagesText lists the latest user questions (HTML).
func (s *AdminService) RecentMessagesText(ctx context.Context, limit int) (string, error) {
	rows, err := repo.RecentMessages(ctx, s.DB, limit)
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "📭 Hozircha xabarlar yo'q.", nil
	}
	var b strings.Builder
	b.WriteString("👀 <b>So'nggi xabarlar</b>\n\n")
	for _, r := range rows {
		fmt.Fprintf(&b, "🕒 %s · %s\n%s\n\n",
			r.CreatedAt.In(s.loc()).Format("01-02 15:04"),
			userLink(r.UserID, r.Username),
			html.EscapeString(truncateRunes(r.Content, 200)))
	}
	return strings.TrimSpace(b.String()), nil
}

// ---- admin API listings ----

// ListUsersPage returns one page of users (newest first) and the total count.
func (s *AdminService) ListUsersPage(ctx context.Context, page, pageSize int) ([]domain.User, int64, error) {
	offset, limit := utils.PageBounds(page, pageSize)
	total, err := repo.CountUsers(ctx, s.DB)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.User{}, 0, nil
	}
	items, err := repo.ListUsersPage(ctx, s.DB, offset, limit)
	return items, total, err
}

// ListReportsPage returns one page of reports (newest first) and the total count.
func (s *AdminService) ListReportsPage(ctx context.Context, page, pageSize int) ([]domain.Report, int64, error) {
	offset, limit := utils.PageBounds(page, pageSize)
	total, err := repo.CountReports(ctx, s.DB)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Report{}, 0, nil
	}
	items, err := repo.ListReportsPage(ctx, s.DB, offset, limit)
	return items, total, err
}

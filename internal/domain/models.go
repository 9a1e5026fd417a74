// Package domain defines the persistence models for bot users, admins,
// activity logs and problem reports. These types are mapped with GORM and
// form the durable part of the bot's state; conversation history and retry
// sessions live in memory only (see package session).
package domain

import "time"

// Activity types written by the bot.
const (
	ActivityStart   = "start"
	ActivityText    = "text_message"
	ActivityPhoto   = "photo_message"
	ActivityExpand  = "expand"
	ActivityRetry   = "retry"
	ActivityReport  = "report"
	ActivityCommand = "command"
)

// User represents a Telegram user who has talked to the bot. The primary key
// is the Telegram user id, which equals the private chat id.
//
// Fields:
//   - ID: Telegram user id.
//   - Username: @handle without the leading '@' (may be empty).
//   - LastSeen: refreshed on every inbound message and by the inactive notifier.
//   - IsActive: cleared when delivery fails (user blocked the bot).
//   - LastPinnedDate: bot-local YYYY-MM-DD of the last daily pin.
type User struct {
	ID             int64     `json:"id"         gorm:"primaryKey;autoIncrement:false"`
	Username       string    `json:"username"   gorm:"type:varchar(64);index"`
	FirstName      string    `json:"first_name" gorm:"type:varchar(128)"`
	CreatedAt      time.Time `json:"created_at" gorm:"index"`
	LastSeen       time.Time `json:"last_seen"  gorm:"index"`
	IsActive       bool      `json:"is_active"  gorm:"not null;default:true"`
	LastPinnedDate *string   `json:"-"          gorm:"type:varchar(10)"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// Admin grants panel access to a user. Superadmins may manage other admins.
type Admin struct {
	UserID    int64     `json:"user_id"  gorm:"primaryKey;autoIncrement:false"`
	IsSuper   bool      `json:"is_super" gorm:"not null;default:false"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for Admin.
func (Admin) TableName() string { return "admins" }

// Activity is one logged user action. Content is kept only for text messages
// so admins can review recent questions.
type Activity struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	UserID    int64     `json:"user_id"    gorm:"not null;index:idx_activity_user_time,priority:1"`
	Username  string    `json:"username"   gorm:"type:varchar(64)"`
	Type      string    `json:"type"       gorm:"type:varchar(32);not null;index"`
	Content   string    `json:"content,omitempty" gorm:"type:text"`
	CreatedAt time.Time `json:"created_at" gorm:"index;index:idx_activity_user_time,priority:2"`
}

// TableName returns the database table name for Activity.
func (Activity) TableName() string { return "user_activity" }

// Report is a user's request for admin attention, usually after a failed
// reply. Prompt holds the failed question when it was still known.
type Report struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	ChatID    int64     `json:"chat_id"    gorm:"not null;index"`
	UserID    int64     `json:"user_id"    gorm:"not null;index"`
	Prompt    string    `json:"prompt"     gorm:"type:text"`
	CreatedAt time.Time `json:"created_at" gorm:"index"`
}

// TableName returns the database table name for Report.
func (Report) TableName() string { return "reports" }

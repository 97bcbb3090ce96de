package model

import "time"

// NotificationCategory は通知の種別を表す。
type NotificationCategory string

const (
	// CategoryReminder はリマインダースケジューラが生成する通知。
	CategoryReminder NotificationCategory = "reminder"
	// CategoryInfo は一般的なお知らせ。
	CategoryInfo NotificationCategory = "info"
	// CategoryAlert は注意喚起の通知。
	CategoryAlert NotificationCategory = "alert"
)

// Notification はユーザーへの通知レコードを表す。
// リマインダーの場合、(UserID, EventID, TargetDate) の組がユニークとなる。
type Notification struct {
	ID         string               `json:"id"`
	UserID     string               `json:"user_id"`
	EventID    *string              `json:"event_id,omitempty"`
	Message    string               `json:"message"`
	Category   NotificationCategory `json:"category"`
	IsRead     bool                 `json:"is_read"`
	TargetDate *time.Time           `json:"target_date,omitempty"`
	CreatedAt  time.Time            `json:"created_at"`
}

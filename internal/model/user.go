// Package model はドメインモデルを定義する。
package model

import "time"

// DefaultReminderLeadDays は新規ユーザーのリマインダー通知日数のデフォルト値。
const DefaultReminderLeadDays = 1

// MaxReminderLeadDays は設定可能なリマインダー通知日数の上限。
const MaxReminderLeadDays = 365

// User はサービス利用ユーザーを表す。
// ReminderLeadDays はイベント何日前にリマインダーを生成するかを示し、
// 負の値はリマインダー無効を意味する。
type User struct {
	ID               string    `json:"id"`
	Email            string    `json:"email"`
	Name             string    `json:"name"`
	ReminderLeadDays int       `json:"reminder_lead_days"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// RemindersEnabled はリマインダーが有効かどうかを返す。
func (u *User) RemindersEnabled() bool {
	return u.ReminderLeadDays >= 0
}

// DisplayLabel は編集ロック保持者として表示するラベルを返す。
func (u *User) DisplayLabel() string {
	if u.Name != "" {
		return u.Name
	}
	if u.Email != "" {
		return u.Email
	}
	return u.ID
}

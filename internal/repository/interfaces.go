// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/eventsync/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// ListAll は全ユーザーを作成日時順で取得する。
	ListAll(ctx context.Context) ([]*model.User, error)

	// UpdateReminderLeadDays はリマインダー通知日数を更新し、更新後のユーザーを返す。
	// 見つからない場合はnilを返す。
	UpdateReminderLeadDays(ctx context.Context, id string, days int) (*model.User, error)
}

// EventRepository はイベントデータの永続化インターフェース。
type EventRepository interface {
	// FindByID は指定IDのイベントを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Event, error)

	// ListByUser はユーザーのイベントを開催日順で取得する。
	ListByUser(ctx context.Context, userID string) ([]*model.Event, error)

	// FindInRange はユーザーのイベントのうち開催日が [start, end] に含まれるものを取得する。
	FindInRange(ctx context.Context, userID string, start, end time.Time) ([]*model.Event, error)

	// Create はイベントを作成する。
	Create(ctx context.Context, event *model.Event) error

	// Update はイベントを更新する。存在しない場合はEventNotFoundエラーを返す。
	Update(ctx context.Context, event *model.Event) error

	// Delete はイベントを削除する。存在しない場合はEventNotFoundエラーを返す。
	Delete(ctx context.Context, id string) error
}

// NotificationRepository は通知データの永続化インターフェース。
type NotificationRepository interface {
	// FindReminder は (userID, eventID, targetDate) に対応するリマインダー通知を取得する。
	// 見つからない場合はnilを返す。
	FindReminder(ctx context.Context, userID, eventID string, targetDate time.Time) (*model.Notification, error)

	// Insert は通知を作成する。
	// リマインダーのユニーク制約に衝突した場合はエラーではなく false を返す。
	Insert(ctx context.Context, notification *model.Notification) (bool, error)

	// ListByUser はユーザーの通知を新しい順に最大limit件取得する。
	ListByUser(ctx context.Context, userID string, limit int) ([]*model.Notification, error)

	// MarkRead は通知を既読にし、更新後の通知を返す。見つからない場合はnilを返す。
	MarkRead(ctx context.Context, userID, id string) (*model.Notification, error)
}

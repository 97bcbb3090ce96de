// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, event, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized         = "UNAUTHORIZED"
	ErrCodeInvalidRequest       = "INVALID_REQUEST"
	ErrCodeUserNotFound         = "USER_NOT_FOUND"
	ErrCodeEventNotFound        = "EVENT_NOT_FOUND"
	ErrCodeNotificationNotFound = "NOTIFICATION_NOT_FOUND"
	ErrCodeInvalidEvent         = "INVALID_EVENT"
	ErrCodeInvalidLeadDays      = "INVALID_LEAD_DAYS"
	ErrCodeInternal             = "INTERNAL_ERROR"
	ErrCodeRateLimited          = "RATE_LIMITED"
	ErrCodeInvalidMessage       = "INVALID_MESSAGE"
	ErrCodeUnknownMessageType   = "UNKNOWN_MESSAGE_TYPE"
)

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewInvalidRequestError はリクエストボディの解析失敗エラーを生成する。
func NewInvalidRequestError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewEventNotFoundError はイベント未検出エラーを生成する。
func NewEventNotFoundError(eventID string) *APIError {
	return &APIError{
		Code:     ErrCodeEventNotFound,
		Message:  fmt.Sprintf("指定されたイベントが見つかりません: %s", eventID),
		Category: "event",
		Action:   "イベントIDを確認してください。",
	}
}

// NewNotificationNotFoundError は通知未検出エラーを生成する。
func NewNotificationNotFoundError(notificationID string) *APIError {
	return &APIError{
		Code:     ErrCodeNotificationNotFound,
		Message:  fmt.Sprintf("指定された通知が見つかりません: %s", notificationID),
		Category: "event",
		Action:   "通知一覧を再読み込みしてください。",
	}
}

// NewInvalidEventError はイベント入力値が不正な場合のエラーを生成する。
func NewInvalidEventError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidEvent,
		Message:  fmt.Sprintf("イベントの入力内容が不正です: %s", reason),
		Category: "validation",
		Action:   "タイトルと開催日を指定してください。",
	}
}

// NewInvalidLeadDaysError はリマインダー日数が範囲外の場合のエラーを生成する。
func NewInvalidLeadDaysError(days int) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidLeadDays,
		Message:  fmt.Sprintf("無効なリマインダー日数です: %d日", days),
		Category: "validation",
		Action:   fmt.Sprintf("0から%d日の範囲で指定してください。無効にする場合は-1を指定してください。", MaxReminderLeadDays),
	}
}

// NewInternalError は内部エラーを生成する。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

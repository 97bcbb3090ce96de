// Package notification は通知の参照と既読化を提供する。
package notification

import (
	"context"
	"fmt"

	"github.com/hitoshi/eventsync/internal/model"
	"github.com/hitoshi/eventsync/internal/realtime"
	"github.com/hitoshi/eventsync/internal/repository"
)

const (
	// DefaultLimit は一覧取得の既定件数。
	DefaultLimit = 50
	// MaxLimit は一覧取得の最大件数。
	MaxLimit = 200
)

// Service は通知のサービス層。
type Service struct {
	repo        repository.NotificationRepository
	broadcaster realtime.Broadcaster
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(repo repository.NotificationRepository, broadcaster realtime.Broadcaster) *Service {
	if broadcaster == nil {
		broadcaster = realtime.NopBroadcaster{}
	}
	return &Service{repo: repo, broadcaster: broadcaster}
}

// List はユーザーの通知を新しい順に返す。
// limitが0以下の場合はDefaultLimit、MaxLimitを超える場合はMaxLimitとする。
func (s *Service) List(ctx context.Context, userID string, limit int) ([]*model.Notification, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	notifications, err := s.repo.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("通知一覧の取得に失敗しました: %w", err)
	}
	if notifications == nil {
		notifications = []*model.Notification{}
	}
	return notifications, nil
}

// MarkRead は通知を既読にし、ユーザーの全接続にdata_changedを配信する。
// 他のユーザーの通知は見つからないものとして扱う。
func (s *Service) MarkRead(ctx context.Context, userID, id string) (*model.Notification, error) {
	n, err := s.repo.MarkRead(ctx, userID, id)
	if err != nil {
		return nil, fmt.Errorf("通知の既読化に失敗しました: %w", err)
	}
	if n == nil {
		return nil, model.NewNotificationNotFoundError(id)
	}

	s.broadcaster.BroadcastUserEvent(userID, realtime.TypeDataChanged, realtime.DataChanged{})
	return n, nil
}

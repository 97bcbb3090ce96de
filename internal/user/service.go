// Package user はユーザー設定のドメインロジックを提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/eventsync/internal/model"
	"github.com/hitoshi/eventsync/internal/realtime"
	"github.com/hitoshi/eventsync/internal/repository"
)

// Service はユーザー設定のサービス層。
// 設定の変更はユーザーの全接続にuser_updatedとして配信する。
type Service struct {
	userRepo    repository.UserRepository
	broadcaster realtime.Broadcaster
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(userRepo repository.UserRepository, broadcaster realtime.Broadcaster) *Service {
	if broadcaster == nil {
		broadcaster = realtime.NopBroadcaster{}
	}
	return &Service{
		userRepo:    userRepo,
		broadcaster: broadcaster,
	}
}

// GetSettings はユーザーの設定を取得する。
func (s *Service) GetSettings(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// UpdateSettings はリマインダー通知日数を更新する。
// 有効範囲は0からMaxReminderLeadDaysまでで、-1はリマインダー無効を表す。
func (s *Service) UpdateSettings(ctx context.Context, userID string, reminderLeadDays int) (*model.User, error) {
	if reminderLeadDays < -1 || reminderLeadDays > model.MaxReminderLeadDays {
		return nil, model.NewInvalidLeadDaysError(reminderLeadDays)
	}

	user, err := s.userRepo.UpdateReminderLeadDays(ctx, userID, reminderLeadDays)
	if err != nil {
		return nil, fmt.Errorf("リマインダー日数の更新に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}

	slog.Info("ユーザー設定を更新しました",
		slog.String("user_id", userID),
		slog.Int("reminder_lead_days", reminderLeadDays),
	)

	s.broadcaster.BroadcastUserEvent(userID, realtime.TypeUserUpdated, user)
	return user, nil
}

// Package event はイベントのCRUDと変更通知を提供する。
// 書き込みが成功するたびに、イベントを閲覧中の接続と所有者の全接続へ変更を配信する。
package event

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/eventsync/internal/model"
	"github.com/hitoshi/eventsync/internal/realtime"
	"github.com/hitoshi/eventsync/internal/repository"
	"github.com/hitoshi/eventsync/internal/security"
)

// maxTitleLength はイベント名の最大文字数。
const maxTitleLength = 200

// Input はイベントの作成・更新時の入力値。
type Input struct {
	Title       string    `json:"title"`
	EventDate   time.Time `json:"event_date"`
	Description string    `json:"description"`
	TotalBudget float64   `json:"total_budget"`
	IsMainEvent bool      `json:"is_main_event"`
}

// Service はイベントのサービス層。
type Service struct {
	repo        repository.EventRepository
	broadcaster realtime.Broadcaster
	sanitizer   security.TextSanitizer
	now         func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(repo repository.EventRepository, broadcaster realtime.Broadcaster, sanitizer security.TextSanitizer) *Service {
	if broadcaster == nil {
		broadcaster = realtime.NopBroadcaster{}
	}
	return &Service{
		repo:        repo,
		broadcaster: broadcaster,
		sanitizer:   sanitizer,
		now:         time.Now,
	}
}

// List はユーザーのイベントを開催日順で返す。
func (s *Service) List(ctx context.Context, userID string) ([]*model.Event, error) {
	events, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("イベント一覧の取得に失敗しました: %w", err)
	}
	if events == nil {
		events = []*model.Event{}
	}
	return events, nil
}

// Get は指定IDのイベントを返す。
func (s *Service) Get(ctx context.Context, id string) (*model.Event, error) {
	event, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("イベントの取得に失敗しました: %w", err)
	}
	if event == nil {
		return nil, model.NewEventNotFoundError(id)
	}
	return event, nil
}

// Create はイベントを作成し、所有者の全接続にdata_changedを配信する。
func (s *Service) Create(ctx context.Context, userID string, in Input) (*model.Event, error) {
	in, err := s.normalize(in)
	if err != nil {
		return nil, err
	}

	now := s.now()
	event := &model.Event{
		ID:          uuid.NewString(),
		UserID:      userID,
		Title:       in.Title,
		EventDate:   in.EventDate,
		Description: in.Description,
		TotalBudget: in.TotalBudget,
		IsMainEvent: in.IsMainEvent,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Create(ctx, event); err != nil {
		return nil, fmt.Errorf("イベントの作成に失敗しました: %w", err)
	}

	slog.Info("イベントを作成しました",
		slog.String("event_id", event.ID),
		slog.String("user_id", userID),
	)
	s.notifyChanged(event)
	return event, nil
}

// Update はイベントを更新し、閲覧中の接続と所有者の全接続にdata_changedを配信する。
// 編集ロックは勧告ロックのため、ここでは確認しない。
func (s *Service) Update(ctx context.Context, id string, in Input) (*model.Event, error) {
	in, err := s.normalize(in)
	if err != nil {
		return nil, err
	}

	event, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	event.Title = in.Title
	event.EventDate = in.EventDate
	event.Description = in.Description
	event.TotalBudget = in.TotalBudget
	event.IsMainEvent = in.IsMainEvent
	event.UpdatedAt = s.now()

	if err := s.repo.Update(ctx, event); err != nil {
		return nil, wrapUnlessAPIError("イベントの更新に失敗しました", err)
	}

	s.notifyChanged(event)
	return event, nil
}

// Delete はイベントを削除し、閲覧中の接続と所有者の全接続にdata_changedを配信する。
func (s *Service) Delete(ctx context.Context, id string) error {
	event, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return wrapUnlessAPIError("イベントの削除に失敗しました", err)
	}

	slog.Info("イベントを削除しました",
		slog.String("event_id", id),
		slog.String("user_id", event.UserID),
	)
	s.notifyChanged(event)
	return nil
}

func (s *Service) notifyChanged(event *model.Event) {
	s.broadcaster.BroadcastRoomChange(event.ID)
	s.broadcaster.BroadcastUserEvent(event.UserID, realtime.TypeDataChanged, realtime.DataChanged{EventID: event.ID})
}

// normalize はタイトルと説明文からマークアップを除去し、必須項目を検証する。
func (s *Service) normalize(in Input) (Input, error) {
	in.Title = s.sanitizer.Sanitize(in.Title)
	in.Description = s.sanitizer.Sanitize(in.Description)

	switch {
	case in.Title == "":
		return in, model.NewInvalidEventError("タイトルが空です")
	case utf8.RuneCountInString(in.Title) > maxTitleLength:
		return in, model.NewInvalidEventError(fmt.Sprintf("タイトルは%d文字以内で指定してください", maxTitleLength))
	case in.EventDate.IsZero():
		return in, model.NewInvalidEventError("開催日が指定されていません")
	case in.TotalBudget < 0:
		return in, model.NewInvalidEventError("予算は0以上で指定してください")
	}
	return in, nil
}

// wrapUnlessAPIError はAPIErrorをそのまま返し、それ以外はラップする。
func wrapUnlessAPIError(msg string, err error) error {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return err
	}
	return fmt.Errorf("%s: %w", msg, err)
}

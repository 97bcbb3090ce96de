// Package reminder はイベント開催前のリマインダー通知を生成するスケジューラを提供する。
// 同じ (ユーザー, イベント, 対象日) に対する通知は何度実行しても1件しか作成されない。
package reminder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/eventsync/internal/metrics"
	"github.com/hitoshi/eventsync/internal/model"
	"github.com/hitoshi/eventsync/internal/realtime"
	"github.com/hitoshi/eventsync/internal/security"
)

// UserLister はリマインダー対象ユーザーの取得インターフェース。
type UserLister interface {
	ListAll(ctx context.Context) ([]*model.User, error)
}

// EventFinder は開催日の範囲でイベントを検索するインターフェース。
type EventFinder interface {
	FindInRange(ctx context.Context, userID string, start, end time.Time) ([]*model.Event, error)
}

// NotificationStore はリマインダー通知の存在確認と作成のインターフェース。
type NotificationStore interface {
	FindReminder(ctx context.Context, userID, eventID string, targetDate time.Time) (*model.Notification, error)
	Insert(ctx context.Context, notification *model.Notification) (bool, error)
}

// RunResult は1回の実行結果の集計。
type RunResult struct {
	Users    int // 処理対象のユーザー数
	Disabled int // リマインダーを無効にしているユーザー数
	Created  int // 新規に作成した通知数
	Skipped  int // 作成済みのため作成しなかった通知数
	Failed   int // 処理に失敗したユーザー数
}

// Scheduler はリマインダー通知を定期的に生成する。
type Scheduler struct {
	users         UserLister
	events        EventFinder
	notifications NotificationStore
	broadcaster   realtime.Broadcaster
	sanitizer     security.TextSanitizer
	recorder      metrics.ReminderRecorder
	logger        *slog.Logger
	loc           *time.Location
	now           func() time.Time
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
// locは「今日」を判定するタイムゾーン。nilの場合はtime.Localを使用する。
func NewScheduler(
	users UserLister,
	events EventFinder,
	notifications NotificationStore,
	broadcaster realtime.Broadcaster,
	sanitizer security.TextSanitizer,
	recorder metrics.ReminderRecorder,
	logger *slog.Logger,
	loc *time.Location,
) *Scheduler {
	if broadcaster == nil {
		broadcaster = realtime.NopBroadcaster{}
	}
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	if loc == nil {
		loc = time.Local
	}
	return &Scheduler{
		users:         users,
		events:        events,
		notifications: notifications,
		broadcaster:   broadcaster,
		sanitizer:     sanitizer,
		recorder:      recorder,
		logger:        logger,
		loc:           loc,
		now:           time.Now,
	}
}

// Start は指定間隔でRunOnceを繰り返し実行する。
// 起動直後に1回実行し、コンテキストがキャンセルされるまで継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("リマインダースケジューラを開始しました",
		slog.Duration("interval", interval),
		slog.String("timezone", s.loc.String()),
	)

	s.runLogged(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("リマインダースケジューラを停止しました")
			return
		case <-ticker.C:
			s.runLogged(ctx)
		}
	}
}

func (s *Scheduler) runLogged(ctx context.Context) {
	if _, err := s.RunOnce(ctx); err != nil {
		s.logger.Error("リマインダーの生成に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}

// RunOnce は全ユーザーについてリマインダー通知を1回生成する。
// ユーザー単位の失敗はログに記録して集計し、残りのユーザーの処理を続行する。
// エラーを返すのはユーザー一覧を取得できない場合とコンテキストが終了した場合のみ。
func (s *Scheduler) RunOnce(ctx context.Context) (RunResult, error) {
	start := time.Now()
	now := s.now()

	users, err := s.users.ListAll(ctx)
	if err != nil {
		return RunResult{}, fmt.Errorf("failed to list users: %w", err)
	}

	result := RunResult{Users: len(users)}
	for _, u := range users {
		if err := ctx.Err(); err != nil {
			s.record(result, start)
			return result, err
		}
		if !u.RemindersEnabled() {
			result.Disabled++
			continue
		}

		created, skipped, err := s.remindUser(ctx, u, now)
		result.Created += created
		result.Skipped += skipped
		if err != nil {
			result.Failed++
			s.logger.Error("ユーザーのリマインダー生成に失敗しました",
				slog.String("user_id", u.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.record(result, start)
	return result, nil
}

func (s *Scheduler) record(result RunResult, start time.Time) {
	duration := time.Since(start)
	s.recorder.ObserveReminderRun(result.Created, result.Skipped, result.Failed, duration)
	s.logger.Info("リマインダーの生成が完了しました",
		slog.Int("user_count", result.Users),
		slog.Int("disabled_count", result.Disabled),
		slog.Int("created_count", result.Created),
		slog.Int("skipped_count", result.Skipped),
		slog.Int("failed_count", result.Failed),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)
}

// remindUser は1ユーザー分のリマインダーを生成する。
// 1件のイベントで失敗しても残りのイベントは処理する。panicはエラーとして返す。
func (s *Scheduler) remindUser(ctx context.Context, u *model.User, now time.Time) (created, skipped int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Join(err, fmt.Errorf("panic: %v", r))
		}
	}()

	targetDate, start, end := ReminderWindow(now, u.ReminderLeadDays, s.loc)
	events, err := s.events.FindInRange(ctx, u.ID, start, end)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to find events: %w", err)
	}

	var errs []error
	for _, ev := range events {
		inserted, err := s.remindEvent(ctx, u, ev, targetDate, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("event %s: %w", ev.ID, err))
			continue
		}
		if inserted {
			created++
		} else {
			skipped++
		}
	}
	return created, skipped, errors.Join(errs...)
}

// remindEvent は通知が未作成であれば作成し、ユーザーの全接続に配信する。
func (s *Scheduler) remindEvent(ctx context.Context, u *model.User, ev *model.Event, targetDate, now time.Time) (bool, error) {
	existing, err := s.notifications.FindReminder(ctx, u.ID, ev.ID, targetDate)
	if err != nil {
		return false, fmt.Errorf("failed to find reminder: %w", err)
	}
	if existing != nil {
		return false, nil
	}

	eventID := ev.ID
	n := &model.Notification{
		ID:         uuid.NewString(),
		UserID:     u.ID,
		EventID:    &eventID,
		Message:    reminderMessage(s.sanitizer.Sanitize(ev.Title), u.ReminderLeadDays),
		Category:   model.CategoryReminder,
		TargetDate: &targetDate,
		CreatedAt:  now,
	}

	inserted, err := s.notifications.Insert(ctx, n)
	if err != nil {
		return false, fmt.Errorf("failed to insert reminder: %w", err)
	}
	if !inserted {
		// 並行実行中の別のスケジューラが先に作成した
		return false, nil
	}

	s.logger.Debug("リマインダーを作成しました",
		slog.String("user_id", u.ID),
		slog.String("event_id", ev.ID),
		slog.String("target_date", targetDate.Format(time.DateOnly)),
	)
	s.broadcaster.BroadcastUserEvent(u.ID, realtime.TypeNewNotification, n)
	return true, nil
}

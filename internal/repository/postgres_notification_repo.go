package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/eventsync/internal/model"
)

// pqUniqueViolation はPostgreSQLの一意制約違反を示すSQLSTATE。
const pqUniqueViolation = "23505"

// PostgresNotificationRepo はPostgreSQLを使用した通知リポジトリ。
type PostgresNotificationRepo struct {
	db *sql.DB
}

// NewPostgresNotificationRepo はPostgresNotificationRepoを生成する。
func NewPostgresNotificationRepo(db *sql.DB) *PostgresNotificationRepo {
	return &PostgresNotificationRepo{db: db}
}

const notificationColumns = `id, user_id, event_id, message, category, is_read, target_date, created_at`

// FindReminder は (userID, eventID, targetDate) に対応するリマインダー通知を取得する。
// 見つからない場合はnilを返す。
func (r *PostgresNotificationRepo) FindReminder(ctx context.Context, userID, eventID string, targetDate time.Time) (*model.Notification, error) {
	n, err := scanNotification(r.db.QueryRowContext(ctx,
		`SELECT `+notificationColumns+` FROM notifications
		 WHERE user_id = $1 AND event_id = $2 AND target_date = $3::date AND category = $4`,
		userID, eventID, DateString(targetDate), string(model.CategoryReminder),
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find reminder: %w", err)
	}
	return n, nil
}

// Insert は通知を作成する。
// リマインダーの部分ユニークインデックスに衝突した場合は何もせず false を返す。
// 並行実行中のスケジューラが同時に存在確認を通過しても、重複行は作成されない。
func (r *PostgresNotificationRepo) Insert(ctx context.Context, n *model.Notification) (bool, error) {
	var targetDate any
	if n.TargetDate != nil {
		targetDate = DateString(*n.TargetDate)
	}
	var eventID any
	if n.EventID != nil {
		eventID = *n.EventID
	}

	result, err := r.db.ExecContext(ctx,
		`INSERT INTO notifications (id, user_id, event_id, message, category, is_read, target_date, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::date, $8)
		 ON CONFLICT (user_id, event_id, target_date) WHERE category = 'reminder' DO NOTHING`,
		n.ID, n.UserID, eventID, n.Message, string(n.Category), n.IsRead, targetDate, n.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return false, nil
		}
		return false, fmt.Errorf("failed to insert notification: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// ListByUser はユーザーの通知を新しい順に最大limit件取得する。
func (r *PostgresNotificationRepo) ListByUser(ctx context.Context, userID string, limit int) ([]*model.Notification, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+notificationColumns+` FROM notifications
		 WHERE user_id = $1
		 ORDER BY created_at DESC, id
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	var notifications []*model.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate notifications: %w", err)
	}
	return notifications, nil
}

// MarkRead は通知を既読にし、更新後の通知を返す。見つからない場合はnilを返す。
// 既読の通知に対しても成功する（冪等）。
func (r *PostgresNotificationRepo) MarkRead(ctx context.Context, userID, id string) (*model.Notification, error) {
	n, err := scanNotification(r.db.QueryRowContext(ctx,
		`UPDATE notifications SET is_read = true
		 WHERE id = $1 AND user_id = $2
		 RETURNING `+notificationColumns,
		id, userID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to mark notification as read: %w", err)
	}
	return n, nil
}

func scanNotification(s rowScanner) (*model.Notification, error) {
	var (
		n          model.Notification
		eventID    sql.NullString
		category   string
		targetDate sql.NullTime
	)
	err := s.Scan(&n.ID, &n.UserID, &eventID, &n.Message, &category, &n.IsRead, &targetDate, &n.CreatedAt)
	if err != nil {
		return nil, err
	}
	n.Category = model.NotificationCategory(category)
	if eventID.Valid {
		n.EventID = &eventID.String
	}
	if targetDate.Valid {
		n.TargetDate = &targetDate.Time
	}
	return &n, nil
}

// DateString は日付をPostgreSQLのDATE型リテラル（YYYY-MM-DD）に変換する。
// 時刻のロケーションにおける暦日を使用する。
func DateString(t time.Time) string {
	return t.Format(time.DateOnly)
}

// compile-time interface check
var _ NotificationRepository = (*PostgresNotificationRepo)(nil)

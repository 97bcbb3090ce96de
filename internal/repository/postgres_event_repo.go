package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/eventsync/internal/model"
)

// PostgresEventRepo はPostgreSQLを使用したイベントリポジトリ。
type PostgresEventRepo struct {
	db *sql.DB
}

// NewPostgresEventRepo はPostgresEventRepoを生成する。
func NewPostgresEventRepo(db *sql.DB) *PostgresEventRepo {
	return &PostgresEventRepo{db: db}
}

const eventColumns = `id, user_id, title, event_date, description, total_budget, is_main_event, created_at, updated_at`

// FindByID は指定IDのイベントを取得する。見つからない場合はnilを返す。
func (r *PostgresEventRepo) FindByID(ctx context.Context, id string) (*model.Event, error) {
	event, err := scanEvent(r.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find event by ID: %w", err)
	}
	return event, nil
}

// ListByUser はユーザーのイベントを開催日順で取得する。
func (r *PostgresEventRepo) ListByUser(ctx context.Context, userID string) ([]*model.Event, error) {
	return r.queryEvents(ctx,
		`SELECT `+eventColumns+` FROM events WHERE user_id = $1 ORDER BY event_date, id`,
		userID,
	)
}

// FindInRange はユーザーのイベントのうち開催日が [start, end] に含まれるものを取得する。
// 両端を含む閉区間で比較する。
func (r *PostgresEventRepo) FindInRange(ctx context.Context, userID string, start, end time.Time) ([]*model.Event, error) {
	return r.queryEvents(ctx,
		`SELECT `+eventColumns+` FROM events
		 WHERE user_id = $1 AND event_date >= $2 AND event_date <= $3
		 ORDER BY event_date, id`,
		userID, start, end,
	)
}

// Create はイベントを作成する。
func (r *PostgresEventRepo) Create(ctx context.Context, event *model.Event) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO events (id, user_id, title, event_date, description, total_budget, is_main_event, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		event.ID, event.UserID, event.Title, event.EventDate, event.Description,
		event.TotalBudget, event.IsMainEvent, event.CreatedAt, event.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// Update はイベントを更新する。存在しない場合はEventNotFoundエラーを返す。
func (r *PostgresEventRepo) Update(ctx context.Context, event *model.Event) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE events
		 SET title = $2, event_date = $3, description = $4, total_budget = $5,
		     is_main_event = $6, updated_at = $7
		 WHERE id = $1`,
		event.ID, event.Title, event.EventDate, event.Description,
		event.TotalBudget, event.IsMainEvent, event.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update event: %w", err)
	}
	return requireAffected(result, model.NewEventNotFoundError(event.ID))
}

// Delete はイベントを削除する。関連するリマインダー通知はCASCADE削除される。
func (r *PostgresEventRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM events WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}
	return requireAffected(result, model.NewEventNotFoundError(id))
}

func (r *PostgresEventRepo) queryEvents(ctx context.Context, query string, args ...any) ([]*model.Event, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []*model.Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}
	return events, nil
}

func scanEvent(s rowScanner) (*model.Event, error) {
	event := &model.Event{}
	err := s.Scan(
		&event.ID, &event.UserID, &event.Title, &event.EventDate, &event.Description,
		&event.TotalBudget, &event.IsMainEvent, &event.CreatedAt, &event.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return event, nil
}

// requireAffected は更新件数が0件の場合にnotFoundを返す。
func requireAffected(result sql.Result, notFound error) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return notFound
	}
	return nil
}

// compile-time interface check
var _ EventRepository = (*PostgresEventRepo)(nil)

package model

import "time"

// Event はユーザーが計画するイベント（結婚式など）を表す。
type Event struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Title       string    `json:"title"`
	EventDate   time.Time `json:"event_date"`
	Description string    `json:"description"`
	TotalBudget float64   `json:"total_budget"`
	IsMainEvent bool      `json:"is_main_event"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

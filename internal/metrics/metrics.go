// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RealtimeRecorder はリアルタイムハブが利用するメトリクス記録インターフェース。
type RealtimeRecorder interface {
	// SetActive は接続数・ルーム数・編集ロック数の現在値を記録する。
	SetActive(connections, rooms, locks int)
	RecordLockRequest(granted bool)
	// RecordBroadcast は配信種別（room/user）ごとの配信回数と宛先数を記録する。
	RecordBroadcast(kind string, recipients int)
	// RecordDropped は配信されずに破棄された信号を理由別に記録する。
	RecordDropped(reason string)
}

// ReminderRecorder はリマインダースケジューラが利用するメトリクス記録インターフェース。
type ReminderRecorder interface {
	ObserveReminderRun(created, skipped, failed int, duration time.Duration)
}

// HTTPRecorder はHTTPレスポンスのステータスコードを記録するインターフェース。
type HTTPRecorder interface {
	RecordHTTPStatus(statusCode int)
}

// 破棄理由
const (
	DropMailboxFull    = "mailbox_full"
	DropSendBufferFull = "send_buffer_full"
)

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	connections  prometheus.Gauge
	rooms        prometheus.Gauge
	editLocks    prometheus.Gauge
	lockRequests *prometheus.CounterVec
	broadcasts   *prometheus.CounterVec
	deliveries   *prometheus.CounterVec
	dropped      *prometheus.CounterVec
	reminders    *prometheus.CounterVec
	reminderRun  prometheus.Histogram
	httpStatus   *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "eventsync_ws_connections",
			Help: "接続中のWebSocket数",
		}),
		rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "eventsync_rooms",
			Help: "メンバーが存在するイベントルーム数",
		}),
		editLocks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "eventsync_edit_locks",
			Help: "保持されている編集ロック数",
		}),
		lockRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eventsync_lock_requests_total",
			Help: "編集ロック要求の結果別合計数",
		}, []string{"outcome"}),
		broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eventsync_broadcasts_total",
			Help: "配信種別ごとのブロードキャスト合計数",
		}, []string{"kind"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eventsync_broadcast_deliveries_total",
			Help: "ブロードキャストの宛先接続数の合計",
		}, []string{"kind"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eventsync_broadcast_dropped_total",
			Help: "破棄された信号の理由別合計数",
		}, []string{"reason"}),
		reminders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eventsync_reminders_total",
			Help: "リマインダー処理の結果別合計数",
		}, []string{"result"}),
		reminderRun: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "eventsync_reminder_run_duration_seconds",
			Help:    "リマインダースケジューラ1回分の実行時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eventsync_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.connections,
		c.rooms,
		c.editLocks,
		c.lockRequests,
		c.broadcasts,
		c.deliveries,
		c.dropped,
		c.reminders,
		c.reminderRun,
		c.httpStatus,
	)

	return c
}

// SetActive は接続数・ルーム数・編集ロック数を記録する。
func (c *Collector) SetActive(connections, rooms, locks int) {
	c.connections.Set(float64(connections))
	c.rooms.Set(float64(rooms))
	c.editLocks.Set(float64(locks))
}

// RecordLockRequest は編集ロック要求の結果を記録する。
func (c *Collector) RecordLockRequest(granted bool) {
	outcome := "denied"
	if granted {
		outcome = "granted"
	}
	c.lockRequests.WithLabelValues(outcome).Inc()
}

// RecordBroadcast はブロードキャストを記録する。
func (c *Collector) RecordBroadcast(kind string, recipients int) {
	c.broadcasts.WithLabelValues(kind).Inc()
	c.deliveries.WithLabelValues(kind).Add(float64(recipients))
}

// RecordDropped は破棄された信号を記録する。
func (c *Collector) RecordDropped(reason string) {
	c.dropped.WithLabelValues(reason).Inc()
}

// ObserveReminderRun はリマインダースケジューラの実行結果を記録する。
func (c *Collector) ObserveReminderRun(created, skipped, failed int, duration time.Duration) {
	c.reminders.WithLabelValues("created").Add(float64(created))
	c.reminders.WithLabelValues("skipped").Add(float64(skipped))
	c.reminders.WithLabelValues("failed").Add(float64(failed))
	c.reminderRun.Observe(duration.Seconds())
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Nop は何も記録しない実装。テストやメトリクス不要のコマンドで使用する。
type Nop struct{}

func (Nop) SetActive(int, int, int)                         {}
func (Nop) RecordLockRequest(bool)                          {}
func (Nop) RecordBroadcast(string, int)                     {}
func (Nop) RecordDropped(string)                            {}
func (Nop) ObserveReminderRun(int, int, int, time.Duration) {}
func (Nop) RecordHTTPStatus(int)                            {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

var (
	_ RealtimeRecorder = (*Collector)(nil)
	_ ReminderRecorder = (*Collector)(nil)
	_ HTTPRecorder     = (*Collector)(nil)
	_ RealtimeRecorder = Nop{}
	_ ReminderRecorder = Nop{}
	_ HTTPRecorder     = Nop{}
)

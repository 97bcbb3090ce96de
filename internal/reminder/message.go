package reminder

import (
	"fmt"
	"time"
)

// ReminderWindow はnowから数えてleadDays日後の暦日の範囲を返す。
// startはloc における 00:00:00.000、endは 23:59:59.999。
// targetDateはその日の0時で、リマインダーの重複判定キーに使用する。
func ReminderWindow(now time.Time, leadDays int, loc *time.Location) (targetDate, start, end time.Time) {
	if loc == nil {
		loc = time.Local
	}
	y, m, d := now.In(loc).Date()
	start = time.Date(y, m, d+leadDays, 0, 0, 0, 0, loc)
	end = time.Date(y, m, d+leadDays, 23, 59, 59, int(999*time.Millisecond), loc)
	return start, start, end
}

// reminderMessage はイベント名と日数から通知メッセージを組み立てる。
// 同じ入力からは常に同じ文字列を返す。
func reminderMessage(title string, leadDays int) string {
	if leadDays == 0 {
		return fmt.Sprintf("リマインダー: イベント「%s」は本日開催です", title)
	}
	return fmt.Sprintf("リマインダー: イベント「%s」まであと%d日です", title, leadDays)
}

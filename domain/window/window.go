// Package window はレポート対象となる営業日ウィンドウを計算する
package window

import (
	"time"

	"github.com/pyama86/slack-pulse/domain/model"
)

// Window は 1 回の実行で対象とする営業日の集合
// Since は最も古い営業日の 0 時、Until は常に実行時刻
type Window struct {
	Dates []time.Time
	Since time.Time
	Until time.Time
}

func IsBusinessDay(t time.Time) bool {
	wd := t.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// BusinessDays は today から遡って直近 n 日分の平日(月〜金)を新しい順に返す
// today が土日の場合は数えない
func BusinessDays(today time.Time, n int) []time.Time {
	if n <= 0 {
		return nil
	}
	d := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, today.Location())
	dates := make([]time.Time, 0, n)
	for len(dates) < n {
		if IsBusinessDay(d) {
			dates = append(dates, d)
		}
		d = d.AddDate(0, 0, -1)
	}
	return dates
}

func New(now time.Time, n int) Window {
	dates := BusinessDays(now, n)
	w := Window{Dates: dates, Until: now}
	if len(dates) > 0 {
		w.Since = dates[len(dates)-1]
	} else {
		w.Since = now
	}
	return w
}

// Contains は t が [Since, Until] に含まれるか
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Since) && !t.After(w.Until)
}

func (w Window) DateKeys() []string {
	keys := make([]string, 0, len(w.Dates))
	for _, d := range w.Dates {
		keys = append(keys, d.Format(model.DateLayout))
	}
	return keys
}

func (w Window) Today() string {
	return w.Until.Format(model.DateLayout)
}

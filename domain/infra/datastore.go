package infra

import (
	"time"

	"github.com/pyama86/slack-pulse/domain/model"
)

// Datastore はパイプラインの書き込み先。削除系の操作は持たない
type Datastore interface {
	// メッセージを登録する。新規なら true、既存なら reply_count と thread_ts だけ更新して false
	UpsertMessage(*model.Message) (bool, error)
	// ユーザーを作成するか、最終発言時刻と累計発言数を更新する
	TouchUser(*model.User, time.Time) error
	// 分類結果を保存する。nil のスコアは上書きしない
	SaveMessageAnalysis(string, model.Analysis) error
	// 日別集計を保存する。当日分は更新、過去分は未作成の場合だけ作成する
	SaveDailyAnalysis(*model.DailyAnalysis, string) error
	// ユーザー別集計を保存する。更新規則は日別集計と同じ
	SaveUserMetric(*model.UserMetric, string) error
	// レポート本文と生成元を当日の日別集計に保存する
	SaveReport(channelID, date, content, source string) error
	// レポートを送信済みにする
	MarkReportSent(channelID, date string) error

	// 運用者向けの参照。レポート生成には使わない
	GetDailyAnalysis(channelID, date string) (*model.DailyAnalysis, error)
	ListMessages(channelID string) ([]model.Message, error)
}

// Package report は推論モデルとのツール呼び出しループでウィークリーレポートを作る
package report

import (
	"time"

	"github.com/pyama86/slack-pulse/domain/classify"
	"github.com/pyama86/slack-pulse/domain/metrics"
	"github.com/pyama86/slack-pulse/domain/model"
	"github.com/pyama86/slack-pulse/domain/window"
)

// Snapshot は 1 回の実行で計算済みの分類・集計結果。ツールはこれだけを読む
type Snapshot struct {
	ChannelID   string
	ChannelName string
	Window      window.Window
	Messages    []model.Message
	Results     []classify.Result
	Metrics     *metrics.Result
	Config      classify.Config
	Classifier  string
	// Warnings は分類の劣化などレポートに残す注意事項
	Warnings  []string
	Permalink func(channelID, ts string) string
	Location  *time.Location
}

func (s *Snapshot) summary() *metrics.Summary {
	return &s.Metrics.Summary
}

func (s *Snapshot) link(ts string) string {
	if s.Permalink == nil || ts == "" {
		return ""
	}
	return s.Permalink(s.ChannelID, ts)
}

func (s *Snapshot) channelLabel() string {
	if s.ChannelName != "" {
		return s.ChannelName
	}
	return s.ChannelID
}

func (s *Snapshot) location() *time.Location {
	if s.Location != nil {
		return s.Location
	}
	return time.UTC
}

// Package ingest は取得したメッセージを正規化し、重複なく保存する
package ingest

import (
	"strings"
	"unicode/utf8"

	"github.com/pyama86/slack-pulse/domain/model"
	"github.com/pyama86/slack-pulse/domain/window"
)

// MinTextLength 未満の本文は保存しない
const MinTextLength = 15

type Reason string

// 除外理由。判定はこの順で行う
const (
	RejectBot           Reason = "bot_author"
	RejectSystem        Reason = "system_message"
	RejectTooShort      Reason = "too_short"
	RejectOutsideWindow Reason = "outside_window"
)

type Normalizer struct {
	window window.Window
}

func NewNormalizer(w window.Window) *Normalizer {
	return &Normalizer{window: w}
}

// Kind は bot_message / system / message のいずれかを返す
func Kind(raw *model.RawMessage) string {
	switch {
	case raw.BotID != "" || raw.SubType == "bot_message":
		return model.KindBotMessage
	case raw.SubType != "" && raw.SubType != "thread_broadcast":
		// channel_join など
		return model.KindSystem
	case raw.UserID == "":
		return model.KindSystem
	default:
		return model.KindMessage
	}
}

// Normalize は 1 件を正規化する。除外した場合は理由を返す
func (n *Normalizer) Normalize(raw *model.RawMessage) (*model.Message, Reason) {
	kind := Kind(raw)
	switch kind {
	case model.KindBotMessage:
		return nil, RejectBot
	case model.KindSystem:
		return nil, RejectSystem
	}
	text := strings.TrimSpace(raw.Text)
	if utf8.RuneCountInString(text) < MinTextLength {
		return nil, RejectTooShort
	}
	if !n.window.Contains(raw.Time) {
		return nil, RejectOutsideWindow
	}

	return &model.Message{
		MessageID:  model.MessageID(raw.ChannelID, raw.TS),
		ChannelID:  raw.ChannelID,
		UserID:     raw.UserID,
		UserName:   raw.Username,
		Text:       text,
		TS:         raw.TS,
		Timestamp:  raw.Time,
		ThreadTS:   raw.ThreadTS,
		ReplyCount: raw.ReplyCount,
		Kind:       kind,
	}, ""
}

// NormalizeAll は除外理由ごとの件数も返す。同じ ID の重複は最初の 1 件だけ残す
func (n *Normalizer) NormalizeAll(raws []model.RawMessage) ([]model.Message, map[Reason]int) {
	msgs := make([]model.Message, 0, len(raws))
	rejected := map[Reason]int{}
	seen := map[string]bool{}
	for i := range raws {
		m, reason := n.Normalize(&raws[i])
		if m == nil {
			rejected[reason]++
			continue
		}
		if seen[m.MessageID] {
			continue
		}
		seen[m.MessageID] = true
		msgs = append(msgs, *m)
	}
	return msgs, rejected
}

// Package classify はメッセージを感情・緊急度・決定事項・ブロッカーの軸で分類する
package classify

import (
	"context"

	"github.com/pyama86/slack-pulse/domain/model"
)

const excerptLen = 150

// Result は 1 メッセージ分の分類結果。nil のスコアは未分類を表す
type Result struct {
	MessageID    string         `json:"message_id"`
	Sentiment    *float64       `json:"sentiment,omitempty"`
	Urgency      *model.Urgency `json:"urgency,omitempty"`
	UrgencyScore int            `json:"urgency_score"`
	Decision     bool           `json:"decision"`
	DecisionText string         `json:"decision_text,omitempty"`
	Question     bool           `json:"question"`
	Blocker      bool           `json:"blocker"`
	BlockerText  string         `json:"blocker_text,omitempty"`
	BlockedBy    string         `json:"blocked_by,omitempty"`
	Unblock      bool           `json:"unblock"`
	IsUpdate     bool           `json:"is_update"`
	Unclassified bool           `json:"unclassified"`
	Source       string         `json:"source"`
}

// Analysis は永続化するフィールドを取り出す
func (r Result) Analysis() model.Analysis {
	return model.Analysis{
		IsUpdate:         r.IsUpdate,
		SentimentScore:   r.Sentiment,
		UrgencyLevel:     r.Urgency,
		ContainsDecision: r.Decision,
		ContainsBlocker:  r.Blocker,
	}
}

// Classifier はメッセージ単位の分類器。KeywordClassifier と ModelClassifier がある
type Classifier interface {
	Classify(ctx context.Context, m *model.Message) (Result, error)
	Name() string
}

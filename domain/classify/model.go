package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pyama86/slack-pulse/domain/model"
)

// Completer は 1 回のプロンプトに対してテキストを返すモデルクライアント
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

const classifySystemPrompt = `You classify a single team chat message. The team writes in Spanish and English.
Answer with one JSON object and nothing else:
{"sentiment": number between -1 and 1,
 "urgency": "low" | "medium" | "high" | "critical",
 "urgency_score": integer 0-10,
 "decision": true if the message states an agreed outcome,
 "decision_text": short summary of the decision or "",
 "blocker": true if someone is blocked or waiting on a dependency,
 "blocker_text": short description of the blocker or ""}`

type modelAnswer struct {
	Sentiment    *float64 `json:"sentiment"`
	Urgency      string   `json:"urgency"`
	UrgencyScore *int     `json:"urgency_score"`
	Decision     bool     `json:"decision"`
	DecisionText string   `json:"decision_text"`
	Blocker      bool     `json:"blocker"`
	BlockerText  string   `json:"blocker_text"`
}

// ModelClassifier はモデル呼び出しで分類する。呼び出しには必ずタイムアウトを付ける
type ModelClassifier struct {
	completer Completer
	keyword   *KeywordClassifier
	timeout   time.Duration
	name      string
}

func NewModelClassifier(name string, c Completer, cfg Config, timeout time.Duration) *ModelClassifier {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &ModelClassifier{
		completer: c,
		keyword:   NewKeywordClassifier(cfg),
		timeout:   timeout,
		name:      name,
	}
}

func (mc *ModelClassifier) Name() string { return mc.name }

func (mc *ModelClassifier) Classify(ctx context.Context, m *model.Message) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, mc.timeout)
	defer cancel()

	prompt := fmt.Sprintf("author: %s\ntime: %s\nmessage:\n%s", m.UserName, m.Timestamp.Format(time.RFC3339), m.Text)
	out, err := mc.completer.Complete(ctx, classifySystemPrompt, prompt)
	if err != nil {
		return Result{}, fmt.Errorf("model classification failed: %w", err)
	}
	answer, err := parseModelAnswer(out)
	if err != nil {
		return Result{}, err
	}

	urgency, err := model.ParseUrgency(strings.ToLower(strings.TrimSpace(answer.Urgency)))
	if err != nil {
		return Result{}, fmt.Errorf("model classification failed: %w", err)
	}
	if answer.Sentiment == nil {
		return Result{}, fmt.Errorf("model classification failed: sentiment missing")
	}
	sentiment := clamp(*answer.Sentiment, -1, 1)
	score := urgency.Score()
	if answer.UrgencyScore != nil {
		score = int(clamp(float64(*answer.UrgencyScore), 0, 10))
	}

	r := Result{
		MessageID:    m.MessageID,
		Sentiment:    &sentiment,
		Urgency:      &urgency,
		UrgencyScore: score,
		Source:       mc.name,
	}
	mc.keyword.applyFlags(&r, m)
	// キーワードかモデルのどちらかが検知すれば立てる
	if answer.Decision {
		r.Decision = true
		r.Question = false
		if answer.DecisionText != "" {
			r.DecisionText = answer.DecisionText
		} else if r.DecisionText == "" {
			r.DecisionText = excerpt(m.Text, excerptLen)
		}
	}
	if answer.Blocker {
		r.Blocker = true
		if answer.BlockerText != "" {
			r.BlockerText = answer.BlockerText
		} else if r.BlockerText == "" {
			r.BlockerText = excerpt(m.Text, excerptLen)
		}
		if r.BlockedBy == "" {
			r.BlockedBy = "unspecified"
		}
	}
	return r, nil
}

func parseModelAnswer(out string) (*modelAnswer, error) {
	s := strings.TrimSpace(out)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	if i := strings.Index(s, "{"); i > 0 {
		s = s[i:]
	}
	if i := strings.LastIndex(s, "}"); i >= 0 && i < len(s)-1 {
		s = s[:i+1]
	}
	var a modelAnswer
	if err := json.Unmarshal([]byte(strings.TrimSpace(s)), &a); err != nil {
		return nil, fmt.Errorf("failed to parse model answer: %w", err)
	}
	return &a, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

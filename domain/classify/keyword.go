package classify

import (
	"context"
	"regexp"
	"strings"

	"github.com/pyama86/slack-pulse/domain/model"
)

const (
	SentimentPositive = "positive"
	SentimentNegative = "negative"
	SentimentNeutral  = "neutral"
)

var mentionPattern = regexp.MustCompile(`<@([A-Z0-9]+)>`)

type Config struct {
	// 0 を中心とした中立帯の幅
	NeutralBand     float64
	UrgencyKeywords []string
	UpdateKeywords  []string
}

// Band はスコアを positive/negative/neutral に振り分ける
func (c Config) Band(score float64) string {
	half := c.NeutralBand / 2
	switch {
	case score > half:
		return SentimentPositive
	case score < -half:
		return SentimentNegative
	default:
		return SentimentNeutral
	}
}

type KeywordClassifier struct {
	cfg Config
}

func NewKeywordClassifier(cfg Config) *KeywordClassifier {
	return &KeywordClassifier{cfg: cfg}
}

func (k *KeywordClassifier) Name() string { return "keyword" }

func (k *KeywordClassifier) Classify(_ context.Context, m *model.Message) (Result, error) {
	sentiment := k.Sentiment(m.Text)
	urgency, score := k.Urgency(m.Text)
	r := Result{
		MessageID:    m.MessageID,
		Sentiment:    &sentiment,
		Urgency:      &urgency,
		UrgencyScore: score,
		Source:       k.Name(),
	}
	k.applyFlags(&r, m)
	return r, nil
}

// applyFlags はモデルの有無にかかわらずキーワードで判定する項目を埋める
func (k *KeywordClassifier) applyFlags(r *Result, m *model.Message) {
	r.IsUpdate = k.IsUpdate(m.Text)
	r.Decision, r.DecisionText = Decision(m.Text)
	r.Question = !r.Decision && containsAny(strings.ToLower(m.Text), questionKeywords)
	r.Blocker, r.BlockerText, r.BlockedBy = Blocker(m.Text)
	r.Unblock = containsAny(strings.ToLower(m.Text), unblockKeywords)
}

// Sentiment は [-1, 1] のスコアを返す
func (k *KeywordClassifier) Sentiment(text string) float64 {
	t := strings.ToLower(text)
	pos := countAny(t, positiveKeywords)
	neg := countAny(t, negativeKeywords)
	if pos+neg == 0 {
		return 0
	}
	return float64(pos-neg) / float64(pos+neg)
}

// Urgency は緊急度と 0-10 のスコアを返す
func (k *KeywordClassifier) Urgency(text string) (model.Urgency, int) {
	t := strings.ToLower(text)
	level := model.UrgencyLow
	switch {
	case containsAny(t, criticalIndicators):
		level = model.UrgencyCritical
	case containsAny(t, highIndicators), containsAny(t, k.cfg.UrgencyKeywords):
		level = model.UrgencyHigh
	case containsAny(t, mediumIndicators):
		level = model.UrgencyMedium
	}
	// 締め切りや顧客への言及は最低でも high
	if level.Rank() < model.UrgencyHigh.Rank() &&
		(containsAny(t, deadlineIndicators) || containsAny(t, clientIndicators)) {
		level = model.UrgencyHigh
	}
	return level, level.Score()
}

func (k *KeywordClassifier) IsUpdate(text string) bool {
	return containsAny(strings.ToLower(text), k.cfg.UpdateKeywords)
}

// Decision は合意事項を含むかどうかと抜粋を返す
func Decision(text string) (bool, string) {
	if !containsAny(strings.ToLower(text), decisionKeywords) {
		return false, ""
	}
	return true, excerpt(text, excerptLen)
}

// Blocker はブロッカーの有無、抜粋、誰/何にブロックされているかを返す
func Blocker(text string) (bool, string, string) {
	t := strings.ToLower(text)
	if !containsAny(t, blockerKeywords) {
		return false, "", ""
	}
	blockedBy := "unspecified"
	if m := mentionPattern.FindStringSubmatch(text); m != nil {
		blockedBy = "<@" + m[1] + ">"
	} else if containsAny(t, externalWaitKeywords) {
		blockedBy = "external response"
	}
	return true, excerpt(text, excerptLen), blockedBy
}

// Mentions は本文中の <@U...> を返す
func Mentions(text string) []string {
	var ids []string
	for _, m := range mentionPattern.FindAllStringSubmatch(text, -1) {
		ids = append(ids, m[1])
	}
	return ids
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if kw != "" && strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

func countAny(text string, keywords []string) int {
	n := 0
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			n++
		}
	}
	return n
}

func excerpt(text string, n int) string {
	text = strings.TrimSpace(text)
	r := []rune(text)
	if len(r) <= n {
		return text
	}
	return string(r[:n]) + "…"
}

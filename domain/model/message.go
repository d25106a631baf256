package model

import "time"

// メッセージの種別
const (
	KindMessage    = "message"
	KindBotMessage = "bot_message"
	KindSystem     = "system"
)

type Message struct {
	MessageID        string    `gorm:"type:varchar(64);primary_key"` // "<channel>:<ts>"
	ChannelID        string    `gorm:"type:varchar(50);index"`
	UserID           string    `gorm:"type:varchar(50);index"`
	UserName         string    `gorm:"type:varchar(100)"`
	Text             string    `gorm:"type:text"`
	TS               string    `gorm:"type:varchar(20)"`
	Timestamp        time.Time `gorm:"index"`
	ThreadTS         string    `gorm:"type:varchar(20)"`
	ReplyCount       int
	Kind             string `gorm:"type:varchar(20)"`
	IsUpdate         bool
	SentimentScore   *float64
	UrgencyLevel     *string `gorm:"type:varchar(10)"`
	ContainsDecision bool
	ContainsBlocker  bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// MessageID は channel と ts から一意な ID を作る
func MessageID(channelID, ts string) string {
	return channelID + ":" + ts
}

// IsReply はスレッドへの返信かどうか
func (m *Message) IsReply() bool {
	return m.ThreadTS != "" && m.ThreadTS != m.TS
}

// Analysis は分類結果のうち永続化されるフィールド
type Analysis struct {
	IsUpdate         bool
	SentimentScore   *float64
	UrgencyLevel     *Urgency
	ContainsDecision bool
	ContainsBlocker  bool
}

// Apply は分類結果をメッセージに反映する。nil のスコアは既存値を上書きしない
func (a Analysis) Apply(m *Message) {
	m.IsUpdate = a.IsUpdate
	m.ContainsDecision = a.ContainsDecision
	m.ContainsBlocker = a.ContainsBlocker
	if a.SentimentScore != nil {
		s := *a.SentimentScore
		m.SentimentScore = &s
	}
	if a.UrgencyLevel != nil {
		u := string(*a.UrgencyLevel)
		m.UrgencyLevel = &u
	}
}

package model

import "time"

// RawMessage はチャットプラットフォームから取得したままのメッセージ
type RawMessage struct {
	ChannelID  string
	UserID     string
	BotID      string
	Username   string
	Text       string
	TS         string
	Time       time.Time
	ThreadTS   string
	ReplyCount int
	SubType    string
}

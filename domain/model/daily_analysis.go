package model

import "time"

// レポートの生成元
const (
	ReportSourceModel    = "model"
	ReportSourceFallback = "fallback"
)

const DateLayout = "2006-01-02"

type DailyAnalysis struct {
	ID              uint   `gorm:"primary_key"`
	ChannelID       string `gorm:"type:varchar(50);unique_index:idx_daily_channel_date"`
	AnalysisDate    string `gorm:"type:varchar(10);unique_index:idx_daily_channel_date"`
	TotalMessages   int
	ActiveUsers     int
	UpdatesCount    int
	DecisionsCount  int
	BlockersCount   int
	SentimentScore  *float64
	TeamHealthScore float64
	UrgencyScore    float64
	ReportContent   string `gorm:"type:text"`
	ReportSource    string `gorm:"type:varchar(10)"`
	ReportSent      bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type UserMetric struct {
	ID                 uint   `gorm:"primary_key"`
	UserID             string `gorm:"type:varchar(50);unique_index:idx_user_metric"`
	ChannelID          string `gorm:"type:varchar(50);unique_index:idx_user_metric"`
	MetricDate         string `gorm:"type:varchar(10);unique_index:idx_user_metric"`
	MessageCount       int
	UpdateCount        int
	DecisionCount      int
	QuestionCount      int
	AnswerCount        int
	SentimentAvg       *float64
	CollaborationScore float64
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

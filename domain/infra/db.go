package infra

import (
	"fmt"
	"os"
	"path"
	"time"

	"github.com/jinzhu/gorm"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pyama86/slack-pulse/domain/model"
)

type DataBase struct {
	db *gorm.DB
}

func NewDataBase(dbpath string) (*DataBase, error) {
	if dbpath == "" {
		dbpath = "./db/pulse.db"
	}
	if !path.IsAbs(dbpath) {
		dbpath = path.Join(os.Getenv("PWD"), dbpath)
	}
	if err := os.MkdirAll(path.Dir(dbpath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create db dir: %w", err)
	}
	db, err := gorm.Open("sqlite3", dbpath)
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&model.Message{}, &model.User{}, &model.DailyAnalysis{}, &model.UserMetric{}).Error; err != nil {
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}
	return &DataBase{db: db}, nil
}

func (d *DataBase) Close() error {
	return d.db.Close()
}

func (d *DataBase) UpsertMessage(m *model.Message) (bool, error) {
	var existing model.Message
	err := d.db.Where("message_id = ?", m.MessageID).First(&existing).Error
	if err == gorm.ErrRecordNotFound {
		return true, d.db.Create(m).Error
	}
	if err != nil {
		return false, err
	}
	if existing.ReplyCount == m.ReplyCount && existing.ThreadTS == m.ThreadTS {
		return false, nil
	}
	return false, d.db.Model(&model.Message{}).
		Where("message_id = ?", m.MessageID).
		Updates(map[string]interface{}{
			"reply_count": m.ReplyCount,
			"thread_ts":   m.ThreadTS,
		}).Error
}

func (d *DataBase) TouchUser(u *model.User, at time.Time) error {
	var existing model.User
	err := d.db.Where("user_id = ?", u.UserID).First(&existing).Error
	if err == gorm.ErrRecordNotFound {
		user := *u
		user.FirstSeenAt = at
		user.LastActiveAt = at
		user.TotalMessages = 1
		return d.db.Create(&user).Error
	}
	if err != nil {
		return err
	}

	updates := map[string]interface{}{
		"total_messages": gorm.Expr("total_messages + ?", 1),
	}
	if at.After(existing.LastActiveAt) {
		updates["last_active_at"] = at
	}
	if u.DisplayName != "" {
		updates["display_name"] = u.DisplayName
	}
	if u.Username != "" {
		updates["username"] = u.Username
	}
	return d.db.Model(&model.User{}).Where("user_id = ?", u.UserID).Updates(updates).Error
}

func (d *DataBase) SaveMessageAnalysis(id string, a model.Analysis) error {
	updates := map[string]interface{}{
		"is_update":         a.IsUpdate,
		"contains_decision": a.ContainsDecision,
		"contains_blocker":  a.ContainsBlocker,
	}
	if a.SentimentScore != nil {
		updates["sentiment_score"] = *a.SentimentScore
	}
	if a.UrgencyLevel != nil {
		updates["urgency_level"] = string(*a.UrgencyLevel)
	}
	return d.db.Model(&model.Message{}).Where("message_id = ?", id).Updates(updates).Error
}

func (d *DataBase) SaveDailyAnalysis(row *model.DailyAnalysis, today string) error {
	var existing model.DailyAnalysis
	err := d.db.Where("channel_id = ? AND analysis_date = ?", row.ChannelID, row.AnalysisDate).First(&existing).Error
	if err == gorm.ErrRecordNotFound {
		r := *row
		r.ID = 0
		return d.db.Create(&r).Error
	}
	if err != nil {
		return err
	}
	// 過去の日付は確定済み
	if row.AnalysisDate != today {
		return nil
	}
	return d.db.Model(&existing).Updates(map[string]interface{}{
		"total_messages":    row.TotalMessages,
		"active_users":      row.ActiveUsers,
		"updates_count":     row.UpdatesCount,
		"decisions_count":   row.DecisionsCount,
		"blockers_count":    row.BlockersCount,
		"sentiment_score":   row.SentimentScore,
		"team_health_score": row.TeamHealthScore,
		"urgency_score":     row.UrgencyScore,
	}).Error
}

func (d *DataBase) SaveUserMetric(row *model.UserMetric, today string) error {
	var existing model.UserMetric
	err := d.db.Where("user_id = ? AND channel_id = ? AND metric_date = ?", row.UserID, row.ChannelID, row.MetricDate).
		First(&existing).Error
	if err == gorm.ErrRecordNotFound {
		r := *row
		r.ID = 0
		return d.db.Create(&r).Error
	}
	if err != nil {
		return err
	}
	if row.MetricDate != today {
		return nil
	}
	return d.db.Model(&existing).Updates(map[string]interface{}{
		"message_count":       row.MessageCount,
		"update_count":        row.UpdateCount,
		"decision_count":      row.DecisionCount,
		"question_count":      row.QuestionCount,
		"answer_count":        row.AnswerCount,
		"sentiment_avg":       row.SentimentAvg,
		"collaboration_score": row.CollaborationScore,
	}).Error
}

func (d *DataBase) SaveReport(channelID, date, content, source string) error {
	var existing model.DailyAnalysis
	err := d.db.Where("channel_id = ? AND analysis_date = ?", channelID, date).First(&existing).Error
	if err == gorm.ErrRecordNotFound {
		return d.db.Create(&model.DailyAnalysis{
			ChannelID:     channelID,
			AnalysisDate:  date,
			ReportContent: content,
			ReportSource:  source,
		}).Error
	}
	if err != nil {
		return err
	}
	return d.db.Model(&existing).Updates(map[string]interface{}{
		"report_content": content,
		"report_source":  source,
		"report_sent":    false,
	}).Error
}

func (d *DataBase) MarkReportSent(channelID, date string) error {
	res := d.db.Model(&model.DailyAnalysis{}).
		Where("channel_id = ? AND analysis_date = ?", channelID, date).
		Update("report_sent", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("daily analysis not found: channel=%s date=%s", channelID, date)
	}
	return nil
}

func (d *DataBase) GetDailyAnalysis(channelID, date string) (*model.DailyAnalysis, error) {
	var row model.DailyAnalysis
	err := d.db.Where("channel_id = ? AND analysis_date = ?", channelID, date).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (d *DataBase) ListMessages(channelID string) ([]model.Message, error) {
	var msgs []model.Message
	err := d.db.Where("channel_id = ?", channelID).Order("timestamp asc, message_id asc").Find(&msgs).Error
	return msgs, err
}

func (d *DataBase) GetUser(userID string) (*model.User, error) {
	var u model.User
	err := d.db.Where("user_id = ?", userID).First(&u).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

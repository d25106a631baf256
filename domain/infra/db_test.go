package infra

import (
	"path/filepath"
	"testing"

	"github.com/pyama86/slack-pulse/domain/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDataBase(t *testing.T) *DataBase {
	t.Helper()
	db, err := NewDataBase(filepath.Join(t.TempDir(), "pulse.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestDataBase_DailyAnalysis(t *testing.T) {
	db := newTestDataBase(t)
	today := "2026-10-21"

	past := &model.DailyAnalysis{ChannelID: "C1", AnalysisDate: "2026-10-20", TotalMessages: 4}
	require.NoError(t, db.SaveDailyAnalysis(past, today))
	// 過去日は上書きしない
	require.NoError(t, db.SaveDailyAnalysis(&model.DailyAnalysis{ChannelID: "C1", AnalysisDate: "2026-10-20", TotalMessages: 9}, today))
	got, err := db.GetDailyAnalysis("C1", "2026-10-20")
	require.NoError(t, err)
	assert.Equal(t, 4, got.TotalMessages)

	require.NoError(t, db.SaveReport("C1", today, "report body", model.ReportSourceFallback))
	require.NoError(t, db.SaveDailyAnalysis(&model.DailyAnalysis{ChannelID: "C1", AnalysisDate: today, TotalMessages: 3, TeamHealthScore: 71.5}, today))
	require.NoError(t, db.SaveDailyAnalysis(&model.DailyAnalysis{ChannelID: "C1", AnalysisDate: today, TotalMessages: 5, TeamHealthScore: 64}, today))

	got, err = db.GetDailyAnalysis("C1", today)
	require.NoError(t, err)
	assert.Equal(t, 5, got.TotalMessages)
	assert.Equal(t, 64.0, got.TeamHealthScore)
	assert.Equal(t, "report body", got.ReportContent)
	assert.Equal(t, model.ReportSourceFallback, got.ReportSource)
	assert.False(t, got.ReportSent)

	require.NoError(t, db.MarkReportSent("C1", today))
	got, err = db.GetDailyAnalysis("C1", today)
	require.NoError(t, err)
	assert.True(t, got.ReportSent)

	assert.Error(t, db.MarkReportSent("C1", "2026-01-01"))

	missing, err := db.GetDailyAnalysis("C9", today)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestDataBase_UserMetric(t *testing.T) {
	db := newTestDataBase(t)
	today := "2026-10-21"

	require.NoError(t, db.SaveUserMetric(&model.UserMetric{UserID: "U1", ChannelID: "C1", MetricDate: today, MessageCount: 2}, today))
	require.NoError(t, db.SaveUserMetric(&model.UserMetric{UserID: "U1", ChannelID: "C1", MetricDate: today, MessageCount: 6}, today))
	require.NoError(t, db.SaveUserMetric(&model.UserMetric{UserID: "U1", ChannelID: "C1", MetricDate: "2026-10-20", MessageCount: 1}, today))
	require.NoError(t, db.SaveUserMetric(&model.UserMetric{UserID: "U1", ChannelID: "C1", MetricDate: "2026-10-20", MessageCount: 8}, today))

	var rows []model.UserMetric
	require.NoError(t, db.db.Where("user_id = ?", "U1").Order("metric_date asc").Find(&rows).Error)
	require.Len(t, rows, 2)
	assert.Equal(t, 1, rows[0].MessageCount)
	assert.Equal(t, 6, rows[1].MessageCount)
}

func TestDataBase_SaveMessageAnalysisKeepsScores(t *testing.T) {
	db := newTestDataBase(t)
	inserted, err := db.UpsertMessage(&model.Message{MessageID: "C1:1", ChannelID: "C1", UserID: "U1", TS: "1", Text: "Necesitamos revisar el contrato"})
	require.NoError(t, err)
	assert.True(t, inserted)

	score := 0.4
	urgency := model.UrgencyMedium
	require.NoError(t, db.SaveMessageAnalysis("C1:1", model.Analysis{SentimentScore: &score, UrgencyLevel: &urgency}))
	require.NoError(t, db.SaveMessageAnalysis("C1:1", model.Analysis{ContainsDecision: true}))

	msgs, err := db.ListMessages("C1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.NotNil(t, msgs[0].SentimentScore)
	assert.Equal(t, 0.4, *msgs[0].SentimentScore)
	assert.Equal(t, "medium", *msgs[0].UrgencyLevel)
	assert.True(t, msgs[0].ContainsDecision)
}

func TestSplitMessageID(t *testing.T) {
	c, ts, ok := splitMessageID("C123:1729504800.000100")
	assert.True(t, ok)
	assert.Equal(t, "C123", c)
	assert.Equal(t, "1729504800.000100", ts)

	_, _, ok = splitMessageID("broken")
	assert.False(t, ok)
}

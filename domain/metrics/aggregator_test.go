package metrics

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/pyama86/slack-pulse/domain/classify"
	"github.com/pyama86/slack-pulse/domain/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var cfg = classify.Config{NeutralBand: 0.3}

func f(v float64) *float64 { return &v }

func u(v model.Urgency) *model.Urgency { return &v }

func fixture() ([]model.Message, []classify.Result) {
	msgs := []model.Message{
		{
			MessageID: "C1:1", ChannelID: "C1", UserID: "U1", UserName: "alice", TS: "1",
			Text:      "Deploy del módulo de pagos listo",
			Timestamp: time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC),
		},
		{
			MessageID: "C1:2", ChannelID: "C1", UserID: "U2", UserName: "bob", TS: "2",
			Text:      "Estoy bloqueado esperando a <@U1>",
			Timestamp: time.Date(2026, 10, 19, 11, 0, 0, 0, time.UTC),
		},
		{
			MessageID: "C1:3", ChannelID: "C1", UserID: "U1", UserName: "alice", TS: "3", ThreadTS: "1",
			Text:      "Decidimos liberar el viernes",
			Timestamp: time.Date(2026, 10, 20, 9, 0, 0, 0, time.UTC),
		},
	}
	results := []classify.Result{
		{MessageID: "C1:1", Sentiment: f(0.5), Urgency: u(model.UrgencyLow), UrgencyScore: 2, IsUpdate: true},
		{MessageID: "C1:2", Unclassified: true, Blocker: true, BlockerText: "Estoy bloqueado esperando a <@U1>", BlockedBy: "<@U1>"},
		{MessageID: "C1:3", Sentiment: f(-0.5), Urgency: u(model.UrgencyHigh), UrgencyScore: 7, Decision: true, DecisionText: "Decidimos liberar el viernes"},
	}
	return msgs, results
}

func TestAggregate_Daily(t *testing.T) {
	msgs, results := fixture()
	res := Aggregate("C1", msgs, results, cfg, 4, time.UTC)

	want := []model.DailyAnalysis{
		{
			ChannelID: "C1", AnalysisDate: "2026-10-19",
			TotalMessages: 2, ActiveUsers: 2, UpdatesCount: 1, BlockersCount: 1,
			SentimentScore: f(0.5), UrgencyScore: 20,
		},
		{
			ChannelID: "C1", AnalysisDate: "2026-10-20",
			TotalMessages: 1, ActiveUsers: 1, DecisionsCount: 1,
			SentimentScore: f(-0.5), UrgencyScore: 70,
		},
	}
	if diff := cmp.Diff(want, res.Daily, cmpopts.IgnoreFields(model.DailyAnalysis{}, "TeamHealthScore")); diff != "" {
		t.Errorf("daily mismatch (-want +got):\n%s", diff)
	}
	for _, d := range res.Daily {
		assert.GreaterOrEqual(t, d.TeamHealthScore, 0.0)
		assert.LessOrEqual(t, d.TeamHealthScore, 100.0)
	}
}

func TestAggregate_Users(t *testing.T) {
	msgs, results := fixture()
	res := Aggregate("C1", msgs, results, cfg, 4, time.UTC)

	want := []model.UserMetric{
		{UserID: "U1", ChannelID: "C1", MetricDate: "2026-10-19", MessageCount: 1, UpdateCount: 1, SentimentAvg: f(0.5)},
		{UserID: "U2", ChannelID: "C1", MetricDate: "2026-10-19", MessageCount: 1, CollaborationScore: 100},
		{UserID: "U1", ChannelID: "C1", MetricDate: "2026-10-20", MessageCount: 1, DecisionCount: 1, AnswerCount: 1, SentimentAvg: f(-0.5), CollaborationScore: 100},
	}
	if diff := cmp.Diff(want, res.Users); diff != "" {
		t.Errorf("user metrics mismatch (-want +got):\n%s", diff)
	}
}

func TestAggregate_Summary(t *testing.T) {
	msgs, results := fixture()
	s := Aggregate("C1", msgs, results, cfg, 4, time.UTC).Summary

	assert.Equal(t, 3, s.TotalMessages)
	assert.Equal(t, 2, s.ActiveUsers)
	assert.Equal(t, 4, s.TotalMembers)
	assert.Equal(t, 1, s.Updates)
	assert.Equal(t, 1, s.Decisions)
	assert.Equal(t, 1, s.Blockers)
	assert.Equal(t, 1, s.Unclassified)
	require.NotNil(t, s.SentimentAvg)
	assert.InDelta(t, 0.0, *s.SentimentAvg, 1e-9)
	assert.InDelta(t, 0.5, s.PositiveShare, 1e-9)
	assert.InDelta(t, 0.5, s.NegativeShare, 1e-9)
	assert.InDelta(t, 4.5, s.UrgencyAvg, 1e-9)
	assert.Equal(t, 1, s.UrgencyCounts[model.UrgencyHigh])

	require.Len(t, s.BlockerItems, 1)
	assert.Equal(t, "<@U1>", s.BlockerItems[0].BlockedBy)
	require.Len(t, s.UrgentItems, 1)
	assert.Equal(t, "C1:3", s.UrgentItems[0].MessageID)

	require.Len(t, s.PerUser, 2)
	assert.Equal(t, "U1", s.PerUser[0].UserID)
	assert.Equal(t, 2, s.PerUser[0].MessageCount)
}

func TestAggregate_Deterministic(t *testing.T) {
	msgs, results := fixture()
	first := Aggregate("C1", msgs, results, cfg, 4, time.UTC)

	reversed := []model.Message{msgs[2], msgs[0], msgs[1]}
	second := Aggregate("C1", reversed, []classify.Result{results[1], results[2], results[0]}, cfg, 4, time.UTC)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("aggregation is not deterministic (-first +second):\n%s", diff)
	}
}

func TestAggregate_NullScoresExcluded(t *testing.T) {
	msgs, _ := fixture()
	results := []classify.Result{
		{MessageID: "C1:1", Unclassified: true},
		{MessageID: "C1:2", Unclassified: true},
	}
	res := Aggregate("C1", msgs[:2], results, cfg, 0, time.UTC)

	require.Len(t, res.Daily, 1)
	assert.Nil(t, res.Daily[0].SentimentScore)
	assert.Zero(t, res.Daily[0].UrgencyScore)
	assert.Nil(t, res.Summary.SentimentAvg)
	assert.Equal(t, 2, res.Summary.TotalMembers)
}

func TestAggregate_Timezone(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	msgs := []model.Message{{
		MessageID: "C1:9", UserID: "U1",
		Timestamp: time.Date(2026, 10, 19, 20, 0, 0, 0, time.UTC),
	}}
	res := Aggregate("C1", msgs, nil, cfg, 1, tokyo)
	require.Len(t, res.Daily, 1)
	assert.Equal(t, "2026-10-20", res.Daily[0].AnalysisDate)
	assert.Equal(t, 1, res.Summary.Unclassified)
}

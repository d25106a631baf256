package handler

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pyama86/slack-pulse/config"
	"github.com/pyama86/slack-pulse/domain/classify"
	"github.com/pyama86/slack-pulse/domain/infra"
	"github.com/pyama86/slack-pulse/domain/ingest"
	"github.com/pyama86/slack-pulse/domain/model"
	"github.com/pyama86/slack-pulse/domain/report"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 2026-10-23 は金曜日
var testNow = time.Date(2026, 10, 23, 15, 0, 0, 0, time.UTC)

type fakePlatform struct {
	raws     []model.RawMessage
	fetchErr error
	failDM   map[string]bool

	mu  sync.Mutex
	dms map[string][]string
}

func (f *fakePlatform) FetchMessages(_ context.Context, _ string, since, until time.Time) ([]model.RawMessage, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.raws, nil
}

func (f *fakePlatform) FetchUser(_ context.Context, userID string) (*model.User, error) {
	return &model.User{UserID: userID, DisplayName: "name-" + userID, Username: strings.ToLower(userID)}, nil
}

func (f *fakePlatform) Members(context.Context, string) ([]string, error) {
	return []string{"U1", "U2", "U3", "U4", "U5", "ULEAD"}, nil
}

func (f *fakePlatform) ChannelName(context.Context, string) (string, error) {
	return "proyecto-x", nil
}

func (f *fakePlatform) Permalink(_ context.Context, channelID, ts string) string {
	return "https://example.slack.com/archives/" + channelID + "/p" + strings.Replace(ts, ".", "", 1)
}

func (f *fakePlatform) SendDirectMessage(_ context.Context, userID, text string) error {
	if f.failDM[userID] {
		return errors.New("channel_not_found")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dms == nil {
		f.dms = map[string][]string{}
	}
	f.dms[userID] = append(f.dms[userID], text)
	return nil
}

// scenarioMessages は月曜から金曜まで 1 日 4 件の通常メッセージに、
// ボット 3 件と短すぎるメッセージ 2 件を混ぜた 25 件
func scenarioMessages() []model.RawMessage {
	texts := []string{
		"Avance del módulo de pagos completado al 60 por ciento",
		"Revisando los tickets pendientes del sprint %d",
		"Estoy bloqueado esperando acceso a la base de datos",
		"¿Deberíamos mover la demo al jueves %d?",
	}
	var raws []model.RawMessage
	seq := 0
	add := func(raw model.RawMessage) {
		seq++
		raw.ChannelID = "C1"
		raw.TS = fmt.Sprintf("%d.%06d", raw.Time.Unix(), seq)
		raws = append(raws, raw)
	}
	monday := time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)
	for d := 0; d < 5; d++ {
		day := monday.AddDate(0, 0, d)
		for j := 0; j < 4; j++ {
			text := texts[j]
			if strings.Contains(text, "%") {
				text = fmt.Sprintf(text, d+1)
			}
			add(model.RawMessage{
				UserID: fmt.Sprintf("U%d", j+1),
				Text:   text + fmt.Sprintf(" (día %d)", d+1),
				Time:   day.Add(time.Duration(j) * time.Minute),
			})
		}
	}
	for i := 0; i < 3; i++ {
		add(model.RawMessage{BotID: "B1", SubType: "bot_message", Text: "Build #1234 passed on main branch", Time: monday.Add(time.Duration(i) * time.Hour)})
	}
	add(model.RawMessage{UserID: "U1", Text: "ok", Time: monday.Add(2 * time.Hour)})
	add(model.RawMessage{UserID: "U2", Text: "  gracias!!  ", Time: monday.Add(3 * time.Hour)})
	return raws
}

func testConfig(t *testing.T, values map[string]string) *config.Config {
	t.Helper()
	base := map[string]string{
		config.KeyBusinessDays:   "5",
		config.KeyChannelID:      "C1",
		config.KeyLeadUserIDs:    "ULEAD",
		config.KeyModelTimeout:   "50ms",
		config.KeyMaxToolCalls:   "3",
		config.KeyMaxTurns:       "5",
		config.KeyStorageRetries: "0",
	}
	for k, v := range values {
		base[k] = v
	}
	cfg, err := config.FromValues(base)
	require.NoError(t, err)
	return cfg
}

func newTestHandler(t *testing.T, cfg *config.Config, deps Deps) (*Handler, *infra.DataBase) {
	t.Helper()
	db, err := infra.NewDataBase(filepath.Join(t.TempDir(), "pulse.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	deps.Store = db
	h := New(cfg, deps)
	h.now = func() time.Time { return testNow }
	return h, db
}

func TestRun_Scenario(t *testing.T) {
	platform := &fakePlatform{raws: scenarioMessages()}
	h, db := newTestHandler(t, testConfig(t, nil), Deps{Platform: platform})

	res, err := h.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 25, res.Fetched)
	assert.Equal(t, 3, res.Rejected[ingest.RejectBot])
	assert.Equal(t, 2, res.Rejected[ingest.RejectTooShort])
	assert.Equal(t, 20, res.Ingest.Inserted)

	msgs, err := db.ListMessages("C1")
	require.NoError(t, err)
	assert.Len(t, msgs, 20)
	for _, m := range msgs {
		assert.GreaterOrEqual(t, len([]rune(m.Text)), ingest.MinTextLength)
		assert.NotEmpty(t, m.UserID)
		assert.True(t, strings.HasPrefix(m.UserName, "name-"))
	}

	for i := 1; i <= 4; i++ {
		u, err := db.GetUser(fmt.Sprintf("U%d", i))
		require.NoError(t, err)
		require.NotNil(t, u)
		assert.Equal(t, 5, u.TotalMessages)
	}
	for _, date := range res.Window.DateKeys() {
		row, err := db.GetDailyAnalysis("C1", date)
		require.NoError(t, err)
		require.NotNil(t, row, date)
		assert.Equal(t, 4, row.TotalMessages, date)
		assert.Equal(t, 4, row.ActiveUsers, date)
		assert.Equal(t, 1, row.BlockersCount, date)
	}

	assert.Equal(t, model.ReportSourceFallback, res.Report.Source)
	today, err := db.GetDailyAnalysis("C1", "2026-10-23")
	require.NoError(t, err)
	assert.True(t, today.ReportSent)
	assert.Equal(t, model.ReportSourceFallback, today.ReportSource)
	assert.Equal(t, res.Report.Text, today.ReportContent)

	assert.Equal(t, []string{"ULEAD"}, res.Delivered)
	require.Len(t, platform.dms["ULEAD"], 1)
	dm := platform.dms["ULEAD"][0]
	assert.Contains(t, dm, "📊 *PULSE REPORT - #proyecto-x*")
	assert.Contains(t, dm, "📨 Mensajes: 20")
	assert.Contains(t, dm, "👥 Usuarios activos: 4 de 6")
}

func TestRun_Idempotent(t *testing.T) {
	platform := &fakePlatform{raws: scenarioMessages()}
	h, db := newTestHandler(t, testConfig(t, nil), Deps{Platform: platform})

	_, err := h.Run(context.Background())
	require.NoError(t, err)
	before, err := db.ListMessages("C1")
	require.NoError(t, err)

	res, err := h.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Ingest.Inserted)
	assert.Equal(t, 20, res.Ingest.Duplicates)

	after, err := db.ListMessages("C1")
	require.NoError(t, err)
	require.Len(t, after, len(before))
	for i := range before {
		assert.Equal(t, before[i].MessageID, after[i].MessageID)
		assert.Equal(t, before[i].Text, after[i].Text)
		assert.Equal(t, before[i].SentimentScore, after[i].SentimentScore)
		assert.Equal(t, before[i].UrgencyLevel, after[i].UrgencyLevel)
	}
	u, err := db.GetUser("U1")
	require.NoError(t, err)
	assert.Equal(t, 5, u.TotalMessages)
}

// loopingModel は常にツール呼び出しを返す
type loopingModel struct{}

func (loopingModel) Converse(context.Context, []model.Turn, []model.ToolSpec) (model.ModelResponse, error) {
	return model.ModelResponse{ToolCalls: []model.ToolCall{
		{ID: "a", Name: report.ToolGetMetrics, Arguments: "{}"},
		{ID: "b", Name: report.ToolDetectBlockers, Arguments: "{}"},
	}}, nil
}

func TestRun_ToolBudgetExceeded(t *testing.T) {
	platform := &fakePlatform{raws: scenarioMessages()}
	h, db := newTestHandler(t, testConfig(t, nil), Deps{Platform: platform, Model: loopingModel{}})

	res, err := h.Run(context.Background())
	require.NoError(t, err)

	assert.ErrorIs(t, res.Report.AbortReason, report.ErrToolBudget)
	assert.Equal(t, 2, res.Report.ToolCalls)
	assert.Equal(t, model.ReportSourceFallback, res.Report.Source)

	row, err := db.GetDailyAnalysis("C1", "2026-10-23")
	require.NoError(t, err)
	assert.Equal(t, model.ReportSourceFallback, row.ReportSource)
	assert.Contains(t, row.ReportContent, "📨 Mensajes: 20")
	assert.Contains(t, row.ReportContent, "👥 Usuarios activos: 4 de 6")
	assert.Contains(t, row.ReportContent, "reporte de respaldo")
}

// slowCompleter は特定の本文のときだけ応答しない
type slowCompleter struct{}

func (slowCompleter) Complete(ctx context.Context, _, prompt string) (string, error) {
	if strings.Contains(prompt, "sprint 3") {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return `{"sentiment": 0.5, "urgency": "medium", "urgency_score": 5, "decision": false, "blocker": false}`, nil
}

func TestRun_ClassificationTimeout(t *testing.T) {
	cfg := testConfig(t, nil)
	platform := &fakePlatform{raws: scenarioMessages()}
	classifier := classify.NewModelClassifier("fake", slowCompleter{}, classifyConfig(cfg), cfg.ModelTimeout)
	h, db := newTestHandler(t, cfg, Deps{Platform: platform, Classifier: classifier})

	res, err := h.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Classified.Unclassified)
	assert.Equal(t, []string{"ULEAD"}, res.Delivered)

	msgs, err := db.ListMessages("C1")
	require.NoError(t, err)
	for _, m := range msgs {
		if strings.Contains(m.Text, "sprint 3") {
			assert.Nil(t, m.UrgencyLevel)
			assert.Nil(t, m.SentimentScore)
			continue
		}
		require.NotNil(t, m.SentimentScore, m.Text)
		assert.Equal(t, 0.5, *m.SentimentScore)
		require.NotNil(t, m.UrgencyLevel)
		assert.Equal(t, "medium", *m.UrgencyLevel)
	}
	assert.Contains(t, res.Report.Text, "unclassified")
}

func TestRun_FetchFailure(t *testing.T) {
	platform := &fakePlatform{fetchErr: errors.New("ratelimited")}
	h, db := newTestHandler(t, testConfig(t, nil), Deps{Platform: platform})

	_, err := h.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFetch)
	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageFetch, stageErr.Stage)

	msgs, err := db.ListMessages("C1")
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.Empty(t, platform.dms)
}

func TestRun_DeliveryFailure(t *testing.T) {
	platform := &fakePlatform{raws: scenarioMessages(), failDM: map[string]bool{"UBAD": true}}
	cfg := testConfig(t, map[string]string{config.KeyLeadUserIDs: "ULEAD, UBAD"})
	h, db := newTestHandler(t, cfg, Deps{Platform: platform})

	res, err := h.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDelivery)
	assert.Contains(t, err.Error(), "UBAD")
	assert.Equal(t, []string{"ULEAD"}, res.Delivered)

	row, err := h.Show("C1", "2026-10-23")
	require.NoError(t, err)
	assert.False(t, row.ReportSent)
	assert.Equal(t, res.Report.Text, row.ReportContent)

	msgs, err := db.ListMessages("C1")
	require.NoError(t, err)
	assert.Len(t, msgs, 20)
}

func TestRun_NoRecipients(t *testing.T) {
	platform := &fakePlatform{raws: scenarioMessages()}
	h, _ := newTestHandler(t, testConfig(t, map[string]string{config.KeyLeadUserIDs: " , "}), Deps{Platform: platform})

	_, err := h.Run(context.Background())
	assert.ErrorIs(t, err, ErrDelivery)
}

type busyLock struct{}

func (busyLock) Acquire(context.Context, string, time.Duration) (func(), bool, error) {
	return nil, false, nil
}

func TestRun_LockHeld(t *testing.T) {
	platform := &fakePlatform{raws: scenarioMessages()}
	h, db := newTestHandler(t, testConfig(t, nil), Deps{Platform: platform, Lock: busyLock{}})

	_, err := h.Run(context.Background())
	assert.ErrorIs(t, err, ErrBusy)
	msgs, err := db.ListMessages("C1")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestShow_Missing(t *testing.T) {
	h, _ := newTestHandler(t, testConfig(t, nil), Deps{Platform: &fakePlatform{}})
	_, err := h.Show("C1", "2026-10-23")
	assert.Error(t, err)
}

func TestStartScheduler_InvalidSchedule(t *testing.T) {
	h, _ := newTestHandler(t, testConfig(t, map[string]string{config.KeySchedule: "every monday"}), Deps{Platform: &fakePlatform{}})
	err := h.StartScheduler(context.Background())
	assert.Error(t, err)
}

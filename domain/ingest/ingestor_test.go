package ingest

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/pyama86/slack-pulse/domain/infra"
	"github.com/pyama86/slack-pulse/domain/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDB(t *testing.T) *infra.DataBase {
	t.Helper()
	db, err := infra.NewDataBase(filepath.Join(t.TempDir(), "pulse.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func batch() []model.Message {
	base := time.Date(2026, 10, 20, 9, 0, 0, 0, time.UTC)
	return []model.Message{
		{MessageID: "C1:2", ChannelID: "C1", UserID: "U2", UserName: "bob", TS: "2", Text: "Avance del frontend al 80%", Timestamp: base.Add(time.Hour)},
		{MessageID: "C1:1", ChannelID: "C1", UserID: "U1", UserName: "alice", TS: "1", Text: "Decidimos usar Postgres", Timestamp: base, ReplyCount: 2},
		{MessageID: "C1:3", ChannelID: "C1", UserID: "U1", UserName: "alice", TS: "3", Text: "Estoy bloqueada con el deploy", Timestamp: base.Add(2 * time.Hour)},
	}
}

func TestIngest_Idempotent(t *testing.T) {
	db := newDB(t)
	users := map[string]*model.User{
		"U1": {UserID: "U1", DisplayName: "Alice", Username: "alice"},
	}
	ing := NewIngestor(db)

	stats, err := ing.Ingest(batch(), users)
	require.NoError(t, err)
	assert.Equal(t, Stats{Inserted: 3}, stats)

	first, err := db.ListMessages("C1")
	require.NoError(t, err)
	require.Len(t, first, 3)
	alice, err := db.GetUser("U1")
	require.NoError(t, err)

	stats, err = ing.Ingest(batch(), users)
	require.NoError(t, err)
	assert.Equal(t, Stats{Duplicates: 3}, stats)

	second, err := db.ListMessages("C1")
	require.NoError(t, err)
	require.Len(t, second, 3)
	for i := range first {
		assert.Equal(t, first[i].MessageID, second[i].MessageID)
		assert.Equal(t, first[i].Text, second[i].Text)
		assert.Equal(t, first[i].ReplyCount, second[i].ReplyCount)
	}

	again, err := db.GetUser("U1")
	require.NoError(t, err)
	assert.Equal(t, 2, again.TotalMessages)
	assert.Equal(t, alice.TotalMessages, again.TotalMessages)
	assert.Equal(t, "Alice", again.DisplayName)
	assert.True(t, again.LastActiveAt.Equal(time.Date(2026, 10, 20, 11, 0, 0, 0, time.UTC)))
	assert.True(t, again.FirstSeenAt.Equal(time.Date(2026, 10, 20, 9, 0, 0, 0, time.UTC)))

	bob, err := db.GetUser("U2")
	require.NoError(t, err)
	require.NotNil(t, bob)
	assert.Equal(t, "bob", bob.Username)
}

func TestIngest_KeepsAnalysisOnReingest(t *testing.T) {
	db := newDB(t)
	ing := NewIngestor(db)
	_, err := ing.Ingest(batch(), nil)
	require.NoError(t, err)

	score := -0.6
	urgency := model.UrgencyHigh
	require.NoError(t, db.SaveMessageAnalysis("C1:3", model.Analysis{
		SentimentScore:  &score,
		UrgencyLevel:    &urgency,
		ContainsBlocker: true,
	}))

	updated := batch()
	updated[1].ReplyCount = 5
	_, err = ing.Ingest(updated, nil)
	require.NoError(t, err)

	msgs, err := db.ListMessages("C1")
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, 5, msgs[0].ReplyCount)
	require.NotNil(t, msgs[2].SentimentScore)
	assert.Equal(t, -0.6, *msgs[2].SentimentScore)
	require.NotNil(t, msgs[2].UrgencyLevel)
	assert.Equal(t, "high", *msgs[2].UrgencyLevel)
	assert.True(t, msgs[2].ContainsBlocker)
}

type failingStore struct {
	failOn string
}

func (f *failingStore) UpsertMessage(m *model.Message) (bool, error) {
	if m.MessageID == f.failOn {
		return false, errors.New("database is locked")
	}
	return true, nil
}

func (f *failingStore) TouchUser(*model.User, time.Time) error { return nil }

func TestIngest_StopsOnStorageFailure(t *testing.T) {
	ing := NewIngestor(&failingStore{failOn: "C1:2"})
	stats, err := ing.Ingest(batch(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "C1:2")
	// 古い順なので C1:1 は登録済み
	assert.Equal(t, 1, stats.Inserted)
}

package ingest

import (
	"errors"
	"testing"
	"time"

	"github.com/pyama86/slack-pulse/domain/infra"
	"github.com/pyama86/slack-pulse/domain/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyStore struct {
	infra.Datastore
	failures int
	calls    int
}

func (f *flakyStore) UpsertMessage(*model.Message) (bool, error) {
	f.calls++
	if f.calls <= f.failures {
		return false, errors.New("connection reset")
	}
	return true, nil
}

func (f *flakyStore) MarkReportSent(string, string) error {
	f.calls++
	return errors.New("connection reset")
}

func newTestRetryStore(store infra.Datastore, retries int) (*RetryStore, *[]time.Duration) {
	r := NewRetryStore(store, retries)
	var waits []time.Duration
	r.sleep = func(d time.Duration) { waits = append(waits, d) }
	return r, &waits
}

func TestRetryStore_RecoversWithinBudget(t *testing.T) {
	flaky := &flakyStore{failures: 2}
	r, waits := newTestRetryStore(flaky, 3)

	inserted, err := r.UpsertMessage(&model.Message{MessageID: "C1:1"})
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, 3, flaky.calls)
	require.Len(t, *waits, 2)
	for _, w := range *waits {
		assert.GreaterOrEqual(t, w, 0*time.Millisecond)
		assert.LessOrEqual(t, w, 5*time.Second)
	}
}

func TestRetryStore_GivesUp(t *testing.T) {
	flaky := &flakyStore{}
	r, waits := newTestRetryStore(flaky, 2)

	err := r.MarkReportSent("C1", "2026-10-19")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, 3, flaky.calls)
	assert.Len(t, *waits, 2)
}

func TestRetryStore_NoRetries(t *testing.T) {
	flaky := &flakyStore{failures: 1}
	r, waits := newTestRetryStore(flaky, 0)

	_, err := r.UpsertMessage(&model.Message{MessageID: "C1:1"})
	require.Error(t, err)
	assert.Equal(t, 1, flaky.calls)
	assert.Empty(t, *waits)
}

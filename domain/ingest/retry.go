package ingest

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/jpillora/backoff"
	"github.com/pyama86/slack-pulse/domain/infra"
	"github.com/pyama86/slack-pulse/domain/model"
)

// RetryStore は書き込みを指数バックオフで再試行する Datastore
type RetryStore struct {
	infra.Datastore
	attempts int
	min      time.Duration
	max      time.Duration
	sleep    func(time.Duration)
}

func NewRetryStore(store infra.Datastore, retries int) *RetryStore {
	if retries < 0 {
		retries = 0
	}
	return &RetryStore{
		Datastore: store,
		attempts:  retries + 1,
		min:       200 * time.Millisecond,
		max:       5 * time.Second,
		sleep:     time.Sleep,
	}
}

func (r *RetryStore) do(op string, fn func() error) error {
	b := &backoff.Backoff{
		Min:    r.min,
		Max:    r.max,
		Factor: 2,
		Jitter: true,
	}
	var err error
	for i := 0; i < r.attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i == r.attempts-1 {
			break
		}
		d := b.Duration()
		slog.Warn("storage write failed, retrying",
			slog.String("op", op),
			slog.Int("attempt", i+1),
			slog.Duration("wait", d),
			slog.Any("err", err),
		)
		r.sleep(d)
	}
	return fmt.Errorf("%s failed after %d attempts: %w", op, r.attempts, err)
}

func (r *RetryStore) UpsertMessage(m *model.Message) (bool, error) {
	var inserted bool
	err := r.do("upsert message", func() error {
		var err error
		inserted, err = r.Datastore.UpsertMessage(m)
		return err
	})
	return inserted, err
}

func (r *RetryStore) TouchUser(u *model.User, at time.Time) error {
	return r.do("touch user", func() error { return r.Datastore.TouchUser(u, at) })
}

func (r *RetryStore) SaveMessageAnalysis(id string, a model.Analysis) error {
	return r.do("save message analysis", func() error { return r.Datastore.SaveMessageAnalysis(id, a) })
}

func (r *RetryStore) SaveDailyAnalysis(row *model.DailyAnalysis, today string) error {
	return r.do("save daily analysis", func() error { return r.Datastore.SaveDailyAnalysis(row, today) })
}

func (r *RetryStore) SaveUserMetric(row *model.UserMetric, today string) error {
	return r.do("save user metric", func() error { return r.Datastore.SaveUserMetric(row, today) })
}

func (r *RetryStore) SaveReport(channelID, date, content, source string) error {
	return r.do("save report", func() error { return r.Datastore.SaveReport(channelID, date, content, source) })
}

func (r *RetryStore) MarkReportSent(channelID, date string) error {
	return r.do("mark report sent", func() error { return r.Datastore.MarkReportSent(channelID, date) })
}

package ingest

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/pyama86/slack-pulse/domain/model"
)

// Store はインジェストに必要な書き込み操作
type Store interface {
	UpsertMessage(*model.Message) (bool, error)
	TouchUser(*model.User, time.Time) error
}

type Ingestor struct {
	store Store
}

func NewIngestor(store Store) *Ingestor {
	return &Ingestor{store: store}
}

type Stats struct {
	Inserted   int
	Duplicates int
}

// Ingest はメッセージを古い順に upsert する。新規に登録したメッセージの作者だけ
// ユーザー情報を更新するので、同じバッチを何度流しても結果は変わらない
func (i *Ingestor) Ingest(msgs []model.Message, users map[string]*model.User) (Stats, error) {
	ordered := make([]*model.Message, 0, len(msgs))
	for j := range msgs {
		ordered = append(ordered, &msgs[j])
	}
	sort.SliceStable(ordered, func(a, b int) bool {
		return ordered[a].Timestamp.Before(ordered[b].Timestamp)
	})

	var stats Stats
	for _, m := range ordered {
		inserted, err := i.store.UpsertMessage(m)
		if err != nil {
			return stats, fmt.Errorf("failed to upsert message %s: %w", m.MessageID, err)
		}
		if !inserted {
			stats.Duplicates++
			continue
		}
		stats.Inserted++

		u, ok := users[m.UserID]
		if !ok {
			u = &model.User{UserID: m.UserID, Username: m.UserName}
		}
		if err := i.store.TouchUser(u, m.Timestamp); err != nil {
			return stats, fmt.Errorf("failed to update user %s: %w", m.UserID, err)
		}
	}
	slog.Info("messages ingested",
		slog.Int("inserted", stats.Inserted),
		slog.Int("duplicates", stats.Duplicates),
	)
	return stats, nil
}

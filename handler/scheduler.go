package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// StartScheduler は設定の cron 式で Run を定期実行する。ctx が終わると実行中のジョブを待って戻る
func (h *Handler) StartScheduler(ctx context.Context) error {
	c := cron.New(
		cron.WithLocation(h.cfg.Location),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	id, err := c.AddFunc(h.cfg.Schedule, func() {
		h.scheduledRun(ctx)
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", h.cfg.Schedule, err)
	}

	c.Start()
	slog.Info("scheduler started",
		slog.String("schedule", h.cfg.Schedule),
		slog.String("channel", h.cfg.ChannelID),
		slog.Any("next", c.Entry(id).Next),
	)

	<-ctx.Done()
	<-c.Stop().Done()
	slog.Info("scheduler stopped")
	return nil
}

func (h *Handler) scheduledRun(ctx context.Context) {
	res, err := h.Run(ctx)
	var stageErr *StageError
	switch {
	case err == nil:
		slog.Info("scheduled run completed", slog.String("run_id", res.Report.RunID))
	case errors.Is(err, ErrBusy):
		slog.Info("another run holds the lock, skip", slog.String("channel", h.cfg.ChannelID))
	case errors.As(err, &stageErr):
		slog.Error("scheduled run failed", slog.String("stage", stageErr.Stage), slog.Any("err", err))
	default:
		slog.Error("scheduled run failed", slog.Any("err", err))
	}
}

package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pyama86/slack-pulse/domain/classify"
	"github.com/pyama86/slack-pulse/domain/ingest"
	"github.com/pyama86/slack-pulse/domain/metrics"
	"github.com/pyama86/slack-pulse/domain/model"
	"github.com/pyama86/slack-pulse/domain/report"
	"github.com/pyama86/slack-pulse/domain/window"
)

// 実行の失敗段階
var (
	ErrFetch    = errors.New("fetch failed")
	ErrStorage  = errors.New("storage failed")
	ErrDelivery = errors.New("delivery failed")
	ErrBusy     = errors.New("another run is in progress")
)

const (
	StageLock     = "lock"
	StageFetch    = "fetch"
	StageIngest   = "ingest"
	StagePersist  = "persist"
	StageDelivery = "delivery"
)

const lockKeyPrefix = "run:"

// StageError はどの段階で実行が止まったかを表す
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func stageError(stage string, kind, err error) error {
	return &StageError{Stage: stage, Err: fmt.Errorf("%w: %w", kind, err)}
}

// RunResult は 1 回の実行の結果
type RunResult struct {
	Window     window.Window
	Fetched    int
	Rejected   map[ingest.Reason]int
	Ingest     ingest.Stats
	Classified classify.Outcome
	Metrics    *metrics.Result
	Report     *report.Report
	Delivered  []string
}

// Run はウィンドウの取得からレポートの配信までを 1 回実行する。
// 途中で止まった場合は StageError を返し、それまでに保存した行はそのまま残る
func (h *Handler) Run(ctx context.Context) (*RunResult, error) {
	ctx, cancel := context.WithTimeout(ctx, h.cfg.RunTimeout)
	defer cancel()

	channelID := h.cfg.ChannelID
	release, ok, err := h.lock.Acquire(ctx, lockKeyPrefix+channelID, h.cfg.RunTimeout)
	if err != nil {
		return nil, &StageError{Stage: StageLock, Err: err}
	}
	if !ok {
		return nil, &StageError{Stage: StageLock, Err: ErrBusy}
	}
	defer release()

	w := window.New(h.now(), h.cfg.BusinessDays)
	res := &RunResult{Window: w}
	slog.Info("run started",
		slog.String("channel", channelID),
		slog.String("since", w.Since.Format(model.DateLayout)),
		slog.String("until", w.Today()),
		slog.Int("business_days", len(w.Dates)),
	)

	raws, err := h.platform.FetchMessages(ctx, channelID, w.Since, w.Until)
	if err != nil {
		return res, stageError(StageFetch, ErrFetch, err)
	}
	res.Fetched = len(raws)

	msgs, rejected := ingest.NewNormalizer(w).NormalizeAll(raws)
	res.Rejected = rejected

	users, err := h.fetchUsers(ctx, msgs)
	if err != nil {
		return res, stageError(StageFetch, ErrFetch, err)
	}
	msgs = dropBotAuthors(msgs, users, rejected)
	for i := range msgs {
		if u, ok := users[msgs[i].UserID]; ok {
			msgs[i].UserName = u.PreferredName()
		}
	}
	slog.Info("messages normalized",
		slog.Int("fetched", len(raws)),
		slog.Int("accepted", len(msgs)),
		slog.Any("rejected", rejected),
	)

	stats, err := ingest.NewIngestor(h.ds).Ingest(msgs, users)
	res.Ingest = stats
	if err != nil {
		return res, stageError(StageIngest, ErrStorage, err)
	}

	out := h.engine.ClassifyAll(ctx, msgs)
	res.Classified = out
	for _, r := range out.Results {
		if err := h.ds.SaveMessageAnalysis(r.MessageID, r.Analysis()); err != nil {
			return res, stageError(StageIngest, ErrStorage, err)
		}
	}

	agg := metrics.Aggregate(channelID, msgs, out.Results, h.engine.Config(), h.members(ctx, channelID), h.cfg.Location)
	res.Metrics = agg

	snap := &report.Snapshot{
		ChannelID:   channelID,
		ChannelName: h.channelName(ctx, channelID),
		Window:      w,
		Messages:    msgs,
		Results:     out.Results,
		Metrics:     agg,
		Config:      h.engine.Config(),
		Classifier:  h.engine.ClassifierName(),
		Warnings:    out.Warnings,
		Permalink: func(channelID, ts string) string {
			return h.platform.Permalink(ctx, channelID, ts)
		},
		Location: h.cfg.Location,
	}
	rep := h.orchestrator.Run(ctx, snap)
	res.Report = rep

	today := w.Today()
	if err := h.persist(agg, today); err != nil {
		return res, stageError(StagePersist, ErrStorage, err)
	}
	if err := h.ds.SaveReport(channelID, today, rep.Text, rep.Source); err != nil {
		return res, stageError(StagePersist, ErrStorage, err)
	}

	delivered, err := h.deliver(ctx, rep.Text)
	res.Delivered = delivered
	if err != nil {
		return res, stageError(StageDelivery, ErrDelivery, err)
	}
	if err := h.ds.MarkReportSent(channelID, today); err != nil {
		return res, stageError(StagePersist, ErrStorage, err)
	}

	slog.Info("run finished",
		slog.String("channel", channelID),
		slog.String("run_id", rep.RunID),
		slog.String("report_source", rep.Source),
		slog.Int("inserted", stats.Inserted),
		slog.Int("unclassified", out.Unclassified),
		slog.Int("recipients", len(delivered)),
	)
	return res, nil
}

// fetchUsers はメッセージの作者のユーザー情報を取得する
func (h *Handler) fetchUsers(ctx context.Context, msgs []model.Message) (map[string]*model.User, error) {
	users := map[string]*model.User{}
	for i := range msgs {
		id := msgs[i].UserID
		if _, ok := users[id]; ok {
			continue
		}
		u, err := h.platform.FetchUser(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("FetchUser %s failed: %w", id, err)
		}
		users[id] = u
	}
	return users, nil
}

// dropBotAuthors は bot_id を持たないボットユーザーの投稿を除外する
func dropBotAuthors(msgs []model.Message, users map[string]*model.User, rejected map[ingest.Reason]int) []model.Message {
	kept := msgs[:0]
	for _, m := range msgs {
		if u, ok := users[m.UserID]; ok && u.IsBot {
			rejected[ingest.RejectBot]++
			continue
		}
		kept = append(kept, m)
	}
	return kept
}

func (h *Handler) channelName(ctx context.Context, channelID string) string {
	name, err := h.platform.ChannelName(ctx, channelID)
	if err != nil {
		slog.Warn("failed to fetch channel name", slog.String("channel", channelID), slog.Any("err", err))
		return ""
	}
	return name
}

// persist は日別・ユーザー別の集計を保存する。過去日の行は作成済みなら変更しない
func (h *Handler) persist(agg *metrics.Result, today string) error {
	for i := range agg.Daily {
		if err := h.ds.SaveDailyAnalysis(&agg.Daily[i], today); err != nil {
			return err
		}
	}
	for i := range agg.Users {
		if err := h.ds.SaveUserMetric(&agg.Users[i], today); err != nil {
			return err
		}
	}
	return nil
}

// deliver は全宛先に DM を送る。1 件でも失敗したらエラーを返す
func (h *Handler) deliver(ctx context.Context, text string) ([]string, error) {
	recipients := model.ParseRecipients(h.cfg.LeadUserIDs)
	if len(recipients) == 0 {
		return nil, errors.New("no report recipients configured")
	}
	var (
		delivered []string
		errs      []error
	)
	for _, userID := range recipients {
		if err := h.platform.SendDirectMessage(ctx, userID, text); err != nil {
			slog.Error("failed to deliver report", slog.String("user", userID), slog.Any("err", err))
			errs = append(errs, fmt.Errorf("%s: %w", userID, err))
			continue
		}
		delivered = append(delivered, userID)
	}
	return delivered, errors.Join(errs...)
}

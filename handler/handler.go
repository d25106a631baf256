package handler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jellydator/ttlcache/v3"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pyama86/slack-pulse/config"
	"github.com/pyama86/slack-pulse/domain/classify"
	"github.com/pyama86/slack-pulse/domain/infra"
	"github.com/pyama86/slack-pulse/domain/ingest"
	"github.com/pyama86/slack-pulse/domain/model"
	"github.com/pyama86/slack-pulse/domain/report"
)

// Platform はパイプラインが使うチャットプラットフォームの操作
type Platform interface {
	FetchMessages(ctx context.Context, channelID string, since, until time.Time) ([]model.RawMessage, error)
	FetchUser(ctx context.Context, userID string) (*model.User, error)
	Members(ctx context.Context, channelID string) ([]string, error)
	ChannelName(ctx context.Context, channelID string) (string, error)
	Permalink(ctx context.Context, channelID, ts string) string
	SendDirectMessage(ctx context.Context, userID, text string) error
}

// Deps は Handler の外部依存
type Deps struct {
	Platform Platform
	Store    infra.Datastore
	// Classifier が nil ならキーワード分類だけで動く
	Classifier classify.Classifier
	// Model が nil ならレポートは常に集計結果だけで作る
	Model report.ChatModel
	Lock  infra.RunLock
}

type Handler struct {
	cfg          *config.Config
	platform     Platform
	ds           infra.Datastore
	engine       *classify.Engine
	orchestrator *report.Orchestrator
	lock         infra.RunLock
	memberCache  *ttlcache.Cache[string, []string]
	now          func() time.Time
	closers      []func() error
}

func New(cfg *config.Config, deps Deps) *Handler {
	lock := deps.Lock
	if lock == nil {
		lock = infra.NopLock{}
	}
	return &Handler{
		cfg:      cfg,
		platform: deps.Platform,
		ds:       ingest.NewRetryStore(deps.Store, cfg.StorageRetries),
		engine:   classify.NewEngine(classifyConfig(cfg), deps.Classifier, cfg.ClassifyConcurrency),
		orchestrator: report.NewOrchestrator(deps.Model, report.Limits{
			MaxTurns:     cfg.MaxTurns,
			MaxToolCalls: cfg.MaxToolCalls,
			TurnTimeout:  cfg.ModelTimeout,
		}),
		lock:        lock,
		memberCache: ttlcache.New(ttlcache.WithTTL[string, []string](time.Hour)),
		now:         cfg.Now,
	}
}

// NewHandler は設定から実際のクライアントを組み立てる
func NewHandler(ctx context.Context, cfg *config.Config) (*Handler, error) {
	ds, closeDS, err := newDatastore(cfg)
	if err != nil {
		return nil, err
	}
	closers := []func() error{}
	if closeDS != nil {
		closers = append(closers, closeDS)
	}

	deps := Deps{
		Platform: infra.NewSlackFromToken(cfg.SlackBotToken),
		Store:    ds,
	}

	ai, err := infra.NewOpenAI(cfg.OpenAIModel)
	if err != nil {
		return nil, err
	}
	if ai != nil {
		deps.Model = ai
	} else {
		slog.Warn("OpenAI is not configured, reports will be built from metrics only")
	}

	switch cfg.ClassifierProvider {
	case "openai":
		if ai == nil {
			return nil, fmt.Errorf("%s=openai requires OPENAI_API_KEY or AZURE_OPENAI_KEY", config.KeyClassifierProvider)
		}
		deps.Classifier = classify.NewModelClassifier(ai.Name(), ai, classifyConfig(cfg), cfg.ModelTimeout)
	case "gemini":
		g, err := infra.NewGemini(ctx, cfg.GeminiModel)
		if err != nil {
			return nil, err
		}
		if g == nil {
			return nil, fmt.Errorf("%s=gemini requires GEMINI_API_KEY", config.KeyClassifierProvider)
		}
		deps.Classifier = classify.NewModelClassifier(g.Name(), g, classifyConfig(cfg), cfg.ModelTimeout)
	}

	if cfg.RedisURL != "" {
		l, err := infra.NewRedisLock(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		deps.Lock = l
		closers = append(closers, l.Close)
	}

	h := New(cfg, deps)
	h.closers = closers
	return h, nil
}

func newDatastore(cfg *config.Config) (infra.Datastore, func() error, error) {
	if cfg.DBDriver == "dynamodb" {
		ds, err := infra.NewDynamoDB()
		if err != nil {
			return nil, nil, err
		}
		return ds, nil, nil
	}
	ds, err := infra.NewDataBase(cfg.DBPath)
	if err != nil {
		return nil, nil, err
	}
	return ds, ds.Close, nil
}

func classifyConfig(cfg *config.Config) classify.Config {
	return classify.Config{
		NeutralBand:     cfg.SentimentNeutralBand,
		UrgencyKeywords: cfg.UrgencyKeywords,
		UpdateKeywords:  cfg.UpdateKeywords,
	}
}

// Close は DB とロックの接続を閉じる
func (h *Handler) Close() {
	for _, c := range h.closers {
		if err := c(); err != nil {
			slog.Warn("close failed", slog.Any("err", err))
		}
	}
}

// Show は保存済みのレポートを返す
func (h *Handler) Show(channelID, date string) (*model.DailyAnalysis, error) {
	row, err := h.ds.GetDailyAnalysis(channelID, date)
	if err != nil {
		return nil, fmt.Errorf("GetDailyAnalysis failed: %w", err)
	}
	if row == nil || row.ReportContent == "" {
		return nil, fmt.Errorf("no report stored for channel=%s date=%s", channelID, date)
	}
	return row, nil
}

// members はチャンネルの参加者数。取得できなければ 0 を返し、集計側でアクティブ数に合わせる
func (h *Handler) members(ctx context.Context, channelID string) int {
	if item := h.memberCache.Get(channelID); item != nil {
		return len(item.Value())
	}
	ids, err := h.platform.Members(ctx, channelID)
	if err != nil {
		slog.Warn("failed to fetch channel members", slog.String("channel", channelID), slog.Any("err", err))
		return 0
	}
	h.memberCache.Set(channelID, ids, ttlcache.DefaultTTL)
	return len(ids)
}

package classify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pyama86/slack-pulse/domain/model"
	"golang.org/x/sync/errgroup"
)

type Engine struct {
	cfg         Config
	primary     Classifier
	keyword     *KeywordClassifier
	concurrency int
}

// NewEngine は primary が nil の場合キーワード分類のみで動く
func NewEngine(cfg Config, primary Classifier, concurrency int) *Engine {
	kw := NewKeywordClassifier(cfg)
	if primary == nil {
		primary = kw
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return &Engine{
		cfg:         cfg,
		primary:     primary,
		keyword:     kw,
		concurrency: concurrency,
	}
}

func (e *Engine) Config() Config { return e.cfg }

func (e *Engine) ClassifierName() string { return e.primary.Name() }

type Outcome struct {
	// Results は入力メッセージと同じ順序
	Results      []Result
	Warnings     []string
	Unclassified int
}

// ClassifyAll は全メッセージを分類する。分類の失敗でエラーを返すことはなく、
// 失敗したメッセージは感情・緊急度を未設定のまま警告に残す
func (e *Engine) ClassifyAll(ctx context.Context, msgs []model.Message) Outcome {
	results := make([]Result, len(msgs))
	failed := make([]error, len(msgs))

	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for i := range msgs {
		i := i
		g.Go(func() error {
			r, err := e.classifyOne(ctx, &msgs[i])
			results[i] = r
			failed[i] = err
			return nil
		})
	}
	_ = g.Wait()

	out := Outcome{Results: results}
	for i, err := range failed {
		if err == nil {
			continue
		}
		out.Unclassified++
		out.Warnings = append(out.Warnings, fmt.Sprintf("message %s unclassified: %v", msgs[i].MessageID, err))
		slog.Warn("classification degraded",
			slog.String("message_id", msgs[i].MessageID),
			slog.String("classifier", e.primary.Name()),
			slog.Any("err", err),
		)
	}
	return out
}

func (e *Engine) classifyOne(ctx context.Context, m *model.Message) (Result, error) {
	if err := ctx.Err(); err != nil {
		return e.unclassified(m), err
	}
	r, err := e.primary.Classify(ctx, m)
	if err != nil {
		return e.unclassified(m), err
	}
	return r, nil
}

// unclassified はキーワードで判定できる項目だけを埋めた結果
func (e *Engine) unclassified(m *model.Message) Result {
	r := Result{
		MessageID:    m.MessageID,
		Unclassified: true,
		Source:       e.keyword.Name(),
	}
	e.keyword.applyFlags(&r, m)
	return r
}

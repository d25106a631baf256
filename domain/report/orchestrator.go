package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pyama86/slack-pulse/domain/model"
)

// ChatModel はツール呼び出しに対応した推論モデル
type ChatModel interface {
	Converse(ctx context.Context, turns []model.Turn, tools []model.ToolSpec) (model.ModelResponse, error)
}

type State int

const (
	AwaitingModel State = iota
	ToolCallRequested
	ToolExecuting
	FinalAnswer
	Aborted
)

func (s State) String() string {
	switch s {
	case AwaitingModel:
		return "AwaitingModel"
	case ToolCallRequested:
		return "ToolCallRequested"
	case ToolExecuting:
		return "ToolExecuting"
	case FinalAnswer:
		return "FinalAnswer"
	case Aborted:
		return "Aborted"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

var (
	ErrTurnLimit    = errors.New("turn limit reached")
	ErrToolBudget   = errors.New("tool-call budget exceeded")
	ErrNoModel      = errors.New("no reasoning model configured")
	ErrEmptyAnswer  = errors.New("model returned an empty answer")
	ErrModelFailed  = errors.New("model call failed")
	ErrRunCancelled = errors.New("run cancelled")
)

// モデルに渡す直近のメッセージ数
const contextMaxLength = 50

type Limits struct {
	MaxTurns     int
	MaxToolCalls int
	// TurnTimeout は 1 回のモデル呼び出しの上限
	TurnTimeout time.Duration
}

type Orchestrator struct {
	model  ChatModel
	limits Limits
	now    func() time.Time
}

func NewOrchestrator(m ChatModel, limits Limits) *Orchestrator {
	if limits.MaxTurns < 1 {
		limits.MaxTurns = 10
	}
	if limits.MaxToolCalls < 1 {
		limits.MaxToolCalls = 20
	}
	if limits.TurnTimeout <= 0 {
		limits.TurnTimeout = time.Minute
	}
	return &Orchestrator{
		model:  m,
		limits: limits,
		now:    time.Now,
	}
}

// Report は 1 回の実行で作られたレポート
type Report struct {
	RunID       string
	Text        string
	Source      string
	Narrative   string
	Turns       int
	ToolCalls   int
	AbortReason error
	Warnings    []string
	Transitions []State
}

func (r *Report) FromModel() bool {
	return r.Source == model.ReportSourceModel
}

type run struct {
	report  *Report
	turns   []model.Turn
	pending []model.ToolCall
	state   State
}

func (r *run) transition(s State) {
	r.state = s
	r.report.Transitions = append(r.report.Transitions, s)
}

func (r *run) abort(err error) {
	r.report.AbortReason = err
	r.transition(Aborted)
}

// Run はモデルが最終回答を返すか上限に達するまでループする。
// 打ち切られた場合でも集計結果からレポートを組み立てて返す
func (o *Orchestrator) Run(ctx context.Context, snap *Snapshot) *Report {
	rep := &Report{
		RunID:    uuid.NewString(),
		Warnings: append([]string(nil), snap.Warnings...),
	}
	r := &run{report: rep, turns: seedTurns(snap)}
	tools := NewToolset(snap)
	specs := ToolSpecs()

	r.transition(AwaitingModel)
	if o.model == nil {
		r.abort(ErrNoModel)
	}

	for r.state != FinalAnswer && r.state != Aborted {
		switch r.state {
		case AwaitingModel:
			if rep.Turns >= o.limits.MaxTurns {
				r.abort(fmt.Errorf("%w (%d)", ErrTurnLimit, o.limits.MaxTurns))
				continue
			}
			if err := ctx.Err(); err != nil {
				r.abort(fmt.Errorf("%w: %v", ErrRunCancelled, err))
				continue
			}
			resp, err := o.converse(ctx, r.turns, specs)
			rep.Turns++
			if err != nil {
				r.abort(fmt.Errorf("%w: %v", ErrModelFailed, err))
				continue
			}
			if resp.WantsTools() {
				r.turns = append(r.turns, model.Turn{Role: model.RoleAssistant, Content: resp.Content, ToolCalls: resp.ToolCalls})
				r.pending = resp.ToolCalls
				r.transition(ToolCallRequested)
				continue
			}
			if strings.TrimSpace(resp.Content) == "" {
				r.abort(ErrEmptyAnswer)
				continue
			}
			rep.Narrative = strings.TrimSpace(resp.Content)
			r.transition(FinalAnswer)

		case ToolCallRequested:
			if rep.ToolCalls+len(r.pending) > o.limits.MaxToolCalls {
				r.abort(fmt.Errorf("%w (%d requested, %d used of %d)",
					ErrToolBudget, len(r.pending), rep.ToolCalls, o.limits.MaxToolCalls))
				continue
			}
			r.transition(ToolExecuting)

		case ToolExecuting:
			for _, call := range r.pending {
				result := tools.Execute(call)
				rep.ToolCalls++
				slog.Debug("tool executed",
					slog.String("run_id", rep.RunID),
					slog.String("tool", call.Name),
					slog.Int("tool_calls", rep.ToolCalls),
				)
				r.turns = append(r.turns, model.Turn{Role: model.RoleTool, Content: result, ToolCallID: call.ID})
			}
			r.pending = nil
			r.transition(AwaitingModel)
		}
	}

	rep.Source = model.ReportSourceModel
	if r.state == Aborted {
		rep.Source = model.ReportSourceFallback
		rep.Narrative = fallbackNarrative(snap)
		rep.Warnings = append(rep.Warnings, fmt.Sprintf("model report not completed: %v", rep.AbortReason))
		slog.Warn("report orchestration aborted, using fallback",
			slog.String("run_id", rep.RunID),
			slog.Int("turns", rep.Turns),
			slog.Int("tool_calls", rep.ToolCalls),
			slog.Any("err", rep.AbortReason),
		)
	} else {
		slog.Info("report orchestration finished",
			slog.String("run_id", rep.RunID),
			slog.Int("turns", rep.Turns),
			slog.Int("tool_calls", rep.ToolCalls),
		)
	}
	rep.Text = Compose(snap, rep, o.now().In(snap.location()))
	return rep
}

func (o *Orchestrator) converse(ctx context.Context, turns []model.Turn, specs []model.ToolSpec) (model.ModelResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, o.limits.TurnTimeout)
	defer cancel()
	return o.model.Converse(ctx, turns, specs)
}

func seedTurns(snap *Snapshot) []model.Turn {
	s := snap.summary()
	msgs := snap.Messages
	if len(msgs) > contextMaxLength {
		msgs = msgs[len(msgs)-contextMaxLength:]
	}
	var conv strings.Builder
	for _, m := range msgs {
		fmt.Fprintf(&conv, "*%s* (%s): %s\n", m.UserName, m.Timestamp.In(snap.location()).Format("01/02 15:04"), m.Text)
	}

	user := fmt.Sprintf(`Analiza la actividad del canal #%s de los últimos %d días hábiles (%s a %s).

DATOS DEL CANAL:
Total mensajes: %d
Usuarios activos: %d
Total miembros: %d

CONVERSACIONES RECIENTES:
----------
%s----------`,
		snap.channelLabel(), len(snap.Window.Dates),
		snap.Window.Since.Format(model.DateLayout), snap.Window.Until.Format(model.DateLayout),
		s.TotalMessages, s.ActiveUsers, s.TotalMembers, conv.String())

	return []model.Turn{
		{Role: model.RoleSystem, Content: systemPrompt},
		{Role: model.RoleUser, Content: user},
	}
}

const systemPrompt = `Eres un analista ejecutivo. Tu tarea es redactar el estado del proyecto para el líder del equipo.

1. USA LAS HERRAMIENTAS (analyze_sentiment, classify_urgency, extract_decisions, detect_blockers, get_metrics) para obtener los datos ya calculados del canal.
2. NO inventes información; usa solo lo que devuelven las herramientas.
3. Cuando termines, responde SIN llamar herramientas con el texto final.

FORMATO (Slack mrkdwn):
- No uses # para títulos; usa emojis y *negrita*.
- Responde solo con la sección de estado del proyecto, por ejemplo:
  • *Status:* ...
  • *Progreso:* ...
  • *Nivel de urgencia:* ...
  • *Salud del equipo:* ...
- Las métricas, bloqueos, decisiones y recomendaciones se agregan automáticamente; no las repitas en detalle.`

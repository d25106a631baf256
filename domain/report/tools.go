package report

import (
	"encoding/json"
	"fmt"

	"github.com/pyama86/slack-pulse/domain/classify"
	"github.com/pyama86/slack-pulse/domain/metrics"
	"github.com/pyama86/slack-pulse/domain/model"
)

const (
	ToolAnalyzeSentiment = "analyze_sentiment"
	ToolClassifyUrgency  = "classify_urgency"
	ToolExtractDecisions = "extract_decisions"
	ToolDetectBlockers   = "detect_blockers"
	ToolGetMetrics       = "get_metrics"
)

// ToolSpecs はモデルに公開するツールの定義
func ToolSpecs() []model.ToolSpec {
	return []model.ToolSpec{
		{
			Name:        ToolAnalyzeSentiment,
			Description: "Sentiment of the team over the window: average score in [-1,1], share of positive/negative/neutral messages and per-user averages.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"user_id": map[string]any{
						"type":        "string",
						"description": "Restrict per-user output to this user ID",
					},
				},
			},
		},
		{
			Name:        ToolClassifyUrgency,
			Description: "Urgency levels (low/medium/high/critical) detected in the window, with the messages at or above the given level.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"min_level": map[string]any{
						"type":        "string",
						"enum":        []string{"low", "medium", "high", "critical"},
						"description": "Lowest level to list messages for. Defaults to high.",
					},
				},
			},
		},
		{
			Name:        ToolExtractDecisions,
			Description: "Decisions made in the window (what, who, when) and open questions still pending a decision.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
		{
			Name:        ToolDetectBlockers,
			Description: "Blockers detected in the window: who is blocked, by what or whom, and how many unblock offers were made.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
		{
			Name:        ToolGetMetrics,
			Description: "Aggregate metrics: message and active-user counts, updates, decisions, blockers, team health score with its components, and per-day rows.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"date": map[string]any{
						"type":        "string",
						"description": "Return only the row for this date (YYYY-MM-DD)",
					},
				},
			},
		},
	}
}

// Toolset はスナップショットに対する読み取り専用のツール実行
type Toolset struct {
	snap *Snapshot
}

func NewToolset(snap *Snapshot) *Toolset {
	return &Toolset{snap: snap}
}

// Execute は結果を JSON 文字列で返す。失敗もモデルに返すので error は返さない
func (t *Toolset) Execute(call model.ToolCall) string {
	var (
		out any
		err error
	)
	switch call.Name {
	case ToolAnalyzeSentiment:
		var args struct {
			UserID string `json:"user_id"`
		}
		if err = decodeArgs(call.Arguments, &args); err == nil {
			out = t.sentiment(args.UserID)
		}
	case ToolClassifyUrgency:
		var args struct {
			MinLevel string `json:"min_level"`
		}
		if err = decodeArgs(call.Arguments, &args); err == nil {
			out, err = t.urgency(args.MinLevel)
		}
	case ToolExtractDecisions:
		out = t.decisions()
	case ToolDetectBlockers:
		out = t.blockers()
	case ToolGetMetrics:
		var args struct {
			Date string `json:"date"`
		}
		if err = decodeArgs(call.Arguments, &args); err == nil {
			out, err = t.metrics(args.Date)
		}
	default:
		err = fmt.Errorf("unknown tool: %s", call.Name)
	}
	if err != nil {
		out = map[string]string{"error": err.Error()}
	}
	b, err := json.Marshal(out)
	if err != nil {
		return fmt.Sprintf(`{"error": %q}`, err.Error())
	}
	return string(b)
}

func decodeArgs(raw string, v any) error {
	if raw == "" || raw == "null" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

type userSentiment struct {
	UserID       string   `json:"user_id"`
	UserName     string   `json:"user_name"`
	Messages     int      `json:"messages"`
	SentimentAvg *float64 `json:"sentiment_avg"`
}

type sentimentResult struct {
	Average       *float64        `json:"average"`
	Band          string          `json:"band"`
	PositiveShare float64         `json:"positive_share"`
	NegativeShare float64         `json:"negative_share"`
	NeutralShare  float64         `json:"neutral_share"`
	Classified    int             `json:"classified"`
	Unclassified  int             `json:"unclassified"`
	PerUser       []userSentiment `json:"per_user"`
}

func (t *Toolset) sentiment(userID string) sentimentResult {
	s := t.snap.summary()
	r := sentimentResult{
		Average:       s.SentimentAvg,
		Band:          "unknown",
		PositiveShare: s.PositiveShare,
		NegativeShare: s.NegativeShare,
		NeutralShare:  s.NeutralShare,
		Unclassified:  s.Unclassified,
		Classified:    s.TotalMessages - s.Unclassified,
		PerUser:       []userSentiment{},
	}
	if s.SentimentAvg != nil {
		r.Band = t.snap.Config.Band(*s.SentimentAvg)
	}
	for _, u := range s.PerUser {
		if userID != "" && u.UserID != userID {
			continue
		}
		r.PerUser = append(r.PerUser, userSentiment{
			UserID:       u.UserID,
			UserName:     u.UserName,
			Messages:     u.MessageCount,
			SentimentAvg: u.SentimentAvg,
		})
	}
	return r
}

type itemJSON struct {
	UserName  string `json:"user_name"`
	Date      string `json:"date"`
	Text      string `json:"text"`
	Level     string `json:"level,omitempty"`
	BlockedBy string `json:"blocked_by,omitempty"`
}

func toItems(items []metrics.Item) []itemJSON {
	out := make([]itemJSON, 0, len(items))
	for _, it := range items {
		out = append(out, itemJSON{
			UserName:  it.UserName,
			Date:      it.Date,
			Text:      it.Text,
			Level:     it.Urgency,
			BlockedBy: it.BlockedBy,
		})
	}
	return out
}

type urgencyResult struct {
	AverageScore float64        `json:"average_score"`
	Overall      string         `json:"overall"`
	Counts       map[string]int `json:"counts"`
	Messages     []itemJSON     `json:"messages"`
}

func (t *Toolset) urgency(minLevel string) (urgencyResult, error) {
	floor := model.UrgencyHigh
	if minLevel != "" {
		u, err := model.ParseUrgency(minLevel)
		if err != nil {
			return urgencyResult{}, err
		}
		floor = u
	}
	s := t.snap.summary()
	r := urgencyResult{
		AverageScore: s.UrgencyAvg,
		Overall:      string(overallUrgency(s)),
		Counts:       map[string]int{},
		Messages:     []itemJSON{},
	}
	for level, n := range s.UrgencyCounts {
		r.Counts[string(level)] = n
	}

	byID := resultsByID(t.snap.Results)
	for i := range t.snap.Messages {
		m := &t.snap.Messages[i]
		res, ok := byID[m.MessageID]
		if !ok || res.Urgency == nil || res.Urgency.Rank() < floor.Rank() {
			continue
		}
		r.Messages = append(r.Messages, itemJSON{
			UserName: m.UserName,
			Date:     m.Timestamp.In(t.snap.location()).Format(model.DateLayout),
			Text:     m.Text,
			Level:    string(*res.Urgency),
		})
	}
	return r, nil
}

type decisionsResult struct {
	TotalMade    int        `json:"total_decisions_made"`
	TotalPending int        `json:"total_decisions_pending"`
	Made         []itemJSON `json:"decisions_made"`
	Pending      []itemJSON `json:"decisions_pending"`
}

func (t *Toolset) decisions() decisionsResult {
	s := t.snap.summary()
	return decisionsResult{
		TotalMade:    len(s.DecisionItems),
		TotalPending: len(s.PendingItems),
		Made:         toItems(s.DecisionItems),
		Pending:      toItems(s.PendingItems),
	}
}

type blockersResult struct {
	TotalBlockers   int        `json:"total_blockers"`
	UnblockAttempts int        `json:"unblock_attempts"`
	Blockers        []itemJSON `json:"blockers"`
}

func (t *Toolset) blockers() blockersResult {
	s := t.snap.summary()
	return blockersResult{
		TotalBlockers:   s.Blockers,
		UnblockAttempts: s.Unblocks,
		Blockers:        toItems(s.BlockerItems),
	}
}

type dailyJSON struct {
	Date            string   `json:"date"`
	TotalMessages   int      `json:"total_messages"`
	ActiveUsers     int      `json:"active_users"`
	Updates         int      `json:"updates"`
	Decisions       int      `json:"decisions"`
	Blockers        int      `json:"blockers"`
	SentimentScore  *float64 `json:"sentiment_score"`
	TeamHealthScore float64  `json:"team_health_score"`
	UrgencyScore    float64  `json:"urgency_score"`
}

type metricsResult struct {
	BusinessDays  int             `json:"business_days"`
	TotalMessages int             `json:"total_messages"`
	ActiveUsers   int             `json:"active_users"`
	TotalMembers  int             `json:"total_members"`
	Updates       int             `json:"updates"`
	Decisions     int             `json:"decisions"`
	Questions     int             `json:"pending_questions"`
	Blockers      int             `json:"blockers"`
	Unclassified  int             `json:"unclassified"`
	TeamHealth    classify.Health `json:"team_health"`
	Daily         []dailyJSON     `json:"daily"`
}

func (t *Toolset) metrics(date string) (metricsResult, error) {
	s := t.snap.summary()
	r := metricsResult{
		BusinessDays:  len(t.snap.Window.Dates),
		TotalMessages: s.TotalMessages,
		ActiveUsers:   s.ActiveUsers,
		TotalMembers:  s.TotalMembers,
		Updates:       s.Updates,
		Decisions:     s.Decisions,
		Questions:     s.Questions,
		Blockers:      s.Blockers,
		Unclassified:  s.Unclassified,
		TeamHealth:    s.Health,
		Daily:         []dailyJSON{},
	}
	for _, d := range t.snap.Metrics.Daily {
		if date != "" && d.AnalysisDate != date {
			continue
		}
		r.Daily = append(r.Daily, dailyJSON{
			Date:            d.AnalysisDate,
			TotalMessages:   d.TotalMessages,
			ActiveUsers:     d.ActiveUsers,
			Updates:         d.UpdatesCount,
			Decisions:       d.DecisionsCount,
			Blockers:        d.BlockersCount,
			SentimentScore:  d.SentimentScore,
			TeamHealthScore: d.TeamHealthScore,
			UrgencyScore:    d.UrgencyScore,
		})
	}
	if date != "" && len(r.Daily) == 0 {
		return r, fmt.Errorf("no messages on %s", date)
	}
	return r, nil
}

func resultsByID(results []classify.Result) map[string]classify.Result {
	m := make(map[string]classify.Result, len(results))
	for _, r := range results {
		m[r.MessageID] = r
	}
	return m
}

// overallUrgency はウィンドウ全体の緊急度。critical が 1 件でもあれば critical
func overallUrgency(s *metrics.Summary) model.Urgency {
	switch {
	case s.UrgencyCounts[model.UrgencyCritical] > 0:
		return model.UrgencyCritical
	case s.UrgencyAvg >= 6:
		return model.UrgencyHigh
	case s.UrgencyAvg >= 3.5:
		return model.UrgencyMedium
	default:
		return model.UrgencyLow
	}
}

// Package metrics は分類済みメッセージを日別・ユーザー別・ウィンドウ全体の指標に集計する
package metrics

import (
	"sort"
	"time"

	"github.com/pyama86/slack-pulse/domain/classify"
	"github.com/pyama86/slack-pulse/domain/model"
)

// Item はレポートに載せるメッセージ単位の検出結果
type Item struct {
	MessageID string
	UserID    string
	UserName  string
	Date      string
	TS        string
	Text      string
	BlockedBy string
	Urgency   string
}

type UserSummary struct {
	UserID       string
	UserName     string
	MessageCount int
	UpdateCount  int
	SentimentAvg *float64
}

// Summary はウィンドウ全体の集計
type Summary struct {
	TotalMessages int
	ActiveUsers   int
	TotalMembers  int
	Updates       int
	Decisions     int
	Questions     int
	Blockers      int
	Unblocks      int
	Unclassified  int
	SentimentAvg  *float64
	PositiveShare float64
	NegativeShare float64
	NeutralShare  float64
	// UrgencyAvg は 0-10 のスコアの平均
	UrgencyAvg    float64
	UrgencyCounts map[model.Urgency]int
	PerUser       []UserSummary
	Health        classify.Health

	UpdateItems   []Item
	DecisionItems []Item
	PendingItems  []Item
	BlockerItems  []Item
	UrgentItems   []Item
}

type Result struct {
	Daily   []model.DailyAnalysis
	Users   []model.UserMetric
	Summary Summary
}

type entry struct {
	msg    *model.Message
	result classify.Result
	date   string
}

// Aggregate は純粋関数。同じ入力には常に同じ出力を返す。
// スコアの平均は値を持つメッセージだけを分母にする
func Aggregate(channelID string, msgs []model.Message, results []classify.Result, cfg classify.Config, members int, loc *time.Location) *Result {
	if loc == nil {
		loc = time.UTC
	}
	byID := make(map[string]classify.Result, len(results))
	for _, r := range results {
		byID[r.MessageID] = r
	}

	entries := make([]entry, 0, len(msgs))
	for i := range msgs {
		m := &msgs[i]
		r, ok := byID[m.MessageID]
		if !ok {
			r = classify.Result{MessageID: m.MessageID, Unclassified: true}
		}
		entries = append(entries, entry{msg: m, result: r, date: m.Timestamp.In(loc).Format(model.DateLayout)})
	}
	// 合計の順序を固定する
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].msg.Timestamp.Equal(entries[j].msg.Timestamp) {
			return entries[i].msg.Timestamp.Before(entries[j].msg.Timestamp)
		}
		return entries[i].msg.MessageID < entries[j].msg.MessageID
	})

	byDate := map[string][]entry{}
	byUserDate := map[[2]string][]entry{}
	for _, e := range entries {
		byDate[e.date] = append(byDate[e.date], e)
		key := [2]string{e.msg.UserID, e.date}
		byUserDate[key] = append(byUserDate[key], e)
	}

	res := &Result{}
	for _, date := range sortedKeys(byDate) {
		res.Daily = append(res.Daily, daily(channelID, date, byDate[date], cfg, members))
	}

	keys := make([][2]string, 0, len(byUserDate))
	for k := range byUserDate {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i][1] != keys[j][1] {
			return keys[i][1] < keys[j][1]
		}
		return keys[i][0] < keys[j][0]
	})
	for _, k := range keys {
		res.Users = append(res.Users, userMetric(channelID, k[0], k[1], byUserDate[k]))
	}

	res.Summary = summarize(entries, cfg, members)
	return res
}

func daily(channelID, date string, es []entry, cfg classify.Config, members int) model.DailyAnalysis {
	s := summarize(es, cfg, members)
	return model.DailyAnalysis{
		ChannelID:       channelID,
		AnalysisDate:    date,
		TotalMessages:   s.TotalMessages,
		ActiveUsers:     s.ActiveUsers,
		UpdatesCount:    s.Updates,
		DecisionsCount:  s.Decisions,
		BlockersCount:   s.Blockers,
		SentimentScore:  s.SentimentAvg,
		TeamHealthScore: s.Health.Score,
		UrgencyScore:    s.UrgencyAvg * 10,
	}
}

func userMetric(channelID, userID, date string, es []entry) model.UserMetric {
	um := model.UserMetric{
		UserID:     userID,
		ChannelID:  channelID,
		MetricDate: date,
	}
	var sentiment mean
	collaborative := 0
	for _, e := range es {
		um.MessageCount++
		if e.result.IsUpdate {
			um.UpdateCount++
		}
		if e.result.Decision {
			um.DecisionCount++
		}
		if e.result.Question {
			um.QuestionCount++
		}
		if e.msg.IsReply() {
			um.AnswerCount++
		}
		if isCollaborative(e.msg) {
			collaborative++
		}
		sentiment.add(e.result.Sentiment)
	}
	um.SentimentAvg = sentiment.value()
	if um.MessageCount > 0 {
		um.CollaborationScore = float64(collaborative) / float64(um.MessageCount) * 100
	}
	return um
}

func summarize(es []entry, cfg classify.Config, members int) Summary {
	s := Summary{UrgencyCounts: map[model.Urgency]int{}}
	var sentiment, urgency mean
	var pos, neg, neu int
	collaborative := 0
	users := map[string]*UserSummary{}
	userSentiment := map[string]*mean{}

	for _, e := range es {
		m, r := e.msg, e.result
		s.TotalMessages++
		u, ok := users[m.UserID]
		if !ok {
			u = &UserSummary{UserID: m.UserID, UserName: m.UserName}
			users[m.UserID] = u
			userSentiment[m.UserID] = &mean{}
		}
		u.MessageCount++
		userSentiment[m.UserID].add(r.Sentiment)

		item := Item{
			MessageID: m.MessageID,
			UserID:    m.UserID,
			UserName:  m.UserName,
			Date:      e.date,
			TS:        m.TS,
		}
		if r.IsUpdate {
			s.Updates++
			u.UpdateCount++
			it := item
			it.Text = m.Text
			s.UpdateItems = append(s.UpdateItems, it)
		}
		if r.Decision {
			s.Decisions++
			it := item
			it.Text = r.DecisionText
			s.DecisionItems = append(s.DecisionItems, it)
		}
		if r.Question {
			s.Questions++
			it := item
			it.Text = m.Text
			s.PendingItems = append(s.PendingItems, it)
		}
		if r.Blocker {
			s.Blockers++
			it := item
			it.Text = r.BlockerText
			it.BlockedBy = r.BlockedBy
			s.BlockerItems = append(s.BlockerItems, it)
		}
		if r.Unblock {
			s.Unblocks++
		}
		if r.Unclassified {
			s.Unclassified++
		}
		if isCollaborative(m) {
			collaborative++
		}
		if r.Sentiment != nil {
			sentiment.add(r.Sentiment)
			switch cfg.Band(*r.Sentiment) {
			case classify.SentimentPositive:
				pos++
			case classify.SentimentNegative:
				neg++
			default:
				neu++
			}
		}
		if r.Urgency != nil {
			score := float64(r.UrgencyScore)
			urgency.add(&score)
			s.UrgencyCounts[*r.Urgency]++
			if r.Urgency.Rank() >= model.UrgencyHigh.Rank() {
				it := item
				it.Text = m.Text
				it.Urgency = string(*r.Urgency)
				s.UrgentItems = append(s.UrgentItems, it)
			}
		}
	}

	s.ActiveUsers = len(users)
	s.TotalMembers = members
	if s.TotalMembers < s.ActiveUsers {
		s.TotalMembers = s.ActiveUsers
	}
	s.SentimentAvg = sentiment.value()
	if v := urgency.value(); v != nil {
		s.UrgencyAvg = *v
	}
	if classified := pos + neg + neu; classified > 0 {
		s.PositiveShare = float64(pos) / float64(classified)
		s.NegativeShare = float64(neg) / float64(classified)
		s.NeutralShare = float64(neu) / float64(classified)
	}

	perUser := make([]int, 0, len(users))
	for _, id := range sortedKeys(users) {
		u := users[id]
		u.SentimentAvg = userSentiment[id].value()
		s.PerUser = append(s.PerUser, *u)
		perUser = append(perUser, u.MessageCount)
	}
	sort.SliceStable(s.PerUser, func(i, j int) bool {
		return s.PerUser[i].MessageCount > s.PerUser[j].MessageCount
	})

	s.Health = classify.TeamHealth(classify.HealthInput{
		TotalMembers:          s.TotalMembers,
		ActiveMembers:         s.ActiveUsers,
		TotalMessages:         s.TotalMessages,
		CollaborativeMessages: collaborative,
		MessagesPerUser:       perUser,
		Blockers:              s.Blockers,
		PositiveShare:         s.PositiveShare,
		NegativeShare:         s.NegativeShare,
		MeanUrgencyScore:      s.UrgencyAvg,
	})
	return s
}

// スレッドへの返信か他メンバーへのメンションを含むもの
func isCollaborative(m *model.Message) bool {
	return m.IsReply() || len(classify.Mentions(m.Text)) > 0
}

type mean struct {
	sum float64
	n   int
}

func (a *mean) add(v *float64) {
	if v == nil {
		return
	}
	a.sum += *v
	a.n++
}

func (a *mean) value() *float64 {
	if a.n == 0 {
		return nil
	}
	v := a.sum / float64(a.n)
	return &v
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

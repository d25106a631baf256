package classify

import (
	"fmt"
	"math"
)

type HealthInput struct {
	TotalMembers          int     `json:"total_members"`
	ActiveMembers         int     `json:"active_members"`
	TotalMessages         int     `json:"total_messages"`
	CollaborativeMessages int     `json:"collaborative_messages"`
	MessagesPerUser       []int   `json:"messages_per_user"`
	Blockers              int     `json:"total_blockers"`
	PositiveShare         float64 `json:"positive_share"`
	NegativeShare         float64 `json:"negative_share"`
	MeanUrgencyScore      float64 `json:"mean_urgency_score"`
}

type HealthComponents struct {
	Participation        float64 `json:"participation"`
	Collaboration        float64 `json:"collaboration"`
	WorkloadDistribution float64 `json:"workload_distribution"`
	Blockers             float64 `json:"blockers"`
	Sentiment            float64 `json:"sentiment"`
	Urgency              float64 `json:"urgency"`
}

type Health struct {
	Score      float64          `json:"overall_score"`
	Status     string           `json:"status"`
	Emoji      string           `json:"emoji"`
	Components HealthComponents `json:"components"`
}

func (h Health) Summary() string {
	return fmt.Sprintf("%s %s (%.1f/100)", h.Emoji, h.Status, h.Score)
}

var healthWeights = HealthComponents{
	Participation:        0.25,
	Collaboration:        0.15,
	WorkloadDistribution: 0.15,
	Blockers:             0.20,
	Sentiment:            0.15,
	Urgency:              0.10,
}

// TeamHealth はウィンドウ全体の健全性を 0-100 で返す。
// ブロッカー数に対して単調非増加、ポジティブ比率に対して単調非減少
func TeamHealth(in HealthInput) Health {
	c := HealthComponents{
		Participation:        participationScore(in),
		Collaboration:        ratioScore(in.CollaborativeMessages, in.TotalMessages),
		WorkloadDistribution: workloadScore(in.MessagesPerUser),
		Blockers:             blockerScore(in.Blockers),
		Sentiment:            clamp(50+(in.PositiveShare-in.NegativeShare)*50, 0, 100),
		Urgency:              clamp(100-in.MeanUrgencyScore*10, 0, 100),
	}
	total := c.Participation*healthWeights.Participation +
		c.Collaboration*healthWeights.Collaboration +
		c.WorkloadDistribution*healthWeights.WorkloadDistribution +
		c.Blockers*healthWeights.Blockers +
		c.Sentiment*healthWeights.Sentiment +
		c.Urgency*healthWeights.Urgency
	total = math.Round(clamp(total, 0, 100)*10) / 10

	h := Health{Score: total, Components: c}
	switch {
	case total >= 80:
		h.Status, h.Emoji = "EXCELLENT", "🟢"
	case total >= 60:
		h.Status, h.Emoji = "GOOD", "🟡"
	case total >= 40:
		h.Status, h.Emoji = "FAIR", "🟠"
	default:
		h.Status, h.Emoji = "CRITICAL", "🔴"
	}
	return h
}

func participationScore(in HealthInput) float64 {
	members := in.TotalMembers
	if members < in.ActiveMembers {
		members = in.ActiveMembers
	}
	return ratioScore(in.ActiveMembers, members)
}

func ratioScore(n, total int) float64 {
	if total <= 0 {
		return 0
	}
	return clamp(float64(n)/float64(total)*100, 0, 100)
}

// 変動係数が小さいほど負荷が均等
func workloadScore(perUser []int) float64 {
	if len(perUser) < 2 {
		return 50
	}
	var sum float64
	for _, n := range perUser {
		sum += float64(n)
	}
	mean := sum / float64(len(perUser))
	if mean == 0 {
		return 50
	}
	var sq float64
	for _, n := range perUser {
		d := float64(n) - mean
		sq += d * d
	}
	stdev := math.Sqrt(sq / float64(len(perUser)-1))
	return math.Max(0, 100-(stdev/mean)*50)
}

func blockerScore(n int) float64 {
	switch {
	case n <= 0:
		return 100
	case n <= 2:
		return 70
	case n <= 5:
		return 40
	default:
		return 20
	}
}

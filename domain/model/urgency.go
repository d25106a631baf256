package model

import "fmt"

type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyMedium   Urgency = "medium"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

// Score は 0-10 の数値スコア
func (u Urgency) Score() int {
	switch u {
	case UrgencyCritical:
		return 10
	case UrgencyHigh:
		return 7
	case UrgencyMedium:
		return 5
	default:
		return 2
	}
}

func (u Urgency) Rank() int {
	switch u {
	case UrgencyCritical:
		return 3
	case UrgencyHigh:
		return 2
	case UrgencyMedium:
		return 1
	default:
		return 0
	}
}

func ParseUrgency(s string) (Urgency, error) {
	switch Urgency(s) {
	case UrgencyLow, UrgencyMedium, UrgencyHigh, UrgencyCritical:
		return Urgency(s), nil
	}
	return "", fmt.Errorf("unknown urgency level: %q", s)
}

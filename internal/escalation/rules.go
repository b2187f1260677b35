package escalation

import (
	"time"
)

// Day thresholds for the level classifier. Crossing one bumps the level term
// of the urgency score by 100, so raw overdue days can never out-rank a
// higher level within a triage view.
const (
	level3Days = 15
	level2Days = 8
)

// Operator-facing directives returned by RecommendAction.
const (
	RecommendCritical     = "Immediate action required — critical finding."
	RecommendUrgent       = "Urgent: schedule inspection immediately and notify management."
	RecommendWithin24h    = "High priority: schedule inspection within 24 hours."
	RecommendConfirm      = "Send reminder and confirm inspector availability."
	RecommendWithin3Days  = "Schedule inspection within 3 days."
	RecommendSendReminder = "Send reminder to assigned inspector."
)

var severityWeights = map[Severity]int{
	SeverityLow:      10,
	SeverityMedium:   20,
	SeverityHigh:     30,
	SeverityCritical: 40,
}

// ClassifyLevel maps days overdue and severity to an escalation tier.
// Critical findings are never below the top tier regardless of elapsed time.
func ClassifyLevel(daysOverdue int, severity Severity) Level {
	switch {
	case severity == SeverityCritical:
		return Level3
	case daysOverdue >= level3Days:
		return Level3
	case daysOverdue >= level2Days:
		return Level2
	default:
		return Level1
	}
}

// SeverityWeight returns the urgency contribution of a severity. Unknown
// severities weigh zero; validation rejects them before they reach scoring.
func SeverityWeight(severity Severity) int {
	return severityWeights[severity]
}

// UrgencyScore combines level, severity and days overdue into a single
// sortable ranking. Level dominates (100-point steps) over severity
// (at most 40) over raw overdue days. The score exists purely for triage
// ordering and is recomputed on every read, never persisted.
func UrgencyScore(level Level, severity Severity, daysOverdue int) int {
	return int(level)*100 + SeverityWeight(severity) + daysOverdue
}

// RecommendAction returns the suggested next step for the classified state.
// The output is advisory text for an operator, regenerated on every
// classification refresh so a stale hint cannot outlive a state change.
func RecommendAction(level Level, severity Severity, daysOverdue int) string {
	switch {
	case severity == SeverityCritical:
		return RecommendCritical
	case level == Level3 && daysOverdue >= 30:
		return RecommendUrgent
	case level == Level3:
		return RecommendWithin24h
	case level == Level2 && daysOverdue >= 12:
		return RecommendConfirm
	case level == Level2:
		return RecommendWithin3Days
	default:
		return RecommendSendReminder
	}
}

// DaysOverdue computes how many whole or partial days past the scheduled
// date the clock has moved, clamped at zero. It is always derived from the
// supplied clock so values can never go stale in storage, and the explicit
// now parameter keeps every rule deterministic under test.
func DaysOverdue(scheduled, now time.Time) int {
	diff := now.Sub(scheduled)
	if diff <= 0 {
		return 0
	}
	days := int(diff / (24 * time.Hour))
	if diff%(24*time.Hour) != 0 {
		days++
	}
	return days
}

package escalation

import (
	"sort"
	"time"
)

// Stats is the aggregate payload consumed by the reporting surface.
type Stats struct {
	Total                 int         `json:"total"`
	ByLevel               map[int]int `json:"byLevel"`
	OpenByLevel           map[int]int `json:"openByLevel"`
	Open                  int         `json:"open"`
	InProgress            int         `json:"inProgress"`
	Resolved              int         `json:"resolved"`
	Escalated             int         `json:"escalated"`
	Level3                int         `json:"level3"`
	ResolvedThisWeek      int         `json:"resolvedThisWeek"`
	AverageResolutionDays float64     `json:"averageResolutionDays"`
}

// ComputeStats aggregates counts by level and status, resolutions within the
// trailing seven days, and the mean time to resolve in days across all
// resolved records.
func ComputeStats(records []*Escalation, now time.Time) Stats {
	stats := Stats{
		ByLevel:     map[int]int{1: 0, 2: 0, 3: 0},
		OpenByLevel: map[int]int{1: 0, 2: 0, 3: 0},
	}
	weekAgo := now.AddDate(0, 0, -7)

	var totalResolution time.Duration
	var resolvedCount int

	for _, e := range records {
		e.Refresh(now)
		stats.Total++
		stats.ByLevel[int(e.Level)]++
		if e.Level == Level3 {
			stats.Level3++
		}
		if e.Status != StatusResolved {
			stats.OpenByLevel[int(e.Level)]++
		}

		switch e.Status {
		case StatusOpen:
			stats.Open++
		case StatusInProgress:
			stats.InProgress++
		case StatusEscalated:
			stats.Escalated++
		case StatusResolved:
			stats.Resolved++
			if e.ResolvedAt != nil {
				if e.ResolvedAt.After(weekAgo) {
					stats.ResolvedThisWeek++
				}
				totalResolution += e.ResolvedAt.Sub(e.CreatedAt)
				resolvedCount++
			}
		}
	}

	if resolvedCount > 0 {
		days := totalResolution.Hours() / 24
		stats.AverageResolutionDays = days / float64(resolvedCount)
	}

	return stats
}

// sortByUrgency orders records for triage: highest urgency score first, with
// the older record winning a tie so the queue stays stable across refreshes.
func sortByUrgency(records []*Escalation) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].UrgencyScore != records[j].UrgencyScore {
			return records[i].UrgencyScore > records[j].UrgencyScore
		}
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
}

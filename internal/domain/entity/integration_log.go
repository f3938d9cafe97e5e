package entity

import (
	"math"
	"time"
)

// IntegrationLog is one append-only audit row written per dispatch attempt.
type IntegrationLog struct {
	ID            string
	IntegrationID string
	EventType     EventType
	Success       bool
	DurationMS    *int64
	StatusCode    *int
	ErrorMessage  *string
	CreatedAt     time.Time
}

// IntegrationStats aggregates the audit log of one integration.
type IntegrationStats struct {
	TotalCalls      int     `json:"totalCalls"`
	SuccessfulCalls int     `json:"successfulCalls"`
	FailedCalls     int     `json:"failedCalls"`
	SuccessRate     int     `json:"successRate"`
	AvgDuration     float64 `json:"avgDuration"`
}

// ComputeStats aggregates entries. SuccessRate is a rounded percentage and
// AvgDuration is the mean over entries that recorded a duration.
func ComputeStats(entries []*IntegrationLog) IntegrationStats {
	var stats IntegrationStats
	var durationSum int64
	var durationCount int

	for _, e := range entries {
		if e == nil {
			continue
		}
		stats.TotalCalls++
		if e.Success {
			stats.SuccessfulCalls++
		}
		if e.DurationMS != nil {
			durationSum += *e.DurationMS
			durationCount++
		}
	}

	stats.FailedCalls = stats.TotalCalls - stats.SuccessfulCalls
	if stats.TotalCalls > 0 {
		stats.SuccessRate = int(math.Round(float64(stats.SuccessfulCalls) / float64(stats.TotalCalls) * 100))
	}
	if durationCount > 0 {
		stats.AvgDuration = float64(durationSum) / float64(durationCount)
	}
	return stats
}

package core

import (
	"sort"
	"time"
)

// Apply folds one attempt into r.  Counters only grow, SuccessRate is always
// recomputed from them and IsActive mirrors the latest attempt.
func (r *HealthRecord) Apply(rep AttemptReport, now time.Time) {
	r.ServiceName = rep.ProviderName
	r.TotalUploads++
	if rep.Success {
		r.SuccessfulUploads++
	}
	r.SuccessRate = SuccessRate(r.SuccessfulUploads, r.TotalUploads)
	r.IsActive = rep.Success
	r.LastResponseTimeMs = rep.ResponseTimeMs
	if rep.Success {
		r.LastErrorMessage = ""
	} else {
		r.LastErrorMessage = rep.ErrorMessage
	}
	r.LastCheckedAt = now
}

// SuccessRate returns successful/total as a percentage, 0 when total is 0.
func SuccessRate(successful, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(successful) / float64(total) * 100
}

// RankRecords sorts records in place: success rate descending, then last
// response time ascending, then service name for a total order.
func RankRecords(records []HealthRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.SuccessRate != b.SuccessRate {
			return a.SuccessRate > b.SuccessRate
		}
		if a.LastResponseTimeMs != b.LastResponseTimeMs {
			return a.LastResponseTimeMs < b.LastResponseTimeMs
		}
		return a.ServiceName < b.ServiceName
	})
}

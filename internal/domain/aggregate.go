package domain

import "time"

// MetricAgg is a running min/max/sum/count for one named metric inside
// a daily aggregate. Count equals the number of distinct reading ids
// that supplied a value for the metric.
type MetricAgg struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Sum   float64 `json:"sum"`
	Count int     `json:"count"`
}

// DailyAggregate is the one document per (sensor, UTC calendar day).
// Seen holds every reading id already folded in, which is what makes
// re-delivery of the same batch a no-op.
type DailyAggregate struct {
	TenantID  string               `json:"tenant_id"`
	SensorID  string               `json:"sensor_id"`
	Day       string               `json:"day"` // YYYYMMDD
	DayStart  time.Time            `json:"day_start"`
	Metrics   map[string]MetricAgg `json:"metrics"`
	Seen      map[string]bool      `json:"seen"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// NewDailyAggregate returns an empty aggregate for the given day.
func NewDailyAggregate(tenantID, sensorID, day string, dayStart time.Time) *DailyAggregate {
	return &DailyAggregate{
		TenantID: tenantID,
		SensorID: sensorID,
		Day:      day,
		DayStart: dayStart,
		Metrics:  map[string]MetricAgg{},
		Seen:     map[string]bool{},
	}
}

// Fold merges a set of per-reading metric values into the aggregate.
// A reading id already present in Seen is skipped entirely, so folding
// the same update set any number of times, in any partitioning, yields
// the same result as folding the de-duplicated set once. Returns the
// number of readings actually folded.
//
// Fold mutates the receiver and must only be called on a copy read
// inside the owning store transaction.
func (a *DailyAggregate) Fold(updates map[string]map[string]float64) int {
	if a.Metrics == nil {
		a.Metrics = map[string]MetricAgg{}
	}
	if a.Seen == nil {
		a.Seen = map[string]bool{}
	}

	folded := 0
	for readingID, values := range updates {
		if a.Seen[readingID] {
			continue
		}
		a.Seen[readingID] = true
		folded++

		for name, v := range values {
			cur, ok := a.Metrics[name]
			if !ok {
				// First occurrence seeds min and max.
				cur = MetricAgg{Min: v, Max: v}
			}
			if v < cur.Min {
				cur.Min = v
			}
			if v > cur.Max {
				cur.Max = v
			}
			cur.Sum += v
			cur.Count++
			a.Metrics[name] = cur
		}
	}
	return folded
}

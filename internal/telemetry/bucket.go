package telemetry

import "time"

const (
	// ReadingIDLayout gives minute-granularity reading ids, so a
	// retransmitted batch lands on the same rows.
	ReadingIDLayout = "200601021504"

	// DayIDLayout keys daily aggregates.
	DayIDLayout = "20060102"

	maxLegacyStepSec = 86400
	fallbackGridSec  = 300
)

// SampleTime places the i-th of n chronological samples relative to the
// batch receipt time: the last sample is the receipt time, earlier ones
// step back by the batch interval.
func SampleTime(receipt time.Time, intervalSec, n, i int) time.Time {
	return receipt.Add(-time.Duration((n-1-i)*intervalSec) * time.Second)
}

// ReadingID derives the storage key for a sample time.
func ReadingID(ts time.Time) string {
	return ts.UTC().Format(ReadingIDLayout)
}

// DayID returns the UTC calendar day key for a sample time.
func DayID(ts time.Time) string {
	return ts.UTC().Format(DayIDLayout)
}

// DayStart floors a sample time to the start of its UTC day.
func DayStart(ts time.Time) time.Time {
	u := ts.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// LegacyBucketStart infers the bucket start of an irregular timestamp
// series. It requires every element present and at least two samples;
// the step is the difference of the first two, rejected when
// non-positive or above one day. Returns (0, false) when bucketing is
// indeterminate.
func LegacyBucketStart(ts []*int64) (int64, bool) {
	if len(ts) < 2 {
		return 0, false
	}
	ints := make([]int64, 0, len(ts))
	for _, t := range ts {
		if t == nil {
			return 0, false
		}
		ints = append(ints, *t)
	}
	step := ints[1] - ints[0]
	if step <= 0 || step > maxLegacyStepSec {
		return 0, false
	}
	period := step * int64(len(ints))
	last := ints[len(ints)-1]
	return last - (last % period), true
}

// FallbackBucket floors now to a fixed 300 s grid. Used when legacy
// bucket inference fails; repeated failures can collapse distinct
// samples onto one bucket (known source behavior, kept as-is).
func FallbackBucket(now time.Time) int64 {
	sec := now.Unix()
	return sec - (sec % fallbackGridSec)
}

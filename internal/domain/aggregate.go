package domain

import (
	"sort"
	"time"
)

// MinSampleSize is the smallest group that produces an aggregate row.
const MinSampleSize = 5

// MaxDaysBack bounds the reliability window.
const MaxDaysBack = 365

// Sample is the projection of a snapshot needed for aggregation.
type Sample struct {
	DayOfWeek      int
	Hour           int
	AvailableBikes int
}

// GroupKey identifies an aggregate row within one station.
type GroupKey struct {
	Hour    int
	DayType DayType
}

// GroupStats summarizes one (hour, day type) group.
type GroupStats struct {
	GroupKey
	SampleSize  int
	Reliability float64 // percent of samples with at least one bike, 2 decimals
	AvgBikes    float64 // 2 decimals
}

// Summarize groups samples by (hour, day type) and returns the groups with at
// least MinSampleSize samples, ordered weekday first then by hour.
func Summarize(samples []Sample) []GroupStats {
	type acc struct {
		count, withBikes, sum int
	}
	groups := make(map[GroupKey]*acc)
	for _, s := range samples {
		k := GroupKey{Hour: s.Hour, DayType: DayTypeOf(s.DayOfWeek)}
		a := groups[k]
		if a == nil {
			a = &acc{}
			groups[k] = a
		}
		a.count++
		a.sum += s.AvailableBikes
		if s.AvailableBikes > 0 {
			a.withBikes++
		}
	}

	out := make([]GroupStats, 0, len(groups))
	for k, a := range groups {
		if a.count < MinSampleSize {
			continue
		}
		out = append(out, GroupStats{
			GroupKey:    k,
			SampleSize:  a.count,
			Reliability: ratio2(100*int64(a.withBikes), int64(a.count)),
			AvgBikes:    ratio2(int64(a.sum), int64(a.count)),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DayType != out[j].DayType {
			return out[i].DayType == Weekday
		}
		return out[i].Hour < out[j].Hour
	})
	return out
}

// ratio2 returns num/den rounded to two decimals, half away from zero, using
// integer arithmetic so the result matches ROUND(numeric, 2) in PostgreSQL.
// den must be positive.
func ratio2(num, den int64) float64 {
	cents := num * 100
	neg := cents < 0
	if neg {
		cents = -cents
	}
	q := (2*cents + den) / (2 * den)
	if neg {
		q = -q
	}
	return float64(q) / 100
}

// Window is the inclusive capture-time range of a reliability calculation.
type Window struct {
	Start time.Time
	End   time.Time
}

// WindowEndingAt returns the window of daysBack days ending at end.
func WindowEndingAt(end time.Time, daysBack int) (Window, error) {
	if daysBack < 1 || daysBack > MaxDaysBack {
		return Window{}, ErrInvalidWindow
	}
	return Window{Start: end.AddDate(0, 0, -daysBack), End: end}, nil
}

// ReliabilityScore is the windowed reliability of one station at one hour and
// day type.
type ReliabilityScore struct {
	StationID    int64     `json:"station_id"`
	Hour         int       `json:"hour"`
	DayType      DayType   `json:"day_type"`
	Percentage   float64   `json:"reliability_percentage"`
	AvgBikes     float64   `json:"avg_available_bikes"`
	SampleSize   int       `json:"sample_size"`
	PeriodStart  time.Time `json:"data_period_start"`
	PeriodEnd    time.Time `json:"data_period_end"`
	CalculatedAt time.Time `json:"calculated_at"`
}

// HourlyAverage is the all-time average availability of one station at one
// hour and day type.
type HourlyAverage struct {
	StationID      int64     `json:"station_id"`
	Hour           int       `json:"hour"`
	DayType        DayType   `json:"day_type"`
	AvgBikes       float64   `json:"avg_bikes_available"`
	TotalSnapshots int       `json:"total_snapshots"`
	CalculatedAt   time.Time `json:"last_calculated"`
}

// ReliabilityScores converts group stats into score rows for a station.
func ReliabilityScores(stationID int64, stats []GroupStats, w Window, at time.Time) []ReliabilityScore {
	out := make([]ReliabilityScore, len(stats))
	for i, g := range stats {
		out[i] = ReliabilityScore{
			StationID:    stationID,
			Hour:         g.Hour,
			DayType:      g.DayType,
			Percentage:   g.Reliability,
			AvgBikes:     g.AvgBikes,
			SampleSize:   g.SampleSize,
			PeriodStart:  w.Start,
			PeriodEnd:    w.End,
			CalculatedAt: at,
		}
	}
	return out
}

// HourlyAverages converts group stats into average rows for a station.
func HourlyAverages(stationID int64, stats []GroupStats, at time.Time) []HourlyAverage {
	out := make([]HourlyAverage, len(stats))
	for i, g := range stats {
		out[i] = HourlyAverage{
			StationID:      stationID,
			Hour:           g.Hour,
			DayType:        g.DayType,
			AvgBikes:       g.AvgBikes,
			TotalSnapshots: g.SampleSize,
			CalculatedAt:   at,
		}
	}
	return out
}

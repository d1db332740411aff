package domain

import "time"

// DayType classifies a day of week for aggregation.
type DayType string

const (
	Weekday DayType = "weekday"
	Weekend DayType = "weekend"
)

// DayTypeOf maps an ISO day of week (1=Monday ... 7=Sunday) to its day type.
func DayTypeOf(dayOfWeek int) DayType {
	if dayOfWeek >= 6 {
		return Weekend
	}
	return Weekday
}

// TimeBucket is the calendar position of a capture time.
type TimeBucket struct {
	DayOfWeek  int // 1=Monday ... 7=Sunday
	Hour       int
	MinuteSlot int // 0, 15, 30 or 45
}

// BucketOf derives the bucket of t in t's own location. Callers convert t to
// the collection time zone first.
func BucketOf(t time.Time) TimeBucket {
	dow := int(t.Weekday())
	if dow == 0 {
		dow = 7
	}
	return TimeBucket{
		DayOfWeek:  dow,
		Hour:       t.Hour(),
		MinuteSlot: t.Minute() / 15 * 15,
	}
}

// DayType returns the bucket's day type.
func (b TimeBucket) DayType() DayType {
	return DayTypeOf(b.DayOfWeek)
}

// Snapshot is one immutable availability observation.
type Snapshot struct {
	StationID      int64     `json:"station_id"`
	AvailableBikes int       `json:"available_bikes"`
	AvailableDocks int       `json:"available_docks"`
	IsRenting      bool      `json:"is_renting"`
	IsReturning    bool      `json:"is_returning"`
	CapturedAt     time.Time `json:"captured_at"`
	DayOfWeek      int       `json:"day_of_week"`
	Hour           int       `json:"hour"`
	MinuteSlot     int       `json:"minute_slot"`
}

// NewSnapshot builds the snapshot of status for a station at the cycle's
// capture time, bucketed in loc.
func NewSnapshot(stationID int64, status StationStatus, capturedAt time.Time, loc *time.Location) Snapshot {
	if loc == nil {
		loc = time.UTC
	}
	b := BucketOf(capturedAt.In(loc))
	return Snapshot{
		StationID:      stationID,
		AvailableBikes: status.NumBikesAvailable,
		AvailableDocks: status.NumDocksAvailable,
		IsRenting:      status.IsRenting,
		IsReturning:    status.IsReturning,
		CapturedAt:     capturedAt,
		DayOfWeek:      b.DayOfWeek,
		Hour:           b.Hour,
		MinuteSlot:     b.MinuteSlot,
	}
}

// Package domain models bike-share station availability and the reliability
// aggregates derived from it.
//
// # Data Source
//
// Station data comes from a GBFS (General Bikeshare Feed Specification) feed.
// The default deployment polls the Mevo system in the Tricity area (Gdańsk,
// Gdynia, Sopot), published at https://gbfs.urbansharing.com/rowermevo.pl/.
// Three documents are consumed:
//
//	system_information.json  operator, system id, time zone
//	station_information.json station directory (id, name, address, lat/lon, capacity)
//	station_status.json      live counts (bikes, docks, renting/returning flags)
//
// Every document is wrapped in the same envelope:
//
//	{"last_updated": 1718000000, "ttl": 60, "version": "2.3", "data": {...}}
//
// An envelope without "data" is unusable and fails the whole fetch. Individual
// malformed station records are skipped.
//
// # Time Buckets
//
// A collection cycle stamps every snapshot with one shared capture time. The
// time is bucketed in the configured zone:
//
//	day of week  1=Monday ... 7=Sunday (ISO 8601)
//	hour         0-23
//	minute slot  0, 15, 30, 45 (floor of the minute to a quarter hour)
//
// Day of week collapses into a [DayType]: 1-5 are weekdays, 6-7 weekend.
//
// # Aggregates
//
// Snapshots for one station are grouped by (hour, day type). A group with fewer
// than [MinSampleSize] samples is suppressed and produces no row. For the rest:
//
//	reliability %  = 100 * count(bikes > 0) / count(*)
//	average bikes  = sum(bikes) / count(*)
//
// both rounded to two decimals. A [ReliabilityScore] covers an explicit date
// window (30 days by default); an [HourlyAverage] covers the full history.
// Both are keyed by (station, hour, day type) and upserted in place, so a
// rerun over unchanged data rewrites identical values.
//
// # Run Outcomes
//
// Pipeline runs report a [Result]: [Success], [Partial], or [Failed]. The
// variant is derived from the error list and the number of successful items,
// see [NewResult].
package domain

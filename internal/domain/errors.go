package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingData is the cause of a FeedError when the envelope has no data.
	ErrMissingData = errors.New("missing data envelope")

	ErrInvalidWindow   = fmt.Errorf("days back must be between 1 and %d", MaxDaysBack)
	ErrInvalidLimit    = errors.New("limit must be between 1 and 100")
	ErrStationNotFound = errors.New("station not found")
)

// FeedError is a failed fetch of one feed document: network, timeout, HTTP
// status, or malformed envelope.
type FeedError struct {
	Document   string
	URL        string
	StatusCode int
	Err        error
}

func (e *FeedError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("feed %s: status %d: %v", e.Document, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("feed %s: %v", e.Document, e.Err)
}

func (e *FeedError) Unwrap() error { return e.Err }

// ParseError is one malformed feed record. It is skipped, never fatal.
type ParseError struct {
	Document string
	RecordID string
	Err      error
}

func (e *ParseError) Error() string {
	id := e.RecordID
	if id == "" {
		id = "unknown"
	}
	return fmt.Sprintf("parse %s record %s: %v", e.Document, id, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// PersistenceError is a failed store operation.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// AggregationError is one station's failed grouping or upsert.
type AggregationError struct {
	StationID int64
	Kind      string // "reliability" or "hourly_average"
	Err       error
}

func (e *AggregationError) Error() string {
	return fmt.Sprintf("%s for station %d: %v", e.Kind, e.StationID, e.Err)
}

func (e *AggregationError) Unwrap() error { return e.Err }

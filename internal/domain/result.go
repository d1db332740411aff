package domain

import "errors"

// SyncStatus is the persisted outcome of a run.
type SyncStatus string

const (
	StatusSuccess SyncStatus = "success"
	StatusPartial SyncStatus = "partial"
	StatusFailed  SyncStatus = "failed"
)

// Counts are the item tallies of a run. Each operation fills the fields it
// owns and leaves the rest zero.
type Counts struct {
	Processed         int `json:"processed"`
	Created           int `json:"created,omitempty"`
	Updated           int `json:"updated,omitempty"`
	Unchanged         int `json:"unchanged,omitempty"`
	Skipped           int `json:"skipped,omitempty"`
	SnapshotsCreated  int `json:"snapshots_created,omitempty"`
	StationsProcessed int `json:"stations_processed,omitempty"`
	ScoresCalculated  int `json:"scores_calculated,omitempty"`
}

// Result is the outcome of a pipeline run: Success, Partial or Failed.
type Result interface {
	Status() SyncStatus
	Tally() Counts
	isResult()
}

// Success is a run with no errors.
type Success struct {
	Counts Counts
}

// Partial is a run that produced something but also collected errors.
type Partial struct {
	Counts Counts
	Errors []error
}

// Failed is a run that produced nothing useful.
type Failed struct {
	Counts Counts
	Reason error
}

func (Success) Status() SyncStatus { return StatusSuccess }
func (Partial) Status() SyncStatus { return StatusPartial }
func (Failed) Status() SyncStatus  { return StatusFailed }

func (r Success) Tally() Counts { return r.Counts }
func (r Partial) Tally() Counts { return r.Counts }
func (r Failed) Tally() Counts  { return r.Counts }

func (Success) isResult() {}
func (Partial) isResult() {}
func (Failed) isResult()  {}

// NewResult derives the run outcome: no errors is a success, errors alongside
// at least one successful item is partial, errors with no successes is failed.
func NewResult(counts Counts, successes int, errs []error) Result {
	switch {
	case len(errs) == 0:
		return Success{Counts: counts}
	case successes > 0:
		return Partial{Counts: counts, Errors: errs}
	default:
		reason := errs[0]
		if len(errs) > 1 {
			reason = errors.Join(errs...)
		}
		return Failed{Counts: counts, Reason: reason}
	}
}

// ErrorMessages flattens the errors carried by r. Success carries none.
func ErrorMessages(r Result) []string {
	switch v := r.(type) {
	case Partial:
		out := make([]string, len(v.Errors))
		for i, err := range v.Errors {
			out[i] = err.Error()
		}
		return out
	case Failed:
		if v.Reason == nil {
			return nil
		}
		if joined, ok := v.Reason.(interface{ Unwrap() []error }); ok {
			return ErrorMessages(Partial{Errors: joined.Unwrap()})
		}
		return []string{v.Reason.Error()}
	default:
		return nil
	}
}

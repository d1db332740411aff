package app

import (
	"context"
	"fmt"
	"io"
	"math"

	"github.com/spf13/cobra"

	"github.com/empi91/Bike-Sharing-Analytics/internal/domain"
)

// integrityStore is the read side of the store the checks need.
type integrityStore interface {
	ListStations(ctx context.Context, activeOnly bool) ([]domain.Station, error)
	AllSamples(ctx context.Context, stationID int64) ([]domain.Sample, error)
	HourlyAverages(ctx context.Context, stationID int64) ([]domain.HourlyAverage, error)
	ReliabilityScores(ctx context.Context, stationID int64) ([]domain.ReliabilityScore, error)
}

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check stored data against the aggregation rules",
		Long: `Run integrity checks over the store: station records satisfy their constraints,
stored hourly averages match a recomputation from the snapshots, and reliability
scores respect the sample threshold and value ranges.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := loadDeps(cmd.Context())
			if err != nil {
				return err
			}
			defer d.close()

			ok, err := runValidation(cmd.Context(), d.store, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("validation failed")
			}
			return nil
		},
	}
}

func runValidation(ctx context.Context, store integrityStore, w io.Writer) (bool, error) {
	stations, err := store.ListStations(ctx, false)
	if err != nil {
		return false, fmt.Errorf("list stations: %w", err)
	}

	phases := []*phase{validateStations(stations)}
	averages, scores := &phase{name: "Hourly averages match snapshots"}, &phase{name: "Reliability score ranges"}
	for _, st := range stations {
		if !st.IsActive {
			continue
		}
		if err := validateAverages(ctx, store, st.ID, averages); err != nil {
			return false, err
		}
		if err := validateScores(ctx, store, st.ID, scores); err != nil {
			return false, err
		}
	}
	phases = append(phases, averages, scores)

	allPassed := true
	for _, p := range phases {
		status := "PASS"
		if !p.passed() {
			status = fmt.Sprintf("FAIL (%d errors)", len(p.errors))
			allPassed = false
		}
		fmt.Fprintf(w, "  %-36s %s\n", p.name, status)
	}
	fmt.Fprintf(w, "\nStations: %d\n", len(stations))

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Fprintf(w, "\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			if i == 20 {
				fmt.Fprintf(w, "  ... and %d more\n", len(p.errors)-i)
				break
			}
			fmt.Fprintf(w, "  %s\n", e)
		}
	}
	return allPassed, nil
}

func validateStations(stations []domain.Station) *phase {
	p := &phase{name: "Station directory constraints"}
	seen := make(map[string]int64, len(stations))
	for _, st := range stations {
		rec := domain.StationRecord{
			ExternalID: st.ExternalID,
			Name:       st.Name,
			Latitude:   st.Latitude,
			Longitude:  st.Longitude,
			TotalDocks: st.TotalDocks,
		}
		if err := rec.Validate(); err != nil {
			p.errorf("station %d (%s): %v", st.ID, st.ExternalID, err)
		}
		if prev, dup := seen[st.ExternalID]; dup {
			p.errorf("external id %s used by stations %d and %d", st.ExternalID, prev, st.ID)
		}
		seen[st.ExternalID] = st.ID
	}
	return p
}

func validateAverages(ctx context.Context, store integrityStore, stationID int64, p *phase) error {
	samples, err := store.AllSamples(ctx, stationID)
	if err != nil {
		return fmt.Errorf("samples of station %d: %w", stationID, err)
	}
	stored, err := store.HourlyAverages(ctx, stationID)
	if err != nil {
		return fmt.Errorf("hourly averages of station %d: %w", stationID, err)
	}

	want := make(map[domain.GroupKey]domain.GroupStats)
	for _, g := range domain.Summarize(samples) {
		want[g.GroupKey] = g
	}
	for _, a := range stored {
		key := domain.GroupKey{Hour: a.Hour, DayType: a.DayType}
		g, ok := want[key]
		if !ok {
			p.errorf("station %d %02d:00 %s: stored average has no qualifying snapshot group", stationID, a.Hour, a.DayType)
			continue
		}
		delete(want, key)
		// A stale row is expected between recomputes; only a row that claims the
		// current snapshot count must agree with it.
		if a.TotalSnapshots == g.SampleSize && math.Abs(a.AvgBikes-g.AvgBikes) > 0.005 {
			p.errorf("station %d %02d:00 %s: stored avg %.2f, snapshots give %.2f", stationID, a.Hour, a.DayType, a.AvgBikes, g.AvgBikes)
		}
		if a.TotalSnapshots > g.SampleSize {
			p.errorf("station %d %02d:00 %s: stored %d snapshots, only %d exist", stationID, a.Hour, a.DayType, a.TotalSnapshots, g.SampleSize)
		}
	}
	return nil
}

func validateScores(ctx context.Context, store integrityStore, stationID int64, p *phase) error {
	scores, err := store.ReliabilityScores(ctx, stationID)
	if err != nil {
		return fmt.Errorf("reliability scores of station %d: %w", stationID, err)
	}
	for _, s := range scores {
		if s.Percentage < 0 || s.Percentage > 100 {
			p.errorf("station %d %02d:00 %s: reliability %.2f out of range", stationID, s.Hour, s.DayType, s.Percentage)
		}
		if s.SampleSize < domain.MinSampleSize {
			p.errorf("station %d %02d:00 %s: sample size %d below %d", stationID, s.Hour, s.DayType, s.SampleSize, domain.MinSampleSize)
		}
		if !s.PeriodStart.Before(s.PeriodEnd) {
			p.errorf("station %d %02d:00 %s: empty period %s..%s", stationID, s.Hour, s.DayType, s.PeriodStart, s.PeriodEnd)
		}
	}
	return nil
}

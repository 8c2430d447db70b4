// Command validate re-scores fixture inputs and checks the invariants every
// exposure table must satisfy: one record per place in input order, the
// zero-record shape, identical output across index and worker settings, and
// optionally an exact match against a stored expected table.
//
// Usage:
//
//	go run ./cmd/validate \
//	  -events data/mock/events_sample.json \
//	  -places data/mock/places_sample.json
//
// Pass -expected <file> to also diff against a stored table; generate one
// first with -write-expected -expected <file>.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"slices"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/couchcryptid/quake-exposure/internal/domain"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

// variant is one engine setting the baseline is compared against.
type variant struct {
	name    string
	cellDeg float64 // 0 selects the linear scan
	workers int
}

var variants = []variant{
	{name: "linear, 8 workers", workers: 8},
	{name: "grid 1°, 1 worker", cellDeg: 1, workers: 1},
	{name: "grid 5°, 4 workers", cellDeg: 5, workers: 4},
	{name: "grid 45°, 16 workers", cellDeg: 45, workers: 16},
	{name: "grid 180°, 2 workers", cellDeg: 180, workers: 2},
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

func run(args []string, out io.Writer) int {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	fs.SetOutput(out)
	eventsPath := fs.String("events", "", "path to a JSON array of events")
	placesPath := fs.String("places", "", "path to a JSON array of places")
	expectedPath := fs.String("expected", "", "path to the expected record array (optional)")
	writeExpected := fs.Bool("write-expected", false, "write the baseline records to -expected instead of comparing")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *eventsPath == "" || *placesPath == "" || (*writeExpected && *expectedPath == "") {
		fs.Usage()
		return 2
	}

	fmt.Fprintln(out, "=== Exposure Table Validation ===")
	fmt.Fprintln(out)

	events, places, err := loadInputs(*eventsPath, *placesPath)
	if err != nil {
		fmt.Fprintf(out, "FATAL: load inputs: %v\n", err)
		return 1
	}

	cfg := domain.DefaultScoringConfig()
	baseline, err := scoreWith(cfg, variant{workers: 1}, events, places)
	if err != nil {
		fmt.Fprintf(out, "FATAL: score baseline: %v\n", err)
		return 1
	}

	if *writeExpected {
		if err := writeJSON(*expectedPath, baseline); err != nil {
			fmt.Fprintf(out, "FATAL: write expected: %v\n", err)
			return 1
		}
		fmt.Fprintf(out, "Wrote %d records to %s\n", len(baseline), *expectedPath)
		return 0
	}

	phases := []*phase{
		validateParity(baseline, places),
		validateRecordShape(baseline, cfg),
		validateDeterminism(baseline, cfg, events, places),
		validateMonotonicity(baseline, cfg, events, places),
	}
	if *expectedPath != "" {
		phases = append(phases, validateExpected(baseline, *expectedPath))
	}

	// ── Report results ──
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Fprintf(out, "  %-42s %s\n", p.name, status)
	}

	exposed := 0
	for _, r := range baseline {
		if r.MaxPGA > 0 {
			exposed++
		}
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Inputs: %d events, %d places; %d places exposed\n", len(events), len(places), exposed)

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Fprintf(out, "\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Fprintf(out, "  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Fprintln(out, "\nAll validations passed.")
		return 0
	}
	fmt.Fprintln(out, "\nValidation FAILED.")
	return 1
}

// ── Data loading ──

func loadInputs(eventsPath, placesPath string) ([]domain.Event, []domain.Place, error) {
	eventsJSON, err := os.ReadFile(eventsPath)
	if err != nil {
		return nil, nil, err
	}
	placesJSON, err := os.ReadFile(placesPath)
	if err != nil {
		return nil, nil, err
	}
	events, err := domain.DecodeEvents(eventsJSON)
	if err != nil {
		return nil, nil, err
	}
	places, err := domain.DecodePlaces(placesJSON)
	if err != nil {
		return nil, nil, err
	}
	return events, places, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o600)
}

func scoreWith(cfg domain.ScoringConfig, v variant, events []domain.Event, places []domain.Place) ([]domain.ExposureRecord, error) {
	var builder domain.IndexBuilder
	if v.cellDeg > 0 {
		var err error
		if builder, err = domain.NewGridIndexBuilder(v.cellDeg); err != nil {
			return nil, err
		}
	}
	engine, err := domain.NewEngine(cfg, builder, v.workers, slog.New(slog.DiscardHandler))
	if err != nil {
		return nil, err
	}
	return engine.Score(events, places)
}

// ── Phase 1: Count and order parity ──

func validateParity(records []domain.ExposureRecord, places []domain.Place) *phase {
	p := &phase{name: "Phase 1: Count/Order Parity"}
	if len(records) != len(places) {
		p.errorf("got %d records for %d places", len(records), len(places))
		return p
	}
	for i := range records {
		if records[i].PlaceID != places[i].ID {
			p.errorf("record %d: place_id %q, want %q", i, records[i].PlaceID, places[i].ID)
		}
	}
	return p
}

// ── Phase 2: Record shape ──
// Zero-exposure records carry no event fields; exposed records carry all of them.

func validateRecordShape(records []domain.ExposureRecord, cfg domain.ScoringConfig) *phase {
	p := &phase{name: "Phase 2: Record Shape"}
	for i := range records {
		r := &records[i]
		if math.IsNaN(r.MaxPGA) || math.IsInf(r.MaxPGA, 0) || r.MaxPGA < 0 {
			p.errorf("record %d (%s): max_pga %v is not a finite non-negative number", i, r.PlaceID, r.MaxPGA)
			continue
		}
		if r.NumEventsInRange == 0 {
			if r.MaxPGA != 0 || r.MaxMagnitude != nil || r.ClosestEventDistanceKm != nil {
				p.errorf("record %d (%s): no events in range but fields are set", i, r.PlaceID)
			}
			continue
		}
		if r.MaxPGA <= 0 {
			p.errorf("record %d (%s): %d events in range but max_pga is 0", i, r.PlaceID, r.NumEventsInRange)
		}
		if r.MaxMagnitude == nil || *r.MaxMagnitude < cfg.MinMagnitudeConsidered {
			p.errorf("record %d (%s): max_magnitude missing or below %v", i, r.PlaceID, cfg.MinMagnitudeConsidered)
		}
		if r.ClosestEventDistanceKm == nil || *r.ClosestEventDistanceKm < 0 || *r.ClosestEventDistanceKm > cfg.InfluenceRadiusKm {
			p.errorf("record %d (%s): closest_event_distance_km missing or outside [0, %v]", i, r.PlaceID, cfg.InfluenceRadiusKm)
		}
	}
	return p
}

// ── Phase 3: Determinism ──
// Every index and worker setting, and any event order, yields identical records.

func validateDeterminism(baseline []domain.ExposureRecord, cfg domain.ScoringConfig, events []domain.Event, places []domain.Place) *phase {
	p := &phase{name: "Phase 3: Determinism"}
	for _, v := range variants {
		got, err := scoreWith(cfg, v, events, places)
		if err != nil {
			p.errorf("%s: %v", v.name, err)
			continue
		}
		if diff := cmp.Diff(baseline, got); diff != "" {
			p.errorf("%s differs from the sequential linear scan (-want +got):\n%s", v.name, diff)
		}
	}

	reversed := slices.Clone(events)
	slices.Reverse(reversed)
	got, err := scoreWith(cfg, variant{workers: 1}, reversed, places)
	if err != nil {
		p.errorf("reversed events: %v", err)
	} else if diff := cmp.Diff(baseline, got); diff != "" {
		p.errorf("reversed event order changes the table (-want +got):\n%s", diff)
	}
	return p
}

// ── Phase 4: Monotonicity ──
// Removing an event never raises any place's max PGA or in-range count.

func validateMonotonicity(baseline []domain.ExposureRecord, cfg domain.ScoringConfig, events []domain.Event, places []domain.Place) *phase {
	p := &phase{name: "Phase 4: Monotonicity"}
	for drop := range events {
		fewer := slices.Delete(slices.Clone(events), drop, drop+1)
		got, err := scoreWith(cfg, variant{workers: 1}, fewer, places)
		if err != nil {
			p.errorf("without event %s: %v", events[drop].ID, err)
			continue
		}
		for i := range got {
			if got[i].MaxPGA > baseline[i].MaxPGA || got[i].NumEventsInRange > baseline[i].NumEventsInRange {
				p.errorf("without event %s: place %s rose to pga=%v events=%d", events[drop].ID, got[i].PlaceID, got[i].MaxPGA, got[i].NumEventsInRange)
			}
		}
	}
	return p
}

// ── Phase 5: Expected table ──

func validateExpected(baseline []domain.ExposureRecord, path string) *phase {
	p := &phase{name: "Phase 5: Expected Table"}
	data, err := os.ReadFile(path)
	if err != nil {
		p.errorf("read expected: %v", err)
		return p
	}
	var want []domain.ExposureRecord
	if err := json.Unmarshal(data, &want); err != nil {
		p.errorf("decode expected: %v", err)
		return p
	}
	if diff := cmp.Diff(want, baseline, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		p.errorf("scored table differs from %s (-want +got):\n%s", path, diff)
	}
	return p
}

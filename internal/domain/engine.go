package domain

import (
	"fmt"
	"log/slog"
	"math"

	"golang.org/x/sync/errgroup"
)

// placesPerTask bounds how many places one worker task scores before yielding.
const placesPerTask = 64

// Engine scores places against events. It holds no per-run state, so one
// Engine may serve concurrent Score calls.
type Engine struct {
	cfg     ScoringConfig
	index   IndexBuilder
	workers int
	logger  *slog.Logger
}

// Report is the outcome of one scoring run.
type Report struct {
	Records  []ExposureRecord
	Warnings []error // each wraps ErrDuplicatePlaceID
}

// NewEngine validates cfg and creates an Engine. A nil index scans every event
// for every place; workers below 1 score sequentially.
func NewEngine(cfg ScoringConfig, index IndexBuilder, workers int, logger *slog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("scoring config: %w", err)
	}
	if index == nil {
		index = NewLinearIndex
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Engine{
		cfg:     cfg,
		index:   index,
		workers: max(workers, 1),
		logger:  logger,
	}, nil
}

// Score scores places against events with cfg, sequentially and with a linear
// scan.
func Score(events []Event, places []Place, cfg ScoringConfig) ([]ExposureRecord, error) {
	e, err := NewEngine(cfg, nil, 1, nil)
	if err != nil {
		return nil, err
	}
	return e.Score(events, places)
}

// Config returns the scoring configuration the engine was built with.
func (e *Engine) Config() ScoringConfig {
	return e.cfg
}

// ModelVersion returns the attenuation model version stamped on outputs.
func (e *Engine) ModelVersion() string {
	return e.cfg.Attenuation.Version
}

// Score computes one ExposureRecord per place, in place order. Any invalid
// event or place fails the whole batch and no records are returned.
func (e *Engine) Score(events []Event, places []Place) ([]ExposureRecord, error) {
	rep, err := e.ScoreReport(events, places)
	if err != nil {
		return nil, err
	}
	return rep.Records, nil
}

// ScoreJSON decodes event and place rows and scores them.
func (e *Engine) ScoreJSON(eventsJSON, placesJSON []byte) ([]ExposureRecord, error) {
	events, err := DecodeEvents(eventsJSON)
	if err != nil {
		return nil, err
	}
	places, err := DecodePlaces(placesJSON)
	if err != nil {
		return nil, err
	}
	return e.Score(events, places)
}

// ScoreReport is Score plus the non-fatal warnings raised for the batch.
func (e *Engine) ScoreReport(events []Event, places []Place) (Report, error) {
	for i := range events {
		if err := validateEvent(i, events[i]); err != nil {
			return Report{}, err
		}
	}
	for i := range places {
		if err := validatePlace(i, places[i]); err != nil {
			return Report{}, err
		}
	}

	warnings := duplicatePlaceIDs(places)
	for _, w := range warnings {
		e.logger.Warn("duplicate place identifier, scoring independently", "error", w)
	}

	idx := e.index(events)
	records := make([]ExposureRecord, len(places))

	// Each task stops at its first failure; tasks are checked in order so the
	// reported error is always the lowest-index one.
	tasks := (len(places) + placesPerTask - 1) / placesPerTask
	taskErrs := make([]error, tasks)

	var g errgroup.Group
	g.SetLimit(e.workers)
	for t := range tasks {
		lo := t * placesPerTask
		hi := min(lo+placesPerTask, len(places))
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				rec, err := Aggregate(places[i], events, idx, e.cfg)
				if err != nil {
					taskErrs[t] = &RecordError{Err: err, Kind: KindPlace, Index: i, ID: places[i].ID}
					return nil
				}
				records[i] = rec
			}
			return nil
		})
	}
	g.Wait() //nolint:errcheck // tasks report through taskErrs

	for _, err := range taskErrs {
		if err != nil {
			return Report{}, err
		}
	}

	e.logger.Debug("scoring complete",
		"events", len(events),
		"places", len(places),
		"model_version", e.ModelVersion(),
	)
	return Report{Records: records, Warnings: warnings}, nil
}

func validateEvent(i int, ev Event) error {
	fail := func(err error, field string, value any) error {
		return &RecordError{Err: err, Kind: KindEvent, Index: i, ID: ev.ID, Field: field, Value: value}
	}
	switch {
	case ev.ID == "":
		return fail(ErrSchema, "id", nil)
	case ev.Time.IsZero():
		return fail(ErrSchema, "time", nil)
	case math.IsNaN(ev.Latitude) || ev.Latitude < -90 || ev.Latitude > 90:
		return fail(ErrInvalidCoordinate, "latitude", ev.Latitude)
	case math.IsNaN(ev.Longitude) || ev.Longitude < -180 || ev.Longitude > 180:
		return fail(ErrInvalidCoordinate, "longitude", ev.Longitude)
	case !finite(ev.Magnitude):
		return fail(ErrInvalidMagnitude, "magnitude", ev.Magnitude)
	case ev.DepthKm != nil && (!finite(*ev.DepthKm) || *ev.DepthKm < 0):
		return fail(ErrSchema, "depth_km", *ev.DepthKm)
	}
	return nil
}

func validatePlace(i int, p Place) error {
	fail := func(err error, field string, value any) error {
		return &RecordError{Err: err, Kind: KindPlace, Index: i, ID: p.ID, Field: field, Value: value}
	}
	switch {
	case p.ID == "":
		return fail(ErrSchema, "id", nil)
	case math.IsNaN(p.Latitude) || p.Latitude < -90 || p.Latitude > 90:
		return fail(ErrInvalidCoordinate, "latitude", p.Latitude)
	case math.IsNaN(p.Longitude) || p.Longitude < -180 || p.Longitude > 180:
		return fail(ErrInvalidCoordinate, "longitude", p.Longitude)
	case !finite(p.Population) || p.Population < 0:
		return fail(ErrSchema, "population", p.Population)
	}
	return nil
}

func duplicatePlaceIDs(places []Place) []error {
	first := make(map[string]int, len(places))
	var warnings []error
	for i, p := range places {
		if j, seen := first[p.ID]; seen {
			warnings = append(warnings, &RecordError{
				Err:   ErrDuplicatePlaceID,
				Kind:  KindPlace,
				Index: i,
				ID:    p.ID,
				Field: "id",
				Value: fmt.Sprintf("first seen at index %d", j),
			})
			continue
		}
		first[p.ID] = i
	}
	return warnings
}

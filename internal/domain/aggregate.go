package domain

import (
	"fmt"
	"math"
)

// pgaTieEpsilon is the tolerance under which two PGA values count as equal.
const pgaTieEpsilon = 1e-9

// contribution is one qualifying event's effect on a place.
type contribution struct {
	index       int
	event       *Event
	effectiveKm float64
	pga         float64
}

// outranks reports whether a should drive max_pga ahead of b. PGA values within
// pgaTieEpsilon are tied and resolved by larger magnitude, then smaller
// effective distance, then earlier time, then event ID, then input position.
func (a contribution) outranks(b contribution) bool {
	switch {
	case a.pga > b.pga+pgaTieEpsilon:
		return true
	case a.pga < b.pga-pgaTieEpsilon:
		return false
	case a.event.Magnitude != b.event.Magnitude:
		return a.event.Magnitude > b.event.Magnitude
	case a.effectiveKm != b.effectiveKm:
		return a.effectiveKm < b.effectiveKm
	case !a.event.Time.Equal(b.event.Time):
		return a.event.Time.Before(b.event.Time)
	case a.event.ID != b.event.ID:
		return a.event.ID < b.event.ID
	default:
		return a.index < b.index
	}
}

// Aggregate reduces events to the ExposureRecord of a single place. index
// supplies the candidate events; pass NewLinearIndex(events) to scan them all.
func Aggregate(place Place, events []Event, index EventIndex, cfg ScoringConfig) (ExposureRecord, error) {
	rec := ExposureRecord{PlaceID: place.ID}
	center := place.Point()

	var best contribution
	closest := math.Inf(1)

	for _, i := range index.Candidates(center, cfg.InfluenceRadiusKm) {
		ev := &events[i]

		surface, effective, ok, err := reach(ev, center, cfg)
		if err != nil {
			return ExposureRecord{}, fmt.Errorf("event %q to place %q: %w", ev.ID, place.ID, err)
		}
		if !ok {
			continue
		}

		pga, err := cfg.Attenuation.EstimatePGA(ev.Magnitude, surface, ev.DepthKm)
		if err != nil {
			return ExposureRecord{}, fmt.Errorf("event %q: %w", ev.ID, err)
		}

		c := contribution{index: i, event: ev, effectiveKm: effective, pga: pga}
		if rec.NumEventsInRange == 0 || c.outranks(best) {
			best = c
		}
		rec.NumEventsInRange++
		closest = math.Min(closest, surface)
	}

	if rec.NumEventsInRange == 0 {
		return rec, nil
	}

	magnitude := best.event.Magnitude
	rec.MaxPGA = best.pga
	rec.MaxMagnitude = &magnitude
	rec.ClosestEventDistanceKm = &closest
	return rec, nil
}

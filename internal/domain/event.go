package domain

import (
	"time"

	"github.com/paulmach/orb"
)

// Event is one seismic event as delivered by an event source.
type Event struct {
	ID               string    `json:"id"`
	Time             time.Time `json:"time"`
	Latitude         float64   `json:"latitude"`
	Longitude        float64   `json:"longitude"`
	Magnitude        float64   `json:"magnitude"`
	DepthKm          *float64  `json:"depth_km"` // nil when the source did not report a depth
	PlaceDescription string    `json:"place_description"`
}

// Point returns the epicenter as an orb point ([lon, lat]).
func (e Event) Point() orb.Point {
	return orb.Point{e.Longitude, e.Latitude}
}

// Place is one populated settlement under evaluation.
type Place struct {
	ID         string  `json:"id"`
	Name       string  `json:"name,omitempty"`
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	Population float64 `json:"population"` // display weighting only, never used for scoring
}

// Point returns the place location as an orb point ([lon, lat]).
func (p Place) Point() orb.Point {
	return orb.Point{p.Longitude, p.Latitude}
}

// ExposureRecord is the per-place output row of a scoring run.
type ExposureRecord struct {
	PlaceID                string   `json:"place_id"`
	MaxPGA                 float64  `json:"max_pga"`
	NumEventsInRange       int      `json:"num_events_in_range"`
	MaxMagnitude           *float64 `json:"max_magnitude"`
	ClosestEventDistanceKm *float64 `json:"closest_event_distance_km"`
}

// RiskTable is one complete scoring run, the unit handed to sinks.
type RiskTable struct {
	RunID        string           `json:"run_id"`
	ModelVersion string           `json:"model_version"`
	ScoredAt     time.Time        `json:"scored_at"`
	EventCount   int              `json:"event_count"`
	Records      []ExposureRecord `json:"records"`
	Warnings     []string         `json:"warnings,omitempty"`
}

// Exposed counts the records with a non-zero peak ground acceleration.
func (t RiskTable) Exposed() int {
	n := 0
	for i := range t.Records {
		if t.Records[i].MaxPGA > 0 {
			n++
		}
	}
	return n
}

// MaxPGA returns the largest peak ground acceleration in the table.
func (t RiskTable) MaxPGA() float64 {
	highest := 0.0
	for i := range t.Records {
		if t.Records[i].MaxPGA > highest {
			highest = t.Records[i].MaxPGA
		}
	}
	return highest
}

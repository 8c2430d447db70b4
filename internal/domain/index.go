package domain

import (
	"fmt"
	"math"
	"slices"

	"github.com/paulmach/orb"
)

// EventIndex narrows the events that may lie within a surface radius of a
// point. Implementations may return a superset of the true neighbours; the
// aggregator still applies the exact distance filter, so swapping indexes
// never changes scores. Candidates are returned in ascending slice order.
type EventIndex interface {
	Candidates(center orb.Point, radiusKm float64) []int
}

// IndexBuilder builds an EventIndex over a validated event slice.
type IndexBuilder func(events []Event) EventIndex

// LinearIndex returns every event for every query.
type LinearIndex struct {
	n int
}

// NewLinearIndex builds a LinearIndex. It satisfies IndexBuilder.
func NewLinearIndex(events []Event) EventIndex {
	return LinearIndex{n: len(events)}
}

func (l LinearIndex) Candidates(_ orb.Point, _ float64) []int {
	all := make([]int, l.n)
	for i := range all {
		all[i] = i
	}
	return all
}

// GridIndex buckets events into fixed-size latitude/longitude cells. The
// requested cell size is shrunk so that rows and columns tile the globe exactly.
type GridIndex struct {
	latStep float64
	lonStep float64
	rows    int
	cols    int
	cells   [][]int // row-major, rows*cols
	n       int
}

// NewGridIndexBuilder returns an IndexBuilder producing GridIndexes with cells
// of cellDeg degrees on each side.
func NewGridIndexBuilder(cellDeg float64) (IndexBuilder, error) {
	if !finite(cellDeg) || cellDeg <= 0 || cellDeg > 180 {
		return nil, fmt.Errorf("grid cell size must be in (0, 180] degrees, got %v", cellDeg)
	}
	return func(events []Event) EventIndex {
		return newGridIndex(events, cellDeg)
	}, nil
}

func newGridIndex(events []Event, cellDeg float64) *GridIndex {
	rows := int(math.Ceil(180 / cellDeg))
	cols := int(math.Ceil(360 / cellDeg))
	g := &GridIndex{
		latStep: 180 / float64(rows),
		lonStep: 360 / float64(cols),
		rows:    rows,
		cols:    cols,
		n:       len(events),
	}
	g.cells = make([][]int, g.rows*g.cols)
	for i := range events {
		r, c := g.row(events[i].Latitude), g.col(events[i].Longitude)
		g.cells[r*g.cols+c] = append(g.cells[r*g.cols+c], i)
	}
	return g
}

// Candidates returns the events in every cell touched by the bounding box of
// the spherical cap of radiusKm around center, plus a one-cell margin.
func (g *GridIndex) Candidates(center orb.Point, radiusKm float64) []int {
	ang := radiusKm / EarthRadiusKm
	if math.IsInf(radiusKm, 1) || ang >= math.Pi {
		return g.all()
	}

	lat, lon := center.Lat(), center.Lon()
	dLat := rad2deg(ang)
	latMin, latMax := lat-dLat, lat+dLat

	// A cap that reaches a pole spans every longitude.
	fullLon := latMin <= -90 || latMax >= 90
	dLon := 0.0
	if !fullLon {
		s := math.Sin(ang) / math.Cos(deg2rad(lat))
		if s >= 1 {
			fullLon = true
		} else {
			dLon = rad2deg(math.Asin(s))
		}
	}

	rowMin := max(g.row(math.Max(latMin, -90))-1, 0)
	rowMax := min(g.row(math.Min(latMax, 90))+1, g.rows-1)

	colMin := int(math.Floor((lon-dLon+180)/g.lonStep)) - 1
	colMax := int(math.Floor((lon+dLon+180)/g.lonStep)) + 1
	if fullLon || colMax-colMin+1 >= g.cols {
		colMin, colMax = 0, g.cols-1
	}

	var out []int
	for r := rowMin; r <= rowMax; r++ {
		for c := colMin; c <= colMax; c++ {
			wrapped := ((c % g.cols) + g.cols) % g.cols
			out = append(out, g.cells[r*g.cols+wrapped]...)
		}
	}
	slices.Sort(out)
	return out
}

func (g *GridIndex) all() []int {
	return LinearIndex{n: g.n}.Candidates(orb.Point{}, 0)
}

func (g *GridIndex) row(lat float64) int {
	return clampCell(int(math.Floor((lat+90)/g.latStep)), g.rows)
}

func (g *GridIndex) col(lon float64) int {
	return clampCell(int(math.Floor((lon+180)/g.lonStep)), g.cols)
}

func clampCell(i, n int) int {
	return min(max(i, 0), n-1)
}

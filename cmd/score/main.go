// Command score scores places against events offline, reading both from JSON
// files and writing one exposure record per place.
//
// Usage:
//
//	go run ./cmd/score \
//	  -events data/mock/events_sample.json \
//	  -places data/mock/places_sample.json \
//	  -out exposure.json -stats
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/couchcryptid/quake-exposure/internal/config"
	"github.com/couchcryptid/quake-exposure/internal/domain"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(os.Stderr, "score: %v\n", err)
		}
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("score", flag.ContinueOnError)
	fs.SetOutput(stderr)
	eventsPath := fs.String("events", "", "path to a JSON array of events")
	placesPath := fs.String("places", "", "path to a JSON array of places")
	outPath := fs.String("out", "", "output path for the record array (default stdout)")
	index := fs.String("index", config.IndexGrid, "spatial index: grid or linear")
	cell := fs.Float64("cell", 5, "grid cell size in degrees")
	workers := fs.Int("workers", 4, "scoring workers")
	radius := fs.Float64("radius", domain.DefaultInfluenceRadiusKm, "influence radius in km (inf for unbounded)")
	minMag := fs.Float64("min-magnitude", domain.DefaultMinMagnitudeConsidered, "smallest magnitude considered")
	stats := fs.Bool("stats", false, "print a risk band summary to stderr")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *eventsPath == "" || *placesPath == "" {
		fs.Usage()
		return errors.New("missing required flags: -events, -places")
	}

	cfg := domain.DefaultScoringConfig()
	cfg.InfluenceRadiusKm = *radius
	cfg.MinMagnitudeConsidered = *minMag

	var builder domain.IndexBuilder
	switch *index {
	case config.IndexGrid:
		var err error
		if builder, err = domain.NewGridIndexBuilder(*cell); err != nil {
			return err
		}
	case config.IndexLinear:
	default:
		return fmt.Errorf("unknown index %q", *index)
	}

	logger := slog.New(slog.NewTextHandler(stderr, nil))
	engine, err := domain.NewEngine(cfg, builder, *workers, logger)
	if err != nil {
		return err
	}

	eventsJSON, err := os.ReadFile(*eventsPath)
	if err != nil {
		return err
	}
	placesJSON, err := os.ReadFile(*placesPath)
	if err != nil {
		return err
	}
	records, err := engine.ScoreJSON(eventsJSON, placesJSON)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if *outPath == "" {
		if _, err := stdout.Write(data); err != nil {
			return err
		}
	} else if err := writeFile(*outPath, data); err != nil {
		return err
	}

	if *stats {
		printStats(stderr, engine.ModelVersion(), records)
	}
	return nil
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// printStats summarizes the records by risk band and lists the most exposed
// places.
func printStats(w io.Writer, modelVersion string, records []domain.ExposureRecord) {
	bands := map[string]int{}
	exposed := make([]domain.ExposureRecord, 0, len(records))
	for _, r := range records {
		if r.MaxPGA > 0 {
			exposed = append(exposed, r)
			bands[domain.RiskBand(r.MaxPGA)]++
		}
	}
	sort.SliceStable(exposed, func(i, j int) bool { return exposed[i].MaxPGA > exposed[j].MaxPGA })

	fmt.Fprintf(w, "\n=== Exposure summary (%s) ===\n", modelVersion)
	fmt.Fprintf(w, "Places: %d, exposed: %d\n", len(records), len(exposed))
	fmt.Fprintf(w, "By band: low=%d, elevated=%d, high=%d\n",
		bands[domain.RiskLow], bands[domain.RiskElevated], bands[domain.RiskHigh])
	for i, r := range exposed[:min(10, len(exposed))] {
		closest := math.NaN()
		if r.ClosestEventDistanceKm != nil {
			closest = *r.ClosestEventDistanceKm
		}
		fmt.Fprintf(w, "  %2d. %-24s pga=%.4fg events=%d closest=%.1fkm\n",
			i+1, r.PlaceID, r.MaxPGA, r.NumEventsInRange, closest)
	}
}

package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/quake-exposure/internal/domain"
)

const (
	eventsFixture = "../../data/mock/events_sample.json"
	placesFixture = "../../data/mock/places_sample.json"
)

func scoreFixtures(t *testing.T, extra ...string) []domain.ExposureRecord {
	t.Helper()
	var stdout, stderr bytes.Buffer
	args := append([]string{"-events", eventsFixture, "-places", placesFixture}, extra...)
	require.NoError(t, run(args, &stdout, &stderr), stderr.String())

	var records []domain.ExposureRecord
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &records))
	return records
}

func TestRun_ScoresFixtures(t *testing.T) {
	records := scoreFixtures(t)
	require.Len(t, records, 17)
	assert.Equal(t, "geonames:1850147", records[0].PlaceID)

	byID := map[string]domain.ExposureRecord{}
	for _, r := range records {
		byID[r.PlaceID] = r
	}
	assert.Positive(t, byID["geonames:1860243"].MaxPGA, "Kanazawa is near the Noto events")
	assert.Equal(t, domain.ExposureRecord{PlaceID: "geonames:2643743"}, byID["geonames:2643743"], "London is out of range")
	assert.Equal(t, domain.ExposureRecord{PlaceID: "geonames:2031901"}, byID["geonames:2031901"], "Ulaanbaatar is out of range")
}

func TestRun_IndexAndWorkersAgree(t *testing.T) {
	want := scoreFixtures(t, "-index", "linear", "-workers", "1")
	for _, args := range [][]string{
		{"-index", "grid", "-cell", "2"},
		{"-index", "grid", "-cell", "45", "-workers", "8"},
		{"-index", "linear", "-workers", "3"},
	} {
		if diff := cmp.Diff(want, scoreFixtures(t, args...)); diff != "" {
			t.Errorf("%v mismatch (-want +got):\n%s", args, diff)
		}
	}
}

func TestRun_WritesOutFileAndStats(t *testing.T) {
	out := filepath.Join(t.TempDir(), "nested", "exposure.json")
	var stdout, stderr bytes.Buffer
	require.NoError(t, run([]string{"-events", eventsFixture, "-places", placesFixture, "-out", out, "-stats"}, &stdout, &stderr))

	assert.Empty(t, stdout.String())
	assert.Contains(t, stderr.String(), "Places: 17")
	assert.Contains(t, stderr.String(), domain.DefaultModelVersion)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	var records []domain.ExposureRecord
	require.NoError(t, json.Unmarshal(data, &records))
	assert.Len(t, records, 17)
}

func TestRun_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "missing flags", args: nil, want: "missing required flags"},
		{name: "bad index", args: []string{"-events", eventsFixture, "-places", placesFixture, "-index", "kd"}, want: "unknown index"},
		{name: "bad radius", args: []string{"-events", eventsFixture, "-places", placesFixture, "-radius", "-1"}, want: "influence radius"},
		{name: "missing file", args: []string{"-events", "nope.json", "-places", placesFixture}, want: "nope.json"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			err := run(tt.args, &stdout, &stderr)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRun_SchemaError(t *testing.T) {
	events := filepath.Join(t.TempDir(), "events.json")
	require.NoError(t, os.WriteFile(events, []byte(`[{"id":"x","time":"2024-01-01T00:00:00Z","latitude":1,"longitude":2}]`), 0o600))

	var stdout, stderr bytes.Buffer
	err := run([]string{"-events", events, "-places", placesFixture}, &stdout, &stderr)
	require.ErrorIs(t, err, domain.ErrSchema)
	assert.Empty(t, stdout.String())
}

package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// EventRecord is the wire form of one event row. Pointer fields distinguish a
// missing value from a zero value.
type EventRecord struct {
	ID               string          `json:"id"`
	Time             json.RawMessage `json:"time"` // RFC 3339 string or epoch milliseconds
	Latitude         *float64        `json:"latitude"`
	Longitude        *float64        `json:"longitude"`
	Magnitude        *float64        `json:"magnitude"`
	DepthKm          *float64        `json:"depth_km"`
	PlaceDescription string          `json:"place_description"`
}

// PlaceRecord is the wire form of one place row. Rows that carry only a name
// use it as the identifier.
type PlaceRecord struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Latitude   *float64 `json:"latitude"`
	Longitude  *float64 `json:"longitude"`
	Population *float64 `json:"population"`
}

// isoLayouts are the accepted string time layouts; zone-less values are UTC.
var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// DecodeEvents decodes a JSON array of event rows. The first missing or
// mistyped field fails the whole batch with ErrSchema.
func DecodeEvents(data []byte) ([]Event, error) {
	rows, err := splitRows(data, KindEvent)
	if err != nil {
		return nil, err
	}
	events := make([]Event, 0, len(rows))
	for i, row := range rows {
		var rec EventRecord
		if err := json.Unmarshal(row, &rec); err != nil {
			return nil, rowDecodeError(KindEvent, i, peekID(row), err)
		}
		ev, err := ParseEventRecord(i, rec)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

// DecodePlaces decodes a JSON array of place rows.
func DecodePlaces(data []byte) ([]Place, error) {
	rows, err := splitRows(data, KindPlace)
	if err != nil {
		return nil, err
	}
	places := make([]Place, 0, len(rows))
	for i, row := range rows {
		var rec PlaceRecord
		if err := json.Unmarshal(row, &rec); err != nil {
			return nil, rowDecodeError(KindPlace, i, peekID(row), err)
		}
		p, err := ParsePlaceRecord(i, rec)
		if err != nil {
			return nil, err
		}
		places = append(places, p)
	}
	return places, nil
}

// ParseEventRecord checks that every required field is present and converts
// the row into an Event. index is the row position, used in errors.
func ParseEventRecord(index int, rec EventRecord) (Event, error) {
	missing := func(field string) error {
		return &RecordError{Err: ErrSchema, Kind: KindEvent, Index: index, ID: rec.ID, Field: field, Value: "missing"}
	}
	switch {
	case rec.ID == "":
		return Event{}, missing("id")
	case rec.Latitude == nil:
		return Event{}, missing("latitude")
	case rec.Longitude == nil:
		return Event{}, missing("longitude")
	case rec.Magnitude == nil:
		return Event{}, missing("magnitude")
	}

	t, err := parseEventTime(rec.Time)
	if err != nil {
		return Event{}, &RecordError{Err: ErrSchema, Kind: KindEvent, Index: index, ID: rec.ID, Field: "time", Value: err.Error()}
	}

	return Event{
		ID:               rec.ID,
		Time:             t,
		Latitude:         *rec.Latitude,
		Longitude:        *rec.Longitude,
		Magnitude:        *rec.Magnitude,
		DepthKm:          rec.DepthKm,
		PlaceDescription: rec.PlaceDescription,
	}, nil
}

// ParsePlaceRecord checks that every required field is present and converts
// the row into a Place.
func ParsePlaceRecord(index int, rec PlaceRecord) (Place, error) {
	id := rec.ID
	if id == "" {
		id = rec.Name
	}
	missing := func(field string) error {
		return &RecordError{Err: ErrSchema, Kind: KindPlace, Index: index, ID: id, Field: field, Value: "missing"}
	}
	switch {
	case id == "":
		return Place{}, missing("id")
	case rec.Latitude == nil:
		return Place{}, missing("latitude")
	case rec.Longitude == nil:
		return Place{}, missing("longitude")
	case rec.Population == nil:
		return Place{}, missing("population")
	}

	name := rec.Name
	if name == "" {
		name = id
	}
	return Place{
		ID:         id,
		Name:       name,
		Latitude:   *rec.Latitude,
		Longitude:  *rec.Longitude,
		Population: *rec.Population,
	}, nil
}

func splitRows(data []byte, kind string) ([]json.RawMessage, error) {
	var rows []json.RawMessage
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("%w: %s rows must be a JSON array: %v", ErrSchema, kind, err)
	}
	return rows, nil
}

func rowDecodeError(kind string, index int, id string, err error) error {
	rerr := &RecordError{Err: ErrSchema, Kind: kind, Index: index, ID: id, Value: err.Error()}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		rerr.Field = typeErr.Field
		rerr.Value = "expected " + typeErr.Type.String() + ", got " + typeErr.Value
	}
	return rerr
}

// peekID pulls a best-effort identifier out of a row that failed to decode.
func peekID(row json.RawMessage) string {
	var head struct {
		ID   any `json:"id"`
		Name any `json:"name"`
	}
	if json.Unmarshal(row, &head) != nil {
		return ""
	}
	for _, v := range []any{head.ID, head.Name} {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func parseEventTime(raw json.RawMessage) (time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}, errors.New("missing")
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, err
		}
		for _, layout := range isoLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
	}

	ms, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(string(raw), 64)
		if ferr != nil || !finite(f) {
			return time.Time{}, fmt.Errorf("expected ISO-8601 string or epoch milliseconds, got %s", raw)
		}
		ms = int64(f)
	}
	return time.UnixMilli(ms).UTC(), nil
}

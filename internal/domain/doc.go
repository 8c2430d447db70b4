// Package domain scores the seismic exposure of populated places.
//
// # Data Sources
//
// Events come from the USGS FDSN event service
// (https://earthquake.usgs.gov/fdsnws/event/1/), queried as GeoJSON for the
// last 30 days at magnitude 5.0 and above. Places come from the Natural Earth
// populated places dataset, filtered by population and country.
// Both arrive as row collections with a fixed schema (see [EventRecord] and
// [PlaceRecord]); the adapters convert source formats into these rows.
//
// # Conventions
//
// Coordinates:
//
//	WGS84 degrees. Latitude in [-90, 90], longitude in [-180, 180].
//	Points are orb.Point values, which store [lon, lat].
//
// Time:
//
//	Either an RFC 3339 / ISO-8601 string or epoch milliseconds (the USGS
//	"time" property). Values without a zone are read as UTC.
//
// Depth:
//
//	Kilometers below the surface. A null depth means unknown: the event still
//	scores, using surface distance instead of hypocentral distance.
//
// # Scoring
//
// For each place the engine:
//
//  1. computes the haversine surface distance to every candidate event
//     (mean earth radius 6371 km) and the effective distance
//     sqrt(surface² + depth²);
//  2. keeps events within the influence radius (default 1000 km) whose
//     magnitude is at or above the floor (default 5.0);
//  3. estimates PGA for each kept event with the attenuation relation
//     log10(PGA) = a*M - b*log10(R + c) - d (Esteva 1970 by default);
//  4. reports the winning event's PGA and magnitude, the count of kept
//     events and the smallest surface distance among them.
//
// The winner is the highest PGA. PGAs within 1e-9 g are tied and broken by
// larger magnitude, smaller effective distance, earlier time, smaller event ID
// and finally input position, so repeated runs give identical output.
//
// A place with no qualifying event gets max_pga 0, a count of 0 and null
// magnitude and distance.
//
// # Spatial Index
//
// Candidate events come from an [EventIndex]. [LinearIndex] hands every event
// to every place (O(places × events)); [GridIndex] buckets events into
// lat/lon cells and only visits cells overlapping the bounding box of the
// influence cap. Indexes may over-select but never under-select, so the
// choice does not change results.
//
// # Failure Policy
//
// Scoring is fail-closed. A missing or mistyped field, an out-of-domain
// coordinate or a non-finite magnitude on any row rejects the whole batch with
// a [RecordError] naming the row, field and value. A finite negative
// magnitude is valid input, since catalogs report microquakes below zero; such
// events pass validation and are then dropped by the magnitude floor like any
// other small event. Duplicate place IDs are
// only warnings: each row is scored on its own and output order matches input
// order, so positional joins stay valid.
package domain

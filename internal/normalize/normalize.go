// Package normalize resolves the heterogeneous column layouts of historical
// Argo profile files into the canonical argo_profiles schema.
//
// Resolution is data-driven: each canonical field carries an ordered list of
// accepted column names, tried in priority order against the batch. Mandatory
// fields fail the whole file when no alias matches; optional fields fall back
// to an all-null column.
package normalize

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"argoetl/pkg/tabular"
)

// Columns is the canonical output column order. The bulk loader relies on
// this positional layout.
var Columns = []string{
	"profile_date",
	"latitude",
	"longitude",
	"pressure",
	"temperature",
	"salinity",
	"float_id",
}

// Alias tables, highest priority first. Adjusted (delayed-mode) readings win
// over raw ones; legacy uppercase names follow the canonical lowercase form.
var (
	mandatoryFields = []string{"profile_date", "latitude", "longitude", "pressure"}
	optionalFields  = []string{"temperature", "salinity"}

	aliases = map[string][]string{
		"profile_date": {"profile_date", "JULD", "juld"},
		"latitude":     {"latitude", "LATITUDE"},
		"longitude":    {"longitude", "LONGITUDE"},
		"pressure":     {"pres_adjusted", "PRES_ADJUSTED", "PRES"},
		"temperature":  {"temp_adjusted", "TEMP_ADJUSTED", "TEMP"},
		"salinity":     {"psal_adjusted", "PSAL_ADJUSTED", "PSAL"},
	}
)

// SchemaError reports a mandatory field none of whose aliases appear in the
// batch. It fails the whole file; no partial rows are emitted.
type SchemaError struct {
	Field      string
	Candidates []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("normalize: no column for %s (tried %s)",
		e.Field, strings.Join(e.Candidates, ", "))
}

// Row is one cleaned measurement in canonical form. Temperature and salinity
// are nil when the sensor reading is missing.
type Row struct {
	ProfileDate time.Time
	Latitude    float64
	Longitude   float64
	Pressure    float64
	Temperature *float64
	Salinity    *float64
	FloatID     int64
}

// Values returns the row in Columns order for the bulk loader.
func (r Row) Values() []any {
	vals := []any{r.ProfileDate, r.Latitude, r.Longitude, r.Pressure, nil, nil, r.FloatID}
	if r.Temperature != nil {
		vals[4] = *r.Temperature
	}
	if r.Salinity != nil {
		vals[5] = *r.Salinity
	}
	return vals
}

// Rows normalizes a raw batch for the given float. Rows whose mandatory
// fields fail to parse are dropped; surviving rows keep the input order.
func Rows(b *tabular.Batch, floatID int64) ([]Row, error) {
	cols := map[string][]any{}
	for _, field := range mandatoryFields {
		col, ok := resolve(b, field)
		if !ok {
			return nil, &SchemaError{Field: field, Candidates: aliases[field]}
		}
		cols[field] = col
	}
	for _, field := range optionalFields {
		col, _ := resolve(b, field)
		cols[field] = col // nil column means all-null
	}

	out := make([]Row, 0, b.NumRows())
	for i := 0; i < b.NumRows(); i++ {
		date, ok := toTime(at(cols["profile_date"], i))
		if !ok {
			continue
		}
		lat, ok := toFloat(at(cols["latitude"], i))
		if !ok {
			continue
		}
		lon, ok := toFloat(at(cols["longitude"], i))
		if !ok {
			continue
		}
		pres, ok := toFloat(at(cols["pressure"], i))
		if !ok {
			continue
		}
		row := Row{
			ProfileDate: date,
			Latitude:    lat,
			Longitude:   lon,
			Pressure:    pres,
			FloatID:     floatID,
		}
		if v, ok := toFloat(at(cols["temperature"], i)); ok {
			row.Temperature = &v
		}
		if v, ok := toFloat(at(cols["salinity"], i)); ok {
			row.Salinity = &v
		}
		out = append(out, row)
	}
	return out, nil
}

// resolve binds the first alias present in the batch.
func resolve(b *tabular.Batch, field string) ([]any, bool) {
	for _, name := range aliases[field] {
		if col, ok := b.Column(name); ok {
			return col, true
		}
	}
	return nil, false
}

func at(col []any, i int) any {
	if col == nil {
		return nil
	}
	return col[i]
}

// toFloat coerces a raw cell to float64. Unparseable or missing values report
// ok=false instead of raising.
func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case nil:
		return 0, false
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return 0, false
		}
		return t, true
	case float32:
		return toFloat(float64(t))
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// toTime coerces a raw cell to a UTC timestamp.
func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, false
	case time.Time:
		if t.IsZero() {
			return time.Time{}, false
		}
		return t.UTC(), true
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return time.Time{}, false
		}
		for _, layout := range timeLayouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				return parsed.UTC(), true
			}
		}
		return time.Time{}, false
	default:
		return time.Time{}, false
	}
}

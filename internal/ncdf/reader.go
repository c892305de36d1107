// Package ncdf reads one NetCDF profile container and flattens it into a
// tabular batch: one row per (profile, level) index, one column per variable,
// with level-less variables broadcast down the level axis.
//
// Decoding follows the usual scientific-file conventions: _FillValue and
// missing_value sentinels surface as nil rather than numeric fill codes,
// scale_factor/add_offset are applied, and variables whose units attribute is
// a CF time ("days since ...") are decoded to UTC timestamps.
package ncdf

import (
	"fmt"
	"math"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"

	"argoetl/pkg/tabular"
)

// variable is one decoded NetCDF variable: leaves flattened row-major, with
// nil for masked values.
type variable struct {
	name   string
	dims   []string
	shape  []int
	leaves []any
}

// ReadProfile opens the container at path and returns its flattened batch.
// The file handle is released before returning, success or not. Any error is
// a per-file decode failure for the caller.
func ReadProfile(path string) (*tabular.Batch, error) {
	nc, err := netcdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ncdf: open %s: %w", filepath.Base(path), err)
	}
	defer nc.Close()

	var vars []variable
	for _, name := range nc.ListVariables() {
		vr, err := nc.GetVariable(name)
		if err != nil {
			return nil, fmt.Errorf("ncdf: variable %s in %s: %w", name, filepath.Base(path), err)
		}
		if vr == nil {
			continue
		}
		v, err := decodeVariable(name, vr)
		if err != nil {
			return nil, fmt.Errorf("ncdf: %s: %w", filepath.Base(path), err)
		}
		vars = append(vars, v)
	}

	b, err := assemble(vars)
	if err != nil {
		return nil, fmt.Errorf("ncdf: %s: %w", filepath.Base(path), err)
	}
	return b, nil
}

// decodeVariable flattens vr.Values and applies mask/scale and CF time
// decoding based on the variable's attributes.
func decodeVariable(name string, vr *api.Variable) (variable, error) {
	shape, leaves := flattenValues(vr.Values)

	dims := append([]string(nil), vr.Dimensions...)
	// Character arrays come back as Go strings with the trailing char
	// dimension absorbed; drop it from the dim list as well.
	if len(dims) == len(shape)+1 {
		dims = dims[:len(shape)]
	}
	if len(dims) != len(shape) {
		return variable{}, fmt.Errorf("variable %s: %d dims for %d-d values", name, len(vr.Dimensions), len(shape))
	}

	fill, hasFill := attrFloat(vr.Attributes, "_FillValue")
	missing, hasMissing := attrFloat(vr.Attributes, "missing_value")
	scale, hasScale := attrFloat(vr.Attributes, "scale_factor")
	offset, hasOffset := attrFloat(vr.Attributes, "add_offset")

	var clock cfClock
	var isTime bool
	if units, ok := attrString(vr.Attributes, "units"); ok {
		clock, isTime = parseCFClock(units)
	}

	for i, leaf := range leaves {
		switch t := leaf.(type) {
		case string:
			s := strings.TrimRight(t, "\x00 ")
			if s == "" {
				leaves[i] = nil
			} else {
				leaves[i] = s
			}
		case time.Time:
			leaves[i] = t.UTC()
		default:
			f, ok := toNumeric(leaf)
			if !ok {
				leaves[i] = nil
				continue
			}
			if (hasFill && f == fill) || (hasMissing && f == missing) || math.IsNaN(f) {
				leaves[i] = nil
				continue
			}
			if hasScale {
				f *= scale
			}
			if hasOffset {
				f += offset
			}
			if isTime {
				leaves[i] = clock.at(f)
			} else {
				leaves[i] = f
			}
		}
	}

	return variable{name: name, dims: dims, shape: shape, leaves: leaves}, nil
}

// assemble picks the row frame and broadcasts every compatible variable into
// a column. The frame is (N_PROF, N_LEVELS) when present, otherwise the dims
// of the largest variable. Variables over other dims (calibration, history)
// are skipped.
func assemble(vars []variable) (*tabular.Batch, error) {
	sizes := map[string]int{}
	for _, v := range vars {
		for i, d := range v.dims {
			if prev, ok := sizes[d]; ok && prev != v.shape[i] {
				return nil, fmt.Errorf("dimension %s has conflicting sizes %d and %d", d, prev, v.shape[i])
			}
			sizes[d] = v.shape[i]
		}
	}

	rowDims := pickRowDims(vars, sizes)
	rows := 1
	for _, d := range rowDims {
		rows *= sizes[d]
	}

	b := tabular.NewBatch(rows)
	for _, v := range vars {
		if !subsequence(v.dims, rowDims) {
			continue
		}
		want := 1
		for _, n := range v.shape {
			want *= n
		}
		if len(v.leaves) != want {
			return nil, fmt.Errorf("variable %s: %d values for shape %v", v.name, len(v.leaves), v.shape)
		}
		if err := b.Add(v.name, broadcast(v, rowDims, sizes, rows)); err != nil {
			return nil, err
		}
	}
	if len(b.Columns()) == 0 {
		return nil, fmt.Errorf("no usable variables")
	}
	return b, nil
}

func pickRowDims(vars []variable, sizes map[string]int) []string {
	if _, ok := sizes["N_PROF"]; ok {
		if _, ok := sizes["N_LEVELS"]; ok {
			return []string{"N_PROF", "N_LEVELS"}
		}
	}
	var best []string
	bestSize := -1
	for _, v := range vars {
		n := 1
		for _, s := range v.shape {
			n *= s
		}
		if n > bestSize {
			bestSize = n
			best = v.dims
		}
	}
	return best
}

// subsequence reports whether sub occurs within full preserving order.
func subsequence(sub, full []string) bool {
	j := 0
	for _, d := range sub {
		for j < len(full) && full[j] != d {
			j++
		}
		if j == len(full) {
			return false
		}
		j++
	}
	return true
}

// broadcast expands a variable's leaves to one value per output row. Row
// indices are decomposed over rowDims row-major; dims the variable lacks
// contribute stride 0 (repetition).
func broadcast(v variable, rowDims []string, sizes map[string]int, rows int) []any {
	stride := map[string]int{}
	s := 1
	for i := len(v.dims) - 1; i >= 0; i-- {
		stride[v.dims[i]] = s
		s *= v.shape[i]
	}

	out := make([]any, rows)
	for r := 0; r < rows; r++ {
		rem := r
		vi := 0
		for i := len(rowDims) - 1; i >= 0; i-- {
			d := rowDims[i]
			c := rem % sizes[d]
			rem /= sizes[d]
			if st, ok := stride[d]; ok {
				vi += c * st
			}
		}
		out[r] = v.leaves[vi]
	}
	return out
}

// flattenValues walks the (possibly nested) slice returned by the NetCDF
// library and returns its shape plus the leaves in row-major order. Strings
// are leaves even though they are technically slices.
func flattenValues(v any) ([]int, []any) {
	rv := reflect.ValueOf(v)

	var shape []int
	for s := rv; s.Kind() == reflect.Slice; {
		shape = append(shape, s.Len())
		if s.Len() == 0 {
			break
		}
		s = s.Index(0)
		if s.Kind() == reflect.Interface {
			s = s.Elem()
		}
		if s.Kind() == reflect.String {
			break
		}
	}

	leaves := make([]any, 0, 64)
	leaves = appendLeaves(leaves, rv, len(shape))
	return shape, leaves
}

func appendLeaves(out []any, rv reflect.Value, depth int) []any {
	if rv.Kind() == reflect.Interface {
		rv = rv.Elem()
	}
	if depth == 0 || rv.Kind() != reflect.Slice {
		if !rv.IsValid() {
			return append(out, nil)
		}
		return append(out, rv.Interface())
	}
	for i := 0; i < rv.Len(); i++ {
		out = appendLeaves(out, rv.Index(i), depth-1)
	}
	return out
}

func toNumeric(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int8:
		return float64(t), true
	case int16:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case int:
		return float64(t), true
	case uint8:
		return float64(t), true
	case uint16:
		return float64(t), true
	case uint32:
		return float64(t), true
	case uint64:
		return float64(t), true
	default:
		return 0, false
	}
}

// attrFloat fetches a numeric attribute, unwrapping the single-element slices
// NetCDF attributes often decode to.
func attrFloat(am api.AttributeMap, key string) (float64, bool) {
	if am == nil {
		return 0, false
	}
	v, has := am.Get(key)
	if !has {
		return 0, false
	}
	if f, ok := toNumeric(unwrap(v)); ok {
		return f, true
	}
	return 0, false
}

func attrString(am api.AttributeMap, key string) (string, bool) {
	if am == nil {
		return "", false
	}
	v, has := am.Get(key)
	if !has {
		return "", false
	}
	s, ok := unwrap(v).(string)
	return s, ok
}

func unwrap(v any) any {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice && rv.Len() == 1 && rv.Type().Elem().Kind() != reflect.Uint8 {
		return rv.Index(0).Interface()
	}
	return v
}

package transformer

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CoerceSpec maps canonical column names to target kinds and holds the date
// layouts tried when coercing date fields.
type CoerceSpec struct {
	// Kinds is column name -> "string" | "int" | "float" | "date".
	// Columns absent from the map pass through untouched.
	Kinds map[string]string

	// DateLayouts are tried in order. The first layout is also the layout
	// dates are re-rendered with if a string form is ever needed.
	DateLayouts []string
}

// DefaultDateLayouts covers the formats seen in the source extracts.
var DefaultDateLayouts = []string{
	"2006-01-02",
	"02.01.2006",
	"2006-01-02 15:04:05",
}

// BuildCoerceSpec assembles a CoerceSpec from a types map and an optional
// extra layout (config "layout" option), which takes priority.
func BuildCoerceSpec(types map[string]string, layout string) CoerceSpec {
	spec := CoerceSpec{
		Kinds:       make(map[string]string, len(types)),
		DateLayouts: DefaultDateLayouts,
	}
	for col, t := range types {
		spec.Kinds[col] = normalizeCoerceKind(t)
	}
	if layout != "" {
		spec.DateLayouts = append([]string{layout}, DefaultDateLayouts...)
	}
	return spec
}

func normalizeCoerceKind(t string) string {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case "bigint", "int8", "integer", "int4", "int2", "int":
		return "int"
	case "float", "float8", "double", "real", "numeric":
		return "float"
	case "date", "timestamp", "timestamptz":
		return "date"
	default:
		return "string"
	}
}

// ValidateSpecSanity rejects specs that name columns not present in the
// canonical column list; that is always a config typo worth failing fast on.
func ValidateSpecSanity(columns []string, spec CoerceSpec) error {
	known := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		known[c] = struct{}{}
	}
	for col := range spec.Kinds {
		if _, ok := known[col]; !ok {
			return fmt.Errorf("coerce: unknown column %q", col)
		}
	}
	return nil
}

// CoerceValue converts a raw parsed value (string or nil) into the target
// kind. nil stays nil; required-ness is the validator's concern.
func CoerceValue(v any, kind string, layouts []string) (any, error) {
	if v == nil {
		return nil, nil
	}
	s, isStr := v.(string)
	if !isStr {
		// Already typed (e.g. from a test seam); trust it.
		return v, nil
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	switch kind {
	case "int":
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("not an integer: %q", s)
		}
		return n, nil

	case "float":
		// Tolerate decimal commas from the regional extracts.
		f, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
		if err != nil {
			return nil, fmt.Errorf("not a number: %q", s)
		}
		return f, nil

	case "date":
		for _, layout := range layouts {
			if ts, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
				return ts, nil
			}
		}
		return nil, fmt.Errorf("unparseable date: %q", s)

	case "", "string":
		return s, nil

	default:
		return nil, fmt.Errorf("unknown coerce kind %q", kind)
	}
}

// TransformLoopRows coerces rows from in and forwards them on out.
//
// A row whose coercion fails for any field is rejected: the row is freed,
// onReject is called with the line and reason, and the loop continues. The
// loop returns when in closes or ctx is canceled.
func TransformLoopRows(
	ctx context.Context,
	columns []string,
	in <-chan *Row,
	out chan<- *Row,
	spec CoerceSpec,
	onReject func(line int, reason string),
) {
	kindByIdx := make([]string, len(columns))
	for i, c := range columns {
		kindByIdx[i] = spec.Kinds[c]
	}

	for r := range in {
		select {
		case <-ctx.Done():
			r.Drop()
			continue
		default:
		}

		rejected := false
		for i := range columns {
			kind := kindByIdx[i]
			if kind == "" || kind == "string" {
				continue
			}
			cv, err := CoerceValue(r.V[i], kind, spec.DateLayouts)
			if err != nil {
				if onReject != nil {
					onReject(r.Line, fmt.Sprintf("field %s: %v", columns[i], err))
				}
				rejected = true
				break
			}
			r.V[i] = cv
		}
		if rejected {
			r.Free()
			continue
		}

		select {
		case out <- r:
		case <-ctx.Done():
			r.Drop()
		}
	}
}

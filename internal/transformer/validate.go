package transformer

import (
	"context"
	"fmt"
	"time"
)

// ValidateLoopRows enforces the field contract on coerced rows: required
// fields must be non-nil and typed fields must hold the kind the contract
// declares. Rows that fail are freed and reported through onReject.
func ValidateLoopRows(
	ctx context.Context,
	columns []string,
	required []string,
	kinds map[string]string,
	in <-chan *Row,
	out chan<- *Row,
	onReject func(line int, reason string),
) {
	requiredIdx := make([]int, 0, len(required))
	colPos := make(map[string]int, len(columns))
	for i, c := range columns {
		colPos[c] = i
	}
	for _, rc := range required {
		if i, ok := colPos[rc]; ok {
			requiredIdx = append(requiredIdx, i)
		}
	}

	kindByIdx := make([]string, len(columns))
	for i, c := range columns {
		kindByIdx[i] = kinds[c]
	}

	for r := range in {
		select {
		case <-ctx.Done():
			r.Drop()
			continue
		default:
		}

		reason := ""
		for _, i := range requiredIdx {
			if r.V[i] == nil {
				reason = fmt.Sprintf("missing required field %s", columns[i])
				break
			}
		}
		if reason == "" {
			for i := range columns {
				if r.V[i] == nil {
					continue
				}
				if !kindMatches(r.V[i], kindByIdx[i]) {
					reason = fmt.Sprintf("field %s: wrong type %T for kind %s", columns[i], r.V[i], kindByIdx[i])
					break
				}
			}
		}

		if reason != "" {
			if onReject != nil {
				onReject(r.Line, reason)
			}
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

func kindMatches(v any, kind string) bool {
	switch kind {
	case "", "string":
		_, ok := v.(string)
		return kind == "" || ok
	case "int":
		switch v.(type) {
		case int, int64:
			return true
		}
		return false
	case "float":
		switch v.(type) {
		case float64, float32, int64, int:
			// Integral values are acceptable where a float is expected.
			return true
		}
		return false
	case "date":
		_, ok := v.(time.Time)
		return ok
	default:
		return true
	}
}

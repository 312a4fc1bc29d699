// Package transformer provides the streaming coerce/validate stages between
// the parser and the dimension builders. Rows are pooled because a load
// touches every source record twice (dimension pass, fact pass) and per-row
// allocations dominate the profile otherwise.
package transformer

import "sync"

// Row is a pooled positional record aligned to the canonical column order.
//
// Ownership contract:
//   - Exactly one goroutine owns a Row at a time; sending it on a channel
//     transfers ownership.
//   - The final consumer calls Free() once it is done with r.V.
//   - On cancellation paths call Drop() instead: a row returned to the pool
//     while a draining stage still reads it would be reused and overwritten
//     concurrently.
type Row struct {
	V    []any
	Line int // 1-based source record number, if known
}

var rowPool sync.Pool

// GetRow returns a pooled Row sized and zeroed for colCount fields.
func GetRow(colCount int) *Row {
	if v := rowPool.Get(); v != nil {
		r := v.(*Row)
		if cap(r.V) < colCount {
			r.V = make([]any, colCount)
		}
		r.V = r.V[:colCount]
		for i := range r.V {
			r.V[i] = nil
		}
		r.Line = 0
		return r
	}
	return &Row{V: make([]any, colCount)}
}

// Free returns the Row to the pool. Only call on the normal path.
func (r *Row) Free() {
	rowPool.Put(r)
}

// Drop discards the Row without re-pooling it.
func (r *Row) Drop() {
	r.V = nil
	r.Line = 0
}

package star

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// RejectedRecord is one skipped source record and why.
type RejectedRecord struct {
	Line   int
	Reason string
}

// Report is the consolidated outcome of one load run. It is returned on
// success and on failure; DimensionsCommitted marks whether the dimension
// batches were durably written before any abort.
type Report struct {
	RunID string

	// DimensionsCreated counts rows the store actually inserted, per table.
	DimensionsCreated map[string]int64

	// DimensionsCommitted is set once all four dimension batches are
	// persisted, before fact loading begins.
	DimensionsCommitted bool

	FactsInserted int64
	FactsSkipped  int64

	Rejected []RejectedRecord

	mu sync.Mutex
}

func newReport(runID string) *Report {
	return &Report{
		RunID:             runID,
		DimensionsCreated: map[string]int64{},
	}
}

// reject records one skipped record. Safe for concurrent use; the transform
// stages call it from their own goroutines.
func (r *Report) reject(line int, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Rejected = append(r.Rejected, RejectedRecord{Line: line, Reason: reason})
}

// sortRejected orders rejections by source line for stable reporting.
func (r *Report) sortRejected() {
	sort.Slice(r.Rejected, func(i, j int) bool { return r.Rejected[i].Line < r.Rejected[j].Line })
}

// Summary renders a one-line key=value digest for logs.
func (r *Report) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "run=%s dims_committed=%t", r.RunID, r.DimensionsCommitted)
	for _, table := range dimensionSummaryOrder {
		if n, ok := r.DimensionsCreated[table]; ok {
			fmt.Fprintf(&b, " %s=%d", table, n)
		}
	}
	fmt.Fprintf(&b, " facts_inserted=%d facts_skipped=%d rejected=%d",
		r.FactsInserted, r.FactsSkipped, len(r.Rejected))
	return b.String()
}

var dimensionSummaryOrder = []string{
	"dimension_tiempo",
	"dimension_clientes",
	"dimension_vendedores",
	"dimension_productos",
}

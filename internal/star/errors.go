package star

import (
	"errors"
	"fmt"

	"salesdw/internal/storage"
)

// Per-record errors. These are recovered locally: the record is skipped,
// listed in the report, and the load continues.

// MalformedDimensionRecord marks a record whose dimension attributes are
// missing or failed type coercion.
type MalformedDimensionRecord struct {
	Line   int
	Field  string
	Reason string
}

func (e *MalformedDimensionRecord) Error() string {
	return fmt.Sprintf("malformed dimension record at line %d: field %s: %s", e.Line, e.Field, e.Reason)
}

// DimensionConflict marks a natural key that reappeared with different
// attributes under the reject conflict policy.
type DimensionConflict struct {
	Line  int
	Table string
	Key   string
}

func (e *DimensionConflict) Error() string {
	return fmt.Sprintf("dimension conflict at line %d: %s key %s seen with different attributes", e.Line, e.Table, e.Key)
}

// InvalidFactMeasure marks a fact whose quantity or price is negative or
// not numeric. Non-numeric measures carry NaN as the value.
type InvalidFactMeasure struct {
	Line  int
	Field string
	Value float64
}

func (e *InvalidFactMeasure) Error() string {
	return fmt.Sprintf("invalid fact measure at line %d: %s=%v", e.Line, e.Field, e.Value)
}

// Systemic errors. These abort the remaining batch; the report marks what
// was committed before the failure.

// StoreUnavailable wraps a connection-level store failure.
type StoreUnavailable struct {
	Err error
}

func (e *StoreUnavailable) Error() string { return "store unavailable: " + e.Err.Error() }
func (e *StoreUnavailable) Unwrap() error { return e.Err }

// ReferentialIntegrityFailure wraps a foreign key violation surfaced at fact
// write time. This is a coordinator ordering defect, never bad input.
type ReferentialIntegrityFailure struct {
	Err error
}

func (e *ReferentialIntegrityFailure) Error() string {
	return "referential integrity failure: " + e.Err.Error()
}
func (e *ReferentialIntegrityFailure) Unwrap() error { return e.Err }

// classifyStoreErr lifts the storage sentinel classification into the load
// error taxonomy. Unclassified errors pass through unchanged.
func classifyStoreErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrUnavailable):
		return &StoreUnavailable{Err: err}
	case errors.Is(err, storage.ErrReferentialIntegrity):
		return &ReferentialIntegrityFailure{Err: err}
	default:
		return err
	}
}

// isPerRecord reports whether err is recoverable at record granularity.
func isPerRecord(err error) bool {
	var m *MalformedDimensionRecord
	var c *DimensionConflict
	var f *InvalidFactMeasure
	return errors.As(err, &m) || errors.As(err, &c) || errors.As(err, &f)
}

package star

import (
	"context"
	"math"

	"salesdw/internal/transformer"
)

// FactRow is one assembled sales fact: the stable source row identifier,
// the four resolved keys, and the validated measures.
type FactRow struct {
	SourceID string
	Keys     ResolvedKeys
	Cantidad int64
	Precio   float64
	Line     int
}

// Values renders the row in storage.FactColumns order.
func (f FactRow) Values() []any {
	return []any{f.Keys.Tiempo, f.Keys.Cliente, f.Keys.Vendedor, f.Keys.Producto, f.Cantidad, f.Precio}
}

// AssembleFact combines resolved keys with the record's measures, rejecting
// negative or non-numeric quantity or price with InvalidFactMeasure.
func AssembleFact(rec Record, keys ResolvedKeys) (FactRow, error) {
	cantidad, ok := rec.Int(IxCantidad)
	if !ok {
		return FactRow{}, &InvalidFactMeasure{Line: rec.Line, Field: "cantidad", Value: math.NaN()}
	}
	if cantidad < 0 {
		return FactRow{}, &InvalidFactMeasure{Line: rec.Line, Field: "cantidad", Value: float64(cantidad)}
	}

	precio, ok := rec.Float(IxPrecio)
	if !ok {
		return FactRow{}, &InvalidFactMeasure{Line: rec.Line, Field: "precio", Value: math.NaN()}
	}
	if precio < 0 {
		return FactRow{}, &InvalidFactMeasure{Line: rec.Line, Field: "precio", Value: precio}
	}

	return FactRow{
		SourceID: rec.String(IxIDOrigen),
		Keys:     keys,
		Cantidad: cantidad,
		Precio:   precio,
		Line:     rec.Line,
	}, nil
}

// FactStream is a lazy, finite, non-restartable sequence of assembled fact
// rows. Rejections flow through the onReject callback handed to Stream; Out
// closes once the input is exhausted or ctx is canceled.
type FactStream struct {
	Out  <-chan FactRow
	done chan struct{}
}

// Wait blocks until the stream has fully drained its input.
func (s *FactStream) Wait() { <-s.done }

// StreamFacts resolves and assembles fact rows from validated pooled rows.
// Per-record failures (malformed, conflict, invalid measure) are reported
// through onReject and skipped; the stream keeps going. Input rows are
// freed here.
func StreamFacts(
	ctx context.Context,
	resolver *KeyResolver,
	in <-chan *transformer.Row,
	buffer int,
	onReject func(line int, reason string),
) *FactStream {
	if buffer <= 0 {
		buffer = 256
	}
	out := make(chan FactRow, buffer)
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer close(out)

		for r := range in {
			select {
			case <-ctx.Done():
				r.Drop()
				continue
			default:
			}

			rec := RecordOf(r)
			keys, err := resolver.Resolve(rec)
			if err == nil {
				var fact FactRow
				fact, err = AssembleFact(rec, keys)
				if err == nil {
					r.Free()
					select {
					case out <- fact:
					case <-ctx.Done():
					}
					continue
				}
			}

			if onReject != nil && isPerRecord(err) {
				onReject(rec.Line, err.Error())
			} else if onReject != nil {
				onReject(rec.Line, "unresolvable record: "+err.Error())
			}
			r.Free()
		}
	}()

	return &FactStream{Out: out, done: done}
}

// Package star builds and loads the sales star schema: the four dimension
// builders, the key resolver, the fact assembler, and the load coordinator
// that ties them to a storage backend.
package star

import (
	"time"

	"salesdw/internal/schema"
	"salesdw/internal/transformer"
)

// Canonical column order of a validated source record. Every pooled row in
// the pipeline is positional against this list.
const (
	IxIDOrigen = iota
	IxFecha
	IxClienteID
	IxNombreCliente
	IxCiudad
	IxProvincia
	IxTipoCliente
	IxFechaNacimientoCliente
	IxVendedorID
	IxNombreVendedor
	IxSexo
	IxFechaEmpleo
	IxFechaNacimientoVendedor
	IxProductoID
	IxDetalle
	IxEnvase
	IxCantidad
	IxPrecio

	columnCount
)

// Columns lists the canonical record fields in positional order.
var Columns = []string{
	"id_origen",
	"fecha",
	"cliente_id",
	"nombre_cliente",
	"ciudad",
	"provincia",
	"tipo_cliente",
	"fecha_nacimiento_cliente",
	"vendedor_id",
	"nombre_vendedor",
	"sexo",
	"fecha_empleo",
	"fecha_nacimiento_vendedor",
	"producto_id",
	"detalle",
	"envase",
	"cantidad",
	"precio",
}

// DefaultContract is the field contract applied when the pipeline config
// does not carry an explicit validate transform. Fields a fact row cannot
// exist without are required; descriptive attributes are not.
func DefaultContract() schema.Contract {
	return schema.Contract{Fields: []schema.Field{
		{Name: "id_origen", Type: "string", Required: true},
		{Name: "fecha", Type: "date", Required: true},
		{Name: "cliente_id", Type: "int", Required: true},
		{Name: "nombre_cliente", Type: "string", Required: false},
		{Name: "ciudad", Type: "string", Required: false},
		{Name: "provincia", Type: "string", Required: false},
		{Name: "tipo_cliente", Type: "string", Required: false},
		{Name: "fecha_nacimiento_cliente", Type: "date", Required: false},
		{Name: "vendedor_id", Type: "int", Required: true},
		{Name: "nombre_vendedor", Type: "string", Required: false},
		{Name: "sexo", Type: "string", Required: false},
		{Name: "fecha_empleo", Type: "date", Required: false},
		{Name: "fecha_nacimiento_vendedor", Type: "date", Required: false},
		{Name: "producto_id", Type: "int", Required: true},
		{Name: "detalle", Type: "string", Required: false},
		{Name: "envase", Type: "string", Required: false},
		{Name: "cantidad", Type: "int", Required: true},
		{Name: "precio", Type: "float", Required: true},
	}}
}

// Record is a read-only positional view over a validated pooled row. It does
// not own the row; the caller keeps the Free/Drop obligation.
type Record struct {
	V    []any
	Line int
}

// RecordOf views a pooled transformer row as a Record.
func RecordOf(r *transformer.Row) Record {
	return Record{V: r.V, Line: r.Line}
}

// String returns the field at i as a string, "" when nil or not a string.
func (r Record) String(i int) string {
	if i < 0 || i >= len(r.V) {
		return ""
	}
	s, _ := r.V[i].(string)
	return s
}

// Int returns the field at i as an int64 plus presence.
func (r Record) Int(i int) (int64, bool) {
	if i < 0 || i >= len(r.V) {
		return 0, false
	}
	switch t := r.V[i].(type) {
	case int64:
		return t, true
	case int:
		return int64(t), true
	}
	return 0, false
}

// Float returns the field at i as a float64 plus presence. Integral values
// are accepted where the extract omits decimals.
func (r Record) Float(i int) (float64, bool) {
	if i < 0 || i >= len(r.V) {
		return 0, false
	}
	switch t := r.V[i].(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int64:
		return float64(t), true
	case int:
		return float64(t), true
	}
	return 0, false
}

// Date returns the field at i as a time.Time plus presence.
func (r Record) Date(i int) (time.Time, bool) {
	if i < 0 || i >= len(r.V) {
		return time.Time{}, false
	}
	t, ok := r.V[i].(time.Time)
	return t, ok
}

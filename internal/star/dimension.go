package star

import (
	"fmt"
	"strconv"
	"time"

	"salesdw/internal/storage"
)

// ConflictPolicy decides what happens when a natural key reappears with
// different attributes within one load.
type ConflictPolicy string

const (
	// FirstSeen keeps the attributes of the first occurrence.
	FirstSeen ConflictPolicy = "first_seen"

	// Reject refuses the conflicting record with a DimensionConflict.
	Reject ConflictPolicy = "reject"
)

// ParseConflictPolicy maps the config string to a policy; empty means
// FirstSeen.
func ParseConflictPolicy(s string) (ConflictPolicy, error) {
	switch s {
	case "", string(FirstSeen):
		return FirstSeen, nil
	case string(Reject):
		return Reject, nil
	default:
		return FirstSeen, fmt.Errorf("unknown conflict policy %q", s)
	}
}

// Derived is a staged dimension row: the natural key plus the full column
// values in schema order. For the time dimension the surrogate slot is nil
// until Commit allocates it.
type Derived struct {
	Key string
	Row []any
}

// DimensionBuilder turns raw records into deduplicated dimension rows with
// stable surrogate keys.
//
// Derive is pure; Check is the non-mutating conflict probe used to keep a
// record's four commits all-or-nothing; Commit applies the
// first-writer-wins registration and the conflict policy; Lookup is the
// read-only pass-2 resolution. None of the methods are safe for concurrent
// use; pass 1 is sequential and pass 2 only calls Lookup, which does not
// mutate.
type DimensionBuilder interface {
	Table() string

	Derive(rec Record) (Derived, error)
	Check(line int, d Derived) error
	Commit(line int, d Derived) (int64, error)
	Lookup(rec Record) (int64, error)

	// DrainPending returns rows registered since the last drain, in
	// insertion order, for persistence.
	DrainPending() [][]any

	// Rows returns every row registered during this load.
	Rows() [][]any

	// Prewarm seeds natural key -> surrogate mappings persisted by earlier
	// loads. Prewarmed keys carry no attribute snapshot, so conflict
	// detection does not apply to them.
	Prewarm(keys map[string]int64)

	Created() int
}

// keyMap is the per-dimension natural-key to surrogate-key mapping, scoped
// to one load invocation (optionally prewarmed from the store).
type keyMap struct {
	byKey    map[string]int64
	rowByKey map[string][]any
	rows     [][]any
	drained  int
	created  int
	policy   ConflictPolicy
}

func newKeyMap(policy ConflictPolicy) keyMap {
	return keyMap{
		byKey:    map[string]int64{},
		rowByKey: map[string][]any{},
		policy:   policy,
	}
}

// check probes the conflict policy for a key without registering anything.
// attrsFrom is the column index comparison starts at (skips the surrogate
// slot when it is allocated, not sourced). Prewarmed keys carry no attribute
// snapshot and never conflict.
func (m *keyMap) check(table string, line int, key string, row []any, attrsFrom int) error {
	if m.policy != Reject {
		return nil
	}
	if prev := m.rowByKey[key]; prev != nil && !rowsEqual(prev[attrsFrom:], row[attrsFrom:]) {
		return &DimensionConflict{Line: line, Table: table, Key: key}
	}
	return nil
}

// commit registers a row under its key. The first writer wins; under the
// Reject policy a differing repeat occurrence errors.
func (m *keyMap) commit(table string, line int, key string, row []any, attrsFrom int) (int64, error) {
	if err := m.check(table, line, key, row, attrsFrom); err != nil {
		return 0, err
	}
	if id, ok := m.byKey[key]; ok {
		return id, nil
	}

	id, ok := row[0].(int64)
	if !ok {
		return 0, fmt.Errorf("%s: row has no surrogate for key %s", table, key)
	}
	m.byKey[key] = id
	m.rowByKey[key] = row
	m.rows = append(m.rows, row)
	m.created++
	return id, nil
}

func (m *keyMap) lookup(table string, line int, key string, row []any, attrsFrom int) (int64, error) {
	id, ok := m.byKey[key]
	if !ok {
		return 0, fmt.Errorf("%s: key %s not registered", table, key)
	}
	if err := m.check(table, line, key, row, attrsFrom); err != nil {
		return 0, err
	}
	return id, nil
}

func (m *keyMap) drainPending() [][]any {
	out := m.rows[m.drained:]
	m.drained = len(m.rows)
	return out
}

func (m *keyMap) prewarm(keys map[string]int64) {
	for k, id := range keys {
		if _, exists := m.byKey[k]; !exists {
			m.byKey[k] = id
		}
	}
}

func rowsEqual(a, b []any) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if storage.NormalizeKey(a[i]) != storage.NormalizeKey(b[i]) {
			return false
		}
	}
	return true
}

// ---- Time dimension ----

// TimeBuilder keys on the calendar date and allocates monotonically
// increasing surrogate ids, continuing above the prewarmed maximum.
type TimeBuilder struct {
	m      keyMap
	nextID int64
}

func NewTimeBuilder(policy ConflictPolicy) *TimeBuilder {
	return &TimeBuilder{m: newKeyMap(policy), nextID: 1}
}

func (b *TimeBuilder) Table() string { return storage.TableTiempo }

func (b *TimeBuilder) Derive(rec Record) (Derived, error) {
	fecha, ok := rec.Date(IxFecha)
	if !ok {
		return Derived{}, &MalformedDimensionRecord{Line: rec.Line, Field: "fecha", Reason: "missing or not a date"}
	}
	fecha = fecha.UTC().Truncate(24 * time.Hour)
	return Derived{
		Key: storage.NormalizeKey(fecha),
		Row: []any{nil, fecha, int64(fecha.Day()), int64(fecha.Month()), int64(Quarter(int(fecha.Month()))), int64(fecha.Year())},
	}, nil
}

func (b *TimeBuilder) Check(line int, d Derived) error {
	return b.m.check(b.Table(), line, d.Key, d.Row, 1)
}

func (b *TimeBuilder) Commit(line int, d Derived) (int64, error) {
	if id, ok := b.m.byKey[d.Key]; ok {
		return id, nil
	}
	d.Row[0] = b.nextID
	b.nextID++
	return b.m.commit(b.Table(), line, d.Key, d.Row, 1)
}

func (b *TimeBuilder) Lookup(rec Record) (int64, error) {
	d, err := b.Derive(rec)
	if err != nil {
		return 0, err
	}
	return b.m.lookup(b.Table(), rec.Line, d.Key, d.Row, 1)
}

func (b *TimeBuilder) DrainPending() [][]any { return b.m.drainPending() }
func (b *TimeBuilder) Rows() [][]any         { return b.m.rows }
func (b *TimeBuilder) Created() int          { return b.m.created }

func (b *TimeBuilder) Prewarm(keys map[string]int64) {
	b.m.prewarm(keys)
	for _, id := range keys {
		if id >= b.nextID {
			b.nextID = id + 1
		}
	}
}

// ---- Customer dimension ----

// CustomerBuilder keys on the source customer identifier, which doubles as
// the surrogate key. Zone comes from the region reference file; the age
// range is bucketed against the load clock.
type CustomerBuilder struct {
	m     keyMap
	zones ZoneIndex
	now   time.Time
}

func NewCustomerBuilder(policy ConflictPolicy, zones ZoneIndex, now time.Time) *CustomerBuilder {
	return &CustomerBuilder{m: newKeyMap(policy), zones: zones, now: now}
}

func (b *CustomerBuilder) Table() string { return storage.TableClientes }

func (b *CustomerBuilder) Derive(rec Record) (Derived, error) {
	id, ok := rec.Int(IxClienteID)
	if !ok {
		return Derived{}, &MalformedDimensionRecord{Line: rec.Line, Field: "cliente_id", Reason: "missing or not an integer"}
	}

	ciudad := rec.String(IxCiudad)
	provincia := rec.String(IxProvincia)
	birth, _ := rec.Date(IxFechaNacimientoCliente)

	return Derived{
		Key: strconv.FormatInt(id, 10),
		Row: []any{
			id,
			rec.String(IxNombreCliente),
			ciudad,
			provincia,
			b.zones.Zone(ciudad, provincia),
			rec.String(IxTipoCliente),
			AgeRange(birth, b.now),
		},
	}, nil
}

func (b *CustomerBuilder) Check(line int, d Derived) error {
	return b.m.check(b.Table(), line, d.Key, d.Row, 1)
}

func (b *CustomerBuilder) Commit(line int, d Derived) (int64, error) {
	return b.m.commit(b.Table(), line, d.Key, d.Row, 1)
}

func (b *CustomerBuilder) Lookup(rec Record) (int64, error) {
	d, err := b.Derive(rec)
	if err != nil {
		return 0, err
	}
	return b.m.lookup(b.Table(), rec.Line, d.Key, d.Row, 1)
}

func (b *CustomerBuilder) DrainPending() [][]any      { return b.m.drainPending() }
func (b *CustomerBuilder) Rows() [][]any              { return b.m.rows }
func (b *CustomerBuilder) Created() int               { return b.m.created }
func (b *CustomerBuilder) Prewarm(k map[string]int64) { b.m.prewarm(k) }

// ---- Salesperson dimension ----

// SalespersonBuilder keys on the source salesperson identifier. Tenure and
// the derived seniority zone are computed against the load clock.
type SalespersonBuilder struct {
	m   keyMap
	now time.Time
}

func NewSalespersonBuilder(policy ConflictPolicy, now time.Time) *SalespersonBuilder {
	return &SalespersonBuilder{m: newKeyMap(policy), now: now}
}

func (b *SalespersonBuilder) Table() string { return storage.TableVendedores }

func (b *SalespersonBuilder) Derive(rec Record) (Derived, error) {
	id, ok := rec.Int(IxVendedorID)
	if !ok {
		return Derived{}, &MalformedDimensionRecord{Line: rec.Line, Field: "vendedor_id", Reason: "missing or not an integer"}
	}

	employed, _ := rec.Date(IxFechaEmpleo)
	tenure := TenureYears(employed, b.now)

	var birth any
	if d, ok := rec.Date(IxFechaNacimientoVendedor); ok {
		birth = d
	}

	return Derived{
		Key: strconv.FormatInt(id, 10),
		Row: []any{
			id,
			rec.String(IxNombreVendedor),
			Sex(rec.String(IxSexo)),
			int64(tenure),
			birth,
			SeniorityZone(tenure),
		},
	}, nil
}

func (b *SalespersonBuilder) Check(line int, d Derived) error {
	return b.m.check(b.Table(), line, d.Key, d.Row, 1)
}

func (b *SalespersonBuilder) Commit(line int, d Derived) (int64, error) {
	return b.m.commit(b.Table(), line, d.Key, d.Row, 1)
}

func (b *SalespersonBuilder) Lookup(rec Record) (int64, error) {
	d, err := b.Derive(rec)
	if err != nil {
		return 0, err
	}
	return b.m.lookup(b.Table(), rec.Line, d.Key, d.Row, 1)
}

func (b *SalespersonBuilder) DrainPending() [][]any      { return b.m.drainPending() }
func (b *SalespersonBuilder) Rows() [][]any              { return b.m.rows }
func (b *SalespersonBuilder) Created() int               { return b.m.created }
func (b *SalespersonBuilder) Prewarm(k map[string]int64) { b.m.prewarm(k) }

// ---- Product dimension ----

// ProductBuilder keys on the source product identifier. Container type,
// volume in liters, and the beverage class are derived from the packaging
// and description fields.
type ProductBuilder struct {
	m keyMap
}

func NewProductBuilder(policy ConflictPolicy) *ProductBuilder {
	return &ProductBuilder{m: newKeyMap(policy)}
}

func (b *ProductBuilder) Table() string { return storage.TableProductos }

func (b *ProductBuilder) Derive(rec Record) (Derived, error) {
	id, ok := rec.Int(IxProductoID)
	if !ok {
		return Derived{}, &MalformedDimensionRecord{Line: rec.Line, Field: "producto_id", Reason: "missing or not an integer"}
	}

	envase := rec.String(IxEnvase)
	var container any
	var litros any
	if envase != "" {
		container = ContainerType(envase)
		if l, ok := Liters(envase); ok {
			litros = l
		}
	}

	detalle := rec.String(IxDetalle)
	return Derived{
		Key: strconv.FormatInt(id, 10),
		Row: []any{id, detalle, container, litros, BeverageType(detalle)},
	}, nil
}

func (b *ProductBuilder) Check(line int, d Derived) error {
	return b.m.check(b.Table(), line, d.Key, d.Row, 1)
}

func (b *ProductBuilder) Commit(line int, d Derived) (int64, error) {
	return b.m.commit(b.Table(), line, d.Key, d.Row, 1)
}

func (b *ProductBuilder) Lookup(rec Record) (int64, error) {
	d, err := b.Derive(rec)
	if err != nil {
		return 0, err
	}
	return b.m.lookup(b.Table(), rec.Line, d.Key, d.Row, 1)
}

func (b *ProductBuilder) DrainPending() [][]any      { return b.m.drainPending() }
func (b *ProductBuilder) Rows() [][]any              { return b.m.rows }
func (b *ProductBuilder) Created() int               { return b.m.created }
func (b *ProductBuilder) Prewarm(k map[string]int64) { b.m.prewarm(k) }

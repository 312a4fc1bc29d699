package star

import (
	"errors"
	"testing"
	"time"
)

// testRecord builds a canonical record from named fields.
func testRecord(t *testing.T, line int, fields map[string]any) Record {
	t.Helper()
	v := make([]any, len(Columns))
	pos := map[string]int{}
	for i, c := range Columns {
		pos[c] = i
	}
	for name, val := range fields {
		i, ok := pos[name]
		if !ok {
			t.Fatalf("unknown field %q", name)
		}
		v[i] = val
	}
	return Record{V: v, Line: line}
}

func date(y, m, d int) time.Time {
	return time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
}

func saleFields(t *testing.T) map[string]any {
	t.Helper()
	return map[string]any{
		"id_origen":                 "src-1",
		"fecha":                     date(2024, 3, 15),
		"cliente_id":                int64(7),
		"nombre_cliente":            "Ana",
		"ciudad":                    "Rosario",
		"provincia":                 "Santa Fe",
		"tipo_cliente":              "Minorista",
		"fecha_nacimiento_cliente":  date(1990, 1, 1),
		"vendedor_id":               int64(3),
		"nombre_vendedor":           "Luis",
		"sexo":                      "M",
		"fecha_empleo":              date(2020, 1, 1),
		"fecha_nacimiento_vendedor": date(1985, 5, 5),
		"producto_id":               int64(11),
		"detalle":                   "Cola",
		"envase":                    "2 Liter",
		"cantidad":                  int64(3),
		"precio":                    150.0,
	}
}

func testNow() time.Time { return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC) }

func TestTimeBuilderDecomposesDate(t *testing.T) {
	b := NewTimeBuilder(FirstSeen)
	rec := testRecord(t, 1, saleFields(t))

	d, err := b.Derive(rec)
	if err != nil {
		t.Fatal(err)
	}
	id, err := b.Commit(rec.Line, d)
	if err != nil {
		t.Fatal(err)
	}
	if id != 1 {
		t.Fatalf("first surrogate = %d, want 1", id)
	}

	rows := b.Rows()
	if len(rows) != 1 {
		t.Fatalf("rows = %d", len(rows))
	}
	row := rows[0]
	if row[2] != int64(15) || row[3] != int64(3) || row[4] != int64(1) || row[5] != int64(2024) {
		t.Fatalf("decomposition = %v", row)
	}
}

func TestSameNaturalKeySameSurrogate(t *testing.T) {
	b := NewTimeBuilder(FirstSeen)
	rec := testRecord(t, 1, saleFields(t))

	d1, _ := b.Derive(rec)
	id1, err := b.Commit(1, d1)
	if err != nil {
		t.Fatal(err)
	}

	d2, _ := b.Derive(rec)
	id2, err := b.Commit(2, d2)
	if err != nil {
		t.Fatal(err)
	}

	if id1 != id2 {
		t.Fatalf("surrogates differ: %d vs %d", id1, id2)
	}
	if b.Created() != 1 {
		t.Fatalf("created = %d, want 1", b.Created())
	}
}

func TestTimeBuilderAllocatesMonotonically(t *testing.T) {
	b := NewTimeBuilder(FirstSeen)

	var last int64
	for day := 1; day <= 5; day++ {
		f := saleFields(t)
		f["fecha"] = date(2024, 3, day)
		d, _ := b.Derive(testRecord(t, day, f))
		id, err := b.Commit(day, d)
		if err != nil {
			t.Fatal(err)
		}
		if id <= last {
			t.Fatalf("surrogate %d not above %d", id, last)
		}
		last = id
	}
}

func TestTimeBuilderPrewarmContinuesAboveMax(t *testing.T) {
	b := NewTimeBuilder(FirstSeen)
	b.Prewarm(map[string]int64{"2024-01-01": 41, "2024-01-02": 42})

	// Known date reuses the persisted surrogate.
	f := saleFields(t)
	f["fecha"] = date(2024, 1, 2)
	d, _ := b.Derive(testRecord(t, 1, f))
	id, err := b.Commit(1, d)
	if err != nil {
		t.Fatal(err)
	}
	if id != 42 {
		t.Fatalf("prewarmed surrogate = %d, want 42", id)
	}

	// New date allocates above the persisted maximum.
	f["fecha"] = date(2024, 1, 3)
	d, _ = b.Derive(testRecord(t, 2, f))
	id, err = b.Commit(2, d)
	if err != nil {
		t.Fatal(err)
	}
	if id != 43 {
		t.Fatalf("new surrogate = %d, want 43", id)
	}
}

func TestCustomerFirstSeenWinsRetainsCity(t *testing.T) {
	zones := ZoneIndex{"rosario|santa fe": "Centro"}
	b := NewCustomerBuilder(FirstSeen, zones, testNow())

	d1, err := b.Derive(testRecord(t, 1, saleFields(t)))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.Commit(1, d1); err != nil {
		t.Fatal(err)
	}

	f := saleFields(t)
	f["ciudad"] = "Salta"
	d2, err := b.Derive(testRecord(t, 2, f))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.Commit(2, d2); err != nil {
		t.Fatal(err)
	}

	rows := b.Rows()
	if len(rows) != 1 {
		t.Fatalf("customer rows = %d, want 1", len(rows))
	}
	if rows[0][2] != "Rosario" {
		t.Fatalf("city = %v, want Rosario", rows[0][2])
	}
	if rows[0][4] != "Centro" {
		t.Fatalf("zone = %v, want Centro", rows[0][4])
	}
}

func TestCustomerRejectPolicyConflicts(t *testing.T) {
	b := NewCustomerBuilder(Reject, nil, testNow())

	d1, _ := b.Derive(testRecord(t, 1, saleFields(t)))
	if _, err := b.Commit(1, d1); err != nil {
		t.Fatal(err)
	}

	f := saleFields(t)
	f["ciudad"] = "Salta"
	d2, _ := b.Derive(testRecord(t, 2, f))
	_, err := b.Commit(2, d2)

	var conflict *DimensionConflict
	if !errors.As(err, &conflict) {
		t.Fatalf("err = %v, want DimensionConflict", err)
	}
	if conflict.Table != "dimension_clientes" || conflict.Line != 2 {
		t.Fatalf("conflict = %+v", conflict)
	}

	// The same repeat occurrence conflicts on Lookup too.
	if _, err := b.Lookup(testRecord(t, 2, f)); !errors.As(err, &conflict) {
		t.Fatalf("lookup err = %v, want DimensionConflict", err)
	}
}

func TestCustomerMissingIDIsMalformed(t *testing.T) {
	b := NewCustomerBuilder(FirstSeen, nil, testNow())

	f := saleFields(t)
	delete(f, "cliente_id")
	_, err := b.Derive(testRecord(t, 4, f))

	var malformed *MalformedDimensionRecord
	if !errors.As(err, &malformed) {
		t.Fatalf("err = %v, want MalformedDimensionRecord", err)
	}
	if malformed.Field != "cliente_id" || malformed.Line != 4 {
		t.Fatalf("malformed = %+v", malformed)
	}
}

func TestSalespersonDerivation(t *testing.T) {
	b := NewSalespersonBuilder(FirstSeen, testNow())

	d, err := b.Derive(testRecord(t, 1, saleFields(t)))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.Commit(1, d); err != nil {
		t.Fatal(err)
	}

	row := b.Rows()[0]
	if row[0] != int64(3) || row[1] != "Luis" || row[2] != "Masculino" {
		t.Fatalf("row = %v", row)
	}
	if row[3] != int64(4) {
		t.Fatalf("tenure = %v, want 4", row[3])
	}
	if row[5] != "Medio" {
		t.Fatalf("seniority zone = %v, want Medio", row[5])
	}
}

func TestProductDerivation(t *testing.T) {
	b := NewProductBuilder(FirstSeen)

	f := saleFields(t)
	f["detalle"] = "Diet Cola"
	f["envase"] = "355 cm3 Can"
	d, err := b.Derive(testRecord(t, 1, f))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.Commit(1, d); err != nil {
		t.Fatal(err)
	}

	row := b.Rows()[0]
	if row[2] != "Can" {
		t.Fatalf("container = %v", row[2])
	}
	if row[3] != 0.355 {
		t.Fatalf("liters = %v", row[3])
	}
	if row[4] != "Bebida de dieta" {
		t.Fatalf("beverage = %v", row[4])
	}
}

func TestProductUnknownVolumeUnitLeavesLitersUnset(t *testing.T) {
	b := NewProductBuilder(FirstSeen)

	f := saleFields(t)
	f["envase"] = "12 oz Can"
	d, err := b.Derive(testRecord(t, 9, f))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.Commit(9, d); err != nil {
		t.Fatal(err)
	}

	row := b.Rows()[0]
	if row[2] != "Can" {
		t.Fatalf("container = %v", row[2])
	}
	if row[3] != nil {
		t.Fatalf("liters = %v, want unset", row[3])
	}
}

package postgres

import (
	"strings"
	"testing"
)

func TestBuildInsertSQL_PlaceholderNumbering(t *testing.T) {
	sql, args := buildInsertSQL(
		"dimension_tiempo",
		[]string{"id_tiempo", "fecha"},
		[][]any{{int64(1), "2024-03-15"}, {int64(2), "2024-03-16"}},
		[]string{"fecha"},
	)

	want := `INSERT INTO dimension_tiempo ("id_tiempo", "fecha") VALUES ($1, $2), ($3, $4) ON CONFLICT ("fecha") DO NOTHING;`
	if sql != want {
		t.Fatalf("sql=%q\nwant %q", sql, want)
	}
	if len(args) != 4 || args[0] != int64(1) || args[3] != "2024-03-16" {
		t.Fatalf("args=%v", args)
	}
}

func TestBuildInsertSQL_NoConflictClauseForFacts(t *testing.T) {
	sql, _ := buildInsertSQL(
		"tabla_hecho_ventas",
		[]string{"id_tiempo", "cantidad"},
		[][]any{{int64(1), int64(3)}},
		nil,
	)
	if strings.Contains(sql, "ON CONFLICT") {
		t.Fatalf("fact insert carries ON CONFLICT: %q", sql)
	}
}

func TestBuildInsertSQL_QuotesIdentifiers(t *testing.T) {
	sql, _ := buildInsertSQL(
		"dimension_tiempo",
		[]string{"año"},
		[][]any{{int64(2024)}},
		nil,
	)
	if !strings.Contains(sql, `"año"`) {
		t.Fatalf("identifier not quoted: %q", sql)
	}
}

func TestSchemaDDL_CoversAllTables(t *testing.T) {
	all := strings.Join(schemaDDL, "\n")
	for _, table := range []string{
		"dimension_clientes",
		"dimension_vendedores",
		"dimension_productos",
		"dimension_tiempo",
		"tabla_hecho_ventas",
		"carga_hechos",
	} {
		if !strings.Contains(all, "CREATE TABLE IF NOT EXISTS "+table) {
			t.Errorf("schema DDL missing table %s", table)
		}
	}
	for _, fk := range []string{
		"REFERENCES dimension_tiempo (id_tiempo)",
		"REFERENCES dimension_clientes (id_cliente)",
		"REFERENCES dimension_vendedores (id_vendedor)",
		"REFERENCES dimension_productos (product_id)",
	} {
		if !strings.Contains(all, fk) {
			t.Errorf("fact table missing foreign key %q", fk)
		}
	}
	if !strings.Contains(all, "fecha DATE UNIQUE") {
		t.Error("dimension_tiempo missing the natural-key unique constraint")
	}
}

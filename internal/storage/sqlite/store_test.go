package sqlite

import (
	"strings"
	"testing"
	"time"

	"salesdw/internal/storage"
)

func TestBuildInsertSQLOrIgnore(t *testing.T) {
	rows := [][]any{
		{int64(1), "Ana", "Rosario"},
		{int64(2), "Luis", "Salta"},
	}
	q, args := buildInsertSQL(storage.TableClientes, []string{"id_cliente", "nombre", "ciudad"}, rows, true)

	want := `INSERT OR IGNORE INTO dimension_clientes ("id_cliente", "nombre", "ciudad") VALUES (?,?,?), (?,?,?);`
	if q != want {
		t.Fatalf("query mismatch:\n got: %s\nwant: %s", q, want)
	}
	if len(args) != 6 {
		t.Fatalf("args = %d, want 6", len(args))
	}
	if args[4] != "Luis" {
		t.Fatalf("args[4] = %v, want Luis", args[4])
	}
}

func TestBuildInsertSQLPlainForFacts(t *testing.T) {
	q, _ := buildInsertSQL(storage.TableVentas, []string{"id_tiempo", "cantidad"}, [][]any{{int64(1), int64(3)}}, false)
	if strings.Contains(q, "OR IGNORE") {
		t.Fatalf("fact insert must not be OR IGNORE: %s", q)
	}
	if !strings.HasPrefix(q, "INSERT INTO tabla_hecho_ventas") {
		t.Fatalf("unexpected query: %s", q)
	}
}

func TestBuildInsertSQLRendersDatesAsText(t *testing.T) {
	d := time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)
	_, args := buildInsertSQL(storage.TableTiempo, []string{"id_tiempo", "fecha"}, [][]any{{int64(7), d}}, true)
	if args[1] != "2024-03-15" {
		t.Fatalf("fecha arg = %v, want 2024-03-15", args[1])
	}
}

func TestSchemaDDLCoversAllTables(t *testing.T) {
	all := strings.Join(schemaDDL, "\n")
	for _, table := range []string{
		storage.TableClientes,
		storage.TableVendedores,
		storage.TableProductos,
		storage.TableTiempo,
		storage.TableVentas,
		storage.TableCargaHechos,
	} {
		if !strings.Contains(all, "CREATE TABLE IF NOT EXISTS "+table) {
			t.Fatalf("schemaDDL missing table %s", table)
		}
	}
	if !strings.Contains(all, `"año" INTEGER`) {
		t.Fatal("dimension_tiempo must quote año")
	}
	if !strings.Contains(all, `"fecha" TEXT UNIQUE`) {
		t.Fatal("dimension_tiempo.fecha must be UNIQUE")
	}
	if got := strings.Count(all, "REFERENCES"); got != 4 {
		t.Fatalf("fact table foreign keys = %d, want 4", got)
	}
}

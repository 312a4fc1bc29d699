// Package sqlite implements storage.Store with modernc.org/sqlite.
//
// Differences from the Postgres backend:
//   - Idempotent inserts use INSERT OR IGNORE, which relies on the UNIQUE/PK
//     constraints declared in the DDL.
//   - Foreign keys are enforced only with PRAGMA foreign_keys=ON, applied
//     right after connecting.
//   - Dates are stored as TEXT (yyyy-mm-dd); SQLite has no DATE affinity.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlite3 "modernc.org/sqlite"

	"salesdw/internal/storage"
)

// SQLite extended result codes this backend classifies.
const (
	codeConstraintForeignKey = 787 // SQLITE_CONSTRAINT_FOREIGNKEY
	codeCantOpen             = 14  // SQLITE_CANTOPEN
)

type Store struct {
	db *sql.DB
}

func init() {
	storage.Register("sqlite", New)
}

func New(ctx context.Context, cfg storage.Config) (storage.Store, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, classify(err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, classify(err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, classify(err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() { _ = s.db.Close() }

var schemaDDL = []string{
	`CREATE TABLE IF NOT EXISTS dimension_clientes (
  "id_cliente" INTEGER PRIMARY KEY,
  "nombre" TEXT,
  "ciudad" TEXT,
  "provincia" TEXT,
  "zona" TEXT,
  "tipo_cliente" TEXT,
  "rango_edad" TEXT
);`,
	`CREATE TABLE IF NOT EXISTS dimension_vendedores (
  "id_vendedor" INTEGER PRIMARY KEY,
  "nombre" TEXT,
  "sexo" TEXT,
  "antiguedad" INTEGER,
  "fecha_nacimiento" TEXT,
  "zona" TEXT
);`,
	`CREATE TABLE IF NOT EXISTS dimension_productos (
  "product_id" INTEGER PRIMARY KEY,
  "detalle" TEXT,
  "tipoEnvase" TEXT,
  "litros" REAL,
  "tipoBebida" TEXT
);`,
	`CREATE TABLE IF NOT EXISTS dimension_tiempo (
  "id_tiempo" INTEGER PRIMARY KEY,
  "fecha" TEXT UNIQUE,
  "dia" INTEGER,
  "mes" INTEGER,
  "trimestre" INTEGER,
  "año" INTEGER
);`,
	`CREATE TABLE IF NOT EXISTS tabla_hecho_ventas (
  "id_venta" INTEGER PRIMARY KEY AUTOINCREMENT,
  "id_tiempo" INTEGER REFERENCES dimension_tiempo ("id_tiempo"),
  "id_cliente" INTEGER REFERENCES dimension_clientes ("id_cliente"),
  "id_vendedor" INTEGER REFERENCES dimension_vendedores ("id_vendedor"),
  "id_producto" INTEGER REFERENCES dimension_productos ("product_id"),
  "cantidad" INTEGER,
  "precio" REAL
);`,
	`CREATE TABLE IF NOT EXISTS carga_hechos (
  "id_origen" TEXT PRIMARY KEY,
  "cargado_en" TEXT NOT NULL
);`,
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, ddl := range schemaDDL {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("ensure schema: %w", classify(err))
		}
	}
	return nil
}

func (s *Store) UpsertDimensionRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if _, ok := storage.DimensionMetaFor(table); !ok {
		return 0, fmt.Errorf("sqlite: not a dimension table: %s", table)
	}

	// OR IGNORE keys off the UNIQUE/PK constraints, so no conflict target
	// list is needed here.
	q, args := buildInsertSQL(table, columns, rows, true)
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, fmt.Errorf("upsert %s: %w", table, classify(err))
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *Store) SelectKeyValue(ctx context.Context, table, keyColumn, idColumn string) (map[string]int64, error) {
	q := fmt.Sprintf(`SELECT %s, %s FROM %s`, sqlIdent(keyColumn), sqlIdent(idColumn), table)
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	out := map[string]int64{}
	for rows.Next() {
		var k any
		var id int64
		if err := rows.Scan(&k, &id); err != nil {
			return nil, err
		}
		out[storage.NormalizeKey(k)] = id
	}
	return out, classify(rows.Err())
}

func (s *Store) LoadedSourceIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	out := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	ph := strings.TrimRight(strings.Repeat("?,", len(ids)), ",")
	q := fmt.Sprintf(`SELECT id_origen FROM carga_hechos WHERE id_origen IN (%s)`, ph)
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, classify(rows.Err())
}

func (s *Store) InsertFactRows(ctx context.Context, columns []string, rows [][]any, sourceIDs []string) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(rows) != len(sourceIDs) {
		return 0, fmt.Errorf("sqlite: %d rows but %d source ids", len(rows), len(sourceIDs))
	}

	loaded, err := s.LoadedSourceIDs(ctx, sourceIDs)
	if err != nil {
		return 0, err
	}

	keepRows := rows[:0:0]
	keepIDs := sourceIDs[:0:0]
	for i, id := range sourceIDs {
		if loaded[id] {
			continue
		}
		keepRows = append(keepRows, rows[i])
		keepIDs = append(keepIDs, id)
	}
	if len(keepRows) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, classify(err)
	}
	defer func() { _ = tx.Rollback() }()

	q, args := buildInsertSQL(storage.TableVentas, columns, keepRows, false)
	res, err := tx.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, fmt.Errorf("insert facts: %w", classify(err))
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	ledgerRows := make([][]any, len(keepIDs))
	for i, id := range keepIDs {
		ledgerRows[i] = []any{id, now}
	}
	lq, largs := buildInsertSQL(storage.TableCargaHechos, []string{"id_origen", "cargado_en"}, ledgerRows, true)
	if _, err := tx.ExecContext(ctx, lq, largs...); err != nil {
		return 0, fmt.Errorf("insert ledger: %w", classify(err))
	}

	if err := tx.Commit(); err != nil {
		return 0, classify(err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// buildInsertSQL constructs a multi-row INSERT (optionally OR IGNORE) and
// its args. Pure, for unit testing.
func buildInsertSQL(table string, columns []string, rows [][]any, orIgnore bool) (string, []any) {
	var b strings.Builder
	if orIgnore {
		b.WriteString("INSERT OR IGNORE INTO ")
	} else {
		b.WriteString("INSERT INTO ")
	}
	b.WriteString(table)
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(sqlIdent(c))
	}
	b.WriteString(") VALUES ")

	placeholders := "(" + strings.TrimRight(strings.Repeat("?,", len(columns)), ",") + ")"
	args := make([]any, 0, len(rows)*len(columns))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(placeholders)
		args = append(args, normalizeRow(row)...)
	}
	b.WriteString(";")
	return b.String(), args
}

// normalizeRow renders time.Time values as yyyy-mm-dd TEXT so that date
// round-trips (and the fecha UNIQUE constraint) behave predictably.
func normalizeRow(row []any) []any {
	out := make([]any, len(row))
	for i, v := range row {
		if ts, ok := v.(time.Time); ok {
			out[i] = ts.UTC().Format("2006-01-02")
			continue
		}
		out[i] = v
	}
	return out
}

func sqlIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	var serr *sqlite3.Error
	if errors.As(err, &serr) {
		switch serr.Code() {
		case codeConstraintForeignKey:
			return fmt.Errorf("%w: %v", storage.ErrReferentialIntegrity, err)
		case codeCantOpen:
			return fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
		}
		return err
	}
	if errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	return err
}

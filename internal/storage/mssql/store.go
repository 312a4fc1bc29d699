// Package mssql implements storage.Store for Microsoft SQL Server.
//
// Implementation notes:
//   - Avoids MERGE. Idempotent dimension upserts use INSERT ... SELECT over a
//     VALUES derived table with a NOT EXISTS guard.
//   - SQL Server has a hard limit of 2100 parameters per statement, so both
//     upserts and fact inserts are chunked.
//   - Identifiers are bracket-quoted ([año] needs no special casing).
package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	mssqldriver "github.com/microsoft/go-mssqldb"

	"salesdw/internal/storage"
)

// SQL Server error numbers this backend classifies.
const (
	numberFKViolation = 547 // constraint conflict, covers FK references
)

type Store struct {
	db *sql.DB
}

func init() {
	storage.Register("mssql", New)
}

func New(ctx context.Context, cfg storage.Config) (storage.Store, error) {
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, classify(err)
	}

	// Conservative defaults for bursty batch loads.
	db.SetMaxOpenConns(64)
	db.SetMaxIdleConns(64)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, classify(err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() { _ = s.db.Close() }

var schemaDDL = []string{
	`IF OBJECT_ID(N'dimension_clientes', N'U') IS NULL BEGIN CREATE TABLE dimension_clientes (
  [id_cliente] BIGINT PRIMARY KEY,
  [nombre] NVARCHAR(256),
  [ciudad] NVARCHAR(128),
  [provincia] NVARCHAR(128),
  [zona] NVARCHAR(64),
  [tipo_cliente] NVARCHAR(64),
  [rango_edad] NVARCHAR(32)
); END;`,
	`IF OBJECT_ID(N'dimension_vendedores', N'U') IS NULL BEGIN CREATE TABLE dimension_vendedores (
  [id_vendedor] BIGINT PRIMARY KEY,
  [nombre] NVARCHAR(256),
  [sexo] NVARCHAR(16),
  [antiguedad] INT,
  [fecha_nacimiento] DATE,
  [zona] NVARCHAR(64)
); END;`,
	`IF OBJECT_ID(N'dimension_productos', N'U') IS NULL BEGIN CREATE TABLE dimension_productos (
  [product_id] BIGINT PRIMARY KEY,
  [detalle] NVARCHAR(256),
  [tipoEnvase] NVARCHAR(32),
  [litros] FLOAT,
  [tipoBebida] NVARCHAR(64)
); END;`,
	`IF OBJECT_ID(N'dimension_tiempo', N'U') IS NULL BEGIN CREATE TABLE dimension_tiempo (
  [id_tiempo] BIGINT PRIMARY KEY,
  [fecha] DATE UNIQUE,
  [dia] INT,
  [mes] INT,
  [trimestre] INT,
  [año] INT
); END;`,
	`IF OBJECT_ID(N'tabla_hecho_ventas', N'U') IS NULL BEGIN CREATE TABLE tabla_hecho_ventas (
  [id_venta] BIGINT IDENTITY(1,1) PRIMARY KEY,
  [id_tiempo] BIGINT REFERENCES dimension_tiempo ([id_tiempo]),
  [id_cliente] BIGINT REFERENCES dimension_clientes ([id_cliente]),
  [id_vendedor] BIGINT REFERENCES dimension_vendedores ([id_vendedor]),
  [id_producto] BIGINT REFERENCES dimension_productos ([product_id]),
  [cantidad] BIGINT,
  [precio] FLOAT
); END;`,
	`IF OBJECT_ID(N'carga_hechos', N'U') IS NULL BEGIN CREATE TABLE carga_hechos (
  [id_origen] NVARCHAR(128) PRIMARY KEY,
  [cargado_en] DATETIME2 NOT NULL
); END;`,
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
	meta, ok := storage.DimensionMetaFor(table)
	if !ok {
		return 0, fmt.Errorf("mssql: not a dimension table: %s", table)
	}

	maxRows := 2000 / maxInt(1, len(columns))
	if maxRows < 1 {
		maxRows = 1
	}

	var total int64
	for start := 0; start < len(rows); start += maxRows {
		end := start + maxRows
		if end > len(rows) {
			end = len(rows)
		}

		q, args := buildUpsertSQL(table, columns, rows[start:end], meta.KeyColumn)
		res, err := s.db.ExecContext(ctx, q, args...)
		if err != nil {
			return total, fmt.Errorf("upsert %s: %w", table, classify(err))
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

func (s *Store) SelectKeyValue(ctx context.Context, table, keyColumn, idColumn string) (map[string]int64, error) {
	q := fmt.Sprintf("SELECT %s, %s FROM %s", mssqlIdent(keyColumn), mssqlIdent(idColumn), mssqlIdent(table))
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

	const chunk = 1000
	for start := 0; start < len(ids); start += chunk {
		end := start + chunk
		if end > len(ids) {
			end = len(ids)
		}
		part := ids[start:end]

		var b strings.Builder
		b.WriteString("SELECT [id_origen] FROM carga_hechos WHERE [id_origen] IN (")
		args := make([]any, len(part))
		for i, id := range part {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString("@p")
			b.WriteString(strconv.Itoa(i + 1))
			args[i] = id
		}
		b.WriteString(")")

		rows, err := s.db.QueryContext(ctx, b.String(), args...)
		if err != nil {
			return nil, classify(err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				_ = rows.Close()
				return nil, err
			}
			out[id] = true
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return nil, classify(err)
		}
		_ = rows.Close()
	}
	return out, nil
}

func (s *Store) InsertFactRows(ctx context.Context, columns []string, rows [][]any, sourceIDs []string) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(rows) != len(sourceIDs) {
		return 0, fmt.Errorf("mssql: %d rows but %d source ids", len(rows), len(sourceIDs))
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

	maxRows := 2000 / maxInt(1, len(columns))
	if maxRows < 1 {
		maxRows = 1
	}

	var total int64
	for start := 0; start < len(keepRows); start += maxRows {
		end := start + maxRows
		if end > len(keepRows) {
			end = len(keepRows)
		}

		q, args := buildBulkInsertSQL(storage.TableVentas, columns, keepRows[start:end])
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return 0, fmt.Errorf("insert facts: %w", classify(err))
		}
		n, _ := res.RowsAffected()
		total += n
	}

	now := time.Now().UTC()
	for start := 0; start < len(keepIDs); start += maxRows {
		end := start + maxRows
		if end > len(keepIDs) {
			end = len(keepIDs)
		}
		part := keepIDs[start:end]

		ledger := make([][]any, len(part))
		for i, id := range part {
			ledger[i] = []any{id, now}
		}
		q, args := buildUpsertSQL(storage.TableCargaHechos, []string{"id_origen", "cargado_en"}, ledger, "id_origen")
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return 0, fmt.Errorf("insert ledger: %w", classify(err))
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, classify(err)
	}
	return total, nil
}

// buildUpsertSQL constructs INSERT ... SELECT over a VALUES derived table
// with a NOT EXISTS guard on keyColumn. Pure, for unit testing.
func buildUpsertSQL(table string, columns []string, rows [][]any, keyColumn string) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(mssqlIdent(table))
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(mssqlIdent(c))
	}
	b.WriteString(") SELECT ")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("v.")
		b.WriteString(mssqlIdent(c))
	}
	b.WriteString(" FROM (VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	p := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteString("@p")
			b.WriteString(strconv.Itoa(p))
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}

	b.WriteString(") AS v(")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(mssqlIdent(c))
	}
	b.WriteString(") WHERE NOT EXISTS (SELECT 1 FROM ")
	b.WriteString(mssqlIdent(table))
	b.WriteString(" t WHERE t.")
	b.WriteString(mssqlIdent(keyColumn))
	b.WriteString(" = v.")
	b.WriteString(mssqlIdent(keyColumn))
	b.WriteString(")")

	return b.String(), args
}

// buildBulkInsertSQL builds a single INSERT ... VALUES statement for all rows.
func buildBulkInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(mssqlIdent(table))
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(mssqlIdent(c))
	}
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	p := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteString("@p")
			b.WriteString(strconv.Itoa(p))
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}
	return b.String(), args
}

// mssqlIdent returns a bracket-quoted identifier, escaping ']' as ']]'.
func mssqlIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	var merr mssqldriver.Error
	if errors.As(err, &merr) {
		if merr.Number == numberFKViolation {
			return fmt.Errorf("%w: %v", storage.ErrReferentialIntegrity, err)
		}
		return err
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	if errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	return err
}

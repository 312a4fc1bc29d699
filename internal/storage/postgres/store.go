// Package postgres implements storage.Store on top of pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"salesdw/internal/storage"
)

type Store struct {
	pool *pgxpool.Pool
}

func init() {
	storage.Register("postgres", New)
}

func New(ctx context.Context, cfg storage.Config) (storage.Store, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, classify(err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, classify(err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() { s.pool.Close() }

// schemaDDL creates the star schema plus the fact-load ledger. Column names
// and types are the published warehouse contract; "año" and "tipoEnvase"
// need quoting because of the non-ASCII rune and the mixed case.
var schemaDDL = []string{
	`CREATE TABLE IF NOT EXISTS dimension_clientes (
  id_cliente BIGINT PRIMARY KEY,
  nombre VARCHAR(255),
  ciudad VARCHAR(100),
  provincia VARCHAR(100),
  zona VARCHAR(100),
  tipo_cliente VARCHAR(100),
  rango_edad VARCHAR(50)
);`,
	`CREATE TABLE IF NOT EXISTS dimension_vendedores (
  id_vendedor BIGINT PRIMARY KEY,
  nombre VARCHAR(255),
  sexo VARCHAR(50),
  antiguedad INTEGER,
  fecha_nacimiento DATE,
  zona VARCHAR(55)
);`,
	`CREATE TABLE IF NOT EXISTS dimension_productos (
  product_id BIGINT PRIMARY KEY,
  detalle VARCHAR(255),
  "tipoEnvase" VARCHAR(50),
  litros DOUBLE PRECISION,
  "tipoBebida" VARCHAR(50)
);`,
	`CREATE TABLE IF NOT EXISTS dimension_tiempo (
  id_tiempo BIGINT PRIMARY KEY,
  fecha DATE UNIQUE,
  dia INTEGER,
  mes INTEGER,
  trimestre INTEGER,
  "año" INTEGER
);`,
	`CREATE TABLE IF NOT EXISTS tabla_hecho_ventas (
  id_venta BIGSERIAL PRIMARY KEY,
  id_tiempo BIGINT REFERENCES dimension_tiempo (id_tiempo),
  id_cliente BIGINT REFERENCES dimension_clientes (id_cliente),
  id_vendedor BIGINT REFERENCES dimension_vendedores (id_vendedor),
  id_producto BIGINT REFERENCES dimension_productos (product_id),
  cantidad INTEGER,
  precio DOUBLE PRECISION
);`,
	`CREATE TABLE IF NOT EXISTS carga_hechos (
  id_origen VARCHAR(128) PRIMARY KEY,
  cargado_en TIMESTAMPTZ NOT NULL DEFAULT now()
);`,
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, ddl := range schemaDDL {
		if _, err := s.pool.Exec(ctx, ddl); err != nil {
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
		return 0, fmt.Errorf("postgres: not a dimension table: %s", table)
	}

	sql, args := buildInsertSQL(table, columns, rows, []string{meta.KeyColumn})
	cmd, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("upsert %s: %w", table, classify(err))
	}
	return cmd.RowsAffected(), nil
}

func (s *Store) SelectKeyValue(ctx context.Context, table, keyColumn, idColumn string) (map[string]int64, error) {
	q := fmt.Sprintf(`SELECT %s, %s FROM %s`, pgIdent(keyColumn), pgIdent(idColumn), table)
	rows, err := s.pool.Query(ctx, q)
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
	rows, err := s.pool.Query(ctx,
		`SELECT id_origen FROM carga_hechos WHERE id_origen = ANY($1)`, ids)
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

// InsertFactRows appends fact rows and their ledger entries in one
// transaction, skipping rows whose source id is already ledgered. The
// ledger insert and the fact insert commit or roll back together, so a
// retried batch can never double-insert facts.
func (s *Store) InsertFactRows(ctx context.Context, columns []string, rows [][]any, sourceIDs []string) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(rows) != len(sourceIDs) {
		return 0, fmt.Errorf("postgres: %d rows but %d source ids", len(rows), len(sourceIDs))
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

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, classify(err)
	}
	defer tx.Rollback(ctx)

	sql, args := buildInsertSQL(storage.TableVentas, columns, keepRows, nil)
	cmd, err := tx.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("insert facts: %w", classify(err))
	}

	ledgerRows := make([][]any, len(keepIDs))
	for i, id := range keepIDs {
		ledgerRows[i] = []any{id}
	}
	// ON CONFLICT guards against a concurrent loader racing the same batch.
	lsql, largs := buildInsertSQL(storage.TableCargaHechos, []string{"id_origen"}, ledgerRows, []string{"id_origen"})
	if _, err := tx.Exec(ctx, lsql, largs...); err != nil {
		return 0, fmt.Errorf("insert ledger: %w", classify(err))
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, classify(err)
	}
	return cmd.RowsAffected(), nil
}

// buildInsertSQL constructs a single multi-row INSERT and its args.
//
// It is pure and deterministic so placeholder numbering and ON CONFLICT
// behavior can be unit tested without a database.
func buildInsertSQL(table string, columns []string, rows [][]any, conflictColumns []string) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgIdent(c))
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
			fmt.Fprintf(&b, "$%d", p)
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}

	if len(conflictColumns) > 0 {
		b.WriteString(" ON CONFLICT (")
		for i, c := range conflictColumns {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(pgIdent(c))
		}
		b.WriteString(") DO NOTHING")
	}

	b.WriteString(";")
	return b.String(), args
}

func pgIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

// classify wraps driver errors with the storage sentinels so the coordinator
// can distinguish systemic failures from per-row ones.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == "23503" {
			return fmt.Errorf("%w: %s", storage.ErrReferentialIntegrity, pgErr.Message)
		}
		return err
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	return err
}

// Package storage defines the backend-agnostic load interface for the star
// schema and a factory registry for the concrete backends.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Table names of the published star schema. Column names and types are fixed
// by the warehouse contract and owned by each backend's DDL.
const (
	TableClientes   = "dimension_clientes"
	TableVendedores = "dimension_vendedores"
	TableProductos  = "dimension_productos"
	TableTiempo     = "dimension_tiempo"
	TableVentas     = "tabla_hecho_ventas"

	// TableCargaHechos is the auxiliary fact-load ledger keyed by the stable
	// source row identifier. It is what makes fact loading idempotent; it is
	// not part of the published schema.
	TableCargaHechos = "carga_hechos"
)

// Sentinel classifications for systemic failures. Backends wrap driver
// errors with these so the coordinator can decide between "skip the row"
// and "abort the load" without knowing driver error shapes.
var (
	// ErrUnavailable marks connection-level failures: the store rejected or
	// lost the connection.
	ErrUnavailable = errors.New("store unavailable")

	// ErrReferentialIntegrity marks foreign key violations on fact inserts.
	// These indicate a coordinator ordering bug, never bad input.
	ErrReferentialIntegrity = errors.New("referential integrity violation")
)

// Config selects and configures a backend.
type Config struct {
	Kind string
	DSN  string
}

// Store is the load interface consumed by the coordinator.
//
// All write operations are idempotent at the store level: dimension upserts
// are insert-if-absent on the table's key, and fact inserts are gated by the
// source-id ledger.
type Store interface {
	// Close releases connections. Call once at shutdown.
	Close()

	// EnsureSchema creates the five star-schema tables and the load ledger
	// if they do not exist, with primary/foreign key constraints.
	EnsureSchema(ctx context.Context) error

	// UpsertDimensionRows inserts dimension rows that do not yet exist,
	// keyed on the table's natural-key constraint. First writer wins;
	// existing rows are never modified. Returns rows actually inserted.
	UpsertDimensionRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error)

	// SelectKeyValue returns naturalKey -> surrogate id for every row of a
	// dimension table, used to prewarm builder mappings for incremental
	// loads.
	SelectKeyValue(ctx context.Context, table, keyColumn, idColumn string) (map[string]int64, error)

	// LoadedSourceIDs reports which of the given stable source row ids are
	// already recorded in the fact ledger.
	LoadedSourceIDs(ctx context.Context, ids []string) (map[string]bool, error)

	// InsertFactRows appends fact rows and records their source ids in the
	// ledger within one transaction. Rows whose source id is already
	// ledgered are skipped. Returns rows actually inserted.
	InsertFactRows(ctx context.Context, columns []string, rows [][]any, sourceIDs []string) (int64, error)
}

type factory func(ctx context.Context, cfg Config) (Store, error)

var (
	factoryMu sync.RWMutex
	factories = map[string]factory{}
)

// Register registers a backend under a kind ("postgres", "sqlite", "mssql").
// Called from backend init() functions; double registration panics to fail
// fast on ambiguous backend selection.
func Register(kind string, f factory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}
	factories[kind] = f
}

// New constructs a Store for the configured backend kind.
func New(ctx context.Context, cfg Config) (Store, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing kind")
	}

	factoryMu.RLock()
	f := factories[cfg.Kind]
	factoryMu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported storage.kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}

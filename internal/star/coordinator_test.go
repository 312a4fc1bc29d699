package star

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"salesdw/internal/config"
	"salesdw/internal/storage"
	"salesdw/internal/transformer"
)

// fakeStore is an in-memory Store with upsert-by-key and a source-id
// ledger, mirroring what the real backends do.
type fakeStore struct {
	mu sync.Mutex

	dims   map[string]map[string]int64
	facts  [][]any
	ledger map[string]bool

	ensureCalls   int
	failUpsertOn  string
	failUpsertErr error
	failInsertErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		dims:   map[string]map[string]int64{},
		ledger: map[string]bool{},
	}
}

func (s *fakeStore) Close() {}

func (s *fakeStore) EnsureSchema(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureCalls++
	return nil
}

func (s *fakeStore) UpsertDimensionRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failUpsertOn == table && s.failUpsertErr != nil {
		return 0, s.failUpsertErr
	}

	meta, ok := storage.DimensionMetaFor(table)
	if !ok {
		return 0, fmt.Errorf("unknown table %s", table)
	}
	keyIdx, idIdx := -1, -1
	for i, c := range columns {
		if c == meta.KeyColumn {
			keyIdx = i
		}
		if c == meta.IDColumn {
			idIdx = i
		}
	}
	if keyIdx < 0 || idIdx < 0 {
		return 0, fmt.Errorf("%s: key or id column missing from %v", table, columns)
	}

	byKey := s.dims[table]
	if byKey == nil {
		byKey = map[string]int64{}
		s.dims[table] = byKey
	}

	var inserted int64
	for _, row := range rows {
		key := storage.NormalizeKey(row[keyIdx])
		if _, exists := byKey[key]; exists {
			continue
		}
		id, _ := row[idIdx].(int64)
		byKey[key] = id
		inserted++
	}
	return inserted, nil
}

func (s *fakeStore) SelectKeyValue(ctx context.Context, table, keyColumn, idColumn string) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]int64{}
	for k, v := range s.dims[table] {
		out[k] = v
	}
	return out, nil
}

func (s *fakeStore) LoadedSourceIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]bool{}
	for _, id := range ids {
		if s.ledger[id] {
			out[id] = true
		}
	}
	return out, nil
}

func (s *fakeStore) InsertFactRows(ctx context.Context, columns []string, rows [][]any, sourceIDs []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failInsertErr != nil {
		return 0, s.failInsertErr
	}

	var inserted int64
	for i, row := range rows {
		if s.ledger[sourceIDs[i]] {
			continue
		}
		s.ledger[sourceIDs[i]] = true
		s.facts = append(s.facts, row)
		inserted++
	}
	return inserted, nil
}

var _ storage.Store = (*fakeStore)(nil)

// fakeStream yields the given records as pooled rows on every invocation,
// matching the restartable two-pass contract of the real source.
func fakeStream(t *testing.T, records []map[string]any) StreamFn {
	t.Helper()
	return func(ctx context.Context, cfg config.Pipeline, columns []string, onReject func(line int, reason string)) (*ValidatedStream, error) {
		ch := make(chan *transformer.Row, len(records)+1)
		for i, fields := range records {
			ch <- pooledRow(t, i+1, fields)
		}
		close(ch)
		return &ValidatedStream{Rows: ch, wait: func() error { return nil }}, nil
	}
}

func testCoordinator(store storage.Store, stream StreamFn) *Coordinator {
	return &Coordinator{
		Store:    store,
		Stream:   stream,
		Now:      testNow,
		NewRunID: func() string { return "run-1" },
	}
}

func TestRunSingleRecordPopulatesStarSchema(t *testing.T) {
	store := newFakeStore()
	c := testCoordinator(store, fakeStream(t, []map[string]any{saleFields(t)}))

	rep, err := c.Run(context.Background(), config.Pipeline{})
	if err != nil {
		t.Fatal(err)
	}

	if !rep.DimensionsCommitted {
		t.Fatal("dimensions not committed")
	}
	for _, table := range storage.DimensionTables() {
		if rep.DimensionsCreated[table] != 1 {
			t.Fatalf("%s created = %d, want 1", table, rep.DimensionsCreated[table])
		}
	}
	if rep.FactsInserted != 1 || rep.FactsSkipped != 0 {
		t.Fatalf("facts inserted=%d skipped=%d", rep.FactsInserted, rep.FactsSkipped)
	}
	if len(rep.Rejected) != 0 {
		t.Fatalf("rejected = %+v", rep.Rejected)
	}

	if len(store.facts) != 1 {
		t.Fatalf("stored facts = %d", len(store.facts))
	}
	want := []any{int64(1), int64(7), int64(3), int64(11), int64(3), 150.0}
	for i, v := range want {
		if store.facts[0][i] != v {
			t.Fatalf("fact[%d] = %v, want %v", i, store.facts[0][i], v)
		}
	}
}

func TestRunRerunIsIdempotent(t *testing.T) {
	store := newFakeStore()
	records := []map[string]any{saleFields(t)}
	cfg := config.Pipeline{}
	cfg.Runtime.PrewarmDimensions = true

	if _, err := testCoordinator(store, fakeStream(t, records)).Run(context.Background(), cfg); err != nil {
		t.Fatal(err)
	}

	rep, err := testCoordinator(store, fakeStream(t, records)).Run(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}

	for _, table := range storage.DimensionTables() {
		if rep.DimensionsCreated[table] != 0 {
			t.Fatalf("rerun created %d rows in %s", rep.DimensionsCreated[table], table)
		}
	}
	if rep.FactsInserted != 0 || rep.FactsSkipped != 1 {
		t.Fatalf("rerun facts inserted=%d skipped=%d", rep.FactsInserted, rep.FactsSkipped)
	}
	if len(store.facts) != 1 {
		t.Fatalf("stored facts after rerun = %d", len(store.facts))
	}
}

func TestRunRetryAfterDimensionFailure(t *testing.T) {
	store := newFakeStore()
	store.failUpsertOn = storage.TableVendedores
	store.failUpsertErr = fmt.Errorf("connection reset: %w", storage.ErrUnavailable)

	records := []map[string]any{saleFields(t)}
	rep, err := testCoordinator(store, fakeStream(t, records)).Run(context.Background(), config.Pipeline{})

	var unavailable *StoreUnavailable
	if !errors.As(err, &unavailable) {
		t.Fatalf("err = %v, want StoreUnavailable", err)
	}
	if rep.DimensionsCommitted {
		t.Fatal("dimensions reported committed after a failed batch")
	}
	if rep.DimensionsCreated[storage.TableTiempo] != 1 || rep.DimensionsCreated[storage.TableClientes] != 1 {
		t.Fatalf("partial progress = %v", rep.DimensionsCreated)
	}

	// Retry against the recovered store; committed tables are not
	// duplicated.
	store.failUpsertErr = nil
	cfg := config.Pipeline{}
	cfg.Runtime.PrewarmDimensions = true

	rep, err = testCoordinator(store, fakeStream(t, records)).Run(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	if rep.DimensionsCreated[storage.TableTiempo] != 0 || rep.DimensionsCreated[storage.TableVendedores] != 1 {
		t.Fatalf("retry created = %v", rep.DimensionsCreated)
	}
	for _, table := range storage.DimensionTables() {
		if n := len(store.dims[table]); n != 1 {
			t.Fatalf("%s holds %d rows after retry", table, n)
		}
	}
	if rep.FactsInserted != 1 {
		t.Fatalf("retry facts inserted = %d", rep.FactsInserted)
	}
}

func TestRunClassifiesReferentialIntegrityFailure(t *testing.T) {
	store := newFakeStore()
	store.failInsertErr = fmt.Errorf("fk violation: %w", storage.ErrReferentialIntegrity)

	rep, err := testCoordinator(store, fakeStream(t, []map[string]any{saleFields(t)})).
		Run(context.Background(), config.Pipeline{})

	var ri *ReferentialIntegrityFailure
	if !errors.As(err, &ri) {
		t.Fatalf("err = %v, want ReferentialIntegrityFailure", err)
	}
	if !rep.DimensionsCommitted {
		t.Fatal("dimension commit state lost on fact failure")
	}
}

func TestRunListsRejectedRecordsOnce(t *testing.T) {
	good := saleFields(t)

	badPrice := saleFields(t)
	badPrice["id_origen"] = "src-2"
	badPrice["precio"] = -5.0

	noCustomer := saleFields(t)
	noCustomer["id_origen"] = "src-3"
	delete(noCustomer, "cliente_id")

	store := newFakeStore()
	rep, err := testCoordinator(store, fakeStream(t, []map[string]any{good, badPrice, noCustomer})).
		Run(context.Background(), config.Pipeline{})
	if err != nil {
		t.Fatal(err)
	}

	if rep.FactsInserted != 1 {
		t.Fatalf("facts inserted = %d, want 1", rep.FactsInserted)
	}
	if len(rep.Rejected) != 2 {
		t.Fatalf("rejected = %+v, want two entries", rep.Rejected)
	}
	if rep.Rejected[0].Line != 2 || rep.Rejected[1].Line != 3 {
		t.Fatalf("rejected lines = %+v, want 2 then 3", rep.Rejected)
	}

	// Dimension rows from the valid record only.
	if rep.DimensionsCreated[storage.TableClientes] != 1 {
		t.Fatalf("clientes created = %d", rep.DimensionsCreated[storage.TableClientes])
	}
}

func TestRunRejectPolicySkipsConflictingRecords(t *testing.T) {
	first := saleFields(t)
	moved := saleFields(t)
	moved["id_origen"] = "src-2"
	moved["ciudad"] = "Salta"

	store := newFakeStore()
	cfg := config.Pipeline{}
	cfg.Runtime.ConflictPolicy = string(Reject)

	rep, err := testCoordinator(store, fakeStream(t, []map[string]any{first, moved})).
		Run(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}

	if rep.FactsInserted != 1 {
		t.Fatalf("facts inserted = %d, want 1", rep.FactsInserted)
	}
	if len(rep.Rejected) != 1 || rep.Rejected[0].Line != 2 {
		t.Fatalf("rejected = %+v", rep.Rejected)
	}
	if rep.DimensionsCreated[storage.TableClientes] != 1 {
		t.Fatalf("clientes created = %d", rep.DimensionsCreated[storage.TableClientes])
	}
}

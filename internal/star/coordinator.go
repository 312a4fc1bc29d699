package star

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"salesdw/internal/config"
	"salesdw/internal/export"
	"salesdw/internal/metrics"
	"salesdw/internal/storage"
)

// Logger is the minimal logging interface used by the coordinator.
// *log.Logger satisfies it.
type Logger interface {
	Printf(format string, v ...any)
}

// Coordinator runs one load: dimensions first, durably committed, then
// facts. It owns the ordering constraint structurally; fact loading cannot
// start before every dimension batch has been persisted.
type Coordinator struct {
	Store  storage.Store
	Logger Logger

	// Stream is an optional seam; when nil, StreamValidatedRows is used.
	Stream StreamFn

	// Now is the load clock for age/tenure derivations; nil means time.Now.
	Now func() time.Time

	// NewRunID overrides run id generation in tests; nil means uuid.
	NewRunID func() string
}

// Run executes the two-pass load and returns the consolidated report. The
// report is returned alongside systemic errors too, marking how far the
// load got.
func (c *Coordinator) Run(ctx context.Context, cfg config.Pipeline) (*Report, error) {
	if c.Store == nil {
		return nil, fmt.Errorf("coordinator: Store is required")
	}
	logf := c.logger()

	policy, err := ParseConflictPolicy(cfg.Runtime.ConflictPolicy)
	if err != nil {
		return nil, err
	}

	var zones ZoneIndex
	if cfg.Source.Regions != nil {
		zones, err = LoadZones(cfg.Source.Regions.Path)
		if err != nil {
			return nil, err
		}
	}

	rep := newReport(c.runID())
	resolver := NewKeyResolver(policy, zones, c.now())

	ddlStart := time.Now()
	if err := c.Store.EnsureSchema(ctx); err != nil {
		return rep, classifyStoreErr(err)
	}
	logf("stage=ddl ok duration=%s", durMS(ddlStart))

	if cfg.Runtime.PrewarmDimensions {
		if err := c.prewarm(ctx, resolver); err != nil {
			return rep, classifyStoreErr(err)
		}
		logf("stage=prewarm ok")
	}

	pass1Start := time.Now()
	if err := c.ensureDimensions(ctx, cfg, resolver, rep); err != nil {
		return rep, classifyStoreErr(err)
	}
	rep.DimensionsCommitted = true
	observeStage("pass1_ensure_dims", pass1Start)
	logf("stage=pass1_ensure_dims ok duration=%s", durMS(pass1Start))

	pass2Start := time.Now()
	if err := c.loadFacts(ctx, cfg, resolver, rep); err != nil {
		rep.sortRejected()
		return rep, classifyStoreErr(err)
	}
	observeStage("pass2_load_facts", pass2Start)
	logf("stage=pass2_load_facts ok duration=%s", durMS(pass2Start))

	rep.sortRejected()
	metrics.IncCounter("load_rows_total", float64(rep.FactsInserted), metrics.Labels{"kind": "fact_inserted"})
	metrics.IncCounter("load_rows_total", float64(rep.FactsSkipped), metrics.Labels{"kind": "fact_skipped"})
	metrics.IncCounter("load_rows_total", float64(len(rep.Rejected)), metrics.Labels{"kind": "rejected"})

	return rep, nil
}

func (c *Coordinator) logger() func(format string, v ...any) {
	if c.Logger == nil {
		l := log.New(discardWriter{}, "", 0)
		return l.Printf
	}
	return c.Logger.Printf
}

func (c *Coordinator) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now().UTC()
}

func (c *Coordinator) runID() string {
	if c.NewRunID != nil {
		return c.NewRunID()
	}
	return uuid.NewString()
}

func (c *Coordinator) stream(ctx context.Context, cfg config.Pipeline, onReject func(line int, reason string)) (*ValidatedStream, error) {
	if c.Stream != nil {
		return c.Stream(ctx, cfg, Columns, onReject)
	}
	return StreamValidatedRows(ctx, cfg, Columns, onReject)
}

// prewarm seeds every builder with the natural-key mappings already
// persisted, so incremental loads reuse surrogates instead of colliding.
func (c *Coordinator) prewarm(ctx context.Context, resolver *KeyResolver) error {
	for _, b := range resolver.Builders() {
		meta, ok := storage.DimensionMetaFor(b.Table())
		if !ok {
			return fmt.Errorf("prewarm: unknown dimension %s", b.Table())
		}
		keys, err := c.Store.SelectKeyValue(ctx, meta.Table, meta.KeyColumn, meta.IDColumn)
		if err != nil {
			return fmt.Errorf("prewarm %s: %w", meta.Table, err)
		}
		b.Prewarm(keys)
	}
	return nil
}

// ensureDimensions is pass 1: stream every record, register the four
// dimension rows per record (all or nothing), and persist pending rows in
// batches. Per-record failures are skipped here; pass 2 sees the same
// records fail the same way and owns the reporting.
func (c *Coordinator) ensureDimensions(
	ctx context.Context,
	cfg config.Pipeline,
	resolver *KeyResolver,
	rep *Report,
) error {
	logf := c.logger()

	batchSize := cfg.Runtime.BatchSize
	if batchSize <= 0 {
		batchSize = 1024
	}

	stream, err := c.stream(ctx, cfg, nil)
	if err != nil {
		return err
	}

	flush := func(b DimensionBuilder) error {
		meta, _ := storage.DimensionMetaFor(b.Table())
		rows := b.DrainPending()
		if len(rows) == 0 {
			return nil
		}
		n, err := c.Store.UpsertDimensionRows(ctx, meta.Table, meta.Columns, rows)
		if err != nil {
			return fmt.Errorf("upsert %s: %w", meta.Table, err)
		}
		rep.DimensionsCreated[meta.Table] += n
		return nil
	}

	seen := 0
	pending := map[string]int{}
	for r := range stream.Rows {
		seen++
		rec := RecordOf(r)

		if _, err := resolver.Register(rec); err != nil {
			r.Free()
			if isPerRecord(err) {
				continue
			}
			return err
		}
		r.Free()

		for _, b := range resolver.Builders() {
			pending[b.Table()]++
			if pending[b.Table()] >= batchSize {
				pending[b.Table()] = 0
				if err := flush(b); err != nil {
					return err
				}
			}
		}
	}
	if err := stream.Wait(); err != nil {
		return err
	}

	// Final flush in dependency-stable table order; after this the
	// dimension group is durably committed.
	for _, table := range storage.DimensionTables() {
		for _, b := range resolver.Builders() {
			if b.Table() != table {
				continue
			}
			if err := flush(b); err != nil {
				return err
			}
		}
	}

	logf("stage=pass1_rows seen_rows=%d", seen)
	return nil
}

// loadFacts is pass 2: stream again, resolve keys in memory, assemble fact
// rows, and insert them via a loader worker pool. Any worker error cancels
// the pass; the first error wins.
func (c *Coordinator) loadFacts(
	ctx context.Context,
	cfg config.Pipeline,
	resolver *KeyResolver,
	rep *Report,
) error {
	logf := c.logger()

	batchSize := cfg.Runtime.BatchSize
	if batchSize <= 0 {
		batchSize = 1024
	}
	loaderWorkers := cfg.Runtime.LoaderWorkers
	if loaderWorkers <= 0 {
		loaderWorkers = 1
	}
	debug := cfg.Runtime.DebugTimings

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	errCh := make(chan error, 1)
	setErr := func(err error) {
		if err == nil {
			return
		}
		select {
		case errCh <- err:
			cancel(err)
		default:
			// First error wins.
		}
	}

	stream, err := c.stream(ctx, cfg, rep.reject)
	if err != nil {
		return err
	}

	facts := StreamFacts(ctx, resolver, stream.Rows, cfg.Runtime.ChannelBuffer, rep.reject)

	var inserted, skipped atomic.Int64
	var exportMu sync.Mutex
	var exportRows [][]any
	collectExport := cfg.Export != nil

	batchCh := make(chan []FactRow, loaderWorkers*2)

	var wg sync.WaitGroup
	wg.Add(loaderWorkers)
	for w := 0; w < loaderWorkers; w++ {
		go func(workerID int) {
			defer wg.Done()
			for batch := range batchCh {
				select {
				case <-ctx.Done():
					continue
				default:
				}

				rows := make([][]any, len(batch))
				ids := make([]string, len(batch))
				for i, f := range batch {
					rows[i] = f.Values()
					ids[i] = f.SourceID
				}

				start := time.Now()
				n, err := c.Store.InsertFactRows(ctx, storage.FactColumns, rows, ids)
				if err != nil {
					setErr(err)
					continue
				}
				inserted.Add(n)
				skipped.Add(int64(len(batch)) - n)

				if collectExport {
					exportMu.Lock()
					exportRows = append(exportRows, rows...)
					exportMu.Unlock()
				}
				if debug {
					logf("stage=pass2_batch worker=%d rows=%d inserted=%d duration=%s",
						workerID, len(batch), n, durMS(start))
				}
			}
		}(w)
	}

	seen := 0
	batch := make([]FactRow, 0, batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		out := batch
		batch = make([]FactRow, 0, batchSize)
		select {
		case batchCh <- out:
		case <-ctx.Done():
		}
	}

	for f := range facts.Out {
		seen++
		batch = append(batch, f)
		if len(batch) >= batchSize {
			flush()
		}
	}
	flush()
	close(batchCh)
	wg.Wait()
	facts.Wait()

	rep.FactsInserted = inserted.Load()
	rep.FactsSkipped = skipped.Load()

	if err := stream.Wait(); err != nil {
		select {
		case werr := <-errCh:
			return werr
		default:
		}
		return err
	}
	select {
	case werr := <-errCh:
		return werr
	default:
	}

	logf("stage=pass2_rows assembled_rows=%d loader_workers=%d", seen, loaderWorkers)

	if cfg.Export != nil {
		if err := c.exportSnapshots(cfg.Export.Dir, resolver, exportRows); err != nil {
			return err
		}
		logf("stage=export ok dir=%s", cfg.Export.Dir)
	}
	return nil
}

// exportSnapshots writes CSV snapshots of the rows this load produced, one
// file per table.
func (c *Coordinator) exportSnapshots(dir string, resolver *KeyResolver, factRows [][]any) error {
	for _, b := range resolver.Builders() {
		meta, _ := storage.DimensionMetaFor(b.Table())
		if _, err := export.WriteSnapshot(dir, meta.Table, meta.Columns, b.Rows()); err != nil {
			return err
		}
	}
	_, err := export.WriteSnapshot(dir, storage.TableVentas, storage.FactColumns, factRows)
	return err
}

func observeStage(stage string, start time.Time) {
	metrics.ObserveHistogram("load_stage_duration_seconds", time.Since(start).Seconds(), metrics.Labels{"stage": stage})
}

func durMS(start time.Time) time.Duration { return time.Since(start).Truncate(time.Millisecond) }

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

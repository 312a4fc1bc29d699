package star

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"salesdw/internal/config"
	"salesdw/internal/parser/csv"
	"salesdw/internal/schema"
	"salesdw/internal/transformer"
)

// ValidatedStream is one streaming pass over the source extract:
// file -> csv -> coerce -> validate, emitting pooled rows aligned to the
// canonical columns. Consumers own each received row and must Free it.
type ValidatedStream struct {
	Rows <-chan *transformer.Row

	wait func() error
}

// Wait blocks until all stages finish and returns the first fatal error
// (parse setup failures; per-row rejects are not fatal).
func (s *ValidatedStream) Wait() error { return s.wait() }

// StreamFn is a seam for providing validated row streams; tests inject
// deterministic streams without file I/O.
type StreamFn func(ctx context.Context, cfg config.Pipeline, columns []string, onReject func(line int, reason string)) (*ValidatedStream, error)

// StreamValidatedRows opens the configured source file and runs the full
// parse/coerce/validate stack. Rejected rows are reported via onReject and
// skipped; a failure to read the source at all surfaces through Wait.
func StreamValidatedRows(
	ctx context.Context,
	cfg config.Pipeline,
	columns []string,
	onReject func(line int, reason string),
) (*ValidatedStream, error) {
	if cfg.Source.File == nil {
		return nil, fmt.Errorf("stream: source.file is required")
	}
	f, err := os.Open(cfg.Source.File.Path)
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}

	buffer := cfg.Runtime.ChannelBuffer
	if buffer <= 0 {
		buffer = 256
	}
	transformWorkers := cfg.Runtime.TransformWorkers
	if transformWorkers <= 0 {
		transformWorkers = 1
	}

	coerceSpec := transformer.BuildCoerceSpec(coerceTypes(cfg.Transform), coerceLayout(cfg.Transform))
	if err := transformer.ValidateSpecSanity(columns, coerceSpec); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("coerce spec sanity: %w", err)
	}
	contract := contractFrom(cfg.Transform)

	rawCh := make(chan *transformer.Row, buffer)
	coercedCh := make(chan *transformer.Row, buffer)
	validCh := make(chan *transformer.Row, buffer)

	var fatalOnce sync.Once
	var fatalErr error
	onParseErr := func(line int, err error) {
		if err == nil {
			return
		}
		fatalOnce.Do(func() {
			fatalErr = fmt.Errorf("parse error at line %d: %w", line, err)
		})
	}

	var wgReader sync.WaitGroup
	wgReader.Add(1)
	go func() {
		defer wgReader.Done()
		defer close(rawCh)
		_ = csv.StreamCSVRows(ctx, f, columns, cfg.Parser.Options, rawCh, onParseErr)
	}()

	var wgTransformers sync.WaitGroup
	wgTransformers.Add(transformWorkers)
	for i := 0; i < transformWorkers; i++ {
		go func() {
			defer wgTransformers.Done()
			transformer.TransformLoopRows(ctx, columns, rawCh, coercedCh, coerceSpec, onReject)
		}()
	}
	go func() {
		wgTransformers.Wait()
		close(coercedCh)
	}()

	var wgValidator sync.WaitGroup
	wgValidator.Add(1)
	go func() {
		defer wgValidator.Done()
		defer close(validCh)
		transformer.ValidateLoopRows(ctx, columns, contract.Required(), contract.Kinds(), coercedCh, validCh, onReject)
	}()

	return &ValidatedStream{
		Rows: validCh,
		wait: func() error {
			wgReader.Wait()
			wgValidator.Wait()
			return fatalErr
		},
	}, nil
}

// coerceTypes merges the types maps of all coerce transforms, defaulting to
// the built-in contract when the config carries none.
func coerceTypes(ts []config.Transform) map[string]string {
	out := map[string]string{}
	for _, t := range ts {
		if t.Kind != "coerce" {
			continue
		}
		for k, v := range t.Options.StringMap("types") {
			out[k] = v
		}
	}
	if len(out) == 0 {
		for _, f := range DefaultContract().Fields {
			out[f.Name] = f.Type
		}
	}
	return out
}

func coerceLayout(ts []config.Transform) string {
	for _, t := range ts {
		if t.Kind == "coerce" {
			if s := t.Options.String("layout", ""); s != "" {
				return s
			}
		}
	}
	return ""
}

// contractFrom decodes the contract of the first validate transform, falling
// back to the built-in contract.
func contractFrom(ts []config.Transform) schema.Contract {
	for _, t := range ts {
		if t.Kind != "validate" {
			continue
		}
		raw := t.Options.Any("contract")
		if raw == nil {
			continue
		}
		b, err := json.Marshal(raw)
		if err != nil {
			continue
		}
		var c schema.Contract
		if err := json.Unmarshal(b, &c); err != nil {
			continue
		}
		if len(c.Fields) > 0 {
			return c
		}
	}
	return DefaultContract()
}

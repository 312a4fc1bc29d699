// Package csv streams source extracts into pooled transformer rows aligned
// to the canonical column order.
package csv

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/charmap"

	"salesdw/internal/config"
	"salesdw/internal/transformer"
)

// StreamCSVRows reads CSV records from src and emits pooled *transformer.Row
// values ordered by `columns`.
//
// Options honored:
//   - has_header (default true): first record maps source headers to columns.
//   - header_map: source header -> canonical column overrides.
//   - comma (default ","): delimiter; "|" handles the pipe-delimited extracts.
//   - trim_space (default true)
//   - lazy_quotes (default false)
//   - encoding: "utf8" (default) or "latin1" for ISO-8859-1 extracts.
//
// Cancellation: in-flight rows are Drop()ped, never re-pooled, so a draining
// downstream stage cannot observe a reused row.
func StreamCSVRows(
	ctx context.Context,
	src io.ReadCloser,
	columns []string,
	opt config.Options,
	out chan<- *transformer.Row,
	onErr func(line int, err error),
) error {
	defer src.Close()

	var line int

	hasHeader := opt.Bool("has_header", true)
	comma := opt.Rune("comma", ',')
	trim := opt.Bool("trim_space", true)
	hm := opt.StringMap("header_map")
	lazy := opt.Bool("lazy_quotes", false)

	var r io.Reader = src
	if opt.String("encoding", "utf8") == "latin1" {
		r = charmap.ISO8859_1.NewDecoder().Reader(src)
	}

	cr := csv.NewReader(r)
	cr.Comma = comma
	cr.ReuseRecord = true
	cr.LazyQuotes = lazy
	cr.FieldsPerRecord = -1

	colIx := make([]int, len(columns))
	for i := range colIx {
		colIx[i] = -1
	}

	readRec := func() ([]string, error) {
		line++
		return cr.Read()
	}

	if hasHeader {
		hdr, err := readRec()
		if err != nil {
			if onErr != nil {
				onErr(line, fmt.Errorf("read header: %w", err))
			}
			return err
		}
		srcToIdx := make(map[string]int, len(hdr))
		for i, h := range hdr {
			h = strings.TrimSpace(h)
			if i == 0 {
				h = strings.TrimPrefix(h, "\uFEFF")
			}
			if mapped, ok := hm[h]; ok {
				h = mapped
			} else {
				h = strings.ReplaceAll(strings.ToLower(h), " ", "_")
			}
			srcToIdx[h] = i
		}
		for t, target := range columns {
			if si, ok := srcToIdx[target]; ok {
				colIx[t] = si
			}
		}
	} else {
		for i := range columns {
			colIx[i] = i
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		rec, err := readRec()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if onErr != nil {
				onErr(line, fmt.Errorf("csv read: %w", err))
			}
			continue
		}

		row := transformer.GetRow(len(columns))
		row.Line = line

		for t := range columns {
			si := colIx[t]
			if si < 0 || si >= len(rec) {
				row.V[t] = nil
				continue
			}
			v := rec[si]
			if trim {
				v = strings.TrimSpace(v)
			}
			if v == "" {
				row.V[t] = nil
			} else {
				row.V[t] = v
			}
		}

		select {
		case out <- row:
		case <-ctx.Done():
			row.Drop()
			return ctx.Err()
		}
	}
}

// Package export writes CSV snapshots of loaded warehouse tables.
package export

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// timestampSuffix is a seam for collision tests.
var timestampSuffix = func() string {
	return time.Now().UTC().Format("20060102T150405")
}

// WriteSnapshot writes rows as <dir>/<name>.csv with a header line. When the
// target file already exists, a timestamp suffix is appended instead of
// overwriting. Returns the path written.
func WriteSnapshot(dir, name string, columns []string, rows [][]any) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("export: %w", err)
	}

	path := filepath.Join(dir, name+".csv")
	if _, err := os.Stat(path); err == nil {
		path = filepath.Join(dir, name+"_"+timestampSuffix()+".csv")
	}

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("export %s: %w", name, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(columns); err != nil {
		return "", fmt.Errorf("export %s: %w", name, err)
	}

	record := make([]string, len(columns))
	for _, row := range rows {
		for i := range columns {
			if i < len(row) {
				record[i] = renderField(row[i])
			} else {
				record[i] = ""
			}
		}
		if err := w.Write(record); err != nil {
			return "", fmt.Errorf("export %s: %w", name, err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("export %s: %w", name, err)
	}
	return path, nil
}

func renderField(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case time.Time:
		return t.UTC().Format("2006-01-02")
	default:
		return fmt.Sprint(t)
	}
}

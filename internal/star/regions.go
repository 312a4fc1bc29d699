package star

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
)

// ZoneIndex maps a normalized city+state pair to its sales region. It is
// built once from the pipe-delimited region reference file and consulted by
// the customer dimension builder.
type ZoneIndex map[string]string

// LoadZones reads a REGION|STATE|CITY|ZIPCODE reference file. Later entries
// for the same city+state do not override earlier ones.
func LoadZones(path string) (ZoneIndex, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open regions: %w", err)
	}
	defer f.Close()
	return readZones(f)
}

func readZones(r io.Reader) (ZoneIndex, error) {
	cr := csv.NewReader(r)
	cr.Comma = '|'
	cr.ReuseRecord = true
	cr.FieldsPerRecord = -1

	idx := ZoneIndex{}
	header := true
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			return idx, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read regions: %w", err)
		}
		if header {
			header = false
			if strings.EqualFold(strings.TrimSpace(rec[0]), "region") {
				continue
			}
		}
		if len(rec) < 3 {
			continue
		}
		region := strings.TrimSpace(rec[0])
		state := rec[1]
		city := rec[2]
		if region == "" {
			continue
		}
		k := zoneKey(city, state)
		if _, seen := idx[k]; !seen {
			idx[k] = region
		}
	}
}

// Zone returns the region for a city and state, or "" when unknown.
func (z ZoneIndex) Zone(city, state string) string {
	if z == nil {
		return ""
	}
	return z[zoneKey(city, state)]
}

func zoneKey(city, state string) string {
	return strings.ToLower(strings.TrimSpace(city)) + "|" + strings.ToLower(strings.TrimSpace(state))
}

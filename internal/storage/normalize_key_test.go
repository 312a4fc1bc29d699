package storage

import (
	"testing"
	"time"
)

func TestNormalizeKey(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, ""},
		{"string trims", "  Rosario ", "Rosario"},
		{"bytes", []byte(" 42 "), "42"},
		{"int64", int64(8429529), "8429529"},
		{"int", 7, "7"},
		{"date", time.Date(2024, 3, 15, 13, 45, 0, 0, time.UTC), "2024-03-15"},
		{"float fallback", 2.5, "2.5"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeKey(tt.in); got != tt.want {
				t.Fatalf("NormalizeKey(%v)=%q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

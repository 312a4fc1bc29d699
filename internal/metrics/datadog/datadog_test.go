package datadog

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"

	"salesdw/internal/metrics"
)

type fakeSubmitter struct {
	mu       sync.Mutex
	payloads []datadogV2.MetricPayload
}

func (f *fakeSubmitter) SubmitMetrics(_ context.Context, body datadogV2.MetricPayload, _ ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, body)
	return datadogV2.IntakePayloadAccepted{}, nil, nil
}

func (f *fakeSubmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads)
}

func newTestBackend(t *testing.T, sub *fakeSubmitter) *Backend {
	t.Helper()
	b, err := NewBackend(context.Background(), Options{
		JobName:    "test",
		FlushEvery: time.Hour,
		now:        func() time.Time { return time.Unix(1700000000, 0) },
		newTicker:  time.NewTicker,
		submitter:  sub,
	})
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestFlushSubmitsBufferedSeries(t *testing.T) {
	sub := &fakeSubmitter{}
	b := newTestBackend(t, sub)
	defer func() { _ = b.Close() }()

	b.IncCounter("load_rows_total", 10, metrics.Labels{"kind": "fact_inserted"})
	b.IncCounter("load_rows_total", 2, metrics.Labels{"kind": "rejected"})
	b.ObserveHistogram("load_stage_duration_seconds", 1.5, metrics.Labels{"stage": "pass2_load_facts"})

	if err := b.Flush(); err != nil {
		t.Fatal(err)
	}
	if sub.count() != 1 {
		t.Fatalf("payloads = %d, want 1", sub.count())
	}

	series := sub.payloads[0].Series
	byMetric := map[string]int{}
	for _, s := range series {
		byMetric[s.Metric]++
	}
	if byMetric["salesdw.rows.total"] != 2 {
		t.Fatalf("rows.total series = %d, want 2", byMetric["salesdw.rows.total"])
	}
	for _, suffix := range []string{".p50", ".p99", ".max", ".samples"} {
		if byMetric["salesdw.stage.duration_seconds"+suffix] != 1 {
			t.Fatalf("missing duration gauge %s", suffix)
		}
	}
}

func TestFlushEmptyIsNoop(t *testing.T) {
	sub := &fakeSubmitter{}
	b := newTestBackend(t, sub)
	defer func() { _ = b.Close() }()

	if err := b.Flush(); err != nil {
		t.Fatal(err)
	}
	if sub.count() != 0 {
		t.Fatalf("payloads = %d, want 0", sub.count())
	}
}

func TestCloseFlushesTail(t *testing.T) {
	sub := &fakeSubmitter{}
	b := newTestBackend(t, sub)

	b.IncCounter("load_rows_total", 1, metrics.Labels{"kind": "fact_inserted"})
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}
	if sub.count() != 1 {
		t.Fatalf("payloads after Close = %d, want 1", sub.count())
	}
}

func TestUnknownMetricsIgnored(t *testing.T) {
	sub := &fakeSubmitter{}
	b := newTestBackend(t, sub)
	defer func() { _ = b.Close() }()

	b.IncCounter("something_else", 1, nil)
	b.ObserveHistogram("something_else_seconds", 1, nil)

	if err := b.Flush(); err != nil {
		t.Fatal(err)
	}
	if sub.count() != 0 {
		t.Fatalf("payloads = %d, want 0", sub.count())
	}
}

func TestPercentileNearestRank(t *testing.T) {
	s := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	cases := []struct {
		p    float64
		want float64
	}{
		{0, 1},
		{0.5, 6},
		{0.9, 9},
		{1, 10},
	}
	for _, tc := range cases {
		if got := percentileNearestRank(s, tc.p); got != tc.want {
			t.Fatalf("p=%v got %v want %v", tc.p, got, tc.want)
		}
	}
}

func TestParseTagsCSV(t *testing.T) {
	got := ParseTagsCSV(" env:prod , service:loader ,")
	if len(got) != 2 || got[0] != "env:prod" || got[1] != "service:loader" {
		t.Fatalf("got %v", got)
	}
}

package latency

import (
	"testing"
	"time"

	"github.com/bugradar/bugradar/internal/domain"
)

func TestRollupAggregatorFlushBefore(t *testing.T) {
	now := time.Date(2025, time.November, 5, 12, 0, 30, 0, time.UTC)
	agg := newRollupAggregator(time.Minute, 8, func() time.Time { return now })

	agg.add(domain.LatencyRecord{ProjectID: "proj-1", Method: "GET", Path: "/health", StatusCode: 200, LatencyMS: 50, CreatedAt: now.Add(-20 * time.Second)})
	agg.add(domain.LatencyRecord{ProjectID: "proj-1", Method: "GET", Path: "/health", StatusCode: 502, LatencyMS: 150, CreatedAt: now.Add(-10 * time.Second)})
	agg.add(domain.LatencyRecord{ProjectID: "proj-1", Method: "POST", Path: "/orders", StatusCode: 201, LatencyMS: 80, CreatedAt: now.Add(-10 * time.Second)})

	if got := agg.flushBefore(now); len(got) != 0 {
		t.Fatalf("expected open bucket to stay, flushed %d", len(got))
	}

	rollups := agg.flushBefore(now.Add(time.Minute))
	if len(rollups) != 2 {
		t.Fatalf("expected one rollup per endpoint, got %d", len(rollups))
	}
	var health domain.LatencyRollup
	for _, r := range rollups {
		if r.Path == "/health" {
			health = r
		}
	}
	if health.Count != 2 {
		t.Fatalf("expected count 2, got %d", health.Count)
	}
	if health.ErrorCount != 1 {
		t.Fatalf("expected error count 1, got %d", health.ErrorCount)
	}
	if health.AvgMS == nil || *health.AvgMS != 100 {
		t.Fatalf("expected average 100, got %v", health.AvgMS)
	}
	if health.MaxMS == nil || *health.MaxMS != 150 {
		t.Fatalf("expected max 150, got %v", health.MaxMS)
	}
	if health.P50MS == nil || *health.P50MS != 100 {
		t.Fatalf("expected p50 100, got %v", health.P50MS)
	}
	if !health.BucketStart.Equal(time.Date(2025, time.November, 5, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected bucket start %s", health.BucketStart)
	}
	if agg.pending() != 0 {
		t.Fatalf("expected aggregator drained")
	}
}

func TestRollupAggregatorLateRecordDoesNotReopenFlushedBucket(t *testing.T) {
	now := time.Date(2025, time.November, 5, 10, 1, 30, 0, time.UTC)
	agg := newRollupAggregator(time.Minute, 16, func() time.Time { return now })
	closed := time.Date(2025, time.November, 5, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		agg.add(domain.LatencyRecord{ProjectID: "p", Method: "GET", Path: "/", StatusCode: 200, LatencyMS: 10, CreatedAt: closed.Add(time.Duration(i) * time.Second)})
	}

	first := agg.flushBefore(now)
	if len(first) != 1 || first[0].Count != 10 || !first[0].BucketStart.Equal(closed) {
		t.Fatalf("expected one 10:00 rollup with count 10, got %+v", first)
	}

	agg.add(domain.LatencyRecord{ProjectID: "p", Method: "GET", Path: "/", StatusCode: 500, LatencyMS: 900, CreatedAt: closed.Add(45 * time.Second)})
	if got := agg.flushBefore(now); len(got) != 0 {
		t.Fatalf("expected late record to join the open bucket, flushed %+v", got)
	}

	rest := agg.flushAll()
	if len(rest) != 1 {
		t.Fatalf("expected one pending rollup, got %d", len(rest))
	}
	if rest[0].BucketStart.Equal(closed) {
		t.Fatalf("late record reopened flushed bucket %s", closed)
	}
	if want := time.Date(2025, time.November, 5, 10, 1, 0, 0, time.UTC); !rest[0].BucketStart.Equal(want) {
		t.Fatalf("expected late record in %s bucket, got %s", want, rest[0].BucketStart)
	}
	if rest[0].Count != 1 || rest[0].ErrorCount != 1 {
		t.Fatalf("expected count 1 and error count 1, got %d/%d", rest[0].Count, rest[0].ErrorCount)
	}
}

func TestRollupAggregatorReservoirBounded(t *testing.T) {
	now := time.Date(2025, time.November, 5, 12, 0, 0, 0, time.UTC)
	agg := newRollupAggregator(time.Minute, 4, func() time.Time { return now })
	for i := 0; i < 100; i++ {
		agg.add(domain.LatencyRecord{ProjectID: "p", Method: "GET", Path: "/", StatusCode: 200, LatencyMS: float64(i), CreatedAt: now})
	}
	rollups := agg.flushAll()
	if len(rollups) != 1 {
		t.Fatalf("expected one rollup, got %d", len(rollups))
	}
	r := rollups[0]
	if r.Count != 100 {
		t.Fatalf("expected count 100, got %d", r.Count)
	}
	if r.MaxMS == nil || *r.MaxMS != 99 {
		t.Fatalf("expected exact max 99, got %v", r.MaxMS)
	}
	if r.AvgMS == nil || *r.AvgMS != 49.5 {
		t.Fatalf("expected exact avg 49.5, got %v", r.AvgMS)
	}
}

func TestPercentile(t *testing.T) {
	values := []float64{10, 20, 30, 40}
	if got := Percentile(values, 0.5); got != 25 {
		t.Fatalf("expected 25, got %v", got)
	}
	if got := Percentile(values, 0); got != 10 {
		t.Fatalf("expected 10, got %v", got)
	}
	if got := Percentile(values, 1); got != 40 {
		t.Fatalf("expected 40, got %v", got)
	}
	if got := Percentile(nil, 0.95); got != 0 {
		t.Fatalf("expected 0 for empty input, got %v", got)
	}
}

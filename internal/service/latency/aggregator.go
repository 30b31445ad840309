package latency

import (
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/bugradar/bugradar/internal/domain"
)

type bucketKey struct {
	projectID string
	method    string
	path      string
	start     time.Time
}

type rollupBucket struct {
	count      int64
	errorCount int64
	samples    []float64
	seen       int64
	sum        float64
	max        float64
}

// rollupAggregator keeps per-endpoint buckets in memory. Percentiles are
// computed from a bounded reservoir sample per bucket.
type rollupAggregator struct {
	mu         sync.Mutex
	span       time.Duration
	maxSamples int
	buckets    map[bucketKey]*rollupBucket
	// closed is the flush watermark; buckets ending at or before it are
	// already persisted and must not be reopened.
	closed time.Time
	now    func() time.Time
	random     *rand.Rand
}

const defaultRollupSamples = 512

func newRollupAggregator(span time.Duration, maxSamples int, now func() time.Time) *rollupAggregator {
	if span <= 0 {
		span = time.Minute
	}
	if maxSamples <= 0 {
		maxSamples = defaultRollupSamples
	}
	if now == nil {
		now = time.Now
	}
	return &rollupAggregator{
		span:       span,
		maxSamples: maxSamples,
		buckets:    make(map[bucketKey]*rollupBucket),
		now:        now,
		random:     rand.New(rand.NewSource(now().UnixNano())),
	}
}

func (a *rollupAggregator) add(record domain.LatencyRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := bucketKey{
		projectID: record.ProjectID,
		method:    record.Method,
		path:      record.Path,
		start:     record.CreatedAt.UTC().Truncate(a.span),
	}
	if !key.start.Add(a.span).After(a.closed) {
		key.start = a.closed.Truncate(a.span)
	}
	bucket := a.buckets[key]
	if bucket == nil {
		bucket = &rollupBucket{}
		a.buckets[key] = bucket
	}
	bucket.count++
	if record.StatusCode >= 500 {
		bucket.errorCount++
	}
	lat := record.LatencyMS
	bucket.seen++
	bucket.sum += lat
	if bucket.seen == 1 || lat > bucket.max {
		bucket.max = lat
	}
	if len(bucket.samples) < a.maxSamples {
		bucket.samples = append(bucket.samples, lat)
		return
	}
	// Algorithm R: keep each of the first n values with probability k/n.
	if idx := a.random.Int63n(bucket.seen); idx < int64(a.maxSamples) {
		bucket.samples[idx] = lat
	}
}

// flushBefore removes and returns every bucket that closed at or before cutoff.
// Records added later for those buckets land in the bucket open at cutoff.
func (a *rollupAggregator) flushBefore(cutoff time.Time) []domain.LatencyRollup {
	a.mu.Lock()
	defer a.mu.Unlock()

	if cutoff = cutoff.UTC(); cutoff.After(a.closed) {
		a.closed = cutoff
	}
	var rollups []domain.LatencyRollup
	now := a.now()
	for key, bucket := range a.buckets {
		if key.start.Add(a.span).After(cutoff) {
			continue
		}
		rollups = append(rollups, bucket.toRollup(key, a.span, now))
		delete(a.buckets, key)
	}
	return rollups
}

func (a *rollupAggregator) flushAll() []domain.LatencyRollup {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.buckets) == 0 {
		return nil
	}
	now := a.now()
	rollups := make([]domain.LatencyRollup, 0, len(a.buckets))
	for key, bucket := range a.buckets {
		rollups = append(rollups, bucket.toRollup(key, a.span, now))
		delete(a.buckets, key)
	}
	return rollups
}

func (a *rollupAggregator) pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buckets)
}

func (b *rollupBucket) toRollup(key bucketKey, span time.Duration, now time.Time) domain.LatencyRollup {
	r := domain.LatencyRollup{
		ProjectID:   key.projectID,
		BucketStart: key.start,
		BucketSpan:  span,
		Method:      key.method,
		Path:        key.path,
		Count:       b.count,
		ErrorCount:  b.errorCount,
		UpdatedAt:   now,
	}
	if b.seen > 0 {
		avg := b.sum / float64(b.seen)
		max := b.max
		r.AvgMS = &avg
		r.MaxMS = &max
	}
	if len(b.samples) > 0 {
		sorted := append([]float64(nil), b.samples...)
		sort.Float64s(sorted)
		p50 := Percentile(sorted, 0.50)
		p90 := Percentile(sorted, 0.90)
		p95 := Percentile(sorted, 0.95)
		p99 := Percentile(sorted, 0.99)
		r.P50MS = &p50
		r.P90MS = &p90
		r.P95MS = &p95
		r.P99MS = &p99
	}
	return r
}

// Percentile interpolates linearly between closest ranks of sorted values,
// matching PostgreSQL's percentile_cont.
func Percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[len(sorted)-1]
	}
	pos := p * float64(len(sorted)-1)
	lower := int(math.Floor(pos))
	upper := int(math.Ceil(pos))
	if lower == upper {
		return sorted[lower]
	}
	weight := pos - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}

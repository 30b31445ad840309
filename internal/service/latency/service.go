package latency

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/bugradar/bugradar/internal/domain"
	"github.com/bugradar/bugradar/internal/repository"
	"github.com/bugradar/bugradar/internal/service/metrics"
)

const (
	defaultBucketSpan    = time.Minute
	defaultFlushInterval = 30 * time.Second
	p95Window            = 24 * time.Hour
	maxClockSkew         = 5 * time.Minute
)

// RecordInput is one latency observation reported by an agent.
type RecordInput struct {
	ProjectID  string
	Path       string
	Method     string
	StatusCode int
	LatencyMS  float64
	Timestamp  time.Time
}

// Overview is the latency view of a project.
type Overview struct {
	Records      []domain.LatencyRecord `json:"records"`
	Rollups      []domain.LatencyRollup `json:"rollups"`
	P95LatencyMS float64                `json:"p95LatencyMs"`
}

type percentiler interface {
	LatencyPercentile(ctx context.Context, projectID string, since time.Time, fraction float64) (float64, error)
}

// Service ingests latency records and maintains aggregated rollups.
type Service struct {
	repo          repository.LatencyRepository
	stats         percentiler
	aggregator    *rollupAggregator
	bucketSpan    time.Duration
	flushInterval time.Duration
	logger        *slog.Logger
	now           func() time.Time
	once          sync.Once
}

// NewService constructs a latency Service with sane defaults.
func NewService(repo repository.LatencyRepository, stats percentiler, logger *slog.Logger, bucketSpan, flushInterval time.Duration) *Service {
	if bucketSpan <= 0 {
		bucketSpan = defaultBucketSpan
	}
	if flushInterval <= 0 {
		flushInterval = defaultFlushInterval
	}
	if flushInterval > bucketSpan {
		flushInterval = bucketSpan
	}
	now := time.Now
	return &Service{
		repo:          repo,
		stats:         stats,
		aggregator:    newRollupAggregator(bucketSpan, 0, now),
		bucketSpan:    bucketSpan,
		flushInterval: flushInterval,
		logger:        logger.With("component", "latency_rollups"),
		now:           now,
	}
}

// Run starts the background rollup flusher. It blocks until the context is
// cancelled and then flushes every open bucket.
func (s *Service) Run(ctx context.Context) {
	s.once.Do(func() {
		s.logger.Info("latency rollups started", "bucket_span", s.bucketSpan, "flush_interval", s.flushInterval)
	})
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			s.persist(flushCtx, s.aggregator.flushAll())
			cancel()
			s.logger.Info("latency rollups stopped")
			return
		case <-ticker.C:
			s.FlushClosed(ctx)
		}
	}
}

// Record validates and persists an observation and feeds the aggregator.
func (s *Service) Record(ctx context.Context, input RecordInput) (*domain.LatencyRecord, error) {
	path := strings.TrimSpace(input.Path)
	if path == "" {
		return nil, fmt.Errorf("%w: path is required", repository.ErrInvalidArgument)
	}
	method := strings.ToUpper(strings.TrimSpace(input.Method))
	if method == "" {
		return nil, fmt.Errorf("%w: method is required", repository.ErrInvalidArgument)
	}
	if input.StatusCode < 100 || input.StatusCode > 599 {
		return nil, fmt.Errorf("%w: status_code must be between 100 and 599", repository.ErrInvalidArgument)
	}
	if input.LatencyMS < 0 {
		return nil, fmt.Errorf("%w: latency_ms must not be negative", repository.ErrInvalidArgument)
	}
	now := s.now().UTC()
	at := input.Timestamp.UTC()
	if input.Timestamp.IsZero() || at.After(now.Add(maxClockSkew)) {
		at = now
	}
	record := &domain.LatencyRecord{
		ProjectID:  input.ProjectID,
		Path:       path,
		Method:     method,
		StatusCode: input.StatusCode,
		LatencyMS:  input.LatencyMS,
		CreatedAt:  at,
	}
	if err := s.repo.InsertLatencyRecord(ctx, record); err != nil {
		return nil, err
	}
	s.aggregator.add(*record)
	return record, nil
}

// Overview returns recent records, recent rollups and the trailing 24h p95.
func (s *Service) Overview(ctx context.Context, projectID string, limit int) (*Overview, error) {
	records, err := s.repo.ListLatencyRecords(ctx, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("list latency records: %w", err)
	}
	rollups, err := s.repo.ListLatencyRollups(ctx, projectID, s.bucketSpan, limit)
	if err != nil {
		return nil, fmt.Errorf("list latency rollups: %w", err)
	}
	p95, err := s.stats.LatencyPercentile(ctx, projectID, s.now().Add(-p95Window), 0.95)
	if err != nil {
		return nil, fmt.Errorf("latency p95: %w", err)
	}
	return &Overview{Records: records, Rollups: rollups, P95LatencyMS: metrics.Round2(p95)}, nil
}

// FlushClosed persists buckets whose span has fully elapsed.
func (s *Service) FlushClosed(ctx context.Context) {
	s.persist(ctx, s.aggregator.flushBefore(s.now()))
}

func (s *Service) persist(ctx context.Context, rollups []domain.LatencyRollup) {
	if len(rollups) == 0 {
		return
	}
	if err := s.repo.UpsertLatencyRollups(ctx, rollups); err != nil {
		s.logger.Warn("failed to persist latency rollups", "error", err, "count", len(rollups))
	}
}

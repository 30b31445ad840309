package metrics

import (
	"context"
	"fmt"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bugradar/bugradar/internal/domain"
	"github.com/bugradar/bugradar/internal/repository"
)

const (
	trailingDay   = 24 * time.Hour
	mtbfWindow    = 30 * 24 * time.Hour
	volumeDays    = 7
	p95Percentile = 0.95
)

// Service computes dashboard aggregates for a project.
type Service struct {
	repo    repository.MetricsRepository
	loc     *time.Location
	timeout time.Duration
	now     func() time.Time
}

// New returns a metrics service. loc defines calendar-day boundaries and
// timeout bounds the noisy stats fan-out (zero disables it).
func New(repo repository.MetricsRepository, loc *time.Location, timeout time.Duration) Service {
	if loc == nil {
		loc = time.UTC
	}
	return Service{repo: repo, loc: loc, timeout: timeout, now: time.Now}
}

// Location reports the zone used for day boundaries.
func (s Service) Location() *time.Location {
	return s.loc
}

// Dashboard returns open errors, warnings since local midnight and
// events in the trailing hour.
func (s Service) Dashboard(ctx context.Context, projectID string) (domain.DashboardMetrics, error) {
	now := s.now()
	var out domain.DashboardMetrics
	var err error
	out.ActiveErrors, err = s.repo.CountEvents(ctx, domain.EventCountFilter{
		ProjectID: projectID,
		Severity:  domain.SeverityError,
		Status:    domain.EventOpen,
	})
	if err != nil {
		return domain.DashboardMetrics{}, fmt.Errorf("count active errors: %w", err)
	}
	out.WarningsToday, err = s.repo.CountEvents(ctx, domain.EventCountFilter{
		ProjectID: projectID,
		Severity:  domain.SeverityWarning,
		Since:     StartOfDay(now, s.loc),
	})
	if err != nil {
		return domain.DashboardMetrics{}, fmt.Errorf("count warnings today: %w", err)
	}
	out.LogsLastHour, err = s.repo.CountEvents(ctx, domain.EventCountFilter{
		ProjectID: projectID,
		Since:     now.Add(-time.Hour),
	})
	if err != nil {
		return domain.DashboardMetrics{}, fmt.Errorf("count last hour: %w", err)
	}
	return out, nil
}

// NoisyAppStats runs the seven independent queries concurrently. The first
// failure cancels the remaining queries and no partial result is returned.
func (s Service) NoisyAppStats(ctx context.Context, projectID string) (*domain.NoisyAppStats, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	now := s.now()
	dayAgo := now.Add(-trailingDay)
	volumeStart := StartOfDay(now, s.loc).AddDate(0, 0, -(volumeDays - 1))

	var (
		errors24h, warnings24h, events24h int64
		latencyTotal, latencyOK           int64
		failures                          []domain.FailureWindow
		volume                            map[string]int64
		p95                               float64
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := s.repo.CountEvents(gctx, domain.EventCountFilter{ProjectID: projectID, Severity: domain.SeverityError, Since: dayAgo})
		if err != nil {
			return fmt.Errorf("count errors: %w", err)
		}
		errors24h = n
		return nil
	})
	g.Go(func() error {
		n, err := s.repo.CountEvents(gctx, domain.EventCountFilter{ProjectID: projectID, Severity: domain.SeverityWarning, Since: dayAgo})
		if err != nil {
			return fmt.Errorf("count warnings: %w", err)
		}
		warnings24h = n
		return nil
	})
	g.Go(func() error {
		n, err := s.repo.CountEvents(gctx, domain.EventCountFilter{ProjectID: projectID, Since: dayAgo})
		if err != nil {
			return fmt.Errorf("count events: %w", err)
		}
		events24h = n
		return nil
	})
	g.Go(func() error {
		total, ok, err := s.repo.LatencySuccessCounts(gctx, projectID, dayAgo)
		if err != nil {
			return fmt.Errorf("latency counts: %w", err)
		}
		latencyTotal, latencyOK = total, ok
		return nil
	})
	g.Go(func() error {
		w, err := s.repo.ListFailureWindows(gctx, projectID, now.Add(-mtbfWindow))
		if err != nil {
			return fmt.Errorf("failure windows: %w", err)
		}
		failures = w
		return nil
	})
	g.Go(func() error {
		counts, err := s.repo.DailyEventCounts(gctx, domain.DailyCountFilter{ProjectID: projectID, Since: volumeStart, Location: s.loc})
		if err != nil {
			return fmt.Errorf("daily volume: %w", err)
		}
		volume = counts
		return nil
	})
	g.Go(func() error {
		v, err := s.repo.LatencyPercentile(gctx, projectID, dayAgo, p95Percentile)
		if err != nil {
			return fmt.Errorf("latency p95: %w", err)
		}
		p95 = v
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	stats := &domain.NoisyAppStats{
		TotalErrors:      errors24h,
		TotalWarnings:    warnings24h,
		TotalEvents:      events24h,
		UptimePercentage: 100,
		MTBFMinutes:      MTBF(failures),
		LogVolume:        DailySeries(volume, now, s.loc, volumeDays),
		P95LatencyMS:     Round2(p95),
	}
	if latencyTotal > 0 {
		stats.UptimePercentage = Percent(latencyOK, latencyTotal)
	}
	if events24h > 0 {
		stats.ErrorRate = Percent(errors24h, events24h)
		stats.WarningRate = Percent(warnings24h, events24h)
	}
	return stats, nil
}

// MTBF returns the mean minutes between a resolved failure and the next
// failure. Pairs whose earlier failure is unresolved, or whose gap is not
// positive, are skipped. windows must be ordered by CreatedAt.
func MTBF(windows []domain.FailureWindow) float64 {
	var (
		total     float64
		intervals int
	)
	for i := 1; i < len(windows); i++ {
		prev := windows[i-1]
		if prev.ResolvedAt == nil {
			continue
		}
		gap := windows[i].CreatedAt.Sub(*prev.ResolvedAt)
		if gap <= 0 {
			continue
		}
		total += gap.Minutes()
		intervals++
	}
	if intervals == 0 {
		return 0
	}
	return Round2(total / float64(intervals))
}

// DailySeries expands sparse per-day counts into days consecutive points
// ending today in loc, oldest first, zero-filled.
func DailySeries(counts map[string]int64, now time.Time, loc *time.Location, days int) []domain.DailyCount {
	start := StartOfDay(now, loc).AddDate(0, 0, -(days - 1))
	series := make([]domain.DailyCount, 0, days)
	for i := 0; i < days; i++ {
		day := start.AddDate(0, 0, i).Format("2006-01-02")
		series = append(series, domain.DailyCount{Date: day, Count: counts[day]})
	}
	return series
}

// StartOfDay returns local midnight of t in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// Percent returns part/total as a percentage rounded to two decimals.
func Percent(part, total int64) float64 {
	if total == 0 {
		return 0
	}
	return Round2(float64(part) / float64(total) * 100)
}

// Round2 rounds half away from zero to two decimals.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

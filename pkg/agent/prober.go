package agent

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	defaultProbeInterval    = time.Minute
	defaultProbeConcurrency = 4
	uptimeWindow            = 60
)

// ProberOptions configures a Prober.
type ProberOptions struct {
	// Target is the base URL of the monitored application.
	Target      string
	Interval    time.Duration
	Concurrency int
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

// Prober periodically fetches the project's endpoint list, probes each
// endpoint of the target application and reports latency, failures and a
// rolling uptime percentage.
type Prober struct {
	agent       *Client
	target      string
	interval    time.Duration
	concurrency int
	http        *http.Client
	logger      *slog.Logger

	mu      sync.Mutex
	results []bool
}

// ProbeResult is the outcome of probing one endpoint.
type ProbeResult struct {
	Endpoint   Endpoint
	StatusCode int
	Duration   time.Duration
	Err        error
}

// Healthy reports whether the probe got a non-5xx response.
func (r ProbeResult) Healthy() bool {
	return r.Err == nil && r.StatusCode < http.StatusInternalServerError
}

// NewProber builds a prober reporting through agent.
func NewProber(agent *Client, opts ProberOptions) (*Prober, error) {
	if agent == nil {
		return nil, fmt.Errorf("prober requires an agent client")
	}
	target := strings.TrimRight(strings.TrimSpace(opts.Target), "/")
	if target == "" {
		return nil, fmt.Errorf("prober target url required")
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = defaultProbeInterval
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = defaultProbeConcurrency
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{
			Timeout: 10 * time.Second,
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Prober{
		agent:       agent,
		target:      target,
		interval:    interval,
		concurrency: concurrency,
		http:        client,
		logger:      logger,
	}, nil
}

// Run probes immediately and then on every interval until ctx is cancelled.
func (p *Prober) Run(ctx context.Context) {
	p.logger.Info("prober starting", "target", p.target, "interval", p.interval)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		if _, err := p.Round(ctx); err != nil && ctx.Err() == nil {
			p.logger.Warn("probe round failed", "error", err)
		}
		select {
		case <-ctx.Done():
			p.logger.Info("prober stopped")
			return
		case <-ticker.C:
		}
	}
}

// Round performs a single probe pass and reports the results.
func (p *Prober) Round(ctx context.Context) ([]ProbeResult, error) {
	cfg, err := p.agent.FetchConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch config: %w", err)
	}
	if len(cfg.Endpoints) == 0 {
		return nil, nil
	}

	results := make([]ProbeResult, len(cfg.Endpoints))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, ep := range cfg.Endpoints {
		g.Go(func() error {
			results[i] = p.probe(gctx, ep)
			return nil
		})
	}
	_ = g.Wait()

	for _, res := range results {
		p.report(ctx, res)
	}
	uptime := p.record(results)
	if err := p.agent.SendUptime(ctx, uptime); err != nil {
		p.logger.Warn("uptime report failed", "error", err)
	}
	return results, nil
}

func (p *Prober) probe(ctx context.Context, ep Endpoint) ProbeResult {
	res := ProbeResult{Endpoint: ep}
	method := strings.ToUpper(strings.TrimSpace(ep.Method))
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, method, p.target+ep.Path, nil)
	if err != nil {
		res.Err = err
		return res
	}
	req.Header.Set("User-Agent", "bugradar-agent")
	start := time.Now()
	resp, err := p.http.Do(req)
	res.Duration = time.Since(start)
	if err != nil {
		res.Err = err
		return res
	}
	resp.Body.Close()
	res.StatusCode = resp.StatusCode
	return res
}

func (p *Prober) report(ctx context.Context, res ProbeResult) {
	if res.Err == nil {
		err := p.agent.SendLatency(ctx, Latency{
			Method:     res.Endpoint.Method,
			Path:       res.Endpoint.Path,
			StatusCode: res.StatusCode,
			Duration:   res.Duration,
		})
		if err != nil {
			p.logger.Warn("latency report failed", "path", res.Endpoint.Path, "error", err)
		}
	}
	if res.Healthy() {
		return
	}
	message := fmt.Sprintf("%s %s returned %d", res.Endpoint.Method, res.Endpoint.Path, res.StatusCode)
	if res.Err != nil {
		message = fmt.Sprintf("%s %s unreachable: %v", res.Endpoint.Method, res.Endpoint.Path, res.Err)
	}
	if err := p.agent.SendLog(ctx, Log{Message: message, Severity: SeverityError}); err != nil {
		p.logger.Warn("failure report failed", "path", res.Endpoint.Path, "error", err)
	}
}

// record appends the round's outcomes to the rolling window and returns the
// healthy share as a percentage.
func (p *Prober) record(results []ProbeResult) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, res := range results {
		p.results = append(p.results, res.Healthy())
	}
	if extra := len(p.results) - uptimeWindow; extra > 0 {
		p.results = append(p.results[:0], p.results[extra:]...)
	}
	if len(p.results) == 0 {
		return 100
	}
	healthy := 0
	for _, ok := range p.results {
		if ok {
			healthy++
		}
	}
	return float64(healthy) * 100 / float64(len(p.results))
}

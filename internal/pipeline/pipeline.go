package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/quake-exposure/internal/domain"
	"github.com/couchcryptid/quake-exposure/internal/observability"
)

// EventSource produces the events of one scoring cycle.
type EventSource interface {
	FetchEvents(ctx context.Context) ([]domain.Event, error)
}

// PlaceSource produces the places of one scoring cycle.
type PlaceSource interface {
	LoadPlaces(ctx context.Context) ([]domain.Place, error)
}

// Scorer turns events and places into exposure records.
type Scorer interface {
	ScoreReport(events []domain.Event, places []domain.Place) (domain.Report, error)
	ModelVersion() string
}

// Sink receives every successfully scored table.
type Sink interface {
	Name() string
	Publish(ctx context.Context, table domain.RiskTable) error
}

// Cycle outcomes, used as the scoring_runs_total label.
const (
	OutcomeSuccess      = "success"
	OutcomeSourceError  = "source_error"
	OutcomeScoringError = "scoring_error"
	OutcomeSinkError    = "sink_error"
)

const (
	initialBackoff = 200 * time.Millisecond
	maxBackoff     = 5 * time.Second
	maxAttempts    = 5
)

// Pipeline runs the fetch-score-publish cycle on a fixed interval.
type Pipeline struct {
	events   EventSource
	places   PlaceSource
	scorer   Scorer
	sinks    []Sink
	clock    clockwork.Clock
	interval time.Duration
	logger   *slog.Logger
	metrics  *observability.Metrics
	ready    atomic.Bool
	latest   atomic.Pointer[domain.RiskTable]
}

// New creates a Pipeline with the given stages and observability.
func New(events EventSource, places PlaceSource, scorer Scorer, sinks []Sink, clock clockwork.Clock, interval time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Pipeline {
	return &Pipeline{
		events:   events,
		places:   places,
		scorer:   scorer,
		sinks:    sinks,
		clock:    clock,
		interval: interval,
		logger:   logger,
		metrics:  metrics,
	}
}

// CheckReadiness returns nil once a scoring cycle has produced a table, or an
// error describing why the service is not yet ready.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("no exposure table has been scored yet")
	}
	return nil
}

// Latest returns the most recently scored table.
func (p *Pipeline) Latest() (domain.RiskTable, bool) {
	t := p.latest.Load()
	if t == nil {
		return domain.RiskTable{}, false
	}
	return *t, true
}

// Run scores immediately and then once per interval until the context is
// cancelled. Failed cycles are logged and counted; the previous table stays
// current until a later cycle succeeds.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started", "interval", p.interval, "model_version", p.scorer.ModelVersion())
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if _, err := p.RunOnce(ctx); err != nil && ctx.Err() == nil {
			p.logger.Error("scoring cycle failed", "error", err)
		}

		select {
		case <-ctx.Done():
			p.logger.Info("pipeline stopping", "reason", ctx.Err())
			return nil
		case <-ticker.Chan():
		}
	}
}

// RunOnce executes a single fetch-score-publish cycle and returns the scored
// table. Source and sink calls are retried with exponential backoff. A table
// that scored but failed to reach a sink is still returned and kept as the
// latest, together with the sink error.
func (p *Pipeline) RunOnce(ctx context.Context) (domain.RiskTable, error) {
	var events []domain.Event
	err := p.retry(ctx, "fetch events", func() (err error) {
		events, err = p.events.FetchEvents(ctx)
		return err
	})
	if err != nil {
		p.metrics.ScoringRuns.WithLabelValues(OutcomeSourceError).Inc()
		return domain.RiskTable{}, err
	}

	var places []domain.Place
	err = p.retry(ctx, "load places", func() (err error) {
		places, err = p.places.LoadPlaces(ctx)
		return err
	})
	if err != nil {
		p.metrics.ScoringRuns.WithLabelValues(OutcomeSourceError).Inc()
		return domain.RiskTable{}, err
	}

	start := time.Now()
	rep, err := p.scorer.ScoreReport(events, places)
	if err != nil {
		p.metrics.ScoringRuns.WithLabelValues(OutcomeScoringError).Inc()
		return domain.RiskTable{}, err
	}
	p.metrics.ScoringDuration.Observe(time.Since(start).Seconds())

	table := domain.RiskTable{
		RunID:        uuid.NewString(),
		ModelVersion: p.scorer.ModelVersion(),
		ScoredAt:     p.clock.Now().UTC(),
		EventCount:   len(events),
		Records:      rep.Records,
	}
	for _, w := range rep.Warnings {
		table.Warnings = append(table.Warnings, w.Error())
	}

	p.latest.Store(&table)
	p.ready.Store(true)
	p.metrics.EventsIngested.Add(float64(len(events)))
	p.metrics.PlacesScored.Add(float64(len(table.Records)))
	p.metrics.PlacesExposed.Set(float64(table.Exposed()))
	p.metrics.MaxPGA.Set(table.MaxPGA())

	var sinkErrs []error
	for _, s := range p.sinks {
		err := p.retry(ctx, "publish to "+s.Name(), func() error {
			return s.Publish(ctx, table)
		})
		if err != nil {
			sinkErrs = append(sinkErrs, err)
		}
	}
	if len(sinkErrs) > 0 {
		p.metrics.ScoringRuns.WithLabelValues(OutcomeSinkError).Inc()
		return table, errors.Join(sinkErrs...)
	}

	p.metrics.ScoringRuns.WithLabelValues(OutcomeSuccess).Inc()
	p.logger.Info("scoring cycle complete",
		"run_id", table.RunID,
		"events", table.EventCount,
		"places", len(table.Records),
		"exposed", table.Exposed(),
		"max_pga", table.MaxPGA(),
		"warnings", len(table.Warnings),
	)
	return table, nil
}

// retry calls fn up to maxAttempts times, sleeping with exponential backoff
// between attempts. Row-level input errors are returned at once: the same
// input fails the same way.
func (p *Pipeline) retry(ctx context.Context, op string, fn func() error) error {
	backoff := initialBackoff
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		var recErr *domain.RecordError
		if ctx.Err() != nil || errors.As(err, &recErr) || attempt == maxAttempts {
			break
		}
		p.logger.Warn(op+" failed, retrying", "error", err, "attempt", attempt, "backoff", backoff)
		if !p.sleepWithContext(ctx, backoff) {
			break
		}
		backoff = nextBackoff(backoff, maxBackoff)
	}
	return err
}

func nextBackoff(current, limit time.Duration) time.Duration {
	next := current * 2
	if next > limit {
		return limit
	}
	return next
}

func (p *Pipeline) sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := p.clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		return true
	}
}

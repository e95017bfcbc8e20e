// Package pipeline runs the price-tracking steps in order for one scheduled run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"flight-price-alerts/internal/alerting"
	"flight-price-alerts/internal/domain"
	"flight-price-alerts/internal/evaluator"
	"flight-price-alerts/internal/fetcher"
	"flight-price-alerts/internal/handoff"
	"flight-price-alerts/internal/logging"
	"flight-price-alerts/internal/metrics"
	"flight-price-alerts/internal/storage"
)

// BaselineLoader supplies per-location statistics.
type BaselineLoader interface {
	Load(ctx context.Context) (domain.Baseline, error)
}

// Indexer is the write side of the historical store.
type Indexer interface {
	EnsureIndex(ctx context.Context) error
	storage.RecordIndexer
}

// Deps are the collaborators of a Pipeline. Handoff and Metrics are optional.
type Deps struct {
	Fetcher  fetcher.PriceFetcher
	Baseline BaselineLoader
	Indexer  Indexer
	Notifier alerting.Notifier
	Handoff  handoff.Store
	Metrics  *metrics.Metrics
}

// Options carry the retry policy and alert subject.
type Options struct {
	// Retries is the number of extra attempts after a failed first attempt.
	Retries    int
	RetryDelay time.Duration
	Subject    string
}

// Pipeline executes runs. It is safe for concurrent Execute calls.
type Pipeline struct {
	deps   Deps
	opts   Options
	logger zerolog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

type stepFunc func(ctx context.Context, run *Run) (proceed bool, err error)

type step struct {
	name string
	fn   stepFunc
}

// New constructs a Pipeline.
func New(deps Deps, opts Options, logger zerolog.Logger) *Pipeline {
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.Subject == "" {
		opts.Subject = alerting.DefaultSubject
	}
	return &Pipeline{
		deps:   deps,
		opts:   opts,
		logger: logging.Component(logger, "pipeline"),
		sleep:  sleepContext,
	}
}

func (p *Pipeline) steps() []step {
	return []step{
		{StepFetch, p.fetch},
		{StepPrepare, p.prepare},
		{StepIndex, p.index},
		{StepGate, p.gate},
		{StepRender, p.render},
		{StepSend, p.send},
	}
}

// Execute runs every step in order. A failing step marks the rest
// upstream_failed; a closed gate marks the rest skipped. The returned error is
// the failing step's error.
func (p *Pipeline) Execute(ctx context.Context, scheduledAt time.Time) (*Run, error) {
	run := &Run{
		ID:          uuid.NewString(),
		ScheduledAt: scheduledAt,
		StartedAt:   time.Now(),
		Status:      StatusSuccess,
	}
	logger := p.logger.With().Str("run_id", run.ID).Logger()
	logger.Info().Time("scheduled_at", scheduledAt).Msg("run started")

	if m := p.deps.Metrics; m != nil {
		m.ActiveRuns.Inc()
		defer m.ActiveRuns.Dec()
	}

	steps := p.steps()
	for _, s := range steps {
		run.setStep(StepResult{Name: s.name, Status: StatusPending})
	}

	var runErr error
	for i, s := range steps {
		proceed, err := p.runStep(ctx, run, s, logger)
		if err != nil {
			run.Status = StatusFailed
			runErr = fmt.Errorf("%s: %w", s.name, err)
			p.markRemaining(run, steps[i+1:], StatusUpstreamFailed)
			break
		}
		if !proceed {
			logger.Info().Str("step", s.name).Msg("no alert candidates; skipping remaining steps")
			p.markRemaining(run, steps[i+1:], StatusSkipped)
			break
		}
	}

	run.FinishedAt = time.Now()
	p.putSlot(ctx, run.ID, summaryStep, SlotSummary, run, logger)
	if m := p.deps.Metrics; m != nil {
		m.RecordRun(string(run.Status), run.FinishedAt)
	}

	event := logger.Info()
	if runErr != nil {
		event = logger.Error().Err(runErr)
	}
	event.Str("status", string(run.Status)).
		Dur("duration", run.FinishedAt.Sub(run.StartedAt)).
		Msg("run finished")
	return run, runErr
}

func (p *Pipeline) runStep(ctx context.Context, run *Run, s step, logger zerolog.Logger) (bool, error) {
	stepLogger := logger.With().Str("step", s.name).Logger()
	started := time.Now()
	res := StepResult{Name: s.name}

	var (
		proceed bool
		err     error
	)
	for attempt := 0; attempt <= p.opts.Retries; attempt++ {
		if attempt > 0 {
			stepLogger.Warn().Err(err).Int("attempt", attempt+1).Dur("delay", p.opts.RetryDelay).Msg("retrying step")
			if sleepErr := p.sleep(ctx, p.opts.RetryDelay); sleepErr != nil {
				err = errors.Join(err, sleepErr)
				break
			}
		}
		res.Attempts++
		proceed, err = s.fn(ctx, run)
		p.observeAttempt(s.name, err)
		if err == nil {
			break
		}
	}

	res.Duration = time.Since(started)
	if err != nil {
		res.Status = StatusFailed
		res.Error = err.Error()
		stepLogger.Error().Err(err).Int("attempts", res.Attempts).Msg("step failed")
	} else {
		res.Status = StatusSuccess
		stepLogger.Debug().Int("attempts", res.Attempts).Dur("duration", res.Duration).Msg("step succeeded")
	}
	run.setStep(res)

	if m := p.deps.Metrics; m != nil {
		m.StepDuration.WithLabelValues(s.name, string(res.Status)).Observe(res.Duration.Seconds())
	}
	return proceed, err
}

func (p *Pipeline) observeAttempt(name string, err error) {
	if p.deps.Metrics == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	p.deps.Metrics.StepAttempts.WithLabelValues(name, outcome).Inc()
}

func (p *Pipeline) markRemaining(run *Run, rest []step, status Status) {
	for _, s := range rest {
		run.setStep(StepResult{Name: s.name, Status: status})
	}
}

func (p *Pipeline) fetch(ctx context.Context, run *Run) (bool, error) {
	results, err := p.deps.Fetcher.Fetch(ctx)
	if err != nil {
		return false, err
	}
	run.Fetched = results
	p.putSlot(ctx, run.ID, StepFetch, SlotFetched, results, p.logger)
	return true, nil
}

func (p *Pipeline) prepare(ctx context.Context, run *Run) (bool, error) {
	// A fresh deployment has no index yet; the baseline query needs one.
	if err := p.deps.Indexer.EnsureIndex(ctx); err != nil {
		return false, fmt.Errorf("%w: %w", domain.ErrIndexing, err)
	}

	baseline, err := p.deps.Baseline.Load(ctx)
	if err != nil {
		return false, err
	}

	evaluation, err := evaluator.Prepare(run.Fetched, baseline)
	if err != nil {
		return false, err
	}
	run.Evaluation = evaluation

	p.putSlot(ctx, run.ID, StepPrepare, SlotAllRows, evaluation.Records, p.logger)
	if evaluation.Outcome == evaluator.OutcomeEvaluated {
		p.putSlot(ctx, run.ID, StepPrepare, SlotRowsToNotify, evaluation.Candidates, p.logger)
	}

	if m := p.deps.Metrics; m != nil {
		m.BaselineLocations.Set(float64(len(baseline)))
		m.RecordsDropped.Add(float64(len(run.Fetched) - len(evaluation.Records)))
		m.AlertCandidates.Add(float64(len(evaluation.Candidates)))
	}

	p.logger.Info().
		Str("run_id", run.ID).
		Int("raw", len(run.Fetched)).
		Int("records", len(evaluation.Records)).
		Str("outcome", evaluation.Outcome.String()).
		Int("candidates", len(evaluation.Candidates)).
		Msg("prices evaluated")
	return true, nil
}

func (p *Pipeline) index(ctx context.Context, run *Run) (bool, error) {
	if err := p.deps.Indexer.EnsureIndex(ctx); err != nil {
		return false, fmt.Errorf("%w: %w", domain.ErrIndexing, err)
	}

	records := run.Evaluation.Records
	if len(records) == 0 {
		p.logger.Info().Str("run_id", run.ID).Msg("nothing to index")
		return true, nil
	}
	if err := p.deps.Indexer.IndexRecords(ctx, records); err != nil {
		return false, fmt.Errorf("%w: %w", domain.ErrIndexing, err)
	}

	if m := p.deps.Metrics; m != nil {
		m.RecordsIndexed.Add(float64(len(records)))
	}
	return true, nil
}

func (p *Pipeline) gate(_ context.Context, run *Run) (bool, error) {
	return run.Evaluation.HasAlerts(), nil
}

func (p *Pipeline) render(ctx context.Context, run *Run) (bool, error) {
	alert := alerting.NewAlert(run.ID, p.opts.Subject, run.Evaluation.Candidates)
	run.Alert = &alert
	p.putSlot(ctx, run.ID, StepRender, SlotReturnValue, alert.Body, p.logger)
	return true, nil
}

func (p *Pipeline) send(ctx context.Context, run *Run) (bool, error) {
	if run.Alert == nil {
		return false, errors.New("no rendered alert")
	}
	if err := p.deps.Notifier.Notify(ctx, *run.Alert); err != nil {
		return false, err
	}
	return true, nil
}

// putSlot mirrors a value into the hand-off store. The Run stays authoritative,
// so a failed write is logged rather than failing the step.
func (p *Pipeline) putSlot(ctx context.Context, runID, stepName, slot string, value any, logger zerolog.Logger) {
	if p.deps.Handoff == nil {
		return
	}
	if err := p.deps.Handoff.Put(ctx, runID, stepName, slot, value); err != nil {
		logger.Warn().Err(err).Str("run_id", runID).Str("step", stepName).Str("slot", slot).Msg("hand-off write failed")
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"learner-analytics-pipeline/internal/metrics"
	"learner-analytics-pipeline/internal/model"
	"learner-analytics-pipeline/internal/store"
	"learner-analytics-pipeline/internal/zones"
)

// Orchestrator drives the fixed stage graph for one logical date:
// normalize, clean, merge, aggregate, publish. Each stage runs under a
// bounded retry budget; exhausting it fails the run and leaves the curated
// zone exactly as the previous successful run left it, since publish is the
// only stage that touches it.
type Orchestrator struct {
	Zones   zones.Store
	Runs    *store.RunStore
	Log     *zap.SugaredLogger
	Metrics *metrics.Metrics
	Retry   model.RetryPolicy
	Sources []model.Source

	NormalizeWorkers int
	CleanWorkers     int

	// sleep is swapped out in tests to skip backoff waits.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewOrchestrator(z zones.Store, runs *store.RunStore, log *zap.SugaredLogger, m *metrics.Metrics) *Orchestrator {
	return &Orchestrator{
		Zones:   z,
		Runs:    runs,
		Log:     log,
		Metrics: m,
		Retry:   model.DefaultRetryPolicy(),
		Sources: model.AllSources(),
	}
}

// Trigger executes a full run for the logical date and returns its final
// manifest. A date whose latest run already succeeded is a no-op unless
// force is set; a date with an active run returns ErrRunInProgress.
func (o *Orchestrator) Trigger(ctx context.Context, logicalDate string, force bool) (*model.RunManifest, error) {
	manifest, satisfied, err := o.prepare(ctx, logicalDate, force)
	if err != nil || satisfied {
		return manifest, err
	}
	return o.execute(ctx, manifest)
}

// Start registers the run, then executes it in the background. The returned
// manifest is the pending snapshot; callers poll the run store for progress.
func (o *Orchestrator) Start(ctx context.Context, logicalDate string, force bool) (*model.RunManifest, error) {
	manifest, satisfied, err := o.prepare(ctx, logicalDate, force)
	if err != nil || satisfied {
		return manifest, err
	}
	go func() {
		// outlives the triggering request
		if _, err := o.execute(context.Background(), manifest); err != nil {
			o.Log.Errorw("background run finished with error", "run_id", manifest.RunID, "error", err)
		}
	}()
	return manifest, nil
}

// prepare validates the date, applies the idempotent no-op rule, and claims
// the logical date. satisfied means the returned manifest already covers the
// request and nothing needs to execute.
func (o *Orchestrator) prepare(ctx context.Context, logicalDate string, force bool) (*model.RunManifest, bool, error) {
	if _, err := time.Parse("2006-01-02", logicalDate); err != nil {
		return nil, false, &model.ValidationError{Field: "logical_date", Reason: "must be YYYY-MM-DD"}
	}

	if !force {
		latest, err := o.Runs.LatestRun(ctx, logicalDate)
		if err == nil && latest.State == model.RunSucceeded {
			o.Log.Infow("run already succeeded, skipping", "logical_date", logicalDate, "run_id", latest.RunID)
			return latest, true, nil
		}
		if err != nil && !errors.Is(err, model.ErrNotFound) {
			return nil, false, err
		}
	}

	manifest := model.NewRunManifest(uuid.NewString(), logicalDate, force)
	if err := o.Runs.CreateRun(ctx, manifest); err != nil {
		return nil, false, err
	}
	return manifest, false, nil
}

// execute walks the DAG in order, persisting the manifest after every state
// transition so an observer always sees current progress.
func (o *Orchestrator) execute(ctx context.Context, m *model.RunManifest) (*model.RunManifest, error) {
	log := o.Log.With("run_id", m.RunID, "logical_date", m.ScheduledFor)
	log.Infow("run started", "forced", m.Forced)

	m.State = model.RunRunning
	if err := o.Runs.SaveRun(ctx, m); err != nil {
		return nil, err
	}

	normalizer := &Normalizer{Store: o.Zones, Workers: o.NormalizeWorkers}
	cleaner := &Cleaner{Store: o.Zones, Workers: o.CleanWorkers}
	merger := &Merger{Store: o.Zones}
	engine := &KpiEngine{}
	publisher := &Publisher{Store: o.Zones}

	var (
		normalized *NormalizeResult
		cleaned    *CleanResult
		merged     *MergeResult
		kpis       []model.KpiRecord
	)

	stages := []struct {
		name model.StageName
		fn   func(context.Context) error
	}{
		{model.StageNormalize, func(ctx context.Context) error {
			res, err := normalizer.Run(ctx, o.Sources)
			if err != nil {
				return err
			}
			normalized = res
			m.InputSnapshotRefs = res.InputRefs
			m.RecordsIn = res.InputRows
			for _, rec := range res.Records {
				o.Metrics.RecordsNormalized.WithLabelValues(string(rec.Source)).Inc()
			}
			return nil
		}},
		{model.StageClean, func(ctx context.Context) error {
			res, err := cleaner.Run(ctx, m.ScheduledFor, m.RunID, normalized)
			if err != nil {
				return err
			}
			cleaned = res
			m.Rejections = len(res.Quarantined)
			o.Metrics.RecordsCleaned.Add(float64(len(res.Records)))
			for _, q := range res.Quarantined {
				o.Metrics.RecordsQuarantined.WithLabelValues(string(q.Stage)).Inc()
			}
			return nil
		}},
		{model.StageMerge, func(ctx context.Context) error {
			res, err := merger.Run(ctx, m.ScheduledFor, m.RunID)
			if err != nil {
				return err
			}
			merged = res
			m.RecordsOut = len(res.Records)
			o.Metrics.RecordsMerged.Add(float64(len(res.Records)))
			return nil
		}},
		{model.StageAggregate, func(ctx context.Context) error {
			out, err := engine.Compute(merged.Records, m.ScheduledFor)
			if err != nil {
				return err
			}
			kpis = out
			o.Metrics.KpisComputed.Add(float64(len(out)))
			return nil
		}},
		{model.StagePublish, func(ctx context.Context) error {
			res, err := publisher.Run(ctx, m.ScheduledFor, m.RunID, kpis)
			if err != nil {
				return err
			}
			m.OutputRefs = append(append([]string(nil), cleaned.OutputRefs...), merged.OutputRefs...)
			m.OutputRefs = append(m.OutputRefs, res.OutputRefs...)
			return nil
		}},
	}

	for i, stage := range stages {
		if err := ctx.Err(); err != nil {
			return o.finish(m, model.RunCancelled, log, err)
		}
		if err := o.runStage(ctx, m, stage.name, stage.fn, log); err != nil {
			// everything downstream of the failed stage never ran
			for _, rest := range stages[i+1:] {
				status := m.StageStatuses[rest.name]
				status.State = model.StageSkipped
				m.StageStatuses[rest.name] = status
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return o.finish(m, model.RunCancelled, log, err)
			}
			return o.finish(m, model.RunFailed, log, err)
		}
	}

	return o.finish(m, model.RunSucceeded, log, nil)
}

// runStage executes one stage under the retry policy, persisting its status
// on every transition.
func (o *Orchestrator) runStage(ctx context.Context, m *model.RunManifest, name model.StageName, fn func(context.Context) error, log *zap.SugaredLogger) error {
	var lastErr error
	for attempt := 1; attempt <= o.Retry.MaxAttempts; attempt++ {
		status := m.StageStatuses[name]
		started := time.Now().UTC()
		status.State = model.StageRunning
		status.Attempts = attempt
		status.StartedAt = &started
		status.FinishedAt = nil
		m.StageStatuses[name] = status
		if err := o.Runs.SaveRun(ctx, m); err != nil {
			return err
		}
		o.Runs.AppendEvent(ctx, m.RunID, name, fmt.Sprintf("attempt %d started", attempt))

		err := fn(ctx)
		finished := time.Now().UTC()
		o.Metrics.StageDuration.WithLabelValues(string(name)).Observe(finished.Sub(started).Seconds())

		status = m.StageStatuses[name]
		status.FinishedAt = &finished
		if err == nil {
			status.State = model.StageSucceeded
			status.Error = ""
			m.StageStatuses[name] = status
			if saveErr := o.Runs.SaveRun(ctx, m); saveErr != nil {
				return saveErr
			}
			o.Runs.AppendEvent(ctx, m.RunID, name, "succeeded")
			log.Infow("stage succeeded", "stage", name, "attempts", attempt)
			return nil
		}

		lastErr = err
		status.State = model.StageFailed
		status.Error = err.Error()
		m.StageStatuses[name] = status
		if saveErr := o.Runs.SaveRun(ctx, m); saveErr != nil {
			return saveErr
		}
		o.Runs.AppendEvent(ctx, m.RunID, name, fmt.Sprintf("attempt %d failed: %v", attempt, err))
		log.Warnw("stage attempt failed", "stage", name, "attempt", attempt, "error", err)

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			break
		}
		if attempt < o.Retry.MaxAttempts {
			o.Metrics.StageRetries.WithLabelValues(string(name)).Inc()
			if err := o.wait(ctx, o.Retry.Delay(attempt+1)); err != nil {
				lastErr = err
				break
			}
		}
	}
	return &model.StageFailure{Stage: name, Attempts: m.StageStatuses[name].Attempts, Err: lastErr}
}

func (o *Orchestrator) finish(m *model.RunManifest, state model.RunState, log *zap.SugaredLogger, cause error) (*model.RunManifest, error) {
	m.State = state
	// terminal save uses a fresh context so cancellation cannot lose the
	// final manifest state
	if err := o.Runs.SaveRun(context.Background(), m); err != nil {
		return nil, err
	}
	o.Metrics.RunsTotal.WithLabelValues(string(state)).Inc()
	switch state {
	case model.RunSucceeded:
		log.Infow("run succeeded", "records_in", m.RecordsIn, "records_out", m.RecordsOut, "rejections", m.Rejections)
		return m, nil
	case model.RunCancelled:
		log.Warnw("run cancelled", "error", cause)
	default:
		log.Errorw("run failed", "error", cause)
	}
	return m, cause
}

func (o *Orchestrator) wait(ctx context.Context, d time.Duration) error {
	if o.sleep != nil {
		return o.sleep(ctx, d)
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

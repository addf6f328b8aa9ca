package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"BlogPublisher/internal/domain"
	"BlogPublisher/internal/logging"
	"BlogPublisher/internal/ports"
	"BlogPublisher/internal/retry"
)

// Request selects what one pipeline cycle works on.
type Request struct {
	Mode domain.Mode
	// RecordID restricts the cycle to one record; empty means "whatever is due".
	RecordID string
}

// PipelineDeps wires all driven adapters into the publication pipeline.
type PipelineDeps struct {
	Store     ports.RecordStore
	Publisher ports.Publisher
	Journal   ports.Journal
	Lease     ports.Lease
	Notifier  ports.Notifier
	Metrics   ports.Metrics
	Logger    *slog.Logger
	// Location is the zone used when logging due times.
	Location *time.Location
	// RecordDelay throttles between records after a successful write-back.
	RecordDelay time.Duration
	Now         func() time.Time
	Sleep       func(ctx context.Context, d time.Duration) error
}

// Pipeline implements fetch → select → publish → reconcile for both modes.
type Pipeline struct {
	store       ports.RecordStore
	publisher   ports.Publisher
	reconciler  *Reconciler
	journal     ports.Journal
	lease       ports.Lease
	metrics     ports.Metrics
	logger      *slog.Logger
	location    *time.Location
	recordDelay time.Duration
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	p := &Pipeline{
		store:       deps.Store,
		publisher:   deps.Publisher,
		journal:     deps.Journal,
		lease:       deps.Lease,
		metrics:     deps.Metrics,
		logger:      logger,
		location:    deps.Location,
		recordDelay: deps.RecordDelay,
		now:         deps.Now,
		sleep:       deps.Sleep,
	}
	if p.location == nil {
		p.location = time.UTC
	}
	if p.recordDelay < 0 {
		p.recordDelay = 0
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.sleep == nil {
		p.sleep = retry.Sleep
	}
	p.reconciler = NewReconciler(deps.Store, deps.Journal, deps.Notifier, logger)
	p.reconciler.now = p.now
	return p
}

// Run executes one cycle. Records are processed strictly in order; a record
// failure never aborts the batch and is reported in the summary. A fetch
// failure aborts the cycle and is returned. Cancellation is honored between
// records; the record in flight always runs to completion.
func (p *Pipeline) Run(ctx context.Context, req Request) (domain.CycleSummary, error) {
	policy := PolicyFor(req.Mode)
	cycle := Cycle{ID: uuid.NewString(), Mode: policy.Mode}
	summary := domain.CycleSummary{
		CycleID:   cycle.ID,
		Mode:      policy.Mode,
		StartedAt: p.now(),
	}
	logger := p.logger.With("cycle_id", cycle.ID, "mode", policy.Mode)

	err := p.run(ctx, logger, cycle, policy, req.RecordID, &summary)
	summary.FinishedAt = p.now()
	if p.metrics != nil {
		p.metrics.ObserveCycle(policy.Mode, err, summary.FinishedAt.Sub(summary.StartedAt))
	}

	logArgs := []any{
		"fetched", summary.Fetched,
		"published", summary.Published,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
		"duration", summary.FinishedAt.Sub(summary.StartedAt),
	}
	switch {
	case err == nil:
		logger.Info("cycle finished", logArgs...)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		logger.Info("cycle interrupted", logArgs...)
	default:
		logger.Error("cycle aborted", append(logArgs, "error", err)...)
	}
	return summary, err
}

func (p *Pipeline) run(ctx context.Context, logger *slog.Logger, cycle Cycle, policy ModePolicy, recordID string, summary *domain.CycleSummary) error {
	if p.store == nil || p.publisher == nil {
		return fmt.Errorf("pipeline is not configured")
	}

	records, err := p.store.FetchDue(ctx, policy.Mode, recordID)
	if err != nil {
		return fmt.Errorf("fetch due records: %w", err)
	}
	summary.Fetched = len(records)
	logger.Debug("records fetched", "count", len(records), "record_id", recordID)

	for i, record := range records {
		if err := ctx.Err(); err != nil {
			logger.Info("stopping before next record", "remaining", len(records)-i)
			return err
		}

		result := p.process(ctx, logger, cycle, policy, record, recordID != "")
		summary.Add(result)
		if p.metrics != nil {
			p.metrics.ObserveRecord(policy.Mode, result.Outcome)
		}

		if result.Outcome == domain.OutcomePublished && i < len(records)-1 && p.recordDelay > 0 {
			if err := p.sleep(ctx, p.recordDelay); err != nil {
				logger.Info("stopping before next record", "remaining", len(records)-i-1)
				return err
			}
		}
	}
	return nil
}

// process runs one record through eligibility, lease, re-check, publish and
// reconcile. Everything after the lease runs detached from cancellation so a
// shutdown never leaves a post without its write-back attempt.
func (p *Pipeline) process(ctx context.Context, logger *slog.Logger, cycle Cycle, policy ModePolicy, record domain.ContentRecord, explicit bool) domain.RecordResult {
	result := domain.RecordResult{RecordID: record.ID, Title: record.Title}
	logger = logger.With("record_id", record.ID)
	now := p.now()

	if ok, reason := policy.Eligible(record, now, explicit); !ok {
		return p.skip(ctx, logger, cycle, result, reason)
	}

	if p.lease != nil {
		release, acquired, err := p.lease.Acquire(ctx, record.ID)
		switch {
		case err != nil:
			logger.Warn("lease unavailable, relying on re-check", "error", err)
		case !acquired:
			return p.skip(ctx, logger, cycle, result, "another run holds the lease")
		default:
			defer func() {
				_ = release(context.WithoutCancel(ctx))
			}()
		}
	}

	work := context.WithoutCancel(ctx)

	fresh, found, err := p.store.Get(work, record.ID)
	if err != nil {
		result.Outcome = domain.OutcomeStoreFailed
		result.Reason = "re-check failed"
		result.Err = fmt.Errorf("re-check record %s: %w", record.ID, err)
		logger.Warn("re-check failed, leaving record for next cycle", "error", err)
		p.record(work, logger, cycle, result)
		return result
	}
	if !found {
		return p.skip(ctx, logger, cycle, result, "record no longer exists")
	}
	if ok, reason := policy.Eligible(fresh, p.now(), explicit); !ok {
		return p.skip(ctx, logger, cycle, result, reason)
	}

	if fresh.PublishAt != nil {
		logger.Debug("publishing", "publish_at", fresh.PublishAt.In(p.location).Format(time.RFC3339), "live", policy.Live)
	}

	postID, err := p.publisher.Publish(work, fresh, policy.Live)
	if err != nil {
		result.Outcome = domain.OutcomePublishFailed
		result.Reason = "cms rejected the post or retries ran out"
		result.Err = err
		logArgs := []any{"error", err}
		var pubErr *domain.PublishError
		if errors.As(err, &pubErr) {
			logArgs = append(logArgs, "status", pubErr.StatusCode, "attempts", pubErr.Attempts)
		}
		logger.Error("publish failed, record left unchanged", logArgs...)
		p.record(work, logger, cycle, result)
		return result
	}

	result.RemotePostID = postID
	if err := p.reconciler.Reconcile(work, cycle, fresh, postID); err != nil {
		result.Outcome = domain.OutcomeReconcileFailed
		result.Reason = "post is live but status write-back failed"
		result.Err = err
		return result
	}

	result.Outcome = domain.OutcomePublished
	return result
}

func (p *Pipeline) skip(ctx context.Context, logger *slog.Logger, cycle Cycle, result domain.RecordResult, reason string) domain.RecordResult {
	result.Outcome = domain.OutcomeSkipped
	result.Reason = reason
	logger.Info("record skipped", "reason", reason)
	p.record(context.WithoutCancel(ctx), logger, cycle, result)
	return result
}

// record journals outcomes decided before the write-back; the reconciler
// journals its own.
func (p *Pipeline) record(ctx context.Context, logger *slog.Logger, cycle Cycle, result domain.RecordResult) {
	if p.journal == nil {
		return
	}
	detail := result.Reason
	if result.Err != nil {
		detail = result.Err.Error()
	}
	err := p.journal.Record(ctx, domain.JournalEntry{
		CycleID:      cycle.ID,
		RecordID:     result.RecordID,
		Mode:         cycle.Mode,
		Outcome:      result.Outcome,
		RemotePostID: result.RemotePostID,
		Detail:       detail,
		CreatedAt:    p.now(),
	})
	if err != nil {
		logger.Warn("journal write failed", "outcome", result.Outcome, "error", err)
	}
}

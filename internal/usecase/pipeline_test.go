package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"BlogPublisher/internal/domain"
)

var testNow = time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)

func at(value string) *time.Time {
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		panic(err)
	}
	return &ts
}

func scheduled(id, publishAt string) domain.ContentRecord {
	return domain.ContentRecord{
		ID:             id,
		Title:          "Post " + id,
		Body:           "<p>body</p>",
		PrimaryKeyword: "A",
		Status:         domain.StatusScheduled,
		PublishAt:      at(publishAt),
	}
}

type harness struct {
	store     *fakeStore
	publisher *fakePublisher
	journal   *fakeJournal
	notifier  *fakeNotifier
	metrics   *fakeMetrics
	sleeps    []time.Duration
	pipeline  *Pipeline
}

func newHarness(store *fakeStore, publisher *fakePublisher, configure func(*PipelineDeps)) *harness {
	h := &harness{
		store:     store,
		publisher: publisher,
		journal:   &fakeJournal{},
		notifier:  &fakeNotifier{},
		metrics:   &fakeMetrics{},
	}
	deps := PipelineDeps{
		Store:       store,
		Publisher:   publisher,
		Journal:     h.journal,
		Notifier:    h.notifier,
		Metrics:     h.metrics,
		RecordDelay: 2 * time.Second,
		Now:         func() time.Time { return testNow },
		Sleep: func(ctx context.Context, d time.Duration) error {
			h.sleeps = append(h.sleeps, d)
			return ctx.Err()
		},
	}
	if configure != nil {
		configure(&deps)
	}
	h.pipeline = NewPipeline(deps)
	return h
}

func TestScheduledRecordIsPostedAsDraftAndMarkedPublished(t *testing.T) {
	t.Parallel()

	store := newFakeStore(scheduled("r1", "2025-01-01T00:00:00Z"))
	publisher := &fakePublisher{ids: map[string]string{"r1": "42"}}
	h := newHarness(store, publisher, nil)

	summary, err := h.pipeline.Run(context.Background(), Request{Mode: domain.ModeScheduled})
	require.NoError(t, err)

	require.Len(t, publisher.calls, 1)
	assert.False(t, publisher.calls[0].Live, "scheduled posts are created as drafts")
	assert.Equal(t, []patchCall{{RecordID: "r1", Status: domain.StatusPublished, RemotePostID: "42"}}, store.patches)

	assert.Equal(t, 1, summary.Fetched)
	assert.Equal(t, 1, summary.Published)
	assert.Equal(t, "42", summary.Results[0].RemotePostID)
	assert.NotEmpty(t, summary.CycleID)
	assert.Equal(t, domain.OutcomePublished, h.journal.outcomes()["r1"])
	assert.Equal(t, []domain.Outcome{domain.OutcomePublished}, h.metrics.outcomes)
	assert.Equal(t, []error{nil}, h.metrics.cycles)
	assert.Empty(t, h.notifier.messages)
}

func TestRecordWithRemotePostIDIsNeverPostedAgain(t *testing.T) {
	t.Parallel()

	rec := scheduled("r1", "2025-01-01T00:00:00Z")
	rec.RemotePostID = "42"
	store := newFakeStore(rec)
	publisher := &fakePublisher{}
	h := newHarness(store, publisher, nil)

	summary, err := h.pipeline.Run(context.Background(), Request{Mode: domain.ModeScheduled})
	require.NoError(t, err)

	assert.Empty(t, publisher.calls)
	assert.Empty(t, store.patches)
	assert.Equal(t, 1, summary.Skipped)
	assert.Contains(t, summary.Results[0].Reason, "42")
}

func TestRecheckSkipsRecordPublishedByConcurrentRun(t *testing.T) {
	t.Parallel()

	store := newFakeStore(scheduled("r1", "2025-01-01T00:00:00Z"))
	// Another run finished between our fetch and the re-check.
	concurrent := store.records["r1"]
	concurrent.RemotePostID = "99"
	concurrent.Status = domain.StatusPublished
	store.records["r1"] = concurrent

	publisher := &fakePublisher{}
	h := newHarness(store, publisher, nil)

	summary, err := h.pipeline.Run(context.Background(), Request{Mode: domain.ModeScheduled})
	require.NoError(t, err)
	assert.Empty(t, publisher.calls)
	assert.Equal(t, 1, summary.Skipped)
}

func TestRejectedPublishLeavesRecordUntouched(t *testing.T) {
	t.Parallel()

	store := newFakeStore(scheduled("r1", "2025-01-01T00:00:00Z"))
	pubErr := &domain.PublishError{RecordID: "r1", StatusCode: 422, Body: "invalid", Attempts: 1}
	publisher := &fakePublisher{errs: map[string]error{"r1": pubErr}}
	h := newHarness(store, publisher, nil)

	summary, err := h.pipeline.Run(context.Background(), Request{Mode: domain.ModeScheduled})
	require.NoError(t, err)

	assert.Len(t, publisher.calls, 1)
	assert.Empty(t, store.patches)
	assert.Equal(t, domain.StatusScheduled, store.records["r1"].Status)
	assert.Empty(t, store.records["r1"].RemotePostID)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, domain.OutcomePublishFailed, h.journal.outcomes()["r1"])

	var got *domain.PublishError
	require.ErrorAs(t, summary.FirstError(), &got)
	assert.Equal(t, 422, got.StatusCode)
	assert.Empty(t, h.sleeps, "no throttle after a failed record")
}

func TestFutureRecordsAreNotSelected(t *testing.T) {
	t.Parallel()

	store := newFakeStore(scheduled("later", "2025-01-03T00:00:00Z"))
	publisher := &fakePublisher{}
	h := newHarness(store, publisher, nil)

	summary, err := h.pipeline.Run(context.Background(), Request{Mode: domain.ModeScheduled})
	require.NoError(t, err)
	assert.Empty(t, publisher.calls)
	assert.Equal(t, 1, summary.Skipped)
	assert.Contains(t, summary.Results[0].Reason, "not due")
}

func TestDueRecordsArePublishedInOrderWithThrottle(t *testing.T) {
	t.Parallel()

	store := newFakeStore(
		scheduled("rA", "2024-12-30T00:00:00Z"),
		scheduled("rB", "2024-12-31T00:00:00Z"),
		scheduled("rC", "2025-01-01T00:00:00Z"),
	)
	publisher := &fakePublisher{}
	h := newHarness(store, publisher, nil)

	summary, err := h.pipeline.Run(context.Background(), Request{Mode: domain.ModeScheduled})
	require.NoError(t, err)

	assert.Equal(t, []string{"rA", "rB", "rC"}, publisher.publishedIDs())
	assert.Equal(t, 3, summary.Published)
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, h.sleeps)
}

func TestReconcileFailureDoesNotAbortBatch(t *testing.T) {
	t.Parallel()

	store := newFakeStore(
		scheduled("r1", "2024-12-30T00:00:00Z"),
		scheduled("r2", "2024-12-31T00:00:00Z"),
	)
	store.patchErr = map[string]error{
		"r1": &domain.StoreError{Kind: domain.ErrStoreUnavailable, Op: "patch record", RecordID: "r1", StatusCode: 503},
	}
	publisher := &fakePublisher{ids: map[string]string{"r1": "42", "r2": "43"}}
	h := newHarness(store, publisher, nil)

	summary, err := h.pipeline.Run(context.Background(), Request{Mode: domain.ModeScheduled})
	require.NoError(t, err)

	assert.Equal(t, []string{"r1", "r2"}, publisher.publishedIDs())
	assert.Equal(t, 1, summary.Published)
	assert.Equal(t, 1, summary.Failed)

	var recErr *domain.ReconcileError
	require.ErrorAs(t, summary.Results[0].Err, &recErr)
	assert.Equal(t, "42", recErr.RemotePostID)
	assert.ErrorIs(t, recErr, domain.ErrStoreUnavailable)

	outcomes := h.journal.outcomes()
	assert.Equal(t, domain.OutcomeReconcileFailed, outcomes["r1"])
	assert.Equal(t, domain.OutcomePublished, outcomes["r2"])

	require.Len(t, h.notifier.messages, 1)
	assert.Contains(t, h.notifier.messages[0], "post 42")
	assert.Empty(t, h.sleeps, "write-back failed, so no throttle before r2")
}

func TestImmediateModePublishesLive(t *testing.T) {
	t.Parallel()

	ready := domain.ContentRecord{ID: "r9", Title: "Now", Status: domain.StatusReadyToPublish}
	store := newFakeStore(ready)
	publisher := &fakePublisher{ids: map[string]string{"r9": "7"}}
	h := newHarness(store, publisher, nil)

	summary, err := h.pipeline.Run(context.Background(), Request{Mode: domain.ModeImmediate, RecordID: "r9"})
	require.NoError(t, err)

	assert.Equal(t, []string{"r9"}, store.fetchIDs)
	assert.Equal(t, []domain.Mode{domain.ModeImmediate}, store.fetchModes)
	require.Len(t, publisher.calls, 1)
	assert.True(t, publisher.calls[0].Live)
	assert.Equal(t, []patchCall{{RecordID: "r9", Status: domain.StatusPublished, RemotePostID: "7"}}, store.patches)
	assert.Equal(t, domain.ModeImmediate, summary.Mode)
}

func TestPublishLatestSkipsNewestRecordAlreadyPosted(t *testing.T) {
	t.Parallel()

	newest := domain.ContentRecord{ID: "rNew", Title: "Live", Status: domain.StatusPublished, RemotePostID: "77"}
	store := newFakeStore(newest)
	publisher := &fakePublisher{}
	h := newHarness(store, publisher, nil)

	summary, err := h.pipeline.Run(context.Background(), Request{Mode: domain.ModeImmediate})
	require.NoError(t, err)

	assert.Equal(t, []string{""}, store.fetchIDs)
	assert.Empty(t, publisher.calls)
	assert.Empty(t, store.patches)
	require.Len(t, summary.Results, 1)
	assert.Equal(t, domain.OutcomeSkipped, summary.Results[0].Outcome)
	assert.Contains(t, summary.Results[0].Reason, "77")
}

func TestImmediateModeWithUnknownRecordIsEmpty(t *testing.T) {
	t.Parallel()

	h := newHarness(newFakeStore(), &fakePublisher{}, nil)
	summary, err := h.pipeline.Run(context.Background(), Request{Mode: domain.ModeImmediate, RecordID: "missing"})
	require.NoError(t, err)
	assert.Zero(t, summary.Fetched)
	assert.Empty(t, summary.Results)
}

func TestFetchFailureAbortsCycle(t *testing.T) {
	t.Parallel()

	store := newFakeStore(scheduled("r1", "2025-01-01T00:00:00Z"))
	store.fetchErr = &domain.StoreError{Kind: domain.ErrStoreUnavailable, Op: "list records", StatusCode: 502}
	publisher := &fakePublisher{}
	h := newHarness(store, publisher, nil)

	_, err := h.pipeline.Run(context.Background(), Request{Mode: domain.ModeScheduled})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.Empty(t, publisher.calls)
	require.Len(t, h.metrics.cycles, 1)
	assert.ErrorIs(t, h.metrics.cycles[0], domain.ErrStoreUnavailable)
}

func TestRecheckFailureIsRecordedAndBatchContinues(t *testing.T) {
	t.Parallel()

	store := newFakeStore(
		scheduled("r1", "2024-12-30T00:00:00Z"),
		scheduled("r2", "2024-12-31T00:00:00Z"),
	)
	store.getErr = map[string]error{"r1": fmt.Errorf("get: %w", domain.ErrStoreUnavailable)}
	publisher := &fakePublisher{}
	h := newHarness(store, publisher, nil)

	summary, err := h.pipeline.Run(context.Background(), Request{Mode: domain.ModeScheduled})
	require.NoError(t, err)
	assert.Equal(t, []string{"r2"}, publisher.publishedIDs())
	assert.Equal(t, domain.OutcomeStoreFailed, summary.Results[0].Outcome)
	assert.ErrorIs(t, summary.Results[0].Err, domain.ErrStoreUnavailable)
}

func TestCancellationStopsBetweenRecords(t *testing.T) {
	t.Parallel()

	store := newFakeStore(
		scheduled("r1", "2024-12-30T00:00:00Z"),
		scheduled("r2", "2024-12-31T00:00:00Z"),
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	publisher := &fakePublisher{onCall: func(domain.ContentRecord) { cancel() }}
	h := newHarness(store, publisher, func(d *PipelineDeps) { d.RecordDelay = 0 })

	summary, err := h.pipeline.Run(ctx, Request{Mode: domain.ModeScheduled})
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, []string{"r1"}, publisher.publishedIDs())
	require.Len(t, store.patches, 1)
	assert.NoError(t, store.patches[0].CtxErr, "in-flight write-back must not see the cancellation")
	assert.Equal(t, 1, summary.Published)
}

func TestLeaseHeldElsewhereSkipsRecord(t *testing.T) {
	t.Parallel()

	store := newFakeStore(
		scheduled("r1", "2024-12-30T00:00:00Z"),
		scheduled("r2", "2024-12-31T00:00:00Z"),
	)
	lease := &fakeLease{held: map[string]bool{"r1": true}}
	publisher := &fakePublisher{}
	h := newHarness(store, publisher, func(d *PipelineDeps) { d.Lease = lease })

	summary, err := h.pipeline.Run(context.Background(), Request{Mode: domain.ModeScheduled})
	require.NoError(t, err)
	assert.Equal(t, []string{"r2"}, publisher.publishedIDs())
	assert.Equal(t, domain.OutcomeSkipped, summary.Results[0].Outcome)
	assert.Equal(t, []string{"r2"}, lease.released)
}

func TestLeaseErrorFallsBackToRecheck(t *testing.T) {
	t.Parallel()

	store := newFakeStore(scheduled("r1", "2024-12-30T00:00:00Z"))
	lease := &fakeLease{err: errors.New("redis down")}
	publisher := &fakePublisher{}
	h := newHarness(store, publisher, func(d *PipelineDeps) { d.Lease = lease })

	summary, err := h.pipeline.Run(context.Background(), Request{Mode: domain.ModeScheduled})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Published)
}

func TestUnconfiguredPipeline(t *testing.T) {
	t.Parallel()

	_, err := NewPipeline(PipelineDeps{}).Run(context.Background(), Request{})
	require.Error(t, err)
}

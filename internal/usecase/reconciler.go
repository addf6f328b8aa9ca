package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"BlogPublisher/internal/domain"
	"BlogPublisher/internal/logging"
	"BlogPublisher/internal/ports"
)

// Cycle identifies the pipeline run a write-back belongs to.
type Cycle struct {
	ID   string
	Mode domain.Mode
}

// Reconciler writes the CMS outcome back to the record store. It is the only
// component that moves a record to Published.
type Reconciler struct {
	store    ports.RecordStore
	journal  ports.Journal
	notifier ports.Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewReconciler wires the store and optional journal/notifier.
func NewReconciler(store ports.RecordStore, journal ports.Journal, notifier ports.Notifier, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Reconciler{
		store:    store,
		journal:  journal,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// Reconcile marks record Published with remotePostID. The patch is not retried:
// a failure leaves a live CMS post without a recorded id and is returned as
// *domain.ReconcileError.
func (r *Reconciler) Reconcile(ctx context.Context, cycle Cycle, record domain.ContentRecord, remotePostID string) error {
	err := r.store.PatchStatus(ctx, record.ID, domain.StatusPublished, remotePostID)
	if err == nil {
		r.logger.Info("record published",
			"cycle_id", cycle.ID,
			"record_id", record.ID,
			"post_id", remotePostID,
			"mode", cycle.Mode)
		r.record(ctx, cycle, record.ID, domain.OutcomePublished, remotePostID, "")
		return nil
	}

	recErr := &domain.ReconcileError{RecordID: record.ID, RemotePostID: remotePostID, Err: err}
	r.logger.Error("manual reconciliation required",
		"cycle_id", cycle.ID,
		"record_id", record.ID,
		"title", record.Title,
		"post_id", remotePostID,
		"error", err)
	r.record(ctx, cycle, record.ID, domain.OutcomeReconcileFailed, remotePostID, err.Error())

	if r.notifier != nil {
		msg := fmt.Sprintf("Manual reconciliation required: record %s (%q) is live as post %s but the status write-back failed: %v",
			record.ID, record.Title, remotePostID, err)
		if nErr := r.notifier.Notify(ctx, msg); nErr != nil {
			r.logger.Warn("operator alert failed", "record_id", record.ID, "error", nErr)
		}
	}
	return recErr
}

func (r *Reconciler) record(ctx context.Context, cycle Cycle, recordID string, outcome domain.Outcome, remotePostID, detail string) {
	if r.journal == nil {
		return
	}
	err := r.journal.Record(ctx, domain.JournalEntry{
		CycleID:      cycle.ID,
		RecordID:     recordID,
		Mode:         cycle.Mode,
		Outcome:      outcome,
		RemotePostID: remotePostID,
		Detail:       detail,
		CreatedAt:    r.now(),
	})
	if err != nil {
		r.logger.Warn("journal write failed", "record_id", recordID, "outcome", outcome, "error", err)
	}
}

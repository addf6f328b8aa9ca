package journal

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"BlogPublisher/internal/domain"
	"BlogPublisher/internal/ports"
)

const table = "publication_journal"

const schema = `CREATE TABLE IF NOT EXISTS publication_journal (
    id             BIGSERIAL PRIMARY KEY,
    cycle_id       TEXT NOT NULL,
    record_id      TEXT NOT NULL,
    mode           TEXT NOT NULL,
    outcome        TEXT NOT NULL,
    remote_post_id TEXT NOT NULL DEFAULT '',
    detail         TEXT NOT NULL DEFAULT '',
    created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// DB is the subset of pgxpool.Pool the journal needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresJournal persists pipeline outcomes for audit and manual reconciliation.
type PostgresJournal struct {
	db  DB
	psq sq.StatementBuilderType
	now func() time.Time
}

var _ ports.Journal = (*PostgresJournal)(nil)

// NewPostgresJournal wires a pgx pool (or anything shaped like one).
func NewPostgresJournal(db DB) *PostgresJournal {
	return &PostgresJournal{
		db:  db,
		psq: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
		now: time.Now,
	}
}

// EnsureSchema creates the journal table when missing.
func (j *PostgresJournal) EnsureSchema(ctx context.Context) error {
	if j.db == nil {
		return nil
	}
	if _, err := j.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create journal table: %w", err)
	}
	return nil
}

// Record appends one outcome.
func (j *PostgresJournal) Record(ctx context.Context, entry domain.JournalEntry) error {
	if j.db == nil {
		return nil
	}

	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = j.now()
	}

	query, args, err := j.psq.Insert(table).
		Columns("cycle_id", "record_id", "mode", "outcome", "remote_post_id", "detail", "created_at").
		Values(entry.CycleID, entry.RecordID, string(entry.Mode), string(entry.Outcome),
			entry.RemotePostID, entry.Detail, createdAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build journal insert: %w", err)
	}

	if _, err := j.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert journal entry: %w", err)
	}
	return nil
}

// Inconsistencies lists records whose CMS post exists but whose write-back
// failed, unless a later entry shows them published.
func (j *PostgresJournal) Inconsistencies(ctx context.Context, limit uint64) ([]domain.JournalEntry, error) {
	if j.db == nil {
		return nil, nil
	}
	if limit == 0 {
		limit = 50
	}

	later := sq.Select("1").
		From(table + " AS later").
		Where("later.record_id = j.record_id").
		Where(sq.Eq{"later.outcome": string(domain.OutcomePublished)}).
		Where("later.created_at > j.created_at")
	laterSQL, laterArgs, err := later.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build journal subquery: %w", err)
	}

	query, args, err := j.psq.
		Select("j.id", "j.cycle_id", "j.record_id", "j.mode", "j.outcome", "j.remote_post_id", "j.detail", "j.created_at").
		From(table + " AS j").
		Where(sq.Eq{"j.outcome": string(domain.OutcomeReconcileFailed)}).
		Where("NOT EXISTS ("+laterSQL+")", laterArgs...).
		OrderBy("j.created_at DESC").
		Limit(limit).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build journal query: %w", err)
	}

	rows, err := j.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query inconsistencies: %w", err)
	}
	defer rows.Close()

	var entries []domain.JournalEntry
	for rows.Next() {
		var (
			e       domain.JournalEntry
			mode    string
			outcome string
		)
		if err := rows.Scan(&e.ID, &e.CycleID, &e.RecordID, &mode, &outcome, &e.RemotePostID, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		e.Mode = domain.Mode(mode)
		e.Outcome = domain.Outcome(outcome)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return entries, nil
}

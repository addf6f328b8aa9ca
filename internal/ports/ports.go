package ports

import (
	"context"
	"time"

	"BlogPublisher/internal/domain"
)

// RecordStore reads and patches content records in the external tabular store.
type RecordStore interface {
	FetchDue(ctx context.Context, mode domain.Mode, recordID string) ([]domain.ContentRecord, error)
	Get(ctx context.Context, recordID string) (domain.ContentRecord, bool, error)
	PatchStatus(ctx context.Context, recordID string, status domain.Status, remotePostID string) error
	Create(ctx context.Context, record domain.ContentRecord) (domain.ContentRecord, error)
}

// Publisher writes a post to the CMS and returns its remote identifier.
type Publisher interface {
	Publish(ctx context.Context, record domain.ContentRecord, live bool) (string, error)
}

// Journal keeps an audit trail of pipeline outcomes.
type Journal interface {
	Record(ctx context.Context, entry domain.JournalEntry) error
	Inconsistencies(ctx context.Context, limit uint64) ([]domain.JournalEntry, error)
}

// Lease guards a record against concurrent pipeline invocations.
type Lease interface {
	Acquire(ctx context.Context, key string) (release func(context.Context) error, acquired bool, err error)
}

// Notifier streams operator alerts to Telegram or other channels.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// Metrics receives pipeline counters.
type Metrics interface {
	ObserveCycle(mode domain.Mode, err error, duration time.Duration)
	ObserveRecord(mode domain.Mode, outcome domain.Outcome)
}

// Generator turns a prompt into text via a generative-language API.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Extractor pulls readable article text from a web page.
type Extractor interface {
	Extract(ctx context.Context, pageURL string) (string, error)
}

// Scheduler controls when pipeline cycles execute. Run blocks until ctx is done.
type Scheduler interface {
	Run(ctx context.Context, job func(context.Context, time.Time)) error
}

package domain

import "time"

// JournalEntry is one audited pipeline outcome.
type JournalEntry struct {
	ID           int64
	CycleID      string
	RecordID     string
	Mode         Mode
	Outcome      Outcome
	RemotePostID string
	Detail       string
	CreatedAt    time.Time
}

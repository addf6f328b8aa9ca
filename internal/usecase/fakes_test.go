package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"BlogPublisher/internal/domain"
)

type patchCall struct {
	RecordID     string
	Status       domain.Status
	RemotePostID string
	CtxErr       error
}

type fakeStore struct {
	mu       sync.Mutex
	due      []domain.ContentRecord
	records  map[string]domain.ContentRecord
	fetchErr error
	getErr   map[string]error
	patchErr map[string]error

	fetchModes []domain.Mode
	fetchIDs   []string
	patches    []patchCall
	created    []domain.ContentRecord
}

func newFakeStore(records ...domain.ContentRecord) *fakeStore {
	s := &fakeStore{records: map[string]domain.ContentRecord{}}
	for _, r := range records {
		s.due = append(s.due, r)
		s.records[r.ID] = r
	}
	return s
}

func (s *fakeStore) FetchDue(_ context.Context, mode domain.Mode, recordID string) ([]domain.ContentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetchModes = append(s.fetchModes, mode)
	s.fetchIDs = append(s.fetchIDs, recordID)
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	if recordID != "" {
		if r, ok := s.records[recordID]; ok {
			return []domain.ContentRecord{r}, nil
		}
		return nil, nil
	}
	return append([]domain.ContentRecord(nil), s.due...), nil
}

func (s *fakeStore) Get(_ context.Context, recordID string) (domain.ContentRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.getErr[recordID]; err != nil {
		return domain.ContentRecord{}, false, err
	}
	r, ok := s.records[recordID]
	return r, ok, nil
}

func (s *fakeStore) PatchStatus(ctx context.Context, recordID string, status domain.Status, remotePostID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patches = append(s.patches, patchCall{RecordID: recordID, Status: status, RemotePostID: remotePostID, CtxErr: ctx.Err()})
	if err := s.patchErr[recordID]; err != nil {
		return err
	}
	r := s.records[recordID]
	r.Status = status
	r.RemotePostID = remotePostID
	s.records[recordID] = r
	return nil
}

func (s *fakeStore) Create(_ context.Context, record domain.ContentRecord) (domain.ContentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record.ID = "recNew"
	s.created = append(s.created, record)
	s.records[record.ID] = record
	return record, nil
}

type publishCall struct {
	Record domain.ContentRecord
	Live   bool
}

type fakePublisher struct {
	mu     sync.Mutex
	calls  []publishCall
	ids    map[string]string
	errs   map[string]error
	onCall func(domain.ContentRecord)
}

func (p *fakePublisher) Publish(_ context.Context, record domain.ContentRecord, live bool) (string, error) {
	p.mu.Lock()
	p.calls = append(p.calls, publishCall{Record: record, Live: live})
	hook := p.onCall
	p.mu.Unlock()

	if hook != nil {
		hook(record)
	}
	if err := p.errs[record.ID]; err != nil {
		return "", err
	}
	if id, ok := p.ids[record.ID]; ok {
		return id, nil
	}
	return "1", nil
}

func (p *fakePublisher) publishedIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.calls))
	for _, c := range p.calls {
		ids = append(ids, c.Record.ID)
	}
	return ids
}

type fakeJournal struct {
	mu      sync.Mutex
	entries []domain.JournalEntry
}

func (j *fakeJournal) Record(_ context.Context, entry domain.JournalEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entry)
	return nil
}

func (j *fakeJournal) Inconsistencies(context.Context, uint64) ([]domain.JournalEntry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []domain.JournalEntry
	for _, e := range j.entries {
		if e.Outcome == domain.OutcomeReconcileFailed {
			out = append(out, e)
		}
	}
	return out, nil
}

func (j *fakeJournal) outcomes() map[string]domain.Outcome {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := map[string]domain.Outcome{}
	for _, e := range j.entries {
		out[e.RecordID] = e.Outcome
	}
	return out
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *fakeNotifier) Notify(_ context.Context, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
	return nil
}

type fakeLease struct {
	mu       sync.Mutex
	held     map[string]bool
	err      error
	released []string
}

func (l *fakeLease) Acquire(_ context.Context, key string) (func(context.Context) error, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, false, l.err
	}
	if l.held[key] {
		return nil, false, nil
	}
	if l.held == nil {
		l.held = map[string]bool{}
	}
	l.held[key] = true
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
		l.released = append(l.released, key)
		return nil
	}, true, nil
}

type fakeMetrics struct {
	mu       sync.Mutex
	cycles   []error
	outcomes []domain.Outcome
}

func (m *fakeMetrics) ObserveCycle(_ domain.Mode, err error, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cycles = append(m.cycles, err)
}

func (m *fakeMetrics) ObserveRecord(_ domain.Mode, outcome domain.Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, outcome)
}

type fakeExtractor struct {
	texts map[string]string
}

func (e *fakeExtractor) Extract(_ context.Context, pageURL string) (string, error) {
	text, ok := e.texts[pageURL]
	if !ok {
		return "", errors.New("fetch failed")
	}
	return text, nil
}

type fakeGenerator struct {
	mu          sync.Mutex
	description string
	descErr     error
	post        string
	postErr     error
	prompts     []string
}

func (g *fakeGenerator) Generate(_ context.Context, prompt string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, prompt)
	if len(g.prompts) == 1 {
		return g.description, g.descErr
	}
	return g.post, g.postErr
}

type fakeDriver struct {
	ticks int
}

func (d *fakeDriver) Run(ctx context.Context, job func(context.Context, time.Time)) error {
	for i := 0; i < d.ticks; i++ {
		job(ctx, time.Now())
	}
	return nil
}

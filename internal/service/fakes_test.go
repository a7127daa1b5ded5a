package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/spec-kit/triage-service/internal/domain"
	"github.com/spec-kit/triage-service/internal/events"
	apperrors "github.com/spec-kit/triage-service/pkg/util/errorutil"
)

// fakeTickets is an in-memory ticketing platform.
type fakeTickets struct {
	mu        sync.Mutex
	tickets   map[string]*domain.Ticket
	updates   []domain.TicketUpdate
	updateErr []error
	fetchErr  error
}

func newFakeTickets(tickets ...*domain.Ticket) *fakeTickets {
	f := &fakeTickets{tickets: map[string]*domain.Ticket{}}
	for _, t := range tickets {
		f.tickets[t.ID] = t
	}
	return f
}

func (f *fakeTickets) Fetch(ctx context.Context, id string) (*domain.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, apperrors.NewUpstreamUnavailable("znuny", err)
	}
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	t, ok := f.tickets[id]
	if !ok {
		return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": id})
	}
	cp := *t
	cp.Articles = append([]domain.Article(nil), t.Articles...)
	return &cp, nil
}

func (f *fakeTickets) Update(ctx context.Context, id string, u domain.TicketUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, u)
	if err := ctx.Err(); err != nil {
		return apperrors.NewUpstreamUnavailable("znuny", err)
	}
	if len(f.updateErr) > 0 {
		err := f.updateErr[0]
		f.updateErr = f.updateErr[1:]
		if err != nil {
			return err
		}
	}
	t, ok := f.tickets[id]
	if !ok {
		return apperrors.NewNotFound("ticket", nil)
	}
	if u.Subject != nil {
		t.Subject = *u.Subject
	}
	if u.Priority != nil {
		t.Priority = *u.Priority
	}
	if u.Type != nil {
		t.Type = *u.Type
	}
	if u.Article != nil && !t.HasArticle(u.Article.Subject, u.Article.Body) {
		t.Articles = append(t.Articles, *u.Article)
	}
	return nil
}

func (f *fakeTickets) snapshot(id string) domain.Ticket {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := *f.tickets[id]
	t.Articles = append([]domain.Article(nil), f.tickets[id].Articles...)
	return t
}

func (f *fakeTickets) updateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.updates)
}

func (f *fakeTickets) articlesWithSubject(id, subject string) []domain.Article {
	var out []domain.Article
	for _, a := range f.snapshot(id).Articles {
		if a.Subject == subject {
			out = append(out, a)
		}
	}
	return out
}

type fakeDiagnoser struct {
	diagnosis domain.Diagnosis
	err       error
	// hang blocks until the caller's context ends.
	hang bool
}

func (f *fakeDiagnoser) Diagnose(ctx context.Context, _ *domain.Ticket) (domain.Diagnosis, error) {
	if f.hang {
		<-ctx.Done()
		return domain.Diagnosis{}, apperrors.NewUpstreamUnavailable("openai", ctx.Err())
	}
	return f.diagnosis, f.err
}

// fakeSubmitter records submissions and answers with a fixed error. busy maps ticket
// IDs to the task already in flight for them.
type fakeSubmitter struct {
	mu    sync.Mutex
	tasks []domain.DelegationTask
	err   error
	busy  map[string]string
}

func (f *fakeSubmitter) InFlight(ticketID string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.busy[ticketID]
	return id, ok
}

func (f *fakeSubmitter) Submit(task domain.DelegationTask) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.tasks = append(f.tasks, task)
	return nil
}

func (f *fakeSubmitter) submitted() []domain.DelegationTask {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.DelegationTask(nil), f.tasks...)
}

type fakeAnalyzer struct {
	mu     sync.Mutex
	report *domain.AnalysisReport
	err    error
	calls  []domain.AnalysisRequest
	delay  time.Duration
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, req domain.AnalysisRequest) (*domain.AnalysisReport, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	report, err, delay := f.report, f.err, f.delay
	f.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return report, err
}

func (f *fakeAnalyzer) requests() []domain.AnalysisRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.AnalysisRequest(nil), f.calls...)
}

// eventRecorder subscribes to every event type and keeps what it sees.
type eventRecorder struct {
	mu     sync.Mutex
	events []events.Event
}

func recordEvents(dispatcher events.Dispatcher) *eventRecorder {
	r := &eventRecorder{}
	for _, t := range []events.EventType{
		events.EventTicketTriaged,
		events.EventEmergencyEscalated,
		events.EventDelegationQueued,
		events.EventDelegationRejected,
		events.EventDelegationCompleted,
		events.EventDelegationFailed,
	} {
		dispatcher.Subscribe(t, func(_ context.Context, e events.Event) error {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.events = append(r.events, e)
			return nil
		})
	}
	return r
}

func (r *eventRecorder) ofType(t events.EventType) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func mustDiagnosis(in domain.DiagnosisInput) domain.Diagnosis {
	d, err := domain.NewDiagnosis(in)
	if err != nil {
		panic(err)
	}
	return d
}

var errBoom = errors.New("boom")

package app

import (
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/raysh454/perfsandbox/internal/progress"
	"github.com/raysh454/perfsandbox/internal/tools"
)

type Status string

const (
	StatusIdle        Status = "idle"
	StatusValidating  Status = "validating"
	StatusDispatched  Status = "dispatched"
	StatusAggregating Status = "aggregating"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Session is one accepted run. All mutable state is guarded by mu and only
// the Coordinator writes it.
type Session struct {
	ID       string
	Target   *url.URL
	Codes    []string
	Headless bool

	channel *progress.Channel

	mu        sync.Mutex
	status    Status
	started   bool
	startedAt time.Time
	endedAt   time.Time
	outcomes  []tools.Outcome
	viewURL   string
	pdfURL    string
	publicURL string
	shortURL  string
	errMsg    string
}

// Snapshot is a point-in-time copy of a Session, safe to hand out.
type Snapshot struct {
	ID        string          `json:"id"`
	Status    Status          `json:"status"`
	Target    string          `json:"target"`
	Tools     []string        `json:"tools"`
	Headless  bool            `json:"headless"`
	StartedAt time.Time       `json:"startedAt"`
	EndedAt   *time.Time      `json:"endedAt,omitempty"`
	Outcomes  []tools.Outcome `json:"outcomes"`
	ViewURL   string          `json:"viewUrl,omitempty"`
	PDFURL    string          `json:"pdfUrl,omitempty"`
	PublicURL string          `json:"publicUrl,omitempty"`
	ShortURL  string          `json:"shortUrl,omitempty"`
	Error     string          `json:"error,omitempty"`
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Subscribe returns a live view of the session's progress events. Events
// published before the call are not replayed.
func (s *Session) Subscribe() *progress.Subscription {
	return s.channel.Subscribe()
}

// Done is closed once the terminal event has been published.
func (s *Session) Done() <-chan struct{} {
	return s.channel.Done()
}

// Outcomes returns the recorded outcomes in completion order.
func (s *Session) Outcomes() []tools.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.outcomes)
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		ID:        s.ID,
		Status:    s.status,
		Tools:     slices.Clone(s.Codes),
		Headless:  s.Headless,
		StartedAt: s.startedAt,
		Outcomes:  slices.Clone(s.outcomes),
		ViewURL:   s.viewURL,
		PDFURL:    s.pdfURL,
		PublicURL: s.publicURL,
		ShortURL:  s.shortURL,
		Error:     s.errMsg,
	}
	if s.Target != nil {
		snap.Target = s.Target.String()
	}
	if snap.Outcomes == nil {
		snap.Outcomes = []tools.Outcome{}
	}
	if !s.endedAt.IsZero() {
		ended := s.endedAt
		snap.EndedAt = &ended
	}
	return snap
}

// endedBefore reports whether the session finished before t.
func (s *Session) endedBefore(t time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status.Terminal() && !s.endedAt.IsZero() && s.endedAt.Before(t)
}

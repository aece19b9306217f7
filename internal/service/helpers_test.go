package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xiaot623/csassistant/internal/adapter/llm"
	"github.com/xiaot623/csassistant/internal/config"
	"github.com/xiaot623/csassistant/internal/domain"
	"github.com/xiaot623/csassistant/internal/knowledge"
	"github.com/xiaot623/csassistant/internal/repository"
	"github.com/xiaot623/csassistant/internal/selector"
	"github.com/xiaot623/csassistant/tests/helpers"
)

type manualTimer struct {
	d       time.Duration
	f       func()
	stopped bool
	fired   bool
}

// manualScheduler records callbacks and runs them when the test says so.
type manualScheduler struct {
	mu     sync.Mutex
	timers []*manualTimer
}

func (s *manualScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &manualTimer{d: d, f: f}
	s.timers = append(s.timers, t)
	return &manualHandle{s: s, t: t}
}

type manualHandle struct {
	s *manualScheduler
	t *manualTimer
}

func (h *manualHandle) Stop() bool {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	if h.t.stopped || h.t.fired {
		return false
	}
	h.t.stopped = true
	return true
}

// FireAll runs every timer that is still armed.
func (s *manualScheduler) FireAll() int {
	s.mu.Lock()
	var due []*manualTimer
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			t.fired = true
			due = append(due, t)
		}
	}
	s.mu.Unlock()

	for _, t := range due {
		t.f()
	}
	return len(due)
}

// FireStopped runs timers that were stopped, as if Stop lost the race with
// the timer goroutine.
func (s *manualScheduler) FireStopped() {
	s.mu.Lock()
	var due []*manualTimer
	for _, t := range s.timers {
		if t.stopped {
			due = append(due, t)
		}
	}
	s.mu.Unlock()

	for _, t := range due {
		t.f()
	}
}

func (s *manualScheduler) Armed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

type failingResponder struct{}

func (failingResponder) Reply(context.Context, *llm.ReplyRequest) (*llm.ReplyResponse, error) {
	return nil, errors.New("upstream unavailable")
}

// blockingResponder waits for release before answering.
type blockingResponder struct {
	entered chan struct{}
	release chan struct{}
}

func newBlockingResponder() *blockingResponder {
	return &blockingResponder{entered: make(chan struct{}, 1), release: make(chan struct{})}
}

func (b *blockingResponder) Reply(ctx context.Context, req *llm.ReplyRequest) (*llm.ReplyResponse, error) {
	b.entered <- struct{}{}
	select {
	case <-b.release:
	case <-ctx.Done():
	}
	return &llm.ReplyResponse{Text: "late answer to " + req.Text, Source: "test"}, nil
}

type stubPolicy struct {
	reject string
}

func (p stubPolicy) Check(_ context.Context, _ string, text string) (bool, string, error) {
	if p.reject != "" && text == p.reject {
		return false, "not allowed", nil
	}
	return true, "", nil
}

type recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recorder) listen(e domain.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) types() []domain.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

type controllerFixture struct {
	ctrl      *Controller
	scheduler *manualScheduler
	storage   repository.Storage
	kb        *knowledge.Base
	events    *recorder
}

func newControllerFixture(t *testing.T, responder llm.Client, policy SubmissionChecker) *controllerFixture {
	t.Helper()

	kb := knowledge.Default()
	sel := selector.New(kb)
	if responder == nil {
		responder = llm.NewLocalClient(sel)
	}
	storage := helpers.NewTestSQLiteStore(t)
	scheduler := &manualScheduler{}
	ctrl := NewController(ControllerConfig{
		SessionID:   "s1",
		Storage:     storage,
		Responder:   responder,
		Tagger:      sel,
		Policy:      policy,
		Scheduler:   scheduler,
		ThinkingMin: time.Second,
		ThinkingMax: 2 * time.Second,
	})
	ctrl.Initialize(context.Background())

	rec := &recorder{}
	ctrl.Subscribe(rec.listen)

	return &controllerFixture{ctrl: ctrl, scheduler: scheduler, storage: storage, kb: kb, events: rec}
}

func newTestService(t *testing.T, storage repository.Storage, opts ...Option) (*Service, *manualScheduler) {
	t.Helper()

	kb := knowledge.Default()
	sel := selector.New(kb)
	scheduler := &manualScheduler{}
	cfg := &config.Config{ThinkingMin: time.Second, ThinkingMax: 2 * time.Second}
	opts = append([]Option{WithScheduler(scheduler)}, opts...)
	return New(storage, kb, sel, llm.NewLocalClient(sel), cfg, opts...), scheduler
}

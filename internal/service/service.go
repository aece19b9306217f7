package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xiaot623/csassistant/internal/adapter/llm"
	"github.com/xiaot623/csassistant/internal/config"
	"github.com/xiaot623/csassistant/internal/domain"
	"github.com/xiaot623/csassistant/internal/knowledge"
	"github.com/xiaot623/csassistant/internal/metrics"
	"github.com/xiaot623/csassistant/internal/repository"
	"github.com/xiaot623/csassistant/internal/selector"
)

// LocalSession is the session whose keys are stored unprefixed. The terminal
// client uses it.
const LocalSession = ""

// Service owns the per-session conversation controllers.
type Service struct {
	storage   repository.Storage
	kb        *knowledge.Base
	selector  *selector.Selector
	responder llm.Client
	config    *config.Config
	policy    SubmissionChecker
	metrics   *metrics.Metrics
	logger    *zap.Logger
	scheduler Scheduler
	now       func() time.Time

	mu        sync.Mutex
	sessions  map[string]*Controller
	lastUsed  map[string]time.Time
	listeners []Listener
}

// Option configures a Service.
type Option func(*Service)

func WithPolicy(p SubmissionChecker) Option {
	return func(s *Service) { s.policy = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithScheduler(sch Scheduler) Option {
	return func(s *Service) { s.scheduler = sch }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func New(storage repository.Storage, kb *knowledge.Base, sel *selector.Selector, responder llm.Client, cfg *config.Config, opts ...Option) *Service {
	s := &Service{
		storage:   storage,
		kb:        kb,
		selector:  sel,
		responder: responder,
		config:    cfg,
		logger:    zap.NewNop(),
		scheduler: RealScheduler,
		now:       time.Now,
		sessions:  make(map[string]*Controller),
		lastUsed:  make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe registers fn for events from every session.
func (s *Service) Subscribe(fn Listener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Session returns the controller for sessionID, creating and loading it on
// first use. Loading a new session evicts idle ones past SessionIdleTTL and,
// above MaxSessions, the least recently used idle ones. An evicted session is
// reloaded from storage on its next use.
func (s *Service) Session(ctx context.Context, sessionID string) *Controller {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if c, ok := s.sessions[sessionID]; ok {
		s.lastUsed[sessionID] = now
		return c
	}
	s.evictLocked(now)

	c := NewController(ControllerConfig{
		SessionID:   sessionID,
		Storage:     s.sessionStorage(sessionID),
		Responder:   s.responder,
		Tagger:      s.selector,
		Policy:      s.policy,
		Metrics:     s.metrics,
		Logger:      s.logger,
		Scheduler:   s.scheduler,
		ThinkingMin: s.config.ThinkingMin,
		ThinkingMax: s.config.ThinkingMax,
		Now:         s.now,
	})
	c.Initialize(ctx)
	c.Subscribe(s.broadcast)
	s.sessions[sessionID] = c
	s.lastUsed[sessionID] = now
	s.logger.Debug("session_loaded", zap.String("session_id", sessionID), zap.Int("messages", len(c.Snapshot())))
	return c
}

// SessionCount returns the number of loaded sessions.
func (s *Service) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Service) evictLocked(now time.Time) {
	ttl, limit := s.config.SessionIdleTTL, s.config.MaxSessions

	var idle []string
	for id, c := range s.sessions {
		// The local session belongs to the process; a pending reply still
		// needs its controller.
		if id == LocalSession || c.State() != domain.StateIdle {
			continue
		}
		if ttl > 0 && now.Sub(s.lastUsed[id]) >= ttl {
			s.dropLocked(id, "idle")
			continue
		}
		idle = append(idle, id)
	}

	if limit <= 0 || len(s.sessions) < limit {
		return
	}
	sort.Slice(idle, func(i, j int) bool { return s.lastUsed[idle[i]].Before(s.lastUsed[idle[j]]) })
	for _, id := range idle {
		if len(s.sessions) < limit {
			return
		}
		s.dropLocked(id, "limit")
	}
}

func (s *Service) dropLocked(id, reason string) {
	delete(s.sessions, id)
	delete(s.lastUsed, id)
	s.logger.Debug("session_evicted", zap.String("session_id", id), zap.String("reason", reason))
}

func (s *Service) sessionStorage(sessionID string) repository.Storage {
	if sessionID == LocalSession {
		return s.storage
	}
	return repository.Namespace(s.storage, "session:"+sessionID)
}

func (s *Service) broadcast(e domain.Event) {
	s.mu.Lock()
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()
	for _, l := range listeners {
		l(e)
	}
}

// Select answers text statelessly, without touching any conversation.
func (s *Service) Select(text string) selector.Result {
	res := s.selector.Match(text)
	s.metrics.RuleHit(string(res.Kind), res.Rule)
	return res
}

// Topics lists the catalog, the knowledge base topics and quick questions.
func (s *Service) Topics() domain.TopicsResponse {
	return domain.TopicsResponse{
		Catalog:        s.kb.Catalog(),
		Topics:         s.kb.Keys(),
		QuickQuestions: s.kb.QuickQuestions(),
	}
}

// Shutdown cancels every pending reply.
func (s *Service) Shutdown() {
	s.mu.Lock()
	sessions := make([]*Controller, 0, len(s.sessions))
	for _, c := range s.sessions {
		sessions = append(sessions, c)
	}
	s.mu.Unlock()

	for _, c := range sessions {
		c.Cancel()
	}
}

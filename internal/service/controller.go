package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xiaot623/csassistant/internal/adapter/llm"
	"github.com/xiaot623/csassistant/internal/conversation"
	"github.com/xiaot623/csassistant/internal/domain"
	"github.com/xiaot623/csassistant/internal/metrics"
	"github.com/xiaot623/csassistant/internal/repository"
)

// Apology replaces a reply the responder failed to produce.
const Apology = "Sorry, I encountered an error. Please try again."

var (
	ErrBlankInput    = errors.New("message is blank")
	ErrAwaitingReply = errors.New("a reply is already pending")
	ErrRejected      = errors.New("message rejected by policy")
)

// SubmissionChecker decides whether a message may be submitted.
type SubmissionChecker interface {
	Check(ctx context.Context, sessionID, text string) (allowed bool, reason string, err error)
}

// TopicTagger assigns a coarse topic to a question.
type TopicTagger interface {
	DetectTopic(text string) string
}

// Listener receives conversation events.
type Listener func(domain.Event)

// ControllerConfig holds a controller's collaborators. Only Storage and
// Responder are required.
type ControllerConfig struct {
	SessionID   string
	Storage     repository.Storage
	Responder   llm.Client
	Tagger      TopicTagger
	Policy      SubmissionChecker
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
	Scheduler   Scheduler
	ThinkingMin time.Duration
	ThinkingMax time.Duration
	Now         func() time.Time
}

// Controller drives one conversation between idle and awaiting_reply.
type Controller struct {
	sessionID string
	store     *conversation.Store
	storage   repository.Storage
	responder llm.Client
	tagger    TopicTagger
	policy    SubmissionChecker
	metrics   *metrics.Metrics
	logger    *zap.Logger
	scheduler Scheduler
	delayMin  time.Duration
	delayMax  time.Duration
	now       func() time.Time

	mu           sync.Mutex
	state        domain.ControllerState
	generation   uint64
	timer        Timer
	cancelReply  context.CancelFunc
	pendingSince time.Time
	outbox       []domain.Event
	flushing     bool

	listenersMu  sync.RWMutex
	listeners    map[int]Listener
	nextListener int
}

// NewController creates a controller. Call Initialize before use.
func NewController(cfg ControllerConfig) *Controller {
	c := &Controller{
		sessionID: cfg.SessionID,
		storage:   cfg.Storage,
		responder: cfg.Responder,
		tagger:    cfg.Tagger,
		policy:    cfg.Policy,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		scheduler: cfg.Scheduler,
		delayMin:  cfg.ThinkingMin,
		delayMax:  cfg.ThinkingMax,
		now:       cfg.Now,
		state:     domain.StateIdle,
		listeners: make(map[int]Listener),
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.scheduler == nil {
		c.scheduler = RealScheduler
	}
	if c.now == nil {
		c.now = time.Now
	}
	c.logger = c.logger.With(zap.String("session_id", c.sessionID))
	c.store = conversation.New(cfg.Storage, conversation.WithLogger(c.logger), conversation.WithClock(c.now))
	return c
}

// Initialize loads the persisted conversation.
func (c *Controller) Initialize(ctx context.Context) {
	c.store.Initialize(ctx)
}

func (c *Controller) SessionID() string {
	return c.sessionID
}

// State returns the current controller state.
func (c *Controller) State() domain.ControllerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot returns the conversation in order.
func (c *Controller) Snapshot() []domain.Message {
	return c.store.Snapshot()
}

// Message returns the message with id.
func (c *Controller) Message(id int64) (domain.Message, bool) {
	return c.store.Get(id)
}

// LastUserMessage returns the most recent user message.
func (c *Controller) LastUserMessage() (domain.Message, bool) {
	return c.store.LastUserMessage()
}

// Subscribe registers fn for events. Events are delivered in the order the
// state changed, after the controller has released its lock, so fn may call
// back into it.
func (c *Controller) Subscribe(fn Listener) (unsubscribe func()) {
	c.listenersMu.Lock()
	id := c.nextListener
	c.nextListener++
	c.listeners[id] = fn
	c.listenersMu.Unlock()

	return func() {
		c.listenersMu.Lock()
		delete(c.listeners, id)
		c.listenersMu.Unlock()
	}
}

// Submit appends a user message and schedules the assistant's reply.
func (c *Controller) Submit(ctx context.Context, text string) (domain.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		c.metrics.Submission("blank")
		return domain.Message{}, ErrBlankInput
	}

	c.mu.Lock()
	if c.state == domain.StateAwaitingReply {
		c.mu.Unlock()
		c.metrics.Submission("busy")
		return domain.Message{}, ErrAwaitingReply
	}
	if err := c.checkPolicy(ctx, text); err != nil {
		c.mu.Unlock()
		return domain.Message{}, err
	}

	msg, err := c.store.Append(ctx, domain.Message{Role: domain.RoleUser, Text: text})
	if err != nil {
		c.mu.Unlock()
		c.metrics.Submission("error")
		return domain.Message{}, fmt.Errorf("failed to append message: %w", err)
	}
	c.recordSearch(ctx, text)

	c.publishLocked(c.event(domain.EventTypeMessageAppended, &msg))
	c.publishLocked(c.beginReplyLocked(text))
	c.mu.Unlock()

	c.metrics.Submission("accepted")
	c.logger.Info("message_submitted", zap.Int64("message_id", msg.ID), zap.Int("length", len(text)))
	c.flush()
	return msg, nil
}

// EditAndRegenerate edits a user message. When its reply was truncated a new
// reply is scheduled from the edited text.
func (c *Controller) EditAndRegenerate(ctx context.Context, id int64, text string) (conversation.EditResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return conversation.EditResult{}, ErrBlankInput
	}

	c.mu.Lock()
	if c.state == domain.StateAwaitingReply {
		c.mu.Unlock()
		return conversation.EditResult{}, ErrAwaitingReply
	}
	if err := c.checkPolicy(ctx, text); err != nil {
		c.mu.Unlock()
		return conversation.EditResult{}, err
	}

	res, err := c.store.EditUserMessage(ctx, id, text)
	if err != nil {
		c.mu.Unlock()
		return conversation.EditResult{}, err
	}

	edited := res.Message
	c.publishLocked(c.event(domain.EventTypeMessageEdited, &edited))
	if res.Truncated {
		truncated := c.event(domain.EventTypeMessagesTruncated, nil)
		truncated.MessageID = edited.ID
		c.publishLocked(truncated)
		c.publishLocked(c.beginReplyLocked(text))
	}
	c.mu.Unlock()

	c.logger.Info("message_edited", zap.Int64("message_id", id), zap.Bool("regenerating", res.Truncated))
	c.flush()
	return res, nil
}

// Cancel drops the pending reply, if any. It reports whether one was pending.
func (c *Controller) Cancel() bool {
	c.mu.Lock()
	if c.state != domain.StateAwaitingReply {
		c.mu.Unlock()
		return false
	}
	c.abortLocked()
	c.publishLocked(
		c.event(domain.EventTypeReplyCancelled, nil),
		c.event(domain.EventTypeStateChanged, nil),
	)
	c.mu.Unlock()

	c.logger.Info("reply_cancelled")
	c.flush()
	return true
}

// Clear cancels any pending reply and resets the conversation.
func (c *Controller) Clear(ctx context.Context) error {
	c.mu.Lock()
	if c.state == domain.StateAwaitingReply {
		c.abortLocked()
		c.publishLocked(c.event(domain.EventTypeReplyCancelled, nil), c.event(domain.EventTypeStateChanged, nil))
	}
	err := c.store.Clear(ctx)
	if err == nil {
		seed := c.store.Last()
		c.publishLocked(c.event(domain.EventTypeConversationCleared, &seed))
	}
	c.mu.Unlock()

	c.flush()
	if err != nil {
		return err
	}
	c.logger.Info("conversation_cleared")
	return nil
}

// beginReplyLocked enters awaiting_reply and schedules the reply to text.
func (c *Controller) beginReplyLocked(text string) domain.Event {
	c.generation++
	gen := c.generation
	replyCtx, cancel := context.WithCancel(context.Background())

	c.state = domain.StateAwaitingReply
	c.cancelReply = cancel
	c.pendingSince = c.now()
	c.timer = c.scheduler.AfterFunc(thinkingDelay(c.delayMin, c.delayMax), func() {
		c.completeReply(replyCtx, gen, text)
	})
	c.metrics.PendingInc()

	return c.event(domain.EventTypeStateChanged, nil)
}

// abortLocked invalidates the pending reply and returns to idle.
func (c *Controller) abortLocked() {
	c.generation++
	if c.timer != nil {
		c.timer.Stop()
	}
	c.finishLocked()
}

func (c *Controller) finishLocked() {
	if c.cancelReply != nil {
		c.cancelReply()
	}
	c.cancelReply = nil
	c.timer = nil
	c.state = domain.StateIdle
	c.metrics.PendingDec()
}

// completeReply runs when the thinking delay elapses. The responder is called
// without holding the lock; a cancel or clear in the meantime bumps the
// generation and the result is dropped.
func (c *Controller) completeReply(ctx context.Context, gen uint64, text string) {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	resp, replyErr := c.responder.Reply(ctx, &llm.ReplyRequest{SessionID: c.sessionID, Text: text})

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		c.logger.Debug("stale_reply_dropped", zap.Uint64("generation", gen))
		return
	}

	reply := domain.Message{Role: domain.RoleAssistant}
	source := metrics.SourceApology
	if replyErr != nil {
		reply.Text = Apology
		c.logger.Warn("responder_failed", zap.Error(replyErr))
	} else {
		reply.Text = resp.Text
		source = resp.Source
		if c.tagger != nil {
			reply.Topic = c.tagger.DetectTopic(text)
		}
		if resp.Kind != "" {
			c.metrics.RuleHit(resp.Kind, resp.Rule)
		}
	}

	msg, err := c.store.Append(context.Background(), reply)
	if err != nil {
		c.logger.Error("reply_append_failed", zap.Error(err))
	} else {
		c.publishLocked(c.event(domain.EventTypeMessageAppended, &msg))
	}
	elapsed := c.now().Sub(c.pendingSince)
	c.finishLocked()
	c.publishLocked(c.event(domain.EventTypeStateChanged, nil))
	c.mu.Unlock()

	c.metrics.Reply(source, elapsed.Seconds())
	c.logger.Info("reply_appended", zap.String("source", source), zap.Int64("message_id", msg.ID), zap.String("topic", msg.Topic))
	c.flush()
}

func (c *Controller) checkPolicy(ctx context.Context, text string) error {
	if c.policy == nil {
		return nil
	}
	allowed, reason, err := c.policy.Check(ctx, c.sessionID, text)
	if err != nil {
		c.metrics.Submission("error")
		return fmt.Errorf("failed to evaluate submission policy: %w", err)
	}
	if !allowed {
		c.metrics.Submission("rejected")
		c.logger.Info("message_rejected", zap.String("reason", reason))
		return fmt.Errorf("%w: %s", ErrRejected, reason)
	}
	return nil
}

// event builds an event carrying the current state. Callers hold c.mu.
func (c *Controller) event(t domain.EventType, msg *domain.Message) domain.Event {
	e := domain.Event{
		Type:      t,
		SessionID: c.sessionID,
		Message:   msg,
		State:     c.state,
		Ts:        c.now().UnixMilli(),
	}
	if msg != nil {
		e.MessageID = msg.ID
	}
	return e
}

// publishLocked queues events for delivery. Callers hold c.mu, so the queue
// order is the order the state changed in.
func (c *Controller) publishLocked(events ...domain.Event) {
	c.outbox = append(c.outbox, events...)
}

// flush delivers queued events. Only one goroutine drains at a time; a
// caller that finds a drain in progress leaves its events to that drainer.
func (c *Controller) flush() {
	c.mu.Lock()
	if c.flushing {
		c.mu.Unlock()
		return
	}
	c.flushing = true
	for len(c.outbox) > 0 {
		events := c.outbox
		c.outbox = nil
		c.mu.Unlock()

		c.deliver(events)

		c.mu.Lock()
	}
	c.flushing = false
	c.mu.Unlock()
}

func (c *Controller) deliver(events []domain.Event) {
	c.listenersMu.RLock()
	listeners := make([]Listener, 0, len(c.listeners))
	for _, l := range c.listeners {
		listeners = append(listeners, l)
	}
	c.listenersMu.RUnlock()

	for _, e := range events {
		for _, l := range listeners {
			l(e)
		}
	}
}

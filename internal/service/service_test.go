package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xiaot623/csassistant/internal/adapter/llm"
	"github.com/xiaot623/csassistant/internal/config"
	"github.com/xiaot623/csassistant/internal/conversation"
	"github.com/xiaot623/csassistant/internal/domain"
	"github.com/xiaot623/csassistant/internal/knowledge"
	"github.com/xiaot623/csassistant/internal/metrics"
	"github.com/xiaot623/csassistant/internal/repository"
	"github.com/xiaot623/csassistant/internal/selector"
	"github.com/xiaot623/csassistant/tests/helpers"
)

func TestSessionIsReused(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, helpers.NewTestSQLiteStore(t))

	a := svc.Session(ctx, "a")
	require.Same(t, a, svc.Session(ctx, "a"))
	require.NotSame(t, a, svc.Session(ctx, "b"))
}

func TestSessionsAreIsolatedAndPersisted(t *testing.T) {
	ctx := context.Background()
	storage := helpers.NewTestSQLiteStore(t)
	svc, scheduler := newTestService(t, storage)

	_, err := svc.Session(ctx, "a").Submit(ctx, "big o")
	require.NoError(t, err)
	scheduler.FireAll()

	require.Len(t, svc.Session(ctx, "a").Snapshot(), 3)
	require.Len(t, svc.Session(ctx, "b").Snapshot(), 1)

	if _, found, _ := storage.GetItem(ctx, "session:a:"+repository.KeyChatHistory); !found {
		t.Fatalf("expected namespaced snapshot")
	}

	restarted, _ := newTestService(t, storage)
	snap := restarted.Session(ctx, "a").Snapshot()
	require.Len(t, snap, 3)
	require.Equal(t, "big o", snap[1].Text)
}

func TestLocalSessionUsesBareKeys(t *testing.T) {
	ctx := context.Background()
	storage := helpers.NewTestSQLiteStore(t)
	svc, _ := newTestService(t, storage)

	_, err := svc.Session(ctx, LocalSession).Submit(ctx, "hello")
	require.NoError(t, err)

	if _, found, _ := storage.GetItem(ctx, repository.KeyChatHistory); !found {
		t.Fatalf("expected chatHistory key")
	}
	if _, found, _ := storage.GetItem(ctx, repository.KeySearchHistory); !found {
		t.Fatalf("expected searchHistory key")
	}
}

func TestServiceBroadcastsSessionEvents(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, helpers.NewTestSQLiteStore(t))

	rec := &recorder{}
	svc.Subscribe(rec.listen)

	_, err := svc.Session(ctx, "a").Submit(ctx, "hi")
	require.NoError(t, err)

	require.Equal(t, []domain.EventType{domain.EventTypeMessageAppended, domain.EventTypeStateChanged}, rec.types())
	require.Equal(t, "a", rec.events[0].SessionID)
}

func TestTheme(t *testing.T) {
	ctx := context.Background()
	storage := helpers.NewTestSQLiteStore(t)
	svc, _ := newTestService(t, storage)

	theme, err := svc.Theme(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, domain.ThemeDark, theme)

	require.NoError(t, svc.SetTheme(ctx, "a", domain.ThemeLight))
	theme, _ = svc.Theme(ctx, "a")
	require.Equal(t, domain.ThemeLight, theme)

	theme, _ = svc.Theme(ctx, "b")
	require.Equal(t, domain.ThemeDark, theme, "themes are per session")

	next, err := svc.ToggleTheme(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, domain.ThemeDark, next)

	require.Error(t, svc.SetTheme(ctx, "a", "solarized"))

	require.NoError(t, storage.SetItem(ctx, "session:c:"+repository.KeyTheme, "neon"))
	theme, err = svc.Theme(ctx, "c")
	require.NoError(t, err)
	require.Equal(t, domain.ThemeDark, theme)
}

func TestFeedback(t *testing.T) {
	ctx := context.Background()
	svc, scheduler := newTestService(t, helpers.NewTestSQLiteStore(t), WithMetrics(metrics.New()))

	user, err := svc.Session(ctx, "a").Submit(ctx, "clustering")
	require.NoError(t, err)
	scheduler.FireAll()

	reply := svc.Session(ctx, "a").Snapshot()[2]
	fb, err := svc.Feedback(ctx, "a", reply.ID, true)
	require.NoError(t, err)
	require.True(t, fb.Helpful)
	require.Equal(t, reply.ID, fb.MessageID)

	_, err = svc.Feedback(ctx, "a", user.ID, false)
	require.ErrorIs(t, err, ErrNotAssistantMessage)
	_, err = svc.Feedback(ctx, "a", 999, false)
	require.ErrorIs(t, err, conversation.ErrMessageNotFound)
}

func TestExport(t *testing.T) {
	ctx := context.Background()
	svc, scheduler := newTestService(t, helpers.NewTestSQLiteStore(t))

	_, err := svc.Session(ctx, "a").Submit(ctx, "python")
	require.NoError(t, err)
	scheduler.FireAll()

	name, transcript := svc.Export(ctx, "a")
	require.True(t, strings.HasPrefix(name, "cs-chat-") && strings.HasSuffix(name, ".txt"), name)

	blocks := strings.Split(transcript, "\n\n[")
	require.Len(t, blocks, 3)
	require.Contains(t, blocks[0], "] ASSISTANT: "+conversation.Greeting)
	require.Contains(t, blocks[1], "] USER: python")
}

func TestSelectAndTopics(t *testing.T) {
	svc, _ := newTestService(t, helpers.NewTestSQLiteStore(t))

	res := svc.Select("who made this?")
	require.Equal(t, selector.KindMeta, res.Kind)

	topics := svc.Topics()
	require.Len(t, topics.Catalog, 12)
	require.Equal(t, "algorithms", topics.Topics[0])
	require.Contains(t, topics.QuickQuestions, "What is Big O notation?")
}

func TestShutdownCancelsPendingReplies(t *testing.T) {
	ctx := context.Background()
	svc, scheduler := newTestService(t, helpers.NewTestSQLiteStore(t))

	_, _ = svc.Session(ctx, "a").Submit(ctx, "one")
	_, _ = svc.Session(ctx, "b").Submit(ctx, "two")
	require.Equal(t, 2, scheduler.Armed())

	svc.Shutdown()
	require.Equal(t, 0, scheduler.Armed())
	require.Equal(t, domain.StateIdle, svc.Session(ctx, "a").State())
	require.Equal(t, domain.StateIdle, svc.Session(ctx, "b").State())
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newLimitedService(t *testing.T, storage repository.Storage, cfg *config.Config, clock *fakeClock) (*Service, *manualScheduler) {
	t.Helper()
	kb := knowledge.Default()
	sel := selector.New(kb)
	scheduler := &manualScheduler{}
	cfg.ThinkingMin, cfg.ThinkingMax = time.Second, time.Second
	return New(storage, kb, sel, llm.NewLocalClient(sel), cfg, WithScheduler(scheduler), WithClock(clock.now)), scheduler
}

func TestSessionLimitEvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	storage := helpers.NewTestSQLiteStore(t)
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	svc, scheduler := newLimitedService(t, storage, &config.Config{MaxSessions: 3}, clock)

	_, err := svc.Session(ctx, "a").Submit(ctx, "big o")
	require.NoError(t, err)
	scheduler.FireAll()
	for _, id := range []string{"b", "c"} {
		clock.advance(time.Second)
		svc.Session(ctx, id)
	}
	clock.advance(time.Second)
	svc.Session(ctx, "b") // a is now the least recently used

	for i := 0; i < 100; i++ {
		clock.advance(time.Second)
		svc.Session(ctx, fmt.Sprintf("visitor-%d", i))
	}
	require.LessOrEqual(t, svc.SessionCount(), 3)

	// An evicted session reloads from storage.
	snap := svc.Session(ctx, "a").Snapshot()
	require.Len(t, snap, 3)
	require.Equal(t, "big o", snap[1].Text)
}

func TestIdleSessionsExpire(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	svc, _ := newLimitedService(t, helpers.NewTestSQLiteStore(t), &config.Config{SessionIdleTTL: time.Minute}, clock)

	svc.Session(ctx, LocalSession)
	idle := svc.Session(ctx, "idle")
	busy := svc.Session(ctx, "busy")
	_, err := busy.Submit(ctx, "hello")
	require.NoError(t, err)

	clock.advance(2 * time.Minute)
	svc.Session(ctx, "fresh")

	require.Equal(t, 3, svc.SessionCount(), "local, busy and fresh remain")
	require.Same(t, busy, svc.Session(ctx, "busy"), "a pending reply keeps its controller")
	require.NotSame(t, idle, svc.Session(ctx, "idle"))
}

package listener

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"nuclight.org/tg-collector/app/storage"
	e "nuclight.org/tg-collector/pkg/entities"
)

type fakeSource struct {
	mu           sync.Mutex
	err          error
	subscribed   int
	unsubscribed int
	handlers     []Handler
}

func (f *fakeSource) Subscribe(handler Handler) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}

	f.subscribed++
	f.handlers = append(f.handlers, handler)

	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.unsubscribed++
	}, nil
}

func (f *fakeSource) handler(i int) Handler {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.handlers[i]
}

type fakeArchiver struct {
	mu       sync.Mutex
	err      error
	archived []int
}

func (f *fakeArchiver) ArchiveMessage(_ context.Context, _ string, msg e.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.archived = append(f.archived, msg.ID)
	return f.err
}

func newTestSession(src Source) (*Session, *storage.Buffer) {
	buf := storage.NewBuffer(0)

	return &Session{
		Log:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Source: src,
		Store:  buf,
	}, buf
}

func event(chatID string, id int) e.Event {
	text := "hi"
	return e.Event{ChatID: chatID, MessageID: id, Text: &text}
}

func TestSession_StartIsIdempotent(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{}
	s, buf := newTestSession(src)

	require.NoError(t, s.Start(ctx))
	require.NoError(t, s.Start(ctx))

	require.True(t, s.IsListening())
	require.Equal(t, 1, src.subscribed)

	src.handler(0)(ctx, event("C", 1))
	require.Equal(t, 1, buf.TotalCount())
}

func TestSession_StopWhenIdleIsNoop(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{}
	s, buf := newTestSession(src)
	buf.Append("C", e.Message{ID: 1})

	require.NoError(t, s.Stop(ctx))

	require.False(t, s.IsListening())
	require.Zero(t, src.unsubscribed)
	require.Equal(t, []e.ChatStat{{ChatID: "C", Count: 1}}, buf.ListChats())
}

func TestSession_StopKeepsHistoryAndDropsLateEvents(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{}
	s, buf := newTestSession(src)

	require.NoError(t, s.Start(ctx))
	h := src.handler(0)
	h(ctx, event("C", 1))

	require.NoError(t, s.Stop(ctx))
	require.NoError(t, s.Stop(ctx))
	require.Equal(t, 1, src.unsubscribed)

	h(ctx, event("C", 2))
	require.Equal(t, 1, buf.TotalCount())
}

func TestSession_RestartIgnoresOldSubscription(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{}
	s, buf := newTestSession(src)

	require.NoError(t, s.Start(ctx))
	require.NoError(t, s.Stop(ctx))
	require.NoError(t, s.Start(ctx))
	require.Equal(t, 2, src.subscribed)

	src.handler(0)(ctx, event("C", 1))
	src.handler(1)(ctx, event("C", 2))

	page := buf.Slice("C", 0, 10)
	require.Len(t, page.Messages, 1)
	require.Equal(t, 2, page.Messages[0].ID)
}

func TestSession_SubscribeError(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{err: errors.New("boom")}
	s, _ := newTestSession(src)

	err := s.Start(ctx)
	require.Error(t, err)
	require.ErrorIs(t, err, src.err)
	require.False(t, s.IsListening())

	src.err = nil
	require.NoError(t, s.Start(ctx))
	require.True(t, s.IsListening())
}

func TestSession_Archiver(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{}
	s, buf := newTestSession(src)
	arch := &fakeArchiver{err: errors.New("disk full")}
	s.Archiver = arch

	require.NoError(t, s.Start(ctx))
	src.handler(0)(ctx, event("C", 1))
	require.NoError(t, s.Stop(ctx))
	src.handler(0)(ctx, event("C", 2))

	require.Equal(t, []int{1}, arch.archived)
	require.Equal(t, 1, buf.TotalCount())
}

func TestSession_Status(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{}
	s, _ := newTestSession(src)

	require.NoError(t, s.Start(ctx))
	h := src.handler(0)
	h(ctx, event("A", 1))
	h(ctx, event("A", 2))
	h(ctx, event("B", 1))

	st := s.Status()
	require.True(t, st.Listening)
	require.Equal(t, 2, st.TotalChats)
	require.Equal(t, 3, st.TotalMessages)
	require.Equal(t, []e.ChatStat{{ChatID: "A", Count: 2}, {ChatID: "B", Count: 1}}, st.Chats)

	require.NoError(t, s.Stop(ctx))
	require.False(t, s.Status().Listening)
	require.Equal(t, 3, s.Status().TotalMessages)
}

func TestSession_NoAppendAfterStopReturns(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{}
	s, buf := newTestSession(src)

	require.NoError(t, s.Start(ctx))
	h := src.handler(0)

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for id := 1; ; id++ {
			select {
			case <-done:
				return
			default:
				h(ctx, event("C", id))
			}
		}
	}()

	require.NoError(t, s.Stop(ctx))
	afterStop := buf.TotalCount()

	for i := 0; i < 1000; i++ {
		h(ctx, event("C", -i))
	}
	close(done)
	wg.Wait()

	require.Equal(t, afterStop, buf.TotalCount())
}

type slowSource struct {
	fakeSource
	onSubscribe func()
}

func (f *slowSource) Subscribe(handler Handler) (func(), error) {
	f.onSubscribe()
	return f.fakeSource.Subscribe(handler)
}

func TestSession_NotListeningUntilSubscribed(t *testing.T) {
	ctx := context.Background()
	src := &slowSource{}
	s, _ := newTestSession(src)

	var during Status
	src.onSubscribe = func() { during = s.Status() }

	require.NoError(t, s.Start(ctx))
	require.False(t, during.Listening)
	require.True(t, s.Status().Listening)

	require.NoError(t, s.Stop(ctx))
	src.err = errors.New("not connected")
	require.Error(t, s.Start(ctx))
	require.False(t, during.Listening)
	require.False(t, s.Status().Listening)
}

package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"nuclight.org/tg-collector/app/storage"
	e "nuclight.org/tg-collector/pkg/entities"
)

type fakeLookup struct {
	info  e.ChatInfo
	err   error
	calls int
}

func (f *fakeLookup) ChatInfo(_ context.Context, chatID string) (e.ChatInfo, error) {
	f.calls++
	if f.err != nil {
		return e.ChatInfo{}, f.err
	}

	info := f.info
	info.ID = chatID
	return info, nil
}

func newBuffer(chatID string, n int) *storage.Buffer {
	buf := storage.NewBuffer(0)
	for id := 1; id <= n; id++ {
		buf.Append(chatID, e.Message{ID: id})
	}
	return buf
}

func TestService_RetrievePassesPagination(t *testing.T) {
	s := &Service{Buffer: newBuffer("C", 5)}

	res := s.Retrieve("C", 2, 0, nil)
	require.Len(t, res.Messages, 2)
	require.True(t, res.HasMore)
	require.Equal(t, 2, *res.NextOffset)
	require.Equal(t, e.ChatInfo{ID: "C", Kind: e.ChatKindChat}, res.Chat)

	res = s.Retrieve("C", 2, 4, nil)
	require.Len(t, res.Messages, 1)
	require.Equal(t, 5, res.Messages[0].ID)
	require.False(t, res.HasMore)
	require.Nil(t, res.NextOffset)
}

func TestService_UnknownChatIsNotGroup(t *testing.T) {
	s := &Service{Buffer: newBuffer("C", 0)}

	res := s.Retrieve("C", 100, 0, nil)
	require.Empty(t, res.Messages)
	require.Equal(t, e.ChatKindChat, res.Chat.Kind)
	require.NotEqual(t, e.ChatKindGroup, res.Chat.Kind)
	require.Nil(t, res.Chat.Title)
}

func TestService_EmptyPageKeepsChatInfo(t *testing.T) {
	s := &Service{Buffer: newBuffer("C", 0)}
	title := "Team"

	res := s.Retrieve("C", 100, 0, &e.ChatInfo{ID: "C", Title: &title, Kind: e.ChatKindGroup})

	require.Empty(t, res.Messages)
	require.False(t, res.HasMore)
	require.Equal(t, "Team", *res.Chat.Title)
}

func TestService_Collect(t *testing.T) {
	lookup := &fakeLookup{info: e.ChatInfo{Kind: e.ChatKindChannel}}
	s := &Service{Buffer: newBuffer("C", 3), Lookup: lookup}

	res, err := s.Collect(context.Background(), "C", 2, 1)
	require.NoError(t, err)
	require.Equal(t, 1, lookup.calls)
	require.Equal(t, e.ChatKindChannel, res.Chat.Kind)
	require.Equal(t, []e.Message{{ID: 2}, {ID: 3}}, res.Messages)
	require.False(t, res.HasMore)
}

func TestService_CollectLookupFailure(t *testing.T) {
	lookup := &fakeLookup{err: errors.New("chat not found")}
	s := &Service{Buffer: newBuffer("C", 3), Lookup: lookup}

	_, err := s.Collect(context.Background(), "C", 2, 0)
	require.ErrorIs(t, err, lookup.err)
	require.ErrorContains(t, err, "getting chat info for C")
}

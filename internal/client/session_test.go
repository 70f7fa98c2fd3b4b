package client

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"movienights/internal/domain"
	memorystate "movienights/internal/infra/state/memory"
	"movienights/internal/service"
)

func newBackend() Backend {
	store := memorystate.NewRoomStore()
	rooms := service.NewRoomService(store, nil, service.DefaultEventLogLimit)
	return Backend{
		Store:      store,
		Rooms:      rooms,
		Presence:   service.NewPresenceService(store, memorystate.NewPresenceRepository(), rooms, service.DefaultEventLogLimit, 0),
		Controller: service.NewControllerService(store, service.DefaultEventLogLimit),
		Playback:   service.NewPlaybackService(store, false),
		Events:     service.NewEventLogService(store, service.DefaultEventLogLimit),
	}
}

func TestSession_CreateJoinAndRemote(t *testing.T) {
	backend := newBackend()
	ctx := context.Background()

	host := NewSession(backend, domain.Identity{ParticipantID: "H", DisplayName: "Host"})
	code, err := host.Create(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateInRoom, host.State())
	assert.True(t, host.IsHost())
	assert.True(t, host.HasRemote())

	var guestUpdates int
	guest := NewSession(backend, domain.Identity{ParticipantID: "P", DisplayName: "Pat"},
		OnChange(func(*domain.Room) { guestUpdates++ }))
	require.NoError(t, guest.Join(ctx, "  "+code))
	assert.False(t, guest.IsHost())
	assert.False(t, guest.HasRemote())
	assert.ErrorIs(t, guest.SetPlaying(ctx, true), ErrNoRemote)
	assert.ErrorIs(t, guest.SetVideoURL(ctx, "x"), ErrNoRemote)

	require.NoError(t, host.SetVideoURL(ctx, "https://example.com/film.mp4"))
	require.NoError(t, host.PassRemote(ctx, "P"))
	assert.True(t, guest.HasRemote())
	assert.False(t, host.HasRemote())

	require.NoError(t, guest.SetPlaying(ctx, true))
	assert.True(t, host.Room().IsPlaying)
	assert.Equal(t, "https://example.com/film.mp4", guest.Room().ContentURL)

	require.NoError(t, host.TakeBack(ctx))
	assert.True(t, host.HasRemote())
	assert.Greater(t, guestUpdates, 3)
}

func TestSession_JoinUppercasesCode(t *testing.T) {
	backend := newBackend()
	ctx := context.Background()
	_, err := backend.Rooms.CreateRoomWithCode(ctx, "AB12CD", "H", "Host")
	require.NoError(t, err)

	guest := NewSession(backend, domain.Identity{ParticipantID: "P", DisplayName: "Pat"})
	require.NoError(t, guest.Join(ctx, "ab12cd"))
	assert.Equal(t, "AB12CD", guest.Room().Code)
}

func TestSession_ChatAndEvents(t *testing.T) {
	backend := newBackend()
	ctx := context.Background()
	host := NewSession(backend, domain.Identity{ParticipantID: "H", DisplayName: "Host"})
	_, err := host.Create(ctx)
	require.NoError(t, err)

	require.NoError(t, host.Chat(ctx, "hello"))
	require.NoError(t, host.React(ctx, "🍿"))

	events := host.Events()
	require.Len(t, events, 3)
	assert.Equal(t, domain.EventSystem, events[0].Type)
	assert.Equal(t, "hello", events[1].Text)
	assert.Equal(t, "🍿", events[2].Emoji)
	assert.Equal(t, "Host", events[1].UserName)
}

func TestSession_GoneReturnsToLobby(t *testing.T) {
	backend := newBackend()
	ctx := context.Background()
	host := NewSession(backend, domain.Identity{ParticipantID: "H", DisplayName: "Host"})
	code, err := host.Create(ctx)
	require.NoError(t, err)

	lobbyCalls := 0
	watcher := NewSession(backend, domain.Identity{ParticipantID: "W", DisplayName: "Watcher"},
		OnLobby(func() { lobbyCalls++ }))
	require.NoError(t, watcher.Join(ctx, code))

	require.NoError(t, watcher.Leave(ctx))
	assert.Equal(t, StateLobby, watcher.State())
	assert.Equal(t, 0, lobbyCalls, "leaving explicitly does not trigger the lobby callback")

	// 重新加入后房间被删除
	require.NoError(t, watcher.Join(ctx, code))
	require.NoError(t, backend.Rooms.DeleteRoom(ctx, code))
	assert.Equal(t, StateLobby, watcher.State())
	assert.Equal(t, 1, lobbyCalls)
	assert.Nil(t, watcher.Room())
	assert.ErrorIs(t, watcher.Chat(ctx, "anyone?"), ErrNotInRoom)
}

func TestSession_ResubscribeDropsPreviousRoom(t *testing.T) {
	backend := newBackend()
	ctx := context.Background()
	a := NewSession(backend, domain.Identity{ParticipantID: "A", DisplayName: "Ann"})
	first, err := a.Create(ctx)
	require.NoError(t, err)

	b := NewSession(backend, domain.Identity{ParticipantID: "B", DisplayName: "Ben"})
	second, err := b.Create(ctx)
	require.NoError(t, err)

	changes := 0
	roamer := NewSession(backend, domain.Identity{ParticipantID: "R", DisplayName: "Roamer"},
		OnChange(func(room *domain.Room) {
			if room.Code == first {
				changes++
			}
		}))
	require.NoError(t, roamer.Join(ctx, first))
	require.NoError(t, roamer.Join(ctx, second))
	before := changes

	require.NoError(t, a.Chat(ctx, "still there?"))
	assert.Equal(t, before, changes, "the previous room's subscription is closed")
	assert.Equal(t, second, roamer.Room().Code)
}

func TestSession_LeaveWithoutRoom(t *testing.T) {
	s := NewSession(newBackend(), domain.Identity{ParticipantID: "X", DisplayName: "X"})
	assert.ErrorIs(t, s.Leave(context.Background()), ErrNotInRoom)
	assert.Empty(t, s.Events())
}

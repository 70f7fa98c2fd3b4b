package redisstate

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"movienights/internal/domain"
	"movienights/internal/repository"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func newTestRoom(code string) *domain.Room {
	return domain.NewRoom(code, "H", "Host", time.Now().UnixMilli())
}

func waitChange(t *testing.T, ch <-chan repository.Change) repository.Change {
	t.Helper()
	select {
	case c := <-ch:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for room change")
		return repository.Change{}
	}
}

func TestRoomStore_CreateAndGet(t *testing.T) {
	mr, client := setupRedis(t)
	store := NewRoomStore(client, "test:")
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, newTestRoom("AB12CD")))
	assert.True(t, mr.Exists("test:room:AB12CD"))

	err := store.Create(ctx, newTestRoom("AB12CD"))
	assert.ErrorIs(t, err, repository.ErrAlreadyExists)

	room, err := store.Get(ctx, "AB12CD")
	require.NoError(t, err)
	assert.Equal(t, "H", room.HostID)
	assert.Equal(t, "H", room.ControllerID)
	assert.NotNil(t, room.Events)

	exists, err := store.Exists(ctx, "AB12CD")
	require.NoError(t, err)
	assert.True(t, exists)

	codes, err := store.LiveCodes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"AB12CD"}, codes)
}

func TestRoomStore_GetMissing(t *testing.T) {
	_, client := setupRedis(t)
	store := NewRoomStore(client, "")

	_, err := store.Get(context.Background(), "NOPE00")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	_, err = store.Update(context.Background(), "NOPE00", func(*domain.Room) (repository.Commit, error) {
		return repository.CommitSave, nil
	})
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestRoomStore_Update(t *testing.T) {
	_, client := setupRedis(t)
	store := NewRoomStore(client, "test:")
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newTestRoom("AB12CD")))

	updated, err := store.Update(ctx, "AB12CD", func(room *domain.Room) (repository.Commit, error) {
		room.ContentURL = "https://example.com/movie.mp4"
		room.IsPlaying = true
		return repository.CommitSave, nil
	})
	require.NoError(t, err)
	assert.True(t, updated.IsPlaying)

	room, err := store.Get(ctx, "AB12CD")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/movie.mp4", room.ContentURL)
	assert.True(t, room.IsPlaying)
}

func TestRoomStore_UpdateMutationErrorAborts(t *testing.T) {
	_, client := setupRedis(t)
	store := NewRoomStore(client, "test:")
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newTestRoom("AB12CD")))

	_, err := store.Update(ctx, "AB12CD", func(room *domain.Room) (repository.Commit, error) {
		room.ControllerID = "someone-else"
		return repository.CommitNone, assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	room, err := store.Get(ctx, "AB12CD")
	require.NoError(t, err)
	assert.Equal(t, "H", room.ControllerID)
}

func TestRoomStore_UpdateCommitDelete(t *testing.T) {
	mr, client := setupRedis(t)
	store := NewRoomStore(client, "test:")
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newTestRoom("AB12CD")))

	changes := make(chan repository.Change, 8)
	sub, err := store.Subscribe(ctx, "AB12CD", func(c repository.Change) { changes <- c })
	require.NoError(t, err)
	defer sub.Close()
	initial := waitChange(t, changes)
	require.NotNil(t, initial.Room)

	result, err := store.Update(ctx, "AB12CD", func(room *domain.Room) (repository.Commit, error) {
		delete(room.Participants, "H")
		return repository.CommitDelete, nil
	})
	require.NoError(t, err)
	assert.Nil(t, result)
	assert.False(t, mr.Exists("test:room:AB12CD"))

	gone := waitChange(t, changes)
	assert.True(t, gone.Gone)

	codes, err := store.LiveCodes(ctx)
	require.NoError(t, err)
	assert.Empty(t, codes)
}

func TestRoomStore_SubscribeDeliversSnapshots(t *testing.T) {
	_, client := setupRedis(t)
	store := NewRoomStore(client, "test:")
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newTestRoom("AB12CD")))

	changes := make(chan repository.Change, 8)
	sub, err := store.Subscribe(ctx, "AB12CD", func(c repository.Change) { changes <- c })
	require.NoError(t, err)
	defer sub.Close()

	initial := waitChange(t, changes)
	require.NotNil(t, initial.Room)
	assert.False(t, initial.Room.IsPlaying)

	_, err = store.Update(ctx, "AB12CD", func(room *domain.Room) (repository.Commit, error) {
		room.IsPlaying = true
		return repository.CommitSave, nil
	})
	require.NoError(t, err)

	next := waitChange(t, changes)
	require.NotNil(t, next.Room)
	assert.True(t, next.Room.IsPlaying)
}

func TestRoomStore_SubscribeMissingRoomIsGone(t *testing.T) {
	_, client := setupRedis(t)
	store := NewRoomStore(client, "test:")

	changes := make(chan repository.Change, 2)
	sub, err := store.Subscribe(context.Background(), "NOPE00", func(c repository.Change) { changes <- c })
	require.NoError(t, err)
	defer sub.Close()

	assert.True(t, waitChange(t, changes).Gone)
}

func TestRoomStore_RemoveDeliversGoneOnce(t *testing.T) {
	_, client := setupRedis(t)
	store := NewRoomStore(client, "test:")
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newTestRoom("AB12CD")))

	changes := make(chan repository.Change, 8)
	sub, err := store.Subscribe(ctx, "AB12CD", func(c repository.Change) { changes <- c })
	require.NoError(t, err)
	defer sub.Close()
	waitChange(t, changes)

	require.NoError(t, store.Remove(ctx, "AB12CD"))
	assert.True(t, waitChange(t, changes).Gone)
	assert.ErrorIs(t, store.Remove(ctx, "AB12CD"), repository.ErrNotFound)

	select {
	case c := <-changes:
		t.Fatalf("unexpected change after gone: %+v", c)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRoomStore_Unavailable(t *testing.T) {
	mr, client := setupRedis(t)
	store := NewRoomStore(client, "test:")
	mr.Close()

	_, err := store.Exists(context.Background(), "AB12CD")
	assert.ErrorIs(t, err, repository.ErrUnavailable)
}

func TestPresenceRepository(t *testing.T) {
	mr, client := setupRedis(t)
	presence := NewPresenceRepository(client, "test:")
	ctx := context.Background()

	require.NoError(t, presence.Touch(ctx, "AB12CD", "p1", time.Minute))
	require.NoError(t, presence.Touch(ctx, "AB12CD", "p2", time.Minute))

	alive, err := presence.Alive(ctx, "AB12CD", []string{"p1", "p2", "p3"})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"p1": true, "p2": true}, alive)

	mr.FastForward(2 * time.Minute)
	alive, err = presence.Alive(ctx, "AB12CD", []string{"p1", "p2"})
	require.NoError(t, err)
	assert.Empty(t, alive)

	require.NoError(t, presence.Touch(ctx, "AB12CD", "p1", time.Minute))
	require.NoError(t, presence.Forget(ctx, "AB12CD", "p1"))
	alive, err = presence.Alive(ctx, "AB12CD", []string{"p1"})
	require.NoError(t, err)
	assert.False(t, alive["p1"])
}

func TestRoomStore_ConcurrentUpdatesAllCommit(t *testing.T) {
	_, client := setupRedis(t)
	store := NewRoomStore(client, "test:")
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newTestRoom("AB12CD")))

	const writers = 40
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := store.Update(ctx, "AB12CD", func(room *domain.Room) (repository.Commit, error) {
				room.Participants[id] = &domain.Participant{ID: id, Name: id, JoinedAt: time.Now().UnixMilli()}
				return repository.CommitSave, nil
			})
			errs <- err
		}(fmt.Sprintf("P%02d", i))
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	room, err := store.Get(ctx, "AB12CD")
	require.NoError(t, err)
	assert.Len(t, room.Participants, writers+1, "no write is lost")
}

func TestRoomStore_UpdateRetriesAfterConflict(t *testing.T) {
	_, client := setupRedis(t)
	store := NewRoomStore(client, "test:")
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newTestRoom("AB12CD")))

	// 第一次执行 mutation 时另一个写者抢先提交，EXEC 失败后重新读取并重放
	calls := 0
	room, err := store.Update(ctx, "AB12CD", func(room *domain.Room) (repository.Commit, error) {
		calls++
		if calls == 1 {
			concurrent := room.Clone()
			concurrent.Participants["X"] = &domain.Participant{ID: "X", Name: "Xena"}
			payload, err := json.Marshal(concurrent)
			require.NoError(t, err)
			require.NoError(t, client.Set(ctx, "test:room:AB12CD", payload, 0).Err())
		}
		room.Participants["P"] = &domain.Participant{ID: "P", Name: "Pat"}
		return repository.CommitSave, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.True(t, room.HasParticipant("X"))
	assert.True(t, room.HasParticipant("P"))

	stored, err := store.Get(ctx, "AB12CD")
	require.NoError(t, err)
	assert.Len(t, stored.Participants, 3)
}

func TestRoomStore_PersistentConflictIsNotUnavailable(t *testing.T) {
	_, client := setupRedis(t)
	store := NewRoomStore(client, "test:")
	require.NoError(t, store.Create(context.Background(), newTestRoom("AB12CD")))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := store.Update(ctx, "AB12CD", func(room *domain.Room) (repository.Commit, error) {
		// 每次都有别的写者抢先
		require.NoError(t, client.Set(context.Background(), "test:room:AB12CD", mustJSON(t, room), 0).Err())
		room.IsPlaying = true
		return repository.CommitSave, nil
	})
	assert.ErrorIs(t, err, repository.ErrConflict)
	assert.NotErrorIs(t, err, repository.ErrUnavailable)
}

func mustJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestRoomStore_SubscriberSeesAtomicLeaveUnderContention(t *testing.T) {
	_, client := setupRedis(t)
	store := NewRoomStore(client, "test:")
	ctx := context.Background()

	room := newTestRoom("AB12CD")
	room.Participants["P"] = &domain.Participant{ID: "P", Name: "Pat", JoinedAt: time.Now().UnixMilli()}
	room.ControllerID = "P"
	require.NoError(t, store.Create(ctx, room))

	var mu sync.Mutex
	var snapshots []*domain.Room
	sub, err := store.Subscribe(ctx, "AB12CD", func(change repository.Change) {
		if change.Room == nil {
			return
		}
		mu.Lock()
		snapshots = append(snapshots, change.Room)
		mu.Unlock()
	})
	require.NoError(t, err)
	defer sub.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := store.Update(ctx, "AB12CD", func(room *domain.Room) (repository.Commit, error) {
				id := fmt.Sprintf("e%d", n)
				room.Events[id] = &domain.Event{ID: id, Type: domain.EventChat, Text: id, Sequence: room.NextSequence}
				room.NextSequence++
				return repository.CommitSave, nil
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := store.Update(ctx, "AB12CD", func(room *domain.Room) (repository.Commit, error) {
			delete(room.Participants, "P")
			room.ControllerID = room.HostID
			return repository.CommitSave, nil
		})
		assert.NoError(t, err)
	}()
	wg.Wait()

	final, err := store.Get(ctx, "AB12CD")
	require.NoError(t, err)
	assert.Len(t, final.Events, 10)
	assert.Equal(t, "H", final.ControllerID)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		if len(snapshots) == 0 {
			return false
		}
		last := snapshots[len(snapshots)-1]
		return len(last.Events) == 10 && !last.HasParticipant("P")
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for _, snap := range snapshots {
		assert.True(t, snap.HasParticipant(snap.ControllerID), "controller %s must be a participant", snap.ControllerID)
	}
}

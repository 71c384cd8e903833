// ABOUTME: Tests for the normalized cache: reads, writes, eviction, fan-out.
// ABOUTME: Validates notification filtering, unsubscribe silence, and batch writes.

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remindful/sync-engine/internal/entity"
)

func reminder(id string, version int64) *entity.Reminder {
	return &entity.Reminder{ID: id, Version: version, Title: "t-" + id}
}

func TestCache_GetPutEvict(t *testing.T) {
	c := New(nil)

	assert.Nil(t, c.Get(entity.KindReminder, "r1"))

	c.Put(reminder("r1", 1))
	got := c.Get(entity.KindReminder, "r1")
	require.NotNil(t, got)
	assert.Equal(t, "r1", got.EntityID())
	assert.Equal(t, int64(1), got.EntityVersion())

	// Later write replaces in place, last writer wins.
	c.Put(reminder("r1", 2))
	assert.Equal(t, int64(2), c.Get(entity.KindReminder, "r1").EntityVersion())

	c.Evict(entity.KindReminder, "r1")
	assert.Nil(t, c.Get(entity.KindReminder, "r1"))
}

func TestCache_QueryAndList(t *testing.T) {
	c := New(nil)
	c.PutBatch([]entity.Entity{
		reminder("r1", 1),
		reminder("r2", 1),
		&entity.ReminderList{ID: "l1", Name: "Inbox"},
	})

	assert.Len(t, c.List(entity.KindReminder), 2)
	assert.Len(t, c.List(entity.KindList), 1)
	assert.Empty(t, c.List(entity.KindUser))

	only := c.Query(entity.KindReminder, func(e entity.Entity) bool {
		return e.EntityID() == "r2"
	})
	require.Len(t, only, 1)
	assert.Equal(t, "r2", only[0].EntityID())
}

func TestCache_SubscribeReceivesMatchingChanges(t *testing.T) {
	c := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, _ := c.Subscribe(ctx, entity.KindReminder)

	c.Put(reminder("r1", 1))
	change := receiveChange(t, ch)
	assert.Equal(t, OpPut, change.Op)
	assert.Equal(t, "r1", change.ID)
	require.NotNil(t, change.Entity)

	// A list write does not reach a reminder-only subscriber.
	c.Put(&entity.ReminderList{ID: "l1", Name: "Inbox"})
	c.Evict(entity.KindReminder, "r1")

	change = receiveChange(t, ch)
	assert.Equal(t, OpEvict, change.Op)
	assert.Equal(t, "r1", change.ID)
	assert.Nil(t, change.Entity)
}

func TestCache_SubscribeAllKinds(t *testing.T) {
	c := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, _ := c.Subscribe(ctx)

	c.Put(&entity.User{ID: "u1", Email: "a@b.c"})
	change := receiveChange(t, ch)
	assert.Equal(t, entity.KindUser, change.Kind)
}

func TestCache_UnsubscribeSilence(t *testing.T) {
	c := New(nil)
	ch, subID := c.Subscribe(context.Background(), entity.KindReminder)

	c.Unsubscribe(subID)
	c.Put(reminder("r1", 1))

	// Channel is closed; no change is delivered.
	change, ok := <-ch
	assert.False(t, ok, "expected closed channel, got %+v", change)

	// Double unsubscribe is safe.
	c.Unsubscribe(subID)
}

func TestCache_ContextCancelUnsubscribes(t *testing.T) {
	c := New(nil)
	ctx, cancel := context.WithCancel(context.Background())

	ch, _ := c.Subscribe(ctx, entity.KindReminder)
	cancel()

	// The cleanup goroutine closes the channel shortly after cancel.
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription not cleaned up after context cancel")
	}
}

func TestCache_EvictAbsentIsSilent(t *testing.T) {
	c := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, _ := c.Subscribe(ctx, entity.KindReminder)
	c.Evict(entity.KindReminder, "ghost")

	select {
	case change := <-ch:
		t.Fatalf("unexpected notification for absent key: %+v", change)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCache_BatchWriteSingleNotificationPerEntity(t *testing.T) {
	c := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, _ := c.Subscribe(ctx, entity.KindReminder)
	c.PutBatch([]entity.Entity{reminder("r1", 1), reminder("r2", 1)})

	seen := map[string]bool{}
	for range 2 {
		change := receiveChange(t, ch)
		seen[change.ID] = true
	}
	assert.True(t, seen["r1"])
	assert.True(t, seen["r2"])
}

func receiveChange(t *testing.T, ch <-chan Change) Change {
	t.Helper()
	select {
	case change, ok := <-ch:
		require.True(t, ok, "channel closed unexpectedly")
		return change
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for cache change")
		return Change{}
	}
}

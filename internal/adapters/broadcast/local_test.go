package broadcast

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/internal/core"
)

type stubConn struct {
	mu     sync.Mutex
	frames []core.Frame
	fail   bool
}

func (c *stubConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("backpressure")
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *stubConn) Close() {}

func (c *stubConn) received() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func TestHubDeliversToAllGroupSubscribers(t *testing.T) {
	hub := NewHub()
	key := core.RoomGroup("room-1")
	a, b := &stubConn{}, &stubConn{}
	other := &stubConn{}

	hub.Subscribe(key, a)
	hub.Subscribe(key, b)
	hub.Subscribe(core.RoomGroup("room-2"), other)

	hub.Publish(key, map[string]string{"type": "refresh_members"})

	assert.Equal(t, 1, a.received())
	assert.Equal(t, 1, b.received())
	assert.Equal(t, 0, other.received(), "other groups must not see the frame")
}

func TestHubRoomAndUserKeySpacesAreDisjoint(t *testing.T) {
	hub := NewHub()
	roomConn, userConn := &stubConn{}, &stubConn{}

	hub.Subscribe(core.RoomGroup("alice"), roomConn)
	hub.Subscribe(core.UserGroup("alice"), userConn)

	hub.Publish(core.UserGroup("alice"), map[string]string{"type": "notifications"})

	assert.Equal(t, 0, roomConn.received())
	assert.Equal(t, 1, userConn.received())
}

func TestHubSlowSubscriberDoesNotBlockOthers(t *testing.T) {
	hub := NewHub()
	key := core.RoomGroup("room-1")
	slow := &stubConn{fail: true}
	healthy := &stubConn{}

	hub.Subscribe(key, slow)
	hub.Subscribe(key, healthy)

	hub.Publish(key, map[string]string{"type": "new_message"})

	assert.Equal(t, 1, healthy.received())
	assert.Equal(t, 0, slow.received())
}

func TestHubUnsubscribeStopsDelivery(t *testing.T) {
	hub := NewHub()
	key := core.RoomGroup("room-1")
	conn := &stubConn{}

	hub.Subscribe(key, conn)
	hub.Publish(key, map[string]string{"type": "privacy"})
	require.Equal(t, 1, conn.received())

	hub.Unsubscribe(key, conn)
	hub.Publish(key, map[string]string{"type": "privacy"})
	assert.Equal(t, 1, conn.received())
}

func TestHubPublishToEmptyGroupIsNoOp(t *testing.T) {
	hub := NewHub()
	hub.Publish(core.RoomGroup("nobody-home"), map[string]string{"type": "members"})
}

func TestHubConcurrentPublishAndSubscribe(t *testing.T) {
	hub := NewHub()
	key := core.UserGroup("alice")

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			conn := &stubConn{}
			hub.Subscribe(key, conn)
			hub.Unsubscribe(key, conn)
		}()
		go func() {
			defer wg.Done()
			hub.Publish(key, map[string]string{"type": "refresh_notifications"})
		}()
	}
	wg.Wait()
}

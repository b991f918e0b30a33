package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/parleyhq/parley/internal/adapters/store"
	"github.com/parleyhq/parley/internal/core"
	"github.com/parleyhq/parley/internal/domain"
)

// fakeConn captures frames sent directly to one connection.
type fakeConn struct {
	mu     sync.Mutex
	frames []core.Frame
	fail   bool
}

func (c *fakeConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("backpressure")
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Close() {}

// eventTypes decodes the "type" discriminator of every captured frame.
func (c *fakeConn) eventTypes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.frames))
	for _, f := range c.frames {
		out = append(out, typeOf(f))
	}
	return out
}

// lastEvent unmarshals the most recent frame of the given type into v,
// returning false when none was sent.
func (c *fakeConn) lastEvent(eventType string, v any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.frames) - 1; i >= 0; i-- {
		if typeOf(c.frames[i]) == eventType {
			if err := json.Unmarshal(c.frames[i], v); err != nil {
				panic(err)
			}
			return true
		}
	}
	return false
}

func typeOf(f core.Frame) string {
	var env struct {
		Type string `json:"type"`
	}
	_ = json.Unmarshal(f, &env)
	return env.Type
}

// fakeBroadcast records every publish as "address/type" and also tracks
// subscriptions.
type fakeBroadcast struct {
	mu        sync.Mutex
	published []string
	subs      map[string]int
}

func newFakeBroadcast() *fakeBroadcast {
	return &fakeBroadcast{subs: make(map[string]int)}
}

func (b *fakeBroadcast) Subscribe(key core.GroupKey, _ core.SignalConnection) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[key.Address()]++
}

func (b *fakeBroadcast) Unsubscribe(key core.GroupKey, _ core.SignalConnection) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[key.Address()]--
}

func (b *fakeBroadcast) Publish(key core.GroupKey, event any) {
	raw, err := json.Marshal(event)
	if err != nil {
		panic(err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, key.Address()+"/"+typeOf(raw))
}

func (b *fakeBroadcast) count(entry string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, p := range b.published {
		if p == entry {
			n++
		}
	}
	return n
}

func (b *fakeBroadcast) subscribed(address string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subs[address] > 0
}

// fakeSigner produces deterministic URLs without real signatures.
type fakeSigner struct{}

func (fakeSigner) UploadURL(name string) (string, error) {
	return "https://blobs.test/up/" + name, nil
}

func (fakeSigner) DownloadURL(name string) (string, error) {
	return "https://blobs.test/down/" + name, nil
}

// fakeTranscriber echoes a fixed transcript or fails on demand.
type fakeTranscriber struct {
	text string
	err  error
}

func (f fakeTranscriber) Transcribe(_ context.Context, _ string) (string, error) {
	return f.text, f.err
}

type rig struct {
	store *store.MemoryStore
	bus   *fakeBroadcast
	eng   *Engine
}

func newRig() *rig {
	st := store.NewMemoryStore()
	bus := newFakeBroadcast()
	eng := NewEngine(st, bus, fakeSigner{}, fakeTranscriber{text: "transcript"})
	return &rig{store: st, bus: bus, eng: eng}
}

// seedRoom creates a room with the given members already joined and a
// notification row each.
func (r *rig) seedRoom(ctx context.Context, private bool, members ...string) domain.RoomID {
	room, err := r.store.GetOrCreateRoom(ctx, "")
	if err != nil {
		panic(err)
	}
	if private {
		if err := r.store.SetRoomPrivacy(ctx, room.ID, true); err != nil {
			panic(err)
		}
	}
	for _, m := range members {
		if _, err := r.store.GetOrCreateUser(ctx, m); err != nil {
			panic(err)
		}
		if _, err := r.store.AddMember(ctx, room.ID, m); err != nil {
			panic(err)
		}
		if err := r.store.EnsureNotification(ctx, m, room.ID, ""); err != nil && !errors.Is(err, core.ErrConflict) {
			panic(err)
		}
	}
	return room.ID
}

func roomAddr(id domain.RoomID, eventType string) string {
	return fmt.Sprintf("room:%s/%s", id, eventType)
}

func userAddr(username, eventType string) string {
	return fmt.Sprintf("user:%s/%s", username, eventType)
}

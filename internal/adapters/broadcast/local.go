// Package broadcast provides the fan-out primitives sessions publish
// through: an in-process hub and a Redis pub/sub bridge for multi-node
// deployments.
package broadcast

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/parleyhq/parley/internal/core"
	"github.com/parleyhq/parley/internal/metrics"
)

// Hub is a threadsafe in-process group registry. Delivery is fire and
// forget: a slow or closed socket misses the frame, the reconnect flow
// re-synchronizes state instead of buffering.
type Hub struct {
	mu     sync.RWMutex
	groups map[string]map[core.SignalConnection]struct{}
}

func NewHub() *Hub {
	return &Hub{groups: make(map[string]map[core.SignalConnection]struct{})}
}

func (h *Hub) Subscribe(key core.GroupKey, conn core.SignalConnection) {
	addr := key.Address()
	h.mu.Lock()
	defer h.mu.Unlock()
	group := h.groups[addr]
	if group == nil {
		group = make(map[core.SignalConnection]struct{})
		h.groups[addr] = group
	}
	group[conn] = struct{}{}
	log.Debug().Str("module", "broadcast.hub").Str("group", addr).Msg("subscribed")
}

func (h *Hub) Unsubscribe(key core.GroupKey, conn core.SignalConnection) {
	addr := key.Address()
	h.mu.Lock()
	defer h.mu.Unlock()
	if group, ok := h.groups[addr]; ok {
		delete(group, conn)
		if len(group) == 0 {
			delete(h.groups, addr)
		}
	}
	log.Debug().Str("module", "broadcast.hub").Str("group", addr).Msg("unsubscribed")
}

func (h *Hub) Publish(key core.GroupKey, event any) {
	frame, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("module", "broadcast.hub").Msg("marshal event")
		return
	}
	h.DeliverRaw(key.Address(), frame)
}

// DeliverRaw fans a pre-marshaled frame out to the group's local
// subscribers. Also the entry point for frames arriving over Redis.
func (h *Hub) DeliverRaw(address string, frame []byte) {
	h.mu.RLock()
	conns := make([]core.SignalConnection, 0, len(h.groups[address]))
	for conn := range h.groups[address] {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		if err := conn.TrySend(core.Frame(frame)); err != nil {
			metrics.DroppedFrames.Inc()
			log.Debug().Err(err).Str("module", "broadcast.hub").Str("group", address).Msg("frame dropped")
		}
	}
}

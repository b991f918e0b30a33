package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ConnectionsOpened = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_connections_opened_total",
			Help: "Total websocket connections opened",
		},
		[]string{"kind"}, // "room" or "user"
	)

	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_commands_total",
			Help: "Total inbound commands dispatched",
		},
		[]string{"command"},
	)

	BroadcastsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "parley_broadcasts_total",
			Help: "Total group broadcasts published",
		},
	)

	DroppedFrames = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "parley_dropped_frames_total",
			Help: "Frames dropped on slow or closed sockets",
		},
	)

	MessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "parley_messages_sent_total",
			Help: "Total messages created",
		},
	)

	RoomsCollected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "parley_rooms_collected_total",
			Help: "Rooms garbage-collected on last leave",
		},
	)

	RateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "parley_rate_limited_total",
			Help: "Commands rejected by the per-user rate limiter",
		},
	)
)

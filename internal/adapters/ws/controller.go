package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"

	"github.com/parleyhq/parley/internal/app"
	"github.com/parleyhq/parley/internal/core"
	"github.com/parleyhq/parley/internal/domain"
	"github.com/parleyhq/parley/internal/metrics"
)

// Options tune the per-connection transport behavior.
type Options struct {
	SendBuffer  int
	ReadLimit   int64
	PingPeriod  time.Duration
	PongWait    time.Duration
	CommandPool int
}

func (o Options) withDefaults() Options {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 32
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = 64 * 1024
	}
	if o.PingPeriod <= 0 {
		o.PingPeriod = 30 * time.Second
	}
	if o.PongWait <= 0 {
		o.PongWait = o.PingPeriod * 2
	}
	if o.CommandPool <= 0 {
		o.CommandPool = 4
	}
	return o
}

// Controller upgrades HTTP requests into room and user sessions and
// runs their read/write pumps.
type Controller struct {
	eng     *app.Engine
	limiter *CommandRateLimiter
	opts    Options
}

func NewController(eng *app.Engine, limiter *CommandRateLimiter, opts Options) *Controller {
	return &Controller{eng: eng, limiter: limiter, opts: opts.withDefaults()}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// session is the lifecycle shared by room and user sessions.
type session interface {
	Connect(ctx context.Context) error
	Dispatch(ctx context.Context, cmd core.Command)
	Disconnect()
}

// HandleRoom serves /ws/room/:room_id. An empty or "None" room id asks
// for a fresh room.
func (ctl *Controller) HandleRoom(c *gin.Context) {
	username := c.GetString("username")
	roomID := c.Param("room_id")
	if roomID == "None" {
		roomID = ""
	}
	log.Info().Str("module", "ws").Str("user", username).Str("room", roomID).Msg("new room connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "ws").Msg("upgrade")
		return
	}
	conn := newConn(ws, ctl.opts.SendBuffer)

	sess := ctl.eng.NewRoomSession(username, domain.RoomID(roomID), conn)
	metrics.ConnectionsOpened.WithLabelValues("room").Inc()
	ctl.run(c.Request.Context(), username, conn, sess)
}

// HandleUser serves /ws/user/:username. The path identity must match
// the authenticated one; a mismatch closes the socket immediately.
func (ctl *Controller) HandleUser(c *gin.Context) {
	identity := c.GetString("username")
	claimed := c.Param("username")
	log.Info().Str("module", "ws").Str("user", identity).Msg("new user connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "ws").Msg("upgrade")
		return
	}
	conn := newConn(ws, ctl.opts.SendBuffer)

	sess, err := ctl.eng.NewUserSession(identity, claimed, conn)
	if err != nil {
		log.Warn().Err(err).Str("module", "ws").Str("claimed", claimed).Msg("rejecting connection")
		conn.Close()
		return
	}
	metrics.ConnectionsOpened.WithLabelValues("user").Inc()
	ctl.run(c.Request.Context(), identity, conn, sess)
}

// run blocks until the socket closes; returning earlier would cancel
// the request context under the pumps.
func (ctl *Controller) run(parent context.Context, username string, conn *Conn, sess session) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	if err := sess.Connect(ctx); err != nil {
		log.Error().Err(err).Str("module", "ws").Str("user", username).Msg("connect")
		conn.Close()
		return
	}
	defer sess.Disconnect()

	go ctl.writePump(ctx, conn)
	ctl.readPump(ctx, username, conn, sess)
}

func (ctl *Controller) writePump(ctx context.Context, c *Conn) {
	ticker := time.NewTicker(ctl.opts.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "ws").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "ws").Msg("writePump write error")
				return
			}
		}
	}
}

// readPump parses inbound commands and dispatches them on a bounded
// per-connection worker pool. Dispatch order across commands is not
// guaranteed; each store mutation is atomic on its own.
func (ctl *Controller) readPump(ctx context.Context, username string, c *Conn, sess session) {
	defer func() {
		log.Info().Str("module", "ws").Str("user", username).Msg("readPump closing")
		c.Close()
	}()

	c.conn.SetReadLimit(ctl.opts.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
	})

	workers := pool.New().WithMaxGoroutines(ctl.opts.CommandPool)
	defer workers.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Error().Err(err).Str("module", "ws").Str("user", username).Msg("readPump read error")
			}
			return
		}

		if !ctl.limiter.Allow(username) {
			metrics.RateLimited.Inc()
			continue
		}

		cmd, err := core.ParseCommand(data)
		if err != nil {
			log.Warn().Err(err).Str("module", "ws").Str("user", username).Msg("bad command")
			continue
		}
		workers.Go(func() {
			sess.Dispatch(ctx, cmd)
		})
	}
}

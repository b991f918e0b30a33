package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/parleyhq/parley/internal/adapters/ws"
	"github.com/parleyhq/parley/internal/app"
	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/domain"
)

// IdentityMiddleware resolves the authenticated username from the
// session cookie, falling back to the X-Auth-Username header for
// gateway deployments that authenticate upstream. Requests without an
// identity are rejected.
func IdentityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		username, _ := sessions.Default(c).Get("username").(string)
		if username == "" {
			username = c.GetHeader("X-Auth-Username")
		}
		if err := domain.ValidateUsername(username); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
			return
		}
		c.Set("username", username)
		c.Next()
	}
}

// SetupRouter wires the full HTTP surface: login, websocket endpoints,
// the upload webhook, health, and metrics.
func SetupRouter(cfg *config.Config, eng *app.Engine, ctl *ws.Controller) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("ParleySessions", store))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.POST("/api/login", handleLogin)
	r.POST("/hooks/upload", uploadWebhook(cfg.WebhookToken, eng))

	api := r.Group("/api", IdentityMiddleware())
	api.GET("/ws/room/:room_id", ctl.HandleRoom)
	api.GET("/ws/user/:username", ctl.HandleUser)

	log.Info().Str("module", "adapters.http").Msg("router setup")
	return r
}

func handleLogin(c *gin.Context) {
	var body struct {
		Username string `json:"username"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad request"})
		return
	}
	if err := domain.ValidateUsername(body.Username); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sess := sessions.Default(c)
	sess.Set("username", body.Username)
	if err := sess.Save(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session save"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"username": body.Username})
}

// uploadEvent is the storage object-finalize notification shape. The
// object id encodes <room_id>/<username>/<file>.
type uploadEvent struct {
	EventType   string    `json:"eventType"`
	ObjectID    string    `json:"objectId"`
	TimeCreated time.Time `json:"timeCreated"`
}

func uploadWebhook(token string, eng *app.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" || c.Query("token") != token {
			c.AbortWithStatus(http.StatusForbidden)
			return
		}

		var ev uploadEvent
		if err := c.ShouldBindJSON(&ev); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad request"})
			return
		}
		if ev.EventType != "" && ev.EventType != "OBJECT_FINALIZE" {
			c.Status(http.StatusNoContent)
			return
		}

		parts := strings.SplitN(ev.ObjectID, "/", 3)
		if len(parts) < 3 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad object id"})
			return
		}
		roomID, uploader := domain.RoomID(parts[0]), parts[1]
		at := ev.TimeCreated
		if at.IsZero() {
			at = time.Now()
		}

		if err := eng.NotifyUpload(c.Request.Context(), roomID, uploader, at); err != nil {
			log.Error().Err(err).Str("module", "adapters.http").Str("object", ev.ObjectID).Msg("upload webhook")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
			return
		}
		c.Status(http.StatusNoContent)
	}
}

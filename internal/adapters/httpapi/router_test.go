package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/internal/adapters/blob"
	"github.com/parleyhq/parley/internal/adapters/broadcast"
	"github.com/parleyhq/parley/internal/adapters/store"
	"github.com/parleyhq/parley/internal/adapters/transcribe"
	"github.com/parleyhq/parley/internal/adapters/ws"
	"github.com/parleyhq/parley/internal/app"
	"github.com/parleyhq/parley/internal/config"
)

func testServer(t *testing.T) (*httptest.Server, *store.MemoryStore, *app.Engine) {
	t.Helper()
	st := store.NewMemoryStore()
	eng := app.NewEngine(
		st,
		broadcast.NewHub(),
		blob.NewSigner("secret", "http://blobs.local", time.Minute),
		transcribe.Disabled{},
	)
	cfg := &config.Config{
		Mode:         "release",
		Secret:       "cookie-secret",
		WebhookToken: "hook-token",
	}
	ctl := ws.NewController(eng, ws.NewCommandRateLimiter(0, 0), ws.Options{})
	srv := httptest.NewServer(SetupRouter(cfg, eng, ctl))
	t.Cleanup(srv.Close)
	return srv, st, eng
}

func TestHealthz(t *testing.T) {
	srv, _, _ := testServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestLoginValidatesUsername(t *testing.T) {
	srv, _, _ := testServer(t)

	resp, err := http.Post(srv.URL+"/api/login", "application/json",
		strings.NewReader(`{"username":"has space"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/api/login", "application/json",
		strings.NewReader(`{"username":"alice"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Cookies())
}

func TestIdentityRequiredForAPI(t *testing.T) {
	srv, _, _ := testServer(t)

	resp, err := http.Get(srv.URL + "/api/ws/user/alice")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestUploadWebhookRejectsBadToken(t *testing.T) {
	srv, _, _ := testServer(t)

	resp, err := http.Post(srv.URL+"/hooks/upload?token=wrong", "application/json",
		strings.NewReader(`{"objectId":"room/alice/a.ogg"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestUploadWebhookBumpsNotifications(t *testing.T) {
	srv, st, _ := testServer(t)
	ctx := context.Background()

	room, err := st.GetOrCreateRoom(ctx, "")
	require.NoError(t, err)
	for _, u := range []string{"alice", "bob"} {
		_, err := st.GetOrCreateUser(ctx, u)
		require.NoError(t, err)
		_, err = st.AddMember(ctx, room.ID, u)
		require.NoError(t, err)
	}

	body := `{"eventType":"OBJECT_FINALIZE","objectId":"` + string(room.ID) + `/alice/clip.ogg","timeCreated":"` +
		time.Now().Format(time.RFC3339) + `"}`
	resp, err := http.Post(srv.URL+"/hooks/upload?token=hook-token", "application/json",
		strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	aliceRows, err := st.NotificationsOfUser(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, aliceRows, 1)
	assert.True(t, aliceRows[0].Read)

	bobRows, err := st.NotificationsOfUser(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, bobRows, 1)
	assert.False(t, bobRows[0].Read)
}

func TestUploadWebhookIgnoresOtherEventTypes(t *testing.T) {
	srv, st, _ := testServer(t)
	ctx := context.Background()

	room, err := st.GetOrCreateRoom(ctx, "")
	require.NoError(t, err)
	_, err = st.GetOrCreateUser(ctx, "alice")
	require.NoError(t, err)
	_, err = st.AddMember(ctx, room.ID, "alice")
	require.NoError(t, err)

	body := `{"eventType":"OBJECT_DELETE","objectId":"` + string(room.ID) + `/alice/clip.ogg"}`
	resp, err := http.Post(srv.URL+"/hooks/upload?token=hook-token", "application/json",
		strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	rows, err := st.NotificationsOfUser(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestUploadWebhookRejectsMalformedObjectID(t *testing.T) {
	srv, _, _ := testServer(t)

	resp, err := http.Post(srv.URL+"/hooks/upload?token=hook-token", "application/json",
		strings.NewReader(`{"objectId":"not-a-triple"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

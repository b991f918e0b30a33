package blob

import (
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseSigned(t *testing.T, raw string) (blobName, action, signature string, expires int64) {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	blobName = strings.TrimPrefix(u.Path, "/blobs/")
	q := u.Query()
	action = q.Get("action")
	signature = q.Get("signature")
	expires, err = strconv.ParseInt(q.Get("expires"), 10, 64)
	require.NoError(t, err)
	return
}

func TestSignerRoundTrip(t *testing.T) {
	s := NewSigner("topsecret", "https://blobs.example.com", 10*time.Minute)

	raw, err := s.UploadURL("room-1/alice/clip.ogg")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(raw, "https://blobs.example.com/blobs/room-1/alice/clip.ogg?"))

	name, action, sig, exp := parseSigned(t, raw)
	assert.Equal(t, "room-1/alice/clip.ogg", name)
	assert.Equal(t, ActionUpload, action)
	require.NoError(t, s.Verify(action, name, exp, sig))
}

func TestSignerDownloadAndUploadSignaturesDiffer(t *testing.T) {
	s := NewSigner("topsecret", "https://blobs.example.com", 10*time.Minute)

	up, err := s.UploadURL("a/b/c.ogg")
	require.NoError(t, err)
	down, err := s.DownloadURL("a/b/c.ogg")
	require.NoError(t, err)

	_, _, upSig, upExp := parseSigned(t, up)
	_, _, downSig, _ := parseSigned(t, down)
	assert.NotEqual(t, upSig, downSig)

	// An upload signature must not authorize a download.
	assert.ErrorIs(t, s.Verify(ActionDownload, "a/b/c.ogg", upExp, upSig), ErrBadSignature)
}

func TestSignerRejectsTampering(t *testing.T) {
	s := NewSigner("topsecret", "https://blobs.example.com", 10*time.Minute)

	raw, err := s.DownloadURL("room/alice/clip.ogg")
	require.NoError(t, err)
	name, action, sig, exp := parseSigned(t, raw)

	assert.ErrorIs(t, s.Verify(action, "room/mallory/clip.ogg", exp, sig), ErrBadSignature)
	assert.ErrorIs(t, s.Verify(action, name, exp+3600, sig), ErrBadSignature)
	assert.ErrorIs(t, s.Verify(action, name, exp, sig+"00"), ErrBadSignature)
}

func TestSignerRejectsExpired(t *testing.T) {
	s := NewSigner("topsecret", "https://blobs.example.com", time.Minute)
	now := time.Now()
	s.now = func() time.Time { return now }

	raw, err := s.DownloadURL("room/alice/clip.ogg")
	require.NoError(t, err)
	name, action, sig, exp := parseSigned(t, raw)

	require.NoError(t, s.Verify(action, name, exp, sig))

	s.now = func() time.Time { return now.Add(2 * time.Minute) }
	assert.ErrorIs(t, s.Verify(action, name, exp, sig), ErrExpired)
}

func TestSignerRejectsEmptyBlobName(t *testing.T) {
	s := NewSigner("topsecret", "https://blobs.example.com", time.Minute)
	_, err := s.UploadURL("")
	require.Error(t, err)
}

func TestSignerDifferentSecretsDisagree(t *testing.T) {
	a := NewSigner("secret-a", "https://blobs.example.com", time.Minute)
	b := NewSigner("secret-b", "https://blobs.example.com", time.Minute)

	raw, err := a.DownloadURL("x/y/z.ogg")
	require.NoError(t, err)
	name, action, sig, exp := parseSigned(t, raw)
	assert.ErrorIs(t, b.Verify(action, name, exp, sig), ErrBadSignature)
}

package blob

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// Actions a signed URL can authorize.
const (
	ActionUpload   = "upload"
	ActionDownload = "download"
)

var (
	ErrBadSignature = errors.New("blob: bad signature")
	ErrExpired      = errors.New("blob: url expired")
)

// Signer issues and verifies time-bounded signed blob URLs. The store
// serving the blobs only needs the same secret to verify; no shared
// state beyond that.
type Signer struct {
	secret  []byte
	baseURL string
	ttl     time.Duration

	// now is swapped in tests.
	now func() time.Time
}

func NewSigner(secret, baseURL string, ttl time.Duration) *Signer {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Signer{
		secret:  []byte(secret),
		baseURL: baseURL,
		ttl:     ttl,
		now:     time.Now,
	}
}

// UploadURL returns a PUT-able URL for the named blob.
func (s *Signer) UploadURL(blobName string) (string, error) {
	return s.signedURL(ActionUpload, blobName)
}

// DownloadURL returns a GET-able URL for the named blob.
func (s *Signer) DownloadURL(blobName string) (string, error) {
	return s.signedURL(ActionDownload, blobName)
}

func (s *Signer) signedURL(action, blobName string) (string, error) {
	if blobName == "" {
		return "", errors.New("blob: empty blob name")
	}
	expires := s.now().Add(s.ttl).Unix()
	sig := s.sign(action, blobName, expires)

	q := url.Values{}
	q.Set("action", action)
	q.Set("expires", strconv.FormatInt(expires, 10))
	q.Set("signature", sig)
	return fmt.Sprintf("%s/blobs/%s?%s", s.baseURL, blobName, q.Encode()), nil
}

// Verify checks a presented (action, blobName, expires, signature)
// tuple, comparing in constant time before honoring the expiry.
func (s *Signer) Verify(action, blobName string, expires int64, signature string) error {
	want := s.sign(action, blobName, expires)
	if !hmac.Equal([]byte(want), []byte(signature)) {
		return ErrBadSignature
	}
	if s.now().Unix() > expires {
		return ErrExpired
	}
	return nil
}

func (s *Signer) sign(action, blobName string, expires int64) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s\n%s\n%d", action, blobName, expires)
	return hex.EncodeToString(mac.Sum(nil))
}

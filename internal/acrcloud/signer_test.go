package acrcloud

import (
	"crypto/hmac"
	"crypto/sha1" //nolint:gosec // signature scheme under test
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSigner_StringToSign(t *testing.T) {
	t.Parallel()

	s := NewSigner("key-123", "secret")
	got := s.StringToSign("post", "/v1/audios", 1700000000000)

	assert.Equal(t, "POST\n/v1/audios\nkey-123\naudio\n1700000000000", got)
}

func TestSigner_SignMatchesHMAC(t *testing.T) {
	t.Parallel()

	s := NewSigner("key-123", "secret")
	ts := int64(1700000000000)

	mac := hmac.New(sha1.New, []byte("secret"))
	mac.Write([]byte("GET\n/v1/detections\nkey-123\naudio\n1700000000000"))
	want := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	assert.Equal(t, want, s.Sign("GET", "/v1/detections", ts))
}

func TestSigner_Deterministic(t *testing.T) {
	t.Parallel()

	a := NewSigner("k", "s")
	b := NewSigner("k", "s")
	other := NewSigner("k", "different")

	ts := int64(1712345678901)
	assert.Equal(t, a.Sign("PUT", pathMonitors, ts), b.Sign("PUT", pathMonitors, ts))
	assert.NotEqual(t, a.Sign("PUT", pathMonitors, ts), other.Sign("PUT", pathMonitors, ts))
	assert.NotEqual(t, a.Sign("PUT", pathMonitors, ts), a.Sign("PUT", pathMonitors, ts+1))
	assert.NotEqual(t, a.Sign("PUT", pathMonitors, ts), a.Sign("DELETE", pathMonitors, ts))
}

func TestSigner_Credentials(t *testing.T) {
	t.Parallel()

	s := NewSigner("key-123", "secret")
	now := time.UnixMilli(1700000000123)

	v := s.Credentials("GET", pathDetections, now)

	assert.Equal(t, "key-123", v.Get("access_key"))
	assert.Equal(t, "1700000000123", v.Get("timestamp"))
	assert.Equal(t, "1", v.Get("signature_version"))
	assert.Equal(t, "audio", v.Get("data_type"))
	require.NotEmpty(t, v.Get("signature"))
	assert.Equal(t, s.Sign("GET", pathDetections, 1700000000123), v.Get("signature"))
}

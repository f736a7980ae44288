package acrcloud

import (
	"crypto/hmac"
	"crypto/sha1" //nolint:gosec // HMAC-SHA1 is mandated by the provider's signature scheme
	"encoding/base64"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	dataType         = "audio"
	signatureVersion = "1"
)

// Signer produces the provider's request signature. It is a pure function of
// its inputs and the configured credentials.
type Signer struct {
	accessKey    string
	accessSecret []byte
}

// NewSigner creates a signer for one set of account credentials.
func NewSigner(accessKey, accessSecret string) *Signer {
	return &Signer{accessKey: accessKey, accessSecret: []byte(accessSecret)}
}

// StringToSign builds the canonical string
// method \n path \n accessKey \n "audio" \n timestamp.
func (s *Signer) StringToSign(method, path string, timestampMs int64) string {
	return strings.Join([]string{
		strings.ToUpper(method),
		path,
		s.accessKey,
		dataType,
		strconv.FormatInt(timestampMs, 10),
	}, "\n")
}

// Sign returns the base64 HMAC-SHA1 of the canonical string.
func (s *Signer) Sign(method, path string, timestampMs int64) string {
	mac := hmac.New(sha1.New, s.accessSecret)
	mac.Write([]byte(s.StringToSign(method, path, timestampMs)))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Credentials returns the authentication parameters carried by every call.
func (s *Signer) Credentials(method, path string, now time.Time) url.Values {
	ts := now.UnixMilli()
	return url.Values{
		"access_key":        {s.accessKey},
		"signature":         {s.Sign(method, path, ts)},
		"signature_version": {signatureVersion},
		"timestamp":         {strconv.FormatInt(ts, 10)},
		"data_type":         {dataType},
	}
}

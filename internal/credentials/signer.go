// Package credentials signs vendor cloud requests.
//
// Each request carries the account token, a millisecond timestamp, a random
// nonce and an HMAC-SHA256 signature over token+timestamp+nonce keyed with
// the account secret, base64 encoded.
package credentials

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// ErrMissingCredentials is returned when the token or secret is empty.
var ErrMissingCredentials = errors.New("credentials: token and secret are required")

// Header names set on every signed request.
const (
	HeaderAuthorization = "Authorization"
	HeaderTimestamp     = "t"
	HeaderNonce         = "nonce"
	HeaderSignature     = "sign"
)

// Signer produces signed request headers.
type Signer struct {
	token  string
	secret []byte

	// now and nonce are replaceable in tests.
	now   func() time.Time
	nonce func() string
}

// NewSigner creates a signer for the given account token and secret.
func NewSigner(token, secret string) (*Signer, error) {
	if token == "" || secret == "" {
		return nil, ErrMissingCredentials
	}
	return &Signer{
		token:  token,
		secret: []byte(secret),
		now:    time.Now,
		nonce:  func() string { return uuid.NewString() },
	}, nil
}

// Headers returns a fresh header set. Its signature matches transport.HeaderFunc.
func (s *Signer) Headers() (map[string]string, error) {
	t := strconv.FormatInt(s.now().UnixMilli(), 10)
	nonce := s.nonce()

	return map[string]string{
		HeaderAuthorization: s.token,
		HeaderTimestamp:     t,
		HeaderNonce:         nonce,
		HeaderSignature:     Sign(s.secret, s.token+t+nonce),
	}, nil
}

// Sign returns base64(HMAC-SHA256(secret, data)).
func Sign(secret []byte, data string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(data))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

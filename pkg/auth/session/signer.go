// Package session produces and verifies MAC-signed, time-bounded session
// cookies. The signer is stateless; the signing secret is injected so it
// can be rotated together with the self-signed token secret.
package session

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CookieName is the session cookie set on interactive login.
const CookieName = "mcp_gateway_session"

// DefaultMaxAge is the default session validity window.
const DefaultMaxAge = 8 * time.Hour

// Common verification errors.
var (
	ErrBadSignature = errors.New("session signature mismatch")
	ErrExpired      = errors.New("session expired")
	ErrMalformed    = errors.New("malformed session cookie")
)

// Payload is the session cookie content. It carries no secrets the holder
// didn't already possess.
type Payload struct {
	Username     string   `json:"username"`
	Groups       []string `json:"groups"`
	ProviderType string   `json:"provider_type,omitempty"`
	IsOAuth      bool     `json:"is_oauth,omitempty"`
	SessionID    string   `json:"session_id,omitempty"`
	LoginTime    string   `json:"login_time,omitempty"`
}

// Signer signs and verifies session payloads with a process-wide secret.
type Signer struct {
	secret []byte
}

// NewSigner creates a signer over the given secret.
func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

// Sign serializes the payload, appends the current timestamp, and MACs
// both. The result is URL-safe base64 of "payload.timestamp.mac".
func (s *Signer) Sign(p *Payload) (string, error) {
	return s.signAt(p, time.Now())
}

func (s *Signer) signAt(p *Payload, now time.Time) (string, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to serialize session payload: %w", err)
	}

	enc := base64.RawURLEncoding
	payload := enc.EncodeToString(body)
	ts := strconv.FormatInt(now.Unix(), 10)
	mac := s.mac(payload, ts)

	return payload + "." + ts + "." + enc.EncodeToString(mac), nil
}

// Verify parses a cookie value and returns the payload if the MAC matches
// and the embedded timestamp is no older than maxAge.
func (s *Signer) Verify(value string, maxAge time.Duration) (*Payload, error) {
	return s.verifyAt(value, maxAge, time.Now())
}

func (s *Signer) verifyAt(value string, maxAge time.Duration, now time.Time) (*Payload, error) {
	parts := strings.Split(value, ".")
	if len(parts) != 3 {
		return nil, ErrMalformed
	}
	payload, ts := parts[0], parts[1]

	enc := base64.RawURLEncoding
	gotMAC, err := enc.DecodeString(parts[2])
	if err != nil {
		return nil, ErrMalformed
	}

	if !hmac.Equal(gotMAC, s.mac(payload, ts)) {
		return nil, ErrBadSignature
	}

	issued, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return nil, ErrMalformed
	}
	if now.Unix()-issued > int64(maxAge.Seconds()) {
		return nil, ErrExpired
	}

	body, err := enc.DecodeString(payload)
	if err != nil {
		return nil, ErrMalformed
	}

	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, ErrMalformed
	}
	return &p, nil
}

func (s *Signer) mac(payload, ts string) []byte {
	h := hmac.New(sha256.New, s.secret)
	h.Write([]byte(payload))
	h.Write([]byte("."))
	h.Write([]byte(ts))
	return h.Sum(nil)
}

package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidToken = errors.New("invalid session token")
	ErrExpiredToken = errors.New("session token expired")
)

// MinSecretLength is the shortest signing secret a Signer accepts.
const MinSecretLength = 16

type claims struct {
	ExpiresAt int64 `json:"exp"`
	IssuedAt  int64 `json:"iat"`
}

// Signer issues and verifies time-limited session tokens of the form
// base64url(payload) "." base64url(HMAC-SHA256(secret, payload)).
type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewSigner(secret string, ttl time.Duration) (*Signer, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("session secret must be at least %d characters", MinSecretLength)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("session ttl must be positive, got %s", ttl)
	}
	return &Signer{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

func (s *Signer) TTL() time.Duration { return s.ttl }

// Issue returns a new token and its expiry.
func (s *Signer) Issue() (string, time.Time, error) {
	now := s.now()
	exp := now.Add(s.ttl)
	payload, err := json.Marshal(claims{ExpiresAt: exp.Unix(), IssuedAt: now.Unix()})
	if err != nil {
		return "", time.Time{}, err
	}
	encoded := base64.RawURLEncoding.EncodeToString(payload)
	return encoded + "." + s.sign(encoded), exp, nil
}

// Verify checks the signature first and the expiry second.
func (s *Signer) Verify(token string) error {
	encoded, sig, ok := strings.Cut(token, ".")
	if !ok || encoded == "" || sig == "" {
		return ErrInvalidToken
	}
	if !hmac.Equal([]byte(sig), []byte(s.sign(encoded))) {
		return ErrInvalidToken
	}

	payload, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return ErrInvalidToken
	}
	var c claims
	if err := json.Unmarshal(payload, &c); err != nil || c.ExpiresAt == 0 {
		return ErrInvalidToken
	}
	if !s.now().Before(time.Unix(c.ExpiresAt, 0)) {
		return ErrExpiredToken
	}
	return nil
}

func (s *Signer) sign(encoded string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(encoded))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// Package notify builds and delivers the operator digest of pages that
// still need manual classification.
package notify

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
)

const signatureHexLen = 16

// ErrInvalidToken is returned when a token is malformed or its signature
// does not match.
var ErrInvalidToken = errors.New("invalid classification token")

// Signer issues and verifies page action tokens of the form {pageID}.{sig},
// where sig is the first 16 hex characters of HMAC-SHA256(secret, pageID).
type Signer struct {
	secret []byte
}

// NewSigner constructs a Signer.
func NewSigner(secret string) (*Signer, error) {
	if secret == "" {
		return nil, errors.New("notify secret is required")
	}
	return &Signer{secret: []byte(secret)}, nil
}

// Token signs pageID.
func (s *Signer) Token(pageID int64) string {
	id := strconv.FormatInt(pageID, 10)
	return id + "." + s.signature(id)
}

// Verify returns the page id carried by a valid token.
func (s *Signer) Verify(token string) (int64, error) {
	id, sig, ok := strings.Cut(token, ".")
	if !ok || id == "" || sig == "" {
		return 0, ErrInvalidToken
	}
	pageID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, ErrInvalidToken
	}
	want := s.signature(strconv.FormatInt(pageID, 10))
	if !hmac.Equal([]byte(sig), []byte(want)) {
		return 0, ErrInvalidToken
	}
	return pageID, nil
}

func (s *Signer) signature(id string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(id))
	return hex.EncodeToString(mac.Sum(nil))[:signatureHexLen]
}

// Package auth answers capability checks for API callers. Keys are never stored,
// only their bcrypt hashes.
package auth

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Level is an access level. Higher levels include the lower ones.
type Level int

const (
	LevelNone Level = iota
	LevelViewer
	LevelNetworkAdmin
)

func (l Level) String() string {
	switch l {
	case LevelViewer:
		return "viewer"
	case LevelNetworkAdmin:
		return "network_admin"
	default:
		return "none"
	}
}

// ErrInvalidKey is returned when a presented key matches no configured hash.
var ErrInvalidKey = errors.New("invalid API key")

// Checker is the capability check consulted by the query engine.
type Checker interface {
	HasAccess(level Level) bool
}

// Grant is the access level resolved for a caller.
type Grant Level

// HasAccess implements Checker.
func (g Grant) HasAccess(level Level) bool {
	return Level(g) >= level
}

// Level returns the granted level.
func (g Grant) Level() Level { return Level(g) }

// Verifier resolves bearer keys to grants.
type Verifier struct {
	viewerHash  []byte
	networkHash []byte
}

// NewVerifier creates a verifier from bcrypt hashes. An empty hash disables that level.
func NewVerifier(viewerHash, networkAdminHash string) *Verifier {
	v := &Verifier{}
	if viewerHash != "" {
		v.viewerHash = []byte(viewerHash)
	}
	if networkAdminHash != "" {
		v.networkHash = []byte(networkAdminHash)
	}
	return v
}

// Open reports whether no key is configured at all, in which case every caller is a viewer.
func (v *Verifier) Open() bool {
	return v.viewerHash == nil && v.networkHash == nil
}

// Verify returns the highest level key matches.
func (v *Verifier) Verify(key string) (Grant, error) {
	if v.Open() {
		return Grant(LevelViewer), nil
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return Grant(LevelNone), ErrInvalidKey
	}
	if v.networkHash != nil && bcrypt.CompareHashAndPassword(v.networkHash, []byte(key)) == nil {
		return Grant(LevelNetworkAdmin), nil
	}
	if v.viewerHash != nil && bcrypt.CompareHashAndPassword(v.viewerHash, []byte(key)) == nil {
		return Grant(LevelViewer), nil
	}
	return Grant(LevelNone), ErrInvalidKey
}

// HashKey returns the bcrypt hash to configure for key.
func HashKey(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", errors.New("key cannot be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash key: %w", err)
	}
	return string(hash), nil
}

package gateway

import (
	"crypto/subtle"
	"errors"
	"fmt"
)

// ErrUnauthorized is returned for a missing or unknown token.
var ErrUnauthorized = errors.New("gateway: unauthorized")

// Authenticator validates API and stream clients.
type Authenticator interface {
	Authenticate(token string) (client string, err error)
}

// TokenAuth checks tokens against a static list using constant-time
// comparison. An empty list admits everyone as "anonymous".
type TokenAuth struct {
	tokens [][]byte
}

// NewTokenAuth builds an authenticator from tokens.
func NewTokenAuth(tokens []string) *TokenAuth {
	a := &TokenAuth{tokens: make([][]byte, 0, len(tokens))}
	for _, t := range tokens {
		if t != "" {
			a.tokens = append(a.tokens, []byte(t))
		}
	}
	return a
}

// Authenticate returns a client label for a valid token.
func (a *TokenAuth) Authenticate(token string) (string, error) {
	if len(a.tokens) == 0 {
		return "anonymous", nil
	}
	tb := []byte(token)
	for i, t := range a.tokens {
		if subtle.ConstantTimeCompare(tb, t) == 1 {
			return fmt.Sprintf("client-%d", i), nil
		}
	}
	return "", ErrUnauthorized
}

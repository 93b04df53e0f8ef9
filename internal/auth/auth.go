// Package auth supplies the provider access token. Tokens are obtained by an
// external process; this package only reads them.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
)

// ErrNoToken is returned when a provider has no token to hand out.
var ErrNoToken = errors.New("access token not available")

// TokenProvider returns the current access token.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed token.
type StaticToken string

// Token returns the token, or ErrNoToken when empty.
func (t StaticToken) Token(context.Context) (string, error) {
	if strings.TrimSpace(string(t)) == "" {
		return "", ErrNoToken
	}
	return strings.TrimSpace(string(t)), nil
}

// EnvToken reads the token from an environment variable on every call.
type EnvToken struct {
	Name string
}

// Token returns the variable's value.
func (e EnvToken) Token(context.Context) (string, error) {
	v := strings.TrimSpace(os.Getenv(e.Name))
	if v == "" {
		return "", fmt.Errorf("%w: %s is not set", ErrNoToken, e.Name)
	}
	return v, nil
}

// FileToken reads the token from a file on every call, so a rotated token is
// picked up by the next connect.
type FileToken struct {
	Path string
}

// Token returns the trimmed file contents.
func (f FileToken) Token(context.Context) (string, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}
	v := strings.TrimSpace(string(data))
	if v == "" {
		return "", fmt.Errorf("%w: %s is empty", ErrNoToken, f.Path)
	}
	return v, nil
}

// NewProvider picks a provider from config values: a token file wins over an
// environment variable, which wins over a literal token.
func NewProvider(token, tokenEnv, tokenFile string) (TokenProvider, error) {
	switch {
	case tokenFile != "":
		return FileToken{Path: tokenFile}, nil
	case tokenEnv != "":
		return EnvToken{Name: tokenEnv}, nil
	case token != "":
		return StaticToken(token), nil
	}
	return nil, fmt.Errorf("%w: no token, token_env or token_file configured", ErrNoToken)
}

// BearerHeader returns request headers carrying the token.
func BearerHeader(token string) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	return h
}

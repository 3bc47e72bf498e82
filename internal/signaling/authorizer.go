package signaling

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/abyuwono/mivochat/internal/auth"
	"github.com/abyuwono/mivochat/internal/config"
)

// ClientHello carries the credential from a first-message `{type:"auth"}`
// envelope. For the upgrade request itself, credentials are read from the
// query string instead.
type ClientHello struct {
	Credential string
}

type Authorizer interface {
	Authorize(r *http.Request, firstMsg *ClientHello) error
}

type AllowAllAuthorizer struct{}

func (AllowAllAuthorizer) Authorize(r *http.Request, firstMsg *ClientHello) error {
	return nil
}

// AuthAuthorizer enforces AUTH_MODE=api_key|jwt for the signaling WebSocket.
//
// Credential sources: query string on the upgrade request (fallback) and the
// first `{type:"auth", apiKey:"..."}` / `{type:"auth", token:"..."}` message
// (preferred).
type AuthAuthorizer struct {
	mode     config.AuthMode
	verifier auth.Verifier
}

func NewAuthorizer(cfg config.Config) (Authorizer, error) {
	if cfg.AuthMode == config.AuthModeNone {
		return AllowAllAuthorizer{}, nil
	}
	v, err := auth.NewVerifier(cfg)
	if err != nil {
		return nil, err
	}
	return AuthAuthorizer{mode: cfg.AuthMode, verifier: v}, nil
}

func (a AuthAuthorizer) Authorize(r *http.Request, firstMsg *ClientHello) error {
	if a.verifier == nil {
		return errors.New("auth verifier not configured")
	}

	if firstMsg != nil {
		if cred := strings.TrimSpace(firstMsg.Credential); cred != "" {
			return a.verifier.Verify(cred)
		}
		return auth.ErrMissingCredentials
	}

	cred, err := auth.CredentialFromQuery(a.mode, r.URL.Query())
	if err != nil {
		return err
	}
	return a.verifier.Verify(cred)
}

// IsAuthMissing reports whether err represents missing credentials (as opposed
// to invalid credentials).
func IsAuthMissing(err error) bool {
	return errors.Is(err, auth.ErrMissingCredentials)
}

// IsUnauthorized reports whether err should be treated as an authentication
// failure.
func IsUnauthorized(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, auth.ErrMissingCredentials) || errors.Is(err, auth.ErrInvalidCredentials)
}

func unauthorizedMessage(err error) string {
	if err == nil {
		return "unauthorized"
	}
	// Avoid leaking server configuration details.
	if IsUnauthorized(err) {
		return "unauthorized"
	}
	return fmt.Sprintf("authorization failed: %v", err)
}

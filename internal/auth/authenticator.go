package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/danyal-tariq/MeetUpSync/internal/auth/jwt"
	"github.com/danyal-tariq/MeetUpSync/internal/common/config"
)

// Mode represents the authentication mode
type Mode string

const (
	// ModeNone accepts every connection as anonymous
	ModeNone Mode = "none"
	// ModeJWT requires a valid bearer token on connection establishment
	ModeJWT Mode = "jwt"
)

// ErrMissingToken is returned when a credential is required but absent.
var ErrMissingToken = errors.New("missing token")

// Identity is the stable user identity returned by a successful
// authentication. Zero value means anonymous.
type Identity struct {
	UserID   string
	Username string
}

// Authenticator verifies the credential presented on connection
// establishment and returns a stable user identity. This is the entire
// boundary with the external auth service; credential issuance lives there.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (Identity, error)
}

// NewAuthenticator creates an authenticator based on configuration
func NewAuthenticator(cfg config.AuthConfig) (Authenticator, error) {
	switch Mode(cfg.Mode) {
	case ModeNone, "":
		return NoopAuthenticator{}, nil
	case ModeJWT:
		svc, err := jwt.NewService(jwt.Config{SecretKey: cfg.JWT.SecretKey, Duration: cfg.JWT.Duration})
		if err != nil {
			return nil, err
		}
		return &JWTAuthenticator{service: svc}, nil
	default:
		return nil, fmt.Errorf("unsupported auth mode: %s", cfg.Mode)
	}
}

// NoopAuthenticator accepts every connection as anonymous
type NoopAuthenticator struct{}

// Authenticate implements Authenticator.Authenticate
func (NoopAuthenticator) Authenticate(_ context.Context, _ string) (Identity, error) {
	return Identity{}, nil
}

// JWTAuthenticator verifies HS256 bearer tokens
type JWTAuthenticator struct {
	service *jwt.Service
}

// NewJWTAuthenticator wraps an existing token service
func NewJWTAuthenticator(service *jwt.Service) *JWTAuthenticator {
	return &JWTAuthenticator{service: service}
}

// Authenticate implements Authenticator.Authenticate
func (a *JWTAuthenticator) Authenticate(_ context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrMissingToken
	}
	claims, err := a.service.ValidateToken(token)
	if err != nil {
		return Identity{}, err
	}
	return Identity{UserID: claims.UserID, Username: claims.Username}, nil
}

// Package auth identifies console users, either from an OIDC bearer token
// (Cognito access or ID tokens included) or from a login session cookie.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"mattone/internal/models"
)

var ErrUnauthenticated = errors.New("unauthenticated")

type Config struct {
	Issuer       string
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

func (c Config) Validate() error {
	if c.Issuer == "" || c.ClientID == "" {
		return errors.New("issuer and client ID are required")
	}
	if (c.ClientSecret == "") != (c.RedirectURL == "") {
		return errors.New("client secret and redirect URL must be set together")
	}
	return nil
}

func (c Config) loginConfigured() bool {
	return c.ClientSecret != "" && c.RedirectURL != ""
}

const SessionDuration = 7 * 24 * time.Hour
const CookieName = "mattone_session"
const stateCookieName = "oidc_state"

// Store is the user and login-session persistence auth relies on.
type Store interface {
	GetOrCreateUserBySubject(subject, email, name string) (*models.User, error)
	CreateSession(userID string, expiresAt time.Time) (string, error)
	GetSessionUser(token string) (*models.User, error)
	DeleteSession(token string) error
}

type Service struct {
	store    Store
	clientID string
	verifier *gooidc.IDTokenVerifier
	login    *loginFlow
}

type loginFlow struct {
	oauth2   oauth2.Config
	verifier *gooidc.IDTokenVerifier
}

// NewService discovers the issuer and prepares bearer verification. The
// browser login flow is enabled only when a client secret and redirect URL
// are configured.
func NewService(ctx context.Context, cfg Config, st Store) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	provider, err := gooidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("discovering issuer %s: %w", cfg.Issuer, err)
	}

	// Cognito access tokens carry client_id instead of aud, so the audience
	// is checked by hand in verifyBearer.
	s := NewServiceWithVerifier(provider.Verifier(&gooidc.Config{SkipClientIDCheck: true}), cfg.ClientID, st)
	if cfg.loginConfigured() {
		s.login = &loginFlow{
			oauth2: oauth2.Config{
				ClientID:     cfg.ClientID,
				ClientSecret: cfg.ClientSecret,
				RedirectURL:  cfg.RedirectURL,
				Endpoint:     provider.Endpoint(),
				Scopes:       []string{gooidc.ScopeOpenID, "profile", "email"},
			},
			verifier: provider.Verifier(&gooidc.Config{ClientID: cfg.ClientID}),
		}
	}
	return s, nil
}

// NewServiceWithVerifier builds a bearer-only service around an existing
// verifier, which must skip its own client ID check.
func NewServiceWithVerifier(v *gooidc.IDTokenVerifier, clientID string, st Store) *Service {
	return &Service{store: st, clientID: clientID, verifier: v}
}

func (s *Service) LoginEnabled() bool {
	return s.login != nil
}

type tokenClaims struct {
	Subject  string `json:"sub"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	Username string `json:"cognito:username"`
	ClientID string `json:"client_id"`
}

// Authenticate resolves the request's user from an Authorization bearer
// token, falling back to the session cookie. Failures wrap
// ErrUnauthenticated.
func (s *Service) Authenticate(r *http.Request) (*models.User, error) {
	if raw, ok := bearerToken(r); ok {
		return s.verifyBearer(r.Context(), raw)
	}
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		u, err := s.store.GetSessionUser(c.Value)
		if errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("session expired: %w", ErrUnauthenticated)
		}
		return u, err
	}
	return nil, fmt.Errorf("no credentials: %w", ErrUnauthenticated)
}

func (s *Service) verifyBearer(ctx context.Context, raw string) (*models.User, error) {
	tok, err := s.verifier.Verify(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	var claims tokenClaims
	if err := tok.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%w: decoding claims: %v", ErrUnauthenticated, err)
	}
	if !slices.Contains(tok.Audience, s.clientID) && claims.ClientID != s.clientID {
		return nil, fmt.Errorf("%w: token not issued for this client", ErrUnauthenticated)
	}
	if tok.Subject == "" {
		return nil, fmt.Errorf("%w: token has no subject", ErrUnauthenticated)
	}
	return s.store.GetOrCreateUserBySubject(tok.Subject, claims.Email, firstNonEmpty(claims.Name, claims.Username, claims.Email))
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

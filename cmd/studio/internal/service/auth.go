package service

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/emrantusho/the-final-studio/config"
	"github.com/emrantusho/the-final-studio/infra/storage"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/net/publicsuffix"
)

var (
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrUnauthenticated     = errors.New("unauthenticated")
	ErrSecretNotConfigured = errors.New("session secret not configured")
)

const defaultSessionTTL = 7 * 24 * time.Hour

// AuthService is the single authentication boundary: it issues, validates
// and revokes opaque session tokens backed by the sessions table.
type AuthService struct {
	cfg      config.SessionConfig
	users    *storage.UserRepository
	sessions *storage.SessionRepository
	logger   zerolog.Logger
}

func NewAuthService(cfg config.SessionConfig, users *storage.UserRepository, sessions *storage.SessionRepository, logger zerolog.Logger) *AuthService {
	if cfg.TTL <= 0 {
		cfg.TTL = defaultSessionTTL
	}
	if cfg.CookieName == "" {
		cfg.CookieName = "auth_session"
	}
	return &AuthService{
		cfg:      cfg,
		users:    users,
		sessions: sessions,
		logger:   logger,
	}
}

func (s *AuthService) CookieName() string {
	return s.cfg.CookieName
}

// Login verifies the credentials and creates a session row. Unknown user
// and wrong password collapse into the same error so the response does not
// reveal which part failed.
func (s *AuthService) Login(username, password string) (*storage.User, string, time.Time, error) {
	if s.cfg.Secret == "" {
		return nil, "", time.Time{}, ErrSecretNotConfigured
	}

	user, err := s.users.GetUserByUsername(username)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return nil, "", time.Time{}, ErrInvalidCredentials
		}
		return nil, "", time.Time{}, fmt.Errorf("login: %w", err)
	}
	if !user.CheckPassword(password) {
		return nil, "", time.Time{}, ErrInvalidCredentials
	}

	token := uuid.NewString()
	expiresAt := time.Now().Add(s.cfg.TTL)
	if _, err := s.sessions.CreateSession(token, user.ID, expiresAt); err != nil {
		return nil, "", time.Time{}, fmt.Errorf("login: %w", err)
	}

	s.logger.Info().Uint("user_id", user.ID).Time("expires_at", expiresAt).Msg("session created")
	return user, token, expiresAt, nil
}

// Validate resolves a token to its identity. The store is queried on every
// call; an expired or unknown token reports ErrUnauthenticated without
// leaking the identity.
func (s *AuthService) Validate(token string) (*storage.Identity, error) {
	if token == "" {
		return nil, ErrUnauthenticated
	}
	identity, err := s.sessions.GetValidSession(token, time.Now())
	if err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			return nil, ErrUnauthenticated
		}
		return nil, fmt.Errorf("validate session: %w", err)
	}
	return identity, nil
}

// Logout deletes the session row. An absent or unknown token is a no-op,
// not an error; the caller clears the cookie either way.
func (s *AuthService) Logout(token string) error {
	if token == "" {
		return nil
	}
	if err := s.sessions.DeleteSession(token); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// SetSessionCookie places the session token in the client credential store.
// HttpOnly and Secure with SameSite=None: the UI is served from a sibling
// subdomain and sends the cookie cross-site.
func (s *AuthService) SetSessionCookie(w http.ResponseWriter, origin, token string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.CookieName,
		Value:    token,
		Path:     "/",
		Domain:   CookieDomain(origin),
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteNoneMode,
	})
}

// ClearSessionCookie expires the cookie under the same derived domain the
// login used. A mismatched domain would leave a stale, undeletable cookie
// in the browser.
func (s *AuthService) ClearSessionCookie(w http.ResponseWriter, origin string) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.CookieName,
		Value:    "",
		Path:     "/",
		Domain:   CookieDomain(origin),
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteNoneMode,
	})
}

// CookieDomain derives the cookie Domain attribute from the request Origin
// so a session issued on one subdomain is readable by its siblings.
// localhost (and an absent or unparsable origin) yields "" for a host-only
// cookie; any other host is scoped to its registrable parent domain
// (app.example.com -> example.com, app.example.pages.dev ->
// example.pages.dev since pages.dev is a public suffix). Logout must
// derive the identical value or the browser keeps a stale cookie.
func CookieDomain(origin string) string {
	if origin == "" {
		return ""
	}
	u, err := url.Parse(origin)
	if err != nil {
		return ""
	}
	hostname := u.Hostname()
	if hostname == "" || hostname == "localhost" {
		return ""
	}
	domain, err := publicsuffix.EffectiveTLDPlusOne(hostname)
	if err != nil {
		// Not on the public suffix list (bare hosts, IPs): fall back to
		// the last two labels.
		labels := strings.Split(hostname, ".")
		if len(labels) <= 2 {
			return hostname
		}
		return strings.Join(labels[len(labels)-2:], ".")
	}
	return domain
}

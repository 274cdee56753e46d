// Package auth performs OpenID Connect authentication for the API surface.
// API clients present a Bearer access token; browsers go through the
// authorization code flow and carry the ID token in a session cookie.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc"
	"github.com/labstack/echo/v4"
	"golang.org/x/oauth2"

	"lexmemo/backend/internal/config"
)

// ContextKeyUser is the echo context key carrying the authenticated user.
const ContextKeyUser = "user_email"

// Logger defines the logging interface compatible with the application logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// Auth contains configuration and helpers for performing OpenID Connect
// authentication against the configured issuer.
type Auth struct {
	oauth2Config *oauth2.Config
	verifier     *oidc.IDTokenVerifier
	apiVerifier  *oidc.IDTokenVerifier
	logger       Logger
	authBypass   bool
}

// New creates a new Auth object using values from the application
// configuration. It establishes a connection to the provider and prepares an
// ID token verifier. In DEV with the bypass flag set, no provider is
// contacted and all requests authenticate as a local development user.
func New(ctx context.Context, cfg *config.Config, logger Logger) (*Auth, error) {
	isDev := strings.ToUpper(cfg.Environment) == "DEV"
	shouldBypass := isDev && cfg.DevModeBypass

	var oauth2Config *oauth2.Config
	var verifier *oidc.IDTokenVerifier
	var apiVerifier *oidc.IDTokenVerifier

	if !shouldBypass {
		if cfg.Auth.Issuer == "" || cfg.Auth.ClientID == "" {
			return nil, errors.New("auth configuration is incomplete")
		}

		provider, err := oidc.NewProvider(ctx, cfg.Auth.Issuer)
		if err != nil {
			return nil, err
		}

		oauth2Config = &oauth2.Config{
			ClientID: cfg.Auth.ClientID,
			Endpoint: provider.Endpoint(),
			Scopes:   []string{oidc.ScopeOpenID, "email"},
		}

		verifier = provider.Verifier(&oidc.Config{ClientID: cfg.Auth.ClientID})

		// Separate verifier for Bearer access tokens, whose audience often
		// differs from the client id.
		apiVerifier = provider.Verifier(&oidc.Config{SkipClientIDCheck: true})
	}

	return &Auth{
		oauth2Config: oauth2Config,
		verifier:     verifier,
		apiVerifier:  apiVerifier,
		logger:       logger,
		authBypass:   shouldBypass,
	}, nil
}

// NewWithVerifiers creates an Auth around pre-built verifiers.
func NewWithVerifiers(verifier, apiVerifier *oidc.IDTokenVerifier, logger Logger) *Auth {
	return &Auth{verifier: verifier, apiVerifier: apiVerifier, logger: logger}
}

// RequireAuth is echo middleware that ensures the request carries a valid
// Bearer token or ID token cookie, and records the authenticated user on the
// context.
func (a *Auth) RequireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if a.authBypass {
			c.Set(ContextKeyUser, "dev@localhost")
			return next(c)
		}

		r := c.Request()
		var token *oidc.IDToken
		var err error

		if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
			rawToken := strings.TrimPrefix(authHeader, "Bearer ")
			token, err = a.apiVerifier.Verify(r.Context(), rawToken)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token: "+err.Error())
			}
		} else {
			cookie, cookieErr := r.Cookie("id_token")
			if cookieErr != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing credentials")
			}
			token, err = a.verifier.Verify(r.Context(), cookie.Value)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token: "+err.Error())
			}
		}

		var claims struct {
			Email string `json:"email"`
		}
		if err := token.Claims(&claims); err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "failed to parse token claims")
		}

		c.Set(ContextKeyUser, claims.Email)
		return next(c)
	}
}

// LoginHandler initiates the OAuth2 authorization code flow. A random state
// value is stored in a cookie to mitigate CSRF.
func (a *Auth) LoginHandler(c echo.Context) error {
	if a.authBypass {
		return c.Redirect(http.StatusSeeOther, "/")
	}

	state, err := generateState()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to generate state")
	}

	c.SetCookie(&http.Cookie{
		Name:     "oauthstate",
		Value:    state,
		HttpOnly: true,
		Path:     "/",
	})
	return c.Redirect(http.StatusTemporaryRedirect, a.oauth2Config.AuthCodeURL(state))
}

// CallbackHandler handles the redirect back from the provider: it verifies
// state, exchanges the code, validates the ID token, and sets the session
// cookie.
func (a *Auth) CallbackHandler(c echo.Context) error {
	if a.authBypass {
		return c.Redirect(http.StatusSeeOther, "/")
	}

	cookie, err := c.Cookie("oauthstate")
	if err != nil || c.QueryParam("state") != cookie.Value {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid state")
	}

	token, err := a.oauth2Config.Exchange(c.Request().Context(), c.QueryParam("code"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "token exchange failed")
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, "no id_token in token response")
	}

	if _, err := a.verifier.Verify(c.Request().Context(), rawIDToken); err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "failed to verify id token")
	}

	c.SetCookie(&http.Cookie{
		Name:     "id_token",
		Value:    rawIDToken,
		HttpOnly: true,
		Path:     "/",
	})
	return c.Redirect(http.StatusSeeOther, "/")
}

// LogoutHandler clears the session cookie.
func (a *Auth) LogoutHandler(c echo.Context) error {
	c.SetCookie(&http.Cookie{
		Name:   "id_token",
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})
	return c.Redirect(http.StatusSeeOther, "/")
}

func generateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

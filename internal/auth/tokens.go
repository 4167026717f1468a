// Package auth keeps the bearer credentials of the signed-in user.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/courtdesk/courtdesk/internal/store"
)

// Storage keys.
const (
	KeyAccess  = "access_token"
	KeyRefresh = "refresh_token"
)

// ErrNoCredential is returned when no one is signed in.
var ErrNoCredential = errors.New("no credential")

// Storage is the subset of local storage the token store needs.
type Storage interface {
	Get(scope store.Scope, key string) (string, error)
	Lookup(key string) (string, store.Scope, error)
	Set(scope store.Scope, key, value string) error
	Delete(keys ...string) error
}

// Claims are the fields read from an access token.
type Claims struct {
	UserID int64 `json:"user_id"`
	jwt.RegisteredClaims
}

// Tokens reads and writes the access and refresh tokens. Tokens saved with
// remember go to the local scope, others to the session scope; lookups try
// local first.
type Tokens struct {
	db  Storage
	log *zap.Logger
}

// New creates a token store over db.
func New(db Storage, logger *zap.Logger) *Tokens {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tokens{db: db, log: logger}
}

// Token returns the access token.
func (t *Tokens) Token(context.Context) (string, error) {
	return t.lookup(KeyAccess)
}

// RefreshToken returns the refresh token.
func (t *Tokens) RefreshToken() (string, error) {
	return t.lookup(KeyRefresh)
}

func (t *Tokens) lookup(key string) (string, error) {
	v, _, err := t.db.Lookup(key)
	if errors.Is(err, store.ErrNotFound) || (err == nil && v == "") {
		return "", ErrNoCredential
	}
	if err != nil {
		return "", err
	}
	return v, nil
}

// Save stores a fresh token pair, replacing any previous credential.
func (t *Tokens) Save(access, refresh string, remember bool) error {
	if err := t.db.Delete(KeyAccess, KeyRefresh); err != nil {
		return err
	}
	scope := store.Session
	if remember {
		scope = store.Local
	}
	if err := t.db.Set(scope, KeyAccess, access); err != nil {
		return err
	}
	if refresh != "" {
		if err := t.db.Set(scope, KeyRefresh, refresh); err != nil {
			return err
		}
	}
	t.log.Info("credentials saved", zap.String("scope", string(scope)))
	return nil
}

// UpdateAccess replaces the access token after a refresh, keeping its scope.
func (t *Tokens) UpdateAccess(access string) error {
	_, scope, err := t.db.Lookup(KeyRefresh)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNoCredential
	}
	if err != nil {
		return err
	}
	return t.db.Set(scope, KeyAccess, access)
}

// Clear removes the credential from every scope.
func (t *Tokens) Clear() error {
	if err := t.db.Delete(KeyAccess, KeyRefresh); err != nil {
		return fmt.Errorf("clear credentials: %w", err)
	}
	t.log.Info("credentials cleared")
	return nil
}

// Remembered reports whether the credential survives a daemon restart.
func (t *Tokens) Remembered() bool {
	_, scope, err := t.db.Lookup(KeyAccess)
	return err == nil && scope == store.Local
}

// Claims decodes the access token without verifying its signature. The
// server is the only party that verifies tokens; the client only needs the
// user id and expiry.
func (t *Tokens) Claims() (*Claims, error) {
	tok, err := t.lookup(KeyAccess)
	if err != nil {
		return nil, err
	}
	return ParseClaims(tok)
}

// ParseClaims decodes the claims of a JWT without verifying it.
func ParseClaims(token string) (*Claims, error) {
	var c Claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &c); err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	return &c, nil
}

// Expired reports whether the claims are past their expiry at now.
func (c *Claims) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && !now.Before(c.ExpiresAt.Time)
}

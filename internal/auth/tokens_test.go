package auth

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/courtdesk/courtdesk/internal/store"
)

func testTokens(t *testing.T) (*Tokens, *store.DB) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "local.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(db, nil), db
}

func signed(t *testing.T, userID int64, exp time.Time) string {
	t.Helper()
	claims := Claims{
		UserID:           userID,
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(exp)},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("server-secret"))
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func TestTokenWithoutCredential(t *testing.T) {
	tokens, _ := testTokens(t)
	if _, err := tokens.Token(context.Background()); !errors.Is(err, ErrNoCredential) {
		t.Errorf("Token() error = %v, want ErrNoCredential", err)
	}
}

func TestSaveRememberScopes(t *testing.T) {
	tests := []struct {
		remember bool
		scope    store.Scope
	}{
		{true, store.Local},
		{false, store.Session},
	}
	for _, tt := range tests {
		t.Run(string(tt.scope), func(t *testing.T) {
			tokens, db := testTokens(t)
			if err := tokens.Save("acc", "ref", tt.remember); err != nil {
				t.Fatal(err)
			}
			if v, err := db.Get(tt.scope, KeyAccess); err != nil || v != "acc" {
				t.Errorf("access in %s = %q, %v", tt.scope, v, err)
			}
			if tokens.Remembered() != tt.remember {
				t.Errorf("Remembered() = %v, want %v", tokens.Remembered(), tt.remember)
			}
			got, err := tokens.Token(context.Background())
			if err != nil || got != "acc" {
				t.Errorf("Token() = %q, %v", got, err)
			}
		})
	}
}

func TestSaveReplacesOtherScope(t *testing.T) {
	tokens, db := testTokens(t)
	_ = tokens.Save("old", "old-ref", true)
	_ = tokens.Save("new", "new-ref", false)

	if _, err := db.Get(store.Local, KeyAccess); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("remembered token survived a new login: %v", err)
	}
	if got, _ := tokens.Token(context.Background()); got != "new" {
		t.Errorf("Token() = %q, want new", got)
	}
}

func TestUpdateAccessKeepsScope(t *testing.T) {
	tokens, db := testTokens(t)
	_ = tokens.Save("acc", "ref", false)

	if err := tokens.UpdateAccess("acc2"); err != nil {
		t.Fatal(err)
	}
	if v, _ := db.Get(store.Session, KeyAccess); v != "acc2" {
		t.Errorf("session access = %q, want acc2", v)
	}
	if _, err := db.Get(store.Local, KeyAccess); !errors.Is(err, store.ErrNotFound) {
		t.Error("refreshed token leaked into local scope")
	}
}

func TestClear(t *testing.T) {
	tokens, _ := testTokens(t)
	_ = tokens.Save("acc", "ref", true)
	if err := tokens.Clear(); err != nil {
		t.Fatal(err)
	}
	if _, err := tokens.RefreshToken(); !errors.Is(err, ErrNoCredential) {
		t.Errorf("RefreshToken() after Clear error = %v", err)
	}
}

func TestClaims(t *testing.T) {
	tokens, _ := testTokens(t)
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	_ = tokens.Save(signed(t, 3, exp), "ref", true)

	c, err := tokens.Claims()
	if err != nil {
		t.Fatalf("Claims() error = %v", err)
	}
	if c.UserID != 3 {
		t.Errorf("UserID = %d, want 3", c.UserID)
	}
	if c.Expired(time.Now()) {
		t.Error("fresh token reported expired")
	}
	if !c.Expired(exp.Add(time.Second)) {
		t.Error("token not expired after exp")
	}
}

func TestParseClaimsRejectsGarbage(t *testing.T) {
	if _, err := ParseClaims("not-a-jwt"); err == nil {
		t.Error("ParseClaims(garbage) should fail")
	}
}

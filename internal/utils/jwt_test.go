package utils

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestAccessTokenRoundTrip(t *testing.T) {
	tok, err := NewAccessToken("secret", "u1", "STAFF", "sid1", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	claims, err := ParseAccessToken("secret", tok.Token)
	if err != nil {
		t.Fatal(err)
	}
	if claims.UserID != "u1" || claims.Role != "STAFF" || claims.SessionID != "sid1" {
		t.Fatalf("claims = %+v", claims)
	}
	if _, err := ParseAccessToken("other", tok.Token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("wrong secret err = %v", err)
	}
}

func TestExpiredAccessToken(t *testing.T) {
	tok, err := NewAccessToken("secret", "u1", "DRIVER", "sid1", -time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ParseAccessToken("secret", tok.Token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired token err = %v", err)
	}
}

func TestRefreshHashStable(t *testing.T) {
	r, err := NewRefreshToken(time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if len(r.Raw) != 96 {
		t.Fatalf("raw length = %d", len(r.Raw))
	}
	if HashRefreshRaw(r.Raw) != HashRefreshRaw(r.Raw) || HashRefreshRaw(r.Raw) == r.Raw {
		t.Fatal("hash not stable")
	}
}

func TestPassword(t *testing.T) {
	h, err := HashPassword("hunter22", 4)
	if err != nil {
		t.Fatal(err)
	}
	if !VerifyPassword(h, "hunter22") || VerifyPassword(h, "hunter23") {
		t.Fatal("bcrypt verify mismatch")
	}
	if VerifyPassword("", "") {
		t.Fatal("empty hash must never verify")
	}
	if _, err := HashPassword(strings.Repeat("x", MaxPasswordBytes+1), 4); !errors.Is(err, ErrPasswordTooLong) {
		t.Fatalf("long password: %v", err)
	}
}

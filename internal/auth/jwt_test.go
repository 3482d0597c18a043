package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dkeye/Voicecall/internal/domain"
)

func TestIssueAndAuthenticate(t *testing.T) {
	a := NewJWTAuthenticator("s3cret", time.Hour)
	tok, err := a.Issue(domain.User{ID: "42", Username: "alice"})
	if err != nil {
		t.Fatal(err)
	}
	u, err := a.Authenticate(tok)
	if err != nil {
		t.Fatal(err)
	}
	if u.ID != "42" || u.Username != "alice" {
		t.Fatalf("got %+v", u)
	}
}

func TestAuthenticateFailures(t *testing.T) {
	a := NewJWTAuthenticator("s3cret", time.Minute)
	good, _ := a.Issue(domain.User{ID: "42", Username: "alice"})

	other := NewJWTAuthenticator("other", time.Minute)
	forged, _ := other.Issue(domain.User{ID: "42", Username: "alice"})

	expired := NewJWTAuthenticator("s3cret", time.Minute)
	expired.now = func() time.Time { return time.Now().Add(-time.Hour) }
	stale, _ := expired.Issue(domain.User{ID: "42", Username: "alice"})

	noID, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{Username: "alice"}).SignedString([]byte("s3cret"))
	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: "42", Username: "alice"}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	cases := []struct {
		name  string
		token string
		want  error
	}{
		{"empty", "", ErrMissingToken},
		{"garbage", "not-a-jwt", ErrInvalidToken},
		{"wrong secret", forged, ErrInvalidToken},
		{"expired", stale, ErrInvalidToken},
		{"no user id", noID, ErrInvalidToken},
		{"alg none", none, ErrInvalidToken},
		{"tampered", good + "x", ErrInvalidToken},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := a.Authenticate(tc.token); !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestIdentity(t *testing.T) {
	tok, err := NewJWTAuthenticator("whatever", 0).Issue(domain.User{ID: "7", Username: "bob"})
	if err != nil {
		t.Fatal(err)
	}
	u, err := Identity(tok)
	if err != nil || u.ID != "7" || u.Username != "bob" {
		t.Fatalf("u=%+v err=%v", u, err)
	}
	if _, err := Identity(""); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("empty err = %v", err)
	}
	if _, err := Identity("not.a.jwt"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("garbage err = %v", err)
	}
}

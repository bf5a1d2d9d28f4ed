package internal

import (
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/segmentio/ksuid"

	"manualpilot/notify/protocol"
)

func sessionToken(t *testing.T, secret []byte, claims SessionClaims) string {
	t.Helper()

	if claims.ExpiresAt == nil {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(time.Hour))
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatal(err)
	}

	return token
}

func TestRecipientResolver(t *testing.T) {
	secret := []byte("test-secret")
	id := ksuid.New().String()

	cases := []struct {
		name   string
		target string
		header http.Header
		secret []byte
		want   string
		fails  bool
	}{
		{name: "query", target: "/ws?recipient_id=" + id, want: id},
		{name: "header", target: "/ws", header: http.Header{protocol.HeaderRecipient: {id}}, want: id},
		{name: "query wins over header", target: "/ws?recipient_id=a", header: http.Header{protocol.HeaderRecipient: {"b"}}, want: "a"},
		{name: "sentinel", target: "/ws", want: protocol.Unauthenticated},
		{
			name:   "session token",
			target: "/ws?recipient_id=ignored",
			header: http.Header{"Authorization": {"Bearer " + sessionToken(t, secret, SessionClaims{UserID: id})}},
			secret: secret,
			want:   id,
		},
		{
			name:   "session token subject",
			target: "/ws",
			header: http.Header{"Authorization": {"Bearer " + sessionToken(t, secret, SessionClaims{
				RegisteredClaims: jwt.RegisteredClaims{Subject: id},
			})}},
			secret: secret,
			want:   id,
		},
		{
			name:   "foreign token",
			target: "/ws",
			header: http.Header{"Authorization": {"Bearer " + sessionToken(t, []byte("other"), SessionClaims{UserID: id})}},
			secret: secret,
			fails:  true,
		},
		{
			name:   "expired token",
			target: "/ws",
			header: http.Header{"Authorization": {"Bearer " + sessionToken(t, secret, SessionClaims{
				UserID:           id,
				RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour))},
			})}},
			secret: secret,
			fails:  true,
		},
		{
			name:   "token ignored without secret",
			target: "/ws?recipient_id=" + id,
			header: http.Header{"Authorization": {"Bearer garbage"}},
			want:   id,
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodGet, "http://example.com"+c.target, nil)
			if err != nil {
				t.Fatal(err)
			}

			for key, values := range c.header {
				req.Header[key] = values
			}

			got, err := NewRecipientResolver(c.secret)(req)
			if c.fails {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}

				return
			}

			if err != nil {
				t.Fatal(err)
			}

			if got != c.want {
				t.Errorf("got %q, want %q", got, c.want)
			}
		})
	}
}

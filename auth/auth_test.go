package auth

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"io"
	"net/http"
	"testing"
)

func keys(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()

	publicKey, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}

	return publicKey, privateKey
}

func TestAuth(t *testing.T) {
	publicKey, privateKey := keys(t)

	signer := NewRequestSigner(privateKey, DefaultHeader)
	verifier := NewRequestVerifier(publicKey, DefaultHeader)

	body := []byte(`{"recipient":"user_42"}`)
	req, err := http.NewRequest(http.MethodPost, "https://example.com/notify", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}

	if err := signer(req, "job_worker_1"); err != nil {
		t.Fatal(err)
	}

	if subject := verifier(req); subject != "job_worker_1" {
		t.Errorf("got subject %q", subject)
	}

	b, err := io.ReadAll(req.Body)
	if err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(b, body) {
		t.Error("body not restored after verification")
	}
}

func TestAuthRejectsTamperedBody(t *testing.T) {
	publicKey, privateKey := keys(t)

	signer := NewRequestSigner(privateKey, DefaultHeader)
	verifier := NewRequestVerifier(publicKey, DefaultHeader)

	req, err := http.NewRequest(http.MethodPost, "https://example.com/notify", bytes.NewReader([]byte("a")))
	if err != nil {
		t.Fatal(err)
	}

	if err := signer(req, "worker"); err != nil {
		t.Fatal(err)
	}

	req.Body = io.NopCloser(bytes.NewReader([]byte("b")))

	if subject := verifier(req); subject != "" {
		t.Errorf("tampered body verified as %q", subject)
	}
}

func TestAuthRejectsOtherKeyAndPath(t *testing.T) {
	_, privateKey := keys(t)
	otherPublic, _ := keys(t)
	publicKey := privateKey.Public().(ed25519.PublicKey)

	signer := NewRequestSigner(privateKey, DefaultHeader)

	req, err := http.NewRequest(http.MethodDelete, "https://example.com/sessions/a", nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := signer(req, "worker"); err != nil {
		t.Fatal(err)
	}

	if subject := NewRequestVerifier(otherPublic, DefaultHeader)(req); subject != "" {
		t.Errorf("foreign key verified as %q", subject)
	}

	moved, err := http.NewRequest(http.MethodDelete, "https://example.com/sessions/b", nil)
	if err != nil {
		t.Fatal(err)
	}

	moved.Header = req.Header
	if subject := NewRequestVerifier(publicKey, DefaultHeader)(moved); subject != "" {
		t.Errorf("signature replayed on another path verified as %q", subject)
	}

	if subject := NewRequestVerifier(publicKey, DefaultHeader)(req); subject != "worker" {
		t.Errorf("got subject %q", subject)
	}
}

func TestAuthMissingHeader(t *testing.T) {
	publicKey, _ := keys(t)

	req, err := http.NewRequest(http.MethodGet, "https://example.com", nil)
	if err != nil {
		t.Fatal(err)
	}

	if subject := NewRequestVerifier(publicKey, DefaultHeader)(req); subject != "" {
		t.Errorf("unsigned request verified as %q", subject)
	}
}

type unreadable struct {
	t *testing.T
}

func (u unreadable) Read([]byte) (int, error) {
	u.t.Error("body read for a request that cannot verify")
	return 0, io.EOF
}

func TestAuthSkipsBodyForInvalidHeader(t *testing.T) {
	publicKey, _ := keys(t)
	verifier := NewRequestVerifier(publicKey, DefaultHeader)

	for _, value := range []string{"", "garbage", "a.b.c", "bm9ub25jZQ.c2ln"} {
		req, err := http.NewRequest(http.MethodPost, "https://example.com/notify", unreadable{t})
		if err != nil {
			t.Fatal(err)
		}

		req.Header.Set(DefaultHeader, value)
		if subject := verifier(req); subject != "" {
			t.Errorf("%q: got subject %q", value, subject)
		}
	}
}

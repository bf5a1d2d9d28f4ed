// Package auth signs requests between the job system and the gateway.
//
// The header value is "<msg>.<sig>": msg is the raw-url base64 of "<ksuid nonce>_<subject>"
// and sig is an ed25519 signature over msg, the request line and a digest of the body.
// Nonces older or newer than a minute are rejected.
package auth

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/segmentio/ksuid"
)

const DefaultHeader = "Notify-Gateway-Auth"

const skew = 1 * time.Minute

type (
	RequestSigner   = func(r *http.Request, subject string) error
	RequestVerifier = func(r *http.Request) string
)

func NewRequestSigner(privateKey ed25519.PrivateKey, header string) RequestSigner {
	return func(r *http.Request, subject string) error {
		nonce, err := ksuid.NewRandom()
		if err != nil {
			return err
		}

		digest, err := bodyDigest(r)
		if err != nil {
			return err
		}

		msg := base64.RawURLEncoding.EncodeToString([]byte(fmt.Sprintf("%v_%v", nonce.String(), subject)))
		sig := base64.RawURLEncoding.EncodeToString(ed25519.Sign(privateKey, signed(msg, r, digest)))

		r.Header.Set(header, fmt.Sprintf("%v.%v", msg, sig))

		return nil
	}
}

// NewRequestVerifier returns a verifier yielding the signed subject, or "" when the request
// is not signed by publicKey. Callers bound the body size; it is read in full to check the
// digest.
func NewRequestVerifier(publicKey ed25519.PublicKey, header string) RequestVerifier {
	return func(r *http.Request) string {
		parts := strings.Split(r.Header.Get(header), ".")
		if len(parts) != 2 {
			return ""
		}

		sig, err := base64.RawURLEncoding.DecodeString(parts[1])
		if err != nil || len(sig) != ed25519.SignatureSize {
			return ""
		}

		msg, err := base64.RawURLEncoding.DecodeString(parts[0])
		if err != nil {
			return ""
		}

		rawNonce, subject, ok := strings.Cut(string(msg), "_")
		if !ok || subject == "" {
			return ""
		}

		nonce := ksuid.KSUID{}
		if err := nonce.UnmarshalText([]byte(rawNonce)); err != nil {
			return ""
		}

		now := time.Now()
		nt := nonce.Time()
		if nt.Before(now.Add(-skew)) || nt.After(now.Add(skew)) {
			return ""
		}

		// the body is only read for headers that could still be valid
		digest, err := bodyDigest(r)
		if err != nil {
			return ""
		}

		if !ed25519.Verify(publicKey, signed(parts[0], r, digest), sig) {
			return ""
		}

		return subject
	}
}

func signed(msg string, r *http.Request, digest []byte) []byte {
	return []byte(fmt.Sprintf("%v\n%v %v\n%x", msg, r.Method, r.URL.EscapedPath(), digest))
}

// bodyDigest hashes the request body and puts an unread copy back.
func bodyDigest(r *http.Request) ([]byte, error) {
	h := sha256.New()
	if r.Body == nil || r.Body == http.NoBody {
		return h.Sum(nil), nil
	}

	b, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}

	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(b))
	r.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(b)), nil
	}

	h.Write(b)
	return h.Sum(nil), nil
}

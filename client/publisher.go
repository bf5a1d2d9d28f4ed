package client

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"manualpilot/notify/auth"
	"manualpilot/notify/protocol"
)

// Publisher lets a backend job worker hand completion notices to the gateway.
type Publisher struct {
	baseURL string
	subject string
	signer  auth.RequestSigner
	hc      *http.Client
}

// NewPublisher signs requests as subject with privateKey. The gateway must be configured
// with the matching public key.
func NewPublisher(baseURL, subject string, privateKey ed25519.PrivateKey) *Publisher {
	return &Publisher{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		subject: subject,
		signer:  auth.NewRequestSigner(privateKey, auth.DefaultHeader),
		hc:      &http.Client{Timeout: 30 * time.Second},
	}
}

// Publish relays msg. It reports whether a connected client acknowledged it; an
// unacknowledged data notice is buffered by the gateway.
func (p *Publisher) Publish(ctx context.Context, msg protocol.Message) (bool, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return false, err
	}

	resp, err := p.do(ctx, http.MethodPost, "/notify", b)
	if err != nil {
		return false, err
	}

	//goland:noinspection GoUnhandledErrorResult
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return false, fmt.Errorf("publish: unexpected status %v", resp.StatusCode)
	}

	out := struct {
		Delivered bool `json:"delivered"`
	}{}

	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, err
	}

	return out.Delivered, nil
}

// Retract removes the latest buffered notice for recipient.
func (p *Publisher) Retract(ctx context.Context, recipient string) error {
	return p.expectNoContent(ctx, fmt.Sprintf("/notify/%v/latest", url.PathEscape(recipient)))
}

// Drop disconnects every client of recipient.
func (p *Publisher) Drop(ctx context.Context, recipient string) error {
	return p.expectNoContent(ctx, fmt.Sprintf("/sessions/%v", url.PathEscape(recipient)))
}

func (p *Publisher) expectNoContent(ctx context.Context, path string) error {
	resp, err := p.do(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return err
	}

	//goland:noinspection GoUnhandledErrorResult
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("%v: unexpected status %v", path, resp.StatusCode)
	}

	return nil
}

func (p *Publisher) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var req *http.Request
	var err error

	if body != nil {
		req, err = http.NewRequestWithContext(ctx, method, p.baseURL+path, bytes.NewReader(body))
	} else {
		req, err = http.NewRequestWithContext(ctx, method, p.baseURL+path, nil)
	}

	if err != nil {
		return nil, err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if err := p.signer(req, p.subject); err != nil {
		return nil, err
	}

	return p.hc.Do(req)
}

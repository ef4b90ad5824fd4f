package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

type HTTPSMSGateway struct {
	Endpoint string
	APIKey   string
	Sender   string
	Client   *http.Client
}

func (g *HTTPSMSGateway) Send(ctx context.Context, phone, text string) error {
	payload := map[string]any{
		"from": g.Sender,
		"to":   phone,
		"text": text,
	}
	return post(ctx, g.Client, g.Endpoint+"/messages", "sms", payload, func(req *http.Request) {
		req.Header.Set("X-API-Key", g.APIKey)
	})
}

type HTTPEmailGateway struct {
	Endpoint string
	APIKey   string
	From     string
	Client   *http.Client
}

func (g *HTTPEmailGateway) Send(ctx context.Context, address, subject, body string) error {
	payload := map[string]any{
		"from":    g.From,
		"to":      []string{address},
		"subject": subject,
		"text":    body,
	}
	return post(ctx, g.Client, g.Endpoint+"/mail/send", "email", payload, func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+g.APIKey)
	})
}

func post(ctx context.Context, client *http.Client, url, name string, payload any, auth func(*http.Request)) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	auth(req)

	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%s gateway temporary error: %s", name, resp.Status)
	}
	if resp.StatusCode >= 400 {
		return backoff.Permanent(fmt.Errorf("%s gateway permanent error: %s", name, resp.Status))
	}
	return nil
}

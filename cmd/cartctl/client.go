package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"portal-cart/internal/session"
)

// client talks to a running cartd over its REST surface.
type client struct {
	baseURL string
	session string // Cart-Session header value; "" lets the server mint one
	wait    bool
	http    *http.Client

	// minted holds the session the server issued when none was sent.
	minted string
}

// apiError is an error answer from cartd.
type apiError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("HTTP %d", e.Status)
	}
	return fmt.Sprintf("%s: %s (HTTP %d)", e.Code, e.Message, e.Status)
}

func newClient(baseURL, sessionHeader string, wait bool, timeout time.Duration) *client {
	return &client{
		baseURL: strings.TrimRight(baseURL, "/"),
		session: sessionHeader,
		wait:    wait,
		http:    &http.Client{Timeout: timeout},
	}
}

// sessionHeader builds the Cart-Session value from the user or anonymous
// token flags. raw wins when set.
func sessionHeader(raw, user, anon, version string) (string, error) {
	if raw != "" {
		if _, err := session.Parse(raw); err != nil {
			return "", fmt.Errorf("invalid --session: %w", err)
		}
		return raw, nil
	}
	if user == "" && anon == "" {
		return "", nil
	}
	return session.Session{User: user, Token: anon, ClientVersion: version}.Format(), nil
}

// do sends one request and decodes a successful answer into out, which may
// be nil. Mutating requests carry ?wait=true when the client waits.
func (c *client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	reqURL := c.baseURL + path
	if c.wait && method != http.MethodGet {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		reqURL += sep + "wait=true"
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.session != "" {
		req.Header.Set(session.Header, c.session)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if minted := resp.Header.Get(session.Header); minted != "" && c.session == "" {
		c.minted = minted
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var env struct {
			Error apiError `json:"error"`
		}
		_ = json.Unmarshal(respBody, &env)
		env.Error.Status = resp.StatusCode
		return &env.Error
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}

func escapeTitle(title string) string {
	return url.PathEscape(title)
}

func escapeQuery(v string) string {
	return url.QueryEscape(v)
}

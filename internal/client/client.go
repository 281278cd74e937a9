// Package client is a Go SDK for talking to one vnodedb node over its
// client-facing HTTP surface. It hides the JSON wire format and the
// base64/context plumbing a caller would otherwise have to do by hand, the
// same "thin wrapper over net/http" shape as the teacher's own SDK.
//
// A Client talks to a single node. That node may not be the coordinator for
// every key it is asked about; Get/Put/Delete surface that as *MovedError /
// *AskError so a caller can retry against the node named there, exactly as the
// teacher's client surfaced ErrNotFound for a 404.
package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client is a connection to one vnodedb node.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a new Client. timeout protects every call from hanging
// forever against a wedged peer.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Sibling is one concurrently-live version of a key.
type Sibling struct {
	Node    uint64 `json:"node"`
	Version uint64 `json:"version"`
	Value   []byte `json:"-"`
}

// DCC is the client-visible rendering of a dotted causal container: every
// currently live sibling, plus the causal Context that must be echoed back
// on the next Put/Delete of this key so the server can discard whatever the
// caller has already observed (spec §4.1 Discard).
type DCC struct {
	Siblings []Sibling
	Context  map[string]uint64
}

type siblingWire struct {
	Node    uint64 `json:"node"`
	Version uint64 `json:"version"`
	Value   string `json:"value"`
}

type dccWire struct {
	Siblings []siblingWire     `json:"siblings"`
	Context  map[string]uint64 `json:"context"`
}

func (d dccWire) decode() (DCC, error) {
	out := DCC{Context: d.Context}
	for _, s := range d.Siblings {
		val, err := base64.StdEncoding.DecodeString(s.Value)
		if err != nil {
			return DCC{}, fmt.Errorf("decode sibling value: %w", err)
		}
		out.Siblings = append(out.Siblings, Sibling{Node: s.Node, Version: s.Version, Value: val})
	}
	return out, nil
}

// Get retrieves every currently-live sibling for key.
func (c *Client) Get(ctx context.Context, key string) (DCC, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/kv/%s", c.baseURL, key), nil)
	if err != nil {
		return DCC{}, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return DCC{}, fmt.Errorf("GET request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return DCC{}, err
	}

	var wire dccWire
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return DCC{}, err
	}
	return wire.decode()
}

// Put stores key=value, with context naming the causal history the caller
// has already observed (from a prior Get or Put of this same key). Pass a
// nil context for a brand-new key.
func (c *Client) Put(ctx context.Context, key string, value []byte, context map[string]uint64) (DCC, error) {
	body, _ := json.Marshal(struct {
		Value   string            `json:"value"`
		Context map[string]uint64 `json:"context,omitempty"`
	}{
		Value:   base64.StdEncoding.EncodeToString(value),
		Context: context,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPut,
		fmt.Sprintf("%s/kv/%s", c.baseURL, key), bytes.NewReader(body))
	if err != nil {
		return DCC{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return DCC{}, fmt.Errorf("PUT request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return DCC{}, err
	}

	var wire dccWire
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return DCC{}, err
	}
	return wire.decode()
}

// Delete removes key, tombstoning every sibling named by context.
func (c *Client) Delete(ctx context.Context, key string, context map[string]uint64) error {
	body, _ := json.Marshal(struct {
		Context map[string]uint64 `json:"context,omitempty"`
	}{Context: context})

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		fmt.Sprintf("%s/kv/%s", c.baseURL, key), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("DELETE request failed: %w", err)
	}
	defer resp.Body.Close()

	return checkStatus(resp)
}

// ─── errors ─────────────────────────────────────────────────────────────────

// MovedError reports that the contacted node is no longer a coordinator for
// this key; Addr names a node that should be.
type MovedError struct{ Addr string }

func (e *MovedError) Error() string { return fmt.Sprintf("moved to %s", e.Addr) }

// AskError is MovedError's provisional cousin: Addr is still bootstrapping
// the partition in and may not have every key yet.
type AskError struct{ Addr string }

func (e *AskError) Error() string { return fmt.Sprintf("ask %s", e.Addr) }

// APIError carries the HTTP status and message from a node for any failure
// that isn't a redirect.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	var body struct {
		Error string `json:"error"`
		Addr  string `json:"addr"`
	}
	raw, _ := io.ReadAll(resp.Body)
	_ = json.Unmarshal(raw, &body)

	switch {
	case resp.StatusCode == http.StatusMovedPermanently && body.Addr != "":
		return &MovedError{Addr: body.Addr}
	case resp.StatusCode == http.StatusServiceUnavailable && body.Error == "ask" && body.Addr != "":
		return &AskError{Addr: body.Addr}
	}

	msg := body.Error
	if msg == "" {
		msg = string(raw)
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}

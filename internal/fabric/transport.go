// Package fabric is the inter-node transport: every vnode operation that
// crosses a network boundary (remote get/set, sync handshakes) goes through
// here as a typed Msg, carried over HTTP with a stable binary body encoding.
//
// Sends are fire-and-forget from the caller's point of view: a failed send
// is treated exactly like a dropped message, because the protocols built on
// top (request timeouts, sync retransmission) already handle loss. Nothing
// in this package retries.
package fabric

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ugorji/go/codec"

	"vnodedb/internal/causal"
)

// MsgHandler dispatches an inbound Msg from a peer. Implemented by the
// vnode controller.
type MsgHandler func(from causal.NodeID, msg Msg)

// Transport sends typed messages to peers and delivers inbound ones to a
// registered handler.
type Transport interface {
	SendMsg(to causal.NodeID, msg Msg) error
	Handle(MsgHandler)
}

// AddressBook resolves a NodeID to a fabric listen address.
type AddressBook interface {
	FabricAddr(n causal.NodeID) (string, bool)
}

// HTTPTransport implements Transport over plain HTTP, one POST per message,
// with the message body binary-encoded via the same codec handle used for
// persisted vnode state.
type HTTPTransport struct {
	self    causal.NodeID
	book    AddressBook
	client  *http.Client
	server  *http.Server
	handler MsgHandler
	mu      sync.RWMutex
}

// NewHTTPTransport constructs a transport that listens on listenAddr for
// inbound messages and resolves peers through book.
func NewHTTPTransport(self causal.NodeID, listenAddr string, book AddressBook, dialTimeout, keepAlive time.Duration) *HTTPTransport {
	t := &HTTPTransport{
		self: self,
		book: book,
		client: &http.Client{
			Timeout: dialTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   dialTimeout,
					KeepAlive: keepAlive,
				}).DialContext,
				MaxIdleConnsPerHost: 16,
			},
		},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/fabric", t.serveHTTP)
	t.server = &http.Server{Addr: listenAddr, Handler: mux}
	return t
}

// ListenAndServe blocks serving inbound fabric connections.
func (t *HTTPTransport) ListenAndServe() error {
	return t.server.ListenAndServe()
}

// Shutdown stops accepting new connections, draining in-flight ones.
func (t *HTTPTransport) Shutdown(ctx context.Context) error {
	return t.server.Shutdown(ctx)
}

func (t *HTTPTransport) Handle(h MsgHandler) {
	t.mu.Lock()
	t.handler = h
	t.mu.Unlock()
}

// SendMsg encodes msg and POSTs it to the peer's fabric address. Any
// failure — resolution, dial, non-2xx — is returned to the caller, who is
// expected to treat it as a dropped message rather than retry here.
func (t *HTTPTransport) SendMsg(to causal.NodeID, msg Msg) error {
	addr, ok := t.book.FabricAddr(to)
	if !ok {
		return fmt.Errorf("fabric: no known address for node %d", to)
	}

	env, err := encodeEnvelope(t.self, msg)
	if err != nil {
		return fmt.Errorf("fabric: encode: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), t.client.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+addr+"/fabric", bytes.NewReader(env))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("fabric: send to %d: %w", to, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("fabric: peer %d returned HTTP %d", to, resp.StatusCode)
	}
	return nil
}

func (t *HTTPTransport) serveHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	from, msg, err := decodeEnvelope(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	t.mu.RLock()
	handler := t.handler
	t.mu.RUnlock()
	if handler != nil {
		handler(from, msg)
	}
	w.WriteHeader(http.StatusNoContent)
}

// ─── wire envelope ──────────────────────────────────────────────────────────

type envelope struct {
	From causal.NodeID
	Type string
	Body []byte
}

func encodeEnvelope(from causal.NodeID, msg Msg) ([]byte, error) {
	var body []byte
	enc := codec.NewEncoderBytes(&body, causal.WireHandle())
	if err := enc.Encode(msg); err != nil {
		return nil, err
	}
	env := envelope{From: from, Type: msg.msgType(), Body: body}
	var out []byte
	oenc := codec.NewEncoderBytes(&out, causal.WireHandle())
	if err := oenc.Encode(env); err != nil {
		return nil, err
	}
	return out, nil
}

func decodeEnvelope(data []byte) (causal.NodeID, Msg, error) {
	var env envelope
	dec := codec.NewDecoderBytes(data, causal.WireHandle())
	if err := dec.Decode(&env); err != nil {
		return 0, nil, err
	}

	decodeBody := func(dst Msg) error {
		d := codec.NewDecoderBytes(env.Body, causal.WireHandle())
		return d.Decode(dst)
	}

	switch env.Type {
	case "RemoteGet":
		var m RemoteGet
		if err := decodeBody(&m); err != nil {
			return 0, nil, err
		}
		return env.From, m, nil
	case "RemoteGetAck":
		var m RemoteGetAck
		if err := decodeBody(&m); err != nil {
			return 0, nil, err
		}
		return env.From, m, nil
	case "RemoteSet":
		var m RemoteSet
		if err := decodeBody(&m); err != nil {
			return 0, nil, err
		}
		return env.From, m, nil
	case "RemoteSetAck":
		var m RemoteSetAck
		if err := decodeBody(&m); err != nil {
			return 0, nil, err
		}
		return env.From, m, nil
	case "SyncStart":
		var m SyncStart
		if err := decodeBody(&m); err != nil {
			return 0, nil, err
		}
		return env.From, m, nil
	case "SyncSend":
		var m SyncSend
		if err := decodeBody(&m); err != nil {
			return 0, nil, err
		}
		return env.From, m, nil
	case "SyncAck":
		var m SyncAck
		if err := decodeBody(&m); err != nil {
			return 0, nil, err
		}
		return env.From, m, nil
	case "SyncFin":
		var m SyncFin
		if err := decodeBody(&m); err != nil {
			return 0, nil, err
		}
		return env.From, m, nil
	default:
		return 0, nil, fmt.Errorf("fabric: unknown message type %q", env.Type)
	}
}

var _ Transport = (*HTTPTransport)(nil)

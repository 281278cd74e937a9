// Package api wires up the Gin HTTP router that realizes THE CORE's
// client-facing "respond_*" contract as JSON over HTTP. The wire format
// here is deliberately outside THE CORE's own contract (spec §6 treats the
// client protocol as an external collaborator) — it exists so the
// repository runs end to end, adapted from the teacher's gin-based
// internal/api onto the new vnode-backed server.Node.
package api

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"vnodedb/internal/causal"
	"vnodedb/internal/server"
	"vnodedb/internal/vnoderr"
)

// Handler holds the dependencies injected from cmd/server.
type Handler struct {
	node *server.Node
}

// NewHandler creates a Handler bound to one local Node.
func NewHandler(n *server.Node) *Handler {
	return &Handler{node: n}
}

// Register mounts every route on r.
func (h *Handler) Register(r *gin.Engine) {
	kv := r.Group("/kv")
	kv.GET("/:key", h.Get)
	kv.PUT("/:key", h.Put)
	kv.DELETE("/:key", h.Delete)
}

// ─── wire types ─────────────────────────────────────────────────────────────

type siblingJSON struct {
	Node    uint64 `json:"node"`
	Version uint64 `json:"version"`
	Value   string `json:"value"` // base64
}

// dccJSON is the client-visible rendering of a causal.DottedCausalContainer:
// every currently-live sibling plus the causal context the client must echo
// back on its next write to this key (discard(vv) in §4.1).
type dccJSON struct {
	Siblings []siblingJSON     `json:"siblings"`
	Context  map[string]uint64 `json:"context"`
}

func encodeDCC(dcc causal.DottedCausalContainer) dccJSON {
	out := dccJSON{Context: make(map[string]uint64, len(dcc.Context))}
	for dot, val := range dcc.Values {
		out.Siblings = append(out.Siblings, siblingJSON{
			Node:    uint64(dot.Node),
			Version: uint64(dot.Version),
			Value:   base64.StdEncoding.EncodeToString(val),
		})
	}
	for n, v := range dcc.Context {
		out.Context[strconv.FormatUint(uint64(n), 10)] = uint64(v)
	}
	return out
}

func decodeContext(raw map[string]uint64) (causal.VersionVector, error) {
	vv := causal.NewVersionVector()
	for k, v := range raw {
		n, err := strconv.ParseUint(k, 10, 64)
		if err != nil {
			return nil, err
		}
		vv[causal.NodeID(n)] = causal.Version(v)
	}
	return vv, nil
}

// ─── handlers ───────────────────────────────────────────────────────────────

// Get handles GET /kv/:key: a quorum read returning the full sibling set.
func (h *Handler) Get(c *gin.Context) {
	key := []byte(c.Param("key"))

	dcc, err := h.node.Get(c.Request.Context(), key)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, encodeDCC(dcc))
}

// Put handles PUT /kv/:key. Body: {"value": "<base64>", "context": {"<node>": <version>, ...}}
func (h *Handler) Put(c *gin.Context) {
	key := []byte(c.Param("key"))

	var body struct {
		Value   string            `json:"value" binding:"required"`
		Context map[string]uint64 `json:"context"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	value, err := base64.StdEncoding.DecodeString(body.Value)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "value must be base64: " + err.Error()})
		return
	}
	vv, err := decodeContext(body.Context)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad context: " + err.Error()})
		return
	}

	dcc, err := h.node.Put(c.Request.Context(), key, value, vv)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, encodeDCC(dcc))
}

// Delete handles DELETE /kv/:key. Body: {"context": {"<node>": <version>, ...}}
func (h *Handler) Delete(c *gin.Context) {
	key := []byte(c.Param("key"))

	var body struct {
		Context map[string]uint64 `json:"context"`
	}
	_ = c.ShouldBindJSON(&body)
	vv, err := decodeContext(body.Context)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad context: " + err.Error()})
		return
	}

	if err := h.node.Delete(c.Request.Context(), key, vv); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// writeError classifies an error from server.Node into the appropriate HTTP
// status, including the two redirect cases a vnode that can't coordinate
// responds with.
func writeError(c *gin.Context, err error) {
	var moved *server.MovedError
	var ask *server.AskError
	switch {
	case errors.As(err, &moved):
		c.JSON(http.StatusMovedPermanently, gin.H{"error": "moved", "addr": moved.Addr})
	case errors.As(err, &ask):
		c.Header("Retry-After", "1")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ask", "addr": ask.Addr})
	case errors.Is(err, vnoderr.ErrTimeout):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": err.Error()})
	case errors.Is(err, vnoderr.ErrUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errors.Is(err, vnoderr.ErrTooManyVersions):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

package mcpclient

import (
	"context"
	"encoding/json"
)

// Transport is the wire-level MCP connection. A Client holds exactly one
// persistent Transport plus, for long-running tool calls, a dedicated
// ephemeral Transport opened for the duration of that single call.
type Transport interface {
	// Connect establishes the connection.
	Connect(ctx context.Context) error

	// Close closes the connection.
	Close() error

	// Call sends a request and waits for a response, or for ctx to be
	// cancelled — in which case a notifications/cancelled is sent for the
	// request id before returning ctx.Err().
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)

	// Notify sends a notification (no response expected).
	Notify(ctx context.Context, method string, params any) error

	// Events returns the channel of server notifications (e.g. progress).
	Events() <-chan *JSONRPCNotification

	// Requests returns the channel of server-initiated requests
	// (elicitation/create, roots/list).
	Requests() <-chan *JSONRPCRequest

	// Respond answers a server-initiated request.
	Respond(ctx context.Context, id any, result any, rpcErr *JSONRPCError) error

	// Connected reports whether the transport believes it is connected.
	Connected() bool

	// LastCallID returns the request id most recently assigned by Call.
	LastCallID() any
}

// NewTransport dials a fresh TCP transport to cfg.Addr.
func NewTransport(cfg *ServerConfig) Transport {
	return NewTCPTransport(cfg)
}

package frost

import (
	"context"
	"net"
)

// Gateway is a running chat gateway.
//
// A gateway accepts length-prefixed JSON connections on a TCP address and, when
// configured, WebSocket connections on an HTTP address. Every inbound envelope is
// routed by its headers.path to exactly one handler.
//
// Example usage:
//
//	gw, err := gateway.New(cfg, logger)
//	if err != nil {
//	    return err
//	}
//	if err := gw.Start(ctx); err != nil {
//	    return err
//	}
//	defer gw.Stop(context.Background())
type Gateway interface {
	// Start binds the configured listeners and begins accepting connections.
	//
	// Returns an error if the gateway is already running or a listener cannot be bound.
	Start(ctx context.Context) error

	// Stop stops accepting, lets every connection finish the envelope it is processing
	// and closes all sockets. Connections still open when ctx expires are force-closed.
	Stop(ctx context.Context) error

	// Addr returns the bound TCP address, or nil before Start.
	Addr() net.Addr

	// HTTPAddr returns the bound HTTP address, or nil when the HTTP listener is disabled.
	HTTPAddr() net.Addr
}

// Conn represents a connected client, regardless of transport.
//
// Each connection has a unique identifier and a single writer. The connection's
// context is cancelled when it closes.
type Conn interface {
	// ID returns a unique identifier generated when the connection was accepted.
	ID() string

	// RemoteAddr returns the peer address, typically "IP:port".
	RemoteAddr() string

	// Transport names the listener that accepted the connection ("tcp" or "ws").
	Transport() string

	// Context returns the connection's lifecycle context.
	Context() context.Context

	// Send queues an already encoded frame for delivery.
	//
	// Send never blocks on a slow peer: if the outbound buffer is full the
	// connection is closed and an error is returned.
	Send(ctx context.Context, frame []byte) error

	// Close closes the connection. Closing twice is a no-op.
	Close() error

	// IsAlive reports whether the connection is still open.
	IsAlive() bool
}

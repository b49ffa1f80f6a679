package peerauth

import "context"

// Transport is the abstract duplex, framed, reliable message carrier this
// package consumes. Ordering and delivery guarantees (no retry, no
// reordering) are the transport's responsibility.
type Transport interface {
	// Send hands msg to the transport for delivery to whatever peer this
	// Transport instance is bound to.
	Send(ctx context.Context, msg *AuthMessage) error

	// OnData registers handler to be invoked once per inbound AuthMessage.
	// Only one handler is active at a time; a later call replaces the
	// earlier one.
	OnData(handler func(*AuthMessage))
}

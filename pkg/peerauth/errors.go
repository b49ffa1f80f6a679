package peerauth

import "errors"

// Errors surfaced by the core. Inbound processors wrap these with message
// context and the dispatcher logs them; outbound APIs return them to the
// caller.
var (
	// ErrStructural is returned when a required field for the detected
	// MessageType is missing, null, or an empty string.
	ErrStructural = errors.New("peerauth: missing or empty required field")

	// ErrVersionMismatch is returned (and only ever logged, never
	// propagated) when a message's Version differs from ProtocolVersion.
	ErrVersionMismatch = errors.New("peerauth: protocol version mismatch")

	// ErrUnknownMessageType is returned (and only ever logged) for a
	// MessageType the dispatcher does not recognize.
	ErrUnknownMessageType = errors.New("peerauth: unknown message type")

	// ErrNonceRejected is returned when VerifyNonce returns false for a
	// received YourNonce.
	ErrNonceRejected = errors.New("peerauth: nonce rejected")

	// ErrSessionMissing is returned when no session is found for a given
	// nonce or identity key.
	ErrSessionMissing = errors.New("peerauth: session missing")

	// ErrSessionIncomplete is returned when a session exists but lacks a
	// field required for the operation (sessionNonce, peerIdentityKey).
	ErrSessionIncomplete = errors.New("peerauth: session incomplete")

	// ErrSignatureInvalid is returned when the wallet reports a signature
	// as invalid.
	ErrSignatureInvalid = errors.New("peerauth: signature invalid")

	// ErrCertificateValidation is returned when ValidateCertificates finds
	// a certificate that does not satisfy the governing request.
	ErrCertificateValidation = errors.New("peerauth: certificate validation failed")

	// ErrTransportFailure wraps an error returned by Transport.Send.
	ErrTransportFailure = errors.New("peerauth: transport failure")

	// ErrHandshakeTimeout is returned when no initialResponse arrives
	// within maxWaitTime.
	ErrHandshakeTimeout = errors.New("peerauth: initial response timed out")

	// ErrHandshakeFailed is returned when, after an attempted handshake,
	// no authenticated session exists for the target.
	ErrHandshakeFailed = errors.New("peerauth: handshake failed")
)

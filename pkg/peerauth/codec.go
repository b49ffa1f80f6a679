package peerauth

import "fmt"

// ValidateMessage checks an inbound AuthMessage's structural invariants for
// its declared MessageType, per the required-field table:
//
//	initialRequest       identityKey, initialNonce
//	initialResponse      identityKey, initialNonce, yourNonce, signature
//	certificateRequest   identityKey, nonce, yourNonce, requestedCertificates, signature
//	certificateResponse  identityKey, nonce, yourNonce, certificates, signature
//	general              identityKey, nonce, yourNonce, payload, signature
//
// requestedCertificates on initialRequest is not checked: it may be empty
// or absent, and a nil pointer is treated as an implicit empty set.
//
// A version mismatch or unknown MessageType is reported via a sentinel
// error distinct from ErrStructural so callers can tell "drop silently"
// apart from "drop and log".
func ValidateMessage(m *AuthMessage) error {
	if m == nil {
		return fmt.Errorf("peerauth: nil message: %w", ErrStructural)
	}
	if m.Version != ProtocolVersion {
		return fmt.Errorf("peerauth: version %q: %w", m.Version, ErrVersionMismatch)
	}

	req := func(fields ...string) []string { return fields }
	missing := func(name, val string) error {
		return fmt.Errorf("peerauth: %s missing field %q: %w", m.MessageType, name, ErrStructural)
	}

	has := func(name string) string {
		switch name {
		case "identityKey":
			return m.IdentityKey
		case "initialNonce":
			return m.InitialNonce
		case "yourNonce":
			return m.YourNonce
		case "nonce":
			return m.Nonce
		}
		return ""
	}

	var required []string
	switch m.MessageType {
	case MessageTypeInitialRequest:
		required = req("identityKey", "initialNonce")
	case MessageTypeInitialResponse:
		required = req("identityKey", "initialNonce", "yourNonce")
	case MessageTypeCertificateRequest:
		required = req("identityKey", "nonce", "yourNonce")
	case MessageTypeCertificateResponse:
		required = req("identityKey", "nonce", "yourNonce")
	case MessageTypeGeneral:
		required = req("identityKey", "nonce", "yourNonce")
	default:
		return fmt.Errorf("peerauth: message type %q: %w", m.MessageType, ErrUnknownMessageType)
	}

	for _, name := range required {
		if has(name) == "" {
			return missing(name, has(name))
		}
	}

	switch m.MessageType {
	case MessageTypeInitialResponse, MessageTypeCertificateRequest,
		MessageTypeCertificateResponse, MessageTypeGeneral:
		if len(m.Signature) == 0 {
			return fmt.Errorf("peerauth: %s missing field %q: %w", m.MessageType, "signature", ErrStructural)
		}
	}

	switch m.MessageType {
	case MessageTypeCertificateRequest:
		if m.RequestedCertificates == nil {
			return fmt.Errorf("peerauth: %s missing field %q: %w", m.MessageType, "requestedCertificates", ErrStructural)
		}
	case MessageTypeCertificateResponse:
		if len(m.Certificates) == 0 {
			return fmt.Errorf("peerauth: %s missing field %q: %w", m.MessageType, "certificates", ErrStructural)
		}
	case MessageTypeGeneral:
		if len(m.Payload) == 0 {
			return fmt.Errorf("peerauth: %s missing field %q: %w", m.MessageType, "payload", ErrStructural)
		}
	}

	return nil
}

package peerauth

// ProtocolVersion is the only protocol version this package speaks.
// Messages carrying any other version are dropped; see ValidateMessage.
const ProtocolVersion = "0.1"

// MessageType identifies the kind of an AuthMessage. The dispatcher in Peer
// selects a processor by this tag rather than inferring kind from which
// optional fields happen to be populated.
type MessageType string

const (
	MessageTypeInitialRequest      MessageType = "initialRequest"
	MessageTypeInitialResponse     MessageType = "initialResponse"
	MessageTypeCertificateRequest  MessageType = "certificateRequest"
	MessageTypeCertificateResponse MessageType = "certificateResponse"
	MessageTypeGeneral             MessageType = "general"
)

// RequestedCertificateSet describes what certificates a party is asking its
// counterparty to disclose.
type RequestedCertificateSet struct {
	// Certifiers is the ordered list of certifier identity keys acceptable
	// to the requester.
	Certifiers []string `json:"certifiers"`

	// Types maps a certificate-type identifier to the ordered list of field
	// names required from a certificate of that type.
	Types map[string][]string `json:"types"`
}

// Empty reports whether the set names no certifiers and no types.
func (r *RequestedCertificateSet) Empty() bool {
	return r == nil || (len(r.Certifiers) == 0 && len(r.Types) == 0)
}

// VerifiableCertificate is an opaque, selectively-disclosable credential
// issued by a certifier. The core never inspects its content; it only
// routes it through GetVerifiableCertificates and ValidateCertificates.
type VerifiableCertificate struct {
	// Certifier is the identity key of the certificate's issuer.
	Certifier string `json:"certifier"`

	// Type identifies the certificate type (e.g. "age-verification").
	Type string `json:"type"`

	// Fields holds the disclosed field values, keyed by field name.
	Fields map[string]string `json:"fields"`

	// Serialized is the certificate's opaque wire form, carried verbatim
	// for signature verification and storage.
	Serialized []byte `json:"serialized"`
}

// AuthMessage is the on-wire record exchanged between peers. Which fields
// are populated depends on MessageType; see ValidateMessage for the
// required-field table.
type AuthMessage struct {
	Version     string      `json:"version"`
	MessageType MessageType `json:"messageType"`

	// IdentityKey is the sender's long-lived identity public key, hex
	// encoded.
	IdentityKey string `json:"identityKey,omitempty"`

	// InitialNonce is the sender's newly minted session nonce, present on
	// initialRequest, initialResponse, and certificateResponse.
	InitialNonce string `json:"initialNonce,omitempty"`

	// YourNonce is the nonce previously received from the counterparty,
	// used to look up the session it names.
	YourNonce string `json:"yourNonce,omitempty"`

	// Nonce is a fresh per-message nonce (base64, 32 random bytes) on
	// general, certificateRequest, and certificateResponse messages.
	Nonce string `json:"nonce,omitempty"`

	// RequestedCertificates names the certificates the sender wants
	// disclosed by the recipient.
	RequestedCertificates *RequestedCertificateSet `json:"requestedCertificates,omitempty"`

	// Certificates carries the disclosed certificates themselves.
	Certificates []*VerifiableCertificate `json:"certificates,omitempty"`

	// Payload is the application payload, only set on general messages.
	Payload []byte `json:"payload,omitempty"`

	// Signature is the signature over the kind-specific message digest
	// described in ValidateMessage's callers (see Peer's processors).
	Signature []byte `json:"signature,omitempty"`
}

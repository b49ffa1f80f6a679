package peerauth

import "context"

// ProtocolID is the fixed (securityLevel, protocol string) pair the wallet
// binds every auth-message signature to. There is no algorithm negotiation;
// this value never changes.
var ProtocolID = [2]any{2, "auth message signature"}

// SignatureArgs bundles the parameters passed to Wallet.CreateSignature and
// Wallet.VerifySignature.
type SignatureArgs struct {
	Data         []byte
	ProtocolID   [2]any
	KeyID        string
	Counterparty string
}

// Wallet is the cryptographic identity collaborator this package consumes.
// It is out of scope to implement here: key material, signing, and nonce
// primitives live with the wallet. See pkg/peerauth/walletauth for a
// reference implementation used by this package's own tests.
type Wallet interface {
	// CreateSignature signs args.Data, binding the signature to args.KeyID
	// and args.Counterparty under args.ProtocolID.
	CreateSignature(ctx context.Context, args SignatureArgs) ([]byte, error)

	// VerifySignature reports whether signature is a valid signature over
	// args.Data under the same binding.
	VerifySignature(ctx context.Context, args SignatureArgs, signature []byte) (bool, error)

	// GetPublicKey returns this wallet's own long-lived identity public key,
	// hex encoded.
	GetPublicKey(ctx context.Context) (string, error)

	// CreateNonce produces a fresh nonce cryptographically bound to this
	// wallet's identity, base64 encoded.
	CreateNonce(ctx context.Context) (string, error)

	// VerifyNonce reports whether nonce was produced by this wallet's own
	// CreateNonce.
	VerifyNonce(ctx context.Context, nonce string) (bool, error)
}

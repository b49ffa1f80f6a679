// Package walletauth provides a concrete, testable implementation of the
// peerauth.Wallet interface, built the same way pkg/crypto already builds
// P-256 identities and derived keys. Real deployments supply their own
// wallet; this one exists so pkg/peerauth has at least one Wallet it can
// exercise end to end in its own tests and examples.
package walletauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/backkem/peerauth/pkg/crypto"
	"github.com/backkem/peerauth/pkg/peerauth"
)

// nonceBindingInfo is the HKDF info string distinguishing nonce-binding
// keys derived from the same identity scalar as any other derived key.
var nonceBindingInfo = []byte("peerauth nonce binding")

// Wallet is a self-contained P-256 identity plus a HKDF-derived MAC key
// used to bind and verify nonces, grounded on pkg/crypto's P256Sign,
// P256Verify and HKDFSHA256 helpers.
type Wallet struct {
	keyPair  *crypto.P256KeyPair
	nonceKey []byte

	mu     sync.Mutex
	issued map[string]struct{}
}

// New generates a fresh identity key pair and returns a ready Wallet.
func New() (*Wallet, error) {
	kp, err := crypto.P256GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("walletauth: generating identity key pair: %w", err)
	}
	nonceKey, err := crypto.HKDFSHA256(kp.P256PrivateKey(), nil, nonceBindingInfo, 32)
	if err != nil {
		return nil, fmt.Errorf("walletauth: deriving nonce-binding key: %w", err)
	}
	return &Wallet{
		keyPair:  kp,
		nonceKey: nonceKey,
		issued:   make(map[string]struct{}),
	}, nil
}

// GetPublicKey returns the wallet's identity public key, hex encoded in
// compressed point form, the form carried on the wire as AuthMessage.IdentityKey.
func (w *Wallet) GetPublicKey(ctx context.Context) (string, error) {
	return hex.EncodeToString(w.keyPair.P256PublicKeyCompressed()), nil
}

// CreateNonce mints a fresh nonce: 24 random bytes followed by an 8-byte
// HMAC tag over those bytes under the wallet's nonce-binding key, base64
// encoded as a whole. VerifyNonce recomputes and compares the tag, and
// additionally requires the nonce to have actually been issued by this
// wallet instance.
func (w *Wallet) CreateNonce(ctx context.Context) (string, error) {
	body := make([]byte, 24)
	if _, err := rand.Read(body); err != nil {
		return "", fmt.Errorf("walletauth: generating nonce body: %w", err)
	}
	tag := crypto.HMACSHA256Slice(w.nonceKey, body)
	nonce := append(append([]byte{}, body...), tag[:8]...)
	encoded := base64.StdEncoding.EncodeToString(nonce)

	w.mu.Lock()
	w.issued[encoded] = struct{}{}
	w.mu.Unlock()

	return encoded, nil
}

// VerifyNonce reports whether nonce carries a valid tag under this
// wallet's nonce-binding key, meaning this wallet produced it via
// CreateNonce.
func (w *Wallet) VerifyNonce(ctx context.Context, nonce string) (bool, error) {
	raw, err := base64.StdEncoding.DecodeString(nonce)
	if err != nil {
		return false, nil
	}
	if len(raw) != 32 {
		return false, nil
	}
	body, tag := raw[:24], raw[24:]
	expected := crypto.HMACSHA256Slice(w.nonceKey, body)
	if !crypto.HMACEqual(tag, expected[:8]) {
		return false, nil
	}

	w.mu.Lock()
	_, issued := w.issued[nonce]
	w.mu.Unlock()
	return issued, nil
}

// CreateSignature signs a binding digest of args.Data, args.KeyID, this
// wallet's own identity key (the signer) and args.Counterparty (the
// recipient) with this wallet's P-256 identity key.
func (w *Wallet) CreateSignature(ctx context.Context, args peerauth.SignatureArgs) ([]byte, error) {
	digest := bindingDigest(args, hex.EncodeToString(w.keyPair.P256PublicKeyCompressed()), args.Counterparty)
	sig, err := crypto.P256Sign(w.keyPair, digest)
	if err != nil {
		return nil, fmt.Errorf("walletauth: signing: %w", err)
	}
	return sig, nil
}

// VerifySignature verifies a signature produced by CreateSignature. The
// signer's public key is args.Counterparty, the hex-encoded compressed
// identity key of whichever wallet is expected to have produced the
// signature. The digest is rebuilt with args.Counterparty as the signer
// and this wallet's own identity key as the recipient, matching what
// CreateSignature bound on the signing side.
func (w *Wallet) VerifySignature(ctx context.Context, args peerauth.SignatureArgs, signature []byte) (bool, error) {
	compressed, err := hex.DecodeString(args.Counterparty)
	if err != nil {
		return false, fmt.Errorf("walletauth: decoding counterparty key: %w", err)
	}
	uncompressed, err := crypto.P256PublicKeyFromCompressed(compressed)
	if err != nil {
		return false, fmt.Errorf("walletauth: expanding counterparty key: %w", err)
	}
	digest := bindingDigest(args, args.Counterparty, hex.EncodeToString(w.keyPair.P256PublicKeyCompressed()))
	return crypto.P256Verify(uncompressed, digest, signature)
}

func bindingDigest(args peerauth.SignatureArgs, signer, recipient string) []byte {
	material := fmt.Sprintf("%v|%s|%s|%s", args.ProtocolID, args.KeyID, signer, recipient)
	sum := crypto.HMACSHA256Slice([]byte(material), args.Data)
	return sum
}

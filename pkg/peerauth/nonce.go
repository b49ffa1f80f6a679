package peerauth

import "context"

// NonceService binds nonce creation and verification to a wallet's
// identity, so a responder can detect replayed or forged YourNonce values:
// it only accepts nonces it could itself have produced.
type NonceService struct {
	wallet Wallet
}

// NewNonceService returns a NonceService backed by wallet.
func NewNonceService(wallet Wallet) *NonceService {
	return &NonceService{wallet: wallet}
}

// CreateNonce mints a fresh nonce bound to the service's wallet.
func (n *NonceService) CreateNonce(ctx context.Context) (string, error) {
	return n.wallet.CreateNonce(ctx)
}

// VerifyNonce reports whether nonce was minted by the service's wallet.
func (n *NonceService) VerifyNonce(ctx context.Context, nonce string) (bool, error) {
	return n.wallet.VerifyNonce(ctx, nonce)
}

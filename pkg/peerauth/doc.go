// Package peerauth implements a peer-to-peer mutual authentication protocol.
//
// Two parties exchange signed AuthMessages over an abstract Transport to
// prove possession of long-lived identity keys, establish an authenticated
// session identified by exchanged nonces, and subsequently exchange signed
// application payloads and verifiable certificate sets under that session.
//
// The protocol version is fixed; there is no algorithm negotiation, and
// payloads are authenticated but not encrypted. See Peer for the state
// machine and SessionManager for session indexing.
//
// # Establishing a session
//
// A Peer is built from a Wallet (identity and signing), a Transport
// (message delivery) and, optionally, a CertificateStore:
//
//	p, err := peerauth.NewPeer(peerauth.PeerConfig{
//	    Wallet:    myWallet,
//	    Transport: myTransport,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	session, err := p.InitiateHandshake(ctx, counterpartyIdentityKey)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Once a session is authenticated, ToPeer sends general application
// messages over it, reusing an existing session or handshaking first if
// none exists yet:
//
//	err = p.ToPeer(ctx, []byte("hello"), counterpartyIdentityKey)
//
// See pkg/peerauth/walletauth for a concrete Wallet and
// pkg/peerauth/transporttest or pkg/peerauth/nettransport for concrete
// Transports.
package peerauth

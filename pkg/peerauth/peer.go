package peerauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/logging"
)

// DefaultMaxWaitTime is the default timeout InitiateHandshake waits for an
// initialResponse before failing with ErrHandshakeTimeout.
const DefaultMaxWaitTime = 10 * time.Second

// PeerConfig configures a Peer.
type PeerConfig struct {
	// Wallet is the cryptographic identity collaborator. Required.
	Wallet Wallet

	// Transport carries AuthMessages to and from the counterparty this
	// Peer is paired with. Required.
	Transport Transport

	// SessionManager indexes this Peer's sessions. A fresh SessionManager
	// is created if nil.
	SessionManager *SessionManager

	// CertificateStore supplies certificates this Peer discloses in
	// response to a RequestedCertificateSet. May be nil if this Peer never
	// discloses certificates.
	CertificateStore CertificateStore

	// DefaultCertificateRequest, when set, is embedded as the nested
	// requestedCertificates field of every initialResponse this Peer
	// sends, asking the initiator to disclose certificates back. Nil
	// means this Peer never requests certificates of its own during the
	// handshake.
	DefaultCertificateRequest *RequestedCertificateSet

	// AutoPersistLastSession enables last-peer affinity: outbound calls
	// that omit an identity key are routed to lastInteractedWithPeer.
	// Defaults to true.
	AutoPersistLastSession *bool

	// LoggerFactory creates the Peer's logger. If nil, logging is
	// disabled (matches the pkg/transport convention).
	LoggerFactory logging.LoggerFactory
}

// Peer is the protocol state machine: it dispatches inbound AuthMessages to
// per-kind processors, orchestrates the handshake, and exposes the
// post-handshake outbound APIs. See the package doc for an overview.
type Peer struct {
	config PeerConfig
	wallet Wallet
	nonces *NonceService

	sessions  *SessionManager
	callbacks *callbackRegistry

	autoPersistLastSession bool
	log                    logging.LeveledLogger

	mu                     sync.Mutex
	lastInteractedWithPeer string
	inFlightHandshakes     map[string]*handshakeWait // keyed by target identity key
}

// handshakeWait lets concurrent ToPeer/InitiateHandshake callers for the
// same unauthenticated identity join a single in-flight handshake instead
// of each starting their own.
type handshakeWait struct {
	done    chan struct{}
	session *PeerSession
	err     error
}

// NewPeer constructs a Peer from config and registers its dispatcher with
// config.Transport.
func NewPeer(config PeerConfig) (*Peer, error) {
	if config.Wallet == nil {
		return nil, errors.New("peerauth: PeerConfig.Wallet is required")
	}
	if config.Transport == nil {
		return nil, errors.New("peerauth: PeerConfig.Transport is required")
	}

	sessions := config.SessionManager
	if sessions == nil {
		sessions = NewSessionManager()
	}

	autoPersist := true
	if config.AutoPersistLastSession != nil {
		autoPersist = *config.AutoPersistLastSession
	}

	p := &Peer{
		config: config,
		wallet: config.Wallet,
		nonces: NewNonceService(config.Wallet),
		sessions: sessions,
		callbacks: newCallbackRegistry(),
		autoPersistLastSession: autoPersist,
		inFlightHandshakes: make(map[string]*handshakeWait),
	}
	if config.LoggerFactory != nil {
		p.log = config.LoggerFactory.NewLogger("peerauth")
	}

	config.Transport.OnData(p.dispatch)
	return p, nil
}

// Sessions returns the Peer's SessionManager.
func (p *Peer) Sessions() *SessionManager { return p.sessions }

// ListenForGeneralMessage registers h and returns its callback ID.
func (p *Peer) ListenForGeneralMessage(h GeneralMessageHandler) uint64 {
	return p.callbacks.ListenForGeneralMessage(h)
}

// StopListeningForGeneralMessage unregisters id.
func (p *Peer) StopListeningForGeneralMessage(id uint64) {
	p.callbacks.StopListeningForGeneralMessage(id)
}

// ListenForCertificatesReceived registers h and returns its callback ID.
func (p *Peer) ListenForCertificatesReceived(h CertificatesReceivedHandler) uint64 {
	return p.callbacks.ListenForCertificatesReceived(h)
}

// StopListeningForCertificatesReceived unregisters id.
func (p *Peer) StopListeningForCertificatesReceived(id uint64) {
	p.callbacks.StopListeningForCertificatesReceived(id)
}

// ListenForCertificatesRequested registers h and returns its callback ID.
func (p *Peer) ListenForCertificatesRequested(h CertificatesRequestedHandler) uint64 {
	return p.callbacks.ListenForCertificatesRequested(h)
}

// StopListeningForCertificatesRequested unregisters id.
func (p *Peer) StopListeningForCertificatesRequested(id uint64) {
	p.callbacks.StopListeningForCertificatesRequested(id)
}

// LastInteractedWithPeer returns the identity key last-peer affinity would
// currently substitute, and whether one is known.
func (p *Peer) LastInteractedWithPeer() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastInteractedWithPeer, p.lastInteractedWithPeer != ""
}

func (p *Peer) setLastInteractedWithPeer(identityKey string) {
	if identityKey == "" {
		return
	}
	p.mu.Lock()
	p.lastInteractedWithPeer = identityKey
	p.mu.Unlock()
}

// resolveIdentityKey applies last-peer affinity: an empty identityKey is
// replaced by lastInteractedWithPeer when AutoPersistLastSession is set and
// one is known.
func (p *Peer) resolveIdentityKey(identityKey string) string {
	if identityKey != "" || !p.autoPersistLastSession {
		return identityKey
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastInteractedWithPeer
}

// handshakeOptions configures InitiateHandshake and the outbound APIs that
// may trigger one.
type handshakeOptions struct {
	maxWaitTime           time.Duration
	requestedCertificates *RequestedCertificateSet
}

// HandshakeOption customizes a handshake-triggering call.
type HandshakeOption func(*handshakeOptions)

// WithMaxWaitTime overrides DefaultMaxWaitTime for this call.
func WithMaxWaitTime(d time.Duration) HandshakeOption {
	return func(o *handshakeOptions) { o.maxWaitTime = d }
}

// WithRequestedCertificates attaches a certificate request to the
// initialRequest sent by this handshake.
func WithRequestedCertificates(r *RequestedCertificateSet) HandshakeOption {
	return func(o *handshakeOptions) { o.requestedCertificates = r }
}

func resolveOptions(opts []HandshakeOption) handshakeOptions {
	o := handshakeOptions{maxWaitTime: DefaultMaxWaitTime}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// InitiateHandshake starts a handshake toward identityKey: it mints a
// session nonce, inserts a pending session, sends an initialRequest, and
// waits up to maxWaitTime for the matching initialResponse. Concurrent
// calls for the same identityKey share a single in-flight handshake.
func (p *Peer) InitiateHandshake(ctx context.Context, identityKey string, opts ...HandshakeOption) (*PeerSession, error) {
	o := resolveOptions(opts)

	wait, owner := p.claimHandshake(identityKey)
	if !owner {
		return p.waitForHandshake(ctx, wait, o.maxWaitTime)
	}

	correlationID := newHandshakeCorrelationID()
	if p.log != nil {
		p.log.Debugf("handshake %s: initiating toward %q", correlationID, identityKey)
	}

	sessionNonce, err := p.nonces.CreateNonce(ctx)
	if err != nil {
		wrapped := fmt.Errorf("peerauth: minting session nonce: %w", err)
		p.finishHandshake(identityKey, wait, nil, wrapped)
		return nil, wrapped
	}

	pending := &PeerSession{
		SessionNonce: sessionNonce,
		PeerIdentityKey: identityKey,
		pendingCertRequest: o.requestedCertificates,
	}
	p.sessions.AddSession(pending)

	ownKey, err := p.wallet.GetPublicKey(ctx)
	if err != nil {
		p.sessions.RemoveSession(sessionNonce)
		p.finishHandshake(identityKey, wait, nil, err)
		return nil, fmt.Errorf("peerauth: reading own public key: %w", err)
	}

	req := &AuthMessage{
		Version: ProtocolVersion,
		MessageType: MessageTypeInitialRequest,
		IdentityKey: ownKey,
		InitialNonce: sessionNonce,
		RequestedCertificates: o.requestedCertificates,
	}

	respCh := make(chan *PeerSession, 1)
	callbackID := p.callbacks.listenForInitialResponse(sessionNonce, func(s *PeerSession) {
		respCh <- s
	})

	if err := p.config.Transport.Send(ctx, req); err != nil {
		p.callbacks.stopListeningForInitialResponse(callbackID)
		p.sessions.RemoveSession(sessionNonce)
		wrapped := fmt.Errorf("peerauth: sending initialRequest: %w: %v", ErrTransportFailure, err)
		p.finishHandshake(identityKey, wait, nil, wrapped)
		return nil, wrapped
	}

	timer := time.NewTimer(o.maxWaitTime)
	defer timer.Stop()

	select {
	case s := <-respCh:
		if p.log != nil {
			p.log.Debugf("handshake %s: completed", correlationID)
		}
		p.finishHandshake(identityKey, wait, s, nil)
		return s, nil
	case <-timer.C:
		p.callbacks.stopListeningForInitialResponse(callbackID)
		p.sessions.RemoveSession(sessionNonce)
		if p.log != nil {
			p.log.Warnf("handshake %s: timed out after %s", correlationID, o.maxWaitTime)
		}
		p.finishHandshake(identityKey, wait, nil, ErrHandshakeTimeout)
		return nil, ErrHandshakeTimeout
	case <-ctx.Done():
		p.callbacks.stopListeningForInitialResponse(callbackID)
		p.sessions.RemoveSession(sessionNonce)
		p.finishHandshake(identityKey, wait, nil, ctx.Err())
		return nil, ctx.Err()
	}
}

// claimHandshake atomically checks for and, if absent, registers an
// in-flight handshake toward identityKey, so two concurrent callers can
// never both observe "no handshake in flight" and each start their own.
// It returns owner=true for whichever caller must actually perform the handshake;
// every other concurrent caller for the same identityKey gets owner=false
// and the same *handshakeWait to join. An empty identityKey never
// deduplicates: the target peer isn't known yet, so there is nothing to
// key the in-flight map on.
func (p *Peer) claimHandshake(identityKey string) (*handshakeWait, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if identityKey == "" {
		return &handshakeWait{done: make(chan struct{})}, true
	}
	if wait, ok := p.inFlightHandshakes[identityKey]; ok {
		return wait, false
	}
	wait := &handshakeWait{done: make(chan struct{})}
	p.inFlightHandshakes[identityKey] = wait
	return wait, true
}

func (p *Peer) finishHandshake(identityKey string, wait *handshakeWait, s *PeerSession, err error) {
	wait.session, wait.err = s, err
	close(wait.done)
	if identityKey == "" {
		return
	}
	p.mu.Lock()
	if p.inFlightHandshakes[identityKey] == wait {
		delete(p.inFlightHandshakes, identityKey)
	}
	p.mu.Unlock()
}

func (p *Peer) waitForHandshake(ctx context.Context, wait *handshakeWait, maxWaitTime time.Duration) (*PeerSession, error) {
	timer := time.NewTimer(maxWaitTime)
	defer timer.Stop()
	select {
	case <-wait.done:
		return wait.session, wait.err
	case <-timer.C:
		return nil, ErrHandshakeTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// getAuthenticatedSession returns an authenticated session for identityKey,
// initiating a handshake if none exists yet. ToPeer, RequestCertificates,
// and SendCertificateResponse all funnel through here.
func (p *Peer) getAuthenticatedSession(ctx context.Context, identityKey string, opts ...HandshakeOption) (*PeerSession, error) {
	identityKey = p.resolveIdentityKey(identityKey)
	if identityKey == "" {
		return nil, fmt.Errorf("peerauth: no identity key and no last-interacted peer: %w", ErrSessionMissing)
	}

	if s, ok := p.sessions.GetSession(identityKey); ok && s.IsAuthenticated {
		return s, nil
	}

	s, err := p.InitiateHandshake(ctx, identityKey, opts...)
	if err != nil {
		return nil, err
	}
	if s == nil || !s.IsAuthenticated {
		return nil, ErrHandshakeFailed
	}
	return s, nil
}

// ToPeer sends payload as a general message to identityKey, or to
// lastInteractedWithPeer when identityKey is empty and
// AutoPersistLastSession is enabled, initiating a handshake first if
// needed.
func (p *Peer) ToPeer(ctx context.Context, payload []byte, identityKey string, opts ...HandshakeOption) error {
	sess, err := p.getAuthenticatedSession(ctx, identityKey, opts...)
	if err != nil {
		return err
	}

	nonce, err := freshNonce()
	if err != nil {
		return fmt.Errorf("peerauth: minting message nonce: %w", err)
	}

	keyID := fmt.Sprintf("%s %s", nonce, sess.PeerNonce)
	sig, err := p.wallet.CreateSignature(ctx, SignatureArgs{
		Data: payload,
		ProtocolID: ProtocolID,
		KeyID: keyID,
		Counterparty: sess.PeerIdentityKey,
	})
	if err != nil {
		return fmt.Errorf("peerauth: signing general message: %w", err)
	}

	ownKey, err := p.wallet.GetPublicKey(ctx)
	if err != nil {
		return fmt.Errorf("peerauth: reading own public key: %w", err)
	}

	msg := &AuthMessage{
		Version: ProtocolVersion,
		MessageType: MessageTypeGeneral,
		IdentityKey: ownKey,
		Nonce: nonce,
		YourNonce: sess.PeerNonce,
		Payload: payload,
		Signature: sig,
	}
	if err := p.config.Transport.Send(ctx, msg); err != nil {
		return fmt.Errorf("peerauth: sending general message to %s: %w: %v", sess.PeerIdentityKey, ErrTransportFailure, err)
	}
	p.setLastInteractedWithPeer(sess.PeerIdentityKey)
	return nil
}

// RequestCertificates sends a certificateRequest for request to identityKey
// (or lastInteractedWithPeer), initiating a handshake first if needed.
func (p *Peer) RequestCertificates(ctx context.Context, request *RequestedCertificateSet, identityKey string, opts ...HandshakeOption) error {
	sess, err := p.getAuthenticatedSession(ctx, identityKey, opts...)
	if err != nil {
		return err
	}

	digest, err := canonicalJSON(request)
	if err != nil {
		return fmt.Errorf("peerauth: serializing requested certificates: %w", err)
	}

	nonce, err := freshNonce()
	if err != nil {
		return fmt.Errorf("peerauth: minting message nonce: %w", err)
	}

	keyID := fmt.Sprintf("%s %s", nonce, sess.PeerNonce)
	sig, err := p.wallet.CreateSignature(ctx, SignatureArgs{
		Data: digest,
		ProtocolID: ProtocolID,
		KeyID: keyID,
		Counterparty: sess.PeerIdentityKey,
	})
	if err != nil {
		return fmt.Errorf("peerauth: signing certificate request: %w", err)
	}

	ownKey, err := p.wallet.GetPublicKey(ctx)
	if err != nil {
		return fmt.Errorf("peerauth: reading own public key: %w", err)
	}

	msg := &AuthMessage{
		Version: ProtocolVersion,
		MessageType: MessageTypeCertificateRequest,
		IdentityKey: ownKey,
		Nonce: nonce,
		YourNonce: sess.PeerNonce,
		RequestedCertificates: request,
		Signature: sig,
	}
	if err := p.config.Transport.Send(ctx, msg); err != nil {
		return fmt.Errorf("peerauth: sending certificate request to %s: %w: %v", sess.PeerIdentityKey, ErrTransportFailure, err)
	}
	return nil
}

// SendCertificateResponse sends certs to identityKey as a certificateResponse,
// echoing request as the message's own requestedCertificates field so the
// recipient can validate certs against the constraint this response claims
// to satisfy, per processCertificateResponse.
func (p *Peer) SendCertificateResponse(ctx context.Context, certs []*VerifiableCertificate, request *RequestedCertificateSet, identityKey string, opts ...HandshakeOption) error {
	sess, err := p.getAuthenticatedSession(ctx, identityKey, opts...)
	if err != nil {
		return err
	}

	digest, err := canonicalJSON(certs)
	if err != nil {
		return fmt.Errorf("peerauth: serializing certificates: %w", err)
	}

	nonce, err := freshNonce()
	if err != nil {
		return fmt.Errorf("peerauth: minting message nonce: %w", err)
	}

	keyID := fmt.Sprintf("%s %s", nonce, sess.PeerNonce)
	sig, err := p.wallet.CreateSignature(ctx, SignatureArgs{
		Data: digest,
		ProtocolID: ProtocolID,
		KeyID: keyID,
		Counterparty: sess.PeerIdentityKey,
	})
	if err != nil {
		return fmt.Errorf("peerauth: signing certificate response: %w", err)
	}

	ownKey, err := p.wallet.GetPublicKey(ctx)
	if err != nil {
		return fmt.Errorf("peerauth: reading own public key: %w", err)
	}

	msg := &AuthMessage{
		Version: ProtocolVersion,
		MessageType: MessageTypeCertificateResponse,
		IdentityKey: ownKey,
		InitialNonce: sess.SessionNonce,
		Nonce: nonce,
		YourNonce: sess.PeerNonce,
		Certificates: certs,
		RequestedCertificates: request,
		Signature: sig,
	}
	if err := p.config.Transport.Send(ctx, msg); err != nil {
		return fmt.Errorf("peerauth: sending certificate response to %s: %w: %v", sess.PeerIdentityKey, ErrTransportFailure, err)
	}
	return nil
}

// dispatch is registered with the Transport and selects a processor by
// messageType. It never returns an error to the transport: failures are
// logged and the message is dropped.
func (p *Peer) dispatch(msg *AuthMessage) {
	ctx := context.Background()

	if msg == nil {
		return
	}
	if msg.Version != ProtocolVersion || !validMessageType(msg.MessageType) {
		if p.log != nil {
			p.log.Debugf("peerauth: dropping message version=%q type=%q", msg.Version, msg.MessageType)
		}
		return
	}

	var err error
	switch msg.MessageType {
	case MessageTypeInitialRequest:
		err = p.processInitialRequest(ctx, msg)
	case MessageTypeInitialResponse:
		err = p.processInitialResponse(ctx, msg)
	case MessageTypeCertificateRequest:
		err = p.processCertificateRequest(ctx, msg)
	case MessageTypeCertificateResponse:
		err = p.processCertificateResponse(ctx, msg)
	case MessageTypeGeneral:
		err = p.processGeneralMessage(ctx, msg)
	}

	if err != nil && p.log != nil {
		p.log.Errorf("peerauth: processing %s: %v", msg.MessageType, err)
	}
}

func validMessageType(t MessageType) bool {
	switch t {
	case MessageTypeInitialRequest, MessageTypeInitialResponse,
		MessageTypeCertificateRequest, MessageTypeCertificateResponse, MessageTypeGeneral:
		return true
	default:
		return false
	}
}

// processInitialRequest handles an inbound initialRequest.
func (p *Peer) processInitialRequest(ctx context.Context, msg *AuthMessage) error {
	if err := ValidateMessage(msg); err != nil {
		return err
	}

	localNonce, err := p.nonces.CreateNonce(ctx)
	if err != nil {
		return fmt.Errorf("peerauth: minting session nonce: %w", err)
	}

	sess := &PeerSession{
		IsAuthenticated: true,
		SessionNonce: localNonce,
		PeerNonce: msg.InitialNonce,
		PeerIdentityKey: msg.IdentityKey,
	}
	p.sessions.AddSession(sess)

	var enclosed []*VerifiableCertificate
	if msg.RequestedCertificates != nil && !msg.RequestedCertificates.Empty() && p.config.CertificateStore != nil {
		enclosed, err = GetVerifiableCertificates(ctx, p.config.CertificateStore, msg.RequestedCertificates, msg.IdentityKey)
		if err != nil {
			return fmt.Errorf("peerauth: gathering certificates to enclose: %w", err)
		}
	}

	initiatorNonce := msg.InitialNonce
	responderNonce := localNonce
	data, err := concatNonces(initiatorNonce, responderNonce)
	if err != nil {
		return err
	}

	ownKey, err := p.wallet.GetPublicKey(ctx)
	if err != nil {
		return fmt.Errorf("peerauth: reading own public key: %w", err)
	}

	keyID := fmt.Sprintf("%s %s", initiatorNonce, responderNonce)
	sig, err := p.wallet.CreateSignature(ctx, SignatureArgs{
		Data: data,
		ProtocolID: ProtocolID,
		KeyID: keyID,
		Counterparty: msg.IdentityKey,
	})
	if err != nil {
		return fmt.Errorf("peerauth: signing initialResponse: %w", err)
	}

	resp := &AuthMessage{
		Version: ProtocolVersion,
		MessageType: MessageTypeInitialResponse,
		IdentityKey: ownKey,
		InitialNonce: responderNonce,
		YourNonce: initiatorNonce,
		Certificates: enclosed,
		RequestedCertificates: p.config.DefaultCertificateRequest,
		Signature: sig,
	}

	if err := p.config.Transport.Send(ctx, resp); err != nil {
		return fmt.Errorf("peerauth: %w: %v", ErrTransportFailure, err)
	}

	if _, known := p.LastInteractedWithPeer(); !known {
		p.setLastInteractedWithPeer(msg.IdentityKey)
	}
	return nil
}

// processInitialResponse handles an inbound initialResponse.
func (p *Peer) processInitialResponse(ctx context.Context, msg *AuthMessage) error {
	if err := ValidateMessage(msg); err != nil {
		return err
	}

	ok, err := p.wallet.VerifyNonce(ctx, msg.YourNonce)
	if err != nil {
		return fmt.Errorf("peerauth: verifying yourNonce: %w", err)
	}
	if !ok {
		return ErrNonceRejected
	}

	sess, found := p.sessions.GetSession(msg.YourNonce)
	if !found {
		return ErrSessionMissing
	}
	if sess.SessionNonce == "" {
		return ErrSessionIncomplete
	}

	initiatorNonce := sess.SessionNonce
	responderNonce := msg.InitialNonce
	data, err := concatNonces(initiatorNonce, responderNonce)
	if err != nil {
		return err
	}

	keyID := fmt.Sprintf("%s %s", initiatorNonce, responderNonce)
	valid, err := p.wallet.VerifySignature(ctx, SignatureArgs{
		Data: data,
		ProtocolID: ProtocolID,
		KeyID: keyID,
		Counterparty: msg.IdentityKey,
	}, msg.Signature)
	if err != nil {
		return fmt.Errorf("peerauth: verifying initialResponse signature: %w", err)
	}
	if !valid {
		return ErrSignatureInvalid
	}

	sess.PeerNonce = responderNonce
	sess.PeerIdentityKey = msg.IdentityKey
	sess.IsAuthenticated = true
	p.sessions.UpdateSession(sess)

	p.callbacks.fireInitialResponse(initiatorNonce, sess)
	p.setLastInteractedWithPeer(msg.IdentityKey)

	if len(msg.Certificates) > 0 {
		if err := ValidateCertificates(msg.Certificates, sess.pendingCertRequest); err != nil {
			return err
		}
		p.callbacks.fireCertificatesReceived(msg.IdentityKey, msg.Certificates)
	}

	if msg.RequestedCertificates != nil && !msg.RequestedCertificates.Empty() {
		if p.callbacks.hasCertificatesRequestedListeners() {
			p.callbacks.fireCertificatesRequested(msg.IdentityKey, msg.RequestedCertificates)
		} else if p.config.CertificateStore != nil {
			certs, err := GetVerifiableCertificates(ctx, p.config.CertificateStore, msg.RequestedCertificates, msg.IdentityKey)
			if err != nil {
				return fmt.Errorf("peerauth: gathering certificates for auto-response: %w", err)
			}
			if err := p.SendCertificateResponse(ctx, certs, msg.RequestedCertificates, msg.IdentityKey); err != nil {
				return err
			}
		}
	}

	return nil
}

// processCertificateRequest handles an inbound certificateRequest.
func (p *Peer) processCertificateRequest(ctx context.Context, msg *AuthMessage) error {
	if err := ValidateMessage(msg); err != nil {
		return err
	}

	ok, err := p.wallet.VerifyNonce(ctx, msg.YourNonce)
	if err != nil {
		return fmt.Errorf("peerauth: verifying yourNonce: %w", err)
	}
	if !ok {
		return ErrNonceRejected
	}

	sess, found := p.sessions.GetSession(msg.YourNonce)
	if !found {
		return ErrSessionMissing
	}
	if sess.PeerIdentityKey == "" || sess.SessionNonce == "" {
		return ErrSessionIncomplete
	}

	digest, err := canonicalJSON(msg.RequestedCertificates)
	if err != nil {
		return fmt.Errorf("peerauth: serializing requested certificates: %w", err)
	}

	keyID := fmt.Sprintf("%s %s", msg.Nonce, sess.SessionNonce)
	valid, err := p.wallet.VerifySignature(ctx, SignatureArgs{
		Data: digest,
		ProtocolID: ProtocolID,
		KeyID: keyID,
		Counterparty: sess.PeerIdentityKey,
	}, msg.Signature)
	if err != nil {
		return fmt.Errorf("peerauth: verifying certificateRequest signature: %w", err)
	}
	if !valid {
		return ErrSignatureInvalid
	}

	if p.callbacks.hasCertificatesRequestedListeners() {
		p.callbacks.fireCertificatesRequested(msg.IdentityKey, msg.RequestedCertificates)
		return nil
	}
	if p.config.CertificateStore == nil {
		return nil
	}
	certs, err := GetVerifiableCertificates(ctx, p.config.CertificateStore, msg.RequestedCertificates, msg.IdentityKey)
	if err != nil {
		return fmt.Errorf("peerauth: gathering certificates for auto-response: %w", err)
	}
	return p.SendCertificateResponse(ctx, certs, msg.RequestedCertificates, msg.IdentityKey)
}

// processCertificateResponse handles an inbound certificateResponse.
func (p *Peer) processCertificateResponse(ctx context.Context, msg *AuthMessage) error {
	if err := ValidateMessage(msg); err != nil {
		return err
	}

	ok, err := p.wallet.VerifyNonce(ctx, msg.YourNonce)
	if err != nil {
		return fmt.Errorf("peerauth: verifying yourNonce: %w", err)
	}
	if !ok {
		return ErrNonceRejected
	}

	sess, found := p.sessions.GetSession(msg.YourNonce)
	if !found {
		return ErrSessionMissing
	}
	if sess.SessionNonce == "" {
		return ErrSessionIncomplete
	}

	digest, err := canonicalJSON(msg.Certificates)
	if err != nil {
		return fmt.Errorf("peerauth: serializing certificates: %w", err)
	}

	keyID := fmt.Sprintf("%s %s", msg.Nonce, sess.SessionNonce)
	valid, err := p.wallet.VerifySignature(ctx, SignatureArgs{
		Data: digest,
		ProtocolID: ProtocolID,
		KeyID: keyID,
		Counterparty: msg.IdentityKey,
	}, msg.Signature)
	if err != nil {
		return fmt.Errorf("peerauth: verifying certificateResponse signature: %w", err)
	}
	if !valid {
		return ErrSignatureInvalid
	}

	// The constraint checked here is the requestedCertificates echoed
	// inside this very response, not the original outstanding request.
	if err := ValidateCertificates(msg.Certificates, msg.RequestedCertificates); err != nil {
		return err
	}

	p.callbacks.fireCertificatesReceived(msg.IdentityKey, msg.Certificates)
	return nil
}

// processGeneralMessage handles an inbound general message.
func (p *Peer) processGeneralMessage(ctx context.Context, msg *AuthMessage) error {
	if err := ValidateMessage(msg); err != nil {
		return err
	}

	ok, err := p.wallet.VerifyNonce(ctx, msg.YourNonce)
	if err != nil {
		return fmt.Errorf("peerauth: verifying yourNonce: %w", err)
	}
	if !ok {
		return ErrNonceRejected
	}

	sess, found := p.sessions.GetSession(msg.YourNonce)
	if !found {
		return ErrSessionMissing
	}
	if sess.PeerIdentityKey == "" || sess.SessionNonce == "" {
		return ErrSessionIncomplete
	}

	keyID := fmt.Sprintf("%s %s", msg.Nonce, sess.SessionNonce)
	valid, err := p.wallet.VerifySignature(ctx, SignatureArgs{
		Data: msg.Payload,
		ProtocolID: ProtocolID,
		KeyID: keyID,
		Counterparty: sess.PeerIdentityKey,
	}, msg.Signature)
	if err != nil {
		return fmt.Errorf("peerauth: verifying general message signature: %w", err)
	}
	if !valid {
		return ErrSignatureInvalid
	}

	p.setLastInteractedWithPeer(sess.PeerIdentityKey)
	p.callbacks.fireGeneralMessage(msg.IdentityKey, msg.Payload)
	return nil
}

// concatNonces base64-decodes a and b and concatenates them, in that
// order, for use as signature data.
func concatNonces(a, b string) ([]byte, error) {
	da, err := base64.StdEncoding.DecodeString(a)
	if err != nil {
		return nil, fmt.Errorf("peerauth: decoding nonce %q: %w", a, err)
	}
	db, err := base64.StdEncoding.DecodeString(b)
	if err != nil {
		return nil, fmt.Errorf("peerauth: decoding nonce %q: %w", b, err)
	}
	return append(da, db...), nil
}

// freshNonce mints a 32-byte random, base64-encoded per-message nonce.
// This is the sender's own per-message nonce (distinct from NonceService's
// wallet-bound session nonces), used only for signature-keying uniqueness.
func freshNonce() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

// canonicalJSON serializes v the same way on every call so both sides of a
// signature sign and verify identical bytes.
func canonicalJSON(v any) ([]byte, error) {
	return json.Marshal(v)
}

// newHandshakeCorrelationID returns a short, human-legible tag for log
// lines correlating the request/response pair of one handshake attempt. It
// is never part of protocol state.
func newHandshakeCorrelationID() string {
	return uuid.NewString()
}

package peerauth

import "sync"

// GeneralMessageHandler is invoked when a general message is received and
// verified.
type GeneralMessageHandler func(senderPublicKey string, payload []byte)

// CertificatesReceivedHandler is invoked when verified certificates arrive,
// whether from an initialResponse or a certificateResponse.
type CertificatesReceivedHandler func(senderPublicKey string, certs []*VerifiableCertificate)

// CertificatesRequestedHandler is invoked when a counterparty asks for
// certificates, whether embedded in an initialResponse or via a standalone
// certificateRequest.
type CertificatesRequestedHandler func(senderPublicKey string, request *RequestedCertificateSet)

// initialResponseHandler is the internal handler fired when an
// initialResponse completes a pending handshake, additionally keyed by the
// SessionNonce it answers.
type initialResponseHandler func(sess *PeerSession)

// callbackRegistry holds the four callback maps. A single monotonically
// increasing ID counter is shared across all four kinds: this is
// deliberate, not an oversight. An ID returned by one listenFor* is not
// type-scoped, and stopListeningFor* on an ID from a different kind
// silently does nothing.
type callbackRegistry struct {
	mu sync.Mutex

	nextID uint64

	general      map[uint64]GeneralMessageHandler
	certReceived map[uint64]CertificatesReceivedHandler
	certRequest  map[uint64]CertificatesRequestedHandler
	initialResp  map[uint64]initialResponseEntry
}

type initialResponseEntry struct {
	sessionNonce string
	handler      initialResponseHandler
}

func newCallbackRegistry() *callbackRegistry {
	return &callbackRegistry{
		general:      make(map[uint64]GeneralMessageHandler),
		certReceived: make(map[uint64]CertificatesReceivedHandler),
		certRequest:  make(map[uint64]CertificatesRequestedHandler),
		initialResp:  make(map[uint64]initialResponseEntry),
	}
}

func (r *callbackRegistry) nextIDLocked() uint64 {
	r.nextID++
	return r.nextID
}

// ListenForGeneralMessage registers h and returns its callback ID.
func (r *callbackRegistry) ListenForGeneralMessage(h GeneralMessageHandler) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextIDLocked()
	r.general[id] = h
	return id
}

// StopListeningForGeneralMessage unregisters id, tolerating an id from a
// different callback kind (no-op) or an absent id (no-op).
func (r *callbackRegistry) StopListeningForGeneralMessage(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.general, id)
}

func (r *callbackRegistry) ListenForCertificatesReceived(h CertificatesReceivedHandler) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextIDLocked()
	r.certReceived[id] = h
	return id
}

func (r *callbackRegistry) StopListeningForCertificatesReceived(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.certReceived, id)
}

func (r *callbackRegistry) ListenForCertificatesRequested(h CertificatesRequestedHandler) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextIDLocked()
	r.certRequest[id] = h
	return id
}

func (r *callbackRegistry) StopListeningForCertificatesRequested(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.certRequest, id)
}

// listenForInitialResponse registers h for the given sessionNonce and
// returns its callback ID.
func (r *callbackRegistry) listenForInitialResponse(sessionNonce string, h initialResponseHandler) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextIDLocked()
	r.initialResp[id] = initialResponseEntry{sessionNonce: sessionNonce, handler: h}
	return id
}

func (r *callbackRegistry) stopListeningForInitialResponse(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.initialResp, id)
}

// fireGeneralMessage invokes every registered general-message handler.
func (r *callbackRegistry) fireGeneralMessage(sender string, payload []byte) {
	r.mu.Lock()
	handlers := make([]GeneralMessageHandler, 0, len(r.general))
	for _, h := range r.general {
		handlers = append(handlers, h)
	}
	r.mu.Unlock()
	for _, h := range handlers {
		h(sender, payload)
	}
}

func (r *callbackRegistry) fireCertificatesReceived(sender string, certs []*VerifiableCertificate) {
	r.mu.Lock()
	handlers := make([]CertificatesReceivedHandler, 0, len(r.certReceived))
	for _, h := range r.certReceived {
		handlers = append(handlers, h)
	}
	r.mu.Unlock()
	for _, h := range handlers {
		h(sender, certs)
	}
}

func (r *callbackRegistry) fireCertificatesRequested(sender string, request *RequestedCertificateSet) {
	r.mu.Lock()
	handlers := make([]CertificatesRequestedHandler, 0, len(r.certRequest))
	for _, h := range r.certRequest {
		handlers = append(handlers, h)
	}
	r.mu.Unlock()
	for _, h := range handlers {
		h(sender, request)
	}
}

// hasCertificatesRequestedListeners reports whether any listener is
// registered, so callers can choose between forwarding and auto-responding.
func (r *callbackRegistry) hasCertificatesRequestedListeners() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.certRequest) > 0
}

// fireInitialResponse invokes (and removes) every handler registered for
// sessionNonce.
func (r *callbackRegistry) fireInitialResponse(sessionNonce string, sess *PeerSession) {
	r.mu.Lock()
	var matched []initialResponseHandler
	for id, entry := range r.initialResp {
		if entry.sessionNonce == sessionNonce {
			matched = append(matched, entry.handler)
			delete(r.initialResp, id)
		}
	}
	r.mu.Unlock()
	for _, h := range matched {
		h(sess)
	}
}

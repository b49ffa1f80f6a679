package peerauth

import (
	"context"
	"fmt"
)

// CertificateStore is the wallet's own certificate collection. It is out of
// scope to implement here; GetVerifiableCertificates only consumes it.
type CertificateStore interface {
	// Certificates returns every certificate this store holds that was
	// issued by one of certifiers, for the named type.
	Certificates(ctx context.Context, certifiers []string, certType string) ([]*VerifiableCertificate, error)

	// PrepareForDisclosure re-encrypts or otherwise readies cert's fields
	// for disclosure to verifierIdentityKey, returning the disclosable copy.
	PrepareForDisclosure(ctx context.Context, cert *VerifiableCertificate, fields []string, verifierIdentityKey string) (*VerifiableCertificate, error)
}

// GetVerifiableCertificates selects, from store, the certificates matching
// request's certifier set and type/field map, preparing each for
// disclosure to verifierIdentityKey. It returns an empty slice (never an
// error) when nothing matches.
func GetVerifiableCertificates(ctx context.Context, store CertificateStore, request *RequestedCertificateSet, verifierIdentityKey string) ([]*VerifiableCertificate, error) {
	var out []*VerifiableCertificate
	if request == nil || store == nil {
		return out, nil
	}

	for certType, fields := range request.Types {
		candidates, err := store.Certificates(ctx, request.Certifiers, certType)
		if err != nil {
			return nil, fmt.Errorf("peerauth: listing certificates for type %q: %w", certType, err)
		}
		for _, cand := range candidates {
			disclosed, err := store.PrepareForDisclosure(ctx, cand, fields, verifierIdentityKey)
			if err != nil {
				return nil, fmt.Errorf("peerauth: preparing certificate for disclosure: %w", err)
			}
			out = append(out, disclosed)
		}
	}
	return out, nil
}

// ValidateCertificates verifies that every certificate in certs satisfies
// request: its certifier must be in request.Certifiers (an empty
// Certifiers list accepts any certifier), its type must be
// named in request.Types, and every required field name for that type must
// be present with a decrypted (non-empty) value.
func ValidateCertificates(certs []*VerifiableCertificate, request *RequestedCertificateSet) error {
	if request == nil {
		if len(certs) == 0 {
			return nil
		}
		return fmt.Errorf("peerauth: certificates present with no governing request: %w", ErrCertificateValidation)
	}

	certifierOK := func(key string) bool {
		for _, c := range request.Certifiers {
			if c == key {
				return true
			}
		}
		return len(request.Certifiers) == 0
	}

	for _, cert := range certs {
		if cert == nil {
			return fmt.Errorf("peerauth: nil certificate: %w", ErrCertificateValidation)
		}
		if !certifierOK(cert.Certifier) {
			return fmt.Errorf("peerauth: certifier %q not in requested set: %w", cert.Certifier, ErrCertificateValidation)
		}
		fields, ok := request.Types[cert.Type]
		if !ok {
			return fmt.Errorf("peerauth: certificate type %q not requested: %w", cert.Type, ErrCertificateValidation)
		}
		for _, field := range fields {
			val, ok := cert.Fields[field]
			if !ok || val == "" {
				return fmt.Errorf("peerauth: certificate type %q missing field %q: %w", cert.Type, field, ErrCertificateValidation)
			}
		}
	}
	return nil
}

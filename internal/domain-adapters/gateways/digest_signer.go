package gateways

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/ochairo/kiln/internal/external-adapters/gpg"
)

// DigestSigner wraps the OpenPGP adapter to sign digest files
type DigestSigner struct {
	signer *gpg.Signer
}

// NewDigestSigner loads an armored private key
func NewDigestSigner(armoredKey, passphrase []byte) (*DigestSigner, error) {
	signer, err := gpg.NewSigner(bytes.NewReader(armoredKey), passphrase)
	if err != nil {
		return nil, err
	}
	return &DigestSigner{signer: signer}, nil
}

// Sign writes a detached armored signature next to path and returns its path
func (s *DigestSigner) Sign(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	sigPath, err := s.signer.SignFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to sign digest: %w", err)
	}
	return sigPath, nil
}

// Fingerprint identifies the signing key
func (s *DigestSigner) Fingerprint() string {
	return s.signer.Fingerprint()
}

// WritePublicKey exports the public key for verifiers
func (s *DigestSigner) WritePublicKey(w io.Writer) error {
	return s.signer.WritePublicKey(w)
}

// SignatureVerifier wraps the OpenPGP adapter to check digest signatures
type SignatureVerifier struct {
	verifier *gpg.Verifier
}

// NewSignatureVerifier creates a verifier trusting the keys in keyPath
func NewSignatureVerifier(keyPath string) (*SignatureVerifier, error) {
	v := gpg.NewVerifier()
	if err := v.TrustFile(keyPath); err != nil {
		return nil, fmt.Errorf("failed to import verification key: %w", err)
	}
	return &SignatureVerifier{verifier: v}, nil
}

// Verify checks sigPath against filePath and returns the signer fingerprint
func (v *SignatureVerifier) Verify(filePath, sigPath string) (string, error) {
	fingerprint, err := v.verifier.VerifyFile(filePath, sigPath)
	if err != nil {
		return "", fmt.Errorf("digest signature verification failed: %w", err)
	}
	return fingerprint, nil
}

package gpg

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ProtonMail/go-crypto/openpgp"
)

// maxKeyBytes bounds key material read from disk
const maxKeyBytes = 10 << 20

// Verifier checks detached digest signatures against trusted keys
type Verifier struct {
	keyring openpgp.EntityList
}

// NewVerifier creates a verifier that trusts no keys yet
func NewVerifier() *Verifier {
	return &Verifier{}
}

// Trust adds every key found in r, armored or binary
func (v *Verifier) Trust(r io.Reader) error {
	data, err := io.ReadAll(io.LimitReader(r, maxKeyBytes))
	if err != nil {
		return fmt.Errorf("failed to read key: %w", err)
	}

	entities, err := openpgp.ReadArmoredKeyRing(bytes.NewReader(data))
	if err != nil {
		entities, err = openpgp.ReadKeyRing(bytes.NewReader(data))
	}
	if err != nil {
		return fmt.Errorf("failed to read key: %w", err)
	}
	if len(entities) == 0 {
		return errors.New("no keys found")
	}

	v.keyring = append(v.keyring, entities...)
	return nil
}

// TrustFile adds the keys stored at keyPath
func (v *Verifier) TrustFile(keyPath string) error {
	//nolint:gosec // G304: keyPath is chosen by the operator
	f, err := os.Open(keyPath)
	if err != nil {
		return fmt.Errorf("failed to open key file: %w", err)
	}
	//nolint:errcheck // Defer close on read-only file
	defer f.Close()
	return v.Trust(f)
}

// Keys returns the number of trusted keys
func (v *Verifier) Keys() int {
	return len(v.keyring)
}

// VerifyFile checks the detached signature at sigPath (armored or binary)
// over filePath and returns the signing key fingerprint
func (v *Verifier) VerifyFile(filePath, sigPath string) (string, error) {
	if len(v.keyring) == 0 {
		return "", errors.New("no trusted keys")
	}

	//nolint:gosec // G304: sigPath sits next to the digest being verified
	sigFile, err := os.Open(sigPath)
	if err != nil {
		return "", fmt.Errorf("failed to open signature: %w", err)
	}
	//nolint:errcheck // Defer close on read-only file
	defer sigFile.Close()

	//nolint:gosec // G304: filePath is the digest being verified
	data, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to open signed file: %w", err)
	}
	//nolint:errcheck // Defer close on read-only file
	defer data.Close()

	sig := bufio.NewReader(sigFile)
	head, _ := sig.Peek(len(armoredSignaturePrefix))

	var signer *openpgp.Entity
	if string(head) == armoredSignaturePrefix {
		signer, err = openpgp.CheckArmoredDetachedSignature(v.keyring, data, sig, nil)
	} else {
		signer, err = openpgp.CheckDetachedSignature(v.keyring, data, sig, nil)
	}
	if err != nil {
		return "", fmt.Errorf("bad signature: %w", err)
	}
	return fingerprint(signer), nil
}

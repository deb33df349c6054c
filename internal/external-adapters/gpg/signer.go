// Package gpg signs and verifies release digest files with OpenPGP.
package gpg

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
)

// SignatureSuffix is appended to a signed file's name
const SignatureSuffix = ".asc"

const armoredSignaturePrefix = "-----BEGIN PGP SIGNATURE-----"

// Signer creates armored detached signatures with one private key
type Signer struct {
	entity *openpgp.Entity
}

// NewSigner reads an armored private key, unlocking it with passphrase when encrypted
func NewSigner(armoredKey io.Reader, passphrase []byte) (*Signer, error) {
	entities, err := openpgp.ReadArmoredKeyRing(armoredKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read signing key: %w", err)
	}

	for _, entity := range entities {
		if entity.PrivateKey == nil {
			continue
		}
		if entity.PrivateKey.Encrypted {
			if len(passphrase) == 0 {
				return nil, errors.New("signing key is encrypted and no passphrase was given")
			}
			if err := entity.DecryptPrivateKeys(passphrase); err != nil {
				return nil, fmt.Errorf("failed to unlock signing key: %w", err)
			}
		}
		return &Signer{entity: entity}, nil
	}

	return nil, errors.New("no private key found in signing key")
}

// Fingerprint returns the primary key fingerprint in upper-case hex
func (s *Signer) Fingerprint() string {
	return fingerprint(s.entity)
}

func fingerprint(e *openpgp.Entity) string {
	return fmt.Sprintf("%X", e.PrimaryKey.Fingerprint)
}

// SignFile writes "<path>.asc" holding an armored detached signature of path
func (s *Signer) SignFile(path string) (string, error) {
	//nolint:gosec // G304: path is the digest file produced by this run
	data, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file to sign: %w", err)
	}
	//nolint:errcheck // Defer close on read-only file
	defer data.Close()

	sigPath := path + SignatureSuffix
	//nolint:gosec // G304: signature path derives from the signed file
	out, err := os.Create(sigPath)
	if err != nil {
		return "", fmt.Errorf("failed to create signature file: %w", err)
	}

	if err := openpgp.ArmoredDetachSign(out, s.entity, data, nil); err != nil {
		_ = out.Close()
		return "", fmt.Errorf("failed to sign %s: %w", path, err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("failed to write signature file: %w", err)
	}
	return sigPath, nil
}

// WritePublicKey exports the armored public half of the signing key
func (s *Signer) WritePublicKey(w io.Writer) error {
	encoder, err := armor.Encode(w, openpgp.PublicKeyType, nil)
	if err != nil {
		return err
	}
	if err := s.entity.Serialize(encoder); err != nil {
		_ = encoder.Close()
		return fmt.Errorf("failed to export public key: %w", err)
	}
	return encoder.Close()
}

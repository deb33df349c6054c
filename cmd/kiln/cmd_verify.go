package main

import (
	"bytes"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ochairo/kiln/internal/domain-adapters/gateways"
	"github.com/ochairo/kiln/internal/external-adapters/gpg"
)

func newVerifyCommand(a *app) *cobra.Command {
	var keyPath string

	cmd := &cobra.Command{
		Use:   "verify <digest-file>",
		Short: "Re-hash an archive and compare it with its digest file",
		Long: `Re-hash the archive named inside a digest file (looked up next to it) and
compare. With --key the detached signature <digest-file>.asc is checked
against the given public key as well.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			digestPath := args[0]

			digest, err := gateways.NewDigester().Verify(cmd.Context(), digestPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "%s: %s OK\n", digest.Algorithm, digest.Sum)

			if keyPath == "" {
				return nil
			}
			verifier, err := gateways.NewSignatureVerifier(keyPath)
			if err != nil {
				return err
			}
			fingerprint, err := verifier.Verify(digestPath, digestPath+gpg.SignatureSuffix)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "signature: good, key %s\n", fingerprint)
			return nil
		},
	}

	cmd.Flags().StringVar(&keyPath, "key", "", "Armored or binary public key to check the signature with")
	return cmd
}

func newPublicKeyCommand(a *app) *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "public-key",
		Short: "Export the public half of the digest signing key",
		Long: `Print the armored public key for KILN_SIGNING_KEY so consumers can run
"kiln verify --key". With --out the key is written to a file instead.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			signer, err := a.signingKey()
			if err != nil {
				return err
			}
			if outPath == "" {
				return signer.WritePublicKey(a.stdout)
			}

			var buf bytes.Buffer
			if err := signer.WritePublicKey(&buf); err != nil {
				return err
			}
			if err := os.WriteFile(outPath, buf.Bytes(), 0600); err != nil {
				return fmt.Errorf("failed to write public key: %w", err)
			}
			fmt.Fprintf(a.stdout, "key %s written to %s\n", signer.Fingerprint(), outPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&outPath, "out", "", "Write the key to this file")
	return cmd
}

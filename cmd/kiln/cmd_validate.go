package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ochairo/kiln/internal/domain/services"
)

func newValidateCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the pipeline definition for structural errors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := a.loadPipeline(cmd.Context())
			if err != nil {
				return err
			}
			if err := services.ValidatePipeline(p); err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "%s: ok (tags %v, %s level %d, %s)\n",
				p.Name, p.Trigger.Tags, p.Package.Codec, p.Package.Level, p.Package.Digest)
			return nil
		},
	}
}

func newVersionCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the kiln version",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintf(a.stdout, "kiln %s\n", version)
		},
	}
}

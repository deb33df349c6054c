package main

import (
	"fmt"

	"github.com/spf13/cobra"

	orchestrators "github.com/ochairo/kiln/internal/domain-orchestrators"
)

func newBuildCommand(a *app) *cobra.Command {
	var fetch bool

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Install the config template, run the build tool and relocate the output",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			o, err := a.orchestrator(cmd.Context(), orchestratorOptions{})
			if err != nil {
				return err
			}

			tag, _ := a.tagFrom("")
			state, err := stateFor(o, tag, true)
			if err != nil {
				return err
			}

			steps := []string{orchestrators.StepInstallConfig, orchestrators.StepBuild, orchestrators.StepRelocateOutput}
			if fetch {
				if tag == "" {
					return fmt.Errorf("--fetch needs GITHUB_REF to name a tag")
				}
				steps = append(steps, orchestrators.StepFetchSource)
			}

			report, err := o.RunSelected(cmd.Context(), state, steps...)
			if report != nil {
				fmt.Fprint(a.stdout, renderReport(report))
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&fetch, "fetch", false, "Fetch the source at the tag from GITHUB_REF first")
	return cmd
}

func newPackageCommand(a *app) *cobra.Command {
	var tag string

	cmd := &cobra.Command{
		Use:   "package",
		Short: "Archive the relocated output and write its digest to the workspace root",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tag, err := a.tagFrom(tag)
			if err != nil {
				return err
			}
			o, err := a.orchestrator(cmd.Context(), orchestratorOptions{})
			if err != nil {
				return err
			}
			state, err := stateFor(o, tag, true)
			if err != nil {
				return err
			}

			if _, err := o.RunSelected(cmd.Context(), state, orchestrators.StepPackage); err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "%s\n%s  %s\n", state.Artifact.Path, state.Digest.Sum, state.Digest.Path)
			if state.Digest.SignaturePath != "" {
				fmt.Fprintln(a.stdout, state.Digest.SignaturePath)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&tag, "tag", "", "Release tag (default from $GITHUB_REF)")
	return cmd
}

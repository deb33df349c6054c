package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ochairo/kiln/internal/domain-adapters/gateways"
	orchestrators "github.com/ochairo/kiln/internal/domain-orchestrators"
	"github.com/ochairo/kiln/internal/domain/services"
	"github.com/ochairo/kiln/internal/external-adapters/markdown"
)

func newNotesCommand(a *app) *cobra.Command {
	var (
		tag   string
		html  bool
		links bool
	)

	cmd := &cobra.Command{
		Use:   "notes",
		Short: "Print the release body the publish step would append",
		Long: `Resolve the previous release and print the generated release body:
the installation link and the comparison link against the previous tag.
With --html the markdown is rendered the way the release page shows it.
With --links only the link targets are printed, one per line.`,
		Args: cobra.NoArgs,
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
			if _, err := o.RunSelected(cmd.Context(), state, orchestrators.StepResolveRelease); err != nil {
				return err
			}

			body := o.ReleaseBody(state.Metadata)
			if links {
				for _, link := range markdown.Links(body) {
					fmt.Fprintln(a.stdout, link)
				}
				return nil
			}
			if html {
				rendered, err := markdown.RenderHTML(body)
				if err != nil {
					return err
				}
				fmt.Fprint(a.stdout, rendered)
				return nil
			}

			fmt.Fprintf(a.stdout, "previous=%s\nprerelease=%t\n\n%s\n",
				state.Metadata.PreviousTag, state.Metadata.Prerelease, body)
			return nil
		},
	}

	cmd.Flags().StringVar(&tag, "tag", "", "Release tag (default from $GITHUB_REF)")
	cmd.Flags().BoolVar(&links, "links", false, "Print only the link targets in the body")
	cmd.Flags().BoolVar(&html, "html", false, "Render the body as HTML")
	return cmd
}

func newPublishCommand(a *app) *cobra.Command {
	var (
		tag    string
		dryRun bool
	)

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Upload an already packaged archive and digest to the release",
		Long: `Find the archive for the tag at the workspace root together with its digest
file (and signature, if present), resolve the release metadata and publish.
Assets with the same name on an existing release are replaced.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tag, err := a.tagFrom(tag)
			if err != nil {
				return err
			}
			o, err := a.orchestrator(cmd.Context(), orchestratorOptions{requireToken: !dryRun})
			if err != nil {
				return err
			}
			state, err := stateFor(o, tag, dryRun)
			if err != nil {
				return err
			}

			cfg := o.Pipeline().Package
			name, err := services.ArchiveName(cfg.Name, tag, cfg.Codec)
			if err != nil {
				return err
			}
			state.Artifact, state.Digest, err = gateways.NewArtifactFinder().Find(state.Workspace, name)
			if err != nil {
				return err
			}
			state.Artifact.Tag = tag

			report, err := o.RunSelected(cmd.Context(), state,
				orchestrators.StepResolveRelease, orchestrators.StepPublish)
			if report != nil {
				fmt.Fprint(a.stdout, renderReport(report))
			}
			if err != nil {
				return err
			}

			if dryRun {
				fmt.Fprintf(a.stdout, "would upload %s", state.Artifact.Path)
				for _, f := range state.Digest.Files() {
					fmt.Fprintf(a.stdout, " %s", f)
				}
				fmt.Fprintln(a.stdout)
				return nil
			}
			fmt.Fprintln(a.stdout, state.ReleaseURL)
			return nil
		},
	}

	cmd.Flags().StringVar(&tag, "tag", "", "Release tag (default from $GITHUB_REF)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Resolve and report without writing to the release API")
	return cmd
}

package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	orchestrators "github.com/ochairo/kiln/internal/domain-orchestrators"
	"github.com/ochairo/kiln/internal/domain/entities"
	"github.com/ochairo/kiln/internal/domain/services"
)

func newRunCommand(a *app) *cobra.Command {
	var (
		ref        string
		dryRun     bool
		reportPath string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run every pipeline step for a pushed tag",
		Long: `Run the whole pipeline in order. The ref must be a tag matching the
trigger filter; any other ref is skipped and the command exits 0.

Steps: fetch-source, restore-cache, remove-cache-symlink, install-config,
build, relocate-output, purge-cache, save-cache, resolve-release, package,
publish. Failures in remove-cache-symlink and purge-cache are logged and the
run continues; any other failure stops the run and names the step.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if ref == "" {
				ref = a.getenv("GITHUB_REF")
			}
			if ref == "" {
				return errors.New("no ref given: pass --ref or set GITHUB_REF")
			}

			// A skipped ref needs no credentials
			p, err := a.loadPipeline(cmd.Context())
			if err != nil {
				return err
			}
			gate, err := services.NewTriggerGate(p.Trigger.Tags)
			if err != nil {
				return err
			}
			if _, ok := gate.Evaluate(ref); !ok {
				if reportPath != "" {
					if err := writeReportJSON(reportPath, &entities.RunReport{Ref: ref}); err != nil {
						return err
					}
				}
				fmt.Fprintf(a.stdout, "skipped: %s does not match %v\n", ref, gate.Patterns())
				return nil
			}

			o, err := a.orchestrator(cmd.Context(), orchestratorOptions{requireToken: !dryRun})
			if err != nil {
				return err
			}

			report, runErr := o.Run(cmd.Context(), orchestrators.RunOptions{Ref: ref, DryRun: dryRun})
			if report == nil {
				return runErr
			}
			if reportPath != "" {
				if err := writeReportJSON(reportPath, report); err != nil {
					return err
				}
			}

			fmt.Fprint(a.stdout, renderReport(report))
			return runErr
		},
	}

	cmd.Flags().StringVar(&ref, "ref", "", "Pushed ref, e.g. refs/tags/1.75.0 (default $GITHUB_REF)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Run everything except the release API writes")
	cmd.Flags().StringVar(&reportPath, "report", "", "Write the run report as JSON to this file")
	return cmd
}

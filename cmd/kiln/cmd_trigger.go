package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ochairo/kiln/internal/domain/services"
)

func newTriggerCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trigger [ref]",
		Short: "Report whether a ref activates the pipeline",
		Long: `Evaluate the tag filter without running anything. Prints "tag=<tag>" and
"triggered=<true|false>". When GITHUB_OUTPUT is set the same lines are
appended there so later CI steps can branch on them.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref := a.getenv("GITHUB_REF")
			if len(args) == 1 {
				ref = args[0]
			}

			p, err := a.loadPipeline(cmd.Context())
			if err != nil {
				return err
			}
			gate, err := services.NewTriggerGate(p.Trigger.Tags)
			if err != nil {
				return err
			}

			tag, ok := gate.Evaluate(ref)
			out := fmt.Sprintf("tag=%s\ntriggered=%t\n", tag, ok)
			fmt.Fprint(a.stdout, out)

			if path := a.getenv("GITHUB_OUTPUT"); path != "" {
				//nolint:gosec // G304: GITHUB_OUTPUT is provided by the CI runner
				f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
				if err != nil {
					return fmt.Errorf("failed to open GITHUB_OUTPUT: %w", err)
				}
				if _, err := f.WriteString(out); err != nil {
					_ = f.Close()
					return fmt.Errorf("failed to write GITHUB_OUTPUT: %w", err)
				}
				return f.Close()
			}
			return nil
		},
	}
	return cmd
}

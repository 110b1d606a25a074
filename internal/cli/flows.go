package cli

import (
	"github.com/spf13/cobra"

	"github.com/almops/envsync/internal/reconciler"
)

// newFlowsCmd builds the `envsync flows` command.
func newFlowsCmd() *cobra.Command {
	var (
		solution string
		dryRun   bool
	)

	cmd := &cobra.Command{
		Use:   "flows",
		Short: "Activate the cloud flows contained in a solution",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := runContext(cmd)

			store, err := connect(ctx)
			if err != nil {
				return err
			}

			report, err := reconciler.ActivateFlows(ctx, solution, store, reconciler.Options{DryRun: dryRun})
			if err != nil {
				return err
			}
			return finish(report)
		},
	}

	cmd.Flags().StringVarP(&solution, "solution", "s", "", "solution unique name (required)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report which flows would be activated without changing state")
	_ = cmd.MarkFlagRequired("solution")

	return cmd
}

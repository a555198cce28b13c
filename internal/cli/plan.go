package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/crewclaims/internal/intake"
)

// planCmd represents the plan command
var planCmd = &cobra.Command{
	Use:   "plan <claim-file>",
	Short: "Show which evaluators a claim would be routed to",
	Long: `Plan applies the registry rules to a claim without running any evaluator.

Example:
  crewclaims plan claim.json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		input, err := intake.Load(args[0])
		if err != nil {
			return err
		}

		p, _, err := newPipeline(cmd.Context(), &engineFlags{noStore: true})
		if err != nil {
			return err
		}
		defer func() { _ = p.Close(cmd.Context()) }()

		agents, err := p.Plan(input)
		if err != nil {
			return err
		}

		fmt.Printf("Claim %s (%s): %d evaluators\n", input.Claim.ID, input.Claim.Type, len(agents))
		for i, a := range agents {
			fmt.Printf("  %d. %-24s %s\n", i+1, a, a.DisplayName())
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(planCmd)
}

package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var (
	historyLimit   int
	historySession string
)

// historyCmd represents the history command
var historyCmd = &cobra.Command{
	Use:   "history [claim-id]",
	Short: "List recorded validation sessions",
	Long: `History reads the session audit store.

Example:
  crewclaims history clm-1042
  crewclaims history clm-1042 --limit 5
  crewclaims history --session 2f1c...`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if historySession == "" && len(args) == 0 {
			return fmt.Errorf("claim id or --session is required")
		}

		p, _, err := newPipeline(cmd.Context(), nil)
		if err != nil {
			return err
		}
		defer func() { _ = p.Close(cmd.Context()) }()

		if historySession != "" {
			rec, err := p.Session(cmd.Context(), historySession)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(rec)
		}

		records, err := p.History(cmd.Context(), args[0], historyLimit)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Fprintf(os.Stderr, "No sessions recorded for %s\n", args[0])
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "SESSION\tCREATED\tSTATUS\tCONFIDENCE\tTIMED OUT\tTIME")
		for _, r := range records {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%t\t%s\n",
				r.SessionID, r.CreatedAt.Local().Format("2006-01-02 15:04:05"), r.OverallStatus,
				r.Confidence, r.TimedOut, time.Duration(r.ProcessingTimeMs)*time.Millisecond)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum sessions to list")
	historyCmd.Flags().StringVar(&historySession, "session", "", "show one session in full")
}

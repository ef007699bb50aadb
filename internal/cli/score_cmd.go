package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wolfman30/movement-intake/internal/config"
	"github.com/wolfman30/movement-intake/internal/scoring"
)

func newScoreCmd(app *App) *cobra.Command {
	var messages int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "score <text>",
		Short: "Score ad-hoc visitor text",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings := app.Settings
			if settings == (config.Intake{}) {
				settings = config.DefaultIntake()
			}
			w := settings.Weights
			scorer := scoring.NewScorer(scoring.Weights{
				Urgency:    w.Urgency,
				Fit:        w.Fit,
				Readiness:  w.Readiness,
				Engagement: w.Engagement,
			})

			text := strings.Join(args, " ")
			result := struct {
				Score   scoring.LeadScore `json:"score"`
				Signals scoring.Signals   `json:"signals"`
			}{
				Score:   scorer.Score(text, messages),
				Signals: scorer.Detect(text),
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			}
			fmt.Fprintln(out, result.Score.String())
			return nil
		},
	}

	cmd.Flags().IntVar(&messages, "messages", 1, "message count used for the engagement bonus")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print score and signals as JSON")

	return cmd
}

package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/engagement-tracker/internal/replay"
)

// newReplayCmd creates the 'replay' subcommand, which runs one YAML visitor
// trace and prints the JSON report.
func newReplayCmd() *cobra.Command {
	var compact bool
	cmd := &cobra.Command{
		Use:   "replay <trace.yaml>",
		Short: "Replays a visitor trace and prints the report",
		Long: `Replays a YAML visitor trace on a simulated clock. Consent and attribution
records persist in the configured record store when the trace names a visitor,
and every permitted event is forwarded to the configured sinks.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			trace, err := replay.LoadFile(args[0])
			if err != nil {
				return err
			}
			if trace.Name == "" {
				trace.Name = args[0]
			}
			report, err := appInstance.Replay(cmd.Context(), trace)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			if !compact {
				enc.SetIndent("", "  ")
			}
			if err := enc.Encode(report); err != nil {
				return fmt.Errorf("write report: %w", err)
			}
			appInstance.Logger().Debug("replay command finished",
				zap.String("trace", trace.Name),
				zap.Int("calls", len(report.Calls)),
			)
			return nil
		},
	}
	cmd.Flags().BoolVar(&compact, "compact", false, "print the report on a single line")
	return cmd
}

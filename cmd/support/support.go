// Package support implements the support subcommand for collecting a
// diagnostics report.
package support

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/floraid/floraid-go/internal/circuit"
	"github.com/floraid/floraid-go/internal/conf"
	"github.com/floraid/floraid-go/internal/knowledge"
	"github.com/floraid/floraid-go/internal/quota"
	"github.com/floraid/floraid-go/internal/runtime"
)

// report is the diagnostics bundle written by the support command. Secrets
// are redacted before the settings are included.
type report struct {
	GeneratedAt time.Time                         `json:"generated_at"`
	Settings    conf.Settings                     `json:"settings"`
	Quota       map[string]map[quota.Window]int64 `json:"quota_usage"`
	Circuits    map[string]circuit.State          `json:"circuit_states"`
	TopEntries  []knowledge.LocalEntry            `json:"top_identified,omitempty"`
}

// Command creates the support command
func Command() *cobra.Command {
	var topLimit int

	cmd := &cobra.Command{
		Use:   "support",
		Short: "Collect a diagnostics report",
		Long:  `Collect a diagnostics report with redacted settings, quota usage, circuit breaker states and the most identified local entries.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings := conf.GetSettings()

			engine, err := runtime.Build(cmd.Context(), settings)
			if err != nil {
				return err
			}
			defer engine.Shutdown(cmd.Context())

			rep := report{
				GeneratedAt: time.Now().UTC(),
				Settings:    settings.RedactedCopy(),
				Quota:       make(map[string]map[quota.Window]int64),
				Circuits:    engine.Circuits.States(),
			}
			for _, id := range settings.ActiveProviders() {
				rep.Quota[id] = engine.Quota.Usage(id)
			}

			entries, err := engine.Store.TopIdentified(cmd.Context(), topLimit)
			if err != nil {
				cmd.PrintErrf("failed to read local entries: %v\n", err)
			} else {
				rep.TopEntries = entries
			}

			out, err := json.MarshalIndent(rep, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to encode report: %w", err)
			}
			cmd.Println(string(out))
			return nil
		},
	}

	cmd.Flags().IntVar(&topLimit, "top", 10, "Number of most identified local entries to include")

	return cmd
}

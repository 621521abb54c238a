// Package diagnose implements the diagnose subcommand.
package diagnose

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/floraid/floraid-go/internal/conf"
	"github.com/floraid/floraid-go/internal/orchestrator"
	"github.com/floraid/floraid-go/internal/runtime"
)

// Command creates the diagnose command for assessing plant health from an image.
func Command() *cobra.Command {
	var (
		latitude  float64
		longitude float64
	)

	cmd := &cobra.Command{
		Use:   "diagnose [image]",
		Short: "Assess plant health from an image",
		Long:  `Identify the plant in an image and assess its health, including likely diseases, using a provider with health assessment support.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			image, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read image: %w", err)
			}

			req := &orchestrator.Request{Image: image}
			if cmd.Flags().Changed("latitude") {
				req.Latitude = &latitude
			}
			if cmd.Flags().Changed("longitude") {
				req.Longitude = &longitude
			}

			engine, err := runtime.Build(cmd.Context(), conf.GetSettings())
			if err != nil {
				return err
			}
			defer engine.Shutdown(cmd.Context())

			result, err := engine.Orchestrator.Diagnose(cmd.Context(), req)
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to encode result: %w", err)
			}
			cmd.Println(string(out))
			return nil
		},
	}

	cmd.Flags().Float64Var(&latitude, "latitude", 0, "Latitude of the observation")
	cmd.Flags().Float64Var(&longitude, "longitude", 0, "Longitude of the observation")

	return cmd
}

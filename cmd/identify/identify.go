// Package identify implements the identify subcommand.
package identify

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/floraid/floraid-go/internal/conf"
	"github.com/floraid/floraid-go/internal/orchestrator"
	"github.com/floraid/floraid-go/internal/runtime"
)

// Command creates the identify command for identifying a plant from an image.
func Command() *cobra.Command {
	var (
		organs      []string
		latitude    float64
		longitude   float64
		description string
	)

	cmd := &cobra.Command{
		Use:   "identify [image]",
		Short: "Identify the plant in an image",
		Long:  `Identify the plant species in an image using the configured recognition providers and the local knowledge store.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			image, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read image: %w", err)
			}

			req := &orchestrator.Request{
				Image:       image,
				Organs:      organs,
				Description: description,
			}
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

			result, err := engine.Orchestrator.Identify(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printResult(cmd, result)
		},
	}

	cmd.Flags().StringSliceVar(&organs, "organs", nil, "Plant organs visible in the image: leaf, flower, fruit, bark, auto")
	cmd.Flags().Float64Var(&latitude, "latitude", 0, "Latitude of the observation")
	cmd.Flags().Float64Var(&longitude, "longitude", 0, "Longitude of the observation")
	cmd.Flags().StringVar(&description, "description", "", "Free-text description of the plant, used for local lookups")

	return cmd
}

// printResult writes the merged result as indented JSON to the command output.
func printResult(cmd *cobra.Command, result *orchestrator.MergedResult) error {
	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	cmd.Println(string(out))
	return nil
}

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Report which driver(s) recognize --image, with confidence",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if imagePath == "" {
			return fmt.Errorf("--image is required")
		}
		data, err := os.ReadFile(imagePath)
		if err != nil {
			return fmt.Errorf("read %s: %w", imagePath, err)
		}

		results := detectAll(data, registrations())
		for _, r := range results {
			fmt.Printf("%-14s %s\n", r.Driver, r.Confidence)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(probeCmd)
}

package cmd

import (
	"fmt"
	"os"

	"github.com/deploymenttheory/go-apple2fs/core"
	"github.com/deploymenttheory/go-apple2fs/devices/rawfile"
	"github.com/spf13/cobra"
)

var (
	formatVolumeName   string
	formatVolumeNumber int
	formatBootable     bool
)

var formatCmd = &cobra.Command{
	Use:   "format",
	Short: "Write a freshly formatted volume to --image",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if imagePath == "" {
			return fmt.Errorf("--image is required")
		}
		if driverName == "" {
			return fmt.Errorf("--driver is required (autodetection has nothing to probe for a new image)")
		}
		r := findRegistration(registrations(), driverName)
		if r == nil {
			return fmt.Errorf("unknown driver %q", driverName)
		}

		src := r.blankImage()
		vol, err := r.newVolume(src)
		if err != nil {
			return fmt.Errorf("prepare blank %s volume: %w", r.name, err)
		}
		fs := core.NewFilesystem(vol.Gate(), vol)
		if err := fs.Format(formatVolumeName, formatVolumeNumber, formatBootable); err != nil {
			return err
		}
		fs.Dispose()

		raw, ok := src.(*rawfile.Source)
		if !ok {
			return fmt.Errorf("internal error: blank image is not a rawfile.Source")
		}
		if err := os.WriteFile(imagePath, raw.Bytes(), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", imagePath, err)
		}
		fmt.Printf("formatted %s (%s, %d bytes) as %q\n", imagePath, r.name, raw.FormattedLength(), formatVolumeName)
		return nil
	},
}

func init() {
	formatCmd.Flags().StringVar(&formatVolumeName, "name", "UNTITLED", "volume name")
	formatCmd.Flags().IntVar(&formatVolumeNumber, "volume-number", 254, "volume number (DOS 3.3 only; ignored elsewhere)")
	formatCmd.Flags().BoolVar(&formatBootable, "bootable", false, "write boot code if the driver supports it")
	rootCmd.AddCommand(formatCmd)
}

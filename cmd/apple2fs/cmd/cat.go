package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/deploymenttheory/go-apple2fs/core"
	"github.com/spf13/cobra"
)

var catCmd = &cobra.Command{
	Use:   "cat <name>",
	Short: "Write the named file's data fork to stdout",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		vol, fs, err := openVolume(true)
		if err != nil {
			return err
		}
		defer fs.Dispose()

		slot := core.InvalidSlot
		for _, e := range vol.Entries() {
			if e.Name == name && !e.IsDir {
				slot = e.Slot
				break
			}
		}
		if slot == core.InvalidSlot {
			return fmt.Errorf("no such file: %s", name)
		}

		fd, err := vol.OpenDataFork(slot)
		if err != nil {
			return err
		}
		defer fd.Close()

		_, err = io.Copy(os.Stdout, fd)
		return err
	},
}

func init() {
	rootCmd.AddCommand(catCmd)
}

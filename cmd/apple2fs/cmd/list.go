package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the entries on --image",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		vol, fs, err := openVolume(true)
		if err != nil {
			return err
		}
		defer fs.Dispose()

		for _, e := range vol.Entries() {
			kind := "file"
			if e.IsDir {
				kind = "dir "
			}
			rsrc := ""
			if e.HasRsrc {
				rsrc = " +rsrc"
			}
			fmt.Printf("%s %10d  %s%s\n", kind, e.DataLength, e.Name, rsrc)
		}

		if free, err := fs.FreeSpace(); err == nil && free >= 0 {
			fmt.Printf("\n%d bytes free\n", free)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}

// Package cmd implements the apple2fs demo CLI: a thin cobra/viper shell
// over the six filesystem drivers, exercising probe/list/cat/format against
// a devices/rawfile image the way go-apfs's own cmd/ package exercises its
// APFS drivers against a disk or .dmg.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	imagePath  string
	driverName string
	readOnly   bool
	cfgFile    string
)

var rootCmd = &cobra.Command{
	Use:   "apple2fs",
	Short: "Vintage Apple II / early Macintosh floppy filesystem explorer",
	Long: `apple2fs probes, lists, and reads files from Apple II and early
Macintosh floppy disk images: DOS 3.2/3.3, ProDOS, Apple Pascal, Apple CP/M,
MFS, and HFS.

Works directly against a raw disk image file; image container formats
(.woz, .dsk interleave variants, .dmg) are out of scope and expected to
already be decoded into the byte order the target driver wants.`,
	Version: "0.1.0-dev",
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ./apple2fs-config.{yaml,json})")
	rootCmd.PersistentFlags().StringVar(&imagePath, "image", "", "path to the disk image file")
	rootCmd.PersistentFlags().StringVar(&driverName, "driver", "", "driver to use (DOS 3.3, ProDOS, Apple Pascal, CP/M, MFS, HFS); autodetected if omitted")
	rootCmd.PersistentFlags().BoolVar(&readOnly, "read-only", false, "open the image read-only even if it's writable on disk")

	viper.BindPFlag("image", rootCmd.PersistentFlags().Lookup("image"))
	viper.BindPFlag("driver", rootCmd.PersistentFlags().Lookup("driver"))
	viper.BindPFlag("read-only", rootCmd.PersistentFlags().Lookup("read-only"))
}

// initConfig wires viper the same way the teacher's internal/disk.LoadDMGConfig
// does: a named config file searched across a few conventional paths, an
// APPLE2FS_-prefixed environment override, and defaults that apply when
// neither is present. Lets repeated probe/list runs against a fixture
// directory share one --image/--driver pair instead of repeating flags.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("apple2fs-config")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.apple2fs")
	}
	viper.SetEnvPrefix("APPLE2FS")
	viper.AutomaticEnv()

	// A missing config file is not an error: the environment and flags
	// still apply.
	_ = viper.ReadInConfig()
	if imagePath == "" {
		imagePath = viper.GetString("image")
	}
	if driverName == "" {
		driverName = viper.GetString("driver")
	}
	if !readOnly {
		readOnly = viper.GetBool("read-only")
	}
}

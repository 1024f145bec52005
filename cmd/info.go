// Copyright © 2016 Zellyn Hunter <zellyn@gmail.com>

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fadden/ciderdisk/helpers"
	"github.com/fadden/ciderdisk/internal/loader"
)

// infoCmd prints a disk image's identity, capabilities, and (where the
// variant tracks one) its volume-usage chunk map.
var infoCmd = &cobra.Command{
	Use:   "info <image>",
	Short: "Show identification and volume-usage details for a disk image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := helpers.FileContentsOrStdIn(args[0])
		if err != nil {
			return err
		}
		res, err := loader.Open(raw, true)
		if err != nil {
			return err
		}
		fmt.Printf("volume:     %s\n", res.FS.VolumeName())
		fmt.Printf("filesystem: %s\n", res.FS.Name())
		fmt.Printf("wrapper:    %s\n", res.Wrap)
		caps := res.FS.Capabilities()
		fmt.Printf("mutable:    create=%v delete=%v rename=%v setinfo=%v format=%v renamevol=%v subdirs=%v\n",
			caps.CanCreateFile, caps.CanDeleteFile, caps.CanRenameFile, caps.CanSetInfo,
			caps.CanFormat, caps.CanRenameVolume, caps.HasSubdirs)

		if usage := res.FS.VolumeUsage(); usage != nil {
			fmt.Println()
			fmt.Println(usage.Dump())
		}

		for _, sub := range res.FS.SubVolumes() {
			fmt.Printf("\nsub-volume: %s (%s)\n", sub.VolumeName(), sub.Name())
		}
		return nil
	},
}

func init() {
	RootCmd.AddCommand(infoCmd)
}

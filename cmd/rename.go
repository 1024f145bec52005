// Copyright © 2016 Zellyn Hunter <zellyn@gmail.com>

package cmd

import (
	"github.com/spf13/cobra"

	"github.com/fadden/ciderdisk/helpers"
	"github.com/fadden/ciderdisk/internal/loader"
)

var renameVolume bool

// renameCmd represents the rename command, used to rename a file (or,
// with --volume, the volume itself).
var renameCmd = &cobra.Command{
	Use:   "rename <image> <old-name> <new-name>",
	Short: "Rename a file or volume",
	Long: `Rename a file on a disk image.

rename disk-image.dsk HELLO GOODBYE

With --volume the old name is omitted and the volume is renamed
(for DOS 3.3 the "name" is the volume number, 1-254):

rename --volume disk-image.dsk 101
`,
	Args: func(cmd *cobra.Command, args []string) error {
		if renameVolume {
			return cobra.ExactArgs(2)(cmd, args)
		}
		return cobra.ExactArgs(3)(cmd, args)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := helpers.FileContentsOrStdIn(args[0])
		if err != nil {
			return err
		}
		res, err := loader.Open(raw, false)
		if err != nil {
			return err
		}
		if renameVolume {
			err = res.FS.RenameVolume(args[1])
		} else {
			err = res.FS.RenameFile(args[1], args[2])
		}
		if err != nil {
			return err
		}
		return saveImage(args[0], res, true)
	},
}

func init() {
	RootCmd.AddCommand(renameCmd)
	renameCmd.Flags().BoolVar(&renameVolume, "volume", false, "rename the volume instead of a file")
}

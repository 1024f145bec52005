// Copyright © 2016 Zellyn Hunter <zellyn@gmail.com>

package cmd

import (
	"github.com/spf13/cobra"

	"github.com/fadden/ciderdisk/helpers"
	"github.com/fadden/ciderdisk/internal/loader"
	"github.com/fadden/ciderdisk/types"
)

var (
	putFiletypeName string
	putOverwrite    bool
)

// putCmd represents the put command, used to put the raw contents of a
// file onto a disk image.
var putCmd = &cobra.Command{
	Use:   "put <image> <name> <source>",
	Short: "Put the raw contents of a file onto a disk image",
	Long: `Put the raw contents of a file.

put disk-image.dsk HELLO <name of file with contents>
`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		img, err := helpers.FileContentsOrStdIn(args[0])
		if err != nil {
			return err
		}
		contents, err := helpers.FileContentsOrStdIn(args[2])
		if err != nil {
			return err
		}
		filetype, err := types.FiletypeForName(putFiletypeName)
		if err != nil {
			return err
		}

		res, err := loader.Open(img, false)
		if err != nil {
			return err
		}
		if putOverwrite {
			_ = res.FS.DeleteFile(args[1])
		}
		f, err := res.FS.CreateFile(args[1], int(filetype), 0)
		if err != nil {
			return err
		}
		descr, err := f.Open()
		if err != nil {
			return err
		}
		if _, err := descr.Write(contents); err != nil {
			descr.Close()
			return err
		}
		if err := descr.Close(); err != nil {
			return err
		}
		return saveImage(args[0], res, true)
	},
}

func init() {
	RootCmd.AddCommand(putCmd)
	putCmd.Flags().StringVarP(&putFiletypeName, "type", "t", "B", "type of file (`ciderdisk filetypes` to list)")
	putCmd.Flags().BoolVarP(&putOverwrite, "overwrite", "f", false, "whether to overwrite existing files")
}

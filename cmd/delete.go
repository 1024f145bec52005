// Copyright © 2016 Zellyn Hunter <zellyn@gmail.com>

package cmd

import (
	"github.com/spf13/cobra"

	"github.com/fadden/ciderdisk/errors"
	"github.com/fadden/ciderdisk/helpers"
	"github.com/fadden/ciderdisk/internal/loader"
)

var deleteMissingOK bool

// deleteCmd represents the delete command, used to delete a file.
var deleteCmd = &cobra.Command{
	Use:   "delete <image> <name>",
	Short: "Delete a file",
	Long: `Delete a file.

delete disk-image.dsk HELLO
`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := helpers.FileContentsOrStdIn(args[0])
		if err != nil {
			return err
		}
		res, err := loader.Open(raw, false)
		if err != nil {
			return err
		}
		if err := res.FS.DeleteFile(args[1]); err != nil {
			if deleteMissingOK && errors.IsForkNotFound(err) {
				return nil
			}
			return err
		}
		return saveImage(args[0], res, true)
	},
}

func init() {
	RootCmd.AddCommand(deleteCmd)
	deleteCmd.Flags().BoolVarP(&deleteMissingOK, "missingok", "f", false, "don't consider deleting a nonexistent file an error")
}

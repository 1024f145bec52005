// Copyright © 2016 Zellyn Hunter <zellyn@gmail.com>

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fadden/ciderdisk/a2file"
	"github.com/fadden/ciderdisk/helpers"
	"github.com/fadden/ciderdisk/internal/loader"
)

// catalogCmd represents the cat command, used to catalog a disk image.
var catalogCmd = &cobra.Command{
	Use:     "catalog <image>",
	Aliases: []string{"cat", "ls"},
	Short:   "List the files on a disk image",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := helpers.FileContentsOrStdIn(args[0])
		if err != nil {
			return err
		}
		res, err := loader.Open(raw, true)
		if err != nil {
			return err
		}
		fmt.Printf("%s (%s", res.FS.VolumeName(), res.FS.Name())
		if res.Wrap.String() != "none" {
			fmt.Printf(", %s-wrapped", res.Wrap)
		}
		fmt.Println(")")

		files, err := res.FS.ListFiles("")
		if err != nil {
			return err
		}
		for _, f := range files {
			printEntry(f)
		}
		return nil
	},
}

func printEntry(f a2file.A2File) {
	lock := " "
	if f.Access().Locked() {
		lock = "*"
	}
	quality := ""
	if f.Quality() != a2file.QualityGood {
		quality = " [" + f.Quality().String() + "]"
	}
	fmt.Printf("%s%-30s %6d  type=%-3d aux=%-6d%s\n", lock, f.Name(), f.Length(), f.FileType(), f.AuxType(), quality)
}

func init() {
	RootCmd.AddCommand(catalogCmd)
}

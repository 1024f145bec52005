// Copyright © 2016 Zellyn Hunter <zellyn@gmail.com>

package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/fadden/ciderdisk/helpers"
	"github.com/fadden/ciderdisk/internal/loader"
)

// dumpCmd represents the dump command, used to dump the raw contents
// of a file.
var dumpCmd = &cobra.Command{
	Use:   "dump <image> <name>",
	Short: "Dump the raw contents of a file",
	Long: `Dump the raw contents of a file.

dump disk-image.dsk HELLO
`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := helpers.FileContentsOrStdIn(args[0])
		if err != nil {
			return err
		}
		res, err := loader.Open(raw, true)
		if err != nil {
			return err
		}
		f, err := res.FS.OpenFile(args[1])
		if err != nil {
			return err
		}
		descr, err := f.Open()
		if err != nil {
			return err
		}
		defer descr.Close()

		buf := make([]byte, f.Length())
		if _, err := io.ReadFull(readerFunc(descr.Read), buf); err != nil && err != io.ErrUnexpectedEOF {
			return fmt.Errorf("dump: reading %q: %w", args[1], err)
		}
		_, err = os.Stdout.Write(buf)
		return err
	},
}

// readerFunc adapts an A2FileDescr's Read method to io.Reader.
type readerFunc func([]byte) (int, error)

func (f readerFunc) Read(buf []byte) (int, error) { return f(buf) }

func init() {
	RootCmd.AddCommand(dumpCmd)
}

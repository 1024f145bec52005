// Copyright © 2016 Zellyn Hunter <zellyn@gmail.com>

package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fadden/ciderdisk/types"
)

var filetypesAll bool

// filetypesCmd prints the ProDOS/SOS file-type reference table every
// DiskFS variant's FileType() int maps onto.
var filetypesCmd = &cobra.Command{
	Use:   "filetypes",
	Short: "List known ProDOS/SOS file types",
	RunE: func(cmd *cobra.Command, args []string) error {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 1, ' ', 0)
		fmt.Fprintln(w, "Description\tName\tThree-letter Name\tOne-letter Name")
		fmt.Fprintln(w, "-----------\t----\t-----------------\t---------------")
		for _, typ := range types.FiletypeInfos(filetypesAll) {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", typ.Desc, typ.Name, typ.ThreeLetter, typ.OneLetter)
		}
		return w.Flush()
	},
}

func init() {
	filetypesCmd.Flags().BoolVar(&filetypesAll, "all", false, "display all types, including SOS types and reserved ranges")
	RootCmd.AddCommand(filetypesCmd)
}

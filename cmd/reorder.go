// Copyright © 2016 Zellyn Hunter <zellyn@gmail.com>

package cmd

import (
	"fmt"
	"path"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fadden/ciderdisk/diskimg"
	"github.com/fadden/ciderdisk/helpers"
)

var (
	reorderFrom  string
	reorderTo    string
	reorderForce bool
)

// reorderCmd converts a raw sectored image between sector orders, guessing
// either end from the filename extension when not given explicitly.
var reorderCmd = &cobra.Command{
	Use:   "reorder <image> [new-image]",
	Short: "Convert a disk image between sector orders",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		src := args[0]
		dst := src
		if len(args) == 2 {
			dst = args[1]
		}

		fromName, toName, err := getOrders(src, reorderFrom, dst, reorderTo)
		if err != nil {
			return err
		}
		from, ok := orderByName[fromName]
		if !ok {
			return fmt.Errorf("unknown sector order %q", fromName)
		}
		to, ok := orderByName[toName]
		if !ok {
			return fmt.Errorf("unknown sector order %q", toName)
		}

		raw, err := helpers.FileContentsOrStdIn(src)
		if err != nil {
			return err
		}
		sectorsPerTrack := 16
		if len(raw)%(13*256) == 0 && len(raw)%(16*256) != 0 {
			sectorsPerTrack = 13
		}
		tracks := len(raw) / (sectorsPerTrack * 256)

		out, err := diskimg.Reorder(raw, tracks, sectorsPerTrack, from, to)
		if err != nil {
			return err
		}
		return helpers.WriteOutput(dst, out, reorderForce)
	},
}

var orderByName = map[string]diskimg.SectorOrder{
	"do": diskimg.SectorOrderDOS,
	"po": diskimg.SectorOrderProDOS,
}

func init() {
	RootCmd.AddCommand(reorderCmd)
	reorderCmd.Flags().StringVar(&reorderFrom, "order", "auto", "current logical-to-physical sector order (auto, do, po)")
	reorderCmd.Flags().StringVar(&reorderTo, "new-order", "auto", "new logical-to-physical sector order (auto, do, po)")
	reorderCmd.Flags().BoolVarP(&reorderForce, "force", "f", false, "overwrite existing output file")
}

// getOrders resolves the input and output sector orders, guessing from
// file extensions when either side is left at "auto".
func getOrders(inFilename, inOrder, outFilename, outOrder string) (string, string, error) {
	if inOrder == "auto" && outOrder != "auto" {
		return oppositeOrder(outOrder), outOrder, nil
	}
	if outOrder == "auto" && inOrder != "auto" {
		return inOrder, oppositeOrder(inOrder), nil
	}
	if inOrder != "auto" && outOrder != "auto" {
		if inOrder == outOrder {
			return "", "", fmt.Errorf("identical order and new-order")
		}
		return inOrder, outOrder, nil
	}

	inGuess, outGuess := orderFromFilename(inFilename), orderFromFilename(outFilename)
	if inGuess == outGuess {
		if inGuess == "" {
			return "", "", fmt.Errorf("cannot determine input or output order from file extensions")
		}
		return "", "", fmt.Errorf("guessed order (%s) from file %q is the same as guessed order (%s) from file %q", inGuess, inFilename, outGuess, outFilename)
	}
	if inGuess == "" {
		return oppositeOrder(outGuess), outGuess, nil
	}
	if outGuess == "" {
		return inGuess, oppositeOrder(inGuess), nil
	}
	return inGuess, outGuess, nil
}

func oppositeOrder(order string) string {
	if order == "do" {
		return "po"
	}
	return "do"
}

func orderFromFilename(filename string) string {
	switch strings.ToLower(path.Ext(filename)) {
	case ".dsk", ".do":
		return "do"
	case ".po":
		return "po"
	default:
		return ""
	}
}

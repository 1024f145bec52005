// Copyright © 2016 Zellyn Hunter <zellyn@gmail.com>

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fadden/ciderdisk/diskfs"
	"github.com/fadden/ciderdisk/diskimg"
	"github.com/fadden/ciderdisk/dos33"
	"github.com/fadden/ciderdisk/helpers"
	"github.com/fadden/ciderdisk/pascal"
)

var (
	mkdiskFS      string
	mkdiskVolName string
	mkdiskTracks  int
	mkdiskSectors int
	mkdiskBlocks  int
)

// mkdiskCmd represents the mkdisk command, used to create and format a
// blank disk image.
var mkdiskCmd = &cobra.Command{
	Use:   "mkdisk <image>",
	Short: "Create and format a blank disk image",
	Long: `Create and format a blank disk image.

mkdisk --fs dos33 --volname DOS blank.dsk
mkdisk --fs pascal --volname BLANK --blocks 280 blank.po
`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var img *diskimg.DiskImg
		var fs diskfs.DiskFS
		var err error

		switch mkdiskFS {
		case "dos33":
			img, err = diskimg.NewSectored(make([]byte, mkdiskTracks*mkdiskSectors*256),
				mkdiskTracks, mkdiskSectors, diskimg.SectorOrderDOS, false)
			if err != nil {
				return err
			}
			fs, err = dos33.New(img)
		case "pascal":
			img, err = diskimg.NewBlockImage(make([]byte, mkdiskBlocks*512), mkdiskBlocks, false)
			if err != nil {
				return err
			}
			fs, err = pascal.New(img)
		default:
			return fmt.Errorf("mkdisk: unsupported filesystem %q (want dos33 or pascal)", mkdiskFS)
		}
		if err != nil {
			return err
		}
		if err := fs.Format(mkdiskVolName); err != nil {
			return err
		}
		raw, err := img.RawBytes()
		if err != nil {
			return err
		}
		return helpers.WriteOutput(args[0], raw, viper.GetBool("force"))
	},
}

func init() {
	RootCmd.AddCommand(mkdiskCmd)
	mkdiskCmd.Flags().StringVar(&mkdiskFS, "fs", "dos33", "filesystem to format (dos33 or pascal)")
	mkdiskCmd.Flags().StringVar(&mkdiskVolName, "volname", "DOS", "volume name (DOS 3.3: a number 1-254, or DOS)")
	mkdiskCmd.Flags().IntVar(&mkdiskTracks, "tracks", 35, "tracks (dos33)")
	mkdiskCmd.Flags().IntVar(&mkdiskSectors, "sectors", 16, "sectors per track (dos33)")
	mkdiskCmd.Flags().IntVar(&mkdiskBlocks, "blocks", 280, "blocks (pascal)")
}

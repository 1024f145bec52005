// Copyright © 2016 Zellyn Hunter <zellyn@gmail.com>

package main

import (
	"github.com/fadden/ciderdisk/cmd"

	// Register every DiskFS variant's format probe / factory.
	_ "github.com/fadden/ciderdisk/cpm"
	_ "github.com/fadden/ciderdisk/dos33"
	_ "github.com/fadden/ciderdisk/fat"
	_ "github.com/fadden/ciderdisk/focusdrive"
	_ "github.com/fadden/ciderdisk/gutenberg"
	_ "github.com/fadden/ciderdisk/macpart"
	_ "github.com/fadden/ciderdisk/pascal"
	_ "github.com/fadden/ciderdisk/rdos"
)

func main() {
	cmd.Execute()
}

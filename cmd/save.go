// Copyright © 2016 Zellyn Hunter <zellyn@gmail.com>

package cmd

import (
	"github.com/fadden/ciderdisk/helpers"
	"github.com/fadden/ciderdisk/internal/loader"
	"github.com/fadden/ciderdisk/wrapper"
)

// saveImage writes a mutated image back to filename, re-wrapping it in
// its original outer-wrapper format (if any) first.
func saveImage(filename string, res *loader.Result, force bool) error {
	raw, err := res.Image.RawBytes()
	if err != nil {
		return err
	}
	if w := wrapper.ForFormat(res.Wrap); w != nil {
		raw, err = w.Save(raw)
		if err != nil {
			return err
		}
	}
	return helpers.WriteOutput(filename, raw, force)
}

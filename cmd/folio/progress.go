package main

import (
	"fmt"
	"io"

	"github.com/schollz/progressbar/v3"
)

// pageProgress renders decoded pages as a progress bar. The bar is created on
// the first page because the page count is unknown until then.
type pageProgress struct {
	w   io.Writer
	bar *progressbar.ProgressBar
}

func newPageProgress(w io.Writer) *pageProgress {
	return &pageProgress{w: w}
}

func (p *pageProgress) PageDecoded(index, total int, name string) {
	if p.bar == nil {
		p.bar = progressbar.NewOptions(
			total,
			progressbar.OptionSetWriter(p.w),
			progressbar.OptionSetWidth(40),
			progressbar.OptionSetDescription("decoding"),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "█",
				SaucerHead:    "█",
				SaucerPadding: "░",
				BarStart:      "│",
				BarEnd:        "│",
			}),
			progressbar.OptionShowCount(),
			progressbar.OptionSetItsString("pages"),
			progressbar.OptionOnCompletion(func() {
				fmt.Fprint(p.w, "\n")
			}),
		)
	}
	p.bar.Describe(name)
	_ = p.bar.Set(index)
}

func (p *pageProgress) Finish() {
	if p.bar != nil {
		_ = p.bar.Finish()
	}
}

// Abort ends the bar's line where it stands so the error that follows starts
// on a fresh line.
func (p *pageProgress) Abort() {
	if p.bar != nil {
		fmt.Fprint(p.w, "\n")
		p.bar = nil
	}
}

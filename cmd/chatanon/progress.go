package main

import (
	"io"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// progressBar shows engine progress on the terminal
type progressBar struct {
	container *mpb.Progress
	bar       *mpb.Bar
}

func newProgressBar(w io.Writer, name string, total int) *progressBar {
	container := mpb.New(mpb.WithOutput(w))
	bar := container.AddBar(int64(total),
		mpb.BarFillerClearOnComplete(),
		mpb.PrependDecorators(
			decor.Name(name),
			decor.CountersNoUnit(" %d / %d", decor.WCSyncSpace),
		),
		mpb.AppendDecorators(
			decor.OnComplete(
				decor.Percentage(decor.WCSyncSpaceR), "done",
			),
			decor.OnComplete(
				decor.AverageETA(decor.ET_STYLE_GO), "",
			),
		),
	)
	return &progressBar{container: container, bar: bar}
}

// Progress implements anonymizer.ProgressReporter
func (p *progressBar) Progress(done, total int) {
	p.bar.SetTotal(int64(total), false)
	p.bar.SetCurrent(int64(done))
}

// Finish completes the bar, or drops it when the run failed
func (p *progressBar) Finish(ok bool) {
	if ok {
		p.bar.SetTotal(-1, true)
	} else {
		p.bar.Abort(true)
	}
	p.container.Wait()
}

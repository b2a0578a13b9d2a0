package main

import (
	"os"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"pdfrag/internal/app"
)

// ingestProgress renders one bar for embedding and one for indexing.
type ingestProgress struct {
	enabled bool
	stage   app.Stage
	bar     *progressbar.ProgressBar
}

func newIngestProgress(enabled bool) *ingestProgress {
	return &ingestProgress{enabled: enabled}
}

func progressEnabled() bool {
	return term.IsTerminal(int(os.Stderr.Fd()))
}

// Observe is passed to the pipeline as its progress callback.
func (p *ingestProgress) Observe(ev app.ProgressEvent) {
	if !p.enabled {
		return
	}
	switch ev.Stage {
	case app.StageChunked:
		p.start(app.StageEmbedded, ev.Total, "embedding")
	case app.StagePersisted:
		p.start(app.StageIndexed, ev.Total, "indexing")
	case app.StageEmbedded, app.StageIndexed:
		if p.bar != nil && p.stage == ev.Stage {
			_ = p.bar.Set(ev.Done)
		}
	case app.StageComplete:
		p.Finish()
	}
}

func (p *ingestProgress) start(stage app.Stage, total int, desc string) {
	p.Finish()
	if total <= 0 {
		return
	}
	p.stage = stage
	p.bar = progressbar.NewOptions(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription(desc),
		progressbar.OptionSetWidth(32),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

func (p *ingestProgress) Finish() {
	if p.bar == nil {
		return
	}
	_ = p.bar.Finish()
	p.bar = nil
}

package ui

import (
	"cmp"
	"io"

	"github.com/bamsammich/partsync/internal/stats"
)

// Presenter consumes events and displays progress.
type Presenter interface {
	// Run consumes events until the channel closes. Blocks until done.
	Run(events <-chan Event) error
	// Summary returns the final summary line.
	Summary() string
}

// Config configures a Presenter.
type Config struct {
	Writer    io.Writer
	ErrWriter io.Writer
	Stats     *stats.Collector
	Quiet     bool
	// NoProgress suppresses the periodic progress line on ErrWriter.
	NoProgress bool
	// BarWidth is the progress bar width in columns. Zero means 20.
	BarWidth int
}

// NewPresenter creates the appropriate presenter based on configuration.
//
//nolint:ireturn // factory function returns interface
func NewPresenter(cfg Config) Presenter {
	if cfg.Quiet {
		return &quietPresenter{errW: cfg.ErrWriter, stats: cfg.Stats}
	}
	return &plainPresenter{
		w:          cfg.Writer,
		errW:       cfg.ErrWriter,
		stats:      cfg.Stats,
		noProgress: cfg.NoProgress,
		barWidth:   cmp.Or(cfg.BarWidth, 20),
	}
}

package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gdamore/tcell/v2"
)

// Runner provides a high-level interface to run the terminal application
type Runner struct {
	opts    Options
	summary io.Writer
}

// NewRunner creates a runner. The session summary is printed to summary
// when it is not nil.
func NewRunner(opts Options, summary io.Writer) *Runner {
	return &Runner{opts: opts, summary: summary}
}

// Run builds the app and blocks until it quits, ctx is done, or the process
// is interrupted.
func (r *Runner) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := New(r.opts)
	if err != nil {
		if r.opts.Screen != nil {
			r.opts.Screen.Fini()
		}
		return fmt.Errorf("failed to create application: %w", err)
	}

	start := time.Now()
	runErr := app.Run(ctx)
	if r.opts.Screen != nil {
		r.opts.Screen.Fini()
	}
	r.printSessionSummary(app, time.Since(start))
	return runErr
}

// printSessionSummary prints a summary of the session
func (r *Runner) printSessionSummary(app *App, elapsed time.Duration) {
	if r.summary == nil {
		return
	}
	st := app.Stats()
	cs := app.Capture().Stats()

	fmt.Fprintf(r.summary, "\n=== Session Summary ===\n")
	fmt.Fprintf(r.summary, "Duration: %v\n", elapsed.Round(time.Millisecond))
	fmt.Fprintf(r.summary, "Bytes Sent: %d\n", st.Sent)
	fmt.Fprintf(r.summary, "Bytes Received: %d\n", st.Received)
	if st.WriteErrors > 0 || st.ReadErrors > 0 {
		fmt.Fprintf(r.summary, "Errors: %d write, %d read\n", st.WriteErrors, st.ReadErrors)
	}
	if st.Dropped > 0 {
		fmt.Fprintf(r.summary, "Tee chunks dropped: %d\n", st.Dropped)
	}
	fmt.Fprintf(r.summary, "Captured: %d entries, %d bytes\n", cs.TotalEntries, cs.TotalBytes)
	fmt.Fprintf(r.summary, "=======================\n")
}

// RunInteractive runs the terminal on a new tcell screen.
func RunInteractive(ctx context.Context, opts Options, summary io.Writer) error {
	screen, err := tcell.NewScreen()
	if err != nil {
		return fmt.Errorf("failed to create screen: %w", err)
	}
	if err := screen.Init(); err != nil {
		return fmt.Errorf("failed to initialize screen: %w", err)
	}
	opts.Screen = screen
	return NewRunner(opts, summary).Run(ctx)
}

// RunHeadless runs without a screen: received text goes to opts.Output and
// lines from opts.Input are sent.
func RunHeadless(ctx context.Context, opts Options, summary io.Writer) error {
	opts.Screen = nil
	return NewRunner(opts, summary).Run(ctx)
}

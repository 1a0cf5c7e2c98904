package main

import (
	"fmt"
	"time"

	"github.com/fsstream/fsstream"
	"github.com/spf13/cobra"
)

// newFinishWriteCmd demonstrates awaitWriteFinish: rather than printing
// every intermediate write (a large file copy can generate hundreds), it
// waits until a file's size has held steady before printing anything.
func newFinishWriteCmd() *cobra.Command {
	var (
		stabilityThreshold time.Duration
		pollInterval       time.Duration
	)

	cmd := &cobra.Command{
		Use:   "finishwrite [paths...]",
		Short: "Watch the paths, printing only once a write has stabilized",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := fsstream.New(
				fsstream.WithAwaitWriteFinish(stabilityThreshold, pollInterval),
			)
			if err != nil {
				return fmt.Errorf("creating engine: %w", err)
			}
			defer eng.Close()

			eng.On(fsstream.Add, func(e fsstream.Event) { printTime(e.String()) })
			eng.On(fsstream.Change, func(e fsstream.Event) { printTime(e.String()) })
			eng.On(fsstream.Error, func(e fsstream.Event) { printTime("ERROR: %s", e.Err) })

			if err := eng.Add(args...); err != nil {
				return fmt.Errorf("add: %w", err)
			}

			printTime("ready; press ^C to exit")
			<-make(chan struct{})
			return nil
		},
	}

	cmd.Flags().DurationVar(&stabilityThreshold, "stability-threshold", 2000*time.Millisecond, "how long a file's size must hold steady")
	cmd.Flags().DurationVar(&pollInterval, "poll-interval", 100*time.Millisecond, "how often to check the file's size")
	return cmd
}

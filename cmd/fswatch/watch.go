package main

import (
	"fmt"
	"time"

	"github.com/fsstream/fsstream"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newWatchCmd() *cobra.Command {
	var (
		polling     bool
		interval    time.Duration
		ignored     []string
		alwaysStat  bool
	)

	cmd := &cobra.Command{
		Use:   "watch [paths...]",
		Short: "Watch the paths for changes and print the events",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			v.BindPFlag("polling", cmd.Flags().Lookup("polling"))
			v.BindPFlag("interval", cmd.Flags().Lookup("interval"))
			v.AutomaticEnv()

			usePolling := v.GetBool("polling") || polling
			opts := []fsstream.Option{
				fsstream.WithUsePolling(usePolling),
				fsstream.WithInterval(interval),
				fsstream.WithAlwaysStat(alwaysStat),
				fsstream.WithIgnored(ignored...),
			}
			if usePolling {
				// The recursive backend takes precedence over polling unless
				// it is turned off, so forcing polling turns it off.
				opts = append(opts, fsstream.WithUseFsEvents(false))
			}

			eng, err := fsstream.New(opts...)
			if err != nil {
				return fmt.Errorf("creating engine: %w", err)
			}
			defer eng.Close()

			count := 0
			eng.OnAll(func(e fsstream.Event) {
				count++
				printTime("%3d %s", count, e)
			})
			eng.On(fsstream.Error, func(e fsstream.Event) {
				printTime("ERROR: %s", e.Err)
			})
			eng.On(fsstream.Ready, func(fsstream.Event) {
				printTime("ready; press ^C to exit")
			})

			if err := eng.Add(args...); err != nil {
				return fmt.Errorf("add: %w", err)
			}

			<-make(chan struct{}) // block forever
			return nil
		},
	}

	cmd.Flags().BoolVar(&polling, "polling", false, "force the polling backend")
	cmd.Flags().DurationVar(&interval, "interval", 100*time.Millisecond, "polling interval")
	cmd.Flags().StringSliceVar(&ignored, "ignore", nil, "glob pattern to ignore (repeatable)")
	cmd.Flags().BoolVar(&alwaysStat, "always-stat", false, "attach a stat result to every add/addDir/change event")
	return cmd
}

// Print line prefixed with the time (a bit shorter than log.Print; ms is
// useful here, the date isn't).
func printTime(s string, args ...interface{}) {
	fmt.Printf(time.Now().Format("15:04:05.0000")+" "+s+"\n", args...)
}

// Command fswatch is an example and debugging tool for the fsstream
// library: it watches the given paths and prints normalized events to the
// terminal as they arrive.
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var log zerolog.Logger

func main() {
	log = zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger()

	root := &cobra.Command{
		Use:   "fswatch",
		Short: "Watch paths for filesystem changes and print normalized events",
	}
	root.AddCommand(newWatchCmd())
	root.AddCommand(newFinishWriteCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

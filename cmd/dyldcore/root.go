package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "dyldcore",
	Short:         "Inspect and plan Mach-O dynamic-linker launches",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// fileOpener is the loader.Opener/runtime.Opener implementation every
// subcommand uses: plain os.Open, reporting a missing file as (nil,
// false, nil) rather than an error so pathresolver's candidate loop can
// keep trying.
type fileOpener struct{}

func (fileOpener) Open(path string) (io.ReaderAt, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return f, true, nil
}

func (fileOpener) ReadDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	return names, nil
}

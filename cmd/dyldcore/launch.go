package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blacktop/dyldcore/libsys"
	"github.com/blacktop/dyldcore/macho/format"
	"github.com/blacktop/dyldcore/procconfig"
	"github.com/blacktop/dyldcore/runtime"
)

var launchDryRun bool

func init() {
	launchCmd.Flags().BoolVar(&launchDryRun, "dry-run", true, "compute the launch plan without invoking any entry point (the only mode this library supports)")
	rootCmd.AddCommand(launchCmd)
}

var launchCmd = &cobra.Command{
	Use:   "launch <macho>",
	Short: "Plan a launch: load the dependency graph, compute fixups, and order initializers",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		proc := procconfig.NewProcess(args[0], format.PlatformMacOS, format.CPUArm64, format.CPUSubtype(0), args, nil, nil)
		state := runtime.NewState(proc, procconfig.AmfiRestricted, nil, fileOpener{}, libsys.NewDefault(false))

		result, err := state.Launch(args[0])
		if err != nil {
			return err
		}

		fmt.Printf("loaded images: %d\n", result.Arena.Len())
		for i := 0; i < result.Arena.Len(); i++ {
			l := result.Arena.Get(i)
			fmt.Printf("  [%d] %-40s state=%s sites=%d\n", i, l.Path, l.State, len(result.Sites[i]))
		}
		fmt.Println("initializer order:")
		for _, idx := range result.InitializerOrder {
			fmt.Printf("  %s\n", result.Arena.Get(idx).Path)
		}
		if result.Diagnostics.HasError() {
			fmt.Println("diagnostics:")
			for _, r := range result.Diagnostics.Records() {
				fmt.Printf("  %s\n", r.Error())
			}
		}
		return nil
	},
}

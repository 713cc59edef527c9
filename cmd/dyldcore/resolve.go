package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blacktop/dyldcore/diag"
	"github.com/blacktop/dyldcore/fixup"
	"github.com/blacktop/dyldcore/loader"
	"github.com/blacktop/dyldcore/macho/format"
	"github.com/blacktop/dyldcore/procconfig"
)

var resolveSymbol string

func init() {
	resolveCmd.Flags().StringVar(&resolveSymbol, "symbol", "", "symbol name to resolve (flat lookup)")
	resolveCmd.MarkFlagRequired("symbol")
	rootCmd.AddCommand(resolveCmd)
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <macho> [dependents...]",
	Short: "Load an image and its listed dependents, then resolve a symbol by flat lookup",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		arena := loader.NewArena()
		op := fileOpener{}
		d := &diag.Diagnostics{}

		var roots []int
		for _, path := range args {
			l, ld, err := loader.NewJustInTime(op, path)
			if err != nil {
				return fmt.Errorf("loading %s: %w", path, err)
			}
			d.Merge(ld)
			idx := arena.Add(l)
			roots = append(roots, idx)
		}

		proc := procconfig.NewProcess(args[0], format.PlatformMacOS, format.CPUArm64, format.CPUSubtype(0), nil, nil, nil)
		cfg := procconfig.New(proc, procconfig.AmfiRestricted, nil)
		for _, idx := range roots {
			if err := loader.LoadDependents(arena, op, idx, cfg, nil, loader.LoadOptions{Launching: true, StaticLinkage: true}); err != nil {
				return err
			}
		}

		eng := fixup.NewEngine(arena)
		rs, ok := eng.Resolver.ResolveFlat(allIndices(arena), resolveSymbol)
		if !ok {
			return fmt.Errorf("symbol %q not found in %d loaded image(s)", resolveSymbol, arena.Len())
		}
		target := arena.Get(rs.TargetLoader)
		fmt.Printf("%s -> %s + 0x%x (weak=%v)\n", resolveSymbol, target.Path, rs.TargetRuntimeOffset, rs.IsWeakDef)
		return nil
	},
}

func allIndices(arena *loader.Arena) []int {
	out := make([]int, arena.Len())
	for i := range out {
		out[i] = i
	}
	return out
}

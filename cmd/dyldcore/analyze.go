package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/blacktop/dyldcore/macho/analyzer"
)

func init() {
	rootCmd.AddCommand(analyzeCmd)
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze <macho>",
	Short: "Parse a Mach-O image and print its load-command summary",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		img, d, err := analyzer.Open(f)
		if err != nil {
			return err
		}

		fmt.Printf("cpu:      %s\n", img.Header.CPU)
		fmt.Printf("filetype: %s\n", img.Header.Type)
		fmt.Printf("uuid:     %s\n", img.UUID)
		fmt.Printf("segments: %d\n", len(img.Segments))
		for _, seg := range img.Segments {
			fmt.Printf("  %-16s vmaddr=0x%x vmsize=0x%x sections=%d\n", seg.Name, seg.Addr, seg.Size, len(seg.Sections))
		}
		fmt.Printf("dylibs:   %d\n", len(img.Dylibs))
		for _, dy := range img.Dylibs {
			fmt.Printf("  %s (kind=%s)\n", dy.Name, dy.Kind())
		}
		if len(img.RPaths) > 0 {
			fmt.Printf("rpaths:\n")
			for _, rp := range img.RPaths {
				fmt.Printf("  %s\n", rp)
			}
		}
		if img.ChainedFixups != nil {
			fmt.Println("fixup format: chained")
		} else if img.DyldInfo != nil {
			fmt.Println("fixup format: opcode")
		} else {
			fmt.Println("fixup format: none")
		}
		if img.DuplicateLoadCommands > 0 {
			fmt.Printf("duplicate load commands ignored: %d\n", img.DuplicateLoadCommands)
		}
		if d.HasError() {
			for _, r := range d.Records() {
				fmt.Fprintln(os.Stderr, r.Error())
			}
		}
		return nil
	},
}

// Command elfcore-run loads a shared object from disk and calls one of its
// exported, zero-argument functions, the same demo shape as the teacher's
// cli/root.go ("load a shared library and call an exported function
// without writing to disk") adapted from dlopen-backed loading to this
// package's own parse/map/relocate pipeline.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/basaltwire/elfcore"
	"github.com/basaltwire/elfcore/hostio"
)

var (
	callExport string
	lazy       bool
)

var rootCmd = &cobra.Command{
	Use:          "elfcore-run <shared object>",
	Short:        "Load an ELF shared object and call an exported function",
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		src, err := hostio.OpenFileSource(args[0])
		if err != nil {
			return err
		}
		defer src.Close()

		lib, err := elfcore.OpenLibrary(
			src,
			hostio.LinuxMmap{},
			nil,
			nil,
			elfcore.LoadOptions{Name: args[0]},
			elfcore.RelocateOptions{Lazy: lazy},
		)
		if err != nil {
			return err
		}
		defer lib.Close()

		if err := lib.CallExport(callExport); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "ok")
		return nil
	},
}

func init() {
	rootCmd.Flags().StringVar(&callExport, "call-export", "main", "exported symbol to resolve and call")
	rootCmd.Flags().BoolVar(&lazy, "lazy", false, "bind PLT relocations lazily instead of eagerly")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

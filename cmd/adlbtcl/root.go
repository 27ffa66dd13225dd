package main

import (
	"errors"

	"github.com/spf13/cobra"
)

// adlbtcl is the Tcl-flavored launcher named alongside the plain one
// (cmd/adlbd) in §6 ("two launchers exist"): a script-language binding
// that would embed a Tcl interpreter driving the same shard RPC, and is
// out of scope here (see DESIGN.md's dropped-features list). This
// command only marks where that binding would attach, rather than
// implementing it.
var rootCmd = &cobra.Command{
	Use:   "adlbtcl",
	Short: "adlbtcl is the Tcl-binding launcher (not implemented)",
	Long: `adlbtcl names the second launcher entry point of this system:
a Tcl interpreter embedding that would expose the shard operations as
Tcl commands, running the interpreter's event loop instead of serving
gRPC directly. The interpreter embedding itself is out of scope; use
"adlbd serve" to run a shard.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return errors.New("adlbtcl: Tcl interpreter embedding is not implemented; run \"adlbd serve\" instead")
	},
}

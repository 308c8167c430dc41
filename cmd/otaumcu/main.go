// Command otaumcu emulates the MCU side of the OTAU/DFU protocol engine
// (SPEC_FULL.md): it wires Page Memory, NVM, the Fault Injector, the two
// FSMs, and a transport into a single-threaded dispatch loop, and serves
// Prometheus metrics alongside it. Grounded on dittofs's cmd/dittofs/commands
// root/start pair, trimmed to this binary's single long-running command.
package main

import (
	"fmt"
	"os"

	"github.com/silvair/otaumcu/cmd/otaumcu/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// poskernel is the process-wiring entrypoint around internal/kernel: it
// owns no domain logic, only argument parsing, logging setup, and the
// three operator-facing subcommands (serve, recover, inspect-wal).
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"
)

const clientIdentifier = "poskernel"

func main() {
	app := &cli.App{
		Name:    clientIdentifier,
		Usage:   "point-of-sale transaction kernel",
		Version: "0.1.0",
		Commands: []*cli.Command{
			serveCommand,
			recoverCommand,
			inspectWALCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// terminalDir mirrors internal/kernel.Open's own layout (<root>/terminals/<id>)
// so operator tools that bypass the Kernel (recover, inspect-wal) read
// exactly the directory a live Kernel would.
func terminalDir(dataDir, terminalID string) string {
	return filepath.Join(dataDir, "terminals", terminalID)
}
